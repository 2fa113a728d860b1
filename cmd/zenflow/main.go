package main

import (
	"fmt"
	"os"

	"github.com/TashaKaslana/Zenflow-sub001/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "zenflow",
	Short:         "Workflow run log pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
