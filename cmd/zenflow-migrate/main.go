// cmd/zenflow-migrate/main.go
package main

import (
	"fmt"
	"os"

	"github.com/TashaKaslana/Zenflow-sub001/internal/config"
	"github.com/TashaKaslana/Zenflow-sub001/internal/storage"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "zenflow-migrate"}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		// Load .env if present
		if err := config.LoadDotEnv(); err != nil {
			fmt.Printf("Failed to load .env: %v. Using flags and environment.\n", err)
		}

		cfg := config.Default()
		config.FromEnv(&cfg)
		if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
			cfg.Database.Driver = driver
		}
		if dsn, _ := cmd.Flags().GetString("db"); dsn != "" {
			cfg.Database.DSN = dsn
		}
		dir, _ := cmd.Flags().GetString("dir")

		if err := storage.Migrate(cfg.Database.Driver, cfg.Database.DSN, dir); err != nil {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Migrations applied successfully (%s)\n", cfg.Database.Driver)
	},
}

func main() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("db", "", "Database connection string (optional if ZENFLOW_DB_DSN or DB_* env vars are set)")
	migrateCmd.Flags().String("driver", "", "Database driver: postgres or sqlite3")
	migrateCmd.Flags().String("dir", "migrations", "Migrations root containing one directory per driver")
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
