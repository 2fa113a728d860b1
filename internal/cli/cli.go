package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/internal/config"
	"github.com/TashaKaslana/Zenflow-sub001/internal/deadletter"
	internal_http "github.com/TashaKaslana/Zenflow-sub001/internal/http"
	"github.com/TashaKaslana/Zenflow-sub001/internal/log"
	"github.com/TashaKaslana/Zenflow-sub001/internal/service"
	internal_storage "github.com/TashaKaslana/Zenflow-sub001/internal/storage"
	"github.com/TashaKaslana/Zenflow-sub001/internal/stream"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// SetupCLI registers the persistent flags and every subcommand on rootCmd.
func SetupCLI(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("env-file", ".env", "Path to a .env file (ignored when missing)")
	flags.String("db-driver", "", "Database driver: postgres or sqlite3")
	flags.String("db", "", "Database connection string")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the log pipeline and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.HTTP.Addr = addr
			}
			migrations, _ := cmd.Flags().GetString("migrations")
			app, err := NewApp(cfg, migrations)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
	serveCmd.Flags().String("addr", "", "HTTP listen address")
	serveCmd.Flags().String("migrations", "migrations", "Migrations root; empty skips migrating")

	tailCmd := &cobra.Command{
		Use:   "tail [runID]",
		Short: "Print the persisted logs of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			expr, _ := cmd.Flags().GetString("filter")
			asJSON, _ := cmd.Flags().GetBool("json")
			store, err := initStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			return tailRun(contextOf(cmd), cmd.OutOrStdout(), service.NewLogService(store), args[0], limit, expr, asJSON)
		},
	}
	tailCmd.Flags().Int("limit", 0, "Number of newest entries to show, 0 for all")
	tailCmd.Flags().String("filter", "", "CEL filter expression")
	tailCmd.Flags().Bool("json", false, "Print one JSON object per line")

	streamCmd := &cobra.Command{
		Use:   "stream [runID]",
		Short: "Read the republished stream of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			from, _ := cmd.Flags().GetUint64("from")
			limit, _ := cmd.Flags().GetInt("limit")
			l, err := stream.Open(stream.Options{Dir: cfg.Stream.Dir})
			if err != nil {
				return err
			}
			defer l.Close()
			records, err := l.Read(args[0], from, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, "%6d %s\n", r.Seq, formatEntry(r.Entry))
			}
			return nil
		},
	}
	streamCmd.Flags().Uint64("from", 0, "First sequence number to read")
	streamCmd.Flags().Int("limit", 0, "Maximum number of records, 0 for all")

	deadLetterCmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay spooled batches",
	}
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Save spooled batches to the database and remove them from the spool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := initStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			spool, err := deadletter.Open(cfg.DeadLetter.Dir, log.Component("deadletter"))
			if err != nil {
				return err
			}
			defer spool.Close()
			stats, err := service.NewLogService(store).ReplayDeadLetters(contextOf(cmd), spool)
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d batches (%d entries), %d corrupt, %d pending\n",
				stats.Replayed, stats.Entries, stats.Corrupt, stats.Pending)
			return err
		},
	}
	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of spooled batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			spool, err := deadletter.Open(cfg.DeadLetter.Dir, nil)
			if err != nil {
				return err
			}
			defer spool.Close()
			n, err := spool.Len()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", n)
			return nil
		},
	}
	deadLetterCmd.AddCommand(replayCmd, countCmd)

	rootCmd.AddCommand(serveCmd, tailCmd, streamCmd, deadLetterCmd)
}

// loadConfig layers defaults, the YAML file, .env and ZENFLOW_* variables,
// then the database flags, and configures logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	config.FromEnv(&cfg)
	if driver, _ := cmd.Flags().GetString("db-driver"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dsn, _ := cmd.Flags().GetString("db"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if err := log.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return config.Config{}, err
	}
	log.GetLogger().Debugf("Using %s database", cfg.Database.Driver)
	return cfg, nil
}

func initStore(cfg config.Config) (*internal_storage.SQLStore, error) {
	store, err := internal_storage.NewSQLStore(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		return nil, err
	}
	return store, nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func tailRun(ctx context.Context, out io.Writer, svc *service.LogService, runID string, limit int, expr string, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	filter, err := internal_http.CompileFilter(expr)
	if err != nil {
		return err
	}
	var match func(*models.LogEntry) bool
	if filter != nil {
		match = filter.Match
	}
	entries, err := svc.RunLogs(ctx, runID, limit, match)
	if errors.Cause(err) == storage.ErrNotFound {
		fmt.Fprintf(out, "No logs found for run %s.\n", runID)
		return nil
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, e := range entries {
		if asJSON {
			if err := enc.Encode(e); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, formatEntry(e))
	}
	return nil
}

func formatEntry(e *models.LogEntry) string {
	line := fmt.Sprintf("%s %-7s [%s] %s", e.Timestamp.Format(time.RFC3339Nano), e.Level, e.NodeKey, e.Message)
	if e.ErrorCode != "" || e.ErrorMessage != "" {
		line += fmt.Sprintf(" (error %s: %s)", e.ErrorCode, e.ErrorMessage)
	}
	return line
}
