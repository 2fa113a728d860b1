package cli

import (
	"context"

	"github.com/TashaKaslana/Zenflow-sub001/internal/config"
	"github.com/TashaKaslana/Zenflow-sub001/internal/deadletter"
	internal_http "github.com/TashaKaslana/Zenflow-sub001/internal/http"
	"github.com/TashaKaslana/Zenflow-sub001/internal/live"
	"github.com/TashaKaslana/Zenflow-sub001/internal/log"
	internal_storage "github.com/TashaKaslana/Zenflow-sub001/internal/storage"
	"github.com/TashaKaslana/Zenflow-sub001/internal/stream"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/telemetry"
	"github.com/pkg/errors"
)

// App is a fully wired server: durable store, optional stream and dead
// letter spool, live hub, pipeline and HTTP surface.
type App struct {
	Store    *internal_storage.SQLStore
	Stream   *stream.Log
	Spool    *deadletter.Spool
	Hub      *live.Hub
	Metrics  *telemetry.Counters
	Pipeline *telemetry.Pipeline
	Server   *internal_http.Server
}

// NewApp opens every component described by cfg. Migrations from
// migrationsDir are applied first unless it is empty. On error everything
// opened so far is closed.
func NewApp(cfg config.Config, migrationsDir string) (_ *App, err error) {
	app := &App{}
	defer func() {
		if err != nil {
			app.closeResources()
		}
	}()

	app.Store, err = internal_storage.InitStore(cfg.Database.Driver, cfg.Database.DSN, migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "initialize store")
	}

	deps := telemetry.Dependencies{
		Sink:   app.Store,
		Logger: log.Component("telemetry"),
	}
	if cfg.Stream.Enabled {
		app.Stream, err = stream.Open(stream.Options{Dir: cfg.Stream.Dir})
		if err != nil {
			return nil, err
		}
		deps.Publisher = app.Stream
	}
	if cfg.DeadLetter.Enabled {
		app.Spool, err = deadletter.Open(cfg.DeadLetter.Dir, log.Component("deadletter"))
		if err != nil {
			return nil, err
		}
		deps.DeadLetter = app.Spool
	}
	app.Hub = live.NewHub(0, log.Component("live"))
	deps.Live = app.Hub
	app.Metrics = telemetry.NewCounters()
	deps.Metrics = app.Metrics

	app.Pipeline, err = telemetry.NewPipeline(cfg.Telemetry, deps)
	if err != nil {
		return nil, err
	}

	opts := internal_http.Options{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		Telemetry:    app.Pipeline,
		Logs:         app.Store,
		Hub:          app.Hub,
		Logger:       log.Component("http"),
	}
	if app.Stream != nil {
		opts.Stream = app.Stream
	}
	if app.Spool != nil {
		opts.DeadLetter = app.Spool
	}
	app.Server, err = internal_http.NewServer(opts)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Run starts the pipeline and serves HTTP until ctx is cancelled, then
// drains the pipeline and closes every resource.
func (a *App) Run(ctx context.Context) error {
	a.Pipeline.Start()
	err := a.Server.Run(ctx)
	a.Close()
	return err
}

// Close stops the pipeline, flushing buffered entries, then releases the
// stores. Live subscribers are disconnected after the last entry is routed.
func (a *App) Close() {
	if a.Pipeline != nil {
		a.Pipeline.Stop()
	}
	a.closeResources()
}

func (a *App) closeResources() {
	logger := log.GetLogger()
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.Stream != nil {
		if err := a.Stream.Close(); err != nil {
			logger.Errorf("Failed to close stream: %v", err)
		}
	}
	if a.Spool != nil {
		if err := a.Spool.Close(); err != nil {
			logger.Errorf("Failed to close dead letter spool: %v", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logger.Errorf("Failed to close store: %v", err)
		}
	}
}
