package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"workboard/api/internal/app"
	"workboard/api/internal/archive"
	"workboard/api/internal/board"
	"workboard/api/internal/config"
	"workboard/api/internal/live"
	"workboard/api/internal/logging"
	"workboard/api/internal/metrics"
	"workboard/api/internal/search"
	"workboard/api/internal/store"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var memory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the board API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), memory)
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "keep boards in process memory instead of PostgreSQL")
	return cmd
}

func runServer(ctx context.Context, memory bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, err := newBroker(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	deps := app.Deps{
		Broker:     broker,
		Logger:     logger,
		Businesses: businesses(cfg.Board.Businesses),
	}

	var (
		dataStore *store.PostgresStore
		fallback  search.Searcher
	)
	if !memory {
		db, err := store.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if cfg.Database.AutoMigrate {
			if err := store.ApplyMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
		}
		dataStore = store.NewPostgresStore(db)
		fallback = search.NewPgFallback(db)
	}

	var meili *search.Meili
	if cfg.Search.MeiliURL != "" {
		meili = search.NewMeili(cfg.Search.MeiliURL, cfg.Search.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meili, fallback, logger)
	defer searchService.Close()
	deps.Search = searchService

	archiver, err := archive.New(cfg.Archive, logger)
	switch {
	case errors.Is(err, archive.ErrDisabled):
		logger.Infow("snapshot archive disabled")
	case err != nil:
		return err
	default:
		if err := archiver.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("archive bucket: %w", err)
		}
		deps.Archive = archiver
	}

	var opts []app.HTTPOption
	if cfg.Metrics.Enabled {
		m := metrics.New(func() float64 { return float64(broker.Subscribers()) })
		deps.Metrics = m
		opts = append(opts, app.WithMetrics(m))
	}
	opts = append(opts,
		app.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		app.WithHTTPLogger(logger),
	)

	var service *app.Service
	if memory {
		logger.Warnw("using in-memory board storage; data is lost on restart")
		service = app.New(store.NewMemoryStore(), deps)
	} else {
		service = app.New(dataStore, deps)
	}

	server := newHTTPServer(cfg.Server, app.NewHTTPServer(service, cfg.Server.CORSOrigin, opts...).Handler())

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("board API listening", "addr", cfg.Server.Addr, "search", searchService.Backend())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// newHTTPServer builds the listener-side server. Request contexts derive from
// a base context that is cancelled when Shutdown starts, so event streams end
// instead of holding the shutdown open until its timeout.
func newHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	streams, cancelStreams := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return streams },
	}
	server.RegisterOnShutdown(cancelStreams)
	return server
}

func newBroker(cfg config.RedisConfig, logger *logging.Logger) (*live.Broker, error) {
	if cfg.URL == "" {
		return live.NewMemory(logger), nil
	}
	broker, err := live.NewRedis(cfg.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return broker, nil
}

func businesses(names []string) []board.Business {
	out := make([]board.Business, 0, len(names))
	for _, name := range names {
		out = append(out, board.Business(name))
	}
	return out
}
