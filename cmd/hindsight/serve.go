package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tomyedwab/hindsight/config"
	"github.com/tomyedwab/hindsight/hlc"
	"github.com/tomyedwab/hindsight/httpapi"
	"github.com/tomyedwab/hindsight/store"
	"github.com/tomyedwab/hindsight/view"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event log server",
	Long:  `Start the HTTP server exposing the event log and its projection`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func buildBackend(ctx context.Context, cfg config.BackendConfig) (store.Backend, error) {
	switch cfg.Kind {
	case "memory":
		return store.NewMemoryStore(), nil
	case "file":
		fileStore, err := store.NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return fileStore, nil
	case "sql":
		db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect %s database: %w", cfg.Driver, err)
		}
		sqlStore, err := store.NewSQLStore(ctx, db,
			store.WithPayloadColumnType(store.PayloadColumnType(cfg.PayloadColumn)))
		if err != nil {
			return nil, err
		}
		return sqlStore, nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	backend, err := buildBackend(ctx, cfg.Backend)
	if err != nil {
		return err
	}

	tally := newTallyState()
	projection := view.NewProjection(backend, tally)
	defer projection.Dispose()

	if err := projection.Init(ctx); err != nil {
		return fmt.Errorf("initialize projection: %w", err)
	}

	clock := hlc.NewGenerator(cfg.NodeID)
	log.Info().
		Str("backend", cfg.Backend.Kind).
		Str("node_id", clock.NodeID()).
		Msg("Event store ready")

	var opts []httpapi.Option
	if cfg.AuthSecret != "" {
		opts = append(opts, httpapi.WithAuthSecret([]byte(cfg.AuthSecret)))
	}
	api := httpapi.NewServer(projection.Store(), clock, opts...)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("/api/tally", httpapi.Chain(
		func(w http.ResponseWriter, r *http.Request) {
			counts, amounts := tally.Snapshot()
			httpapi.HandleAPIResponse(w, r, map[string]interface{}{
				"counts":  counts,
				"amounts": amounts,
			}, nil, http.StatusOK)
		},
		httpapi.EnableCrossOrigin, httpapi.LogRequests,
	))

	server := &http.Server{Addr: cfg.ServerAddress, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.ServerAddress).Msg("Starting server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
