package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/accessiblelessons/internal/app"
	"github.com/Lllllllleong/accessiblelessons/internal/config"
)

const shutdownTimeout = 30 * time.Second

var (
	instance *app.App
	once     sync.Once
	initErr  error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleUpload", withApp(func(a *app.App) http.HandlerFunc { return a.Handlers.HandleUpload }))
	functions.HTTP("HandleStatus", withApp(func(a *app.App) http.HandlerFunc { return a.Handlers.HandleStatus }))
	functions.HTTP("HandleVisualize", withApp(func(a *app.App) http.HandlerFunc { return a.Handlers.HandleVisualize }))
}

func initApp() (*app.App, error) {
	once.Do(func() {
		var cfg *config.Config
		if cfg, initErr = config.Load(); initErr != nil {
			return
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))
		instance, initErr = app.New(context.Background(), cfg)
	})
	return instance, initErr
}

// withApp defers client construction to the first request, as the
// functions runtime expects.
func withApp(pick func(*app.App) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := initApp()
		if err != nil {
			slog.Error("Critical error during function initialization", "error", err)
			http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
			return
		}
		pick(a)(w, r)
	}
}

func main() {
	a, err := initApp()
	if err != nil {
		slog.Error("Failed to start.", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		served := make(chan error, 1)
		go func() { served <- funcframework.Start(a.Config.Port) }()
		slog.Info("Serving.", "port", a.Config.Port)
		select {
		case err := <-served:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(a.Config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := a.Sweeper.Process(gctx); err != nil {
					slog.Error("Sweep failed.", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down.")
		return a.Close(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Exited with error.", "error", err)
		os.Exit(1)
	}
}
