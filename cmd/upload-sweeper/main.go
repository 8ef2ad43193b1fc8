package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/accessiblelessons/internal/app"
	"github.com/Lllllllleong/accessiblelessons/internal/config"
	"github.com/Lllllllleong/accessiblelessons/internal/services"
)

var (
	sweeperInstance *services.SweeperFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Triggered by Cloud Scheduler through Pub/Sub; the payload is ignored.
	functions.CloudEvent("ReconcileStuckUploads", reconcileStuckUploads)
}

// main is required by the Go Functions Framework.
func main() {}

func reconcileStuckUploads(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var cfg *config.Config
		if cfg, initErr = config.LoadForSweeper(); initErr != nil {
			return
		}
		store, err := app.OpenStore(context.Background(), cfg)
		if err != nil {
			initErr = err
			return
		}
		sweeperInstance, initErr = services.NewSweeper(store, nil, services.SweeperConfig{StuckAfter: cfg.StuckAfter})
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	swept, err := sweeperInstance.Process(ctx)
	if err != nil {
		return err
	}
	slog.Info("Reconciled stuck uploads.", "eventId", e.ID(), "swept", swept)
	return nil
}
