package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/northwind-consulting/portal/internal/devseed"
)

// BackgroundService is a long-running loop that stops when ctx is done.
type BackgroundService struct {
	Name string
	Run  func(ctx context.Context) error
}

// ServiceOrchestrationConfig describes what RunServicesWithShutdown runs.
type ServiceOrchestrationConfig struct {
	Server          *http.Server
	Listener        net.Listener // optional; listens on Server.Addr when nil
	ShutdownTimeout time.Duration
	Background      []BackgroundService
	Logger          *slog.Logger
}

// RunServicesWithShutdown serves HTTP and runs the background services until
// ctx is cancelled or one of them fails. The first failure cancels the rest.
func RunServicesWithShutdown(ctx context.Context, cfg ServiceOrchestrationConfig) error {
	if cfg.Server == nil {
		return errors.New("http server is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ServeHTTP(gctx, cfg.Server, cfg.Listener, cfg.ShutdownTimeout, logger)
	})
	for _, bg := range cfg.Background {
		g.Go(func() error {
			logger.InfoContext(gctx, "starting background service", "service", bg.Name)
			if err := bg.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", bg.Name, err)
			}
			logger.InfoContext(gctx, "background service stopped", "service", bg.Name)
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		logger.ErrorContext(ctx, "service stopped with error", "error", err)
	}
	return err
}

// Background returns the loops the container needs running alongside HTTP.
func (c ServiceContainer) Background() []BackgroundService {
	if c.Events == nil {
		return nil
	}
	return []BackgroundService{{Name: "auth-event-bus", Run: c.Events.Run}}
}

// SeedDev gives each seeded dev login a profile. It is a no-op outside mock mode.
func SeedDev(ctx context.Context, c ServiceContainer, logger *slog.Logger) error {
	if c.Identity.Dev == nil || len(c.Identity.Accounts) == 0 {
		return nil
	}
	return devseed.Run(ctx, devseed.Options{
		Users:    c.Identity.Dev,
		Profiles: c.Profiles,
		Accounts: c.Identity.Accounts,
		Logger:   logger,
	})
}
