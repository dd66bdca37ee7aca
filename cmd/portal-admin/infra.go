package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/northwind-consulting/portal/config"
	redisadapter "github.com/northwind-consulting/portal/internal/adapters/redis"
	"github.com/northwind-consulting/portal/internal/bootstrap"
	"github.com/northwind-consulting/portal/internal/data"
	"github.com/northwind-consulting/portal/internal/ports"
	"github.com/northwind-consulting/portal/internal/service"
)

// connectProfileAdmin opens Postgres and, when reachable, Redis so that
// profile changes also evict the cached copy the portal serves from.
//
//nolint:ireturn // commands only need the profileAdmin subset of the service.
func connectProfileAdmin(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) (profileAdmin, func(), error) {
	db, err := bootstrap.ConnectDB(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{db.Close}

	var cache ports.ProfileCache
	if cfg.Cache.ProfileTTL > 0 {
		rdb, rerr := bootstrap.ConnectRedis(ctx, cfg.Redis, logger)
		if rerr != nil {
			logger.WarnContext(ctx, "redis unavailable; cached profiles expire on their own", "error", rerr)
		} else {
			cache = redisadapter.NewProfileCache(rdb, cfg.Cache.ProfileTTL)
			closers = append(closers, rdb.Close)
		}
	}

	svc := service.NewAuthService(service.AuthServiceOptions{
		Profiles: data.NewProfileRepo(db),
		Cache:    cache,
		Logger:   logger,
	})
	closeAll := func() {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		if err := errors.Join(errs...); err != nil {
			logger.Warn("close connections failed", "error", err)
		}
	}
	return svc, closeAll, nil
}
