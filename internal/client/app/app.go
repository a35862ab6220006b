// Package app wires the client components from config.Options.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/atinyakov/carpool/internal/client/api"
	"github.com/atinyakov/carpool/internal/client/cache"
	"github.com/atinyakov/carpool/internal/client/guard"
	"github.com/atinyakov/carpool/internal/client/session"
	"github.com/atinyakov/carpool/internal/client/storage"
	"github.com/atinyakov/carpool/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPrefix = "carpool"

// App holds one client instance.
type App struct {
	API     *api.Client
	Vault   *storage.Vault
	Session *session.Manager
	Cache   *cache.Store
	Guard   *guard.Guard

	opts    *config.Options
	log     *zap.Logger
	closers []io.Closer
}

// New builds every component. Close releases the storage backends.
func New(ctx context.Context, opts *config.Options, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{opts: opts, log: log}

	httpClient, err := api.NewHTTPClient(opts.CAFile, opts.Timeout)
	if err != nil {
		return nil, err
	}
	a.API = api.New(opts.BaseURL, httpClient, log.Named("api"))

	durable, err := a.durableStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	volatile, err := a.volatileStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Vault = storage.NewVault(durable, volatile)
	a.Session = session.NewManager(a.API, a.Vault, log.Named("session"))
	a.Cache = cache.NewStore(a.API, a.Session, a.Session, log.Named("cache"))
	a.Guard = guard.New(a.Session, nil, log.Named("guard"))

	log.Debug("client initialised",
		zap.String("base_url", opts.BaseURL),
		zap.String("durable", opts.Durable),
		zap.String("volatile", opts.Volatile),
		zap.Bool("sealed", opts.SealKey != ""),
	)
	return a, nil
}

func (a *App) durableStore(ctx context.Context) (storage.Store, error) {
	var s storage.Store
	switch a.opts.Durable {
	case config.DurableFile, "":
		s = storage.NewFileStore(a.opts.DurablePath)
	case config.DurableSQLite, config.DurablePostgres:
		driver := storage.DriverSQLite
		if a.opts.Durable == config.DurablePostgres {
			driver = storage.DriverPostgres
		}
		sqlStore, err := storage.OpenSQL(ctx, driver, a.opts.DurablePath)
		if err != nil {
			return nil, fmt.Errorf("open durable storage: %w", err)
		}
		a.closers = append(a.closers, sqlStore)
		s = sqlStore
	default:
		return nil, fmt.Errorf("unknown durable backend %q", a.opts.Durable)
	}

	if a.opts.SealKey == "" {
		return s, nil
	}
	sealed, err := storage.NewSealedStore(s, a.opts.SealKey)
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

func (a *App) volatileStore(ctx context.Context) (storage.Store, error) {
	switch a.opts.Volatile {
	case config.VolatileMemory, "":
		return storage.NewMemoryStore(), nil
	case config.VolatileRedis:
		rdb := redis.NewClient(&redis.Options{Addr: a.opts.RedisAddr})
		a.closers = append(a.closers, rdb)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return storage.NewRedisStore(rdb, redisPrefix, a.opts.VolatileTTL), nil
	default:
		return nil, fmt.Errorf("unknown volatile backend %q", a.opts.Volatile)
	}
}

// Start restores the session and starts the catalog auto-refresh. The
// refresh stops when ctx is done.
func (a *App) Start(ctx context.Context) {
	a.Session.CheckAuth(ctx)
	if u, ok := a.Session.CurrentUser(); ok {
		a.log.Info("session restored", zap.String("login_id", u.LoginID))
	}
	a.Cache.StartAutoRefresh(ctx, a.opts.RefreshInterval)
}

// Close releases the storage backends.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
