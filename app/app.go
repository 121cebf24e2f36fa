// Package app assembles the task core from configuration. The gateway and
// the CLI both start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"task-client/config"
	"task-client/remote"
	"task-client/storage"
	"task-client/tasks"
)

// App owns the long-lived pieces of the core.
type App struct {
	Port        remote.Port
	Store       storage.Store
	Redis       *redis.Client
	Queries     *tasks.Queries
	Coordinator *tasks.Coordinator

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the port, the cache store and the notifiers described by cfg and
// starts the background sweeper and invalidation watcher when they apply.
func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	port, err := NewPort(cfg.Remote)
	if err != nil {
		return nil, err
	}

	a := &App{Port: port}
	if cfg.Cache.Redis != nil {
		a.Redis = redis.NewClient(cfg.Cache.Redis)
	}

	opts := storage.Options{
		StaleTime: cfg.Cache.StaleTime,
		GCTime:    cfg.Cache.GCTime,
		Logger:    logger,
	}
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	var notifiers tasks.MultiNotifier
	if cfg.Cache.SharedStore {
		a.Store = storage.NewRedisStore(a.Redis, "", opts)
	} else {
		mem := storage.NewMemoryStore(opts)
		a.Store = mem
		a.goRun(func() { mem.RunSweeper(bg, cfg.Cache.SweepInterval) })
		if a.Redis != nil {
			a.goRun(func() {
				tasks.WatchInvalidations(bg, logger, a.Redis, cfg.Cache.InvalidationChannel, mem)
			})
		}
	}
	if a.Redis != nil {
		notifiers = append(notifiers, tasks.NewRedisNotifier(a.Redis, cfg.Cache.InvalidationChannel))
	}
	if cfg.Cache.InvalidationQueue != "" {
		qn, err := tasks.NewQueueNotifier(cfg.Remote.StorageConnectionString, cfg.Cache.InvalidationQueue)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalidation queue: %w", err)
		}
		notifiers = append(notifiers, qn)
	}

	var notifier tasks.Notifier
	if len(notifiers) > 0 {
		notifier = notifiers
	}
	a.Queries = tasks.NewQueries(port, a.Store, logger)
	a.Coordinator = tasks.NewCoordinator(port, a.Store, notifier, logger)
	return a, nil
}

// NewPort selects the remote adapter.
func NewPort(cfg config.Remote) (remote.Port, error) {
	switch cfg.Backend {
	case config.BackendTable:
		backend, err := remote.NewTableBackend(cfg.StorageConnectionString, cfg.TasksTable, cfg.TasksPartition)
		if err != nil {
			return nil, fmt.Errorf("table backend: %w", err)
		}
		return backend, nil
	case config.BackendHTTP, "":
		var tokens remote.TokenSource
		switch {
		case cfg.JWTSecret != "":
			tokens = remote.NewServiceTokenSource([]byte(cfg.JWTSecret), cfg.Subject, cfg.Audience, "", 0)
		case cfg.Token != "":
			tokens = remote.StaticToken(cfg.Token)
		}
		client, err := remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL: cfg.URL,
			Timeout: cfg.Timeout,
			Tokens:  tokens,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
}

// Health pings Redis when one is configured.
func (a *App) Health(ctx context.Context) error {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Ping(ctx).Err()
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Close stops background work, waits for in-flight revalidations and
// releases the store and the Redis client.
func (a *App) Close() error {
	a.cancel()
	if a.Queries != nil {
		a.Queries.Close()
	}
	a.wg.Wait()
	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
