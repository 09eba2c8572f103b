// Package app собирает сервер мира из конфигурации: хранилище, рассылку
// инвалидаций, мир, генератор и REST API, а также периодические задачи.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/api"
	"github.com/annel0/voxel-world/internal/cache"
	"github.com/annel0/voxel-world/internal/config"
	"github.com/annel0/voxel-world/internal/gen"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// App - запущенный экземпляр сервера мира
type App struct {
	cfg    *config.Config
	nodeID string

	kv          storage.KV
	storage     *storage.WorldStorage
	invalidator cache.CacheInvalidator
	world       *world.World
	rest        *api.RestServer

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Options позволяет подменить реестр Prometheus (в тестах)
type Options struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// New открывает хранилище и создаёт мир. При ошибке всё уже открытое закрывается.
func New(ctx context.Context, cfg *config.Config, opts Options) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a = &App{cfg: cfg, nodeID: uuid.NewString()}
	defer func() {
		if err != nil {
			a.cleanup()
			a = nil
		}
	}()

	if a.kv, err = openKV(ctx, cfg.Storage); err != nil {
		return nil, err
	}
	if a.invalidator, err = openInvalidator(cfg.Cache, a.nodeID); err != nil {
		return nil, err
	}

	st := storage.New(a.kv, storage.Options{
		IOWorkers:   cfg.Storage.IOWorkers,
		Compression: cfg.Storage.Compression,
		Invalidator: a.invalidator,
	})
	a.storage = st
	a.kv = nil // дальше KV закрывается хранилищем

	generator, err := gen.New(cfg.World.Generator)
	if err != nil {
		return nil, err
	}
	wopts := world.Options{
		Name:             cfg.World.Name,
		Layers:           cfg.World.Layers,
		SkyLight:         cfg.World.SkyLight,
		Seed:             cfg.World.Seed,
		Generate:         cfg.World.Generate && generator != nil,
		Generator:        generator,
		GeneratorOptions: cfg.World.GeneratorOptions,
		IdleTTL:          cfg.World.IdleTTL,
	}
	if a.invalidator != nil {
		wopts.Invalidator = a.invalidator
	}
	if a.world, err = world.New(wopts, st, block.Vanilla()); err != nil {
		return nil, fmt.Errorf("создание мира: %w", err)
	}

	a.rest, err = api.NewRestServer(api.Config{
		Port:       fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		World:      a.world,
		JWTSecret:  cfg.Server.GetJWTSecret(),
		Registerer: opts.Registerer,
		Gatherer:   opts.Gatherer,
	})
	if err != nil {
		return nil, err
	}

	logging.Info("🌍 Мир %s открыт (хранилище: %s, инвалидация: %s, генератор: %q, узел %s)",
		cfg.World.Name, cfg.Storage.Backend, cfg.Cache.Invalidation, cfg.World.Generator, a.nodeID)
	return a, nil
}

func openKV(ctx context.Context, cfg config.StorageConfig) (storage.KV, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return storage.NewMemoryKV(), nil
	case "redis":
		kv, err := storage.OpenRedis(ctx, &storage.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return kv, nil
	case "mongo":
		kv, err := storage.OpenMongo(ctx, &storage.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			return nil, err
		}
		return kv, nil
	case "maria":
		kv, err := storage.OpenMaria(ctx, storage.MariaConfig{DSN: cfg.Maria.DSN, Table: cfg.Maria.Table})
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		kv, err := storage.OpenBadger(cfg.DataPath)
		if err != nil {
			return nil, err
		}
		return kv, nil
	}
}

func openInvalidator(cfg config.CacheConfig, nodeID string) (cache.CacheInvalidator, error) {
	switch strings.ToLower(cfg.Invalidation) {
	case "local":
		return cache.NewLocalInvalidator(), nil
	case "nats":
		inv, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{
			NATSURL:        cfg.NATSURL,
			Subject:        cfg.Subject,
			PublishTimeout: cfg.PublishWait,
		}, nodeID)
		if err != nil {
			return nil, err
		}
		return inv, nil
	}
	return nil, nil
}

// World возвращает обслуживаемый мир
func (a *App) World() *world.World { return a.world }

// REST возвращает HTTP сервер
func (a *App) REST() *api.RestServer { return a.rest }

// Run запускает REST API и периодические задачи и блокируется до отмены ctx
// или ошибки HTTP сервера
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.startTicker(ctx, "автосохранение", a.cfg.World.AutosaveEvery, a.autosave)
	a.startTicker(ctx, "GC", a.cfg.World.GCEvery, a.collect)

	errCh := make(chan error, 1)
	go func() { errCh <- a.rest.Start() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) startTicker(ctx context.Context, name string, every time.Duration, fn func(context.Context)) {
	if every <= 0 {
		logging.Debug("Задача %s отключена", name)
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// autosave ставит изменённые чанки в очередь записи, не дожидаясь её
func (a *App) autosave(context.Context) {
	start := time.Now()
	a.world.SaveAsync().Then(func(_ struct{}, err error) {
		if err != nil {
			logging.Error("Автосохранение: %v", err)
			return
		}
		logging.Debug("Автосохранение завершено за %s", time.Since(start))
	})
}

func (a *App) collect(ctx context.Context) {
	n, err := a.world.Manager().GC(ctx, false)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("GC: %v", err)
		return
	}
	if n > 0 {
		logging.Debug("GC: вытеснено %d записей", n)
	}
}

// Close останавливает HTTP сервер, сохраняет мир и освобождает хранилище.
// Повторный вызов возвращает результат первого.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.rest != nil {
			if err := a.rest.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("остановка REST API: %w", err))
			}
		}
		a.wg.Wait()
		if a.world != nil {
			if err := a.world.Save(ctx); err != nil {
				errs = append(errs, fmt.Errorf("сохранение мира: %w", err))
			}
		}
		errs = append(errs, a.cleanup())
		a.closeErr = errors.Join(errs...)
		logging.Info("👋 Мир %s закрыт", a.cfg.World.Name)
	})
	return a.closeErr
}

// cleanup освобождает ресурсы в обратном порядке открытия
func (a *App) cleanup() error {
	var errs []error
	if a.world != nil {
		if _, err := a.world.Release(); err != nil {
			errs = append(errs, err)
		}
		a.world = nil
	}
	if a.storage != nil {
		if _, err := a.storage.Release(); err != nil {
			errs = append(errs, err)
		}
		a.storage = nil
	}
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
		a.kv = nil
	}
	if a.invalidator != nil {
		errs = append(errs, a.invalidator.Close())
		a.invalidator = nil
	}
	return errors.Join(errs...)
}
