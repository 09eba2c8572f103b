package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/world"
)

// ErrClosed возвращается после Close
var ErrClosed = errors.New("invalidator закрыт")

type subscriber struct {
	origin  string
	handler world.InvalidationHandler
}

// LocalInvalidator доставляет инвалидации подписчикам внутри процесса.
// Используется, когда несколько миров работают с одним хранилищем.
// Подписчик с тем же источником (world.OriginFrom), что и публикация,
// уведомление не получает.
type LocalInvalidator struct {
	mu     sync.RWMutex
	subs   map[uint64]subscriber
	nextID uint64
	stop   chan struct{}
	closed bool
	log    *logging.Logger

	published atomic.Int64
	delivered atomic.Int64
	errors    atomic.Int64
}

// NewLocalInvalidator создаёт шину инвалидаций внутри процесса
func NewLocalInvalidator() *LocalInvalidator {
	return &LocalInvalidator{
		subs: make(map[uint64]subscriber),
		stop: make(chan struct{}),
		log:  logging.For(logging.ComponentCache),
	}
}

// PublishInvalidation синхронно вызывает обработчики остальных подписчиков
func (l *LocalInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if l.isClosed() {
		return ErrClosed
	}
	l.published.Add(1)
	l.deliver(world.OriginFrom(ctx), key)
	return nil
}

func (l *LocalInvalidator) deliver(origin, key string) {
	l.mu.RLock()
	targets := make([]subscriber, 0, len(l.subs))
	for _, s := range l.subs {
		if origin == "" || s.origin != origin {
			targets = append(targets, s)
		}
	}
	l.mu.RUnlock()

	for _, s := range targets {
		if err := s.handler(key); err != nil {
			l.errors.Add(1)
			l.log.Error("Invalidation handler failed for key %s: %v", key, err)
			continue
		}
		l.delivered.Add(1)
	}
}

// SubscribeInvalidations регистрирует обработчик до отмены ctx
func (l *LocalInvalidator) SubscribeInvalidations(ctx context.Context, handler world.InvalidationHandler) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = subscriber{origin: world.OriginFrom(ctx), handler: handler}
	l.mu.Unlock()

	contextDone(ctx, l.stop, func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	})
	return nil
}

func (l *LocalInvalidator) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

// Stats возвращает счётчики
func (l *LocalInvalidator) Stats() InvalidatorStats {
	l.mu.RLock()
	n := len(l.subs)
	l.mu.RUnlock()
	return InvalidatorStats{
		Published:   l.published.Load(),
		Delivered:   l.delivered.Load(),
		Errors:      l.errors.Load(),
		Subscribers: n,
		Connected:   !l.isClosed(),
	}
}

// Close отписывает всех подписчиков
func (l *LocalInvalidator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.stop)
	l.subs = make(map[uint64]subscriber)
	return nil
}
