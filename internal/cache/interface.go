package cache

import (
	"context"
	"time"

	"github.com/annel0/voxel-world/internal/world"
)

// CacheInvalidator рассылает инвалидации кэша мира между менеджерами
// одного процесса и между узлами
type CacheInvalidator interface {
	world.Invalidator

	// Close отписывает всех подписчиков и закрывает соединение
	Close() error
}

// InvalidationMessage представляет сообщение об инвалидации кеша.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Origin    string    `json:"origin,omitempty"` // менеджер-источник
}

// InvalidatorStats содержит счётчики invalidator.
type InvalidatorStats struct {
	Published   int64 `json:"published"`
	Received    int64 `json:"received"`
	Delivered   int64 `json:"delivered"`
	Errors      int64 `json:"errors"`
	Subscribers int   `json:"subscribers"`
	Connected   bool  `json:"connected"`
}

var (
	_ CacheInvalidator = (*LocalInvalidator)(nil)
	_ CacheInvalidator = (*NATSInvalidator)(nil)
)

// contextDone вызывает fn после отмены ctx или закрытия stop
func contextDone(ctx context.Context, stop <-chan struct{}, fn func()) {
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		fn()
	}()
}
