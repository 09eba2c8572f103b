package world

import (
	"context"
	"iter"

	"github.com/annel0/voxel-world/internal/async"
)

// Storage - граница персистентности мира.
//
// Сохранения одной координаты чанка выполняются строго в порядке вызова,
// даже если предыдущее сохранение завершилось ошибкой. Между разными
// координатами порядок не гарантируется.
type Storage interface {
	// ChunkExists проверяет наличие чанка без его загрузки
	ChunkExists(ctx context.Context, x, z int) (bool, error)

	// LoadChunk загружает чанк или возвращает nil, если его нет
	LoadChunk(ctx context.Context, w *World, x, z int) (*Chunk, error)
	// LoadSection загружает секцию y чанка parent или возвращает nil
	LoadSection(ctx context.Context, parent *Chunk, y int) (*Section, error)
	LoadChunkAsync(w *World, x, z int) *async.Future[*Chunk]
	LoadSectionAsync(parent *Chunk, y int) *async.Future[*Section]

	// Save блокируется, пока все изменённые сущности не будут записаны.
	// Неизменённые пропускаются.
	Save(ctx context.Context, chunks []*Chunk, sections []*Section) error
	SaveChunks(ctx context.Context, chunks ...*Chunk) error
	SaveSections(ctx context.Context, sections ...*Section) error
	// SaveAsync завершается только после фактической записи
	SaveAsync(chunks []*Chunk, sections []*Section) *async.Future[struct{}]

	// Flush ждёт записи, поставленные в очередь до вызова
	Flush(ctx context.Context) error
	FlushAsync() *async.Future[struct{}]

	// AllChunks и AllSections перебирают всё содержимое хранилища.
	// Каждая сущность загружается заново; вызывающий освобождает её.
	AllChunks(ctx context.Context, w *World) iter.Seq2[*Chunk, error]
	AllSections(ctx context.Context, w *World) iter.Seq2[*Section, error]

	Retain() (Storage, error)
	// Release при достижении нуля дожидается всех записей и закрывает хранилище
	Release() (bool, error)
	RefCnt() int32
}

// InvalidationHandler обрабатывает ключ, изменённый другим узлом
type InvalidationHandler func(key string) error

// Invalidator рассылает уведомления об изменённых ключах между узлами,
// работающими с одним хранилищем
type Invalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
}

type originKey struct{}

// WithOrigin помечает контекст идентификатором менеджера-источника.
// Invalidator не доставляет уведомление подписчику с тем же источником.
func WithOrigin(ctx context.Context, managerID string) context.Context {
	return context.WithValue(ctx, originKey{}, managerID)
}

// OriginFrom возвращает идентификатор источника или пустую строку
func OriginFrom(ctx context.Context) string {
	id, _ := ctx.Value(originKey{}).(string)
	return id
}
