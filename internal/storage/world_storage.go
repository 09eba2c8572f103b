package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-world/internal/async"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/annel0/voxel-world/internal/storage")

// Options - параметры WorldStorage
type Options struct {
	// IOWorkers - сколько записей может выполняться одновременно
	IOWorkers int
	// Compression включает zstd для данных секций
	Compression bool
	// Invalidator получает ключ чанка после каждой успешной записи; может быть nil
	Invalidator world.Invalidator
	// Logger заменяет логгер компонента storage
	Logger *logging.Logger
}

// DefaultOptions возвращает параметры по умолчанию
func DefaultOptions() Options {
	return Options{IOWorkers: 4, Compression: true}
}

// WorldStorage реализует world.Storage поверх KV.
//
// Чанк хранится как JSON-заголовок под ключом chunk:x:z и данные секций
// под ключами section:x:y:z. Записи одной координаты чанка выполняются
// в порядке постановки, записи разных координат - параллельно.
type WorldStorage struct {
	kv    KV
	opts  Options
	queue *writeQueue

	ctx    context.Context
	cancel context.CancelFunc
	refs   atomic.Int32
	log    *logging.Logger
}

var _ world.Storage = (*WorldStorage)(nil)

// New создаёт хранилище мира. Хранилище владеет kv и закрывает его
// при освобождении последней ссылки.
func New(kv KV, opts Options) *WorldStorage {
	if opts.IOWorkers < 1 {
		opts.IOWorkers = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.For(logging.ComponentStorage)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ws := &WorldStorage{
		log:    opts.Logger,
		kv:     kv,
		opts:   opts,
		queue:  newWriteQueue(context.WithoutCancel(ctx), opts.IOWorkers),
		ctx:    ctx,
		cancel: cancel,
	}
	ws.refs.Store(1)
	return ws
}

// KV возвращает бэкенд
func (ws *WorldStorage) KV() KV { return ws.kv }

// Retain увеличивает счётчик ссылок
func (ws *WorldStorage) Retain() (world.Storage, error) {
	for {
		c := ws.refs.Load()
		if c <= 0 {
			return nil, world.ErrAlreadyReleased
		}
		if ws.refs.CompareAndSwap(c, c+1) {
			return ws, nil
		}
	}
}

// Release уменьшает счётчик ссылок. При нуле дожидается всех
// поставленных записей и закрывает бэкенд.
func (ws *WorldStorage) Release() (bool, error) {
	for {
		c := ws.refs.Load()
		if c <= 0 {
			return false, world.ErrAlreadyReleased
		}
		if !ws.refs.CompareAndSwap(c, c-1) {
			continue
		}
		if c > 1 {
			return false, nil
		}
		ws.queue.close()
		ws.cancel()
		if err := ws.kv.Close(); err != nil {
			return true, fmt.Errorf("закрытие хранилища: %w", err)
		}
		ws.log.Debug("Хранилище мира закрыто")
		return true, nil
	}
}

// RefCnt возвращает текущее число ссылок
func (ws *WorldStorage) RefCnt() int32 {
	if c := ws.refs.Load(); c > 0 {
		return c
	}
	return 0
}

func (ws *WorldStorage) checkOpen() error {
	if ws.refs.Load() <= 0 {
		return world.ErrAlreadyReleased
	}
	return nil
}

// awaitLane дожидается записей координаты, поставленных до чтения,
// чтобы чтение видело последнее сохранённое состояние
func (ws *WorldStorage) awaitLane(ctx context.Context, pos vec.Vec2) error {
	for _, f := range ws.queue.laneSnapshot(pos) {
		if _, err := f.Wait(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// ChunkExists проверяет наличие заголовка чанка
func (ws *WorldStorage) ChunkExists(ctx context.Context, x, z int) (bool, error) {
	if err := ws.checkOpen(); err != nil {
		return false, err
	}
	if err := ws.awaitLane(ctx, vec.Vec2{X: x, Z: z}); err != nil {
		return false, err
	}
	return ws.kv.Has(ctx, world.ChunkKey(x, z))
}

func (ws *WorldStorage) readHeader(ctx context.Context, x, z int) (*world.ChunkHeader, error) {
	data, ok, err := ws.kv.Get(ctx, world.ChunkKey(x, z))
	if err != nil || !ok {
		return nil, err
	}
	var h world.ChunkHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("ошибка десериализации заголовка чанка (%d, %d): %w", x, z, err)
	}
	return &h, nil
}

func (ws *WorldStorage) readSection(ctx context.Context, x, y, z int) ([]byte, error) {
	data, ok, err := ws.kv.Get(ctx, world.SectionKey(x, y, z))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: нет данных секции %d чанка (%d, %d)", world.ErrInvalidArgument, y, x, z)
	}
	return decompress(data)
}

func startSpan(ctx context.Context, name string, x, z int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int("chunk.x", x),
		attribute.Int("chunk.z", z),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// LoadChunk читает заголовок и все секции чанка. Секции читаются параллельно.
func (ws *WorldStorage) LoadChunk(ctx context.Context, w *world.World, x, z int) (c *world.Chunk, err error) {
	if err := ws.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "storage.LoadChunk", x, z)
	defer func() {
		result := "found"
		switch {
		case err != nil:
			result = "error"
		case c == nil:
			result = "absent"
		}
		loadsTotal.WithLabelValues(kindChunk, result).Inc()
		endSpan(span, err)
	}()

	if err := ws.awaitLane(ctx, vec.Vec2{X: x, Z: z}); err != nil {
		return nil, err
	}
	h, err := ws.readHeader(ctx, x, z)
	if err != nil || h == nil {
		return nil, err
	}

	var sections [world.ChunkSections][]byte
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ws.opts.IOWorkers)
	for y := 0; y < world.ChunkSections; y++ {
		if !h.Has(y) {
			continue
		}
		g.Go(func() error {
			data, err := ws.readSection(gctx, x, y, z)
			if err != nil {
				return err
			}
			sections[y] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("загрузка чанка (%d, %d): %w", x, z, err)
	}

	snap := world.ChunkSnapshot{Header: *h, Sections: make(map[int][]byte)}
	for y, data := range sections {
		if data != nil {
			snap.Sections[y] = data
		}
	}
	span.SetAttributes(attribute.Int("chunk.sections", len(snap.Sections)))
	return w.RestoreChunk(snap)
}

// LoadSection читает одну секцию чанка parent. Секция не прикрепляется к чанку.
func (ws *WorldStorage) LoadSection(ctx context.Context, parent *world.Chunk, y int) (s *world.Section, err error) {
	if err := ws.checkOpen(); err != nil {
		return nil, err
	}
	if y < 0 || y >= world.ChunkSections {
		return nil, fmt.Errorf("%w: индекс секции %d", world.ErrInvalidArgument, y)
	}
	x, z := parent.X(), parent.Z()
	ctx, span := startSpan(ctx, "storage.LoadSection", x, z)
	span.SetAttributes(attribute.Int("section.y", y))
	defer func() {
		result := "found"
		switch {
		case err != nil:
			result = "error"
		case s == nil:
			result = "absent"
		}
		loadsTotal.WithLabelValues(kindSection, result).Inc()
		endSpan(span, err)
	}()

	if err := ws.awaitLane(ctx, parent.Pos()); err != nil {
		return nil, err
	}
	h, err := ws.readHeader(ctx, x, z)
	if err != nil || h == nil || !h.Has(y) {
		return nil, err
	}
	data, err := ws.readSection(ctx, x, y, z)
	if err != nil {
		return nil, err
	}
	return parent.RestoreSection(y, data)
}

func (ws *WorldStorage) LoadChunkAsync(w *world.World, x, z int) *async.Future[*world.Chunk] {
	return async.Go(func() (*world.Chunk, error) {
		return ws.LoadChunk(ws.ctx, w, x, z)
	})
}

func (ws *WorldStorage) LoadSectionAsync(parent *world.Chunk, y int) *async.Future[*world.Section] {
	return async.Go(func() (*world.Section, error) {
		return ws.LoadSection(ws.ctx, parent, y)
	})
}

// inFlight возвращает Future, завершающийся после записей полосы pos,
// поставленных до вызова. Чистый чанк мог быть снят в снимок раньше,
// и его данные ещё в очереди.
func (ws *WorldStorage) inFlight(pos vec.Vec2) *async.Future[struct{}] {
	futures := ws.queue.laneSnapshot(pos)
	if len(futures) == 0 {
		return async.Completed(struct{}{})
	}
	return async.Go(func() (struct{}, error) {
		var first error
		for _, f := range futures {
			if _, err := f.Join(); err != nil && first == nil {
				first = err
			}
		}
		return struct{}{}, first
	})
}

// enqueueChunk снимает снимок изменённого чанка и ставит его запись в очередь.
// Флаг изменений снимается до снимка: запись, пришедшая после, снова
// пометит чанк изменённым.
func (ws *WorldStorage) enqueueChunk(c *world.Chunk) *async.Future[struct{}] {
	if !c.Dirty() {
		return ws.inFlight(c.Pos())
	}
	c.ClearDirty()
	snap, err := c.Snapshot()
	if errors.Is(err, world.ErrNotLoaded) {
		return async.Failed[struct{}](fmt.Errorf("сохранение чанка %s: изменения выгруженного чанка потеряны: %w", c.Pos(), err))
	}
	if err != nil {
		c.MarkDirty()
		return async.Failed[struct{}](err)
	}

	batch, size, err := ws.chunkBatch(snap)
	if err != nil {
		c.MarkDirty()
		return async.Failed[struct{}](err)
	}

	x, z := snap.Header.X, snap.Header.Z
	return ws.queue.enqueue(c.Pos(), func(ctx context.Context) error {
		err := ws.write(ctx, kindChunk, x, z, batch, size)
		if err != nil {
			c.MarkDirty()
			return err
		}
		c.MarkSaved()
		ws.publish(ctx, c, x, z)
		return nil
	})
}

func (ws *WorldStorage) chunkBatch(snap world.ChunkSnapshot) ([]Mutation, int, error) {
	h := snap.Header
	header, err := json.Marshal(h)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка сериализации заголовка чанка (%d, %d): %w", h.X, h.Z, err)
	}
	batch := make([]Mutation, 0, world.ChunkSections+1)
	batch = append(batch, Put(world.ChunkKey(h.X, h.Z), header))
	size := len(header)
	for y := 0; y < world.ChunkSections; y++ {
		key := world.SectionKey(h.X, y, h.Z)
		data, ok := snap.Sections[y]
		if !ok {
			batch = append(batch, Delete(key))
			continue
		}
		value := compress(data, ws.opts.Compression)
		size += len(value)
		batch = append(batch, Put(key, value))
	}
	return batch, size, nil
}

// enqueueSection ставит в очередь запись одной секции и бита в заголовке чанка.
// Флаг изменений чанка не снимается: остальные секции могли не сохраниться.
func (ws *WorldStorage) enqueueSection(s *world.Section) *async.Future[struct{}] {
	c := s.Chunk()
	if s.Orphaned() {
		return async.Failed[struct{}](fmt.Errorf("сохранение секции %s: %w", s.Pos(), world.ErrNotLoaded))
	}
	if !c.Dirty() {
		return ws.inFlight(c.Pos())
	}
	data, err := s.MarshalBinary()
	if err != nil {
		return async.Failed[struct{}](err)
	}
	value := compress(data, ws.opts.Compression)
	x, y, z := c.X(), s.Y(), c.Z()
	populated := c.Populated()

	return ws.queue.enqueue(c.Pos(), func(ctx context.Context) error {
		h, err := ws.readHeader(ctx, x, z)
		if err != nil {
			return err
		}
		if h == nil {
			h = &world.ChunkHeader{Version: world.ChunkHeaderVersion, X: x, Z: z, Populated: populated}
		}
		h.Sections |= 1 << uint(y)
		h.SavedAt = time.Now().UTC()
		header, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("ошибка сериализации заголовка чанка (%d, %d): %w", x, z, err)
		}
		batch := []Mutation{
			Put(world.ChunkKey(x, z), header),
			Put(world.SectionKey(x, y, z), value),
		}
		if err := ws.write(ctx, kindSection, x, z, batch, len(header)+len(value)); err != nil {
			return err
		}
		c.MarkSaved()
		ws.publish(ctx, c, x, z)
		return nil
	})
}

func (ws *WorldStorage) write(ctx context.Context, kind string, x, z int, batch []Mutation, size int) (err error) {
	ctx, span := startSpan(ctx, "storage.Write", x, z)
	span.SetAttributes(attribute.String("kind", kind), attribute.Int("bytes", size))
	start := time.Now()
	defer func() {
		writeDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		endSpan(span, err)
	}()

	if err := ws.kv.Write(ctx, batch); err != nil {
		writesTotal.WithLabelValues(kind, "error").Inc()
		ws.log.Warn("Запись %s (%d, %d): %v", kind, x, z, err)
		return fmt.Errorf("запись %s (%d, %d): %w", kind, x, z, err)
	}
	writesTotal.WithLabelValues(kind, "ok").Inc()
	bytesWritten.Add(float64(size))
	return nil
}

// publish рассылает ключ записанного чанка. Менеджер, чей чанк записан,
// указывается источником и уведомление не получает.
func (ws *WorldStorage) publish(ctx context.Context, c *world.Chunk, x, z int) {
	if ws.opts.Invalidator == nil {
		return
	}
	ctx = world.WithOrigin(ctx, c.World().Manager().ID())
	if err := ws.opts.Invalidator.PublishInvalidation(ctx, world.ChunkKey(x, z)); err != nil {
		ws.log.Warn("Публикация инвалидации чанка (%d, %d): %v", x, z, err)
	}
}

func (ws *WorldStorage) enqueue(chunks []*world.Chunk, sections []*world.Section) []*async.Future[struct{}] {
	futures := make([]*async.Future[struct{}], 0, len(chunks)+len(sections))
	for _, c := range chunks {
		if c != nil {
			futures = append(futures, ws.enqueueChunk(c))
		}
	}
	for _, s := range sections {
		if s != nil {
			futures = append(futures, ws.enqueueSection(s))
		}
	}
	return futures
}

// waitAll ждёт все Future и возвращает первую ошибку
func waitAll(ctx context.Context, futures []*async.Future[struct{}]) error {
	var g errgroup.Group
	for _, f := range futures {
		g.Go(func() error {
			_, err := f.Wait(ctx)
			return err
		})
	}
	return g.Wait()
}

// Save ставит изменённые чанки и секции в очередь и ждёт их записи
func (ws *WorldStorage) Save(ctx context.Context, chunks []*world.Chunk, sections []*world.Section) error {
	if err := ws.checkOpen(); err != nil {
		return err
	}
	return waitAll(ctx, ws.enqueue(chunks, sections))
}

func (ws *WorldStorage) SaveChunks(ctx context.Context, chunks ...*world.Chunk) error {
	return ws.Save(ctx, chunks, nil)
}

func (ws *WorldStorage) SaveSections(ctx context.Context, sections ...*world.Section) error {
	return ws.Save(ctx, nil, sections)
}

// SaveAsync завершается после фактической записи всех переданных сущностей
func (ws *WorldStorage) SaveAsync(chunks []*world.Chunk, sections []*world.Section) *async.Future[struct{}] {
	if err := ws.checkOpen(); err != nil {
		return async.Failed[struct{}](err)
	}
	futures := ws.enqueue(chunks, sections)
	return async.Go(func() (struct{}, error) {
		return struct{}{}, waitAll(context.Background(), futures)
	})
}

// SaveChunkAsync ставит в очередь запись одного чанка
func (ws *WorldStorage) SaveChunkAsync(c *world.Chunk) *async.Future[struct{}] {
	if err := ws.checkOpen(); err != nil {
		return async.Failed[struct{}](err)
	}
	return ws.enqueueChunk(c)
}

// Flush ждёт записи, поставленные до вызова. Ошибки отдельных записей
// уже получены их вызывающими и здесь не возвращаются.
func (ws *WorldStorage) Flush(ctx context.Context) error {
	for _, f := range ws.queue.snapshot() {
		if _, err := f.Wait(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (ws *WorldStorage) FlushAsync() *async.Future[struct{}] {
	futures := ws.queue.snapshot()
	return async.Go(func() (struct{}, error) {
		for _, f := range futures {
			_, _ = f.Join()
		}
		return struct{}{}, nil
	})
}

// AllChunks перебирает все сохранённые чанки. Ключи собираются до начала
// перебора, каждый чанк загружается непосредственно перед yield.
func (ws *WorldStorage) AllChunks(ctx context.Context, w *world.World) iter.Seq2[*world.Chunk, error] {
	return func(yield func(*world.Chunk, error) bool) {
		positions, err := ws.collect(ctx, "chunk:", func(key string) (vec.Vec3, error) {
			p, err := world.ParseChunkKey(key)
			return vec.Vec3{X: p.X, Z: p.Z}, err
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, p := range positions {
			c, err := ws.LoadChunk(ctx, w, p.X, p.Z)
			if err == nil && c == nil {
				continue
			}
			if !yield(c, err) {
				return
			}
		}
	}
}

// AllSections перебирает все сохранённые секции. Владелец каждой секции -
// чанк из кэша мира или незагруженный дескриптор чанка.
func (ws *WorldStorage) AllSections(ctx context.Context, w *world.World) iter.Seq2[*world.Section, error] {
	return func(yield func(*world.Section, error) bool) {
		positions, err := ws.collect(ctx, "section:", world.ParseSectionKey)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, p := range positions {
			s, err := ws.loadDetachedSection(ctx, w, p)
			if err == nil && s == nil {
				continue
			}
			if !yield(s, err) {
				return
			}
		}
	}
}

// loadDetachedSection декодирует секцию; её ссылка удерживает чанк-владельца
func (ws *WorldStorage) loadDetachedSection(ctx context.Context, w *world.World, p vec.Vec3) (*world.Section, error) {
	owner, err := w.Chunk(ctx, p.X, p.Z)
	if err != nil {
		return nil, err
	}
	defer owner.Release()
	data, err := ws.readSection(ctx, p.X, p.Y, p.Z)
	if err != nil {
		return nil, err
	}
	return owner.RestoreSection(p.Y, data)
}

func (ws *WorldStorage) collect(ctx context.Context, prefix string, parse func(string) (vec.Vec3, error)) ([]vec.Vec3, error) {
	if err := ws.checkOpen(); err != nil {
		return nil, err
	}
	if err := ws.Flush(ctx); err != nil {
		return nil, err
	}
	var out []vec.Vec3
	for key, err := range ws.kv.Keys(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		p, err := parse(key)
		if err != nil {
			ws.log.Warn("Пропущен некорректный ключ %q: %v", key, err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
