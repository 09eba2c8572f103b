package world

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/async"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/google/uuid"
)

// Manager - кэш загруженных чанков и секций со счётчиками ссылок.
//
// Каждая запись кэша удерживает одну ссылку на объект. Всё, что менеджер
// возвращает вызывающему, уже удержано (Retain) и должно быть освобождено
// через Release. Запись не освобождается, пока на неё есть ссылки.
//
// Для каждой координаты существует не больше одного живого чанка:
// вытесненный, но удерживаемый чанк и дескриптор из World.Chunk
// возвращаются в кэш при следующей загрузке вместо повторного чтения.
type Manager struct {
	world  *World
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	chunks   map[vec.Vec2]*Chunk
	sections map[vec.Vec3]*Section
	pending  map[vec.Vec2]*pendingChunk

	// live - все живые чанки менеджера, включая вытесненные; ссылок не держит.
	// Порядок блокировок: mu, затем liveMu.
	liveMu sync.Mutex
	live   map[vec.Vec2]*Chunk

	ref refCounter
}

// pendingChunk - загрузка чанка в процессе; все ожидающие получают один результат
type pendingChunk struct {
	future   *async.Future[*Chunk]
	complete func(*Chunk, error)
	waiters  int32
}

// ManagerStats - снимок состояния кэша
type ManagerStats struct {
	Chunks   int `json:"chunks"`
	Sections int `json:"sections"`
	Pending  int `json:"pending"`
}

func newManager(w *World) *Manager {
	ctx, cancel := context.WithCancel(w.ctx)
	m := &Manager{
		world:    w,
		id:       uuid.NewString(),
		ctx:      ctx,
		cancel:   cancel,
		chunks:   make(map[vec.Vec2]*Chunk),
		sections: make(map[vec.Vec3]*Section),
		pending:  make(map[vec.Vec2]*pendingChunk),
		live:     make(map[vec.Vec2]*Chunk),
	}
	m.ref.init(m.dispose)
	return m
}

func (m *Manager) start() error {
	inv := m.world.opts.Invalidator
	if inv == nil {
		return nil
	}
	if err := inv.SubscribeInvalidations(WithOrigin(m.ctx, m.id), m.handleInvalidation); err != nil {
		return fmt.Errorf("подписка на инвалидацию: %w", err)
	}
	return nil
}

func (m *Manager) dispose() {
	if _, err := m.gc(context.Background(), true); err != nil {
		logging.Error("Менеджер %s: ошибка сохранения при освобождении: %v", m.id, err)
	}
	m.cancel()
	logging.Debug("Менеджер %s мира %s освобождён", m.id, m.world.opts.Name)
}

// ID возвращает уникальный идентификатор экземпляра менеджера
func (m *Manager) ID() string { return m.id }

// Retain увеличивает счётчик ссылок
func (m *Manager) Retain() (*Manager, error) {
	if err := m.ref.retain(); err != nil {
		return nil, err
	}
	return m, nil
}

// Release уменьшает счётчик ссылок; при нуле выполняется GC(full)
func (m *Manager) Release() (bool, error) { return m.ref.release() }

// RefCnt возвращает текущее число ссылок
func (m *Manager) RefCnt() int32 { return m.ref.refCnt() }

// Stats возвращает размеры кэша
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ManagerStats{Chunks: len(m.chunks), Sections: len(m.sections), Pending: len(m.pending)}
}

// track регистрирует живой чанк координаты
func (m *Manager) track(c *Chunk) {
	c.tracked.Store(true)
	m.liveMu.Lock()
	m.live[c.pos] = c
	m.liveMu.Unlock()
}

// forget снимает регистрацию освобождённого чанка
func (m *Manager) forget(c *Chunk) {
	m.liveMu.Lock()
	if m.live[c.pos] == c {
		delete(m.live, c.pos)
	}
	m.liveMu.Unlock()
}

// liveChunk возвращает удержанный живой чанк координаты или nil
func (m *Manager) liveChunk(key vec.Vec2) *Chunk {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()
	if c := m.live[key]; c != nil && c.ref.retain() == nil {
		return c
	}
	return nil
}

// publishLocked помещает чанк в кэш, отдавая кэшу одну ссылку вызывающего
func (m *Manager) publishLocked(c *Chunk) {
	m.chunks[c.pos] = c
	m.track(c)
	m.updateResidentLocked()
}

// adopt помещает в кэш чанк, загруженный через Chunk.Load
func (m *Manager) adopt(c *Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ref.released() {
		return
	}
	switch existing := m.chunks[c.pos]; existing {
	case c:
	case nil:
		if c.ref.retain() == nil {
			m.publishLocked(c)
		}
	default:
		logging.Warn("Менеджер %s: чанк %s загружен вне кэша, в кэше другая копия", m.id, c.pos)
	}
}

// handle возвращает чанк координаты: из кэша, живой вне кэша или новый
// незагруженный дескриптор, зарегистрированный за этой координатой
func (m *Manager) handle(x, z int, exists bool) (*Chunk, error) {
	key := vec.Vec2{X: x, Z: z}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ref.released() {
		return nil, ErrAlreadyReleased
	}
	if c := m.chunks[key]; c != nil && c.ref.retain() == nil {
		return c, nil
	}
	if c := m.liveChunk(key); c != nil {
		return c, nil
	}
	c := newChunk(m.world, x, z)
	c.exists.Store(exists)
	m.track(c)
	return c, nil
}

func (m *Manager) updateResidentLocked() {
	name := m.world.opts.Name
	cacheResident.WithLabelValues(name, kindChunk).Set(float64(len(m.chunks)))
	cacheResident.WithLabelValues(name, kindSection).Set(float64(len(m.sections)))
}

// GetChunk возвращает чанк из кэша или nil. Никогда не выполняет ввод-вывод.
func (m *Manager) GetChunk(x, z int) (*Chunk, error) {
	if m.ref.released() {
		return nil, ErrAlreadyReleased
	}
	m.mu.RLock()
	c := m.chunks[vec.Vec2{X: x, Z: z}]
	if c != nil && c.ref.retain() != nil {
		c = nil
	}
	m.mu.RUnlock()

	if c == nil {
		cacheMisses.WithLabelValues(m.world.opts.Name, kindChunk).Inc()
		return nil, nil
	}
	c.touch()
	cacheHits.WithLabelValues(m.world.opts.Name, kindChunk).Inc()
	return c, nil
}

// GetSection возвращает секцию из кэша или nil. Секция загруженного
// в кэш чанка публикуется в кэш секций. Никогда не выполняет ввод-вывод.
func (m *Manager) GetSection(x, y, z int) (*Section, error) {
	if y < 0 || y >= ChunkSections {
		return nil, fmt.Errorf("%w: индекс секции %d", ErrInvalidArgument, y)
	}
	if m.ref.released() {
		return nil, ErrAlreadyReleased
	}
	key := vec.Vec3{X: x, Y: y, Z: z}

	m.mu.RLock()
	if s := m.sections[key]; s != nil {
		if _, err := s.Retain(); err == nil {
			m.mu.RUnlock()
			s.touch()
			cacheHits.WithLabelValues(m.world.opts.Name, kindSection).Inc()
			return s, nil
		}
	}
	c := m.chunks[key.Column()]
	m.mu.RUnlock()

	if c != nil {
		if s := c.Section(y); s != nil {
			if s, err := m.publishSection(key, c, s); s != nil || err != nil {
				return s, err
			}
		}
	}
	cacheMisses.WithLabelValues(m.world.opts.Name, kindSection).Inc()
	return nil, nil
}

// publishSection добавляет секцию чанка c в кэш и возвращает её удержанной.
// Запись кэша держит только секцию, ссылка вызывающего держит и чанк.
func (m *Manager) publishSection(key vec.Vec3, c *Chunk, s *Section) (*Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.sections[key]; existing != nil {
		if _, err := existing.Retain(); err == nil {
			existing.touch()
			return existing, nil
		}
	}
	if m.chunks[key.Column()] != c || c.Section(key.Y) != s {
		// чанк вытеснен или перезагружен, секция не кэшируется
		if _, err := s.Retain(); err != nil {
			return nil, nil
		}
		return s, nil
	}
	if err := s.ref.retain(); err != nil {
		return nil, nil
	}
	if _, err := s.Retain(); err != nil {
		s.drop()
		return nil, nil
	}
	s.touch()
	m.sections[key] = s
	m.updateResidentLocked()
	return s, nil
}

// LoadChunk асинхронно загружает чанк. Если чанк в кэше, Future уже завершён.
// Результат (если не nil) удержан для вызывающего.
func (m *Manager) LoadChunk(x, z int) *async.Future[*Chunk] {
	return m.loadChunk(x, z, true)
}

// GetOrLoadChunk возвращает чанк из кэша или блокируется до его загрузки.
// Результат может быть nil, если чанка нет и генерация отключена.
func (m *Manager) GetOrLoadChunk(ctx context.Context, x, z int) (*Chunk, error) {
	return waitChunk(ctx, m.loadChunk(x, z, true))
}

// GetOrCreateChunk как GetOrLoadChunk, но для отсутствующего чанка
// публикует новый пустой загруженный чанк
func (m *Manager) GetOrCreateChunk(ctx context.Context, x, z int) (*Chunk, error) {
	return m.getOrCreateChunk(ctx, x, z, true)
}

func (m *Manager) getOrCreateChunk(ctx context.Context, x, z int, populate bool) (*Chunk, error) {
	c, err := waitChunk(ctx, m.loadChunk(x, z, populate))
	if err != nil || c != nil {
		return c, err
	}

	key := vec.Vec2{X: x, Z: z}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ref.released() {
		return nil, ErrAlreadyReleased
	}
	if existing := m.chunks[key]; existing != nil && existing.ref.retain() == nil {
		return existing, nil
	}
	if c = m.liveChunk(key); c == nil {
		c = newChunk(m.world, x, z)
	}
	c.initEmpty()
	m.publishLocked(c)
	_ = c.ref.retain()
	return c, nil
}

func (m *Manager) loadChunk(x, z int, populate bool) *async.Future[*Chunk] {
	if m.ref.released() {
		return async.Failed[*Chunk](ErrAlreadyReleased)
	}
	base := m.loadBase(vec.Vec2{X: x, Z: z})
	if !populate || m.world.opts.Generator == nil {
		return base
	}
	if base.IsDone() {
		if c, err := base.Join(); err != nil || c == nil || c.Populated() {
			return base
		}
	}
	return async.Go(func() (*Chunk, error) {
		c, err := base.Join()
		if err != nil || c == nil {
			return c, err
		}
		if err := m.ensurePopulated(m.ctx, c); err != nil {
			_, _ = c.Release()
			return nil, err
		}
		return c, nil
	})
}

// loadBase возвращает чанк из кэша или присоединяется к загрузке
func (m *Manager) loadBase(key vec.Vec2) *async.Future[*Chunk] {
	name := m.world.opts.Name

	m.mu.Lock()
	if c := m.chunks[key]; c != nil && c.ref.retain() == nil {
		m.mu.Unlock()
		c.touch()
		cacheHits.WithLabelValues(name, kindChunk).Inc()
		return async.Completed(c)
	}
	if p := m.pending[key]; p != nil {
		p.waiters++
		m.mu.Unlock()
		cacheMisses.WithLabelValues(name, kindChunk).Inc()
		return p.future
	}
	if c := m.liveChunk(key); c != nil {
		if c.Loaded() {
			// вытесненный чанк ещё удерживается: он и есть актуальная копия
			m.publishLocked(c)
			_ = c.ref.retain()
			m.mu.Unlock()
			c.touch()
			cacheHits.WithLabelValues(name, kindChunk).Inc()
			return async.Completed(c)
		}
		defer c.Release()
	}
	f, complete := async.New[*Chunk]()
	p := &pendingChunk{future: f, complete: complete, waiters: 1}
	m.pending[key] = p
	m.mu.Unlock()

	cacheMisses.WithLabelValues(name, kindChunk).Inc()
	go m.runLoad(key, p)
	return f
}

func (m *Manager) runLoad(key vec.Vec2, p *pendingChunk) {
	c, result, err := m.fetch(key)

	var discard []*Chunk
	m.mu.Lock()
	delete(m.pending, key)
	if err == nil {
		existing := m.chunks[key]
		switch {
		case m.ref.released():
			discard = append(discard, c)
			c, err = nil, ErrAlreadyReleased
		case existing != nil:
			// чанк уже создан записью в мир, пока шла загрузка
			discard = append(discard, c)
			c = existing
			_ = c.ref.retainN(p.waiters)
		default:
			if h := m.liveChunk(key); h != nil {
				// у координаты есть живой чанк: данные переносятся в него
				if c != nil && !h.absorb(c) {
					discard = append(discard, c)
				}
				if h.Loaded() {
					c = h
				} else {
					discard = append(discard, h)
					c = nil
				}
			}
			if c != nil {
				m.publishLocked(c)
				_ = c.ref.retainN(p.waiters)
			}
		}
	}
	m.mu.Unlock()

	for _, d := range discard {
		if d != nil {
			_, _ = d.Release()
		}
	}

	if err != nil {
		result = "error"
		logging.Warn("Загрузка чанка %s: %v", key, err)
	}
	chunkLoads.WithLabelValues(m.world.opts.Name, result).Inc()
	p.complete(c, err)
}

// fetch читает чанк из хранилища, при необходимости генерируя отсутствующий
func (m *Manager) fetch(key vec.Vec2) (*Chunk, string, error) {
	c, err := m.world.storage.LoadChunk(m.ctx, m.world, key.X, key.Z)
	if err != nil {
		return nil, "error", err
	}
	if c != nil {
		return c, "loaded", nil
	}
	if !m.world.opts.Generate {
		return nil, "absent", nil
	}

	c = newChunk(m.world, key.X, key.Z)
	if _, err := c.load(m.ctx, true); err != nil {
		_, _ = c.Release()
		return nil, "error", err
	}
	return c, "generated", nil
}

// ensurePopulated выполняет заселение чанка после того, как сгенерированы
// все секции, перечисленные генератором в PopulationSections
func (m *Manager) ensurePopulated(ctx context.Context, c *Chunk) error {
	gen := m.world.opts.Generator
	if gen == nil || c.Populated() {
		return nil
	}
	c.popMu.Lock()
	defer c.popMu.Unlock()
	if c.Populated() {
		return nil
	}
	if !c.Loaded() {
		return ErrNotLoaded
	}

	deps := make(map[vec.Vec2]struct{})
	for y := 0; y < ChunkSections; y++ {
		for _, p := range gen.PopulationSections(c.pos.X, y, c.pos.Z) {
			if col := p.Column(); col != c.pos {
				deps[col] = struct{}{}
			}
		}
	}

	held := make([]*Chunk, 0, len(deps))
	defer func() {
		for _, d := range held {
			_, _ = d.Release()
		}
	}()
	for col := range deps {
		d, err := m.getOrCreateChunk(ctx, col.X, col.Z, false)
		if err != nil {
			return fmt.Errorf("подготовка соседа %s для заселения %s: %w", col, c.pos, err)
		}
		held = append(held, d)
	}

	access := m.world.population
	for y := 0; y < ChunkSections; y++ {
		rng := m.world.sectionRand(c.pos.X, y+ChunkSections, c.pos.Z)
		if err := gen.Populate(rng, access, c.pos.X, y, c.pos.Z); err != nil {
			return fmt.Errorf("заселение секции %d чанка %s: %w", y, c.pos, err)
		}
	}
	c.populated.Store(true)
	c.MarkDirty()
	return nil
}

// LoadSection асинхронно загружает секцию через её чанк
func (m *Manager) LoadSection(x, y, z int) *async.Future[*Section] {
	if y < 0 || y >= ChunkSections {
		return async.Failed[*Section](fmt.Errorf("%w: индекс секции %d", ErrInvalidArgument, y))
	}
	if m.ref.released() {
		return async.Failed[*Section](ErrAlreadyReleased)
	}
	key := vec.Vec3{X: x, Y: y, Z: z}

	m.mu.RLock()
	if s := m.sections[key]; s != nil {
		if _, err := s.Retain(); err == nil {
			m.mu.RUnlock()
			s.touch()
			cacheHits.WithLabelValues(m.world.opts.Name, kindSection).Inc()
			return async.Completed(s)
		}
	}
	m.mu.RUnlock()
	cacheMisses.WithLabelValues(m.world.opts.Name, kindSection).Inc()

	cf := m.loadChunk(x, z, true)
	return async.Go(func() (*Section, error) {
		c, err := cf.Join()
		if err != nil || c == nil {
			return nil, err
		}
		defer c.Release()
		s := c.Section(y)
		if s == nil {
			return nil, nil
		}
		return m.publishSection(key, c, s)
	})
}

// GetOrLoadSection возвращает секцию из кэша или блокируется до загрузки
func (m *Manager) GetOrLoadSection(ctx context.Context, x, y, z int) (*Section, error) {
	f := m.LoadSection(x, y, z)
	select {
	case <-f.Done():
		return f.Join()
	case <-ctx.Done():
		f.Then(func(s *Section, err error) {
			if s != nil {
				_, _ = s.Release()
			}
		})
		return nil, ctx.Err()
	}
}

// waitChunk ждёт Future; при отмене ctx результат освобождается после завершения
func waitChunk(ctx context.Context, f *async.Future[*Chunk]) (*Chunk, error) {
	select {
	case <-f.Done():
		return f.Join()
	case <-ctx.Done():
		f.Then(func(c *Chunk, err error) {
			if c != nil {
				_, _ = c.Release()
			}
		})
		return nil, ctx.Err()
	}
}

// LoadedChunks перебирает чанки в кэше. Каждый чанк удержан на время yield;
// чтобы сохранить его дольше, вызовите Retain.
func (m *Manager) LoadedChunks() iter.Seq[*Chunk] {
	return func(yield func(*Chunk) bool) {
		m.mu.RLock()
		snapshot := make([]*Chunk, 0, len(m.chunks))
		for _, c := range m.chunks {
			if c.ref.retain() == nil {
				snapshot = append(snapshot, c)
			}
		}
		m.mu.RUnlock()
		yieldRetained(snapshot, yield)
	}
}

// LoadedSections перебирает секции в кэше
func (m *Manager) LoadedSections() iter.Seq[*Section] {
	return func(yield func(*Section) bool) {
		m.mu.RLock()
		snapshot := make([]*Section, 0, len(m.sections))
		for _, s := range m.sections {
			if _, err := s.Retain(); err == nil {
				snapshot = append(snapshot, s)
			}
		}
		m.mu.RUnlock()
		yieldRetained(snapshot, yield)
	}
}

// LoadedSectionsOf перебирает секции чанка. Чанк должен находиться в кэше
// этого менеджера, иначе возвращается ErrInvalidArgument.
func (m *Manager) LoadedSectionsOf(c *Chunk) (iter.Seq[*Section], error) {
	m.mu.RLock()
	owned := c != nil && m.chunks[c.pos] == c
	m.mu.RUnlock()
	if !owned {
		return nil, fmt.Errorf("%w: чанк не принадлежит менеджеру %s", ErrInvalidArgument, m.id)
	}

	return func(yield func(*Section) bool) {
		var snapshot []*Section
		for _, s := range c.Sections() {
			if s == nil {
				continue
			}
			if _, err := s.Retain(); err == nil {
				snapshot = append(snapshot, s)
			}
		}
		yieldRetained(snapshot, yield)
	}, nil
}

type releaser interface {
	Release() (bool, error)
}

func yieldRetained[T releaser](items []T, yield func(T) bool) {
	for i, it := range items {
		ok := yield(it)
		_, _ = it.Release()
		if !ok {
			for _, rest := range items[i+1:] {
				_, _ = rest.Release()
			}
			return
		}
	}
}

// GC вытесняет записи кэша. full=true вытесняет всё (изменённые чанки
// предварительно сохраняются). full=false вытесняет записи, на которые
// ссылается только кэш и к которым не обращались дольше IdleTTL.
// Вытеснение снимает ссылку кэша; объект освобождается, когда
// отпущена последняя ссылка.
func (m *Manager) GC(ctx context.Context, full bool) (int, error) {
	if m.ref.released() {
		return 0, ErrAlreadyReleased
	}
	return m.gc(ctx, full)
}

func (m *Manager) gc(ctx context.Context, full bool) (int, error) {
	cutoff := time.Now().Add(-m.world.opts.IdleTTL)
	idle := func(c *Chunk) bool {
		return full || (c.RefCnt() == 1 && c.idleSince().Before(cutoff))
	}

	var dirty []*Chunk
	m.mu.RLock()
	for _, c := range m.chunks {
		if c.Dirty() && idle(c) && c.ref.retain() == nil {
			dirty = append(dirty, c)
		}
	}
	m.mu.RUnlock()

	var saveErr error
	if len(dirty) > 0 {
		saveErr = m.world.storage.SaveChunks(ctx, dirty...)
		for _, c := range dirty {
			_, _ = c.Release()
		}
		if saveErr != nil {
			logging.Error("GC: сохранение %d чанков: %v", len(dirty), saveErr)
		}
	}

	var evictedChunks []*Chunk
	var evictedSections []*Section

	m.mu.Lock()
	if full {
		for _, s := range m.sections {
			evictedSections = append(evictedSections, s)
		}
		for _, c := range m.chunks {
			evictedChunks = append(evictedChunks, c)
		}
		m.sections = make(map[vec.Vec3]*Section)
		m.chunks = make(map[vec.Vec2]*Chunk)
	} else {
		busy := make(map[vec.Vec2]bool)
		for key, s := range m.sections {
			owner := m.chunks[key.Column()]
			held := int32(1)
			if owner != nil && owner.Section(key.Y) == s {
				held = 2
			}
			if s.RefCnt() <= held && s.idleSince().Before(cutoff) {
				delete(m.sections, key)
				evictedSections = append(evictedSections, s)
				continue
			}
			busy[key.Column()] = true
		}
		for key, c := range m.chunks {
			if busy[key] || c.Dirty() || !idle(c) {
				continue
			}
			delete(m.chunks, key)
			evictedChunks = append(evictedChunks, c)
		}
	}
	m.updateResidentLocked()
	m.mu.Unlock()

	for _, s := range evictedSections {
		s.drop()
	}
	for _, c := range evictedChunks {
		_, _ = c.Release()
	}

	name := m.world.opts.Name
	cacheEvictions.WithLabelValues(name, kindSection).Add(float64(len(evictedSections)))
	cacheEvictions.WithLabelValues(name, kindChunk).Add(float64(len(evictedChunks)))
	if n := len(evictedChunks) + len(evictedSections); n > 0 {
		logging.Debug("GC(full=%v): вытеснено чанков %d, секций %d", full, len(evictedChunks), len(evictedSections))
	}
	return len(evictedChunks) + len(evictedSections), saveErr
}

// evictChunk убирает чанк и его секции из кэша, если там лежит именно c
func (m *Manager) evictChunk(c *Chunk) bool {
	return m.evictChunkIf(c, nil)
}

// evictChunkIf как evictChunk, но сначала проверяет cond под блокировкой кэша
func (m *Manager) evictChunkIf(c *Chunk, cond func() bool) bool {
	m.mu.Lock()
	if m.chunks[c.pos] != c || (cond != nil && !cond()) {
		m.mu.Unlock()
		return false
	}
	delete(m.chunks, c.pos)
	var sections []*Section
	for y := 0; y < ChunkSections; y++ {
		key := vec.Vec3{X: c.pos.X, Y: y, Z: c.pos.Z}
		if s := m.sections[key]; s != nil {
			delete(m.sections, key)
			sections = append(sections, s)
		}
	}
	m.updateResidentLocked()
	m.mu.Unlock()

	for _, s := range sections {
		s.drop()
	}
	_, _ = c.Release()
	name := m.world.opts.Name
	cacheEvictions.WithLabelValues(name, kindChunk).Inc()
	cacheEvictions.WithLabelValues(name, kindSection).Add(float64(len(sections)))
	return true
}

// handleInvalidation вытесняет копию чанка, изменённого другим узлом,
// если на неё никто не ссылается и в ней нет несохранённых изменений
func (m *Manager) handleInvalidation(key string) error {
	pos, err := ParseChunkKey(key)
	if err != nil {
		return nil
	}

	m.mu.RLock()
	c := m.chunks[pos]
	m.mu.RUnlock()
	if c == nil {
		return nil
	}
	if m.evictChunkIf(c, func() bool { return m.onlyCachedLocked(c) }) {
		logging.Debug("Менеджер %s: чанк %s вытеснен по инвалидации", m.id, pos)
	}
	return nil
}

// onlyCachedLocked сообщает, что на чанк и его секции ссылается только кэш
// и в чанке нет несохранённых изменений. Вызывается под m.mu: новые ссылки
// на такой чанк выдаются только под этой блокировкой.
func (m *Manager) onlyCachedLocked(c *Chunk) bool {
	if c.RefCnt() != 1 || c.Dirty() {
		return false
	}
	for y := 0; y < ChunkSections; y++ {
		// кэш и чанк-владелец
		if s := m.sections[vec.Vec3{X: c.pos.X, Y: y, Z: c.pos.Z}]; s != nil && s.RefCnt() > 2 {
			return false
		}
	}
	return true
}
