package world

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// Chunk представляет вертикальный столбец из 16 секций в точке (x, z).
// Секции создаются лениво: при загрузке или при первой записи
// значения, отличного от значения по умолчанию.
//
// Координаты x и z в методах доступа к блокам берутся по модулю 16,
// y должен лежать в диапазоне 0..255.
type Chunk struct {
	blockAccessor

	world *World
	pos   vec.Vec2

	mu       sync.RWMutex
	sections [ChunkSections]*Section
	tiles    map[vec.Vec3]TileEntity
	loaded   bool

	exists    atomic.Bool // есть ли чанк в хранилище
	dirty     atomic.Bool
	populated atomic.Bool
	tracked   atomic.Bool // зарегистрирован как живой чанк координаты
	popMu     sync.Mutex

	ref        refCounter
	lastAccess atomic.Int64
}

func newChunk(w *World, x, z int) *Chunk {
	c := &Chunk{
		world: w,
		pos:   vec.Vec2{X: x, Z: z},
		tiles: make(map[vec.Vec3]TileEntity),
	}
	c.blockAccessor = blockAccessor{s: c}
	c.ref.init(c.dispose)
	c.touch()
	return c
}

func (c *Chunk) dispose() {
	c.world.manager.forget(c)
	if c.tracked.Load() && c.Dirty() && c.Loaded() {
		// последний держатель вытесненного чанка: снимок уходит в очередь записи
		c.world.storage.SaveAsync([]*Chunk{c}, nil).Then(func(_ struct{}, err error) {
			if err != nil {
				logging.Error("Сохранение освобождённого чанка %s: %v", c.pos, err)
			}
		})
	}
	c.mu.Lock()
	sections := c.dropSectionsLocked()
	c.loaded = false
	c.mu.Unlock()
	for _, s := range sections {
		if s != nil {
			s.drop()
		}
	}
}

func (c *Chunk) dropSectionsLocked() [ChunkSections]*Section {
	sections := c.sections
	c.sections = [ChunkSections]*Section{}
	c.tiles = make(map[vec.Vec3]TileEntity)
	return sections
}


// World возвращает мир-владелец
func (c *Chunk) World() *World { return c.world }

// Pos возвращает координаты чанка
func (c *Chunk) Pos() vec.Vec2 { return c.pos }

func (c *Chunk) X() int { return c.pos.X }
func (c *Chunk) Z() int { return c.pos.Z }

func (c *Chunk) Layers() int               { return c.world.opts.Layers }
func (c *Chunk) HasSkyLight() bool         { return c.world.opts.SkyLight }
func (c *Chunk) Registry() *block.Registry { return c.world.registry }

// Exists сообщает, есть ли чанк в хранилище
func (c *Chunk) Exists() bool { return c.exists.Load() }

// Loaded сообщает, загружен ли чанк
func (c *Chunk) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Chunk) Dirty() bool { return c.dirty.Load() }
func (c *Chunk) MarkDirty()  { c.dirty.Store(true) }

// ClearDirty снимает флаг изменений и возвращает его прежнее значение.
// Используется хранилищем в момент снятия снимка для сохранения.
func (c *Chunk) ClearDirty() bool { return c.dirty.Swap(false) }

// MarkSaved отмечает, что чанк присутствует в хранилище
func (c *Chunk) MarkSaved() { c.exists.Store(true) }

// Populated сообщает, выполнено ли заселение (population) чанка
func (c *Chunk) Populated() bool { return c.populated.Load() }

// Retain увеличивает счётчик ссылок
func (c *Chunk) Retain() (*Chunk, error) {
	if err := c.ref.retain(); err != nil {
		return nil, err
	}
	return c, nil
}

// Release уменьшает счётчик ссылок; при нуле секции освобождаются
func (c *Chunk) Release() (bool, error) { return c.ref.release() }

// RefCnt возвращает текущее число ссылок
func (c *Chunk) RefCnt() int32 { return c.ref.refCnt() }

func (c *Chunk) touch() { c.lastAccess.Store(time.Now().UnixNano()) }

func (c *Chunk) idleSince() time.Time { return time.Unix(0, c.lastAccess.Load()) }

// Section возвращает секцию с индексом y (0..15) или nil.
// Ссылка не увеличивается: секция живёт, пока загружен чанк.
func (c *Chunk) Section(y int) *Section {
	if y < 0 || y >= ChunkSections {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sections[y]
}

// SectionCount возвращает количество присутствующих секций
func (c *Chunk) SectionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.sections {
		if s != nil {
			n++
		}
	}
	return n
}

// Sections возвращает копию массива секций
func (c *Chunk) Sections() [ChunkSections]*Section {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sections
}

func (c *Chunk) child(x, y, z int, create bool) (childRef, bool, error) {
	if y < 0 || y >= WorldHeight {
		return childRef{}, false, fmt.Errorf("%w: y=%d вне диапазона 0..%d", ErrInvalidArgument, y, WorldHeight-1)
	}
	if c.ref.released() {
		return childRef{}, false, ErrAlreadyReleased
	}
	idx := y >> 4

	if !create {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if !c.loaded {
			return childRef{}, false, ErrNotLoaded
		}
		s := c.sections[idx]
		if s == nil {
			return childRef{}, false, nil
		}
		return childRef{store: s, x: x & 0xF, y: y & 0xF, z: z & 0xF}, true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return childRef{}, false, ErrNotLoaded
	}
	s := c.sections[idx]
	if s == nil {
		var err error
		if s, err = c.world.opts.SectionFactory(c, idx); err != nil {
			return childRef{}, false, fmt.Errorf("создание секции %d чанка %s: %w", idx, c.pos, err)
		}
		c.sections[idx] = s
	}
	return childRef{store: s, x: x & 0xF, y: y & 0xF, z: z & 0xF}, true, nil
}

func (c *Chunk) getRaw(p plane, layer, x, y, z int) (int, error) {
	c.touch()
	return delegateGet(c, p, p.defaultValue(c.HasSkyLight()), layer, x, y, z)
}

func (c *Chunk) setRaw(p plane, layer, x, y, z, v int) error {
	c.touch()
	return delegateSet(c, p, p.defaultValue(c.HasSkyLight()), layer, x, y, z, v)
}

// GetHighestBlock возвращает наибольший y с ненулевым блоком в столбце x,z.
// Для незагруженного чанка возвращает -1, для пустого столбца 0.
func (c *Chunk) GetHighestBlock(x, z int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return -1
	}
	for idx := ChunkSections - 1; idx >= 0; idx-- {
		s := c.sections[idx]
		if s == nil {
			continue
		}
		if y, ok := s.highestBlock(x&0xF, z&0xF); ok {
			return idx<<4 | y
		}
	}
	return 0
}

// Load загружает чанк из хранилища или генерирует его и помещает в кэш
// менеджера мира. Если чанка нет в хранилище и generate == false,
// возвращает false и ничего не меняет.
func (c *Chunk) Load(ctx context.Context, generate bool) (bool, error) {
	if c.Loaded() {
		return true, nil
	}
	ok, err := c.load(ctx, generate)
	if ok && err == nil {
		c.world.manager.adopt(c)
	}
	return ok, err
}

func (c *Chunk) load(ctx context.Context, generate bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ref.released() {
		return false, ErrAlreadyReleased
	}
	if c.loaded {
		return true, nil
	}
	if !c.exists.Load() && !generate {
		return false, nil
	}

	if c.exists.Load() {
		stored, err := c.world.storage.LoadChunk(ctx, c.world, c.pos.X, c.pos.Z)
		if err != nil {
			return false, fmt.Errorf("загрузка чанка %s: %w", c.pos, err)
		}
		if stored != nil {
			c.absorbLocked(stored)
			c.loaded = true
			return true, nil
		}
		c.exists.Store(false)
		if !generate {
			return false, nil
		}
	}

	if err := c.generateLocked(); err != nil {
		return false, err
	}
	c.loaded = true
	c.dirty.Store(true)
	return true, nil
}

// absorb переносит в незагруженный чанк данные загруженного src.
// Возвращает false, если c уже загружен; src в этом случае не трогается.
func (c *Chunk) absorb(src *Chunk) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return false
	}
	c.absorbLocked(src)
	c.loaded = true
	return true
}

// initEmpty делает незагруженный чанк пустым загруженным
func (c *Chunk) initEmpty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.loaded = true
		c.populated.Store(true)
	}
}

// absorbLocked забирает секции, тайл-сущности и флаги у только что
// декодированного или сгенерированного чанка
func (c *Chunk) absorbLocked(src *Chunk) {
	src.mu.Lock()
	for i, s := range src.sections {
		if s != nil {
			s.chunk.Store(c)
		}
		c.sections[i] = s
		src.sections[i] = nil
	}
	c.tiles = src.tiles
	src.tiles = make(map[vec.Vec3]TileEntity)
	src.mu.Unlock()

	c.populated.Store(src.populated.Load())
	c.exists.Store(src.exists.Load())
	c.dirty.Store(src.dirty.Load())
	_, _ = src.Release()
}

// generateLocked заполняет секции генератором мира.
// Пустые секции после генерации не сохраняются.
func (c *Chunk) generateLocked() error {
	gen := c.world.opts.Generator
	if gen == nil {
		return nil
	}

	start := time.Now()
	for idx := 0; idx < ChunkSections; idx++ {
		s, err := c.world.opts.SectionFactory(c, idx)
		if err != nil {
			return fmt.Errorf("создание секции %d чанка %s: %w", idx, c.pos, err)
		}
		rng := c.world.sectionRand(c.pos.X, idx, c.pos.Z)
		if err := gen.Generate(rng, s, c.pos.X, idx, c.pos.Z); err != nil {
			s.drop()
			for i, prev := range c.sections {
				if prev != nil {
					prev.drop()
					c.sections[i] = nil
				}
			}
			return fmt.Errorf("генерация секции %d чанка %s: %w", idx, c.pos, err)
		}
		if s.IsEmpty() {
			s.drop()
			continue
		}
		c.sections[idx] = s
	}
	generateDuration.WithLabelValues(c.world.opts.Name).Observe(time.Since(start).Seconds())
	logging.Trace("Чанк %s сгенерирован за %s", c.pos, time.Since(start))
	return nil
}

// Unload выгружает секции и убирает чанк из кэша менеджера.
// Несохранённые изменения теряются. Удержанные секции выгруженного чанка
// отвечают ErrNotLoaded.
func (c *Chunk) Unload() {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return
	}
	sections := c.dropSectionsLocked()
	for _, s := range sections {
		if s != nil {
			s.orphaned.Store(true)
		}
	}
	c.loaded = false
	c.dirty.Store(false)
	c.populated.Store(false)
	c.mu.Unlock()

	c.world.manager.evictChunk(c)
	for _, s := range sections {
		if s != nil {
			s.drop()
		}
	}
}

// Save сохраняет чанк, если он изменён
func (c *Chunk) Save(ctx context.Context) error {
	return c.world.storage.SaveChunks(ctx, c)
}

// Close выгружает чанк, если он загружен. Повторный вызов ничего не делает.
func (c *Chunk) Close() error {
	c.Unload()
	return nil
}
