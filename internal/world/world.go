package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-world/internal/async"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/world/block"
)

// Options - параметры сохранения мира
type Options struct {
	// Name - имя мира (измерения), используется в логах и метках метрик
	Name string
	// Layers - количество слоёв блоков (1..16)
	Layers int
	// SkyLight - есть ли у мира небо
	SkyLight bool
	// Seed - зерно генератора
	Seed int64
	// Generate - генерировать ли отсутствующие чанки при загрузке через менеджер
	Generate bool
	// Generator - генератор ландшафта; может быть nil
	Generator Generator
	// GeneratorOptions передаются в Generator.Init
	GeneratorOptions map[string]string
	// SectionFactory создаёт новые секции; по умолчанию NewSection
	SectionFactory func(owner *Chunk, y int) (*Section, error)
	// IdleTTL - сколько запись кэша должна простаивать, чтобы GC(false) её вытеснил
	IdleTTL time.Duration
	// Invalidator - рассылка изменений между узлами; может быть nil
	Invalidator Invalidator
}

// DefaultOptions возвращает параметры обычного мира с небом
func DefaultOptions() Options {
	return Options{
		Name:     "overworld",
		Layers:   DefaultLayers,
		SkyLight: true,
		IdleTTL:  5 * time.Minute,
	}
}

func defaultSectionFactory(owner *Chunk, y int) (*Section, error) {
	return NewSection(owner, y), nil
}

// World - мир (измерение). Доступ к блокам идёт по глобальным координатам
// через кэш менеджера: чтение из отсутствующего чанка возвращает значения
// по умолчанию, запись создаёт чанк.
type World struct {
	blockAccessor

	opts     Options
	registry *block.Registry
	storage  Storage
	manager  *Manager

	// population - доступ к блокам для Generator.Populate, не запускающий
	// заселение соседних чанков
	population *regionAccess

	ctx    context.Context
	cancel context.CancelFunc
	ref    refCounter
}

// New создаёт мир поверх хранилища. Мир удерживает ссылку на хранилище
// и освобождает её при собственном освобождении.
func New(opts Options, st Storage, reg *block.Registry) (*World, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: хранилище не задано", ErrInvalidArgument)
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: реестр блоков не задан", ErrInvalidArgument)
	}
	if opts.Name == "" {
		opts.Name = "overworld"
	}
	if opts.Layers < 1 || opts.Layers > 16 {
		return nil, fmt.Errorf("%w: количество слоёв %d вне диапазона 1..16", ErrInvalidArgument, opts.Layers)
	}
	if opts.SectionFactory == nil {
		opts.SectionFactory = defaultSectionFactory
	}
	if opts.Generator != nil {
		if err := opts.Generator.Init(opts.Seed, opts.GeneratorOptions); err != nil {
			return nil, fmt.Errorf("инициализация генератора: %w", err)
		}
	}
	if _, err := st.Retain(); err != nil {
		return nil, fmt.Errorf("хранилище: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &World{
		opts:     opts,
		registry: reg,
		storage:  st,
		ctx:      ctx,
		cancel:   cancel,
	}
	w.blockAccessor = blockAccessor{s: w}
	w.population = &regionAccess{w: w}
	w.population.blockAccessor = blockAccessor{s: w.population}
	w.manager = newManager(w)
	w.ref.init(w.dispose)

	if err := w.manager.start(); err != nil {
		_, _ = w.Release()
		return nil, err
	}
	logging.Info("Мир %s создан (слоёв: %d, небо: %v, генерация: %v)", opts.Name, opts.Layers, opts.SkyLight, opts.Generate)
	return w, nil
}

func (w *World) dispose() {
	var errs []error
	if _, err := w.manager.Release(); err != nil {
		errs = append(errs, err)
	}
	if _, err := w.storage.Release(); err != nil {
		errs = append(errs, err)
	}
	w.cancel()
	if err := errors.Join(errs...); err != nil {
		logging.Error("Освобождение мира %s: %v", w.opts.Name, err)
	}
	logging.Info("Мир %s закрыт", w.opts.Name)
}

func (w *World) Name() string              { return w.opts.Name }
func (w *World) Options() Options          { return w.opts }
func (w *World) Layers() int               { return w.opts.Layers }
func (w *World) HasSkyLight() bool         { return w.opts.SkyLight }
func (w *World) Registry() *block.Registry { return w.registry }
func (w *World) Storage() Storage          { return w.storage }
func (w *World) Manager() *Manager         { return w.manager }

// Retain увеличивает счётчик ссылок
func (w *World) Retain() (*World, error) {
	if err := w.ref.retain(); err != nil {
		return nil, err
	}
	return w, nil
}

// Release уменьшает счётчик ссылок; при нуле освобождаются менеджер
// и ссылка на хранилище
func (w *World) Release() (bool, error) { return w.ref.release() }

// RefCnt возвращает текущее число ссылок
func (w *World) RefCnt() int32 { return w.ref.refCnt() }

// Chunk возвращает чанк из кэша или незагруженный дескриптор координаты.
// Дескриптор зарегистрирован в менеджере: Load помещает его в кэш, а загрузка
// той же координаты через менеджер заполняет этот же объект.
// Вызывающий владеет ссылкой в обоих случаях.
func (w *World) Chunk(ctx context.Context, x, z int) (*Chunk, error) {
	if c, err := w.manager.GetChunk(x, z); err != nil || c != nil {
		return c, err
	}
	exists, err := w.storage.ChunkExists(ctx, x, z)
	if err != nil {
		return nil, fmt.Errorf("проверка чанка (%d, %d): %w", x, z, err)
	}
	return w.manager.handle(x, z, exists)
}

// Column как Chunk, но в устаревшем представлении столбца
func (w *World) Column(ctx context.Context, x, z int) (*Column, error) {
	c, err := w.Chunk(ctx, x, z)
	if err != nil {
		return nil, err
	}
	return AsColumn(c), nil
}

func (w *World) dirtyChunks() []*Chunk {
	var dirty []*Chunk
	for c := range w.manager.LoadedChunks() {
		if c.Dirty() {
			if _, err := c.Retain(); err == nil {
				dirty = append(dirty, c)
			}
		}
	}
	return dirty
}

// Save сохраняет все изменённые чанки из кэша
func (w *World) Save(ctx context.Context) error {
	dirty := w.dirtyChunks()
	defer func() {
		for _, c := range dirty {
			_, _ = c.Release()
		}
	}()
	if len(dirty) == 0 {
		return nil
	}
	return w.storage.SaveChunks(ctx, dirty...)
}

// SaveAsync ставит изменённые чанки в очередь записи
func (w *World) SaveAsync() *async.Future[struct{}] {
	dirty := w.dirtyChunks()
	f := w.storage.SaveAsync(dirty, nil)
	f.Then(func(struct{}, error) {
		for _, c := range dirty {
			_, _ = c.Release()
		}
	})
	return f
}

// worldResolver находит чанк по глобальным координатам
type worldResolver struct {
	w        *World
	populate bool
}

func (r worldResolver) child(x, y, z int, create bool) (childRef, bool, error) {
	if y < 0 || y >= WorldHeight {
		return childRef{}, false, fmt.Errorf("%w: y=%d вне диапазона 0..%d", ErrInvalidArgument, y, WorldHeight-1)
	}
	if r.w.ref.released() {
		return childRef{}, false, ErrAlreadyReleased
	}

	var c *Chunk
	var err error
	if create {
		c, err = r.w.manager.getOrCreateChunk(r.w.ctx, x>>4, z>>4, r.populate)
	} else {
		c, err = waitChunk(r.w.ctx, r.w.manager.loadChunk(x>>4, z>>4, r.populate))
	}
	if err != nil {
		return childRef{}, false, err
	}
	if c == nil {
		return childRef{}, false, nil
	}
	return childRef{
		store:   c,
		x:       x & 0xF,
		y:       y,
		z:       z & 0xF,
		release: func() { _, _ = c.Release() },
	}, true, nil
}

func (w *World) getRaw(p plane, layer, x, y, z int) (int, error) {
	return delegateGet(worldResolver{w: w, populate: true}, p, p.defaultValue(w.opts.SkyLight), layer, x, y, z)
}

func (w *World) setRaw(p plane, layer, x, y, z, v int) error {
	return delegateSet(worldResolver{w: w, populate: true}, p, p.defaultValue(w.opts.SkyLight), layer, x, y, z, v)
}

// regionAccess - доступ к блокам мира без заселения затронутых чанков
type regionAccess struct {
	blockAccessor
	w *World
}

func (r *regionAccess) Layers() int               { return r.w.opts.Layers }
func (r *regionAccess) HasSkyLight() bool         { return r.w.opts.SkyLight }
func (r *regionAccess) Registry() *block.Registry { return r.w.registry }

func (r *regionAccess) getRaw(p plane, layer, x, y, z int) (int, error) {
	return delegateGet(worldResolver{w: r.w}, p, p.defaultValue(r.w.opts.SkyLight), layer, x, y, z)
}

func (r *regionAccess) setRaw(p plane, layer, x, y, z, v int) error {
	return delegateSet(worldResolver{w: r.w}, p, p.defaultValue(r.w.opts.SkyLight), layer, x, y, z, v)
}
