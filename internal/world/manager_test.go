package world_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/voxel-world/internal/async"
	"github.com/annel0/voxel-world/internal/cache"
	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// controlledKV считает чтения заголовков чанков, может задерживать их
// до закрытия gate и отказывать в записи
type controlledKV struct {
	*storage.MemoryKV
	gate       chan struct{}
	headerGets atomic.Int32
	failWrites atomic.Bool
}

func (k *controlledKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if strings.HasPrefix(key, "chunk:") {
		k.headerGets.Add(1)
		if k.gate != nil {
			<-k.gate
		}
	}
	return k.MemoryKV.Get(ctx, key)
}

func (k *controlledKV) Write(ctx context.Context, batch []storage.Mutation) error {
	if k.failWrites.Load() {
		return errors.New("запись отключена")
	}
	return k.MemoryKV.Write(ctx, batch)
}

func newControlledFixture(t *testing.T) (*fixture, *controlledKV) {
	t.Helper()
	kv := &controlledKV{MemoryKV: storage.NewMemoryKV()}
	st := storage.New(kv, storage.DefaultOptions())
	t.Cleanup(func() { _, _ = st.Release() })
	return &fixture{kv: kv.MemoryKV, st: st}, kv
}

func TestGetOrLoadChunkSharesCachedObject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.DefaultOptions())
	writer := f.world(t, nil)
	require.NoError(t, writer.SetBlockID(1, 1, 1, block.Stone))
	require.NoError(t, writer.Save(ctx))

	m := f.world(t, nil).Manager()
	c, err := m.GetOrLoadChunk(ctx, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, c)
	// кэш и вызывающий
	assert.Equal(t, int32(2), c.RefCnt())

	again, err := m.GetChunk(0, 0)
	require.NoError(t, err)
	assert.Same(t, c, again)
	assert.Equal(t, int32(3), c.RefCnt())

	_, err = again.Release()
	require.NoError(t, err)
	_, err = c.Release()
	require.NoError(t, err)
	assert.Equal(t, int32(1), c.RefCnt())
	assert.Equal(t, 1, m.Stats().Chunks)
	assert.True(t, c.Loaded())

	id, err := c.GetBlockID(1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, block.Stone, id)
}

func TestCacheMissesReturnNil(t *testing.T) {
	ctx := context.Background()
	f, kv := newControlledFixture(t)
	m := f.world(t, nil).Manager()

	c, err := m.GetChunk(4, 4)
	require.NoError(t, err)
	assert.Nil(t, c)
	s, err := m.GetSection(4, 0, 4)
	require.NoError(t, err)
	assert.Nil(t, s)
	// промах кэша не обращается к хранилищу
	assert.Equal(t, int32(0), kv.headerGets.Load())

	_, err = m.GetSection(0, world.ChunkSections, 0)
	assert.ErrorIs(t, err, world.ErrInvalidArgument)

	// без генерации отсутствующий чанк не создаётся
	c, err = m.GetOrLoadChunk(ctx, 4, 4)
	require.NoError(t, err)
	assert.Nil(t, c)
	s, err = m.GetOrLoadSection(ctx, 4, 0, 4)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, 0, m.Stats().Chunks)
}

func TestLoadedSectionsOfRejectsForeignChunk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.DefaultOptions())
	a := f.world(t, nil)
	b := f.world(t, nil)
	require.NoError(t, a.SetBlockID(0, 0, 0, block.Stone))
	require.NoError(t, a.SetBlockID(0, 40, 0, block.Stone))

	c, err := a.Manager().GetChunk(0, 0)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Release()

	_, err = b.Manager().LoadedSectionsOf(c)
	assert.ErrorIs(t, err, world.ErrInvalidArgument)
	_, err = a.Manager().LoadedSectionsOf(nil)
	assert.ErrorIs(t, err, world.ErrInvalidArgument)

	h, err := a.Chunk(ctx, 9, 9)
	require.NoError(t, err)
	defer h.Release()
	_, err = a.Manager().LoadedSectionsOf(h)
	assert.ErrorIs(t, err, world.ErrInvalidArgument)

	seq, err := a.Manager().LoadedSectionsOf(c)
	require.NoError(t, err)
	var ys []int
	for s := range seq {
		ys = append(ys, s.Y())
		// удержана на время yield: кэш чанка не считается
		assert.GreaterOrEqual(t, s.RefCnt(), int32(2))
	}
	assert.ElementsMatch(t, []int{0, 2}, ys)
}

func TestGCSkipsHeldAndUnsavedEntries(t *testing.T) {
	ctx := context.Background()
	f, kv := newControlledFixture(t)
	w := f.world(t, func(o *world.Options) { o.IdleTTL = time.Nanosecond })
	m := w.Manager()

	for x := 0; x < 4; x++ {
		require.NoError(t, w.SetBlockID(x*16, 0, 0, block.Stone))
	}
	require.NoError(t, w.Save(ctx))

	held, err := m.GetChunk(0, 0)
	require.NoError(t, err)
	defer held.Release()
	section, err := m.GetSection(1, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, section)
	defer section.Release()

	// изменение, которое не удастся сохранить
	kv.failWrites.Store(true)
	require.NoError(t, w.SetBlockID(2*16, 1, 0, block.Glass))
	time.Sleep(2 * time.Millisecond)

	n, err := m.GC(ctx, false)
	assert.Error(t, err)
	assert.Equal(t, 1, n) // только чанк (3, 0)

	stats := m.Stats()
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 1, stats.Sections)
	dirty, err := m.GetChunk(2, 0)
	require.NoError(t, err)
	require.NotNil(t, dirty)
	assert.True(t, dirty.Dirty())
	_, _ = dirty.Release()
	gone, err := m.GetChunk(3, 0)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// после восстановления записи GC(true) сохраняет и вытесняет всё
	kv.failWrites.Store(false)
	n, err = m.GC(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, world.ManagerStats{}, m.Stats())

	// удержанные объекты не освобождены
	assert.True(t, held.Loaded())
	id, err := section.GetBlockID(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, block.Stone, id)

	reader := f.world(t, nil)
	id, err = reader.GetBlockID(2*16, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, block.Glass, id)
}

func TestConcurrentLoadsShareOneRead(t *testing.T) {
	ctx := context.Background()
	f, kv := newControlledFixture(t)
	writer := f.world(t, nil)
	require.NoError(t, writer.SetBlockID(0, 0, 0, block.Stone))
	require.NoError(t, writer.Save(ctx))

	m := f.world(t, nil).Manager()
	kv.gate = make(chan struct{})
	kv.headerGets.Store(0)

	const waiters = 6
	futures := make([]*async.Future[*world.Chunk], 0, waiters)
	for i := 0; i < waiters; i++ {
		futures = append(futures, m.LoadChunk(0, 0))
	}
	assert.Equal(t, 1, m.Stats().Pending)
	close(kv.gate)

	var first *world.Chunk
	for _, fut := range futures {
		c, err := fut.Join()
		require.NoError(t, err)
		require.NotNil(t, c)
		if first == nil {
			first = c
		}
		assert.Same(t, first, c)
	}
	assert.Equal(t, int32(1), kv.headerGets.Load())
	assert.Equal(t, int32(waiters+1), first.RefCnt())
	assert.Equal(t, 0, m.Stats().Pending)

	for i := 0; i < waiters; i++ {
		_, err := first.Release()
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), first.RefCnt())
}

func TestRetainAfterDisposal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.DefaultOptions())
	w := f.world(t, nil)
	m := w.Manager()
	require.NoError(t, w.SetBlockID(0, 0, 0, block.Stone))

	c, err := m.GetChunk(0, 0)
	require.NoError(t, err)
	s, err := m.GetSection(0, 0, 0)
	require.NoError(t, err)
	_, err = m.GC(ctx, true)
	require.NoError(t, err)

	_, err = s.Release()
	require.NoError(t, err)
	freed, err := c.Release()
	require.NoError(t, err)
	assert.True(t, freed)

	_, err = c.Retain()
	assert.ErrorIs(t, err, world.ErrAlreadyReleased)
	_, err = c.Release()
	assert.ErrorIs(t, err, world.ErrAlreadyReleased)
	_, err = s.Retain()
	assert.ErrorIs(t, err, world.ErrAlreadyReleased)
	_, err = s.Release()
	assert.ErrorIs(t, err, world.ErrAlreadyReleased)
	_, err = s.GetBlockID(0, 0, 0)
	assert.ErrorIs(t, err, world.ErrAlreadyReleased)

	_, err = w.Release()
	require.NoError(t, err)
	_, err = m.Retain()
	assert.ErrorIs(t, err, world.ErrAlreadyReleased)
	_, err = m.GetChunk(0, 0)
	assert.ErrorIs(t, err, world.ErrAlreadyReleased)
	_, err = m.GC(ctx, false)
	assert.ErrorIs(t, err, world.ErrAlreadyReleased)
}

func TestChunkHandleJoinsCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.DefaultOptions())
	w := f.world(t, nil)

	h, err := w.Chunk(ctx, 0, 0)
	require.NoError(t, err)
	defer h.Release()
	ok, err := h.Load(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h.SetBlockID(1, 1, 1, block.Stone))

	// запись через дескриптор видна миру, копия одна
	id, err := w.GetBlockID(1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, block.Stone, id)
	cached, err := w.Manager().GetChunk(0, 0)
	require.NoError(t, err)
	assert.Same(t, h, cached)
	_, _ = cached.Release()
	again, err := w.Chunk(ctx, 0, 0)
	require.NoError(t, err)
	assert.Same(t, h, again)
	_, _ = again.Release()

	require.NoError(t, w.SetBlockID(2, 2, 2, block.Sand))
	require.NoError(t, w.Save(ctx))

	reader := f.world(t, nil)
	id, err = reader.GetBlockID(1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, block.Stone, id)
	id, err = reader.GetBlockID(2, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, block.Sand, id)
}

func TestWorldWriteLoadsOutstandingHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.DefaultOptions())
	w := f.world(t, nil)

	h, err := w.Chunk(ctx, 3, 3)
	require.NoError(t, err)
	defer h.Release()
	require.False(t, h.Loaded())

	require.NoError(t, w.SetBlockID(3*16, 5, 3*16, block.Log))
	assert.True(t, h.Loaded())
	id, err := h.GetBlockID(0, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, block.Log, id)
	assert.Equal(t, 1, w.Manager().Stats().Chunks)
}

func TestHeldSectionSurvivesFullGC(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.DefaultOptions())
	w := f.world(t, nil)
	m := w.Manager()
	require.NoError(t, w.SetBlockID(0, 0, 0, block.Stone))

	s, err := m.GetOrLoadSection(ctx, 0, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, s)
	defer s.Release()

	_, err = m.GC(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Stats().Chunks)

	require.NoError(t, s.SetBlockID(5, 5, 5, block.Glass))
	assert.True(t, s.Dirty())
	// вытесненный, но удерживаемый чанк возвращается в кэш
	id, err := w.GetBlockID(5, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, block.Glass, id)
	assert.Equal(t, 1, m.Stats().Chunks)

	require.NoError(t, s.Save(ctx))
	reader := f.world(t, nil)
	id, err = reader.GetBlockID(5, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, block.Glass, id)
}

func TestLastHolderReleasePersistsEvictedChunk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.DefaultOptions())
	w := f.world(t, nil)
	m := w.Manager()
	require.NoError(t, w.SetBlockID(0, 0, 0, block.Stone))

	s, err := m.GetOrLoadSection(ctx, 0, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, s)
	_, err = m.GC(ctx, true)
	require.NoError(t, err)

	require.NoError(t, s.SetBlockID(7, 7, 7, block.Wool))
	_, err = s.Release()
	require.NoError(t, err)
	require.NoError(t, f.st.Flush(ctx))

	reader := f.world(t, nil)
	id, err := reader.GetBlockID(7, 7, 7)
	require.NoError(t, err)
	assert.Equal(t, block.Wool, id)
}

func TestSectionOfUnloadedChunkRefusesAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.DefaultOptions())
	w := f.world(t, nil)
	m := w.Manager()
	require.NoError(t, w.SetBlockID(0, 0, 0, block.Stone))

	c, err := m.GetChunk(0, 0)
	require.NoError(t, err)
	defer c.Release()
	s, err := m.GetSection(0, 0, 0)
	require.NoError(t, err)
	defer s.Release()

	c.Unload()
	assert.True(t, s.Orphaned())
	assert.ErrorIs(t, s.SetBlockID(1, 1, 1, block.Glass), world.ErrNotLoaded)
	_, err = s.GetBlockID(0, 0, 0)
	assert.ErrorIs(t, err, world.ErrNotLoaded)
	assert.ErrorIs(t, s.Save(ctx), world.ErrNotLoaded)
	assert.ErrorIs(t, f.st.SaveSections(ctx, s), world.ErrNotLoaded)
	assert.Equal(t, world.ManagerStats{}, m.Stats())
}

func TestInvalidationKeepsHeldCopies(t *testing.T) {
	ctx := context.Background()
	inv := cache.NewLocalInvalidator()
	defer inv.Close()
	f := newFixture(t, storage.Options{IOWorkers: 2, Invalidator: inv})

	a := f.world(t, func(o *world.Options) { o.Invalidator = inv })
	b := f.world(t, func(o *world.Options) { o.Invalidator = inv })
	require.NoError(t, a.SetBlockID(0, 0, 0, block.Stone))
	require.NoError(t, a.Save(ctx))

	c, err := b.Manager().GetOrLoadChunk(ctx, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, c)

	require.NoError(t, a.SetBlockID(0, 1, 0, block.Sand))
	require.NoError(t, a.Save(ctx))
	// держатель есть: копия b остаётся в кэше
	assert.Equal(t, 1, b.Manager().Stats().Chunks)
	_, err = c.Release()
	require.NoError(t, err)

	s, err := b.Manager().GetSection(0, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.NoError(t, a.SetBlockID(0, 2, 0, block.Sand))
	require.NoError(t, a.Save(ctx))
	assert.Equal(t, 1, b.Manager().Stats().Chunks)
	_, err = s.Release()
	require.NoError(t, err)

	require.NoError(t, a.SetBlockID(0, 3, 0, block.Sand))
	require.NoError(t, a.Save(ctx))
	assert.Equal(t, 0, b.Manager().Stats().Chunks)
	id, err := b.GetBlockID(0, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, block.Sand, id)
}
