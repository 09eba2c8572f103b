package gen

import (
	"testing"

	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGeneratedWorld(t *testing.T, g world.Generator, seed int64, options map[string]string) *world.World {
	t.Helper()
	st := storage.New(storage.NewMemoryKV(), storage.DefaultOptions())
	opts := world.DefaultOptions()
	opts.Seed = seed
	opts.Generate = true
	opts.Generator = g
	opts.GeneratorOptions = options
	w, err := world.New(opts, st, block.Vanilla())
	require.NoError(t, err)
	// мир удерживает собственную ссылку на хранилище
	_, err = st.Release()
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = w.Release() })
	return w
}

func TestNewByName(t *testing.T) {
	g, err := New("")
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = New("Flat")
	require.NoError(t, err)
	assert.IsType(t, &Flat{}, g)

	g, err = New("perlin")
	require.NoError(t, err)
	assert.IsType(t, &Perlin{}, g)

	_, err = New("caves")
	assert.ErrorIs(t, err, world.ErrInvalidArgument)
}

func TestParseFlatLayers(t *testing.T) {
	column, err := parseFlatLayers("minecraft:bedrock, 3*stone ,grass")
	require.NoError(t, err)
	assert.Equal(t, []block.Identifier{block.Bedrock, block.Stone, block.Stone, block.Stone, block.Grass}, column)

	_, err = parseFlatLayers("0*stone")
	assert.ErrorIs(t, err, world.ErrInvalidArgument)
	_, err = parseFlatLayers("x*stone")
	assert.ErrorIs(t, err, world.ErrInvalidArgument)
	_, err = parseFlatLayers("300*stone")
	assert.ErrorIs(t, err, world.ErrInvalidArgument)
}

func TestFlatWorld(t *testing.T) {
	f := NewFlat()
	w := newGeneratedWorld(t, f, 1, map[string]string{"layers": "bedrock,18*stone,dirt,grass"})
	assert.Equal(t, 21, f.Height())

	cases := []struct {
		y  int
		id block.Identifier
	}{
		{0, block.Bedrock},
		{1, block.Stone},
		{18, block.Stone},
		{19, block.Dirt},
		{20, block.Grass},
		{21, block.Air},
	}
	for _, tc := range cases {
		id, err := w.GetBlockID(-40, tc.y, 77)
		require.NoError(t, err)
		assert.Equal(t, tc.id, id, "y=%d", tc.y)
	}

	c, err := w.Manager().GetChunk(-3, 4)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Release()
	assert.Equal(t, 2, c.SectionCount())
	assert.Equal(t, 20, c.GetHighestBlock(5, 5))
}

func TestPerlinInitOptions(t *testing.T) {
	p := NewPerlin()
	require.NoError(t, p.Init(7, map[string]string{"base_height": "30", "noise_scale": "0.02"}))
	assert.Equal(t, 30, p.Options().BaseHeight)
	assert.InDelta(t, 0.02, p.Options().NoiseScale, 1e-9)

	assert.ErrorIs(t, p.Init(7, map[string]string{"amplitude": "abc"}), world.ErrInvalidArgument)
	assert.ErrorIs(t, p.Init(7, map[string]string{"base_height": "250"}), world.ErrInvalidArgument)
}

func TestPerlinIsDeterministic(t *testing.T) {
	a := NewPerlin()
	b := NewPerlin()
	require.NoError(t, a.Init(1234, nil))
	require.NoError(t, b.Init(1234, nil))
	for x := -64; x < 64; x += 7 {
		for z := -64; z < 64; z += 5 {
			assert.Equal(t, a.SurfaceHeight(x, z), b.SurfaceHeight(x, z))
			assert.Equal(t, a.Biome(x, z), b.Biome(x, z))
		}
	}
}

func TestPerlinWorld(t *testing.T) {
	p := NewPerlin()
	w := newGeneratedWorld(t, p, 99, nil)

	for _, pos := range [][2]int{{0, 0}, {15, 15}, {-20, 3}} {
		x, z := pos[0], pos[1]
		id, err := w.GetBlockID(x, 0, z)
		require.NoError(t, err)
		assert.Equal(t, block.Bedrock, id)

		surface := p.SurfaceHeight(x, z)
		id, err = w.GetBlockID(x, surface, z)
		require.NoError(t, err)
		assert.NotEqual(t, block.Air, id, "поверхность (%d, %d, %d)", x, surface, z)

		// глубоко под поверхностью только камень или руда
		id, err = w.GetBlockID(x, surface-6, z)
		require.NoError(t, err)
		assert.Contains(t, []block.Identifier{block.Stone, block.CoalOre, block.IronOre, block.GoldOre}, id)
	}

	c, err := w.Manager().GetChunk(0, 0)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Release()
	assert.True(t, c.Populated())
	// соседи сгенерированы для заселения, но сами не заселены
	n, err := w.Manager().GetChunk(1, 1)
	require.NoError(t, err)
	require.NotNil(t, n)
	defer n.Release()
	assert.False(t, n.Populated())
}

func TestBiomeThresholds(t *testing.T) {
	assert.Equal(t, BiomeDeepWater, biomeFor(0.1, 0.5))
	assert.Equal(t, BiomeWater, biomeFor(0.25, 0.5))
	assert.Equal(t, BiomeMountains, biomeFor(0.9, 0.5))
	assert.Equal(t, BiomeDesert, biomeFor(0.5, 0.2))
	assert.Equal(t, BiomeForest, biomeFor(0.5, 0.8))
	assert.Equal(t, BiomePlains, biomeFor(0.5, 0.5))
	assert.Equal(t, "forest", BiomeForest.String())
}
