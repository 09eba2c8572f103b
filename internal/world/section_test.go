package world

import (
	"testing"

	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDetachedSection(t *testing.T, layers int, sky bool) *Section {
	t.Helper()
	s := newSection(nil, 0, layers, sky, block.Vanilla())
	t.Cleanup(func() {
		if s.RefCnt() > 0 {
			_, _ = s.Release()
		}
	})
	return s
}

func TestSectionDefaults(t *testing.T) {
	s := newDetachedSection(t, 2, true)

	state, err := s.GetBlockState(3, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, block.Air, state.ID)

	rid, err := s.GetBlockRuntimeIDLayer(3, 4, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, rid)

	light, err := s.GetBlockLight(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, light)

	sky, err := s.GetSkyLight(15, 15, 15)
	require.NoError(t, err)
	assert.Equal(t, MaxLightLevel, sky)
	assert.True(t, s.IsEmpty())
}

func TestSectionSetAndGet(t *testing.T) {
	s := newDetachedSection(t, 2, true)

	require.NoError(t, s.SetBlockStateID(1, 2, 3, block.Stone, 3))
	state, err := s.GetBlockState(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, block.State{ID: block.Stone, LegacyID: 1, Meta: 3}, state)

	require.NoError(t, s.SetBlockMeta(1, 2, 3, 5))
	meta, err := s.GetBlockMeta(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, meta)
	legacy, err := s.GetBlockLegacyID(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, legacy)

	require.NoError(t, s.SetBlockLight(1, 2, 3, 12))
	light, err := s.GetBlockLight(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 12, light)

	// соседний полубайт не затронут
	light, err = s.GetBlockLight(0, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, light)

	require.NoError(t, s.SetSkyLight(1, 2, 3, 4))
	sky, err := s.GetSkyLight(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, sky)
	assert.False(t, s.IsEmpty())
}

func TestSectionCoordinatesWrap(t *testing.T) {
	s := newDetachedSection(t, 1, false)
	require.NoError(t, s.SetBlockID(17, 33, -1, block.Dirt))
	id, err := s.GetBlockID(1, 1, 15)
	require.NoError(t, err)
	assert.Equal(t, block.Dirt, id)
}

func TestSectionLayersAreLazy(t *testing.T) {
	s := newDetachedSection(t, 3, false)

	// запись воздуха в отсутствующий слой не выделяет его
	require.NoError(t, s.SetBlockIDLayer(0, 0, 0, 2, block.Air))
	assert.Nil(t, s.states[2])

	require.NoError(t, s.SetBlockIDLayer(0, 0, 0, 2, block.Water))
	assert.NotNil(t, s.states[2])
	id, err := s.GetBlockIDLayer(0, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, block.Water, id)

	id, err = s.GetBlockIDLayer(0, 0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, block.Air, id)
}

func TestSectionRejectsInvalidArguments(t *testing.T) {
	s := newDetachedSection(t, 2, false)

	_, err := s.GetBlockStateLayer(0, 0, 0, 2)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.GetBlockIDLayer(0, 0, 0, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.ErrorIs(t, s.SetBlockStateID(0, 0, 0, block.Dirt, 9), ErrInvalidArgument)
	assert.ErrorIs(t, s.SetBlockStateID(0, 0, 0, "minecraft:unknown", 0), ErrInvalidArgument)
	assert.ErrorIs(t, s.SetBlockStateLegacy(0, 0, 0, 6, 0), ErrInvalidArgument)
	assert.ErrorIs(t, s.SetBlockRuntimeID(0, 0, 0, block.RuntimeID(3, 7)), ErrInvalidArgument)
	assert.ErrorIs(t, s.SetBlockState(0, 0, 0, block.State{ID: block.Sand, LegacyID: 1}), ErrInvalidArgument)
	assert.ErrorIs(t, s.SetBlockLight(0, 0, 0, 16), ErrInvalidArgument)

	// мета для воздуха кроме 0 не зарегистрирована
	assert.ErrorIs(t, s.SetBlockMeta(0, 0, 0, 1), ErrInvalidArgument)
}

func TestSectionWithoutSky(t *testing.T) {
	s := newDetachedSection(t, 1, false)

	sky, err := s.GetSkyLight(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, sky)
	assert.ErrorIs(t, s.SetSkyLight(0, 0, 0, 3), ErrUnsupported)
	assert.False(t, s.HasSkyLight())
}

func TestSectionUnknownStoredState(t *testing.T) {
	s := newDetachedSection(t, 1, false)
	require.NoError(t, s.setRaw(planeState, 0, 0, 0, 0, block.RuntimeID(200, 0)))

	_, err := s.GetBlockState(0, 0, 0)
	assert.ErrorIs(t, err, block.ErrUnknownState)
	legacy, err := s.GetBlockLegacyID(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 200, legacy)
}

func TestSectionHighestBlock(t *testing.T) {
	s := newDetachedSection(t, 2, false)
	assert.Equal(t, 0, s.GetHighestBlock(4, 4))

	require.NoError(t, s.SetBlockID(4, 3, 4, block.Stone))
	require.NoError(t, s.SetBlockID(4, 11, 4, block.Glass))
	// второй слой не учитывается
	require.NoError(t, s.SetBlockIDLayer(4, 14, 4, 1, block.Water))
	assert.Equal(t, 11, s.GetHighestBlock(4, 4))
}

func TestSectionBinaryRoundTrip(t *testing.T) {
	src := newDetachedSection(t, 3, true)
	require.NoError(t, src.SetBlockStateID(1, 2, 3, block.Planks, 4))
	require.NoError(t, src.SetBlockIDLayer(5, 6, 7, 2, block.Lava))
	require.NoError(t, src.SetBlockLight(8, 9, 10, 13))
	require.NoError(t, src.SetSkyLight(8, 9, 10, 2))

	data, err := src.MarshalBinary()
	require.NoError(t, err)

	dst := newDetachedSection(t, 3, true)
	require.NoError(t, dst.UnmarshalBinary(data))
	assert.Nil(t, dst.states[1])

	state, err := dst.GetBlockState(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, block.Planks, state.ID)
	assert.Equal(t, 4, state.Meta)
	id, err := dst.GetBlockIDLayer(5, 6, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, block.Lava, id)
	light, err := dst.GetBlockLight(8, 9, 10)
	require.NoError(t, err)
	assert.Equal(t, 13, light)
	sky, err := dst.GetSkyLight(8, 9, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, sky)

	// в мире с одним слоем данные трёх слоёв не помещаются
	narrow := newDetachedSection(t, 1, true)
	assert.ErrorIs(t, narrow.UnmarshalBinary(data), ErrInvalidArgument)
	assert.ErrorIs(t, narrow.UnmarshalBinary(data[:10]), ErrInvalidArgument)
	assert.ErrorIs(t, narrow.UnmarshalBinary([]byte("junk")), ErrInvalidArgument)
}

func TestSectionRelease(t *testing.T) {
	s := newDetachedSection(t, 1, false)
	_, err := s.Retain()
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.RefCnt())

	freed, err := s.Release()
	require.NoError(t, err)
	assert.False(t, freed)
	freed, err = s.Release()
	require.NoError(t, err)
	assert.True(t, freed)

	_, err = s.GetBlockRuntimeID(0, 0, 0)
	assert.ErrorIs(t, err, ErrAlreadyReleased)
	assert.ErrorIs(t, s.SetBlockLight(0, 0, 0, 1), ErrAlreadyReleased)
	_, err = s.Retain()
	assert.ErrorIs(t, err, ErrAlreadyReleased)
	_, err = s.Release()
	assert.ErrorIs(t, err, ErrAlreadyReleased)
}

func TestNibbleArray(t *testing.T) {
	var n nibbleArray
	n.set(0, 15)
	n.set(1, 7)
	assert.Equal(t, 15, n.get(0))
	assert.Equal(t, 7, n.get(1))
	assert.Equal(t, byte(0x7F), n[0])

	n.fill(3)
	assert.Equal(t, 3, n.get(4095))
}

func TestPlaneDefaults(t *testing.T) {
	assert.Equal(t, MaxLightLevel, planeSkyLight.defaultValue(true))
	assert.Equal(t, 0, planeSkyLight.defaultValue(false))
	assert.Equal(t, 0, planeBlockLight.defaultValue(true))
	assert.Equal(t, 0x0FF, index(15, 0, 15))
	assert.Equal(t, 0xFFF, index(15, 15, 15))
}
