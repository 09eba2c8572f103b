package block

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifier(t *testing.T) {
	id, err := ParseIdentifier("Stone")
	require.NoError(t, err)
	assert.Equal(t, Stone, id)
	assert.Equal(t, "minecraft", id.Namespace())
	assert.Equal(t, "stone", id.Path())

	id, err = ParseIdentifier("mymod:ore")
	require.NoError(t, err)
	assert.Equal(t, Identifier("mymod:ore"), id)

	for _, bad := range []string{"", ":stone", "minecraft:", "a:b:c"} {
		_, err := ParseIdentifier(bad)
		assert.Error(t, err, bad)
	}
}

func TestRuntimeIDPacking(t *testing.T) {
	assert.Equal(t, 1<<4|3, RuntimeID(1, 3))
	legacy, meta := SplitRuntimeID(RuntimeID(35, 14))
	assert.Equal(t, 35, legacy)
	assert.Equal(t, 14, meta)
}

func TestVanillaRegistry(t *testing.T) {
	r := Vanilla()

	assert.True(t, r.ContainsID(Air))
	assert.True(t, r.ContainsState(0, 0))
	assert.False(t, r.ContainsState(0, 1), "у воздуха только meta 0")

	assert.True(t, r.ContainsState(1, 6))
	assert.False(t, r.ContainsState(1, 7))
	assert.False(t, r.ContainsState(1, 16))

	legacy, ok := r.LegacyID(Dirt)
	require.True(t, ok)
	assert.Equal(t, 3, legacy)

	s, ok := r.State(Wool, 14)
	require.True(t, ok)
	assert.Equal(t, RuntimeID(35, 14), s.RuntimeID())

	_, ok = r.State(Grass, 1)
	assert.False(t, ok)

	s, err := r.StateByRuntimeID(RuntimeID(3, 2))
	require.NoError(t, err)
	assert.Equal(t, Dirt, s.ID)

	_, err = r.StateByRuntimeID(RuntimeID(250, 0))
	assert.True(t, errors.Is(err, ErrUnknownState))
}

func TestRegisterConflicts(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("test:a", 10, 0, 1))
	assert.Error(t, r.Register("test:b", 10))
	assert.Error(t, r.Register("test:a", 11))
	assert.Error(t, r.Register("test:c", MaxLegacyID+1))
	assert.Error(t, r.Register("test:d", 12, 16))
	assert.Equal(t, 2, r.Len())
}
