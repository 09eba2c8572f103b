package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec2ChunkCoords(t *testing.T) {
	v := Vec2{X: -1, Z: 33}
	assert.Equal(t, Vec2{X: -1, Z: 2}, v.ToChunkCoords())
	assert.Equal(t, Vec2{X: 15, Z: 1}, v.LocalInChunk())
}

func TestVec3SectionCoords(t *testing.T) {
	v := Vec3{X: 17, Y: 255, Z: -17}
	assert.Equal(t, Vec3{X: 1, Y: 15, Z: -2}, v.ToSectionCoords())
	assert.Equal(t, Vec3{X: 1, Y: 15, Z: 15}, v.LocalInSection())
	assert.Equal(t, Vec2{X: 17, Z: -17}, v.Column())
}
