package gen

import (
	"github.com/aquilax/go-perlin"
)

// noise - двумерный шум Перлина в диапазоне 0..1.
// После создания только читается, поэтому безопасен для параллельных вызовов.
type noise struct {
	p     *perlin.Perlin
	scale float64
}

func newNoise(seed int64, scale float64) *noise {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &noise{p: perlin.NewPerlin(alpha, beta, n, seed), scale: scale}
}

// at возвращает значение шума для мировых координат x, z
func (n *noise) at(x, z int) float64 {
	v := n.p.Noise2D(float64(x)*n.scale, float64(z)*n.scale)
	// из -1..1 в 0..1
	v = (v + 1.0) / 2.0
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
