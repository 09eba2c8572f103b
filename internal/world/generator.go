package world

import (
	"hash/fnv"
	"math/rand"

	"github.com/annel0/voxel-world/internal/vec"
)

// Generator создаёт ландшафт. После Init методы должны быть безопасны
// для одновременного вызова из разных горутин.
type Generator interface {
	// Init вызывается один раз при создании мира
	Init(seed int64, options map[string]string) error
	// Generate заполняет секцию (x, y, z) - координаты чанка и индекс секции
	Generate(rng *rand.Rand, s *Section, x, y, z int) error
	// Populate добавляет объекты, которые могут выходить за пределы секции
	Populate(rng *rand.Rand, access BlockAccess, x, y, z int) error
	// PopulationSections перечисляет секции, которые должны быть
	// сгенерированы до вызова Populate для (x, y, z)
	PopulationSections(x, y, z int) []vec.Vec3
}

// sectionRand возвращает детерминированный генератор для секции
func (w *World) sectionRand(x, y, z int) *rand.Rand {
	h := fnv.New64a()
	var buf [32]byte
	putInt := func(off int, v int64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}
	putInt(0, w.opts.Seed)
	putInt(8, int64(x))
	putInt(16, int64(y))
	putInt(24, int64(z))
	_, _ = h.Write(buf[:])
	return rand.New(rand.NewSource(int64(h.Sum64())))
}
