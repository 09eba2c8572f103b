package gen

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

// DefaultFlatLayers - слои плоского мира снизу вверх
const DefaultFlatLayers = "minecraft:bedrock,2*minecraft:dirt,minecraft:grass"

// Flat строит плоский мир из горизонтальных слоёв.
//
// Опция "layers" задаёт слои снизу вверх через запятую, элемент
// "N*id" повторяет блок N раз: "minecraft:bedrock,3*minecraft:stone".
type Flat struct {
	column []block.Identifier // блок для каждого y, начиная с 0
}

var _ world.Generator = (*Flat)(nil)

// NewFlat создаёт генератор; слои задаются в Init
func NewFlat() *Flat { return &Flat{} }

func (f *Flat) Init(_ int64, options map[string]string) error {
	preset := options["layers"]
	if preset == "" {
		preset = DefaultFlatLayers
	}
	column, err := parseFlatLayers(preset)
	if err != nil {
		return err
	}
	f.column = column
	return nil
}

func parseFlatLayers(preset string) ([]block.Identifier, error) {
	var column []block.Identifier
	for _, part := range strings.Split(preset, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		count := 1
		if n, id, ok := strings.Cut(part, "*"); ok {
			c, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil || c < 1 {
				return nil, fmt.Errorf("%w: количество слоёв %q", world.ErrInvalidArgument, n)
			}
			count, part = c, strings.TrimSpace(id)
		}
		id, err := block.ParseIdentifier(part)
		if err != nil {
			return nil, fmt.Errorf("%w: слой %q: %v", world.ErrInvalidArgument, part, err)
		}
		for i := 0; i < count; i++ {
			column = append(column, id)
		}
	}
	if len(column) > world.WorldHeight {
		return nil, fmt.Errorf("%w: %d слоёв больше высоты мира", world.ErrInvalidArgument, len(column))
	}
	return column, nil
}

// Height возвращает высоту столбца плоского мира
func (f *Flat) Height() int { return len(f.column) }

func (f *Flat) Generate(_ *rand.Rand, s *world.Section, _, y, _ int) error {
	base := y << 4
	for ly := 0; ly < 16 && base+ly < len(f.column); ly++ {
		id := f.column[base+ly]
		if id == block.Air {
			continue
		}
		for x := 0; x < 16; x++ {
			for z := 0; z < 16; z++ {
				if err := s.SetBlockID(x, ly, z, id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (f *Flat) Populate(*rand.Rand, world.BlockAccess, int, int, int) error { return nil }

func (f *Flat) PopulationSections(int, int, int) []vec.Vec3 { return nil }
