package gen

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

// BiomeType представляет тип биома
type BiomeType int

const (
	BiomePlains BiomeType = iota
	BiomeDesert
	BiomeForest
	BiomeMountains
	BiomeWater
	BiomeDeepWater
)

func (b BiomeType) String() string {
	switch b {
	case BiomePlains:
		return "plains"
	case BiomeDesert:
		return "desert"
	case BiomeForest:
		return "forest"
	case BiomeMountains:
		return "mountains"
	case BiomeWater:
		return "water"
	case BiomeDeepWater:
		return "deep_water"
	}
	return "unknown"
}

// Пороги нормализованной высоты (0..1)
const (
	DeepWaterMax    = 0.20 // Ниже - глубинная вода
	ShallowWaterMax = 0.30 // Ниже - мелководье
	MountainStart   = 0.80 // Выше - горы
)

// PerlinOptions - параметры ландшафта; все задаются строками в опциях мира
type PerlinOptions struct {
	NoiseScale    float64 // "noise_scale" - масштаб шума высоты
	BiomeScale    float64 // "biome_scale" - масштаб шума биомов
	BaseHeight    int     // "base_height" - высота при значении шума 0
	Amplitude     int     // "amplitude" - разброс высот
	ForestDensity float64 // "forest_density" - доля деревьев на равнинах
	OreAttempts   int     // "ore_attempts" - попыток руды на секцию
}

// DefaultPerlinOptions возвращает параметры по умолчанию
func DefaultPerlinOptions() PerlinOptions {
	return PerlinOptions{
		NoiseScale:    0.01,
		BiomeScale:    0.005,
		BaseHeight:    40,
		Amplitude:     60,
		ForestDensity: 0.02,
		OreAttempts:   24,
	}
}

// Perlin генерирует ландшафт по карте высот из шума Перлина.
// Заселение добавляет руды в камень и деревья, листва которых может
// выходить в соседние чанки.
type Perlin struct {
	opts   PerlinOptions
	height *noise
	biomes *noise
}

var _ world.Generator = (*Perlin)(nil)

// NewPerlin создаёт генератор; шум создаётся в Init
func NewPerlin() *Perlin {
	return &Perlin{opts: DefaultPerlinOptions()}
}

func (p *Perlin) Init(seed int64, options map[string]string) error {
	opts := DefaultPerlinOptions()
	floats := map[string]*float64{
		"noise_scale":    &opts.NoiseScale,
		"biome_scale":    &opts.BiomeScale,
		"forest_density": &opts.ForestDensity,
	}
	for key, dst := range floats {
		if v, ok := options[key]; ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%w: опция %s=%q", world.ErrInvalidArgument, key, v)
			}
			*dst = f
		}
	}
	ints := map[string]*int{
		"base_height":  &opts.BaseHeight,
		"amplitude":    &opts.Amplitude,
		"ore_attempts": &opts.OreAttempts,
	}
	for key, dst := range ints {
		if v, ok := options[key]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: опция %s=%q", world.ErrInvalidArgument, key, v)
			}
			*dst = n
		}
	}
	if opts.BaseHeight < 1 || opts.BaseHeight+opts.Amplitude >= world.WorldHeight-8 {
		return fmt.Errorf("%w: высота %d+%d не помещается в мир", world.ErrInvalidArgument, opts.BaseHeight, opts.Amplitude)
	}

	p.opts = opts
	p.height = newNoise(seed, opts.NoiseScale)
	p.biomes = newNoise(seed+42, opts.BiomeScale)
	return nil
}

// Options возвращает действующие параметры
func (p *Perlin) Options() PerlinOptions { return p.opts }

// waterLevel - уровень моря, соответствует порогу мелководья
func (p *Perlin) waterLevel() int {
	return p.opts.BaseHeight + int(ShallowWaterMax*float64(p.opts.Amplitude))
}

// sample возвращает нормализованную высоту и биом столбца
func (p *Perlin) sample(x, z int) (float64, BiomeType) {
	h := p.height.at(x, z)
	return h, biomeFor(h, p.biomes.at(x, z))
}

// SurfaceHeight возвращает y верхнего твёрдого блока столбца
func (p *Perlin) SurfaceHeight(x, z int) int {
	h, _ := p.sample(x, z)
	return p.opts.BaseHeight + int(h*float64(p.opts.Amplitude))
}

// Biome возвращает биом столбца
func (p *Perlin) Biome(x, z int) BiomeType {
	_, b := p.sample(x, z)
	return b
}

// biomeFor определяет тип биома на основе значений шума
func biomeFor(height, biomeValue float64) BiomeType {
	if height < DeepWaterMax {
		return BiomeDeepWater
	}
	if height < ShallowWaterMax {
		return BiomeWater
	}
	if height > MountainStart {
		return BiomeMountains
	}
	// шум биомов тоже 0..1
	if biomeValue < 0.35 {
		return BiomeDesert
	} else if biomeValue > 0.65 {
		return BiomeForest
	}
	return BiomePlains
}

// columnBlock возвращает блок столбца на высоте y
func (p *Perlin) columnBlock(y, surface int, biome BiomeType) block.Identifier {
	switch {
	case y == 0:
		return block.Bedrock
	case y > surface:
		if y <= p.waterLevel() {
			return block.Water
		}
		return block.Air
	case y < surface-3:
		return block.Stone
	}

	switch biome {
	case BiomeDesert:
		return block.Sand
	case BiomeWater, BiomeDeepWater:
		return block.Gravel
	case BiomeMountains:
		return block.Stone
	}
	if y == surface && surface >= p.waterLevel() {
		return block.Grass
	}
	return block.Dirt
}

func (p *Perlin) Generate(_ *rand.Rand, s *world.Section, cx, y, cz int) error {
	base := y << 4
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			h, biome := p.sample(cx<<4|x, cz<<4|z)
			surface := p.opts.BaseHeight + int(h*float64(p.opts.Amplitude))
			if base > surface && base > p.waterLevel() {
				continue
			}
			for ly := 0; ly < 16; ly++ {
				id := p.columnBlock(base+ly, surface, biome)
				if id == block.Air {
					continue
				}
				if err := s.SetBlockID(x, ly, z, id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ore - руда и наибольшая секция, в которой она встречается
type ore struct {
	id       block.Identifier
	maxY     int
	attempts int // доля от OreAttempts в процентах
}

var ores = []ore{
	{id: block.CoalOre, maxY: 8, attempts: 50},
	{id: block.IronOre, maxY: 4, attempts: 35},
	{id: block.GoldOre, maxY: 2, attempts: 15},
}

func (p *Perlin) Populate(rng *rand.Rand, access world.BlockAccess, cx, y, cz int) error {
	if err := p.populateOres(rng, access, cx, y, cz); err != nil {
		return err
	}
	if y == 0 {
		return p.populateTrees(rng, access, cx, cz)
	}
	return nil
}

// populateOres заменяет камень рудой в пределах секции
func (p *Perlin) populateOres(rng *rand.Rand, access world.BlockAccess, cx, y, cz int) error {
	for _, o := range ores {
		if y >= o.maxY {
			continue
		}
		attempts := p.opts.OreAttempts * o.attempts / 100
		for i := 0; i < attempts; i++ {
			x := cx<<4 | rng.Intn(16)
			by := y<<4 | rng.Intn(16)
			z := cz<<4 | rng.Intn(16)
			id, err := access.GetBlockID(x, by, z)
			if err != nil {
				return err
			}
			if id != block.Stone {
				continue
			}
			if err := access.SetBlockID(x, by, z, o.id); err != nil {
				return err
			}
		}
	}
	return nil
}

// populateTrees ставит деревья на траву; листва выходит на 2 блока от ствола
func (p *Perlin) populateTrees(rng *rand.Rand, access world.BlockAccess, cx, cz int) error {
	for lx := 0; lx < 16; lx++ {
		for lz := 0; lz < 16; lz++ {
			x, z := cx<<4|lx, cz<<4|lz
			h, biome := p.sample(x, z)
			chance := 0.0
			switch biome {
			case BiomeForest:
				chance = 0.05
			case BiomePlains:
				chance = p.opts.ForestDensity
			}
			if chance == 0 || rng.Float64() >= chance {
				continue
			}
			surface := p.opts.BaseHeight + int(h*float64(p.opts.Amplitude))
			top, err := access.GetBlockID(x, surface, z)
			if err != nil {
				return err
			}
			if top != block.Grass {
				continue
			}
			if err := placeTree(access, x, surface+1, z, 4+rng.Intn(3)); err != nil {
				return err
			}
		}
	}
	return nil
}

func placeTree(access world.BlockAccess, x, y, z, height int) error {
	if y+height+1 >= world.WorldHeight {
		return nil
	}
	for dy := height - 2; dy <= height; dy++ {
		r := 2
		if dy == height {
			r = 1
		}
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				id, err := access.GetBlockID(x+dx, y+dy, z+dz)
				if err != nil {
					return err
				}
				if id != block.Air {
					continue
				}
				if err := access.SetBlockID(x+dx, y+dy, z+dz, block.Leaves); err != nil {
					return err
				}
			}
		}
	}
	for dy := 0; dy < height; dy++ {
		if err := access.SetBlockID(x, y+dy, z, block.Log); err != nil {
			return err
		}
	}
	return nil
}

// PopulationSections перечисляет соседние столбцы: листва деревьев
// может попасть в любой из них
func (p *Perlin) PopulationSections(x, y, z int) []vec.Vec3 {
	out := make([]vec.Vec3, 0, 8)
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			if dx == 0 && dz == 0 {
				continue
			}
			out = append(out, vec.Vec3{X: x + dx, Y: y, Z: z + dz})
		}
	}
	return out
}
