package world

// Размеры пространственной иерархии
const (
	SectionSize   = 16
	SectionVolume = SectionSize * SectionSize * SectionSize
	ChunkSections = 16
	WorldHeight   = ChunkSections * SectionSize

	// DefaultLayer - слой блоков, используемый перегрузками без явного слоя
	DefaultLayer = 0
	// DefaultLayers - количество слоёв блоков по умолчанию
	DefaultLayers = 2

	MaxLightLevel = 15
)

// plane - физическая плоскость данных в секции.
// Block ID и метаданные хранятся вместе как runtime ID (legacyID<<4 | meta).
type plane uint8

const (
	planeState plane = iota
	planeBlockLight
	planeSkyLight
)

func (p plane) String() string {
	switch p {
	case planeState:
		return "block state"
	case planeBlockLight:
		return "block light"
	case planeSkyLight:
		return "sky light"
	default:
		return "unknown"
	}
}

// defaultValue - значение плоскости там, где данных нет.
// Небесный свет по умолчанию полный, но только если у мира есть небо.
func (p plane) defaultValue(hasSkyLight bool) int {
	if p == planeSkyLight && hasSkyLight {
		return MaxLightLevel
	}
	return 0
}

// index возвращает позицию блока в массивах секции: (y<<8)|(z<<4)|x
func index(x, y, z int) int {
	return (y&0xF)<<8 | (z&0xF)<<4 | x&0xF
}
