package block

// Идентификаторы блоков из базовой таблицы
var (
	Air         = Identifier("minecraft:air")
	Stone       = Identifier("minecraft:stone")
	Grass       = Identifier("minecraft:grass")
	Dirt        = Identifier("minecraft:dirt")
	Cobblestone = Identifier("minecraft:cobblestone")
	Planks      = Identifier("minecraft:planks")
	Bedrock     = Identifier("minecraft:bedrock")
	Water       = Identifier("minecraft:water")
	Lava        = Identifier("minecraft:lava")
	Sand        = Identifier("minecraft:sand")
	Gravel      = Identifier("minecraft:gravel")
	GoldOre     = Identifier("minecraft:gold_ore")
	IronOre     = Identifier("minecraft:iron_ore")
	CoalOre     = Identifier("minecraft:coal_ore")
	Log         = Identifier("minecraft:log")
	Leaves      = Identifier("minecraft:leaves")
	Glass       = Identifier("minecraft:glass")
	Wool        = Identifier("minecraft:wool")
)

func allMetas() []int {
	m := make([]int, MaxMeta+1)
	for i := range m {
		m[i] = i
	}
	return m
}

// Vanilla возвращает реестр с базовым набором блоков (legacy ID эпохи 1.12)
func Vanilla() *Registry {
	r := NewRegistry()
	table := []struct {
		id     Identifier
		legacy int
		metas  []int
	}{
		{Stone, 1, []int{0, 1, 2, 3, 4, 5, 6}},
		{Grass, 2, nil},
		{Dirt, 3, []int{0, 1, 2}},
		{Cobblestone, 4, nil},
		{Planks, 5, []int{0, 1, 2, 3, 4, 5}},
		{Bedrock, 7, nil},
		{Water, 9, allMetas()},
		{Lava, 11, allMetas()},
		{Sand, 12, []int{0, 1}},
		{Gravel, 13, nil},
		{GoldOre, 14, nil},
		{IronOre, 15, nil},
		{CoalOre, 16, nil},
		{Log, 17, allMetas()},
		{Leaves, 18, allMetas()},
		{Glass, 20, nil},
		{Wool, 35, allMetas()},
	}
	for _, b := range table {
		if err := r.Register(b.id, b.legacy, b.metas...); err != nil {
			panic(err)
		}
	}
	return r
}
