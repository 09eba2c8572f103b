package world

import "sync"

// Пулы массивов секций: освобождённые секции возвращают массивы сюда
var (
	statePool = sync.Pool{New: func() any { return new([SectionVolume]uint16) }}
	lightPool = sync.Pool{New: func() any { return new(nibbleArray) }}
)

func getStateArray() *[SectionVolume]uint16 {
	a := statePool.Get().(*[SectionVolume]uint16)
	*a = [SectionVolume]uint16{}
	return a
}

func putStateArray(a *[SectionVolume]uint16) {
	if a != nil {
		statePool.Put(a)
	}
}

func getLightArray(fill int) *nibbleArray {
	a := lightPool.Get().(*nibbleArray)
	a.fill(fill)
	return a
}

func putLightArray(a *nibbleArray) {
	if a != nil {
		lightPool.Put(a)
	}
}
