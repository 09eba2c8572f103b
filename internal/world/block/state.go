package block

import "fmt"

const (
	// MaxLegacyID - наибольший допустимый legacy ID (12 бит)
	MaxLegacyID = 0xFFF
	// MaxMeta - наибольшее значение метаданных (ниббл)
	MaxMeta = 0xF
)

// State - конкретное состояние блока: идентификатор + legacy ID + метаданные
type State struct {
	ID       Identifier
	LegacyID int
	Meta     int
}

// RuntimeID возвращает упакованный ID состояния: legacyID<<4 | meta
func (s State) RuntimeID() int {
	return RuntimeID(s.LegacyID, s.Meta)
}

func (s State) String() string {
	return fmt.Sprintf("%s#%d", s.ID, s.Meta)
}

// RuntimeID упаковывает legacy ID и метаданные в один runtime ID
func RuntimeID(legacyID, meta int) int {
	return legacyID<<4 | meta&0xF
}

// SplitRuntimeID раскладывает runtime ID на legacy ID и метаданные
func SplitRuntimeID(runtimeID int) (legacyID, meta int) {
	return runtimeID >> 4, runtimeID & 0xF
}
