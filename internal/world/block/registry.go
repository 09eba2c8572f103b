package block

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownState возвращается, когда в хранилище лежит состояние, которого нет в реестре
var ErrUnknownState = errors.New("unknown block state")

// Registry сопоставляет символьные идентификаторы, legacy ID, runtime ID
// и допустимые метаданные. Реестр передаётся в мир явно, глобального экземпляра нет.
//
// После заполнения реестр используется только на чтение, поэтому RWMutex
// практически никогда не берётся на запись.
type Registry struct {
	mu       sync.RWMutex
	byID     map[Identifier]*entry
	byLegacy map[int]*entry
}

type entry struct {
	id       Identifier
	legacyID int
	metas    uint16 // битовая маска допустимых метаданных
}

// NewRegistry создаёт пустой реестр. Воздух (legacy ID 0) регистрируется всегда.
func NewRegistry() *Registry {
	r := &Registry{
		byID:     make(map[Identifier]*entry),
		byLegacy: make(map[int]*entry),
	}
	_ = r.Register(Air, 0, 0)
	return r
}

// Register добавляет блок с указанным legacy ID и набором допустимых метаданных.
// Пустой набор метаданных означает только meta 0.
func (r *Registry) Register(id Identifier, legacyID int, metas ...int) error {
	if legacyID < 0 || legacyID > MaxLegacyID {
		return fmt.Errorf("legacy ID %d вне диапазона 0..%d", legacyID, MaxLegacyID)
	}
	if _, err := ParseIdentifier(string(id)); err != nil {
		return err
	}

	var mask uint16
	if len(metas) == 0 {
		mask = 1
	}
	for _, m := range metas {
		if m < 0 || m > MaxMeta {
			return fmt.Errorf("метаданные %d блока %s вне диапазона 0..%d", m, id, MaxMeta)
		}
		mask |= 1 << uint(m)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byLegacy[legacyID]; ok && e.id != id {
		return fmt.Errorf("legacy ID %d уже занят блоком %s", legacyID, e.id)
	}
	if e, ok := r.byID[id]; ok && e.legacyID != legacyID {
		return fmt.Errorf("блок %s уже зарегистрирован с legacy ID %d", id, e.legacyID)
	}

	e := &entry{id: id, legacyID: legacyID, metas: mask}
	r.byID[id] = e
	r.byLegacy[legacyID] = e
	return nil
}

// ContainsID проверяет, зарегистрирован ли блок
func (r *Registry) ContainsID(id Identifier) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// ContainsLegacyID проверяет, зарегистрирован ли legacy ID
func (r *Registry) ContainsLegacyID(legacyID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byLegacy[legacyID]
	return ok
}

// ContainsState проверяет, что метаданные зарегистрированы для legacy ID
func (r *Registry) ContainsState(legacyID, meta int) bool {
	if meta < 0 || meta > MaxMeta {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byLegacy[legacyID]
	return ok && e.metas&(1<<uint(meta)) != 0
}

// ContainsRuntimeID проверяет runtime ID
func (r *Registry) ContainsRuntimeID(runtimeID int) bool {
	if runtimeID < 0 {
		return false
	}
	return r.ContainsState(SplitRuntimeID(runtimeID))
}

// LegacyID возвращает legacy ID блока
func (r *Registry) LegacyID(id Identifier) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return 0, false
	}
	return e.legacyID, true
}

// Identifier возвращает символьный идентификатор по legacy ID
func (r *Registry) Identifier(legacyID int) (Identifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byLegacy[legacyID]
	if !ok {
		return "", false
	}
	return e.id, true
}

// State возвращает состояние по идентификатору и метаданным
func (r *Registry) State(id Identifier, meta int) (State, bool) {
	legacyID, ok := r.LegacyID(id)
	if !ok || !r.ContainsState(legacyID, meta) {
		return State{}, false
	}
	return State{ID: id, LegacyID: legacyID, Meta: meta}, true
}

// DefaultState возвращает состояние блока с метаданными 0
func (r *Registry) DefaultState(id Identifier) (State, bool) {
	return r.State(id, 0)
}

// StateByLegacy возвращает состояние по legacy ID и метаданным
func (r *Registry) StateByLegacy(legacyID, meta int) (State, bool) {
	if !r.ContainsState(legacyID, meta) {
		return State{}, false
	}
	id, _ := r.Identifier(legacyID)
	return State{ID: id, LegacyID: legacyID, Meta: meta}, true
}

// StateByRuntimeID восстанавливает состояние по runtime ID
func (r *Registry) StateByRuntimeID(runtimeID int) (State, error) {
	legacyID, meta := SplitRuntimeID(runtimeID)
	s, ok := r.StateByLegacy(legacyID, meta)
	if !ok {
		return State{}, fmt.Errorf("%w: runtime ID %d", ErrUnknownState, runtimeID)
	}
	return s, nil
}

// Len возвращает количество зарегистрированных блоков
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
