package storage

import (
	"context"
	"iter"
	"sort"
	"strings"
	"sync"
)

// MemoryKV хранит данные в памяти процесса.
// Используется в тестах и для миров, которые не нужно сохранять между запусками.
// ВНИМАНИЕ: данные теряются при перезапуске!
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryKV создаёт пустое хранилище в памяти
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryKV) Write(ctx context.Context, batch []Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, mut := range batch {
		if mut.IsDelete() {
			delete(m.data, mut.Key)
			continue
		}
		m.data[mut.Key] = append([]byte(nil), mut.Value...)
	}
	return nil
}

// Keys перебирает ключи в лексикографическом порядке
func (m *MemoryKV) Keys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		m.mu.RLock()
		if m.closed {
			m.mu.RUnlock()
			yield("", ErrClosed)
			return
		}
		keys := make([]string, 0)
		for k := range m.data {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		m.mu.RUnlock()
		sort.Strings(keys)

		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(k, nil) {
				return
			}
		}
	}
}

// Len возвращает количество ключей
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
