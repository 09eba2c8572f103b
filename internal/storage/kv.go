package storage

import (
	"context"
	"errors"
	"iter"
)

// ErrClosed возвращается бэкендом после Close
var ErrClosed = errors.New("хранилище закрыто")

// Mutation - одна операция пакетной записи. Value == nil означает удаление ключа.
type Mutation struct {
	Key   string
	Value []byte
}

// Put создаёт операцию записи
func Put(key string, value []byte) Mutation { return Mutation{Key: key, Value: value} }

// Delete создаёт операцию удаления
func Delete(key string) Mutation { return Mutation{Key: key} }

// IsDelete сообщает, что операция удаляет ключ
func (m Mutation) IsDelete() bool { return m.Value == nil }

// KV - минимальный интерфейс ключ-значение, поверх которого строится WorldStorage.
// Реализации: BadgerKV (на диске), RedisKV, MongoKV и MariaKV (общие для
// нескольких узлов), MemoryKV.
type KV interface {
	// Get возвращает копию значения; ok == false, если ключа нет
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Has(ctx context.Context, key string) (bool, error)
	// Write применяет пакет атомарно: либо все операции, либо ни одной
	Write(ctx context.Context, batch []Mutation) error
	// Keys перебирает ключи с префиксом. Порядок не гарантируется.
	Keys(ctx context.Context, prefix string) iter.Seq2[string, error]
	Close() error
}
