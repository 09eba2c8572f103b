package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// BadgerKV - хранилище на диске поверх BadgerDB
type BadgerKV struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// OpenBadger открывает (или создаёт) базу в каталоге dataPath/world
func OpenBadger(dataPath string) (*BadgerKV, error) {
	dbPath := filepath.Join(dataPath, "world")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerKV{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Path возвращает каталог базы
func (b *BadgerKV) Path() string { return b.dbPath }

func (b *BadgerKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return nil, false, ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return data, true, nil
}

func (b *BadgerKV) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return false, ErrClosed
	}

	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return true, nil
}

// Write применяет пакет в одной транзакции
func (b *BadgerKV) Write(ctx context.Context, batch []Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, m := range batch {
			var err error
			if m.IsDelete() {
				err = txn.Delete([]byte(m.Key))
			} else {
				err = txn.Set([]byte(m.Key), m.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Keys перебирает ключи с префиксом в порядке BadgerDB.
// Ключи собираются в одной транзакции чтения до начала перебора.
func (b *BadgerKV) Keys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		b.mutex.RLock()
		if !b.isReady {
			b.mutex.RUnlock()
			yield("", ErrClosed)
			return
		}
		var keys []string
		err := b.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(prefix)
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				keys = append(keys, string(it.Item().KeyCopy(nil)))
			}
			return nil
		})
		b.mutex.RUnlock()
		if err != nil {
			yield("", fmt.Errorf("ошибка перебора ключей BadgerDB: %w", err))
			return
		}
		for _, k := range keys {
			if !yield(k, nil) {
				return
			}
		}
	}
}

// Close закрывает базу. Повторный вызов ничего не делает.
func (b *BadgerKV) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.isReady {
		return nil
	}

	b.isReady = false
	return b.db.Close()
}
