package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/annel0/voxel-world/internal/logging"
	_ "github.com/go-sql-driver/mysql"
)

// MariaConfig содержит настройки подключения к MariaDB/MySQL
type MariaConfig struct {
	DSN   string // user:pass@tcp(host:port)/dbname
	Table string
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// MariaKV хранит данные мира в таблице (k, v) MariaDB/MySQL
type MariaKV struct {
	db     *sql.DB
	table  string
	closed atomic.Bool
}

// OpenMaria подключается к базе и создаёт таблицу, если её нет
func OpenMaria(ctx context.Context, cfg MariaConfig) (*MariaKV, error) {
	if cfg.Table == "" {
		cfg.Table = "voxel_kv"
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("недопустимое имя таблицы %q", cfg.Table)
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	kv := &MariaKV{db: db, table: cfg.Table}
	if err := kv.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logging.For(logging.ComponentStorage).Info("🐬 Connected to MariaDB (table %s)", cfg.Table)
	return kv, nil
}

func (r *MariaKV) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + r.table + ` (
			k VARBINARY(255) PRIMARY KEY,
			v LONGBLOB       NOT NULL
		) ENGINE=InnoDB
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы %s: %w", r.table, err)
	}
	return nil
}

func (r *MariaKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.closed.Load() {
		return nil, false, ErrClosed
	}
	var v []byte
	err := r.db.QueryRowContext(ctx, `SELECT v FROM `+r.table+` WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения %s: %w", key, err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, true, nil
}

func (r *MariaKV) Has(ctx context.Context, key string) (bool, error) {
	if r.closed.Load() {
		return false, ErrClosed
	}
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM `+r.table+` WHERE k = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки %s: %w", key, err)
	}
	return true, nil
}

// Write применяет пакет в одной транзакции
func (r *MariaKV) Write(ctx context.Context, batch []Mutation) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if len(batch) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	put, err := tx.PrepareContext(ctx, `REPLACE INTO `+r.table+` (k, v) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer put.Close()
	del, err := tx.PrepareContext(ctx, `DELETE FROM `+r.table+` WHERE k = ?`)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer del.Close()

	for _, m := range batch {
		if m.IsDelete() {
			_, err = del.ExecContext(ctx, m.Key)
		} else {
			_, err = put.ExecContext(ctx, m.Key, m.Value)
		}
		if err != nil {
			return fmt.Errorf("ошибка записи %s: %w", m.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// likePrefix экранирует служебные символы LIKE
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func (r *MariaKV) Keys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if r.closed.Load() {
			yield("", ErrClosed)
			return
		}
		rows, err := r.db.QueryContext(ctx, `SELECT k FROM `+r.table+` WHERE k LIKE ?`, likePrefix(prefix))
		if err != nil {
			yield("", fmt.Errorf("ошибка перечисления ключей: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				yield("", fmt.Errorf("ошибка чтения ключа: %w", err))
				return
			}
			if !yield(k, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", fmt.Errorf("ошибка перечисления ключей: %w", err))
		}
	}
}

func (r *MariaKV) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.db.Close()
}

// dropTable удаляет таблицу; нужен тестам
func (r *MariaKV) dropTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+r.table)
	return err
}
