package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseKV проверяет общий контракт бэкенда
func exerciseKV(t *testing.T, kv KV) {
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "chunk:0:0")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Write(ctx, []Mutation{
		Put("chunk:0:0", []byte("header")),
		Put("section:0:0:0", []byte{1, 2, 3}),
		Put("section:0:1:0", []byte{4}),
	}))

	v, ok, err := kv.Get(ctx, "section:0:0:0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, v)

	has, err := kv.Has(ctx, "chunk:0:0")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, kv.Write(ctx, []Mutation{Delete("section:0:1:0")}))
	has, err = kv.Has(ctx, "section:0:1:0")
	require.NoError(t, err)
	assert.False(t, has)

	var keys []string
	for k, err := range kv.Keys(ctx, "section:") {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"section:0:0:0"}, keys)

	require.NoError(t, kv.Close())
	_, _, err = kv.Get(ctx, "chunk:0:0")
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, kv.Close())
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemoryKV())
}

func TestBadgerKV(t *testing.T) {
	kv, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	exerciseKV(t, kv)
}

func TestBadgerKVPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	kv, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Write(ctx, []Mutation{Put("chunk:1:2", []byte("x"))}))
	require.NoError(t, kv.Close())

	kv, err = OpenBadger(dir)
	require.NoError(t, err)
	defer kv.Close()
	v, ok, err := kv.Get(ctx, "chunk:1:2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("x"), v)
}

func TestRedisKV(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR не задан, пропускаем тест Redis")
	}
	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.KeyPrefix = fmt.Sprintf("voxel-test-%d:", time.Now().UnixNano())

	kv, err := OpenRedis(context.Background(), cfg)
	require.NoError(t, err)
	exerciseKV(t, kv)
}

func TestMongoKV(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI не задан, пропускаем тест MongoDB")
	}
	cfg := DefaultMongoConfig()
	cfg.URI = uri
	cfg.Collection = fmt.Sprintf("voxel_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		kv, err := OpenMongo(context.Background(), cfg)
		if err == nil {
			_ = kv.drop(context.Background())
			_ = kv.Close()
		}
	})

	kv, err := OpenMongo(context.Background(), cfg)
	require.NoError(t, err)
	exerciseKV(t, kv)
}

func TestMariaKV(t *testing.T) {
	dsn := os.Getenv("MARIA_DSN")
	if dsn == "" {
		t.Skip("MARIA_DSN не задан, пропускаем тест MariaDB")
	}
	cfg := MariaConfig{DSN: dsn, Table: fmt.Sprintf("voxel_test_%d", time.Now().UnixNano())}
	t.Cleanup(func() {
		kv, err := OpenMaria(context.Background(), cfg)
		if err == nil {
			_ = kv.dropTable(context.Background())
			_ = kv.Close()
		}
	})

	kv, err := OpenMaria(context.Background(), cfg)
	require.NoError(t, err)
	exerciseKV(t, kv)
}

func TestMariaRejectsBadTableName(t *testing.T) {
	_, err := OpenMaria(context.Background(), MariaConfig{DSN: "user@tcp(127.0.0.1:1)/db", Table: "kv; DROP TABLE x"})
	assert.ErrorContains(t, err, "имя таблицы")
}

func TestLikePrefixEscapes(t *testing.T) {
	assert.Equal(t, `section:%`, likePrefix("section:"))
	assert.Equal(t, `a\_b\%c\\%`, likePrefix(`a_b%c\`))
}
