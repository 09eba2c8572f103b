package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	t.Setenv("WORLD_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
world:
  name: nether
  sky_light: false
  generator: flat
  generator_options:
    layers: "bedrock,3*stone"
  idle_ttl: 90s
storage:
  backend: memory
cache:
  invalidation: none
server:
  rest_port: 9090
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nether", cfg.World.Name)
	assert.False(t, cfg.World.SkyLight)
	assert.Equal(t, "flat", cfg.World.Generator)
	assert.Equal(t, "bedrock,3*stone", cfg.World.GeneratorOptions["layers"])
	assert.Equal(t, 90*time.Second, cfg.World.IdleTTL)
	// не заданные поля берутся из Default
	assert.Equal(t, 2, cfg.World.Layers)
	assert.Equal(t, 4, cfg.Storage.IOWorkers)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 9090, cfg.Server.GetRESTPort())
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "world:\n  seed: 42\n")
	t.Setenv("WORLD_CONFIG", path)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.World.Seed)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "world: [1, 2"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "storage:\n  backend: cassandra\n"))
	assert.ErrorContains(t, err, "storage.backend")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"layers", func(c *Config) { c.World.Layers = 17 }, "world.layers"},
		{"generator", func(c *Config) { c.World.Generator = "caves" }, "world.generator"},
		{"badger path", func(c *Config) { c.Storage.DataPath = "" }, "storage.data_path"},
		{"redis addr", func(c *Config) { c.Storage.Backend = "redis"; c.Storage.Redis.Addr = "" }, "storage.redis.addr"},
		{"mongo uri", func(c *Config) { c.Storage.Backend = "mongo"; c.Storage.Mongo.URI = "" }, "storage.mongo.uri"},
		{"maria dsn", func(c *Config) { c.Storage.Backend = "maria" }, "storage.maria.dsn"},
		{"workers", func(c *Config) { c.Storage.IOWorkers = 0 }, "storage.io_workers"},
		{"invalidation", func(c *Config) { c.Cache.Invalidation = "kafka" }, "cache.invalidation"},
		{"nats url", func(c *Config) { c.Cache.Invalidation = "nats"; c.Cache.NATSURL = "" }, "cache.nats_url"},
		{"negative ttl", func(c *Config) { c.World.IdleTTL = -time.Second }, "world"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.field)
		})
	}
}

func TestLoadBackendsAndSecrets(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: maria
  maria:
    dsn: "world:secret@tcp(db:3306)/voxel"
server:
  jwt_secret: s3cr3t
logging:
  components:
    storage: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "world:secret@tcp(db:3306)/voxel", cfg.Storage.Maria.DSN)
	assert.Equal(t, "voxel_kv", cfg.Storage.Maria.Table)
	assert.Equal(t, "world_kv", cfg.Storage.Mongo.Collection)
	assert.Equal(t, "s3cr3t", cfg.Server.GetJWTSecret())
	assert.Equal(t, map[string]string{"storage": "debug"}, cfg.Logging.Components)
}

func TestJWTSecretFallback(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("WORLD_JWT_SECRET", "")
	assert.Empty(t, s.GetJWTSecret())

	t.Setenv("WORLD_JWT_SECRET", "from-env")
	assert.Equal(t, "from-env", s.GetJWTSecret())

	s.JWTSecret = "from-file"
	assert.Equal(t, "from-file", s.GetJWTSecret())
}

func TestRESTPortFallback(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("WORLD_REST_PORT", "")
	assert.Equal(t, 8088, s.GetRESTPort())

	t.Setenv("WORLD_REST_PORT", "7070")
	assert.Equal(t, 7070, s.GetRESTPort())

	t.Setenv("WORLD_REST_PORT", "oops")
	assert.Equal(t, 8088, s.GetRESTPort())
}
