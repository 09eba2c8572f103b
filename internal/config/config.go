package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера мира
type Config struct {
	World     WorldConfig     `yaml:"world"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type WorldConfig struct {
	Name             string            `yaml:"name"`
	Layers           int               `yaml:"layers"`
	SkyLight         bool              `yaml:"sky_light"`
	Seed             int64             `yaml:"seed"`
	Generate         bool              `yaml:"generate"`
	Generator        string            `yaml:"generator"` // none | flat | perlin
	GeneratorOptions map[string]string `yaml:"generator_options"`
	IdleTTL          time.Duration     `yaml:"idle_ttl"`
	AutosaveEvery    time.Duration     `yaml:"autosave_every"`
	GCEvery          time.Duration     `yaml:"gc_every"`
}

type StorageConfig struct {
	Backend     string      `yaml:"backend"` // badger | redis | mongo | maria | memory
	DataPath    string      `yaml:"data_path"`
	IOWorkers   int         `yaml:"io_workers"`
	Compression bool        `yaml:"compression"`
	Redis       RedisConfig `yaml:"redis"`
	Mongo       MongoConfig `yaml:"mongo"`
	Maria       MariaConfig `yaml:"maria"`
}

// MongoConfig - коллекция MongoDB; транзакции требуют набора реплик
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type MariaConfig struct {
	DSN   string `yaml:"dsn"` // user:pass@tcp(host:port)/dbname
	Table string `yaml:"table"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// CacheConfig - рассылка инвалидаций между узлами
type CacheConfig struct {
	Invalidation string        `yaml:"invalidation"` // none | local | nats
	NATSURL      string        `yaml:"nats_url"`
	Subject      string        `yaml:"subject"`
	PublishWait  time.Duration `yaml:"publish_timeout"`
}

type ServerConfig struct {
	RESTPort int `yaml:"rest_port"`
	// JWTSecret защищает изменяющие маршруты REST API; пусто - без защиты
	JWTSecret string `yaml:"jwt_secret"`
}

// GetJWTSecret возвращает секрет из конфигурации или ENV WORLD_JWT_SECRET
func (s *ServerConfig) GetJWTSecret() string {
	if s.JWTSecret != "" {
		return s.JWTSecret
	}
	return os.Getenv("WORLD_JWT_SECRET")
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "WORLD_REST_PORT", 8088)
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	FileLevel string `yaml:"file_level"`
	Dir       string `yaml:"dir"` // пусто - без файлов
	// Components - консольные пороги отдельных компонентов, например storage: debug
	Components map[string]string `yaml:"components"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"` // host:port OTLP HTTP
	Insecure    bool   `yaml:"insecure"`
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Default возвращает конфигурацию локального сервера на Badger
func Default() *Config {
	return &Config{
		World: WorldConfig{
			Name:          "overworld",
			Layers:        2,
			SkyLight:      true,
			Generate:      true,
			Generator:     "perlin",
			IdleTTL:       5 * time.Minute,
			AutosaveEvery: 30 * time.Second,
			GCEvery:       time.Minute,
		},
		Storage: StorageConfig{
			Backend:     "badger",
			DataPath:    "data",
			IOWorkers:   4,
			Compression: true,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "voxel:",
			},
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "voxel",
				Collection: "world_kv",
			},
			Maria: MariaConfig{Table: "voxel_kv"},
		},
		Cache: CacheConfig{
			Invalidation: "local",
			NATSURL:      "nats://127.0.0.1:4222",
			Subject:      "voxel.invalidate",
			PublishWait:  5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "INFO",
			FileLevel: "DEBUG",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "worldd",
			Endpoint:    "localhost:4318",
			Insecure:    true,
		},
	}
}

// Load читает YAML файл конфигурации поверх Default().
// Если path == "", используется ENV WORLD_CONFIG; если и он пуст,
// возвращаются значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("WORLD_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("конфигурация %s: %w", path, err)
	}
	return cfg, nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return fmt.Errorf("%s: недопустимое значение %q (ожидается одно из %s)", field, value, strings.Join(allowed, ", "))
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	if c.World.Layers < 1 || c.World.Layers > 16 {
		return fmt.Errorf("world.layers: %d вне диапазона 1..16", c.World.Layers)
	}
	if c.World.IdleTTL < 0 || c.World.AutosaveEvery < 0 || c.World.GCEvery < 0 {
		return fmt.Errorf("world: интервалы не могут быть отрицательными")
	}
	if err := oneOf("world.generator", c.World.Generator, "", "none", "flat", "perlin", "default"); err != nil {
		return err
	}
	if err := oneOf("storage.backend", c.Storage.Backend, "badger", "redis", "mongo", "maria", "memory"); err != nil {
		return err
	}
	if strings.EqualFold(c.Storage.Backend, "badger") && c.Storage.DataPath == "" {
		return fmt.Errorf("storage.data_path: обязателен для badger")
	}
	if strings.EqualFold(c.Storage.Backend, "redis") && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr: обязателен для redis")
	}
	if strings.EqualFold(c.Storage.Backend, "mongo") && c.Storage.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri: обязателен для mongo")
	}
	if strings.EqualFold(c.Storage.Backend, "maria") && c.Storage.Maria.DSN == "" {
		return fmt.Errorf("storage.maria.dsn: обязателен для maria")
	}
	if c.Storage.IOWorkers < 1 {
		return fmt.Errorf("storage.io_workers: %d, нужно хотя бы 1", c.Storage.IOWorkers)
	}
	if err := oneOf("cache.invalidation", c.Cache.Invalidation, "none", "local", "nats"); err != nil {
		return err
	}
	if strings.EqualFold(c.Cache.Invalidation, "nats") && c.Cache.NATSURL == "" {
		return fmt.Errorf("cache.nats_url: обязателен для nats")
	}
	return nil
}
