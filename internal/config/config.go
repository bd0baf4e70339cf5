package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/distant-lod/internal/cache"
	"github.com/annel0/distant-lod/internal/lod"
	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/world"
)

// Config корневая структура конфигурации LOD-сервера
type Config struct {
	Tiers     TiersConfig     `yaml:"tiers"`
	Merge     MergeConfig     `yaml:"merge"`
	Render    RenderConfig    `yaml:"render"`
	World     WorldConfig     `yaml:"world"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TiersConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MidStart        float64 `yaml:"mid_start"`
	FarStart        float64 `yaml:"far_start"`
	HorizonStart    float64 `yaml:"horizon_start"`
	MaxViewDistance float64 `yaml:"max_view_distance"`
	CellSize        float64 `yaml:"cell_size"`
	// Hysteresis - запас границы по имени тира (near, mid, far, horizon)
	Hysteresis map[string]float64 `yaml:"hysteresis"`
}

type MergeConfig struct {
	Simplify      bool     `yaml:"simplify"`
	SimplifyRatio float32  `yaml:"simplify_ratio"`
	MaxVertices   int      `yaml:"max_vertices"`
	MinObjectSize float32  `yaml:"min_object_size"`
	AllowedTypes  []string `yaml:"allowed_types"`
	DenyPatterns  []string `yaml:"deny_patterns"`
	LargePatterns []string `yaml:"large_patterns"`
}

type RenderConfig struct {
	MergesPerTick int `yaml:"merges_per_tick"`
	TickRate      int `yaml:"tick_rate"`
}

type WorldConfig struct {
	ID             string `yaml:"id"`
	Seed           int64  `yaml:"seed"`
	ObjectsPerCell int    `yaml:"objects_per_cell"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	UsePrebaked bool   `yaml:"use_prebaked"`
}

// CacheConfig - общий Redis-кеш запечённых ячеек и NATS-инвалидация.
// Пустой nats.nats_url отключает рассылку.
type CacheConfig struct {
	Enabled bool                    `yaml:"enabled"`
	Redis   cache.CacheConfig       `yaml:"redis"`
	NATS    cache.InvalidatorConfig `yaml:"nats"`
}

// RedisConfig возвращает настройки Redis; адрес можно переопределить через LOD_REDIS_URL,
// префикс ключей по умолчанию включает ID мира
func (c *Config) RedisConfig() cache.CacheConfig {
	rc := c.Cache.Redis
	if env := os.Getenv("LOD_REDIS_URL"); env != "" {
		rc.RedisURL = env
	}
	if rc.KeyPrefix == "" {
		rc.KeyPrefix = "lod:" + c.World.ID + ":"
	}
	return rc
}

// NATSConfig возвращает настройки NATS; адрес можно переопределить через LOD_NATS_URL
func (c *Config) NATSConfig() cache.InvalidatorConfig {
	nc := c.Cache.NATS
	if env := os.Getenv("LOD_NATS_URL"); env != "" {
		nc.NATSURL = env
	}
	return nc
}

// EventsConfig - шина событий смены тира. Пустой jetstream_url - in-memory шина.
type EventsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	JetStreamURL string        `yaml:"jetstream_url"`
	Stream       string        `yaml:"stream"`
	Retention    time.Duration `yaml:"retention"`
	BufferSize   int           `yaml:"buffer_size"`
	LogEvents    bool          `yaml:"log_events"`
}

type ServerConfig struct {
	APIPort     int `yaml:"api_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	// Components - уровни отдельных компонентов (tiers, merge, render, ...)
	Components map[string]string `yaml:"components"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	tiers := lod.DefaultSettings()
	mergeDefaults := merge.DefaultSettings()

	allowed := make([]string, 0, len(mergeDefaults.AllowedTypes))
	for _, t := range mergeDefaults.AllowedTypes {
		allowed = append(allowed, string(t))
	}

	return &Config{
		Tiers: TiersConfig{
			Enabled:         tiers.Enabled,
			MidStart:        tiers.MidStart,
			FarStart:        tiers.FarStart,
			HorizonStart:    tiers.HorizonStart,
			MaxViewDistance: tiers.MaxViewDistance,
			CellSize:        tiers.CellSize,
			Hysteresis: map[string]float64{
				"near":    tiers.Hysteresis[lod.TierNear],
				"mid":     tiers.Hysteresis[lod.TierMid],
				"far":     tiers.Hysteresis[lod.TierFar],
				"horizon": tiers.Hysteresis[lod.TierHorizon],
			},
		},
		Merge: MergeConfig{
			Simplify:      true,
			SimplifyRatio: mergeDefaults.SimplifyRatio,
			MaxVertices:   mergeDefaults.MaxVertices,
			MinObjectSize: mergeDefaults.MinObjectSize,
			AllowedTypes:  allowed,
			DenyPatterns:  mergeDefaults.DenyPatterns,
			LargePatterns: mergeDefaults.LargePatterns,
		},
		Render: RenderConfig{
			MergesPerTick: 2,
			TickRate:      20,
		},
		World: WorldConfig{
			ID:             "tamriel",
			Seed:           1337,
			ObjectsPerCell: 40,
		},
		Storage: StorageConfig{
			Path: "data/prebaked",
		},
		Cache: CacheConfig{
			Redis: cache.CacheConfig{RedisURL: "localhost:6379"},
		},
		Events: EventsConfig{
			Stream:     "LOD_EVENTS",
			Retention:  time.Hour,
			BufferSize: 1024,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "distant-lod",
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// GetAPIPort возвращает порт отладочного API с поддержкой fallback значений
func (s *ServerConfig) GetAPIPort() int {
	return getPortWithEnvFallback(s.APIPort, "LOD_API_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "LOD_METRICS_PORT", 2112)
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

// TierSettings переводит секцию tiers в настройки классификатора
func (c *Config) TierSettings() (lod.Settings, error) {
	s := lod.Settings{
		MidStart:        c.Tiers.MidStart,
		FarStart:        c.Tiers.FarStart,
		HorizonStart:    c.Tiers.HorizonStart,
		MaxViewDistance: c.Tiers.MaxViewDistance,
		CellSize:        c.Tiers.CellSize,
		Enabled:         c.Tiers.Enabled,
	}
	for name, margin := range c.Tiers.Hysteresis {
		tier := lod.ParseTier(name)
		if !tier.Valid() {
			return s, fmt.Errorf("unknown tier %q in hysteresis", name)
		}
		s.Hysteresis[tier] = margin
	}
	return s, nil
}

// TierConfig строит проверенную конфигурацию тиров
func (c *Config) TierConfig() (*lod.TierConfig, error) {
	s, err := c.TierSettings()
	if err != nil {
		return nil, err
	}
	return lod.NewTierConfig(s)
}

// MergeSettings переводит секцию merge в настройки объединителя
func (c *Config) MergeSettings() merge.Settings {
	s := merge.Settings{
		SimplifyRatio: c.Merge.SimplifyRatio,
		MaxVertices:   c.Merge.MaxVertices,
		MinObjectSize: c.Merge.MinObjectSize,
		DenyPatterns:  c.Merge.DenyPatterns,
		LargePatterns: c.Merge.LargePatterns,
	}
	for _, t := range c.Merge.AllowedTypes {
		s.AllowedTypes = append(s.AllowedTypes, world.RecordType(t))
	}
	return s
}

// Validate проверяет конфигурацию: некорректные дистанции отклоняются при загрузке
func (c *Config) Validate() error {
	if _, err := c.TierConfig(); err != nil {
		return fmt.Errorf("tiers: %w", err)
	}
	if err := c.MergeSettings().Validate(); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	if c.Render.TickRate <= 0 {
		return fmt.Errorf("render: tick rate must be positive, got %d", c.Render.TickRate)
	}
	if c.Cache.Enabled && !c.Storage.UsePrebaked {
		return fmt.Errorf("cache: requires storage.use_prebaked")
	}
	if c.Events.BufferSize < 0 {
		return fmt.Errorf("events: buffer size must not be negative, got %d", c.Events.BufferSize)
	}
	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV LOD_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("LOD_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
