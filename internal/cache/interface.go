package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/vec"
)

// ColdSource - постоянное хранилище запечённых ячеек (BadgerDB).
// Отсутствующая ячейка - (nil, nil).
type ColdSource interface {
	LoadCell(cell vec.Vec2) (*merge.CellData, error)
}

// CacheInvalidator рассылает и принимает уведомления об инвалидации ячеек.
type CacheInvalidator interface {
	// PublishInvalidation отправляет уведомление об инвалидации ключа ячейки.
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations подписывается на уведомления других узлов.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// Close закрывает соединение.
	Close() error
}

// InvalidationHandler обрабатывает уведомление об инвалидации ключа ячейки.
type InvalidationHandler func(key string) error

// CacheMetrics содержит метрики кеша ячеек.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	ColdHits      int64   `json:"cold_hits"`
	Errors        int64   `json:"errors"`
	HitRatio      float64 `json:"hit_ratio"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

// CacheConfig содержит конфигурацию кеша ячеек.
type CacheConfig struct {
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// KeyPrefix отделяет ячейки разных миров в общем Redis
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	// Timeout ограничивает одно обращение к Redis из тика
	Timeout time.Duration `yaml:"timeout"`

	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

func (c *CacheConfig) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "lod:"
	}
	if c.TTL == 0 {
		c.TTL = time.Hour
	}
	if c.Timeout == 0 {
		c.Timeout = 50 * time.Millisecond
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 5 * time.Second
	}
}

// ErrInvalidKey - ключ не описывает ячейку
var ErrInvalidKey = errors.New("cache: invalid cell key")

// CellKey возвращает ключ ячейки вида "x:y"; он же передаётся в уведомлениях
func CellKey(cell vec.Vec2) string {
	return fmt.Sprintf("%d:%d", cell.X, cell.Y)
}

// ParseCellKey разбирает ключ, построенный CellKey
func ParseCellKey(key string) (vec.Vec2, error) {
	var cell vec.Vec2
	var rest string
	n, _ := fmt.Sscanf(key, "%d:%d%s", &cell.X, &cell.Y, &rest)
	if n != 2 {
		return vec.Vec2{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cell, nil
}
