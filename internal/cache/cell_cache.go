package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/render"
	"github.com/annel0/distant-lod/internal/storage"
	"github.com/annel0/distant-lod/internal/vec"
)

// CellCache - горячий кеш запечённых ячеек в Redis поверх холодного хранилища.
// Read-Through: промах в Redis читает ячейку из ColdSource и кладёт её в Redis.
// Ошибки Redis не прерывают тик: ячейка читается из холодного хранилища.
type CellCache struct {
	client      *redis.Client
	config      CacheConfig
	cold        ColdSource
	invalidator CacheInvalidator
	codec       *storage.Codec
	logger      *logging.Logger

	totalRequests int64
	hits          int64
	misses        int64
	coldHits      int64
	errors        int64
	latencySum    int64 // в наносекундах
}

// NewCellCache подключается к Redis. cold и invalidator могут быть nil.
func NewCellCache(config CacheConfig, cold ColdSource, invalidator CacheInvalidator) (*CellCache, error) {
	config.applyDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	codec, err := storage.NewCodec()
	if err != nil {
		rdb.Close()
		return nil, err
	}

	c := &CellCache{
		client:      rdb,
		config:      config,
		cold:        cold,
		invalidator: invalidator,
		codec:       codec,
		logger:      logging.GetComponentLogger("cache"),
	}
	c.logger.Info("Redis cell cache initialized: %s (prefix %q, ttl %s)", config.RedisURL, config.KeyPrefix, config.TTL)
	return c, nil
}

func (c *CellCache) redisKey(cell vec.Vec2) string {
	return c.config.KeyPrefix + CellKey(cell)
}

// LoadCell возвращает ячейку из Redis или холодного хранилища; (nil, nil), если её нет нигде
func (c *CellCache) LoadCell(ctx context.Context, cell vec.Vec2) (*merge.CellData, error) {
	start := time.Now()
	defer func() { atomic.AddInt64(&c.latencySum, int64(time.Since(start))) }()
	atomic.AddInt64(&c.totalRequests, 1)

	key := c.redisKey(cell)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		data, derr := c.codec.DecodeCell(raw)
		if derr == nil {
			atomic.AddInt64(&c.hits, 1)
			return data, nil
		}
		// Битое значение удаляем и читаем заново
		atomic.AddInt64(&c.errors, 1)
		c.logger.Warn("Corrupt cache entry %s: %v", key, derr)
		c.client.Del(ctx, key)
	case errors.Is(err, redis.Nil):
		atomic.AddInt64(&c.misses, 1)
	default:
		atomic.AddInt64(&c.errors, 1)
		c.logger.Warn("Redis Get error for key %s: %v", key, err)
	}

	if c.cold == nil {
		return nil, nil
	}
	data, err := c.cold.LoadCell(cell)
	if err != nil || data == nil {
		return nil, err
	}
	atomic.AddInt64(&c.coldHits, 1)

	if err := c.Store(ctx, data); err != nil {
		c.logger.Debug("Read-through store skipped for %s: %v", key, err)
	}
	return data, nil
}

// LoadPrebaked реализует источник запечённых ячеек координатора
func (c *CellCache) LoadPrebaked(cell vec.Vec2) (render.Prebaked, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	data, err := c.LoadCell(ctx, cell)
	if err != nil || data == nil {
		return render.Prebaked{}, false, err
	}
	return render.PrebakedFromCellData(data), true, nil
}

// Store кладёт ячейку в Redis
func (c *CellCache) Store(ctx context.Context, data *merge.CellData) error {
	if data == nil {
		return nil
	}
	raw, err := c.codec.Marshal(data)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.redisKey(data.Cell), raw, c.config.TTL).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Invalidate удаляет ячейку из Redis и уведомляет другие узлы
func (c *CellCache) Invalidate(ctx context.Context, cell vec.Vec2) error {
	if err := c.client.Del(ctx, c.redisKey(cell)).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("redis delete error: %w", err)
	}
	if c.invalidator != nil {
		if err := c.invalidator.PublishInvalidation(ctx, CellKey(cell)); err != nil {
			return err
		}
	}
	return nil
}

// Close закрывает соединение с Redis
func (c *CellCache) Close() error {
	c.codec.Close()
	return c.client.Close()
}

// GetMetrics возвращает метрики кеша
func (c *CellCache) GetMetrics() CacheMetrics {
	m := CacheMetrics{
		TotalRequests: atomic.LoadInt64(&c.totalRequests),
		CacheHits:     atomic.LoadInt64(&c.hits),
		CacheMisses:   atomic.LoadInt64(&c.misses),
		ColdHits:      atomic.LoadInt64(&c.coldHits),
		Errors:        atomic.LoadInt64(&c.errors),
	}
	if m.TotalRequests > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(m.TotalRequests)
		m.AvgLatencyMs = float64(atomic.LoadInt64(&c.latencySum)) / float64(m.TotalRequests) / 1e6
	}
	return m
}
