package cache

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/vec"
	"github.com/annel0/distant-lod/internal/world"
)

func TestCellKeyRoundTrip(t *testing.T) {
	for _, c := range []vec.Vec2{{}, {X: -3, Y: 12}, {X: 100, Y: -100}} {
		key := CellKey(c)
		parsed, err := ParseCellKey(key)
		require.NoError(t, err, key)
		assert.Equal(t, c, parsed)
	}

	for _, bad := range []string{"", "3", "3:", "a:b", "3:4:5x", "3:4 tail"} {
		_, err := ParseCellKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func message(t *testing.T, key, node string) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(InvalidationMessage{Key: key, NodeID: node, Timestamp: time.Now()})
	require.NoError(t, err)
	return &nats.Msg{Data: data}
}

func TestInvalidationMessageHandling(t *testing.T) {
	n := newInvalidator(InvalidatorConfig{DedupeWindow: time.Minute}, "server-a", logging.GetComponentLogger("cache"))

	var got []string
	n.handler = func(key string) error {
		got = append(got, key)
		return nil
	}

	n.handleInvalidationMessage(message(t, "5:0", "bake-tool"))
	n.handleInvalidationMessage(message(t, "5:0", "bake-tool"))
	n.handleInvalidationMessage(message(t, "6:0", "server-a"))
	n.handleInvalidationMessage(&nats.Msg{Data: []byte("{broken")})
	n.handleInvalidationMessage(message(t, "7:0", "bake-tool"))

	assert.Equal(t, []string{"5:0", "7:0"}, got, "дубликаты и собственные сообщения пропускаются")

	m := n.GetMetrics()
	assert.EqualValues(t, 5, m["received_count"])
	assert.EqualValues(t, 1, m["errors_count"])
}

func TestDedupeWindowExpires(t *testing.T) {
	n := newInvalidator(InvalidatorConfig{DedupeWindow: 10 * time.Millisecond}, "a", logging.GetComponentLogger("cache"))
	n.recordKey("1:1")
	assert.True(t, n.isDuplicate("1:1"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, n.isDuplicate("1:1"))
	n.cleanupDedupe()
	assert.Empty(t, n.recentKeys)
}

type coldMap map[vec.Vec2]*merge.CellData

func (c coldMap) LoadCell(cell vec.Vec2) (*merge.CellData, error) { return c[cell], nil }

func redisConfig(t *testing.T) CacheConfig {
	t.Helper()
	addr := os.Getenv("LOD_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	return CacheConfig{RedisURL: addr, KeyPrefix: "lod-test:" + t.Name() + ":", TTL: time.Minute, Timeout: time.Second}
}

func TestCellCacheReadThrough(t *testing.T) {
	m, err := merge.NewMerger(world.NewGenerator(1, 117), nil, merge.DefaultSettings())
	require.NoError(t, err)
	cell := vec.Vec2{X: 4, Y: -2}
	data := m.MergeCell(cell, []world.ObjectRef{
		{ID: "rock", Type: world.TypeStatic, Model: "meshes/x/terrain_rock_01.nif", Position: mgl32.Vec3{470, 0, -200}, Scale: 1},
	})
	require.NotNil(t, data)

	c, err := NewCellCache(redisConfig(t), coldMap{cell: data}, nil)
	if err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Invalidate(ctx, cell))

	// Первый запрос: промах в Redis, чтение из холодного хранилища
	p, ok, err := c.LoadPrebaked(cell)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data.VertexCount, p.VertexCount)

	// Второй запрос: попадание в Redis
	loaded, err := c.LoadCell(ctx, cell)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, data.Bounds, loaded.Bounds)
	assert.Same(t, loaded.Material, loaded.Surface.Material)

	metrics := c.GetMetrics()
	assert.EqualValues(t, 2, metrics.TotalRequests)
	assert.EqualValues(t, 1, metrics.CacheHits)
	assert.EqualValues(t, 1, metrics.ColdHits)

	// Ячейки нет нигде
	missing, err := c.LoadCell(ctx, vec.Vec2{X: 999})
	assert.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, c.Invalidate(ctx, cell))
}
