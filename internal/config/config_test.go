package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/distant-lod/internal/lod"
	"github.com/annel0/distant-lod/internal/world"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lod.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	tiers, err := cfg.TierConfig()
	require.NoError(t, err)
	assert.Equal(t, 500.0, tiers.End(lod.TierNear))
	assert.Equal(t, 64.0, tiers.Hysteresis(lod.TierMid))

	ms := cfg.MergeSettings()
	assert.Contains(t, ms.AllowedTypes, world.TypeDoor)
	assert.InDelta(t, 0.05, ms.SimplifyRatio, 1e-6)
}

func TestLoadWithoutPathUsesDefaults(t *testing.T) {
	t.Setenv("LOD_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
tiers:
  enabled: true
  mid_start: 400
  max_view_distance: 5000
  hysteresis:
    near: 8
merge:
  max_vertices: 30000
world:
  id: solstheim
render:
  merges_per_tick: 4
logging:
  components:
    merge: DEBUG
`)
	t.Setenv("LOD_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 400.0, cfg.Tiers.MidStart)
	assert.Equal(t, 2000.0, cfg.Tiers.FarStart, "незаданные поля остаются по умолчанию")
	assert.Equal(t, 8.0, cfg.Tiers.Hysteresis["near"])
	assert.Equal(t, 64.0, cfg.Tiers.Hysteresis["mid"])
	assert.Equal(t, 30000, cfg.Merge.MaxVertices)
	assert.Equal(t, "solstheim", cfg.World.ID)
	assert.Equal(t, map[string]string{"merge": "DEBUG"}, cfg.Logging.Components)
	assert.Equal(t, 4, cfg.Render.MergesPerTick)
	assert.Equal(t, 20, cfg.Render.TickRate)
}

func TestLoadRejectsInvalidTiers(t *testing.T) {
	cases := map[string]string{
		"inverted":      "tiers:\n  mid_start: 3000\n",
		"zero cell":     "tiers:\n  cell_size: 0\n",
		"unknown tier":  "tiers:\n  hysteresis:\n    ultra: 5\n",
		"bad merge":     "merge:\n  simplify_ratio: 2\n",
		"bad tick rate": "render:\n  tick_rate: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(writeConfig(t, "tiers:\n  cell_size: -1\n"))
	assert.ErrorIs(t, err, lod.ErrInvalidCellSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestPortFallback(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("LOD_API_PORT", "")
	t.Setenv("LOD_METRICS_PORT", "9100")

	assert.Equal(t, 8088, s.GetAPIPort())
	assert.Equal(t, 9100, s.GetMetricsPort())

	s.MetricsPort = 9200
	assert.Equal(t, 9200, s.GetMetricsPort())
}

func TestCacheSection(t *testing.T) {
	path := writeConfig(t, `
world:
  id: solstheim
storage:
  use_prebaked: true
cache:
  enabled: true
  redis:
    ttl: 10m
  nats:
    nats_url: nats://localhost:4222
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	t.Setenv("LOD_REDIS_URL", "")
	rc := cfg.RedisConfig()
	assert.Equal(t, "localhost:6379", rc.RedisURL)
	assert.Equal(t, "lod:solstheim:", rc.KeyPrefix)
	assert.Equal(t, 10*time.Minute, rc.TTL)

	t.Setenv("LOD_NATS_URL", "nats://bus:4222")
	assert.Equal(t, "nats://bus:4222", cfg.NATSConfig().NATSURL)

	_, err = Load(writeConfig(t, "cache:\n  enabled: true\n"))
	assert.Error(t, err, "кеш без хранилища запечённых ячеек бессмыслен")
}

func TestEventsSection(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
events:
  enabled: true
  jetstream_url: nats://localhost:4222
  retention: 30m
`))
	require.NoError(t, err)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.JetStreamURL)
	assert.Equal(t, 30*time.Minute, cfg.Events.Retention)
	assert.Equal(t, "LOD_EVENTS", cfg.Events.Stream, "не указанные поля берутся из значений по умолчанию")
	assert.Equal(t, 1024, cfg.Events.BufferSize)

	_, err = Load(writeConfig(t, "events:\n  buffer_size: -1\n"))
	assert.Error(t, err)
}
