package lod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/distant-lod/internal/vec"
	"github.com/annel0/distant-lod/internal/world"
)

// scenarioConfig - тиры 0/500/2000/5000, обзор 5000 м, ячейка 117 м
func scenarioConfig(t *testing.T) *TierConfig {
	t.Helper()
	s := DefaultSettings()
	s.MaxViewDistance = 5000
	cfg, err := NewTierConfig(s)
	require.NoError(t, err)
	return cfg
}

func TestTierPriorityMonotonic(t *testing.T) {
	assert.Greater(t, TierNear.Priority(), TierMid.Priority())
	assert.Greater(t, TierMid.Priority(), TierFar.Priority())
	assert.Greater(t, TierFar.Priority(), TierHorizon.Priority())
	assert.Greater(t, TierHorizon.Priority(), TierNone.Priority())
	assert.Equal(t, 100, TierNear.Priority())
	assert.Equal(t, -1, TierNone.Priority())
	assert.Equal(t, -1, Tier(42).Priority())
}

func TestTierNames(t *testing.T) {
	for _, tier := range AllTiers {
		assert.Equal(t, tier, ParseTier(tier.String()))
	}
	assert.Equal(t, TierNone, ParseTier("somewhere"))
	assert.Equal(t, "UNKNOWN", Tier(-3).String())
}

func TestDefaultConfigRanges(t *testing.T) {
	cfg := DefaultTierConfig()

	start, end := cfg.Range(TierNear)
	assert.Equal(t, 0.0, start)
	assert.Equal(t, 500.0, end)

	start, end = cfg.Range(TierHorizon)
	assert.Equal(t, 5000.0, start)
	assert.Equal(t, 10000.0, end)

	// Для неизвестного тира - нулевой диапазон, а не ошибка
	start, end = cfg.Range(TierNone)
	assert.Equal(t, 0.0, start)
	assert.Equal(t, 0.0, end)

	assert.Equal(t, 16.0, cfg.Hysteresis(TierNear))
	assert.Equal(t, 117.0, cfg.CellSize())
	assert.True(t, cfg.Enabled())
}

func TestConfigRejectsInvalidValues(t *testing.T) {
	cfg := DefaultTierConfig()

	assert.ErrorIs(t, cfg.SetCellSize(0), ErrInvalidCellSize)
	assert.ErrorIs(t, cfg.SetCellSize(-117), ErrInvalidCellSize)
	assert.Equal(t, 117.0, cfg.CellSize(), "размер ячейки не должен меняться после ошибки")

	assert.ErrorIs(t, cfg.SetTierStarts(2000, 500, 5000), ErrInvalidDistances)
	assert.ErrorIs(t, cfg.SetTierStarts(0, 500, 5000), ErrInvalidDistances)
	assert.ErrorIs(t, cfg.SetTierStarts(500, 2000, 20000), ErrInvalidDistances)
	assert.Equal(t, 500.0, cfg.End(TierNear))

	assert.ErrorIs(t, cfg.SetMaxViewDistance(4000), ErrInvalidDistances)
	assert.ErrorIs(t, cfg.SetHysteresis(TierMid, -1), ErrInvalidHysteresis)
	assert.ErrorIs(t, cfg.SetHysteresis(TierNone, 10), ErrUnknownTier)

	_, err := NewTierConfig(Settings{MidStart: 500, FarStart: 2000, HorizonStart: 5000, MaxViewDistance: 10000})
	assert.ErrorIs(t, err, ErrInvalidCellSize)
}

func TestConfigEndsFollowStarts(t *testing.T) {
	cfg := DefaultTierConfig()
	require.NoError(t, cfg.SetTierStarts(300, 1000, 4000))

	assert.Equal(t, 300.0, cfg.End(TierNear))
	assert.Equal(t, 1000.0, cfg.End(TierMid))
	assert.Equal(t, 4000.0, cfg.End(TierFar))
	assert.Equal(t, 10000.0, cfg.End(TierHorizon))

	require.NoError(t, cfg.SetMaxViewDistance(6000))
	assert.Equal(t, 6000.0, cfg.End(TierHorizon))
}

func TestApplyOverridesIsAtomic(t *testing.T) {
	cfg := DefaultTierConfig()

	err := cfg.ApplyOverrides(world.Settings{
		TierStarts:       [3]float64{800, 0, 0},
		CellSize:         -1,
		DistantSupported: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCellSize)
	assert.Equal(t, 500.0, cfg.Start(TierMid), "при ошибке конфигурация не меняется")

	require.NoError(t, cfg.ApplyOverrides(world.Settings{
		TierStarts:       [3]float64{800, 0, 0},
		CellSize:         8192,
		DistantSupported: false,
	}))
	assert.Equal(t, 800.0, cfg.Start(TierMid))
	assert.Equal(t, 2000.0, cfg.Start(TierFar))
	assert.Equal(t, 8192.0, cfg.CellSize())
	assert.False(t, cfg.Enabled())
}

func TestResolveWithoutMemory(t *testing.T) {
	c := NewClassifier(DefaultTierConfig())

	cases := []struct {
		distance float64
		want     Tier
	}{
		{-5, TierNear},
		{0, TierNear},
		{500, TierNear},
		{501, TierMid},
		{2000, TierMid},
		{4999, TierFar},
		{9999, TierHorizon},
		{10000, TierHorizon},
		{10001, TierNone},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.TierForDistance(tc.distance), "distance %v", tc.distance)
	}
	assert.Equal(t, 0, c.TrackedCount(), "TierForDistance не трогает память")

	for i, tc := range cases {
		cell := vec.Vec2{X: i, Y: 0}
		assert.Equal(t, tc.want, c.ResolveCellTier(cell, tc.distance), "distance %v", tc.distance)
	}
}

func TestBeyondViewIgnoresMemory(t *testing.T) {
	c := NewClassifier(DefaultTierConfig())
	cell := vec.Vec2{X: 3, Y: 4}

	require.Equal(t, TierHorizon, c.ResolveCellTier(cell, 9990))
	assert.Equal(t, TierNone, c.ResolveCellTier(cell, 10500))

	tracked, ok := c.TrackedTier(cell)
	require.True(t, ok)
	assert.Equal(t, TierHorizon, tracked, "за пределами обзора память не обновляется")

	assert.Equal(t, TierNone, c.ResolveCellTier(vec.Vec2{X: 99, Y: 99}, 20000))
	_, ok = c.TrackedTier(vec.Vec2{X: 99, Y: 99})
	assert.False(t, ok)
}

func TestHysteresisMovingCloser(t *testing.T) {
	c := NewClassifier(DefaultTierConfig())
	cell := vec.Vec2{X: 4, Y: 0}
	margin := c.Config().Hysteresis(TierNear)
	threshold := c.Config().Start(TierMid) - margin

	require.Equal(t, TierMid, c.ResolveCellTier(cell, 510))

	// 495 м - полоса NEAR, но внутри мёртвой зоны
	assert.Equal(t, TierMid, c.ResolveCellTier(cell, 495))
	assert.Equal(t, TierMid, c.ResolveCellTier(cell, threshold))
	assert.Equal(t, TierNear, c.ResolveCellTier(cell, threshold-1))

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.HysteresisHolds)
	assert.Equal(t, int64(1), stats.Transitions)
}

func TestHysteresisMovingAway(t *testing.T) {
	c := NewClassifier(DefaultTierConfig())
	cell := vec.Vec2{X: 0, Y: 4}
	threshold := c.Config().End(TierNear) + c.Config().Hysteresis(TierNear)

	require.Equal(t, TierNear, c.ResolveCellTier(cell, 480))
	assert.Equal(t, TierNear, c.ResolveCellTier(cell, 510))
	assert.Equal(t, TierNear, c.ResolveCellTier(cell, threshold))
	assert.Equal(t, TierMid, c.ResolveCellTier(cell, threshold+1))

	// Перескок через несколько тиров не удерживается гистерезисом ближнего края
	assert.Equal(t, TierHorizon, c.ResolveCellTier(cell, 6000))
}

func TestHysteresisUsesFinerTierMargin(t *testing.T) {
	cfg := DefaultTierConfig()
	require.NoError(t, cfg.SetHysteresis(TierMid, 300))
	c := NewClassifier(cfg)
	cell := vec.Vec2{X: 1, Y: 1}

	// Граница MID/FAR (2000 м): запас берётся у MID
	require.Equal(t, TierFar, c.ResolveCellTier(cell, 2100))
	assert.Equal(t, TierFar, c.ResolveCellTier(cell, 1750))
	assert.Equal(t, TierMid, c.ResolveCellTier(cell, 1650))
}

func TestDisabledModeIgnoresMemory(t *testing.T) {
	cfg := DefaultTierConfig()
	c := NewClassifier(cfg)
	cell := vec.Vec2{X: 2, Y: 2}

	require.Equal(t, TierMid, c.ResolveCellTier(cell, 510))
	cfg.SetEnabled(false)

	assert.Equal(t, TierNear, c.ResolveCellTier(cell, 495))
	assert.Equal(t, TierNear, c.ResolveCellTier(cell, 500))
	assert.Equal(t, TierNone, c.ResolveCellTier(cell, 501))
	assert.Equal(t, TierNone, c.ResolveCellTier(cell, 3000))
	assert.Equal(t, TierNone, c.TierForDistance(3000))

	tracked, ok := c.TrackedTier(cell)
	require.True(t, ok)
	assert.Equal(t, TierMid, tracked, "в отключённом режиме память не трогается")

	assert.Empty(t, c.CellsForTier(vec.Vec2{}, TierMid))
	view := c.CellsInView(vec.Vec2{})
	assert.Len(t, view, 1)
	assert.NotEmpty(t, view[TierNear])
}

func TestCellRadiusAndDistance(t *testing.T) {
	c := NewClassifier(DefaultTierConfig())

	assert.Equal(t, 5, c.CellRadius(TierNear))
	assert.Equal(t, 18, c.CellRadius(TierMid))
	assert.Equal(t, 86, c.CellRadius(TierHorizon))
	assert.Equal(t, 0, c.CellRadius(TierNone))

	assert.InDelta(t, 585.0, c.CellDistance(vec.Vec2{}, vec.Vec2{X: 5, Y: 0}), 1e-9)
	assert.InDelta(t, 585.0, c.CellDistance(vec.Vec2{X: 1, Y: 1}, vec.Vec2{X: 4, Y: 5}), 1e-9)
	assert.Equal(t, 50, c.Priority(TierMid))
}

func TestCellsInViewTracksEveryReturnedCell(t *testing.T) {
	c := NewClassifier(scenarioConfig(t))
	camera := vec.Vec2{X: 10, Y: -3}

	view := c.CellsInView(camera)
	_, hasNone := view[TierNone]
	assert.False(t, hasNone)

	total := 0
	for tier, cells := range view {
		total += len(cells)
		for _, cell := range cells {
			assert.Equal(t, tier, c.TierForDistance(c.CellDistance(camera, cell)))
		}
	}
	assert.Equal(t, total, c.TrackedCount())
	assert.Contains(t, view[TierNear], camera)

	// Построчный порядок
	near := view[TierNear]
	for i := 1; i < len(near); i++ {
		prev, cur := near[i-1], near[i]
		assert.True(t, prev.Y < cur.Y || (prev.Y == cur.Y && prev.X < cur.X))
	}
}

func TestCellsForTierDoesNotTouchMemory(t *testing.T) {
	c := NewClassifier(DefaultTierConfig())
	camera := vec.Vec2{X: -7, Y: 12}

	mid := c.CellsForTier(camera, TierMid)
	require.NotEmpty(t, mid)
	for _, cell := range mid {
		assert.Equal(t, TierMid, c.TierForDistance(c.CellDistance(camera, cell)))
	}
	assert.NotContains(t, mid, camera)
	assert.Contains(t, c.CellsForTier(camera, TierNear), camera)
	assert.Nil(t, c.CellsForTier(camera, TierNone))
	assert.Equal(t, 0, c.TrackedCount())
}

func TestForgetAndClear(t *testing.T) {
	c := NewClassifier(DefaultTierConfig())
	a, b := vec.Vec2{X: 1}, vec.Vec2{X: 2}
	c.ResolveCellTier(a, 600)
	c.ResolveCellTier(b, 700)
	require.Equal(t, 2, c.TrackedCount())

	c.Forget(a)
	_, ok := c.TrackedTier(a)
	assert.False(t, ok)
	assert.Equal(t, 1, c.TrackedCount())

	// После Forget гистерезиса нет: 495 м сразу NEAR
	c.ResolveCellTier(a, 510)
	c.Forget(a)
	assert.Equal(t, TierNear, c.ResolveCellTier(a, 495))

	c.Clear()
	assert.Equal(t, 0, c.TrackedCount())
	assert.Equal(t, 0, c.Stats().TrackedCells)
}

func TestEndToEndScenarioClassification(t *testing.T) {
	c := NewClassifier(scenarioConfig(t))
	target := vec.Vec2{X: 5, Y: 0}

	view := c.CellsInView(vec.Vec2{X: 0, Y: 0})
	assert.Contains(t, view[TierMid], target)
	tracked, ok := c.TrackedTier(target)
	require.True(t, ok)
	assert.Equal(t, TierMid, tracked)

	// Следующий тик: цель в 480 м
	assert.Equal(t, TierNear, c.ResolveCellTier(target, 480))
	tracked, _ = c.TrackedTier(target)
	assert.Equal(t, TierNear, tracked)

	// Без памяти сырой тир на 480 м - NEAR
	fresh := NewClassifier(scenarioConfig(t))
	assert.Equal(t, TierNear, fresh.ResolveCellTier(target, 480))
	tracked, _ = fresh.TrackedTier(target)
	assert.Equal(t, TierNear, tracked)

	// HORIZON совпадает с дальностью обзора: полоса пуста
	assert.Equal(t, TierFar, fresh.TierForDistance(5000))
	assert.Equal(t, TierNone, fresh.TierForDistance(5001))
}

func TestApplyOverridesStartFromBaseSettings(t *testing.T) {
	cfg := DefaultTierConfig()

	require.NoError(t, cfg.ApplyOverrides(world.Settings{
		TierStarts:       [3]float64{800, 3000, 6000},
		DistantSupported: true,
	}))
	assert.Equal(t, 800.0, cfg.Start(TierMid))

	// Следующий мир без переопределений возвращает базовые значения
	require.NoError(t, cfg.ApplyOverrides(world.Settings{DistantSupported: true}))
	assert.Equal(t, 500.0, cfg.Start(TierMid))
	assert.Equal(t, 2000.0, cfg.Start(TierFar))
	assert.Equal(t, 5000.0, cfg.Start(TierHorizon))

	// Запрещённая тем же миром дальность обзора не мешает базе
	require.NoError(t, cfg.ApplyOverrides(world.Settings{
		TierStarts:       [3]float64{0, 0, 4000},
		MaxViewDistance:  4000,
		DistantSupported: true,
	}))
	require.NoError(t, cfg.ApplyOverrides(world.Settings{DistantSupported: true}))
	assert.Equal(t, 10000.0, cfg.MaxViewDistance())
}

func TestApplyOverridesKeepsDisabledBase(t *testing.T) {
	s := DefaultSettings()
	s.Enabled = false
	cfg, err := NewTierConfig(s)
	require.NoError(t, err)

	require.NoError(t, cfg.ApplyOverrides(world.Settings{DistantSupported: true}))
	assert.False(t, cfg.Enabled(), "мир не включает отключённый дальний рендер")

	cfg.SetEnabled(true)
	require.NoError(t, cfg.ApplyOverrides(world.Settings{DistantSupported: true}))
	assert.True(t, cfg.Enabled())

	require.NoError(t, cfg.ApplyOverrides(world.Settings{DistantSupported: false}))
	assert.False(t, cfg.Enabled())
	require.NoError(t, cfg.ApplyOverrides(world.Settings{DistantSupported: true}))
	assert.True(t, cfg.Enabled())
}

func TestCellsForTierMatchesFullScan(t *testing.T) {
	c := NewClassifier(DefaultTierConfig())
	camera := vec.Vec2{X: 3, Y: -2}

	assert.Contains(t, c.CellsForTier(camera, TierFar), vec.Vec2{X: camera.X + 16, Y: camera.Y + 16})

	for _, tier := range AllTiers {
		radius := c.CellRadius(tier)
		want := make(map[vec.Vec2]bool)
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				cell := vec.Vec2{X: camera.X + dx, Y: camera.Y + dy}
				if c.TierForDistance(c.CellDistance(camera, cell)) == tier {
					want[cell] = true
				}
			}
		}

		got := c.CellsForTier(camera, tier)
		assert.Len(t, got, len(want), "тир %s", tier)
		for _, cell := range got {
			assert.True(t, want[cell], "тир %s: лишняя ячейка %v", tier, cell)
		}
	}
}
