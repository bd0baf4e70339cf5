package lod

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/distant-lod/internal/world"
)

// Ошибки конфигурации тиров. Отклоняются при применении настроек, а не при запросах.
var (
	ErrInvalidCellSize   = errors.New("lod: cell size must be positive")
	ErrInvalidDistances  = errors.New("lod: tier distances must be non-negative and strictly increasing")
	ErrInvalidHysteresis = errors.New("lod: hysteresis margin must be non-negative")
	ErrUnknownTier       = errors.New("lod: unknown tier")
)

// Settings - плоское описание конфигурации тиров (из YAML или мира)
type Settings struct {
	MidStart        float64
	FarStart        float64
	HorizonStart    float64
	MaxViewDistance float64
	CellSize        float64
	// Hysteresis индексируется тиром: запас границы между тиром t и t+1
	Hysteresis [tierCount]float64
	Enabled    bool
}

// DefaultSettings возвращает настройки по умолчанию
func DefaultSettings() Settings {
	return Settings{
		MidStart:        500,
		FarStart:        2000,
		HorizonStart:    5000,
		MaxViewDistance: 10000,
		CellSize:        117,
		Hysteresis:      [tierCount]float64{16, 64, 128, 256},
		Enabled:         true,
	}
}

// TierConfig - изменяемая в течение сессии конфигурация тиров.
// Концы тиров всегда выводятся из начал и никогда не задаются напрямую.
type TierConfig struct {
	starts          [tierCount]float64
	ends            [tierCount]float64
	hysteresis      [tierCount]float64
	cellSize        float64
	maxViewDistance float64
	enabled         bool
	// base - настройки сессии без переопределений мира
	base Settings
}

// NewTierConfig проверяет настройки и создаёт конфигурацию
func NewTierConfig(s Settings) (*TierConfig, error) {
	starts := [tierCount]float64{0, s.MidStart, s.FarStart, s.HorizonStart}
	if err := validate(starts, s.MaxViewDistance, s.CellSize, s.Hysteresis); err != nil {
		return nil, err
	}

	c := &TierConfig{
		starts:          starts,
		hysteresis:      s.Hysteresis,
		cellSize:        s.CellSize,
		maxViewDistance: s.MaxViewDistance,
		enabled:         s.Enabled,
		base:            s,
	}
	c.recompute()
	return c, nil
}

// DefaultTierConfig возвращает конфигурацию по умолчанию
func DefaultTierConfig() *TierConfig {
	c, err := NewTierConfig(DefaultSettings())
	if err != nil {
		panic(fmt.Sprintf("lod: default settings invalid: %v", err))
	}
	return c
}

func validate(starts [tierCount]float64, maxView, cellSize float64, hysteresis [tierCount]float64) error {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidCellSize, cellSize)
	}
	if starts[0] != 0 {
		return fmt.Errorf("%w: near must start at 0", ErrInvalidDistances)
	}
	for i := 1; i < tierCount; i++ {
		if !(starts[i] > starts[i-1]) || math.IsInf(starts[i], 0) {
			return fmt.Errorf("%w: %s start %v <= %s start %v",
				ErrInvalidDistances, AllTiers[i], starts[i], AllTiers[i-1], starts[i-1])
		}
	}
	// HORIZON может совпадать с дальностью обзора: тогда его полоса пуста
	if !(maxView >= starts[tierCount-1]) || math.IsInf(maxView, 0) {
		return fmt.Errorf("%w: max view distance %v < horizon start %v",
			ErrInvalidDistances, maxView, starts[tierCount-1])
	}
	for i, m := range hysteresis {
		if !(m >= 0) || math.IsInf(m, 0) {
			return fmt.Errorf("%w: %s margin %v", ErrInvalidHysteresis, AllTiers[i], m)
		}
	}
	return nil
}

// recompute выводит концы тиров из начал
func (c *TierConfig) recompute() {
	for i := 0; i < tierCount-1; i++ {
		c.ends[i] = c.starts[i+1]
	}
	c.ends[tierCount-1] = c.maxViewDistance
}

// SetTierStarts задаёт начала MID, FAR и HORIZON
func (c *TierConfig) SetTierStarts(mid, far, horizon float64) error {
	starts := [tierCount]float64{0, mid, far, horizon}
	if err := validate(starts, c.maxViewDistance, c.cellSize, c.hysteresis); err != nil {
		return err
	}
	c.starts = starts
	c.base.MidStart, c.base.FarStart, c.base.HorizonStart = mid, far, horizon
	c.recompute()
	return nil
}

// SetMaxViewDistance задаёт дальность обзора (конец HORIZON)
func (c *TierConfig) SetMaxViewDistance(d float64) error {
	if err := validate(c.starts, d, c.cellSize, c.hysteresis); err != nil {
		return err
	}
	c.maxViewDistance = d
	c.base.MaxViewDistance = d
	c.recompute()
	return nil
}

// SetCellSize задаёт размер ячейки в метрах
func (c *TierConfig) SetCellSize(size float64) error {
	if err := validate(c.starts, c.maxViewDistance, size, c.hysteresis); err != nil {
		return err
	}
	c.cellSize = size
	c.base.CellSize = size
	return nil
}

// SetHysteresis задаёт запас границы между тиром t и следующим
func (c *TierConfig) SetHysteresis(t Tier, margin float64) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownTier, int(t))
	}
	h := c.hysteresis
	h[t] = margin
	if err := validate(c.starts, c.maxViewDistance, c.cellSize, h); err != nil {
		return err
	}
	c.hysteresis = h
	c.base.Hysteresis = h
	return nil
}

// SetEnabled включает или отключает дальние тиры
func (c *TierConfig) SetEnabled(enabled bool) {
	c.enabled = enabled
	c.base.Enabled = enabled
}

// ApplyOverrides применяет переопределения мира целиком или не применяет вовсе.
// Переопределения накладываются на базовые настройки сессии, а не на
// результат предыдущего мира. Мир может только отключить дальние тиры.
func (c *TierConfig) ApplyOverrides(o world.Settings) error {
	starts := [tierCount]float64{0, c.base.MidStart, c.base.FarStart, c.base.HorizonStart}
	for i, v := range o.TierStarts {
		if v > 0 {
			starts[i+1] = v
		}
	}
	maxView := c.base.MaxViewDistance
	if o.MaxViewDistance > 0 {
		maxView = o.MaxViewDistance
	}
	cellSize := c.base.CellSize
	if o.CellSize != 0 {
		cellSize = o.CellSize
	}

	if err := validate(starts, maxView, cellSize, c.hysteresis); err != nil {
		return fmt.Errorf("world overrides rejected: %w", err)
	}

	c.starts = starts
	c.maxViewDistance = maxView
	c.cellSize = cellSize
	c.enabled = c.base.Enabled && o.DistantSupported
	c.recompute()
	return nil
}

// Settings возвращает снимок текущей конфигурации
func (c *TierConfig) Settings() Settings {
	return Settings{
		MidStart:        c.starts[TierMid],
		FarStart:        c.starts[TierFar],
		HorizonStart:    c.starts[TierHorizon],
		MaxViewDistance: c.maxViewDistance,
		CellSize:        c.cellSize,
		Hysteresis:      c.hysteresis,
		Enabled:         c.enabled,
	}
}

// Start возвращает начало тира в метрах (0 для неизвестного тира)
func (c *TierConfig) Start(t Tier) float64 {
	if !t.Valid() {
		return 0
	}
	return c.starts[t]
}

// End возвращает конец тира в метрах (0 для неизвестного тира)
func (c *TierConfig) End(t Tier) float64 {
	if !t.Valid() {
		return 0
	}
	return c.ends[t]
}

// Range возвращает (начало, конец) тира; для неизвестного тира - нулевой диапазон
func (c *TierConfig) Range(t Tier) (start, end float64) {
	if !t.Valid() {
		return 0, 0
	}
	return c.starts[t], c.ends[t]
}

// Hysteresis возвращает запас границы тира
func (c *TierConfig) Hysteresis(t Tier) float64 {
	if !t.Valid() {
		return 0
	}
	return c.hysteresis[t]
}

func (c *TierConfig) CellSize() float64        { return c.cellSize }
func (c *TierConfig) MaxViewDistance() float64 { return c.maxViewDistance }
func (c *TierConfig) Enabled() bool            { return c.enabled }
