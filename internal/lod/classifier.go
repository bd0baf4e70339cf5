package lod

import (
	"math"

	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/vec"
)

// ClassifierStats - счётчики классификатора
type ClassifierStats struct {
	Resolutions     int64 // Вызовов ResolveCellTier
	HysteresisHolds int64 // Сколько раз гистерезис удержал прежний тир
	Transitions     int64 // Смен тира у отслеживаемых ячеек
	TrackedCells    int   // Размер памяти тиров
}

// Classifier сопоставляет ячейкам тиры и помнит последний тир каждой ячейки.
// Не потокобезопасен: вызывается из одного цикла обновления.
type Classifier struct {
	cfg    *TierConfig
	memory map[vec.Vec2]Tier
	stats  ClassifierStats
	logger *logging.Logger
}

// NewClassifier создаёт классификатор; nil-конфигурация заменяется конфигурацией по умолчанию
func NewClassifier(cfg *TierConfig) *Classifier {
	if cfg == nil {
		cfg = DefaultTierConfig()
	}
	return &Classifier{
		cfg:    cfg,
		memory: make(map[vec.Vec2]Tier),
		logger: logging.GetTierLogger(),
	}
}

// Config возвращает конфигурацию тиров
func (c *Classifier) Config() *TierConfig {
	return c.cfg
}

// rawTier - прямой поиск полосы без памяти. Полосы включают верхнюю границу.
func (c *Classifier) rawTier(distance float64) Tier {
	if distance > c.cfg.maxViewDistance || math.IsNaN(distance) {
		return TierNone
	}
	for _, t := range AllTiers {
		if distance <= c.cfg.ends[t] {
			return t
		}
	}
	return TierNone
}

// disabledTier - режим без дальних тиров: только NEAR
func (c *Classifier) disabledTier(distance float64) Tier {
	if distance <= c.cfg.ends[TierNear] {
		return TierNear
	}
	return TierNone
}

// TierForDistance возвращает тир для расстояния без учёта и изменения памяти
func (c *Classifier) TierForDistance(distance float64) Tier {
	if !c.cfg.enabled {
		return c.disabledTier(distance)
	}
	return c.rawTier(distance)
}

// ResolveCellTier определяет тир ячейки на расстоянии distance с гистерезисом
// и запоминает результат.
func (c *Classifier) ResolveCellTier(cell vec.Vec2, distance float64) Tier {
	if !c.cfg.enabled {
		return c.disabledTier(distance)
	}

	c.stats.Resolutions++

	// За пределами обзора память не трогаем
	if distance > c.cfg.maxViewDistance || math.IsNaN(distance) {
		return TierNone
	}

	raw := c.rawTier(distance)
	resolved := raw

	previous, known := c.memory[cell]
	if known && previous != raw && previous.Valid() {
		margin := c.cfg.hysteresis[minTier(previous, raw)]

		if raw.IsFinerThan(previous) {
			// Камера приблизилась: переходим на детальный тир только за мёртвой зоной
			if !(distance < c.cfg.starts[previous]-margin) {
				resolved = previous
			}
		} else {
			// Камера удалилась: переходим на грубый тир только за мёртвой зоной
			if !(distance > c.cfg.ends[previous]+margin) {
				resolved = previous
			}
		}

		if resolved == previous {
			c.stats.HysteresisHolds++
		}
	}

	if known && previous != resolved {
		c.stats.Transitions++
		logging.LogCellTransition(cell.X, cell.Y, previous.String(), resolved.String(), distance)
	}

	c.memory[cell] = resolved
	return resolved
}

// Priority возвращает приоритет загрузки тира
func (c *Classifier) Priority(t Tier) int {
	return t.Priority()
}

// CellRadius возвращает радиус в ячейках, покрывающий конец тира
func (c *Classifier) CellRadius(t Tier) int {
	if !t.Valid() {
		return 0
	}
	return int(math.Ceil(c.cfg.ends[t] / c.cfg.cellSize))
}

// CellDistance возвращает расстояние между ячейками в метрах
func (c *Classifier) CellDistance(a, b vec.Vec2) float64 {
	return a.DistanceTo(b) * c.cfg.cellSize
}

// maxRadius - радиус поиска кандидатов с учётом режима
func (c *Classifier) maxRadius() int {
	if !c.cfg.enabled {
		return c.CellRadius(TierNear)
	}
	r := 0
	for _, t := range AllTiers {
		if rt := c.CellRadius(t); rt > r {
			r = rt
		}
	}
	return r
}

// CellsInView классифицирует все ячейки в квадрате вокруг камеры (с памятью).
// Ячейки с TierNone не включаются. Порядок внутри тира - построчный.
func (c *Classifier) CellsInView(camera vec.Vec2) map[Tier][]vec.Vec2 {
	radius := c.maxRadius()
	result := make(map[Tier][]vec.Vec2, tierCount)

	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			cell := vec.Vec2{X: camera.X + dx, Y: camera.Y + dy}
			tier := c.ResolveCellTier(cell, c.CellDistance(camera, cell))
			if tier == TierNone {
				continue
			}
			result[tier] = append(result[tier], cell)
		}
	}
	return result
}

// CellsForTier возвращает кольцо ячеек тира по мин/макс радиусу без изменения памяти.
// Используется для оценки бюджета.
func (c *Classifier) CellsForTier(camera vec.Vec2, t Tier) []vec.Vec2 {
	if !t.Valid() || (!c.cfg.enabled && t != TierNear) {
		return nil
	}

	// Клетка с |dx|,|dy| < minRadius лежит не дальше minRadius*cellSize*√2 от камеры
	minRadius := int(math.Floor(c.cfg.starts[t] / (c.cfg.cellSize * math.Sqrt2)))
	maxRadius := c.CellRadius(t)

	var cells []vec.Vec2
	for dy := -maxRadius; dy <= maxRadius; dy++ {
		for dx := -maxRadius; dx <= maxRadius; dx++ {
			// Внутренний квадрат заведомо ближе начала тира
			if abs(dx) < minRadius && abs(dy) < minRadius && minRadius > 0 {
				continue
			}
			cell := vec.Vec2{X: camera.X + dx, Y: camera.Y + dy}
			if c.TierForDistance(c.CellDistance(camera, cell)) == t {
				cells = append(cells, cell)
			}
		}
	}
	return cells
}

// TrackedTier возвращает запомненный тир ячейки
func (c *Classifier) TrackedTier(cell vec.Vec2) (Tier, bool) {
	t, ok := c.memory[cell]
	return t, ok
}

// TrackedCount возвращает количество ячеек в памяти
func (c *Classifier) TrackedCount() int {
	return len(c.memory)
}

// Forget удаляет память ячейки (выгрузка ячейки)
func (c *Classifier) Forget(cell vec.Vec2) {
	delete(c.memory, cell)
}

// Clear очищает всю память (смена мира, телепорт)
func (c *Classifier) Clear() {
	c.memory = make(map[vec.Vec2]Tier)
	c.logger.Debug("Память тиров очищена")
}

// Stats возвращает снимок счётчиков
func (c *Classifier) Stats() ClassifierStats {
	s := c.stats
	s.TrackedCells = len(c.memory)
	return s
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
