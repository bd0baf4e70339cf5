// Package lod классифицирует ячейки мира по тирам детализации
// (NEAR/MID/FAR/HORIZON) с гистерезисом на границах тиров.
package lod

// Tier - уровень детализации ячейки. Меньший номер - более детальный тир.
type Tier int

const (
	TierNear Tier = iota
	TierMid
	TierFar
	TierHorizon
	TierNone // Не загружать
)

// tierCount - количество конкретных тиров (без TierNone)
const tierCount = 4

// AllTiers - конкретные тиры от детального к грубому
var AllTiers = [tierCount]Tier{TierNear, TierMid, TierFar, TierHorizon}

// Приоритеты загрузки: чем выше, тем раньше
var tierPriority = map[Tier]int{
	TierNear:    100,
	TierMid:     50,
	TierFar:     25,
	TierHorizon: 0,
	TierNone:    -1,
}

// String возвращает имя тира
func (t Tier) String() string {
	switch t {
	case TierNear:
		return "NEAR"
	case TierMid:
		return "MID"
	case TierFar:
		return "FAR"
	case TierHorizon:
		return "HORIZON"
	case TierNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Valid сообщает, что это конкретный тир (не NONE и не мусор)
func (t Tier) Valid() bool {
	return t >= TierNear && t <= TierHorizon
}

// Priority возвращает приоритет загрузки тира
func (t Tier) Priority() int {
	if p, ok := tierPriority[t]; ok {
		return p
	}
	return tierPriority[TierNone]
}

// IsFinerThan сообщает, что тир детальнее other
func (t Tier) IsFinerThan(other Tier) bool {
	return t < other
}

// ParseTier разбирает имя тира; неизвестные имена дают TierNone
func ParseTier(s string) Tier {
	switch s {
	case "NEAR", "near":
		return TierNear
	case "MID", "mid":
		return TierMid
	case "FAR", "far":
		return TierFar
	case "HORIZON", "horizon":
		return TierHorizon
	default:
		return TierNone
	}
}

func minTier(a, b Tier) Tier {
	if a < b {
		return a
	}
	return b
}
