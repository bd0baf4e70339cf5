package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/annel0/distant-lod/internal/lod"
	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/vec"
)

// Типы событий смены тира
const (
	EventCellEnteredTier = "CellEnteredTier"
	EventCellLeftTier    = "CellLeftTier"
)

// TierEvent - полезная нагрузка событий смены тира
type TierEvent struct {
	Cell vec.Vec2 `json:"cell"`
	Tier string   `json:"tier"`
}

// DecodeTierEvent разбирает полезную нагрузку события смены тира
func DecodeTierEvent(ev *Envelope) (TierEvent, error) {
	var te TierEvent
	err := json.Unmarshal(ev.Payload, &te)
	return te, err
}

// noWait - уже отменённый контекст: публикация не ждёт места в шине
var noWait = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

// TierPublisher публикует переходы ячеек между тирами в шину.
// Внешние загрузчики ближней геометрии и рельефа подписываются на эти события.
// Ближний тир публикуется с повышенным приоритетом: его не отбрасывает backpressure.
// Публикация никогда не блокирует тик: при полном буфере событие отбрасывается и считается.
type TierPublisher struct {
	bus     EventBus
	source  string
	failed  int64
	dropped int64
	logger  *logging.Logger
}

func NewTierPublisher(bus EventBus, source string) *TierPublisher {
	return &TierPublisher{bus: bus, source: source, logger: logging.GetComponentLogger("events")}
}

func (p *TierPublisher) CellEnteredTier(cell vec.Vec2, tier lod.Tier) {
	p.publish(EventCellEnteredTier, cell, tier)
}

func (p *TierPublisher) CellLeftTier(cell vec.Vec2, tier lod.Tier) {
	p.publish(EventCellLeftTier, cell, tier)
}

// Failed возвращает число событий, которые не удалось опубликовать
func (p *TierPublisher) Failed() int64 {
	return atomic.LoadInt64(&p.failed)
}

// Dropped возвращает число приоритетных событий, не поместившихся в буфер шины
func (p *TierPublisher) Dropped() int64 {
	return atomic.LoadInt64(&p.dropped)
}

func (p *TierPublisher) publish(eventType string, cell vec.Vec2, tier lod.Tier) {
	payload, err := json.Marshal(TierEvent{Cell: cell, Tier: tier.String()})
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		return
	}

	ev := NewEnvelope(p.source, eventType, payload)
	ev.Priority = 1
	if tier == lod.TierNear {
		ev.Priority = 5
	}

	err = p.bus.Publish(noWait, ev)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		if n := atomic.AddInt64(&p.dropped, 1); n == 1 || n%1000 == 0 {
			p.logger.Warn("⚠️ Шина переполнена, отброшено событий ближнего тира: %d", n)
		}
	default:
		atomic.AddInt64(&p.failed, 1)
		p.logger.Warn("Не удалось опубликовать %s для %s: %v", eventType, cell, err)
	}
}
