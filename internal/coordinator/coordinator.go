// Package coordinator связывает классификатор тиров, объединитель мешей и рендерер
// в один цикл обновления по положению камеры.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/annel0/distant-lod/internal/lod"
	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/mesh"
	"github.com/annel0/distant-lod/internal/observability"
	"github.com/annel0/distant-lod/internal/render"
	"github.com/annel0/distant-lod/internal/vec"
	"github.com/annel0/distant-lod/internal/world"
)

// DefaultMergesPerTick - сколько ячеек объединяется за один тик
const DefaultMergesPerTick = 2

// ErrNoProvider возвращается New без провайдера мира
var ErrNoProvider = errors.New("coordinator: world provider is required")

// TierListener получает события смены тира ячеек. Через него внешние загрузчики
// (полные меши ближнего тира, текстуры террейна) узнают о своих ячейках.
// Вызывается после тика, когда блокировка координатора уже снята: слушатель может
// читать состояние координатора, но не должен вызывать Update или ChangeWorld.
type TierListener interface {
	CellEnteredTier(cell vec.Vec2, tier lod.Tier)
	CellLeftTier(cell vec.Vec2, tier lod.Tier)
}

// NopListener - слушатель по умолчанию
type NopListener struct{}

func (NopListener) CellEnteredTier(vec.Vec2, lod.Tier) {}
func (NopListener) CellLeftTier(vec.Vec2, lod.Tier)    {}

// tierEvent - отложенное уведомление слушателя
type tierEvent struct {
	cell    vec.Vec2
	tier    lod.Tier
	entered bool
}

// PrebakedSource отдаёт заранее собранные меши ячеек
type PrebakedSource interface {
	// LoadPrebaked возвращает false без ошибки, если для ячейки ничего нет
	LoadPrebaked(cell vec.Vec2) (render.Prebaked, bool, error)
}

// Options - зависимости и параметры координатора
type Options struct {
	Tiers         *lod.TierConfig
	Provider      world.Provider
	Loader        world.ModelLoader
	Simplifier    mesh.Simplifier
	MergeSettings merge.Settings
	Backend       render.Backend
	Prebaked      PrebakedSource
	Listener      TierListener
	MergesPerTick int
	WorldID       string
}

// UpdateResult - итог одного тика
type UpdateResult struct {
	CellsByTier       map[string]int `json:"cells_by_tier"`
	Entered           int            `json:"entered"`
	Left              int            `json:"left"`
	Queued            int            `json:"queued"`
	Added             int            `json:"added"`
	AddFailed         int            `json:"add_failed"`
	Removed           int            `json:"removed"`
	VisibilityChanged int            `json:"visibility_changed"`
	Duration          time.Duration  `json:"duration"`
}

// Coordinator выполняет тик LOD: классификация, очередь слияния, выгрузка, видимость.
// Методы безопасны для вызова из разных горутин.
type Coordinator struct {
	mu sync.Mutex
	// notifyMu сохраняет порядок уведомлений между тиками
	notifyMu sync.Mutex

	tiers      *lod.TierConfig
	classifier *lod.Classifier
	merger     *merge.Merger
	renderer   *render.Renderer
	backend    render.Backend
	provider   world.Provider
	prebaked   PrebakedSource
	listener   TierListener

	mergesPerTick int
	worldID       string
	camera        vec.Vec2
	ticks         int64

	// current - тир каждой ячейки в зоне видимости на последнем тике
	current map[vec.Vec2]lod.Tier
	queue   []vec.Vec2
	pending map[vec.Vec2]struct{}
	// failed - ячейки среднего тира, которые нечем заполнить; сбрасываются при выходе из тира
	failed map[vec.Vec2]struct{}

	last   UpdateResult
	logger *logging.Logger
}

// New создаёт координатор
func New(opts Options) (*Coordinator, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	tiers := opts.Tiers
	if tiers == nil {
		tiers = lod.DefaultTierConfig()
	}
	if opts.MergeSettings.MaxVertices == 0 {
		opts.MergeSettings = merge.DefaultSettings()
	}
	merger, err := merge.NewMerger(opts.Loader, opts.Simplifier, opts.MergeSettings)
	if err != nil {
		return nil, fmt.Errorf("create merger: %w", err)
	}
	listener := opts.Listener
	if listener == nil {
		listener = NopListener{}
	}
	perTick := opts.MergesPerTick
	if perTick <= 0 {
		perTick = DefaultMergesPerTick
	}

	c := &Coordinator{
		tiers:         tiers,
		classifier:    lod.NewClassifier(tiers),
		merger:        merger,
		renderer:      render.NewRenderer(opts.Backend, merger, opts.Provider),
		backend:       opts.Backend,
		provider:      opts.Provider,
		prebaked:      opts.Prebaked,
		listener:      listener,
		mergesPerTick: perTick,
		worldID:       opts.WorldID,
		current:       make(map[vec.Vec2]lod.Tier),
		pending:       make(map[vec.Vec2]struct{}),
		failed:        make(map[vec.Vec2]struct{}),
		logger:        logging.GetComponentLogger("coordinator"),
	}

	if opts.WorldID != "" {
		if err := c.tiers.ApplyOverrides(opts.Provider.WorldSettings(opts.WorldID)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Update выполняет один тик для камеры в ячейке cameraCell с мировой позицией cameraPos
func (c *Coordinator) Update(ctx context.Context, cameraCell vec.Vec2, cameraPos mgl32.Vec3) UpdateResult {
	c.mu.Lock()
	result, events := c.update(ctx, cameraCell, cameraPos)
	c.notifyMu.Lock()
	c.mu.Unlock()

	c.notify(events)
	c.notifyMu.Unlock()
	return result
}

// notify передаёт накопленные за тик события слушателю
func (c *Coordinator) notify(events []tierEvent) {
	for _, ev := range events {
		if ev.entered {
			c.listener.CellEnteredTier(ev.cell, ev.tier)
		} else {
			c.listener.CellLeftTier(ev.cell, ev.tier)
		}
	}
}

func (c *Coordinator) update(ctx context.Context, cameraCell vec.Vec2, cameraPos mgl32.Vec3) (UpdateResult, []tierEvent) {
	ctx, span := observability.Tracer().Start(ctx, "lod.update")
	defer span.End()
	span.SetAttributes(
		attribute.Int("lod.camera.x", cameraCell.X),
		attribute.Int("lod.camera.y", cameraCell.Y),
	)

	start := time.Now()
	c.camera = cameraCell
	c.ticks++
	result := UpdateResult{CellsByTier: make(map[string]int)}
	var events []tierEvent

	view := c.classifier.CellsInView(cameraCell)
	next := make(map[vec.Vec2]lod.Tier, len(c.current))
	for tier, cells := range view {
		result.CellsByTier[tier.String()] = len(cells)
		for _, cell := range cells {
			next[cell] = tier
		}
	}

	// Выход из тиров
	for cell, prev := range c.current {
		tier, inView := next[cell]
		if inView && tier == prev {
			continue
		}
		events = append(events, tierEvent{cell: cell, tier: prev})
		result.Left++

		if prev == lod.TierMid {
			if c.renderer.IsLoaded(cell) {
				c.renderer.RemoveCell(cell)
				result.Removed++
			}
			delete(c.pending, cell)
			delete(c.failed, cell)
		}
		if !inView {
			c.classifier.Forget(cell)
		}
	}

	// Вход в тиры
	for cell, tier := range next {
		if prev, ok := c.current[cell]; ok && prev == tier {
			continue
		}
		events = append(events, tierEvent{cell: cell, tier: tier, entered: true})
		result.Entered++
	}
	c.current = next

	// Ставим в очередь все незагруженные ячейки среднего тира, в том числе после телепорта
	for _, cell := range view[lod.TierMid] {
		if !c.renderer.IsLoaded(cell) {
			c.enqueue(cell)
		}
	}

	c.compactQueue()
	result.Added, result.AddFailed = c.drainQueue(ctx, cameraCell)
	result.Queued = len(c.queue)

	maxDistance := c.tiers.End(lod.TierMid) + c.tiers.Hysteresis(lod.TierMid)
	result.VisibilityChanged = c.renderer.UpdateVisibility(cameraPos, float32(maxDistance))
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("lod.cells.entered", result.Entered),
		attribute.Int("lod.cells.left", result.Left),
		attribute.Int("lod.cells.added", result.Added),
		attribute.Int("lod.queue", result.Queued),
	)

	c.last = result
	return result, events
}

func (c *Coordinator) enqueue(cell vec.Vec2) {
	if _, queued := c.pending[cell]; queued {
		return
	}
	if _, failed := c.failed[cell]; failed {
		return
	}
	c.pending[cell] = struct{}{}
	c.queue = append(c.queue, cell)
}

// compactQueue убирает выгруженные из очереди ячейки и сортирует остаток по расстоянию до камеры
func (c *Coordinator) compactQueue() {
	kept := c.queue[:0]
	for _, cell := range c.queue {
		if _, ok := c.pending[cell]; ok {
			kept = append(kept, cell)
		}
	}
	c.queue = kept

	camera := c.camera
	sort.SliceStable(c.queue, func(i, j int) bool {
		return camera.DistanceTo(c.queue[i]) < camera.DistanceTo(c.queue[j])
	})
}

// drainQueue добавляет до mergesPerTick ячеек из очереди.
// Пустые ячейки дешёвые и в лимит не входят.
func (c *Coordinator) drainQueue(ctx context.Context, camera vec.Vec2) (added, failed int) {
	if c.backend == nil {
		return 0, 0
	}
	if _, ok := c.backend.Scenario(); !ok {
		// Очередь ждёт появления контекста рендера
		return 0, 0
	}

	for len(c.queue) > 0 && added < c.mergesPerTick {
		cell := c.queue[0]
		c.queue = c.queue[1:]
		delete(c.pending, cell)

		if c.current[cell] != lod.TierMid || c.renderer.IsLoaded(cell) {
			continue
		}

		if c.loadCell(ctx, cell, camera) {
			added++
		} else {
			failed++
			c.failed[cell] = struct{}{}
		}
	}
	return added, failed
}

// loadCell добавляет ячейку в рендерер: сначала из хранилища, затем слиянием
func (c *Coordinator) loadCell(ctx context.Context, cell, camera vec.Vec2) bool {
	_, span := observability.Tracer().Start(ctx, "lod.merge_cell")
	defer span.End()
	span.SetAttributes(
		attribute.Int("lod.cell.x", cell.X),
		attribute.Int("lod.cell.y", cell.Y),
		attribute.Float64("lod.cell.distance", c.classifier.CellDistance(camera, cell)),
	)

	if c.prebaked != nil {
		p, ok, err := c.prebaked.LoadPrebaked(cell)
		if err != nil {
			c.logger.Warn("Prebaked cell %s not loaded: %v", cell, err)
			span.RecordError(err)
		} else if ok && c.renderer.AddCellPrebaked(cell, p) {
			span.SetAttributes(attribute.Bool("lod.cell.prebaked", true))
			return true
		}
	}

	if !c.renderer.AddCell(cell, nil) {
		span.SetStatus(codes.Error, "nothing to render")
		return false
	}
	return true
}

// ChangeWorld применяет настройки нового мира и сбрасывает всё состояние сессии.
// При отклонённых настройках состояние не меняется.
func (c *Coordinator) ChangeWorld(worldID string) error {
	c.mu.Lock()
	if err := c.tiers.ApplyOverrides(c.provider.WorldSettings(worldID)); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("change world %q: %w", worldID, err)
	}

	events := make([]tierEvent, 0, len(c.current))
	for cell, tier := range c.current {
		events = append(events, tierEvent{cell: cell, tier: tier})
	}
	c.classifier.Clear()
	c.renderer.Clear()
	c.merger.ClearCache()
	c.resetQueue()
	c.current = make(map[vec.Vec2]lod.Tier)
	c.worldID = worldID

	c.logger.Info("🌍 Мир сменён на %q (дальний рендер: %v)", worldID, c.tiers.Enabled())

	c.notifyMu.Lock()
	c.mu.Unlock()
	c.notify(events)
	c.notifyMu.Unlock()
	return nil
}

// Teleport сбрасывает память тиров и очередь. Загруженные ячейки выгружаются
// на следующем тике, если перестали быть в среднем тире.
func (c *Coordinator) Teleport() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.classifier.Clear()
	c.resetQueue()
	c.logger.Info("✨ Телепорт: память тиров сброшена")
}

// InvalidateCell выгружает ячейку и забывает результат её слияния.
// Если ячейка всё ещё в среднем тире, следующий тик загрузит её заново.
func (c *Coordinator) InvalidateCell(cell vec.Vec2) {
	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := c.renderer.IsLoaded(cell)
	c.renderer.RemoveCell(cell)
	c.merger.RemoveFromCache(cell)
	delete(c.failed, cell)
	if loaded {
		c.logger.Debug("♻️ Ячейка %s инвалидирована", cell)
	}
}

func (c *Coordinator) resetQueue() {
	c.queue = nil
	c.pending = make(map[vec.Vec2]struct{})
	c.failed = make(map[vec.Vec2]struct{})
}

// TierAt классифицирует смещение от камеры без изменения памяти
func (c *Coordinator) TierAt(dx, dy int) (lod.Tier, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	distance := c.classifier.CellDistance(vec.Vec2{}, vec.Vec2{X: dx, Y: dy})
	return c.classifier.TierForDistance(distance), distance
}

// LoadedCells возвращает ячейки, загруженные в рендерер
func (c *Coordinator) LoadedCells() []CellInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	cells := c.renderer.LoadedCells()
	out := make([]CellInfo, 0, len(cells))
	for _, cell := range cells {
		state, _ := c.renderer.State(cell)
		tier, ok := c.current[cell]
		if !ok {
			tier = lod.TierNone
		}
		out = append(out, CellInfo{
			Cell:     cell,
			Tier:     tier.String(),
			Vertices: state.VertexCount,
			Objects:  state.ObjectCount,
			Visible:  state.Visible,
			OwnsMesh: state.OwnsMesh,
			Center:   state.Bounds.Center(),
		})
	}
	return out
}

// Renderer и Merger открыты для инструментов и тестов
func (c *Coordinator) Renderer() *render.Renderer { return c.renderer }
func (c *Coordinator) Merger() *merge.Merger       { return c.merger }
func (c *Coordinator) Classifier() *lod.Classifier { return c.classifier }
