package render

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/mesh"
	"github.com/annel0/distant-lod/internal/vec"
	"github.com/annel0/distant-lod/internal/world"
)

// Prebaked - заранее собранный меш ячейки.
// Ненулевой Mesh принадлежит внешнему ресурсу и не освобождается рендерером,
// иначе Surface загружается в бэкенд и принадлежит рендереру.
type Prebaked struct {
	Mesh        Handle
	Surface     *mesh.Surface
	Material    *mesh.Material
	Bounds      mesh.AABB
	VertexCount int
	ObjectCount int
}

// PrebakedFromCellData превращает результат слияния в Prebaked
func PrebakedFromCellData(data *merge.CellData) Prebaked {
	if data == nil {
		return Prebaked{}
	}
	return Prebaked{
		Surface:     data.Surface,
		Material:    data.Material,
		Bounds:      data.Bounds,
		VertexCount: data.VertexCount,
		ObjectCount: data.ObjectCount,
	}
}

// CellState - ресурсы одной загруженной ячейки
type CellState struct {
	Instance     Handle
	Mesh         Handle
	Material     Handle
	OwnsMesh     bool
	OwnsMaterial bool
	Bounds       mesh.AABB
	VertexCount  int
	ObjectCount  int
	Visible      bool
}

// Stats - счётчики рендерера, поддерживаются инкрементально
type Stats struct {
	LoadedCells   int
	VisibleCells  int
	TotalVertices int
	TotalObjects  int
	CellsAdded    int64
	CellsRemoved  int64
	AddFailures   int64
}

// String возвращает статистику в читаемом виде
func (s Stats) String() string {
	return fmt.Sprintf("Render: loaded=%d visible=%d vertices=%d objects=%d added=%d removed=%d failures=%d",
		s.LoadedCells, s.VisibleCells, s.TotalVertices, s.TotalObjects, s.CellsAdded, s.CellsRemoved, s.AddFailures)
}

// Renderer отслеживает ячейки, чья объединённая геометрия загружена в бэкенд.
// Не потокобезопасен.
type Renderer struct {
	backend  Backend
	merger   *merge.Merger
	provider world.Provider

	cells  map[vec.Vec2]*CellState
	stats  Stats
	logger *logging.Logger
}

// NewRenderer создаёт рендерер. merger и provider нужны только медленному пути AddCell.
func NewRenderer(backend Backend, merger *merge.Merger, provider world.Provider) *Renderer {
	return &Renderer{
		backend:  backend,
		merger:   merger,
		provider: provider,
		cells:    make(map[vec.Vec2]*CellState),
		logger:   logging.GetRenderLogger(),
	}
}

func (r *Renderer) scenario() (Handle, bool) {
	if r.backend == nil {
		return 0, false
	}
	return r.backend.Scenario()
}

// AddCellPrebaked регистрирует готовый меш. Повторное добавление - no-op.
func (r *Renderer) AddCellPrebaked(cell vec.Vec2, p Prebaked) bool {
	if _, loaded := r.cells[cell]; loaded {
		return true
	}

	scenario, ok := r.scenario()
	if !ok {
		r.logger.Debug("No active scenario, prebaked cell %s not added", cell)
		r.stats.AddFailures++
		return false
	}
	if !p.Mesh.IsValid() && !p.Surface.Valid() {
		r.logger.Debug("Prebaked cell %s has empty mesh", cell)
		r.stats.AddFailures++
		return false
	}

	bounds := p.Bounds
	if bounds.IsEmpty() && p.Surface != nil {
		bounds = p.Surface.Bounds()
	}
	vertices := p.VertexCount
	if vertices == 0 {
		vertices = p.Surface.VertexCount()
	}

	if err := r.instantiate(cell, scenario, p.Mesh, p.Surface, p.Material, bounds, vertices, p.ObjectCount); err != nil {
		r.logger.Warn("Failed to add prebaked cell %s: %v", cell, err)
		r.stats.AddFailures++
		return false
	}
	return true
}

// AddCell объединяет объекты ячейки и загружает результат в бэкенд.
// refs == nil - объекты запрашиваются у провайдера мира.
func (r *Renderer) AddCell(cell vec.Vec2, refs []world.ObjectRef) bool {
	if _, loaded := r.cells[cell]; loaded {
		return true
	}

	scenario, ok := r.scenario()
	if !ok || r.merger == nil {
		r.stats.AddFailures++
		return false
	}

	if refs == nil && r.provider != nil {
		refs = r.provider.CellReferences(cell)
	}
	refs = r.resolve(refs)

	if len(r.merger.FilterMergeable(refs)) == 0 {
		r.logger.Trace("Cell %s has no mergeable references", cell)
		r.stats.AddFailures++
		return false
	}

	data := r.merger.MergeCell(cell, refs)
	if data == nil {
		r.stats.AddFailures++
		return false
	}

	if err := r.instantiate(cell, scenario, 0, data.Surface, data.Material, data.Bounds, data.VertexCount, data.ObjectCount); err != nil {
		r.logger.Warn("Failed to add cell %s: %v", cell, err)
		r.stats.AddFailures++
		return false
	}
	return true
}

// resolve дополняет тип и модель объектов из провайдера мира
func (r *Renderer) resolve(refs []world.ObjectRef) []world.ObjectRef {
	if r.provider == nil {
		return refs
	}
	var out []world.ObjectRef
	for i, ref := range refs {
		if ref.Type != "" && ref.Model != "" {
			continue
		}
		if out == nil {
			out = append([]world.ObjectRef(nil), refs...)
		}
		if t, model, ok := r.provider.ObjectInfo(ref.ID); ok {
			if out[i].Type == "" {
				out[i].Type = t
			}
			if out[i].Model == "" {
				out[i].Model = model
			}
		}
	}
	if out == nil {
		return refs
	}
	return out
}

// instantiate создаёт ресурсы ячейки. При любой ошибке все созданные хэндлы освобождаются.
func (r *Renderer) instantiate(cell vec.Vec2, scenario, external Handle, surface *mesh.Surface,
	material *mesh.Material, bounds mesh.AABB, vertices, objects int) (err error) {

	var acquired []Handle
	defer func() {
		if err != nil {
			for i := len(acquired) - 1; i >= 0; i-- {
				r.backend.Free(acquired[i])
			}
		}
	}()

	state := &CellState{
		Bounds:      bounds,
		VertexCount: vertices,
		ObjectCount: objects,
		Visible:     true,
	}

	state.Mesh = external
	if !external.IsValid() {
		if state.Mesh, err = r.backend.CreateMesh(surface); err != nil {
			return fmt.Errorf("create mesh: %w", err)
		}
		acquired = append(acquired, state.Mesh)
		state.OwnsMesh = true
	}

	if material != nil {
		if state.Material, err = r.backend.CreateMaterial(material); err != nil {
			return fmt.Errorf("create material: %w", err)
		}
		acquired = append(acquired, state.Material)
		state.OwnsMaterial = true
	}

	if state.Instance, err = r.backend.CreateInstance(); err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	acquired = append(acquired, state.Instance)

	if err = r.backend.InstanceSetBase(state.Instance, state.Mesh); err != nil {
		return fmt.Errorf("bind mesh: %w", err)
	}
	if err = r.backend.InstanceSetScenario(state.Instance, scenario); err != nil {
		return fmt.Errorf("bind scenario: %w", err)
	}
	if state.Material.IsValid() {
		if err = r.backend.InstanceSetMaterialOverride(state.Instance, state.Material); err != nil {
			return fmt.Errorf("material override: %w", err)
		}
	}
	if err = r.backend.InstanceSetVisible(state.Instance, true); err != nil {
		return fmt.Errorf("set visible: %w", err)
	}

	r.cells[cell] = state
	r.stats.LoadedCells++
	r.stats.VisibleCells++
	r.stats.TotalVertices += vertices
	r.stats.TotalObjects += objects
	r.stats.CellsAdded++

	r.logger.Debug("Cell %s loaded: %d vertices, %d objects, owns mesh: %v", cell, vertices, objects, state.OwnsMesh)
	return nil
}

// RemoveCell освобождает ресурсы ячейки. Внешний меш не освобождается.
func (r *Renderer) RemoveCell(cell vec.Vec2) {
	state, loaded := r.cells[cell]
	if !loaded {
		return
	}

	r.release(state)
	delete(r.cells, cell)

	r.stats.LoadedCells--
	r.stats.TotalVertices -= state.VertexCount
	r.stats.TotalObjects -= state.ObjectCount
	if state.Visible {
		r.stats.VisibleCells--
	}
	r.stats.CellsRemoved++

	if r.merger != nil {
		r.merger.RemoveFromCache(cell)
	}
	r.logger.Debug("Cell %s unloaded", cell)
}

func (r *Renderer) release(state *CellState) {
	r.backend.Free(state.Instance)
	if state.OwnsMaterial {
		r.backend.Free(state.Material)
	}
	if state.OwnsMesh {
		r.backend.Free(state.Mesh)
	}
}

// SetCellVisible переключает видимость ячейки; no-op, если состояние уже такое
func (r *Renderer) SetCellVisible(cell vec.Vec2, visible bool) {
	state, loaded := r.cells[cell]
	if !loaded || state.Visible == visible {
		return
	}
	if err := r.backend.InstanceSetVisible(state.Instance, visible); err != nil {
		r.logger.Warn("Failed to set visibility of cell %s: %v", cell, err)
		return
	}
	state.Visible = visible
	if visible {
		r.stats.VisibleCells++
	} else {
		r.stats.VisibleCells--
	}
}

// UpdateVisibility показывает ячейки, чей центр ближе maxDistance к камере, и скрывает
// остальные. Возвращает количество ячеек, сменивших видимость.
func (r *Renderer) UpdateVisibility(cameraPos mgl32.Vec3, maxDistance float32) int {
	maxSq := maxDistance * maxDistance
	changed := 0
	for cell, state := range r.cells {
		d := state.Bounds.Center().Sub(cameraPos)
		want := d.Dot(d) <= maxSq
		if want == state.Visible {
			continue
		}
		r.SetCellVisible(cell, want)
		if state.Visible == want {
			changed++
		}
	}
	return changed
}

// Clear выгружает все ячейки и сбрасывает счётчики
func (r *Renderer) Clear() {
	for cell := range r.cells {
		r.RemoveCell(cell)
	}
	r.stats.LoadedCells = 0
	r.stats.VisibleCells = 0
	r.stats.TotalVertices = 0
	r.stats.TotalObjects = 0
}

// IsLoaded сообщает, загружена ли ячейка
func (r *Renderer) IsLoaded(cell vec.Vec2) bool {
	_, ok := r.cells[cell]
	return ok
}

// State возвращает копию состояния ячейки
func (r *Renderer) State(cell vec.Vec2) (CellState, bool) {
	state, ok := r.cells[cell]
	if !ok {
		return CellState{}, false
	}
	return *state, true
}

// LoadedCells возвращает загруженные ячейки в построчном порядке
func (r *Renderer) LoadedCells() []vec.Vec2 {
	cells := make([]vec.Vec2, 0, len(r.cells))
	for cell := range r.cells {
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y {
			return cells[i].Y < cells[j].Y
		}
		return cells[i].X < cells[j].X
	})
	return cells
}

// Stats возвращает снимок счётчиков
func (r *Renderer) Stats() Stats {
	return r.stats
}
