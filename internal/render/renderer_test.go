package render

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/mesh"
	"github.com/annel0/distant-lod/internal/vec"
	"github.com/annel0/distant-lod/internal/world"
)

const (
	rockModel   = "meshes/x/terrain_rock_01.nif"
	doorModel   = "meshes/d/ex_door_01.nif"
	pebbleModel = "meshes/x/misc_pebble_01.nif"
)

type fixture struct {
	backend  *Headless
	merger   *merge.Merger
	provider *world.StaticProvider
	renderer *Renderer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	backend := NewHeadless()
	merger, err := merge.NewMerger(world.NewGenerator(1, 117), nil, merge.DefaultSettings())
	require.NoError(t, err)
	provider := world.NewStaticProvider()
	return &fixture{
		backend:  backend,
		merger:   merger,
		provider: provider,
		renderer: NewRenderer(backend, merger, provider),
	}
}

func object(id string, t world.RecordType, model string, pos mgl32.Vec3) world.ObjectRef {
	return world.ObjectRef{ID: id, Type: t, Model: model, Position: pos, Scale: 1}
}

func boxSurface(center mgl32.Vec3) *mesh.Surface {
	s := world.BoxSurface(mgl32.Vec3{2, 2, 2}, 1)
	for i := range s.Positions {
		s.Positions[i] = s.Positions[i].Add(center)
	}
	return s
}

func TestAddCellCreatesOwnedResources(t *testing.T) {
	f := setup(t)
	cell := vec.Vec2{X: 1, Y: 2}
	refs := []world.ObjectRef{
		object("rock", world.TypeStatic, rockModel, mgl32.Vec3{10, 0, 10}),
		object("door", world.TypeDoor, doorModel, mgl32.Vec3{20, 0, 10}),
	}

	require.True(t, f.renderer.AddCell(cell, refs))
	assert.True(t, f.renderer.IsLoaded(cell))

	state, ok := f.renderer.State(cell)
	require.True(t, ok)
	assert.True(t, state.OwnsMesh)
	assert.True(t, state.OwnsMaterial)
	assert.True(t, state.Visible)
	assert.Equal(t, 2, state.ObjectCount)
	assert.Equal(t, 78, state.VertexCount)

	info, ok := f.backend.Instance(state.Instance)
	require.True(t, ok)
	assert.Equal(t, state.Mesh, info.Base)
	assert.Equal(t, state.Material, info.Material)
	assert.True(t, info.Visible)
	assert.Equal(t, 78, f.backend.MeshVertices(state.Mesh))

	stats := f.renderer.Stats()
	assert.Equal(t, 1, stats.LoadedCells)
	assert.Equal(t, 1, stats.VisibleCells)
	assert.Equal(t, 78, stats.TotalVertices)
	assert.Equal(t, 2, stats.TotalObjects)

	// Повторное добавление - no-op
	require.True(t, f.renderer.AddCell(cell, refs))
	assert.Equal(t, 3, f.backend.Live())
	assert.Equal(t, int64(1), f.renderer.Stats().CellsAdded)
}

func TestAddCellUsesProvider(t *testing.T) {
	f := setup(t)
	cell := vec.Vec2{X: -4, Y: 0}
	f.provider.Add(cell, object("rock", world.TypeStatic, rockModel, mgl32.Vec3{}))
	// Тип и модель восстанавливаются по ID
	f.provider.Add(vec.Vec2{X: 100}, object("door-7", world.TypeDoor, doorModel, mgl32.Vec3{5, 0, 0}))

	require.True(t, f.renderer.AddCell(cell, nil))
	state, _ := f.renderer.State(cell)
	assert.Equal(t, 1, state.ObjectCount)

	other := vec.Vec2{X: -5}
	require.True(t, f.renderer.AddCell(other, []world.ObjectRef{{ID: "door-7", Position: mgl32.Vec3{5, 0, 0}}}))
	state, _ = f.renderer.State(other)
	assert.Equal(t, 1, state.ObjectCount)
}

func TestRemoveCellReleasesOwnedMesh(t *testing.T) {
	f := setup(t)
	cell := vec.Vec2{X: 3, Y: 3}
	require.True(t, f.renderer.AddCell(cell, []world.ObjectRef{object("rock", world.TypeStatic, rockModel, mgl32.Vec3{})}))
	state, _ := f.renderer.State(cell)
	_, cached := f.merger.Cached(cell)
	require.True(t, cached)

	f.renderer.RemoveCell(cell)

	assert.False(t, f.renderer.IsLoaded(cell))
	assert.False(t, f.backend.IsLive(state.Mesh), "собственный меш освобождается")
	assert.False(t, f.backend.IsLive(state.Instance))
	assert.False(t, f.backend.IsLive(state.Material))
	assert.Equal(t, 0, f.backend.Live())
	_, cached = f.merger.Cached(cell)
	assert.False(t, cached, "кэш слияния сбрасывается при выгрузке")

	stats := f.renderer.Stats()
	assert.Equal(t, 0, stats.LoadedCells)
	assert.Equal(t, 0, stats.VisibleCells)
	assert.Equal(t, 0, stats.TotalVertices)

	// Повторная выгрузка безопасна
	f.renderer.RemoveCell(cell)
	assert.Equal(t, int64(1), f.renderer.Stats().CellsRemoved)
}

func TestRemovePrebakedKeepsExternalMesh(t *testing.T) {
	f := setup(t)
	cell := vec.Vec2{X: 8, Y: -1}

	external, err := f.backend.CreateMesh(boxSurface(mgl32.Vec3{}))
	require.NoError(t, err)

	require.True(t, f.renderer.AddCellPrebaked(cell, Prebaked{
		Mesh:        external,
		Bounds:      mesh.NewAABB(mgl32.Vec3{-1, 0, -1}, mgl32.Vec3{1, 2, 1}),
		VertexCount: 24,
		ObjectCount: 5,
	}))
	state, _ := f.renderer.State(cell)
	assert.False(t, state.OwnsMesh)
	assert.False(t, state.OwnsMaterial)
	assert.Equal(t, external, state.Mesh)

	f.renderer.RemoveCell(cell)
	assert.True(t, f.backend.IsLive(external), "внешний меш не освобождается")
	assert.False(t, f.backend.IsLive(state.Instance))
	assert.Equal(t, 1, f.backend.Live())
}

func TestAddCellPrebakedFromSurface(t *testing.T) {
	f := setup(t)
	cell := vec.Vec2{X: 2}
	surface := boxSurface(mgl32.Vec3{50, 0, 50})

	require.True(t, f.renderer.AddCellPrebaked(cell, Prebaked{Surface: surface, Material: mesh.DefaultMaterial(), ObjectCount: 3}))
	state, _ := f.renderer.State(cell)
	assert.True(t, state.OwnsMesh)
	assert.True(t, state.OwnsMaterial)
	assert.Equal(t, 24, state.VertexCount)
	assert.InDelta(t, 50.0, state.Bounds.Center().X(), 1e-4)

	f.renderer.RemoveCell(cell)
	assert.Equal(t, 0, f.backend.Live())
}

func TestAddCellFailuresCreateNoState(t *testing.T) {
	f := setup(t)
	cell := vec.Vec2{X: 0, Y: 5}

	// Нет подходящих объектов
	assert.False(t, f.renderer.AddCell(cell, []world.ObjectRef{object("pebble", world.TypeStatic, pebbleModel, mgl32.Vec3{})}))
	assert.False(t, f.renderer.AddCell(cell, []world.ObjectRef{object("tree", world.TypeFlora, "meshes/f/flora_tree_01.nif", mgl32.Vec3{})}))
	assert.False(t, f.renderer.AddCell(cell, nil))

	// Пустой prebaked
	assert.False(t, f.renderer.AddCellPrebaked(cell, Prebaked{}))

	// Нет активной сцены
	f.backend.SetActive(false)
	assert.False(t, f.renderer.AddCell(cell, []world.ObjectRef{object("rock", world.TypeStatic, rockModel, mgl32.Vec3{})}))
	assert.False(t, f.renderer.AddCellPrebaked(cell, Prebaked{Surface: boxSurface(mgl32.Vec3{})}))
	f.backend.SetActive(true)

	assert.False(t, f.renderer.IsLoaded(cell))
	assert.Equal(t, 0, f.backend.Live())
	assert.Equal(t, 0, f.renderer.Stats().LoadedCells)
	assert.Equal(t, int64(6), f.renderer.Stats().AddFailures)

	// Без бэкенда и без объединителя
	assert.False(t, NewRenderer(nil, f.merger, nil).AddCell(cell, nil))
	assert.False(t, NewRenderer(f.backend, nil, nil).AddCell(cell, []world.ObjectRef{object("rock", world.TypeStatic, rockModel, mgl32.Vec3{})}))
}

func TestAddCellReleasesHandlesOnBackendFailure(t *testing.T) {
	f := setup(t)
	refs := []world.ObjectRef{object("rock", world.TypeStatic, rockModel, mgl32.Vec3{})}

	for _, kind := range []ResourceKind{KindMesh, KindMaterial, KindInstance} {
		t.Run(kind.String(), func(t *testing.T) {
			cell := vec.Vec2{X: int(kind)}
			f.backend.FailNext(kind, errors.New("out of video memory"))

			assert.False(t, f.renderer.AddCell(cell, refs))
			assert.False(t, f.renderer.IsLoaded(cell))
			assert.Equal(t, 0, f.backend.Live(), "все созданные хэндлы освобождены")
		})
	}

	// После сбоя ячейка добавляется повторным вызовом
	require.True(t, f.renderer.AddCell(vec.Vec2{}, refs))
}

func TestUpdateVisibility(t *testing.T) {
	f := setup(t)
	near := vec.Vec2{X: 0}
	far := vec.Vec2{X: 1}

	require.True(t, f.renderer.AddCellPrebaked(near, Prebaked{Surface: boxSurface(mgl32.Vec3{100, 0, 0})}))
	require.True(t, f.renderer.AddCellPrebaked(far, Prebaked{Surface: boxSurface(mgl32.Vec3{3000, 0, 0})}))
	require.Equal(t, 2, f.renderer.Stats().VisibleCells)

	camera := mgl32.Vec3{0, 1, 0}
	assert.Equal(t, 1, f.renderer.UpdateVisibility(camera, 2000))
	assert.Equal(t, 1, f.renderer.Stats().VisibleCells)

	farState, _ := f.renderer.State(far)
	assert.False(t, farState.Visible)
	info, _ := f.backend.Instance(farState.Instance)
	assert.False(t, info.Visible)

	// Повторный проход ничего не меняет
	assert.Equal(t, 0, f.renderer.UpdateVisibility(camera, 2000))

	assert.Equal(t, 1, f.renderer.UpdateVisibility(mgl32.Vec3{1500, 0, 0}, 2000))
	nearState, _ := f.renderer.State(near)
	farState, _ = f.renderer.State(far)
	assert.True(t, nearState.Visible)
	assert.True(t, farState.Visible)
	assert.Equal(t, 2, f.renderer.Stats().VisibleCells)

	// Камера у дальней ячейки: ближняя скрывается
	assert.Equal(t, 1, f.renderer.UpdateVisibility(mgl32.Vec3{3000, 0, 0}, 2000))
	nearState, _ = f.renderer.State(near)
	assert.False(t, nearState.Visible)
}

func TestSetCellVisible(t *testing.T) {
	f := setup(t)
	cell := vec.Vec2{Y: 1}
	require.True(t, f.renderer.AddCellPrebaked(cell, Prebaked{Surface: boxSurface(mgl32.Vec3{})}))

	f.renderer.SetCellVisible(cell, false)
	f.renderer.SetCellVisible(cell, false)
	assert.Equal(t, 0, f.renderer.Stats().VisibleCells)

	f.renderer.SetCellVisible(cell, true)
	assert.Equal(t, 1, f.renderer.Stats().VisibleCells)

	// Незагруженная ячейка
	f.renderer.SetCellVisible(vec.Vec2{X: 77}, false)
	assert.Equal(t, 1, f.renderer.Stats().VisibleCells)
}

func TestClearReleasesEverything(t *testing.T) {
	f := setup(t)
	external, err := f.backend.CreateMesh(boxSurface(mgl32.Vec3{}))
	require.NoError(t, err)

	require.True(t, f.renderer.AddCell(vec.Vec2{X: 1}, []world.ObjectRef{object("rock", world.TypeStatic, rockModel, mgl32.Vec3{})}))
	require.True(t, f.renderer.AddCellPrebaked(vec.Vec2{X: 2}, Prebaked{Mesh: external, VertexCount: 24}))
	require.True(t, f.renderer.AddCellPrebaked(vec.Vec2{X: 3}, Prebaked{Surface: boxSurface(mgl32.Vec3{})}))
	f.renderer.SetCellVisible(vec.Vec2{X: 3}, false)

	assert.Equal(t, []vec.Vec2{{X: 1}, {X: 2}, {X: 3}}, f.renderer.LoadedCells())

	f.renderer.Clear()

	assert.Empty(t, f.renderer.LoadedCells())
	assert.Equal(t, 1, f.backend.Live(), "остаётся только внешний меш")
	assert.True(t, f.backend.IsLive(external))

	stats := f.renderer.Stats()
	assert.Zero(t, stats.LoadedCells)
	assert.Zero(t, stats.VisibleCells)
	assert.Zero(t, stats.TotalVertices)
	assert.Zero(t, stats.TotalObjects)
	assert.Equal(t, 0, f.merger.CacheSize())
}

func TestEmptyCellScenario(t *testing.T) {
	f := setup(t)
	cell := vec.Vec2{X: 5, Y: 0}

	assert.Nil(t, f.merger.MergeCell(cell, nil))
	assert.False(t, f.renderer.AddCell(cell, nil))
	_, ok := f.renderer.State(cell)
	assert.False(t, ok)
}

func TestPrebakedFromCellData(t *testing.T) {
	f := setup(t)
	data := f.merger.MergeCell(vec.Vec2{}, []world.ObjectRef{object("door", world.TypeDoor, doorModel, mgl32.Vec3{})})
	require.NotNil(t, data)

	p := PrebakedFromCellData(data)
	assert.False(t, p.Mesh.IsValid())
	assert.Equal(t, data.VertexCount, p.VertexCount)
	assert.Same(t, data.Surface, p.Surface)
	assert.Equal(t, Prebaked{}, PrebakedFromCellData(nil))
}
