package world

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/distant-lod/internal/mesh"
	"github.com/annel0/distant-lod/internal/vec"
)

func TestGeneratorDeterministic(t *testing.T) {
	a := NewGenerator(1337, 117)
	b := NewGenerator(1337, 117)

	for _, cell := range []vec.Vec2{{X: 0, Y: 0}, {X: -5, Y: 3}, {X: 12, Y: -8}} {
		assert.Equal(t, a.CellReferences(cell), b.CellReferences(cell))
		assert.Equal(t, a.Biome(cell), b.Biome(cell))
	}
}

func TestGeneratedRefsStayInCell(t *testing.T) {
	g := NewGenerator(7, 100)
	cell := vec.Vec2{X: -3, Y: 4}

	found := false
	for dx := 0; dx < 10 && !found; dx++ {
		c := cell.Add(vec.Vec2{X: dx})
		refs := g.CellReferences(c)
		assert.LessOrEqual(t, len(refs), g.ObjectsPerCell)
		for _, r := range refs {
			found = true
			assert.Equal(t, c, vec.CellOf(float64(r.Position.X()), float64(r.Position.Z()), g.CellSize), r.ID)
			_, known := Catalog[r.Model]
			assert.True(t, known, r.Model)
			assert.Equal(t, Catalog[r.Model].Type, r.Type)
		}
	}
	assert.True(t, found, "хотя бы одна ячейка должна содержать объекты")
}

func TestObjectInfo(t *testing.T) {
	g := NewGenerator(42, 117)

	var ref ObjectRef
	for x := 0; x < 20; x++ {
		if refs := g.CellReferences(vec.Vec2{X: x, Y: 1}); len(refs) > 0 {
			ref = refs[len(refs)-1]
			break
		}
	}
	require.NotEmpty(t, ref.ID)

	typ, model, ok := g.ObjectInfo(ref.ID)
	require.True(t, ok)
	assert.Equal(t, ref.Type, typ)
	assert.Equal(t, ref.Model, model)

	_, _, ok = g.ObjectInfo("gen:0:0:100000")
	assert.False(t, ok)
	_, _, ok = g.ObjectInfo("door-17")
	assert.False(t, ok)
}

func TestWorldSettings(t *testing.T) {
	g := NewGenerator(1, 0)
	assert.Equal(t, 117.0, g.CellSize, "размер ячейки по умолчанию")

	s := g.WorldSettings("tamriel")
	assert.True(t, s.DistantSupported)
	assert.Equal(t, 117.0, s.CellSize)
	assert.False(t, g.WorldSettings("interior").DistantSupported)
}

func TestLoadModel(t *testing.T) {
	g := NewGenerator(1, 117)

	for _, path := range ModelPaths() {
		proto, err := g.LoadModel(path, "")
		require.NoError(t, err, path)
		surface := proto.Mesh.FirstUsableSurface()
		require.NotNil(t, surface, path)
		require.NotNil(t, surface.Material)

		spec := Catalog[path]
		if spec.AlphaTested {
			assert.Equal(t, mesh.TransparencyAlphaScissor, surface.Material.Transparency, path)
		} else {
			assert.Equal(t, mesh.TransparencyDisabled, surface.Material.Transparency, path)
		}
		size := proto.LocalBounds().Size()
		for i := 0; i < 3; i++ {
			assert.InDelta(t, spec.Size[i], size[i], 1e-4, path)
		}
	}

	_, err := g.LoadModel("meshes/missing.nif", "")
	assert.Error(t, err)
	assert.Len(t, ModelPaths(), len(Catalog))
	assert.IsIncreasing(t, ModelPaths())
}

func TestBoxSurface(t *testing.T) {
	s := BoxSurface(mgl32.Vec3{2, 4, 6}, 1)
	require.True(t, s.Valid())
	assert.Len(t, s.Positions, 24)
	assert.Len(t, s.Indices, 36)

	b := s.Bounds()
	assert.Equal(t, mgl32.Vec3{-1, 0, -3}, b.Min)
	assert.Equal(t, mgl32.Vec3{1, 4, 3}, b.Max)

	s = BoxSurface(mgl32.Vec3{1, 1, 1}, 0)
	assert.Len(t, s.Indices, 36, "минимум одно разбиение")

	s = BoxSurface(mgl32.Vec3{1, 1, 1}, 3)
	assert.Len(t, s.Positions, 6*16)
	assert.Len(t, s.Indices, 6*9*6)
}
