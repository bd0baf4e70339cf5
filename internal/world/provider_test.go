package world

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"

	"github.com/annel0/distant-lod/internal/vec"
)

func TestObjectRefTransform(t *testing.T) {
	ref := ObjectRef{Position: mgl32.Vec3{10, 0, 0}}
	p := ref.Transform().Point(mgl32.Vec3{1, 0, 0})
	assert.Equal(t, mgl32.Vec3{11, 0, 0}, p, "нулевой масштаб трактуется как 1")

	ref.Scale = 3
	p = ref.Transform().Point(mgl32.Vec3{1, 0, 0})
	assert.Equal(t, mgl32.Vec3{13, 0, 0}, p)
}

func TestBaseProvider(t *testing.T) {
	var p Provider = BaseProvider{}
	assert.Empty(t, p.CellReferences(vec.Vec2{}))
	_, _, ok := p.ObjectInfo("x")
	assert.False(t, ok)
	assert.Equal(t, DefaultSettings(), p.WorldSettings("any"))
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider()
	cell := vec.Vec2{X: 2, Y: -1}
	p.Add(cell, ObjectRef{ID: "wall", Type: TypeStatic, Model: "meshes/x/ex_common_wall_01.nif"})
	p.Add(cell, ObjectRef{ID: "door", Type: TypeDoor, Model: "meshes/d/ex_door_01.nif"})

	assert.Len(t, p.CellReferences(cell), 2)
	assert.Empty(t, p.CellReferences(vec.Vec2{}))

	typ, model, ok := p.ObjectInfo("door")
	assert.True(t, ok)
	assert.Equal(t, TypeDoor, typ)
	assert.Equal(t, "meshes/d/ex_door_01.nif", model)

	_, _, ok = p.ObjectInfo("missing")
	assert.False(t, ok)

	p.Settings["interior"] = Settings{DistantSupported: false}
	assert.False(t, p.WorldSettings("interior").DistantSupported)
	assert.True(t, p.WorldSettings("tamriel").DistantSupported)
}
