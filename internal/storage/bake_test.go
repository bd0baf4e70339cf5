package storage

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/vec"
	"github.com/annel0/distant-lod/internal/world"
)

func rockProvider(cells ...vec.Vec2) *world.StaticProvider {
	p := world.NewStaticProvider()
	for _, c := range cells {
		p.Add(c, world.ObjectRef{
			ID:       "rock:" + c.String(),
			Type:     world.TypeStatic,
			Model:    "meshes/x/terrain_rock_01.nif",
			Position: mgl32.Vec3{float32(c.X)*117 + 50, 0, float32(c.Y)*117 + 50},
			Scale:    1,
		})
	}
	return p
}

func TestBakeRegion(t *testing.T) {
	store := setupTestStore(t)
	merger, err := merge.NewMerger(world.NewGenerator(1, 117), nil, merge.DefaultSettings())
	require.NoError(t, err)

	provider := rockProvider(vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 2, Y: 1}, vec.Vec2{X: 9, Y: 9})

	manifest, err := BakeRegion(context.Background(), store, merger, provider, "tamriel", 1,
		vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 3, Y: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, manifest.Cells, "ячейка вне прямоугольника и пустые ячейки не запекаются")
	assert.Equal(t, 2, manifest.Objects)
	assert.Equal(t, 0, merger.CacheSize())

	cells, err := store.Cells()
	require.NoError(t, err)
	assert.Equal(t, []vec.Vec2{{X: 0, Y: 0}, {X: 2, Y: 1}}, cells)

	saved, err := store.LoadManifest()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, manifest.BakeID, saved.BakeID)
	assert.Equal(t, manifest.Vertices, saved.Vertices)
}

func TestBakeRegionRejectsEmptyRect(t *testing.T) {
	store := setupTestStore(t)
	merger, err := merge.NewMerger(world.NewGenerator(1, 117), nil, merge.DefaultSettings())
	require.NoError(t, err)

	_, err = BakeRegion(context.Background(), store, merger, world.NewStaticProvider(), "tamriel", 1,
		vec.Vec2{X: 2}, vec.Vec2{X: 1})
	assert.Error(t, err)
}

func TestBakeRegionCancelled(t *testing.T) {
	store := setupTestStore(t)
	merger, err := merge.NewMerger(world.NewGenerator(1, 117), nil, merge.DefaultSettings())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = BakeRegion(ctx, store, merger, rockProvider(vec.Vec2{}), "tamriel", 1, vec.Vec2{}, vec.Vec2{X: 4, Y: 4})
	assert.ErrorIs(t, err, context.Canceled)

	m, err := store.LoadManifest()
	require.NoError(t, err)
	assert.Nil(t, m, "прерванное запекание не оставляет манифест")
}
