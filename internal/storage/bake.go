package storage

import (
	"context"
	"fmt"

	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/vec"
	"github.com/annel0/distant-lod/internal/world"
)

// BakeRegion объединяет все ячейки прямоугольника [from, to] и сохраняет результат.
// Пустые ячейки пропускаются. Манифест прогона сохраняется последним,
// поэтому прерванное запекание не выглядит завершённым.
func BakeRegion(ctx context.Context, store *PrebakedStore, merger *merge.Merger, provider world.Provider,
	worldID string, seed int64, from, to vec.Vec2) (*Manifest, error) {

	if to.X < from.X || to.Y < from.Y {
		return nil, fmt.Errorf("bake: empty region %s..%s", from, to)
	}

	manifest := NewManifest(worldID, seed, merger.Settings())
	total := (to.X - from.X + 1) * (to.Y - from.Y + 1)
	done := 0

	for y := from.Y; y <= to.Y; y++ {
		for x := from.X; x <= to.X; x++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			cell := vec.Vec2{X: x, Y: y}
			data := merger.MergeCell(cell, provider.CellReferences(cell))
			done++
			if data == nil {
				continue
			}

			if err := store.SaveCell(data); err != nil {
				return nil, fmt.Errorf("bake cell %s: %w", cell, err)
			}
			// Кэш объединителя при запекании не нужен
			merger.RemoveFromCache(cell)

			manifest.Cells++
			manifest.Objects += data.ObjectCount
			manifest.Vertices += data.VertexCount

			if done%256 == 0 {
				store.logger.Info("🔥 Запекание: %d/%d ячеек", done, total)
			}
		}
	}

	if err := store.SaveManifest(manifest); err != nil {
		return nil, err
	}
	store.logger.Info("✅ Запечено %d ячеек из %d (%d объектов, %d вершин), прогон %s",
		manifest.Cells, total, manifest.Objects, manifest.Vertices, manifest.BakeID)
	return manifest, nil
}
