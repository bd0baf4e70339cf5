// Package meshopt содержит упроститель мешей по умолчанию для дальнего тира:
// кластеризация вершин по сетке (аналог "sloppy" упрощения) и сварка дубликатов.
package meshopt

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/distant-lod/internal/mesh"
)

// DefaultWeldThreshold - порог сварки вершин по умолчанию
const DefaultWeldThreshold = 1e-4

// gridLevels - разрешения сетки кластеризации от мелкой к крупной
var gridLevels = []int{128, 96, 64, 48, 32, 24, 16, 12, 8, 6, 4, 3, 2}

// Simplifier реализует mesh.Simplifier кластеризацией вершин.
// Подбирает самую мелкую сетку, при которой число индексов не превышает цель.
type Simplifier struct {
	// MinIndices - нижняя граница результата (не меньше одного треугольника)
	MinIndices int
}

// NewSimplifier создаёт упроститель с настройками по умолчанию
func NewSimplifier() *Simplifier {
	return &Simplifier{MinIndices: 3}
}

type clusterKey [3]int32

// Simplify возвращает упрощённые массивы или пустой Arrays, если улучшить нельзя.
// Перед кластеризацией дубликаты вершин свариваются: если сетка не уменьшает
// число треугольников, результатом остаётся сваренный меш.
func (s *Simplifier) Simplify(in mesh.Arrays, ratio float32) mesh.Arrays {
	if in.Empty() || len(in.Indices)%3 != 0 || ratio <= 0 || ratio >= 1 {
		return mesh.Arrays{}
	}
	welded := Weld(in, DefaultWeldThreshold)
	if welded.Empty() {
		return mesh.Arrays{}
	}
	weldedOnly := welded
	if len(welded.Positions) >= len(in.Positions) {
		weldedOnly = mesh.Arrays{}
	}
	in = welded

	target := int(float32(len(in.Indices)) * ratio)
	target -= target % 3
	minIndices := s.MinIndices
	if minIndices < 3 {
		minIndices = 3
	}
	if target < minIndices {
		target = minIndices
	}

	bounds := mesh.AABB{}
	for _, p := range in.Positions {
		bounds.ExpandByPoint(p)
	}
	extent := bounds.LongestAxis()
	if extent <= 0 {
		return weldedOnly
	}

	var best mesh.Arrays
	for _, g := range gridLevels {
		out := cluster(in, bounds.Min, extent/float32(g))
		if len(out.Indices) == 0 {
			break
		}
		best = out
		if len(out.Indices) <= target {
			break
		}
	}

	if len(best.Indices) == 0 || len(best.Indices) >= len(in.Indices) {
		return weldedOnly
	}
	return best
}

// cluster схлопывает вершины в ячейки размером cell и удаляет вырожденные треугольники
func cluster(in mesh.Arrays, origin mgl32.Vec3, cell float32) mesh.Arrays {
	if cell <= 0 {
		return mesh.Arrays{}
	}

	representative := make(map[clusterKey]uint32, len(in.Positions))
	remap := make([]uint32, len(in.Positions))
	for i, p := range in.Positions {
		key := clusterKey{
			int32(math32.Floor((p[0] - origin[0]) / cell)),
			int32(math32.Floor((p[1] - origin[1]) / cell)),
			int32(math32.Floor((p[2] - origin[2]) / cell)),
		}
		rep, ok := representative[key]
		if !ok {
			rep = uint32(i)
			representative[key] = rep
		}
		remap[i] = rep
	}

	indices := make([]uint32, 0, len(in.Indices))
	seen := make(map[[3]uint32]struct{}, len(in.Indices)/3)
	for i := 0; i+2 < len(in.Indices); i += 3 {
		a, b, c := remap[in.Indices[i]], remap[in.Indices[i+1]], remap[in.Indices[i+2]]
		if a == b || b == c || a == c {
			continue
		}
		tri := canonical(a, b, c)
		if _, dup := seen[tri]; dup {
			continue
		}
		seen[tri] = struct{}{}
		indices = append(indices, a, b, c)
	}

	return compact(in, indices)
}

// canonical возвращает треугольник с наименьшим индексом впереди, сохраняя обход
func canonical(a, b, c uint32) [3]uint32 {
	switch {
	case a <= b && a <= c:
		return [3]uint32{a, b, c}
	case b <= a && b <= c:
		return [3]uint32{b, c, a}
	default:
		return [3]uint32{c, a, b}
	}
}

// compact оставляет только используемые вершины и переиндексирует треугольники
func compact(in mesh.Arrays, indices []uint32) mesh.Arrays {
	if len(indices) == 0 {
		return mesh.Arrays{}
	}

	newIndex := make(map[uint32]uint32, len(indices))
	out := mesh.Arrays{Indices: make([]uint32, len(indices))}
	hasNormals := len(in.Normals) == len(in.Positions)
	hasUVs := len(in.UVs) == len(in.Positions)

	for i, old := range indices {
		idx, ok := newIndex[old]
		if !ok {
			idx = uint32(len(out.Positions))
			newIndex[old] = idx
			out.Positions = append(out.Positions, in.Positions[old])
			if hasNormals {
				out.Normals = append(out.Normals, in.Normals[old])
			}
			if hasUVs {
				out.UVs = append(out.UVs, in.UVs[old])
			}
		}
		out.Indices[i] = idx
	}
	return out
}
