package meshopt

import (
	"github.com/chewxy/math32"

	"github.com/annel0/distant-lod/internal/mesh"
)

// Weld сливает вершины, совпадающие по позиции с точностью threshold.
// Вырожденные после сварки треугольники удаляются.
func Weld(in mesh.Arrays, threshold float32) mesh.Arrays {
	if in.Empty() {
		return mesh.Arrays{}
	}
	if threshold <= 0 {
		threshold = DefaultWeldThreshold
	}

	first := make(map[clusterKey]uint32, len(in.Positions))
	remap := make([]uint32, len(in.Positions))
	for i, p := range in.Positions {
		key := clusterKey{
			int32(math32.Floor(p[0]/threshold + 0.5)),
			int32(math32.Floor(p[1]/threshold + 0.5)),
			int32(math32.Floor(p[2]/threshold + 0.5)),
		}
		if rep, ok := first[key]; ok {
			remap[i] = rep
			continue
		}
		first[key] = uint32(i)
		remap[i] = uint32(i)
	}

	indices := make([]uint32, 0, len(in.Indices))
	for i := 0; i+2 < len(in.Indices); i += 3 {
		a, b, c := remap[in.Indices[i]], remap[in.Indices[i+1]], remap[in.Indices[i+2]]
		if a == b || b == c || a == c {
			continue
		}
		indices = append(indices, a, b, c)
	}
	return compact(in, indices)
}
