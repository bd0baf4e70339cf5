package meshopt

// vertexCacheSize - размер моделируемого FIFO-кэша вершин GPU
const vertexCacheSize = 16

// OptimizeVertexCache переупорядочивает треугольники так, чтобы соседние
// треугольники переиспользовали вершины из кэша после вершинного шейдера.
// Набор треугольников и их обход не меняются. Некорректный буфер
// возвращается копией без изменений.
func OptimizeVertexCache(indices []uint32, vertexCount int) []uint32 {
	out := make([]uint32, 0, len(indices))
	if len(indices)%3 != 0 || vertexCount <= 0 {
		return append(out, indices...)
	}
	for _, idx := range indices {
		if int(idx) >= vertexCount {
			return append(out, indices...)
		}
	}

	triCount := len(indices) / 3
	adjacency := make([][]int, vertexCount)
	for tri := 0; tri < triCount; tri++ {
		for k := 0; k < 3; k++ {
			v := indices[tri*3+k]
			adjacency[v] = append(adjacency[v], tri)
		}
	}

	emitted := make([]bool, triCount)
	// stamp[v] - момент попадания вершины в кэш, 0 - вершины нет
	stamp := make([]int, vertexCount)
	clock := 0
	cache := make([]uint32, 0, vertexCacheSize+3)
	cursor := 0

	cached := func(v uint32) bool {
		return stamp[v] > 0 && clock-stamp[v] < vertexCacheSize
	}

	for len(out) < len(indices) {
		best, bestScore := -1, 0
		for _, v := range cache {
			for _, tri := range adjacency[v] {
				if emitted[tri] {
					continue
				}
				score := 0
				for k := 0; k < 3; k++ {
					if cached(indices[tri*3+k]) {
						score++
					}
				}
				if score > bestScore || (score == bestScore && tri < best) {
					best, bestScore = tri, score
				}
			}
		}
		if best < 0 {
			for emitted[cursor] {
				cursor++
			}
			best = cursor
		}

		emitted[best] = true
		for k := 0; k < 3; k++ {
			v := indices[best*3+k]
			out = append(out, v)
			if !cached(v) {
				clock++
				stamp[v] = clock
				cache = append(cache, v)
			}
		}
		if len(cache) > vertexCacheSize {
			cache = cache[len(cache)-vertexCacheSize:]
		}
	}
	return out
}
