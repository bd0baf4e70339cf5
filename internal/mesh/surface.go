package mesh

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Arrays - сырые массивы поверхности в формате, который принимает упроститель
type Arrays struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   []uint32
}

// Empty сообщает, что массивы не содержат геометрии
func (a Arrays) Empty() bool {
	return len(a.Positions) == 0 || len(a.Indices) == 0
}

// Simplifier - внедряемая возможность упрощения меша.
// ratio в (0,1] - доля сохраняемых индексов. Пустой результат означает "оставить исходник".
type Simplifier interface {
	Simplify(in Arrays, ratio float32) Arrays
}

// Surface - одна поверхность меша: вершины, индексы треугольников и материал
type Surface struct {
	Positions []mgl32.Vec3 `json:"positions"`
	Normals   []mgl32.Vec3 `json:"normals,omitempty"`
	UVs       []mgl32.Vec2 `json:"uvs,omitempty"`
	Indices   []uint32     `json:"indices"`
	Material  *Material    `json:"material,omitempty"`
}

// VertexCount возвращает количество вершин
func (s *Surface) VertexCount() int {
	if s == nil {
		return 0
	}
	return len(s.Positions)
}

// Valid проверяет, что поверхность пригодна для слияния:
// есть треугольники, индексы в пределах, атрибуты совпадают по длине с позициями.
func (s *Surface) Valid() bool {
	if s == nil || len(s.Positions) == 0 || len(s.Indices) == 0 || len(s.Indices)%3 != 0 {
		return false
	}
	if len(s.Normals) != 0 && len(s.Normals) != len(s.Positions) {
		return false
	}
	if len(s.UVs) != 0 && len(s.UVs) != len(s.Positions) {
		return false
	}
	n := uint32(len(s.Positions))
	for _, idx := range s.Indices {
		if idx >= n {
			return false
		}
	}
	return true
}

// Arrays возвращает массивы поверхности (без копирования)
func (s *Surface) Arrays() Arrays {
	return Arrays{Positions: s.Positions, Normals: s.Normals, UVs: s.UVs, Indices: s.Indices}
}

// Bounds вычисляет AABB по вершинам
func (s *Surface) Bounds() AABB {
	box := AABB{}
	if s == nil {
		return box
	}
	for _, p := range s.Positions {
		box.ExpandByPoint(p)
	}
	return box
}

// GenerateNormals вычисляет сглаженные вершинные нормали по площади треугольников
func GenerateNormals(positions []mgl32.Vec3, indices []uint32) []mgl32.Vec3 {
	normals := make([]mgl32.Vec3, len(positions))
	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		if int(a) >= len(positions) || int(b) >= len(positions) || int(c) >= len(positions) {
			continue
		}
		face := positions[b].Sub(positions[a]).Cross(positions[c].Sub(positions[a]))
		normals[a] = normals[a].Add(face)
		normals[b] = normals[b].Add(face)
		normals[c] = normals[c].Add(face)
	}
	for i, n := range normals {
		if n.Len() < 1e-12 {
			normals[i] = mgl32.Vec3{0, 1, 0}
			continue
		}
		normals[i] = n.Normalize()
	}
	return normals
}

// PlanarUVs проецирует вершины на плоскость XZ (масштаб 1/tile)
func PlanarUVs(positions []mgl32.Vec3, tile float32) []mgl32.Vec2 {
	if tile <= 0 {
		tile = 1
	}
	uvs := make([]mgl32.Vec2, len(positions))
	for i, p := range positions {
		uvs[i] = mgl32.Vec2{p[0] / tile, p[2] / tile}
	}
	return uvs
}

// Mesh - набор поверхностей модели
type Mesh struct {
	Name     string
	Surfaces []*Surface
}

// FirstUsableSurface возвращает первую валидную поверхность или nil
func (m *Mesh) FirstUsableSurface() *Surface {
	if m == nil {
		return nil
	}
	for _, s := range m.Surfaces {
		if s.Valid() {
			return s
		}
	}
	return nil
}

// Prototype - загруженная модель, пригодная как источник слияния
type Prototype struct {
	Path string
	Mesh *Mesh
	// Bounds в локальных координатах модели; пустой бокс вычисляется по первой поверхности
	Bounds AABB
}

// LocalBounds возвращает локальный AABB прототипа
func (p *Prototype) LocalBounds() AABB {
	if p == nil {
		return AABB{}
	}
	if p.Bounds.Valid {
		return p.Bounds
	}
	return p.Mesh.FirstUsableSurface().Bounds()
}
