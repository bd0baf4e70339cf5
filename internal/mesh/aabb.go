package mesh

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// AABB - осевой ограничивающий параллелепипед.
// Нулевое значение пустое: первый ExpandByPoint задаёт Min = Max = точке.
type AABB struct {
	Min   mgl32.Vec3 `json:"min"`
	Max   mgl32.Vec3 `json:"max"`
	Valid bool       `json:"valid"`
}

// NewAABB создаёт бокс по двум углам (порядок не важен)
func NewAABB(a, b mgl32.Vec3) AABB {
	box := AABB{}
	box.ExpandByPoint(a)
	box.ExpandByPoint(b)
	return box
}

// IsEmpty сообщает, что в бокс не добавлено ни одной точки
func (b AABB) IsEmpty() bool {
	return !b.Valid
}

// ExpandByPoint расширяет бокс так, чтобы он содержал точку
func (b *AABB) ExpandByPoint(p mgl32.Vec3) {
	if !b.Valid {
		b.Min, b.Max, b.Valid = p, p, true
		return
	}
	for i := 0; i < 3; i++ {
		b.Min[i] = math32.Min(b.Min[i], p[i])
		b.Max[i] = math32.Max(b.Max[i], p[i])
	}
}

// Union расширяет бокс другим боксом
func (b *AABB) Union(other AABB) {
	if !other.Valid {
		return
	}
	b.ExpandByPoint(other.Min)
	b.ExpandByPoint(other.Max)
}

// Center возвращает центр бокса
func (b AABB) Center() mgl32.Vec3 {
	if !b.Valid {
		return mgl32.Vec3{}
	}
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size возвращает размеры по осям
func (b AABB) Size() mgl32.Vec3 {
	if !b.Valid {
		return mgl32.Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// LongestAxis возвращает длину наибольшей стороны
func (b AABB) LongestAxis() float32 {
	s := b.Size()
	return math32.Max(s[0], math32.Max(s[1], s[2]))
}

// ContainsPoint проверяет попадание точки (границы включительно)
func (b AABB) ContainsPoint(p mgl32.Vec3) bool {
	if !b.Valid {
		return false
	}
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Transformed возвращает AABB восьми преобразованных углов
func (b AABB) Transformed(t Transform) AABB {
	if !b.Valid {
		return AABB{}
	}
	out := AABB{}
	for i := 0; i < 8; i++ {
		corner := mgl32.Vec3{b.Min[0], b.Min[1], b.Min[2]}
		if i&1 != 0 {
			corner[0] = b.Max[0]
		}
		if i&2 != 0 {
			corner[1] = b.Max[1]
		}
		if i&4 != 0 {
			corner[2] = b.Max[2]
		}
		out.ExpandByPoint(t.Point(corner))
	}
	return out
}
