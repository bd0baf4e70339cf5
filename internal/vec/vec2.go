package vec

import (
	"fmt"
	"math"
)

// Vec2 представляет целочисленные координаты ячейки мировой сетки.
// Используется как ключ карт: равенство и хеш по значению.
type Vec2 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// DistanceTo вычисляет евклидово расстояние в ячейках
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// ChebyshevTo возвращает расстояние "по квадрату" (max(|dx|,|dy|))
func (v Vec2) ChebyshevTo(other Vec2) int {
	dx := v.X - other.X
	if dx < 0 {
		dx = -dx
	}
	dy := v.Y - other.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// String возвращает "(x,y)"
func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}

// CellOf возвращает ячейку, содержащую мировую точку (x, z) при размере ячейки cellSize.
// Для отрицательных координат округляет вниз.
func CellOf(x, z, cellSize float64) Vec2 {
	if cellSize <= 0 {
		return Vec2{}
	}
	return Vec2{X: int(math.Floor(x / cellSize)), Y: int(math.Floor(z / cellSize))}
}

// CellCenter возвращает мировые координаты центра ячейки
func CellCenter(c Vec2, cellSize float64) (x, z float64) {
	return (float64(c.X) + 0.5) * cellSize, (float64(c.Y) + 0.5) * cellSize
}
