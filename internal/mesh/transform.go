package mesh

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Transform - аффинное преобразование: линейная часть (базис) + смещение
type Transform struct {
	Basis  mgl32.Mat3
	Origin mgl32.Vec3
}

// Identity возвращает единичное преобразование
func Identity() Transform {
	return Transform{Basis: mgl32.Ident3()}
}

// FromEuler строит преобразование из позиции, углов Эйлера (радианы) и масштаба.
// Порядок применения к вершине: масштаб, поворот X, Y, Z, перенос.
func FromEuler(position, rotation, scale mgl32.Vec3) Transform {
	rot := mgl32.Rotate3DZ(rotation[2]).Mul3(mgl32.Rotate3DY(rotation[1])).Mul3(mgl32.Rotate3DX(rotation[0]))
	return Transform{
		Basis:  rot.Mul3(mgl32.Diag3(scale)),
		Origin: position,
	}
}

// Valid проверяет, что базис обратим и все компоненты конечны
func (t Transform) Valid() bool {
	for _, v := range t.Basis {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	for _, v := range t.Origin {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return math32.Abs(t.Basis.Det()) > 1e-12
}

// Point переводит точку в мировое пространство
func (t Transform) Point(p mgl32.Vec3) mgl32.Vec3 {
	return t.Basis.Mul3x1(p).Add(t.Origin)
}

// NormalMatrix возвращает обратно-транспонированную линейную часть.
// Корректна для неравномерного масштаба.
func (t Transform) NormalMatrix() mgl32.Mat3 {
	return t.Basis.Inv().Transpose()
}

// Mat4 возвращает однородную матрицу 4x4
func (t Transform) Mat4() mgl32.Mat4 {
	m := t.Basis.Mat4()
	m[12], m[13], m[14] = t.Origin[0], t.Origin[1], t.Origin[2]
	return m
}

// TransformNormal применяет нормальную матрицу и нормализует результат
func TransformNormal(normalMatrix mgl32.Mat3, n mgl32.Vec3) mgl32.Vec3 {
	out := normalMatrix.Mul3x1(n)
	if out.Len() < 1e-12 {
		return mgl32.Vec3{0, 1, 0}
	}
	return out.Normalize()
}
