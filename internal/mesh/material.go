package mesh

import (
	"github.com/go-gl/mathgl/mgl32"
)

// ShadingMode определяет, где считается освещение
type ShadingMode int

const (
	ShadingPerPixel ShadingMode = iota
	ShadingPerVertex
	ShadingUnshaded
)

// SpecularMode режим бликов
type SpecularMode int

const (
	SpecularSchlickGGX SpecularMode = iota
	SpecularDisabled
)

// TransparencyMode режим прозрачности
type TransparencyMode int

const (
	TransparencyDisabled TransparencyMode = iota
	TransparencyAlpha
	TransparencyAlphaScissor
	TransparencyAlphaHash
)

// Material описывает параметры поверхности для рендер-бэкенда
type Material struct {
	Name          string     `json:"name,omitempty"`
	AlbedoColor   mgl32.Vec4 `json:"albedo_color"`
	AlbedoTexture string     `json:"albedo_texture,omitempty"`

	NormalEnabled bool   `json:"normal_enabled,omitempty"`
	NormalTexture string `json:"normal_texture,omitempty"`

	Roughness float32 `json:"roughness"`
	Metallic  float32 `json:"metallic"`
	Specular  float32 `json:"specular"`

	Shading      ShadingMode      `json:"shading"`
	SpecularMode SpecularMode     `json:"specular_mode"`
	Transparency TransparencyMode `json:"transparency"`
	// AlphaScissorThreshold используется только при TransparencyAlphaScissor
	AlphaScissorThreshold float32 `json:"alpha_scissor_threshold,omitempty"`
}

// DefaultMaterial возвращает серый PBR-материал по умолчанию
func DefaultMaterial() *Material {
	return &Material{
		Name:        "default",
		AlbedoColor: mgl32.Vec4{0.6, 0.6, 0.6, 1},
		Roughness:   0.8,
		Specular:    0.5,
	}
}

// Clone возвращает независимую копию материала
func (m *Material) Clone() *Material {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
