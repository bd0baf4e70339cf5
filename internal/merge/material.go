package merge

import (
	"github.com/annel0/distant-lod/internal/mesh"
)

// DistantMaterial синтезирует дешёвый материал для дальнего тира из шаблона:
// повершинное освещение без бликов, полная шероховатость, только альбедо.
// Прозрачность переносится, только если шаблон использует альфа-тест.
func DistantMaterial(template *mesh.Material) *mesh.Material {
	if template == nil {
		template = mesh.DefaultMaterial()
	}

	m := &mesh.Material{
		Name:          template.Name + "_distant",
		AlbedoColor:   template.AlbedoColor,
		AlbedoTexture: template.AlbedoTexture,
		Roughness:     1,
		Metallic:      0,
		Shading:       mesh.ShadingPerVertex,
		SpecularMode:  mesh.SpecularDisabled,
		Transparency:  mesh.TransparencyDisabled,
	}

	switch template.Transparency {
	case mesh.TransparencyAlphaScissor, mesh.TransparencyAlphaHash:
		m.Transparency = template.Transparency
		m.AlphaScissorThreshold = template.AlphaScissorThreshold
	}
	return m
}
