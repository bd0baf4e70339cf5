// Package render держит объединённую геометрию среднего тира в рендер-бэкенде:
// создаёт и освобождает хэндлы мешей, материалов и инстансов, управляет видимостью.
package render

import (
	"errors"

	"github.com/annel0/distant-lod/internal/mesh"
)

// Handle - непрозрачный хэндл ресурса бэкенда. Ноль - невалидный хэндл.
type Handle uint64

// IsValid сообщает, что хэндл ненулевой
func (h Handle) IsValid() bool {
	return h != 0
}

// ErrNoScenario возвращается бэкендом, когда нет активного контекста рендера
var ErrNoScenario = errors.New("render: no active scenario")

// Backend - рендер-сервер, которым управляет Renderer
type Backend interface {
	// Scenario возвращает активный контекст сцены; false - контекста нет
	Scenario() (Handle, bool)

	CreateMesh(surface *mesh.Surface) (Handle, error)
	CreateMaterial(material *mesh.Material) (Handle, error)
	CreateInstance() (Handle, error)

	InstanceSetBase(instance, meshHandle Handle) error
	InstanceSetScenario(instance, scenario Handle) error
	InstanceSetMaterialOverride(instance, material Handle) error
	InstanceSetVisible(instance Handle, visible bool) error

	// Free освобождает любой хэндл; неизвестные хэндлы игнорируются
	Free(h Handle)
}
