package render

import (
	"fmt"
	"sync"

	"github.com/annel0/distant-lod/internal/mesh"
)

// ResourceKind - тип ресурса headless-бэкенда
type ResourceKind int

const (
	KindMesh ResourceKind = iota
	KindMaterial
	KindInstance
)

// String возвращает имя типа ресурса
func (k ResourceKind) String() string {
	switch k {
	case KindMesh:
		return "mesh"
	case KindMaterial:
		return "material"
	case KindInstance:
		return "instance"
	default:
		return "unknown"
	}
}

// InstanceInfo - состояние инстанса в headless-бэкенде
type InstanceInfo struct {
	Base     Handle
	Scenario Handle
	Material Handle
	Visible  bool
}

// Headless - рендер-бэкенд без GPU. Ведёт учёт живых хэндлов, поэтому
// используется сервером без окна и для проверки утечек.
type Headless struct {
	mu        sync.Mutex
	next      Handle
	scenario  Handle
	active    bool
	live      map[Handle]ResourceKind
	instances map[Handle]*InstanceInfo
	vertices  map[Handle]int
	failNext  map[ResourceKind]error
}

// NewHeadless создаёт бэкенд с активной сценой
func NewHeadless() *Headless {
	h := &Headless{
		live:      make(map[Handle]ResourceKind),
		instances: make(map[Handle]*InstanceInfo),
		vertices:  make(map[Handle]int),
		failNext:  make(map[ResourceKind]error),
		active:    true,
	}
	h.next++
	h.scenario = h.next
	return h
}

// SetActive включает или выключает контекст сцены
func (h *Headless) SetActive(active bool) {
	h.mu.Lock()
	h.active = active
	h.mu.Unlock()
}

// FailNext заставляет следующее создание ресурса kind вернуть err
func (h *Headless) FailNext(kind ResourceKind, err error) {
	h.mu.Lock()
	h.failNext[kind] = err
	h.mu.Unlock()
}

func (h *Headless) Scenario() (Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scenario, h.active
}

func (h *Headless) allocate(kind ResourceKind) (Handle, error) {
	if err, ok := h.failNext[kind]; ok {
		delete(h.failNext, kind)
		return 0, err
	}
	h.next++
	h.live[h.next] = kind
	return h.next, nil
}

func (h *Headless) CreateMesh(surface *mesh.Surface) (Handle, error) {
	if !surface.Valid() {
		return 0, fmt.Errorf("render: invalid surface")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, err := h.allocate(KindMesh)
	if err != nil {
		return 0, err
	}
	h.vertices[handle] = surface.VertexCount()
	return handle, nil
}

func (h *Headless) CreateMaterial(material *mesh.Material) (Handle, error) {
	if material == nil {
		return 0, fmt.Errorf("render: nil material")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocate(KindMaterial)
}

func (h *Headless) CreateInstance() (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, err := h.allocate(KindInstance)
	if err != nil {
		return 0, err
	}
	h.instances[handle] = &InstanceInfo{}
	return handle, nil
}

func (h *Headless) instance(handle Handle) (*InstanceInfo, error) {
	info, ok := h.instances[handle]
	if !ok {
		return nil, fmt.Errorf("render: unknown instance %d", handle)
	}
	return info, nil
}

func (h *Headless) expect(handle Handle, kind ResourceKind) error {
	if k, ok := h.live[handle]; !ok || k != kind {
		return fmt.Errorf("render: handle %d is not a live %s", handle, kind)
	}
	return nil
}

func (h *Headless) InstanceSetBase(instance, meshHandle Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, err := h.instance(instance)
	if err != nil {
		return err
	}
	if err := h.expect(meshHandle, KindMesh); err != nil {
		return err
	}
	info.Base = meshHandle
	return nil
}

func (h *Headless) InstanceSetScenario(instance, scenario Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, err := h.instance(instance)
	if err != nil {
		return err
	}
	if !h.active || scenario != h.scenario {
		return ErrNoScenario
	}
	info.Scenario = scenario
	return nil
}

func (h *Headless) InstanceSetMaterialOverride(instance, material Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, err := h.instance(instance)
	if err != nil {
		return err
	}
	if material.IsValid() {
		if err := h.expect(material, KindMaterial); err != nil {
			return err
		}
	}
	info.Material = material
	return nil
}

func (h *Headless) InstanceSetVisible(instance Handle, visible bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, err := h.instance(instance)
	if err != nil {
		return err
	}
	info.Visible = visible
	return nil
}

func (h *Headless) Free(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, handle)
	delete(h.instances, handle)
	delete(h.vertices, handle)
}

// Live возвращает количество живых хэндлов
func (h *Headless) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// LiveOf возвращает количество живых хэндлов указанного типа
func (h *Headless) LiveOf(kind ResourceKind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, k := range h.live {
		if k == kind {
			n++
		}
	}
	return n
}

// IsLive сообщает, что хэндл не освобождён
func (h *Headless) IsLive(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.live[handle]
	return ok
}

// Instance возвращает копию состояния инстанса
func (h *Headless) Instance(handle Handle) (InstanceInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.instances[handle]
	if !ok {
		return InstanceInfo{}, false
	}
	return *info, true
}

// MeshVertices возвращает количество вершин загруженного меша
func (h *Headless) MeshVertices(handle Handle) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vertices[handle]
}
