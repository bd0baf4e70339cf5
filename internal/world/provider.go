package world

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/distant-lod/internal/mesh"
	"github.com/annel0/distant-lod/internal/vec"
)

// RecordType - тег типа записи мира (четырёхбуквенный, как в базе сущностей)
type RecordType string

const (
	TypeStatic    RecordType = "STAT"
	TypeActivator RecordType = "ACTI"
	TypeContainer RecordType = "CONT"
	TypeDoor      RecordType = "DOOR"
	TypeLight     RecordType = "LIGH"
	TypeFlora     RecordType = "FLOR"
	TypeFurniture RecordType = "FURN"
	TypeCreature  RecordType = "CREA"
	TypeNPC       RecordType = "NPC_"
	TypeMisc      RecordType = "MISC"
)

// ObjectRef - размещённый в ячейке объект
type ObjectRef struct {
	ID    string     `json:"id"`
	Type  RecordType `json:"type"`
	Model string     `json:"model"`
	// Position в мировых координатах (метры), Y - вверх
	Position mgl32.Vec3 `json:"position"`
	// Rotation - углы Эйлера в радианах
	Rotation mgl32.Vec3 `json:"rotation"`
	Scale    float32    `json:"scale"`
	// Variant - необязательный идентификатор варианта модели
	Variant string `json:"variant,omitempty"`
}

// Transform возвращает мировое преобразование объекта.
// Нулевой масштаб трактуется как 1 (запись без явного масштаба).
func (r ObjectRef) Transform() mesh.Transform {
	scale := r.Scale
	if scale == 0 {
		scale = 1
	}
	return mesh.FromEuler(r.Position, r.Rotation, mgl32.Vec3{scale, scale, scale})
}

// Settings - переопределения мира для LOD. Нулевые значения означают "не переопределять".
type Settings struct {
	MaxViewDistance float64
	// TierStarts - начала MID, FAR, HORIZON в метрах
	TierStarts       [3]float64
	CellSize         float64
	DistantSupported bool
}

// DefaultSettings - мир без переопределений с поддержкой дальнего рендера
func DefaultSettings() Settings {
	return Settings{DistantSupported: true}
}

// Provider - источник данных мира (база сущностей)
type Provider interface {
	// CellReferences возвращает объекты, размещённые в ячейке
	CellReferences(cell vec.Vec2) []ObjectRef
	// ObjectInfo возвращает тип и путь модели объекта по ID
	ObjectInfo(id string) (RecordType, string, bool)
	// WorldSettings возвращает переопределения для мира
	WorldSettings(worldID string) Settings
}

// ModelLoader загружает прототип модели для слияния
type ModelLoader interface {
	LoadModel(path string, variant string) (*mesh.Prototype, error)
}

// BaseProvider - реализация по умолчанию: пустые ячейки, без переопределений.
// Встраивается в провайдеры, которые поддерживают не все возможности.
type BaseProvider struct{}

func (BaseProvider) CellReferences(vec.Vec2) []ObjectRef { return nil }

func (BaseProvider) ObjectInfo(string) (RecordType, string, bool) { return "", "", false }

func (BaseProvider) WorldSettings(string) Settings { return DefaultSettings() }

// StaticProvider хранит объекты в памяти; удобен для тестов и инструментов
type StaticProvider struct {
	BaseProvider
	Cells    map[vec.Vec2][]ObjectRef
	Settings map[string]Settings
}

// NewStaticProvider создаёт пустой провайдер
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		Cells:    make(map[vec.Vec2][]ObjectRef),
		Settings: make(map[string]Settings),
	}
}

// Add добавляет объект в ячейку
func (p *StaticProvider) Add(cell vec.Vec2, ref ObjectRef) {
	p.Cells[cell] = append(p.Cells[cell], ref)
}

func (p *StaticProvider) CellReferences(cell vec.Vec2) []ObjectRef {
	return p.Cells[cell]
}

func (p *StaticProvider) ObjectInfo(id string) (RecordType, string, bool) {
	for _, refs := range p.Cells {
		for _, r := range refs {
			if r.ID == id {
				return r.Type, r.Model, true
			}
		}
	}
	return "", "", false
}

func (p *StaticProvider) WorldSettings(worldID string) Settings {
	if s, ok := p.Settings[worldID]; ok {
		return s
	}
	return DefaultSettings()
}
