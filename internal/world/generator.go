package world

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/distant-lod/internal/mesh"
	"github.com/annel0/distant-lod/internal/util"
	"github.com/annel0/distant-lod/internal/vec"
)

// BiomeType представляет тип биома
type BiomeType int

const (
	BiomeWilderness BiomeType = iota
	BiomeForest
	BiomeSettlement
	BiomeCoast
)

// Пороговые значения шума для биомов
const (
	CoastMax      = 0.30 // Ниже - побережье (доки, мосты)
	ForestMin     = 0.55 // Выше - лес
	SettlementMin = 0.70 // Выше (по шуму поселений) - поселение
)

// ModelSpec описывает процедурную модель каталога
type ModelSpec struct {
	Type     RecordType
	Size     mgl32.Vec3 // Габариты в метрах
	Segments int        // Разбиение каждой грани (детализация)
	Color    mgl32.Vec4
	// AlphaTested - материал с альфа-отсечением (листва, решётки)
	AlphaTested bool
}

// Catalog - каталог процедурных моделей по пути
var Catalog = map[string]ModelSpec{
	"meshes/x/ex_common_wall_01.nif":    {Type: TypeStatic, Size: mgl32.Vec3{12, 6, 1}, Segments: 4, Color: mgl32.Vec4{0.62, 0.58, 0.50, 1}},
	"meshes/x/ex_common_wall_short.nif": {Type: TypeStatic, Size: mgl32.Vec3{1.5, 1.0, 0.3}, Segments: 1, Color: mgl32.Vec4{0.62, 0.58, 0.50, 1}},
	"meshes/x/ex_common_bridge_01.nif":  {Type: TypeStatic, Size: mgl32.Vec3{20, 2, 6}, Segments: 4, Color: mgl32.Vec4{0.45, 0.35, 0.25, 1}},
	"meshes/x/ex_dock_platform_01.nif":  {Type: TypeStatic, Size: mgl32.Vec3{10, 1, 10}, Segments: 3, Color: mgl32.Vec4{0.40, 0.30, 0.20, 1}},
	"meshes/x/ex_common_house_01.nif":   {Type: TypeStatic, Size: mgl32.Vec3{10, 8, 10}, Segments: 3, Color: mgl32.Vec4{0.75, 0.70, 0.60, 1}},
	"meshes/x/terrain_rock_01.nif":      {Type: TypeStatic, Size: mgl32.Vec3{4, 3, 4}, Segments: 2, Color: mgl32.Vec4{0.50, 0.50, 0.50, 1}},
	"meshes/x/misc_pebble_01.nif":       {Type: TypeStatic, Size: mgl32.Vec3{0.4, 0.3, 0.4}, Segments: 1, Color: mgl32.Vec4{0.50, 0.50, 0.50, 1}},
	"meshes/x/ex_fence_grate_01.nif":    {Type: TypeStatic, Size: mgl32.Vec3{4, 2, 0.2}, Segments: 2, Color: mgl32.Vec4{0.30, 0.30, 0.30, 1}, AlphaTested: true},
	"meshes/o/contain_barrel_01.nif":    {Type: TypeContainer, Size: mgl32.Vec3{1, 1.4, 1}, Segments: 1, Color: mgl32.Vec4{0.50, 0.35, 0.20, 1}},
	"meshes/o/contain_chest_large.nif":  {Type: TypeContainer, Size: mgl32.Vec3{2.8, 1.4, 1.6}, Segments: 1, Color: mgl32.Vec4{0.45, 0.30, 0.15, 1}},
	"meshes/d/ex_door_01.nif":           {Type: TypeDoor, Size: mgl32.Vec3{1.5, 3, 0.3}, Segments: 1, Color: mgl32.Vec4{0.40, 0.25, 0.15, 1}},
	"meshes/l/light_pole_01.nif":        {Type: TypeLight, Size: mgl32.Vec3{0.6, 4, 0.6}, Segments: 1, Color: mgl32.Vec4{0.90, 0.80, 0.50, 1}},
	"meshes/l/light_lantern_01.nif":     {Type: TypeLight, Size: mgl32.Vec3{0.5, 0.8, 0.5}, Segments: 1, Color: mgl32.Vec4{0.90, 0.80, 0.50, 1}},
	"meshes/f/flora_tree_01.nif":        {Type: TypeFlora, Size: mgl32.Vec3{5, 9, 5}, Segments: 2, Color: mgl32.Vec4{0.20, 0.45, 0.20, 1}, AlphaTested: true},
	"meshes/f/furn_bench_01.nif":        {Type: TypeFurniture, Size: mgl32.Vec3{2.5, 1, 0.8}, Segments: 1, Color: mgl32.Vec4{0.45, 0.30, 0.15, 1}},
	"meshes/r/cr_guar.nif":              {Type: TypeCreature, Size: mgl32.Vec3{2, 2.5, 4}, Segments: 1, Color: mgl32.Vec4{0.60, 0.50, 0.30, 1}},
	"meshes/x/anim_waterwheel.nif":      {Type: TypeActivator, Size: mgl32.Vec3{6, 6, 1.5}, Segments: 2, Color: mgl32.Vec4{0.40, 0.30, 0.20, 1}},
	"meshes/x/ex_signpost_01.nif":       {Type: TypeActivator, Size: mgl32.Vec3{0.8, 3, 0.3}, Segments: 1, Color: mgl32.Vec4{0.40, 0.30, 0.20, 1}},
}

// Наборы моделей по биомам
var biomeModels = map[BiomeType][]string{
	BiomeWilderness: {"meshes/x/terrain_rock_01.nif", "meshes/x/misc_pebble_01.nif", "meshes/f/flora_tree_01.nif", "meshes/r/cr_guar.nif", "meshes/x/ex_signpost_01.nif"},
	BiomeForest:     {"meshes/f/flora_tree_01.nif", "meshes/f/flora_tree_01.nif", "meshes/x/terrain_rock_01.nif", "meshes/x/misc_pebble_01.nif"},
	BiomeSettlement: {"meshes/x/ex_common_house_01.nif", "meshes/x/ex_common_wall_01.nif", "meshes/x/ex_common_wall_short.nif", "meshes/d/ex_door_01.nif", "meshes/l/light_pole_01.nif", "meshes/l/light_lantern_01.nif", "meshes/o/contain_barrel_01.nif", "meshes/o/contain_chest_large.nif", "meshes/f/furn_bench_01.nif", "meshes/x/ex_fence_grate_01.nif"},
	BiomeCoast:      {"meshes/x/ex_dock_platform_01.nif", "meshes/x/ex_common_bridge_01.nif", "meshes/x/terrain_rock_01.nif", "meshes/x/anim_waterwheel.nif"},
}

// Generator процедурно заполняет ячейки объектами и строит для них модели.
// Реализует Provider и ModelLoader; результат детерминирован по сиду.
type Generator struct {
	Seed           int64
	CellSize       float64 // Размер ячейки в метрах
	NoiseScale     float64 // Масштаб шума биомов (в ячейках)
	ObjectsPerCell int     // Максимум объектов в ячейке
	// NoDistantWorlds - миры, где дальний рендер не поддерживается (интерьеры)
	NoDistantWorlds map[string]bool

	biomeNoise      *util.Noise
	settlementNoise *util.Noise
}

// NewGenerator создаёт новый генератор мира
func NewGenerator(seed int64, cellSize float64) *Generator {
	if cellSize <= 0 {
		cellSize = 117.0
	}
	return &Generator{
		Seed:            seed,
		CellSize:        cellSize,
		NoiseScale:      0.15,
		ObjectsPerCell:  40,
		NoDistantWorlds: map[string]bool{"interior": true},
		biomeNoise:      util.NewNoise(seed),
		settlementNoise: util.NewNoise(seed + 42),
	}
}

// Biome возвращает биом ячейки
func (g *Generator) Biome(cell vec.Vec2) BiomeType {
	x := float64(cell.X) * g.NoiseScale
	y := float64(cell.Y) * g.NoiseScale

	height := g.biomeNoise.At(x, y)
	if height < CoastMax {
		return BiomeCoast
	}
	if g.settlementNoise.At(x, y) > SettlementMin {
		return BiomeSettlement
	}
	if height > ForestMin {
		return BiomeForest
	}
	return BiomeWilderness
}

// CellReferences генерирует объекты ячейки
func (g *Generator) CellReferences(cell vec.Vec2) []ObjectRef {
	// Локальный генератор случайных чисел для детерминированности
	cellSeed := g.Seed + int64(cell.X*31) + int64(cell.Y*17)
	rng := rand.New(rand.NewSource(cellSeed))

	biome := g.Biome(cell)
	models := biomeModels[biome]

	density := g.biomeNoise.At(float64(cell.X)*g.NoiseScale*2, float64(cell.Y)*g.NoiseScale*2)
	count := int(density * float64(g.ObjectsPerCell))

	originX := float64(cell.X) * g.CellSize
	originZ := float64(cell.Y) * g.CellSize

	refs := make([]ObjectRef, 0, count)
	for i := 0; i < count; i++ {
		model := models[rng.Intn(len(models))]
		spec := Catalog[model]
		refs = append(refs, ObjectRef{
			ID:    fmt.Sprintf("gen:%d:%d:%d", cell.X, cell.Y, i),
			Type:  spec.Type,
			Model: model,
			Position: mgl32.Vec3{
				float32(originX + rng.Float64()*g.CellSize),
				float32(rng.Float64() * 2),
				float32(originZ + rng.Float64()*g.CellSize),
			},
			Rotation: mgl32.Vec3{0, float32(rng.Float64() * 2 * math.Pi), 0},
			Scale:    float32(0.8 + rng.Float64()*0.4),
		})
	}
	return refs
}

// ObjectInfo восстанавливает тип и модель объекта по ID вида gen:x:y:i
func (g *Generator) ObjectInfo(id string) (RecordType, string, bool) {
	var x, y, i int
	if _, err := fmt.Sscanf(id, "gen:%d:%d:%d", &x, &y, &i); err != nil {
		return "", "", false
	}
	refs := g.CellReferences(vec.Vec2{X: x, Y: y})
	if i < 0 || i >= len(refs) {
		return "", "", false
	}
	return refs[i].Type, refs[i].Model, true
}

// WorldSettings отключает дальний рендер для интерьеров
func (g *Generator) WorldSettings(worldID string) Settings {
	s := DefaultSettings()
	s.CellSize = g.CellSize
	if g.NoDistantWorlds[worldID] {
		s.DistantSupported = false
	}
	return s
}

// LoadModel строит меш модели из каталога
func (g *Generator) LoadModel(path string, variant string) (*mesh.Prototype, error) {
	spec, ok := Catalog[path]
	if !ok {
		return nil, fmt.Errorf("модель не найдена: %s", path)
	}

	surface := BoxSurface(spec.Size, spec.Segments)
	surface.Material = &mesh.Material{
		Name:          path,
		AlbedoColor:   spec.Color,
		AlbedoTexture: path + ".dds",
		NormalEnabled: true,
		NormalTexture: path + "_n.dds",
		Roughness:     0.7,
		Metallic:      0.1,
		Specular:      0.5,
	}
	if spec.AlphaTested {
		surface.Material.Transparency = mesh.TransparencyAlphaScissor
		surface.Material.AlphaScissorThreshold = 0.5
	}

	return &mesh.Prototype{
		Path: path,
		Mesh: &mesh.Mesh{Name: path, Surfaces: []*mesh.Surface{surface}},
	}, nil
}

// ModelPaths возвращает отсортированный список моделей каталога
func ModelPaths() []string {
	paths := make([]string, 0, len(Catalog))
	for p := range Catalog {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// BoxSurface строит коробку с центром основания в начале координат.
// Каждая грань разбита на segments x segments квадов.
func BoxSurface(size mgl32.Vec3, segments int) *mesh.Surface {
	if segments < 1 {
		segments = 1
	}
	half := size.Mul(0.5)
	s := &mesh.Surface{}

	for axis := 0; axis < 3; axis++ {
		b, c := (axis+1)%3, (axis+2)%3
		for _, sign := range []float32{1, -1} {
			base := uint32(len(s.Positions))
			var normal mgl32.Vec3
			normal[axis] = sign

			for j := 0; j <= segments; j++ {
				for i := 0; i <= segments; i++ {
					u := float32(i) / float32(segments)
					v := float32(j) / float32(segments)
					var p mgl32.Vec3
					p[axis] = sign * half[axis]
					p[b] = (-1 + 2*u) * half[b]
					p[c] = (-1 + 2*v) * half[c]
					p[1] += half[1]
					s.Positions = append(s.Positions, p)
					s.Normals = append(s.Normals, normal)
					s.UVs = append(s.UVs, mgl32.Vec2{u, v})
				}
			}

			row := uint32(segments + 1)
			for j := uint32(0); j < uint32(segments); j++ {
				for i := uint32(0); i < uint32(segments); i++ {
					i00 := base + j*row + i
					i10 := i00 + 1
					i01 := i00 + row
					i11 := i01 + 1
					if sign > 0 {
						s.Indices = append(s.Indices, i00, i10, i11, i00, i11, i01)
					} else {
						s.Indices = append(s.Indices, i00, i11, i10, i00, i01, i11)
					}
				}
			}
		}
	}
	return s
}
