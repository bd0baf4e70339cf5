// Package merge объединяет мелкие статичные объекты ячейки в один упрощённый меш
// с общим дешёвым материалом для среднего тира.
package merge

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/mesh"
	"github.com/annel0/distant-lod/internal/meshopt"
	"github.com/annel0/distant-lod/internal/vec"
	"github.com/annel0/distant-lod/internal/world"
)

// uvTile - шаг планарной развёртки для объектов без UV
const uvTile = 4.0

// CellData - результат слияния ячейки. Неизменяем после создания.
type CellData struct {
	Cell        vec.Vec2       `json:"cell"`
	Surface     *mesh.Surface  `json:"surface"`
	Material    *mesh.Material `json:"material"`
	ObjectCount int            `json:"object_count"`
	VertexCount int            `json:"vertex_count"`
	Bounds      mesh.AABB      `json:"bounds"`
	// TruncatedObjects - объекты, не вошедшие из-за потолка вершин
	TruncatedObjects int `json:"truncated_objects,omitempty"`
}

// Stats - агрегированные счётчики слияния
type Stats struct {
	CellsMerged       int64
	ObjectsMerged     int64
	ObjectsSkipped    int64
	CacheHits         int64
	BudgetTruncations int64 // Ячеек, упёршихся в потолок вершин
	ObjectsTruncated  int64
	EmptyCells        int64
	CacheSize         int
}

// String возвращает статистику в читаемом виде
func (s Stats) String() string {
	return fmt.Sprintf("Merge: cells=%d objects=%d skipped=%d hits=%d truncations=%d empty=%d cache=%d",
		s.CellsMerged, s.ObjectsMerged, s.ObjectsSkipped, s.CacheHits, s.BudgetTruncations, s.EmptyCells, s.CacheSize)
}

// Merger объединяет объекты ячеек и кэширует результат по координате ячейки.
// Не потокобезопасен: владелец вызывает его из одного цикла.
type Merger struct {
	loader     world.ModelLoader
	simplifier mesh.Simplifier
	settings   Settings

	allowed map[world.RecordType]struct{}
	deny    patternSet
	large   patternSet

	cache  map[vec.Vec2]*CellData
	stats  Stats
	logger *logging.Logger
}

// NewMerger создаёт объединитель. loader и simplifier могут быть nil:
// без загрузчика слияние возвращает nil, без упростителя геометрия берётся как есть.
func NewMerger(loader world.ModelLoader, simplifier mesh.Simplifier, s Settings) (*Merger, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	allowed := make(map[world.RecordType]struct{}, len(s.AllowedTypes))
	for _, t := range s.AllowedTypes {
		allowed[t] = struct{}{}
	}

	return &Merger{
		loader:     loader,
		simplifier: simplifier,
		settings:   s,
		allowed:    allowed,
		deny:       newPatternSet(s.DenyPatterns),
		large:      newPatternSet(s.LargePatterns),
		cache:      make(map[vec.Vec2]*CellData),
		logger:     logging.GetMergeLogger(),
	}, nil
}

// Settings возвращает настройки объединителя
func (m *Merger) Settings() Settings {
	return m.settings
}

// IsMergeable проверяет тип записи и запрещённые шаблоны пути.
// Фильтр по размеру требует загрузки модели и выполняется в MergeCell.
func (m *Merger) IsMergeable(ref world.ObjectRef) bool {
	if _, ok := m.allowed[ref.Type]; !ok {
		return false
	}
	if ref.Model == "" {
		return false
	}
	return !m.deny.match(ref.Model)
}

// IsLargeObject сообщает, что путь модели отменяет фильтр по размеру
func (m *Merger) IsLargeObject(model string) bool {
	return m.large.match(model)
}

// FilterMergeable возвращает объекты, прошедшие IsMergeable, в исходном порядке
func (m *Merger) FilterMergeable(refs []world.ObjectRef) []world.ObjectRef {
	out := make([]world.ObjectRef, 0, len(refs))
	for _, ref := range refs {
		if m.IsMergeable(ref) {
			out = append(out, ref)
		}
	}
	return out
}

// source - объект, прошедший все фильтры, с готовой к запеканию геометрией
type source struct {
	ref       world.ObjectRef
	arrays    mesh.Arrays
	material  *mesh.Material
	transform mesh.Transform
}

// prepare загружает модель объекта и проверяет размер и преобразование
func (m *Merger) prepare(ref world.ObjectRef) (source, bool) {
	proto, err := m.loader.LoadModel(ref.Model, ref.Variant)
	if err != nil || proto == nil {
		m.logger.Trace("Model %s not loaded for %s: %v", ref.Model, ref.ID, err)
		return source{}, false
	}

	surface := proto.Mesh.FirstUsableSurface()
	if surface == nil {
		return source{}, false
	}

	xf := ref.Transform()
	if !xf.Valid() {
		m.logger.Trace("Object %s has invalid transform", ref.ID)
		return source{}, false
	}

	if !m.IsLargeObject(ref.Model) {
		size := proto.LocalBounds().Transformed(xf).LongestAxis()
		if size <= m.settings.MinObjectSize {
			return source{}, false
		}
	}

	arrays := surface.Arrays()
	if m.simplifier != nil && m.settings.SimplifyRatio < 1 {
		if simplified := m.simplifier.Simplify(arrays, m.settings.SimplifyRatio); !simplified.Empty() {
			arrays = simplified
		}
	}
	if len(arrays.Normals) != len(arrays.Positions) {
		arrays.Normals = mesh.GenerateNormals(arrays.Positions, arrays.Indices)
	}

	return source{ref: ref, arrays: arrays, material: surface.Material, transform: xf}, true
}

// MergeCell объединяет объекты ячейки. Повторный вызов возвращает закэшированный
// результат. nil означает "в ячейке нечего рисовать" и не кэшируется.
func (m *Merger) MergeCell(cell vec.Vec2, refs []world.ObjectRef) *CellData {
	if cached, ok := m.cache[cell]; ok {
		m.stats.CacheHits++
		return cached
	}

	if m.loader == nil {
		m.logger.Warn("Model loader is not available, cell %s skipped", cell)
		return nil
	}

	start := time.Now()

	var (
		positions []mgl32.Vec3
		normals   []mgl32.Vec3
		uvs       []mgl32.Vec2
		indices   []uint32
		bounds    mesh.AABB
		template  *mesh.Material
		objects   int
		skipped   int
		truncated int
	)

	for i, ref := range refs {
		if !m.IsMergeable(ref) {
			skipped++
			continue
		}

		src, ok := m.prepare(ref)
		if !ok {
			skipped++
			continue
		}

		if len(positions)+len(src.arrays.Positions) > m.settings.MaxVertices {
			// Остаток ячейки в этот меш не попадает
			truncated = 1 + len(m.FilterMergeable(refs[i+1:]))
			break
		}

		base := uint32(len(positions))
		normalMatrix := src.transform.NormalMatrix()

		for v, p := range src.arrays.Positions {
			wp := src.transform.Point(p)
			positions = append(positions, wp)
			normals = append(normals, mesh.TransformNormal(normalMatrix, src.arrays.Normals[v]))
			bounds.ExpandByPoint(wp)
		}
		if len(src.arrays.UVs) == len(src.arrays.Positions) {
			uvs = append(uvs, src.arrays.UVs...)
		} else {
			uvs = append(uvs, mesh.PlanarUVs(positions[base:], uvTile)...)
		}
		for _, idx := range src.arrays.Indices {
			indices = append(indices, base+idx)
		}

		if template == nil {
			template = src.material
			if template == nil {
				template = mesh.DefaultMaterial()
			}
		}
		objects++
	}

	m.stats.ObjectsSkipped += int64(skipped)

	if objects == 0 {
		m.stats.EmptyCells++
		m.logger.Debug("Cell %s has nothing to merge (%d refs, %d skipped)", cell, len(refs), skipped)
		return nil
	}

	if truncated > 0 {
		m.stats.BudgetTruncations++
		m.stats.ObjectsTruncated += int64(truncated)
		m.logger.Warn("Cell %s hit vertex budget %d: %d objects excluded",
			cell, m.settings.MaxVertices, truncated)
	}

	indices = meshopt.OptimizeVertexCache(indices, len(positions))

	material := DistantMaterial(template)
	data := &CellData{
		Cell: cell,
		Surface: &mesh.Surface{
			Positions: positions,
			Normals:   normals,
			UVs:       uvs,
			Indices:   indices,
			Material:  material,
		},
		Material:         material,
		ObjectCount:      objects,
		VertexCount:      len(positions),
		Bounds:           bounds,
		TruncatedObjects: truncated,
	}

	m.cache[cell] = data
	m.stats.CellsMerged++
	m.stats.ObjectsMerged += int64(objects)

	logging.LogCellMerge(cell.X, cell.Y, objects, len(positions), time.Since(start))
	return data
}

// Cached возвращает закэшированный результат ячейки
func (m *Merger) Cached(cell vec.Vec2) (*CellData, bool) {
	data, ok := m.cache[cell]
	return data, ok
}

// RemoveFromCache удаляет результат ячейки из кэша
func (m *Merger) RemoveFromCache(cell vec.Vec2) {
	delete(m.cache, cell)
}

// ClearCache очищает кэш целиком
func (m *Merger) ClearCache() {
	m.cache = make(map[vec.Vec2]*CellData)
}

// CacheSize возвращает количество закэшированных ячеек
func (m *Merger) CacheSize() int {
	return len(m.cache)
}

// Stats возвращает снимок счётчиков
func (m *Merger) Stats() Stats {
	s := m.stats
	s.CacheSize = len(m.cache)
	return s
}
