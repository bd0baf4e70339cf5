package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/distant-lod/internal/world"
)

// ErrInvalidSettings возвращается NewMerger при некорректных настройках
var ErrInvalidSettings = errors.New("merge: invalid settings")

// Settings - параметры конвейера слияния
type Settings struct {
	// SimplifyRatio - доля сохраняемых индексов (0.05 = сокращение на 95%)
	SimplifyRatio float32
	// MaxVertices - потолок вершин одного объединённого меша
	MaxVertices int
	// MinObjectSize - минимальный размер объекта (длинная ось мирового AABB), метры
	MinObjectSize float32
	// AllowedTypes - типы записей, которые можно запекать в статичный меш
	AllowedTypes []world.RecordType
	// DenyPatterns - подстроки пути модели, исключающие объект
	DenyPatterns []string
	// LargePatterns - подстроки пути модели, отменяющие фильтр по размеру
	LargePatterns []string
}

// DefaultSettings возвращает настройки по умолчанию
func DefaultSettings() Settings {
	return Settings{
		SimplifyRatio: 0.05,
		MaxVertices:   65535,
		MinObjectSize: 2.5,
		AllowedTypes: []world.RecordType{
			world.TypeStatic,
			world.TypeActivator,
			world.TypeContainer,
			world.TypeDoor,
			world.TypeLight,
		},
		DenyPatterns:  []string{"flora_", "furn_", "cr_", "anim", "_mov", "bc_mushroom", "tree_"},
		LargePatterns: []string{"wall", "bridge", "dock", "tower", "stronghold", "platform", "pier"},
	}
}

// Validate проверяет настройки
func (s Settings) Validate() error {
	if !(s.SimplifyRatio > 0 && s.SimplifyRatio <= 1) {
		return fmt.Errorf("%w: simplify ratio %v outside (0,1]", ErrInvalidSettings, s.SimplifyRatio)
	}
	if s.MaxVertices <= 0 {
		return fmt.Errorf("%w: max vertices %d", ErrInvalidSettings, s.MaxVertices)
	}
	if s.MinObjectSize < 0 {
		return fmt.Errorf("%w: min object size %v", ErrInvalidSettings, s.MinObjectSize)
	}
	if len(s.AllowedTypes) == 0 {
		return fmt.Errorf("%w: no allowed record types", ErrInvalidSettings)
	}
	for _, p := range s.DenyPatterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: empty deny pattern", ErrInvalidSettings)
		}
	}
	for _, p := range s.LargePatterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: empty large-object pattern", ErrInvalidSettings)
		}
	}
	return nil
}

// patternSet - регистронезависимое сопоставление подстрок пути
type patternSet []string

func newPatternSet(patterns []string) patternSet {
	set := make(patternSet, 0, len(patterns))
	for _, p := range patterns {
		set = append(set, strings.ToLower(p))
	}
	return set
}

func (ps patternSet) match(path string) bool {
	lower := strings.ToLower(path)
	for _, p := range ps {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
