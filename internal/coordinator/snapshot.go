package coordinator

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/distant-lod/internal/lod"
	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/render"
	"github.com/annel0/distant-lod/internal/vec"
)

// CellInfo - описание загруженной ячейки для отладочного API
type CellInfo struct {
	Cell     vec.Vec2   `json:"cell"`
	Tier     string     `json:"tier"`
	Vertices int        `json:"vertices"`
	Objects  int        `json:"objects"`
	Visible  bool       `json:"visible"`
	OwnsMesh bool       `json:"owns_mesh"`
	Center   mgl32.Vec3 `json:"center"`
}

// Snapshot - согласованный снимок состояния всех компонентов
type Snapshot struct {
	WorldID    string              `json:"world_id"`
	Camera     vec.Vec2            `json:"camera"`
	Ticks      int64               `json:"ticks"`
	Enabled    bool                `json:"enabled"`
	Queue      int                 `json:"queue"`
	Failed     int                 `json:"failed"`
	Classifier lod.ClassifierStats `json:"classifier"`
	Merge      merge.Stats         `json:"merge"`
	Render     render.Stats        `json:"render"`
	LastUpdate UpdateResult        `json:"last_update"`
}

// String возвращает снимок в читаемом виде
func (s Snapshot) String() string {
	return fmt.Sprintf("LOD[%s] camera=%s ticks=%d queue=%d | %s | %s",
		s.WorldID, s.Camera, s.Ticks, s.Queue, s.Merge, s.Render)
}

// Snapshot возвращает снимок состояния под блокировкой
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		WorldID:    c.worldID,
		Camera:     c.camera,
		Ticks:      c.ticks,
		Enabled:    c.tiers.Enabled(),
		Queue:      len(c.queue),
		Failed:     len(c.failed),
		Classifier: c.classifier.Stats(),
		Merge:      c.merger.Stats(),
		Render:     c.renderer.Stats(),
		LastUpdate: c.last,
	}
}
