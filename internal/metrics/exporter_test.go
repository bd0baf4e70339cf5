package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/distant-lod/internal/coordinator"
	"github.com/annel0/distant-lod/internal/lod"
	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/render"
)

type fakeSource struct {
	snap coordinator.Snapshot
}

func (f *fakeSource) Snapshot() coordinator.Snapshot { return f.snap }

func TestCollectTranslatesSnapshot(t *testing.T) {
	src := &fakeSource{snap: coordinator.Snapshot{
		Ticks:      10,
		Queue:      4,
		Classifier: lod.ClassifierStats{Transitions: 7, TrackedCells: 300},
		Merge:      merge.Stats{CellsMerged: 3, ObjectsMerged: 40, CacheSize: 3},
		Render:     render.Stats{LoadedCells: 3, VisibleCells: 2, TotalVertices: 900},
		LastUpdate: coordinator.UpdateResult{
			CellsByTier: map[string]int{"NEAR": 21, "MID": 180},
			Duration:    2 * time.Millisecond,
		},
	}}
	exp := NewMetricsExporter(src, prometheus.NewRegistry())

	exp.Collect()
	assert.Equal(t, 10.0, testutil.ToFloat64(exp.ticks))
	assert.Equal(t, 3.0, testutil.ToFloat64(exp.cellsMerged))
	assert.Equal(t, 7.0, testutil.ToFloat64(exp.transitions))
	assert.Equal(t, 3.0, testutil.ToFloat64(exp.cellsLoaded))
	assert.Equal(t, 2.0, testutil.ToFloat64(exp.cellsVisible))
	assert.Equal(t, 900.0, testutil.ToFloat64(exp.vertices))
	assert.Equal(t, 4.0, testutil.ToFloat64(exp.queueLength))
	assert.Equal(t, 180.0, testutil.ToFloat64(exp.cellsInTier.WithLabelValues("MID")))
	assert.InDelta(t, 0.002, testutil.ToFloat64(exp.updateSeconds), 1e-9)

	// Счётчики растут на приращение
	src.snap.Ticks = 15
	src.snap.Merge.CellsMerged = 5
	src.snap.Render.LoadedCells = 1
	exp.Collect()
	assert.Equal(t, 15.0, testutil.ToFloat64(exp.ticks))
	assert.Equal(t, 5.0, testutil.ToFloat64(exp.cellsMerged))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.cellsLoaded))
}

func TestHandlerServesRegistry(t *testing.T) {
	src := &fakeSource{snap: coordinator.Snapshot{Ticks: 1}}
	exp := NewMetricsExporter(src, prometheus.NewRegistry())
	exp.Collect()

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "lod_ticks_total 1"))
}

func TestStartStop(t *testing.T) {
	exp := NewMetricsExporter(&fakeSource{}, prometheus.NewRegistry())
	exp.interval = 5 * time.Millisecond
	exp.Start()
	time.Sleep(20 * time.Millisecond)
	exp.Stop()
	exp.Stop()
}
