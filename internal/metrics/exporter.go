package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/distant-lod/internal/coordinator"
	"github.com/annel0/distant-lod/internal/logging"
)

// StatsSource - всё, что экспортер знает о LOD-подсистеме
type StatsSource interface {
	Snapshot() coordinator.Snapshot
}

// MetricsExporter периодически переводит снимок координатора в Prometheus-метрики.
type MetricsExporter struct {
	source   StatsSource
	gatherer prometheus.Gatherer
	interval time.Duration

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Счётчики пересчитываются по приращению снимка
	prev coordinator.Snapshot

	ticks             prometheus.Counter
	cellsMerged       prometheus.Counter
	objectsMerged     prometheus.Counter
	objectsSkipped    prometheus.Counter
	cacheHits         prometheus.Counter
	budgetTruncations prometheus.Counter
	transitions       prometheus.Counter
	hysteresisHolds   prometheus.Counter
	addFailures       prometheus.Counter

	cellsLoaded   prometheus.Gauge
	cellsVisible  prometheus.Gauge
	vertices      prometheus.Gauge
	objects       prometheus.Gauge
	cacheSize     prometheus.Gauge
	queueLength   prometheus.Gauge
	trackedCells  prometheus.Gauge
	updateSeconds prometheus.Gauge
	cellsInTier   *prometheus.GaugeVec
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lod", Name: name, Help: help})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "lod", Name: name, Help: help})
}

// NewMetricsExporter создаёт экспортер, но не запускает HTTP-сервер.
// registry == nil - метрики регистрируются в глобальном регистре Prometheus.
func NewMetricsExporter(source StatsSource, registry *prometheus.Registry) *MetricsExporter {
	me := &MetricsExporter{
		source:   source,
		interval: time.Second,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),

		ticks:             counter("ticks_total", "Выполненных тиков обновления."),
		cellsMerged:       counter("cells_merged_total", "Ячеек, объединённых в один меш."),
		objectsMerged:     counter("objects_merged_total", "Объектов, вошедших в объединённые меши."),
		objectsSkipped:    counter("objects_skipped_total", "Объектов, отброшенных фильтрами слияния."),
		cacheHits:         counter("merge_cache_hits_total", "Попаданий в кэш слияния."),
		budgetTruncations: counter("budget_truncations_total", "Ячеек, упёршихся в потолок вершин."),
		transitions:       counter("tier_transitions_total", "Смен тира отслеживаемых ячеек."),
		hysteresisHolds:   counter("hysteresis_holds_total", "Переходов, удержанных гистерезисом."),
		addFailures:       counter("add_failures_total", "Неудачных попыток загрузить ячейку."),

		cellsLoaded:   gauge("cells_loaded", "Ячеек с объединённой геометрией в бэкенде."),
		cellsVisible:  gauge("cells_visible", "Видимых объединённых ячеек."),
		vertices:      gauge("vertices_loaded", "Вершин в загруженных ячейках."),
		objects:       gauge("objects_loaded", "Объектов в загруженных ячейках."),
		cacheSize:     gauge("merge_cache_size", "Размер кэша слияния."),
		queueLength:   gauge("merge_queue_length", "Ячеек в очереди на слияние."),
		trackedCells:  gauge("tracked_cells", "Ячеек в памяти тиров."),
		updateSeconds: gauge("last_update_seconds", "Длительность последнего тика."),
		cellsInTier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lod",
			Name:      "cells_in_tier",
			Help:      "Ячеек в зоне видимости по тирам.",
		}, []string{"tier"}),
	}

	collectors := []prometheus.Collector{
		me.ticks, me.cellsMerged, me.objectsMerged, me.objectsSkipped, me.cacheHits,
		me.budgetTruncations, me.transitions, me.hysteresisHolds, me.addFailures,
		me.cellsLoaded, me.cellsVisible, me.vertices, me.objects, me.cacheSize,
		me.queueLength, me.trackedCells, me.updateSeconds, me.cellsInTier,
	}

	if registry != nil {
		registry.MustRegister(collectors...)
		me.gatherer = registry
	} else {
		prometheus.MustRegister(collectors...)
		me.gatherer = prometheus.DefaultGatherer
	}
	return me
}

// Handler возвращает HTTP-обработчик /metrics для регистра экспортера
func (m *MetricsExporter) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Start запускает периодическое обновление метрик без HTTP-сервера
func (m *MetricsExporter) Start() {
	go m.loop()
}

// StartHTTP запускает HTTP-эндпоинт Prometheus на указанном адресе (например, ":2112").
// Метод неблокирующий: HTTP-сервер стартует в отдельной горутине.
func (m *MetricsExporter) StartHTTP(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
	m.Start()
}

// Stop останавливает обновление метрик
func (m *MetricsExporter) Stop() {
	m.stopOnce.Do(func() {
		close(m.quit)
	})
	<-m.done
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ticker.C:
			m.Collect()
		case <-m.quit:
			return
		}
	}
}

func addDelta(c prometheus.Counter, cur, prev int64) {
	if d := cur - prev; d > 0 {
		c.Add(float64(d))
	}
}

// Collect снимает один снимок и обновляет метрики
func (m *MetricsExporter) Collect() {
	s := m.source.Snapshot()
	p := m.prev

	addDelta(m.ticks, s.Ticks, p.Ticks)
	addDelta(m.cellsMerged, s.Merge.CellsMerged, p.Merge.CellsMerged)
	addDelta(m.objectsMerged, s.Merge.ObjectsMerged, p.Merge.ObjectsMerged)
	addDelta(m.objectsSkipped, s.Merge.ObjectsSkipped, p.Merge.ObjectsSkipped)
	addDelta(m.cacheHits, s.Merge.CacheHits, p.Merge.CacheHits)
	addDelta(m.budgetTruncations, s.Merge.BudgetTruncations, p.Merge.BudgetTruncations)
	addDelta(m.transitions, s.Classifier.Transitions, p.Classifier.Transitions)
	addDelta(m.hysteresisHolds, s.Classifier.HysteresisHolds, p.Classifier.HysteresisHolds)
	addDelta(m.addFailures, s.Render.AddFailures, p.Render.AddFailures)

	m.cellsLoaded.Set(float64(s.Render.LoadedCells))
	m.cellsVisible.Set(float64(s.Render.VisibleCells))
	m.vertices.Set(float64(s.Render.TotalVertices))
	m.objects.Set(float64(s.Render.TotalObjects))
	m.cacheSize.Set(float64(s.Merge.CacheSize))
	m.queueLength.Set(float64(s.Queue))
	m.trackedCells.Set(float64(s.Classifier.TrackedCells))
	m.updateSeconds.Set(s.LastUpdate.Duration.Seconds())

	m.cellsInTier.Reset()
	for tier, n := range s.LastUpdate.CellsByTier {
		m.cellsInTier.WithLabelValues(tier).Set(float64(n))
	}

	m.prev = s
}
