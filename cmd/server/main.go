package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/annel0/distant-lod/internal/api"
	"github.com/annel0/distant-lod/internal/cache"
	"github.com/annel0/distant-lod/internal/config"
	"github.com/annel0/distant-lod/internal/coordinator"
	"github.com/annel0/distant-lod/internal/eventbus"
	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/mesh"
	"github.com/annel0/distant-lod/internal/meshopt"
	"github.com/annel0/distant-lod/internal/metrics"
	"github.com/annel0/distant-lod/internal/observability"
	"github.com/annel0/distant-lod/internal/render"
	"github.com/annel0/distant-lod/internal/storage"
	"github.com/annel0/distant-lod/internal/vec"
	"github.com/annel0/distant-lod/internal/world"
)

// flight - камера облетает мир по окружности, чтобы ячейки постоянно меняли тир
type flight struct {
	center mgl32.Vec3
	radius float64
	speed  float64 // м/с по дуге
}

func (f flight) at(t time.Duration) mgl32.Vec3 {
	angle := t.Seconds() * f.speed / f.radius
	return mgl32.Vec3{
		f.center.X() + float32(f.radius*math.Cos(angle)),
		f.center.Y(),
		f.center.Z() + float32(f.radius*math.Sin(angle)),
	}
}

func cellOf(pos mgl32.Vec3, cellSize float64) vec.Vec2 {
	return vec.Vec2{
		X: int(math.Floor(float64(pos.X()) / cellSize)),
		Y: int(math.Floor(float64(pos.Z()) / cellSize)),
	}
}

func main() {
	configPath := flag.String("config", "", "путь к YAML-конфигурации (по умолчанию $LOD_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Logging.Dir != "" {
		os.Setenv("LOD_LOG_DIR", cfg.Logging.Dir)
	}
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	logging.SetDefaultLevel(logging.ParseLevel(cfg.Logging.Level))

	logging.Info("🏔️  Запуск сервиса дальнего рендера (мир %q, сид %d)", cfg.World.ID, cfg.World.Seed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.TelemetryOptions{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			logging.Warn("⚠️ Трассировка отключена: %v", err)
		} else {
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				if err := shutdown(sctx); err != nil {
					logging.Error("Ошибка остановки трассировки: %v", err)
				}
			}()
			logging.Info("🔭 Трассировка OTLP → %s", cfg.Telemetry.Endpoint)
		}
	}

	// === КОМПОНЕНТЫ ===
	tiers, err := cfg.TierConfig()
	if err != nil {
		log.Fatalf("❌ Неверные настройки тиров: %v", err)
	}

	generator := world.NewGenerator(cfg.World.Seed, tiers.CellSize())
	generator.ObjectsPerCell = cfg.World.ObjectsPerCell

	var simplifier mesh.Simplifier
	if cfg.Merge.Simplify {
		simplifier = meshopt.NewSimplifier()
	}

	var (
		prebaked  coordinator.PrebakedSource
		coldStore *storage.PrebakedStore
	)
	if cfg.Storage.UsePrebaked {
		store, err := storage.OpenPrebakedStore(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("❌ Ошибка открытия хранилища запечённых ячеек: %v", err)
		}
		defer store.Close()

		manifest, err := store.LoadManifest()
		switch {
		case err != nil:
			logging.Warn("⚠️ Не удалось прочитать манифест: %v", err)
		case manifest == nil:
			logging.Warn("⚠️ Хранилище %s пусто, ячейки будут объединяться на лету", cfg.Storage.Path)
		case manifest.WorldID != cfg.World.ID || manifest.Seed != cfg.World.Seed:
			logging.Warn("⚠️ Запекание %s сделано для мира %q/%d, запечённые ячейки не используются",
				manifest.BakeID, manifest.WorldID, manifest.Seed)
		default:
			logging.Info("📦 Запечённые ячейки: %d (прогон %s)", manifest.Cells, manifest.BakeID)
			prebaked = store
			coldStore = store
		}
	}

	// Общий кеш перед локальным хранилищем: запечённые ячейки разделяются между серверами
	var cellCache *cache.CellCache
	var invalidator *cache.NATSInvalidator
	nodeID := "server-" + uuid.NewString()[:8]
	if cfg.Cache.Enabled && coldStore != nil {
		if natsCfg := cfg.NATSConfig(); natsCfg.NATSURL != "" {
			invalidator, err = cache.NewNATSInvalidator(natsCfg, nodeID)
			if err != nil {
				logging.Warn("⚠️ NATS недоступен, инвалидации не принимаются: %v", err)
			} else {
				defer invalidator.Close()
			}
		}

		var inv cache.CacheInvalidator
		if invalidator != nil {
			inv = invalidator
		}
		cellCache, err = cache.NewCellCache(cfg.RedisConfig(), coldStore, inv)
		if err != nil {
			logging.Warn("⚠️ Redis недоступен, ячейки читаются из локального хранилища: %v", err)
		} else {
			defer cellCache.Close()
			prebaked = cellCache
		}
	}

	// Шина событий смены тира для внешних загрузчиков
	var listener coordinator.TierListener = coordinator.NopListener{}
	var bus eventbus.EventBus
	if cfg.Events.Enabled {
		if cfg.Events.JetStreamURL != "" {
			jb, err := eventbus.NewJetStreamBus(cfg.Events.JetStreamURL, cfg.Events.Stream, cfg.Events.Retention)
			if err != nil {
				logging.Warn("⚠️ JetStream недоступен, используется in-memory шина: %v", err)
			} else {
				bus = jb
			}
		}
		if bus == nil {
			bus = eventbus.NewMemoryBus(cfg.Events.BufferSize)
		}
		if cfg.Events.LogEvents {
			if _, err := eventbus.StartLoggingListener(bus); err != nil {
				logging.Warn("⚠️ Логирование событий отключено: %v", err)
			}
		}
		listener = eventbus.NewTierPublisher(bus, nodeID)
	}

	backend := render.NewHeadless()

	coord, err := coordinator.New(coordinator.Options{
		Tiers:         tiers,
		Provider:      generator,
		Loader:        generator,
		Simplifier:    simplifier,
		MergeSettings: cfg.MergeSettings(),
		Backend:       backend,
		Prebaked:      prebaked,
		Listener:      listener,
		MergesPerTick: cfg.Render.MergesPerTick,
		WorldID:       cfg.World.ID,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка создания координатора: %v", err)
	}

	if invalidator != nil {
		err := invalidator.SubscribeInvalidations(ctx, func(key string) error {
			cell, err := cache.ParseCellKey(key)
			if err != nil {
				return err
			}
			coord.InvalidateCell(cell)
			return nil
		})
		if err != nil {
			logging.Error("❌ Подписка на инвалидации: %v", err)
		}
	}

	// === МЕТРИКИ И API ===
	exporter := metrics.NewMetricsExporter(coord, nil)
	exporter.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()))
	defer exporter.Stop()

	apiServer, err := api.NewServer(api.Config{
		Addr:       fmt.Sprintf(":%d", cfg.Server.GetAPIPort()),
		Controller: coord,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка создания API: %v", err)
	}
	go func() {
		if err := apiServer.Start(); err != nil {
			logging.Error("❌ Ошибка отладочного API: %v", err)
		}
	}()

	// === ЦИКЛ ТИКОВ ===
	tickRate := cfg.Render.TickRate
	if tickRate <= 0 {
		tickRate = 20
	}
	path := flight{
		radius: 20 * tiers.CellSize(),
		speed:  400,
	}

	applyComponentLevels(cfg.Logging.Components)

	logging.Info("✅ Сервис запущен: %d тиков/с, API :%d, метрики :%d",
		tickRate, cfg.Server.GetAPIPort(), cfg.Server.GetMetricsPort())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	started := time.Now()
loop:
	for {
		select {
		case <-ticker.C:
			pos := path.at(time.Since(started))
			coord.Update(ctx, cellOf(pos, tiers.CellSize()), pos)
		case <-report.C:
			logging.Info("📊 %s", coord.Snapshot())
		case sig := <-sigCh:
			logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
			break loop
		}
	}

	// === GRACEFUL SHUTDOWN ===
	cancel()
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := apiServer.Stop(sctx); err != nil {
		logging.Error("❌ Ошибка остановки API: %v", err)
	}
	coord.Renderer().Clear()
	if bus != nil {
		if err := bus.Close(); err != nil {
			logging.Error("❌ Ошибка закрытия шины событий: %v", err)
		}
	}
	logging.Info("👋 Сервис остановлен, живых ресурсов бэкенда: %d", backend.Live())
	if err := logging.GetLoggerManager().CloseAll(); err != nil {
		log.Printf("Ошибка закрытия логгеров компонентов: %v", err)
	}
}

// applyComponentLevels задаёт уровни логгеров компонентов из конфигурации.
// Вызывается после создания всех компонентов, когда их логгеры уже зарегистрированы.
func applyComponentLevels(levels map[string]string) {
	if len(levels) == 0 {
		return
	}
	lm := logging.GetLoggerManager()
	if unknown := lm.ApplyLevels(levels); len(unknown) > 0 {
		logging.Warn("⚠️ Неизвестные компоненты логирования %v (известные: %v)", unknown, lm.ListComponents())
	}
}
