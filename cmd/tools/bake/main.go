package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/annel0/distant-lod/internal/cache"
	"github.com/annel0/distant-lod/internal/config"
	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/mesh"
	"github.com/annel0/distant-lod/internal/meshopt"
	"github.com/annel0/distant-lod/internal/storage"
	"github.com/annel0/distant-lod/internal/vec"
	"github.com/annel0/distant-lod/internal/world"
)

func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML-конфигурации (по умолчанию $LOD_CONFIG)")
		command    = flag.String("cmd", "bake", "Команда: bake, list, info")
		dataPath   = flag.String("data", "", "Каталог хранилища (по умолчанию storage.path)")
		minX       = flag.Int("min-x", -16, "Левая граница прямоугольника ячеек")
		minY       = flag.Int("min-y", -16, "Нижняя граница прямоугольника ячеек")
		maxX       = flag.Int("max-x", 16, "Правая граница прямоугольника ячеек")
		maxY       = flag.Int("max-y", 16, "Верхняя граница прямоугольника ячеек")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	logging.SetDefaultLevel(logging.ParseLevel(cfg.Logging.Level))

	path := *dataPath
	if path == "" {
		path = cfg.Storage.Path
	}

	store, err := storage.OpenPrebakedStore(path)
	if err != nil {
		log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
	}
	defer store.Close()

	switch *command {
	case "bake":
		if err := bake(cfg, store, vec.Vec2{X: *minX, Y: *minY}, vec.Vec2{X: *maxX, Y: *maxY}); err != nil {
			log.Fatalf("❌ Запекание не удалось: %v", err)
		}

	case "list":
		cells, err := store.Cells()
		if err != nil {
			log.Fatalf("❌ List failed: %v", err)
		}
		for _, c := range cells {
			fmt.Println(c)
		}
		fmt.Printf("Всего: %d\n", len(cells))

	case "info":
		m, err := store.LoadManifest()
		if err != nil {
			log.Fatalf("❌ Info failed: %v", err)
		}
		if m == nil {
			fmt.Println("Хранилище не запекалось")
			return
		}
		fmt.Printf("Прогон:   %s\n", m.BakeID)
		fmt.Printf("Мир:      %s (сид %d)\n", m.WorldID, m.Seed)
		fmt.Printf("Создан:   %s\n", m.CreatedAt.Format("2006-01-02T15:04:05Z"))
		fmt.Printf("Ячеек:    %d\n", m.Cells)
		fmt.Printf("Объектов: %d\n", m.Objects)
		fmt.Printf("Вершин:   %d\n", m.Vertices)

	default:
		fmt.Fprintf(os.Stderr, "Неизвестная команда %q\n", *command)
		flag.Usage()
		os.Exit(2)
	}
}

func bake(cfg *config.Config, store *storage.PrebakedStore, from, to vec.Vec2) error {
	tiers, err := cfg.TierConfig()
	if err != nil {
		return err
	}

	generator := world.NewGenerator(cfg.World.Seed, tiers.CellSize())
	generator.ObjectsPerCell = cfg.World.ObjectsPerCell

	var simplifier mesh.Simplifier
	if cfg.Merge.Simplify {
		simplifier = meshopt.NewSimplifier()
	}
	merger, err := merge.NewMerger(generator, simplifier, cfg.MergeSettings())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manifest, err := storage.BakeRegion(ctx, store, merger, generator, cfg.World.ID, cfg.World.Seed, from, to)
	if err != nil {
		return err
	}
	fmt.Printf("✅ %d ячеек, %d объектов, %d вершин → %s\n", manifest.Cells, manifest.Objects, manifest.Vertices, manifest.BakeID)
	fmt.Println(merger.Stats())

	if cfg.Cache.Enabled {
		if err := invalidate(ctx, cfg, store, from, to); err != nil {
			logging.Warn("⚠️ Инвалидация кеша не выполнена: %v", err)
		}
	}
	return nil
}

// invalidate сбрасывает перезапечённые ячейки из общего кеша и уведомляет серверы
func invalidate(ctx context.Context, cfg *config.Config, store *storage.PrebakedStore, from, to vec.Vec2) error {
	var inv cache.CacheInvalidator
	if natsCfg := cfg.NATSConfig(); natsCfg.NATSURL != "" {
		n, err := cache.NewNATSInvalidator(natsCfg, "bake-tool")
		if err != nil {
			return err
		}
		defer n.Close()
		defer n.Flush(ctx)
		inv = n
	}

	cellCache, err := cache.NewCellCache(cfg.RedisConfig(), nil, inv)
	if err != nil {
		return err
	}
	defer cellCache.Close()

	cells, err := store.Cells()
	if err != nil {
		return err
	}
	count := 0
	for _, c := range cells {
		if c.X < from.X || c.X > to.X || c.Y < from.Y || c.Y > to.Y {
			continue
		}
		if err := cellCache.Invalidate(ctx, c); err != nil {
			return fmt.Errorf("invalidate %s: %w", c, err)
		}
		count++
	}
	fmt.Printf("♻️ Инвалидировано ячеек: %d\n", count)
	return nil
}
