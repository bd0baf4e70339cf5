package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/merge"
	"github.com/annel0/distant-lod/internal/render"
	"github.com/annel0/distant-lod/internal/vec"
)

const (
	cellPrefix  = "merged:"
	manifestKey = "manifest"
)

// ErrNotReady возвращается операциями закрытого хранилища
var ErrNotReady = errors.New("storage: store is not ready")

// Manifest описывает один прогон запекания
type Manifest struct {
	BakeID    string         `json:"bake_id"`
	WorldID   string         `json:"world_id"`
	Seed      int64          `json:"seed"`
	CreatedAt time.Time      `json:"created_at"`
	Cells     int            `json:"cells"`
	Objects   int            `json:"objects"`
	Vertices  int            `json:"vertices"`
	Settings  merge.Settings `json:"settings"`
}

// NewManifest создаёт манифест с новым идентификатором прогона
func NewManifest(worldID string, seed int64, settings merge.Settings) *Manifest {
	return &Manifest{
		BakeID:    uuid.New().String(),
		WorldID:   worldID,
		Seed:      seed,
		CreatedAt: time.Now().UTC(),
		Settings:  settings,
	}
}

// PrebakedStore хранит объединённые меши ячеек в BadgerDB.
// Значения кодируются Codec.
type PrebakedStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool

	codec  *Codec
	logger *logging.Logger
}

// OpenPrebakedStore открывает (или создаёт) хранилище в каталоге dataPath
func OpenPrebakedStore(dataPath string) (*PrebakedStore, error) {
	dbPath := filepath.Join(dataPath, "merged")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	codec, err := NewCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &PrebakedStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
		codec:   codec,
		logger:  logging.GetStorageLogger(),
	}, nil
}

// Close закрывает хранилище
func (s *PrebakedStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}

	s.isReady = false
	s.codec.Close()
	return s.db.Close()
}

func cellKey(cell vec.Vec2) []byte {
	return []byte(fmt.Sprintf("%s%d:%d", cellPrefix, cell.X, cell.Y))
}

func (s *PrebakedStore) put(key []byte, v interface{}) error {
	compressed, err := s.codec.Marshal(v)
	if err != nil {
		return err
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, compressed)
	}); err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// getRaw читает сжатое значение; nil - ключа нет
func (s *PrebakedStore) getRaw(key []byte) ([]byte, error) {
	var compressed []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		compressed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return compressed, nil
}

// SaveCell сохраняет результат слияния ячейки
func (s *PrebakedStore) SaveCell(data *merge.CellData) error {
	if data == nil {
		return nil
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}
	return s.put(cellKey(data.Cell), data)
}

// LoadCell загружает ячейку; (nil, nil), если её нет
func (s *PrebakedStore) LoadCell(cell vec.Vec2) (*merge.CellData, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrNotReady
	}

	raw, err := s.getRaw(cellKey(cell))
	if err != nil || raw == nil {
		return nil, err
	}
	data, err := s.codec.DecodeCell(raw)
	if err != nil {
		return nil, fmt.Errorf("ячейка %s: %w", cell, err)
	}
	return data, nil
}

// LoadPrebaked отдаёт ячейку в виде, который принимает рендерер
func (s *PrebakedStore) LoadPrebaked(cell vec.Vec2) (render.Prebaked, bool, error) {
	data, err := s.LoadCell(cell)
	if err != nil || data == nil {
		return render.Prebaked{}, false, err
	}
	return render.PrebakedFromCellData(data), true, nil
}

// DeleteCell удаляет ячейку
func (s *PrebakedStore) DeleteCell(cell vec.Vec2) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cellKey(cell))
	})
}

// Cells возвращает координаты всех сохранённых ячеек в построчном порядке
func (s *PrebakedStore) Cells() ([]vec.Vec2, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrNotReady
	}

	var cells []vec.Vec2
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(cellPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cell vec.Vec2
			key := string(it.Item().Key())
			if _, err := fmt.Sscanf(key[len(cellPrefix):], "%d:%d", &cell.X, &cell.Y); err != nil {
				s.logger.Warn("Skipping malformed key %q: %v", key, err)
				continue
			}
			cells = append(cells, cell)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода BadgerDB: %w", err)
	}

	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y {
			return cells[i].Y < cells[j].Y
		}
		return cells[i].X < cells[j].X
	})
	return cells, nil
}

// SaveManifest сохраняет манифест прогона запекания
func (s *PrebakedStore) SaveManifest(m *Manifest) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}
	return s.put([]byte(manifestKey), m)
}

// LoadManifest загружает манифест; (nil, nil), если запекания не было
func (s *PrebakedStore) LoadManifest() (*Manifest, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrNotReady
	}

	raw, err := s.getRaw([]byte(manifestKey))
	if err != nil || raw == nil {
		return nil, err
	}
	var m Manifest
	if err := s.codec.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("манифест: %w", err)
	}
	return &m, nil
}
