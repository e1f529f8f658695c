package dataset

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pv/raspberry-listener-go/internal/series"
)

// Point: одно измерение.
type Point = series.Point

// Store хранит буферы всех наборов данных одной величины.
// Писатель один (фоновый worker или live-опросчик на свой источник),
// читателей может быть сколько угодно: GetData всегда видит завершённую запись.
type Store struct {
	mu       sync.RWMutex
	kind     Kind
	capacity int
	buffers  map[Identifier]*series.Buffer
	hashes   map[int64]Identifier
	filter   *series.ChangeFilter[Identifier]
}

// NewStore создаёт пустое хранилище. capacity: начальная ёмкость новых буферов.
func NewStore(kind Kind, capacity int) *Store {
	if capacity <= 0 {
		capacity = series.DefaultCapacity
	}
	return &Store{
		kind:     kind,
		capacity: capacity,
		buffers:  make(map[Identifier]*series.Buffer),
		hashes:   make(map[int64]Identifier),
		filter:   series.NewChangeFilter[Identifier](),
	}
}

// Kind возвращает величину, которую хранит Store.
func (s *Store) Kind() Kind { return s.kind }

// Register создаёт пустой буфер для идентификатора.
func (s *Store) Register(id Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffers[id]; ok {
		return fmt.Errorf("%w: %s %s", ErrAlreadyRegistered, s.kind, id)
	}
	h := id.Hash()
	if existing, ok := s.hashes[h]; ok {
		return fmt.Errorf("dataset: hash collision: %s and %s have same hash %d", existing, id, h)
	}
	s.buffers[id] = series.NewBuffer(s.capacity)
	s.hashes[h] = id
	return nil
}

// Has сообщает, зарегистрирован ли идентификатор.
func (s *Store) Has(id Identifier) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buffers[id]
	return ok
}

// ByHash ищет идентификатор по его hash.
func (s *Store) ByHash(hash int64) (Identifier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.hashes[hash]
	return id, ok
}

// Append дописывает одну точку.
func (s *Store) Append(id Identifier, p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.buffer(id)
	if err != nil {
		return err
	}
	buf.Append(p.Timestamp, p.Value)
	return nil
}

// Extend дописывает упорядоченные по времени точки.
func (s *Store) Extend(id Identifier, points []Point) error {
	ts := make([]time.Time, len(points))
	vs := make([]float64, len(points))
	for i, p := range points {
		ts[i] = p.Timestamp
		vs[i] = p.Value
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.buffer(id)
	if err != nil {
		return err
	}
	if err := buf.Extend(ts, vs); err != nil {
		return fmt.Errorf("dataset: extend %s: %w", id, err)
	}
	return nil
}

// Overwrite заменяет содержимое набора целиком. Нечисловые значения (NaN, Inf) отбрасываются.
func (s *Store) Overwrite(id Identifier, ts []time.Time, vs []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.buffer(id)
	if err != nil {
		return err
	}
	if err := buf.Overwrite(ts, vs); err != nil {
		return fmt.Errorf("dataset: overwrite %s: %w", id, err)
	}
	s.filter.Forget(id)
	return nil
}

// AppendChanged пропускает точку через фильтр изменений и записывает только
// точки смены значения. Возвращает число записанных точек.
func (s *Store) AppendChanged(id Identifier, p Point) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.buffer(id)
	if err != nil {
		return 0, err
	}
	n := s.filter.Append(id, p.Timestamp, p.Value, func(fp Point) {
		buf.Append(fp.Timestamp, fp.Value)
	})
	return n, nil
}

// GetData возвращает срезы времени и значений без копирования.
// Срезы не меняются последующими записями.
func (s *Store) GetData(id Identifier) ([]time.Time, []float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, err := s.buffer(id)
	if err != nil {
		return nil, nil, err
	}
	if !buf.Ready() {
		return nil, nil, fmt.Errorf("%w: %s %s", ErrDataNotReady, s.kind, id)
	}
	ts, vs := buf.Read()
	return ts, vs, nil
}

// LastTimestamp возвращает время последней записанной точки набора.
func (s *Store) LastTimestamp(id Identifier) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[id]
	if !ok {
		return time.Time{}, false
	}
	p, ok := buf.Last()
	return p.Timestamp, ok
}

// Len возвращает число точек набора (0 для неизвестного).
func (s *Store) Len(id Identifier) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if buf, ok := s.buffers[id]; ok {
		return buf.Len()
	}
	return 0
}

// Identifiers возвращает все зарегистрированные идентификаторы, отсортированные по источнику и имени.
func (s *Store) Identifiers() []Identifier {
	s.mu.RLock()
	ids := make([]Identifier, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Source != ids[j].Source {
			return ids[i].Source < ids[j].Source
		}
		return ids[i].Name < ids[j].Name
	})
	return ids
}

// Sources возвращает уникальные имена источников.
func (s *Store) Sources() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, id := range s.Identifiers() {
		if _, ok := seen[id.Source]; ok {
			continue
		}
		seen[id.Source] = struct{}{}
		out = append(out, id.Source)
	}
	return out
}

// Names возвращает имена наборов данных источника.
func (s *Store) Names(source string) []string {
	var out []string
	for _, id := range s.Identifiers() {
		if id.Source == source {
			out = append(out, id.Name)
		}
	}
	return out
}

func (s *Store) buffer(id Identifier) (*series.Buffer, error) {
	buf, ok := s.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownDataset, s.kind, id)
	}
	return buf, nil
}
