package archive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pv/raspberry-listener-go/internal/dataset"
	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/metrics"
)

const (
	// DefaultFreshness: старше этого последняя точка считается устаревшей, нужен полный снимок.
	DefaultFreshness = 20 * time.Minute
	// DefaultLookback: глубина полного снимка.
	DefaultLookback = 7 * 24 * time.Hour
)

// ErrCycleInProgress: цикл синхронизации уже выполняется.
var ErrCycleInProgress = errors.New("archive: sync cycle already in progress")

// State: состояние синхронизатора.
type State uint8

const (
	StateUninitialized State = iota
	StateLoaded
	StateSynchronizing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoaded:
		return "loaded"
	case StateSynchronizing:
		return "synchronizing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SyncConfig: параметры синхронизатора.
type SyncConfig struct {
	// Freshness: порог выбора режима (по умолчанию 20 минут).
	Freshness time.Duration
	// Lookback: глубина полного снимка; отрицательное значение: весь архив.
	Lookback time.Duration
	// Now подменяет часы в тестах.
	Now func() time.Time
}

// Result описывает завершённый цикл.
type Result struct {
	Mode      Mode
	Rows      int
	Merged    int
	Skipped   int
	LastKnown time.Time
	Duration  time.Duration
}

// Synchronizer: единственный писатель архивных наборов: загружает снимок,
// проверяет его целиком и сливает в хранилища каталога.
type Synchronizer struct {
	source   Source
	catalog  *dataset.Catalog
	bindings Bindings
	cfg      SyncConfig
	log      zerolog.Logger

	cycle sync.Mutex

	mu        sync.RWMutex
	state     State
	lastKnown time.Time
	last      Result
	lastErr   error
}

// NewSynchronizer регистрирует наборы из bindings в каталоге и создаёт синхронизатор.
func NewSynchronizer(source Source, catalog *dataset.Catalog, bindings Bindings, cfg SyncConfig) (*Synchronizer, error) {
	if source == nil {
		return nil, fmt.Errorf("archive: source is nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("archive: catalog is nil")
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := bindings.Register(catalog); err != nil {
		return nil, err
	}
	return &Synchronizer{
		source:   source,
		catalog:  catalog,
		bindings: bindings,
		cfg:      cfg,
		log:      logging.With("archive-sync"),
	}, nil
}

// State возвращает текущее состояние.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastKnown возвращает наибольший загруженный timestamp.
func (s *Synchronizer) LastKnown() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastKnown
}

// LastResult возвращает результат последнего успешного цикла и последнюю ошибку.
func (s *Synchronizer) LastResult() (Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}

// SelectMode выбирает режим: полный, если ничего не загружено или последняя точка
// старше порога свежести; иначе инкрементальный.
func (s *Synchronizer) SelectMode(now time.Time) Mode {
	s.mu.RLock()
	last := s.lastKnown
	s.mu.RUnlock()
	if last.IsZero() || now.Sub(last) > s.cfg.Freshness {
		return ModeFull
	}
	return ModeIncremental
}

// InitialLoad: первая загрузка. Ошибка «архив недоступен» не фатальна:
// следующий цикл повторит полную загрузку.
func (s *Synchronizer) InitialLoad(ctx context.Context) error {
	_, err := s.Cycle(ctx)
	return err
}

// Update: очередной цикл по таймеру.
func (s *Synchronizer) Update(ctx context.Context) error {
	_, err := s.Cycle(ctx)
	return err
}

// Cycle выполняет один цикл: выбор режима, загрузка, проверка, слияние.
// Хранилище меняется только после успешной проверки всего снимка.
func (s *Synchronizer) Cycle(ctx context.Context) (Result, error) {
	if !s.cycle.TryLock() {
		return Result{}, ErrCycleInProgress
	}
	defer s.cycle.Unlock()

	started := time.Now()
	now := s.cfg.Now()
	mode := s.SelectMode(now)
	req := Request{Mode: mode}
	switch mode {
	case ModeFull:
		if s.cfg.Lookback > 0 {
			req.Since = now.Add(-s.cfg.Lookback)
		}
	case ModeIncremental:
		req.Since = s.LastKnown()
	}

	prev := s.setState(StateSynchronizing)
	log := s.log.With().Str("mode", mode.String()).Logger()
	log.Debug().Time("since", req.Since).Msg("sync cycle started")

	payload, err := s.source.Fetch(ctx, req)
	if err != nil {
		s.finish(prev, mode, "unavailable", err)
		log.Warn().Err(err).Msg("archive unavailable, store unchanged")
		return Result{Mode: mode}, fmt.Errorf("archive: fetch: %w", err)
	}

	rows, err := payload.Decode()
	if err == nil {
		var snap *Snapshot
		snap, err = NewSnapshot(rows)
		if err == nil {
			var res Result
			res, err = s.merge(mode, snap)
			if err == nil {
				res.Duration = time.Since(started)
				s.mu.Lock()
				s.state = StateLoaded
				s.last = res
				s.lastErr = nil
				s.mu.Unlock()
				metrics.SyncCycles.WithLabelValues(mode.String(), "ok").Inc()
				metrics.SyncDuration.WithLabelValues(mode.String()).Observe(res.Duration.Seconds())
				metrics.SyncRowsMerged.WithLabelValues(mode.String()).Add(float64(res.Merged))
				metrics.SyncLastSuccess.Set(float64(time.Now().Unix()))
				log.Info().
					Int("rows", res.Rows).
					Int("merged", res.Merged).
					Int("skipped", res.Skipped).
					Time("last_known", res.LastKnown).
					Dur("elapsed", res.Duration).
					Msg("sync cycle finished")
				return res, nil
			}
		}
	}

	result := "error"
	if errors.Is(err, ErrSchemaViolation) {
		result = "schema"
	}
	s.finish(StateFailed, mode, result, err)
	log.Error().Err(err).Msg("archive payload rejected")
	return Result{Mode: mode}, err
}

func (s *Synchronizer) setState(st State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = st
	return prev
}

func (s *Synchronizer) finish(st State, mode Mode, result string, err error) {
	s.mu.Lock()
	s.state = st
	s.lastErr = err
	s.mu.Unlock()
	metrics.SyncCycles.WithLabelValues(mode.String(), result).Inc()
}

type pending struct {
	bind   Binding
	series Series
}

// merge применяет проверенный снимок. Все наборы проверяются на существование
// до первой записи, поэтому частичного слияния не бывает.
func (s *Synchronizer) merge(mode Mode, snap *Snapshot) (Result, error) {
	res := Result{Mode: mode, Rows: snap.Len()}
	bySeries := snap.Series()

	var work []pending
	for _, key := range snap.Keys() {
		bind, ok := s.bindings[key]
		if !ok {
			res.Skipped += len(bySeries[key].Values)
			s.log.Debug().Str("key", key.String()).Msg("no dataset bound to archive key, rows skipped")
			continue
		}
		if !s.catalog.Store(bind.Kind).Has(bind.ID) {
			return res, fmt.Errorf("archive: merge %s: %w", key, dataset.ErrUnknownDataset)
		}
		work = append(work, pending{bind: bind, series: bySeries[key]})
	}

	for _, w := range work {
		st := s.catalog.Store(w.bind.Kind)
		switch mode {
		case ModeFull:
			if err := st.Overwrite(w.bind.ID, w.series.Timestamps, w.series.Values); err != nil {
				return res, fmt.Errorf("archive: overwrite %s: %w", w.bind.ID, err)
			}
			res.Merged += st.Len(w.bind.ID)
		case ModeIncremental:
			points := newerFinitePoints(st, w.bind.ID, w.series)
			res.Skipped += len(w.series.Values) - len(points)
			if len(points) == 0 {
				continue
			}
			if err := st.Extend(w.bind.ID, points); err != nil {
				return res, fmt.Errorf("archive: extend %s: %w", w.bind.ID, err)
			}
			res.Merged += len(points)
		}
		metrics.DatasetLength.WithLabelValues(w.bind.Kind.String(), w.bind.ID.Source, w.bind.ID.Name).Set(float64(st.Len(w.bind.ID)))
	}

	s.mu.Lock()
	if maxTs, ok := snap.MaxTimestamp(); ok {
		if mode == ModeFull || maxTs.After(s.lastKnown) {
			s.lastKnown = maxTs
		}
	}
	res.LastKnown = s.lastKnown
	s.mu.Unlock()
	return res, nil
}

// newerFinitePoints отбрасывает строки не новее последней точки набора и
// нечисловые значения.
func newerFinitePoints(st *dataset.Store, id dataset.Identifier, ser Series) []dataset.Point {
	last, hasLast := st.LastTimestamp(id)
	points := make([]dataset.Point, 0, len(ser.Values))
	for i, ts := range ser.Timestamps {
		if hasLast && !ts.After(last) {
			continue
		}
		v := ser.Values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		points = append(points, dataset.Point{Timestamp: ts, Value: v})
	}
	return points
}
