package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pv/raspberry-listener-go/internal/storage"
)

// Store — архив показаний в памяти. Используется как демо-источник и в тестах.
type Store struct {
	mu       sync.RWMutex
	readings []storage.Reading
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{}
}

// NewExampleStore генерирует детерминированные показания DHT11 (температура и
// влажность с шагом 1), DS18B20 (шаг 1/16 °C) и PI_CPU на интервале [from, to) с шагом step.
func NewExampleStore(from, to time.Time, step time.Duration) *Store {
	if from.IsZero() {
		from = time.Now().Add(-time.Hour)
	}
	if to.IsZero() || !to.After(from) {
		to = from.Add(30 * time.Minute)
	}
	if step <= 0 {
		step = time.Minute
	}
	s := New()
	i := 0
	for ts := from; ts.Before(to); ts = ts.Add(step) {
		s.readings = append(s.readings, ExampleReadings(ts.UTC(), i)...)
		i++
	}
	return s
}

// ExampleReadings — показания всех датчиков для шага i.
func ExampleReadings(ts time.Time, i int) []storage.Reading {
	phase := float64(i) / 30
	return []storage.Reading{
		{SensorType: "humidity", Sensor: "DHT11", Timestamp: ts, Value: math.Round(45 + 5*math.Sin(phase)), Unit: "%"},
		{SensorType: "temperature", Sensor: "DHT11", Timestamp: ts, Value: math.Round(21 + 2*math.Sin(phase)), Unit: "C"},
		{SensorType: "temperature", Sensor: "DS18B20", Timestamp: ts, Value: math.Round((21+2*math.Sin(phase))*16) / 16, Unit: "C"},
		{SensorType: "temperature", Sensor: "PI_CPU", Timestamp: ts, Value: 45 + float64(i%7), Unit: "C"},
	}
}

// Insert дописывает показания, сохраняя порядок по времени.
func (s *Store) Insert(_ context.Context, readings []storage.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, readings...)
	sort.SliceStable(s.readings, func(i, j int) bool {
		return s.readings[i].Timestamp.Before(s.readings[j].Timestamp)
	})
	return nil
}

func (s *Store) Stream(ctx context.Context, req storage.StreamRequest) (<-chan []storage.Reading, <-chan error) {
	filter := make(map[string]struct{}, len(req.Sensors))
	for _, name := range req.Sensors {
		filter[name] = struct{}{}
	}
	return storage.StreamWindows(ctx, req, time.Hour, func(_ context.Context, from, to time.Time) ([]storage.Reading, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var chunk []storage.Reading
		for _, r := range s.readings {
			if r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
				continue
			}
			if len(filter) > 0 {
				if _, ok := filter[r.Sensor]; !ok {
					continue
				}
			}
			chunk = append(chunk, r)
		}
		return chunk, nil
	})
}

func (s *Store) Range(_ context.Context, from, to time.Time) (time.Time, time.Time, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var minTs, maxTs time.Time
	var count int64
	for _, r := range s.readings {
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && r.Timestamp.After(to) {
			continue
		}
		if count == 0 || r.Timestamp.Before(minTs) {
			minTs = r.Timestamp
		}
		if count == 0 || r.Timestamp.After(maxTs) {
			maxTs = r.Timestamp
		}
		count++
	}
	return minTs, maxTs, count, nil
}

func (s *Store) Close() {}
