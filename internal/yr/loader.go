package yr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pv/raspberry-listener-go/internal/dataset"
	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/metrics"
)

const (
	// DefaultSource: источник наборов прогноза.
	DefaultSource = "Yr"
	// DefaultMaxGap: точки прогноза реже раза в час отбрасываются.
	DefaultMaxGap = time.Hour
	maxParallel   = 4
)

// Fetcher загружает прогноз для точки. Реализуется Client.
type Fetcher interface {
	Fetch(ctx context.Context, loc Location) (*Forecast, error)
}

// LoaderConfig: параметры Loader.
type LoaderConfig struct {
	Source    string
	Locations []Location
	// MaxGap: максимальный шаг между соседними точками прогноза.
	// Дальний прогноз идёт с шагом 6 часов и без разброса неинформативен.
	MaxGap time.Duration
}

// Loader кладёт прогноз для каждой точки в наборы {Source, имя точки}
// величин температура и влажность.
type Loader struct {
	fetcher   Fetcher
	catalog   *dataset.Catalog
	source    string
	locations []Location
	maxGap    time.Duration
	log       zerolog.Logger
}

// NewLoader проверяет точки и регистрирует их наборы в каталоге.
func NewLoader(fetcher Fetcher, catalog *dataset.Catalog, cfg LoaderConfig) (*Loader, error) {
	if fetcher == nil || catalog == nil {
		return nil, fmt.Errorf("yr: fetcher and catalog are required")
	}
	if len(cfg.Locations) == 0 {
		return nil, fmt.Errorf("yr: no locations")
	}
	l := &Loader{
		fetcher:   fetcher,
		catalog:   catalog,
		source:    cfg.Source,
		locations: cfg.Locations,
		maxGap:    cfg.MaxGap,
		log:       logging.With("yr"),
	}
	if l.source == "" {
		l.source = DefaultSource
	}
	if l.maxGap <= 0 {
		l.maxGap = DefaultMaxGap
	}
	seen := make(map[string]struct{}, len(cfg.Locations))
	for _, loc := range cfg.Locations {
		if loc.Name == "" {
			return nil, fmt.Errorf("yr: location name is empty")
		}
		if _, ok := seen[loc.Name]; ok {
			return nil, fmt.Errorf("yr: duplicate location %q", loc.Name)
		}
		seen[loc.Name] = struct{}{}
		id := l.Identifier(loc)
		for _, kind := range []dataset.Kind{dataset.KindTemperature, dataset.KindHumidity} {
			err := catalog.Store(kind).Register(id)
			if err != nil && !errors.Is(err, dataset.ErrAlreadyRegistered) {
				return nil, fmt.Errorf("yr: register %s: %w", id, err)
			}
		}
	}
	return l, nil
}

// Identifier возвращает идентификатор набора точки.
func (l *Loader) Identifier(loc Location) dataset.Identifier {
	return dataset.NewIdentifier(l.source, loc.Name)
}

// InitialLoad загружает прогнозы всех точек параллельно. Наборы обновляются,
// только если загрузились все точки: частичного результата не бывает.
// Прогноз не обновляется, поэтому Loader запускается в worker без update.
func (l *Loader) InitialLoad(ctx context.Context) error {
	forecasts := make([]*Forecast, len(l.locations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, loc := range l.locations {
		g.Go(func() error {
			f, err := l.fetcher.Fetch(gctx, loc)
			if err != nil {
				return err
			}
			forecasts[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, loc := range l.locations {
		id := l.Identifier(loc)
		times := hourlyIndex(forecasts[i].Times, l.maxGap)
		for _, part := range []struct {
			kind   dataset.Kind
			values []float64
		}{
			{dataset.KindTemperature, forecasts[i].Temperature},
			{dataset.KindHumidity, forecasts[i].Humidity},
		} {
			ts, vs := selectPoints(forecasts[i].Times, part.values, times)
			st := l.catalog.Store(part.kind)
			if err := st.Overwrite(id, ts, vs); err != nil {
				return fmt.Errorf("yr: %s %s: %w", part.kind, id, err)
			}
			metrics.DatasetLength.WithLabelValues(part.kind.String(), id.Source, id.Name).Set(float64(st.Len(id)))
		}
		l.log.Info().
			Str("location", loc.Name).
			Time("updated_at", forecasts[i].UpdatedAt).
			Int("points", len(forecasts[i].Times)).
			Msg("forecast loaded")
	}
	return nil
}

// hourlyIndex отмечает точки, отстоящие от предыдущей не больше чем на maxGap.
// У первой точки шага нет, для неё берётся шаг до второй.
func hourlyIndex(times []time.Time, maxGap time.Duration) []bool {
	keep := make([]bool, len(times))
	for i := range times {
		var step time.Duration
		switch {
		case i > 0:
			step = times[i].Sub(times[i-1])
		case len(times) > 1:
			step = times[1].Sub(times[0])
		}
		keep[i] = step <= maxGap
	}
	return keep
}

func selectPoints(times []time.Time, values []float64, keep []bool) ([]time.Time, []float64) {
	ts := make([]time.Time, 0, len(times))
	vs := make([]float64, 0, len(times))
	for i, ok := range keep {
		if !ok || i >= len(values) {
			continue
		}
		ts = append(ts, times[i])
		vs = append(vs, values[i])
	}
	return ts, vs
}
