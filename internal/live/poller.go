package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pv/raspberry-listener-go/internal/dataset"
	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/metrics"
)

// DefaultSourceName: источник живых наборов по умолчанию.
const DefaultSourceName = "Pi-live"

// Target: величина, которую опрашивает Poller, и набор, куда пишутся значения.
type Target struct {
	Kind dataset.Kind
	ID   dataset.Identifier
	// Request переопределяет строку запроса; пусто: Kind.Request().
	Request string
}

func (t Target) request() string {
	if t.Request != "" {
		return t.Request
	}
	return t.Kind.Request()
}

// TargetsFor строит цели для набора величин: набор {source, kind}.
func TargetsFor(source string, kinds ...dataset.Kind) []Target {
	if source == "" {
		source = DefaultSourceName
	}
	out := make([]Target, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, Target{Kind: k, ID: dataset.NewIdentifier(source, k.String())})
	}
	return out
}

// Register регистрирует наборы целей в каталоге. Уже существующие пропускаются.
func Register(c *dataset.Catalog, targets []Target) error {
	for _, t := range targets {
		if !t.Kind.Valid() {
			return fmt.Errorf("live: target %s: invalid kind", t.ID)
		}
		err := c.Store(t.Kind).Register(t.ID)
		if err != nil && !errors.Is(err, dataset.ErrAlreadyRegistered) {
			return fmt.Errorf("live: target %s: %w", t.ID, err)
		}
	}
	return nil
}

// Poller опрашивает сокет датчиков и пишет в хранилища только смены значений.
type Poller struct {
	Addr     string
	Timeout  time.Duration
	Interval time.Duration
	Catalog  *dataset.Catalog
	Targets  []Target
	// Dial подменяет подключение (тесты). По умолчанию: TCP-клиент.
	Dial func(ctx context.Context) (Getter, func() error, error)
}

// Poll выполняет один проход по целям. Ошибка транспорта прерывает проход;
// нечитаемые значения только считаются и логируются.
func (p *Poller) Poll(ctx context.Context, g Getter) error {
	log := logging.With("live-poller")
	for _, t := range p.Targets {
		kind := t.Kind.String()
		ts, raw, err := g.GetValue(ctx, t.request())
		if err != nil {
			metrics.LivePoints.WithLabelValues(kind, "error").Inc()
			return err
		}
		v, err := t.Kind.Parse(raw)
		if err != nil {
			metrics.LivePoints.WithLabelValues(kind, "error").Inc()
			log.Warn().Err(err).Str("dataset", t.ID.String()).Msg("bad live value")
			continue
		}
		n, err := p.Catalog.Store(t.Kind).AppendChanged(t.ID, dataset.Point{Timestamp: ts, Value: v})
		if err != nil {
			return fmt.Errorf("live: store %s: %w", t.ID, err)
		}
		if n == 0 {
			metrics.LivePoints.WithLabelValues(kind, "suppressed").Inc()
			continue
		}
		metrics.LivePoints.WithLabelValues(kind, "forwarded").Add(float64(n))
	}
	return nil
}

// Serve подключается, регистрирует наборы и опрашивает сокет с интервалом
// до отмены ctx. Ошибка транспорта возвращается, переподключение делает супервизор.
func (p *Poller) Serve(ctx context.Context) error {
	if p.Catalog == nil {
		return fmt.Errorf("live: catalog is nil")
	}
	if err := Register(p.Catalog, p.Targets); err != nil {
		return err
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	dial := p.Dial
	if dial == nil {
		dial = func(ctx context.Context) (Getter, func() error, error) {
			c, err := Dial(ctx, p.Addr, p.Timeout)
			if err != nil {
				return nil, nil, err
			}
			return c, c.Close, nil
		}
	}
	g, closeFn, err := dial(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	log := logging.With("live-poller")
	log.Info().Str("addr", p.Addr).Int("targets", len(p.Targets)).Dur("interval", interval).Msg("live polling started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.Poll(ctx, g); err != nil {
			log.Warn().Err(err).Msg("live poll failed")
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) String() string { return "live-poller" }
