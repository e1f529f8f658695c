package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/metrics"
)

// Endpoint архива: {base}/archive/{parquet|json}/.
const archivePath = "/archive/"

// HTTPConfig: параметры HTTPSource.
type HTTPConfig struct {
	BaseURL string
	// Timeout ограничивает один запрос. 0: без ограничения (кроме ctx).
	Timeout time.Duration
	// BreakerFailures: число подряд неудачных запросов до размыкания.
	BreakerFailures uint32
	// BreakerCooldown: время в разомкнутом состоянии до пробного запроса.
	BreakerCooldown time.Duration
	// HTTP позволяет подменить клиент (тесты, прокси).
	HTTP *http.Client
}

// HTTPSource забирает архив с HTTP API Raspberry Pi.
// Полный снимок без since: GET, с since: POST с JSON-строкой времени в теле.
type HTTPSource struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[Payload]
	log     zerolog.Logger

	mu            sync.Mutex
	totalDuration time.Duration
	totalCalls    int64
}

// NewHTTPSource создаёт источник с circuit breaker.
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("archive: http source: BaseURL is empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("archive: http source: parse base URL: %w", err)
	}
	client := cfg.HTTP
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout > 0 {
		c := *client
		c.Timeout = cfg.Timeout
		client = &c
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	s := &HTTPSource{
		baseURL: cfg.BaseURL,
		http:    client,
		log:     logging.With("archive-http"),
	}
	const name = "archive-http"
	metrics.BreakerState.WithLabelValues(name).Set(0)
	s.breaker = gobreaker.NewCircuitBreaker[Payload](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	return s, nil
}

// Fetch выполняет запрос через breaker. Все ошибки транспорта, таймауты,
// открытый breaker и ответы не 2xx дают ErrArchiveUnavailable.
func (s *HTTPSource) Fetch(ctx context.Context, req Request) (Payload, error) {
	payload, err := s.breaker.Execute(func() (Payload, error) {
		return s.do(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Payload{}, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
		}
		return Payload{}, err
	}
	return payload, nil
}

func (s *HTTPSource) do(ctx context.Context, req Request) (Payload, error) {
	format := req.Mode.Format()
	endpoint, err := joinURL(s.baseURL, archivePath+string(format)+"/")
	if err != nil {
		return Payload{}, err
	}

	method := http.MethodGet
	var body io.Reader
	if !req.Since.IsZero() {
		start := FormatTimestamp(req.Since)
		endpoint += "?start=" + url.QueryEscape(start)
		b, err := json.Marshal(start)
		if err != nil {
			return Payload{}, fmt.Errorf("archive: encode start: %w", err)
		}
		method = http.MethodPost
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return Payload{}, fmt.Errorf("archive: new request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.http.Do(httpReq)
	if err != nil {
		s.log.Warn().Err(err).Dur("elapsed", time.Since(start)).Str("url", endpoint).Msg("archive request failed")
		metrics.ArchiveRequestDuration.WithLabelValues(string(format), "error").Observe(time.Since(start).Seconds())
		return Payload{}, fmt.Errorf("%w: %s %s: %v", ErrArchiveUnavailable, method, endpoint, err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	metrics.ArchiveRequestDuration.WithLabelValues(string(format), strconv.Itoa(resp.StatusCode)).Observe(elapsed.Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(b))
		s.log.Warn().Int("status", resp.StatusCode).Str("body", msg).Str("url", endpoint).Msg("archive error response")
		return Payload{}, &HTTPError{Status: resp.StatusCode, Body: msg}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: read body: %v", ErrArchiveUnavailable, err)
	}

	s.mu.Lock()
	s.totalDuration += elapsed
	s.totalCalls++
	avg := time.Duration(int64(s.totalDuration) / s.totalCalls)
	calls := s.totalCalls
	s.mu.Unlock()
	s.log.Info().
		Str("method", method).
		Str("format", string(format)).
		Int("bytes", len(data)).
		Dur("elapsed", elapsed).
		Dur("avg", avg).
		Int64("calls", calls).
		Msg("archive response")

	return Payload{Format: format, Body: data}, nil
}

// FormatTimestamp: представление времени в запросах к архиву.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func joinURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("archive: parse base URL: %w", err)
	}
	joined, err := url.JoinPath(u.String(), path)
	if err != nil {
		return "", fmt.Errorf("archive: join path: %w", err)
	}
	return joined, nil
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
