// Package yr загружает прогноз погоды met.no (Yr) для заданных точек и
// кладёт температуру и влажность в наборы данных рядом с показаниями датчиков.
package yr

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/metrics"
)

// DefaultBaseURL: API locationforecast 2.0.
const DefaultBaseURL = "https://api.met.no/weatherapi/locationforecast/2.0/"

// Location: точка прогноза. Altitude в метрах, 0: не передаётся.
type Location struct {
	Name     string
	Lat      float64
	Lon      float64
	Altitude int
}

// Forecast: мгновенные значения прогноза. Отсутствующее значение: NaN.
type Forecast struct {
	Location    string
	UpdatedAt   time.Time
	Times       []time.Time
	Temperature []float64
	Humidity    []float64
}

// ClientConfig: параметры Client.
type ClientConfig struct {
	BaseURL string
	// UserAgent обязателен: met.no отклоняет запросы без идентификации.
	UserAgent string
	Timeout   time.Duration
	HTTP      *http.Client
}

// Client запрашивает compact-вариант прогноза.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	log       zerolog.Logger
}

// NewClient проверяет конфигурацию и создаёт клиент.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("yr: base URL %q is not absolute", base)
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, fmt.Errorf("yr: user agent is empty")
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
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Client{baseURL: base, userAgent: cfg.UserAgent, http: client, log: logging.With("yr")}, nil
}

type compactResponse struct {
	Properties struct {
		Meta struct {
			UpdatedAt time.Time `json:"updated_at"`
		} `json:"meta"`
		Timeseries []struct {
			Time time.Time `json:"time"`
			Data struct {
				Instant struct {
					Details struct {
						AirTemperature   *float64 `json:"air_temperature"`
						RelativeHumidity *float64 `json:"relative_humidity"`
					} `json:"details"`
				} `json:"instant"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

// Fetch загружает прогноз для точки.
func (c *Client) Fetch(ctx context.Context, loc Location) (*Forecast, error) {
	endpoint := c.baseURL + "compact?" + query(loc)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("yr: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.YrRequests.WithLabelValues(loc.Name, "error").Inc()
		return nil, fmt.Errorf("yr: %s: %w", loc.Name, err)
	}
	defer resp.Body.Close()
	metrics.YrRequests.WithLabelValues(loc.Name, strconv.Itoa(resp.StatusCode)).Inc()

	// 203: ответ валиден, но версия API объявлена устаревшей.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNonAuthoritativeInfo {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("yr: %s: status %d: %s", loc.Name, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var body compactResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("yr: %s: decode forecast: %w", loc.Name, err)
	}

	series := body.Properties.Timeseries
	f := &Forecast{
		Location:    loc.Name,
		UpdatedAt:   body.Properties.Meta.UpdatedAt,
		Times:       make([]time.Time, len(series)),
		Temperature: make([]float64, len(series)),
		Humidity:    make([]float64, len(series)),
	}
	for i, entry := range series {
		d := entry.Data.Instant.Details
		f.Times[i] = entry.Time.UTC()
		f.Temperature[i] = valueOrNaN(d.AirTemperature)
		f.Humidity[i] = valueOrNaN(d.RelativeHumidity)
	}
	c.log.Debug().
		Str("location", loc.Name).
		Int("points", len(series)).
		Dur("elapsed", time.Since(start)).
		Msg("forecast fetched")
	return f, nil
}

// query: координаты не точнее 4 знаков, как требует API.
func query(loc Location) string {
	v := url.Values{}
	v.Set("lat", strconv.FormatFloat(round4(loc.Lat), 'f', -1, 64))
	v.Set("lon", strconv.FormatFloat(round4(loc.Lon), 'f', -1, 64))
	if loc.Altitude != 0 {
		v.Set("altitude", strconv.Itoa(loc.Altitude))
	}
	return v.Encode()
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
