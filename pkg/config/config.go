package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pv/raspberry-listener-go/internal/dataset"
)

// Config: конфигурация слушателя датчиков.
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Archive ArchiveConfig `yaml:"archive"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Poll    PollConfig    `yaml:"poll"`
	Storage StorageConfig `yaml:"storage"`
	Live    LiveConfig    `yaml:"live"`
	Yr      YrConfig      `yaml:"yr"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

type SourceConfig struct {
	Name string `yaml:"name"`
}

type ArchiveConfig struct {
	// URL: адрес HTTP API архива. Пусто: архив читается напрямую из storage.dsn.
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	Freshness time.Duration `yaml:"freshness"`
	// InitialLookback: окно полной загрузки; отрицательное: весь архив.
	InitialLookback time.Duration `yaml:"initial_lookback"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type BufferConfig struct {
	InitialCapacity int `yaml:"initial_capacity"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type StorageConfig struct {
	// DSN: sqlite (file:..., *.db, sqlite://), postgres://, clickhouse://, influxdb://. Пусто: демо-данные в памяти.
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type LiveConfig struct {
	// Addr: host:port сокета датчиков. Пусто: живой опрос выключен.
	Addr     string        `yaml:"addr"`
	Source   string        `yaml:"source"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Sensors  []string      `yaml:"sensors"`
}

// YrConfig: прогноз met.no. Пустой Locations: загрузка прогноза выключена.
type YrConfig struct {
	Source    string        `yaml:"source"`
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxGap    time.Duration `yaml:"max_gap"`
	Locations []YrLocation  `yaml:"locations"`
}

type YrLocation struct {
	Name     string  `yaml:"name"`
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Altitude int     `yaml:"altitude"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Source: SourceConfig{Name: "Pi-sensors"},
		Archive: ArchiveConfig{
			Timeout:         30 * time.Second,
			Freshness:       20 * time.Minute,
			InitialLookback: 7 * 24 * time.Hour,
			BreakerFailures: 5,
			BreakerCooldown: time.Minute,
		},
		Buffer: BufferConfig{InitialCapacity: 1024},
		Poll:   PollConfig{Interval: 5 * time.Second},
		Live: LiveConfig{
			Source:   "Pi-live",
			Interval: 5 * time.Second,
			Timeout:  5 * time.Second,
			Sensors:  []string{"temperature", "humidity", "cpu_temperature"},
		},
		Yr: YrConfig{
			Source:    "Yr",
			BaseURL:   "https://api.met.no/weatherapi/locationforecast/2.0/",
			UserAgent: "raspberry-listener github.com/pv/raspberry-listener-go",
			Timeout:   30 * time.Second,
			MaxGap:    time.Hour,
		},
		HTTP:    HTTPConfig{Addr: ":8090"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load читает YAML-файл поверх значений по умолчанию и проверяет результат.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config: path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse разбирает YAML поверх значений по умолчанию. Неизвестные ключи: ошибка.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: failed to decode YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Source.Name) == "" {
		errs = append(errs, errors.New("source.name is empty"))
	}
	if c.Archive.URL != "" {
		u, err := url.Parse(c.Archive.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("archive.url %q is not an absolute URL", c.Archive.URL))
		}
	}
	if c.Archive.Freshness <= 0 {
		errs = append(errs, errors.New("archive.freshness must be positive"))
	}
	if c.Archive.Timeout < 0 {
		errs = append(errs, errors.New("archive.timeout must not be negative"))
	}
	if c.Buffer.InitialCapacity <= 0 {
		errs = append(errs, errors.New("buffer.initial_capacity must be positive"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Live.Addr != "" {
		if c.Live.Interval <= 0 {
			errs = append(errs, errors.New("live.interval must be positive"))
		}
		if _, err := c.LiveKinds(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(c.Yr.Locations) > 0 {
		errs = append(errs, c.Yr.validate()...)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want json or console", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LiveKinds разбирает live.sensors в величины.
func (c *Config) LiveKinds() ([]dataset.Kind, error) {
	kinds := make([]dataset.Kind, 0, len(c.Live.Sensors))
	seen := make(map[dataset.Kind]struct{}, len(c.Live.Sensors))
	for _, name := range c.Live.Sensors {
		k, err := dataset.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("live.sensors: %w", err)
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (y *YrConfig) validate() []error {
	var errs []error
	if strings.TrimSpace(y.Source) == "" {
		errs = append(errs, errors.New("yr.source is empty"))
	}
	u, err := url.Parse(y.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("yr.base_url %q is not an absolute URL", y.BaseURL))
	}
	if strings.TrimSpace(y.UserAgent) == "" {
		errs = append(errs, errors.New("yr.user_agent is empty"))
	}
	if y.MaxGap <= 0 {
		errs = append(errs, errors.New("yr.max_gap must be positive"))
	}
	seen := make(map[string]struct{}, len(y.Locations))
	for i, loc := range y.Locations {
		if strings.TrimSpace(loc.Name) == "" {
			errs = append(errs, fmt.Errorf("yr.locations[%d].name is empty", i))
			continue
		}
		if _, ok := seen[loc.Name]; ok {
			errs = append(errs, fmt.Errorf("yr.locations: duplicate name %q", loc.Name))
		}
		seen[loc.Name] = struct{}{}
		if loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
			errs = append(errs, fmt.Errorf("yr.locations %q: coordinates %v,%v out of range", loc.Name, loc.Lat, loc.Lon))
		}
	}
	return errs
}
