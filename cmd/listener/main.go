package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pv/raspberry-listener-go/internal/api"
	"github.com/pv/raspberry-listener-go/internal/archive"
	"github.com/pv/raspberry-listener-go/internal/dataset"
	"github.com/pv/raspberry-listener-go/internal/live"
	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/storage/backend"
	"github.com/pv/raspberry-listener-go/internal/supervisor"
	"github.com/pv/raspberry-listener-go/internal/worker"
	"github.com/pv/raspberry-listener-go/internal/yr"
	"github.com/pv/raspberry-listener-go/pkg/config"
)

const version = "0.4.0-dev"

type options struct {
	configYAML      string
	cfg             *config.Config
	liveSensors     string
	breakerFailures uint
	debug           bool
	version         bool
	generateCfg     string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if opts.version {
		fmt.Println("raspberry-listener", version)
		return
	}
	if opts.generateCfg != "" {
		if err := config.WriteExample(opts.generateCfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg := opts.cfg
	logCfg := logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File}
	if opts.debug {
		logCfg.Level = "debug"
	}
	if err := logging.Init(logCfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("listener stopped")
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	opt := options{cfg: config.Default()}
	cfg := opt.cfg
	fs := flag.NewFlagSet("raspberry-listener", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&opt.configYAML, "config-yaml", "", "path to YAML file with default flag values")
	fs.StringVar(&cfg.Source.Name, "source", cfg.Source.Name, "source name of archive datasets")
	fs.StringVar(&cfg.Archive.URL, "archive-url", cfg.Archive.URL, "archive HTTP API base URL (empty: read archive from --db)")
	fs.DurationVar(&cfg.Archive.Timeout, "archive-timeout", cfg.Archive.Timeout, "archive request timeout")
	fs.DurationVar(&cfg.Archive.Freshness, "freshness", cfg.Archive.Freshness, "max age of last known point for incremental update")
	fs.DurationVar(&cfg.Archive.InitialLookback, "lookback", cfg.Archive.InitialLookback, "full load window (negative: whole archive)")
	fs.UintVar(&opt.breakerFailures, "breaker-failures", uint(cfg.Archive.BreakerFailures), "consecutive archive failures before circuit opens")
	fs.DurationVar(&cfg.Archive.BreakerCooldown, "breaker-cooldown", cfg.Archive.BreakerCooldown, "open circuit cooldown")
	fs.IntVar(&cfg.Buffer.InitialCapacity, "capacity", cfg.Buffer.InitialCapacity, "initial dataset buffer capacity")
	fs.DurationVar(&cfg.Poll.Interval, "poll-interval", cfg.Poll.Interval, "pause between archive sync cycles")
	fs.StringVar(&cfg.Storage.DSN, "db", cfg.Storage.DSN, "archive database (sqlite://file.db, postgres://..., clickhouse://..., influxdb://...; empty: in-memory demo)")
	fs.StringVar(&cfg.Storage.Table, "table", cfg.Storage.Table, "archive table name")
	fs.StringVar(&cfg.Live.Addr, "live-addr", cfg.Live.Addr, "sensor socket host:port (empty: live polling disabled)")
	fs.StringVar(&cfg.Live.Source, "live-source", cfg.Live.Source, "source name of live datasets")
	fs.DurationVar(&cfg.Live.Interval, "live-interval", cfg.Live.Interval, "live polling interval")
	fs.DurationVar(&cfg.Live.Timeout, "live-timeout", cfg.Live.Timeout, "sensor socket timeout")
	fs.StringVar(&opt.liveSensors, "live-sensors", strings.Join(cfg.Live.Sensors, ","), "comma separated live kinds")
	fs.StringVar(&cfg.Yr.Source, "yr-source", cfg.Yr.Source, "source name of Yr forecast datasets")
	fs.StringVar(&cfg.Yr.BaseURL, "yr-url", cfg.Yr.BaseURL, "met.no locationforecast base URL")
	fs.StringVar(&cfg.Yr.UserAgent, "yr-user-agent", cfg.Yr.UserAgent, "User-Agent sent to met.no")
	fs.DurationVar(&cfg.Yr.Timeout, "yr-timeout", cfg.Yr.Timeout, "Yr request timeout")
	fs.DurationVar(&cfg.Yr.MaxGap, "yr-max-gap", cfg.Yr.MaxGap, "drop forecast points sparser than this step")
	fs.StringVar(&cfg.HTTP.Addr, "http-addr", cfg.HTTP.Addr, "HTTP API address")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "log format (console, json)")
	fs.StringVar(&cfg.Logging.File, "log-file", cfg.Logging.File, "write logs to file instead of stderr")
	fs.BoolVar(&opt.debug, "debug", false, "enable debug logs")
	fs.BoolVar(&opt.version, "version", false, "print version and exit")
	fs.StringVar(&opt.generateCfg, "generate-config", "", "write example YAML config to file ('-' for stdout)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: raspberry-listener [options]\n\n")
		fmt.Fprintln(fs.Output(), "Raspberry Pi sensor archive listener. Example:")
		fmt.Fprintln(fs.Output(), "  raspberry-listener --archive-url http://raspberrypi.local:8000 --live-addr raspberrypi.local:9000")
		fmt.Fprintln(fs.Output())
		fs.PrintDefaults()
	}

	if path := config.FindConfigYAML(args); path != "" {
		// Файл проверяется целиком, чтобы опечатка в ключе не терялась молча.
		loaded, err := config.Load(path)
		if err != nil {
			return opt, fmt.Errorf("--config-yaml: %w", err)
		}
		// списки структур флагами не задаются
		cfg.Yr.Locations = loaded.Yr.Locations
		if err := config.ApplyYAMLDefaults(fs, path, config.DefaultFlagAliases); err != nil {
			return opt, fmt.Errorf("--config-yaml: %w", err)
		}
	}
	if err := fs.Parse(args); err != nil {
		return opt, err
	}

	cfg.Archive.BreakerFailures = uint32(opt.breakerFailures)
	cfg.Live.Sensors = splitList(opt.liveSensors)
	if opt.version || opt.generateCfg != "" {
		return opt, nil
	}
	if err := cfg.Validate(); err != nil {
		return opt, err
	}
	return opt, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// app: собранные компоненты слушателя.
type app struct {
	catalog *dataset.Catalog
	sync    *archive.Synchronizer
	worker  *worker.Worker
	// yrWorker: однократная загрузка прогноза, nil если точки не заданы.
	yrWorker *worker.Worker
	manager  *api.Manager
	hub      *api.EventHub
	server   *api.Server
	tree     *supervisor.Tree
	closers  []func()
}

func (a *app) Close() {
	if a.worker != nil {
		a.worker.Close()
	}
	if a.yrWorker != nil {
		a.yrWorker.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logging.Info().
		Str("archive", describeArchive(cfg)).
		Str("http", cfg.HTTP.Addr).
		Str("live", cfg.Live.Addr).
		Int("yr_locations", len(cfg.Yr.Locations)).
		Msg("listener started")

	err = a.tree.Serve(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{catalog: dataset.NewCatalog(cfg.Buffer.InitialCapacity)}

	source, err := openArchive(ctx, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sync, err = archive.NewSynchronizer(source, a.catalog, archive.DefaultBindings(cfg.Source.Name), archive.SyncConfig{
		Freshness: cfg.Archive.Freshness,
		Lookback:  cfg.Archive.InitialLookback,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.worker, err = worker.New(a.sync.InitialLoad, a.sync.Update)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.manager = api.NewManager(a.worker, a.sync)
	a.hub = api.NewEventHub(a.catalog)
	a.server = api.NewServer(a.catalog, a.manager, a.hub)

	a.tree = supervisor.NewTree(supervisor.DefaultTreeConfig())
	a.tree.AddSyncService(supervisor.OneShot{Service: &worker.Scheduler{
		Worker:   a.worker,
		Interval: cfg.Poll.Interval,
		OnCompletion: func(c worker.Completion) {
			a.manager.Observe(c)
			a.hub.Publish(c)
		},
	}})
	if cfg.Live.Addr != "" {
		kinds, err := cfg.LiveKinds()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.tree.AddSyncService(&live.Poller{
			Addr:     cfg.Live.Addr,
			Timeout:  cfg.Live.Timeout,
			Interval: cfg.Live.Interval,
			Catalog:  a.catalog,
			Targets:  live.TargetsFor(cfg.Live.Source, kinds...),
		})
	}
	if len(cfg.Yr.Locations) > 0 {
		if err := a.startYr(cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.tree.AddAPIService(&supervisor.HTTPService{
		Server: a.server.HTTPServer(cfg.HTTP.Addr),
		Name:   "http-api",
	})
	return a, nil
}

// startYr запускает однократную загрузку прогноза. Worker без update
// закрывает канал событий после загрузки, и планировщик завершается.
func (a *app) startYr(cfg *config.Config) error {
	client, err := yr.NewClient(yr.ClientConfig{
		BaseURL:   cfg.Yr.BaseURL,
		UserAgent: cfg.Yr.UserAgent,
		Timeout:   cfg.Yr.Timeout,
	})
	if err != nil {
		return err
	}
	locations := make([]yr.Location, len(cfg.Yr.Locations))
	for i, loc := range cfg.Yr.Locations {
		locations[i] = yr.Location{Name: loc.Name, Lat: loc.Lat, Lon: loc.Lon, Altitude: loc.Altitude}
	}
	loader, err := yr.NewLoader(client, a.catalog, yr.LoaderConfig{
		Source:    cfg.Yr.Source,
		Locations: locations,
		MaxGap:    cfg.Yr.MaxGap,
	})
	if err != nil {
		return err
	}
	a.yrWorker, err = worker.New(loader.InitialLoad, nil)
	if err != nil {
		return err
	}
	a.tree.AddSyncService(supervisor.OneShot{Service: &worker.Scheduler{
		Worker:       a.yrWorker,
		OnCompletion: a.hub.Publish,
		Name:         "yr-forecast",
	}})
	return nil
}

// openArchive выбирает источник архива: HTTP API при заданном URL,
// иначе хранилище по storage.dsn.
func openArchive(ctx context.Context, cfg *config.Config, a *app) (archive.Source, error) {
	if cfg.Archive.URL != "" {
		src, err := archive.NewHTTPSource(archive.HTTPConfig{
			BaseURL:         cfg.Archive.URL,
			Timeout:         cfg.Archive.Timeout,
			BreakerFailures: cfg.Archive.BreakerFailures,
			BreakerCooldown: cfg.Archive.BreakerCooldown,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	st, err := backend.Open(ctx, backend.Config{DSN: cfg.Storage.DSN, Table: cfg.Storage.Table})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)
	return &archive.StorageSource{Storage: st}, nil
}

func describeArchive(cfg *config.Config) string {
	if cfg.Archive.URL != "" {
		return cfg.Archive.URL
	}
	kind, _ := backend.Kind(cfg.Storage.DSN)
	return kind
}
