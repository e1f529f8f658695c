package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pv/raspberry-listener-go/internal/archive"
	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/storage"
	"github.com/pv/raspberry-listener-go/internal/storage/backend"
	"github.com/pv/raspberry-listener-go/internal/supervisor"
	"github.com/pv/raspberry-listener-go/pkg/config"
)

// archive-server отдаёт архив показаний из хранилища по HTTP в форматах
// parquet и json, как это делает сервер на Raspberry Pi.
type options struct {
	configYAML string
	dsn        string
	table      string
	listen     string
	window     time.Duration
	logLevel   string
	logFormat  string
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
	if err := logging.Init(logging.Config{Level: opts.logLevel, Format: opts.logFormat}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := backend.Open(ctx, backend.Config{DSN: opts.dsn, Table: opts.table})
	if err != nil {
		logging.Fatal().Err(err).Msg("open storage")
	}
	defer st.Close()

	svc := &supervisor.HTTPService{
		Server: &http.Server{
			Addr:              opts.listen,
			Handler:           newRouter(st, opts.window),
			ReadHeaderTimeout: 10 * time.Second,
		},
		Name: "archive-server",
	}
	kind, _ := backend.Kind(opts.dsn)
	logging.Info().Str("addr", opts.listen).Str("storage", kind).Msg("archive server started")
	if err := svc.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("archive server stopped")
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opt options
	fs := flag.NewFlagSet("archive-server", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opt.configYAML, "config-yaml", "", "path to YAML file with default flag values (storage and logging sections)")
	fs.StringVar(&opt.dsn, "db", "", "archive database (sqlite://file.db, postgres://..., clickhouse://..., influxdb://...; empty: in-memory demo)")
	fs.StringVar(&opt.table, "table", "", "archive table name")
	fs.StringVar(&opt.listen, "listen", ":8000", "HTTP listen address")
	fs.DurationVar(&opt.window, "window", 0, "storage read window (0: backend default)")
	fs.StringVar(&opt.logLevel, "log-level", "info", "log level")
	fs.StringVar(&opt.logFormat, "log-format", "console", "log format (console, json)")

	if path := config.FindConfigYAML(args); path != "" {
		if err := config.ApplyYAMLDefaults(fs, path, config.DefaultFlagAliases); err != nil {
			return opt, fmt.Errorf("--config-yaml: %w", err)
		}
	}
	if err := fs.Parse(args); err != nil {
		return opt, err
	}
	return opt, nil
}

func newRouter(st storage.Storage, window time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/archive/*", archive.NewHandler(&archive.StorageSource{Storage: st, Window: window}))
	return r
}
