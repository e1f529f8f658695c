// Package backend выбирает хранилище показаний по строке подключения.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/pv/raspberry-listener-go/internal/storage"
	"github.com/pv/raspberry-listener-go/internal/storage/clickhouse"
	"github.com/pv/raspberry-listener-go/internal/storage/influxdb"
	"github.com/pv/raspberry-listener-go/internal/storage/memstore"
	"github.com/pv/raspberry-listener-go/internal/storage/postgres"
	"github.com/pv/raspberry-listener-go/internal/storage/sqlite"
)

// Store — хранилище с чтением и записью.
type Store interface {
	storage.Storage
	storage.Writer
}

// Config — параметры Open.
type Config struct {
	// DSN: sqlite://file.db, file:..., *.db, postgres://..., clickhouse://..., influxdb://...
	// Пусто — демонстрационный архив в памяти за последние ExampleSpan.
	DSN string
	// Table: таблица SQL-бэкендов или measurement InfluxDB.
	Table string
	// ExampleSpan и ExampleStep задают демо-архив (по умолчанию 24h и 1m).
	ExampleSpan time.Duration
	ExampleStep time.Duration
}

// Kind возвращает тип бэкенда для DSN: sqlite, postgres, clickhouse, influxdb, memory.
func Kind(dsn string) (string, error) {
	switch {
	case dsn == "":
		return "memory", nil
	case postgres.IsPostgresURL(dsn):
		return "postgres", nil
	case clickhouse.IsSource(dsn):
		return "clickhouse", nil
	case influxdb.IsSource(dsn):
		return "influxdb", nil
	case sqlite.IsSource(dsn):
		return "sqlite", nil
	default:
		return "", fmt.Errorf("backend: unsupported DSN %q", dsn)
	}
}

// Open подключает хранилище по DSN.
func Open(ctx context.Context, cfg Config) (Store, error) {
	kind, err := Kind(cfg.DSN)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "postgres":
		st, err := postgres.New(ctx, postgres.Config{ConnString: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return nil, err
		}
		return st, nil
	case "clickhouse":
		st, err := clickhouse.New(ctx, clickhouse.Config{DSN: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return nil, err
		}
		return st, nil
	case "influxdb":
		st, err := influxdb.New(ctx, influxdb.Config{DSN: cfg.DSN, Measurement: cfg.Table})
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		st, err := sqlite.New(ctx, sqlite.Config{Source: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		span := cfg.ExampleSpan
		if span <= 0 {
			span = 24 * time.Hour
		}
		step := cfg.ExampleStep
		if step <= 0 {
			step = time.Minute
		}
		to := time.Now().UTC().Truncate(step)
		return memstore.NewExampleStore(to.Add(-span), to, step), nil
	}
}
