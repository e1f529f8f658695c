package postgres

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/storage"
)

const (
	defaultWindow = 6 * time.Hour
	defaultTable  = "sensor_readings"
)

type Config struct {
	ConnString string
	Table      string
	MaxConns   int32
}

type Store struct {
	pool  *pgxpool.Pool
	table string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := ensureUTCTimezone(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	store := &Store{pool: pool, table: table}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// ensureUTCTimezone проверяет часовой пояс БД. Колонка ts — timestamptz,
// поэтому значения корректны при любой зоне, но не-UTC отмечаем в логе.
func ensureUTCTimezone(ctx context.Context, pool *pgxpool.Pool) error {
	var tz string
	if err := pool.QueryRow(ctx, "SHOW timezone").Scan(&tz); err != nil {
		return fmt.Errorf("postgres: failed to check timezone: %w", err)
	}
	log := logging.With("postgres")
	if tz == "UTC" || tz == "Etc/UTC" {
		log.Debug().Str("timezone", tz).Msg("database timezone OK")
		return nil
	}
	log.Warn().Str("timezone", tz).Msg("database timezone is not UTC, timestamps are read as timestamptz")
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	sensor_type TEXT NOT NULL,
	sensor      TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	reading     DOUBLE PRECISION,
	unit        TEXT NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ts_idx ON %s (ts)`, indexName(s.table), s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Insert загружает показания через COPY.
func (s *Store) Insert(ctx context.Context, readings []storage.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	columns := []string{"sensor_type", "sensor", "ts", "reading", "unit"}
	_, err := s.pool.CopyFrom(ctx, tableIdentifier(s.table), columns,
		pgx.CopyFromSlice(len(readings), func(i int) ([]any, error) {
			r := readings[i]
			var value *float64
			if !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0) {
				v := r.Value
				value = &v
			}
			return []any{r.SensorType, r.Sensor, r.Timestamp.UTC(), value, r.Unit}, nil
		}))
	if err != nil {
		return fmt.Errorf("postgres: copy readings: %w", err)
	}
	return nil
}

func (s *Store) Stream(ctx context.Context, req storage.StreamRequest) (<-chan []storage.Reading, <-chan error) {
	sensors := sensorsAsArray(req.Sensors)
	query := fmt.Sprintf(windowSQL, s.table)
	return storage.StreamWindows(ctx, req, defaultWindow, func(ctx context.Context, from, to time.Time) ([]storage.Reading, error) {
		rows, err := s.pool.Query(ctx, query, from, to, sensors)
		if err != nil {
			return nil, fmt.Errorf("postgres: window query: %w", err)
		}
		defer rows.Close()

		chunk := make([]storage.Reading, 0)
		for rows.Next() {
			var r storage.Reading
			var value *float64
			if err := rows.Scan(&r.SensorType, &r.Sensor, &r.Timestamp, &value, &r.Unit); err != nil {
				return nil, fmt.Errorf("postgres: window scan: %w", err)
			}
			r.Timestamp = r.Timestamp.UTC()
			r.Value = math.NaN()
			if value != nil {
				r.Value = *value
			}
			chunk = append(chunk, r)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("postgres: rows err: %w", err)
		}
		return chunk, nil
	})
}

func (s *Store) Range(ctx context.Context, from, to time.Time) (time.Time, time.Time, int64, error) {
	var fromArg, toArg *time.Time
	if !from.IsZero() {
		fromArg = &from
	}
	if !to.IsZero() {
		toArg = &to
	}
	var minTs, maxTs *time.Time
	var count int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(rangeSQL, s.table), fromArg, toArg).Scan(&minTs, &maxTs, &count); err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("postgres: range scan: %w", err)
	}
	if minTs == nil || maxTs == nil {
		return time.Time{}, time.Time{}, 0, nil
	}
	return minTs.UTC(), maxTs.UTC(), count, nil
}

// sensorsAsArray возвращает не-nil срез: NULL в ANY/cardinality отфильтровал бы всё.
func sensorsAsArray(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

func tableIdentifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

func indexName(table string) string {
	return strings.ReplaceAll(table, ".", "_")
}

const windowSQL = `
SELECT sensor_type, sensor, ts, reading, unit
FROM %s
WHERE ts >= $1
  AND ts < $2
  AND (cardinality($3::text[]) = 0 OR sensor = ANY($3::text[]))
ORDER BY ts, sensor_type, sensor;
`

const rangeSQL = `
SELECT MIN(ts), MAX(ts), COUNT(*)
FROM %s
WHERE ($1::timestamptz IS NULL OR ts >= $1)
  AND ($2::timestamptz IS NULL OR ts <= $2);
`

func IsPostgresURL(db string) bool {
	return strings.HasPrefix(db, "postgres://") || strings.HasPrefix(db, "postgresql://")
}
