package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pv/raspberry-listener-go/internal/storage"
)

const (
	defaultTable     = "sensor_readings"
	defaultWindowDur = 6 * time.Hour
)

type Config struct {
	Source string
	Table  string
}

type Store struct {
	db    *sql.DB
	table string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("sqlite: database path is empty")
	}
	db, err := sql.Open("sqlite", NormalizeSource(cfg.Source))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Одно соединение: ":memory:" живёт ровно в нём, а писатель у SQLite всё равно один.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	store := &Store{db: db, table: table}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	sensor_type TEXT NOT NULL,
	sensor      TEXT NOT NULL,
	ts_usec     INTEGER NOT NULL,
	reading     REAL,
	unit        TEXT NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ts ON %s(ts_usec)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

// Insert дописывает показания одной транзакцией.
func (s *Store) Insert(ctx context.Context, readings []storage.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s(sensor_type, sensor, ts_usec, reading, unit) VALUES (?, ?, ?, ?, ?)`, s.table))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	for _, r := range readings {
		var value sql.NullFloat64
		if !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0) {
			value = sql.NullFloat64{Float64: r.Value, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.SensorType, r.Sensor, r.Timestamp.UnixMicro(), value, r.Unit); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("sqlite: insert %s/%s: %w", r.SensorType, r.Sensor, err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *Store) Stream(ctx context.Context, req storage.StreamRequest) (<-chan []storage.Reading, <-chan error) {
	filter, filterArgs := sensorFilter(req.Sensors)
	query := fmt.Sprintf(windowSQL, s.table, filter)
	return storage.StreamWindows(ctx, req, defaultWindowDur, func(ctx context.Context, from, to time.Time) ([]storage.Reading, error) {
		args := append([]any{from.UnixMicro(), to.UnixMicro()}, filterArgs...)
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("sqlite: window query: %w", err)
		}
		defer rows.Close()

		chunk := make([]storage.Reading, 0, 128)
		for rows.Next() {
			var r storage.Reading
			var usec int64
			var value sql.NullFloat64
			if err := rows.Scan(&r.SensorType, &r.Sensor, &usec, &value, &r.Unit); err != nil {
				return nil, fmt.Errorf("sqlite: window scan: %w", err)
			}
			r.Timestamp = time.UnixMicro(usec).UTC()
			r.Value = math.NaN()
			if value.Valid {
				r.Value = value.Float64
			}
			chunk = append(chunk, r)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("sqlite: rows err: %w", err)
		}
		return chunk, nil
	})
}

func (s *Store) Range(ctx context.Context, from, to time.Time) (time.Time, time.Time, int64, error) {
	var where []string
	var args []any
	if !from.IsZero() {
		where = append(where, "ts_usec >= ?")
		args = append(args, from.UnixMicro())
	}
	if !to.IsZero() {
		where = append(where, "ts_usec <= ?")
		args = append(args, to.UnixMicro())
	}
	query := fmt.Sprintf(`SELECT MIN(ts_usec), MAX(ts_usec), COUNT(*) FROM %s`, s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	var minUsec, maxUsec sql.NullInt64
	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&minUsec, &maxUsec, &count); err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("sqlite: range scan: %w", err)
	}
	if !minUsec.Valid || !maxUsec.Valid {
		return time.Time{}, time.Time{}, 0, nil
	}
	return time.UnixMicro(minUsec.Int64).UTC(), time.UnixMicro(maxUsec.Int64).UTC(), count, nil
}

func sensorFilter(sensors []string) (string, []any) {
	if len(sensors) == 0 {
		return "", nil
	}
	marks := make([]string, len(sensors))
	args := make([]any, len(sensors))
	for i, name := range sensors {
		marks[i] = "?"
		args[i] = name
	}
	return " AND sensor IN (" + strings.Join(marks, ", ") + ")", args
}

const windowSQL = `
SELECT sensor_type, sensor, ts_usec, reading, unit
FROM %s
WHERE ts_usec >= ?
  AND ts_usec < ?%s
ORDER BY ts_usec, sensor_type, sensor;
`

func IsSource(src string) bool {
	if src == "" {
		return false
	}
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "sqlite://"),
		strings.HasPrefix(lower, "file:"),
		strings.HasSuffix(lower, ".db"),
		src == ":memory:":
		return true
	default:
		return false
	}
}

func NormalizeSource(src string) string {
	if strings.HasPrefix(src, "sqlite://") {
		return strings.TrimPrefix(src, "sqlite://")
	}
	return src
}
