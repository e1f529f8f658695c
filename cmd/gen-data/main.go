package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/storage"
	"github.com/pv/raspberry-listener-go/internal/storage/backend"
	"github.com/pv/raspberry-listener-go/internal/storage/memstore"
)

// gen-data наполняет архив показаниями DHT11, DS18B20 и PI_CPU
// в SQLite, PostgreSQL или ClickHouse.
type options struct {
	dsn       string
	table     string
	points    int
	step      time.Duration
	start     string
	batchSize int
	random    float64
}

func main() {
	opts := parseFlags()
	start, err := time.Parse(time.RFC3339, opts.start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --start: %v\n", err)
		os.Exit(2)
	}
	if kind, err := backend.Kind(opts.dsn); err != nil || kind == "memory" {
		fmt.Fprintln(os.Stderr, "--db must be a sqlite, postgres, clickhouse or influxdb DSN")
		os.Exit(2)
	}

	ctx := context.Background()
	st, err := backend.Open(ctx, backend.Config{DSN: opts.dsn, Table: opts.table})
	if err != nil {
		logging.Fatal().Err(err).Msg("open storage")
	}
	defer st.Close()

	inserted, err := generate(ctx, st, start, opts)
	if err != nil {
		logging.Fatal().Err(err).Int("inserted", inserted).Msg("generate")
	}
	logging.Info().Int("rows", inserted).Str("db", opts.dsn).Msg("done")
}

func parseFlags() options {
	var opt options
	flag.StringVar(&opt.dsn, "db", "sqlite://readings.db", "target database (sqlite://file.db, postgres://..., clickhouse://..., influxdb://host:8086/db)")
	flag.StringVar(&opt.table, "table", "", "table name (default sensor_readings)")
	flag.IntVar(&opt.points, "points", 10080, "time steps to generate, each step writes all sensors")
	flag.DurationVar(&opt.step, "step", time.Minute, "time delta between steps")
	flag.StringVar(&opt.start, "start", time.Now().UTC().Add(-7*24*time.Hour).Truncate(time.Minute).Format(time.RFC3339), "start timestamp (RFC3339)")
	flag.IntVar(&opt.batchSize, "batch-size", 1000, "rows per insert")
	flag.Float64Var(&opt.random, "random", 0, "if >0, add random variation (-range..+range) to values")
	flag.Parse()
	return opt
}

func generate(ctx context.Context, w storage.Writer, start time.Time, opt options) (int, error) {
	batchSize := opt.batchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	step := opt.step
	if step <= 0 {
		step = time.Minute
	}
	log := logging.With("gen-data")

	batch := make([]storage.Reading, 0, batchSize)
	inserted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.Insert(ctx, batch); err != nil {
			return err
		}
		inserted += len(batch)
		batch = batch[:0]
		return nil
	}

	ts := start.UTC()
	for i := 0; i < opt.points; i++ {
		for _, r := range memstore.ExampleReadings(ts, i) {
			r.Value = jitter(r, opt.random)
			batch = append(batch, r)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return inserted, err
				}
				if inserted%(batchSize*10) == 0 {
					log.Info().Int("rows", inserted).Msg("progress")
				}
			}
		}
		ts = ts.Add(step)
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func jitter(r storage.Reading, randomRange float64) float64 {
	if randomRange <= 0 {
		return r.Value
	}
	v := r.Value + rand.Float64()*2*randomRange - randomRange
	if r.SensorType == "humidity" {
		return math.Round(v)
	}
	return math.Round(v*16) / 16
}
