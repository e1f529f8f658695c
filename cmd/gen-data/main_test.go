package main

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pv/raspberry-listener-go/internal/storage"
	"github.com/pv/raspberry-listener-go/internal/storage/memstore"
)

func TestGenerateWritesAllSensorsInBatches(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mem := memstore.New()
	n, err := generate(context.Background(), mem, start, options{points: 25, step: time.Minute, batchSize: 7})
	require.NoError(t, err)
	require.Equal(t, 100, n)

	min, max, count, err := mem.Range(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(100), count)
	require.True(t, min.Equal(start))
	require.True(t, max.Equal(start.Add(24*time.Minute)))
}

func TestJitterKeepsSensorResolution(t *testing.T) {
	hum := storage.Reading{SensorType: "humidity", Value: 45}
	temp := storage.Reading{SensorType: "temperature", Value: 21}
	require.Equal(t, 45.0, jitter(hum, 0))
	for i := 0; i < 50; i++ {
		h := jitter(hum, 3)
		require.Equal(t, math.Round(h), h)
		require.InDelta(t, 45, h, 3)
		v := jitter(temp, 1)
		require.Equal(t, math.Round(v*16)/16, v)
		require.InDelta(t, 21, v, 1.0625)
	}
}

type failingWriter struct{}

func (failingWriter) Insert(context.Context, []storage.Reading) error {
	return context.DeadlineExceeded
}

func TestGenerateStopsOnWriteError(t *testing.T) {
	n, err := generate(context.Background(), failingWriter{}, time.Now(), options{points: 3, batchSize: 2})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, n)
}
