package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/pv/raspberry-listener-go/internal/archive"
	"github.com/pv/raspberry-listener-go/internal/worker"
	"github.com/pv/raspberry-listener-go/pkg/config"
)

func TestParseFlagsDefaults(t *testing.T) {
	opts, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	require.Equal(t, config.Default(), opts.cfg)
}

func TestParseFlagsYAMLAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
archive:
  url: http://pi.local:8000
  breaker_failures: 3
live:
  addr: 127.0.0.1:9000
  sensors: [humidity]
http:
  addr: :9999
`), 0o644))

	opts, err := parseFlags([]string{"--config-yaml", path, "--http-addr", ":7000", "--live-sensors", "temperature, cpu_temperature"}, io.Discard)
	require.NoError(t, err)
	cfg := opts.cfg
	require.Equal(t, path, opts.configYAML)
	require.Equal(t, "http://pi.local:8000", cfg.Archive.URL)
	require.Equal(t, uint32(3), cfg.Archive.BreakerFailures)
	require.Equal(t, "127.0.0.1:9000", cfg.Live.Addr)
	require.Equal(t, ":7000", cfg.HTTP.Addr)
	require.Equal(t, []string{"temperature", "cpu_temperature"}, cfg.Live.Sensors)
	require.Empty(t, cfg.Yr.Locations)
}

func TestParseFlagsYrLocationsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
yr:
  timeout: 10s
  locations:
    - {name: Arna, lat: 60.42203, lon: 5.46824, altitude: 60}
`), 0o644))

	opts, err := parseFlags([]string{"--config-yaml", path, "--yr-source", "met.no"}, io.Discard)
	require.NoError(t, err)
	cfg := opts.cfg
	require.Equal(t, []config.YrLocation{{Name: "Arna", Lat: 60.42203, Lon: 5.46824, Altitude: 60}}, cfg.Yr.Locations)
	require.Equal(t, 10*time.Second, cfg.Yr.Timeout)
	require.Equal(t, "met.no", cfg.Yr.Source)
}

func TestParseFlagsRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.yaml")
	require.NoError(t, os.WriteFile(path, []byte("archive:\n  ulr: http://pi\n"), 0o644))
	_, err := parseFlags([]string{"--config-yaml=" + path}, io.Discard)
	require.Error(t, err)

	_, err = parseFlags([]string{"--poll-interval", "0s"}, io.Discard)
	require.Error(t, err)

	opts, err := parseFlags([]string{"--version", "--poll-interval", "0s"}, io.Discard)
	require.NoError(t, err)
	require.True(t, opts.version)
}

func TestAppLoadsDemoArchive(t *testing.T) {
	cfg := config.Default()
	cfg.Poll.Interval = time.Hour
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	select {
	case c := <-a.worker.Events():
		require.NoError(t, c.Err)
		require.True(t, c.Initial)
		a.manager.Observe(c)
	case <-time.After(5 * time.Second):
		t.Fatal("initial load did not finish")
	}
	require.Equal(t, archive.StateLoaded, a.sync.State())

	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/datasets/humidity/Pi-sensors/DHT11")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Length int `json:"length"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Positive(t, body.Length)

	require.NoError(t, a.manager.Trigger())
	select {
	case c := <-a.worker.Events():
		require.NoError(t, c.Err)
		require.False(t, c.Initial)
		a.manager.Observe(c)
	case <-time.After(5 * time.Second):
		t.Fatal("update did not finish")
	}
	require.Equal(t, "incremental", a.manager.Status().Mode)
}

func TestAppLoadsYrForecast(t *testing.T) {
	var hits atomic.Int32
	yrSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") == "" {
			http.Error(w, "no user agent", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"properties":{"meta":{"updated_at":"2024-06-01T11:30:00Z"},"timeseries":[
{"time":"2024-06-01T12:00:00Z","data":{"instant":{"details":{"air_temperature":14.2,"relative_humidity":71.0}}}},
{"time":"2024-06-01T13:00:00Z","data":{"instant":{"details":{"air_temperature":14.8,"relative_humidity":69.5}}}},
{"time":"2024-06-01T19:00:00Z","data":{"instant":{"details":{"air_temperature":11.0,"relative_humidity":80.0}}}}]}}`))
	}))
	defer yrSrv.Close()

	cfg := config.Default()
	cfg.Poll.Interval = time.Hour
	cfg.Yr.BaseURL = yrSrv.URL
	cfg.Yr.Locations = []config.YrLocation{
		{Name: "Arna", Lat: 60.42203, Lon: 5.46824, Altitude: 60},
		{Name: "Oslo", Lat: 59.91273, Lon: 10.74609, Altitude: 5},
	}
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.yrWorker)

	select {
	case c := <-a.yrWorker.Events():
		require.NoError(t, c.Err)
		require.True(t, c.Initial)
	case <-time.After(5 * time.Second):
		t.Fatal("yr load did not finish")
	}
	require.Equal(t, int32(2), hits.Load())
	require.ErrorIs(t, a.yrWorker.Trigger(), worker.ErrClosed)

	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/datasets/temperature/Yr/Oslo")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Values []float64 `json:"values"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, []float64{14.2, 14.8}, body.Values)
}

func TestAppRejectsUnsupportedDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DSN = "mysql://localhost/sensors"
	_, err := newApp(context.Background(), cfg)
	require.Error(t, err)
}
