package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pv/raspberry-listener-go/internal/archive"
	"github.com/pv/raspberry-listener-go/internal/storage/memstore"
)

func TestRouterServesArchive(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mem := memstore.NewExampleStore(t0, t0.Add(5*time.Minute), time.Minute)
	srv := httptest.NewServer(newRouter(mem, 0))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/archive/parquet/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows, err := archive.DecodeParquet(body)
	require.NoError(t, err)
	require.Len(t, rows, 20)

	resp, err = http.Post(srv.URL+"/archive/json/?start="+t0.Add(3*time.Minute).Format(time.RFC3339), "application/json", nil)
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows, err = archive.DecodeTable(body)
	require.NoError(t, err)
	require.Len(t, rows, 8)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestParseFlagsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  dsn: sqlite://archive.db\n  table: readings\nlogging:\n  level: debug\n"), 0o644))

	opts, err := parseFlags([]string{"--config-yaml", path, "--listen", "127.0.0.1:8001"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "sqlite://archive.db", opts.dsn)
	require.Equal(t, "readings", opts.table)
	require.Equal(t, "debug", opts.logLevel)
	require.Equal(t, "127.0.0.1:8001", opts.listen)

	_, err = parseFlags([]string{"--window", "soon"}, io.Discard)
	require.Error(t, err)
	require.False(t, strings.Contains(err.Error(), "config-yaml"))
}
