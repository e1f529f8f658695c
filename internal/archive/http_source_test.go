package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/pv/raspberry-listener-go/internal/storage/memstore"
)

func TestHTTPSourceMethodAndBody(t *testing.T) {
	var gotMethod, gotPath, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotQuery = r.Method, r.URL.Path, r.URL.Query().Get("start")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		body, _ := EncodeTable(nil)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	src, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = src.Fetch(context.Background(), Request{Mode: ModeIncremental})
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, gotMethod)
	require.Equal(t, "/archive/json/", gotPath)
	require.Empty(t, gotBody)

	p, err := src.Fetch(context.Background(), Request{Mode: ModeIncremental, Since: t0})
	require.NoError(t, err)
	require.Equal(t, FormatJSON, p.Format)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "2024-05-01T12:00:00Z", gotQuery)
	var start string
	require.NoError(t, json.Unmarshal([]byte(gotBody), &start))
	require.Equal(t, gotQuery, start)
}

func TestHTTPSourceBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "archive exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL, BreakerFailures: 2, BreakerCooldown: time.Hour})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := src.Fetch(context.Background(), Request{Mode: ModeFull})
		require.ErrorIs(t, err, ErrArchiveUnavailable)
		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		require.Equal(t, http.StatusInternalServerError, httpErr.Status)
		require.Equal(t, "archive exploded", httpErr.Body)
	}

	_, err = src.Fetch(context.Background(), Request{Mode: ModeFull})
	require.ErrorIs(t, err, ErrArchiveUnavailable)
	require.Equal(t, int32(2), hits.Load())
}

func TestHTTPSourceConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	src, err := NewHTTPSource(HTTPConfig{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), Request{Mode: ModeFull})
	require.ErrorIs(t, err, ErrArchiveUnavailable)

	_, err = NewHTTPSource(HTTPConfig{})
	require.Error(t, err)
}

func TestHandlerFormatsAndErrors(t *testing.T) {
	mem := memstore.New()
	insertRows(t, mem, dht11Rows(t0, 10))
	srv := httptest.NewServer(NewHandler(&StorageSource{Storage: mem}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/archive/parquet/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows, err := DecodeParquet(body)
	require.NoError(t, err)
	require.Len(t, rows, 10)

	resp, err = http.Post(srv.URL+"/archive/json/", "application/json", strings.NewReader(`"2024-05-01T12:05:00"`))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows, err = DecodeTable(body)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	resp, err = http.Get(srv.URL + "/archive/csv/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/archive/json/?start=never", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	down := httptest.NewServer(NewHandler(&StorageSource{}))
	defer down.Close()
	resp, err = http.Get(down.URL + "/archive/json/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
