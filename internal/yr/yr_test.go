package yr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pv/raspberry-listener-go/internal/dataset"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// compactBody собирает ответ locationforecast: count часовых точек, затем две
// шестичасовые. У второй точки нет влажности.
func compactBody(count int) string {
	var entries []string
	add := func(ts time.Time, details string) {
		entries = append(entries, fmt.Sprintf(`{"time":%q,"data":{"instant":{"details":{%s}},"next_1_hours":{"summary":{"symbol_code":"cloudy"}}}}`,
			ts.Format(time.RFC3339), details))
	}
	for i := 0; i < count; i++ {
		details := fmt.Sprintf(`"air_pressure_at_sea_level":1012.3,"air_temperature":%.1f,"relative_humidity":%.1f,"wind_speed":3.2`, 10+float64(i), 70+float64(i))
		if i == 1 {
			details = `"air_temperature":11.0`
		}
		add(t0.Add(time.Duration(i)*time.Hour), details)
	}
	last := t0.Add(time.Duration(count-1) * time.Hour)
	for i := 1; i <= 2; i++ {
		add(last.Add(time.Duration(6*i)*time.Hour), `"air_temperature":5.0,"relative_humidity":90.0`)
	}
	return `{"type":"Feature","geometry":{"type":"Point","coordinates":[5.4682,60.422,60]},` +
		`"properties":{"meta":{"updated_at":"2024-06-01T11:30:00Z","units":{"air_temperature":"celsius"}},` +
		`"timeseries":[` + strings.Join(entries, ",") + `]}}`
}

func TestClientFetch(t *testing.T) {
	var gotUA, gotQuery, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.RawQuery
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(compactBody(3)))
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/weatherapi/locationforecast/2.0", UserAgent: "raspberry-listener-test"})
	require.NoError(t, err)
	f, err := c.Fetch(context.Background(), Location{Name: "Arna", Lat: 60.422034, Lon: 5.468241, Altitude: 60})
	require.NoError(t, err)

	require.Equal(t, "raspberry-listener-test", gotUA)
	require.Equal(t, "/weatherapi/locationforecast/2.0/compact", gotPath)
	require.Equal(t, "altitude=60&lat=60.422&lon=5.4682", gotQuery)

	require.Equal(t, "Arna", f.Location)
	require.True(t, f.UpdatedAt.Equal(time.Date(2024, 6, 1, 11, 30, 0, 0, time.UTC)))
	require.Len(t, f.Times, 5)
	require.True(t, f.Times[0].Equal(t0))
	require.Equal(t, 10.0, f.Temperature[0])
	require.Equal(t, 70.0, f.Humidity[0])
	require.Equal(t, 11.0, f.Temperature[1])
	require.True(t, math.IsNaN(f.Humidity[1]))
}

func TestClientErrors(t *testing.T) {
	_, err := NewClient(ClientConfig{UserAgent: ""})
	require.Error(t, err)
	_, err = NewClient(ClientConfig{BaseURL: "api.met.no", UserAgent: "x"})
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") == "0" {
			_, _ = w.Write([]byte(`{"properties":`))
			return
		}
		http.Error(w, "missing User-Agent", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, UserAgent: "x", Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), Location{Name: "Oslo", Lat: 59.9, Lon: 10.7})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 403")

	_, err = c.Fetch(context.Background(), Location{Name: "Null Island"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

type fakeFetcher struct {
	forecasts map[string]*Forecast
	fail      string
	calls     atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, loc Location) (*Forecast, error) {
	f.calls.Add(1)
	if loc.Name == f.fail {
		return nil, errors.New("yr: boom")
	}
	return f.forecasts[loc.Name], nil
}

func hourly(loc string, n int, temp float64) *Forecast {
	f := &Forecast{Location: loc}
	for i := 0; i < n; i++ {
		f.Times = append(f.Times, t0.Add(time.Duration(i)*time.Hour))
		f.Temperature = append(f.Temperature, temp+float64(i))
		f.Humidity = append(f.Humidity, 50)
	}
	return f
}

func TestLoaderInitialLoad(t *testing.T) {
	arna := hourly("Arna", 4, 10)
	arna.Humidity[2] = math.NaN()
	arna.Times = append(arna.Times, t0.Add(9*time.Hour))
	arna.Temperature = append(arna.Temperature, 3)
	arna.Humidity = append(arna.Humidity, 95)
	fetcher := &fakeFetcher{forecasts: map[string]*Forecast{"Arna": arna, "Oslo": hourly("Oslo", 2, 20)}}

	catalog := dataset.NewCatalog(8)
	l, err := NewLoader(fetcher, catalog, LoaderConfig{Locations: []Location{
		{Name: "Arna", Lat: 60.42203, Lon: 5.46824, Altitude: 60},
		{Name: "Oslo", Lat: 59.91273, Lon: 10.74609, Altitude: 5},
	}})
	require.NoError(t, err)

	arnaID := dataset.NewIdentifier("Yr", "Arna")
	_, _, err = catalog.Store(dataset.KindTemperature).GetData(arnaID)
	require.ErrorIs(t, err, dataset.ErrDataNotReady)

	require.NoError(t, l.InitialLoad(context.Background()))
	require.Equal(t, int32(2), fetcher.calls.Load())

	ts, vs, err := catalog.Store(dataset.KindTemperature).GetData(arnaID)
	require.NoError(t, err)
	require.Len(t, ts, 4)
	require.Equal(t, []float64{10, 11, 12, 13}, vs)

	_, vs, err = catalog.Store(dataset.KindHumidity).GetData(arnaID)
	require.NoError(t, err)
	require.Equal(t, []float64{50, 50, 50}, vs)

	_, vs, err = catalog.Store(dataset.KindTemperature).GetData(dataset.NewIdentifier("Yr", "Oslo"))
	require.NoError(t, err)
	require.Equal(t, []float64{20, 21}, vs)
}

func TestLoaderAllOrNothing(t *testing.T) {
	fetcher := &fakeFetcher{
		forecasts: map[string]*Forecast{"Arna": hourly("Arna", 3, 10)},
		fail:      "Oslo",
	}
	catalog := dataset.NewCatalog(8)
	l, err := NewLoader(fetcher, catalog, LoaderConfig{Source: "met.no", Locations: []Location{{Name: "Arna"}, {Name: "Oslo"}}})
	require.NoError(t, err)

	require.Error(t, l.InitialLoad(context.Background()))
	_, _, err = catalog.Store(dataset.KindTemperature).GetData(dataset.NewIdentifier("met.no", "Arna"))
	require.ErrorIs(t, err, dataset.ErrDataNotReady)
}

func TestNewLoaderValidates(t *testing.T) {
	catalog := dataset.NewCatalog(8)
	_, err := NewLoader(&fakeFetcher{}, catalog, LoaderConfig{})
	require.Error(t, err)
	_, err = NewLoader(&fakeFetcher{}, catalog, LoaderConfig{Locations: []Location{{Name: "Arna"}, {Name: "Arna"}}})
	require.Error(t, err)
	_, err = NewLoader(&fakeFetcher{}, catalog, LoaderConfig{Locations: []Location{{}}})
	require.Error(t, err)
	_, err = NewLoader(nil, catalog, LoaderConfig{Locations: []Location{{Name: "Arna"}}})
	require.Error(t, err)
}

func TestHourlyIndex(t *testing.T) {
	at := func(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }
	require.Equal(t, []bool{true, true, true, false, false}, hourlyIndex([]time.Time{at(0), at(1), at(2), at(8), at(14)}, time.Hour))
	require.Equal(t, []bool{false, false}, hourlyIndex([]time.Time{at(0), at(6)}, time.Hour))
	require.Equal(t, []bool{true}, hourlyIndex([]time.Time{at(0)}, time.Hour))
	require.Empty(t, hourlyIndex(nil, time.Hour))
}
