package live

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pv/raspberry-listener-go/internal/dataset"
)

// sensorServer отвечает на запросы значениями из очереди по каждому запросу.
type sensorServer struct {
	ln net.Listener

	mu       sync.Mutex
	answers  map[string][]string
	requests []string
	done     chan struct{}
}

func startSensorServer(t *testing.T, answers map[string][]string) *sensorServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &sensorServer{ln: ln, answers: answers, done: make(chan struct{})}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *sensorServer) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer close(s.done)
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		req := strings.TrimSpace(line)
		s.mu.Lock()
		s.requests = append(s.requests, req)
		if req == CloseRequest {
			s.mu.Unlock()
			return
		}
		queue := s.answers[req]
		answer := "?"
		if len(queue) > 0 {
			answer, s.answers[req] = queue[0], queue[1:]
		}
		s.mu.Unlock()
		_, _ = conn.Write([]byte(answer + "\n"))
	}
}

func (s *sensorServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func TestClientGetValueAndClose(t *testing.T) {
	srv := startSensorServer(t, map[string][]string{"temperature": {"21.5"}})
	c, err := Dial(context.Background(), srv.ln.Addr().String(), time.Second)
	require.NoError(t, err)

	before := time.Now().UTC()
	ts, value, err := c.GetValue(context.Background(), "temperature")
	require.NoError(t, err)
	require.Equal(t, "21.5", value)
	require.False(t, ts.Before(before.Add(-time.Second)))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	select {
	case <-srv.done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not see close")
	}
	require.Equal(t, []string{"temperature", CloseRequest}, srv.seen())

	_, _, err = c.GetValue(context.Background(), "temperature")
	require.Error(t, err)
}

func TestDialEmptyAddr(t *testing.T) {
	_, err := Dial(context.Background(), " ", time.Second)
	require.Error(t, err)
}

func TestPollForwardsOnlyChanges(t *testing.T) {
	srv := startSensorServer(t, map[string][]string{
		"humidity": {"40", "40", "40", "41.0", "41", "42"},
		"cpu":      {"48.3", "bogus", "48.3", "48.3", "49.1", "49.1"},
	})
	c, err := Dial(context.Background(), srv.ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer c.Close()

	catalog := dataset.NewCatalog(8)
	targets := TargetsFor("", dataset.KindHumidity, dataset.KindCPUTemperature)
	require.NoError(t, Register(catalog, targets))
	p := &Poller{Catalog: catalog, Targets: targets}

	for i := 0; i < 6; i++ {
		require.NoError(t, p.Poll(context.Background(), c))
	}

	_, hum, err := catalog.Store(dataset.KindHumidity).GetData(targets[0].ID)
	require.NoError(t, err)
	require.Equal(t, []float64{40, 40, 41, 41, 42}, hum)

	_, cpu, err := catalog.Store(dataset.KindCPUTemperature).GetData(targets[1].ID)
	require.NoError(t, err)
	require.Equal(t, []float64{48.3, 48.3, 49.1}, cpu)
}

type failingGetter struct{}

func (failingGetter) GetValue(context.Context, string) (time.Time, string, error) {
	return time.Time{}, "", net.ErrClosed
}

func TestServeReturnsTransportError(t *testing.T) {
	catalog := dataset.NewCatalog(8)
	var closed bool
	p := &Poller{
		Catalog:  catalog,
		Targets:  TargetsFor("", dataset.KindTemperature),
		Interval: time.Millisecond,
		Dial: func(context.Context) (Getter, func() error, error) {
			return failingGetter{}, func() error { closed = true; return nil }, nil
		},
	}
	err := p.Serve(context.Background())
	require.ErrorIs(t, err, net.ErrClosed)
	require.True(t, closed)
	require.True(t, catalog.Store(dataset.KindTemperature).Has(dataset.NewIdentifier(DefaultSourceName, "temperature")))
}

func TestServerWithSimulator(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Date(2024, 6, 1, 0, 15, 0, 0, time.UTC)
	srv := &Server{Values: Simulator{Now: func() time.Time { return now }}.Value}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	c, err := Dial(context.Background(), ln.Addr().String(), time.Second)
	require.NoError(t, err)

	// 00:15: четверть часового периода, синус равен 1
	_, hum, err := c.GetValue(context.Background(), "humidity")
	require.NoError(t, err)
	require.Equal(t, "50", hum)
	_, temp, err := c.GetValue(context.Background(), "temperature")
	require.NoError(t, err)
	require.Equal(t, "23", temp)
	_, cpu, err := c.GetValue(context.Background(), "cpu")
	require.NoError(t, err)
	require.Equal(t, "51.0", cpu)
	_, unknown, err := c.GetValue(context.Background(), "pressure")
	require.NoError(t, err)
	require.Equal(t, UnknownResponse, unknown)
	require.NoError(t, c.Close())

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestPollerAgainstSimulator(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := &Server{Values: Simulator{Now: func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }}.Value}
	go func() { _ = srv.Serve(ctx, ln) }()

	catalog := dataset.NewCatalog(8)
	p := &Poller{
		Addr:     ln.Addr().String(),
		Timeout:  time.Second,
		Interval: 5 * time.Millisecond,
		Catalog:  catalog,
		Targets:  TargetsFor("", dataset.KindHumidity),
	}
	pollCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- p.Serve(pollCtx) }()

	id := dataset.NewIdentifier(DefaultSourceName, "humidity")
	require.Eventually(t, func() bool {
		_, vs, err := catalog.Store(dataset.KindHumidity).GetData(id)
		return err == nil && len(vs) == 1
	}, 2*time.Second, 5*time.Millisecond)
	stop()
	require.ErrorIs(t, <-done, context.Canceled)

	// постоянное значение не дописывается повторно
	_, vs, err := catalog.Store(dataset.KindHumidity).GetData(id)
	require.NoError(t, err)
	require.Equal(t, []float64{45}, vs)
}
