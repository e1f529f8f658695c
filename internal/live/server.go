package live

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pv/raspberry-listener-go/internal/dataset"
	"github.com/pv/raspberry-listener-go/internal/logging"
)

// UnknownResponse: ответ на запрос без значения.
const UnknownResponse = "?"

// ValueFunc возвращает текущее значение для запроса; false: запрос не поддерживается.
type ValueFunc func(request string) (string, bool)

// Server: сокет датчиков: построчные запросы, одна строка ответа на запрос.
// "close" завершает соединение.
type Server struct {
	Values ValueFunc
	// IdleTimeout закрывает молчащее соединение (по умолчанию 1 минута).
	IdleTimeout time.Duration

	wg sync.WaitGroup
}

// Serve принимает соединения до отмены ctx и ждёт завершения обработчиков.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.Values == nil {
		return fmt.Errorf("live: server values func is nil")
	}
	log := logging.With("live-server")
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("live: accept: %w", err)
		}
		log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	idle := s.IdleTimeout
	if idle <= 0 {
		idle = time.Minute
	}
	r := bufio.NewReaderSize(conn, maxResponse)
	for {
		_ = conn.SetDeadline(time.Now().Add(idle))
		line, err := r.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return
		}
		req := strings.TrimSpace(line)
		if req == CloseRequest {
			return
		}
		answer, ok := s.Values(req)
		if !ok {
			answer = UnknownResponse
		}
		if _, err := io.WriteString(conn, answer+"\n"); err != nil {
			return
		}
	}
}

// Simulator выдаёт правдоподобные значения датчиков Raspberry Pi: медленная
// синусоида с периодом Period, влажность целая, температура с шагом 1/16.
type Simulator struct {
	Now    func() time.Time
	Period time.Duration
}

// Value реализует ValueFunc.
func (s Simulator) Value(request string) (string, bool) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	period := s.Period
	if period <= 0 {
		period = time.Hour
	}
	phase := 2 * math.Pi * float64(now().UnixNano()%int64(period)) / float64(period)
	for _, k := range dataset.Kinds() {
		if k.Request() != request {
			continue
		}
		switch k {
		case dataset.KindHumidity:
			return strconv.Itoa(int(math.Round(45 + 5*math.Sin(phase)))), true
		case dataset.KindCPUTemperature:
			return strconv.FormatFloat(math.Round((48+3*math.Sin(phase))*10)/10, 'f', 1, 64), true
		default:
			return strconv.FormatFloat(math.Round((21+2*math.Sin(phase))*16)/16, 'f', -1, 64), true
		}
	}
	return "", false
}
