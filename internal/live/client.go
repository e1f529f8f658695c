package live

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pv/raspberry-listener-go/internal/logging"
)

// CloseRequest завершает сессию на стороне датчиков.
const CloseRequest = "close"

const (
	defaultTimeout = 5 * time.Second
	maxResponse    = 1024
)

// ErrEmptyResponse: сокет вернул пустую строку.
var ErrEmptyResponse = errors.New("live: empty response")

// Getter запрашивает одно текущее значение.
type Getter interface {
	GetValue(ctx context.Context, request string) (time.Time, string, error)
}

// Client: TCP-клиент сокета датчиков Raspberry Pi: запрос строкой с "\n",
// ответ одной строкой. Время ответа фиксируется на стороне клиента.
type Client struct {
	addr    string
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

// Dial подключается к сокету датчиков.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("live: address is empty")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("live: dial %s: %w", addr, err)
	}
	return &Client{
		addr:    addr,
		timeout: timeout,
		log:     logging.With("live").With().Str("addr", addr).Logger(),
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, maxResponse),
	}, nil
}

// GetValue отправляет запрос и читает одну строку ответа.
func (c *Client) GetValue(ctx context.Context, request string) (time.Time, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return time.Time{}, "", fmt.Errorf("live: client closed")
	}
	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return time.Time{}, "", fmt.Errorf("live: set deadline: %w", err)
	}
	if err := c.send(request); err != nil {
		return time.Time{}, "", err
	}
	line, err := c.reader.ReadString('\n')
	ts := time.Now().UTC()
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return time.Time{}, "", fmt.Errorf("live: read %q: %w", request, err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return time.Time{}, "", fmt.Errorf("live: %q: %w", request, ErrEmptyResponse)
	}
	return ts, value, nil
}

// Close отправляет "close" и закрывает соединение. Повторный вызов ничего не делает.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	if err := c.send(CloseRequest); err != nil {
		c.log.Debug().Err(err).Msg("close request not delivered")
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("live: close: %w", err)
	}
	return nil
}

func (c *Client) send(request string) error {
	if _, err := io.WriteString(c.conn, request+"\n"); err != nil {
		return fmt.Errorf("live: write %q: %w", request, err)
	}
	return nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}
