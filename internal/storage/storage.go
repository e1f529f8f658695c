package storage

import (
	"context"
	"errors"
	"time"
)

// Reading — одна строка архива датчиков Raspberry Pi.
type Reading struct {
	SensorType string
	Sensor     string
	Timestamp  time.Time
	Value      float64
	Unit       string
}

// StreamRequest задаёт параметры подгрузки истории.
// Интервал полуоткрытый: [From, To). Пустой Sensors — все датчики.
type StreamRequest struct {
	Sensors []string
	From    time.Time
	To      time.Time
	Window  time.Duration
}

// Storage — интерфейс чтения архива из конкретного хранилища (SQLite, Postgres, ClickHouse).
type Storage interface {
	// Stream запускает потоковую подгрузку показаний окнами по времени.
	Stream(ctx context.Context, req StreamRequest) (<-chan []Reading, <-chan error)
	// Range возвращает минимальный и максимальный timestamp и число строк в [from, to].
	// Нулевые from/to снимают ограничение.
	Range(ctx context.Context, from, to time.Time) (time.Time, time.Time, int64, error)
	Close()
}

// Writer — хранилище, в которое можно дописывать показания (генераторы, тесты).
type Writer interface {
	Insert(ctx context.Context, readings []Reading) error
}

// WindowQuery читает одно окно [from, to).
type WindowQuery func(ctx context.Context, from, to time.Time) ([]Reading, error)

// StreamWindows — общий цикл Stream для бэкендов: идёт курсором от req.From до req.To
// окнами req.Window (или defaultWindow) и отправляет непустые пачки.
func StreamWindows(ctx context.Context, req StreamRequest, defaultWindow time.Duration, query WindowQuery) (<-chan []Reading, <-chan error) {
	dataCh := make(chan []Reading)
	errCh := make(chan error, 1)

	go func() {
		defer close(dataCh)
		defer close(errCh)

		window := req.Window
		if window <= 0 {
			window = defaultWindow
		}

		cursor := req.From
		for cursor.Before(req.To) {
			if err := ctx.Err(); err != nil {
				errCh <- err
				return
			}
			next := cursor.Add(window)
			if next.After(req.To) {
				next = req.To
			}

			chunk, err := query(ctx, cursor, next)
			if err != nil {
				errCh <- err
				return
			}
			if len(chunk) > 0 {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case dataCh <- chunk:
				}
			}
			if !next.After(cursor) {
				break
			}
			cursor = next
		}
	}()

	return dataCh, errCh
}

// Collect вычитывает весь поток в один срез.
func Collect(ctx context.Context, st Storage, req StreamRequest) ([]Reading, error) {
	dataCh, errCh := st.Stream(ctx, req)
	var out []Reading
	for chunk := range dataCh {
		out = append(out, chunk...)
	}
	if err, ok := <-errCh; ok && err != nil {
		return out, err
	}
	return out, nil
}

// ErrEmpty — в хранилище нет строк в запрошенном интервале.
var ErrEmpty = errors.New("storage: no readings")

// ReadSince читает все показания начиная с since (включительно). Нулевой since — весь архив.
func ReadSince(ctx context.Context, st Storage, since time.Time, window time.Duration) ([]Reading, error) {
	minTs, maxTs, count, err := st.Range(ctx, since, time.Time{})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrEmpty
	}
	from := since
	if from.IsZero() || minTs.After(from) {
		from = minTs
	}
	return Collect(ctx, st, StreamRequest{
		From:   from,
		To:     maxTs.Add(time.Microsecond),
		Window: window,
	})
}
