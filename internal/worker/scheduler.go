package worker

import (
	"context"
	"errors"
	"time"

	"github.com/pv/raspberry-listener-go/internal/logging"
)

// Scheduler запускает обновления по таймеру. Таймер одноразовый и
// перезаводится только после события завершения предыдущего цикла,
// поэтому медленный архив не копит очередь запусков.
type Scheduler struct {
	Worker   *Worker
	Interval time.Duration
	// OnCompletion вызывается на каждое событие, в том числе для ручных запусков.
	OnCompletion func(Completion)
	// Name: имя сервиса в супервизоре, по умолчанию sync-scheduler.
	Name string
}

// Serve читает события worker до закрытия канала или отмены ctx.
func (s *Scheduler) Serve(ctx context.Context) error {
	log := logging.With("scheduler")
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var tick <-chan time.Time

	events := s.Worker.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-events:
			if !ok {
				log.Debug().Msg("worker events closed")
				return nil
			}
			if s.OnCompletion != nil {
				s.OnCompletion(c)
			}
			if s.Interval > 0 {
				timer.Reset(s.Interval)
				tick = timer.C
			}
		case <-tick:
			tick = nil
			switch err := s.Worker.Trigger(); {
			case err == nil:
			case errors.Is(err, ErrBusy):
				// ручной запуск: таймер перезаведётся по его событию
				log.Debug().Msg("cycle already running, timer skipped")
			case errors.Is(err, ErrClosed):
				return nil
			default:
				return err
			}
		}
	}
}

func (s *Scheduler) String() string {
	if s.Name != "" {
		return s.Name
	}
	return "sync-scheduler"
}
