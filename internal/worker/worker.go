package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/metrics"
)

var (
	// ErrBusy: цикл уже выполняется, новый запуск не ставится в очередь.
	ErrBusy = errors.New("worker: cycle already running")
	// ErrClosed: worker остановлен или у него нет функции обновления.
	ErrClosed = errors.New("worker: closed")
)

const eventsBuffer = 16

// Func: одна операция цикла. Блокирующие вызовы должны уважать ctx.
type Func func(ctx context.Context) error

// Completion: событие завершения цикла. Получение события из канала
// гарантирует, что все записи цикла в хранилище уже видны.
type Completion struct {
	ID       uuid.UUID
	Initial  bool
	Started  time.Time
	Finished time.Time
	Err      error
}

// Duration возвращает длительность цикла.
func (c Completion) Duration() time.Duration { return c.Finished.Sub(c.Started) }

// Worker выполняет загрузку и обновления на одной фоновой горутине.
// Одновременно выполняется не больше одного цикла.
type Worker struct {
	initial Func
	update  Func
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	trigger chan struct{}
	events  chan Completion
	done    chan struct{}

	busy      atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// New запускает горутину и сразу выполняет initial. update может быть nil:
// тогда горутина завершается после первичной загрузки.
func New(initial, update Func) (*Worker, error) {
	if initial == nil {
		return nil, fmt.Errorf("worker: initial load func is nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		initial: initial,
		update:  update,
		log:     logging.With("worker"),
		ctx:     ctx,
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
		events:  make(chan Completion, eventsBuffer),
		done:    make(chan struct{}),
	}
	w.busy.Store(true)
	go w.run()
	return w, nil
}

// Events возвращает канал событий завершения. Канал закрывается при выходе горутины.
func (w *Worker) Events() <-chan Completion { return w.events }

// Done закрывается при выходе горутины.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Busy сообщает, выполняется ли сейчас цикл.
func (w *Worker) Busy() bool { return w.busy.Load() }

// Trigger запрашивает один цикл обновления.
func (w *Worker) Trigger() error {
	if w.update == nil || w.closed.Load() {
		return ErrClosed
	}
	if !w.busy.CompareAndSwap(false, true) {
		metrics.SyncBusyRejected.Inc()
		return ErrBusy
	}
	select {
	case w.trigger <- struct{}{}:
		return nil
	default:
		w.busy.Store(false)
		metrics.SyncBusyRejected.Inc()
		return ErrBusy
	}
}

// Close останавливает горутину и ждёт её выхода. Выполняющийся цикл получает отмену ctx.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.cancel()
	})
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	defer close(w.events)

	w.runCycle(true, w.initial)
	if w.update == nil {
		w.closed.Store(true)
		w.log.Debug().Msg("no update func, worker exits after initial load")
		return
	}
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.trigger:
			w.runCycle(false, w.update)
		}
	}
}

func (w *Worker) runCycle(initial bool, fn Func) {
	c := Completion{ID: uuid.New(), Initial: initial, Started: time.Now()}
	c.Err = w.call(fn)
	c.Finished = time.Now()
	w.busy.Store(false)

	ev := w.log.Debug()
	if c.Err != nil {
		ev = w.log.Warn().Err(c.Err)
	}
	ev.Str("cycle", c.ID.String()).Bool("initial", initial).Dur("elapsed", c.Duration()).Msg("cycle finished")

	select {
	case w.events <- c:
	case <-w.ctx.Done():
	}
}

// call выполняет fn; паника превращается в ошибку цикла.
func (w *Worker) call(fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: cycle panic: %v", r)
		}
	}()
	return fn(w.ctx)
}
