package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/pv/raspberry-listener-go/internal/logging"
)

// TreeConfig: параметры перезапуска сервисов.
type TreeConfig struct {
	// FailureThreshold: число сбоев до паузы (по умолчанию 5).
	FailureThreshold float64
	// FailureDecay: скорость забывания сбоев в секундах (по умолчанию 30).
	FailureDecay float64
	// FailureBackoff: пауза после превышения порога (по умолчанию 15s).
	FailureBackoff time.Duration
	// ShutdownTimeout: ожидание остановки сервиса (по умолчанию 10s).
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig возвращает значения suture по умолчанию.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree: дерево супервизоров слушателя:
//
//	sync: планировщик синхронизации архива и опрос сокета
//	api : HTTP-сервер
//
// Сбой опроса сокета не останавливает HTTP API.
type Tree struct {
	root   *suture.Supervisor
	sync   *suture.Supervisor
	api    *suture.Supervisor
	config TreeConfig
}

// NewTree создаёт дерево. Нулевые поля config заменяются значениями по умолчанию.
func NewTree(config TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = EventHook(logging.With("supervisor"))

	root := suture.New("raspberry-listener", rootSpec)
	syncLayer := suture.New("sync-layer", spec)
	apiLayer := suture.New("api-layer", spec)
	root.Add(syncLayer)
	root.Add(apiLayer)

	return &Tree{root: root, sync: syncLayer, api: apiLayer, config: config}
}

// AddSyncService добавляет сервис в слой синхронизации.
func (t *Tree) AddSyncService(svc suture.Service) suture.ServiceToken {
	return t.sync.Add(svc)
}

// AddAPIService добавляет сервис в слой API.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve блокируется до отмены ctx.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground запускает дерево в фоне.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// EventHook пишет события suture в zerolog.
func EventHook(log zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		var ev *zerolog.Event
		switch e.Type() {
		case suture.EventTypeServicePanic:
			ev = log.Error()
		case suture.EventTypeServiceTerminate, suture.EventTypeBackoff, suture.EventTypeStopTimeout:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}
