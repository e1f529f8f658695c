package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
)

// HTTPServer: часть *http.Server, нужная сервису.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService запускает HTTP-сервер под супервизором и останавливает его по ctx.
type HTTPService struct {
	Server          HTTPServer
	ShutdownTimeout time.Duration
	Name            string
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("supervisor: http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		timeout := h.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := h.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("supervisor: http shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	if h.Name != "" {
		return h.Name
	}
	return "http-server"
}

// OneShot: сервис, штатное завершение которого окончательно:
// nil превращается в suture.ErrDoNotRestart.
type OneShot struct {
	suture.Service
}

func (o OneShot) Serve(ctx context.Context) error {
	err := o.Service.Serve(ctx)
	if err == nil {
		return suture.ErrDoNotRestart
	}
	return err
}

func (o OneShot) String() string {
	if s, ok := o.Service.(fmt.Stringer); ok {
		return s.String()
	}
	return "one-shot"
}
