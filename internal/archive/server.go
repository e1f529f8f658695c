package archive

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/pv/raspberry-listener-go/internal/logging"
)

// Handler: HTTP API архива поверх Source:
//
//	GET  /archive/{format}/              весь архив
//	POST /archive/{format}/?start=<ts>   начиная с ts (ts также принимается JSON-строкой в теле)
//
// format: parquet или json.
type Handler struct {
	source Source
	log    zerolog.Logger
}

// NewHandler создаёт обработчик и регистрирует маршруты на chi-роутере.
func NewHandler(source Source) http.Handler {
	h := &Handler{source: source, log: logging.With("archive-server")}
	r := chi.NewRouter()
	for _, pattern := range []string{"/archive/{format}/", "/archive/{format}"} {
		r.Get(pattern, h.serve)
		r.Post(pattern, h.serve)
	}
	return r
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeDetail(w, http.StatusNotFound, err.Error())
		return
	}

	var since time.Time
	if r.Method == http.MethodPost {
		since, err = startFromRequest(r)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	mode := ModeFull
	if format == FormatJSON {
		mode = ModeIncremental
	}
	start := time.Now()
	payload, err := h.source.Fetch(r.Context(), Request{Mode: mode, Since: since})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrArchiveUnavailable) {
			status = http.StatusServiceUnavailable
		}
		h.log.Warn().Err(err).Str("format", string(format)).Msg("archive fetch failed")
		writeDetail(w, status, err.Error())
		return
	}

	switch format {
	case FormatParquet:
		w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload.Body)
	h.log.Debug().
		Str("format", string(format)).
		Time("since", since).
		Int("bytes", len(payload.Body)).
		Dur("elapsed", time.Since(start)).
		Msg("archive served")
}

func startFromRequest(r *http.Request) (time.Time, error) {
	if raw := r.URL.Query().Get("start"); raw != "" {
		return ParseTimestamp(raw)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		return time.Time{}, err
	}
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return time.Time{}, nil
	}
	var raw string
	if err := json.Unmarshal(body, &raw); err != nil {
		return time.Time{}, err
	}
	return ParseTimestamp(raw)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
