package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pv/raspberry-listener-go/internal/archive"
	"github.com/pv/raspberry-listener-go/internal/dataset"
	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/worker"
)

// Server реализует HTTP API чтения наборов данных и управления синхронизацией.
type Server struct {
	catalog *dataset.Catalog
	manager *Manager
	hub     *EventHub
	router  chi.Router
	log     zerolog.Logger
}

// NewServer создаёт сервер с зарегистрированными маршрутами. manager и hub могут быть nil.
func NewServer(catalog *dataset.Catalog, manager *Manager, hub *EventHub) *Server {
	s := &Server{
		catalog: catalog,
		manager: manager,
		hub:     hub,
		router:  chi.NewRouter(),
		log:     logging.With("http"),
	}
	s.routes()
	return s
}

// Handler возвращает корневой обработчик.
func (s *Server) Handler() http.Handler { return s.router }

// HTTPServer собирает *http.Server для запуска под супервизором.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(withCORS)
		r.Get("/datasets", s.handleDatasets)
		r.Get("/datasets/by-id/{id}", s.handleDatasetByID)
		r.Get("/datasets/{kind}/{source}/{name}", s.handleDataset)
		r.Get("/status", s.handleStatus)
		r.Post("/sync", s.handleSync)
	})
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	list := ListDatasets(s.catalog)
	if list == nil {
		list = []DatasetInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": list})
}

type datasetResponse struct {
	DatasetInfo
	Timestamps []time.Time `json:"timestamps"`
	Values     []float64   `json:"values"`
}

// handleDataset отдаёт серию набора. ?since=<ts>: только точки новее ts,
// чтобы клиент перерисовывал график лишь при появлении новых данных.
func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	kind, err := dataset.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	id := dataset.NewIdentifier(chi.URLParam(r, "source"), chi.URLParam(r, "name"))
	st, ok := s.catalog.Lookup(kind)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s %s", dataset.ErrUnknownDataset, kind, id))
		return
	}
	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := seriesResponse(st, id, since)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDatasetByID отдаёт серии идентификатора по его hash (поле id в списке
// наборов) для всех величин, где он зарегистрирован. ?kind= сужает выдачу
// до одной величины, ?since= работает как в handleDataset.
func (s *Server) handleDatasetByID(w http.ResponseWriter, r *http.Request) {
	hash, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid dataset id: %w", err))
		return
	}
	var only dataset.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		if only, err = dataset.ParseKind(raw); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, kinds, ok := s.catalog.ByHash(hash)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: id %d", dataset.ErrUnknownDataset, hash))
		return
	}
	out := make([]datasetResponse, 0, len(kinds))
	for _, kind := range kinds {
		if only.Valid() && kind != only {
			continue
		}
		st, _ := s.catalog.Lookup(kind)
		resp, err := seriesResponse(st, id, since)
		if errors.Is(err, dataset.ErrDataNotReady) {
			continue
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		out = append(out, resp)
	}
	if len(out) == 0 {
		if only.Valid() && !containsKind(kinds, only) {
			writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s %s", dataset.ErrUnknownDataset, only, id))
			return
		}
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%s: %w", id, dataset.ErrDataNotReady))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": id.Source, "name": id.Name, "datasets": out})
}

func parseSince(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, nil
	}
	since, err := archive.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since: %w", err)
	}
	return since, nil
}

func seriesResponse(st *dataset.Store, id dataset.Identifier, since time.Time) (datasetResponse, error) {
	ts, vs, err := st.GetData(id)
	if err != nil {
		return datasetResponse{}, err
	}
	start := 0
	if !since.IsZero() {
		for start < len(ts) && !ts[start].After(since) {
			start++
		}
	}
	kind := st.Kind()
	resp := datasetResponse{
		DatasetInfo: DatasetInfo{
			ID:     id.Hash(),
			Kind:   kind.String(),
			Unit:   kind.Unit(),
			Source: id.Source,
			Name:   id.Name,
			Length: len(ts),
		},
		Timestamps: ts[start:],
		Values:     vs[start:],
	}
	if len(ts) > 0 {
		resp.LastTS = ts[len(ts)-1]
	}
	return resp, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dataset.ErrUnknownDataset):
		return http.StatusNotFound
	case errors.Is(err, dataset.ErrDataNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func containsKind(kinds []dataset.Kind, k dataset.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeJSON(w, http.StatusOK, Status{Status: "idle"})
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeError(w, http.StatusServiceUnavailable, worker.ErrClosed)
		return
	}
	err := s.manager.Trigger()
	switch {
	case err == nil:
		s.log.Info().Msg("manual sync triggered")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
	case errors.Is(err, worker.ErrBusy):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, worker.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "websocket hub not configured", http.StatusServiceUnavailable)
		return
	}
	s.hub.ServeWS(w, r)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
