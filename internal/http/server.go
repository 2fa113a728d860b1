package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/internal/live"
	"github.com/TashaKaslana/Zenflow-sub001/internal/log"
	"github.com/TashaKaslana/Zenflow-sub001/internal/stream"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/storage"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"
)

const (
	maxBodyBytes  = 4 << 20
	defaultLimit  = 100
	maxQueryLimit = 10000
)

// Telemetry is the part of *telemetry.Pipeline the server drives.
type Telemetry interface {
	Dispatch(entry *models.LogEntry) bool
	StartRun(runID string)
	EndRun(runID string) bool
	Recent(runID string, limit int) []*models.LogEntry
	Runs() []models.RunInfo
	Stats() telemetry.Stats
}

// StreamReader reads the republished per-run stream.
type StreamReader interface {
	Read(runID string, fromSeq uint64, limit int) ([]stream.Record, error)
}

// PendingCounter reports how many batches wait in the dead-letter spool.
type PendingCounter interface {
	Len() (int, error)
}

// Options are the collaborators of a Server. Telemetry is required.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Telemetry  Telemetry
	Logs       storage.Reader
	Hub        *live.Hub
	Stream     StreamReader
	DeadLetter PendingCounter
	Logger     *logrus.Entry
}

// Server exposes ingest, query and live endpoints over the pipeline.
type Server struct {
	opts   Options
	logger *logrus.Entry
	router chi.Router
	parser fastjson.ParserPool
}

// NewServer builds the router. It does not start listening.
func NewServer(opts Options) (*Server, error) {
	if opts.Telemetry == nil {
		return nil, errors.New("http server requires telemetry")
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Component("http")
	}
	s := &Server{opts: opts, logger: logger}
	s.router = s.buildRouter()
	return s, nil
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.writeDeadline)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/logs", s.handleIngest)
	r.Get("/runs", s.handleRuns)
	r.Route("/runs/{runID}", func(r chi.Router) {
		r.Post("/start", s.handleStartRun)
		r.Post("/end", s.handleEndRun)
		r.Get("/logs", s.handlePersistedLogs)
		r.Get("/logs/recent", s.handleRecentLogs)
		r.Get("/stream", s.handleStream)
		r.Get("/live", s.handleLive)
	})
	return r
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		// Set per request by writeDeadline; live connections manage their own.
		WriteTimeout: 0,
		IdleTimeout:  2 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting Zenflow server on %s", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

func (s *Server) writeDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.WriteTimeout > 0 && !strings.HasSuffix(r.URL.Path, "/live") {
			_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type liveStats struct {
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

type statsResponse struct {
	Pipeline          telemetry.Stats `json:"pipeline"`
	Live              *liveStats      `json:"live,omitempty"`
	DeadLetterPending *int            `json:"dead_letter_pending,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Pipeline: s.opts.Telemetry.Stats()}
	if s.opts.Hub != nil {
		delivered, dropped := s.opts.Hub.Stats()
		resp.Live = &liveStats{Subscribers: s.opts.Hub.Subscribers(), Delivered: delivered, Dropped: dropped}
	}
	if s.opts.DeadLetter != nil {
		n, err := s.opts.DeadLetter.Len()
		if err != nil {
			s.logger.WithError(err).Warn("Failed to count dead letter segments")
		} else {
			resp.DeadLetterPending = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large or unreadable")
		return
	}
	p := s.parser.Get()
	defer s.parser.Put(p)

	entries, problems, err := parseIngest(p, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := IngestResult{Rejected: len(problems), Errors: problems}
	for _, e := range entries {
		if s.opts.Telemetry.Dispatch(e) {
			res.Accepted++
		} else {
			res.Dropped++
		}
	}
	status := http.StatusAccepted
	if res.Accepted == 0 && res.Rejected > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Telemetry.Runs())
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	s.opts.Telemetry.StartRun(runID)
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": string(models.ActiveRunStatus)})
}

func (s *Server) handleEndRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.opts.Telemetry.EndRun(runID) {
		writeError(w, http.StatusNotFound, "run not active")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": string(models.EndedRunStatus)})
}

// queryParams reads limit and filter. limit defaults to defaultLimit.
func queryParams(r *http.Request) (int, *LogFilter, error) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, nil, errors.Errorf("invalid limit %q", raw)
		}
		limit = n
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	filter, err := CompileFilter(r.URL.Query().Get("filter"))
	if err != nil {
		return 0, nil, err
	}
	return limit, filter, nil
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	limit, filter, err := queryParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := s.opts.Telemetry.Recent(chi.URLParam(r, "runID"), limit)
	writeJSON(w, http.StatusOK, filter.Apply(entries))
}

func (s *Server) handlePersistedLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		writeError(w, http.StatusNotImplemented, "persisted log queries are not configured")
		return
	}
	limit, filter, err := queryParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID := chi.URLParam(r, "runID")
	// Filtering happens after the read, so fetch everything when filtering.
	fetch := limit
	if filter != nil {
		fetch = 0
	}
	entries, err := s.opts.Logs.ListRunLogs(r.Context(), runID, fetch)
	if errors.Cause(err) == storage.ErrNotFound {
		writeError(w, http.StatusNotFound, "no logs for run "+runID)
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("run_id", runID).Error("Failed to list run logs")
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	entries = filter.Apply(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stream == nil {
		writeError(w, http.StatusNotImplemented, "stream is not enabled")
		return
	}
	limit, _, err := queryParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var from uint64
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
	}
	runID := chi.URLParam(r, "runID")
	records, err := s.opts.Stream.Read(runID, from, limit)
	if err != nil {
		s.logger.WithError(err).WithField("run_id", runID).Error("Failed to read stream")
		writeError(w, http.StatusInternalServerError, "failed to read stream")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.opts.Hub == nil {
		writeError(w, http.StatusNotImplemented, "live view is not enabled")
		return
	}
	limit, filter, err := queryParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID := chi.URLParam(r, "runID")
	var backlog func() []*models.LogEntry
	if runID != live.Wildcard {
		backlog = func() []*models.LogEntry {
			return filter.Apply(s.opts.Telemetry.Recent(runID, limit))
		}
	}
	s.opts.Hub.ServeWS(w, r, runID, backlog, filter.Match)
}
