package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"workboard/api/internal/board"
	"workboard/api/internal/logging"
	"workboard/api/internal/metrics"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logging.Logger
	metrics    *metrics.Metrics
	limiter    *ipLimiter
	keepAlive  time.Duration
}

type HTTPOption func(*HTTPServer)

// WithRateLimit throttles write requests per client IP. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(s *HTTPServer) {
		if rps > 0 {
			s.limiter = newIPLimiter(rps, burst)
		}
	}
}

// WithMetrics serves /metrics and records per-route request metrics.
func WithMetrics(m *metrics.Metrics) HTTPOption {
	return func(s *HTTPServer) { s.metrics = m }
}

func WithHTTPLogger(logger *logging.Logger) HTTPOption {
	return func(s *HTTPServer) {
		if logger != nil {
			s.log = logger
		}
	}
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...HTTPOption) *HTTPServer {
	s := &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        logging.Nop(),
		keepAlive:  25 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("http")
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.Methods(http.MethodGet, http.MethodHead).Path("/api/health").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodGet, http.MethodHead).Path("/api/ready").HandlerFunc(s.handleReady)
	if s.metrics != nil {
		r.Methods(http.MethodGet).Path("/metrics").Handler(s.metrics.Handler())
	}

	r.Methods(http.MethodPut).Path("/board/{ws}").Handler(s.limitWrites(http.HandlerFunc(s.handleEnsureWorkspace)))
	r.Methods(http.MethodGet).Path("/board/{ws}/periods").HandlerFunc(s.handleListPeriods)
	r.Methods(http.MethodGet).Path("/board/{ws}/periods/events").HandlerFunc(s.handlePeriodEvents)
	r.Methods(http.MethodGet).Path("/board/{ws}/search").HandlerFunc(s.handleSearch)
	r.Methods(http.MethodGet).Path("/board/{ws}/{pid}").HandlerFunc(s.handleFetchBoard)
	r.Methods(http.MethodPost).Path("/board/{ws}/{pid}").Handler(s.limitWrites(http.HandlerFunc(s.handleAction)))
	r.Methods(http.MethodGet).Path("/board/{ws}/{pid}/events").HandlerFunc(s.handleBoardEvents)
	r.Methods(http.MethodPost).Path("/board/{ws}/{pid}/archive").Handler(s.limitWrites(http.HandlerFunc(s.handleArchive)))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, ping := range map[string]func(context.Context) error{
		"database": s.service.Ping,
		"live":     s.service.PingBroker,
	} {
		if err := ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	checks["search"] = map[string]any{"status": "ok", "backend": s.service.SearchBackend()}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleEnsureWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.service.EnsureWorkspace(r.Context(), mux.Vars(r)["ws"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := s.service.ListPeriods(r.Context(), mux.Vars(r)["ws"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if periods == nil {
		periods = []board.Period{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "periods": periods})
}

func (s *HTTPServer) handleFetchBoard(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snapshot, err := s.service.FetchBoard(r.Context(), vars["ws"], vars["pid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tasks": snapshot.Tasks, "members": snapshot.Members})
}

func (s *HTTPServer) handleAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, "invalid JSON body", nil)
		return
	}
	cmd, err := board.DecodeCommand(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	vars := mux.Vars(r)
	result, err := s.service.Apply(r.Context(), vars["ws"], vars["pid"], cmd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := map[string]any{"ok": true}
	if result.ID != "" {
		response["id"] = result.ID
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}
	resp := s.service.Search(r.Context(), mux.Vars(r)["ws"], query.Get("q"), limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
	})
}

func (s *HTTPServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, err := s.service.Archive(r.Context(), vars["ws"], vars["pid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}

func (s *HTTPServer) handlePeriodEvents(w http.ResponseWriter, r *http.Request) {
	updates, err := s.service.WatchPeriods(r.Context(), mux.Vars(r)["ws"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	streamEvents(w, r, eventPeriods, updates, s.keepAlive)
}

func (s *HTTPServer) handleBoardEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	updates, err := s.service.WatchBoard(r.Context(), vars["ws"], vars["pid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	streamEvents(w, r, eventBoard, updates, s.keepAlive)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithRequestID(requestIDFrom(r.Context())).WithError(err).Errorw("request failed", "path", r.URL.Path)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.LogHTTPRequest(requestID, r.Method, r.URL.Path, writer.status, time.Since(started).Milliseconds())
	})
}

// instrument records request metrics against the matched route template so
// label cardinality stays bounded.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveRequest(r.Method, route, writer.status, time.Since(started))
	})
}

func (s *HTTPServer) limitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer's Flush.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"ok":    false,
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
