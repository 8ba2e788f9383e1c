package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/enso/internal/auth"
	"github.com/ashita-ai/enso/internal/dispatch"
	"github.com/ashita-ai/enso/internal/model"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine              *dispatch.Engine
	authMgr             *auth.Manager
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	ready               *atomic.Bool
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Engine              *dispatch.Engine
	AuthMgr             *auth.Manager
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	Ready               *atomic.Bool
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		engine:              d.Engine,
		authMgr:             d.AuthMgr,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		ready:               d.Ready,
	}
}

type authTokenRequest struct {
	APIKey string `json:"api_key"`
}

type authTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleAuthToken handles POST /auth/token: API key in, JWT out.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !h.authMgr.Enabled() {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication not configured")
		return
	}

	var req authTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, err.Error())
		return
	}

	token, expiresAt, err := h.authMgr.ExchangeKey(req.APIKey)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, r, http.StatusOK, authTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleRun handles POST /v1/programs/{name}: execute a program with
// the JSON body as inputs and return the result. An empty body means
// empty inputs.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	inputs := map[string]any{}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &inputs, h.maxRequestBodyBytes); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, err.Error())
			return
		}
	}

	result, err := h.engine.Execute(r.Context(), name, inputs)
	if err != nil && !isExecutionError(err) {
		h.writeDispatchError(w, r, err)
		return
	}

	// Execution failures still carry a full result: the run happened,
	// was traced and logged, and the caller gets the details.
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, r, status, result)
}

// HandleListPrograms handles GET /v1/programs.
func (h *Handlers) HandleListPrograms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"programs": h.engine.Registry().List(),
	})
}

// HandleGetTrace handles GET /v1/traces/{request_id}.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(r.PathValue("request_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "request_id must be a UUID")
		return
	}

	trace, err := h.engine.ReadTrace(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
			return
		}
		h.logger.Error("read trace", "request_id", requestID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load trace")
		return
	}

	writeJSON(w, r, http.StatusOK, trace)
}

// HandleMetrics handles GET /v1/metrics: all programs, busiest first.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"metrics": h.engine.Metrics().SnapshotAll(),
	})
}

// HandleMetricsProgram handles GET /v1/metrics/{program}.
func (h *Handlers) HandleMetricsProgram(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("program")
	if _, _, err := h.engine.Registry().Resolve(name); err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown program: "+name)
		return
	}
	writeJSON(w, r, http.StatusOK, h.engine.Metrics().Snapshot(name))
}

// HandleHealthLive handles GET /health/live.
func (h *Handlers) HandleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "alive",
		"version": h.version,
		"uptime":  int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleHealthReady handles GET /health/ready. Readiness flips on
// once every component has started and off again during shutdown.
func (h *Handlers) HandleHealthReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready.Load() {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternal, "not ready")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":   "ready",
		"version":  h.version,
		"programs": h.engine.Registry().Len(),
	})
}

// writeDispatchError maps engine errors onto HTTP statuses.
func (h *Handlers) writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown program")
		return
	}

	var admErr *model.AdmissionError
	if errors.As(err, &admErr) {
		seconds := int64(admErr.RetryAfter / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		writeErrorDetail(w, r, http.StatusTooManyRequests, model.ErrorDetail{
			Code:              model.ErrCodeAdmissionExhausted,
			Message:           admErr.Error(),
			RetryAfterSeconds: seconds,
		})
		return
	}

	if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
		// Client is gone; the status code is for the access log only.
		writeError(w, r, statusClientClosedRequest, model.ErrCodeInternal, "request cancelled")
		return
	}

	h.logger.Error("dispatch error", "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal server error")
}

// statusClientClosedRequest is nginx's non-standard 499.
const statusClientClosedRequest = 499

func isExecutionError(err error) bool {
	var ee *model.ExecutionError
	return errors.As(err, &ee)
}
