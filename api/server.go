// Package api implements the coordinator's admin HTTP surface: health,
// metrics, point-in-time stats, job submission, and a live SSE event
// stream. It never handles the worker wire protocol; that lives in
// session.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/taskmesh/cluster/dispatch"
	"github.com/taskmesh/cluster/events"
	"github.com/taskmesh/cluster/internal/observability"
	"github.com/taskmesh/cluster/internal/validation"
)

// AdminAPIServer exposes the coordinator's observability and control
// surface over HTTP. It holds no worker-protocol state of its own; every
// handler simply reads from or calls into the dispatcher.
type AdminAPIServer struct {
	dispatcher *dispatch.Dispatcher
	hub        *events.Hub
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	jobLimiter *rate.Limiter
	logger     zerolog.Logger
}

// NewAdminAPIServer wires a dispatcher, event hub, health checker, and
// metrics registry into an admin API server. jobsPerSecond/jobsBurst bound
// the rate of POST /jobs submissions for the whole process, the way
// internal/ratelimit.PerIPLimiter bounds REGISTER_WORKER per remote
// address, but here there is no per-caller identity to key on.
func NewAdminAPIServer(d *dispatch.Dispatcher, hub *events.Hub, health *observability.HealthChecker, metrics *observability.Metrics, jobsPerSecond float64, jobsBurst int, logger zerolog.Logger) *AdminAPIServer {
	return &AdminAPIServer{
		dispatcher: d,
		hub:        hub,
		health:     health,
		metrics:    metrics,
		jobLimiter: rate.NewLimiter(rate.Limit(jobsPerSecond), jobsBurst),
		logger:     logger,
	}
}

// RegisterHTTP mounts every admin endpoint onto mux. Exported separately
// from construction so StartAdminServer's grpc-gateway fallback can reuse
// it as the native handler set.
func (s *AdminAPIServer) RegisterHTTP(mux *http.ServeMux) {
	mux.Handle("/healthz", s.health.Handler())
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/jobs", s.handleSubmitJob)
	mux.HandleFunc("/events", s.handleEvents)
}

func (s *AdminAPIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Stats())
}

// submitJobRequest is the wire shape of a POST /jobs body.
type submitJobRequest struct {
	Function  string            `json:"function"`
	Inputs    []json.RawMessage `json:"inputs"`
	TimeoutMS int64             `json:"timeout_ms"`
}

// submitJobResponse is returned once the map() call reaches a terminal
// state: results on success, or an error description otherwise.
type submitJobResponse struct {
	Results []json.RawMessage `json:"results,omitempty"`
	Error   *jobErrorPayload  `json:"error,omitempty"`
}

type jobErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Index   int    `json:"index,omitempty"`
}

// handleSubmitJob runs the coordinator's entire public contract: it
// accepts a map(function, inputs) request and blocks until the job
// completes, fails, or times out, exactly like dispatch.Dispatcher.Map.
func (s *AdminAPIServer) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.jobLimiter.Allow() {
		writeJSONError(w, http.StatusTooManyRequests, "job submission rate limit exceeded")
		return
	}

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if err := validation.ValidateMapRequest(req.Function, req.Inputs, timeout); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.dispatcher.Map(req.Function, req.Inputs, timeout)
	if err != nil {
		s.logger.Warn().Err(err).Str("function", req.Function).Msg("map job did not succeed")
		writeJSON(w, http.StatusOK, submitJobResponse{Error: toJobErrorPayload(err)})
		return
	}
	writeJSON(w, http.StatusOK, submitJobResponse{Results: results})
}

func toJobErrorPayload(err error) *jobErrorPayload {
	switch e := err.(type) {
	case *dispatch.JobFailedError:
		return &jobErrorPayload{Kind: "task_error", Message: e.Message, Index: e.Index}
	case *dispatch.JobTimeoutError:
		return &jobErrorPayload{Kind: "timeout", Message: err.Error()}
	default:
		return &jobErrorPayload{Kind: "internal", Message: err.Error()}
	}
}

// handleEvents streams the event hub over Server-Sent Events, one JSON
// object per line, optionally filtered to a single job id via ?job_id=.
func (s *AdminAPIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.hub.Subscribe(r.URL.Query().Get("job_id"))
	defer s.hub.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Channel:
			if !ok {
				return
			}
			line, err := toJSONLine(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write(line); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// toJSONLine renders an event as one "data: {...}\n\n" SSE frame.
func toJSONLine(ev *events.Event) ([]byte, error) {
	payload := struct {
		Kind      string            `json:"kind"`
		Timestamp time.Time         `json:"timestamp"`
		JobID     string            `json:"job_id,omitempty"`
		WorkerID  string            `json:"worker_id,omitempty"`
		Message   string            `json:"message"`
		Metadata  map[string]string `json:"metadata,omitempty"`
	}{
		Kind:      ev.Kind.String(),
		Timestamp: ev.Timestamp,
		JobID:     ev.JobID,
		WorkerID:  ev.WorkerID,
		Message:   ev.Message,
		Metadata:  ev.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := append([]byte("data: "), body...)
	out = append(out, '\n', '\n')
	return out, nil
}

type jsonErrorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, jsonErrorBody{Error: message})
}
