// Package transport implements biomcp's HTTP surface: the
// invoke endpoint sharing the exact envelope semantics as the MCP
// front-end, the job API, the /live and /ready health endpoints, and a
// /metrics endpoint exposing internal/telemetry's Prometheus registry.
//
// A single *http.Server is built once in New, exposing Start/Shutdown.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	bmerrors "github.com/vallancelee/biomcp/internal/errors"
	"github.com/vallancelee/biomcp/internal/jobs"
	"github.com/vallancelee/biomcp/internal/ready"
	"github.com/vallancelee/biomcp/internal/telemetry"
	"github.com/vallancelee/biomcp/internal/tools"
)

// Server is biomcp's HTTP invoke/job/health surface.
type Server struct {
	httpServer *http.Server
	invoker    *tools.Invoker
	jobs       *jobs.Queue
	ready      *ready.Orchestrator
}

// New builds a Server listening on addr ("host:port"). invoker serves
// synchronous tool calls, queue serves the job API, and orchestrator
// serves /ready.
func New(addr string, invoker *tools.Invoker, queue *jobs.Queue, orchestrator *ready.Orchestrator) *Server {
	s := &Server{invoker: invoker, jobs: queue, ready: orchestrator}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/invoke", s.invokeHandler)
	mux.HandleFunc("/v1/jobs", s.jobsHandler)
	mux.HandleFunc("/v1/jobs/", s.jobByIDHandler)
	mux.HandleFunc("/live", s.liveHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", telemetry.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// invokeRequest is the wire shape of the invoke surface.
type invokeRequest struct {
	Tool           string          `json:"tool"`
	Params         json.RawMessage `json:"params"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// invokeHandler implements the invoke wire contract.
func (s *Server) invokeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok": false, "error_code": string(bmerrors.Validation), "message": "invalid JSON body",
		})
		return
	}
	if len(req.IdempotencyKey) > 128 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok": false, "tool": req.Tool, "error_code": string(bmerrors.Validation),
			"message": "idempotency_key must be <= 128 characters",
		})
		return
	}

	env := s.invoker.Invoke(r.Context(), req.Tool, req.Params, req.IdempotencyKey)
	status := http.StatusOK
	if !env.Ok {
		status = bmerrors.Code(env.ErrorCode).HTTPStatus()
	}
	writeJSON(w, status, env)
}

// jobEnqueueRequest is the job API's POST /v1/jobs body.
type jobEnqueueRequest struct {
	Tool           string          `json:"tool"`
	Params         json.RawMessage `json:"params"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// jobsHandler implements POST /v1/jobs: enqueue.
func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req jobEnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": string(bmerrors.Validation), "message": "invalid JSON body"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": string(bmerrors.Validation), "message": "tool is required"})
		return
	}

	id := uuid.NewString()
	traceID := uuid.NewString()
	jobID, duplicate, err := s.jobs.Enqueue(r.Context(), id, req.Tool, req.Params, req.IdempotencyKey, traceID)
	if err != nil {
		env := bmerrors.ToEnvelope(err)
		writeJSON(w, env.Code.HTTPStatus(), map[string]string{"error_code": string(env.Code), "message": env.Message})
		return
	}

	status := http.StatusAccepted
	if duplicate {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"job_id": jobID, "state": "queued"})
}

// jobByIDHandler implements GET /v1/jobs/{id}.
func (s *Server) jobByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Path[len("/v1/jobs/"):]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		env := bmerrors.ToEnvelope(err)
		writeJSON(w, env.Code.HTTPStatus(), map[string]string{"error_code": string(env.Code), "message": env.Message})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// liveHandler always reports healthy while the process runs.
func (s *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"live": true})
}

// readyHandler reports the composite readiness orchestrator's result
//: 200 when healthy, 503 with the failing probes otherwise.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	report := s.ready.Ready(r.Context())
	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
