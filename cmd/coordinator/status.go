package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dreamware/herd/internal/admin"
	"github.com/dreamware/herd/internal/coordinator"
	"github.com/dreamware/herd/internal/identity"
	"github.com/dreamware/herd/internal/jobs"
	"github.com/dreamware/herd/internal/registry"
)

// statusServer is the read-only HTTP view of a coordinator. It reads the
// registry through RegistryView and never changes it; the only write it
// accepts is job submission, which goes to the job ledger.
type statusServer struct {
	c        *coordinator.Coordinator
	liveness *coordinator.LivenessMonitor
	listen   string
}

func newStatusServer(c *coordinator.Coordinator, liveness *coordinator.LivenessMonitor, listen string) *statusServer {
	return &statusServer{c: c, liveness: liveness, listen: listen}
}

func (s *statusServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/resources", s.handleResources)
	mux.HandleFunc("/resources/", s.handleResource)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/jobs/", s.handleJob)
	return mux
}

// handleHealth answers 503 once the coordinator is stopping or its job
// ledger stops answering.
func (s *statusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.c.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func resourceInfo(e registry.Entry, rl *coordinator.ResourceLiveness) admin.ResourceInfo {
	info := admin.ResourceInfo{
		ID:         e.ID.String(),
		LastSeen:   e.Record.LastSeen,
		Descriptor: e.Record.Descriptor,
	}
	if rl != nil {
		info.Status = string(rl.Status)
	}
	return info
}

func (s *statusServer) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries := s.c.Registry().Snapshot()
	var liveness map[identity.ID]coordinator.ResourceLiveness
	if s.liveness != nil {
		liveness = s.liveness.All()
	}
	out := admin.ResourcesResponse{
		Coordinator: s.c.ID().String(),
		Resources:   make([]admin.ResourceInfo, 0, len(entries)),
	}
	for _, e := range entries {
		var rl *coordinator.ResourceLiveness
		if l, ok := liveness[e.ID]; ok {
			rl = &l
		}
		out.Resources = append(out.Resources, resourceInfo(e, rl))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleResource serves GET /resources/{id}.
func (s *statusServer) handleResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/resources/")
	id, err := identity.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, ok := s.c.Registry().Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	var rl *coordinator.ResourceLiveness
	if s.liveness != nil {
		rl = s.liveness.Get(id)
	}
	writeJSON(w, http.StatusOK, resourceInfo(registry.Entry{ID: id, Record: rec}, rl))
}

func (s *statusServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, admin.StatsResponse{
		Coordinator: s.c.ID().String(),
		Listen:      s.listen,
		StartedAt:   s.c.StartedAt(),
		Stats:       s.c.Stats(),
	})
}

func (s *statusServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.c.Jobs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if list == nil {
			list = []jobs.Job{}
		}
		writeJSON(w, http.StatusOK, admin.JobsResponse{Jobs: list})

	case http.MethodPost:
		var req admin.SubmitJobRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		handle, err := s.c.SubmitJob(r.Context(), jobs.Descriptor{Name: req.Name, Payload: req.Payload})
		if errors.Is(err, jobs.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, admin.SubmitJobResponse{Handle: handle.String()})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJob serves GET /jobs/{handle}.
func (s *statusServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	handle := strings.TrimPrefix(r.URL.Path, "/jobs/")
	job, err := s.c.Job(r.Context(), jobs.Handle(handle))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, admin.ErrorResponse{Error: msg})
}
