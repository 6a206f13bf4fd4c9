// Package admin holds the JSON types of the coordinator's read-only status
// view and a small client for it. The status view and the CLI commands
// that query it share these types.
package admin

import (
	"time"

	"github.com/dreamware/herd/internal/coordinator"
	"github.com/dreamware/herd/internal/jobs"
)

// ResourceInfo describes one registered resource.
type ResourceInfo struct {
	LastSeen   time.Time `json:"last_seen"`
	ID         string    `json:"id"`
	Status     string    `json:"status,omitempty"` // "alive", "stale" or empty before the first liveness pass
	Descriptor []byte    `json:"descriptor,omitempty"`
}

// ResourcesResponse is returned by GET /resources.
type ResourcesResponse struct {
	Coordinator string         `json:"coordinator"`
	Resources   []ResourceInfo `json:"resources"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	StartedAt   time.Time         `json:"started_at"`
	Coordinator string            `json:"coordinator"`
	Listen      string            `json:"listen"`
	Stats       coordinator.Stats `json:"stats"`
}

// SubmitJobRequest is the body of POST /jobs.
type SubmitJobRequest struct {
	Name    string `json:"name"`
	Payload []byte `json:"payload,omitempty"`
}

// SubmitJobResponse is returned by POST /jobs.
type SubmitJobResponse struct {
	Handle string `json:"handle"`
}

// JobsResponse is returned by GET /jobs.
type JobsResponse struct {
	Jobs []jobs.Job `json:"jobs"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
