// Package jobs records job submissions.
//
// The coordinator accepts jobs but does not schedule them yet: a
// submission is logged, assigned a handle and written to a Ledger so
// there is a durable record of intent. Nothing reads the ledger back
// except the status view.
package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Get for an unknown handle.
	ErrNotFound = errors.New("job not found")

	// ErrInvalid is returned for a descriptor that cannot be recorded.
	ErrInvalid = errors.New("invalid job descriptor")

	// ErrDuplicate is returned when a handle is recorded twice.
	ErrDuplicate = errors.New("job already recorded")
)

// Handle identifies a submitted job.
type Handle string

// NewHandle returns a fresh random handle.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

func (h Handle) String() string { return string(h) }

// Descriptor is what a client submits.
type Descriptor struct {
	Name    string `json:"name" yaml:"name"`
	Payload []byte `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Validate checks the descriptor can be recorded.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.Join(ErrInvalid, errors.New("name is required"))
	}
	return nil
}

// Job is a recorded submission.
type Job struct {
	SubmittedAt time.Time `json:"submitted_at"`
	Handle      Handle    `json:"handle"`
	Name        string    `json:"name"`
	Payload     []byte    `json:"payload,omitempty"`
}

// Ledger stores jobs. Implementations are safe for concurrent use.
type Ledger interface {
	// Record stores job. It fails with ErrDuplicate if the handle exists.
	Record(ctx context.Context, job Job) error

	// Get returns the job with handle, or ErrNotFound.
	Get(ctx context.Context, handle Handle) (Job, error)

	// List returns all jobs in submission order.
	List(ctx context.Context) ([]Job, error)

	// Ping reports whether the ledger can accept records.
	Ping(ctx context.Context) error

	Close() error
}

func cloneJob(j Job) Job {
	if j.Payload != nil {
		j.Payload = append([]byte(nil), j.Payload...)
	}
	return j
}
