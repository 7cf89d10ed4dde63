package storage

import (
	"context"
	"time"

	"github.com/rhuss/weiche/pkg/api"
)

// Run is one persisted dispatch.
type Run struct {
	ID        string                 `json:"id"`
	RequestID string                 `json:"request_id"`
	Owner     string                 `json:"owner,omitempty"`
	Vendor    api.Vendor             `json:"vendor"`
	Model     string                 `json:"model"`
	Success   bool                   `json:"success"`
	ErrorKind api.ErrorKind          `json:"error_kind,omitempty"`
	Response  *api.CanonicalResponse `json:"response"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewRun builds a run record for a finished dispatch. The owner is taken
// from ctx.
func NewRun(ctx context.Context, req *api.Request, resp *api.CanonicalResponse) *Run {
	r := &Run{
		ID:        api.NewRunID(),
		RequestID: resp.RequestID,
		Owner:     Owner(ctx),
		Vendor:    resp.Vendor,
		Model:     req.Model,
		Success:   resp.Success,
		Response:  resp,
		CreatedAt: time.Now().UTC(),
	}
	if resp.Error != nil {
		r.ErrorKind = resp.Error.Kind
	}
	return r
}

// ListOptions filters and bounds ListRuns.
type ListOptions struct {
	// Limit bounds the result size. Zero means DefaultListLimit.
	Limit int

	// Vendor restricts results to runs that finished on this vendor.
	Vendor api.Vendor
}

// DefaultListLimit and MaxListLimit bound ListRuns results.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalize applies the default and maximum limit.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	return o
}

// Store persists runs. Implementations must be safe for concurrent use.
type Store interface {
	// SaveRun persists a run. Returns ErrConflict if the id exists.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun returns a run by id, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, opts ListOptions) ([]*Run, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
