package engine

import (
	"context"
	"errors"
	"time"

	"github.com/iambrandonn/bmoffice/internal/motion"
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/zones"
)

var (
	// ErrSwitchInProgress is returned when a company switch is requested
	// while another one is still running. The request is ignored.
	ErrSwitchInProgress = errors.New("company switch already in progress")
	// ErrDisposed is returned by operations on a disposed session
	ErrDisposed = errors.New("session disposed")
	// ErrNoCompany is returned when switching to an empty company id
	ErrNoCompany = errors.New("company id is required")
	// ErrEmptySnapshot is recorded when the backend answers without a body
	ErrEmptySnapshot = errors.New("backend returned an empty snapshot")
)

// RemoteStateSource is the backend the session reconciles against. Calls
// may race with each other and are not transactional.
type RemoteStateSource interface {
	FetchSnapshot(ctx context.Context, companyID string) (*protocol.Snapshot, error)
	FetchLogs(ctx context.Context, companyID string, q protocol.LogQuery) (*protocol.LogPage, error)
	ReportProgress(ctx context.Context, companyID, movementID string, progress float64) error
	AcknowledgeComplete(ctx context.Context, companyID, movementID string) error
	CleanupStaleMovements(ctx context.Context, companyID string) error
}

// Animator moves an actor and reports back through a handle
type Animator interface {
	Move(ctx context.Context, actorID string, from, to zones.Position) motion.Handle
}

// Clock is the time source for dwell and poll delays
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
