// Package office holds the local model of the watched organization: actors,
// their status machine, the registry keyed by remote agent id, and the pure
// diff between the registry and a freshly fetched agent list.
//
// Nothing in this package is safe for concurrent use. The engine serializes
// all access behind its session lock.
package office

import (
	"strings"

	"github.com/iambrandonn/bmoffice/internal/protocol"
)

// Status is an actor's visual/behavioral state
type Status string

const (
	StatusIdle       Status = "idle"
	StatusWorking    Status = "working"
	StatusCoding     Status = "coding"
	StatusThinking   Status = "thinking"
	StatusDiscussing Status = "discussing"
	StatusReviewing  Status = "reviewing"
	StatusBreak      Status = "break"
	StatusWalking    Status = "walking"
)

// MapStatus converts a raw backend status into a Status. It is total:
// unknown values, including "error", map to StatusIdle.
func MapStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case protocol.StatusIdle:
		return StatusIdle
	case protocol.StatusWorking:
		return StatusWorking
	case protocol.StatusCoding:
		return StatusCoding
	case protocol.StatusThinking:
		return StatusThinking
	case protocol.StatusDiscussing:
		return StatusDiscussing
	case protocol.StatusReviewing:
		return StatusReviewing
	case protocol.StatusBreak:
		return StatusBreak
	case protocol.StatusWalking:
		return StatusWalking
	default:
		return StatusIdle
	}
}

// IsErrorStatus reports whether raw flags the agent as errored
func IsErrorStatus(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), protocol.StatusError)
}
