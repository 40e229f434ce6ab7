// Package console owns remote console sessions: reserving a pipe through the
// broker, connecting the framebuffer transport, injecting key chords, and
// releasing everything exactly once on close.
package console

import (
	"context"
	"errors"

	"github.com/clusterlabs/striker-console/pkg/broker"
	"github.com/clusterlabs/striker-console/pkg/ledger"
)

var (
	// ErrSessionNotReady is reported when an operation needs a state the
	// session is not in, e.g. sending a chord before the session connected.
	ErrSessionNotReady = errors.New("console session not ready")
	// ErrSessionClosed is returned by Open once Close has been requested.
	ErrSessionClosed = errors.New("console session closed")
	// ErrChordSendFailed wraps a transport error that aborted a chord.
	ErrChordSendFailed = errors.New("chord send failed")
	// ErrSessionExists is returned when a live session already exists for
	// the target server.
	ErrSessionExists = errors.New("console session already exists")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateRequesting State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Broker reserves and releases console pipes on the control plane.
type Broker interface {
	OpenPipe(ctx context.Context, serverUUID string) (broker.Endpoint, error)
	ClosePipe(ctx context.Context, serverUUID string) error
}

// ReservationLog records pipes that are reserved and not yet released.
type ReservationLog interface {
	Record(ctx context.Context, r ledger.Reservation) error
	Remove(ctx context.Context, sessionID string) error
}
