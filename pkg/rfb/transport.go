// Package rfb is the remote-framebuffer side of a console session: the
// capability interface the session drives, and its websocket implementation.
package rfb

import (
	"context"
	"errors"

	"github.com/clusterlabs/striker-console/pkg/keychord"
)

var (
	// ErrTransportConnectFailed means the transport or RFB handshake failed.
	ErrTransportConnectFailed = errors.New("console transport connect failed")
	// ErrTransportTimeout means the connect deadline expired.
	ErrTransportTimeout = errors.New("console transport connect timed out")
	// ErrConnectionClosed means a live connection has gone away.
	ErrConnectionClosed = errors.New("console connection closed")
)

// Transport opens remote-framebuffer connections.
type Transport interface {
	Connect(ctx context.Context, url string) (Handle, error)
}

// Handle is one live remote-framebuffer connection. Calls are not safe for
// concurrent use; the owning session serialises them.
type Handle interface {
	// SendKey sends a single key-down (down=true) or key-up event.
	SendKey(code keychord.ScanCode, down bool) error
	// SendResetSignal sends the secure-attention sequence (Ctrl+Alt+Del).
	SendResetSignal() error
	// Disconnect closes the connection. It is safe to call more than once.
	Disconnect() error
	// Done is closed when the connection dies or is disconnected.
	Done() <-chan struct{}
}

// resetSequence is pressed in order and released in reverse.
var resetSequence = []keychord.ScanCode{keychord.KeyControlL, keychord.KeyAltL, keychord.KeyDelete}
