package rfb

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/clusterlabs/striker-console/pkg/keychord"
	"github.com/clusterlabs/striker-console/pkg/tunnel"
	"github.com/clusterlabs/striker-console/pkg/utils"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/go-vnc"
	"github.com/rs/zerolog/log"
)

const handshakeTimeout = 30 * time.Second

// WebSocketTransport connects to websockify-style console endpoints and
// speaks RFB over the websocket stream.
type WebSocketTransport struct {
	dialer        websocket.Dialer
	requestHeader http.Header
}

// NewWebSocketTransport creates a transport using tlsConfig for wss endpoints.
func NewWebSocketTransport(tlsConfig *tls.Config) *WebSocketTransport {
	return &WebSocketTransport{
		dialer: websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: handshakeTimeout,
			Subprotocols:     []string{"binary"},
		},
		requestHeader: http.Header{
			"User-Agent": {utils.GetUserAgent("striker-console")},
		},
	}
}

// Connect dials url and completes the RFB handshake. The whole exchange is
// bounded by ctx.
func (t *WebSocketTransport) Connect(ctx context.Context, url string) (Handle, error) {
	log.Debug().Msgf("Connecting to console transport at %s...", url)

	// URL comes from the broker's pipe response, which the client trusts.
	wsConn, _, err := t.dialer.DialContext(ctx, url, t.requestHeader)
	if err != nil {
		return nil, connectError(ctx, err)
	}

	conn := tunnel.NewWebSocketConn(wsConn)
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})

	client, err := vnc.Client(conn, &vnc.ClientConfig{
		Auth: []vnc.ClientAuth{new(vnc.ClientAuthNone)},
	})
	if !stop() && err == nil {
		// ctx ended as the handshake finished; the callback may still
		// clobber the deadline, so the connection cannot be handed out.
		_ = client.Close()
		return nil, connectError(ctx, ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, connectError(ctx, err)
	}
	_ = conn.SetDeadline(time.Time{})

	log.Debug().Msgf("RFB session established with %q (%dx%d).", client.DesktopName, client.FrameBufferWidth, client.FrameBufferHeight)
	return &vncHandle{client: client, conn: conn}, nil
}

func connectError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %w", ErrTransportConnectFailed, err)
		}
		return fmt.Errorf("%w: %w: %w", ErrTransportConnectFailed, context.Canceled, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTransportTimeout, err)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %w", ErrTransportTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransportConnectFailed, err)
}

type vncHandle struct {
	client *vnc.ClientConn
	conn   *tunnel.WebSocketConn

	closeOnce sync.Once
	closeErr  error
}

func (h *vncHandle) SendKey(code keychord.ScanCode, down bool) error {
	if err := h.alive(); err != nil {
		return err
	}
	if err := h.client.KeyEvent(uint32(code), down); err != nil {
		if aliveErr := h.alive(); aliveErr != nil {
			return fmt.Errorf("%w: %w", aliveErr, err)
		}
		return err
	}
	return nil
}

func (h *vncHandle) SendResetSignal() error {
	for _, code := range resetSequence {
		if err := h.SendKey(code, true); err != nil {
			return err
		}
	}
	for i := len(resetSequence) - 1; i >= 0; i-- {
		if err := h.SendKey(resetSequence[i], false); err != nil {
			return err
		}
	}
	return nil
}

func (h *vncHandle) Disconnect() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.client.Close()
	})
	return h.closeErr
}

func (h *vncHandle) Done() <-chan struct{} {
	return h.conn.Done()
}

func (h *vncHandle) alive() error {
	select {
	case <-h.conn.Done():
		if err := h.conn.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		return ErrConnectionClosed
	default:
		return nil
	}
}
