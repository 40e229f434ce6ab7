package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clusterlabs/striker-console/pkg/broker"
	"github.com/clusterlabs/striker-console/pkg/keychord"
	"github.com/clusterlabs/striker-console/pkg/ledger"
	"github.com/clusterlabs/striker-console/pkg/rfb"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is one remote console bound to one target server. Each Open makes
// exactly one broker reservation and at most one transport connection; Close
// releases both exactly once.
//
// Open, Close and SendChord are serialised by opMu. State and the
// not-ready check for SendChord only take mu, so they never wait behind an
// in-flight Open.
type Session struct {
	id             string
	serverUUID     string
	broker         Broker
	transport      rfb.Transport
	reservations   ReservationLog
	connectTimeout time.Duration
	listener       func(State)

	opMu sync.Mutex

	mu             sync.Mutex
	state          State
	endpoint       *broker.Endpoint
	handle         rfb.Handle
	reserved       bool
	opened         bool
	closeRequested bool
	cancelConnect  context.CancelFunc
}

type Option func(*Session)

// WithConnectTimeout bounds the transport connect. Expiry surfaces as
// rfb.ErrTransportTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) { s.connectTimeout = d }
}

// WithReservationLog records reservations while they are held.
func WithReservationLog(l ReservationLog) Option {
	return func(s *Session) { s.reservations = l }
}

// WithStateListener is called after every state transition, in order. It
// runs on the goroutine making the transition and must not call back into
// Open, Close or SendChord.
func WithStateListener(fn func(State)) Option {
	return func(s *Session) { s.listener = fn }
}

// NewSession creates a session for serverUUID in the Requesting state.
// Nothing happens on the network until Open.
func NewSession(serverUUID string, b Broker, t rfb.Transport, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		serverUUID: serverUUID,
		broker:     b,
		transport:  t,
		state:      StateRequesting,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) ServerUUID() string {
	return s.serverUUID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint returns the endpoint obtained from the broker, if any.
func (s *Session) Endpoint() (broker.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == nil {
		return broker.Endpoint{}, false
	}
	return *s.endpoint, true
}

// Open reserves a pipe and connects the transport. On failure the session
// is Failed and the error keeps its original kind (broker.ErrBrokerUnavailable,
// broker.ErrPipeRejected, rfb.ErrTransportConnectFailed, rfb.ErrTransportTimeout).
// A reservation made before a transport failure is released before Open
// returns. If Close is requested meanwhile, Open returns ErrSessionClosed and
// leaves the release to Close.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closeRequested {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.opened {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: open called in state %s", ErrSessionNotReady, state)
	}
	s.opened = true
	connectCtx, cancel := context.WithCancel(ctx)
	s.cancelConnect = cancel
	s.mu.Unlock()
	defer cancel()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isCloseRequested() {
		return ErrSessionClosed
	}

	log.Debug().Msgf("Opening console session %s for server %s.", s.id, s.serverUUID)

	// Close never cancels the broker call, so whether a reservation exists
	// is always known.
	endpoint, err := s.broker.OpenPipe(ctx, s.serverUUID)
	if err != nil {
		log.Error().Err(err).Msgf("Failed to open console pipe for server %s.", s.serverUUID)
		if !s.isCloseRequested() {
			s.setState(StateFailed)
		}
		return err
	}

	s.mu.Lock()
	s.reserved = true
	s.endpoint = &endpoint
	s.mu.Unlock()
	s.recordReservation(ctx, endpoint)

	if s.isCloseRequested() {
		return ErrSessionClosed
	}

	s.setState(StateConnecting)

	if s.connectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		connectCtx, cancelTimeout = context.WithTimeout(connectCtx, s.connectTimeout)
		defer cancelTimeout()
	}

	handle, err := s.transport.Connect(connectCtx, endpoint.URL())
	if err != nil {
		if s.isCloseRequested() {
			return ErrSessionClosed
		}
		log.Error().Err(err).Msgf("Failed to connect console transport for server %s.", s.serverUUID)

		s.mu.Lock()
		s.reserved = false
		s.mu.Unlock()
		_ = s.releasePipe(context.WithoutCancel(ctx))

		s.setState(StateFailed)
		return err
	}

	s.mu.Lock()
	s.handle = handle
	closeRequested := s.closeRequested
	s.mu.Unlock()
	if closeRequested {
		return ErrSessionClosed
	}

	s.setState(StateConnected)
	go s.watch(handle)

	log.Info().Msgf("Console session %s connected to server %s at %s.", s.id, s.serverUUID, endpoint)
	return nil
}

// Close disconnects the transport and releases the pipe. It is idempotent,
// safe to call while Open is in flight, and always finishes local teardown;
// a failed release is returned but the session still ends Closed. Closing a
// Failed session is a no-op because Failed sessions hold nothing.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closeRequested = true
	if s.cancelConnect != nil {
		s.cancelConnect()
	}
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State().Terminal() {
		return nil
	}
	return s.teardown(context.WithoutCancel(ctx), StateClosed)
}

// SendChord injects chord into the console. Outside Connected it reports
// ErrSessionNotReady without touching the transport; chord menus can stay
// visible for a moment while a session is torn down.
func (s *Session) SendChord(ctx context.Context, chord keychord.KeyChord) error {
	if state := s.State(); state != StateConnected {
		return fmt.Errorf("%w: session is %s", ErrSessionNotReady, state)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	state, handle := s.state, s.handle
	s.mu.Unlock()
	if state != StateConnected || handle == nil {
		return fmt.Errorf("%w: session is %s", ErrSessionNotReady, state)
	}

	if err := Dispatch(handle, chord); err != nil {
		log.Warn().Err(err).Msgf("Failed to send %q to server %s.", chord.Name, s.serverUUID)
		if errors.Is(err, rfb.ErrConnectionClosed) {
			_ = s.teardown(context.WithoutCancel(ctx), StateFailed)
		}
		return err
	}

	log.Debug().Msgf("Sent %q to server %s.", chord.Name, s.serverUUID)
	return nil
}

// watch fails the session if the connection dies on its own.
func (s *Session) watch(h rfb.Handle) {
	<-h.Done()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	current := s.handle
	s.mu.Unlock()
	if current != h {
		return
	}

	log.Warn().Msgf("Console connection to server %s was lost.", s.serverUUID)
	_ = s.teardown(context.Background(), StateFailed)
}

// teardown releases whatever the session holds and moves it to final.
// Callers hold opMu.
func (s *Session) teardown(ctx context.Context, final State) error {
	if final == StateClosed {
		s.setState(StateClosing)
	}

	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	reserved := s.reserved
	s.reserved = false
	s.mu.Unlock()

	if handle != nil {
		if err := handle.Disconnect(); err != nil {
			log.Debug().Err(err).Msgf("Failed to disconnect console transport for server %s.", s.serverUUID)
		}
	}

	var releaseErr error
	if reserved {
		releaseErr = s.releasePipe(ctx)
	}

	s.setState(final)
	return releaseErr
}

// releasePipe asks the broker to release the reservation. The ledger entry
// is kept when the release fails so the pipe can be released later.
func (s *Session) releasePipe(ctx context.Context) error {
	if err := s.broker.ClosePipe(ctx, s.serverUUID); err != nil {
		log.Warn().Err(err).Msgf("Console pipe for server %s is still reserved.", s.serverUUID)
		return err
	}
	if s.reservations != nil {
		if err := s.reservations.Remove(ctx, s.id); err != nil {
			log.Debug().Err(err).Msgf("Failed to clear reservation for session %s.", s.id)
		}
	}
	return nil
}

func (s *Session) recordReservation(ctx context.Context, endpoint broker.Endpoint) {
	if s.reservations == nil {
		return
	}
	err := s.reservations.Record(ctx, ledger.Reservation{
		SessionID:  s.id,
		ServerUUID: s.serverUUID,
		Protocol:   endpoint.Protocol,
		Host:       endpoint.Host,
		Port:       endpoint.Port,
	})
	if err != nil {
		log.Warn().Err(err).Msgf("Failed to record reservation for session %s.", s.id)
	}
}

func (s *Session) isCloseRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeRequested
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev == state {
		return
	}
	log.Debug().Msgf("Console session %s: %s -> %s.", s.id, prev, state)
	if s.listener != nil {
		s.listener(state)
	}
}
