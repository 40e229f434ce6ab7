package console

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/clusterlabs/striker-console/pkg/broker"
	"github.com/clusterlabs/striker-console/pkg/keychord"
	"github.com/clusterlabs/striker-console/pkg/ledger"
	"github.com/clusterlabs/striker-console/pkg/rfb"
)

const testServerUUID = "7b2b5c41-3a4a-4c26-9f0f-3a2b0c1d9e8f"

var testEndpoint = broker.Endpoint{Protocol: "ws", Host: "striker.local", Port: 5901}

// keyCall is one call made on a fakeHandle.
type keyCall struct {
	Kind string // "down", "up" or "reset"
	Code keychord.ScanCode
}

func down(c keychord.ScanCode) keyCall { return keyCall{Kind: "down", Code: c} }
func up(c keychord.ScanCode) keyCall   { return keyCall{Kind: "up", Code: c} }

type fakeHandle struct {
	mu          sync.Mutex
	calls       []keyCall
	failAt      int // 1-based call number that fails, 0 for none
	failErr     error
	disconnects int
	done        chan struct{}
	doneOnce    sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{done: make(chan struct{})}
}

func (h *fakeHandle) record(c keyCall) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, c)
	if h.failAt == len(h.calls) {
		return h.failErr
	}
	return nil
}

func (h *fakeHandle) SendKey(code keychord.ScanCode, isDown bool) error {
	if isDown {
		return h.record(down(code))
	}
	return h.record(up(code))
}

func (h *fakeHandle) SendResetSignal() error {
	return h.record(keyCall{Kind: "reset"})
}

func (h *fakeHandle) Disconnect() error {
	h.mu.Lock()
	h.disconnects++
	h.mu.Unlock()
	h.kill()
	return nil
}

func (h *fakeHandle) Done() <-chan struct{} {
	return h.done
}

// kill simulates the remote end going away.
func (h *fakeHandle) kill() {
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *fakeHandle) Calls() []keyCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]keyCall(nil), h.calls...)
}

func (h *fakeHandle) Disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

type fakeBroker struct {
	mu       sync.Mutex
	opens    int
	closes   int
	openErr  error
	closeErr error

	// When set, OpenPipe signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func (b *fakeBroker) OpenPipe(ctx context.Context, serverUUID string) (broker.Endpoint, error) {
	b.mu.Lock()
	b.opens++
	entered, release, err := b.entered, b.release, b.openErr
	b.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return broker.Endpoint{}, err
	}
	return testEndpoint, nil
}

func (b *fakeBroker) ClosePipe(ctx context.Context, serverUUID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return b.closeErr
}

func (b *fakeBroker) Counts() (opens, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens, b.closes
}

type fakeTransport struct {
	mu       sync.Mutex
	connects int
	urls     []string
	err      error
	handle   *fakeHandle

	// When block is set, Connect signals entered and waits for ctx or release.
	block   bool
	entered chan struct{}
	release chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handle: newFakeHandle()}
}

func (t *fakeTransport) Connect(ctx context.Context, url string) (rfb.Handle, error) {
	t.mu.Lock()
	t.connects++
	t.urls = append(t.urls, url)
	block, entered, release, err := t.block, t.entered, t.release, t.err
	t.mu.Unlock()

	if block {
		if entered != nil {
			close(entered)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %w", rfb.ErrTransportTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("%w: %w", rfb.ErrTransportConnectFailed, ctx.Err())
		case <-release:
		}
	}
	if err != nil {
		return nil, err
	}
	return t.handle, nil
}

func (t *fakeTransport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

type fakeLedger struct {
	mu      sync.Mutex
	records map[string]ledger.Reservation
	removed []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]ledger.Reservation)}
}

func (l *fakeLedger) Record(ctx context.Context, r ledger.Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[r.SessionID] = r
	return nil
}

func (l *fakeLedger) Remove(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, sessionID)
	l.removed = append(l.removed, sessionID)
	return nil
}

func (l *fakeLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// stateRecorder collects transitions reported to a state listener.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) listen(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
