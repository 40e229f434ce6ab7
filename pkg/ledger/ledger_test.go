package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID is above any Linux pid_max, so no process can own it.
const deadPID = 2147483646

type recordingCloser struct {
	closed []string
	fail   map[string]error
}

func (c *recordingCloser) ClosePipe(ctx context.Context, serverUUID string) error {
	c.closed = append(c.closed, serverUUID)
	return c.fail[serverUUID]
}

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndRemove(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	reservedAt := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	require.NoError(t, l.Record(ctx, Reservation{
		SessionID:  "s-1",
		ServerUUID: "7b2b5c41-3a4a-4c26-9f0f-3a2b0c1d9e8f",
		Protocol:   "wss",
		Host:       "striker.local",
		Port:       5901,
		ReservedAt: reservedAt,
	}))

	got, err := l.Outstanding(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s-1", got[0].SessionID)
	assert.Equal(t, 5901, got[0].Port)
	assert.Equal(t, os.Getpid(), got[0].PID)
	assert.True(t, reservedAt.Equal(got[0].ReservedAt))

	require.NoError(t, l.Remove(ctx, "s-1"))
	require.NoError(t, l.Remove(ctx, "s-1"))

	got, err = l.Outstanding(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOrphansSkipLiveProcesses(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	require.NoError(t, l.Record(ctx, Reservation{SessionID: "mine", ServerUUID: "a", Protocol: "ws", Host: "h", Port: 1}))
	require.NoError(t, l.Record(ctx, Reservation{SessionID: "dead", ServerUUID: "b", Protocol: "ws", Host: "h", Port: 2, PID: deadPID}))

	orphans, err := l.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "dead", orphans[0].SessionID)
}

func TestReleaseOrphans(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	require.NoError(t, l.Record(ctx, Reservation{SessionID: "s-1", ServerUUID: "srv-1", Protocol: "ws", Host: "h", Port: 1, PID: deadPID}))
	require.NoError(t, l.Record(ctx, Reservation{SessionID: "s-2", ServerUUID: "srv-2", Protocol: "ws", Host: "h", Port: 2, PID: deadPID}))

	closer := &recordingCloser{fail: map[string]error{"srv-2": errors.New("unreachable")}}
	released, err := l.ReleaseOrphans(ctx, closer)

	assert.Equal(t, 1, released)
	assert.ErrorContains(t, err, "srv-2")
	assert.ElementsMatch(t, []string{"srv-1", "srv-2"}, closer.closed)

	left, err := l.Outstanding(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "s-2", left[0].SessionID)
}

func TestRemoveServer(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	require.NoError(t, l.Record(ctx, Reservation{SessionID: "s-1", ServerUUID: "srv-1", Protocol: "ws", Host: "h", Port: 1}))
	require.NoError(t, l.Record(ctx, Reservation{SessionID: "s-2", ServerUUID: "srv-1", Protocol: "ws", Host: "h", Port: 2, PID: deadPID}))
	require.NoError(t, l.Record(ctx, Reservation{SessionID: "s-3", ServerUUID: "srv-2", Protocol: "ws", Host: "h", Port: 3}))

	removed, err := l.RemoveServer(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	left, err := l.Outstanding(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "srv-2", left[0].ServerUUID)
}
