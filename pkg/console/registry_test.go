package console

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/clusterlabs/striker-console/internal/pool"
	"github.com/clusterlabs/striker-console/pkg/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, b *fakeBroker) *Registry {
	t.Helper()
	p := pool.NewPool(2, 8)
	t.Cleanup(func() { _ = p.Shutdown(5 * time.Second) })

	return NewRegistry(func(serverUUID string) *Session {
		return NewSession(serverUUID, b, newFakeTransport())
	}, p)
}

func TestRegistryOneSessionPerServer(t *testing.T) {
	ctx := context.Background()
	b := &fakeBroker{}
	r := newTestRegistry(t, b)

	s, err := r.Open(ctx, testServerUUID)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, s.State())

	_, err = r.Open(ctx, testServerUUID)
	assert.ErrorIs(t, err, ErrSessionExists)

	got, ok := r.Get(testServerUUID)
	require.True(t, ok)
	assert.Same(t, s, got)

	require.NoError(t, r.Close(ctx, testServerUUID))
	assert.Equal(t, StateClosed, s.State())
	_, ok = r.Get(testServerUUID)
	assert.False(t, ok)

	s2, err := r.Open(ctx, testServerUUID)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), s2.ID())

	opens, closes := b.Counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 1, closes)
}

func TestRegistryFailedOpenIsForgotten(t *testing.T) {
	ctx := context.Background()
	b := &fakeBroker{openErr: fmt.Errorf("%w: no such server", broker.ErrPipeRejected)}
	r := newTestRegistry(t, b)

	s, err := r.Open(ctx, testServerUUID)
	assert.ErrorIs(t, err, broker.ErrPipeRejected)
	require.NotNil(t, s)
	assert.Equal(t, StateFailed, s.State())

	_, ok := r.Get(testServerUUID)
	assert.False(t, ok)
}

func TestRegistryCloseUnknown(t *testing.T) {
	r := newTestRegistry(t, &fakeBroker{})
	assert.Error(t, r.Close(context.Background(), testServerUUID))
}

func TestRegistryOpenAsync(t *testing.T) {
	ctx := context.Background()
	b := &fakeBroker{entered: make(chan struct{}), release: make(chan struct{})}
	r := newTestRegistry(t, b)

	s, result, err := r.OpenAsync(ctx, testServerUUID)
	require.NoError(t, err)

	<-b.entered
	assert.Equal(t, StateRequesting, s.State())
	_, _, err = r.OpenAsync(ctx, testServerUUID)
	assert.ErrorIs(t, err, ErrSessionExists)

	close(b.release)
	select {
	case err = <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("async open did not finish")
	}
	assert.Equal(t, StateConnected, s.State())

	require.NoError(t, r.CloseAll(ctx))
	assert.Equal(t, StateClosed, s.State())
}

func TestRegistryCloseAll(t *testing.T) {
	ctx := context.Background()
	b := &fakeBroker{}
	r := newTestRegistry(t, b)

	servers := []string{
		"0d7f3c1e-5a9b-4d2c-8e6f-1a2b3c4d5e6f",
		"9a8b7c6d-5e4f-4a3b-9c2d-1e0f2a3b4c5d",
	}
	var sessions []*Session
	for _, server := range servers {
		s, err := r.Open(ctx, server)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	require.NoError(t, r.CloseAll(ctx))
	for _, s := range sessions {
		assert.Equal(t, StateClosed, s.State())
	}

	opens, closes := b.Counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 2, closes)
}
