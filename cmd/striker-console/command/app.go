package command

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/clusterlabs/striker-console/internal/pool"
	"github.com/clusterlabs/striker-console/pkg/broker"
	"github.com/clusterlabs/striker-console/pkg/config"
	"github.com/clusterlabs/striker-console/pkg/console"
	"github.com/clusterlabs/striker-console/pkg/ledger"
	"github.com/clusterlabs/striker-console/pkg/rfb"
	"github.com/clusterlabs/striker-console/pkg/utils"
	"github.com/rs/zerolog/log"
)

const poolShutdownTimeout = 5 * time.Second

// app holds everything a command needs to reach consoles.
type app struct {
	settings  config.Settings
	broker    *broker.Client
	transport *rfb.WebSocketTransport
	ledger    *ledger.Ledger
	pool      *pool.Pool
	registry  *console.Registry
}

// newApp wires the broker, transport, ledger and session registry from the
// loaded settings. opts are applied to every session the registry creates.
func newApp(ctx context.Context, opts ...console.Option) (*app, error) {
	settings := config.GlobalSettings

	ledgerPath := settings.LedgerPath
	if ledgerPath == "" {
		ledgerPath = ledger.DefaultPath()
	}
	l, err := ledger.Open(ctx, ledgerPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		settings:  settings,
		broker:    broker.NewClientFromSettings(settings),
		transport: rfb.NewWebSocketTransport(utils.NewTLSConfig()),
		ledger:    l,
		pool:      pool.NewPool(settings.PoolMaxWorkers, settings.PoolQueueSize),
	}

	sessionOpts := append([]console.Option{
		console.WithConnectTimeout(settings.ConnectTimeout),
		console.WithReservationLog(l),
	}, opts...)
	a.registry = console.NewRegistry(func(serverUUID string) *console.Session {
		return console.NewSession(serverUUID, a.broker, a.transport, sessionOpts...)
	}, a.pool)

	return a, nil
}

// openConsole opens a console for serverUUID on the pool. An interrupt
// through ctx while the open is in flight closes the session, which releases
// whatever was reserved.
func (a *app) openConsole(ctx context.Context, serverUUID string, out io.Writer) (*console.Session, error) {
	_, _ = fmt.Fprintf(out, "Requesting console for server %s...\n", serverUUID)

	// The broker call is never cancelled; Close interrupts the connect.
	s, result, err := a.registry.OpenAsync(context.WithoutCancel(ctx), serverUUID)
	if err != nil {
		return nil, err
	}

	select {
	case err = <-result:
		if err != nil {
			return nil, fmt.Errorf("failed to open console for server %s: %w", serverUUID, err)
		}
	case <-ctx.Done():
		_, _ = fmt.Fprintln(out, "Interrupted, releasing console...")
		if closeErr := a.registry.Close(context.Background(), serverUUID); closeErr != nil {
			log.Warn().Err(closeErr).Msgf("Failed to release console for server %s.", serverUUID)
		}
		return nil, ctx.Err()
	}

	endpoint, _ := s.Endpoint()
	_, _ = fmt.Fprintf(out, "Connected to console of server %s at %s.\n", serverUUID, endpoint)
	return s, nil
}

func (a *app) close() {
	ctx := context.Background()
	if err := a.registry.CloseAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to release some consoles.")
	}
	if err := a.pool.Shutdown(poolShutdownTimeout); err != nil {
		log.Debug().Err(err).Msg("Worker pool did not stop in time.")
	}
	if err := a.ledger.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close reservation ledger.")
	}
}
