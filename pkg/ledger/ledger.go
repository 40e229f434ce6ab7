// Package ledger keeps a local record of console pipes that were reserved
// on the control plane and not yet released, so a crashed client's pipes can
// be released later.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/clusterlabs/striker-console/pkg/db"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"
)

// Reservation is one pipe held on the control plane.
type Reservation struct {
	SessionID  string
	ServerUUID string
	Protocol   string
	Host       string
	Port       int
	PID        int
	ReservedAt time.Time
}

// PipeCloser releases a pipe on the control plane.
type PipeCloser interface {
	ClosePipe(ctx context.Context, serverUUID string) error
}

type Ledger struct {
	db *sql.DB
}

// DefaultPath is used when no ledger path is configured.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".striker-console", "ledger.db")
}

// Open opens (creating if needed) the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Ledger{db: conn}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores a reservation. PID and ReservedAt default to this process
// and now.
func (l *Ledger) Record(ctx context.Context, r Reservation) error {
	if r.PID == 0 {
		r.PID = os.Getpid()
	}
	if r.ReservedAt.IsZero() {
		r.ReservedAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO reservations
		(session_id, server_uuid, protocol, host, port, pid, reserved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.ServerUUID, r.Protocol, r.Host, r.Port, r.PID,
		r.ReservedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record reservation: %w", err)
	}
	return nil
}

// Remove deletes the reservation held by sessionID. Removing an unknown
// session is not an error.
func (l *Ledger) Remove(ctx context.Context, sessionID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM reservations WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to remove reservation: %w", err)
	}
	return nil
}

// RemoveServer deletes every reservation held for serverUUID and reports
// how many were removed.
func (l *Ledger) RemoveServer(ctx context.Context, serverUUID string) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM reservations WHERE server_uuid = ?`, serverUUID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove reservations for server %s: %w", serverUUID, err)
	}
	return res.RowsAffected()
}

// Outstanding returns every recorded reservation, oldest first.
func (l *Ledger) Outstanding(ctx context.Context) ([]Reservation, error) {
	rows, err := l.db.QueryContext(ctx, `
	SELECT session_id, server_uuid, protocol, host, port, pid, reserved_at
	FROM reservations ORDER BY reserved_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		var reservedAt string
		if err := rows.Scan(&r.SessionID, &r.ServerUUID, &r.Protocol, &r.Host, &r.Port, &r.PID, &reservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		r.ReservedAt, _ = time.Parse(time.RFC3339Nano, reservedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Orphans returns reservations whose owning process is gone.
func (l *Ledger) Orphans(ctx context.Context) ([]Reservation, error) {
	all, err := l.Outstanding(ctx)
	if err != nil {
		return nil, err
	}

	var orphans []Reservation
	for _, r := range all {
		if r.PID != os.Getpid() && !processAlive(ctx, r.PID) {
			orphans = append(orphans, r)
		}
	}
	return orphans, nil
}

// ReleaseOrphans releases every orphaned reservation through closer and
// removes the ones that were released. Failures are collected, not fatal.
func (l *Ledger) ReleaseOrphans(ctx context.Context, closer PipeCloser) (int, error) {
	orphans, err := l.Orphans(ctx)
	if err != nil {
		return 0, err
	}

	released := 0
	var errs []error
	for _, r := range orphans {
		if err := closer.ClosePipe(ctx, r.ServerUUID); err != nil {
			log.Warn().Err(err).Msgf("Failed to release orphaned console pipe for server %s.", r.ServerUUID)
			errs = append(errs, fmt.Errorf("server %s: %w", r.ServerUUID, err))
			continue
		}
		if err := l.Remove(ctx, r.SessionID); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Info().Msgf("Released orphaned console pipe for server %s (session %s).", r.ServerUUID, r.SessionID)
		released++
	}
	return released, errors.Join(errs...)
}

func processAlive(ctx context.Context, pid int) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		log.Debug().Err(err).Msgf("Failed to check process %d, assuming it is alive.", pid)
		return true
	}
	return exists
}
