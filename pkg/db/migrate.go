package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog/log"
)

//go:embed migration/*
var migrations embed.FS

// MigrationFile represents a migration file with its metadata
type MigrationFile struct {
	Version     string
	Description string
	Filename    string
	Content     string
}

// Open opens the sqlite database at path and applies pending migrations.
// sqlite allows one writer, so the pool is pinned to a single connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err = RunMigration(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// RunMigration executes database migrations from embedded migration files
func RunMigration(ctx context.Context, db *sql.DB) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := createMigrationTable(ctx, db); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrationFiles, err := readMigrationFiles()
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	appliedVersions, err := getAppliedMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedCount := 0
	for _, mf := range migrationFiles {
		if appliedVersions[mf.Version] {
			continue
		}

		log.Debug().Msgf("Applying migration: %s", mf.Filename)
		if err := applyMigration(ctx, db, mf); err != nil {
			log.Error().Err(err).Msgf("Failed to apply migration: %s", mf.Filename)
			return fmt.Errorf("migration %s failed: %w", mf.Version, err)
		}
		appliedCount++
	}

	if appliedCount > 0 {
		log.Debug().Msgf("Migrations completed: %d migration(s) applied", appliedCount)
	}
	return nil
}

func createMigrationTable(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_revisions (
		version TEXT NOT NULL PRIMARY KEY,
		description TEXT NOT NULL,
		executed_at DATETIME NOT NULL,
		execution_time INTEGER NOT NULL
	);`

	_, err := db.ExecContext(ctx, query)
	return err
}

// readMigrationFiles reads and parses all migration files from the embedded filesystem
func readMigrationFiles() ([]MigrationFile, error) {
	migrationFS, err := fs.Sub(migrations, "migration")
	if err != nil {
		return nil, fmt.Errorf("failed to get migration directory: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var files []MigrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(migrationFS, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", entry.Name(), err)
		}

		contentStr := strings.TrimSpace(string(content))
		if contentStr == "" {
			continue
		}

		version, description := parseMigrationFilename(entry.Name())
		files = append(files, MigrationFile{
			Version:     version,
			Description: description,
			Filename:    entry.Name(),
			Content:     contentStr,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Version < files[j].Version
	})

	return files, nil
}

// parseMigrationFilename splits "{version}_{description}.sql".
func parseMigrationFilename(filename string) (version, description string) {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))

	parts := strings.SplitN(name, "_", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return name, ""
}

func getAppliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_revisions")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// applyMigration executes a migration and records it within one transaction
func applyMigration(ctx context.Context, db *sql.DB, mf MigrationFile) error {
	startTime := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		rbErr := tx.Rollback()
		if rbErr != nil && rbErr != sql.ErrTxDone {
			log.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
	}()

	if _, err = tx.ExecContext(ctx, mf.Content); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_revisions (version, description, executed_at, execution_time) VALUES (?, ?, ?, ?)`,
		mf.Version,
		mf.Description,
		time.Now().Format(time.RFC3339),
		time.Since(startTime).Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
