package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/nishantd01/sheetwatch/models"
)

const (
	keyScriptID      = "scriptId"
	keyDeploymentURL = "deploymentUrl"
)

// ErrNoInstallation is returned by Load when no installation has been saved.
var ErrNoInstallation = errors.New("no installation saved")

// InstallationStore persists the two installation identifiers across
// restarts. Nothing else is ever written here.
type InstallationStore struct {
	db *sql.DB
}

// Open opens (and if needed creates) the backing sqlite database.
func Open(dsn string) (*InstallationStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	_, err = conn.Exec(`CREATE TABLE IF NOT EXISTS installation (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create installation table: %w", err)
	}

	return &InstallationStore{db: conn}, nil
}

// Close closes the underlying database.
func (s *InstallationStore) Close() error {
	return s.db.Close()
}

// Save writes both identifiers atomically.
func (s *InstallationStore) Save(ctx context.Context, inst models.Installation) error {
	if inst.ScriptID == "" || inst.DeploymentURL == "" {
		return errors.New("installation requires both scriptId and deploymentUrl")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO installation (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, upsert, keyScriptID, inst.ScriptID); err != nil {
		return fmt.Errorf("save scriptId: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, keyDeploymentURL, inst.DeploymentURL); err != nil {
		return fmt.Errorf("save deploymentUrl: %w", err)
	}

	return tx.Commit()
}

// Load reads the saved installation. Returns ErrNoInstallation when either
// key is absent, so a half-written record never surfaces as installed.
func (s *InstallationStore) Load(ctx context.Context) (models.Installation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM installation`)
	if err != nil {
		return models.Installation{}, fmt.Errorf("load installation: %w", err)
	}
	defer rows.Close()

	var inst models.Installation
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return models.Installation{}, fmt.Errorf("scan installation: %w", err)
		}
		switch key {
		case keyScriptID:
			inst.ScriptID = value
		case keyDeploymentURL:
			inst.DeploymentURL = value
		}
	}
	if err := rows.Err(); err != nil {
		return models.Installation{}, err
	}

	if inst.ScriptID == "" || inst.DeploymentURL == "" {
		return models.Installation{}, ErrNoInstallation
	}
	return inst, nil
}

// Clear removes the saved installation. Clearing an empty store is fine.
func (s *InstallationStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM installation`)
	if err != nil {
		return fmt.Errorf("clear installation: %w", err)
	}
	return nil
}
