package logging

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// TargetConfig represents a JSON log file destination stored in the database
type TargetConfig struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Label       string      `json:"label"` // category written on every entry
	Path        string      `json:"path"`
	MaxEntries  int         `json:"max_entries"`
	FlushPolicy FlushPolicy `json:"flush_policy"` // "always" | "manual"
	FilterLevel string      `json:"filter_level"` // any logrus level name
	Enabled     bool        `json:"enabled"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

const targetsSchema = `
CREATE TABLE IF NOT EXISTS json_log_targets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	label TEXT NOT NULL,
	path TEXT NOT NULL,
	max_entries INTEGER NOT NULL DEFAULT 2000,
	flush_policy TEXT NOT NULL DEFAULT 'always',
	filter_level TEXT NOT NULL DEFAULT 'info',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

const targetColumns = `id, name, label, path, max_entries, flush_policy, filter_level, enabled, created_at, updated_at`

// TargetStore manages JSON log targets in SQLite
type TargetStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// OpenTargetDB opens (creating if needed) the SQLite database holding logging targets
func OpenTargetDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// NewTargetStore creates a target store, creating its table when missing
func NewTargetStore(db *sql.DB, logger *logrus.Logger) (*TargetStore, error) {
	s := &TargetStore{
		db:     db,
		logger: logger,
	}
	if err := s.EnsureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the targets table if it does not exist
func (s *TargetStore) EnsureSchema() error {
	if _, err := s.db.Exec(targetsSchema); err != nil {
		return fmt.Errorf("failed to create logging targets table: %w", err)
	}
	return nil
}

// List returns all logging targets
func (s *TargetStore) List() ([]TargetConfig, error) {
	rows, err := s.db.Query(`SELECT ` + targetColumns + ` FROM json_log_targets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query logging targets: %w", err)
	}
	defer rows.Close()

	return scanTargets(rows)
}

// ListEnabled returns all enabled logging targets
func (s *TargetStore) ListEnabled() ([]TargetConfig, error) {
	rows, err := s.db.Query(`SELECT ` + targetColumns + ` FROM json_log_targets WHERE enabled = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled logging targets: %w", err)
	}
	defer rows.Close()

	return scanTargets(rows)
}

// Get returns a single logging target by ID
func (s *TargetStore) Get(id string) (*TargetConfig, error) {
	row := s.db.QueryRow(`SELECT `+targetColumns+` FROM json_log_targets WHERE id = ?`, id)

	cfg, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get logging target: %w", err)
	}
	return cfg, nil
}

// Create inserts a new logging target
func (s *TargetStore) Create(cfg *TargetConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	applyTargetDefaults(cfg)

	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if err := validateTargetConfig(cfg); err != nil {
		return err
	}

	_, err := s.db.Exec(`
	INSERT INTO json_log_targets (`+targetColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Name, cfg.Label, cfg.Path, cfg.MaxEntries,
		string(cfg.FlushPolicy), cfg.FilterLevel, boolToInt(cfg.Enabled),
		now.Unix(), now.Unix(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrTargetExists, cfg.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create logging target: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"id":   cfg.ID,
		"name": cfg.Name,
		"path": cfg.Path,
	}).Info("Logging target created")

	return nil
}

// Update modifies an existing logging target
func (s *TargetStore) Update(cfg *TargetConfig) error {
	applyTargetDefaults(cfg)
	if err := validateTargetConfig(cfg); err != nil {
		return err
	}

	now := time.Now()
	cfg.UpdatedAt = now

	result, err := s.db.Exec(`
	UPDATE json_log_targets SET
		name = ?, label = ?, path = ?, max_entries = ?, flush_policy = ?,
		filter_level = ?, enabled = ?, updated_at = ?
	WHERE id = ?`,
		cfg.Name, cfg.Label, cfg.Path, cfg.MaxEntries, string(cfg.FlushPolicy),
		cfg.FilterLevel, boolToInt(cfg.Enabled), now.Unix(), cfg.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrTargetExists, cfg.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to update logging target: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, cfg.ID)
	}

	s.logger.WithFields(logrus.Fields{
		"id":   cfg.ID,
		"name": cfg.Name,
	}).Info("Logging target updated")

	return nil
}

// Delete removes a logging target
func (s *TargetStore) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM json_log_targets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete logging target: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}

	s.logger.WithField("id", id).Info("Logging target deleted")
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTarget(row rowScanner) (*TargetConfig, error) {
	var cfg TargetConfig
	var flushPolicy string
	var enabled int
	var createdAt, updatedAt int64

	err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.Label, &cfg.Path, &cfg.MaxEntries,
		&flushPolicy, &cfg.FilterLevel, &enabled, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.FlushPolicy = FlushPolicy(flushPolicy)
	cfg.Enabled = enabled == 1
	cfg.CreatedAt = time.Unix(createdAt, 0)
	cfg.UpdatedAt = time.Unix(updatedAt, 0)
	return &cfg, nil
}

// scanTargets scans rows into TargetConfig slice
func scanTargets(rows *sql.Rows) ([]TargetConfig, error) {
	var targets []TargetConfig
	for rows.Next() {
		cfg, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan logging target: %w", err)
		}
		targets = append(targets, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read logging targets: %w", err)
	}
	return targets, nil
}

func applyTargetDefaults(cfg *TargetConfig) {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.FlushPolicy == "" {
		cfg.FlushPolicy = FlushAlways
	}
	if cfg.FilterLevel == "" {
		cfg.FilterLevel = logrus.InfoLevel.String()
	}
}

// validateTargetConfig validates a target configuration
func validateTargetConfig(cfg *TargetConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: target name is required", ErrInvalidTarget)
	}
	if cfg.Label == "" {
		return fmt.Errorf("%w: target label is required", ErrInvalidTarget)
	}
	if cfg.Path == "" {
		return fmt.Errorf("%w: target path is required", ErrInvalidTarget)
	}
	if cfg.MaxEntries <= 0 {
		return fmt.Errorf("%w: max entries must be positive", ErrInvalidTarget)
	}
	if _, err := ParseFlushPolicy(string(cfg.FlushPolicy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if _, err := logrus.ParseLevel(cfg.FilterLevel); err != nil {
		return fmt.Errorf("%w: invalid filter level: %s", ErrInvalidTarget, cfg.FilterLevel)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
