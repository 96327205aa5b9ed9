package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database, creating its directory, and enables WAL mode
// for file databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if s.cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// RecordSnapshot stores a snapshot, assigning an ID and timestamp when unset
func (s *SQLiteStore) RecordSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	snapshot.CreatedAt = snapshot.CreatedAt.UTC()

	query := `
		INSERT INTO snapshots (id, command, document_path, document_hash, item_count, violation_count, drifted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		snapshot.ID,
		snapshot.Command,
		snapshot.DocumentPath,
		snapshot.DocumentHash,
		snapshot.ItemCount,
		snapshot.ViolationCount,
		snapshot.Drifted,
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}

	return nil
}

const snapshotColumns = `id, command, document_path, document_hash, item_count, violation_count, drifted, created_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*Snapshot, error) {
	snap := &Snapshot{}
	err := row.Scan(
		&snap.ID,
		&snap.Command,
		&snap.DocumentPath,
		&snap.DocumentHash,
		&snap.ItemCount,
		&snap.ViolationCount,
		&snap.Drifted,
		&snap.CreatedAt,
	)
	return snap, err
}

// LatestSnapshot returns the newest snapshot, limited to command when it is non-empty
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, command string) (*Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE (? = '' OR command = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, command, command))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no snapshot recorded", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return snap, nil
}

// ListSnapshots lists snapshots newest first
func (s *SQLiteStore) ListSnapshots(ctx context.Context, limit, offset int) ([]*Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, pageLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []*Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// RecordActionRun stores the outcome of one action execution
func (s *SQLiteStore) RecordActionRun(ctx context.Context, run *ActionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.EndedAt.IsZero() {
		run.EndedAt = run.StartedAt
	}
	run.StartedAt = run.StartedAt.UTC()
	run.EndedAt = run.EndedAt.UTC()

	command := run.Command
	if command == nil {
		command = []string{}
	}
	commandJSON, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	query := `
		INSERT INTO action_runs (id, token, work_item_id, ok, exit_code, command, stdout, stderr, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Token,
		run.WorkItemID,
		run.OK,
		run.ExitCode,
		string(commandJSON),
		run.Stdout,
		run.Stderr,
		run.Error,
		run.StartedAt,
		run.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record action run: %w", err)
	}

	return nil
}

const actionRunColumns = `id, token, work_item_id, ok, exit_code, command, stdout, stderr, error, started_at, ended_at`

func scanActionRun(row interface{ Scan(...any) error }) (*ActionRun, error) {
	run := &ActionRun{}
	var command string
	err := row.Scan(
		&run.ID,
		&run.Token,
		&run.WorkItemID,
		&run.OK,
		&run.ExitCode,
		&command,
		&run.Stdout,
		&run.Stderr,
		&run.Error,
		&run.StartedAt,
		&run.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(command), &run.Command); err != nil {
		return nil, fmt.Errorf("failed to decode command of run %s: %w", run.ID, err)
	}
	return run, nil
}

// GetActionRun retrieves an action run by ID
func (s *SQLiteStore) GetActionRun(ctx context.Context, id string) (*ActionRun, error) {
	query := `SELECT ` + actionRunColumns + ` FROM action_runs WHERE id = ?`

	run, err := scanActionRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: action run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action run: %w", err)
	}

	return run, nil
}

// ListActionRuns lists action runs newest first, optionally for one work item
func (s *SQLiteStore) ListActionRuns(ctx context.Context, workItemID *string, limit, offset int) ([]*ActionRun, error) {
	query := `
		SELECT ` + actionRunColumns + `
		FROM action_runs
		WHERE (? IS NULL OR work_item_id = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, workItemID, workItemID, pageLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list action runs: %w", err)
	}
	defer rows.Close()

	return collectActionRuns(rows)
}

// LatestRunsByWorkItem returns the most recent run of every work item that has one
func (s *SQLiteStore) LatestRunsByWorkItem(ctx context.Context) (map[string]*ActionRun, error) {
	query := `
		SELECT ` + actionRunColumns + `
		FROM action_runs a
		WHERE a.work_item_id != ''
		  AND a.rowid = (
			SELECT b.rowid FROM action_runs b
			WHERE b.work_item_id = a.work_item_id
			ORDER BY b.started_at DESC, b.rowid DESC
			LIMIT 1
		  )
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest runs: %w", err)
	}
	defer rows.Close()

	runs, err := collectActionRuns(rows)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*ActionRun, len(runs))
	for _, run := range runs {
		latest[run.WorkItemID] = run
	}
	return latest, nil
}

func collectActionRuns(rows *sql.Rows) ([]*ActionRun, error) {
	runs := []*ActionRun{}
	for rows.Next() {
		run, err := scanActionRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action runs: %w", err)
	}

	return runs, nil
}

// AppendEvent appends an event to the event log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	query := `
		INSERT INTO events (event_id, type, source, work_item_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.Type,
		event.Source,
		event.WorkItemID,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents retrieves events newest first
func (s *SQLiteStore) ListEvents(ctx context.Context, q EventQuery) ([]*Event, error) {
	query := `
		SELECT id, event_id, type, source, work_item_id, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR type = ?)
		  AND (? IS NULL OR work_item_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		q.Type, q.Type,
		q.WorkItemID, q.WorkItemID,
		q.Level, q.Level,
		pageLimit(q.Limit), q.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.Type,
			&event.Source,
			&event.WorkItemID,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// Prune deletes snapshots, action runs and events older than before and
// returns the number of rows removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := before.UTC()
	statements := []string{
		`DELETE FROM snapshots WHERE created_at < ?`,
		`DELETE FROM action_runs WHERE started_at < ?`,
		`DELETE FROM events WHERE timestamp < ?`,
	}

	var total int64
	for _, stmt := range statements {
		result, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to prune: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return total, nil
}

// pageLimit maps a non-positive limit to SQLite's "no limit".
func pageLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
