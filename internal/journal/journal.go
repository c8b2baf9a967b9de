// Package journal is the SQLite-backed run log.
//
// Every reconcile invocation appends one Run: the raw event payload, the
// patch document that was planned (as canonical JSON, with its content
// hash), and the outcome. The journal is what `history` lists and what
// `replay` feeds back through the engine.
//
// Rows are ordered by a logical seq column, assigned inside the insert
// transaction, never by wall time.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/boardsync/internal/canonical"
	"github.com/roach88/boardsync/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion is stamped into user_version. A journal with a
// higher version was written by a newer release and is refused.
const currentSchemaVersion = 1

// ErrRunNotFound is returned by Get for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// IDGenerator produces run ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Run is one journaled invocation.
type Run struct {
	ID          string
	Seq         int64
	RecordedAt  time.Time
	DeliveryID  string
	Kind        string
	Repo        string
	IssueNumber int
	Payload     []byte
	PayloadHash string
	Patch       remote.Document
	PatchHash   string
	Action      string
	RecordID    int
	Reason      string
	ErrorCode   string
	Error       string
}

// Failed reports whether the run ended in an error.
func (r Run) Failed() bool {
	return r.Error != ""
}

// Journal is an open run log.
type Journal struct {
	db  *sql.DB
	ids IDGenerator
	now func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithIDGenerator replaces the UUIDv7 run id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(j *Journal) { j.ids = g }
}

// WithClock replaces time.Now for recorded_at.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open creates or opens the journal at path and stamps the schema version.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	j := &Journal{db: db, ids: UUIDv7Generator{}, now: time.Now}
	for _, o := range opts {
		o(j)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("journal schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Record appends run and returns it with ID (when empty), Seq, RecordedAt
// and both hashes filled in. Recording the same id twice is a no-op.
func (j *Journal) Record(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = j.ids.Generate()
	}
	run.RecordedAt = j.now().UTC()
	if run.Payload == nil {
		run.Payload = []byte{}
	}
	run.PayloadHash = canonical.HashBytes(canonical.DomainPayload, run.Payload)

	patchJSON := run.Patch.JSON()
	hash, err := run.Patch.Hash()
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}
	run.PatchHash = hash

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&run.Seq); err != nil {
		return Run{}, fmt.Errorf("record run: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, recorded_at, delivery_id, kind, repo, issue_number, payload, payload_hash,
		 patch, patch_hash, action, record_id, reason, error_code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Seq,
		run.RecordedAt.Format(time.RFC3339Nano),
		run.DeliveryID,
		run.Kind,
		run.Repo,
		run.IssueNumber,
		run.Payload,
		run.PayloadHash,
		patchJSON,
		run.PatchHash,
		run.Action,
		run.RecordID,
		run.Reason,
		run.ErrorCode,
		run.Error,
	)
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("record run: commit: %w", err)
	}
	return run, nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Repo        string
	IssueNumber int
	FailedOnly  bool

	// Limit keeps the most recent runs. Zero means no limit.
	Limit int
}

const selectRun = `
	SELECT id, seq, recorded_at, delivery_id, kind, repo, issue_number, payload, payload_hash,
	       patch, patch_hash, action, record_id, reason, error_code, error
	FROM runs`

// List returns runs matching f, oldest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Run, error) {
	query := selectRun + ` WHERE 1 = 1`
	var args []any
	if f.Repo != "" {
		query += ` AND repo = ?`
		args = append(args, f.Repo)
	}
	if f.IssueNumber != 0 {
		query += ` AND issue_number = ?`
		args = append(args, f.IssueNumber)
	}
	if f.FailedOnly {
		query += ` AND error != ''`
	}
	query += ` ORDER BY seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	// Newest-first for the LIMIT; hand back oldest-first.
	for i, k := 0, len(runs)-1; i < k; i, k = i+1, k-1 {
		runs[i], runs[k] = runs[k], runs[i]
	}
	return runs, nil
}

// Get returns the run with id.
func (j *Journal) Get(ctx context.Context, id string) (Run, error) {
	row := j.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run        Run
		recordedAt string
		patchJSON  string
	)
	err := s.Scan(
		&run.ID, &run.Seq, &recordedAt, &run.DeliveryID, &run.Kind, &run.Repo, &run.IssueNumber,
		&run.Payload, &run.PayloadHash, &patchJSON, &run.PatchHash, &run.Action, &run.RecordID,
		&run.Reason, &run.ErrorCode, &run.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	if run.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
		return Run{}, fmt.Errorf("scan run %s: recorded_at: %w", run.ID, err)
	}
	if run.Patch, err = remote.ParseDocument([]byte(patchJSON)); err != nil {
		return Run{}, fmt.Errorf("scan run %s: patch: %w", run.ID, err)
	}
	return run, nil
}
