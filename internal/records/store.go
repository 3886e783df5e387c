// Package records keeps the admin-visible state of each asset in SQLite,
// updated from pipeline completion events.
package records

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"abr-pipeline/internal/notify"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// State values stored in the assets table.
const (
	StateProcessing = "processing"
	StateReady      = "ready"
	StateFailed     = "failed"
)

// ReasonInterrupted marks rows a previous process left in flight.
const ReasonInterrupted = "interrupted"

// ErrNotFound is returned by Get for an unknown asset.
var ErrNotFound = errors.New("asset record not found")

// Record is one row of the assets table.
type Record struct {
	ID          string
	Collection  string
	State       string
	Generation  int
	RunID       string
	ManifestKey string
	Rendition   string
	Error       string
	UpdatedAt   time.Time
}

// Store is the SQLite-backed record table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
			for _, p := range []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
			} {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	registerHook()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; WAL keeps readers concurrent
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkProcessing records that a new pipeline run started for the asset.
func (s *Store) MarkProcessing(ctx context.Context, assetID, collection string, generation int, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, collection, state, generation, run_id, manifest_key, rendition, error, updated_at)
		VALUES (?, ?, ?, ?, ?, '', '', '', ?)
		ON CONFLICT (id) DO UPDATE SET
			collection = excluded.collection,
			state = excluded.state,
			generation = excluded.generation,
			run_id = excluded.run_id,
			rendition = '',
			error = '',
			updated_at = excluded.updated_at`,
		assetID, collection, StateProcessing, generation, runID, s.stamp())
	if err != nil {
		return fmt.Errorf("mark %s processing: %w", assetID, err)
	}
	return nil
}

// Notify implements notify.Notifier. Events from a run older than the row's
// current one are ignored. A ready event keeps the manifest key; a failed
// event leaves the previous run's manifest key in place, since that manifest
// is still the one published.
func (s *Store) Notify(ctx context.Context, ev notify.Event) error {
	var (
		res sql.Result
		err error
	)
	switch ev.Type {
	case notify.EventReady:
		res, err = s.db.ExecContext(ctx, `
			UPDATE assets SET state = ?, manifest_key = ?, rendition = '', error = '', updated_at = ?
			WHERE id = ? AND generation = ?`,
			StateReady, ev.ManifestKey, s.stamp(), ev.AssetID, ev.Generation)
	case notify.EventFailed:
		res, err = s.db.ExecContext(ctx, `
			UPDATE assets SET state = ?, rendition = ?, error = ?, updated_at = ?
			WHERE id = ? AND generation = ?`,
			StateFailed, ev.Rendition, ev.Reason, s.stamp(), ev.AssetID, ev.Generation)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	if err != nil {
		return fmt.Errorf("record %s for %s: %w", ev.Type, ev.AssetID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s for %s generation %d: %w", ev.Type, ev.AssetID, ev.Generation, ErrNotFound)
	}
	return nil
}

// Get returns the record for assetID.
func (s *Store) Get(ctx context.Context, assetID string) (Record, error) {
	var (
		r       Record
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, collection, state, generation, run_id, manifest_key, rendition, error, updated_at
		FROM assets WHERE id = ?`, assetID).
		Scan(&r.ID, &r.Collection, &r.State, &r.Generation, &r.RunID, &r.ManifestKey, &r.Rendition, &r.Error, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", assetID, err)
	}
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return r, nil
}

// Generation returns the asset's latest generation, or 0 when unknown.
func (s *Store) Generation(ctx context.Context, assetID string) (int, error) {
	r, err := s.Get(ctx, assetID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return r.Generation, err
}

// ResetInterrupted fails every row still marked processing. Called at startup:
// no run survives a restart.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE assets SET state = ?, error = ?, updated_at = ?
		WHERE state = ?`,
		StateFailed, ReasonInterrupted, s.stamp(), StateProcessing)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) stamp() string {
	return s.now().Format(time.RFC3339Nano)
}

var _ notify.Notifier = (*Store)(nil)
