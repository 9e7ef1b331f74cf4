// Package sources keeps the ledger of ingested sources and ingestion runs.
package sources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/ragpipe/internal/db"
)

// ErrNotFound is returned when a source or run is not in the ledger.
var ErrNotFound = errors.New("not found")

// Source is the ledger record of the last successful ingestion of a source.
type Source struct {
	Name        string    `json:"source"`
	FilePath    string    `json:"file_path,omitempty"`
	ChunkCount  int       `json:"chunk_count"`
	ContentHash string    `json:"content_hash,omitempty"`
	IDPolicy    string    `json:"id_policy"`
	RunID       string    `json:"run_id"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// Run records one batch ingestion.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Successful int        `json:"successful"`
	Failed     int        `json:"failed"`
}

// Store provides CRUD operations for the ledger.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Upsert records src, replacing any previous record of the same name.
func (s *Store) Upsert(ctx context.Context, src Source) error {
	if src.IngestedAt.IsZero() {
		src.IngestedAt = time.Now()
	}
	if src.IDPolicy == "" {
		src.IDPolicy = "deterministic"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (name, file_path, chunk_count, content_hash, id_policy, run_id, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			file_path = excluded.file_path,
			chunk_count = excluded.chunk_count,
			content_hash = excluded.content_hash,
			id_policy = excluded.id_policy,
			run_id = excluded.run_id,
			ingested_at = excluded.ingested_at`,
		src.Name,
		src.FilePath,
		src.ChunkCount,
		src.ContentHash,
		src.IDPolicy,
		src.RunID,
		formatTime(src.IngestedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting source %s: %w", src.Name, err)
	}
	return nil
}

// Get returns the record for name, or ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, file_path, chunk_count, content_hash, id_policy, run_id, ingested_at
		FROM sources WHERE name = ?`, name)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return src, err
}

// List returns every source ordered by name.
func (s *Store) List(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, file_path, chunk_count, content_hash, id_policy, run_id, ingested_at
		FROM sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// Count returns the number of recorded sources.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sources").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sources: %w", err)
	}
	return n, nil
}

// Delete removes the record for name. Deleting an unknown source is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sources WHERE name = ?", name); err != nil {
		return fmt.Errorf("deleting source %s: %w", name, err)
	}
	return nil
}

// Clear removes every source and run.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sources; DELETE FROM ingest_runs;"); err != nil {
		return fmt.Errorf("clearing ledger: %w", err)
	}
	return nil
}

// StartRun records the start of a batch ingestion and returns it.
func (s *Store) StartRun(ctx context.Context, kind string) (*Run, error) {
	run := &Run{ID: uuid.New().String(), Kind: kind, StartedAt: time.Now()}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ingest_runs (id, kind, started_at) VALUES (?, ?, ?)",
		run.ID, run.Kind, formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting ingest run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final counters of run.
func (s *Store) FinishRun(ctx context.Context, run *Run) error {
	now := time.Now()
	run.FinishedAt = &now
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET finished_at = ?, total = ?, successful = ?, failed = ?
		WHERE id = ?`,
		formatTime(now), run.Total, run.Successful, run.Failed, run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating ingest run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs first. A limit of zero returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT id, kind, started_at, finished_at, total, successful, failed FROM ingest_runs ORDER BY started_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &started, &finished, &r.Total, &r.Successful, &r.Failed); err != nil {
			return nil, fmt.Errorf("scanning ingest run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, err
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSource(sc scanner) (*Source, error) {
	var (
		src Source
		ts  string
	)
	err := sc.Scan(&src.Name, &src.FilePath, &src.ChunkCount, &src.ContentHash, &src.IDPolicy, &src.RunID, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning source: %w", err)
	}
	if src.IngestedAt, err = parseTime(ts); err != nil {
		return nil, err
	}
	return &src, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
