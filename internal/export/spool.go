package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

const spoolSchema = `
CREATE TABLE IF NOT EXISTS print_jobs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	frame TEXT NOT NULL,
	order_code TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	png BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	printed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_print_jobs_pending ON print_jobs(created_at) WHERE printed_at IS NULL;
`

// SpoolJob is a queued print job without its image.
type SpoolJob struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Frame     string    `json:"frame"`
	OrderCode string    `json:"order_code"`
	Device    string    `json:"device"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Spool is a local print queue stored in SQLite. A separate printer
// daemon drains it with Pending, PNG and MarkPrinted.
type Spool struct {
	db *sql.DB
}

// OpenSpool opens (creating if needed) the spool database at path.
// ":memory:" gives a throwaway queue.
func OpenSpool(path string) (*Spool, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("spool: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("spool: open %s: %w", path, err)
	}
	// One connection keeps an in-memory queue alive and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("spool: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(spoolSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("spool: schema: %w", err)
	}
	debug.Info("Print spool ready at %s", path)
	return &Spool{db: db}, nil
}

// Close closes the database.
func (s *Spool) Close() error {
	return s.db.Close()
}

func (s *Spool) Name() string { return "print" }

// Dispatch enqueues the job.
func (s *Spool) Dispatch(ctx context.Context, job Job) (Receipt, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO print_jobs (id, session_id, frame, order_code, device, png, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SessionID, job.Frame, job.OrderCode, job.Device, job.PNG, time.Now().UnixMilli())
	if err != nil {
		return Receipt{}, fmt.Errorf("spool: enqueue %s: %w", job.ID, err)
	}
	debug.Verbose("Spool: queued %s (%d bytes)", job.ID, len(job.PNG))
	return Receipt{Destination: s.Name(), Ref: job.ID}, nil
}

// Pending lists jobs not printed yet, oldest first.
func (s *Spool) Pending(ctx context.Context) ([]SpoolJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, frame, order_code, device, length(png), created_at
		 FROM print_jobs WHERE printed_at IS NULL ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("spool: pending: %w", err)
	}
	defer rows.Close()

	var jobs []SpoolJob
	for rows.Next() {
		var j SpoolJob
		var created int64
		if err := rows.Scan(&j.ID, &j.SessionID, &j.Frame, &j.OrderCode, &j.Device, &j.Size, &created); err != nil {
			return nil, fmt.Errorf("spool: scan: %w", err)
		}
		j.CreatedAt = time.UnixMilli(created)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// PNG returns the image of a queued job.
func (s *Spool) PNG(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT png FROM print_jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("spool: %w %s", ErrUnknownJob, id)
	}
	if err != nil {
		return nil, fmt.Errorf("spool: read %s: %w", id, err)
	}
	return data, nil
}

// MarkPrinted removes the job from the pending list.
func (s *Spool) MarkPrinted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE print_jobs SET printed_at = ? WHERE id = ? AND printed_at IS NULL`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("spool: mark %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("spool: %w %s (not pending)", ErrUnknownJob, id)
	}
	debug.Verbose("Spool: %s printed", id)
	return nil
}
