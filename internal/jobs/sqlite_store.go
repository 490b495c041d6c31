package jobs

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		status TEXT NOT NULL,
		file_path TEXT NOT NULL,
		result_text TEXT,
		content_preview TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs(owner_id, created_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateJob(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	if job.OwnerID == "" {
		return errors.New("job.OwnerID is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = StatusProcessing
	}

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, owner_id, original_filename, status, file_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.OriginalFilename, string(job.Status), job.FilePath,
		job.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(id, ownerID string) (*Job, error) {
	row := s.db.QueryRow(`SELECT id, owner_id, original_filename, status, file_path, result_text, content_preview, created_at
		FROM jobs WHERE id = ? AND owner_id = ?`, id, ownerID)

	var job Job
	var status, created string
	var result, preview sql.NullString

	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.OriginalFilename,
		&status,
		&job.FilePath,
		&result,
		&preview,
		&created,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Status = Status(status)
	if result.Valid {
		v := result.String
		job.ResultText = &v
	}
	if preview.Valid {
		v := preview.String
		job.ContentPreview = &v
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		job.CreatedAt = t
	}
	return &job, nil
}

func (s *SQLiteStore) ListByOwner(ownerID string) ([]Summary, error) {
	rows, err := s.db.Query(`SELECT id, original_filename, created_at
		FROM jobs WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var s Summary
		var created string
		if err := rows.Scan(&s.ID, &s.OriginalFilename, &created); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			s.CreatedAt = t
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// MarkCompleted persists the terminal success state. Result, preview, path
// and status land in one UPDATE so polling readers never observe a partial
// transition.
func (s *SQLiteStore) MarkCompleted(id, resultText, contentPreview, finalPath string) error {
	res, err := s.db.Exec(`UPDATE jobs
		SET result_text = ?, content_preview = ?, file_path = ?, status = ?
		WHERE id = ? AND status = ?`,
		resultText, contentPreview, finalPath, string(StatusCompleted), id, string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireTransition(res, id)
}

func (s *SQLiteStore) MarkFailed(id, reason string) error {
	res, err := s.db.Exec(`UPDATE jobs
		SET status = ?, result_text = ?
		WHERE id = ? AND status = ?`,
		string(StatusFailed), reason, id, string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireTransition(res, id)
}

func (s *SQLiteStore) FailStaleProcessing(reason string) (int64, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, result_text = ? WHERE status = ?`,
		string(StatusFailed), reason, string(StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// requireTransition enforces the one-way status machine: the UPDATE above
// only matches rows still in processing, so a second terminal write is a
// no-op at the storage layer and reported as an error to the caller.
func requireTransition(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: no processing row to transition", id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
