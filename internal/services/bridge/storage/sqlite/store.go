package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/platform/storage/sqlitemigrate"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/storage"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed restart-job persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a bridge SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// UpsertJob inserts or replaces the job row keyed by its deterministic id.
func (s *Store) UpsertJob(ctx context.Context, job storage.RestartJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job.ID = strings.TrimSpace(job.ID)
	job.ServerID = strings.TrimSpace(job.ServerID)
	job.CronExpr = strings.TrimSpace(job.CronExpr)
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.ServerID == "" {
		return fmt.Errorf("server id is required")
	}
	if job.CronExpr == "" {
		return fmt.Errorf("cron expression is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO restart_jobs (id, server_id, cron_expr, next_execution)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	server_id = excluded.server_id,
	cron_expr = excluded.cron_expr,
	next_execution = excluded.next_execution
`,
		job.ID,
		job.ServerID,
		job.CronExpr,
		job.NextExecution.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// DeleteJob removes the job row.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, "DELETE FROM restart_jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (storage.RestartJob, error) {
	if err := ctx.Err(); err != nil {
		return storage.RestartJob{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, server_id, cron_expr, next_execution
FROM restart_jobs
WHERE id = ?
`, id)
	job, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RestartJob{}, storage.ErrJobNotFound
		}
		return storage.RestartJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs lists jobs with the given id prefix ordered by next execution.
func (s *Store) ListJobs(ctx context.Context, idPrefix string) ([]storage.RestartJob, error) {
	return s.listJobs(ctx, idPrefix, nil)
}

// ListDueJobs lists prefix-matching jobs due at or before cutoff.
func (s *Store) ListDueJobs(ctx context.Context, idPrefix string, cutoff time.Time) ([]storage.RestartJob, error) {
	return s.listJobs(ctx, idPrefix, &cutoff)
}

func (s *Store) listJobs(ctx context.Context, idPrefix string, cutoff *time.Time) ([]storage.RestartJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `
SELECT id, server_id, cron_expr, next_execution
FROM restart_jobs
WHERE id LIKE ? ESCAPE '\'
`
	args := []any{escapeLike(idPrefix) + "%"}
	if cutoff != nil {
		query += " AND next_execution <= ?"
		args = append(args, cutoff.UTC().UnixMilli())
	}
	query += " ORDER BY next_execution ASC, id ASC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []storage.RestartJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// SetNextExecution updates one job's next execution time.
func (s *Store) SetNextExecution(ctx context.Context, id string, next time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE restart_jobs SET next_execution = ? WHERE id = ?",
		next.UTC().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("set next execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set next execution rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

func scanJob(scan func(...any) error) (storage.RestartJob, error) {
	var job storage.RestartJob
	var next int64
	if err := scan(&job.ID, &job.ServerID, &job.CronExpr, &next); err != nil {
		return storage.RestartJob{}, err
	}
	job.NextExecution = time.UnixMilli(next).UTC()
	return job, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

var _ storage.JobStore = (*Store)(nil)
