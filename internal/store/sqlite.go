package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/studyforge/internal/domain"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	opts options
	// writeMu serializes read-modify-write transactions to avoid SQLITE_BUSY.
	writeMu sync.Mutex
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, opts: newOptions(opts)}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS assessment_sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		initial_goals TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		profile_json TEXT,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON assessment_sessions(expires_at);

	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		profile_json TEXT NOT NULL,
		topics_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		plan_id TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		profile_json TEXT,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		current_step TEXT NOT NULL DEFAULT '',
		artifacts_json TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		options_json TEXT NOT NULL,
		writer_token TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS artifacts (
		job_id TEXT NOT NULL,
		topic_slug TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		hash TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (job_id, topic_slug)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// --- sessions ---

const sessionColumns = `id, owner_id, subject, initial_goals, status, messages_json, profile_json, created_at, expires_at`

func scanSession(row rowScanner) (*domain.AssessmentSession, error) {
	var (
		sess                 domain.AssessmentSession
		status, messagesJSON string
		profileJSON          sql.NullString
		createdAt, expiresAt int64
	)
	if err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Subject, &sess.InitialGoals, &status,
		&messagesJSON, &profileJSON, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = fromMillis(createdAt)
	sess.ExpiresAt = fromMillis(expiresAt)
	if err := json.Unmarshal([]byte(messagesJSON), &sess.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if profileJSON.Valid && profileJSON.String != "" {
		var p domain.LearnerProfile
		if err := json.Unmarshal([]byte(profileJSON.String), &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		sess.Profile = &p
	}
	return &sess, nil
}

// CreateSession starts a new in-progress assessment session.
func (s *SQLiteStore) CreateSession(ctx context.Context, ownerID, subject, goals string) (*domain.AssessmentSession, error) {
	sess := newSession(s.opts, uuid.NewString(), ownerID, subject, goals)
	query := `INSERT INTO assessment_sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	err := withBusyRetry(ctx, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query, sess.ID, sess.OwnerID, sess.Subject, sess.InitialGoals,
			string(sess.Status), "[]", nil, toMillis(sess.CreatedAt), toMillis(sess.ExpiresAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) loadSession(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (*domain.AssessmentSession, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM assessment_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if sess.Expired(s.opts.now()) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionExpired)
	}
	return sess, nil
}

// GetSession returns a live session.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.AssessmentSession, error) {
	return s.loadSession(ctx, s.db, id)
}

// UpdateSession applies fn inside a transaction.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, fn func(*domain.AssessmentSession) error) (*domain.AssessmentSession, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var out *domain.AssessmentSession
	err := withBusyRetry(ctx, "update session", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			sess, err := s.loadSession(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := fn(sess); err != nil {
				return err
			}
			messages, err := json.Marshal(sess.Messages)
			if err != nil {
				return fmt.Errorf("encode messages: %w", err)
			}
			var profile any
			if sess.Profile != nil {
				if profile, err = nullJSON(sess.Profile); err != nil {
					return fmt.Errorf("encode profile: %w", err)
				}
			}
			_, err = tx.ExecContext(ctx, `UPDATE assessment_sessions SET status = ?, messages_json = ?, profile_json = ? WHERE id = ?`,
				string(sess.Status), string(messages), profile, id)
			if err != nil {
				return fmt.Errorf("update session: %w", err)
			}
			out = sess
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteExpiredSessions removes sessions whose TTL elapsed before now.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := withBusyRetry(ctx, "delete expired sessions", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM assessment_sessions WHERE expires_at <= ?`, toMillis(now))
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return n, nil
}

// --- plans ---

// SavePlan inserts or replaces a plan.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *domain.CurriculumPlan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("save plan: %w: id is required", domain.ErrInvalidInput)
	}
	profile, err := json.Marshal(plan.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	topics, err := json.Marshal(plan.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	query := `
	INSERT INTO plans (id, owner_id, subject, profile_json, topics_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		subject = excluded.subject,
		profile_json = excluded.profile_json,
		topics_json = excluded.topics_json`
	err = withBusyRetry(ctx, "save plan", func() error {
		_, err := s.db.ExecContext(ctx, query, plan.ID, plan.OwnerID, plan.Subject,
			string(profile), string(topics), toMillis(plan.CreatedAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// GetPlan returns a stored plan.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*domain.CurriculumPlan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, subject, profile_json, topics_json, created_at FROM plans WHERE id = ?`, id)

	var (
		plan                domain.CurriculumPlan
		profileJSON, topics string
		createdAt           int64
	)
	err := row.Scan(&plan.ID, &plan.OwnerID, &plan.Subject, &profileJSON, &topics, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	if err := json.Unmarshal([]byte(profileJSON), &plan.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := json.Unmarshal([]byte(topics), &plan.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	plan.CreatedAt = fromMillis(createdAt)
	return &plan, nil
}

// --- jobs ---

const jobColumns = `id, owner_id, plan_id, subject, profile_json, status, progress, current_step,
	artifacts_json, error, options_json, writer_token, created_at, updated_at`

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                         domain.Job
		status, artifacts, optsJSON string
		profileJSON                 sql.NullString
		createdAt, updatedAt        int64
	)
	if err := row.Scan(&job.ID, &job.OwnerID, &job.PlanID, &job.Subject, &profileJSON, &status,
		&job.Progress, &job.CurrentStep, &artifacts, &job.Error, &optsJSON, &job.WriterToken,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(artifacts), &job.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	if err := json.Unmarshal([]byte(optsJSON), &job.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if profileJSON.Valid && profileJSON.String != "" {
		var p domain.LearnerProfile
		if err := json.Unmarshal([]byte(profileJSON.String), &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		job.Profile = &p
	}
	return &job, nil
}

func jobArgs(job *domain.Job) ([]any, error) {
	artifacts := job.Artifacts
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return nil, fmt.Errorf("encode artifacts: %w", err)
	}
	optsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	var profile any
	if job.Profile != nil {
		if profile, err = nullJSON(job.Profile); err != nil {
			return nil, fmt.Errorf("encode profile: %w", err)
		}
	}
	return []any{
		job.OwnerID, job.PlanID, job.Subject, profile, string(job.Status), job.Progress,
		job.CurrentStep, string(artifactsJSON), job.Error, string(optsJSON), job.WriterToken,
		toMillis(job.UpdatedAt),
	}, nil
}

// CreateJob inserts a new job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("create job: %w: id is required", domain.ErrInvalidInput)
	}
	now := s.opts.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	query := `INSERT INTO jobs (owner_id, plan_id, subject, profile_json, status, progress, current_step,
		artifacts_json, error, options_json, writer_token, updated_at, id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args = append(args, job.ID, toMillis(job.CreatedAt))
	err = withBusyRetry(ctx, "create job", func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("create job %s: %w", job.ID, domain.ErrConflict)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadJob(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (*domain.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// GetJob returns a job.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.loadJob(ctx, s.db, id)
}

// UpdateJob applies fn inside a transaction. A failing fn rolls back.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var out *domain.Job
	err := withBusyRetry(ctx, "update job", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			job, err := s.loadJob(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := fn(job); err != nil {
				return err
			}
			job.ID = id
			job.UpdatedAt = s.opts.now().UTC()
			args, err := jobArgs(job)
			if err != nil {
				return err
			}
			args = append(args, id)
			_, err = tx.ExecContext(ctx, `UPDATE jobs SET owner_id = ?, plan_id = ?, subject = ?, profile_json = ?,
				status = ?, progress = ?, current_step = ?, artifacts_json = ?, error = ?, options_json = ?,
				writer_token = ?, updated_at = ? WHERE id = ?`, args...)
			if err != nil {
				return fmt.Errorf("update job: %w", err)
			}
			out = job
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListJobs returns matching jobs newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, ownerID string, filter JobFilter) ([]*domain.Job, int, error) {
	where := []string{"1 = 1"}
	var args []any
	if ownerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, ownerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, filter.Subject)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + cond + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query jobs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close job rows", "error", closeErr)
		}
	}()

	jobs := []*domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, total, nil
}

// DeleteJob removes an inactive job and its artifact index.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withBusyRetry(ctx, "delete job", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			job, err := s.loadJob(ctx, tx, id)
			if err != nil {
				return err
			}
			if job.Status.Active() {
				return fmt.Errorf("delete job %s: %w", id, domain.ErrJobActive)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE job_id = ?`, id); err != nil {
				return fmt.Errorf("delete artifacts: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
				return fmt.Errorf("delete job: %w", err)
			}
			return nil
		})
	})
}

// --- artifact index ---

// RecordArtifact upserts artifact metadata for (job, slug).
func (s *SQLiteStore) RecordArtifact(ctx context.Context, jobID string, a domain.Artifact) error {
	query := `
	INSERT INTO artifacts (job_id, topic_slug, ordinal, path, size, hash, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id, topic_slug) DO UPDATE SET
		ordinal = excluded.ordinal,
		path = excluded.path,
		size = excluded.size,
		hash = excluded.hash,
		updated_at = excluded.updated_at`
	err := withBusyRetry(ctx, "record artifact", func() error {
		_, err := s.db.ExecContext(ctx, query, jobID, a.TopicSlug, a.Ordinal, a.Path, a.Size, a.Hash, toMillis(a.UpdatedAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return nil
}

// FindArtifact returns recorded artifact metadata.
func (s *SQLiteStore) FindArtifact(ctx context.Context, jobID, topicSlug string) (*domain.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT topic_slug, ordinal, path, size, hash, updated_at FROM artifacts WHERE job_id = ? AND topic_slug = ?`,
		jobID, topicSlug)
	var (
		a         domain.Artifact
		updatedAt int64
	)
	err := row.Scan(&a.TopicSlug, &a.Ordinal, &a.Path, &a.Size, &a.Hash, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s/%s: %w", jobID, topicSlug, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
