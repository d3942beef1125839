package repositories

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pyro/internal/httpkit"
	"pyro/internal/models"
	"pyro/internal/pkg/errors"
	"pyro/internal/ports"
)

// Schema creates the render_jobs table. It is safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS render_jobs (
	id            TEXT PRIMARY KEY,
	name          TEXT,
	status        TEXT NOT NULL,
	scene_json    JSONB,
	scene_file    TEXT,
	format        TEXT NOT NULL DEFAULT 'png',
	attempts      INT NOT NULL DEFAULT 0,
	provider      TEXT,
	object_key    TEXT,
	content_type  TEXT,
	size_bytes    BIGINT,
	width         INT,
	height        INT,
	error_code    TEXT,
	error_text    TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS render_jobs_status_created_idx ON render_jobs (status, created_at DESC);
`

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxErrorText     = 2000
)

const jobColumns = `id, COALESCE(name,''), status, scene_json, COALESCE(scene_file,''), format, attempts,
	COALESCE(provider,''), COALESCE(object_key,''), COALESCE(content_type,''), COALESCE(size_bytes,0),
	COALESCE(width,0), COALESCE(height,0), COALESCE(error_code,''), COALESCE(error_text,''),
	created_at, started_at, finished_at`

type JobRepository struct {
	db *pgxpool.Pool
}

var _ ports.JobStore = (*JobRepository)(nil)

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

// EnsureSchema applies Schema.
func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "jobs.EnsureSchema", "create render_jobs")
	}
	return nil
}

func (r *JobRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *JobRepository) Create(ctx context.Context, j *models.Job) error {
	var scene any
	if len(j.Scene) > 0 {
		scene = string(j.Scene)
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO render_jobs (id, name, status, scene_json, scene_file, format)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, j.ID, nullIfEmpty(j.Name), j.Status, scene, nullIfEmpty(j.SceneFile), j.Format).Scan(&j.CreatedAt)
	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			return errors.New(errors.CodeValidation, "job id already exists").WithField("job_id", j.ID)
		}
		return errors.Wrap(err, "jobs.Create", "insert render job")
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("job", id)
		}
		return nil, queryError(err, "jobs.Get", "query render job")
	}
	return j, nil
}

func (r *JobRepository) List(ctx context.Context, f ports.ListJobsFilter) ([]models.Job, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	var (
		rows pgx.Rows
		err  error
	)
	if f.Status != "" {
		rows, err = r.db.Query(ctx, `SELECT `+jobColumns+`
			FROM render_jobs WHERE status=$1
			ORDER BY created_at DESC LIMIT $2`, f.Status, limit)
	} else {
		rows, err = r.db.Query(ctx, `SELECT `+jobColumns+`
			FROM render_jobs
			ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, queryError(err, "jobs.List", "query render jobs")
	}
	defer rows.Close()

	out := make([]models.Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "jobs.List", "scan render job")
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "jobs.List", "iterate render jobs")
	}
	return out, nil
}

func (r *JobRepository) MarkRunning(ctx context.Context, id string) error {
	return r.update(ctx, "jobs.MarkRunning", id, `
		UPDATE render_jobs
		SET status='RUNNING', attempts=attempts+1, started_at=now(), finished_at=NULL, error_code=NULL, error_text=NULL
		WHERE id=$1`)
}

func (r *JobRepository) MarkDone(ctx context.Context, id string, out models.JobOutput) error {
	return r.update(ctx, "jobs.MarkDone", id, `
		UPDATE render_jobs
		SET status='DONE', finished_at=now(), provider=$2, object_key=$3, content_type=$4, size_bytes=$5, width=$6, height=$7
		WHERE id=$1`,
		out.Provider, out.ObjectKey, out.ContentType, out.SizeBytes, out.Width, out.Height)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, code, text string) error {
	return r.update(ctx, "jobs.MarkFailed", id, `
		UPDATE render_jobs
		SET status='FAILED', finished_at=now(), error_code=$2, error_text=$3
		WHERE id=$1`, code, truncateText(text, maxErrorText))
}

func (r *JobRepository) Requeue(ctx context.Context, id string) error {
	return r.update(ctx, "jobs.Requeue", id, `
		UPDATE render_jobs
		SET status='QUEUED', started_at=NULL
		WHERE id=$1`)
}

func (r *JobRepository) update(ctx context.Context, op, id, sql string, args ...any) error {
	cmd, err := r.db.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return errors.Wrap(err, op, "update render job")
	}
	if cmd.RowsAffected() == 0 {
		return errors.NotFound("job", id)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j     models.Job
		scene []byte
		out   models.JobOutput
	)
	err := row.Scan(
		&j.ID, &j.Name, &j.Status, &scene, &j.SceneFile, &j.Format, &j.Attempts,
		&out.Provider, &out.ObjectKey, &out.ContentType, &out.SizeBytes,
		&out.Width, &out.Height, &j.ErrorCode, &j.ErrorText,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(scene) > 0 {
		j.Scene = json.RawMessage(scene)
	}
	if out.ObjectKey != "" {
		j.Output = &out
	}
	return &j, nil
}

// queryError marks a missing render_jobs table as unavailable rather than
// internal; EnsureSchema has not run against this database.
func queryError(err error, op, msg string) error {
	if httpkit.IsUndefinedTable(err) {
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, "render_jobs table missing")
	}
	return errors.Wrap(err, op, msg)
}

// truncateText cuts s to at most limit bytes of valid UTF-8. Postgres rejects
// TEXT values with broken sequences.
func truncateText(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= limit {
		return s
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
