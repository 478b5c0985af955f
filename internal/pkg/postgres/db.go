package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/callaudit/internal/pkg/checklist"
	"github.com/airenas/callaudit/internal/pkg/persistence"
	"github.com/airenas/callaudit/internal/pkg/status"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const (
	jobColumns = `id, seller_id, uploader_name, status, created, started, finished, file_name, file_path,
	file_mime, error, transcript, report, pdf, pdf_path, delete_after`
	uniqueViolation = "23505"
)

const schema = `CREATE TABLE IF NOT EXISTS audit_jobs (
	id TEXT PRIMARY KEY,
	seller_id TEXT NOT NULL,
	uploader_name TEXT NOT NULL,
	status TEXT NOT NULL,
	created TIMESTAMPTZ NOT NULL,
	started TIMESTAMPTZ,
	finished TIMESTAMPTZ,
	file_name TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	file_mime TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '',
	report JSONB,
	pdf TEXT NOT NULL DEFAULT '',
	pdf_path TEXT NOT NULL DEFAULT '',
	delete_after TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_jobs_created_idx ON audit_jobs (created DESC, id DESC);
CREATE INDEX IF NOT EXISTS audit_jobs_seller_idx ON audit_jobs (seller_id, created DESC);`

// DB keeps jobs in postgresql
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates job store instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	if pool == nil {
		return nil, errors.New("no pool")
	}
	return &DB{pool: pool}, nil
}

// EnsureSchema creates the table if missing
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("can't create schema: %w", err)
	}
	return nil
}

// Create inserts a new job
func (db *DB) Create(ctx context.Context, job *persistence.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx, `INSERT INTO audit_jobs(`+jobColumns+`)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("job %s: %w", job.ID, persistence.ErrDuplicateKey)
		}
		return fmt.Errorf("can't insert job: %w", err)
	}
	return nil
}

// Get loads job by ID
func (db *DB) Get(ctx context.Context, id string) (*persistence.Job, error) {
	res, err := scanJob(db.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM audit_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("can't load job: %w", err)
	}
	return res, nil
}

// Update locks the row, applies f and writes the result in one transaction
func (db *DB) Update(ctx context.Context, id string, f func(*persistence.Job) error) (*persistence.Job, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM audit_jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("can't load job: %w", err)
	}
	next := old.Clone()
	if err := f(next); err != nil {
		return nil, err
	}
	next.KeepIdentity(old)
	if err := status.CheckTransition(old.Status, next.Status); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	args, err := jobArgs(next)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `UPDATE audit_jobs SET status = $4, started = $6, finished = $7, file_path = $9,
	file_mime = $10, error = $11, transcript = $12, report = $13, pdf = $14, pdf_path = $15, delete_after = $16
	WHERE id = $1 AND seller_id = $2 AND uploader_name = $3 AND created = $5 AND file_name = $8`, args...)
	if err != nil {
		return nil, fmt.Errorf("can't update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("can't commit: %w", err)
	}
	return next, nil
}

// List returns the filtered page of jobs, newest first
func (db *DB) List(ctx context.Context, filter persistence.Filter, page persistence.Page) (*persistence.ListResult, error) {
	where, args := buildWhere(filter.Normalize())
	var total int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM audit_jobs`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("can't count jobs: %w", err)
	}
	res := persistence.Paginate(total, page)
	sql, args := buildListQuery(filter.Normalize(), res.PageSize, res.Offset())
	jobs, err := db.query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	res.Jobs = jobs
	return res, nil
}

// ListBySeller returns all seller's jobs, newest first
func (db *DB) ListBySeller(ctx context.Context, sellerID string) ([]*persistence.Job, error) {
	return db.query(ctx, `SELECT `+jobColumns+` FROM audit_jobs WHERE seller_id = $1 ORDER BY created DESC, id DESC`, sellerID)
}

// FailUnfinished marks jobs left in processing as failed, used on startup
func (db *DB) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	cmd, err := db.pool.Exec(ctx, `UPDATE audit_jobs SET status = $1, error = $2, finished = $3
	WHERE status = $4`, status.Failed.String(), reason, time.Now(), status.Processing.String())
	if err != nil {
		return 0, fmt.Errorf("can't fail unfinished jobs: %w", err)
	}
	goapp.Log.Info().Int64("rows", cmd.RowsAffected()).Msg("marked unfinished jobs failed")
	return cmd.RowsAffected(), nil
}

// QueuedIDs returns IDs of queued jobs, oldest first
func (db *DB) QueuedIDs(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT id FROM audit_jobs WHERE status = $1 ORDER BY created, id`,
		status.Queued.String())
	if err != nil {
		return nil, fmt.Errorf("can't select queued jobs: %w", err)
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("can't retrieve id: %w", err)
		}
		res = append(res, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("can't retrieve queued jobs: %w", err)
	}
	return res, nil
}

// Live returns no error if db is reachable and initialized
func (db *DB) Live(ctx context.Context) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'audit_jobs')`).Scan(&exists); err != nil {
		return fmt.Errorf("can't check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("no audit_jobs table")
	}
	return nil
}

func (db *DB) query(ctx context.Context, sql string, args ...interface{}) ([]*persistence.Job, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("can't select jobs: %w", err)
	}
	defer rows.Close()
	res := []*persistence.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("can't retrieve job: %w", err)
		}
		res = append(res, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("can't retrieve jobs: %w", err)
	}
	return res, nil
}

func buildWhere(f persistence.Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != 0 {
		conds = append(conds, "status = "+next(f.Status.String()))
	}
	if !f.From.IsZero() {
		conds = append(conds, "created >= "+next(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "created <= "+next(f.To))
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		p := next("%" + escapeLike(s) + "%")
		conds = append(conds, fmt.Sprintf("(lower(id) LIKE %[1]s OR lower(seller_id) LIKE %[1]s OR "+
			"lower(uploader_name) LIKE %[1]s OR status LIKE %[1]s)", p))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func buildListQuery(f persistence.Filter, limit, offset int) (string, []interface{}) {
	where, args := buildWhere(f)
	args = append(args, limit, offset)
	return fmt.Sprintf(`SELECT %s FROM audit_jobs%s ORDER BY created DESC, id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, len(args)-1, len(args)), args
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeReplacer.Replace(s)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(r rowScanner) (*persistence.Job, error) {
	var res persistence.Job
	var st string
	var rep []byte
	err := r.Scan(&res.ID, &res.SellerID, &res.UploaderName, &st, &res.CreatedAt, &res.StartedAt, &res.FinishedAt,
		&res.FileName, &res.FilePath, &res.FileMime, &res.Error, &res.Transcript, &rep, &res.PDF, &res.PDFPath,
		&res.DeleteAfter)
	if err != nil {
		return nil, err
	}
	res.Status = status.From(st)
	if len(rep) > 0 {
		res.Report = &checklist.Report{}
		if err := json.Unmarshal(rep, res.Report); err != nil {
			return nil, fmt.Errorf("can't decode report: %w", err)
		}
	}
	return &res, nil
}

func jobArgs(j *persistence.Job) ([]interface{}, error) {
	var rep []byte
	if j.Report != nil {
		var err error
		if rep, err = json.Marshal(j.Report); err != nil {
			return nil, fmt.Errorf("can't encode report: %w", err)
		}
	}
	return []interface{}{j.ID, j.SellerID, j.UploaderName, j.Status.String(), j.CreatedAt, j.StartedAt,
		j.FinishedAt, j.FileName, j.FilePath, j.FileMime, j.Error, j.Transcript, rep, j.PDF, j.PDFPath,
		j.DeleteAfter}, nil
}
