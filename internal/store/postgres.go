package store

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
	"github.com/terracoord/digcheck/internal/resilience"
)

// Pool abstracts the pgx connection pool so tests can substitute pgxmock.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresStore implements Store using pgx. Bounding boxes are stored as
// plain columns; the coarse spatial prefilter is an indexed range query.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	// The database may still be coming up when the service starts.
	err = resilience.Do(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (or a pgxmock instance).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	work_category TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT 'draft',
	geometry      JSONB NOT NULL,
	start_date    DATE NOT NULL,
	end_date      DATE NOT NULL,
	min_lng       DOUBLE PRECISION NOT NULL,
	min_lat       DOUBLE PRECISION NOT NULL,
	max_lng       DOUBLE PRECISION NOT NULL,
	max_lat       DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS moratoriums (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	geometry      JSONB NOT NULL,
	valid_from    DATE NOT NULL,
	valid_to      DATE NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	reason_detail TEXT NOT NULL DEFAULT '',
	exceptions    TEXT NOT NULL DEFAULT '',
	min_lng       DOUBLE PRECISION NOT NULL,
	min_lat       DOUBLE PRECISION NOT NULL,
	max_lng       DOUBLE PRECISION NOT NULL,
	max_lat       DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS moratorium_exceptions (
	id            TEXT PRIMARY KEY,
	moratorium_id TEXT NOT NULL REFERENCES moratoriums(id),
	project_id    TEXT NOT NULL,
	approver_id   TEXT NOT NULL DEFAULT '',
	justification TEXT NOT NULL DEFAULT '',
	revoked       BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (moratorium_id, project_id)
);

CREATE INDEX IF NOT EXISTS idx_projects_state ON projects(state);
CREATE INDEX IF NOT EXISTS idx_projects_bbox ON projects(min_lng, max_lng, min_lat, max_lat);
CREATE INDEX IF NOT EXISTS idx_moratoriums_bbox ON moratoriums(min_lng, max_lng, min_lat, max_lat);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertProject(ctx context.Context, p *model.Project) error {
	geo, err := encodeGeometry(p.Geometry)
	if err != nil {
		return err
	}
	box := p.Geometry.BBox()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO projects (id, name, work_category, state, geometry, start_date, end_date,
			min_lng, min_lat, max_lng, max_lat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			work_category = EXCLUDED.work_category,
			state = EXCLUDED.state,
			geometry = EXCLUDED.geometry,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			min_lng = EXCLUDED.min_lng,
			min_lat = EXCLUDED.min_lat,
			max_lng = EXCLUDED.max_lng,
			max_lat = EXCLUDED.max_lat,
			updated_at = now()`,
		p.ID, p.Name, p.WorkCategory, string(p.State), geo,
		p.Window.Start, p.Window.End,
		box.MinLng, box.MinLat, box.MaxLng, box.MaxLat,
	)
	return eris.Wrapf(err, "postgres: upsert project %s", p.ID)
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, work_category, state, geometry, start_date, end_date, created_at, updated_at
		FROM projects WHERE id = $1`, id)
	p, err := scanProjectPG(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: project %s", id)
		}
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]model.Project, error) {
	query := `
		SELECT id, name, work_category, state, geometry, start_date, end_date, created_at, updated_at
		FROM projects`
	args := []any{}
	if filter.State != "" {
		query += ` WHERE state = $1`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()
	return collectProjectsPG(rows)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete project %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: project %s", id)
	}
	return nil
}

func (s *PostgresStore) ProjectsInBBox(ctx context.Context, box geometry.BBox) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, work_category, state, geometry, start_date, end_date, created_at, updated_at
		FROM projects
		WHERE min_lng <= $1 AND max_lng >= $2 AND min_lat <= $3 AND max_lat >= $4
		ORDER BY id`,
		box.MaxLng, box.MinLng, box.MaxLat, box.MinLat,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: projects in bbox")
	}
	defer rows.Close()
	return collectProjectsPG(rows)
}

func (s *PostgresStore) UpsertMoratorium(ctx context.Context, m *model.Moratorium) error {
	geo, err := encodeGeometry(m.Geometry)
	if err != nil {
		return err
	}
	box := m.Geometry.BBox()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO moratoriums (id, name, geometry, valid_from, valid_to, reason, reason_detail,
			exceptions, min_lng, min_lat, max_lng, max_lat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			geometry = EXCLUDED.geometry,
			valid_from = EXCLUDED.valid_from,
			valid_to = EXCLUDED.valid_to,
			reason = EXCLUDED.reason,
			reason_detail = EXCLUDED.reason_detail,
			exceptions = EXCLUDED.exceptions,
			min_lng = EXCLUDED.min_lng,
			min_lat = EXCLUDED.min_lat,
			max_lng = EXCLUDED.max_lng,
			max_lat = EXCLUDED.max_lat,
			updated_at = now()`,
		m.ID, m.Name, geo, m.Window.Start, m.Window.End,
		m.Reason, m.ReasonDetail, m.Exceptions,
		box.MinLng, box.MinLat, box.MaxLng, box.MaxLat,
	)
	return eris.Wrapf(err, "postgres: upsert moratorium %s", m.ID)
}

func (s *PostgresStore) GetMoratorium(ctx context.Context, id string) (*model.Moratorium, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, geometry, valid_from, valid_to, reason, reason_detail, exceptions, created_at, updated_at
		FROM moratoriums WHERE id = $1`, id)
	m, err := scanMoratoriumPG(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: moratorium %s", id)
		}
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) ListMoratoriums(ctx context.Context, limit, offset int) ([]model.Moratorium, error) {
	query := `
		SELECT id, name, geometry, valid_from, valid_to, reason, reason_detail, exceptions, created_at, updated_at
		FROM moratoriums ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list moratoriums")
	}
	defer rows.Close()
	return collectMoratoriumsPG(rows)
}

func (s *PostgresStore) MoratoriumsInBBox(ctx context.Context, box geometry.BBox) ([]model.Moratorium, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, geometry, valid_from, valid_to, reason, reason_detail, exceptions, created_at, updated_at
		FROM moratoriums
		WHERE min_lng <= $1 AND max_lng >= $2 AND min_lat <= $3 AND max_lat >= $4
		ORDER BY id`,
		box.MaxLng, box.MinLng, box.MaxLat, box.MinLat,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: moratoriums in bbox")
	}
	defer rows.Close()
	return collectMoratoriumsPG(rows)
}

func (s *PostgresStore) RecordException(ctx context.Context, e *model.MoratoriumException) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO moratorium_exceptions (id, moratorium_id, project_id, approver_id, justification, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (moratorium_id, project_id) DO UPDATE SET
			approver_id = EXCLUDED.approver_id,
			justification = EXCLUDED.justification,
			revoked = EXCLUDED.revoked`,
		e.ID, e.MoratoriumID, e.ProjectID, e.ApproverID, e.Justification, e.Revoked,
	)
	return eris.Wrapf(err, "postgres: record exception %s", e.ID)
}

func (s *PostgresStore) RevokeException(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE moratorium_exceptions SET revoked = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: revoke exception %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: exception %s", id)
	}
	return nil
}

func (s *PostgresStore) Exception(ctx context.Context, moratoriumID, projectID string) (*model.MoratoriumException, error) {
	var e model.MoratoriumException
	err := s.pool.QueryRow(ctx, `
		SELECT id, moratorium_id, project_id, approver_id, justification, revoked, created_at
		FROM moratorium_exceptions
		WHERE moratorium_id = $1 AND project_id = $2`,
		moratoriumID, projectID,
	).Scan(&e.ID, &e.MoratoriumID, &e.ProjectID, &e.ApproverID, &e.Justification, &e.Revoked, &e.CreatedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get exception")
	}
	return &e, nil
}

func scanProjectPG(row pgx.Row) (*model.Project, error) {
	var (
		p          model.Project
		state      string
		geo        []byte
		start, end time.Time
	)
	if err := row.Scan(&p.ID, &p.Name, &p.WorkCategory, &state, &geo, &start, &end, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: scan project")
	}
	p.State = model.ProjectState(state)

	n, err := decodeGeometry(geo)
	if err != nil {
		return nil, err
	}
	p.Geometry = n

	w, err := model.NewWindow(start, end)
	if err != nil {
		return nil, err
	}
	p.Window = w
	return &p, nil
}

func collectProjectsPG(rows pgx.Rows) ([]model.Project, error) {
	var out []model.Project
	for rows.Next() {
		p, err := scanProjectPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate projects")
	}
	return out, nil
}

func scanMoratoriumPG(row pgx.Row) (*model.Moratorium, error) {
	var (
		m          model.Moratorium
		geo        []byte
		start, end time.Time
	)
	if err := row.Scan(&m.ID, &m.Name, &geo, &start, &end, &m.Reason, &m.ReasonDetail, &m.Exceptions, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: scan moratorium")
	}

	n, err := decodeGeometry(geo)
	if err != nil {
		return nil, err
	}
	m.Geometry = n

	w, err := model.NewWindow(start, end)
	if err != nil {
		return nil, err
	}
	m.Window = w
	return &m, nil
}

func collectMoratoriumsPG(rows pgx.Rows) ([]model.Moratorium, error) {
	var out []model.Moratorium
	for rows.Next() {
		m, err := scanMoratoriumPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate moratoriums")
	}
	return out, nil
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
