package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Bounding boxes are
// stored as plain columns, so the coarse spatial prefilter is an ordinary
// range query over indexed min/max values.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	work_category TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT 'draft',
	geometry      TEXT NOT NULL,
	start_date    TEXT NOT NULL,
	end_date      TEXT NOT NULL,
	min_lng       REAL NOT NULL,
	min_lat       REAL NOT NULL,
	max_lng       REAL NOT NULL,
	max_lat       REAL NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS moratoriums (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	geometry      TEXT NOT NULL,
	valid_from    TEXT NOT NULL,
	valid_to      TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	reason_detail TEXT NOT NULL DEFAULT '',
	exceptions    TEXT NOT NULL DEFAULT '',
	min_lng       REAL NOT NULL,
	min_lat       REAL NOT NULL,
	max_lng       REAL NOT NULL,
	max_lat       REAL NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS moratorium_exceptions (
	id            TEXT PRIMARY KEY,
	moratorium_id TEXT NOT NULL REFERENCES moratoriums(id),
	project_id    TEXT NOT NULL,
	approver_id   TEXT NOT NULL DEFAULT '',
	justification TEXT NOT NULL DEFAULT '',
	revoked       INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (moratorium_id, project_id)
);

CREATE INDEX IF NOT EXISTS idx_projects_state ON projects(state);
CREATE INDEX IF NOT EXISTS idx_projects_bbox ON projects(min_lng, max_lng, min_lat, max_lat);
CREATE INDEX IF NOT EXISTS idx_moratoriums_bbox ON moratoriums(min_lng, max_lng, min_lat, max_lat);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertProject(ctx context.Context, p *model.Project) error {
	geo, err := encodeGeometry(p.Geometry)
	if err != nil {
		return err
	}
	box := p.Geometry.BBox()
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, work_category, state, geometry, start_date, end_date,
			min_lng, min_lat, max_lng, max_lat, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			work_category = excluded.work_category,
			state = excluded.state,
			geometry = excluded.geometry,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			min_lng = excluded.min_lng,
			min_lat = excluded.min_lat,
			max_lng = excluded.max_lng,
			max_lat = excluded.max_lat,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.WorkCategory, string(p.State), string(geo),
		p.Window.Start.Format("2006-01-02"), p.Window.End.Format("2006-01-02"),
		box.MinLng, box.MinLat, box.MaxLng, box.MaxLat, now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert project %s", p.ID)
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, work_category, state, geometry, start_date, end_date, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: project %s", id)
		}
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]model.Project, error) {
	query := `
		SELECT id, name, work_category, state, geometry, start_date, end_date, created_at, updated_at
		FROM projects`
	args := []any{}
	if filter.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close()
	return collectProjects(rows)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete project %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: project %s", id)
	}
	return nil
}

func (s *SQLiteStore) ProjectsInBBox(ctx context.Context, box geometry.BBox) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, work_category, state, geometry, start_date, end_date, created_at, updated_at
		FROM projects
		WHERE min_lng <= ? AND max_lng >= ? AND min_lat <= ? AND max_lat >= ?
		ORDER BY id`,
		box.MaxLng, box.MinLng, box.MaxLat, box.MinLat,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: projects in bbox")
	}
	defer rows.Close()
	return collectProjects(rows)
}

func (s *SQLiteStore) UpsertMoratorium(ctx context.Context, m *model.Moratorium) error {
	geo, err := encodeGeometry(m.Geometry)
	if err != nil {
		return err
	}
	box := m.Geometry.BBox()
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO moratoriums (id, name, geometry, valid_from, valid_to, reason, reason_detail,
			exceptions, min_lng, min_lat, max_lng, max_lat, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			geometry = excluded.geometry,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			reason = excluded.reason,
			reason_detail = excluded.reason_detail,
			exceptions = excluded.exceptions,
			min_lng = excluded.min_lng,
			min_lat = excluded.min_lat,
			max_lng = excluded.max_lng,
			max_lat = excluded.max_lat,
			updated_at = excluded.updated_at`,
		m.ID, m.Name, string(geo),
		m.Window.Start.Format("2006-01-02"), m.Window.End.Format("2006-01-02"),
		m.Reason, m.ReasonDetail, m.Exceptions,
		box.MinLng, box.MinLat, box.MaxLng, box.MaxLat, now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert moratorium %s", m.ID)
}

func (s *SQLiteStore) GetMoratorium(ctx context.Context, id string) (*model.Moratorium, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, geometry, valid_from, valid_to, reason, reason_detail, exceptions, created_at, updated_at
		FROM moratoriums WHERE id = ?`, id)
	m, err := scanMoratorium(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: moratorium %s", id)
		}
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) ListMoratoriums(ctx context.Context, limit, offset int) ([]model.Moratorium, error) {
	query := `
		SELECT id, name, geometry, valid_from, valid_to, reason, reason_detail, exceptions, created_at, updated_at
		FROM moratoriums ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list moratoriums")
	}
	defer rows.Close()
	return collectMoratoriums(rows)
}

func (s *SQLiteStore) MoratoriumsInBBox(ctx context.Context, box geometry.BBox) ([]model.Moratorium, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, geometry, valid_from, valid_to, reason, reason_detail, exceptions, created_at, updated_at
		FROM moratoriums
		WHERE min_lng <= ? AND max_lng >= ? AND min_lat <= ? AND max_lat >= ?
		ORDER BY id`,
		box.MaxLng, box.MinLng, box.MaxLat, box.MinLat,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: moratoriums in bbox")
	}
	defer rows.Close()
	return collectMoratoriums(rows)
}

func (s *SQLiteStore) RecordException(ctx context.Context, e *model.MoratoriumException) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moratorium_exceptions (id, moratorium_id, project_id, approver_id, justification, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (moratorium_id, project_id) DO UPDATE SET
			approver_id = excluded.approver_id,
			justification = excluded.justification,
			revoked = excluded.revoked`,
		e.ID, e.MoratoriumID, e.ProjectID, e.ApproverID, e.Justification,
		boolToInt(e.Revoked), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record exception %s", e.ID)
}

func (s *SQLiteStore) RevokeException(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE moratorium_exceptions SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: revoke exception %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: exception %s", id)
	}
	return nil
}

func (s *SQLiteStore) Exception(ctx context.Context, moratoriumID, projectID string) (*model.MoratoriumException, error) {
	var (
		e       model.MoratoriumException
		revoked int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, moratorium_id, project_id, approver_id, justification, revoked, created_at
		FROM moratorium_exceptions
		WHERE moratorium_id = ? AND project_id = ?`,
		moratoriumID, projectID,
	).Scan(&e.ID, &e.MoratoriumID, &e.ProjectID, &e.ApproverID, &e.Justification, &revoked, &e.CreatedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get exception")
	}
	e.Revoked = revoked != 0
	return &e, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*model.Project, error) {
	var (
		p          model.Project
		state      string
		geo        string
		start, end string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.WorkCategory, &state, &geo, &start, &end, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan project")
	}
	p.State = model.ProjectState(state)

	n, err := decodeGeometry([]byte(geo))
	if err != nil {
		return nil, err
	}
	p.Geometry = n

	w, err := model.ParseWindow(start, end)
	if err != nil {
		return nil, err
	}
	p.Window = w
	return &p, nil
}

func collectProjects(rows *sql.Rows) ([]model.Project, error) {
	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate projects")
	}
	return out, nil
}

func scanMoratorium(row rowScanner) (*model.Moratorium, error) {
	var (
		m          model.Moratorium
		geo        string
		start, end string
	)
	if err := row.Scan(&m.ID, &m.Name, &geo, &start, &end, &m.Reason, &m.ReasonDetail, &m.Exceptions, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan moratorium")
	}

	n, err := decodeGeometry([]byte(geo))
	if err != nil {
		return nil, err
	}
	m.Geometry = n

	w, err := model.ParseWindow(start, end)
	if err != nil {
		return nil, err
	}
	m.Window = w
	return &m, nil
}

func collectMoratoriums(rows *sql.Rows) ([]model.Moratorium, error) {
	var out []model.Moratorium
	for rows.Next() {
		m, err := scanMoratorium(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate moratoriums")
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
