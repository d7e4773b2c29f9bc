package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"taskboard/domain"
	"taskboard/projection"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLite is the transactional board store.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and applies pending migrations.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Migrate applies the embedded schema migrations to db.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	// m.Close would close db through the driver.
	defer src.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a transaction.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateProject stores a project with its column layout and roster. Projects
// without columns get the default layout.
func (s *SQLite) CreateProject(ctx context.Context, p domain.Project) error {
	cols := domain.RegistryFor(p).Columns()
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, name, created_by) VALUES (?, ?, ?)`,
			p.ID, p.Name, p.CreatedBy); err != nil {
			return err
		}
		for i, c := range cols {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO project_columns (project_id, column_id, name, position) VALUES (?, ?, ?, ?)`,
				p.ID, c.ID, c.Name, i); err != nil {
				return err
			}
		}
		for _, m := range p.Members {
			if err := insertMember(ctx, tx, p.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddMember adds or replaces a roster entry.
func (s *SQLite) AddMember(ctx context.Context, projectID string, m domain.Member) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return insertMember(ctx, tx, projectID, m)
	})
}

func insertMember(ctx context.Context, tx *sql.Tx, projectID string, m domain.Member) error {
	role := m.Role
	if role == "" {
		role = "member"
	}
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO project_members (project_id, user_id, role, name, email) VALUES (?, ?, ?, ?, ?)`,
		projectID, m.UserID, role, m.Name, m.Email)
	return err
}

func (s *SQLite) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	var (
		p   domain.Project
		rev int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_by, revision FROM projects WHERE id = ?`, projectID).
		Scan(&p.ID, &p.Name, &p.CreatedBy, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Columns, err = s.columns(ctx, projectID); err != nil {
		return nil, err
	}
	if p.Members, err = s.members(ctx, projectID); err != nil {
		return nil, err
	}
	p.Revision = strconv.FormatInt(rev, 10)
	return &p, nil
}

func (s *SQLite) columns(ctx context.Context, projectID string) ([]domain.Column, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_id, name FROM project_columns WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := []domain.Column{}
	for rows.Next() {
		var c domain.Column
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s *SQLite) members(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, role, name, email FROM project_members WHERE project_id = ? ORDER BY user_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	members := []domain.Member{}
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.UserID, &m.Role, &m.Name, &m.Email); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

const taskColumns = `id, project_id, title, description, status, sort_order, assignee_id, due_date, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (domain.Task, error) {
	var (
		t   domain.Task
		due sql.NullTime
	)
	err := r.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Order,
		&t.AssigneeID, &due, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	if due.Valid {
		d := due.Time.UTC()
		t.DueDate = &d
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func (s *SQLite) GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND project_id = ?`, taskID, projectID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) ListColumn(ctx context.Context, projectID, status string) ([]domain.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? AND status = ? ORDER BY sort_order, created_at, id`,
		projectID, status)
}

func (s *SQLite) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// InsertTask stores t if the project is still at revision.
func (s *SQLite) InsertTask(ctx context.Context, revision string, t domain.Task) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := bumpRevision(ctx, tx, t.ProjectID, revision); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Order,
			t.AssigneeID, nullTime(t.DueDate), t.CreatedBy, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
		return err
	})
}

// bumpRevision advances the project revision, failing with ErrConflict when
// another writer already moved it past expected.
func bumpRevision(ctx context.Context, tx *sql.Tx, projectID, expected string) error {
	query := `UPDATE projects SET revision = revision + 1 WHERE id = ?`
	args := []any{projectID}
	if expected != domain.AnyRevision {
		rev, err := strconv.ParseInt(expected, 10, 64)
		if err != nil {
			return fmt.Errorf("project %s: bad revision %q", projectID, expected)
		}
		query += ` AND revision = ?`
		args = append(args, rev)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("project %s changed since revision %s: %w", projectID, expected, domain.ErrConflict)
	}
	return nil
}

// UpdateTask writes the editable fields of t. Status and order are untouched.
func (s *SQLite) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, assignee_id = ?, due_date = ?, updated_at = ?
		 WHERE id = ? AND project_id = ?`,
		t.Title, t.Description, t.AssigneeID, nullTime(t.DueDate), t.UpdatedAt.UTC(), t.ID, t.ProjectID)
	if err != nil {
		return err
	}
	return expectOneRow(res, t.ID)
}

// ApplyChanges writes a move batch in a single transaction, provided the
// project is still at the revision the batch was planned against.
func (s *SQLite) ApplyChanges(ctx context.Context, set domain.ChangeSet) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := bumpRevision(ctx, tx, set.ProjectID, set.Revision); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE tasks SET status = ?, sort_order = ?, updated_at = ? WHERE id = ? AND project_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range set.Changes {
			res, err := stmt.ExecContext(ctx, c.Status, c.Order, set.UpdatedAt.UTC(), c.TaskID, set.ProjectID)
			if err != nil {
				return err
			}
			if err := expectOneRow(res, c.TaskID); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadBoard returns the project's columns, roster and flat task list.
func (s *SQLite) LoadBoard(ctx context.Context, projectID string) (*projection.RawBoard, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil || p == nil {
		return nil, err
	}
	tasks, err := s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY status, sort_order`, projectID)
	if err != nil {
		return nil, err
	}
	raw := &projection.RawBoard{
		Name:    p.Name,
		Columns: make([]projection.RawColumn, len(p.Columns)),
		Tasks:   make([]projection.RawTask, len(tasks)),
		Members: p.Members,
	}
	for i, c := range p.Columns {
		raw.Columns[i] = projection.RawColumn{ID: c.ID, Name: c.Name}
	}
	for i, t := range tasks {
		raw.Tasks[i] = projection.FromTask(t)
	}
	return raw, nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("task %s: %d rows affected", id, n)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
