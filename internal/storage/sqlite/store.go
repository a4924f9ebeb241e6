// Package sqlite implements the durable canvas store over SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/celerix-dev/celerix-board/internal/storage/sqlite/migrations"
	"github.com/celerix-dev/celerix-board/pkg/engine"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements engine.Store over a single SQLite file. Elements are kept
// as one JSON document per canvas; shares live in their own table so the
// primary key rules out duplicates.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Open opens the store at path and applies bundled migrations.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Create(ctx context.Context, ownerID, name string) (*schema.Canvas, error) {
	now := s.now().UTC()
	canvas := &schema.Canvas{
		ID:         uuid.NewString(),
		Owner:      ownerID,
		Name:       name,
		Elements:   []schema.Element{},
		SharedWith: []string{},
		CreatedAt:  now.Truncate(time.Millisecond),
		UpdatedAt:  now.Truncate(time.Millisecond),
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO canvases (id, owner_id, name, elements, created_at, updated_at) VALUES (?, ?, ?, '[]', ?, ?)`,
		canvas.ID, canvas.Owner, canvas.Name, toMillis(now), toMillis(now),
	); err != nil {
		return nil, fmt.Errorf("insert canvas: %w", err)
	}
	return canvas, nil
}

func (s *Store) Load(ctx context.Context, canvasID string) (*schema.Canvas, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, owner_id, name, elements, created_at, updated_at FROM canvases WHERE id = ?`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("query canvas: %w", err)
	}
	list, err := s.scanCanvases(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, engine.ErrCanvasNotFound
	}
	return list[0], nil
}

func (s *Store) Save(ctx context.Context, canvas *schema.Canvas) error {
	elements, err := encodeElements(canvas.Elements)
	if err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE canvases SET name = ?, elements = ?, updated_at = ? WHERE id = ?`,
		canvas.Name, elements, toMillis(s.now()), canvas.ID,
	)
	if err != nil {
		return fmt.Errorf("update canvas: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrCanvasNotFound
	}
	if err := replaceShares(ctx, tx, canvas.ID, canvas.SharedWith); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SaveElements(ctx context.Context, canvasID string, elements []schema.Element) error {
	encoded, err := encodeElements(elements)
	if err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE canvases SET elements = ?, updated_at = ? WHERE id = ?`,
		encoded, toMillis(s.now()), canvasID,
	)
	if err != nil {
		return fmt.Errorf("update canvas elements: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrCanvasNotFound
	}
	return nil
}

func (s *Store) PutCanvas(ctx context.Context, canvas *schema.Canvas) error {
	elements, err := encodeElements(canvas.Elements)
	if err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put canvas: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO canvases (id, owner_id, name, elements, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET owner_id = excluded.owner_id, name = excluded.name,
    elements = excluded.elements, created_at = excluded.created_at, updated_at = excluded.updated_at`,
		canvas.ID, canvas.Owner, canvas.Name, elements, toMillis(canvas.CreatedAt), toMillis(canvas.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert canvas: %w", err)
	}
	if err := replaceShares(ctx, tx, canvas.ID, canvas.SharedWith); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, canvasID string) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM canvases WHERE id = ?`, canvasID)
	if err != nil {
		return fmt.Errorf("delete canvas: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrCanvasNotFound
	}
	return nil
}

func (s *Store) ListAccessible(ctx context.Context, principalID string) ([]*schema.Canvas, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, owner_id, name, elements, created_at, updated_at FROM canvases
WHERE owner_id = ?1
   OR id IN (SELECT canvas_id FROM canvas_shares WHERE principal_id = ?1)
ORDER BY created_at, id`, principalID)
	if err != nil {
		return nil, fmt.Errorf("query accessible canvases: %w", err)
	}
	return s.scanCanvases(ctx, rows)
}

func (s *Store) Canvases(ctx context.Context) ([]*schema.Canvas, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, owner_id, name, elements, created_at, updated_at FROM canvases ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query canvases: %w", err)
	}
	return s.scanCanvases(ctx, rows)
}

func (s *Store) PutPrincipal(ctx context.Context, p schema.Principal) (schema.Principal, error) {
	p.Email = schema.NormalizeEmail(p.Email)
	if p.Email == "" {
		return schema.Principal{}, engine.NewError(engine.KindValidation, "email is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	p.CreatedAt = p.CreatedAt.UTC().Truncate(time.Millisecond)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return schema.Principal{}, fmt.Errorf("begin put principal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM principals WHERE email = ?`, p.Email).Scan(&existing)
	switch {
	case err == nil && existing != p.ID:
		return schema.Principal{}, engine.ErrPrincipalExists
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return schema.Principal{}, fmt.Errorf("query principal email: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO principals (id, email, name, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET email = excluded.email, name = excluded.name`,
		p.ID, p.Email, p.Name, toMillis(p.CreatedAt),
	); err != nil {
		return schema.Principal{}, fmt.Errorf("upsert principal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return schema.Principal{}, fmt.Errorf("commit principal: %w", err)
	}
	return p, nil
}

func (s *Store) PrincipalByID(ctx context.Context, id string) (schema.Principal, error) {
	return s.principalWhere(ctx, "id", id)
}

func (s *Store) PrincipalByEmail(ctx context.Context, email string) (schema.Principal, error) {
	return s.principalWhere(ctx, "email", schema.NormalizeEmail(email))
}

func (s *Store) principalWhere(ctx context.Context, column, value string) (schema.Principal, error) {
	var (
		p         schema.Principal
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, email, name, created_at FROM principals WHERE `+column+` = ?`, value,
	).Scan(&p.ID, &p.Email, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Principal{}, engine.ErrPrincipalNotFound
	}
	if err != nil {
		return schema.Principal{}, fmt.Errorf("query principal: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	return p, nil
}

func (s *Store) Principals(ctx context.Context) ([]schema.Principal, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, email, name, created_at FROM principals ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("query principals: %w", err)
	}
	defer rows.Close()

	var list []schema.Principal
	for rows.Next() {
		var (
			p         schema.Principal
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.Email, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		p.CreatedAt = fromMillis(createdAt)
		list = append(list, p)
	}
	return list, rows.Err()
}

// scanCanvases drains rows before attaching each shared set; an in-memory
// database has a single connection, so the share queries cannot overlap rows.
func (s *Store) scanCanvases(ctx context.Context, rows *sql.Rows) ([]*schema.Canvas, error) {
	list, err := drainCanvases(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		shared, err := loadShares(ctx, s.sqlDB, c.ID)
		if err != nil {
			return nil, err
		}
		c.SharedWith = shared
	}
	return list, nil
}

func drainCanvases(rows *sql.Rows) ([]*schema.Canvas, error) {
	defer rows.Close()

	list := []*schema.Canvas{}
	for rows.Next() {
		var (
			c                    schema.Canvas
			elements             string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&c.ID, &c.Owner, &c.Name, &elements, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan canvas: %w", err)
		}
		if err := json.Unmarshal([]byte(elements), &c.Elements); err != nil {
			return nil, fmt.Errorf("decode elements of canvas %s: %w", c.ID, err)
		}
		if c.Elements == nil {
			c.Elements = []schema.Element{}
		}
		c.CreatedAt = fromMillis(createdAt)
		c.UpdatedAt = fromMillis(updatedAt)
		list = append(list, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate canvas rows: %w", err)
	}
	return list, nil
}

func loadShares(ctx context.Context, q queryer, canvasID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT principal_id FROM canvas_shares WHERE canvas_id = ? ORDER BY rowid`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("query shares: %w", err)
	}
	defer rows.Close()

	shared := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shared = append(shared, id)
	}
	return shared, rows.Err()
}

func replaceShares(ctx context.Context, tx *sql.Tx, canvasID string, shared []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM canvas_shares WHERE canvas_id = ?`, canvasID); err != nil {
		return fmt.Errorf("clear shares: %w", err)
	}
	for _, principalID := range shared {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO canvas_shares (canvas_id, principal_id) VALUES (?, ?)`,
			canvasID, principalID,
		); err != nil {
			return fmt.Errorf("insert share: %w", err)
		}
	}
	return nil
}

func encodeElements(elements []schema.Element) (string, error) {
	if elements == nil {
		elements = []schema.Element{}
	}
	b, err := json.Marshal(elements)
	if err != nil {
		return "", engine.Wrap(engine.KindValidation, "invalid elements", err)
	}
	return string(b), nil
}
