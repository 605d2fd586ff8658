package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	_ "modernc.org/sqlite"                               // Local SQLite driver

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbURL string) (*SQLiteRepository, error) {
	driverName := "sqlite"
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite" {
		// One writer at a time; transactions below rely on it for atomicity.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		alias TEXT NOT NULL,
		long_url TEXT NOT NULL,
		created_at TEXT NOT NULL,
		request_limit INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		access_count INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		last_accessed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS identifiers (
		identifier TEXT PRIMARY KEY,
		link_id INTEGER NOT NULL,
		FOREIGN KEY(link_id) REFERENCES links(id)
	);
	CREATE INDEX IF NOT EXISTS idx_identifiers_link_id ON identifiers(link_id);

	CREATE TABLE IF NOT EXISTS visitors (
		link_id INTEGER NOT NULL,
		client_id TEXT NOT NULL,
		first_seen_at TEXT NOT NULL,
		PRIMARY KEY (link_id, client_id),
		FOREIGN KEY(link_id) REFERENCES links(id)
	);
	`
	_, err := db.Exec(query)
	return err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const linkColumns = `id, code, alias, long_url, created_at, request_limit, status, access_count, unique_users, last_accessed_at`

func (r *SQLiteRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.Link, error) {
	return findByIdentifier(ctx, r.db, identifier)
}

func (r *SQLiteRepository) Exists(ctx context.Context, identifier string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identifiers WHERE identifier = ?`, identifier).Scan(&n)
	return n > 0, err
}

func (r *SQLiteRepository) Insert(ctx context.Context, link *domain.Link) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The code must be free both as a code and as anyone's alias.
	if owner, err := identifierOwner(ctx, tx, link.Code); err != nil {
		return err
	} else if owner != 0 {
		return domain.ErrDuplicateCode
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO links (code, alias, long_url, created_at, request_limit, status, access_count, unique_users, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO NOTHING`,
		link.Code, link.Alias, link.LongURL, link.CreatedAt.UTC().Format(timeLayout),
		nullInt(link.RequestLimit), string(status(link)), link.Stats.AccessCount,
		link.Stats.UniqueUsers, nullTime(link.Stats.LastAccessedAt),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDuplicateCode
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if ok, err := claimIdentifier(ctx, tx, link.Code, id); err != nil {
		return err
	} else if !ok {
		return domain.ErrDuplicateCode
	}
	if link.Alias != link.Code {
		if ok, err := claimIdentifier(ctx, tx, link.Alias, id); err != nil {
			return err
		} else if !ok {
			return domain.ErrDuplicateAlias
		}
	}

	for _, client := range link.Stats.AccessedFrom {
		if _, err := addVisitor(ctx, tx, id, client, link.CreatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	link.ID = id
	return nil
}

func (r *SQLiteRepository) RecordVisit(ctx context.Context, visit domain.Visit) (*domain.Link, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id, err := identifierOwner(ctx, tx, visit.Identifier)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, domain.ErrNotFound
	}

	// Status and limit are re-checked by the same statement that counts the visit.
	res, err := tx.ExecContext(ctx, `
		UPDATE links SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ? AND status = 'active'
		  AND (request_limit IS NULL OR access_count < request_limit)`,
		visit.At.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		link, err := findByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !link.IsActive() {
			return nil, domain.ErrGone
		}
		return nil, domain.ErrLimitExceeded
	}

	added, err := addVisitor(ctx, tx, id, visit.ClientID, visit.At)
	if err != nil {
		return nil, err
	}
	if added {
		if _, err := tx.ExecContext(ctx, `UPDATE links SET unique_users = unique_users + 1 WHERE id = ?`, id); err != nil {
			return nil, err
		}
	}

	link, err := findByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return link, tx.Commit()
}

func (r *SQLiteRepository) UpdateAlias(ctx context.Context, code, alias string) (*domain.Link, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	link, err := findByCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if !link.IsActive() {
		return nil, domain.ErrNotFound
	}
	if link.Alias == alias {
		return link, tx.Commit()
	}

	if alias != link.Code {
		ok, err := claimIdentifier(ctx, tx, alias, link.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrDuplicateAlias
		}
	}
	if link.Alias != link.Code {
		if _, err := tx.ExecContext(ctx, `DELETE FROM identifiers WHERE identifier = ?`, link.Alias); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE links SET alias = ? WHERE id = ?`, alias, link.ID); err != nil {
		return nil, err
	}

	link.Alias = alias
	return link, tx.Commit()
}

func (r *SQLiteRepository) UpdateRequestLimit(ctx context.Context, code string, limit int64) (*domain.Link, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE links SET request_limit = ?
		WHERE code = ? AND status = 'active' AND access_count <= ?`,
		limit, code, limit,
	)
	if err != nil {
		return nil, err
	}

	link, err := findByCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if !link.IsActive() {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrInvalidState
	}
	return link, tx.Commit()
}

func (r *SQLiteRepository) Deactivate(ctx context.Context, code string) (*domain.Link, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE links SET status = 'deleted' WHERE code = ? AND status = 'active'`, code)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return findByCode(ctx, r.db, code)
}

func (r *SQLiteRepository) ListActive(ctx context.Context) ([]domain.Link, error) {
	return r.list(ctx, `SELECT `+linkColumns+` FROM links WHERE status = 'active' ORDER BY id`)
}

func (r *SQLiteRepository) Dump(ctx context.Context) ([]domain.Link, error) {
	return r.list(ctx, `SELECT `+linkColumns+` FROM links ORDER BY id`)
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) list(ctx context.Context, query string) ([]domain.Link, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	visitors, err := allVisitors(ctx, r.db)
	if err != nil {
		return nil, err
	}
	for i := range links {
		if from, ok := visitors[links[i].ID]; ok {
			links[i].Stats.AccessedFrom = from
		}
	}
	return links, nil
}

func findByIdentifier(ctx context.Context, q querier, identifier string) (*domain.Link, error) {
	return findOne(ctx, q, `SELECT `+linkColumns+` FROM links
		WHERE id = (SELECT link_id FROM identifiers WHERE identifier = ?)`, identifier)
}

func findByCode(ctx context.Context, q querier, code string) (*domain.Link, error) {
	return findOne(ctx, q, `SELECT `+linkColumns+` FROM links WHERE code = ?`, code)
}

func findByID(ctx context.Context, q querier, id int64) (*domain.Link, error) {
	return findOne(ctx, q, `SELECT `+linkColumns+` FROM links WHERE id = ?`, id)
}

func findOne(ctx context.Context, q querier, query string, arg any) (*domain.Link, error) {
	link, err := scanLink(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `SELECT client_id FROM visitors WHERE link_id = ? ORDER BY rowid`, link.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var client string
		if err := rows.Scan(&client); err != nil {
			return nil, err
		}
		link.Stats.AccessedFrom = append(link.Stats.AccessedFrom, client)
	}
	return link, rows.Err()
}

func allVisitors(ctx context.Context, q querier) (map[int64][]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT link_id, client_id FROM visitors ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var client string
		if err := rows.Scan(&id, &client); err != nil {
			return nil, err
		}
		out[id] = append(out[id], client)
	}
	return out, rows.Err()
}

// identifierOwner returns the id of the link holding identifier, or 0.
func identifierOwner(ctx context.Context, q querier, identifier string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT link_id FROM identifiers WHERE identifier = ?`, identifier).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func claimIdentifier(ctx context.Context, tx *sql.Tx, identifier string, id int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO identifiers (identifier, link_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, identifier, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func addVisitor(ctx context.Context, tx *sql.Tx, id int64, client string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO visitors (link_id, client_id, first_seen_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		id, client, at.UTC().Format(timeLayout))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(s scanner) (*domain.Link, error) {
	var (
		l          domain.Link
		createdAt  string
		limit      sql.NullInt64
		lastAccess sql.NullString
		st         string
	)
	if err := s.Scan(&l.ID, &l.Code, &l.Alias, &l.LongURL, &createdAt, &limit, &st,
		&l.Stats.AccessCount, &l.Stats.UniqueUsers, &lastAccess); err != nil {
		return nil, err
	}

	var err error
	if l.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if limit.Valid {
		l.RequestLimit = domain.Int64(limit.Int64)
	}
	if lastAccess.Valid {
		t, err := time.Parse(timeLayout, lastAccess.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_accessed_at: %w", err)
		}
		l.Stats.LastAccessedAt = &t
	}
	l.Status = domain.LinkStatus(st)
	l.Stats.AccessedFrom = []string{}
	return &l, nil
}

func status(l *domain.Link) domain.LinkStatus {
	if l.Status == "" {
		return domain.StatusActive
	}
	return l.Status
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

var _ ports.LinkRepository = (*SQLiteRepository)(nil)
