package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository migrates the schema and opens a connection pool.
func NewPostgresRepository(ctx context.Context, databaseURL string, log zerolog.Logger) (*PostgresRepository, error) {
	if err := Migrate(databaseURL, log); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const linkColumns = `id, code, alias, long_url, created_at, request_limit, status, access_count, unique_users, last_accessed_at`

func (r *PostgresRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.Link, error) {
	return findOne(ctx, r.pool, `SELECT `+linkColumns+` FROM links
		WHERE id = (SELECT link_id FROM identifiers WHERE identifier = $1)`, identifier)
}

func (r *PostgresRepository) Exists(ctx context.Context, identifier string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM identifiers WHERE identifier = $1)`, identifier).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) Insert(ctx context.Context, link *domain.Link) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	status := link.Status
	if status == "" {
		status = domain.StatusActive
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO links (code, alias, long_url, created_at, request_limit, status, access_count, unique_users, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		link.Code, link.Alias, link.LongURL, link.CreatedAt, link.RequestLimit, string(status),
		link.Stats.AccessCount, link.Stats.UniqueUsers, link.Stats.LastAccessedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateCode
		}
		return err
	}

	if err := claimIdentifier(ctx, tx, link.Code, id); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateCode
		}
		return err
	}
	if link.Alias != link.Code {
		if err := claimIdentifier(ctx, tx, link.Alias, id); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateAlias
			}
			return err
		}
	}

	for _, client := range link.Stats.AccessedFrom {
		if _, err := addVisitor(ctx, tx, id, client, link.CreatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	link.ID = id
	return nil
}

func (r *PostgresRepository) RecordVisit(ctx context.Context, visit domain.Visit) (*domain.Link, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `SELECT link_id FROM identifiers WHERE identifier = $1`, visit.Identifier).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// The row lock taken here serializes visits per link; a waiting update
	// re-evaluates the status and limit against the committed row.
	tag, err := tx.Exec(ctx, `
		UPDATE links SET access_count = access_count + 1, last_accessed_at = $2
		WHERE id = $1 AND status = 'active'
		  AND (request_limit IS NULL OR access_count < request_limit)`,
		id, visit.At,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		link, err := findOne(ctx, tx, `SELECT `+linkColumns+` FROM links WHERE id = $1`, id)
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
		if _, err := tx.Exec(ctx, `UPDATE links SET unique_users = unique_users + 1 WHERE id = $1`, id); err != nil {
			return nil, err
		}
	}

	link, err := findOne(ctx, tx, `SELECT `+linkColumns+` FROM links WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return link, tx.Commit(ctx)
}

func (r *PostgresRepository) UpdateAlias(ctx context.Context, code, alias string) (*domain.Link, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	link, err := findOne(ctx, tx, `SELECT `+linkColumns+` FROM links WHERE code = $1 FOR UPDATE`, code)
	if err != nil {
		return nil, err
	}
	if !link.IsActive() {
		return nil, domain.ErrNotFound
	}
	if link.Alias == alias {
		return link, tx.Commit(ctx)
	}

	if alias != link.Code {
		if err := claimIdentifier(ctx, tx, alias, link.ID); err != nil {
			if isUniqueViolation(err) {
				return nil, domain.ErrDuplicateAlias
			}
			return nil, err
		}
	}
	if link.Alias != link.Code {
		if _, err := tx.Exec(ctx, `DELETE FROM identifiers WHERE identifier = $1`, link.Alias); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE links SET alias = $1 WHERE id = $2`, alias, link.ID); err != nil {
		return nil, err
	}

	link.Alias = alias
	return link, tx.Commit(ctx)
}

func (r *PostgresRepository) UpdateRequestLimit(ctx context.Context, code string, limit int64) (*domain.Link, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE links SET request_limit = $1
		WHERE code = $2 AND status = 'active' AND access_count <= $1`,
		limit, code,
	)
	if err != nil {
		return nil, err
	}

	link, err := findOne(ctx, r.pool, `SELECT `+linkColumns+` FROM links WHERE code = $1`, code)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if !link.IsActive() {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrInvalidState
	}
	return link, nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, code string) (*domain.Link, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE links SET status = 'deleted' WHERE code = $1 AND status = 'active'`, code)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}
	return findOne(ctx, r.pool, `SELECT `+linkColumns+` FROM links WHERE code = $1`, code)
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]domain.Link, error) {
	return r.list(ctx, `SELECT `+linkColumns+` FROM links WHERE status = 'active' ORDER BY id`)
}

func (r *PostgresRepository) Dump(ctx context.Context) ([]domain.Link, error) {
	return r.list(ctx, `SELECT `+linkColumns+` FROM links ORDER BY id`)
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) list(ctx context.Context, query string) ([]domain.Link, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	links, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Link, error) {
		l, err := scanLink(row)
		if err != nil {
			return domain.Link{}, err
		}
		return *l, nil
	})
	if err != nil {
		return nil, err
	}

	visitors := make(map[int64][]string)
	rows, err = r.pool.Query(ctx, `SELECT link_id, client_id FROM visitors ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var client string
		if err := rows.Scan(&id, &client); err != nil {
			return nil, err
		}
		visitors[id] = append(visitors[id], client)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range links {
		if from, ok := visitors[links[i].ID]; ok {
			links[i].Stats.AccessedFrom = from
		}
	}
	return links, nil
}

func findOne(ctx context.Context, q querier, query string, arg any) (*domain.Link, error) {
	link, err := scanLink(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT client_id FROM visitors WHERE link_id = $1 ORDER BY seq`, link.ID)
	if err != nil {
		return nil, err
	}
	from, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if from != nil {
		link.Stats.AccessedFrom = from
	}
	return link, nil
}

func claimIdentifier(ctx context.Context, tx pgx.Tx, identifier string, id int64) error {
	_, err := tx.Exec(ctx, `INSERT INTO identifiers (identifier, link_id) VALUES ($1, $2)`, identifier, id)
	return err
}

// addVisitor reports whether client was not yet in the visitor set.
func addVisitor(ctx context.Context, tx pgx.Tx, id int64, client string, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO visitors (link_id, client_id, first_seen_at) VALUES ($1, $2, $3)
		ON CONFLICT (link_id, client_id) DO NOTHING`,
		id, client, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanLink(row pgx.Row) (*domain.Link, error) {
	var (
		l      domain.Link
		status string
	)
	if err := row.Scan(&l.ID, &l.Code, &l.Alias, &l.LongURL, &l.CreatedAt, &l.RequestLimit, &status,
		&l.Stats.AccessCount, &l.Stats.UniqueUsers, &l.Stats.LastAccessedAt); err != nil {
		return nil, err
	}
	l.Status = domain.LinkStatus(status)
	l.Stats.AccessedFrom = []string{}
	return &l, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ ports.LinkRepository = (*PostgresRepository)(nil)
