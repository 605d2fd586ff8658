package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

const (
	defaultPrefix = "linktally:"
	timeLayout    = time.RFC3339Nano
)

// RedisRepository stores each link as a hash plus one key per identifier.
// Mutations run as Lua scripts, so each is a single atomic step on the server.
//
// Keys are derived inside the scripts, which ties the store to a single node
// rather than a cluster.
type RedisRepository struct {
	client *goredis.Client
	prefix string
}

func NewRedisRepository(ctx context.Context, redisURL string) (*RedisRepository, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisRepository{client: client, prefix: defaultPrefix}, nil
}

func (r *RedisRepository) identKey(identifier string) string { return r.prefix + "id:" + identifier }
func (r *RedisRepository) linkKey(code string) string        { return r.prefix + "link:" + code }
func (r *RedisRepository) visitorsKey(code string) string    { return r.prefix + "visitors:" + code }
func (r *RedisRepository) orderKey() string                  { return r.prefix + "links" }
func (r *RedisRepository) seqKey() string                    { return r.prefix + "seq" }

func (r *RedisRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.Link, error) {
	code, err := r.client.Get(ctx, r.identKey(identifier)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.load(ctx, code)
}

func (r *RedisRepository) Exists(ctx context.Context, identifier string) (bool, error) {
	n, err := r.client.Exists(ctx, r.identKey(identifier)).Result()
	return n > 0, err
}

func (r *RedisRepository) Insert(ctx context.Context, link *domain.Link) error {
	status := link.Status
	if status == "" {
		status = domain.StatusActive
	}

	keys := []string{
		r.identKey(link.Code),
		r.identKey(link.Alias),
		r.linkKey(link.Code),
		r.orderKey(),
		r.seqKey(),
		r.visitorsKey(link.Code),
	}
	args := []any{
		link.Code,
		link.Alias,
		link.LongURL,
		link.CreatedAt.UTC().Format(timeLayout),
		formatLimit(link.RequestLimit),
		string(status),
		link.Stats.AccessCount,
		link.Stats.UniqueUsers,
		formatTime(link.Stats.LastAccessedAt),
	}
	for _, client := range link.Stats.AccessedFrom {
		args = append(args, client)
	}

	id, err := insertScript.Run(ctx, r.client, keys, args...).Int64()
	if err != nil {
		return err
	}
	switch id {
	case replyDupCode:
		return domain.ErrDuplicateCode
	case replyDupAlias:
		return domain.ErrDuplicateAlias
	}
	link.ID = id
	return nil
}

func (r *RedisRepository) RecordVisit(ctx context.Context, visit domain.Visit) (*domain.Link, error) {
	res, err := recordVisitScript.Run(ctx, r.client,
		[]string{r.identKey(visit.Identifier)},
		r.prefix, visit.ClientID, visit.At.UTC().Format(timeLayout),
	).Result()
	if err != nil {
		return nil, err
	}

	switch v := res.(type) {
	case string:
		return r.load(ctx, v)
	case int64:
		return nil, replyError(v)
	default:
		return nil, fmt.Errorf("unexpected script reply %T", res)
	}
}

func (r *RedisRepository) UpdateAlias(ctx context.Context, code, alias string) (*domain.Link, error) {
	reply, err := updateAliasScript.Run(ctx, r.client,
		[]string{r.linkKey(code), r.identKey(alias)},
		code, alias, r.prefix,
	).Int64()
	if err != nil {
		return nil, err
	}
	if reply != replyOK {
		return nil, replyError(reply)
	}
	return r.load(ctx, code)
}

func (r *RedisRepository) UpdateRequestLimit(ctx context.Context, code string, limit int64) (*domain.Link, error) {
	reply, err := updateLimitScript.Run(ctx, r.client, []string{r.linkKey(code)}, limit).Int64()
	if err != nil {
		return nil, err
	}
	if reply != replyOK {
		return nil, replyError(reply)
	}
	return r.load(ctx, code)
}

func (r *RedisRepository) Deactivate(ctx context.Context, code string) (*domain.Link, error) {
	reply, err := deactivateScript.Run(ctx, r.client, []string{r.linkKey(code)}).Int64()
	if err != nil {
		return nil, err
	}
	if reply != replyOK {
		return nil, replyError(reply)
	}
	return r.load(ctx, code)
}

func (r *RedisRepository) ListActive(ctx context.Context) ([]domain.Link, error) {
	return r.list(ctx, true)
}

func (r *RedisRepository) Dump(ctx context.Context) ([]domain.Link, error) {
	return r.list(ctx, false)
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func (r *RedisRepository) list(ctx context.Context, activeOnly bool) ([]domain.Link, error) {
	codes, err := r.client.ZRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	links := make([]domain.Link, 0, len(codes))
	for _, code := range codes {
		link, err := r.load(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", code, err)
		}
		if activeOnly && !link.IsActive() {
			continue
		}
		links = append(links, *link)
	}
	return links, nil
}

// load reads the hash and visitor set in one MULTI so both reflect the same
// committed state.
func (r *RedisRepository) load(ctx context.Context, code string) (*domain.Link, error) {
	var (
		hash     *goredis.MapStringStringCmd
		visitors *goredis.StringSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		hash = p.HGetAll(ctx, r.linkKey(code))
		visitors = p.ZRange(ctx, r.visitorsKey(code), 0, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := hash.Val()
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	link, err := decodeLink(fields)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", code, err)
	}
	if from := visitors.Val(); len(from) > 0 {
		link.Stats.AccessedFrom = from
	}
	return link, nil
}

func decodeLink(f map[string]string) (*domain.Link, error) {
	l := &domain.Link{
		Code:    f["code"],
		Alias:   f["alias"],
		LongURL: f["long_url"],
		Status:  domain.LinkStatus(f["status"]),
		Stats:   domain.LinkStats{AccessedFrom: []string{}},
	}

	var err error
	if l.ID, err = strconv.ParseInt(f["id"], 10, 64); err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	if l.CreatedAt, err = time.Parse(timeLayout, f["created_at"]); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if l.Stats.AccessCount, err = strconv.ParseInt(f["access_count"], 10, 64); err != nil {
		return nil, fmt.Errorf("access_count: %w", err)
	}
	if l.Stats.UniqueUsers, err = strconv.ParseInt(f["unique_users"], 10, 64); err != nil {
		return nil, fmt.Errorf("unique_users: %w", err)
	}
	if v := f["request_limit"]; v != "" {
		limit, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("request_limit: %w", err)
		}
		l.RequestLimit = &limit
	}
	if v := f["last_accessed_at"]; v != "" {
		t, err := time.Parse(timeLayout, v)
		if err != nil {
			return nil, fmt.Errorf("last_accessed_at: %w", err)
		}
		l.Stats.LastAccessedAt = &t
	}
	return l, nil
}

func replyError(code int64) error {
	switch code {
	case replyNotFound:
		return domain.ErrNotFound
	case replyDupCode:
		return domain.ErrDuplicateCode
	case replyDupAlias:
		return domain.ErrDuplicateAlias
	case replyGone:
		return domain.ErrGone
	case replyLimit:
		return domain.ErrLimitExceeded
	case replyInvalidState:
		return domain.ErrInvalidState
	default:
		return fmt.Errorf("unexpected script reply %d", code)
	}
}

func formatLimit(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

var _ ports.LinkRepository = (*RedisRepository)(nil)
