// Package store is the document store adapter: typed CRUD,
// parameterized queries, and change-feed iteration with continuation
// tokens, backed by a single Postgres `documents` table with a jsonb body
// column. A monotonic bigserial `seq` column backs the change feed's
// continuation token: reading changes since a token is
// `SELECT ... WHERE container = $1 AND seq > $2 ORDER BY seq LIMIT $3`.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool and records operation latency, logging
// at warning level any operation exceeding SlowThreshold.
type Store struct {
	pool          *pgxpool.Pool
	SlowThreshold time.Duration
}

// New constructs a Store over an already-connected pool.
func New(pool *pgxpool.Pool, slowThreshold time.Duration) *Store {
	if slowThreshold <= 0 {
		slowThreshold = 250 * time.Millisecond
	}
	return &Store{pool: pool, SlowThreshold: slowThreshold}
}

// Connect opens a pgx pool for dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string, slowThreshold time.Duration) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return New(pool, slowThreshold), nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) observe(op, container string, start time.Time) {
	d := time.Since(start)
	if d >= s.SlowThreshold {
		slog.Warn("slow document store operation",
			"op", op, "container", container, "duration_ms", d.Milliseconds())
	}
}

// ChangeFeedItem is one raw document returned by ChangeFeed: its container
// row sequence plus the stored body. The pipeline orchestrator interprets
// Body as a link or feedback document depending on the container.
type ChangeFeedItem struct {
	ID   string
	Seq  int64
	Body map[string]any
}

// ChangeFeed reads a bounded page of changes to container since token
// (empty token means "from the start"). It returns the page of items in
// seq order and the continuation token to resume from on the next call.
// When no rows are returned, nextToken equals token unchanged.
func (s *Store) ChangeFeed(ctx context.Context, container, token string, pageSize int) ([]ChangeFeedItem, string, error) {
	start := time.Now()
	defer s.observe("change_feed", container, start)

	since, err := parseToken(token)
	if err != nil {
		return nil, token, fmt.Errorf("store: change_feed: invalid token %q: %w", token, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, seq, body FROM documents
		 WHERE container = $1 AND seq > $2
		 ORDER BY seq ASC LIMIT $3`,
		container, since, pageSize)
	if err != nil {
		if IsEmptyFeedQuirk(err) {
			return nil, token, nil
		}
		return nil, token, newTransportError("change_feed", err)
	}
	defer rows.Close()

	var items []ChangeFeedItem
	last := since
	for rows.Next() {
		var it ChangeFeedItem
		var raw []byte
		if err := rows.Scan(&it.ID, &it.Seq, &raw); err != nil {
			return nil, token, newTransportError("change_feed_scan", err)
		}
		if err := json.Unmarshal(raw, &it.Body); err != nil {
			return nil, token, newTransportError("change_feed_unmarshal", err)
		}
		items = append(items, it)
		last = it.Seq
	}
	if err := rows.Err(); err != nil && !IsEmptyFeedQuirk(err) {
		return nil, token, newTransportError("change_feed_rows", err)
	}
	if len(items) == 0 {
		return nil, token, nil
	}

	return items, formatToken(last), nil
}

func formatToken(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

func parseToken(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	return strconv.ParseInt(token, 10, 64)
}

// translateNamedParams rewrites a `@name` template fragment into a
// positional-placeholder SQL predicate plus its ordered argument list.
// Callers write `@param` fragments and the adapter lowers them to pgx's
// `$N` placeholders.
func translateNamedParams(template string, params map[string]any) (string, []any, error) {
	var b strings.Builder
	var args []any
	i := 0
	for i < len(template) {
		c := template[i]
		if c == '@' {
			j := i + 1
			for j < len(template) && isIdentByte(template[j]) {
				j++
			}
			name := template[i+1 : j]
			val, ok := params[name]
			if !ok {
				return "", nil, fmt.Errorf("missing parameter %q", name)
			}
			args = append(args, val)
			fmt.Fprintf(&b, "$%d", len(args))
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), args, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// queryRaw runs a named-param predicate against container, auto-excluding
// soft-deleted rows, and returns matching raw bodies.
func (s *Store) queryRaw(ctx context.Context, container, predicate string, params map[string]any) ([][]byte, error) {
	start := time.Now()
	defer s.observe("query", container, start)

	where, args, err := translateNamedParams(predicate, params)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	args = append([]any{container}, args...)
	// shift placeholder numbers for the predicate args by 1 since $1 is
	// reserved for container; rebuild the predicate with the offset.
	shifted := shiftPlaceholders(where, 1)

	sql := fmt.Sprintf(
		`SELECT body FROM documents WHERE container = $1 AND deleted_at IS NULL AND (%s)`, shifted)
	if predicate == "" {
		sql = `SELECT body FROM documents WHERE container = $1 AND deleted_at IS NULL`
		args = []any{container}
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, newTransportError("query", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, newTransportError("query_scan", err)
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, newTransportError("query_rows", err)
	}
	return out, nil
}

// shiftPlaceholders renumbers $1..$N in sql to $(1+offset)..$(N+offset).
func shiftPlaceholders(sql string, offset int) string {
	var b strings.Builder
	i := 0
	for i < len(sql) {
		if sql[i] == '$' && i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9' {
			j := i + 1
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				j++
			}
			n, _ := strconv.Atoi(sql[i+1 : j])
			fmt.Fprintf(&b, "$%d", n+offset)
			i = j
			continue
		}
		b.WriteByte(sql[i])
		i++
	}
	return b.String()
}

// queryRawRecent behaves like queryRaw but orders by creation time
// (newest first) and caps the result at limit. Used by the run ledger's
// listing and aggregation surface, where "recent" means
// most-recently-created.
func (s *Store) queryRawRecent(ctx context.Context, container, predicate string, params map[string]any, limit int) ([][]byte, error) {
	start := time.Now()
	defer s.observe("query_recent", container, start)

	where, args, err := translateNamedParams(predicate, params)
	if err != nil {
		return nil, fmt.Errorf("store: query_recent: %w", err)
	}

	var sql string
	if predicate == "" {
		sql = `SELECT body FROM documents WHERE container = $1 AND deleted_at IS NULL ORDER BY created_at DESC LIMIT $2`
		args = []any{container, limit}
	} else {
		shifted := shiftPlaceholders(where, 1)
		sql = fmt.Sprintf(
			`SELECT body FROM documents WHERE container = $1 AND deleted_at IS NULL AND (%s) ORDER BY created_at DESC LIMIT $%d`,
			shifted, len(args)+2)
		args = append(append([]any{container}, args...), limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, newTransportError("query_recent", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, newTransportError("query_recent_scan", err)
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, newTransportError("query_recent_rows", err)
	}
	return out, nil
}

// execRaw inserts or replaces a document row. Update is a full-document
// replace: the caller already embeds the partition key in the record
// body, so partitionKey only targets the row and is never transmitted a
// second time alongside it.
func (s *Store) execRaw(ctx context.Context, op, container, id, partitionKey string, body []byte, deletedAt *time.Time, now time.Time) error {
	start := time.Now()
	defer s.observe(op, container, start)

	// A replace takes a fresh seq so the document re-enters the change
	// feed, the way the change feed re-emits updated documents.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, container, partition_key, body, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			partition_key = EXCLUDED.partition_key,
			body = EXCLUDED.body,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = EXCLUDED.updated_at,
			seq = nextval(pg_get_serial_sequence('documents', 'seq'))`,
		id, container, partitionKey, body, deletedAt, now)
	if err != nil {
		return newTransportError(op, err)
	}
	return nil
}

func (s *Store) getRaw(ctx context.Context, container, id, partitionKey string) ([]byte, error) {
	start := time.Now()
	defer s.observe("get", container, start)

	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT body FROM documents
		WHERE id = $1 AND container = $2 AND partition_key = $3 AND deleted_at IS NULL`,
		id, container, partitionKey).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, newTransportError("get", err)
	}
	return raw, nil
}
