package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/raphaelgruber/docjobs/internal/config"
	_ "modernc.org/sqlite"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type dialect struct {
	listTables  string
	placeholder func(n int) string
	upsert      string
}

var sqliteDialect = dialect{
	listTables:  `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
	placeholder: func(int) string { return "?" },
	upsert:      `INSERT INTO %s (id, doc) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`,
}

var postgresDialect = dialect{
	listTables:  `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`,
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	upsert:      `INSERT INTO %s (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`,
}

// SQL stores each collection as a table of (id TEXT PRIMARY KEY, doc TEXT)
// where doc holds the document as a JSON object. Filters are SQL boolean
// expressions over the table and are passed through verbatim.
type SQL struct {
	driver  string
	dsn     string
	dialect dialect
	logger  *slog.Logger

	mu   sync.RWMutex
	db   *sql.DB
	pool *pgxpool.Pool
}

// Compile-time check that SQL implements Store.
var _ Store = (*SQL)(nil)

// OpenSQL connects to a SQLite file (driver "sqlite") or a Postgres DSN
// (driver "postgres").
func OpenSQL(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQL, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQL{driver: driver, dsn: dsn, logger: logger}
	switch driver {
	case config.DriverSQLite:
		s.dialect = sqliteDialect
	case config.DriverPostgres:
		s.dialect = postgresDialect
	default:
		return nil, fmt.Errorf("unsupported sql driver: %q", driver)
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQL) connect(ctx context.Context) error {
	var (
		db   *sql.DB
		pool *pgxpool.Pool
		err  error
	)

	switch s.driver {
	case config.DriverPostgres:
		pool, err = pgxpool.New(ctx, s.dsn)
		if err != nil {
			return fmt.Errorf("%w: connect postgres: %w", ErrUnavailable, err)
		}
		db = stdlib.OpenDBFromPool(pool)
	default:
		db, err = sql.Open("sqlite", s.dsn)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		// An in-memory database exists per connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		if pool != nil {
			pool.Close()
		}
		return fmt.Errorf("%w: ping: %w", ErrUnavailable, err)
	}

	s.mu.Lock()
	s.db, s.pool = db, pool
	s.mu.Unlock()

	s.logger.Debug("sql document store connected", "driver", s.driver)
	return nil
}

func (s *SQL) conn() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// CollectionNames lists the tables in the current schema.
func (s *SQL) CollectionNames(ctx context.Context) ([]string, error) {
	rows, err := s.conn().QueryContext(ctx, s.dialect.listTables)
	if err != nil {
		return nil, classifySQLError(fmt.Errorf("list tables: %w", err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Query returns one page ordered by id together with the filtered row count.
func (s *SQL) Query(ctx context.Context, q Query) (Result, error) {
	table, err := quoteTable(q.Collection)
	if err != nil {
		return Result{}, err
	}
	if q.Limit <= 0 || q.Offset < 0 {
		return Result{}, fmt.Errorf("%w: offset=%d limit=%d", ErrInvalidQuery, q.Offset, q.Limit)
	}
	if strings.Contains(q.Filter, ";") {
		return Result{}, fmt.Errorf("%w: filter must be a single expression", ErrInvalidQuery)
	}

	where := ""
	if q.Filter != "" {
		where = " WHERE " + q.Filter
	}

	db := s.conn()

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+where).Scan(&total); err != nil {
		return Result{}, classifySQLError(fmt.Errorf("count %s: %w", q.Collection, err))
	}

	page := fmt.Sprintf("SELECT id, doc FROM %s%s ORDER BY id LIMIT %s OFFSET %s",
		table, where, s.dialect.placeholder(1), s.dialect.placeholder(2))
	rows, err := db.QueryContext(ctx, page, q.Limit, q.Offset)
	if err != nil {
		return Result{}, classifySQLError(fmt.Errorf("query %s at offset %d: %w", q.Collection, q.Offset, err))
	}
	defer rows.Close()

	docs := make([]Document, 0, q.Limit)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		doc := Document{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			s.logger.Warn("skipping malformed document", "collection", q.Collection, "id", id, "error", err)
			doc = Document{}
		}
		doc["id"] = id
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return Result{}, classifySQLError(err)
	}

	return Result{Documents: docs, Total: total}, nil
}

// TextFields reports the string-valued keys of the first document.
// Documents are schemaless, so an empty collection yields no fields.
func (s *SQL) TextFields(ctx context.Context, collection string) ([]string, error) {
	res, err := s.Query(ctx, Query{Collection: collection, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(res.Documents) == 0 {
		return nil, nil
	}

	var fields []string
	for k := range res.Documents[0] {
		if _, ok := res.Documents[0].Text(k); ok {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields, nil
}

// EnsureCollection creates the backing table if needed.
func (s *SQL) EnsureCollection(ctx context.Context, collection string) error {
	table, err := quoteTable(collection)
	if err != nil {
		return err
	}
	_, err = s.conn().ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+table+" (id TEXT PRIMARY KEY, doc TEXT NOT NULL)")
	if err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	return nil
}

// Put inserts or replaces a document.
func (s *SQL) Put(ctx context.Context, collection, id string, doc Document) error {
	table, err := quoteTable(collection)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}
	if _, err := s.conn().ExecContext(ctx, fmt.Sprintf(s.dialect.upsert, table), id, string(raw)); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// Reconnect closes the current connection pool and opens a new one.
func (s *SQL) Reconnect(ctx context.Context) error {
	if err := s.Close(); err != nil {
		s.logger.Warn("closing stale sql connection failed", "error", err)
	}
	return s.connect(ctx)
}

// Close closes the connection pool.
func (s *SQL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

func quoteTable(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("%w: collection name %q", ErrInvalidQuery, name)
	}
	return `"` + name + `"`, nil
}

// classifySQLError maps missing tables onto ErrCollectionNotFound and leaves
// everything else untouched.
func classifySQLError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "does not exist") {
		return fmt.Errorf("%w: %w", ErrCollectionNotFound, err)
	}
	return err
}
