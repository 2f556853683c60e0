package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// driverNames maps configured driver names to database/sql driver names.
// The drivers themselves are registered by the binary.
var driverNames = map[string]string{
	"mysql":      "mysql",
	"mariadb":    "mysql",
	"postgres":   "postgres",
	"postgresql": "postgres",
	"pgx":        "pgx",
	"sqlite":     "sqlite",
	"sqlite3":    "sqlite",
}

// SQLDriverName returns the database/sql driver name for a configured driver.
func SQLDriverName(driver string) (string, error) {
	name, ok := driverNames[strings.ToLower(driver)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, driver)
	}
	return name, nil
}

// DB bundles a connection pool with its dialect and schema metadata cache.
type DB struct {
	sql     *sql.DB
	dialect Dialect
	cache   *SchemaCache
}

// Open connects using a configured driver name and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	name, err := SQLDriverName(driver)
	if err != nil {
		return nil, err
	}
	dialect, err := DialectByName(driver)
	if err != nil {
		return nil, err
	}
	pool, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}
	return New(pool, dialect), nil
}

// New wraps an existing pool.
func New(pool *sql.DB, dialect Dialect) *DB {
	return &DB{sql: pool, dialect: dialect, cache: NewSchemaCache()}
}

// SQL returns the underlying pool.
func (d *DB) SQL() *sql.DB { return d.sql }

// Dialect returns the SQL dialect.
func (d *DB) Dialect() Dialect { return d.dialect }

// Cache returns the schema metadata cache.
func (d *DB) Cache() *SchemaCache { return d.cache }

// Close closes the pool.
func (d *DB) Close() error { return d.sql.Close() }

// TableSchema returns cached metadata for table, loading it on first use.
func (d *DB) TableSchema(ctx context.Context, table string) (*TableSchema, error) {
	return d.cache.Table(ctx, d.sql, d.dialect, table)
}

// TableSchema is the metadata kept per table.
type TableSchema struct {
	Name       string
	Columns    []string
	PrimaryKey []string
}

// SchemaCache holds table metadata between statements of one action.
// Migrations alter tables, so the cache is flushed before every action
// that may run them.
type SchemaCache struct {
	mu     sync.RWMutex
	tables map[string]*TableSchema
}

// NewSchemaCache creates an empty cache.
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{tables: make(map[string]*TableSchema)}
}

// Table returns the metadata for name, querying q on a miss.
func (c *SchemaCache) Table(ctx context.Context, q Execer, dialect Dialect, name string) (*TableSchema, error) {
	c.mu.RLock()
	ts, ok := c.tables[name]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	ts, err := loadTableSchema(ctx, q, dialect, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tables[name] = ts
	c.mu.Unlock()
	return ts, nil
}

// Flush drops every cached entry.
func (c *SchemaCache) Flush() {
	c.mu.Lock()
	c.tables = make(map[string]*TableSchema)
	c.mu.Unlock()
}

// Len returns the number of cached tables.
func (c *SchemaCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}

func loadTableSchema(ctx context.Context, q Execer, dialect Dialect, name string) (*TableSchema, error) {
	rows, err := q.QueryContext(ctx, "SELECT * FROM "+dialect.QuoteIdent(name)+" WHERE 1 = 0")
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", name, err)
	}
	columns, err := rows.Columns()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", name, err)
	}

	query, args := dialect.PrimaryKeyQuery(name)
	pkRows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading primary key of %s: %w", name, err)
	}
	defer func() { _ = pkRows.Close() }()

	var pk []string
	for pkRows.Next() {
		var col string
		if err := pkRows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scanning primary key of %s: %w", name, err)
		}
		pk = append(pk, col)
	}
	if err := pkRows.Err(); err != nil {
		return nil, fmt.Errorf("reading primary key of %s: %w", name, err)
	}

	return &TableSchema{Name: name, Columns: columns, PrimaryKey: pk}, nil
}
