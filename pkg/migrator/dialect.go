package migrator

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lib/pq"
)

// Dialect captures the SQL differences between supported databases.
type Dialect interface {
	// Name is the canonical dialect name: mysql, postgres or sqlite.
	Name() string

	// QuoteIdent quotes a possibly schema-qualified identifier.
	QuoteIdent(name string) string

	// Literal renders a scanned value as an SQL literal.
	Literal(v any) string

	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string

	// ForeignKeyChecks returns the statement enabling or disabling
	// foreign-key enforcement for the current session.
	ForeignKeyChecks(enabled bool) string

	// Truncate returns the statement removing every row of table.
	Truncate(table string) string

	// Upsert returns a bulk insert of rows that overwrites rows colliding on
	// a unique key. keys are the primary key columns; dialects that do not
	// need them ignore the argument.
	Upsert(table string, columns []string, rows [][]any, keys []string) string

	// NeedsKeyColumns reports whether Upsert uses the key columns.
	NeedsKeyColumns() bool

	// HistoryDDL creates the applied-history table.
	HistoryDDL(table string) string

	// PrimaryKeyQuery returns a query listing the primary key columns of
	// table in key order.
	PrimaryKeyQuery(table string) (string, []any)
}

// DialectByName resolves a driver or dialect name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql", "mariadb":
		return MySQL{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
}

// MySQL is the MySQL/MariaDB dialect.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) QuoteIdent(name string) string {
	return quoteParts(name, func(p string) string {
		return "`" + strings.ReplaceAll(p, "`", "``") + "`"
	})
}

func (d MySQL) Literal(v any) string {
	return literal(v, literalStyle{
		quote: mysqlQuote,
		bool: func(b bool) string {
			if b {
				return "1"
			}
			return "0"
		},
		bytes: func(b []byte) string { return "X'" + hex.EncodeToString(b) + "'" },
	})
}

func mysqlQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `''`, "\x00", `\0`, "\x1a", `\Z`)
	return "'" + r.Replace(s) + "'"
}

func (MySQL) Placeholder(int) string { return "?" }

func (MySQL) ForeignKeyChecks(enabled bool) string {
	if enabled {
		return "SET foreign_key_checks = 1"
	}
	return "SET foreign_key_checks = 0"
}

func (d MySQL) Truncate(table string) string {
	return "TRUNCATE TABLE " + d.QuoteIdent(table)
}

func (d MySQL) Upsert(table string, columns []string, rows [][]any, _ []string) string {
	var b strings.Builder
	writeInsert(&b, d, table, columns, rows)
	b.WriteString(" ON DUPLICATE KEY UPDATE ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		q := d.QuoteIdent(c)
		fmt.Fprintf(&b, "%s = VALUES(%s)", q, q)
	}
	return b.String()
}

func (MySQL) NeedsKeyColumns() bool { return false }

func (d MySQL) HistoryDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	version VARCHAR(180) NOT NULL PRIMARY KEY,
	apply_time INT NULL
)`, d.QuoteIdent(table))
}

func (MySQL) PrimaryKeyQuery(table string) (string, []any) {
	return `SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
ORDER BY ORDINAL_POSITION`, []any{table}
}

// Postgres is the PostgreSQL dialect.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) QuoteIdent(name string) string {
	return quoteParts(name, pq.QuoteIdentifier)
}

func (Postgres) Literal(v any) string {
	return literal(v, literalStyle{
		quote: pq.QuoteLiteral,
		bool: func(b bool) string {
			if b {
				return "TRUE"
			}
			return "FALSE"
		},
		bytes: func(b []byte) string { return `'\x` + hex.EncodeToString(b) + `'::bytea` },
	})
}

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) ForeignKeyChecks(enabled bool) string {
	if enabled {
		return "SET session_replication_role = DEFAULT"
	}
	return "SET session_replication_role = replica"
}

func (d Postgres) Truncate(table string) string {
	return "TRUNCATE TABLE " + d.QuoteIdent(table)
}

func (d Postgres) Upsert(table string, columns []string, rows [][]any, keys []string) string {
	var b strings.Builder
	writeInsert(&b, d, table, columns, rows)
	if len(keys) == 0 {
		b.WriteString(" ON CONFLICT DO NOTHING")
		return b.String()
	}
	b.WriteString(" ON CONFLICT (")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(k))
	}
	b.WriteString(") DO UPDATE SET ")
	writeAssignments(&b, d, columns, "EXCLUDED")
	return b.String()
}

func (Postgres) NeedsKeyColumns() bool { return true }

func (d Postgres) HistoryDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	version VARCHAR(180) NOT NULL PRIMARY KEY,
	apply_time INTEGER
)`, d.QuoteIdent(table))
}

func (d Postgres) PrimaryKeyQuery(table string) (string, []any) {
	return `SELECT a.attname
FROM pg_index i
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = $1::text::regclass AND i.indisprimary
ORDER BY array_position(i.indkey::int2[], a.attnum)`, []any{d.QuoteIdent(table)}
}

// SQLite is the SQLite dialect.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) QuoteIdent(name string) string {
	return quoteParts(name, func(p string) string {
		return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	})
}

func (SQLite) Literal(v any) string {
	return literal(v, literalStyle{
		quote: func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" },
		bool: func(b bool) string {
			if b {
				return "1"
			}
			return "0"
		},
		bytes: func(b []byte) string { return "X'" + hex.EncodeToString(b) + "'" },
	})
}

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) ForeignKeyChecks(enabled bool) string {
	if enabled {
		return "PRAGMA foreign_keys = ON"
	}
	return "PRAGMA foreign_keys = OFF"
}

func (d SQLite) Truncate(table string) string {
	return "DELETE FROM " + d.QuoteIdent(table)
}

func (d SQLite) Upsert(table string, columns []string, rows [][]any, keys []string) string {
	var b strings.Builder
	writeInsert(&b, d, table, columns, rows)
	b.WriteString(" ON CONFLICT")
	if len(keys) > 0 {
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.QuoteIdent(k))
		}
		b.WriteString(")")
	}
	b.WriteString(" DO UPDATE SET ")
	writeAssignments(&b, d, columns, "excluded")
	return b.String()
}

func (SQLite) NeedsKeyColumns() bool { return true }

func (d SQLite) HistoryDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	version TEXT NOT NULL PRIMARY KEY,
	apply_time INTEGER
)`, d.QuoteIdent(table))
}

func (SQLite) PrimaryKeyQuery(table string) (string, []any) {
	return `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`, []any{table}
}

func quoteParts(name string, quote func(string) string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote(p)
	}
	return strings.Join(parts, ".")
}

func writeInsert(b *strings.Builder, d Dialect, table string, columns []string, rows [][]any) {
	fmt.Fprintf(b, "INSERT INTO %s (", d.QuoteIdent(table))
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(") VALUES ")
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Literal(v))
		}
		b.WriteString(")")
	}
}

func writeAssignments(b *strings.Builder, d Dialect, columns []string, source string) {
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		q := d.QuoteIdent(c)
		fmt.Fprintf(b, "%s = %s.%s", q, source, q)
	}
}

type literalStyle struct {
	quote func(string) string
	bool  func(bool) string
	bytes func([]byte) string
}

// literal renders driver values. Text columns often arrive as []byte, so
// valid UTF-8 bytes are rendered as strings and only binary data as hex.
func literal(v any, s literalStyle) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		return s.bool(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x), 32, s)
	case float64:
		return formatFloat(x, 64, s)
	case []byte:
		if utf8.Valid(x) {
			return s.quote(string(x))
		}
		return s.bytes(x)
	case string:
		return s.quote(x)
	case time.Time:
		return s.quote(x.Format("2006-01-02 15:04:05.999999"))
	case fmt.Stringer:
		return s.quote(x.String())
	default:
		return s.quote(fmt.Sprint(x))
	}
}

func formatFloat(f float64, bits int, s literalStyle) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return s.quote(strconv.FormatFloat(f, 'g', -1, bits))
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}
