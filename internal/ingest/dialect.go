package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Dialect captures the SQL differences between supported sinks.
type Dialect struct {
	Name string

	// MaxParams is the bind parameter limit of one statement.
	MaxParams int

	placeholder func(n int) string
	quote       func(name string) string
	jsonType    string
	textType    string
	intType     string
	createTable func(table, quoted, body string) string
}

// Placeholder returns the positional parameter marker for the 1-based n.
func (d Dialect) Placeholder(n int) string { return d.placeholder(n) }

// QuoteTable quotes a possibly schema-qualified table name.
func (d Dialect) QuoteTable(table string) string {
	parts := SplitTable(table)
	if d.Name == "postgres" {
		return pgx.Identifier(parts).Sanitize()
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = d.quote(p)
	}
	return strings.Join(quoted, ".")
}

// QuoteIdent quotes one column name.
func (d Dialect) QuoteIdent(name string) string {
	if d.Name == "postgres" {
		return pgx.Identifier{name}.Sanitize()
	}
	return d.quote(name)
}

// SplitTable splits "schema.table" into its parts.
func SplitTable(table string) []string {
	parts := strings.Split(strings.TrimSpace(table), ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

var (
	// Postgres is served by pgx; bind limit is a uint16 count.
	Postgres = Dialect{
		Name:        "postgres",
		MaxParams:   65535,
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		jsonType:    "JSONB",
		textType:    "TEXT",
		intType:     "BIGINT",
		createTable: func(_, quoted, body string) string {
			return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoted, body)
		},
	}

	MySQL = Dialect{
		Name:        "mysql",
		MaxParams:   65535,
		placeholder: func(int) string { return "?" },
		quote:       func(name string) string { return "`" + strings.ReplaceAll(name, "`", "``") + "`" },
		jsonType:    "JSON",
		textType:    "TEXT",
		intType:     "BIGINT",
		createTable: func(_, quoted, body string) string {
			return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoted, body)
		},
	}

	SQLite = Dialect{
		Name:        "sqlite",
		MaxParams:   32766,
		placeholder: func(n int) string { return "?" + strconv.Itoa(n) },
		quote:       func(name string) string { return `"` + strings.ReplaceAll(name, `"`, `""`) + `"` },
		jsonType:    "TEXT",
		textType:    "TEXT",
		intType:     "INTEGER",
		createTable: func(_, quoted, body string) string {
			return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoted, body)
		},
	}

	SQLServer = Dialect{
		Name:        "sqlserver",
		MaxParams:   2100,
		placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
		quote:       func(name string) string { return "[" + strings.ReplaceAll(name, "]", "]]") + "]" },
		jsonType:    "NVARCHAR(MAX)",
		textType:    "NVARCHAR(MAX)",
		intType:     "BIGINT",
		createTable: func(table, quoted, body string) string {
			// OBJECT_ID takes the unquoted name as a string literal.
			lit := "N'" + strings.ReplaceAll(table, "'", "''") + "'"
			return fmt.Sprintf("IF OBJECT_ID(%s, N'U') IS NULL CREATE TABLE %s (%s)", lit, quoted, body)
		},
	}
)

// DialectFor returns the dialect of a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sink driver %q", driver)
	}
}
