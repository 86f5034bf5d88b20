package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Dialect describes a target store flavour.
type Dialect struct {
	Name       string
	DriverName string
	Flavor     sqlbuilder.Flavor
	// MaxParams is the bound-parameter ceiling of one statement.
	MaxParams int
}

var (
	SQLite = Dialect{
		Name:       "sqlite",
		DriverName: "sqlite",
		Flavor:     sqlbuilder.SQLite,
		MaxParams:  999,
	}
	Postgres = Dialect{
		Name:       "postgres",
		DriverName: "postgres",
		Flavor:     sqlbuilder.PostgreSQL,
		MaxParams:  65535,
	}
)

// DialectFor resolves a dialect by name. "pg" and "postgresql" alias postgres.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unsupported target dialect '%s'", name)
}

// WithMaxParams returns a copy capped at limit when limit is lower.
func (d Dialect) WithMaxParams(limit int) Dialect {
	if limit > 0 && limit < d.MaxParams {
		d.MaxParams = limit
	}
	return d
}

// IsPostgres reports whether the dialect speaks PostgreSQL.
func (d Dialect) IsPostgres() bool {
	return d.Flavor == sqlbuilder.PostgreSQL
}

// QuoteIdent quotes an identifier, doubling embedded quote characters.
// Dotted names are quoted per segment.
func QuoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// QuoteIdents quotes every name.
func QuoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = QuoteIdent(n)
	}
	return out
}
