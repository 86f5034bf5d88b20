// Package source fetches entity rows from the configured source backends.
package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/tracing"
)

// Row is one source record keyed by field alias.
type Row map[string]any

// Connector fetches every row of one source table.
type Connector interface {
	Fetch(ctx context.Context, table string) ([]Row, error)
	Close() error
}

// Options carries defaults and injected handles used when building connectors.
type Options struct {
	Logger ectologger.Logger
	// DB replaces the connection a relational or staged source would open.
	DB *sqlx.DB
	// FS replaces the filesystem of a filedb source.
	FS billy.Filesystem
	// FileBasePath is the filedb root when the schema does not name one.
	FileBasePath string
	// MSSQL defaults merged under the schema's connection block.
	MSSQL MSSQLDefaults
	// Timeout bounds a single fetch. Zero means no timeout.
	Timeout time.Duration
}

type MSSQLDefaults struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Encrypt  string
}

// New builds the connector for a source schema's driver.
func New(ctx context.Context, id string, schema *manifest.SourceSchema, opts Options) (Connector, error) {
	switch strings.ToLower(schema.Driver) {
	case manifest.DriverMSSQL:
		db := opts.DB
		if db == nil {
			var err error
			db, err = sqlx.Open("sqlserver", mssqlDSN(schema.Connection, opts.MSSQL))
			if err != nil {
				return nil, fmt.Errorf("failed to open source '%s': %w", id, err)
			}
		}
		return NewRelational(id, db, schema, opts), nil

	case manifest.DriverFileDB:
		fs := opts.FS
		if fs == nil {
			base := connString(schema.Connection, "path", opts.FileBasePath)
			if base == "" {
				return nil, errors.NewConfigErrorf(id, "filedb source needs a base path")
			}
			fs = osfs.New(base)
		}
		return NewFileDB(id, fs, schema, opts), nil

	case manifest.DriverSQLite, manifest.DriverFileCatcher:
		db := opts.DB
		if db == nil {
			path := connString(schema.Connection, "path", "")
			if path == "" {
				return nil, errors.NewConfigErrorf(id, "%s source needs a database path", schema.Driver)
			}
			var err error
			db, err = sqlx.Open("sqlite", path)
			if err != nil {
				return nil, fmt.Errorf("failed to open source '%s': %w", id, err)
			}
		}
		return NewStaged(id, db, schema, opts), nil
	}

	return nil, errors.NewConfigErrorf(id, "unknown source driver '%s'", schema.Driver)
}

func connString(conn map[string]any, key, def string) string {
	if v, ok := conn[key]; ok && v != nil {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return def
}

// mssqlDSN builds a sqlserver:// URL. A `dsn` entry wins over the parts.
func mssqlDSN(conn map[string]any, def MSSQLDefaults) string {
	if dsn := connString(conn, "dsn", ""); dsn != "" {
		return dsn
	}

	host := connString(conn, "host", def.Host)
	port := connString(conn, "port", "")
	if port == "" && def.Port != 0 {
		port = fmt.Sprint(def.Port)
	}
	if port != "" {
		host += ":" + port
	}

	u := &url.URL{Scheme: "sqlserver", Host: host}
	user := connString(conn, "user", def.User)
	if user != "" {
		u.User = url.UserPassword(user, connString(conn, "password", def.Password))
	}

	q := url.Values{}
	if database := connString(conn, "database", def.Database); database != "" {
		q.Set("database", database)
	}
	if encrypt := connString(conn, "encrypt", def.Encrypt); encrypt != "" {
		q.Set("encrypt", encrypt)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// scanRows reads all rows as maps, converting byte slices to strings.
func scanRows(rows *sqlx.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, Row(row))
	}
	return out, rows.Err()
}

func startFetchSpan(ctx context.Context, sourceID, table string) (context.Context, func()) {
	ctx, span := tracing.StartSpan(ctx, "Source.Fetch")
	tracing.SetAttributes(span, map[string]string{"source": sourceID, "table": table})
	return ctx, func() { span.End() }
}
