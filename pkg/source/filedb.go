package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/text/encoding"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/charset"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
)

// DefaultSeparator joins composite keys in record folder names.
const DefaultSeparator = "_"

// FileDB reads a record-as-directory tree:
// <base>/<table>/<key>/<field><ext>, one small text file per field.
type FileDB struct {
	id     string
	fs     billy.Filesystem
	schema *manifest.SourceSchema
	logger ectologger.Logger
}

func NewFileDB(id string, fs billy.Filesystem, schema *manifest.SourceSchema, opts Options) *FileDB {
	return &FileDB{id: id, fs: fs, schema: schema, logger: opts.Logger}
}

func (f *FileDB) Fetch(ctx context.Context, table string) ([]Row, error) {
	_, end := startFetchSpan(ctx, f.id, table)
	defer end()

	cfg, err := f.schema.Table(table)
	if err != nil {
		return nil, err
	}

	enc, err := charset.Lookup(cfg.Charset)
	if err != nil {
		return nil, fmt.Errorf("table '%s': %w", table, err)
	}

	folder := cfg.Source.Table
	entries, err := f.fs.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) {
			f.logger.WithContext(ctx).WithField("folder", folder).Warn("Flat-file table folder does not exist")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", folder, err)
	}

	keyColumns := []string(cfg.Key)
	if len(keyColumns) == 0 {
		keyColumns = cfg.KeyColumns()
	}
	separator := cfg.Separator
	if separator == "" {
		separator = DefaultSeparator
	}

	var rows []Row
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}

		recordDir := path.Join(folder, entry.Name())
		row := Row{}
		assignKeys(row, keyColumns, entry.Name(), separator)

		for _, field := range cfg.Fields {
			if _, isKey := row[field.Alias]; isKey {
				continue
			}
			value, err := f.readField(recordDir, field.Column+cfg.Extension, enc)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", recordDir, err)
			}
			row[field.Alias] = value
		}
		if len(cfg.Source.DefaultFilter) > 0 {
			keep, err := MatchFilter(byColumn(row, cfg.Fields), cfg.Source.DefaultFilter)
			if err != nil {
				return nil, fmt.Errorf("table '%s': %w", table, err)
			}
			if !keep {
				continue
			}
		}
		rows = append(rows, row)
	}

	sortRows(rows, cfg.Source.Order, keyColumns)
	return rows, nil
}

// assignKeys splits a folder name into its key columns. Surplus separators
// stay in the last key.
func assignKeys(row Row, keys []string, name, separator string) {
	if len(keys) == 0 {
		return
	}
	parts := strings.SplitN(name, separator, len(keys))
	for i, k := range keys {
		if i < len(parts) {
			row[k] = parts[i]
		} else {
			row[k] = nil
		}
	}
}

// readField returns nil for a missing file.
func (f *FileDB) readField(dir, name string, enc encoding.Encoding) (any, error) {
	data, err := util.ReadFile(f.fs, path.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	text, err := charset.Decode(enc, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return strings.TrimRight(text, "\r\n"), nil
}

func sortRows(rows []Row, order []string, keys []string) {
	by := order
	if len(by) == 0 {
		by = keys
	}
	if len(by) == 0 {
		return
	}

	type sortKey struct {
		column string
		desc   bool
	}
	sortKeys := make([]sortKey, 0, len(by))
	for _, o := range by {
		fields := strings.Fields(o)
		if len(fields) == 0 {
			continue
		}
		sortKeys = append(sortKeys, sortKey{
			column: fields[0],
			desc:   len(fields) > 1 && strings.EqualFold(fields[1], "desc"),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range sortKeys {
			a, b := expression.ToString(rows[i][k.column]), expression.ToString(rows[j][k.column])
			if a != b {
				return (a < b) != k.desc
			}
		}
		return false
	})
}

func (f *FileDB) Close() error {
	return nil
}
