package schema

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/database"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
)

const targetYAML = `
tables:
  article:
    business_key: model
    fields: [id, model, name, price]
  tag:
    name: tag
    keys: [code]
    fields: [code]
  media:
    name: media_file
    business_key: file_name
relationships:
  article_image:
    parent: article
    kind: media
    parent_column: article_id
    child_column: media_id
`

func newMapper(t *testing.T, dialect database.Dialect) *Mapper {
	t.Helper()
	target, err := manifest.ParseTargetSchema("shop.yml", []byte(targetYAML))
	require.NoError(t, err)
	return NewMapper(target, dialect)
}

func newDB(t *testing.T) database.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return database.NewDatabaseInstance(db, database.SQLite, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"name"`, database.QuoteIdent("name"))
	assert.Equal(t, `"we""ird"`, database.QuoteIdent(`we"ird`))
	assert.Equal(t, `"main"."article"`, database.QuoteIdent("main.article"))
}

func TestMapperTable(t *testing.T) {
	m := newMapper(t, database.SQLite)

	t.Run("should resolve by logical and physical name", func(t *testing.T) {
		byKey, err := m.Table("media")
		require.NoError(t, err)
		assert.Equal(t, "media_file", byKey.TableName)

		byName, err := m.Table("media_file")
		require.NoError(t, err)
		assert.Equal(t, "media", byName.Name)
		assert.Equal(t, []string{"file_name"}, byName.BusinessKey)
	})

	t.Run("should resolve relationship tables", func(t *testing.T) {
		rel, err := m.Table("article_image")
		require.NoError(t, err)
		require.NotNil(t, rel.Relation)
		assert.Equal(t, []string{"article_id", "media_id"}, rel.BusinessKey)
		assert.Equal(t, []string{"article_id", "media_id"}, rel.Columns)
	})

	t.Run("should reject unknown tables", func(t *testing.T) {
		_, err := m.Table("nope")
		assert.True(t, errors.IsConfigError(err))
	})
}

func TestUpsertSQL(t *testing.T) {
	t.Run("should update non key columns only when they differ", func(t *testing.T) {
		m := newMapper(t, database.SQLite)
		stmt, err := m.UpsertSQL("article", []string{"name", "model", "price"})
		require.NoError(t, err)
		assert.Equal(t, []string{"model", "name", "price"}, stmt.Columns)
		assert.Equal(t,
			`INSERT INTO "article" ("model", "name", "price") VALUES (?, ?, ?) ON CONFLICT ("model") DO UPDATE SET "name" = excluded."name", "price" = excluded."price" WHERE "article"."name" IS NOT excluded."name" OR "article"."price" IS NOT excluded."price"`,
			stmt.SQL)
	})

	t.Run("should do nothing without updatable columns", func(t *testing.T) {
		m := newMapper(t, database.SQLite)
		stmt, err := m.UpsertSQL("tag", []string{"code"})
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "tag" ("code") VALUES (?) ON CONFLICT ("code") DO NOTHING`, stmt.SQL)
	})

	t.Run("should use numbered placeholders on postgres", func(t *testing.T) {
		m := newMapper(t, database.Postgres)
		stmt, err := m.UpsertSQL("article", []string{"model", "name"})
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, "VALUES ($1, $2)")
		assert.Contains(t, stmt.SQL, `"article"."name" IS DISTINCT FROM excluded."name"`)
	})

	t.Run("should require the business key", func(t *testing.T) {
		m := newMapper(t, database.SQLite)
		_, err := m.UpsertSQL("article", []string{"name"})
		assert.Error(t, err)
	})

	t.Run("should cache by sorted column set", func(t *testing.T) {
		m := newMapper(t, database.SQLite)
		a, err := m.UpsertSQL("article", []string{"name", "model"})
		require.NoError(t, err)
		b, err := m.UpsertSQL("article", []string{"model", "name"})
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, m.statements, 1)
	})
}

func TestDeleteSQL(t *testing.T) {
	m := newMapper(t, database.SQLite)
	stmt, err := m.DeleteSQL("article_image")
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "article_image" WHERE "article_id" = ? AND "media_id" = ?`, stmt.SQL)

	pg := newMapper(t, database.Postgres)
	stmt, err = pg.DeleteSQL("article")
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "article" WHERE "model" = $1`, stmt.SQL)
}

func TestMergeSQL(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	m := newMapper(t, database.SQLite)

	_, err := db.ExecContext(ctx, `CREATE TABLE article (id INTEGER PRIMARY KEY, model TEXT UNIQUE NOT NULL, name TEXT, price REAL)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO article (model, name, price) VALUES ('A', 'Alt', 1), ('B', 'Same', 2)`)
	require.NoError(t, err)

	cols := []string{"model", "name", "price"}

	_, err = db.ExecContext(ctx, m.CreateStagingSQL("article", "stg_article", cols))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO stg_article (model, name, price) VALUES ('A', 'Neu', 1), ('B', 'Same', 2), ('C', 'Frisch', 3)`)
	require.NoError(t, err)

	stmt, err := m.MergeSQL("article", "stg_article", cols)
	require.NoError(t, err)
	res, err := db.ExecContext(ctx, stmt.SQL)
	require.NoError(t, err)

	affected, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected, "one insert and one real update; the unchanged row is skipped")

	var name string
	require.NoError(t, db.GetContext(ctx, &name, `SELECT name FROM article WHERE model = 'A'`))
	assert.Equal(t, "Neu", name)

	_, err = db.ExecContext(ctx, m.DropStagingSQL("stg_article"))
	require.NoError(t, err)

	live, err := m.LiveColumns(ctx, db, "article")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "model", "name", "price"}, live)

	_, err = m.LiveColumns(ctx, db, "missing")
	assert.Error(t, err)
}

func TestRowsPerBatch(t *testing.T) {
	m := NewMapper(&manifest.TargetSchema{}, database.SQLite)
	rows := m.RowsPerBatch(30)
	assert.Equal(t, 33, rows)
	assert.LessOrEqual(t, rows*30, 999)

	capped := NewMapper(&manifest.TargetSchema{}, database.Postgres.WithMaxParams(100))
	assert.Equal(t, 3, capped.RowsPerBatch(30))
	assert.Equal(t, 1, capped.RowsPerBatch(500))
}
