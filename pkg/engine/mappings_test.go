package engine

import (
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/database"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
)

// TestShippedMappings compiles the bundled manifest against a store built by
// the bundled migrations.
func TestShippedMappings(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	sqlxDB, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlxDB.SetMaxOpenConns(1)
	defer sqlxDB.Close()
	db := database.NewDatabaseInstance(sqlxDB, database.SQLite, logger)

	svc := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../db/migrations"})
	require.NoError(t, svc.MigrateDB(db))

	m, err := manifest.Load("../../mappings/afs_to_shop.yml")
	require.NoError(t, err)
	target, err := manifest.LoadTargetSchema(m.ResolvePath(m.Target[m.TargetID()].Schema))
	require.NoError(t, err)

	for id, ref := range m.Sources {
		_, err := manifest.LoadSchema(m.ResolvePath(ref.Schema))
		require.NoError(t, err, id)
	}

	e, err := New(Config{Manifest: m, Target: target, DB: db}, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"category", "documents", "media", "article"}, e.Entities())

	for _, table := range []string{"category", "article", "media", "document", "attribute", "article_image", "article_document", "article_attribute"} {
		cols, err := e.Mapper().LiveColumns(t.Context(), db, table)
		require.NoError(t, err, table)
		assert.NotEmpty(t, cols, table)
	}
}
