package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
)

const cliManifest = `
sources:
  afs: {schema: afs.yml}
target:
  shop: {schema: shop.yml}
entities:
  category:
    from: afs.Warengruppe
    map:
      shop.category.afs_id: AFS.Warengruppe.Warengruppe
      shop.category.name: AFS.Warengruppe.Bezeichnung | trim
`

const cliTarget = `
tables:
  category:
    business_key: afs_id
    tracking: {}
`

type cliEnv struct {
	dir      string
	manifest string
	shopDB   string
}

// newCLIEnv writes a staged sqlite source, its schemas and a manifest into a
// temp dir and points the environment at a fresh shop database.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()

	afsDB := filepath.Join(dir, "afs.db")
	db, err := sqlx.Open("sqlite", afsDB)
	require.NoError(t, err)
	db.MustExec(`CREATE TABLE Warengruppe (Warengruppe TEXT, Bezeichnung TEXT)`)
	db.MustExec(`INSERT INTO Warengruppe VALUES ('1', ' Büro '), ('2', 'Stühle')`)
	require.NoError(t, db.Close())

	afsSchema := fmt.Sprintf("driver: sqlite\nconnection:\n  path: %q\ntables:\n  Warengruppe:\n    fields: [Warengruppe, Bezeichnung]\n", afsDB)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "afs.yml"), []byte(afsSchema), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.yml"), []byte(cliTarget), 0o644))
	manifestPath := filepath.Join(dir, "manifest.yml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(cliManifest), 0o644))

	migrations, err := filepath.Abs(filepath.Join("..", "..", "db", "migrations"))
	require.NoError(t, err)

	shopDB := filepath.Join(dir, "shop.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", shopDB)
	t.Setenv("DB_MIGRATION_FOLDER_PATH", migrations)
	t.Setenv("MANIFEST_PATH", filepath.Join(dir, "missing.yml"))
	t.Setenv("LOG_LEVEL", "error")

	return &cliEnv{dir: dir, manifest: manifestPath, shopDB: shopDB}
}

// run executes the root command with args and returns its output. Flag values
// persist between executions, so the command flags are reset first.
func (c *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for name, value := range map[string]string{"migrate": "false", "json": "false"} {
		require.NoError(t, syncCmd.Flags().Set(name, value))
	}
	require.NoError(t, rootCmd.PersistentFlags().Set("manifest", ""))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--env-file", filepath.Join(c.dir, "none.env"), "--config", ""}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncCommand(t *testing.T) {
	t.Run("should migrate and sync with the manifest flag", func(t *testing.T) {
		env := newCLIEnv(t)

		out, err := env.run(t, "sync", "--migrate", "--manifest", env.manifest)
		require.NoError(t, err)
		assert.Equal(t, 0, exitCode(err))
		assert.Contains(t, out, "category: processed=2 inserted=2")

		db, err := sqlx.Open("sqlite", env.shopDB)
		require.NoError(t, err)
		defer db.Close()
		var names []string
		require.NoError(t, db.Select(&names, `SELECT name FROM category ORDER BY afs_id`))
		assert.Equal(t, []string{"Büro", "Stühle"}, names)
	})

	t.Run("should print stats as JSON", func(t *testing.T) {
		env := newCLIEnv(t)

		out, err := env.run(t, "sync", "--migrate", "--json", "-m", env.manifest)
		require.NoError(t, err)
		assert.Contains(t, out, `"entity": "category"`)
		assert.Contains(t, out, `"inserted": 2`)
	})

	t.Run("should fail when the manifest from the environment is missing", func(t *testing.T) {
		env := newCLIEnv(t)

		out, err := env.run(t, "sync")
		assert.Error(t, err)
		assert.Equal(t, exitFailure, exitCode(err))
		assert.NotContains(t, out, "processed=")
	})

	t.Run("should exit with failure when an entity fails", func(t *testing.T) {
		env := newCLIEnv(t)

		out, err := env.run(t, "sync", "--manifest", env.manifest)
		require.Error(t, err)
		assert.Equal(t, exitFailure, exitCode(err))
		assert.Contains(t, out, "category: failed:")
	})

	t.Run("should reject an invalid configuration", func(t *testing.T) {
		env := newCLIEnv(t)
		t.Setenv("DB_DRIVER", "oracle")

		_, err := env.run(t, "sync", "--manifest", env.manifest)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})
}

func TestEntitiesCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "entities", "--manifest", env.manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "ENTITY")
	assert.Contains(t, out, "category")
	assert.Contains(t, out, "afs.Warengruppe")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(assert.AnError))
	assert.Equal(t, exitBusy, exitCode(fmt.Errorf("run: %w", errors.NewBusyError("shop"))))
}
