package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
)

const testManifest = `
sources:
  afs:
    schema: schemas/afs.yml
target:
  shop:
    schema: schemas/shop.yml
entities:
  category:
    from: afs.Warengruppe
    category_tree: {id: Warengruppe, parent: Anhang, name: Bezeichnung}
    map:
      shop.category.afs_id: AFS.Warengruppe.Warengruppe
      shop.category.name: AFS.Warengruppe.Bezeichnung | trim
      shop.category.online: 1
  article:
    from: afs.Artikel
    master_field: Zusatzfeld07
    map:
      shop.article.model: AFS.Artikel.Artikelnummer
      shop.article.name: "AFS.Artikel.Bezeichnung | trim | default:'Unbenannt'"
      shop.article_image.file_1: AFS.Artikel.Bild1 | basename
`

func TestParse(t *testing.T) {
	t.Run("should parse a valid manifest", func(t *testing.T) {
		m, err := Parse([]byte(testManifest))
		require.NoError(t, err)

		assert.Equal(t, []string{"article", "category"}, m.EntityNames())
		assert.Equal(t, "shop", m.TargetID())

		category, err := m.Entity("category")
		require.NoError(t, err)
		assert.Equal(t, "afs", category.SourceID())
		assert.Equal(t, "Warengruppe", category.SourceTable())
		require.NotNil(t, category.CategoryTree)
		assert.Equal(t, "Anhang", category.CategoryTree.Parent)
	})

	t.Run("should reject unknown sources", func(t *testing.T) {
		_, err := Parse([]byte(`
sources: {afs: {schema: a.yml}}
target: {shop: {schema: b.yml}}
entities:
  x: {from: other.T, map: {a.b.c: d}}
`))
		require.Error(t, err)
		assert.True(t, errors.IsConfigError(err))
	})

	t.Run("should reject malformed from", func(t *testing.T) {
		_, err := Parse([]byte(`
sources: {afs: {schema: a.yml}}
target: {shop: {schema: b.yml}}
entities:
  x: {from: afs, map: {a.b.c: d}}
`))
		assert.Error(t, err)
	})

	t.Run("should require a map", func(t *testing.T) {
		_, err := Parse([]byte(`
sources: {afs: {schema: a.yml}}
target: {shop: {schema: b.yml}}
entities:
  x: {from: afs.T}
`))
		assert.Error(t, err)
	})

	t.Run("should report unknown entities as config errors", func(t *testing.T) {
		m, err := Parse([]byte(testManifest))
		require.NoError(t, err)
		_, err = m.Entity("nope")
		assert.True(t, errors.IsConfigError(err))
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "schemas/afs.yml"), m.ResolvePath(m.Sources["afs"].Schema))
	assert.Equal(t, "/abs/x.yml", m.ResolvePath("/abs/x.yml"))

	_, err = Load(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}

func TestEntityKind(t *testing.T) {
	assert.Equal(t, KindCategory, EntityKind("category", EntityConfig{}))
	assert.Equal(t, KindCategory, EntityKind("Warengruppen", EntityConfig{}))
	assert.Equal(t, KindArticle, EntityKind("artikel", EntityConfig{}))
	assert.Equal(t, KindMedia, EntityKind("article_images", EntityConfig{}))
	assert.Equal(t, KindDocument, EntityKind("documents", EntityConfig{}))
	assert.Equal(t, KindAttribute, EntityKind("attributes", EntityConfig{}))
	assert.Equal(t, KindOther, EntityKind("tax", EntityConfig{}))
	assert.Equal(t, KindArticle, EntityKind("tax", EntityConfig{Kind: KindArticle}))
}

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema("afs.yml", []byte(`
driver: mssql
connection: {database: AFS}
tables:
  Artikel:
    source:
      table: dbo.Artikel
      default_filter:
        Internet: 1
        Art: {in: [1, 2]}
      order: Artikel
    fields:
      - Artikel
      - Name: Bezeichnung
    business_key: Artikel
entities:
  Warengruppe:
    fields: [Warengruppe, Anhang]
    keys: [Warengruppe]
`))
	require.NoError(t, err)
	assert.Equal(t, DriverMSSQL, s.Driver)

	artikel, err := s.Table("Artikel")
	require.NoError(t, err)
	assert.Equal(t, "dbo.Artikel", artikel.Source.Table)
	assert.Equal(t, []FieldSpec{{Alias: "Artikel", Column: "Artikel"}, {Alias: "Name", Column: "Bezeichnung"}}, artikel.Fields)
	assert.Equal(t, []string{"Artikel"}, artikel.KeyColumns())
	assert.Equal(t, StringList{"Artikel"}, artikel.Source.Order)

	wg, err := s.Table("Warengruppe")
	require.NoError(t, err)
	assert.Equal(t, "Warengruppe", wg.Source.Table)
	assert.Equal(t, []string{"Warengruppe"}, wg.KeyColumns())

	_, err = s.Table("Missing")
	assert.True(t, errors.IsConfigError(err))

	_, err = ParseSchema("bad.yml", []byte(`tables: {}`))
	assert.Error(t, err)
}

func TestParseTargetSchema(t *testing.T) {
	t.Run("should apply defaults", func(t *testing.T) {
		s, err := ParseTargetSchema("shop.yml", []byte(`
tables:
  article:
    business_key: model
    fields: [id, model, name]
    tracking: {}
  media:
    name: media_file
    keys: [file_name]
relationships:
  article_image:
    parent: article
    kind: media
    parent_column: article_id
    child_column: media_id
lookups:
  media: {table: media_file, key: file_name, fold: true}
`))
		require.NoError(t, err)

		article := s.Tables["article"]
		assert.Equal(t, "article", article.Name)
		assert.Equal(t, "id", article.IDColumn)
		require.NotNil(t, article.Tracking)
		assert.Equal(t, "online", article.Tracking.OnlineColumn)
		assert.Equal(t, "last_seen_hash", article.Tracking.LastSeenHashColumn)

		assert.Equal(t, "media_file", s.Tables["media"].Name)
		assert.Equal(t, []string{"file_name"}, s.Tables["media"].KeyColumns())

		rel := s.Relationships["article_image"]
		assert.Equal(t, "article_image", rel.Table)
		assert.Equal(t, "media", rel.Lookup)
		assert.Equal(t, StringList{"article_id", "media_id"}, rel.UniqueConstraint)
		assert.Equal(t, []string{"article_image"}, s.RelationshipsOf("article"))

		name, _, ok := s.RelationshipByTable("article_image")
		assert.True(t, ok)
		assert.Equal(t, "article_image", name)

		assert.Equal(t, "id", s.Lookups["media"].Value)
	})

	t.Run("should require a business key", func(t *testing.T) {
		_, err := ParseTargetSchema("shop.yml", []byte(`
tables:
  article:
    fields: [id]
`))
		assert.True(t, errors.IsConfigError(err))
	})

	t.Run("should require a value column for attributes", func(t *testing.T) {
		_, err := ParseTargetSchema("shop.yml", []byte(`
tables:
  article: {business_key: model}
relationships:
  article_attribute:
    parent: article
    kind: attribute
    parent_column: article_id
    child_column: attribute_id
`))
		assert.Error(t, err)
	})
}

func TestCompiler(t *testing.T) {
	m, err := Parse([]byte(testManifest))
	require.NoError(t, err)
	compiler := NewCompiler(m, expression.NewRegistry())

	t.Run("should compile assignments per table", func(t *testing.T) {
		compiled, err := compiler.Compile("article")
		require.NoError(t, err)

		assert.Equal(t, "afs", compiled.SourceID)
		assert.Equal(t, "Artikel", compiled.SourceTable)
		assert.Equal(t, []string{"article", "article_image"}, compiled.Tables)
		require.Len(t, compiled.ForTable("article"), 2)
		assert.Equal(t, "model", compiled.ForTable("article")[0].Column)
		assert.Equal(t, AssignExpression, compiled.ForTable("article")[0].Kind)
	})

	t.Run("should keep non string values as literals", func(t *testing.T) {
		compiled, err := compiler.Compile("category")
		require.NoError(t, err)
		for _, a := range compiled.Assignments {
			if a.Column == "online" {
				assert.Equal(t, AssignLiteral, a.Kind)
				assert.Equal(t, 1, a.Literal)
			}
		}
	})

	t.Run("should cache compiled maps", func(t *testing.T) {
		a, err := compiler.Compile("article")
		require.NoError(t, err)
		b, err := compiler.Compile("article")
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("should reject short target paths", func(t *testing.T) {
		bad, err := Parse([]byte(`
sources: {afs: {schema: a.yml}}
target: {shop: {schema: b.yml}}
entities:
  x: {from: afs.T, map: {article.name: AFS.T.name}}
`))
		require.NoError(t, err)
		_, err = NewCompiler(bad, nil).Compile("x")
		assert.True(t, errors.IsConfigError(err))
	})

	t.Run("should reject unknown functions", func(t *testing.T) {
		bad, err := Parse([]byte(`
sources: {afs: {schema: a.yml}}
target: {shop: {schema: b.yml}}
entities:
  x: {from: afs.T, map: {shop.article.name: AFS.T.name | shout}}
`))
		require.NoError(t, err)
		_, err = NewCompiler(bad, expression.NewRegistry()).Compile("x")
		assert.True(t, errors.IsConfigError(err))
	})
}
