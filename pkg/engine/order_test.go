package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/source"
)

func TestOrderEntities(t *testing.T) {
	kinds := map[string]string{
		"article":  manifest.KindArticle,
		"variants": manifest.KindArticle,
		"category": manifest.KindCategory,
		"media":    manifest.KindMedia,
		"zubehoer": manifest.KindOther,
	}
	kindOf := func(name string) string { return kinds[name] }

	t.Run("should run categories first and articles last", func(t *testing.T) {
		got := OrderEntities([]string{"variants", "zubehoer", "article", "media", "category"}, kindOf)
		assert.Equal(t, []string{"category", "media", "zubehoer", "article", "variants"}, got)
	})

	t.Run("should not modify the input", func(t *testing.T) {
		in := []string{"article", "category"}
		OrderEntities(in, kindOf)
		assert.Equal(t, []string{"article", "category"}, in)
	})
}

func TestSortArticleRows(t *testing.T) {
	t.Run("should move masters ahead of variants", func(t *testing.T) {
		rows := []source.Row{
			{"nr": "V-2", "master": "M-1"},
			{"nr": "M-2", "master": "Master"},
			{"nr": "V-1", "master": "M-1"},
			{"nr": "M-1", "master": ""},
			{"nr": "S-1", "master": nil},
		}
		SortArticleRows(rows, "master", "nr")

		var order []string
		for _, r := range rows {
			order = append(order, r["nr"].(string))
		}
		assert.Equal(t, []string{"M-1", "M-2", "S-1", "V-1", "V-2"}, order)
	})

	t.Run("should keep source order without a key field", func(t *testing.T) {
		rows := []source.Row{
			{"nr": "V", "master": "M"},
			{"nr": "B", "master": ""},
			{"nr": "A", "master": ""},
		}
		SortArticleRows(rows, "master", "")
		assert.Equal(t, "B", rows[0]["nr"])
		assert.Equal(t, "A", rows[1]["nr"])
		assert.Equal(t, "V", rows[2]["nr"])
	})
}

func TestDesiredSet(t *testing.T) {
	t.Run("should order items naturally and drop repeated files", func(t *testing.T) {
		d := desiredSet(manifest.RelationMedia, map[string]any{
			"file_10": "j.jpg",
			"file_2":  "B.JPG",
			"file_1":  "a.jpg",
			"file_3":  "img/b.jpg",
			"file_4":  " ",
		})
		assert.Equal(t, []string{"a.jpg", "B.JPG", "j.jpg"}, d.Items)
	})

	t.Run("should pair attribute names with their values", func(t *testing.T) {
		d := desiredSet(manifest.RelationAttribute, map[string]any{
			"name_1":  "Farbe",
			"value_1": " rot ",
			"name_2":  "",
			"value_2": "ignored",
			"name_3":  "Farbe",
			"value_3": "blau",
			"name_4":  "Gewicht",
			"value_4": nil,
		})
		assert.Equal(t, map[string]string{"Farbe": "rot", "Gewicht": ""}, d.Attributes)
	})

	t.Run("should drop titles repeated in another case", func(t *testing.T) {
		d := desiredSet(manifest.RelationDocument, map[string]any{
			"title_1": "Datenblatt",
			"title_2": "datenblatt",
			"title_3": "Anleitung",
		})
		assert.Equal(t, []string{"Datenblatt", "Anleitung"}, d.Items)
	})
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "A-1", joinKey([]any{" A-1 "}))
	assert.Equal(t, "A\x1f2", joinKey([]any{"A", 2}))
}
