package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolver(t *testing.T) {
	t.Run("should build nested slug paths", func(t *testing.T) {
		r := NewResolver([]Node{
			{ID: "2", Parent: "1", Name: "Stühle"},
			{ID: "1", Parent: "0", Name: "Büro"},
			{ID: "3", Parent: "2", Name: "Dreh & Schwenk"},
		})
		assert.Equal(t, "buero", r.Resolve("1"))
		assert.Equal(t, "buero/stuehle", r.Resolve("2"))
		assert.Equal(t, "buero/stuehle/dreh-und-schwenk", r.Resolve("3"))
		assert.Equal(t, "", r.Resolve("99"))
	})

	t.Run("should stop at unknown parents", func(t *testing.T) {
		r := NewResolver([]Node{{ID: "5", Parent: "77", Name: "Lager"}})
		assert.Equal(t, "lager", r.Resolve("5"))
	})

	t.Run("should break cycles", func(t *testing.T) {
		r := NewResolver([]Node{
			{ID: "a", Parent: "b", Name: "A"},
			{ID: "b", Parent: "a", Name: "B"},
			{ID: "c", Parent: "c", Name: "C"},
		})
		paths := r.Paths()
		assert.Equal(t, "b/a", paths["a"])
		assert.Equal(t, "b", paths["b"])
		assert.Equal(t, "c", paths["c"])
	})

	t.Run("should read nodes from rows", func(t *testing.T) {
		nodes := NodesFromRows([]map[string]any{
			{"Warengruppe": int64(1), "Anhang": int64(0), "Bezeichnung": "Büro"},
		}, "Warengruppe", "Anhang", "Bezeichnung")
		assert.Equal(t, []Node{{ID: "1", Parent: "0", Name: "Büro"}}, nodes)
	})
}
