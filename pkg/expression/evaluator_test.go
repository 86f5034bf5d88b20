package expression

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func articleContext(row map[string]any) Context {
	return NewContext("AFS", "Artikel", row)
}

func TestEvaluator(t *testing.T) {
	ev := NewEvaluator(nil)

	t.Run("should fall back to the default for empty values", func(t *testing.T) {
		ctx := articleContext(map[string]any{"Bezeichnung": ""})
		result, err := ev.EvaluateExpr("AFS.Artikel.Bezeichnung | trim | default:'Unbenannt'", ctx)
		require.NoError(t, err)
		assert.Equal(t, "Unbenannt", result)
	})

	t.Run("should trim present values", func(t *testing.T) {
		ctx := articleContext(map[string]any{"Bezeichnung": " Schraube "})
		result, err := ev.EvaluateExpr("AFS.Artikel.Bezeichnung | trim | default:'Unbenannt'", ctx)
		require.NoError(t, err)
		assert.Equal(t, "Schraube", result)
	})

	t.Run("should resolve the row under every alias", func(t *testing.T) {
		ctx := articleContext(map[string]any{"Artikel": "A-1"})
		for _, expr := range []string{"AFS.Artikel.Artikel", "afs_missing.Artikel.Artikel", "Artikel.Artikel", "ARTIKEL.Artikel"} {
			result, err := ev.EvaluateExpr(expr, ctx)
			require.NoError(t, err)
			if expr == "afs_missing.Artikel.Artikel" {
				assert.Nil(t, result)
				continue
			}
			assert.Equal(t, "A-1", result, expr)
		}
	})

	t.Run("should return nil for missing paths", func(t *testing.T) {
		ctx := articleContext(map[string]any{"Name": "x"})
		result, err := ev.EvaluateExpr("AFS.Artikel.Missing.Deeper", ctx)
		require.NoError(t, err)
		assert.Nil(t, result)

		result, err = ev.EvaluateExpr("AFS.Artikel.Name.Deeper", ctx)
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("should evaluate arithmetic", func(t *testing.T) {
		ctx := articleContext(map[string]any{"Preis": "10,00", "Menge": int64(3)})
		result, err := ev.EvaluateExpr("AFS.Artikel.Preis * AFS.Artikel.Menge + 1", ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(31), result)

		result, err = ev.EvaluateExpr("AFS.Artikel.Preis / 4", ctx)
		require.NoError(t, err)
		assert.Equal(t, 2.5, result)
	})

	t.Run("should yield nil for non numeric arithmetic", func(t *testing.T) {
		ctx := articleContext(map[string]any{"Name": "abc"})
		result, err := ev.EvaluateExpr("AFS.Artikel.Name + 1", ctx)
		require.NoError(t, err)
		assert.Nil(t, result)

		result, err = ev.EvaluateExpr("1 / 0", ctx)
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("should evaluate dynamic defaults", func(t *testing.T) {
		ctx := articleContext(map[string]any{"Kurz": "", "Lang": "Langtext", "Preis": 5})
		result, err := ev.EvaluateExpr("AFS.Artikel.Kurz | default:AFS.Artikel.Lang", ctx)
		require.NoError(t, err)
		assert.Equal(t, "Langtext", result)

		result, err = ev.EvaluateExpr("AFS.Artikel.Kurz | default:AFS.Artikel.Preis * 2", ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(10), result)

		result, err = ev.EvaluateExpr("AFS.Artikel.Kurz | default:$func.concat('x', AFS.Artikel.Lang)", ctx)
		require.NoError(t, err)
		assert.Equal(t, "xLangtext", result)
	})

	t.Run("should call functions as base references", func(t *testing.T) {
		ctx := articleContext(map[string]any{"A": " ", "B": "b"})
		result, err := ev.EvaluateExpr("$func.coalesce(AFS.Artikel.A, AFS.Artikel.B, 'c')", ctx)
		require.NoError(t, err)
		assert.Equal(t, "b", result)

		result, err = ev.EvaluateExpr("$func.trim(AFS.Artikel.B | concat('  '))", ctx)
		require.NoError(t, err)
		assert.Equal(t, "b", result)
	})

	t.Run("should evaluate groups", func(t *testing.T) {
		ctx := articleContext(map[string]any{"Name": " Büro "})
		result, err := ev.EvaluateExpr("(AFS.Artikel.Name | trim) | slugify", ctx)
		require.NoError(t, err)
		assert.Equal(t, "buero", result)
	})

	t.Run("should fail on unknown functions", func(t *testing.T) {
		_, err := ev.EvaluateExpr("AFS.Artikel.Name | nope", articleContext(nil))
		assert.Error(t, err)

		_, err = ev.EvaluateExpr("$func.nope()", articleContext(nil))
		assert.Error(t, err)
	})

	t.Run("should cache compiled expressions", func(t *testing.T) {
		a, err := ev.Compile("AFS.Artikel.Name | trim")
		require.NoError(t, err)
		b, err := ev.Compile("AFS.Artikel.Name | trim")
		require.NoError(t, err)
		assert.Same(t, a, b)
	})
}

func TestRegistry(t *testing.T) {
	t.Run("should dispatch to registered functions", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register("Shout", func(c *Call) (any, error) {
			return ToString(c.Input) + "!", nil
		})
		ev := NewEvaluator(registry)

		result, err := ev.EvaluateExpr("'hi' | shout", nil)
		require.NoError(t, err)
		assert.Equal(t, "hi!", result)
	})

	t.Run("should surface function errors", func(t *testing.T) {
		registry := NewEmptyRegistry()
		registry.Register("boom", func(*Call) (any, error) {
			return nil, errors.New("boom")
		})
		ev := NewEvaluator(registry)

		_, err := ev.EvaluateExpr("'x' | boom", nil)
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("should validate nested function references", func(t *testing.T) {
		registry := NewRegistry()
		assert.NoError(t, registry.Validate(MustCompile("$func.concat(A.x | trim, 'y') | case(1->'a', else->'b')")))
		assert.Error(t, registry.Validate(MustCompile("$func.concat(A.x | nope)")))
		assert.Error(t, registry.Validate(MustCompile("A.x | nope")))
	})

	t.Run("should list names", func(t *testing.T) {
		assert.Contains(t, NewRegistry().Names(), "tax_map")
		assert.Empty(t, NewEmptyRegistry().Names())
	})
}

func TestNow(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	ev := NewEvaluator(nil, WithClock(func() time.Time { return fixed }))

	result, err := ev.EvaluateExpr("$func.now()", nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 08:30:00", result)
}
