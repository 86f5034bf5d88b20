package relation

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	t.Run("should add missing and remove stale ids", func(t *testing.T) {
		added, removed := Diff([]int64{1, 2, 3}, []int64{2, 3, 4})
		assert.Equal(t, []int64{4}, added)
		assert.Equal(t, []int64{1}, removed)
	})

	t.Run("should produce nothing for equal sets", func(t *testing.T) {
		added, removed := Diff([]int64{3, 2}, []int64{2, 3, 3})
		assert.Empty(t, added)
		assert.Empty(t, removed)
	})

	t.Run("should handle empty sides", func(t *testing.T) {
		added, removed := Diff(nil, []string{"b", "a"})
		assert.Equal(t, []string{"a", "b"}, added)
		assert.Empty(t, removed)

		added, removed = Diff([]string{"a"}, nil)
		assert.Empty(t, added)
		assert.Equal(t, []string{"a"}, removed)
	})
}

func TestDiffAttributes(t *testing.T) {
	existing := map[int64]string{1: "rot", 2: "M", 3: "Holz"}
	desired := map[int64]string{1: "rot", 2: "L", 4: "neu"}

	added, removed := DiffAttributes(existing, desired)
	assert.Equal(t, []Attribute[int64]{{ID: 2, Value: "L"}, {ID: 4, Value: "neu"}}, added)
	assert.Equal(t, []Attribute[int64]{{ID: 2, Value: "M"}, {ID: 3, Value: "Holz"}}, removed)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t,
		[]string{"img/A.jpg", "b.png"},
		DedupeFiles([]string{"img/A.jpg", " ", "a.JPG", `C:\bilder\a.jpg`, "b.png"}))

	assert.Equal(t,
		[]string{"Datenblatt", "Anleitung"},
		DedupeTitles([]string{"Datenblatt", "datenblatt ", "", "Anleitung"}))
}

func TestEANGuard(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	ctx := context.Background()

	t.Run("should drop a conflicting EAN and keep the owner", func(t *testing.T) {
		guard := NewEANGuard(nil, logger)

		ean, ok := guard.Claim(ctx, "4000001", "A")
		assert.True(t, ok)
		assert.Equal(t, "4000001", ean)

		ean, ok = guard.Claim(ctx, "4000001", "B")
		assert.False(t, ok)
		assert.Empty(t, ean)

		owner, _ := guard.Owner("4000001")
		assert.Equal(t, "A", owner)

		assert.Equal(t, []Conflict{{EAN: "4000001", Owner: "A", Claimant: "B"}}, guard.Conflicts())
	})

	t.Run("should honor the pre-run snapshot", func(t *testing.T) {
		guard := NewEANGuard(map[string]string{"4000002": "A"}, logger)
		_, ok := guard.Claim(ctx, "4000002", "B")
		assert.False(t, ok)
		ean, ok := guard.Claim(ctx, "4000002", "A")
		assert.True(t, ok)
		assert.Equal(t, "4000002", ean)
	})

	t.Run("should let run claims win over later seeds", func(t *testing.T) {
		guard := NewEANGuard(nil, logger)
		_, ok := guard.Claim(ctx, "4000003", "bundle:B-1")
		assert.True(t, ok)

		guard.Seed(map[string]string{"4000003": "article:A-1", "4000004": "article:A-2"})

		owner, _ := guard.Owner("4000003")
		assert.Equal(t, "bundle:B-1", owner)
		_, ok = guard.Claim(ctx, "4000003", "article:A-1")
		assert.False(t, ok)
		_, ok = guard.Claim(ctx, "4000004", "article:A-1")
		assert.False(t, ok)
	})

	t.Run("should carry a guard through the context", func(t *testing.T) {
		_, ok := EANGuardFrom(ctx)
		assert.False(t, ok)

		guard := NewEANGuard(nil, logger)
		got, ok := EANGuardFrom(WithEANGuard(ctx, guard))
		assert.True(t, ok)
		assert.Same(t, guard, got)
	})

	t.Run("should release an EAN its owner gave up", func(t *testing.T) {
		guard := NewEANGuard(map[string]string{"1": "A"}, logger)
		_, ok := guard.Claim(ctx, "2", "A")
		assert.True(t, ok)
		_, ok = guard.Claim(ctx, "1", "B")
		assert.True(t, ok)
	})

	t.Run("should pass blank EANs", func(t *testing.T) {
		guard := NewEANGuard(nil, logger)
		ean, ok := guard.Claim(ctx, "  ", "A")
		assert.True(t, ok)
		assert.Empty(t, ean)
	})
}
