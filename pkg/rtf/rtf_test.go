package rtf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRTF(t *testing.T) {
	assert.True(t, IsRTF(`{\rtf1\ansi hello}`))
	assert.True(t, IsRTF("  \r\n{\\rtf1 x}"))
	assert.True(t, IsRTF("\ufeff{\\rtf1 x}"))
	assert.False(t, IsRTF("plain text"))
	assert.False(t, IsRTF(""))
}

func TestToHTML(t *testing.T) {
	t.Run("should return plain text unchanged", func(t *testing.T) {
		assert.Equal(t, "  kein rtf  ", ToHTML("  kein rtf  "))
	})

	t.Run("should convert paragraphs to line breaks", func(t *testing.T) {
		in := `{\rtf1\ansi\deff0 {\fonttbl {\f0 Arial;}}\f0\fs20 Erste Zeile\par Zweite Zeile\par}`
		assert.Equal(t, "Erste Zeile<br>Zweite Zeile", ToHTML(in))
	})

	t.Run("should drop skipped groups", func(t *testing.T) {
		in := `{\rtf1\ansi{\colortbl;\red0\green0\blue0;}{\stylesheet{\s0 Normal;}}{\*\generator Msftedit 5.41;}{\info{\author X}}Text}`
		assert.Equal(t, "Text", ToHTML(in))
	})

	t.Run("should decode hex escapes with the default code page", func(t *testing.T) {
		in := `{\rtf1\ansi Gr\'fc\'dfe aus M\'fcnchen}`
		assert.Equal(t, "Grüße aus München", ToHTML(in))
	})

	t.Run("should honor a declared code page", func(t *testing.T) {
		in := `{\rtf1\ansi\ansicpg1251 \'cf\'f0\'e8\'e2\'e5\'f2}`
		assert.Equal(t, "Привет", ToHTML(in))
	})

	t.Run("should decode unicode escapes and skip fallback characters", func(t *testing.T) {
		in := `{\rtf1\ansi\uc1 Preis 10\u8364?}`
		assert.Equal(t, "Preis 10€", ToHTML(in))
	})

	t.Run("should wrap negative unicode codes", func(t *testing.T) {
		in := `{\rtf1\ansi \u-3913?}`
		assert.Equal(t, string(rune(65536-3913)), ToHTML(in))
	})

	t.Run("should translate symbols", func(t *testing.T) {
		in := `{\rtf1\ansi A\emdash B\endash C\~D \ldblquote x\rdblquote  \bullet  E\_F}`
		assert.Equal(t, "A—B–C D “x” • E-F", ToHTML(in))
	})

	t.Run("should keep escaped braces and backslashes", func(t *testing.T) {
		in := `{\rtf1\ansi a\{b\}c\\d}`
		assert.Equal(t, `a{b}c\d`, ToHTML(in))
	})

	t.Run("should collapse whitespace and drop blank lines", func(t *testing.T) {
		in := "{\\rtf1\\ansi   Zeile\\tab eins \\par\\par\r\n\\par   Zeile   zwei}"
		assert.Equal(t, "Zeile eins<br>Zeile zwei", ToHTML(in))
	})

	t.Run("should strip a leading byte-order mark", func(t *testing.T) {
		in := "\ufeff{\\rtf1\\ansi x}"
		assert.Equal(t, "x", ToHTML(in))
	})

	t.Run("should drop a leading font name remnant", func(t *testing.T) {
		in := `{\rtf1\ansi Arial;\par Inhalt}`
		assert.Equal(t, "Inhalt", ToHTML(in))
	})
}
