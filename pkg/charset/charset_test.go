package charset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestLookup(t *testing.T) {
	t.Run("should resolve code page spellings", func(t *testing.T) {
		for _, name := range []string{"CP1252", "windows-1252", "Windows1252", " cp1252 "} {
			enc, err := Lookup(name)
			require.NoError(t, err, name)
			assert.Equal(t, charmap.Windows1252, enc, name)
		}
	})

	t.Run("should resolve IANA names", func(t *testing.T) {
		enc, err := Lookup("ISO-8859-15")
		require.NoError(t, err)
		assert.NotNil(t, enc)
	})

	t.Run("should treat utf-8 as no re-encoding", func(t *testing.T) {
		for _, name := range []string{"", "UTF-8", "utf8"} {
			enc, err := Lookup(name)
			require.NoError(t, err)
			assert.Nil(t, enc)
		}
	})

	t.Run("should reject unknown charsets", func(t *testing.T) {
		_, err := Lookup("klingon")
		assert.Error(t, err)
	})
}

func TestDecode(t *testing.T) {
	s, err := Decode(ForCodePage(1252), []byte{'B', 0xFC, 'r', 'o'})
	require.NoError(t, err)
	assert.Equal(t, "Büro", s)

	s, err = Decode(nil, []byte("Büro"))
	require.NoError(t, err)
	assert.Equal(t, "Büro", s)

	assert.Equal(t, charmap.Windows1252, ForCodePage(99999))
	assert.Equal(t, charmap.CodePage850, ForCodePage(850))
}
