// Package charset resolves legacy code pages to x/text encodings.
package charset

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultCodePage is used by RTF documents that do not declare \ansicpg.
const DefaultCodePage = 1252

var codePages = map[int]encoding.Encoding{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	852:   charmap.CodePage852,
	858:   charmap.CodePage858,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	10000: charmap.Macintosh,
	20866: charmap.KOI8R,
	28591: charmap.ISO8859_1,
	28592: charmap.ISO8859_2,
	28605: charmap.ISO8859_15,
	65001: unicode.UTF8,
}

// ForCodePage returns the encoding of a Windows code page number, falling back
// to CP1252 for unknown pages.
func ForCodePage(cp int) encoding.Encoding {
	if enc, ok := codePages[cp]; ok {
		return enc
	}
	return charmap.Windows1252
}

// Lookup resolves a charset name such as "CP1252", "windows-1252" or "ISO-8859-1".
// An empty name or any UTF-8 spelling returns nil, meaning no re-encoding.
func Lookup(name string) (encoding.Encoding, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "utf8", "utf-8":
		return nil, nil
	}

	for _, prefix := range []string{"cp", "windows-", "windows"} {
		if rest, ok := strings.CutPrefix(n, prefix); ok {
			if cp, err := strconv.Atoi(rest); err == nil {
				if enc, ok := codePages[cp]; ok {
					return enc, nil
				}
			}
		}
	}

	enc, err := ianaindex.IANA.Encoding(n)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown charset %q", name)
	}
	return enc, nil
}

// Decode converts bytes in enc to a UTF-8 string. A nil encoding returns the input as is.
func Decode(enc encoding.Encoding, b []byte) (string, error) {
	if enc == nil {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
