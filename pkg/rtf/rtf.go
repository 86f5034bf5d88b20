// Package rtf converts the RTF fragments stored in ERP long-text fields into
// simplified line-break HTML.
package rtf

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/charset"
)

// destinations whose whole group is dropped
var skippedGroups = map[string]bool{
	"fonttbl":    true,
	"colortbl":   true,
	"stylesheet": true,
	"info":       true,
	"header":     true,
	"footer":     true,
	"generator":  true,
	"pict":       true,
	"headerl":    true,
	"headerr":    true,
	"headerf":    true,
	"footerl":    true,
	"footerr":    true,
	"footerf":    true,
}

var symbolWords = map[string]string{
	"par":       "\n",
	"line":      "\n",
	"sect":      "\n",
	"row":       "\n",
	"tab":       "\t",
	"cell":      " ",
	"emdash":    "—",
	"endash":    "–",
	"emspace":   "\u2003",
	"enspace":   "\u2002",
	"lquote":    "‘",
	"rquote":    "’",
	"ldblquote": "“",
	"rdblquote": "”",
	"bullet":    "•",
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\x{00A0}\x{2002}\x{2003}]+`)
	fontRemnant     = regexp.MustCompile(`^[\w .\-]+;$`)
)

// IsRTF reports whether text starts with an RTF header.
func IsRTF(text string) bool {
	return strings.HasPrefix(trimLead(text), `{\rtf`)
}

// trimLead drops leading whitespace and byte-order marks.
func trimLead(text string) string {
	return strings.TrimLeft(text, " \t\r\n\ufeff")
}

// ToHTML converts RTF to text lines joined with <br>. Input without an RTF
// header is returned unchanged.
func ToHTML(text string) string {
	if !IsRTF(text) {
		return text
	}

	c := &converter{
		src:    trimLead(text),
		enc:    charset.ForCodePage(charset.DefaultCodePage),
		ucSkip: 1,
	}
	c.run()
	return joinLines(c.out.String())
}

type converter struct {
	src     string
	pos     int
	enc     encoding.Encoding
	ucSkip  int
	pending []byte
	out     strings.Builder
}

func (c *converter) run() {
	for c.pos < len(c.src) {
		ch := c.src[c.pos]
		switch ch {
		case '{':
			if c.groupIsSkipped() {
				c.flush()
				c.skipGroup()
				continue
			}
			c.pos++
		case '}':
			c.pos++
		case '\\':
			c.controlSequence()
		case '\r', '\n':
			c.pos++
		default:
			c.flush()
			c.out.WriteByte(ch)
			c.pos++
		}
	}
	c.flush()
}

// groupIsSkipped looks at the group opened at c.pos: `{\*...` groups and groups
// whose first control word is a dropped destination are skipped.
func (c *converter) groupIsSkipped() bool {
	rest := c.src[c.pos+1:]
	rest = strings.TrimLeft(rest, "\r\n ")
	if strings.HasPrefix(rest, `\*`) {
		return true
	}
	if !strings.HasPrefix(rest, `\`) {
		return false
	}
	word, _, _ := readWord(rest[1:])
	return skippedGroups[word]
}

// skipGroup advances past the group opened at c.pos, honoring escaped braces.
func (c *converter) skipGroup() {
	depth := 0
	for c.pos < len(c.src) {
		switch c.src[c.pos] {
		case '\\':
			c.pos += 2
			continue
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				c.pos++
				return
			}
		}
		c.pos++
	}
}

func (c *converter) controlSequence() {
	if c.pos+1 >= len(c.src) {
		c.pos++
		return
	}
	next := c.src[c.pos+1]

	if isLetter(next) {
		word, param, n := readWord(c.src[c.pos+1:])
		c.pos += 1 + n
		c.controlWord(word, param)
		return
	}

	c.pos += 2
	switch next {
	case '\'':
		if c.pos+2 <= len(c.src) {
			if b, err := strconv.ParseUint(c.src[c.pos:c.pos+2], 16, 8); err == nil {
				c.pending = append(c.pending, byte(b))
			}
			c.pos += 2
		}
		return
	case '\\', '{', '}':
		c.flush()
		c.out.WriteByte(next)
	case '~':
		c.flush()
		c.out.WriteString("\u00a0")
	case '_':
		c.flush()
		c.out.WriteByte('-')
	case '\r', '\n':
		c.flush()
		c.out.WriteByte('\n')
	}
}

func (c *converter) controlWord(word string, param *int) {
	switch word {
	case "ansicpg":
		if param != nil {
			c.enc = charset.ForCodePage(*param)
		}
		return
	case "uc":
		if param != nil && *param >= 0 {
			c.ucSkip = *param
		}
		return
	case "u":
		if param == nil {
			return
		}
		c.flush()
		code := *param
		if code < 0 {
			code += 65536
		}
		c.out.WriteRune(rune(code))
		c.skipFallback()
		return
	}

	if s, ok := symbolWords[word]; ok {
		c.flush()
		c.out.WriteString(s)
	}
}

// skipFallback drops the ANSI replacement characters that follow a \u escape.
func (c *converter) skipFallback() {
	for i := 0; i < c.ucSkip && c.pos < len(c.src); i++ {
		switch c.src[c.pos] {
		case '\\':
			if c.pos+1 < len(c.src) && c.src[c.pos+1] == '\'' {
				c.pos += 4
				continue
			}
			return
		case '{', '}':
			return
		default:
			c.pos++
		}
	}
}

func (c *converter) flush() {
	if len(c.pending) == 0 {
		return
	}
	decoded, err := charset.Decode(c.enc, c.pending)
	if err == nil {
		c.out.WriteString(decoded)
	}
	c.pending = c.pending[:0]
}

// readWord parses a control word (letters, optional signed number, optional
// delimiting space) from s and returns the number of bytes consumed.
func readWord(s string) (string, *int, int) {
	i := 0
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	word := s[:i]

	var param *int
	j := i
	if j < len(s) && s[j] == '-' {
		j++
	}
	k := j
	for k < len(s) && s[k] >= '0' && s[k] <= '9' {
		k++
	}
	if k > j {
		if v, err := strconv.Atoi(s[i:k]); err == nil {
			param = &v
		}
		i = k
	}

	if i < len(s) && s[i] == ' ' {
		i++
	}
	return word, param, i
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func joinLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	if len(lines) > 0 && fontRemnant.MatchString(lines[0]) {
		lines = lines[1:]
	}

	return strings.Join(lines, "<br>")
}
