// Package expression compiles and evaluates the pipe-chained field expressions
// used by entity mappings, e.g. `AFS.Artikel.Bezeichnung | trim | default:'Unbenannt'`.
package expression

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RefKind identifies what a reference resolves to.
type RefKind int

const (
	RefLiteral RefKind = iota
	RefPath
	RefCall
	RefArithmetic
	RefGroup
)

var (
	intPattern     = regexp.MustCompile(`^[+-]?\d+$`)
	decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.\d*|\.\d+)$`)
	funcPattern    = regexp.MustCompile(`(?s)^\$func\.([A-Za-z_][A-Za-z0-9_]*)\s*(?:\((.*)\))?$`)
	callPattern    = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)$`)
	namePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Compiled is a parsed expression: a base reference followed by transforms.
type Compiled struct {
	Source     string
	Base       *Reference
	Transforms []Transform
}

// Reference is the base of an expression or an operand of an arithmetic reference.
type Reference struct {
	Kind RefKind
	Raw  string

	// RefLiteral
	Value any

	// RefPath
	Path  []string
	query string

	// RefCall
	Func string
	Args []string

	// RefArithmetic
	Op          byte
	Left, Right *Reference

	// RefGroup
	Group *Compiled
}

// Transform is one pipe segment after the base.
type Transform struct {
	Name string
	// Args holds the raw argument text. The colon form carries a single
	// untrimmed argument.
	Args  []string
	Colon bool
}

// Compile parses expr. An empty expression compiles to a null literal.
func Compile(expr string) (*Compiled, error) {
	segments, err := splitTopLevel(expr, '|')
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
	}

	base, err := parseReference(strings.TrimSpace(segments[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
	}

	compiled := &Compiled{Source: expr, Base: base}
	for _, segment := range segments[1:] {
		transform, err := parseTransform(strings.TrimSpace(segment))
		if err != nil {
			return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
		}
		compiled.Transforms = append(compiled.Transforms, transform)
	}

	return compiled, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Compiled {
	c, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return c
}

func parseTransform(segment string) (Transform, error) {
	if segment == "" {
		return Transform{}, fmt.Errorf("empty transform")
	}

	if m := callPattern.FindStringSubmatch(segment); m != nil {
		args, err := splitArgs(m[2])
		if err != nil {
			return Transform{}, err
		}
		return Transform{Name: strings.ToLower(m[1]), Args: args}, nil
	}

	if name, arg, ok := strings.Cut(segment, ":"); ok {
		name = strings.TrimSpace(name)
		if !namePattern.MatchString(name) {
			return Transform{}, fmt.Errorf("invalid transform name %q", name)
		}
		return Transform{Name: strings.ToLower(name), Args: []string{arg}, Colon: true}, nil
	}

	if !namePattern.MatchString(segment) {
		return Transform{}, fmt.Errorf("invalid transform %q", segment)
	}
	return Transform{Name: strings.ToLower(segment)}, nil
}

func parseReference(raw string) (*Reference, error) {
	ref := &Reference{Raw: raw}

	switch {
	case raw == "":
		ref.Kind = RefLiteral
		return ref, nil
	case intPattern.MatchString(raw) || decimalPattern.MatchString(raw):
		ref.Kind = RefLiteral
		ref.Value = parseNumber(raw)
		return ref, nil
	case isQuoted(raw):
		ref.Kind = RefLiteral
		ref.Value = unquote(raw)
		return ref, nil
	case strings.EqualFold(raw, "null") || raw == "~":
		ref.Kind = RefLiteral
		return ref, nil
	case strings.HasPrefix(raw, "="):
		ref.Kind = RefLiteral
		ref.Value = ParseLiteral(raw[1:])
		return ref, nil
	}

	if m := funcPattern.FindStringSubmatch(raw); m != nil {
		ref.Kind = RefCall
		ref.Func = strings.ToLower(m[1])
		args, err := splitArgs(m[2])
		if err != nil {
			return nil, err
		}
		for _, arg := range args {
			if _, err := Compile(arg); err != nil {
				return nil, err
			}
		}
		ref.Args = args
		return ref, nil
	}

	if op, left, right, ok := splitArithmetic(raw); ok {
		l, err := parseReference(left)
		if err != nil {
			return nil, err
		}
		r, err := parseReference(right)
		if err != nil {
			return nil, err
		}
		ref.Kind = RefArithmetic
		ref.Op = op
		ref.Left = l
		ref.Right = r
		return ref, nil
	}

	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") && enclosedByParens(raw) {
		group, err := Compile(raw[1 : len(raw)-1])
		if err != nil {
			return nil, err
		}
		ref.Kind = RefGroup
		ref.Group = group
		return ref, nil
	}

	path, err := splitPath(raw)
	if err != nil {
		return nil, err
	}
	ref.Kind = RefPath
	ref.Path = path
	ref.query = pathQuery(path)
	return ref, nil
}

// ParseLiteral interprets text as number, bool, null or quoted string and falls
// back to the raw text.
func ParseLiteral(text string) any {
	t := strings.TrimSpace(text)
	switch {
	case intPattern.MatchString(t) || decimalPattern.MatchString(t):
		return parseNumber(t)
	case strings.EqualFold(t, "true"):
		return true
	case strings.EqualFold(t, "false"):
		return false
	case strings.EqualFold(t, "null") || t == "~":
		return nil
	case isQuoted(t):
		return unquote(t)
	}
	return text
}

func parseNumber(s string) any {
	if intPattern.MatchString(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return f
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	q := s[0]
	if (q != '\'' && q != '"') || s[len(s)-1] != q {
		return false
	}
	// the closing quote must be the only unescaped one
	for i := 1; i < len(s)-1; i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == q {
			return false
		}
	}
	return true
}

func unquote(s string) string {
	q := s[0]
	body := s[1 : len(s)-1]
	return strings.NewReplacer(`\`+string(q), string(q), `\\`, `\`).Replace(body)
}

// splitTopLevel splits s on sep outside of quotes and parentheses.
func splitTopLevel(s string, sep byte) ([]string, error) {
	var parts []string
	depth := 0
	var quote byte
	start := 0

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
				continue
			}
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced ')' at %d", i)
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced '('")
	}
	return append(parts, s[start:]), nil
}

// splitArgs splits a comma separated argument list into trimmed arguments.
func splitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts, err := splitTopLevel(s, ',')
	if err != nil {
		return nil, err
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

func enclosedByParens(s string) bool {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return false
			}
		}
	}
	return depth == 0
}

// topLevelTokens splits s on whitespace outside of quotes and parentheses.
func topLevelTokens(s string) []string {
	var tokens []string
	depth := 0
	var quote byte
	start := -1

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		isSpace := ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
		if isSpace && depth == 0 {
			if start >= 0 {
				tokens = append(tokens, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	if start >= 0 {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

func isOperator(tok string) bool {
	return tok == "+" || tok == "-" || tok == "*" || tok == "/"
}

// IsArithmetic reports whether s contains a whitespace delimited operator at
// the top level.
func IsArithmetic(s string) bool {
	_, _, _, ok := splitArithmetic(s)
	return ok
}

// splitArithmetic finds the operator that binds loosest (the last + or -, else
// the last * or /) so that evaluation follows the usual precedence with left
// associativity.
func splitArithmetic(s string) (byte, string, string, bool) {
	tokens := topLevelTokens(s)
	if len(tokens) < 3 {
		return 0, "", "", false
	}

	pick := -1
	for i := 1; i < len(tokens)-1; i++ {
		if tokens[i] == "+" || tokens[i] == "-" {
			pick = i
		}
	}
	if pick < 0 {
		for i := 1; i < len(tokens)-1; i++ {
			if tokens[i] == "*" || tokens[i] == "/" {
				pick = i
			}
		}
	}
	if pick < 0 {
		return 0, "", "", false
	}

	for i, tok := range tokens {
		if (i%2 == 1) != isOperator(tok) {
			return 0, "", "", false
		}
	}

	return tokens[pick][0], strings.Join(tokens[:pick], " "), strings.Join(tokens[pick+1:], " "), true
}

// splitPath splits a dotted path. Segments may be quoted to contain dots.
func splitPath(raw string) ([]string, error) {
	var segments []string
	var b strings.Builder
	var quote byte

	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
				continue
			}
			b.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '.':
			segments = append(segments, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteByte(ch)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in path %q", raw)
	}
	segments = append(segments, strings.TrimSpace(b.String()))

	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("empty segment in path %q", raw)
		}
	}
	return segments, nil
}

// pathQuery renders path segments as a JMESPath of quoted identifiers.
func pathQuery(path []string) string {
	quoted := make([]string, len(path))
	for i, segment := range path {
		b, _ := json.Marshal(segment)
		quoted[i] = string(b)
	}
	return strings.Join(quoted, ".")
}
