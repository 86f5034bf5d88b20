package expression

import (
	"html"
	"math"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/rtf"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/slug"
)

var (
	breakTags  = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li|/h[1-6])\s*/?>`)
	anyTag     = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
	controls   = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

func registerBuiltins(r *Registry) {
	// text
	r.Register("trim", Unary(fnTrim))
	r.Register("basename", Unary(fnBasename))
	r.Register("rtf_to_html", Unary(fnRTFToHTML))
	r.Register("remove_html", Unary(fnRemoveHTML))
	r.Register("normalize_title", Unary(fnNormalizeTitle))
	r.Register("slugify", Unary(fnSlugify))
	r.Register("null_if_empty", Unary(fnNullIfEmpty))
	r.Register("concat", fnConcat)
	r.Register("coalesce", fnCoalesce)
	r.Register("default", fnDefault)
	r.Register("case", Unary(fnCase))

	// numbers
	r.Register("to_decimal", Unary(fnToDecimal))
	r.Register("to_int", Unary(fnToInt))
	r.Register("bool_to_int", Unary(fnBoolToInt))
	r.Register("round", Unary(fnRound))
	r.Register("tax_map", Unary(fnTaxMap))
	r.Register("now", fnNow)

	// catalog
	r.Register("media_entity_type", fnMediaEntityType)
	r.Register("media_entity_id", fnMediaEntityID)
	r.Register("media_detect_type", Unary(fnMediaDetectType))
	r.Register("media_extract_article", Unary(fnMediaExtractArticle))
	r.Register("media_extract_category", Unary(fnMediaExtractCategory))
	r.Register("image_guard", Unary(fnImageGuard))
	r.Register("document_guard", Unary(fnDocumentGuard))
	r.Register("category_path", Unary(fnCategoryPath))
	r.Register("category_slug", Unary(fnCategorySlug))
	r.Register("article_master_flag", Unary(fnArticleMasterFlag))
	r.Register("article_master_number", Unary(fnArticleMasterNumber))
	r.Register("seo_slug", Unary(fnSEOSlug))
	r.Register("meta_title_default", Unary(fnMetaTitleDefault))
	r.Register("meta_description_default", Unary(fnMetaDescriptionDefault))
}

func fnTrim(c *Call) (any, error) {
	s, ok := c.Input.(string)
	if !ok {
		if b, isBytes := c.Input.([]byte); isBytes {
			s, ok = string(b), true
		}
	}
	if !ok {
		return c.Input, nil
	}

	if len(c.Args) > 0 {
		cutset, err := c.ArgString(0, "")
		if err != nil {
			return nil, err
		}
		if cutset != "" {
			return strings.Trim(s, cutset), nil
		}
	}
	return strings.TrimSpace(s), nil
}

func fnBasename(c *Call) (any, error) {
	if IsBlank(c.Input) {
		return c.Input, nil
	}
	s := strings.TrimSpace(strings.ReplaceAll(ToString(c.Input), `\`, "/"))
	s = strings.TrimRight(s, "/")
	if s == "" {
		return "", nil
	}
	return path.Base(s), nil
}

func fnRTFToHTML(c *Call) (any, error) {
	s, ok := c.Input.(string)
	if !ok {
		return c.Input, nil
	}
	return rtf.ToHTML(s), nil
}

// RemoveHTML strips tags, decodes entities and collapses whitespace.
func RemoveHTML(s string) string {
	s = breakTags.ReplaceAllString(s, " ")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func fnRemoveHTML(c *Call) (any, error) {
	if c.Input == nil {
		return nil, nil
	}
	return RemoveHTML(ToString(c.Input)), nil
}

func fnNormalizeTitle(c *Call) (any, error) {
	if c.Input == nil {
		return nil, nil
	}
	s := controls.ReplaceAllString(RemoveHTML(ToString(c.Input)), "")
	return strings.TrimSpace(s), nil
}

func fnSlugify(c *Call) (any, error) {
	if c.Input == nil {
		return nil, nil
	}
	return slug.Make(ToString(c.Input)), nil
}

func fnNullIfEmpty(c *Call) (any, error) {
	if IsBlank(c.Input) {
		return nil, nil
	}
	return c.Input, nil
}

func fnConcat(c *Call) (any, error) {
	values, err := c.Values()
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, v := range values {
		b.WriteString(ToString(v))
	}
	return b.String(), nil
}

func fnCoalesce(c *Call) (any, error) {
	values, err := c.Values()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if !IsBlank(v) {
			return v, nil
		}
	}
	return nil, nil
}

// fnDefault returns the value unless it is null or blank. A fallback that
// refers to the context is evaluated against it.
func fnDefault(c *Call) (any, error) {
	value := c.Input
	args := c.Args
	if !c.Piped {
		if len(args) == 0 {
			return nil, nil
		}
		v, err := c.ev.evaluateArg(args[0], c.Ctx)
		if err != nil {
			return nil, err
		}
		value = v
		args = args[1:]
	}

	if !IsBlank(value) {
		return value, nil
	}
	if len(args) == 0 {
		return nil, nil
	}

	raw := args[0]
	if IsDynamic(raw) {
		return c.Evaluate(raw)
	}
	if c.Colon {
		// Unquoted fallbacks drop surrounding blanks; quotes keep them.
		return ParseLiteral(strings.TrimSpace(raw)), nil
	}
	return c.ev.evaluateArg(raw, c.Ctx)
}

// fnCase maps the value through `key->value` arms; `else` is the fallback.
// Without a match and without else the value passes through.
func fnCase(c *Call) (any, error) {
	current := caseString(c.Input)
	var fallback *string

	for _, arm := range c.Args {
		key, result, ok := splitArm(arm)
		if !ok {
			continue
		}
		k := key
		if isQuoted(k) {
			k = unquote(k)
		}
		if strings.EqualFold(key, "else") {
			r := result
			fallback = &r
			continue
		}

		lower := strings.ToLower(k)
		matched := k == current
		if lower == "true" || lower == "false" {
			matched = strings.EqualFold(k, current)
		}
		if matched {
			return c.ev.evaluateArg(result, c.Ctx)
		}
	}

	if fallback != nil {
		return c.ev.evaluateArg(*fallback, c.Ctx)
	}
	return c.Input, nil
}

func caseString(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "true"
		}
		return "false"
	}
	return strings.TrimSpace(ToString(v))
}

// splitArm splits `key->value` at the first arrow outside quotes.
func splitArm(arm string) (string, string, bool) {
	var quote byte
	for i := 0; i+1 < len(arm); i++ {
		ch := arm[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		if ch == '\'' || ch == '"' {
			quote = ch
			continue
		}
		if ch == '-' && arm[i+1] == '>' {
			return strings.TrimSpace(arm[:i]), strings.TrimSpace(arm[i+2:]), true
		}
	}
	return "", "", false
}

func fnToDecimal(c *Call) (any, error) {
	f, ok := ToFloat(c.Input)
	if !ok {
		return nil, nil
	}
	return f, nil
}

func fnToInt(c *Call) (any, error) {
	f, ok := ToFloat(c.Input)
	if !ok {
		return nil, nil
	}
	return int64(math.Trunc(f)), nil
}

func fnBoolToInt(c *Call) (any, error) {
	if ToBool(c.Input) {
		return int64(1), nil
	}
	return int64(0), nil
}

func fnRound(c *Call) (any, error) {
	f, ok := ToFloat(c.Input)
	if !ok {
		return nil, nil
	}
	places := 0
	if arg, err := c.Arg(0); err != nil {
		return nil, err
	} else if p, ok := ToFloat(arg); ok {
		places = int(p)
	}
	return numberResult(roundTo(f, places)), nil
}

// fnTaxMap maps a VAT percentage to the shop's tax class.
func fnTaxMap(c *Call) (any, error) {
	f, ok := ToFloat(c.Input)
	if !ok {
		return nil, nil
	}
	switch {
	case math.Abs(f-19) < 0.5:
		return int64(1), nil
	case math.Abs(f-7) < 0.5:
		return int64(2), nil
	case math.Abs(f) < 0.5:
		return int64(0), nil
	}
	return int64(math.Round(f)), nil
}

func fnNow(c *Call) (any, error) {
	return c.Now().Format(time.DateTime), nil
}
