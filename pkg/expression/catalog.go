package expression

import (
	"path"
	"strings"
	"unicode/utf8"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/slug"
)

const (
	MediaArticle  = "article"
	MediaCategory = "category"

	metaTitleLength       = 60
	metaDescriptionLength = 160
)

var (
	articleTypeCodes  = []string{"1", "a", "art", "artikel", "article", "product", "produkt"}
	categoryTypeCodes = []string{"2", "w", "c", "wg", "warengruppe", "warengruppen", "kategorie", "category"}

	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
		".bmp": true, ".tif": true, ".tiff": true, ".svg": true,
	}
)

// classifyMedia decides whether a media record belongs to an article or a
// category: an explicit type code wins, otherwise the first non-empty id.
func classifyMedia(values []any) (string, any) {
	get := func(i int) any {
		if i < len(values) {
			return values[i]
		}
		return nil
	}
	typeCode := strings.ToLower(strings.TrimSpace(ToString(get(0))))
	articleID, categoryID := get(1), get(2)

	for _, code := range articleTypeCodes {
		if typeCode == code {
			return MediaArticle, blankToNil(articleID)
		}
	}
	for _, code := range categoryTypeCodes {
		if typeCode == code {
			return MediaCategory, blankToNil(categoryID)
		}
	}

	if !IsBlank(articleID) {
		return MediaArticle, articleID
	}
	if !IsBlank(categoryID) {
		return MediaCategory, categoryID
	}
	return "", nil
}

func blankToNil(v any) any {
	if IsBlank(v) {
		return nil
	}
	return v
}

// fnMediaEntityType takes (typeCode, articleId, categoryId).
func fnMediaEntityType(c *Call) (any, error) {
	values, err := c.Values()
	if err != nil {
		return nil, err
	}
	kind, _ := classifyMedia(values)
	if kind == "" {
		return nil, nil
	}
	return kind, nil
}

func fnMediaEntityID(c *Call) (any, error) {
	values, err := c.Values()
	if err != nil {
		return nil, err
	}
	_, id := classifyMedia(values)
	return id, nil
}

// NormalizeMediaPath converts a stored relative media path to forward slashes
// without empty, "." or leading segments.
func NormalizeMediaPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" || segment == "." {
			continue
		}
		kept = append(kept, segment)
	}
	return strings.Join(kept, "/")
}

// segmentAfter returns the path segment following the first directory named
// one of dirs.
func segmentAfter(p string, dirs ...string) string {
	segments := strings.Split(NormalizeMediaPath(p), "/")
	for i := 0; i+1 < len(segments); i++ {
		for _, dir := range dirs {
			if strings.EqualFold(segments[i], dir) {
				return segments[i+1]
			}
		}
	}
	return ""
}

func fnMediaDetectType(c *Call) (any, error) {
	p := ToString(c.Input)
	switch {
	case segmentAfter(p, "artikel") != "":
		return MediaArticle, nil
	case segmentAfter(p, "warengruppen") != "":
		return MediaCategory, nil
	}
	return nil, nil
}

func fnMediaExtractArticle(c *Call) (any, error) {
	return blankToNil(segmentAfter(ToString(c.Input), "artikel")), nil
}

func fnMediaExtractCategory(c *Call) (any, error) {
	return blankToNil(segmentAfter(ToString(c.Input), "warengruppen")), nil
}

// isImage decides by mime type, or by file extension when no mime is known.
func isImage(value any, mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime != "" {
		return strings.HasPrefix(mime, "image/")
	}
	return imageExtensions[strings.ToLower(path.Ext(ToString(value)))]
}

// fnImageGuard passes the value only when the accompanying mime is an image.
func fnImageGuard(c *Call) (any, error) {
	if IsBlank(c.Input) {
		return nil, nil
	}
	mime, err := c.ArgString(0, "")
	if err != nil {
		return nil, err
	}
	if !isImage(c.Input, mime) {
		return nil, nil
	}
	return c.Input, nil
}

func fnDocumentGuard(c *Call) (any, error) {
	if IsBlank(c.Input) {
		return nil, nil
	}
	mime, err := c.ArgString(0, "")
	if err != nil {
		return nil, err
	}
	if isImage(c.Input, mime) {
		return nil, nil
	}
	return c.Input, nil
}

func categoryPaths(ctx Context) func(id string) (string, bool) {
	switch paths := ctx[CategoryPathsKey].(type) {
	case map[string]string:
		return func(id string) (string, bool) {
			p, ok := paths[id]
			return p, ok
		}
	case map[string]any:
		return func(id string) (string, bool) {
			p, ok := paths[id]
			return ToString(p), ok
		}
	}
	return func(string) (string, bool) { return "", false }
}

func fnCategoryPath(c *Call) (any, error) {
	if IsBlank(c.Input) {
		return nil, nil
	}
	p, ok := categoryPaths(c.Ctx)(strings.TrimSpace(ToString(c.Input)))
	if !ok || p == "" {
		return nil, nil
	}
	return p, nil
}

func fnCategorySlug(c *Call) (any, error) {
	p, err := fnCategoryPath(c)
	if err != nil || p == nil {
		return nil, err
	}
	s := p.(string)
	return s[strings.LastIndex(s, "/")+1:], nil
}

// IsMasterToken reports whether a composite master/variant value marks a master article.
func IsMasterToken(v any) bool {
	return strings.EqualFold(strings.TrimSpace(ToString(v)), "master")
}

func fnArticleMasterFlag(c *Call) (any, error) {
	if IsMasterToken(c.Input) {
		return int64(1), nil
	}
	return int64(0), nil
}

func fnArticleMasterNumber(c *Call) (any, error) {
	if IsBlank(c.Input) || IsMasterToken(c.Input) {
		return nil, nil
	}
	if s, ok := c.Input.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return c.Input, nil
}

// override reads key for the scope given as first argument from the lookup store.
func override(c *Call, key string) (string, bool, error) {
	scope, err := c.ArgString(0, "")
	if err != nil || scope == "" {
		return "", false, err
	}
	value, ok := c.Lookups().Lookup(scope, key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false, nil
	}
	return strings.TrimSpace(value), true, nil
}

func fnSEOSlug(c *Call) (any, error) {
	if value, ok, err := override(c, "seo_slug"); err != nil {
		return nil, err
	} else if ok {
		return slug.Make(value), nil
	}
	if IsBlank(c.Input) {
		return nil, nil
	}
	return slug.Make(ToString(c.Input)), nil
}

func fnMetaTitleDefault(c *Call) (any, error) {
	if value, ok, err := override(c, "meta_title"); err != nil {
		return nil, err
	} else if ok {
		return value, nil
	}
	if IsBlank(c.Input) {
		return nil, nil
	}
	return TruncateWords(RemoveHTML(ToString(c.Input)), metaTitleLength), nil
}

func fnMetaDescriptionDefault(c *Call) (any, error) {
	if value, ok, err := override(c, "meta_description"); err != nil {
		return nil, err
	} else if ok {
		return value, nil
	}
	if IsBlank(c.Input) {
		return nil, nil
	}
	text := RemoveHTML(strings.ReplaceAll(ToString(c.Input), "<br>", " "))
	return TruncateWords(text, metaDescriptionLength), nil
}

// TruncateWords cuts s to at most limit runes, preferring a word boundary.
func TruncateWords(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)[:limit]
	for i := len(runes) - 1; i > limit/2; i-- {
		if runes[i] == ' ' {
			runes = runes[:i]
			break
		}
	}
	return strings.TrimRight(string(runes), " ,.;:-")
}
