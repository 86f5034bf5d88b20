// Package manifest loads the mapping manifest and the source/target schema
// documents it references, and compiles entity maps into field assignments.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
)

// Entity kinds drive sync ordering and the special handling of media,
// document and attribute payloads.
const (
	KindCategory  = "category"
	KindArticle   = "article"
	KindMedia     = "media"
	KindDocument  = "document"
	KindAttribute = "attribute"
	KindOther     = "other"
)

type Manifest struct {
	Sources  map[string]SourceRef    `yaml:"sources" validate:"required,min=1,dive"`
	Entities map[string]EntityConfig `yaml:"entities" validate:"required,min=1,dive"`
	Target   map[string]SourceRef    `yaml:"target" validate:"required,len=1,dive"`

	baseDir string
}

type SourceRef struct {
	Schema string `yaml:"schema" validate:"required"`
}

type EntityConfig struct {
	From         string         `yaml:"from" validate:"required"`
	Kind         string         `yaml:"kind" validate:"omitempty,oneof=category article media document attribute other"`
	MasterField  string         `yaml:"master_field"`
	KeyField     string         `yaml:"key_field"`
	CategoryTree *CategoryTree  `yaml:"category_tree"`
	Map          map[string]any `yaml:"map" validate:"required,min=1"`
}

// CategoryTree names the source columns feeding the category path resolver.
type CategoryTree struct {
	ID     string `yaml:"id" validate:"required"`
	Parent string `yaml:"parent" validate:"required"`
	Name   string `yaml:"name" validate:"required"`
}

// Load reads and validates a manifest. Schema references are resolved
// relative to the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.baseDir = filepath.Dir(path)
	return m, nil
}

// Parse parses and validates manifest YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.NewConfigErrorf("manifest", "failed to parse manifest YAML: %v", err)
	}

	if err := validateStruct(m); err != nil {
		return nil, errors.NewConfigError("manifest", err.Error())
	}

	for name, entity := range m.Entities {
		if _, _, err := entity.Source(); err != nil {
			return nil, errors.NewConfigErrorf("manifest", "entity '%s': %v", name, err)
		}
		if _, ok := m.Sources[entity.SourceID()]; !ok {
			return nil, errors.NewConfigErrorf("manifest", "entity '%s' references unknown source '%s'", name, entity.SourceID())
		}
	}

	return &m, nil
}

// ResolvePath resolves a schema reference against the manifest directory.
func (m *Manifest) ResolvePath(ref string) string {
	if filepath.IsAbs(ref) || m.baseDir == "" {
		return ref
	}
	return filepath.Join(m.baseDir, ref)
}

// EntityNames returns the entity names in lexical order.
func (m *Manifest) EntityNames() []string {
	names := make([]string, 0, len(m.Entities))
	for name := range m.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manifest) Entity(name string) (EntityConfig, error) {
	entity, ok := m.Entities[name]
	if !ok {
		return EntityConfig{}, errors.NewConfigErrorf("manifest", "unknown entity '%s'", name)
	}
	return entity, nil
}

// TargetID returns the id of the single target store.
func (m *Manifest) TargetID() string {
	for id := range m.Target {
		return id
	}
	return ""
}

// Source splits `from` into source id and table.
func (e EntityConfig) Source() (string, string, error) {
	sourceID, table, ok := strings.Cut(e.From, ".")
	if !ok || sourceID == "" || table == "" {
		return "", "", fmt.Errorf("invalid from %q, expected <source>.<table>", e.From)
	}
	return sourceID, table, nil
}

func (e EntityConfig) SourceID() string {
	id, _, _ := e.Source()
	return id
}

func (e EntityConfig) SourceTable() string {
	_, table, _ := e.Source()
	return table
}

// EntityKind returns the configured kind or infers it from the entity name.
func EntityKind(name string, e EntityConfig) string {
	if e.Kind != "" {
		return e.Kind
	}

	n := strings.ToLower(name)
	switch {
	case containsAny(n, "categor", "warengruppe", "kategorie"):
		return KindCategory
	case containsAny(n, "attribute", "merkmal", "eigenschaft"):
		return KindAttribute
	case containsAny(n, "document", "dokument"):
		return KindDocument
	case containsAny(n, "media", "image", "bild", "bilder"):
		return KindMedia
	case containsAny(n, "article", "artikel", "product", "produkt"):
		return KindArticle
	}
	return KindOther
}

func containsAny(s string, parts ...string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
