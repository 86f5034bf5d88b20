package manifest

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
)

// Source drivers.
const (
	DriverMSSQL       = "mssql"
	DriverFileDB      = "filedb"
	DriverSQLite      = "sqlite"
	DriverFileCatcher = "filecatcher"
)

// Relationship kinds.
const (
	RelationMedia     = "media"
	RelationDocument  = "document"
	RelationAttribute = "attribute"
)

// StringList accepts either a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	return fmt.Errorf("line %d: expected string or list of strings", node.Line)
}

// FieldSpec is a selected source field: `name` or `{alias: column}`.
type FieldSpec struct {
	Alias  string
	Column string
}

func (f *FieldSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		f.Alias, f.Column = s, s
		return nil
	case yaml.MappingNode:
		var m map[string]string
		if err := node.Decode(&m); err != nil {
			return err
		}
		if len(m) != 1 {
			return fmt.Errorf("line %d: field alias must have exactly one entry", node.Line)
		}
		for alias, column := range m {
			f.Alias, f.Column = alias, column
		}
		return nil
	}
	return fmt.Errorf("line %d: expected field name or {alias: column}", node.Line)
}

// SourceSchema describes one source backend.
type SourceSchema struct {
	Driver     string                 `yaml:"driver" validate:"required"`
	Connection map[string]any         `yaml:"connection"`
	Tables     map[string]SourceTable `yaml:"tables" validate:"dive"`
	Entities   map[string]SourceTable `yaml:"entities" validate:"dive"`
}

type SourceTable struct {
	Source      SourceSpec  `yaml:"source"`
	Fields      []FieldSpec `yaml:"fields"`
	BusinessKey StringList  `yaml:"business_key"`
	Keys        StringList  `yaml:"keys"`

	// flat-file layout
	Key       StringList `yaml:"key"`
	Separator string     `yaml:"separator"`
	Extension string     `yaml:"extension"`
	Charset   string     `yaml:"charset"`
}

type SourceSpec struct {
	Table         string         `yaml:"table"`
	DefaultFilter map[string]any `yaml:"default_filter"`
	Order         StringList     `yaml:"order"`
}

// LoadSchema reads a source schema document.
func LoadSchema(path string) (*SourceSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigErrorf(path, "failed to read source schema: %v", err)
	}
	return ParseSchema(path, data)
}

func ParseSchema(name string, data []byte) (*SourceSchema, error) {
	var s SourceSchema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.NewConfigErrorf(name, "failed to parse source schema YAML: %v", err)
	}
	if err := validateStruct(s); err != nil {
		return nil, errors.NewConfigError(name, err.Error())
	}
	if s.Tables == nil {
		s.Tables = map[string]SourceTable{}
	}
	for table, cfg := range s.Entities {
		if _, ok := s.Tables[table]; !ok {
			s.Tables[table] = cfg
		}
	}
	return &s, nil
}

// Table returns the config of a source table; the table name doubles as the
// physical name when none is configured.
func (s *SourceSchema) Table(name string) (SourceTable, error) {
	t, ok := s.Tables[name]
	if !ok {
		return SourceTable{}, errors.NewConfigErrorf("source schema", "unknown source table '%s'", name)
	}
	if t.Source.Table == "" {
		t.Source.Table = name
	}
	return t, nil
}

// KeyColumns returns business_key, falling back to keys.
func (t SourceTable) KeyColumns() []string {
	if len(t.BusinessKey) > 0 {
		return t.BusinessKey
	}
	return t.Keys
}

// TargetSchema describes the target store.
type TargetSchema struct {
	Tables        map[string]TargetTable  `yaml:"tables" validate:"required,min=1,dive"`
	Relationships map[string]Relationship `yaml:"relationships" validate:"dive"`
	Lookups       map[string]Lookup       `yaml:"lookups" validate:"dive"`
}

type TargetTable struct {
	Name        string      `yaml:"name"`
	BusinessKey StringList  `yaml:"business_key"`
	Keys        StringList  `yaml:"keys"`
	Fields      []string    `yaml:"fields"`
	IDColumn    string      `yaml:"id_column"`
	References  []Reference `yaml:"references" validate:"dive"`
	Tracking    *Tracking   `yaml:"tracking"`
	Media       *MediaRule  `yaml:"media"`
}

// Reference resolves payload column From through lookup Lookup into Column.
// From is not a physical column and is removed from the payload.
type Reference struct {
	Column string `yaml:"column" validate:"required"`
	From   string `yaml:"from"`
	Lookup string `yaml:"lookup" validate:"required"`
	// Required drops the row when the reference does not resolve.
	Required bool `yaml:"required"`
}

// Tracking enables hash bookkeeping for a table.
type Tracking struct {
	OnlineColumn           string `yaml:"online_column"`
	UpdateColumn           string `yaml:"update_column"`
	EANColumn              string `yaml:"ean_column"`
	MetaTitleColumn        string `yaml:"meta_title_column"`
	MetaDescriptionColumn  string `yaml:"meta_description_column"`
	LastUpdateColumn       string `yaml:"last_update_column"`
	LastImportedHashColumn string `yaml:"last_imported_hash_column"`
	LastSeenHashColumn     string `yaml:"last_seen_hash_column"`
}

// MediaRule configures the fallback for media payloads lacking a file name.
type MediaRule struct {
	FileColumn string `yaml:"file_column" validate:"required"`
	HashColumn string `yaml:"hash_column"`
}

type Relationship struct {
	Table            string     `yaml:"table"`
	Parent           string     `yaml:"parent" validate:"required"`
	Kind             string     `yaml:"kind" validate:"required,oneof=media document attribute"`
	Lookup           string     `yaml:"lookup"`
	Fields           []string   `yaml:"fields"`
	UniqueConstraint StringList `yaml:"unique_constraint"`
	ParentColumn     string     `yaml:"parent_column" validate:"required"`
	ChildColumn      string     `yaml:"child_column" validate:"required"`
	ValueColumn      string     `yaml:"value_column"`
}

// Lookup maps a natural key column of a target table to its id column.
type Lookup struct {
	Table string `yaml:"table" validate:"required"`
	Key   string `yaml:"key" validate:"required"`
	Value string `yaml:"value"`
	// Fold compares keys case-insensitively.
	Fold bool `yaml:"fold"`
}

// LoadTargetSchema reads a target schema document and applies defaults.
func LoadTargetSchema(path string) (*TargetSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigErrorf(path, "failed to read target schema: %v", err)
	}
	return ParseTargetSchema(path, data)
}

func ParseTargetSchema(name string, data []byte) (*TargetSchema, error) {
	var s TargetSchema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.NewConfigErrorf(name, "failed to parse target schema YAML: %v", err)
	}
	if err := validateStruct(s); err != nil {
		return nil, errors.NewConfigError(name, err.Error())
	}

	for key, t := range s.Tables {
		if t.Name == "" {
			t.Name = key
		}
		if t.IDColumn == "" {
			t.IDColumn = "id"
		}
		if t.Tracking != nil {
			t.Tracking.applyDefaults()
		}
		if len(t.BusinessKey) == 0 && len(t.Keys) == 0 {
			return nil, errors.NewConfigErrorf(name, "table '%s' has no business key", key)
		}
		s.Tables[key] = t
	}

	for key, r := range s.Relationships {
		if r.Table == "" {
			r.Table = key
		}
		if r.Lookup == "" && r.Kind != RelationAttribute {
			r.Lookup = r.Kind
		}
		if r.Lookup == "" {
			r.Lookup = RelationAttribute
		}
		if len(r.UniqueConstraint) == 0 {
			r.UniqueConstraint = StringList{r.ParentColumn, r.ChildColumn}
		}
		if r.Kind == RelationAttribute && r.ValueColumn == "" {
			return nil, errors.NewConfigErrorf(name, "attribute relationship '%s' needs value_column", key)
		}
		if _, ok := s.Tables[r.Parent]; !ok {
			return nil, errors.NewConfigErrorf(name, "relationship '%s' references unknown parent table '%s'", key, r.Parent)
		}
		s.Relationships[key] = r
	}

	for key, l := range s.Lookups {
		if l.Value == "" {
			l.Value = "id"
		}
		s.Lookups[key] = l
	}

	return &s, nil
}

// KeyColumns returns business_key, falling back to keys.
func (t TargetTable) KeyColumns() []string {
	if len(t.BusinessKey) > 0 {
		return t.BusinessKey
	}
	return t.Keys
}

// RelationshipByTable finds the relationship whose logical name or physical
// table is name.
func (s *TargetSchema) RelationshipByTable(name string) (string, Relationship, bool) {
	if r, ok := s.Relationships[name]; ok {
		return name, r, true
	}
	for key, r := range s.Relationships {
		if r.Table == name {
			return key, r, true
		}
	}
	return "", Relationship{}, false
}

// RelationshipsOf returns the relationship names owned by parent table, sorted.
func (s *TargetSchema) RelationshipsOf(parent string) []string {
	var names []string
	for key, r := range s.Relationships {
		if r.Parent == parent {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names
}

func (t *Tracking) applyDefaults() {
	defaults := []struct {
		field *string
		value string
	}{
		{&t.OnlineColumn, "online"},
		{&t.UpdateColumn, "update"},
		{&t.EANColumn, "ean"},
		{&t.MetaTitleColumn, "meta_title"},
		{&t.MetaDescriptionColumn, "meta_description"},
		{&t.LastUpdateColumn, "last_update"},
		{&t.LastImportedHashColumn, "last_imported_hash"},
		{&t.LastSeenHashColumn, "last_seen_hash"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = d.value
		}
	}
}

// Bookkeeping returns the tracking columns excluded from content hashing.
func (t *Tracking) Bookkeeping() []string {
	if t == nil {
		return nil
	}
	return []string{t.UpdateColumn, t.LastUpdateColumn, t.LastImportedHashColumn, t.LastSeenHashColumn}
}
