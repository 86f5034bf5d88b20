package source

import (
	"cmp"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
)

// MatchFilter applies a default_filter to a row held in memory, with the
// operators BuildFilter renders as SQL. Values compare as numbers when both
// sides parse as numbers and as text otherwise; nil behaves like SQL NULL.
func MatchFilter(row Row, filter map[string]any) (bool, error) {
	columns := make([]string, 0, len(filter))
	for c := range filter {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	for _, column := range columns {
		ops, ok := asOperatorMap(filter[column])
		if !ok {
			ops = map[string]any{"eq": filter[column]}
		}
		for op, want := range ops {
			ok, err := matchCondition(row[column], op, want)
			if err != nil {
				return false, fmt.Errorf("filter on '%s': %w", column, err)
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func matchCondition(have any, op string, want any) (bool, error) {
	switch strings.ToLower(op) {
	case "eq", "=":
		if want == nil {
			return have == nil, nil
		}
		if list, ok := asList(want); ok {
			return inList(have, list), nil
		}
		return have != nil && compareValues(have, want) == 0, nil
	case "ne", "!=", "<>":
		if want == nil {
			return have != nil, nil
		}
		return have != nil && compareValues(have, want) != 0, nil
	case "lt", "<":
		return have != nil && compareValues(have, want) < 0, nil
	case "lte", "le", "<=":
		return have != nil && compareValues(have, want) <= 0, nil
	case "gt", ">":
		return have != nil && compareValues(have, want) > 0, nil
	case "gte", "ge", ">=":
		return have != nil && compareValues(have, want) >= 0, nil
	case "like", "not_like":
		if have == nil {
			return false, nil
		}
		matched := likePattern(expression.ToString(want)).MatchString(expression.ToString(have))
		return matched == (strings.ToLower(op) == "like"), nil
	case "in", "not_in":
		list, _ := asList(want)
		if list == nil && want != nil {
			list = []any{want}
		}
		if have == nil {
			return false, nil
		}
		return inList(have, list) == (strings.ToLower(op) == "in"), nil
	case "between":
		list, ok := asList(want)
		if !ok || len(list) != 2 {
			return false, fmt.Errorf("between needs exactly two values")
		}
		return have != nil && compareValues(have, list[0]) >= 0 && compareValues(have, list[1]) <= 0, nil
	case "not_null", "is_not_null":
		if b, ok := want.(bool); ok && !b {
			return have == nil, nil
		}
		return have != nil, nil
	case "is_null", "null":
		if b, ok := want.(bool); ok && !b {
			return have != nil, nil
		}
		return have == nil, nil
	}
	return false, fmt.Errorf("unknown filter operator '%s'", op)
}

func inList(have any, list []any) bool {
	if have == nil {
		return false
	}
	for _, v := range list {
		if v != nil && compareValues(have, v) == 0 {
			return true
		}
	}
	return false
}

func compareValues(a, b any) int {
	if x, ok := expression.ToFloat(a); ok {
		if y, ok := expression.ToFloat(b); ok {
			return cmp.Compare(x, y)
		}
	}
	return strings.Compare(expression.ToString(a), expression.ToString(b))
}

// likePattern translates a SQL LIKE pattern. Matching ignores case like the
// default AFS collation.
func likePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// byColumn exposes a row under its source column names as well as its
// aliases, since filters name source columns.
func byColumn(row Row, fields []manifest.FieldSpec) Row {
	view := make(Row, len(row)+len(fields))
	for k, v := range row {
		view[k] = v
	}
	for _, f := range fields {
		if f.Alias != f.Column {
			if _, ok := view[f.Column]; !ok {
				view[f.Column] = row[f.Alias]
			}
		}
	}
	return view
}
