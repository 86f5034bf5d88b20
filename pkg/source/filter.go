package source

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/huandu/go-sqlbuilder"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
)

// Quoter quotes one identifier of a source dialect.
type Quoter func(string) string

// QuoteBracket quotes SQL Server identifiers per dotted segment.
func QuoteBracket(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "[" + strings.ReplaceAll(p, "]", "]]") + "]"
	}
	return strings.Join(parts, ".")
}

// QuoteDouble quotes ANSI identifiers per dotted segment.
func QuoteDouble(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func quoterFor(flavor sqlbuilder.Flavor) Quoter {
	if flavor == sqlbuilder.SQLServer {
		return QuoteBracket
	}
	return QuoteDouble
}

// BuildSelect builds `SELECT fields FROM table [WHERE filter] [ORDER BY order]`
// for a source table. Filter values are always bound.
func BuildSelect(flavor sqlbuilder.Flavor, table manifest.SourceTable) (string, []any, error) {
	quote := quoterFor(flavor)
	sb := flavor.NewSelectBuilder()

	if len(table.Fields) == 0 {
		sb.Select("*")
	} else {
		cols := make([]string, len(table.Fields))
		for i, f := range table.Fields {
			if f.Alias != "" && f.Alias != f.Column {
				cols[i] = sb.As(quote(f.Column), quote(f.Alias))
			} else {
				cols[i] = quote(f.Column)
			}
		}
		sb.Select(cols...)
	}
	sb.From(quote(table.Source.Table))

	conds, err := BuildFilter(&sb.Cond, table.Source.DefaultFilter, quote)
	if err != nil {
		return "", nil, err
	}
	if len(conds) > 0 {
		sb.Where(conds...)
	}

	if len(table.Source.Order) > 0 {
		order := make([]string, len(table.Source.Order))
		for i, o := range table.Source.Order {
			order[i] = quoteOrder(o, quote)
		}
		sb.OrderBy(order...)
	}

	query, args := sb.Build()
	return query, args, nil
}

// quoteOrder quotes `col [ASC|DESC]`.
func quoteOrder(expr string, quote Quoter) string {
	fields := strings.Fields(expr)
	if len(fields) == 2 {
		dir := strings.ToUpper(fields[1])
		if dir == "ASC" || dir == "DESC" {
			return quote(fields[0]) + " " + dir
		}
	}
	return quote(strings.TrimSpace(expr))
}

// BuildFilter turns a default_filter map into AND-ed conditions. A plain value
// means eq (nil means is_null, a list means in); a map holds operator: value
// pairs. Columns are processed in lexical order.
func BuildFilter(cond *sqlbuilder.Cond, filter map[string]any, quote Quoter) ([]string, error) {
	columns := make([]string, 0, len(filter))
	for c := range filter {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	var out []string
	for _, column := range columns {
		field := quote(column)
		ops, ok := asOperatorMap(filter[column])
		if !ok {
			expr, err := buildCondition(cond, field, "eq", filter[column])
			if err != nil {
				return nil, fmt.Errorf("filter on '%s': %w", column, err)
			}
			out = append(out, expr)
			continue
		}

		names := make([]string, 0, len(ops))
		for op := range ops {
			names = append(names, op)
		}
		sort.Strings(names)
		for _, op := range names {
			expr, err := buildCondition(cond, field, op, ops[op])
			if err != nil {
				return nil, fmt.Errorf("filter on '%s': %w", column, err)
			}
			out = append(out, expr)
		}
	}
	return out, nil
}

func asOperatorMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func buildCondition(cond *sqlbuilder.Cond, field, op string, value any) (string, error) {
	switch strings.ToLower(op) {
	case "eq", "=":
		if value == nil {
			return cond.IsNull(field), nil
		}
		if list, ok := asList(value); ok {
			return inCondition(cond, field, list, false), nil
		}
		return cond.Equal(field, value), nil
	case "ne", "!=", "<>":
		if value == nil {
			return cond.IsNotNull(field), nil
		}
		return cond.NotEqual(field, value), nil
	case "lt", "<":
		return cond.LessThan(field, value), nil
	case "lte", "le", "<=":
		return cond.LessEqualThan(field, value), nil
	case "gt", ">":
		return cond.GreaterThan(field, value), nil
	case "gte", "ge", ">=":
		return cond.GreaterEqualThan(field, value), nil
	case "like":
		return cond.Like(field, value), nil
	case "not_like":
		return cond.NotLike(field, value), nil
	case "in":
		list, _ := asList(value)
		if list == nil && value != nil {
			list = []any{value}
		}
		return inCondition(cond, field, list, false), nil
	case "not_in":
		list, _ := asList(value)
		if list == nil && value != nil {
			list = []any{value}
		}
		return inCondition(cond, field, list, true), nil
	case "between":
		list, ok := asList(value)
		if !ok || len(list) != 2 {
			return "", fmt.Errorf("between needs exactly two values")
		}
		return cond.Between(field, list[0], list[1]), nil
	case "not_null", "is_not_null":
		if b, ok := value.(bool); ok && !b {
			return cond.IsNull(field), nil
		}
		return cond.IsNotNull(field), nil
	case "is_null", "null":
		if b, ok := value.(bool); ok && !b {
			return cond.IsNotNull(field), nil
		}
		return cond.IsNull(field), nil
	}
	return "", fmt.Errorf("unknown filter operator '%s'", op)
}

// inCondition treats an empty in as always false and an empty not_in as
// always true.
func inCondition(cond *sqlbuilder.Cond, field string, values []any, negate bool) string {
	if len(values) == 0 {
		if negate {
			return "1 = 1"
		}
		return "1 = 0"
	}
	if negate {
		return cond.NotIn(field, values...)
	}
	return cond.In(field, values...)
}

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
