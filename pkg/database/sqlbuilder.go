package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Excluded references the proposed row of an ON CONFLICT clause.
func Excluded(column string) any {
	return sqlbuilder.Raw(fmt.Sprintf("excluded.%s", QuoteIdent(column)))
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func (d Dialect) NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{d.Flavor.NewInsertBuilder()}
}

// OnConflict appends `ON CONFLICT (cols) DO UPDATE` and returns the builder for
// the SET clause.
func (b *InsertBuilder) OnConflict(columns ...string) *UpdateBuilder {
	ub := &UpdateBuilder{b.Flavor().NewUpdateBuilder()}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE %s", strings.Join(QuoteIdents(columns), ", "), b.Var(ub)))
	return ub
}

func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}

func (b *InsertBuilder) InsertInto(table string) *InsertBuilder {
	return &InsertBuilder{b.InsertBuilder.InsertInto(QuoteIdent(table))}
}

func (b *InsertBuilder) Cols(col ...string) *InsertBuilder {
	return &InsertBuilder{b.InsertBuilder.Cols(QuoteIdents(col)...)}
}

func (b *InsertBuilder) Values(value ...any) *InsertBuilder {
	return &InsertBuilder{b.InsertBuilder.Values(value...)}
}

type UpdateBuilder struct {
	*sqlbuilder.UpdateBuilder
}

func (d Dialect) NewUpdateBuilder() *UpdateBuilder {
	return &UpdateBuilder{d.Flavor.NewUpdateBuilder()}
}

type DeleteBuilder struct {
	*sqlbuilder.DeleteBuilder
}

func (d Dialect) NewDeleteBuilder() *DeleteBuilder {
	return &DeleteBuilder{d.Flavor.NewDeleteBuilder()}
}

type SelectBuilder struct {
	*sqlbuilder.SelectBuilder
}

func (d Dialect) NewSelectBuilder() *SelectBuilder {
	return &SelectBuilder{d.Flavor.NewSelectBuilder()}
}
