package engine

import (
	"sort"
	"strings"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/source"
)

func kindRank(kind string) int {
	switch kind {
	case manifest.KindCategory:
		return 0
	case manifest.KindArticle:
		return 2
	}
	return 1
}

// OrderEntities sorts names so category entities run first and article
// entities last, lexically within each rank.
func OrderEntities(names []string, kindOf func(name string) string) []string {
	out := append([]string(nil), names...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := kindRank(kindOf(out[i])), kindRank(kindOf(out[j]))
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// SortArticleRows moves master rows (empty master field or the "master"
// token) ahead of variants. Ties are broken by keyField when set.
func SortArticleRows(rows []source.Row, masterField, keyField string) {
	isMaster := func(r source.Row) bool {
		v := r[masterField]
		return expression.IsBlank(v) || expression.IsMasterToken(v)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		mi, mj := isMaster(rows[i]), isMaster(rows[j])
		if mi != mj {
			return mi
		}
		if keyField == "" {
			return false
		}
		return strings.TrimSpace(expression.ToString(rows[i][keyField])) < strings.TrimSpace(expression.ToString(rows[j][keyField]))
	})
}
