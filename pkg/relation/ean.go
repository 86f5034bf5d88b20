package relation

import (
	"context"
	"strings"
	"sync"

	"github.com/Gobusters/ectologger"
)

// EANGuard keeps an EAN owned by a single business key for the whole run.
type EANGuard struct {
	owners    map[string]string
	claims    map[string]string
	conflicts []Conflict
	logger    ectologger.Logger
	mu        sync.Mutex
}

// Conflict records an EAN refused to Claimant because Owner holds it.
type Conflict struct {
	EAN      string
	Owner    string
	Claimant string
}

// NewEANGuard seeds the guard with the EAN -> business key pairs stored
// before the run.
func NewEANGuard(seed map[string]string, logger ectologger.Logger) *EANGuard {
	g := &EANGuard{
		owners: make(map[string]string, len(seed)),
		claims: make(map[string]string, len(seed)),
		logger: logger,
	}
	g.Seed(seed)
	return g
}

// Seed adds stored EAN -> business key pairs. Claims made earlier in the run
// win over stored pairs.
func (g *EANGuard) Seed(seed map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ean, key := range seed {
		ean = strings.TrimSpace(ean)
		if ean == "" || key == "" {
			continue
		}
		if _, owned := g.owners[ean]; owned {
			continue
		}
		if _, claimed := g.claims[key]; claimed {
			continue
		}
		g.owners[ean] = key
		g.claims[key] = ean
	}
}

type guardKey struct{}

// WithEANGuard scopes g to every sync that runs with the returned context.
func WithEANGuard(ctx context.Context, g *EANGuard) context.Context {
	return context.WithValue(ctx, guardKey{}, g)
}

// EANGuardFrom returns the guard stored by WithEANGuard.
func EANGuardFrom(ctx context.Context) (*EANGuard, bool) {
	g, ok := ctx.Value(guardKey{}).(*EANGuard)
	return g, ok && g != nil
}

// Claim returns the EAN key may write. When another key already owns ean the
// result is "" and false, and a warning names both keys. A key claiming a new
// EAN releases its previous one.
func (g *EANGuard) Claim(ctx context.Context, ean, key string) (string, bool) {
	ean = strings.TrimSpace(ean)
	if ean == "" {
		return "", true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if owner, ok := g.owners[ean]; ok && owner != key {
		g.logger.WithContext(ctx).WithFields(map[string]any{
			"ean":      ean,
			"owner":    owner,
			"conflict": key,
		}).Warnf("EAN %s already belongs to %s, dropping it for %s", ean, owner, key)
		g.conflicts = append(g.conflicts, Conflict{EAN: ean, Owner: owner, Claimant: key})
		return "", false
	}

	if previous, ok := g.claims[key]; ok && previous != ean && g.owners[previous] == key {
		delete(g.owners, previous)
	}
	g.owners[ean] = key
	g.claims[key] = ean
	return ean, true
}

// Owner returns the business key currently owning ean.
func (g *EANGuard) Owner(ean string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	owner, ok := g.owners[strings.TrimSpace(ean)]
	return owner, ok
}

// Conflicts returns the refused claims in order.
func (g *EANGuard) Conflicts() []Conflict {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Conflict(nil), g.conflicts...)
}
