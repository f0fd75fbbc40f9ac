// Package fallback produces the cheap candidate list substituted for a
// degraded recommendation.
package fallback

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/reco"
)

// DefaultSize is the fallback list length when the caller asks for none.
const DefaultSize = 5

// PopularityProvider ranks the catalog by popularity once and serves the
// head of that ranking, skipping items the member already bought.
type PopularityProvider struct {
	ranked atomic.Pointer[[]reco.Product]
}

// NewPopularityProvider ranks catalog by popularity.
func NewPopularityProvider(catalog *reco.MapCatalog) *PopularityProvider {
	p := &PopularityProvider{}
	p.Refresh(catalog)
	return p
}

// Refresh re-ranks from catalog. Concurrent Fallback calls see either the old
// or the new ranking.
func (p *PopularityProvider) Refresh(catalog *reco.MapCatalog) {
	ranked := catalog.ByPopularity()
	p.ranked.Store(&ranked)
}

// Len returns the number of ranked products.
func (p *PopularityProvider) Len() int {
	return len(*p.ranked.Load())
}

// Fallback returns up to n popular products the member has not purchased,
// ranked 1..k. Confidence is popularity relative to the most popular product
// returned.
func (p *PopularityProvider) Fallback(ctx context.Context, member reco.MemberContext, n int) ([]reco.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultSize
	}

	purchased := make(map[string]struct{}, len(member.PurchasedItems))
	for _, id := range member.PurchasedItems {
		purchased[id] = struct{}{}
	}

	picked := make([]reco.Product, 0, n)
	for _, prod := range *p.ranked.Load() {
		if _, ok := purchased[prod.ID]; ok {
			continue
		}
		picked = append(picked, prod)
		if len(picked) == n {
			break
		}
	}
	if len(picked) == 0 {
		return nil, errors.New(errors.CodeFallbackUnavailable, "no popular products left to recommend").
			WithDetail("member_id", member.MemberID)
	}

	top := picked[0].Popularity
	out := make([]reco.Candidate, len(picked))
	for i, prod := range picked {
		confidence := 0.5
		if top > 0 {
			confidence = prod.Popularity / top
		}
		name := prod.Name
		if name == "" {
			name = prod.ID
		}
		out[i] = reco.Candidate{
			ItemID:      prod.ID,
			Name:        name,
			Rank:        i + 1,
			Confidence:  confidence,
			Source:      reco.SourceFallback,
			Explanation: explain(name, prod.Category),
		}
	}
	return out, nil
}

func explain(name, category string) string {
	if category == "" {
		return fmt.Sprintf("%s is a popular choice we recommend", name)
	}
	return fmt.Sprintf("%s is a popular choice in the %s category, recommended for you", name, category)
}
