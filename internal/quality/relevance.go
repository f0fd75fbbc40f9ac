package quality

import (
	"math"

	"github.com/recoguard/recoguard/internal/reco"
)

// minSpendStdDev bounds the Gaussian width when the member's spend has no spread.
const minSpendStdDev = 1.0

func relevanceParts(in *inputs) []part {
	return []part{
		{name: "category_brand_overlap", weight: 0.33, value: categoryBrandOverlap(in)},
		{name: "product_similarity", weight: 0.33, value: productSimilarity(in)},
		{name: "spend_match", weight: 0.34, value: spendMatch(in)},
	}
}

// categoryBrandOverlap averages, per candidate, half a point for a category
// the member bought before and half for a known brand.
func categoryBrandOverlap(in *inputs) float64 {
	if !in.hasCatalog() || (len(in.categories) == 0 && len(in.brands) == 0) {
		return neutral
	}

	var sum float64
	for i := range in.candidates {
		if !in.found[i] {
			sum += neutral
			continue
		}
		p := in.products[i]
		sum += 0.5*setMatch(in.categories, p.Category) + 0.5*setMatch(in.brands, p.Brand)
	}
	return sum / float64(len(in.candidates))
}

// setMatch is 1 for a hit, 0 for a miss, and neutral when the history set is empty.
func setMatch(set map[string]struct{}, v string) float64 {
	if len(set) == 0 {
		return neutral
	}
	if contains(set, v) {
		return 1
	}
	return 0
}

// productSimilarity compares each candidate with its closest browsed item.
// Purchases stand in for browsing when no browse history was supplied.
func productSimilarity(in *inputs) float64 {
	if !in.hasCatalog() {
		return neutral
	}

	reference := in.member.PurchasedItems
	if in.history != nil && len(in.history.BrowsedItems) > 0 {
		reference = in.history.BrowsedItems
	}

	browsed := make([]reco.Product, 0, len(reference))
	for _, id := range reference {
		if p, ok := in.catalog.Lookup(id); ok {
			browsed = append(browsed, p)
		}
	}
	if len(browsed) == 0 {
		return neutral
	}

	var sum float64
	for i := range in.candidates {
		if !in.found[i] {
			sum += neutral
			continue
		}
		best := 0.0
		for _, b := range browsed {
			best = max(best, similarity(in.products[i], b))
		}
		sum += best
	}
	return sum / float64(len(in.candidates))
}

func similarity(a, b reco.Product) float64 {
	var s float64
	if a.Category != "" && a.Category == b.Category {
		s += 0.6
	}
	return s + 0.4*priceSimilarity(a.Price, b.Price)
}

func priceSimilarity(a, b float64) float64 {
	hi := max(a, b)
	if hi <= 0 {
		return 1
	}
	return 1 - math.Abs(a-b)/hi
}

// spendMatch scores each candidate price with a Gaussian centred on the
// member's average spend.
func spendMatch(in *inputs) float64 {
	avg := in.member.AvgSpend
	if avg <= 0 || !in.hasCatalog() {
		return neutral
	}

	sd := in.member.SpendStdDev
	if sd <= 0 {
		sd = max(avg*0.3, minSpendStdDev)
	}

	var sum float64
	for i := range in.candidates {
		if !in.found[i] || in.products[i].Price <= 0 {
			sum += neutral
			continue
		}
		diff := in.products[i].Price - avg
		sum += math.Exp(-(diff * diff) / (2 * sd * sd))
	}
	return sum / float64(len(in.candidates))
}
