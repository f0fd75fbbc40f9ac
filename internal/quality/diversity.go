package quality

import "github.com/recoguard/recoguard/internal/pkg/stats"

// dispersionCap is the coefficient of variation that earns full price dispersion.
const dispersionCap = 0.5

func diversityParts(in *inputs) []part {
	if !in.hasCatalog() {
		return []part{
			{name: "category_spread", weight: 0.4, value: neutral},
			{name: "price_dispersion", weight: 0.3, value: neutral},
			{name: "brand_spread", weight: 0.3, value: neutral},
		}
	}

	cats := make(map[string]struct{})
	brands := make(map[string]struct{})
	prices := make([]float64, 0, len(in.candidates))
	for i := range in.candidates {
		if !in.found[i] {
			continue
		}
		p := in.products[i]
		if p.Category != "" {
			cats[p.Category] = struct{}{}
		}
		if p.Brand != "" {
			brands[p.Brand] = struct{}{}
		}
		if p.Price > 0 {
			prices = append(prices, p.Price)
		}
	}

	n := len(in.candidates)
	return []part{
		{name: "category_spread", weight: 0.4, value: spread(len(cats), n, in.catalog.CategoryCount())},
		{name: "price_dispersion", weight: 0.3, value: priceDispersion(prices, n)},
		{name: "brand_spread", weight: 0.3, value: spread(len(brands), n, in.catalog.BrandCount())},
	}
}

// spread is distinct/min(n, total), neutral when the catalog reports no values.
func spread(distinct, n, total int) float64 {
	denom := min(n, total)
	if denom <= 0 {
		return neutral
	}
	return min(1, float64(distinct)/float64(denom))
}

// priceDispersion maps the coefficient of variation onto [0,1]. A single
// candidate has no dispersion; a longer list without two known prices is
// missing data and scores neutral.
func priceDispersion(prices []float64, n int) float64 {
	if len(prices) < 2 {
		if n < 2 {
			return 0
		}
		return neutral
	}
	mean := stats.Mean(prices)
	if mean <= 0 {
		return 0
	}
	cv := stats.StdDev(prices) / mean
	return min(1, cv/dispersionCap)
}
