package quality

// noveltyWithoutCatalog is the category and brand novelty assumed when
// products cannot be resolved.
const noveltyWithoutCatalog = 0.3

func noveltyParts(in *inputs) []part {
	return []part{
		{name: "new_category_ratio", weight: 0.5, value: newAttributeRatio(in, func(i int) bool {
			return !contains(in.categories, in.products[i].Category)
		})},
		{name: "new_brand_ratio", weight: 0.3, value: newAttributeRatio(in, func(i int) bool {
			return !contains(in.brands, in.products[i].Brand)
		})},
		{name: "new_product_ratio", weight: 0.2, value: newProductRatio(in)},
	}
}

func newAttributeRatio(in *inputs, isNew func(i int) bool) float64 {
	if !in.hasCatalog() {
		return noveltyWithoutCatalog
	}
	var sum float64
	for i := range in.candidates {
		switch {
		case !in.found[i]:
			sum += neutral
		case isNew(i):
			sum++
		}
	}
	return sum / float64(len(in.candidates))
}

func newProductRatio(in *inputs) float64 {
	var n int
	for _, c := range in.candidates {
		if !contains(in.purchased, c.ItemID) {
			n++
		}
	}
	return float64(n) / float64(len(in.candidates))
}
