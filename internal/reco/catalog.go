package reco

import (
	"cmp"
	"slices"
)

// MapCatalog is an immutable in-memory Catalog.
type MapCatalog struct {
	products   map[string]Product
	categories int
	brands     int
}

// NewMapCatalog indexes products by ID. Later duplicates replace earlier ones.
func NewMapCatalog(products []Product) *MapCatalog {
	c := &MapCatalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}

	cats := make(map[string]struct{})
	brands := make(map[string]struct{})
	for _, p := range c.products {
		if p.Category != "" {
			cats[p.Category] = struct{}{}
		}
		if p.Brand != "" {
			brands[p.Brand] = struct{}{}
		}
	}
	c.categories = len(cats)
	c.brands = len(brands)
	return c
}

// Lookup implements Catalog.
func (c *MapCatalog) Lookup(itemID string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	p, ok := c.products[itemID]
	return p, ok
}

// CategoryCount implements Catalog.
func (c *MapCatalog) CategoryCount() int {
	if c == nil {
		return 0
	}
	return c.categories
}

// BrandCount implements Catalog.
func (c *MapCatalog) BrandCount() int {
	if c == nil {
		return 0
	}
	return c.brands
}

// Len returns the number of products.
func (c *MapCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.products)
}

// ByPopularity returns all products, most popular first, ties broken by ID.
func (c *MapCatalog) ByPopularity() []Product {
	if c == nil {
		return nil
	}
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Product) int {
		if n := cmp.Compare(b.Popularity, a.Popularity); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
