// Package reco defines the recommendation values the governance core consumes:
// ranked candidates, the requesting member's context, and product lookups.
package reco

import (
	"fmt"
	"strings"
)

// SourceKind identifies which candidate generator produced a candidate.
type SourceKind int

const (
	SourceCollaborative SourceKind = iota + 1
	SourceContent
	SourcePopularity
	SourceDiversityExploration
	SourceFallback
)

var sourceNames = map[SourceKind]string{
	SourceCollaborative:        "collaborative",
	SourceContent:              "content",
	SourcePopularity:           "popularity",
	SourceDiversityExploration: "diversity_exploration",
	SourceFallback:             "fallback",
}

// String returns the wire name of the source.
func (k SourceKind) String() string {
	if name, ok := sourceNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds.
func (k SourceKind) Valid() bool {
	_, ok := sourceNames[k]
	return ok
}

// ParseSourceKind maps a wire name to a SourceKind. Hyphens and case are ignored.
func ParseSourceKind(s string) (SourceKind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for k, name := range sourceNames {
		if name == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown source kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k SourceKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid source kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SourceKind) UnmarshalText(b []byte) error {
	parsed, err := ParseSourceKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Candidate is one recommended item in a ranked list.
type Candidate struct {
	ItemID      string     `json:"item_id" validate:"required"`
	Name        string     `json:"name"`
	Rank        int        `json:"rank" validate:"min=1"`
	Confidence  float64    `json:"confidence" validate:"gte=0,lte=1"`
	Source      SourceKind `json:"source" validate:"required"`
	Explanation string     `json:"explanation"`
}

// MemberContext is the per-request snapshot of the member's purchase history.
type MemberContext struct {
	MemberID       string   `json:"member_id" validate:"required"`
	PurchasedItems []string `json:"purchased_items,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	Brands         []string `json:"brands,omitempty"`
	AvgSpend       float64  `json:"avg_spend" validate:"gte=0"`
	SpendStdDev    float64  `json:"spend_std_dev" validate:"gte=0"`
}

// HasPurchased reports whether itemID is in the purchase history.
func (m MemberContext) HasPurchased(itemID string) bool {
	for _, id := range m.PurchasedItems {
		if id == itemID {
			return true
		}
	}
	return false
}

// MemberHistory carries browsing signals. A nil history means none was loaded.
type MemberHistory struct {
	BrowsedItems []string `json:"browsed_items,omitempty"`
}

// Product is the catalog view of an item.
type Product struct {
	ID         string  `json:"id" validate:"required"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Brand      string  `json:"brand"`
	Price      float64 `json:"price" validate:"gte=0"`
	Popularity float64 `json:"popularity" validate:"gte=0"`
}

// Catalog resolves product details. Misses are expected and never fatal.
type Catalog interface {
	Lookup(itemID string) (Product, bool)
	// CategoryCount and BrandCount return the number of distinct values
	// across the whole catalog.
	CategoryCount() int
	BrandCount() int
}
