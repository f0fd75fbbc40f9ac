package quality

import (
	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/reco"
)

// neutral is the value a sub-metric takes when the data it needs is absent.
const neutral = 0.5

// Scorer computes quality scores. It holds no per-request state and is safe
// for concurrent use.
type Scorer struct {
	vocabulary []string
	log        *logger.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithVocabulary replaces the explanation keyword vocabulary.
func WithVocabulary(words []string) Option {
	return func(s *Scorer) {
		s.vocabulary = normalizeVocabulary(words)
	}
}

// WithLogger sets the logger that reports auxiliary data misses at debug level.
func WithLogger(log *logger.Logger) Option {
	return func(s *Scorer) {
		s.log = logger.OrDefault(log).WithComponent("quality")
	}
}

// NewScorer returns a scorer using the default explanation vocabulary.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		vocabulary: normalizeVocabulary(DefaultVocabulary),
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score rates candidates for a member. A nil candidate slice is rejected with
// INVALID_INPUT; an empty one scores zero on every dimension. A nil history or
// catalog is allowed and resolves to neutral sub-metric values.
func (s *Scorer) Score(candidates []reco.Candidate, member reco.MemberContext, history *reco.MemberHistory, catalog reco.Catalog) (Score, error) {
	if candidates == nil {
		return Score{}, errors.InvalidInputError("candidate list is nil")
	}
	if len(candidates) == 0 {
		return NewScore(0, 0, 0, 0, nil), nil
	}

	in := newInputs(candidates, member, history, catalog)
	s.logMisses(in)

	breakdown := make(Breakdown, len(Dimensions))
	relevance := sumParts(breakdown, Relevance, relevanceParts(in))
	novelty := sumParts(breakdown, Novelty, noveltyParts(in))
	explainability := sumParts(breakdown, Explainability, explainabilityParts(in, s.vocabulary))
	diversity := sumParts(breakdown, Diversity, diversityParts(in))

	score := NewScore(relevance, novelty, explainability, diversity, breakdown)
	score.sources = sourceMix(candidates)
	return score, nil
}

// part is one weighted sub-metric with a value in [0,1].
type part struct {
	name   string
	weight float64
	value  float64
}

func sumParts(b Breakdown, d Dimension, parts []part) float64 {
	components := make([]Component, 0, len(parts))
	var total float64
	for _, p := range parts {
		value := clamp01(p.value) * 100
		c := Component{Name: p.name, Weight: p.weight, Value: value, Contribution: p.weight * value}
		components = append(components, c)
		total += c.Contribution
	}
	b[d] = components
	return total
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// inputs resolves catalog lookups once per request.
type inputs struct {
	candidates []reco.Candidate
	member     reco.MemberContext
	history    *reco.MemberHistory
	catalog    reco.Catalog

	// products[i] is the catalog entry of candidates[i], valid when found[i].
	products []reco.Product
	found    []bool

	categories map[string]struct{}
	brands     map[string]struct{}
	purchased  map[string]struct{}
}

func newInputs(candidates []reco.Candidate, member reco.MemberContext, history *reco.MemberHistory, catalog reco.Catalog) *inputs {
	in := &inputs{
		candidates: candidates,
		member:     member,
		history:    history,
		catalog:    catalog,
		products:   make([]reco.Product, len(candidates)),
		found:      make([]bool, len(candidates)),
		categories: toSet(member.Categories),
		brands:     toSet(member.Brands),
		purchased:  toSet(member.PurchasedItems),
	}
	if catalog != nil {
		for i, c := range candidates {
			in.products[i], in.found[i] = catalog.Lookup(c.ItemID)
		}
	}
	return in
}

func (in *inputs) hasCatalog() bool { return in.catalog != nil }

// misses counts candidates the catalog could not resolve.
func (in *inputs) misses() int {
	if !in.hasCatalog() {
		return 0
	}
	n := 0
	for _, ok := range in.found {
		if !ok {
			n++
		}
	}
	return n
}

// logMisses notes auxiliary data that resolved to neutral defaults.
func (s *Scorer) logMisses(in *inputs) {
	misses := in.misses()
	if in.hasCatalog() && misses == 0 && in.history != nil {
		return
	}
	s.log.Debug("Scoring with missing auxiliary data",
		"code", errors.CodeMissingAuxiliary,
		"member_id", in.member.MemberID,
		"catalog", in.hasCatalog(),
		"catalog_misses", misses,
		"history", in.history != nil)
}
