package quality

import "github.com/recoguard/recoguard/internal/reco"

// SourceMix counts the scored candidates by the generator that produced them.
// It annotates a score and does not change any dimension.
type SourceMix struct {
	Collaborative int `json:"collaborative,omitempty"`
	Content       int `json:"content,omitempty"`
	Popularity    int `json:"popularity,omitempty"`
	Exploration   int `json:"diversity_exploration,omitempty"`
	Fallback      int `json:"fallback,omitempty"`
	Unknown       int `json:"unknown,omitempty"`
}

func sourceMix(candidates []reco.Candidate) SourceMix {
	var m SourceMix
	for _, c := range candidates {
		switch c.Source {
		case reco.SourceCollaborative:
			m.Collaborative++
		case reco.SourceContent:
			m.Content++
		case reco.SourcePopularity:
			m.Popularity++
		case reco.SourceDiversityExploration:
			m.Exploration++
		case reco.SourceFallback:
			m.Fallback++
		default:
			m.Unknown++
		}
	}
	return m
}

// Total is the number of candidates counted.
func (m SourceMix) Total() int {
	return m.Collaborative + m.Content + m.Popularity + m.Exploration + m.Fallback + m.Unknown
}

// Personalized is the number of candidates built from the member's own
// signals, as opposed to popularity, exploration or fallback lists.
func (m SourceMix) Personalized() int {
	return m.Collaborative + m.Content
}
