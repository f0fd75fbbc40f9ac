package quality

import "strings"

// DefaultVocabulary is the domain wording an explanation is expected to use.
var DefaultVocabulary = []string{
	"purchase", "bought", "prefer", "favorite", "favourite", "spend",
	"brand", "category", "similar", "suit", "recommend", "choice",
	"health", "beauty",
	"購買", "偏好", "喜愛", "消費", "品牌", "類別",
	"相似", "適合", "推薦", "選擇", "健康", "美容",
}

func normalizeVocabulary(words []string) []string {
	out := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func explainabilityParts(in *inputs, vocabulary []string) []part {
	n := float64(len(in.candidates))

	var complete int
	var wording float64
	distinct := make(map[string]struct{})
	for _, c := range in.candidates {
		text := strings.TrimSpace(c.Explanation)
		if text == "" {
			continue
		}
		complete++
		distinct[text] = struct{}{}
		wording += keywordScore(strings.ToLower(text), vocabulary)
	}

	return []part{
		{name: "completeness", weight: 0.4, value: float64(complete) / n},
		{name: "wording_relevance", weight: 0.4, value: wording / n},
		{name: "wording_diversity", weight: 0.2, value: float64(len(distinct)) / n},
	}
}

// keywordScore is 0 with no vocabulary hit, 0.5 with one, 1 with two or more.
func keywordScore(text string, vocabulary []string) float64 {
	hits := 0
	for _, w := range vocabulary {
		if strings.Contains(text, w) {
			hits++
			if hits == 2 {
				return 1
			}
		}
	}
	return 0.5 * float64(hits)
}
