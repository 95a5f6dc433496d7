package capability

import "strings"

// KeywordScore computes a [0,1] relevance score for a request against a set
// of keywords. Whole-word matches count double a substring match, so "photo"
// in "take a photo" outranks "photo" inside "photosynthesis". Most built-in
// capabilities implement RelevanceScore with this helper.
func KeywordScore(request string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	text := strings.ToLower(request)
	words := make(map[string]bool)
	for _, w := range strings.Fields(text) {
		words[strings.Trim(w, ".,!?:;\"'")] = true
	}

	score := 0.0
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		switch {
		case words[kw]:
			score += 1.0
		case strings.Contains(text, kw):
			score += 0.5
		}
	}

	// Normalize against a soft cap: two strong keyword hits saturate the
	// score so verbose capability keyword lists don't dilute matches.
	normalized := score / 2.0
	if normalized > 1 {
		normalized = 1
	}
	return normalized
}
