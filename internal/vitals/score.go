package vitals

import "vitals-service/internal/models"

// Score reduces a complete set of vitals to 0..100. Each of lcp, inp and cls
// deducts at most once, by the highest tier it crosses. fcp and ttfb are
// classification-only.
func Score(v models.Vitals) int {
	score := 100

	switch {
	case v.LCP > 4000:
		score -= 40
	case v.LCP > 2500:
		score -= 20
	case v.LCP > 2000:
		score -= 10
	}

	switch {
	case v.INP > 500:
		score -= 30
	case v.INP > 200:
		score -= 15
	}

	switch {
	case v.CLS > 0.25:
		score -= 30
	case v.CLS > 0.1:
		score -= 15
	}

	if score < 0 {
		return 0
	}
	return score
}
