package vitals

import "vitals-service/internal/models"

// Rating is the tier a single reading falls in.
type Rating string

const (
	Good             Rating = "good"
	NeedsImprovement Rating = "needsImprovement"
	Poor             Rating = "poor"
)

// Thresholds are inclusive upper bounds; anything above NeedsImprovement is poor.
type Thresholds struct {
	Good             float64 `json:"good"`
	NeedsImprovement float64 `json:"needsImprovement"`
}

var table = map[Kind]Thresholds{
	LCP:  {Good: 2500, NeedsImprovement: 4000},
	INP:  {Good: 200, NeedsImprovement: 500},
	CLS:  {Good: 0.1, NeedsImprovement: 0.25},
	FCP:  {Good: 1800, NeedsImprovement: 3000},
	TTFB: {Good: 800, NeedsImprovement: 1800},
}

func ThresholdsFor(k Kind) (Thresholds, bool) {
	t, ok := table[k]
	return t, ok
}

// Table returns a copy of the threshold table.
func Table() map[Kind]Thresholds {
	out := make(map[Kind]Thresholds, len(table))
	for k, t := range table {
		out[k] = t
	}
	return out
}

// Classify resolves ties to the better tier.
func Classify(value float64, t Thresholds) Rating {
	if value <= t.Good {
		return Good
	}
	if value <= t.NeedsImprovement {
		return NeedsImprovement
	}
	return Poor
}

// Rate classifies value against the table entry for k. Unknown kinds rate as poor.
func Rate(k Kind, value float64) Rating {
	t, ok := table[k]
	if !ok {
		return Poor
	}
	return Classify(value, t)
}

func RateAll(v models.Vitals) map[Kind]Rating {
	out := make(map[Kind]Rating, len(Kinds))
	for _, k := range Kinds {
		out[k] = Rate(k, Value(v, k))
	}
	return out
}
