package vitals

import (
	"fmt"
	"strings"

	"vitals-service/internal/models"
)

// Kind names one of the five Core Web Vitals.
type Kind string

const (
	LCP  Kind = "lcp"
	INP  Kind = "inp"
	CLS  Kind = "cls"
	FCP  Kind = "fcp"
	TTFB Kind = "ttfb"
)

// Kinds lists every vital in canonical order.
var Kinds = []Kind{LCP, INP, CLS, FCP, TTFB}

// ParseKind accepts names as reported by browsers ("LCP", "ttfb", ...).
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown vital %q", name)
}

// Value returns the reading for k from v.
func Value(v models.Vitals, k Kind) float64 {
	switch k {
	case LCP:
		return v.LCP
	case INP:
		return v.INP
	case CLS:
		return v.CLS
	case FCP:
		return v.FCP
	case TTFB:
		return v.TTFB
	}
	return 0
}

// Set stores value under k in v.
func Set(v *models.Vitals, k Kind, value float64) {
	switch k {
	case LCP:
		v.LCP = value
	case INP:
		v.INP = value
	case CLS:
		v.CLS = value
	case FCP:
		v.FCP = value
	case TTFB:
		v.TTFB = value
	}
}
