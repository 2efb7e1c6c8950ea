package analysis

import (
	"sort"
	"strings"
)

// Tier buckets a score for coloring.
type Tier int

const (
	TierTop Tier = iota
	TierSecond
	TierThird
	TierLowest
)

// ScoreTier maps a score to its tier: ≥85 top, ≥70 second, ≥50 third, else lowest.
func ScoreTier(score float64) Tier {
	switch {
	case score >= 85:
		return TierTop
	case score >= 70:
		return TierSecond
	case score >= 50:
		return TierThird
	default:
		return TierLowest
	}
}

func (t Tier) String() string {
	switch t {
	case TierTop:
		return "top"
	case TierSecond:
		return "second"
	case TierThird:
		return "third"
	case TierLowest:
		return "lowest"
	default:
		return "unknown"
	}
}

// Color is the display color of the tier.
func (t Tier) Color() string {
	switch t {
	case TierTop:
		return "green"
	case TierSecond:
		return "lime"
	case TierThird:
		return "yellow"
	default:
		return "orange"
	}
}

// Detection is one merged condition label with its total count.
type Detection struct {
	Label string
	Count int
}

// DisplayLabel renders the label with underscores as spaces.
func (d Detection) DisplayLabel() string {
	return strings.ReplaceAll(d.Label, "_", " ")
}

// Description returns a short explanation of the condition.
func (d Detection) Description() string {
	return DescribeCondition(d.Label)
}

// MergeDetections sums primary and secondary counts by label. The result is
// ordered by count, highest first, ties by label. An empty result means the
// "no concerns" state.
func MergeDetections(primary, secondary map[string]int) []Detection {
	totals := make(map[string]int, len(primary)+len(secondary))
	for label, count := range primary {
		totals[label] += count
	}
	for label, count := range secondary {
		totals[label] += count
	}

	merged := make([]Detection, 0, len(totals))
	for label, count := range totals {
		merged = append(merged, Detection{Label: label, Count: count})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Count != merged[j].Count {
			return merged[i].Count > merged[j].Count
		}
		return merged[i].Label < merged[j].Label
	})
	return merged
}

var conditionDescriptions = map[string]string{
	"Pimples":             "Inflamed, raised bumps on the skin",
	"Acne":                "General inflammatory acne",
	"acne":                "General inflammatory acne",
	"blackhead":           "Open comedones with oxidized sebum",
	"whitehead":           "Closed comedones under the skin",
	"cystic":              "Deep, painful acne lesions",
	"acne_scars":          "Post-inflammatory marks or indentations",
	"papular":             "Small, raised, red bumps",
	"purulent":            "Pus-filled inflammatory lesions",
	"conglobata":          "Severe form of acne with interconnected lesions",
	"folliculitis":        "Inflamed hair follicles",
	"milium":              "Small, white bumps (keratin cysts)",
	"keloid":              "Raised scar tissue",
	"flat_wart":           "Flat, smooth growths",
	"syringoma":           "Small, benign sweat duct tumors",
	"crystalline":         "Clear, fluid-filled bumps",
	"sebo-crystan-conglo": "Complex sebaceous condition",
	"melasma":             "Brown or gray-brown patches of hyperpigmentation",
	"Melasma":             "Brown or gray-brown patches of hyperpigmentation",
	"rosacea":             "Redness and visible blood vessels",
	"Rosacea":             "Redness and visible blood vessels",
}

// DescribeCondition looks up a condition label.
func DescribeCondition(label string) string {
	if d, ok := conditionDescriptions[label]; ok {
		return d
	}
	return "Detected skin condition"
}
