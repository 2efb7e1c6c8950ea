// Package analysis defines the normalized skin analysis result and the rules
// used to display it.
package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Severity is the overall severity bucket reported by the analysis API.
type Severity string

const (
	SeverityClear    Severity = "clear"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Tone returns the badge color used for a severity.
func (s Severity) Tone() string {
	switch s {
	case SeverityClear:
		return "green"
	case SeverityMild:
		return "yellow"
	case SeverityModerate:
		return "orange"
	case SeveritySevere:
		return "red"
	default:
		return "gray"
	}
}

// Result is an immutable, normalized analysis outcome. It is built either from
// a fresh analyze response (Decode) or from a history record (FromHistory).
type Result struct {
	Score               float64
	Severity            Severity
	AcneCount           int
	Detections          map[string]int
	SecondaryDetections map[string]int
	SecondaryTriggered  bool
	Feedback            string
	Recommendations     []string
	AnnotatedImageRef   string
	Timestamp           string
}

// DisplayScore formats the score without a trailing ".0".
func (r Result) DisplayScore() string {
	return strconv.FormatFloat(r.Score, 'f', -1, 64)
}

// ScorePercent clamps the score into 0–100 for progress bars.
func (r Result) ScorePercent() float64 {
	switch {
	case r.Score < 0:
		return 0
	case r.Score > 100:
		return 100
	default:
		return r.Score
	}
}

// Tier is the score tier of the result.
func (r Result) Tier() Tier {
	return ScoreTier(r.Score)
}

// MergedDetections merges primary and secondary detections, see MergeDetections.
func (r Result) MergedDetections() []Detection {
	return MergeDetections(r.Detections, r.SecondaryDetections)
}

// wireResult is the analyze endpoint's response body.
type wireResult struct {
	AcneCount                  int                     `json:"acne_count"`
	SkinScore                  *float64                `json:"skin_score"`
	CombinedScore              *float64                `json:"combined_score"`
	Severity                   Severity                `json:"severity"`
	Feedback                   string                  `json:"feedback"`
	Recommendations            Encoded[[]string]       `json:"recommendations"`
	DetectionSummary           Encoded[map[string]int] `json:"detection_summary"`
	SecondarySummary           Encoded[map[string]int] `json:"secondary_summary"`
	SecondaryAnalysisTriggered *bool                   `json:"secondary_analysis_triggered"`
	AnnotatedImageURL          string                  `json:"annotated_image_url"`
	Timestamp                  string                  `json:"timestamp"`
}

// Decode parses an analyze response body into a Result.
func Decode(body []byte) (Result, error) {
	var w wireResult
	if err := json.Unmarshal(body, &w); err != nil {
		return Result{}, fmt.Errorf("failed to decode analysis result: %w", err)
	}

	// combined_score wins over skin_score when the secondary model ran
	var score float64
	if w.CombinedScore != nil {
		score = *w.CombinedScore
	} else if w.SkinScore != nil {
		score = *w.SkinScore
	}

	secondaryTriggered := len(w.SecondarySummary.Value) > 0
	if w.SecondaryAnalysisTriggered != nil {
		secondaryTriggered = *w.SecondaryAnalysisTriggered
	}

	return Result{
		Score:               score,
		Severity:            w.Severity,
		AcneCount:           w.AcneCount,
		Detections:          w.DetectionSummary.Value,
		SecondaryDetections: w.SecondarySummary.Value,
		SecondaryTriggered:  secondaryTriggered,
		Feedback:            w.Feedback,
		Recommendations:     w.Recommendations.Value,
		AnnotatedImageRef:   w.AnnotatedImageURL,
		Timestamp:           w.Timestamp,
	}, nil
}

// Encoded is a JSON field that arrives either as a value or as a string holding
// that value's JSON encoding. Both forms decode into Value; null and "" leave
// Value at its zero value.
type Encoded[T any] struct {
	Value T
}

func (e *Encoded[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = bytes.TrimSpace([]byte(s))
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			return nil
		}
	}
	if err := json.Unmarshal(data, &e.Value); err != nil {
		return fmt.Errorf("failed to decode encoded field: %w", err)
	}
	return nil
}

func (e Encoded[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Value)
}
