package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecordID identifies a history record. The API may send it as a number or a string.
type RecordID string

func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid record id %s: %w", data, err)
	}
	*id = RecordID(n.String())
	return nil
}

// HistoryRecord is a server-persisted past analysis as returned by GET /api/history.
type HistoryRecord struct {
	ID               RecordID                `json:"id"`
	Date             string                  `json:"date"`
	Score            float64                 `json:"score"`
	Severity         Severity                `json:"severity"`
	AcneCount        int                     `json:"acne_count"`
	Feedback         string                  `json:"feedback"`
	DetectionSummary Encoded[map[string]int] `json:"detection_summary"`
	SecondarySummary Encoded[map[string]int] `json:"secondary_summary"`
	Recommendations  Encoded[[]string]       `json:"recommendations"`
	ImagePath        string                  `json:"image_path"`
}

// FromHistory reconstructs the Result a record was created from. Summaries
// that arrived as encoded strings were already decoded by Encoded, so both
// wire shapes produce the same Result.
func FromHistory(rec HistoryRecord) Result {
	return Result{
		Score:               rec.Score,
		Severity:            rec.Severity,
		AcneCount:           rec.AcneCount,
		Detections:          rec.DetectionSummary.Value,
		SecondaryDetections: rec.SecondarySummary.Value,
		SecondaryTriggered:  len(rec.SecondarySummary.Value) > 0,
		Feedback:            rec.Feedback,
		Recommendations:     rec.Recommendations.Value,
		AnnotatedImageRef:   rec.ImagePath,
		Timestamp:           rec.Date,
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses the ISO-ish timestamps the API emits. Naive timestamps are
// taken as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
