package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/cuongbtq/sof-extractor/internal/domain"
)

// extractionResponse is the pipeline's reply to both extraction endpoints
type extractionResponse struct {
	Events  []map[string]any `json:"events"`
	Summary map[string]any   `json:"summary"`
}

type laytimeRequest struct {
	Summary domain.Summary `json:"summary"`
	Events  []domain.Event `json:"events"`
}

type laytimeResponse struct {
	AllowedDays  float64          `json:"laytime_allowed_days"`
	ConsumedDays float64          `json:"laytime_consumed_days"`
	SavedDays    float64          `json:"laytime_saved_days"`
	DemurrageDue float64          `json:"demurrage_due"`
	DispatchDue  float64          `json:"dispatch_due"`
	Log          []string         `json:"calculation_log"`
	Events       []map[string]any `json:"events_with_calculations"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func decodeJSON(body []byte, dest any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(dest)
}

// decodeEvents turns raw pipeline rows into events, parsing timestamp fields
func decodeEvents(rows []map[string]any) []domain.Event {
	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		e := make(domain.Event, len(row))
		for k, v := range row {
			e[k] = decodeField(k, v)
		}
		events = append(events, e)
	}
	return events
}

func decodeSummary(raw map[string]any) domain.Summary {
	if len(raw) == 0 {
		return nil
	}
	s := make(domain.Summary, len(raw))
	for k, v := range raw {
		s[k] = domain.ValueOf(v)
	}
	return s
}

func decodeField(name string, v any) domain.Value {
	s, ok := v.(string)
	if !ok || s == "" || !isTimestampField(name) {
		return domain.ValueOf(v)
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return domain.StringValue(s)
	}
	return domain.TimeValue(t)
}

// isTimestampField reports whether the pipeline emits timestamps under this name
func isTimestampField(name string) bool {
	lower := strings.ToLower(name)
	switch lower {
	case "start", "end":
		return true
	}
	return strings.HasSuffix(lower, "_iso") ||
		strings.HasSuffix(lower, "_time") ||
		strings.HasSuffix(lower, "_at")
}

func errorMessage(status int, body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Detail != "" {
			return fmt.Sprintf("status %d: %s", status, er.Detail)
		}
		if er.Error != "" {
			return fmt.Sprintf("status %d: %s", status, er.Error)
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256]
	}
	return fmt.Sprintf("status %d: %s", status, text)
}
