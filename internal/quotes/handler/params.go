package handler

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/encoding/json"
	"tickflow.com/internal/quotes/datasource/model"
)

// Timestamp accepts RFC 3339 strings and unix seconds or milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		ts, err := parseTime(s)
		if err != nil {
			return err
		}
		t.Time = ts
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = model.NormalizeTs(f, true, time.Now())
	return nil
}

// parseTime reads an ISO 8601 instant or a numeric epoch. A value without a
// zone is taken as UTC.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return model.NormalizeTs(f, true, time.Now()), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}
