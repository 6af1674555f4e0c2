package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Timestamp decodes any of the time representations produced by the remote
// layer into a UTC time.Time. It is only used at decode boundaries; domain
// values always carry plain time.Time.
type Timestamp struct {
	time.Time
}

// millisThreshold separates unix seconds from unix milliseconds. Seconds
// values above it would lie past the year 5138.
const millisThreshold = 1e11

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	case '{':
		var obj struct {
			Seconds     *float64 `json:"_seconds"`
			Nanoseconds float64  `json:"_nanoseconds"`
			Secs        *float64 `json:"seconds"`
			Nanos       float64  `json:"nanos"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		switch {
		case obj.Seconds != nil:
			t.Time = time.Unix(int64(*obj.Seconds), int64(obj.Nanoseconds)).UTC()
		case obj.Secs != nil:
			t.Time = time.Unix(int64(*obj.Secs), int64(obj.Nanos)).UTC()
		default:
			return fmt.Errorf("timestamp object without seconds: %s", data)
		}
		return nil
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("timestamp %s: %w", data, err)
		}
		t.Time = fromUnixNumber(f)
		return nil
	}
}

// MarshalJSON renders the canonical RFC 3339 form, or null for the zero time.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ParseTimestamp converts a string timestamp into UTC. Numeric strings are
// treated as unix seconds or milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromUnixNumber(f), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func fromUnixNumber(f float64) time.Time {
	if math.Abs(f) >= millisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func timePtr(ts Timestamp) *time.Time {
	if ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}
