package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hostsentry/internal/model"
)

type wireEvent struct {
	EventID      string            `json:"event_id"`
	Host         string            `json:"host"`
	Source       string            `json:"source"`
	Category     string            `json:"category"`
	Action       string            `json:"action"`
	Severity     int               `json:"severity"`
	TimestampUTC string            `json:"timestamp_utc"`
	User         string            `json:"user"`
	SrcIP        string            `json:"src_ip"`
	DestIP       string            `json:"dest_ip"`
	ProcessName  string            `json:"process_name"`
	Attributes   map[string]string `json:"attributes"`
}

// ParseEvent decodes and validates one wire event. Timestamps tolerate the
// common layouts agents actually send, normalized to UTC.
func ParseEvent(data []byte) (model.EventRecord, error) {
	var w wireEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return model.EventRecord{}, fmt.Errorf("decode event: %w", err)
	}
	ts, err := ParseTimestamp(w.TimestampUTC)
	if err != nil {
		return model.EventRecord{}, err
	}
	ev := model.EventRecord{
		EventID:      strings.TrimSpace(w.EventID),
		Host:         strings.TrimSpace(w.Host),
		Source:       strings.TrimSpace(w.Source),
		Category:     strings.TrimSpace(w.Category),
		Action:       strings.TrimSpace(w.Action),
		Severity:     w.Severity,
		TimestampUTC: ts,
		User:         strings.TrimSpace(w.User),
		SrcIP:        strings.TrimSpace(w.SrcIP),
		DestIP:       strings.TrimSpace(w.DestIP),
		ProcessName:  strings.TrimSpace(w.ProcessName),
		Attributes:   w.Attributes,
	}
	if err := ValidateEvent(ev); err != nil {
		return model.EventRecord{}, err
	}
	return ev, nil
}

func ValidateEvent(ev model.EventRecord) error {
	if len(ev.EventID) < 8 || len(ev.EventID) > 128 {
		return errors.New("event_id must be 8..128 characters")
	}
	if ev.Host == "" || len(ev.Host) > 255 {
		return errors.New("host is required and at most 255 characters")
	}
	if ev.Source == "" {
		return errors.New("source is required")
	}
	if ev.Category == "" {
		return errors.New("category is required")
	}
	if ev.Action == "" {
		return errors.New("action is required")
	}
	if ev.Severity < 0 || ev.Severity > 10 {
		return fmt.Errorf("severity %d outside 0..10", ev.Severity)
	}
	if ev.TimestampUTC.IsZero() {
		return errors.New("timestamp_utc is required")
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
