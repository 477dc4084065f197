package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/rental-broker/internal/slots"
)

// timeLayout is fixed width so stored values sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(column, raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	return t, nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(column string, raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	t, err := parseTime(column, raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode string list: %w", err)
	}
	return string(raw), nil
}

func decodeStrings(column, raw string) ([]string, error) {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", column, err)
	}
	return values, nil
}

type slotRecord struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func encodeSlots(proposed []slots.Slot) (string, error) {
	records := make([]slotRecord, len(proposed))
	for i, slot := range proposed {
		records[i] = slotRecord{Start: formatTime(slot.Start), End: formatTime(slot.End)}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode proposed slots: %w", err)
	}
	return string(raw), nil
}

func decodeSlots(raw string) ([]slots.Slot, error) {
	var records []slotRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("failed to decode proposed_slots: %w", err)
	}
	out := make([]slots.Slot, len(records))
	for i, record := range records {
		start, err := parseTime("proposed_slots.start", record.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseTime("proposed_slots.end", record.End)
		if err != nil {
			return nil, err
		}
		out[i] = slots.Slot{Start: start, End: end}
	}
	return out, nil
}
