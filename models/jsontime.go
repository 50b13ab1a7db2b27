package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONTime wraps time.Time so we can control both
// JSON un/marshaling and SQL driver encoding.
// Mobile clients send RFC3339 with or without fractional seconds.
type JSONTime time.Time

func (jt *JSONTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*jt = JSONTime(t)
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		*jt = JSONTime(t)
		return nil
	}

	// no timezone suffix, fractional seconds optional
	const layoutNoZone = "2006-01-02T15:04:05.999999"
	t, err := time.Parse(layoutNoZone, s)
	if err != nil {
		return fmt.Errorf("JSONTime.UnmarshalJSON: cannot parse %q: %w", s, err)
	}
	*jt = JSONTime(t)
	return nil
}

// MarshalJSON always emits full RFC3339 ("...Z").
func (jt JSONTime) MarshalJSON() ([]byte, error) {
	t := time.Time(jt)
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// Value implements driver.Valuer so GORM/pgx can
// turn JSONTime into a SQL TIMESTAMPTZ parameter.
func (jt JSONTime) Value() (driver.Value, error) {
	return time.Time(jt), nil
}

// Scan implements sql.Scanner so GORM can read
// TIMESTAMPTZ back into JSONTime when querying.
func (jt *JSONTime) Scan(src interface{}) error {
	if src == nil {
		*jt = JSONTime(time.Time{})
		return nil
	}

	switch v := src.(type) {
	case time.Time:
		*jt = JSONTime(v)
		return nil
	case []byte:
		t, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return fmt.Errorf("JSONTime.Scan: parse %q: %w", string(v), err)
		}
		*jt = JSONTime(t)
		return nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("JSONTime.Scan: parse %q: %w", v, err)
		}
		*jt = JSONTime(t)
		return nil
	default:
		return fmt.Errorf("JSONTime.Scan: unsupported type %T", src)
	}
}

// Time returns the wrapped time.Time.
func (jt JSONTime) Time() time.Time {
	return time.Time(jt)
}
