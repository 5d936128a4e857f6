package config

import (
	"fmt"
	"time"
)

// Date is a calendar date that accepts progressively less specific forms.
// "2020-03-15" is taken as-is; "2020-03" resolves to the first day of the
// month and "2020" to the first day of the year. The defaulting is part of
// the configuration contract, not an accident of parsing.
type Date struct {
	t time.Time
}

// dateLayouts lists accepted input layouts, most specific first.
var dateLayouts = []string{"2006-01-02", "2006-01", "2006"}

// NewDate builds a Date from year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date string, defaulting ambiguous forms to the first
// day of the stated period.
func ParseDate(s string) (Date, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{t: t}, nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD, YYYY-MM or YYYY", s)
}

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Time returns the date as a time.Time at midnight UTC.
func (d Date) Time() time.Time {
	return d.t
}

// Year returns the calendar year.
func (d Date) Year() int {
	return d.t.Year()
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

func (d Date) String() string {
	return d.t.Format("2006-01-02")
}
