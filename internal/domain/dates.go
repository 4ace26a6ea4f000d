package domain

import (
	"fmt"
	"strings"
	"time"
)

// Dates cross module boundaries in two spellings, YYYYMMDD and YYYY-MM-DD.
// Everything internal uses the compact form: it sorts chronologically as a
// plain string, which the presence matrix and gap detector rely on.

const (
	compactLayout = "20060102"
	dashedLayout  = "2006-01-02"
)

// NormalizeDate converts a date in either accepted spelling to the canonical
// compact form. It returns an error for anything that does not parse as a
// real calendar date.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	switch len(s) {
	case len(compactLayout):
		t, err := time.Parse(compactLayout, s)
		if err != nil {
			return "", fmt.Errorf("invalid date %q: %w", s, err)
		}
		return t.Format(compactLayout), nil
	case len(dashedLayout):
		t, err := time.Parse(dashedLayout, s)
		if err != nil {
			return "", fmt.Errorf("invalid date %q: %w", s, err)
		}
		return t.Format(compactLayout), nil
	default:
		return "", fmt.Errorf("invalid date %q: want YYYYMMDD or YYYY-MM-DD", s)
	}
}

// NormalizeRange normalizes both ends of a range and checks ordering.
func NormalizeRange(start, end string) (DateRange, error) {
	s, err := NormalizeDate(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := NormalizeDate(end)
	if err != nil {
		return DateRange{}, err
	}
	if s > e {
		return DateRange{}, fmt.Errorf("invalid range: start %s after end %s", s, e)
	}
	return DateRange{Start: s, End: e}, nil
}

// DashDate renders a canonical date in the dashed spelling for display.
func DashDate(canonical string) string {
	if len(canonical) != len(compactLayout) {
		return canonical
	}
	return canonical[:4] + "-" + canonical[4:6] + "-" + canonical[6:]
}

// Today returns the current date in canonical form.
func Today() string {
	return time.Now().Format(compactLayout)
}
