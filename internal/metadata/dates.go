package metadata

import (
	"strings"
	"time"
)

// dateLayouts are tried in order, first match wins. Missing month or day
// default to the first. Unpadded months and full month names are accepted.
var dateLayouts = []string{
	"2006",
	"2006-01",
	"2006-1",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate converts a provider publication date to a calendar date in UTC.
// Empty or unrecognized input yields nil.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
