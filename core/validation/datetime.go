package validation

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidDate is returned for strings that are not RFC 3339 date-times
// with or without a zone.
var ErrInvalidDate = errors.New("invalid date-time")

// Layout of date-time values without a zone, as stored for site-local dates.
const LocalLayout = "2006-01-02T15:04:05"

var zonedLayouts = []string{time.RFC3339Nano, time.RFC3339}

var localLayouts = []string{"2006-01-02T15:04:05.999999999", LocalLayout, "2006-01-02 15:04:05"}

// ParseDateTime parses an RFC 3339 date-time. hasZone is false when the
// string carries no offset; the returned time is then in UTC.
func ParseDateTime(s string) (t time.Time, hasZone bool, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, ErrInvalidDate
}

// HasZone reports whether s is a date-time with an explicit offset or Z.
func HasZone(s string) bool {
	_, zoned, err := ParseDateTime(s)
	return err == nil && zoned
}
