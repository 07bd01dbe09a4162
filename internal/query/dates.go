package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeDate = regexp.MustCompile(`^([+-])(\d{1,4})([hdwmyHDWMY])$`)

var (
	dateOnlyLayouts  = []string{"2006-01-02"}
	timestampLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
)

// parseDate reads absolute dates, timestamps and relative offsets such as
// "+2d" or "-1y" (h offsets keep the time of day, every other unit yields a
// date). Inputs without a zone are read in loc. dateOnly reports whether
// the value names a whole day.
func parseDate(v string, loc *time.Location, now time.Time) (t time.Time, dateOnly, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, false
	}
	if loc == nil {
		loc = time.UTC
	}

	if m := relativeDate.FindStringSubmatch(v); m != nil {
		n, _ := strconv.Atoi(m[2])
		if m[1] == "-" {
			n = -n
		}
		local := now.In(loc)
		switch strings.ToLower(m[3]) {
		case "h":
			t = local.Add(time.Duration(n) * time.Hour)
		case "d":
			t = startOfDay(local).AddDate(0, 0, n)
			dateOnly = true
		case "w":
			t = startOfDay(local).AddDate(0, 0, 7*n)
			dateOnly = true
		case "m":
			t = startOfDay(local).AddDate(0, n, 0)
			dateOnly = true
		case "y":
			t = startOfDay(local).AddDate(n, 0, 0)
			dateOnly = true
		}
		if t.Year() < 1 || t.Year() > 9999 {
			return time.Time{}, false, false
		}
		return t, dateOnly, true
	}

	if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return parsed, false, true
	}
	for _, layout := range dateOnlyLayouts {
		if parsed, err := time.ParseInLocation(layout, v, loc); err == nil {
			return parsed, true, true
		}
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, v, loc); err == nil {
			return parsed, false, true
		}
	}
	return time.Time{}, false, false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Location returns the zone of a client whose clock is offset minutes
// behind UTC, the way browsers report getTimezoneOffset.
func Location(offsetMinutes int) *time.Location {
	if offsetMinutes == 0 {
		return time.UTC
	}
	return time.FixedZone("", -offsetMinutes*60)
}
