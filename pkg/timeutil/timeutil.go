// Package timeutil parses and formats the durations and instants shown to
// chat users. Durations accept day and week units on top of what
// time.ParseDuration understands, e.g. "1w", "3d12h", "90m".
// No external dependencies - uses only standard library.
package timeutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Layout is the layout used for absolute timestamps in replies.
const Layout = "2006-01-02 15:04 MST"

// ErrInvalidDuration is returned for unparsable or non-positive durations.
var ErrInvalidDuration = errors.New("timeutil: invalid duration")

// ParseDuration parses a positive duration. Units are w, d, h, m and s; a
// bare number is read as hours.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, ErrInvalidDuration
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return positive(time.Duration(n) * time.Hour)
	}

	var total time.Duration
	rest := s
	for rest != "" {
		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		value, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}

		unit, ok := unitOf(rest[i])
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidDuration, s)
		}
		total += time.Duration(value * float64(unit))
		rest = rest[i+1:]
	}
	return positive(total)
}

func unitOf(c byte) (time.Duration, bool) {
	switch c {
	case 'w':
		return Week, true
	case 'd':
		return Day, true
	case 'h':
		return time.Hour, true
	case 'm':
		return time.Minute, true
	case 's':
		return time.Second, true
	}
	return 0, false
}

func positive(d time.Duration) (time.Duration, error) {
	if d <= 0 {
		return 0, ErrInvalidDuration
	}
	return d, nil
}

// FormatDuration renders d with the largest units first, dropping zero parts
// and anything below a second, e.g. "1d2h", "45m", "0s".
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Truncate(time.Second)

	var b strings.Builder
	for _, u := range []struct {
		size time.Duration
		name string
	}{{Day, "d"}, {time.Hour, "h"}, {time.Minute, "m"}, {time.Second, "s"}} {
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.name)
			d -= n * u.size
		}
	}
	return b.String()
}

// FormatRemaining describes how long until t, or "expired" once it passed.
func FormatRemaining(t, now time.Time) string {
	if !t.After(now) {
		return "expired"
	}
	return FormatDuration(t.Sub(now)) + " left"
}

// FormatInstant renders t in UTC with Layout.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(Layout)
}
