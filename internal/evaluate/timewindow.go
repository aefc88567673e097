// Package evaluate contains the pure evaluators gating assignments at
// decision time: time windows and runtime conditions.
package evaluate

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/timeax/fortiplugin/internal/permission"
)

// ISO-8601 duration approximations. Years and months have no fixed
// length; grants use calendar-flavored values, so 365/30 days keeps the
// window predictable.
const (
	daysPerYear  = 365
	daysPerMonth = 30
	daysPerWeek  = 7
)

var isoDuration = regexp.MustCompile(
	`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// WindowActive reports whether an assignment's time window admits the
// given instant. A nil or unlimited window is always active. Malformed
// instants, unknown kinds, missing TTL starts, and unparsable durations
// all fail closed (inactive).
func WindowActive(w *permission.TimeWindow, startedAt time.Time, now time.Time) bool {
	if w == nil || !w.Limited {
		return true
	}
	switch w.Kind {
	case permission.WindowUntil:
		until, err := time.Parse(time.RFC3339, w.Value)
		if err != nil {
			return false
		}
		return !now.After(until)
	case permission.WindowTTL:
		if startedAt.IsZero() {
			return false
		}
		d, err := ParseTTL(w.Value)
		if err != nil {
			return false
		}
		return !now.After(startedAt.Add(d))
	}
	return false
}

// ParseTTL parses a TTL value: a raw integer number of seconds, or an
// ISO-8601 duration (PnYnMnWnDTnHnMnS) with years/months approximated at
// 365/30 days.
func ParseTTL(value string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative ttl %q", value)
		}
		return time.Duration(secs) * time.Second, nil
	}

	m := isoDuration.FindStringSubmatch(value)
	if m == nil || value == "P" || value == "PT" {
		return 0, fmt.Errorf("unparsable ttl %q", value)
	}
	var d time.Duration
	add := func(s string, unit time.Duration) {
		if s == "" {
			return
		}
		n, _ := strconv.ParseInt(s, 10, 64)
		d += time.Duration(n) * unit
	}
	add(m[1], daysPerYear*24*time.Hour)
	add(m[2], daysPerMonth*24*time.Hour)
	add(m[3], daysPerWeek*24*time.Hour)
	add(m[4], 24*time.Hour)
	add(m[5], time.Hour)
	add(m[6], time.Minute)
	if m[7] != "" {
		secs, _ := strconv.ParseFloat(m[7], 64)
		d += time.Duration(secs * float64(time.Second))
	}
	return d, nil
}
