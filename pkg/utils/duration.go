package utils

import (
	"strconv"
	"strings"
	"time"
)

var durationUnits = []struct {
	suffix string
	size   time.Duration
}{
	{"w", 7 * 24 * time.Hour},
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

// FormatShortDuration renders d in the query duration syntax, keeping the two largest units.
// Durations under a second render as "0s".
func FormatShortDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}

	var b strings.Builder

	parts := 0
	for _, unit := range durationUnits {
		if parts == 2 {
			break
		}

		n := d / unit.size
		if n == 0 {
			if parts > 0 {
				break
			}

			continue
		}

		b.WriteString(strconv.FormatInt(int64(n), 10))
		b.WriteString(unit.suffix)

		d -= n * unit.size
		parts++
	}

	return b.String()
}
