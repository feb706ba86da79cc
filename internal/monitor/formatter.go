package monitor

import (
	"strconv"
	"time"
)

// FormatCount renders n of total as "n/total".
func FormatCount(n, total int) string {
	return strconv.Itoa(n) + "/" + strconv.Itoa(total)
}

// FormatValue renders an optional measurement with six significant digits.
func FormatValue(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'g', 6, 64)
}

// FormatVersion renders a workspace version as "vN".
func FormatVersion(v uint64) string {
	return "v" + strconv.FormatUint(v, 10)
}

// FormatPercentage renders a ratio in [0, 1] with one decimal.
func FormatPercentage(r float64) string {
	return strconv.FormatFloat(r*100, 'f', 1, 64) + "%"
}

// FormatDuration renders how long the dashboard has been open, at the
// coarsest useful unit: "2h15m", "5m" or "42s".
func FormatDuration(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d >= time.Hour:
		return strconv.Itoa(int(d/time.Hour)) + "h" + strconv.Itoa(int(d%time.Hour/time.Minute)) + "m"
	case d >= time.Minute:
		return strconv.Itoa(int(d/time.Minute)) + "m"
	default:
		return strconv.FormatInt(seconds, 10) + "s"
	}
}

func ratio(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return min(float64(n)/float64(total), 1)
}
