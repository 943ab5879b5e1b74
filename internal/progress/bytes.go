package progress

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	KiB = 1024
	MiB = KiB * 1024
	GiB = MiB * 1024
	TiB = GiB * 1024
)

// FormatBytes formats b with binary units, e.g. "1.5 KiB" or "256 MiB".
func FormatBytes(b int64) string {
	units := []struct {
		size int64
		name string
	}{
		{TiB, "TiB"},
		{GiB, "GiB"},
		{MiB, "MiB"},
		{KiB, "KiB"},
	}
	for _, u := range units {
		if b >= u.size {
			v := float64(b) / float64(u.size)
			if v >= 100 {
				return fmt.Sprintf("%.0f %s", v, u.name)
			}
			return fmt.Sprintf("%.1f %s", v, u.name)
		}
	}
	return fmt.Sprintf("%d B", b)
}

// ParseBytes parses a byte string such as "8MiB", "1.5 GiB" or "100MB".
// Binary suffixes (KiB, MiB, GiB, TiB) use powers of 1024, SI suffixes
// (KB, MB, GB, TB) powers of 1000.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	suffixes := []struct {
		suffix     string
		multiplier int64
	}{
		{"KiB", KiB}, {"MiB", MiB}, {"GiB", GiB}, {"TiB", TiB},
		{"KB", 1000}, {"MB", 1000 * 1000}, {"GB", 1000 * 1000 * 1000}, {"TB", 1000 * 1000 * 1000 * 1000},
		{"B", 1},
	}

	var multiplier int64 = 1
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			multiplier = sf.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, sf.suffix))
			break
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid byte string: %q", s)
	}
	return int64(value * float64(multiplier)), nil
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
