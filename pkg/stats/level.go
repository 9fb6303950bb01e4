package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseLevel parses a quantile level written either as a percentile ("p95", "P99.9") or as a
// fraction ("0.95"). The result is in (0, 1].
func ParseLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantile level")
	}

	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		if math.IsNaN(percentile) || percentile <= 0 || percentile > 100 {
			return 0, fmt.Errorf("percentile %v out of range (0, 100]", percentile)
		}
		return percentile / 100, nil
	}

	q, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantile %q: %w", s, err)
	}
	if math.IsNaN(q) || q <= 0 || q > 1 {
		return 0, fmt.Errorf("quantile %v out of range (0, 1]", q)
	}
	return q, nil
}

// FormatLevel formats q in p-notation: 0.95 -> "p95", 0.999 -> "p99.9". The percentile is rounded
// to six decimals so 0.07 prints as "p7".
func FormatLevel(q float64) string {
	percentile := math.Round(q*100*1e6) / 1e6
	return "p" + strconv.FormatFloat(percentile, 'f', -1, 64)
}
