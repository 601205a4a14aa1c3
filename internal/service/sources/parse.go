package sources

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseValue parses a numeric payload. Empty strings and the "." missing
// observation marker are rejected instead of being read as zero.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return 0, fmt.Errorf("%w: missing observation %q", ErrInvalidValue, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidValue, s, err)
	}
	v := d.InexactFloat64()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	return v, nil
}

// CheckFinite rejects NaN and infinite readings.
func CheckFinite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidValue, v)
	}
	return nil
}
