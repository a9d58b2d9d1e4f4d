package monitor

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// notAvailable stands in for values that cannot be rendered.
const notAvailable = "n/a"

// FormatUSD renders v as "$1,234.56". NaN and infinities render as "n/a".
func FormatUSD(v float64) string {
	if !finite(v) {
		return notAvailable
	}
	return FormatDecimalUSD(decimal.NewFromFloat(v))
}

// FormatDecimalUSD renders v rounded to cents with thousands separators.
func FormatDecimalUSD(v decimal.Decimal) string {
	s := v.StringFixed(2)
	if strings.HasPrefix(s, "-") {
		return "-$" + addCommas(s[1:])
	}
	return "$" + addCommas(s)
}

// FormatChange describes the move from prev to curr, e.g. "+$1,000.00 (+2.50%)".
// It returns "" when prev is not positive, and "n/a" when either value or
// the difference is not finite.
func FormatChange(curr, prev float64) string {
	if prev <= 0 {
		return ""
	}
	if !finite(curr) || !finite(prev) || !finite(curr-prev) {
		return notAvailable
	}
	diff := curr - prev
	pct := diff / prev * 100
	sign := "+"
	if diff < 0 {
		sign = "-"
		diff = -diff
	}
	return fmt.Sprintf("%s%s (%s%.2f%%)", sign, FormatUSD(diff), signOf(pct), pct)
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

func signOf(v float64) string {
	if v < 0 {
		return ""
	}
	return "+"
}

func addCommas(s string) string {
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	if n <= 3 {
		if len(parts) == 2 {
			return intPart + "." + parts[1]
		}
		return intPart
	}
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if len(parts) == 2 {
		return string(result) + "." + parts[1]
	}
	return string(result)
}
