package gating

import (
	"fmt"
	"strings"
)

// pluralUnit renders a display unit for a quantity other than one.
func pluralUnit(unit string) string {
	switch {
	case unit == "":
		return "units"
	case strings.HasSuffix(unit, "s"):
		return unit
	case strings.HasSuffix(unit, "ch"), strings.HasSuffix(unit, "sh"), strings.HasSuffix(unit, "x"), strings.HasSuffix(unit, "z"):
		return unit + "es"
	default:
		return unit + "s"
	}
}

func blockedReason(shortfall float64, unit string, threshold float64) string {
	return fmt.Sprintf("Would exceed quota by %.2f %s (max overage: %.0f%%)", shortfall, pluralUnit(unit), threshold*100)
}

func unknownServiceReason(service fmt.Stringer) string {
	return fmt.Sprintf("Unknown service: %s", service)
}

const invalidAmountReason = "Invalid amount: must be a finite, non-negative number"
