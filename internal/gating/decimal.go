package gating

import (
	"math"

	"github.com/cockroachdb/apd/v3"
)

// Quota and money arithmetic runs in decimal so that incremental charges
// sum to the same total as a single combined charge. Results are quantized
// to quantScale decimal places before they are converted back to float64.
var decimalCtx = apd.BaseContext.WithPrecision(34)

const quantScale = -10

func toDecimal(v float64) apd.Decimal {
	var d apd.Decimal
	if _, err := d.SetFloat64(v); err != nil {
		d.SetInt64(0)
	}
	return d
}

// quantize rounds d in place. Values too large for the scale are left as is.
func quantize(d *apd.Decimal) {
	var q apd.Decimal
	if _, err := decimalCtx.Quantize(&q, d, quantScale); err != nil {
		return
	}
	d.Set(&q)
}

func toFloat(d *apd.Decimal) float64 {
	quantize(d)
	f, err := d.Float64()
	if err != nil {
		return 0
	}
	return f
}

func add(a, b float64) float64 {
	x, y := toDecimal(a), toDecimal(b)
	var r apd.Decimal
	_, _ = decimalCtx.Add(&r, &x, &y)
	return toFloat(&r)
}

func sub(a, b float64) float64 {
	x, y := toDecimal(a), toDecimal(b)
	var r apd.Decimal
	_, _ = decimalCtx.Sub(&r, &x, &y)
	return toFloat(&r)
}

func mul(a, b float64) float64 {
	x, y := toDecimal(a), toDecimal(b)
	var r apd.Decimal
	_, _ = decimalCtx.Mul(&r, &x, &y)
	return toFloat(&r)
}

// quo returns a/b, or 0 when b is zero.
func quo(a, b float64) float64 {
	x, y := toDecimal(a), toDecimal(b)
	if y.IsZero() {
		return 0
	}
	var r apd.Decimal
	if _, err := decimalCtx.Quo(&r, &x, &y); err != nil {
		return 0
	}
	return toFloat(&r)
}

func overageOf(used, limit float64) float64 {
	return math.Max(0, sub(used, limit))
}

// percentOf returns used as a percentage of limit. The product is formed
// before the division so 18.9 of 21 is exactly 90.
func percentOf(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return quo(mul(used, 100), limit)
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Total accumulates float amounts in decimal. The zero value is an empty sum.
type Total struct{ d apd.Decimal }

// Add adds v to the sum. Non-finite values are ignored.
func (t *Total) Add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	x, err := new(apd.Decimal).SetFloat64(v)
	if err != nil {
		return
	}
	_, _ = decimalCtx.Add(&t.d, &t.d, x)
}

// Float64 returns the quantized sum.
func (t *Total) Float64() float64 {
	var d apd.Decimal
	d.Set(&t.d)
	return toFloat(&d)
}
