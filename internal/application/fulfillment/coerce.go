package fulfillment

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// toDecimal coerces a loosely typed numeric field. Anything unparseable is zero.
func toDecimal(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case json.Number:
		return toDecimal(x.String())
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero
		}
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
		// Brazilian notation: 1.234,56
		if strings.Contains(s, ",") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
			if d, err := decimal.NewFromString(s); err == nil {
				return d
			}
		}
		return decimal.Zero
	case float64:
		return decimal.NewFromFloat(x)
	case float32:
		return decimal.NewFromFloat32(x)
	default:
		i, err := cast.ToInt64E(v)
		if err != nil {
			return decimal.Zero
		}
		return decimal.NewFromInt(i)
	}
}

// isAbsent reports whether a loosely typed field carries no value
func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// toTime coerces a timestamp given as RFC3339/SQL text or unix seconds.
// Absent values return nil; unparseable values return an error.
func toTime(v any, loc *time.Location) (*time.Time, error) {
	if isAbsent(v) {
		return nil, nil
	}
	if t, ok := v.(time.Time); ok {
		return &t, nil
	}
	if f, ok := v.(float64); ok {
		t := time.Unix(int64(f), 0).In(loc)
		if f > 1e12 {
			t = time.UnixMilli(int64(f)).In(loc)
		}
		return &t, nil
	}
	if s, ok := v.(string); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			t := time.Unix(n, 0).In(loc)
			return &t, nil
		}
	}
	t, err := cast.ToTimeInDefaultLocationE(v, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// identifier renders a loosely typed identifier without float exponents
func identifier(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return strings.TrimSpace(cast.ToString(v))
	}
}

// unitPrice applies the pricing rule: explicit unit price, else amount/quantity
// when quantity is positive, else the aggregate amount.
func unitPrice(explicit, amount any, quantity decimal.Decimal) decimal.Decimal {
	if !isAbsent(explicit) {
		return toDecimal(explicit)
	}
	total := toDecimal(amount)
	if quantity.IsPositive() {
		return total.Div(quantity)
	}
	return total
}
