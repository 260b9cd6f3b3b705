// Package money holds amounts as integer minor units. Decimal text exists only at the
// edges: Parse, String and the JSON codec.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the display precision of the single supported currency.
const Places = 2

// Money is a count of minor currency units (fils, cents).
type Money int64

var (
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrOutOfRange is also an ErrInvalidAmount.
	ErrOutOfRange = fmt.Errorf("%w: out of range", ErrInvalidAmount)
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// labels stripped from user-formatted input before parsing
var currencyLabels = []string{"AED", "aed", "Dhs", "dhs", "DHS"}

// SetCurrency makes Parse strip code as well. Call it once at startup, before any parsing.
func SetCurrency(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || slices.Contains(currencyLabels, code) {
		return
	}
	currencyLabels = append(currencyLabels, code, strings.ToLower(code))
}

func FromMinor(minor int64) Money {
	return Money(minor)
}

// FromDecimal rounds half-up to minor-unit resolution. Values that do not fit fail with
// ErrOutOfRange instead of wrapping.
func FromDecimal(d decimal.Decimal) (Money, error) {
	minor := d.Shift(Places).Round(0)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return Money(minor.IntPart()), nil
}

// Parse accepts user-formatted strings like:
// - "1500"
// - "1,500.00"
// - "AED 1,500.5"
// - "-20"
func Parse(s string) (Money, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return 0, err
	}
	return FromDecimal(d)
}

// ParseSaturating is Parse for text still being typed: values beyond the Money range
// become the largest or smallest Money so a later clamp still bounds them.
func ParseSaturating(s string) (Money, error) {
	m, err := Parse(s)
	if !errors.Is(err, ErrOutOfRange) {
		return m, err
	}
	if d, _ := ParseDecimal(s); d.IsNegative() {
		return math.MinInt64, nil
	}
	return math.MaxInt64, nil
}

// ParseNonNegative is Parse for fields where a negative value is not an amount.
func ParseNonNegative(s string) (Money, error) {
	m, err := Parse(s)
	if err != nil {
		return 0, err
	}
	if m.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	return m, nil
}

// ParseDecimal cleans thousands separators and currency labels, then parses strictly.
func ParseDecimal(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	if clean != "" {
		clean = strings.ReplaceAll(clean, ",", "")
		for _, label := range currencyLabels {
			clean = strings.ReplaceAll(clean, label, "")
		}
		clean = strings.TrimSpace(clean)
	}
	neg := false
	if strings.HasPrefix(clean, "-") {
		neg = true
		clean = strings.TrimSpace(strings.TrimPrefix(clean, "-"))
	} else {
		clean = strings.TrimSpace(strings.TrimPrefix(clean, "+"))
	}
	if clean == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	for _, r := range clean {
		if (r < '0' || r > '9') && r != '.' {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// ParseAny converts loosely typed JSON values (string, json.Number, float64, int) into Money.
func ParseAny(v any) (Money, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case Money:
		return val, nil
	case string:
		return Parse(val)
	case json.Number:
		return Parse(val.String())
	case float64:
		return FromDecimal(decimal.NewFromFloat(val))
	case int:
		return FromDecimal(decimal.NewFromInt(int64(val)))
	case int64:
		return FromDecimal(decimal.NewFromInt(val))
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, v)
	}
}

func (m Money) Minor() int64 {
	return int64(m)
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -Places)
}

// String renders the amount with exactly two decimals, e.g. "750.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(Places)
}

func (m Money) Add(o Money) Money {
	return m + o
}

func (m Money) Sub(o Money) Money {
	return m - o
}

func (m Money) Cmp(o Money) int {
	switch {
	case m < o:
		return -1
	case m > o:
		return 1
	default:
		return 0
	}
}

func (m Money) IsZero() bool { return m == 0 }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsNegative() bool { return m < 0 }

// Sum adds in minor units. Nothing is rounded inside the reduction, and the total
// saturates at the Money range.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		switch {
		case a > 0 && total > math.MaxInt64-a:
			total = math.MaxInt64
		case a < 0 && total < math.MinInt64-a:
			total = math.MinInt64
		default:
			total += a
		}
	}
	return total
}

// PercentOf returns amount * percent / 100, rounded half-up once.
func PercentOf(amount Money, percent decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(amount)).Mul(percent).Shift(-2).Round(0).IntPart())
}

// MulQty prices a quantity at a unit rate, rounded half-up once.
func MulQty(rate Money, qty decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(rate)).Mul(qty).Round(0).IntPart())
}

func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

func Clamp(amount, lo, hi Money) Money {
	if amount < lo {
		return lo
	}
	if amount > hi {
		return hi
	}
	return amount
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	str := strings.TrimSpace(string(data))
	if str == "null" || str == `""` {
		*m = 0
		return nil
	}
	str = strings.Trim(str, `"`)
	parsed, err := Parse(str)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
