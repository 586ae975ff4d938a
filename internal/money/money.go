package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount represents a monetary value stored in minor units (euro cents).
type Amount int64

// ErrMalformed is returned when a decimal string cannot be parsed as currency.
var ErrMalformed = errors.New("money: malformed amount")

// Parse converts a decimal string such as "73.40" into an Amount. At most two
// fraction digits are accepted; "18", "18.5" and "18.50" all parse.
func Parse(s string) (Amount, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, ErrMalformed
	}
	negative := false
	if strings.HasPrefix(trimmed, "-") {
		negative = true
		trimmed = trimmed[1:]
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	var cents int64
	switch len(frac) {
	case 0:
	case 1:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		cents = d * 10
	case 2:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		cents = d
	default:
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	total := units*100 + cents
	if negative {
		total = -total
	}
	return Amount(total), nil
}

// digitsOnly rejects signs and whitespace inside a number component, which
// strconv.ParseInt would otherwise accept.
func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MustParse parses a decimal string and panics on failure. Intended for
// fixtures and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount as a decimal string with two fraction digits.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount as a decimal string, matching the wire format
// of the payment collaborators.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

// UnmarshalJSON accepts either a decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Mul returns the amount multiplied by an integer quantity.
func (a Amount) Mul(qty int) Amount {
	return a * Amount(qty)
}

// DivideEqual splits the amount into n equal shares, rounding each share
// half-up to the nearest cent. The rounded shares may drift from the total by
// up to one cent per additional participant; that drift is deliberate.
func DivideEqual(total Amount, n int) (Amount, error) {
	if n <= 0 {
		return 0, fmt.Errorf("money: cannot divide by %d participants", n)
	}
	v := int64(total)
	q := v / int64(n)
	r := v % int64(n)
	if 2*r >= int64(n) {
		q++
	}
	return Amount(q), nil
}
