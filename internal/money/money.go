package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value with a fixed scale of 2. All ledger, drawer and
// vault balances are carried as Amounts; float64 never enters a monetary path.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{d: decimal.Zero}

// FromString parses a decimal string such as "10000.00" into an Amount.
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{d: d.Round(2)}, nil
}

// MustParse parses s and panics on failure. Intended for fixed schedule
// configuration and tests, never for request input.
func MustParse(s string) Amount {
	a, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt builds an Amount from a whole number of currency units.
func FromInt(units int64) Amount {
	return Amount{d: decimal.NewFromInt(units)}
}

// FromCents builds an Amount from an integer number of hundredths.
func FromCents(cents int64) Amount {
	return Amount{d: decimal.NewFromInt(cents).Shift(-2)}
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Neg() Amount         { return Amount{d: a.d.Neg()} }

// MulInt multiplies the amount by a whole count.
func (a Amount) MulInt(n int64) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromInt(n))}
}

// MulFraction applies a fractional rate and rounds half-up to scale 2.
func (a Amount) MulFraction(frac decimal.Decimal) Amount {
	return Amount{d: a.d.Mul(frac).Round(2)}
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

func (a Amount) Equal(b Amount) bool    { return a.d.Equal(b.d) }
func (a Amount) LessThan(b Amount) bool { return a.d.LessThan(b.d) }
func (a Amount) IsZero() bool           { return a.d.IsZero() }
func (a Amount) IsNegative() bool       { return a.d.IsNegative() }
func (a Amount) IsPositive() bool       { return a.d.IsPositive() }

// Decimal exposes the underlying decimal for storage drivers.
func (a Amount) Decimal() decimal.Decimal { return a.d }

// String renders the amount with exactly two fractional digits.
func (a Amount) String() string { return a.d.StringFixed(2) }

// MarshalJSON renders the amount as a JSON string to preserve exactness.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses either a quoted or bare decimal literal.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
