package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/corebank/internal/money"
)

// ConfigError marks a misconfigured fee schedule or commission split. It is
// surfaced when the configuration is loaded, never per transaction.
type ConfigError struct {
	Schedule string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("fee configuration %q invalid: %s", e.Schedule, e.Reason)
}

// Band charges amounts in [From, To): an amount equal to a boundary belongs
// to the band that starts at that boundary. Flat and Rate can combine.
type Band struct {
	From money.Amount
	To   money.Amount
	Flat money.Amount
	Rate decimal.Decimal
}

// Schedule is an ordered, contiguous list of bands for one fee.
type Schedule struct {
	Name              string
	AppliesOnHolidays bool
	bands             []Band
}

// NewSchedule validates the bands and returns the schedule. Bands must be
// ordered, contiguous and non-overlapping; gaps and overlaps are rejected
// here so Charge never has to handle them.
func NewSchedule(name string, appliesOnHolidays bool, bands []Band) (*Schedule, error) {
	if len(bands) == 0 {
		return nil, &ConfigError{Schedule: name, Reason: "schedule has no bands"}
	}
	for i, b := range bands {
		if b.To.Cmp(b.From) <= 0 {
			return nil, &ConfigError{
				Schedule: name,
				Reason:   fmt.Sprintf("band %d: upper bound %s not greater than lower bound %s", i, b.To, b.From),
			}
		}
		if b.Flat.IsNegative() || b.Rate.IsNegative() {
			return nil, &ConfigError{Schedule: name, Reason: fmt.Sprintf("band %d: negative charge", i)}
		}
		if i > 0 && !b.From.Equal(bands[i-1].To) {
			if b.From.LessThan(bands[i-1].To) {
				return nil, &ConfigError{
					Schedule: name,
					Reason:   fmt.Sprintf("band %d overlaps band %d: starts at %s before %s", i, i-1, b.From, bands[i-1].To),
				}
			}
			return nil, &ConfigError{
				Schedule: name,
				Reason:   fmt.Sprintf("gap between band %d ending %s and band %d starting %s", i-1, bands[i-1].To, i, b.From),
			}
		}
	}

	copied := make([]Band, len(bands))
	copy(copied, bands)
	return &Schedule{Name: name, AppliesOnHolidays: appliesOnHolidays, bands: copied}, nil
}

// Charge is the fee computed for an amount.
type Charge struct {
	Flat      money.Amount
	RateBased money.Amount
	Total     money.Amount
}

// Charge computes the fee for amount. Amounts outside every band (below the
// first lower bound or at/above the last upper bound) charge nothing.
func (s *Schedule) Charge(amount money.Amount) Charge {
	for _, b := range s.bands {
		if amount.Cmp(b.From) >= 0 && amount.LessThan(b.To) {
			rateBased := amount.MulFraction(b.Rate)
			return Charge{
				Flat:      b.Flat,
				RateBased: rateBased,
				Total:     b.Flat.Add(rateBased),
			}
		}
	}
	return Charge{Flat: money.Zero, RateBased: money.Zero, Total: money.Zero}
}

// Covers reports whether amount falls inside one of the schedule's bands.
func (s *Schedule) Covers(amount money.Amount) bool {
	first := s.bands[0].From
	last := s.bands[len(s.bands)-1].To
	return amount.Cmp(first) >= 0 && amount.LessThan(last)
}
