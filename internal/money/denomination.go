package money

import (
	"errors"
	"fmt"
)

// ErrDenominationMismatch is returned when the declared total of a
// denomination set does not equal the sum of its lines.
var ErrDenominationMismatch = errors.New("denomination total does not match sum of lines")

// Denomination is one note or coin value and how many of it were counted.
type Denomination struct {
	Value Amount `json:"value"`
	Count int64  `json:"count"`
}

// DenominationSet is an itemized cash count. It is shared by teller drawer
// snapshots, vault counts and cash tendered on transactions. The set is a
// value object: once built it is never mutated.
type DenominationSet struct {
	Lines []Denomination `json:"lines"`
	Total Amount         `json:"total"`
}

// NewDenominationSet validates that the declared total equals the sum of the
// lines and returns the set. Lines with non-positive values or negative
// counts are rejected before the total check.
func NewDenominationSet(lines []Denomination, declared Amount) (DenominationSet, error) {
	for i, line := range lines {
		if !line.Value.IsPositive() {
			return DenominationSet{}, fmt.Errorf("line %d: denomination value must be positive, got %s", i, line.Value)
		}
		if line.Count < 0 {
			return DenominationSet{}, fmt.Errorf("line %d: denomination count must not be negative, got %d", i, line.Count)
		}
	}

	sum := Zero
	for _, line := range lines {
		sum = sum.Add(line.Value.MulInt(line.Count))
	}
	if !sum.Equal(declared) {
		return DenominationSet{}, fmt.Errorf("%w: declared %s, counted %s", ErrDenominationMismatch, declared, sum)
	}

	copied := make([]Denomination, len(lines))
	copy(copied, lines)
	return DenominationSet{Lines: copied, Total: declared}, nil
}

// Sum recomputes the total from the lines. For a set built through
// NewDenominationSet this always equals Total.
func (s DenominationSet) Sum() Amount {
	sum := Zero
	for _, line := range s.Lines {
		sum = sum.Add(line.Value.MulInt(line.Count))
	}
	return sum
}
