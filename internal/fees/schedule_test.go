package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/corebank/internal/money"
)

func testBands() []Band {
	return []Band{
		{From: money.Zero, To: money.FromInt(100), Flat: money.FromInt(50)},
		{From: money.FromInt(100), To: money.FromInt(500), Flat: money.FromInt(100)},
		{From: money.FromInt(500), To: money.FromInt(50000), Flat: money.FromInt(100), Rate: decimal.RequireFromString("0.01")},
	}
}

func TestNewScheduleValid(t *testing.T) {
	s, err := NewSchedule("standard", false, testBands())
	require.NoError(t, err)
	assert.True(t, s.Covers(money.FromInt(250)))
	assert.False(t, s.Covers(money.FromInt(50000)))
}

func TestNewScheduleRejectsOverlap(t *testing.T) {
	bands := []Band{
		{From: money.Zero, To: money.FromInt(200), Flat: money.FromInt(50)},
		{From: money.FromInt(100), To: money.FromInt(500), Flat: money.FromInt(100)},
	}
	_, err := NewSchedule("overlapping", false, bands)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "overlaps")
}

func TestNewScheduleRejectsGap(t *testing.T) {
	bands := []Band{
		{From: money.Zero, To: money.FromInt(100), Flat: money.FromInt(50)},
		{From: money.FromInt(200), To: money.FromInt(500), Flat: money.FromInt(100)},
	}
	_, err := NewSchedule("gapped", false, bands)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "gap")
}

func TestNewScheduleRejectsEmpty(t *testing.T) {
	_, err := NewSchedule("empty", false, nil)
	require.Error(t, err)
}

func TestChargeBoundaryBelongsToUpperBand(t *testing.T) {
	s, err := NewSchedule("standard", false, testBands())
	require.NoError(t, err)

	// Exactly 100 falls in [100,500), not [0,100).
	charge := s.Charge(money.FromInt(100))
	assert.True(t, charge.Total.Equal(money.FromInt(100)), "amount at boundary must charge the band starting there, got %s", charge.Total)

	charge = s.Charge(money.MustParse("99.99"))
	assert.True(t, charge.Total.Equal(money.FromInt(50)))
}

func TestChargeCombinesFlatAndRate(t *testing.T) {
	s, err := NewSchedule("standard", false, testBands())
	require.NoError(t, err)

	charge := s.Charge(money.FromInt(1000))
	assert.True(t, charge.Flat.Equal(money.FromInt(100)))
	assert.True(t, charge.RateBased.Equal(money.FromInt(10)))
	assert.True(t, charge.Total.Equal(money.FromInt(110)))
}

func TestChargeOutsideBandsIsFree(t *testing.T) {
	s, err := NewSchedule("standard", false, testBands())
	require.NoError(t, err)

	charge := s.Charge(money.FromInt(50000))
	assert.True(t, charge.Total.IsZero())
}

func BenchmarkCharge(b *testing.B) {
	s, err := NewSchedule("standard", false, testBands())
	if err != nil {
		b.Fatal(err)
	}
	amount := money.FromInt(1234)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Charge(amount)
	}
}
