package fees

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/corebank/internal/money"
)

func cashWithdrawalShares() Shares {
	return Shares{
		SourceBranch:      decimal.RequireFromString("0.40"),
		DestinationBranch: decimal.RequireFromString("0.15"),
		HeadOffice:        decimal.RequireFromString("0.20"),
		Partner:           decimal.RequireFromString("0.10"),
		CamCCUL:           decimal.RequireFromString("0.10"),
		FluxAndPTM:        decimal.RequireFromString("0.05"),
	}
}

func TestNewSplitConfigValid(t *testing.T) {
	cfg, err := NewSplitConfig(map[OperationType]map[Channel]Shares{
		OpWithdrawal: {ChannelCash: cashWithdrawalShares()},
	})
	require.NoError(t, err)

	set, err := cfg.SharesFor(OpWithdrawal, ChannelCash)
	require.NoError(t, err)
	assert.True(t, set.SourceBranch.Equal(decimal.RequireFromString("0.40")))

	_, err = cfg.SharesFor(OpDeposit, ChannelCash)
	require.Error(t, err)

	_, err = cfg.SharesFor(OpWithdrawal, ChannelMobileMoney)
	require.Error(t, err)
}

func TestNewSplitConfigRejectsBadSum(t *testing.T) {
	bad := cashWithdrawalShares()
	bad.HeadOffice = decimal.RequireFromString("0.30")

	_, err := NewSplitConfig(map[OperationType]map[Channel]Shares{
		OpWithdrawal: {ChannelCash: bad},
	})
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "sum")
}

func TestNewSplitConfigRejectsNegativeShare(t *testing.T) {
	bad := cashWithdrawalShares()
	bad.Partner = decimal.RequireFromString("-0.10")
	bad.HeadOffice = decimal.RequireFromString("0.40")

	_, err := NewSplitConfig(map[OperationType]map[Channel]Shares{
		OpWithdrawal: {ChannelCash: bad},
	})
	require.Error(t, err)
}

func TestComputeSplitIntraBranchFoldsDestination(t *testing.T) {
	split := ComputeSplit(money.FromInt(1000), cashWithdrawalShares(), false)

	assert.True(t, split.DestinationBranch.IsZero())
	assert.True(t, split.SourceBranch.Equal(money.FromInt(550)), "destination share folds into source, got %s", split.SourceBranch)
	assert.True(t, split.Total().Equal(money.FromInt(1000)))
}

func TestComputeSplitInterBranch(t *testing.T) {
	split := ComputeSplit(money.FromInt(1000), cashWithdrawalShares(), true)

	assert.True(t, split.SourceBranch.Equal(money.FromInt(400)))
	assert.True(t, split.DestinationBranch.Equal(money.FromInt(150)))
	assert.True(t, split.Total().Equal(money.FromInt(1000)))
}

func TestComputeSplitResidualGoesToHeadOffice(t *testing.T) {
	// An odd-cent total cannot divide evenly across six rounded shares; the
	// residual cent must land on the head office so the sum stays exact.
	total := money.MustParse("0.01")
	split := ComputeSplit(total, cashWithdrawalShares(), true)
	assert.True(t, split.Total().Equal(total), "shares sum %s, want %s", split.Total(), total)
}

func TestComputeSplitExactnessRandomized(t *testing.T) {
	shares := cashWithdrawalShares()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 10000; i++ {
		total := money.FromCents(rng.Int63n(10_000_000))
		interBranch := rng.Intn(2) == 0

		split := ComputeSplit(total, shares, interBranch)
		if !split.Total().Equal(total) {
			t.Fatalf("split of %s (interBranch=%v) sums to %s", total, interBranch, split.Total())
		}
	}
}
