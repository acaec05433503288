package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/corebank/internal/money"
)

// Channel is the payment channel a transaction posts on. Channels are
// mutually exclusive per transaction; each channel carries its own share set.
type Channel string

const (
	ChannelCash        Channel = "CASH"
	ChannelMobileMoney Channel = "MOBILE_MONEY"
)

// OperationType selects the split parameters for a posting.
type OperationType string

const (
	OpDeposit    OperationType = "DEPOSIT"
	OpWithdrawal OperationType = "WITHDRAWAL"
	OpTransfer   OperationType = "TRANSFER"
)

// Shares holds the fractional apportionment of a commission across
// stakeholders. Fractions must sum to 1.
type Shares struct {
	SourceBranch      decimal.Decimal
	DestinationBranch decimal.Decimal
	HeadOffice        decimal.Decimal
	Partner           decimal.Decimal
	CamCCUL           decimal.Decimal
	FluxAndPTM        decimal.Decimal
}

func (s Shares) sum() decimal.Decimal {
	return s.SourceBranch.
		Add(s.DestinationBranch).
		Add(s.HeadOffice).
		Add(s.Partner).
		Add(s.CamCCUL).
		Add(s.FluxAndPTM)
}

// SplitConfig maps (operation, channel) to a share set. It is validated once
// at load; ComputeSplit assumes a valid config.
type SplitConfig struct {
	shares map[OperationType]map[Channel]Shares
}

// shareEpsilon bounds acceptable drift in configured fractions.
var shareEpsilon = decimal.RequireFromString("0.000001")

// NewSplitConfig validates that every share set sums to 1 within epsilon.
func NewSplitConfig(shares map[OperationType]map[Channel]Shares) (*SplitConfig, error) {
	if len(shares) == 0 {
		return nil, &ConfigError{Schedule: "commission-split", Reason: "no share sets configured"}
	}
	for op, byChannel := range shares {
		for ch, set := range byChannel {
			for name, frac := range map[string]decimal.Decimal{
				"sourceBranch":      set.SourceBranch,
				"destinationBranch": set.DestinationBranch,
				"headOffice":        set.HeadOffice,
				"partner":           set.Partner,
				"camCCUL":           set.CamCCUL,
				"fluxAndPTM":        set.FluxAndPTM,
			} {
				if frac.IsNegative() {
					return nil, &ConfigError{
						Schedule: "commission-split",
						Reason:   fmt.Sprintf("%s/%s: %s share is negative", op, ch, name),
					}
				}
			}
			drift := set.sum().Sub(decimal.NewFromInt(1)).Abs()
			if drift.GreaterThan(shareEpsilon) {
				return nil, &ConfigError{
					Schedule: "commission-split",
					Reason:   fmt.Sprintf("%s/%s: shares sum to %s, want 1", op, ch, set.sum()),
				}
			}
		}
	}
	return &SplitConfig{shares: shares}, nil
}

// SharesFor returns the share set for an operation and channel.
func (c *SplitConfig) SharesFor(op OperationType, ch Channel) (Shares, error) {
	byChannel, ok := c.shares[op]
	if !ok {
		return Shares{}, fmt.Errorf("no commission shares configured for operation %s", op)
	}
	set, ok := byChannel[ch]
	if !ok {
		return Shares{}, fmt.Errorf("no commission shares configured for %s on channel %s", op, ch)
	}
	return set, nil
}

// Split is the commission apportioned in exact currency amounts.
type Split struct {
	SourceBranch      money.Amount `json:"source_branch"`
	DestinationBranch money.Amount `json:"destination_branch"`
	HeadOffice        money.Amount `json:"head_office"`
	Partner           money.Amount `json:"partner"`
	CamCCUL           money.Amount `json:"cam_ccul"`
	FluxAndPTM        money.Amount `json:"flux_and_ptm"`
}

// Total sums every share.
func (s Split) Total() money.Amount {
	return s.SourceBranch.
		Add(s.DestinationBranch).
		Add(s.HeadOffice).
		Add(s.Partner).
		Add(s.CamCCUL).
		Add(s.FluxAndPTM)
}

// ComputeSplit apportions totalCommission across stakeholders. Each share is
// rounded to 2 places and any rounding residual lands on the head office
// share so the shares always sum exactly to the total. Intra-branch
// operations fold the destination-branch share into the source branch.
func ComputeSplit(total money.Amount, shares Shares, isInterBranch bool) Split {
	split := Split{
		SourceBranch:      total.MulFraction(shares.SourceBranch),
		DestinationBranch: total.MulFraction(shares.DestinationBranch),
		HeadOffice:        total.MulFraction(shares.HeadOffice),
		Partner:           total.MulFraction(shares.Partner),
		CamCCUL:           total.MulFraction(shares.CamCCUL),
		FluxAndPTM:        total.MulFraction(shares.FluxAndPTM),
	}

	if !isInterBranch {
		split.SourceBranch = split.SourceBranch.Add(split.DestinationBranch)
		split.DestinationBranch = money.Zero
	}

	residual := total.Sub(split.Total())
	if !residual.IsZero() {
		split.HeadOffice = split.HeadOffice.Add(residual)
	}
	return split
}
