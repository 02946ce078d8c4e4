package game

import "github.com/shopspring/decimal"

type EntryStatus string

const (
	EntryWon  EntryStatus = "won"
	EntryLost EntryStatus = "lost"
	EntryPush EntryStatus = "push" // full stake returned
	EntryHalf EntryStatus = "half" // half stake returned
)

// PayoutOptions carries per-user and per-table modifiers.
type PayoutOptions struct {
	NoCommission  bool
	CommissionPct float64
}

// EntryPayout is the settlement of one (bet type, amount) entry.
// Payout includes the returned stake.
type EntryPayout struct {
	Status     EntryStatus `json:"status"`
	Payout     int64       `json:"payout"`
	Commission int64       `json:"commission"`
}

var (
	ratioEven      = decimal.NewFromInt(1)
	ratioHalf      = decimal.NewFromFloat(0.5)
	ratioTie       = decimal.NewFromInt(8)
	ratioPair      = decimal.NewFromInt(11)
	ratioSuitedTie = decimal.NewFromInt(50)
	hundred        = decimal.NewFromInt(100)
)

// rank game multipliers by the winning player's tier
var rankTierRatio = map[Tier]decimal.Decimal{
	TierNone:      decimal.NewFromInt(1),
	TierPair:      decimal.NewFromInt(1),
	TierTwoPair:   decimal.NewFromInt(2),
	TierTriple:    decimal.NewFromInt(3),
	TierFullHouse: decimal.NewFromInt(4),
	TierQuads:     decimal.NewFromInt(5),
}

// Settle computes the payout of one entry against a resolved round.
func Settle(out *Outcome, bt BetType, amount int64, opts PayoutOptions) EntryPayout {
	if amount <= 0 || out == nil {
		return EntryPayout{Status: EntryLost}
	}
	switch out.Variant {
	case VariantPoint:
		return settlePoint(out, bt, amount, opts)
	case VariantDuel:
		return settleDuel(out, bt, amount)
	case VariantRank:
		return settleRank(out, bt, amount, opts)
	}
	return EntryPayout{Status: EntryLost}
}

func settlePoint(out *Outcome, bt BetType, amount int64, opts PayoutOptions) EntryPayout {
	switch bt {
	case BetPlayer:
		switch out.Result {
		case ResultPlayer:
			return win(amount, ratioEven, 0)
		case ResultTie:
			return push(amount)
		}
	case BetBanker:
		switch out.Result {
		case ResultBanker:
			if opts.NoCommission {
				if banker := out.hand(ResultBanker); banker != nil && banker.Points == 6 {
					return win(amount, ratioHalf, 0)
				}
				return win(amount, ratioEven, 0)
			}
			return win(amount, ratioEven, opts.CommissionPct)
		case ResultTie:
			return push(amount)
		}
	case BetTie:
		if out.Result == ResultTie {
			return win(amount, ratioTie, 0)
		}
	case BetPlayerPair:
		if out.PlayerPair {
			return win(amount, ratioPair, 0)
		}
	case BetBankerPair:
		if out.BankerPair {
			return win(amount, ratioPair, 0)
		}
	}
	return EntryPayout{Status: EntryLost}
}

func settleDuel(out *Outcome, bt BetType, amount int64) EntryPayout {
	switch bt {
	case BetDragon, BetTiger:
		if out.Result == string(bt) {
			return win(amount, ratioEven, 0)
		}
		if out.Result == ResultTie {
			return EntryPayout{Status: EntryHalf, Payout: amount / 2}
		}
	case BetTie:
		if out.Result == ResultTie {
			return win(amount, ratioTie, 0)
		}
	case BetSuitedTie:
		if out.SuitedTie {
			return win(amount, ratioSuitedTie, 0)
		}
	}
	return EntryPayout{Status: EntryLost}
}

func settleRank(out *Outcome, bt BetType, amount int64, opts PayoutOptions) EntryPayout {
	if !out.Wins[bt] {
		return EntryPayout{Status: EntryLost}
	}
	ratio := ratioEven
	if h := out.hand(string(bt)); h != nil {
		if r, ok := rankTierRatio[h.Tier]; ok {
			ratio = r
		}
	}
	return win(amount, ratio, opts.CommissionPct)
}

// win returns stake plus floor(amount*ratio), less commission rounded up.
func win(amount int64, ratio decimal.Decimal, commissionPct float64) EntryPayout {
	stake := decimal.NewFromInt(amount)
	winnings := stake.Mul(ratio).Floor()
	commission := decimal.Zero
	if commissionPct > 0 {
		commission = winnings.Mul(decimal.NewFromFloat(commissionPct)).Div(hundred).Ceil()
		if commission.GreaterThan(winnings) {
			commission = winnings
		}
	}
	return EntryPayout{
		Status:     EntryWon,
		Payout:     stake.Add(winnings).Sub(commission).IntPart(),
		Commission: commission.IntPart(),
	}
}

func push(amount int64) EntryPayout {
	return EntryPayout{Status: EntryPush, Payout: amount}
}
