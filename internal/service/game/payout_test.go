package game_test

import (
	"testing"

	"table-service/internal/service/game"
)

func pointOutcome(result string, bankerPoints int) *game.Outcome {
	return &game.Outcome{
		Variant: game.VariantPoint,
		Result:  result,
		Hands: []game.Hand{
			{Name: game.ResultPlayer},
			{Name: game.ResultBanker, Points: bankerPoints},
		},
	}
}

func TestPointTiePushesPlayerAndBanker(t *testing.T) {
	out := pointOutcome(game.ResultTie, 4)
	for _, bt := range []game.BetType{game.BetPlayer, game.BetBanker} {
		for _, amount := range []int64{1, 15, 100, 12345} {
			got := game.Settle(out, bt, amount, game.PayoutOptions{CommissionPct: 5})
			if got.Status != game.EntryPush || got.Payout != amount {
				t.Fatalf("%s push on %d: got %+v", bt, amount, got)
			}
		}
	}
	if got := game.Settle(out, game.BetTie, 10, game.PayoutOptions{}); got.Payout != 90 {
		t.Fatalf("tie pays 8:1, got %+v", got)
	}
}

func TestPointBankerCommission(t *testing.T) {
	out := pointOutcome(game.ResultBanker, 7)
	got := game.Settle(out, game.BetBanker, 100, game.PayoutOptions{CommissionPct: 5})
	if got.Payout != 195 || got.Commission != 5 {
		t.Fatalf("expected 195 with 5 commission, got %+v", got)
	}
	got = game.Settle(out, game.BetBanker, 15, game.PayoutOptions{CommissionPct: 5})
	if got.Payout != 29 || got.Commission != 1 {
		t.Fatalf("commission rounds up: got %+v", got)
	}
	if got := game.Settle(out, game.BetPlayer, 100, game.PayoutOptions{}); got.Status != game.EntryLost || got.Payout != 0 {
		t.Fatalf("player loses on banker result, got %+v", got)
	}
}

func TestPointNoCommissionBankerSix(t *testing.T) {
	opts := game.PayoutOptions{NoCommission: true, CommissionPct: 5}
	if got := game.Settle(pointOutcome(game.ResultBanker, 6), game.BetBanker, 100, opts); got.Payout != 150 {
		t.Fatalf("banker six pays half in no-commission mode, got %+v", got)
	}
	if got := game.Settle(pointOutcome(game.ResultBanker, 8), game.BetBanker, 100, opts); got.Payout != 200 || got.Commission != 0 {
		t.Fatalf("banker pays even in no-commission mode, got %+v", got)
	}
}

func TestPointPairs(t *testing.T) {
	out := pointOutcome(game.ResultPlayer, 3)
	out.PlayerPair = true
	if got := game.Settle(out, game.BetPlayerPair, 10, game.PayoutOptions{}); got.Payout != 120 {
		t.Fatalf("pair pays 11:1, got %+v", got)
	}
	if got := game.Settle(out, game.BetBankerPair, 10, game.PayoutOptions{}); got.Status != game.EntryLost {
		t.Fatalf("banker pair lost, got %+v", got)
	}
}

func TestDuelPayouts(t *testing.T) {
	tie := &game.Outcome{Variant: game.VariantDuel, Result: game.ResultTie, SuitedTie: true}
	if got := game.Settle(tie, game.BetDragon, 100, game.PayoutOptions{}); got.Status != game.EntryHalf || got.Payout != 50 {
		t.Fatalf("dragon on tie returns half, got %+v", got)
	}
	if got := game.Settle(tie, game.BetSuitedTie, 10, game.PayoutOptions{}); got.Payout != 510 {
		t.Fatalf("suited tie pays 50:1, got %+v", got)
	}
	if got := game.Settle(tie, game.BetTie, 10, game.PayoutOptions{}); got.Payout != 90 {
		t.Fatalf("tie pays 8:1 on a suited tie, got %+v", got)
	}
	win := &game.Outcome{Variant: game.VariantDuel, Result: game.ResultTiger}
	if got := game.Settle(win, game.BetTiger, 100, game.PayoutOptions{}); got.Payout != 200 {
		t.Fatalf("tiger pays even, got %+v", got)
	}
}

func TestRankPayoutByTier(t *testing.T) {
	out := &game.Outcome{
		Variant: game.VariantRank,
		Hands: []game.Hand{
			{Name: game.ResultBanker},
			{Name: string(game.BetPlayer1), Tier: game.TierTriple},
			{Name: string(game.BetPlayer2)},
		},
		Wins: map[game.BetType]bool{game.BetPlayer1: true, game.BetPlayer2: false},
	}
	got := game.Settle(out, game.BetPlayer1, 100, game.PayoutOptions{CommissionPct: 5})
	if got.Payout != 385 || got.Commission != 15 {
		t.Fatalf("triple pays 3:1 less 5%%, got %+v", got)
	}
	if got := game.Settle(out, game.BetPlayer2, 100, game.PayoutOptions{}); got.Status != game.EntryLost {
		t.Fatalf("losing position, got %+v", got)
	}
}
