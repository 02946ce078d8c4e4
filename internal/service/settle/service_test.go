package settle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"table-service/internal/model"
	"table-service/internal/service/bet"
	"table-service/internal/service/game"
	"table-service/internal/service/pubsub"
	"table-service/internal/service/settle"
	"table-service/internal/testutil"
	appErr "table-service/pkg/errors"

	"gorm.io/gorm"
)

const roundID = "T1-20261014007"

func openBook(t *testing.T, db *gorm.DB, bets map[int64][]bet.Entry) *bet.Ledger {
	t.Helper()
	l := bet.NewLedger(db, nil, bet.Config{TableID: 1, RoundID: roundID, Resolver: game.PointResolver{}})
	for uid, entries := range bets {
		if _, err := l.Place(context.Background(), uid, entries, false); err != nil {
			t.Fatalf("place for %d: %v", uid, err)
		}
	}
	l.Freeze()
	return l
}

func request(t *testing.T, l *bet.Ledger, out *game.Outcome) settle.Request {
	t.Helper()
	positions, err := l.Positions()
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	return settle.Request{
		TableID:       1,
		RoundID:       roundID,
		RoundNo:       "20261014007",
		ShoeNo:        1,
		StartedAt:     time.Now(),
		Outcome:       out,
		CommissionPct: 5,
		Positions:     positions,
	}
}

func pointOutcome(result string) *game.Outcome {
	return &game.Outcome{
		Variant: game.VariantPoint,
		Result:  result,
		Hands: []game.Hand{
			{Name: game.ResultPlayer, Points: 4},
			{Name: game.ResultBanker, Points: 7},
		},
	}
}

func checkInvariant(t *testing.T, w model.Wallet) {
	t.Helper()
	if w.BalanceAvailable+w.BalanceFrozen != w.BalanceTotal {
		t.Fatalf("wallet invariant broken: %+v", w)
	}
	if w.BalanceAvailable < 0 || w.BalanceFrozen < 0 {
		t.Fatalf("negative balance: %+v", w)
	}
}

func TestSettlePushReturnsStake(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedWallet(t, db, 1, 1000)
	l := openBook(t, db, map[int64][]bet.Entry{1: {{Type: game.BetPlayer, Amount: 100}}})

	svc := settle.NewService(db, nil)
	summary, err := svc.Settle(context.Background(), request(t, l, pointOutcome(game.ResultTie)))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if summary.TotalBet != 100 || summary.TotalPayout != 100 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	w := testutil.LoadWallet(t, db, 1)
	checkInvariant(t, w)
	if w.BalanceAvailable != 1000 || w.BalanceFrozen != 0 || w.BalanceTotal != 1000 {
		t.Fatalf("push must return the exact stake: %+v", w)
	}
	var row model.Bet
	if err := db.Where("round_id = ?", roundID).First(&row).Error; err != nil {
		t.Fatalf("load bet: %v", err)
	}
	if row.Status != model.BetStatusPush || row.Payout != 100 || row.SettledAt == nil {
		t.Fatalf("unexpected bet row: %+v", row)
	}
}

func TestSettleWinnersAndLosers(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedWallet(t, db, 1, 1000)
	testutil.SeedWallet(t, db, 2, 1000)
	l := openBook(t, db, map[int64][]bet.Entry{
		1: {{Type: game.BetBanker, Amount: 100}},
		2: {{Type: game.BetPlayer, Amount: 100}, {Type: game.BetTie, Amount: 50}},
	})

	rec := &testutil.Recorder{}
	svc := settle.NewService(db, rec)
	summary, err := svc.Settle(context.Background(), request(t, l, pointOutcome(game.ResultBanker)))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if summary.TotalBet != 250 || summary.TotalPayout != 195 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	w1 := testutil.LoadWallet(t, db, 1)
	w2 := testutil.LoadWallet(t, db, 2)
	checkInvariant(t, w1)
	checkInvariant(t, w2)
	if w1.BalanceAvailable != 1095 || w1.TotalWin != 95 {
		t.Fatalf("banker winner: %+v", w1)
	}
	if w2.BalanceAvailable != 850 || w2.TotalConsume != 150 {
		t.Fatalf("loser: %+v", w2)
	}

	var round model.Round
	if err := db.First(&round, "id = ?", roundID).Error; err != nil {
		t.Fatalf("load round: %v", err)
	}
	if round.Result != game.ResultBanker || round.TotalBet != 250 || round.TotalPayout != 195 {
		t.Fatalf("unexpected round: %+v", round)
	}
	if got := len(rec.ByType(pubsub.TypeBalance)); got != 2 {
		t.Fatalf("expected 2 balance events, got %d", got)
	}
}

func TestSettleStatusFollowsEntries(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedWallet(t, db, 1, 1000)
	testutil.SeedWallet(t, db, 2, 1000)
	l := openBook(t, db, map[int64][]bet.Entry{
		1: {{Type: game.BetPlayer, Amount: 100}, {Type: game.BetBanker, Amount: 100}},
		2: {{Type: game.BetBanker, Amount: 100}, {Type: game.BetPlayerPair, Amount: 10}},
	})

	svc := settle.NewService(db, nil)
	if _, err := svc.Settle(context.Background(), request(t, l, pointOutcome(game.ResultPlayer))); err != nil {
		t.Fatalf("settle: %v", err)
	}

	var rows []model.Bet
	if err := db.Where("round_id = ?", roundID).Find(&rows).Error; err != nil {
		t.Fatalf("load bets: %v", err)
	}
	byUser := map[int64]model.Bet{}
	for _, r := range rows {
		byUser[r.UserID] = r
	}
	hedged := byUser[1]
	if hedged.Payout != hedged.Amount || hedged.Status != model.BetStatusWon {
		t.Fatalf("a winning entry netting to zero must be won, got %+v", hedged)
	}
	if byUser[2].Status != model.BetStatusLost || byUser[2].Payout != 0 {
		t.Fatalf("all-losing bet must be lost, got %+v", byUser[2])
	}
}

func TestSettleExactlyOnce(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedWallet(t, db, 1, 1000)
	l := openBook(t, db, map[int64][]bet.Entry{1: {{Type: game.BetBanker, Amount: 200}}})

	svc := settle.NewService(db, nil)
	req := request(t, l, pointOutcome(game.ResultBanker))
	if _, err := svc.Settle(context.Background(), req); err != nil {
		t.Fatalf("settle: %v", err)
	}
	after := testutil.LoadWallet(t, db, 1)

	_, err := svc.Settle(context.Background(), req)
	if !errors.Is(err, appErr.ErrInvariantViolation) || !settle.IsHalting(err) {
		t.Fatalf("second settlement must be refused, got %v", err)
	}
	again := testutil.LoadWallet(t, db, 1)
	if again.BalanceAvailable != after.BalanceAvailable || again.BalanceTotal != after.BalanceTotal {
		t.Fatalf("second settlement moved money: %+v vs %+v", again, after)
	}
}

func TestSettleReservationMismatchRollsBack(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedWallet(t, db, 1, 1000)
	l := openBook(t, db, map[int64][]bet.Entry{1: {{Type: game.BetPlayer, Amount: 100}}})

	req := request(t, l, pointOutcome(game.ResultPlayer))
	req.Positions[0].Reserved = 80

	_, err := settle.NewService(db, nil).Settle(context.Background(), req)
	if !errors.Is(err, appErr.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	w := testutil.LoadWallet(t, db, 1)
	if w.BalanceAvailable != 900 || w.BalanceFrozen != 100 {
		t.Fatalf("failed settlement must not move money: %+v", w)
	}
	var pending int64
	db.Model(&model.Bet{}).Where("status = ?", model.BetStatusPending).Count(&pending)
	if pending != 1 {
		t.Fatalf("bet must stay pending, got %d", pending)
	}
}
