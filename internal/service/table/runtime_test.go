package table

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"table-service/internal/config"
	"table-service/internal/model"
	"table-service/internal/service/bet"
	"table-service/internal/service/game"
	"table-service/internal/service/pubsub"
	"table-service/internal/service/settle"
	"table-service/internal/testutil"
	appErr "table-service/pkg/errors"

	"gorm.io/gorm"
)

// fakeClock advances instantly and cancels the run after limit sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	limit  int
	cancel context.CancelFunc
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 14, 13, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	c.mu.Unlock()
	if c.limit > 0 && n >= c.limit && c.cancel != nil {
		c.cancel()
		return context.Canceled
	}
	return nil
}

func pointTable() config.TableConfig {
	return config.TableConfig{
		ID:            1,
		Name:          "Point 01",
		Variant:       "point",
		Decks:         8,
		BettingSecs:   20,
		SealedSecs:    3,
		DealingSecs:   8,
		ResultSecs:    5,
		CommissionPct: 5,
	}
}

type fixture struct {
	db    *gorm.DB
	rec   *testutil.Recorder
	clock *fakeClock
	snaps *Snapshotter
	rt    *Runtime
}

func newFixture(t *testing.T, tc config.TableConfig) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	rec := &testutil.Recorder{}
	clock := newFakeClock()
	snaps := NewSnapshotter(db)
	rt, err := NewRuntime(Options{Table: tc, RevealDelay: 800 * time.Millisecond, RoadmapSize: 10}, Deps{
		DB:        db,
		Pub:       rec,
		Settler:   settle.NewService(db, rec),
		Snapshots: snaps,
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return &fixture{db: db, rec: rec, clock: clock, snaps: snaps, rt: rt}
}

func shoeSnapshot(t *testing.T, tableID, shoeNo int64, codes ...string) *model.TableSnapshot {
	t.Helper()
	raw, err := json.Marshal(codes)
	if err != nil {
		t.Fatalf("marshal codes: %v", err)
	}
	return &model.TableSnapshot{
		TableID:   tableID,
		Variant:   "point",
		ShoeNo:    shoeNo,
		Decks:     8,
		Remaining: len(codes),
		CardsJSON: raw,
	}
}

func phaseEvents(rec *testutil.Recorder) []PhaseEvent {
	var out []PhaseEvent
	for _, env := range rec.ByType(pubsub.TypePhase) {
		out = append(out, env.Data.(PhaseEvent))
	}
	return out
}

func TestRunCyclesPhasesInOrder(t *testing.T) {
	f := newFixture(t, pointTable())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.limit = 40
	f.clock.cancel = cancel

	if err := f.rt.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	events := phaseEvents(f.rec)
	if len(events) < 8 {
		t.Fatalf("expected at least two rounds of phases, got %d", len(events))
	}
	order := []Phase{PhaseBetting, PhaseSealed, PhaseDealing, PhaseResult}
	for i, ev := range events {
		if ev.Phase != order[i%len(order)] {
			t.Fatalf("event %d: expected %s, got %s", i, order[i%len(order)], ev.Phase)
		}
		if i == 0 {
			continue
		}
		// a phase starts exactly when the previous one's deadline passes
		started := ev.Deadline - ev.RemainingMs
		if started != events[i-1].Deadline {
			t.Fatalf("event %d (%s) started at %d, previous deadline %d", i, ev.Phase, started, events[i-1].Deadline)
		}
	}

	reveals := f.rec.ByType(pubsub.TypeReveal)
	if len(reveals) < 8 {
		t.Fatalf("expected reveal events for every card, got %d", len(reveals))
	}
	if len(f.rec.ByType(pubsub.TypeResult)) < 2 || len(f.rec.ByType(pubsub.TypeRoadmap)) < 2 {
		t.Fatalf("expected result and roadmap events per round")
	}

	var rounds int64
	f.db.Model(&model.Round{}).Where("table_id = ?", 1).Count(&rounds)
	if rounds < 2 {
		t.Fatalf("expected persisted rounds, got %d", rounds)
	}
	if f.snaps.Pending() == 0 {
		t.Fatalf("stopping must queue a final snapshot")
	}
}

func TestBetsRejectedOutsideBetting(t *testing.T) {
	f := newFixture(t, pointTable())
	testutil.SeedWallet(t, f.db, 7, 1000)
	ctx := context.Background()

	if _, err := f.rt.PlaceBets(ctx, 7, []bet.Entry{{Type: game.BetPlayer, Amount: 10}}, false); !errors.Is(err, appErr.ErrPhaseClosed) {
		t.Fatalf("idle table must reject bets, got %v", err)
	}

	f.rt.enterBetting(ctx)
	if _, err := f.rt.PlaceBets(ctx, 7, []bet.Entry{{Type: game.BetPlayer, Amount: 100}}, false); err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(f.rec.ByType(pubsub.TypeBetTotals)) != 1 {
		t.Fatalf("expected bet totals broadcast")
	}

	f.rt.enterSealed(ctx)
	_, err := f.rt.PlaceBets(ctx, 7, []bet.Entry{{Type: game.BetPlayer, Amount: 100}}, false)
	if !IsPhaseClosed(err) {
		t.Fatalf("sealed table must reject bets, got %v", err)
	}
	if _, err := f.rt.ClearBets(ctx, 7); !IsPhaseClosed(err) {
		t.Fatalf("sealed table must reject clears, got %v", err)
	}
	w := testutil.LoadWallet(t, f.db, 7)
	if w.BalanceAvailable != 900 || w.BalanceFrozen != 100 {
		t.Fatalf("balance must be unchanged: %+v", w)
	}

	st := f.rt.State(7)
	if st.Phase != PhaseSealed || st.MyBets == nil || st.MyBets.Reserved != 100 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestRoundSettlesThroughRuntime(t *testing.T) {
	f := newFixture(t, pointTable())
	testutil.SeedWallet(t, f.db, 7, 1000)
	testutil.SeedWallet(t, f.db, 8, 1000)
	ctx := context.Background()

	f.rt.enterBetting(ctx)
	if _, err := f.rt.PlaceBets(ctx, 7, []bet.Entry{{Type: game.BetPlayer, Amount: 100}}, false); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := f.rt.PlaceBets(ctx, 8, []bet.Entry{{Type: game.BetBanker, Amount: 100}}, true); err != nil {
		t.Fatalf("place: %v", err)
	}
	f.rt.enterSealed(ctx)
	out, err := f.rt.enterDealing(ctx)
	if err != nil {
		t.Fatalf("deal: %v", err)
	}
	if err := f.rt.enterResult(ctx, out); err != nil {
		t.Fatalf("result: %v", err)
	}

	var total int64
	for _, uid := range []int64{7, 8} {
		w := testutil.LoadWallet(t, f.db, uid)
		if w.BalanceFrozen != 0 || w.BalanceAvailable != w.BalanceTotal {
			t.Fatalf("user %d reservation not released: %+v", uid, w)
		}
		total += w.BalanceTotal
	}
	if out.Result == game.ResultTie && total != 2000 {
		t.Fatalf("tie must push both sides, total %d", total)
	}

	var pending int64
	f.db.Model(&model.Bet{}).Where("status = ?", model.BetStatusPending).Count(&pending)
	if pending != 0 {
		t.Fatalf("expected no pending bets, got %d", pending)
	}
	if got := f.rt.Roadmap(); len(got) != 1 || got[0].Result != out.Result {
		t.Fatalf("unexpected roadmap: %+v", got)
	}
	if st := f.rt.State(0); st.Outcome == nil || st.Phase != PhaseResult {
		t.Fatalf("result phase must expose the outcome: %+v", st)
	}
}

func TestShoeReplacedBelowMinimum(t *testing.T) {
	f := newFixture(t, pointTable())
	ctx := context.Background()

	// exactly the minimum: P As 3d, B 2h 4c, player draws 5s, banker stands on 6
	snap := shoeSnapshot(t, 1, 4, "As", "2h", "3d", "4c", "5s", "6h")
	if err := f.rt.Restore(snap, nil); err != nil {
		t.Fatalf("restore: %v", err)
	}

	f.rt.enterBetting(ctx)
	if st := f.rt.State(0); st.ShoeNo != 4 || st.CardsLeft != 6 {
		t.Fatalf("restored shoe must be kept: %+v", st)
	}
	f.rt.enterSealed(ctx)
	out, err := f.rt.enterDealing(ctx)
	if err != nil {
		t.Fatalf("deal: %v", err)
	}
	if out.Result != game.ResultPlayer || len(out.Reveals) != 5 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if err := f.rt.enterResult(ctx, out); err != nil {
		t.Fatalf("result: %v", err)
	}

	f.rt.enterBetting(ctx)
	st := f.rt.State(0)
	if st.ShoeNo != 5 {
		t.Fatalf("expected shoe 5, got %d", st.ShoeNo)
	}
	if full := 8*52 - len(f.rt.shoe.Burned()); st.CardsLeft != full {
		t.Fatalf("expected full shoe of %d, got %d", full, st.CardsLeft)
	}
	if len(st.Roadmap) != 0 {
		t.Fatalf("roadmap must reset with the shoe")
	}
}

func TestRestoreResumesSameSequence(t *testing.T) {
	codes := []string{"Kd", "9s", "Qh", "Tc", "3s", "8d", "2c", "7h", "Jc", "4d", "5h", "6s"}
	var outcomes []*game.Outcome
	for i := 0; i < 2; i++ {
		f := newFixture(t, pointTable())
		if err := f.rt.Restore(shoeSnapshot(t, 1, 2, codes...), nil); err != nil {
			t.Fatalf("restore: %v", err)
		}
		f.rt.enterBetting(context.Background())
		f.rt.enterSealed(context.Background())
		out, err := f.rt.enterDealing(context.Background())
		if err != nil {
			t.Fatalf("deal: %v", err)
		}
		outcomes = append(outcomes, out)
	}
	a, _ := json.Marshal(outcomes[0])
	b, _ := json.Marshal(outcomes[1])
	if string(a) != string(b) {
		t.Fatalf("restored shoes must deal identically:\n%s\n%s", a, b)
	}
}

func TestDealtCardsPersistedBeforeReveal(t *testing.T) {
	codes := []string{"4h", "8s", "3s", "Jd", "5h", "6s", "2c", "7h", "Jc", "4d", "9c", "Kd"}
	f := newFixture(t, pointTable())
	if err := f.rt.Restore(shoeSnapshot(t, 1, 2, codes...), nil); err != nil {
		t.Fatalf("restore: %v", err)
	}
	ctx := context.Background()
	f.rt.enterBetting(ctx)
	f.rt.enterSealed(ctx)
	out, err := f.rt.enterDealing(ctx)
	if err != nil {
		t.Fatalf("deal: %v", err)
	}
	if len(out.Reveals) == 0 {
		t.Fatalf("expected reveals")
	}

	f.snaps.mu.Lock()
	snap, ok := f.snaps.pending[1]
	f.snaps.mu.Unlock()
	if !ok {
		t.Fatalf("no snapshot queued after dealing")
	}
	var persisted []string
	if err := json.Unmarshal(snap.CardsJSON, &persisted); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	want := codes[len(out.Reveals):]
	if len(persisted) != len(want) || snap.Remaining != len(want) {
		t.Fatalf("persisted shoe %v still holds dealt cards, want %v", persisted, want)
	}
	for i := range want {
		if persisted[i] != want[i] {
			t.Fatalf("persisted shoe %v, want %v", persisted, want)
		}
	}
	if persisted[0] == out.Reveals[0].Card.String() {
		t.Fatalf("first revealed card %s heads the persisted shoe", persisted[0])
	}
}

func TestShoeExhaustionHaltsTable(t *testing.T) {
	f := newFixture(t, pointTable())
	testutil.SeedWallet(t, f.db, 7, 1000)
	ctx := context.Background()

	f.rt.enterBetting(ctx)
	shoe, err := game.RestoreShoe(9, 8, []string{"As", "2h"})
	if err != nil {
		t.Fatalf("restore shoe: %v", err)
	}
	f.rt.shoe = shoe
	f.rt.enterSealed(ctx)

	_, err = f.rt.enterDealing(ctx)
	if !errors.Is(err, appErr.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if herr := f.rt.halt(ctx, err); herr == nil || f.rt.Halted() == nil {
		t.Fatalf("halt must record the error")
	}
	if f.rt.Phase() != PhaseHalted {
		t.Fatalf("expected halted phase, got %s", f.rt.Phase())
	}
	if _, err := f.rt.PlaceBets(ctx, 7, []bet.Entry{{Type: game.BetPlayer, Amount: 10}}, false); !IsPhaseClosed(err) {
		t.Fatalf("halted table must reject bets, got %v", err)
	}
}

func TestRoundCounter(t *testing.T) {
	var c roundCounter
	day := time.Date(2026, 10, 14, 23, 59, 0, 0, time.Local)
	if got := c.next(day); got != "20261014001" {
		t.Fatalf("unexpected first round: %s", got)
	}
	if got := c.next(day); got != "20261014002" {
		t.Fatalf("unexpected second round: %s", got)
	}
	if got := c.next(day.Add(2 * time.Minute)); got != "20261015001" {
		t.Fatalf("sequence must reset at the day boundary, got %s", got)
	}

	c.observe("20261015007")
	if got := c.next(day.Add(time.Hour)); got != "20261015008" {
		t.Fatalf("observed number must not be reissued, got %s", got)
	}
	c.observe("20261014999")
	if got := c.next(day.Add(time.Hour)); got != "20261015009" {
		t.Fatalf("older day must be ignored, got %s", got)
	}
}

func TestRestoreAdvancesRoundNumbers(t *testing.T) {
	f := newFixture(t, pointTable())
	snap := shoeSnapshot(t, 1, 3, "As", "2h", "3d", "4c", "5s", "6h", "7d")
	snap.RoundDay, snap.RoundSeq = "20261014", 3
	history := []model.Round{
		{ID: "r4", TableID: 1, RoundNo: "20261014004", ShoeNo: 2, Result: game.ResultBanker},
		{ID: "r5", TableID: 1, RoundNo: "20261014005", ShoeNo: 3, Result: game.ResultPlayer},
	}
	if err := f.rt.Restore(snap, history); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := f.rt.Roadmap(); len(got) != 1 || got[0].RoundNo != "20261014005" {
		t.Fatalf("only the current shoe belongs on the roadmap: %+v", got)
	}
	f.rt.enterBetting(context.Background())
	if st := f.rt.State(0); st.RoundNo != "20261014006" {
		t.Fatalf("expected round 006, got %s", st.RoundNo)
	}
}
