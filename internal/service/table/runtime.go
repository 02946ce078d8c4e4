package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"table-service/internal/config"
	"table-service/internal/model"
	"table-service/internal/service/bet"
	"table-service/internal/service/game"
	"table-service/internal/service/pubsub"
	"table-service/internal/service/settle"
	appErr "table-service/pkg/errors"
	"table-service/pkg/logger"
	"table-service/pkg/utils/random"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseBetting Phase = "betting"
	PhaseSealed  Phase = "sealed"
	PhaseDealing Phase = "dealing"
	PhaseResult  Phase = "result"
	PhaseHalted  Phase = "halted"
)

type PhaseEvent struct {
	TableID     int64  `json:"tableId,string"`
	Phase       Phase  `json:"phase"`
	RoundID     string `json:"roundId"`
	RoundNo     string `json:"roundNo"`
	ShoeNo      int64  `json:"shoeNo"`
	RemainingMs int64  `json:"remainingMs"`
	Deadline    int64  `json:"deadline"`
}

type RevealEvent struct {
	RoundID string `json:"roundId"`
	game.Reveal
}

type ResultEvent struct {
	RoundID string        `json:"roundId"`
	RoundNo string        `json:"roundNo"`
	Outcome *game.Outcome `json:"outcome"`
}

type TotalsEvent struct {
	RoundID string `json:"roundId"`
	bet.Totals
}

type MyBets struct {
	Reserved     int64                  `json:"reserved"`
	ByType       map[game.BetType]int64 `json:"byType"`
	NoCommission bool                   `json:"noCommission"`
}

// State is what a client needs to render the table on (re)join.
type State struct {
	TableID     int64                      `json:"tableId,string"`
	Name        string                     `json:"name"`
	Variant     game.Variant               `json:"variant"`
	Phase       Phase                      `json:"phase"`
	RemainingMs int64                      `json:"remainingMs"`
	RoundID     string                     `json:"roundId"`
	RoundNo     string                     `json:"roundNo"`
	ShoeNo      int64                      `json:"shoeNo"`
	CardsLeft   int                        `json:"cardsLeft"`
	BetTypes    []game.BetType             `json:"betTypes"`
	Limits      map[game.BetType]bet.Limit `json:"limits,omitempty"`
	Totals      *bet.Totals                `json:"totals,omitempty"`
	MyBets      *MyBets                    `json:"myBets,omitempty"`
	Outcome     *game.Outcome              `json:"outcome,omitempty"`
	Roadmap     []RoadEntry                `json:"roadmap"`
}

type Options struct {
	Table       config.TableConfig
	RevealDelay time.Duration
	RoadmapSize int
}

type Deps struct {
	DB        *gorm.DB
	Pub       pubsub.Publisher
	Settler   *settle.Service
	Snapshots *Snapshotter
	Clock     Clock
	Rand      *rand.Rand
}

// Runtime owns one table: its phase, shoe, open ledger and roadmap.
// Phase changes happen only inside Run.
type Runtime struct {
	cfg         config.TableConfig
	resolver    game.Resolver
	limits      map[game.BetType]bet.Limit
	revealDelay time.Duration

	db      *gorm.DB
	pub     pubsub.Publisher
	settler *settle.Service
	snaps   *Snapshotter
	clock   Clock
	rng     *rand.Rand

	seq int64

	mu       sync.RWMutex
	phase    Phase
	deadline time.Time
	shoe     *game.Shoe
	rounds   roundCounter
	round    *roundInfo
	ledger   *bet.Ledger
	outcome  *game.Outcome
	roadmap  *Roadmap
	haltErr  error
}

func NewRuntime(opts Options, deps Deps) (*Runtime, error) {
	resolver, err := game.NewResolver(game.Variant(opts.Table.Variant))
	if err != nil {
		return nil, err
	}
	limits := make(map[game.BetType]bet.Limit, len(opts.Table.Limits))
	for name, l := range opts.Table.Limits {
		bt := game.BetType(name)
		if !game.IsBetType(resolver, bt) {
			return nil, fmt.Errorf("table %d: limit for unknown bet type %q", opts.Table.ID, name)
		}
		limits[bt] = bet.Limit{Min: l.Min, Max: l.Max}
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Rand == nil {
		deps.Rand = random.NewSource()
	}
	return &Runtime{
		cfg:         opts.Table,
		resolver:    resolver,
		limits:      limits,
		revealDelay: opts.RevealDelay,
		db:          deps.DB,
		pub:         deps.Pub,
		settler:     deps.Settler,
		snaps:       deps.Snapshots,
		clock:       deps.Clock,
		rng:         deps.Rand,
		phase:       PhaseIdle,
		roadmap:     NewRoadmap(opts.RoadmapSize),
	}, nil
}

func (rt *Runtime) ID() int64 { return rt.cfg.ID }

func (rt *Runtime) Name() string { return rt.cfg.Name }

func (rt *Runtime) Variant() game.Variant { return rt.resolver.Variant() }

func (rt *Runtime) Phase() Phase {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.phase
}

// Restore resumes a persisted shoe and round counter. It must be called
// before Run.
func (rt *Runtime) Restore(snap *model.TableSnapshot, history []model.Round) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if snap != nil {
		if snap.Variant != string(rt.resolver.Variant()) {
			logger.Log.Warn("snapshot variant differs from config, starting a new shoe",
				zap.Int64("tableID", rt.cfg.ID), zap.String("snapshot", snap.Variant))
		} else {
			var codes []string
			if err := json.Unmarshal(snap.CardsJSON, &codes); err != nil {
				return fmt.Errorf("table %d snapshot cards: %w", rt.cfg.ID, err)
			}
			shoe, err := game.RestoreShoe(snap.ShoeNo, snap.Decks, codes)
			if err != nil {
				return err
			}
			rt.shoe = shoe
		}
		rt.rounds = roundCounter{day: snap.RoundDay, seq: snap.RoundSeq}
	}

	for _, r := range history {
		rt.rounds.observe(r.RoundNo)
		if rt.shoe != nil && r.ShoeNo == rt.shoe.Number {
			rt.roadmap.Append(entryFromRound(r))
		}
	}
	return nil
}

// Run cycles the table until ctx is done or an invariant violation halts
// it. Every phase waits its full duration.
func (rt *Runtime) Run(ctx context.Context) error {
	defer rt.persist()

	for {
		rt.enterBetting(ctx)
		if rt.clock.Sleep(ctx, rt.cfg.Betting()) != nil {
			return nil
		}

		rt.enterSealed(ctx)
		if rt.clock.Sleep(ctx, rt.cfg.Sealed()) != nil {
			return nil
		}

		out, err := rt.enterDealing(ctx)
		if err != nil {
			return rt.halt(ctx, err)
		}
		if rt.reveal(ctx, out) != nil {
			return nil
		}

		if err := rt.enterResult(ctx, out); err != nil {
			return rt.halt(ctx, err)
		}
		if rt.clock.Sleep(ctx, rt.cfg.Result()) != nil {
			return nil
		}
	}
}

func (rt *Runtime) enterBetting(ctx context.Context) {
	rt.mu.Lock()
	if rt.shoe == nil || rt.shoe.NeedsReplace(rt.resolver.MinCards()) {
		next := int64(1)
		if rt.shoe != nil {
			next = rt.shoe.Number + 1
		}
		rt.shoe = game.NewShoe(next, rt.cfg.Decks, rt.rng)
		rt.roadmap.Reset()
		logger.Log.Info("new shoe",
			zap.Int64("tableID", rt.cfg.ID),
			zap.Int64("shoeNo", rt.shoe.Number),
			zap.Int("cards", rt.shoe.Remaining()),
			zap.Int("burned", len(rt.shoe.Burned())))
	}

	now := rt.clock.Now()
	rt.round = &roundInfo{
		ID:        uuid.NewString(),
		No:        rt.rounds.next(now),
		ShoeNo:    rt.shoe.Number,
		StartedAt: now,
	}
	rt.ledger = bet.NewLedger(rt.db, rt.pub, bet.Config{
		TableID:  rt.cfg.ID,
		RoundID:  rt.round.ID,
		Resolver: rt.resolver,
		Limits:   rt.limits,
	})
	rt.outcome = nil
	ev := rt.setPhaseLocked(PhaseBetting, rt.cfg.Betting())
	snap := rt.snapshotLocked()
	rt.mu.Unlock()

	rt.publish(ctx, pubsub.TypePhase, ev)
	rt.save(snap)
}

func (rt *Runtime) enterSealed(ctx context.Context) {
	rt.mu.Lock()
	ledger := rt.ledger
	ledger.Freeze()
	ev := rt.setPhaseLocked(PhaseSealed, rt.cfg.Sealed())
	rt.mu.Unlock()

	rt.publish(ctx, pubsub.TypePhase, ev)
	rt.publish(ctx, pubsub.TypeBetTotals, TotalsEvent{RoundID: ledger.RoundID(), Totals: ledger.Totals()})
}

func (rt *Runtime) enterDealing(ctx context.Context) (*game.Outcome, error) {
	rt.mu.Lock()
	ev := rt.setPhaseLocked(PhaseDealing, rt.cfg.Dealing())
	out, err := rt.resolver.Resolve(rt.shoe)
	if err != nil {
		rt.mu.Unlock()
		return nil, fmt.Errorf("%w: table %d round %s: %v", appErr.ErrInvariantViolation, rt.cfg.ID, ev.RoundNo, err)
	}
	// dealt cards must leave the persisted shoe before any is revealed
	rt.save(rt.snapshotLocked())
	rt.mu.Unlock()
	rt.publish(ctx, pubsub.TypePhase, ev)
	return out, nil
}

// reveal paces card events across the dealing window, then waits out
// whatever is left of it.
func (rt *Runtime) reveal(ctx context.Context, out *game.Outcome) error {
	rt.mu.RLock()
	roundID := rt.round.ID
	deadline := rt.deadline
	rt.mu.RUnlock()

	for _, r := range out.Reveals {
		wait := rt.revealDelay
		if left := deadline.Sub(rt.clock.Now()); wait > left {
			wait = left
		}
		if err := rt.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		rt.publish(ctx, pubsub.TypeReveal, RevealEvent{RoundID: roundID, Reveal: r})
	}
	return rt.clock.Sleep(ctx, deadline.Sub(rt.clock.Now()))
}

// enterResult publishes and settles the round. Store failures are logged
// and the cycle continues; only invariant violations are returned.
func (rt *Runtime) enterResult(ctx context.Context, out *game.Outcome) error {
	rt.mu.Lock()
	rt.outcome = out
	ev := rt.setPhaseLocked(PhaseResult, rt.cfg.Result())
	round := *rt.round
	ledger := rt.ledger
	rt.mu.Unlock()

	rt.publish(ctx, pubsub.TypePhase, ev)
	rt.publish(ctx, pubsub.TypeResult, ResultEvent{RoundID: round.ID, RoundNo: round.No, Outcome: out})

	positions, err := ledger.Positions()
	if err != nil {
		return err
	}
	if rt.settler != nil {
		// settlement is not abandoned because shutdown began mid-result
		_, err := rt.settler.Settle(context.WithoutCancel(ctx), settle.Request{
			TableID:       rt.cfg.ID,
			RoundID:       round.ID,
			RoundNo:       round.No,
			ShoeNo:        round.ShoeNo,
			StartedAt:     round.StartedAt,
			Outcome:       out,
			CommissionPct: rt.cfg.CommissionPct,
			Positions:     positions,
		})
		if err != nil {
			if settle.IsHalting(err) {
				return err
			}
			logger.Log.Error("settle round failed",
				zap.Int64("tableID", rt.cfg.ID), zap.String("roundID", round.ID), zap.Error(err))
		}
	}

	rt.mu.Lock()
	rt.roadmap.Append(entryFromOutcome(round.No, round.ShoeNo, out))
	roadmap := rt.roadmap.Entries()
	snap := rt.snapshotLocked()
	rt.mu.Unlock()

	rt.publish(ctx, pubsub.TypeRoadmap, roadmap)
	rt.save(snap)
	return nil
}

func (rt *Runtime) halt(ctx context.Context, err error) error {
	rt.mu.Lock()
	rt.phase = PhaseHalted
	rt.haltErr = err
	if rt.ledger != nil {
		rt.ledger.Freeze()
	}
	rt.mu.Unlock()

	logger.Log.Error("table halted", zap.Int64("tableID", rt.cfg.ID), zap.Error(err))
	rt.publish(ctx, pubsub.TypeError, map[string]string{"code": "table_halted"})
	return err
}

// Halted returns the error that stopped the table, if any.
func (rt *Runtime) Halted() error {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.haltErr
}

func (rt *Runtime) PlaceBets(ctx context.Context, userID int64, entries []bet.Entry, noCommission bool) (*bet.Receipt, error) {
	ledger, err := rt.openLedger()
	if err != nil {
		return nil, err
	}
	receipt, err := ledger.Place(ctx, userID, entries, noCommission)
	if err != nil {
		return nil, err
	}
	rt.publish(ctx, pubsub.TypeBetTotals, TotalsEvent{RoundID: ledger.RoundID(), Totals: ledger.Totals()})
	return receipt, nil
}

func (rt *Runtime) ClearBets(ctx context.Context, userID int64) (int64, error) {
	ledger, err := rt.openLedger()
	if err != nil {
		return 0, err
	}
	refund, err := ledger.Clear(ctx, userID)
	if err != nil {
		return 0, err
	}
	rt.publish(ctx, pubsub.TypeBetTotals, TotalsEvent{RoundID: ledger.RoundID(), Totals: ledger.Totals()})
	return refund, nil
}

// openLedger returns the current ledger while betting is open. The ledger
// itself rejects work once frozen, so a phase flip after this check is
// still caught.
func (rt *Runtime) openLedger() (*bet.Ledger, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.phase != PhaseBetting || rt.ledger == nil {
		return nil, appErr.ErrPhaseClosed
	}
	return rt.ledger, nil
}

// State renders the table for one user. userID 0 omits personal bets.
func (rt *Runtime) State(userID int64) State {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	s := State{
		TableID:  rt.cfg.ID,
		Name:     rt.cfg.Name,
		Variant:  rt.resolver.Variant(),
		Phase:    rt.phase,
		BetTypes: rt.resolver.BetTypes(),
		Limits:   rt.limits,
		Roadmap:  rt.roadmap.Entries(),
	}
	if !rt.deadline.IsZero() {
		if left := rt.deadline.Sub(rt.clock.Now()); left > 0 {
			s.RemainingMs = left.Milliseconds()
		}
	}
	if rt.shoe != nil {
		s.ShoeNo = rt.shoe.Number
		s.CardsLeft = rt.shoe.Remaining()
	}
	if rt.round != nil {
		s.RoundID = rt.round.ID
		s.RoundNo = rt.round.No
	}
	if rt.ledger != nil {
		totals := rt.ledger.Totals()
		s.Totals = &totals
		if pos := rt.ledger.Position(userID); userID != 0 && pos != nil {
			s.MyBets = &MyBets{Reserved: pos.Reserved, ByType: pos.ByType, NoCommission: pos.NoCommission}
		}
	}
	if rt.phase == PhaseResult {
		s.Outcome = rt.outcome
	}
	return s
}

func (rt *Runtime) Roadmap() []RoadEntry {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.roadmap.Entries()
}

// Snapshot captures the persistable runtime state.
func (rt *Runtime) Snapshot() (model.TableSnapshot, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.shoe == nil {
		return model.TableSnapshot{}, false
	}
	return rt.snapshotLocked(), true
}

func (rt *Runtime) setPhaseLocked(p Phase, d time.Duration) PhaseEvent {
	rt.phase = p
	rt.deadline = rt.clock.Now().Add(d)
	ev := PhaseEvent{
		TableID:     rt.cfg.ID,
		Phase:       p,
		RemainingMs: d.Milliseconds(),
		Deadline:    rt.deadline.UnixMilli(),
	}
	if rt.round != nil {
		ev.RoundID = rt.round.ID
		ev.RoundNo = rt.round.No
		ev.ShoeNo = rt.round.ShoeNo
	}
	return ev
}

func (rt *Runtime) snapshotLocked() model.TableSnapshot {
	cards, err := json.Marshal(rt.shoe.Codes())
	if err != nil {
		cards = []byte("[]")
	}
	return model.TableSnapshot{
		TableID:   rt.cfg.ID,
		Variant:   string(rt.resolver.Variant()),
		ShoeNo:    rt.shoe.Number,
		Decks:     rt.shoe.Decks,
		Remaining: rt.shoe.Remaining(),
		CardsJSON: cards,
		RoundDay:  rt.rounds.day,
		RoundSeq:  rt.rounds.seq,
		LastPhase: string(rt.phase),
	}
}

func (rt *Runtime) save(snap model.TableSnapshot) {
	if rt.snaps != nil {
		rt.snaps.Save(snap)
	}
}

func (rt *Runtime) persist() {
	if snap, ok := rt.Snapshot(); ok {
		rt.save(snap)
	}
}

func (rt *Runtime) publish(ctx context.Context, typ string, data interface{}) {
	if rt.pub == nil {
		return
	}
	rt.pub.Publish(ctx, pubsub.Envelope{
		Type:  typ,
		Topic: pubsub.TableTopic(rt.cfg.ID),
		Seq:   atomic.AddInt64(&rt.seq, 1),
		Data:  data,
	})
}

// IsPhaseClosed reports whether err is a timing rejection rather than a
// validation failure.
func IsPhaseClosed(err error) bool {
	return errors.Is(err, appErr.ErrPhaseClosed)
}
