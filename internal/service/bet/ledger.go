package bet

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"table-service/internal/model"
	"table-service/internal/service/game"
	"table-service/internal/service/pubsub"
	"table-service/internal/service/wallet"
	appErr "table-service/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Entry struct {
	Type   game.BetType `json:"type"`
	Amount int64        `json:"amount"`
}

// Limit bounds the cumulative amount a user may hold on one bet type.
// Zero means unbounded.
type Limit struct {
	Min int64
	Max int64
}

type Config struct {
	TableID  int64
	RoundID  string
	Resolver game.Resolver
	Limits   map[game.BetType]Limit
}

// Position is one user's book for the round.
type Position struct {
	UserID       int64
	Reserved     int64
	ByType       map[game.BetType]int64
	NoCommission bool
	BetIDs       []string
}

type Receipt struct {
	BetID     string  `json:"betId"`
	Entries   []Entry `json:"entries"`
	Amount    int64   `json:"amount"`
	Reserved  int64   `json:"reserved"`
	Available int64   `json:"available"`
}

type Totals struct {
	ByType  map[game.BetType]int64 `json:"byType"`
	Bettors int                    `json:"bettors"`
	Amount  int64                  `json:"amount"`
}

// Ledger holds the open bets of one round. Placement and clearing are
// serialized with Freeze, so nothing lands after the book is closed.
type Ledger struct {
	db  *gorm.DB
	pub pubsub.Publisher
	cfg Config

	mu        sync.Mutex
	open      bool
	positions map[int64]*Position
}

func NewLedger(db *gorm.DB, pub pubsub.Publisher, cfg Config) *Ledger {
	return &Ledger{
		db:        db,
		pub:       pub,
		cfg:       cfg,
		open:      true,
		positions: make(map[int64]*Position),
	}
}

func (l *Ledger) RoundID() string {
	return l.cfg.RoundID
}

// Place applies a batch of entries atomically: all of them are reserved
// and recorded, or none are.
func (l *Ledger) Place(ctx context.Context, userID int64, entries []Entry, noCommission bool) (*Receipt, error) {
	merged, total, err := l.normalize(entries)
	if err != nil {
		return nil, err
	}
	receipt, w, err := l.place(ctx, userID, merged, total, noCommission)
	if err != nil {
		return nil, err
	}
	// published outside mu so a slow broker never stalls Freeze
	pubsub.PublishBalance(ctx, l.pub, wallet.BalanceEvent(w, pubsub.ReasonBetPlaced, -total, l.cfg.RoundID))
	return receipt, nil
}

func (l *Ledger) place(ctx context.Context, userID int64, merged map[game.BetType]int64, total int64, noCommission bool) (*Receipt, *model.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return nil, nil, appErr.ErrPhaseClosed
	}

	pos := l.positions[userID]
	if pos != nil && pos.Reserved > 0 && pos.NoCommission != noCommission {
		return nil, nil, appErr.ErrCommissionModeConflict
	}
	if err := l.checkLimits(pos, merged); err != nil {
		return nil, nil, err
	}

	betID := uuid.NewString()
	batch := make([]Entry, 0, len(merged))
	for bt, amt := range merged {
		batch = append(batch, Entry{Type: bt, Amount: amt})
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Type < batch[j].Type })

	var w *model.Wallet
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = wallet.Reserve(tx, userID, total, l.cfg.RoundID)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(batch)
		if err != nil {
			return err
		}
		return tx.Create(&model.Bet{
			ID:           betID,
			UserID:       userID,
			TableID:      l.cfg.TableID,
			RoundID:      l.cfg.RoundID,
			EntriesJSON:  datatypes.JSON(raw),
			Amount:       total,
			NoCommission: noCommission,
			Status:       model.BetStatusPending,
			CreatedAt:    time.Now(),
		}).Error
	})
	if err != nil {
		return nil, nil, err
	}

	if pos == nil {
		pos = &Position{UserID: userID, ByType: make(map[game.BetType]int64)}
		l.positions[userID] = pos
	}
	pos.NoCommission = noCommission
	pos.Reserved += total
	for bt, amt := range merged {
		pos.ByType[bt] += amt
	}
	pos.BetIDs = append(pos.BetIDs, betID)

	return &Receipt{
		BetID:     betID,
		Entries:   batch,
		Amount:    total,
		Reserved:  pos.Reserved,
		Available: w.BalanceAvailable,
	}, w, nil
}

// Clear refunds the user's whole reservation for the round.
func (l *Ledger) Clear(ctx context.Context, userID int64) (int64, error) {
	refund, w, err := l.clear(ctx, userID)
	if err != nil {
		return 0, err
	}
	pubsub.PublishBalance(ctx, l.pub, wallet.BalanceEvent(w, pubsub.ReasonBetCleared, refund, l.cfg.RoundID))
	return refund, nil
}

func (l *Ledger) clear(ctx context.Context, userID int64) (int64, *model.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return 0, nil, appErr.ErrPhaseClosed
	}
	pos := l.positions[userID]
	if pos == nil || pos.Reserved == 0 {
		return 0, nil, appErr.ErrNoBetsToClear
	}
	refund := pos.Reserved

	var w *model.Wallet
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("round_id = ? AND user_id = ? AND status = ?", l.cfg.RoundID, userID, model.BetStatusPending).
			Delete(&model.Bet{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(pos.BetIDs)) {
			return fmt.Errorf("%w: expected %d pending bets for user %d, deleted %d",
				appErr.ErrInvariantViolation, len(pos.BetIDs), userID, result.RowsAffected)
		}
		var err error
		w, err = wallet.Release(tx, userID, refund, l.cfg.RoundID)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	delete(l.positions, userID)
	return refund, w, nil
}

// Freeze closes the book. Returns false if it was already closed.
func (l *Ledger) Freeze() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.open
	l.open = false
	return was
}

func (l *Ledger) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *Ledger) Reserved(userID int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos := l.positions[userID]; pos != nil {
		return pos.Reserved
	}
	return 0
}

// Position returns a copy of one user's book, or nil.
func (l *Ledger) Position(userID int64) *Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos := l.positions[userID]
	if pos == nil {
		return nil
	}
	return pos.clone()
}

// Positions returns copies of every user's book after checking that each
// reservation equals the sum of its entries.
func (l *Ledger) Positions() ([]*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Position, 0, len(l.positions))
	for uid, pos := range l.positions {
		var sum int64
		for _, amt := range pos.ByType {
			sum += amt
		}
		if sum != pos.Reserved || pos.Reserved < 0 {
			return nil, fmt.Errorf("%w: user %d reserved %d but entries sum to %d",
				appErr.ErrInvariantViolation, uid, pos.Reserved, sum)
		}
		out = append(out, pos.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Totals is the real aggregate of the book, broadcast to the table.
func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := Totals{ByType: make(map[game.BetType]int64)}
	for _, pos := range l.positions {
		if pos.Reserved == 0 {
			continue
		}
		t.Bettors++
		t.Amount += pos.Reserved
		for bt, amt := range pos.ByType {
			t.ByType[bt] += amt
		}
	}
	return t
}

func (l *Ledger) normalize(entries []Entry) (map[game.BetType]int64, int64, error) {
	if len(entries) == 0 {
		return nil, 0, fmt.Errorf("%w: no entries", appErr.ErrInvalidBet)
	}
	merged := make(map[game.BetType]int64, len(entries))
	var total int64
	for _, e := range entries {
		if !game.IsBetType(l.cfg.Resolver, e.Type) {
			return nil, 0, fmt.Errorf("%w: unknown bet type %q", appErr.ErrInvalidBet, e.Type)
		}
		if e.Amount <= 0 {
			return nil, 0, fmt.Errorf("%w: amount must be > 0", appErr.ErrInvalidBet)
		}
		merged[e.Type] += e.Amount
		total += e.Amount
	}
	return merged, total, nil
}

func (l *Ledger) checkLimits(pos *Position, merged map[game.BetType]int64) error {
	for bt, amt := range merged {
		limit, ok := l.cfg.Limits[bt]
		if !ok {
			continue
		}
		cumulative := amt
		if pos != nil {
			cumulative += pos.ByType[bt]
		}
		if limit.Min > 0 && cumulative < limit.Min {
			return fmt.Errorf("%w: %s below minimum %d", appErr.ErrBetOutOfRange, bt, limit.Min)
		}
		if limit.Max > 0 && cumulative > limit.Max {
			return fmt.Errorf("%w: %s above maximum %d", appErr.ErrBetOutOfRange, bt, limit.Max)
		}
	}
	return nil
}

func (p *Position) clone() *Position {
	c := &Position{
		UserID:       p.UserID,
		Reserved:     p.Reserved,
		NoCommission: p.NoCommission,
		ByType:       make(map[game.BetType]int64, len(p.ByType)),
		BetIDs:       append([]string(nil), p.BetIDs...),
	}
	for bt, amt := range p.ByType {
		c.ByType[bt] = amt
	}
	return c
}
