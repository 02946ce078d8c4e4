package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"table-service/internal/model"
	"table-service/internal/service/bet"
	"table-service/internal/service/game"
	"table-service/internal/service/pubsub"
	"table-service/internal/service/wallet"
	appErr "table-service/pkg/errors"
	"table-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Request describes one resolved round and the book that was open on it.
type Request struct {
	TableID       int64
	RoundID       string
	RoundNo       string
	ShoeNo        int64
	StartedAt     time.Time
	Outcome       *game.Outcome
	CommissionPct float64
	Positions     []*bet.Position
}

type UserResult struct {
	UserID     int64 `json:"userId"`
	Stake      int64 `json:"stake"`
	Payout     int64 `json:"payout"`
	Commission int64 `json:"commission"`
	Net        int64 `json:"net"`
	Available  int64 `json:"available"`
}

type Summary struct {
	RoundID     string       `json:"roundId"`
	TotalBet    int64        `json:"totalBet"`
	TotalPayout int64        `json:"totalPayout"`
	Users       []UserResult `json:"users"`
}

type Service struct {
	db  *gorm.DB
	pub pubsub.Publisher
}

func NewService(db *gorm.DB, pub pubsub.Publisher) *Service {
	return &Service{db: db, pub: pub}
}

type userTally struct {
	stake      int64
	payout     int64
	commission int64
}

// Settle pays out every pending bet of the round in one transaction and
// writes the round record. A round settles at most once: bet rows move
// out of pending with a guarded update and the round record is keyed by
// round ID.
func (s *Service) Settle(ctx context.Context, req Request) (*Summary, error) {
	if req.Outcome == nil || req.RoundID == "" {
		return nil, fmt.Errorf("%w: settlement needs a round and an outcome", appErr.ErrInvariantViolation)
	}

	reserved := make(map[int64]int64, len(req.Positions))
	for _, pos := range req.Positions {
		reserved[pos.UserID] = pos.Reserved
	}

	now := time.Now()
	summary := &Summary{RoundID: req.RoundID}
	var wallets []*model.Wallet

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.Round{}).Where("id = ?", req.RoundID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("%w: round %s already settled", appErr.ErrInvariantViolation, req.RoundID)
		}

		var rows []model.Bet
		if err := tx.Where("round_id = ? AND status = ?", req.RoundID, model.BetStatusPending).
			Order("created_at, id").Find(&rows).Error; err != nil {
			return err
		}

		tallies := make(map[int64]*userTally)
		for i := range rows {
			row := &rows[i]
			payout, commission, err := s.settleRow(tx, row, req, now)
			if err != nil {
				return err
			}
			t := tallies[row.UserID]
			if t == nil {
				t = &userTally{}
				tallies[row.UserID] = t
			}
			t.stake += row.Amount
			t.payout += payout
			t.commission += commission
		}

		for uid, stake := range reserved {
			if stake == 0 {
				continue
			}
			if t := tallies[uid]; t == nil || t.stake != stake {
				return fmt.Errorf("%w: user %d reserved %d but no matching pending stake",
					appErr.ErrInvariantViolation, uid, stake)
			}
		}

		userIDs := make([]int64, 0, len(tallies))
		for uid := range tallies {
			userIDs = append(userIDs, uid)
		}
		sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

		for _, uid := range userIDs {
			t := tallies[uid]
			if rs, ok := reserved[uid]; !ok || rs != t.stake {
				return fmt.Errorf("%w: user %d has pending stake %d but reservation %d",
					appErr.ErrInvariantViolation, uid, t.stake, rs)
			}
			w, err := wallet.Settle(tx, uid, t.stake, t.payout, req.RoundID)
			if err != nil {
				return err
			}
			wallets = append(wallets, w)
			summary.TotalBet += t.stake
			summary.TotalPayout += t.payout
			summary.Users = append(summary.Users, UserResult{
				UserID:     uid,
				Stake:      t.stake,
				Payout:     t.payout,
				Commission: t.commission,
				Net:        t.payout - t.stake,
				Available:  w.BalanceAvailable,
			})
		}

		outcome, err := json.Marshal(req.Outcome)
		if err != nil {
			return err
		}
		return tx.Create(&model.Round{
			ID:          req.RoundID,
			TableID:     req.TableID,
			RoundNo:     req.RoundNo,
			ShoeNo:      req.ShoeNo,
			Variant:     string(req.Outcome.Variant),
			Result:      req.Outcome.Result,
			PlayerPair:  req.Outcome.PlayerPair,
			BankerPair:  req.Outcome.BankerPair,
			SuitedTie:   req.Outcome.SuitedTie,
			OutcomeJSON: datatypes.JSON(outcome),
			TotalBet:    summary.TotalBet,
			TotalPayout: summary.TotalPayout,
			StartedAt:   req.StartedAt,
			SettledAt:   &now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	for i, w := range wallets {
		u := summary.Users[i]
		pubsub.PublishBalance(ctx, s.pub, wallet.BalanceEvent(w, pubsub.ReasonSettlement, u.Net, req.RoundID))
	}

	logger.Log.Info("round settled",
		zap.Int64("tableID", req.TableID),
		zap.String("roundID", req.RoundID),
		zap.String("result", req.Outcome.Result),
		zap.Int("users", len(summary.Users)),
		zap.Int64("totalBet", summary.TotalBet),
		zap.Int64("totalPayout", summary.TotalPayout))
	return summary, nil
}

func (s *Service) settleRow(tx *gorm.DB, row *model.Bet, req Request, now time.Time) (int64, int64, error) {
	var entries []bet.Entry
	if err := json.Unmarshal(row.EntriesJSON, &entries); err != nil {
		return 0, 0, fmt.Errorf("%w: bet %s entries unreadable: %v", appErr.ErrInvariantViolation, row.ID, err)
	}
	opts := game.PayoutOptions{NoCommission: row.NoCommission, CommissionPct: req.CommissionPct}

	var sum, payout, commission int64
	statuses := make([]game.EntryStatus, 0, len(entries))
	for _, e := range entries {
		p := game.Settle(req.Outcome, e.Type, e.Amount, opts)
		sum += e.Amount
		payout += p.Payout
		commission += p.Commission
		statuses = append(statuses, p.Status)
	}
	if sum != row.Amount {
		return 0, 0, fmt.Errorf("%w: bet %s amount %d but entries sum to %d",
			appErr.ErrInvariantViolation, row.ID, row.Amount, sum)
	}

	status := betStatus(statuses)

	result := tx.Model(&model.Bet{}).
		Where("id = ? AND status = ?", row.ID, model.BetStatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"payout":     payout,
			"commission": commission,
			"settled_at": now,
		})
	if result.Error != nil {
		return 0, 0, result.Error
	}
	if result.RowsAffected != 1 {
		return 0, 0, fmt.Errorf("%w: bet %s is no longer pending", appErr.ErrInvariantViolation, row.ID)
	}
	return payout, commission, nil
}

// betStatus derives the bet status from its entries, not from the net:
// won if any entry won, push only if every entry pushed, lost otherwise.
func betStatus(entries []game.EntryStatus) string {
	pushed := len(entries) > 0
	for _, st := range entries {
		if st == game.EntryWon {
			return model.BetStatusWon
		}
		if st != game.EntryPush {
			pushed = false
		}
	}
	if pushed {
		return model.BetStatusPush
	}
	return model.BetStatusLost
}

// IsHalting reports whether a settlement error must stop the table.
func IsHalting(err error) bool {
	return errors.Is(err, appErr.ErrInvariantViolation)
}
