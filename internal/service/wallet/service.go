package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"table-service/internal/model"
	"table-service/internal/service/pubsub"
	appErr "table-service/pkg/errors"

	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	pub pubsub.Publisher
}

func NewService(db *gorm.DB, pub pubsub.Publisher) *Service {
	return &Service{db: db, pub: pub}
}

func (s *Service) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.Wallet{UserID: userID}, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// Deposit credits an external top-up.
func (s *Service) Deposit(ctx context.Context, userID, amount int64) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", appErr.ErrInvalidWalletPayload)
	}
	var wallet *model.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).FirstOrCreate(&model.Wallet{}, model.Wallet{UserID: userID}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Wallet{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"balance_available": gorm.Expr("balance_available + ?", amount),
				"balance_total":     gorm.Expr("balance_total + ?", amount),
				"updated_at":        time.Now(),
			}).Error; err != nil {
			return err
		}
		var err error
		wallet, err = load(tx, userID)
		if err != nil {
			return err
		}
		return writeLog(tx, userID, pubsub.ReasonDeposit, amount, wallet.BalanceAvailable, "", nil)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, wallet, pubsub.ReasonDeposit, amount, "")
	return wallet, nil
}

// Withdraw debits available balance only; reserved stakes cannot leave.
func (s *Service) Withdraw(ctx context.Context, userID, amount int64) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", appErr.ErrInvalidWalletPayload)
	}
	var wallet *model.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Wallet{}).
			Where("user_id = ? AND balance_available >= ?", userID, amount).
			Updates(map[string]interface{}{
				"balance_available": gorm.Expr("balance_available - ?", amount),
				"balance_total":     gorm.Expr("balance_total - ?", amount),
				"updated_at":        time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return appErr.ErrInsufficientBalance
		}
		var err error
		wallet, err = load(tx, userID)
		if err != nil {
			return err
		}
		return writeLog(tx, userID, pubsub.ReasonWithdraw, -amount, wallet.BalanceAvailable, "", nil)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, wallet, pubsub.ReasonWithdraw, -amount, "")
	return wallet, nil
}

func (s *Service) notify(ctx context.Context, w *model.Wallet, reason string, delta int64, roundID string) {
	pubsub.PublishBalance(ctx, s.pub, BalanceEvent(w, reason, delta, roundID))
}

func BalanceEvent(w *model.Wallet, reason string, delta int64, roundID string) pubsub.BalanceEvent {
	return pubsub.BalanceEvent{
		UserID:    w.UserID,
		Reason:    reason,
		Delta:     delta,
		Available: w.BalanceAvailable,
		Frozen:    w.BalanceFrozen,
		RoundID:   roundID,
	}
}
