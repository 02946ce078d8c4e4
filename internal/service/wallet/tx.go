package wallet

import (
	"encoding/json"
	"fmt"
	"time"

	"table-service/internal/model"
	"table-service/internal/service/pubsub"
	appErr "table-service/pkg/errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// The helpers below run inside a caller-owned transaction so the balance
// move commits together with the bet rows it pays for.

// Reserve moves amount from available to frozen. The conditional update
// is the check-then-deduct: concurrent reservations for one user cannot
// overdraw because the row predicate is evaluated by the store.
func Reserve(tx *gorm.DB, userID, amount int64, roundID string) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: reserve amount must be > 0", appErr.ErrInvariantViolation)
	}
	result := tx.Model(&model.Wallet{}).
		Where("user_id = ? AND balance_available >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance_available": gorm.Expr("balance_available - ?", amount),
			"balance_frozen":    gorm.Expr("balance_frozen + ?", amount),
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, appErr.ErrInsufficientBalance
	}
	w, err := load(tx, userID)
	if err != nil {
		return nil, err
	}
	if err := writeLog(tx, userID, pubsub.ReasonBetPlaced, -amount, w.BalanceAvailable, roundID, nil); err != nil {
		return nil, err
	}
	return w, nil
}

// Release refunds a reservation that never reached settlement.
func Release(tx *gorm.DB, userID, amount int64, roundID string) (*model.Wallet, error) {
	result := tx.Model(&model.Wallet{}).
		Where("user_id = ? AND balance_frozen >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance_available": gorm.Expr("balance_available + ?", amount),
			"balance_frozen":    gorm.Expr("balance_frozen - ?", amount),
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: release %d exceeds frozen balance of user %d", appErr.ErrInvariantViolation, amount, userID)
	}
	w, err := load(tx, userID)
	if err != nil {
		return nil, err
	}
	if err := writeLog(tx, userID, pubsub.ReasonBetCleared, amount, w.BalanceAvailable, roundID, nil); err != nil {
		return nil, err
	}
	return w, nil
}

// Settle converts a reservation into its result: the stake leaves frozen,
// the payout (stake included) lands in available.
func Settle(tx *gorm.DB, userID, stake, payout int64, roundID string) (*model.Wallet, error) {
	net := payout - stake
	updates := map[string]interface{}{
		"balance_available": gorm.Expr("balance_available + ?", payout),
		"balance_frozen":    gorm.Expr("balance_frozen - ?", stake),
		"balance_total":     gorm.Expr("balance_total + ?", net),
		"updated_at":        time.Now(),
	}
	if net > 0 {
		updates["total_win"] = gorm.Expr("total_win + ?", net)
	} else if net < 0 {
		updates["total_consume"] = gorm.Expr("total_consume + ?", -net)
	}
	result := tx.Model(&model.Wallet{}).
		Where("user_id = ? AND balance_frozen >= ?", userID, stake).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: settle stake %d exceeds frozen balance of user %d", appErr.ErrInvariantViolation, stake, userID)
	}
	w, err := load(tx, userID)
	if err != nil {
		return nil, err
	}
	meta := map[string]interface{}{"stake": stake, "payout": payout}
	if err := writeLog(tx, userID, pubsub.ReasonSettlement, net, w.BalanceAvailable, roundID, meta); err != nil {
		return nil, err
	}
	return w, nil
}

func load(tx *gorm.DB, userID int64) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func writeLog(tx *gorm.DB, userID int64, typ string, delta, after int64, roundID string, meta map[string]interface{}) error {
	entry := model.BillingLog{
		UserID:       userID,
		Type:         typ,
		Delta:        delta,
		BalanceAfter: after,
		MetaJSON:     mustJSON(meta),
		CreatedAt:    time.Now(),
	}
	if roundID != "" {
		entry.RoundID = &roundID
	}
	return tx.Create(&entry).Error
}

func mustJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
