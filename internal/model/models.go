package model

import (
	"time"

	"gorm.io/datatypes"
)

// 2.1 User (owned by the account service, read here for agent lines)

type User struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Nickname    string
	BindAgentID *int64 `gorm:"index"`
	AgentPath   string // "A>B>C"
	Status      string `gorm:"default:normal;not null"` // normal/banned
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// 2.2 Wallet & Billing

// Wallet invariant: BalanceAvailable + BalanceFrozen == BalanceTotal.
// BalanceFrozen holds stakes reserved by unsettled bets.
type Wallet struct {
	UserID           int64 `gorm:"primaryKey"`
	BalanceTotal     int64
	BalanceAvailable int64
	BalanceFrozen    int64
	TotalWin         int64
	TotalConsume     int64
	UpdatedAt        time.Time
}

type BillingLog struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	UserID       int64 `gorm:"index"`
	Type         string // bet_placed/bet_cleared/settlement/deposit/withdraw
	Delta        int64
	BalanceAfter int64
	RoundID      *string `gorm:"size:64"`
	MetaJSON     datatypes.JSON
	CreatedAt    time.Time
}

// 2.3 Table runtime, Round, Bet

// TableSnapshot is the crash-recoverable runtime state of one table.
type TableSnapshot struct {
	TableID   int64 `gorm:"primaryKey;autoIncrement:false"`
	Variant   string
	ShoeNo    int64
	Decks     int
	Remaining int
	CardsJSON datatypes.JSON // remaining card codes in deal order
	RoundDay  string         `gorm:"size:8"` // YYYYMMDD of the last allocated round
	RoundSeq  int
	LastPhase string
	UpdatedAt time.Time
}

type Round struct {
	ID          string `gorm:"primaryKey;size:64"`
	TableID     int64  `gorm:"index:idx_rounds_table_start"`
	RoundNo     string `gorm:"size:16"`
	ShoeNo      int64
	Variant     string
	Result      string
	PlayerPair  bool
	BankerPair  bool
	SuitedTie   bool
	OutcomeJSON datatypes.JSON
	TotalBet    int64
	TotalPayout int64
	StartedAt   time.Time `gorm:"index:idx_rounds_table_start"`
	SettledAt   *time.Time
}

const (
	BetStatusPending = "pending"
	BetStatusWon     = "won"
	BetStatusLost    = "lost"
	BetStatusPush    = "push"
)

// Bet is one submission batch. It is created pending and resolved once.
type Bet struct {
	ID           string `gorm:"primaryKey;size:36"`
	UserID       int64  `gorm:"index"`
	TableID      int64  `gorm:"index"`
	RoundID      string `gorm:"size:64;index"`
	EntriesJSON  datatypes.JSON
	Amount       int64
	Payout       int64
	Commission   int64
	NoCommission bool
	Status       string `gorm:"size:16;default:pending;index"`
	CreatedAt    time.Time
	SettledAt    *time.Time `gorm:"index"`
}

func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Wallet{},
		&BillingLog{},
		&TableSnapshot{},
		&Round{},
		&Bet{},
	}
}
