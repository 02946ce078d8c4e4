package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"table-service/internal/model"
	"table-service/internal/service/pubsub"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory sqlite database migrated with every model.
// A single connection keeps concurrent transactions serialized.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func SeedWallet(t *testing.T, db *gorm.DB, userID, balance int64) {
	t.Helper()
	w := model.Wallet{UserID: userID, BalanceAvailable: balance, BalanceTotal: balance}
	if err := db.Create(&w).Error; err != nil {
		t.Fatalf("failed to seed wallet: %v", err)
	}
}

func LoadWallet(t *testing.T, db *gorm.DB, userID int64) model.Wallet {
	t.Helper()
	var w model.Wallet
	if err := db.Where("user_id = ?", userID).First(&w).Error; err != nil {
		t.Fatalf("failed to load wallet %d: %v", userID, err)
	}
	return w
}

// Recorder captures published envelopes.
type Recorder struct {
	mu   sync.Mutex
	msgs []pubsub.Envelope
}

func (r *Recorder) Publish(_ context.Context, env pubsub.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, env)
}

func (r *Recorder) Messages() []pubsub.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pubsub.Envelope(nil), r.msgs...)
}

func (r *Recorder) ByType(typ string) []pubsub.Envelope {
	var out []pubsub.Envelope
	for _, m := range r.Messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}
