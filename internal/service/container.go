package service

import (
	"context"
	"time"

	"table-service/internal/config"
	"table-service/internal/service/member"
	"table-service/internal/service/pubsub"
	"table-service/internal/service/report"
	"table-service/internal/service/settle"
	"table-service/internal/service/table"
	"table-service/internal/service/wallet"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Hub     *pubsub.Hub
	Wallet  *wallet.Service
	Settle  *settle.Service
	Tables  *table.Manager
	Report  *report.Service
	Members *member.Service
}

func NewContainer(db *gorm.DB, rdb *redis.Client, cfg *config.Config) (*Container, error) {
	hub := pubsub.NewHub(64)
	pub := pubsub.Multi{hub}
	if rdb != nil {
		pub = append(pub, pubsub.NewRedisPublisher(rdb, cfg.Redis.Prefix))
	}

	settler := settle.NewService(db, pub)
	tables, err := table.NewManager(db, pub, settler, table.RealClock(), table.ManagerOptions{
		Tables:           cfg.Tables,
		Stagger:          time.Duration(cfg.Game.StaggerSeconds) * time.Second,
		SnapshotInterval: time.Duration(cfg.Game.SnapshotInterval) * time.Second,
		RevealDelay:      time.Duration(cfg.Game.RevealDelayMs) * time.Millisecond,
		RoadmapSize:      cfg.Game.RoadmapSize,
	})
	if err != nil {
		return nil, err
	}

	return &Container{
		Hub:     hub,
		Wallet:  wallet.NewService(db, pub),
		Settle:  settler,
		Tables:  tables,
		Report:  report.NewService(db, cfg.Report, cfg.Game.DayStartHour),
		Members: member.NewService(db),
	}, nil
}

// Start restores persisted table state. It must run before Run.
func (c *Container) Start(ctx context.Context) error {
	return c.Tables.Restore(ctx)
}

// Run drives every table until ctx is done.
func (c *Container) Run(ctx context.Context) error {
	return c.Tables.Run(ctx)
}
