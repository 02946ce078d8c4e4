package table

import (
	"context"
	"sort"
	"sync"
	"time"

	"table-service/internal/model"
	"table-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Snapshotter writes table snapshots in the background. Writes are
// latest-wins per table: a newer snapshot replaces one still waiting.
type Snapshotter struct {
	db *gorm.DB

	mu      sync.Mutex
	pending map[int64]model.TableSnapshot
	wake    chan struct{}
}

func NewSnapshotter(db *gorm.DB) *Snapshotter {
	return &Snapshotter{
		db:      db,
		pending: make(map[int64]model.TableSnapshot),
		wake:    make(chan struct{}, 1),
	}
}

// Save queues a snapshot and never blocks the caller.
func (s *Snapshotter) Save(snap model.TableSnapshot) {
	s.mu.Lock()
	s.pending[snap.TableID] = snap
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many tables have an unwritten snapshot.
func (s *Snapshotter) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Run writes queued snapshots until ctx is done, then flushes once more.
func (s *Snapshotter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-s.wake:
			s.Flush(ctx)
		}
	}
}

// Flush writes every queued snapshot. A failed write is requeued unless
// a newer snapshot for the same table arrived meanwhile.
func (s *Snapshotter) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[int64]model.TableSnapshot)
	s.mu.Unlock()

	ids := make([]int64, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		snap := batch[id]
		if err := s.write(ctx, snap); err != nil {
			logger.Log.Error("persist table snapshot failed", zap.Int64("tableID", id), zap.Error(err))
			s.mu.Lock()
			if _, newer := s.pending[id]; !newer {
				s.pending[id] = snap
			}
			s.mu.Unlock()
		}
	}
}

func (s *Snapshotter) write(ctx context.Context, snap model.TableSnapshot) error {
	snap.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "table_id"}},
			UpdateAll: true,
		}).
		Create(&snap).Error
}

// Load returns the persisted snapshot of a table, or nil.
func (s *Snapshotter) Load(ctx context.Context, tableID int64) (*model.TableSnapshot, error) {
	var snaps []model.TableSnapshot
	if err := s.db.WithContext(ctx).Where("table_id = ?", tableID).Limit(1).Find(&snaps).Error; err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}
