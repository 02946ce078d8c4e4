package table

import (
	"context"
	"fmt"
	"sort"
	"time"

	"table-service/internal/config"
	"table-service/internal/model"
	"table-service/internal/service/game"
	"table-service/internal/service/pubsub"
	"table-service/internal/service/settle"
	appErr "table-service/pkg/errors"
	"table-service/pkg/logger"
	"table-service/pkg/utils/random"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type ManagerOptions struct {
	Tables           []config.TableConfig
	Stagger          time.Duration
	SnapshotInterval time.Duration
	RevealDelay      time.Duration
	RoadmapSize      int
}

// Summary is the lobby view of one table.
type Summary struct {
	ID        int64        `json:"id,string"`
	Name      string       `json:"name"`
	Variant   game.Variant `json:"variant"`
	Phase     Phase        `json:"phase"`
	RoundNo   string       `json:"roundNo"`
	CardsLeft int          `json:"cardsLeft"`
}

// Manager owns every table runtime of the process.
type Manager struct {
	db       *gorm.DB
	snaps    *Snapshotter
	clock    Clock
	opts     ManagerOptions
	runtimes []*Runtime
	byID     map[int64]*Runtime
}

func NewManager(db *gorm.DB, pub pubsub.Publisher, settler *settle.Service, clock Clock, opts ManagerOptions) (*Manager, error) {
	if clock == nil {
		clock = RealClock()
	}
	m := &Manager{
		db:    db,
		snaps: NewSnapshotter(db),
		clock: clock,
		opts:  opts,
		byID:  make(map[int64]*Runtime, len(opts.Tables)),
	}
	for _, tc := range opts.Tables {
		rt, err := NewRuntime(Options{
			Table:       tc,
			RevealDelay: opts.RevealDelay,
			RoadmapSize: opts.RoadmapSize,
		}, Deps{
			DB:        db,
			Pub:       pub,
			Settler:   settler,
			Snapshots: m.snaps,
			Clock:     clock,
			Rand:      random.NewSource(),
		})
		if err != nil {
			return nil, err
		}
		if _, dup := m.byID[tc.ID]; dup {
			return nil, fmt.Errorf("duplicate table id %d", tc.ID)
		}
		m.runtimes = append(m.runtimes, rt)
		m.byID[tc.ID] = rt
	}
	return m, nil
}

// Restore loads every table's last snapshot and recent round history.
func (m *Manager) Restore(ctx context.Context) error {
	for _, rt := range m.runtimes {
		snap, err := m.snaps.Load(ctx, rt.ID())
		if err != nil {
			return fmt.Errorf("load snapshot of table %d: %w", rt.ID(), err)
		}
		var history []model.Round
		if err := m.db.WithContext(ctx).
			Where("table_id = ?", rt.ID()).
			Order("started_at desc").
			Limit(m.roadmapSize()).
			Find(&history).Error; err != nil {
			return fmt.Errorf("load rounds of table %d: %w", rt.ID(), err)
		}
		for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
			history[i], history[j] = history[j], history[i]
		}
		if err := rt.Restore(snap, history); err != nil {
			return err
		}
		if snap != nil {
			logger.Log.Info("table restored",
				zap.Int64("tableID", rt.ID()),
				zap.Int64("shoeNo", snap.ShoeNo),
				zap.Int("remaining", snap.Remaining),
				zap.String("lastPhase", snap.LastPhase))
		}
	}
	return nil
}

// Run starts every table, each offset by the stagger so phase boundaries
// do not coincide. A halted table stops alone; Run returns once ctx is
// done and all tables have stopped, reporting the first halt.
func (m *Manager) Run(ctx context.Context) error {
	snapCtx, stopSnaps := context.WithCancel(context.Background())
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		m.snaps.Run(snapCtx)
	}()

	var g errgroup.Group
	for i, rt := range m.runtimes {
		offset := time.Duration(i) * m.opts.Stagger
		g.Go(func() error {
			if err := m.clock.Sleep(ctx, offset); err != nil {
				return nil
			}
			logger.Log.Info("table started", zap.Int64("tableID", rt.ID()), zap.String("variant", string(rt.Variant())))
			return rt.Run(ctx)
		})
	}
	if m.opts.SnapshotInterval > 0 {
		g.Go(func() error {
			m.snapshotLoop(ctx)
			return nil
		})
	}

	err := g.Wait()
	stopSnaps()
	<-snapDone
	return err
}

func (m *Manager) snapshotLoop(ctx context.Context) {
	for m.clock.Sleep(ctx, m.opts.SnapshotInterval) == nil {
		for _, rt := range m.runtimes {
			if snap, ok := rt.Snapshot(); ok {
				m.snaps.Save(snap)
			}
		}
	}
}

func (m *Manager) Get(tableID int64) (*Runtime, error) {
	rt, ok := m.byID[tableID]
	if !ok {
		return nil, appErr.ErrTableNotFound
	}
	return rt, nil
}

func (m *Manager) List() []Summary {
	out := make([]Summary, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		st := rt.State(0)
		out = append(out, Summary{
			ID:        st.TableID,
			Name:      st.Name,
			Variant:   st.Variant,
			Phase:     st.Phase,
			RoundNo:   st.RoundNo,
			CardsLeft: st.CardsLeft,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) roadmapSize() int {
	if m.opts.RoadmapSize > 0 {
		return m.opts.RoadmapSize
	}
	return 72
}
