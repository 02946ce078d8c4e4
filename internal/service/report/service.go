package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"table-service/internal/config"
	"table-service/internal/model"
	appErr "table-service/pkg/errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Scope string

const (
	ScopeMember   Scope = "member"
	ScopeAgent    Scope = "agent"
	ScopePlatform Scope = "platform"
)

type Query struct {
	Scope     Scope
	SubjectID int64
	// At selects the game day containing this instant. Zero means now.
	At        time.Time
	// Date (YYYY-MM-DD) selects the game day starting on that date and
	// takes precedence over At.
	Date      string
}

type TableLine struct {
	TableID    int64 `json:"tableId,string"`
	Bets       int64 `json:"bets"`
	Wagered    int64 `json:"wagered"`
	Payout     int64 `json:"payout"`
	Commission int64 `json:"commission"`
}

// Report is the house-side settlement of one population over a game day.
type Report struct {
	Scope      Scope       `json:"scope"`
	SubjectID  int64       `json:"subjectId,string,omitempty"`
	From       time.Time   `json:"from"`
	To         time.Time   `json:"to"`
	Members    int64       `json:"members"`
	Bettors    int64       `json:"bettors"`
	Bets       int64       `json:"bets"`
	Wagered    int64       `json:"wagered"`
	Payout     int64       `json:"payout"`
	Commission int64       `json:"commission"`
	Rebate     int64       `json:"rebate"`
	Net        int64       `json:"net"`
	ByTable    []TableLine `json:"byTable"`
}

type Service struct {
	db           *gorm.DB
	cfg          config.ReportConfig
	dayStartHour int
	now          func() time.Time
}

func NewService(db *gorm.DB, cfg config.ReportConfig, dayStartHour int) *Service {
	if cfg.MaxAgentDepth <= 0 {
		cfg.MaxAgentDepth = 16
	}
	return &Service{db: db, cfg: cfg, dayStartHour: dayStartHour, now: time.Now}
}

// GameDay returns the [from, to) window of the game day containing t.
// A game day starts at startHour local time, not at midnight.
func GameDay(t time.Time, startHour int) (time.Time, time.Time) {
	from := time.Date(t.Year(), t.Month(), t.Day(), startHour, 0, 0, 0, t.Location())
	if t.Before(from) {
		from = from.AddDate(0, 0, -1)
	}
	return from, from.AddDate(0, 0, 1)
}

// Downline walks the agent tree breadth-first from agentID. The tree is
// operator-edited, so cycles are cut by the visited set and the walk
// stops after maxDepth levels. The agent itself is not included.
func (s *Service) Downline(ctx context.Context, agentID int64, maxDepth int) ([]int64, error) {
	visited := map[int64]struct{}{agentID: {}}
	frontier := []int64{agentID}
	var members []int64

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var children []int64
		if err := s.db.WithContext(ctx).Model(&model.User{}).
			Where("bind_agent_id IN ?", frontier).
			Order("id").
			Pluck("id", &children).Error; err != nil {
			return nil, err
		}
		next := make([]int64, 0, len(children))
		for _, id := range children {
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = struct{}{}
			members = append(members, id)
			next = append(next, id)
		}
		frontier = next
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, nil
}

type aggregateRow struct {
	TableID    int64
	Bets       int64
	Wagered    int64
	Payout     int64
	Commission int64
}

// Settlement aggregates settled bets for the scope over one game day.
func (s *Service) Settlement(ctx context.Context, q Query) (*Report, error) {
	at := q.At
	if q.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", q.Date, time.Local)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q", appErr.ErrInvalidReportScope, q.Date)
		}
		at = d.Add(time.Duration(s.dayStartHour) * time.Hour)
	}
	if at.IsZero() {
		at = s.now()
	}
	from, to := GameDay(at, s.dayStartHour)
	rep := &Report{Scope: q.Scope, SubjectID: q.SubjectID, From: from, To: to, ByTable: []TableLine{}}

	var userIDs []int64
	switch q.Scope {
	case ScopeMember:
		if q.SubjectID <= 0 {
			return nil, fmt.Errorf("%w: member scope needs a user id", appErr.ErrInvalidReportScope)
		}
		userIDs = []int64{q.SubjectID}
	case ScopeAgent:
		if q.SubjectID <= 0 {
			return nil, fmt.Errorf("%w: agent scope needs an agent id", appErr.ErrInvalidReportScope)
		}
		ids, err := s.Downline(ctx, q.SubjectID, s.cfg.MaxAgentDepth)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return rep, nil
		}
		userIDs = ids
	case ScopePlatform:
		rep.SubjectID = 0
	default:
		return nil, fmt.Errorf("%w: %q", appErr.ErrInvalidReportScope, q.Scope)
	}
	rep.Members = int64(len(userIDs))

	settled := s.settledBets(ctx, from, to, userIDs)

	var rows []aggregateRow
	if err := settled.
		Select("table_id, COUNT(*) AS bets, COALESCE(SUM(amount),0) AS wagered, " +
			"COALESCE(SUM(payout),0) AS payout, COALESCE(SUM(commission),0) AS commission").
		Group("table_id").
		Order("table_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		rep.Bets += r.Bets
		rep.Wagered += r.Wagered
		rep.Payout += r.Payout
		rep.Commission += r.Commission
		rep.ByTable = append(rep.ByTable, TableLine(r))
	}

	if err := s.settledBets(ctx, from, to, userIDs).
		Distinct("user_id").
		Count(&rep.Bettors).Error; err != nil {
		return nil, err
	}

	rep.Rebate = decimal.NewFromInt(rep.Wagered).
		Mul(decimal.NewFromFloat(s.cfg.RebatePct)).
		Div(decimal.NewFromInt(100)).
		Floor().IntPart()
	rep.Net = Net(rep.Wagered, rep.Payout, rep.Commission, rep.Rebate, s.cfg.IncludeCommission)
	return rep, nil
}

// Net is the house result: stakes kept minus rebate paid back. Commission
// withheld from winners is house revenue only when includeCommission is set.
func Net(wagered, payout, commission, rebate int64, includeCommission bool) int64 {
	net := wagered - payout - rebate
	if !includeCommission {
		net -= commission
	}
	return net
}

func (s *Service) settledBets(ctx context.Context, from, to time.Time, userIDs []int64) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&model.Bet{}).
		Where("status <> ?", model.BetStatusPending).
		Where("settled_at >= ? AND settled_at < ?", from, to)
	if userIDs != nil {
		tx = tx.Where("user_id IN ?", userIDs)
	}
	return tx
}
