package member

import (
	"context"
	"errors"
	"strings"
	"time"

	"table-service/internal/model"
	appErr "table-service/pkg/errors"
	"table-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	StatusNormal = "normal"
	StatusBanned = "banned"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Service struct {
	db *gorm.DB
}

type ListFilter struct {
	Page    int
	Size    int
	Status  string
	AgentID *int64
}

type ListResult struct {
	Items []model.User `json:"items"`
	Total int64        `json:"total"`
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (f *ListFilter) sanitize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Size <= 0 {
		f.Size = defaultPageSize
	}
	if f.Size > maxPageSize {
		f.Size = maxPageSize
	}
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
}

func applyFilters(db *gorm.DB, filter ListFilter) *gorm.DB {
	if filter.Status != "" {
		db = db.Where("LOWER(status) = ?", filter.Status)
	}
	if filter.AgentID != nil {
		db = db.Where("bind_agent_id = ?", *filter.AgentID)
	}
	return db
}

func (s *Service) Get(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CheckActive rejects banned members. Unknown ids pass: accounts live in
// the external auth service and a member row may not exist yet.
func (s *Service) CheckActive(ctx context.Context, userID int64) error {
	var statuses []string
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Pluck("status", &statuses).Error
	if err != nil {
		return err
	}
	if len(statuses) > 0 && strings.EqualFold(statuses[0], StatusBanned) {
		return appErr.ErrUserBanned
	}
	return nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	filter.sanitize()

	var total int64
	if err := applyFilters(s.db.WithContext(ctx).Model(&model.User{}), filter).Count(&total).Error; err != nil {
		return nil, err
	}

	result := &ListResult{Items: make([]model.User, 0), Total: total}
	if total == 0 {
		return result, nil
	}

	if err := applyFilters(s.db.WithContext(ctx).Model(&model.User{}), filter).
		Order("id DESC").
		Limit(filter.Size).
		Offset((filter.Page - 1) * filter.Size).
		Find(&result.Items).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) SetStatus(ctx context.Context, userID int64, status, reason string) (*model.User, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != StatusNormal && status != StatusBanned {
		return nil, appErr.ErrInvalidUserStatus
	}

	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, appErr.ErrUserNotFound
	}

	logger.Log.Info("admin updated user status",
		zap.Int64("userID", userID),
		zap.String("status", status),
		zap.String("reason", strings.TrimSpace(reason)))

	return s.Get(ctx, userID)
}
