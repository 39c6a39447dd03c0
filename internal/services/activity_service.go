package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/printrail/printbridge/internal/models"
	"github.com/printrail/printbridge/pkg/logger"
)

// ActivityEntry describes a single audit trail event.
type ActivityEntry struct {
	OrganizationID string
	UserID         string
	Action         string
	EntityType     string
	EntityID       string
	Metadata       map[string]any
}

// ActivityService appends audit trail rows for organization mutations.
type ActivityService struct {
	db *gorm.DB
}

// NewActivityService constructs an ActivityService instance.
func NewActivityService(db *gorm.DB) (*ActivityService, error) {
	if db == nil {
		return nil, errors.New("activity service: db is required")
	}
	return &ActivityService{db: db}, nil
}

// Record persists one activity log row.
func (s *ActivityService) Record(ctx context.Context, entry ActivityEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.OrganizationID) == "" {
		return errors.New("activity service: organization id is required")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("activity service: action is required")
	}

	row := models.ActivityLog{
		OrganizationID: entry.OrganizationID,
		UserID:         entry.UserID,
		Action:         entry.Action,
		EntityType:     entry.EntityType,
		EntityID:       entry.EntityID,
	}

	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("activity service: marshal metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("activity service: record: %w", err)
	}
	return nil
}

// ListForOrganization returns the most recent activity for an organization.
func (s *ActivityService) ListForOrganization(ctx context.Context, organizationID string, limit int) ([]models.ActivityLog, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var rows []models.ActivityLog
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("activity service: list: %w", err)
	}
	return rows, nil
}

// recordActivity writes an audit entry without failing the calling operation.
func recordActivity(svc *ActivityService, ctx context.Context, entry ActivityEntry) {
	if svc == nil {
		return
	}
	if err := svc.Record(ctx, entry); err != nil {
		logger.WithModule("activity").Warn("failed to record activity", zap.String("action", entry.Action), zap.Error(err))
	}
}
