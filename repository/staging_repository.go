package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"labelpanel/model"
)

// StagingRepository 暂存曲目数据访问接口
type StagingRepository interface {
	Stage(ctx context.Context, sessionID string, data *model.TrackData, fileName, tempPath string) (*model.StagedTrack, error)
	ListBySession(ctx context.Context, sessionID string) ([]*model.StagedTrack, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)

	// commit progress bookkeeping, written outside the batch transaction
	MarkUploaded(ctx context.Context, id int64, resource string) error
	MarkRegistered(ctx context.Context, id, externalID int64, isrc, daIsrc string) error
	MarkFailed(ctx context.Context, id int64, reason string) error

	ListStaleSessions(ctx context.Context, olderThan time.Time) ([]string, error)
}

type gormStagingRepository struct {
	db *gorm.DB
}

// NewGormStagingRepository 创建 GORM 暂存仓库
func NewGormStagingRepository(db *gorm.DB) StagingRepository {
	return &gormStagingRepository{db: db}
}

// Stage 暂存一首曲目；同一 session 的多次调用累积为一个批次
func (r *gormStagingRepository) Stage(ctx context.Context, sessionID string, data *model.TrackData, fileName, tempPath string) (*model.StagedTrack, error) {
	staged := &model.StagedTrack{
		SessionID:      sessionID,
		TrackData:      *data,
		FileName:       fileName,
		TempFilePath:   tempPath,
		IdempotencyKey: uuid.NewString(),
		Status:         model.StagedStatusStaged,
	}
	if err := r.db.WithContext(ctx).Create(staged).Error; err != nil {
		return nil, fmt.Errorf("failed to stage track for session %s: %w", sessionID, err)
	}
	return staged, nil
}

// ListBySession 按插入顺序返回 session 的暂存曲目
func (r *gormStagingRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.StagedTrack, error) {
	var staged []*model.StagedTrack
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&staged).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list staged tracks for session %s: %w", sessionID, err)
	}
	return staged, nil
}

func (r *gormStagingRepository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&model.StagedTrack{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete staged tracks for session %s: %w", sessionID, res.Error)
	}
	return res.RowsAffected, nil
}

func (r *gormStagingRepository) MarkUploaded(ctx context.Context, id int64, resource string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":   model.StagedStatusUploaded,
		"resource": resource,
	})
}

func (r *gormStagingRepository) MarkRegistered(ctx context.Context, id, externalID int64, isrc, daIsrc string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":      model.StagedStatusRegistered,
		"external_id": externalID,
		"isrc":        isrc,
		"da_isrc":     daIsrc,
		"last_error":  "",
	})
}

func (r *gormStagingRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     model.StagedStatusFailed,
		"last_error": reason,
	})
}

func (r *gormStagingRepository) update(ctx context.Context, id int64, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&model.StagedTrack{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to update staged track %d: %w", id, err)
	}
	return nil
}

// ListStaleSessions 返回最后更新早于 olderThan 的 session
func (r *gormStagingRepository) ListStaleSessions(ctx context.Context, olderThan time.Time) ([]string, error) {
	var sessions []string
	err := r.db.WithContext(ctx).
		Model(&model.StagedTrack{}).
		Select("session_id").
		Group("session_id").
		Having("MAX(updated_at) < ?", olderThan).
		Pluck("session_id", &sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	return sessions, nil
}
