package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"labelpanel/model"
)

// TrackTx is the write surface available inside a commit transaction.
type TrackTx interface {
	CreateTrack(ctx context.Context, track *model.Track) error
	// AppendReleaseTrack atomically appends summary to the release's track
	// list unless an entry with the same external id is already present.
	AppendReleaseTrack(ctx context.Context, releaseID int64, summary model.ReleaseTrack) error
}

// TrackRepository 曲目数据访问接口
type TrackRepository interface {
	WithinTx(ctx context.Context, fn func(tx TrackTx) error) error
	GetByExternalID(ctx context.Context, externalID int64) (*model.Track, error)
	Upsert(ctx context.Context, track *model.Track) error
	ListByRelease(ctx context.Context, releaseID int64) ([]*model.Track, error)
}

type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository 创建 GORM 曲目仓库
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// WithinTx runs fn in one database transaction; any error rolls it back.
func (r *gormTrackRepository) WithinTx(ctx context.Context, fn func(tx TrackTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTrackTx{db: tx})
	})
}

func (r *gormTrackRepository) GetByExternalID(ctx context.Context, externalID int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&track).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get track %d: %w", externalID, err)
	}
	return &track, nil
}

// Upsert inserts the track or refreshes every column of the existing row
// with the same external id.
func (r *gormTrackRepository) Upsert(ctx context.Context, track *model.Track) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		UpdateAll: true,
	}).Create(track).Error
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to upsert track %d: %w", track.ExternalID, err)
	}
	return nil
}

func (r *gormTrackRepository) ListByRelease(ctx context.Context, releaseID int64) ([]*model.Track, error) {
	var tracks []*model.Track
	err := r.db.WithContext(ctx).
		Where("release_external_id = ?", releaseID).
		Order("track_order ASC, id ASC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks of release %d: %w", releaseID, err)
	}
	return tracks, nil
}

type gormTrackTx struct {
	db *gorm.DB
}

func (t *gormTrackTx) CreateTrack(ctx context.Context, track *model.Track) error {
	if err := t.db.WithContext(ctx).Create(track).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create track %q: %w", track.Name, err)
	}
	return nil
}

const appendReleaseTrackSQL = "UPDATE `releases` SET " +
	"`tracks` = JSON_ARRAY_APPEND(COALESCE(`tracks`, JSON_ARRAY()), '$', CAST(? AS JSON)), " +
	"`version` = `version` + 1, `updated_at` = ? " +
	"WHERE `external_id` = ? AND NOT JSON_CONTAINS(COALESCE(`tracks`, JSON_ARRAY()), JSON_OBJECT('external_id', ?))"

func (t *gormTrackTx) AppendReleaseTrack(ctx context.Context, releaseID int64, summary model.ReleaseTrack) error {
	doc, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode release track: %w", err)
	}

	db := t.db.WithContext(ctx)
	res := db.Exec(appendReleaseTrackSQL, string(doc), time.Now(), releaseID, summary.ExternalID)
	if res.Error != nil {
		return fmt.Errorf("failed to append track %d to release %d: %w", summary.ExternalID, releaseID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// 没有更新：要么 release 镜像不存在，要么条目已存在
	var count int64
	if err := db.Model(&model.Release{}).Where("external_id = ?", releaseID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check release %d: %w", releaseID, err)
	}
	if count > 0 {
		return nil
	}

	mirror := &model.Release{
		ExternalID: releaseID,
		Tracks:     model.JSONList[model.ReleaseTrack]{summary},
		Version:    1,
	}
	if err := db.Create(mirror).Error; err != nil {
		return fmt.Errorf("failed to create release mirror %d: %w", releaseID, err)
	}
	return nil
}
