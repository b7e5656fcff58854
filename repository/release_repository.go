package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"labelpanel/model"
)

// ReleaseRepository release 镜像数据访问接口
type ReleaseRepository interface {
	GetByExternalID(ctx context.Context, externalID int64) (*model.Release, error)
	// Save writes the whole mirror. Existing rows are only updated when their
	// version still equals release.Version, otherwise ErrVersionConflict.
	Save(ctx context.Context, release *model.Release) error
	SetUserDeclaration(ctx context.Context, externalID int64, resource string) error
}

type gormReleaseRepository struct {
	db *gorm.DB
}

// NewGormReleaseRepository 创建 GORM release 仓库
func NewGormReleaseRepository(db *gorm.DB) ReleaseRepository {
	return &gormReleaseRepository{db: db}
}

func (r *gormReleaseRepository) GetByExternalID(ctx context.Context, externalID int64) (*model.Release, error) {
	var release model.Release
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&release).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get release %d: %w", externalID, err)
	}
	return &release, nil
}

func (r *gormReleaseRepository) Save(ctx context.Context, release *model.Release) error {
	db := r.db.WithContext(ctx)

	if release.ID == 0 {
		if release.Version == 0 {
			release.Version = 1
		}
		if err := db.Create(release).Error; err != nil {
			if isDuplicateKey(err) {
				// someone created the mirror in the meantime
				return ErrVersionConflict
			}
			return fmt.Errorf("failed to create release %d: %w", release.ExternalID, err)
		}
		return nil
	}

	res := db.Model(&model.Release{}).
		Where("id = ? AND version = ?", release.ID, release.Version).
		Updates(map[string]interface{}{
			"name":             release.Name,
			"kind":             release.Kind,
			"release_date":     release.ReleaseDate,
			"upc":              release.UPC,
			"picture":          release.Picture,
			"user_declaration": release.UserDeclaration,
			"release_version":  release.ReleaseVersion,
			"is_new_release":   release.IsNewRelease,
			"artists":          release.Artists,
			"tracks":           release.Tracks,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save release %d: %w", release.ExternalID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	release.Version++
	return nil
}

func (r *gormReleaseRepository) SetUserDeclaration(ctx context.Context, externalID int64, resource string) error {
	res := r.db.WithContext(ctx).
		Model(&model.Release{}).
		Where("external_id = ?", externalID).
		Updates(map[string]interface{}{
			"user_declaration": resource,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to set user declaration of release %d: %w", externalID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	mirror := &model.Release{ExternalID: externalID, UserDeclaration: resource, Version: 1}
	if err := r.db.WithContext(ctx).Create(mirror).Error; err != nil {
		return fmt.Errorf("failed to create release mirror %d: %w", externalID, err)
	}
	return nil
}
