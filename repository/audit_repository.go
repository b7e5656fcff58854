package repository

import (
	"context"

	"gorm.io/gorm"

	"labelpanel/model"
)

// AuditRepository 审计日志写入接口
type AuditRepository interface {
	Create(ctx context.Context, entry *model.AuditLog) error
}

type gormAuditRepository struct {
	db *gorm.DB
}

func NewGormAuditRepository(db *gorm.DB) AuditRepository {
	return &gormAuditRepository{db: db}
}

func (r *gormAuditRepository) Create(ctx context.Context, entry *model.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
