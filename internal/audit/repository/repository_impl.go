package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/samknelson/sirius-sub007/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, log *domain.AuditLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, actor_type, actor_id, action, target_type, target_id,
			request_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.ActorType,
		log.ActorID,
		log.Action,
		log.TargetType,
		log.TargetID,
		log.RequestID,
		log.Metadata,
		log.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListAuditLogRequest, limit int, afterID *snowflake.ID) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	stmt := db.WithContext(ctx).Model(&domain.AuditLog{})
	if req.Action != "" {
		stmt = stmt.Where("action = ?", req.Action)
	}
	if req.TargetType != "" {
		stmt = stmt.Where("target_type = ?", req.TargetType)
	}
	if req.TargetID != "" {
		stmt = stmt.Where("target_id = ?", req.TargetID)
	}
	if req.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", *req.StartAt)
	}
	if req.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", *req.EndAt)
	}
	if afterID != nil {
		stmt = stmt.Where("id < ?", *afterID)
	}
	err := stmt.
		Order("id desc").
		Limit(limit + 1).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
