package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/samknelson/sirius-sub007/internal/audit/domain"
	obscontext "github.com/samknelson/sirius-sub007/internal/observability/context"
	"github.com/samknelson/sirius-sub007/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) AuditLog(ctx context.Context, action, targetType, targetID string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := resolveActor(ctx)

	log := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		RequestID:  obscontext.RequestIDFromContext(ctx),
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, log); err != nil {
		s.log.Error("failed to write audit log",
			zap.String("action", action),
			zap.String("target_type", targetType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func resolveActor(ctx context.Context) (string, string) {
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		return actorType, actorID
	}
	return "system", ""
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var afterID *snowflake.ID
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		if cursor.ID != "" {
			id, err := snowflake.ParseString(cursor.ID)
			if err != nil {
				return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
			}
			afterID = &id
		}
	}

	limit := req.Limit()
	logs, err := s.repo.List(ctx, s.db, req, limit, afterID)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	pageInfo, logs := pagination.BuildCursorPageInfo(logs, limit, func(l *auditdomain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: l.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})

	out := make([]auditdomain.AuditLog, 0, len(logs))
	for _, l := range logs {
		out = append(out, *l)
	}
	return auditdomain.ListAuditLogResponse{
		PageInfo:  *pageInfo,
		AuditLogs: out,
	}, nil
}
