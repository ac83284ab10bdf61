package session

import (
	"context"
	"time"

	"lime/internal/model"
)

// Registry 会话元数据持久存储
// 未找到返回 repository.ErrNotFound，session_uuid 冲突返回 repository.ErrDuplicate
type Registry interface {
	FindByUUID(ctx context.Context, sessionUUID string) (*model.Session, error)
	Create(ctx context.Context, s *model.Session) error
	Touch(ctx context.Context, sessionUUID string, at time.Time) error
	UpdateTitle(ctx context.Context, sessionUUID string, title *string, at time.Time) error
	Delete(ctx context.Context, sessionUUID string) error
	// ListByOwner 按 last_accessed_at 倒序
	ListByOwner(ctx context.Context, ownerID string, skip, limit int) ([]*model.Session, error)
	Close(ctx context.Context) error
}
