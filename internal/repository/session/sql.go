package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"lime/internal/model"
	"lime/internal/repository"
)

// SQLRegistry 基于 gorm 的会话注册表（默认 sqlite）
type SQLRegistry struct {
	db *gorm.DB
}

// OpenSQLite 打开 sqlite 数据库并迁移表结构
func OpenSQLite(dsn string) (*SQLRegistry, error) {
	inMemory := strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
	if !inMemory {
		path := strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:")
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite 单写者
	sqlDB.SetMaxOpenConns(1)

	return NewSQLRegistry(db)
}

// NewSQLRegistry 使用已有 gorm 连接创建注册表
func NewSQLRegistry(db *gorm.DB) (*SQLRegistry, error) {
	if err := db.AutoMigrate(&model.Session{}); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return &SQLRegistry{db: db}, nil
}

// FindByUUID 根据会话 UUID 查询
func (r *SQLRegistry) FindByUUID(ctx context.Context, sessionUUID string) (*model.Session, error) {
	var s model.Session
	err := r.db.WithContext(ctx).Where("session_uuid = ?", sessionUUID).Take(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Create 创建会话
func (r *SQLRegistry) Create(ctx context.Context, s *model.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicate
	}
	return err
}

// Touch 更新最后访问时间
func (r *SQLRegistry) Touch(ctx context.Context, sessionUUID string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("session_uuid = ?", sessionUUID).
		Update("last_accessed_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateTitle 更新标题并刷新最后访问时间
func (r *SQLRegistry) UpdateTitle(ctx context.Context, sessionUUID string, title *string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("session_uuid = ?", sessionUUID).
		Updates(map[string]any{"title": title, "last_accessed_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete 删除会话
func (r *SQLRegistry) Delete(ctx context.Context, sessionUUID string) error {
	res := r.db.WithContext(ctx).Where("session_uuid = ?", sessionUUID).Delete(&model.Session{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListByOwner 查询用户的会话列表
func (r *SQLRegistry) ListByOwner(ctx context.Context, ownerID string, skip, limit int) ([]*model.Session, error) {
	var sessions []*model.Session
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("last_accessed_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// Close 关闭连接
func (r *SQLRegistry) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
