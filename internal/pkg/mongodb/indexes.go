package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"lime/internal/model"
	"lime/internal/model/auth"
)

// Model 自己声明索引的集合模型
type Model interface {
	Collection() string
	EnsureIndexes(ctx context.Context, db *mongo.Database) error
}

// EnsureIndexes 启动时为各集合创建索引
// withSessions 为 false 时会话注册表在 sqlite 中，mongo 里不建 sessions 索引
func EnsureIndexes(ctx context.Context, db *mongo.Database, withSessions bool) error {
	models := []Model{
		&auth.User{},
		&auth.RefreshToken{},
	}
	if withSessions {
		models = append(models, &model.Session{})
	}

	for _, m := range models {
		if err := m.EnsureIndexes(ctx, db); err != nil {
			return fmt.Errorf("ensure indexes for %s: %w", m.Collection(), err)
		}
	}
	return nil
}
