package session

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lime/internal/model"
	"lime/internal/repository"
)

// MongoRegistry 基于 MongoDB 的会话注册表
// 唯一约束依赖 idx_session_uuid 索引（见 model.Session.EnsureIndexes）
type MongoRegistry struct {
	collection *mongo.Collection
}

// NewMongoRegistry 创建 MongoDB 会话注册表
func NewMongoRegistry(db *mongo.Database) *MongoRegistry {
	return &MongoRegistry{
		collection: db.Collection(model.SessionCollection),
	}
}

// FindByUUID 根据会话 UUID 查询
func (r *MongoRegistry) FindByUUID(ctx context.Context, sessionUUID string) (*model.Session, error) {
	var s model.Session
	err := r.collection.FindOne(ctx, bson.M{"session_uuid": sessionUUID}).Decode(&s)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Create 创建会话
func (r *MongoRegistry) Create(ctx context.Context, s *model.Session) error {
	_, err := r.collection.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicate
	}
	return err
}

// Touch 更新最后访问时间
func (r *MongoRegistry) Touch(ctx context.Context, sessionUUID string, at time.Time) error {
	return r.update(ctx, sessionUUID, bson.M{"last_accessed_at": at})
}

// UpdateTitle 更新标题并刷新最后访问时间
func (r *MongoRegistry) UpdateTitle(ctx context.Context, sessionUUID string, title *string, at time.Time) error {
	return r.update(ctx, sessionUUID, bson.M{"title": title, "last_accessed_at": at})
}

func (r *MongoRegistry) update(ctx context.Context, sessionUUID string, set bson.M) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"session_uuid": sessionUUID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete 删除会话
func (r *MongoRegistry) Delete(ctx context.Context, sessionUUID string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"session_uuid": sessionUUID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListByOwner 查询用户的会话列表
func (r *MongoRegistry) ListByOwner(ctx context.Context, ownerID string, skip, limit int) ([]*model.Session, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "last_accessed_at", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	sessions := make([]*model.Session, 0)
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Close 连接由 mongodb.Client 统一关闭
func (r *MongoRegistry) Close(ctx context.Context) error {
	return nil
}
