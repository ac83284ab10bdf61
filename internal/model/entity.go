package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SessionCollection 会话元数据表名 / 集合名
const SessionCollection = "conversation_sessions"

// Session 会话元数据（持久存储）
// SessionUUID 全局唯一，首次写入的用户成为会话所有者
type Session struct {
	ID             string    `gorm:"primaryKey;size:36" bson:"_id,omitempty" json:"id"`
	SessionUUID    string    `gorm:"uniqueIndex;size:36;not null" bson:"session_uuid" json:"session_uuid"`
	OwnerID        string    `gorm:"index:idx_owner_accessed,priority:1;size:36;not null" bson:"owner_id" json:"owner_id"`
	Title          *string   `gorm:"size:255" bson:"title,omitempty" json:"title"`
	CreatedAt      time.Time `gorm:"not null" bson:"created_at" json:"created_at"`
	LastAccessedAt time.Time `gorm:"index:idx_owner_accessed,priority:2;not null" bson:"last_accessed_at" json:"last_accessed_at"`
}

// TableName gorm 表名
func (Session) TableName() string {
	return SessionCollection
}

// Collection 返回集合名称
func (s *Session) Collection() string {
	return SessionCollection
}

// EnsureIndexes 创建和维护索引
func (s *Session) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(s.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "session_uuid", Value: 1}},
			Options: options.Index().SetName("idx_session_uuid").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "owner_id", Value: 1}, bson.E{Key: "last_accessed_at", Value: -1}},
			Options: options.Index().SetName("idx_owner_accessed"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// OwnedBy 判断会话是否属于指定用户
func (s *Session) OwnedBy(userID string) bool {
	return s.OwnerID == userID
}

// ConversationTurn 一轮对话（快速存储中的列表元素）
type ConversationTurn struct {
	ID          string    `json:"entry_id"`
	SessionID   string    `json:"session_id"`
	UserMessage string    `json:"user_message"`
	LLMResponse string    `json:"llm_response"`
	Timestamp   time.Time `json:"timestamp"`
	Truncated   bool      `json:"truncated,omitempty"` // 流式输出被客户端中断，只保存了部分回复
}
