package auth

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// User 用户实体
// ID使用UUID格式（string），避免ObjectID转换的麻烦
type User struct {
	ID          string     `bson:"_id,omitempty" json:"id"`              // UUID格式的ID
	Username    string     `bson:"username" json:"username"`             // 用户名（唯一）
	Email       string     `bson:"email,omitempty" json:"email"`         // 邮箱
	Password    string     `bson:"password" json:"-"`                    // 密码（bcrypt，不返回）
	IsActive    bool       `bson:"is_active" json:"is_active"`           // 未激活用户不能登录
	IsSuperuser bool       `bson:"is_superuser" json:"is_superuser"`     // 管理员
	LastLoginAt *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (u *User) Collection() string {
	return "users"
}

// EnsureIndexes 创建和维护索引
// email 为稀疏唯一索引，允许不填邮箱
func (u *User) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(u.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "username", Value: 1}},
			Options: options.Index().SetName("idx_username").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "email", Value: 1}},
			Options: options.Index().SetName("idx_email").SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_created_at"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
