package ctxutil

import "context"

// identityKeyType 使用私有类型避免与其他 context key 冲突
type identityKeyType struct{}

var identityKey = identityKeyType{}

// Identity 认证通过的调用方身份
type Identity struct {
	UserID    string
	Username  string
	Superuser bool
}

// WithIdentity 将调用方身份注入到 context 中
// 认证中间件在解析 JWT 并确认用户可用后调用
func WithIdentity(ctx context.Context, ident Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey, ident)
}

// GetIdentity 从 context 中解析调用方身份
func GetIdentity(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	ident, ok := ctx.Value(identityKey).(Identity)
	if !ok || ident.UserID == "" {
		return Identity{}, false
	}
	return ident, true
}

// GetUserID 从 context 中解析 userID
func GetUserID(ctx context.Context) (string, bool) {
	ident, ok := GetIdentity(ctx)
	if !ok {
		return "", false
	}
	return ident.UserID, true
}
