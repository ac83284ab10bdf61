package id

import (
	"github.com/google/uuid"
)

// New 生成随机 UUID（v4，小写带连字符）
func New() string {
	return uuid.NewString()
}

// Canonical 解析 UUID 并返回小写带连字符的标准形式
// 同一个会话的不同写法（大写、带花括号、urn 前缀）映射到同一个 key
func Canonical(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
