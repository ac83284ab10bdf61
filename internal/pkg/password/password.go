package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt 只使用前 72 字节
const maxLength = 72

// ErrTooLong 密码超过 bcrypt 支持的长度
var ErrTooLong = errors.New("password exceeds 72 bytes")

// Cost bcrypt 计算强度，测试中可以调低
var Cost = bcrypt.DefaultCost

// Hash 生成 bcrypt 哈希
func Hash(password string) (string, error) {
	if len(password) > maxLength {
		return "", ErrTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// Verify 校验明文密码与哈希是否匹配，哈希格式错误视为不匹配
func Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
