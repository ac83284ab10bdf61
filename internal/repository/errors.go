package repository

import "errors"

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicate 违反唯一约束
	ErrDuplicate = errors.New("repository: duplicate key")
)
