package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lime/internal/model"
	"lime/internal/pkg/id"
	"lime/internal/repository"
	"lime/internal/repository/session"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 200
)

// HistoryStore 对话历史快速存储
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, turn *model.ConversationTurn) error
	Range(ctx context.Context, sessionID string) ([]*model.ConversationTurn, error)
	Clear(ctx context.Context, sessionID string) error
}

// HistoryService 对话历史编排
// 会话归属以注册表为准，对话内容存放在快速存储中；两者之间没有事务
type HistoryService struct {
	registry session.Registry
	store    HistoryStore
	clock    *turnClock
}

// NewHistoryService 创建对话历史服务
func NewHistoryService(registry session.Registry, store HistoryStore) *HistoryService {
	return &HistoryService{
		registry: registry,
		store:    store,
		clock:    &turnClock{},
	}
}

// TurnOption 保存对话时的可选项
type TurnOption func(*model.ConversationTurn)

// WithTruncated 标记回复不完整（流式输出被中断）
func WithTruncated() TurnOption {
	return func(t *model.ConversationTurn) {
		t.Truncated = true
	}
}

// GetHistory 读取会话历史（时间正序）
// 会话不存在或不属于调用者时报错；快速存储读取失败时降级为空历史
func (s *HistoryService) GetHistory(ctx context.Context, sessionID, userID string) ([]*model.ConversationTurn, error) {
	key, err := canonicalSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ownedSession(ctx, key, userID); err != nil {
		return nil, err
	}

	turns, err := s.store.Range(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("session_id", key).Msg("failed to read history, returning empty history")
		return []*model.ConversationTurn{}, nil
	}
	return turns, nil
}

// SaveTurn 保存一轮对话
// 会话不存在时由调用者认领；注册表写入成功后才写快速存储
func (s *HistoryService) SaveTurn(ctx context.Context, sessionID, userID, userMessage, responseText string, opts ...TurnOption) (*model.ConversationTurn, error) {
	key, err := canonicalSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.claim(ctx, key, userID); err != nil {
		return nil, err
	}

	turn := &model.ConversationTurn{
		ID:          id.New(),
		SessionID:   key,
		UserMessage: userMessage,
		LLMResponse: responseText,
		Timestamp:   s.clock.Next(),
	}
	for _, opt := range opts {
		opt(turn)
	}

	if err := s.store.Append(ctx, key, turn); err != nil {
		// 注册表已写入，不回滚
		log.Error().Err(err).Str("session_id", key).Msg("failed to append history after registry write")
		return nil, fmt.Errorf("%w: append history: %w", ErrPersistence, err)
	}
	return turn, nil
}

// claim 确认会话归属，不存在则创建
func (s *HistoryService) claim(ctx context.Context, key, userID string) error {
	existing, err := s.registry.FindByUUID(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		if _, err = s.create(ctx, key, userID, nil); err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("%w: create session: %w", ErrPersistence, err)
		}
		// 并发的首次写入已经创建了会话，重新读取后按归属处理
		existing, err = s.registry.FindByUUID(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: refetch session: %w", ErrPersistence, err)
		}
	default:
		return fmt.Errorf("%w: find session: %w", ErrPersistence, err)
	}

	if !existing.OwnedBy(userID) {
		return ErrForbidden
	}

	if err := s.registry.Touch(ctx, key, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: touch session: %w", ErrPersistence, err)
	}
	return nil
}

func (s *HistoryService) create(ctx context.Context, key, userID string, title *string) (*model.Session, error) {
	now := time.Now().UTC()
	sess := &model.Session{
		ID:             id.New(),
		SessionUUID:    key,
		OwnerID:        userID,
		Title:          title,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := s.registry.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession 删除会话：先删注册表，再清空快速存储
func (s *HistoryService) DeleteSession(ctx context.Context, sessionID, userID string) error {
	key, err := canonicalSessionID(sessionID)
	if err != nil {
		return err
	}

	if _, err := s.ownedSession(ctx, key, userID); err != nil {
		return err
	}

	if err := s.registry.Delete(ctx, key); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: delete session: %w", ErrPersistence, err)
	}

	if err := s.store.Clear(ctx, key); err != nil {
		log.Error().Err(err).Str("session_id", key).Msg("session deleted but history clear failed")
		return fmt.Errorf("%w: clear history: %w", ErrPersistence, err)
	}
	return nil
}

// ListSessions 列出用户的会话（最近访问在前）
func (s *HistoryService) ListSessions(ctx context.Context, userID string, skip, limit int) ([]*model.Session, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	sessions, err := s.registry.ListByOwner(ctx, userID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %w", ErrPersistence, err)
	}
	return sessions, nil
}

// CreateSession 显式创建会话
func (s *HistoryService) CreateSession(ctx context.Context, userID, title string) (*model.Session, error) {
	var t *string
	if title != "" {
		t = &title
	}

	sess, err := s.create(ctx, id.New(), userID, t)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %w", ErrPersistence, err)
	}
	return sess, nil
}

// RenameSession 修改会话标题
func (s *HistoryService) RenameSession(ctx context.Context, sessionID, userID, title string) (*model.Session, error) {
	key, err := canonicalSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := s.ownedSession(ctx, key, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.registry.UpdateTitle(ctx, key, &title, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: rename session: %w", ErrPersistence, err)
	}

	sess.Title = &title
	sess.LastAccessedAt = now
	return sess, nil
}

// ownedSession 读取会话并校验归属
func (s *HistoryService) ownedSession(ctx context.Context, key, userID string) (*model.Session, error) {
	sess, err := s.registry.FindByUUID(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: find session: %w", ErrPersistence, err)
	}
	if !sess.OwnedBy(userID) {
		return nil, ErrForbidden
	}
	return sess, nil
}

func canonicalSessionID(sessionID string) (string, error) {
	key, err := id.Canonical(sessionID)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, sessionID)
	}
	return key, nil
}

// turnClock 进程内单调递增的时间戳，同一进程写入的两轮对话时间戳不会相同
type turnClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *turnClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Round(0)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}
