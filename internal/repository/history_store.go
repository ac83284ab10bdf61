package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"lime/internal/model"
)

// DefaultHistoryPrefix 对话历史 key 前缀
const DefaultHistoryPrefix = "session:"

// HistoryStore 对话历史快速存储
// 每个会话一个 Redis list，LPUSH 写入（最新在前），读取时反转为时间正序
type HistoryStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewHistoryStore 创建对话历史存储
func NewHistoryStore(client *redis.Client, prefix string, ttl time.Duration) *HistoryStore {
	if prefix == "" {
		prefix = DefaultHistoryPrefix
	}
	return &HistoryStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Key 会话对应的 list key
func (s *HistoryStore) Key(sessionID string) string {
	return s.prefix + sessionID
}

// Append 追加一轮对话
func (s *HistoryStore) Append(ctx context.Context, sessionID string, turn *model.ConversationTurn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := s.Key(sessionID)
	if s.ttl <= 0 {
		return s.client.LPush(ctx, key, data).Err()
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

// Range 读取会话全部历史，按时间正序返回
// 无法解析的元素跳过并记录告警
func (s *HistoryStore) Range(ctx context.Context, sessionID string) ([]*model.ConversationTurn, error) {
	items, err := s.client.LRange(ctx, s.Key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	turns := make([]*model.ConversationTurn, 0, len(items))
	for i, item := range items {
		var turn model.ConversationTurn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", sessionID).
				Int("index", i).
				Msg("skipping corrupt history entry")
			continue
		}
		turns = append(turns, &turn)
	}

	slices.Reverse(turns)
	return turns, nil
}

// Clear 删除会话全部历史，key 不存在视为成功
func (s *HistoryStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.Key(sessionID)).Err()
}
