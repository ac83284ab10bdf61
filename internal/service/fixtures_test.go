package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lime/internal/repository"
	"lime/internal/repository/session"
)

// historyFixture 内存 sqlite 注册表 + miniredis 快速存储
type historyFixture struct {
	registry *session.SQLRegistry
	store    *repository.HistoryStore
	redis    *miniredis.Miniredis
	svc      *HistoryService
}

func newHistoryFixture(t *testing.T) *historyFixture {
	t.Helper()

	reg, err := session.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := repository.NewHistoryStore(client, "session:", 0)
	return &historyFixture{
		registry: reg,
		store:    store,
		redis:    mr,
		svc:      NewHistoryService(reg, store),
	}
}
