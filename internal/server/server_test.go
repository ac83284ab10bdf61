package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"lime/internal/ai"
	"lime/internal/handler"
	"lime/internal/model"
	"lime/internal/model/auth"
	"lime/internal/pkg/cache"
	"lime/internal/repository"
	"lime/internal/repository/session"
	"lime/internal/service"
)

// memUsers 内存用户与 Refresh Token 存储
type memUsers struct {
	mu     sync.Mutex
	users  map[string]*auth.User
	tokens map[string]*auth.RefreshToken
}

func (m *memUsers) Create(_ context.Context, u *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return repository.ErrDuplicate
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) FindByEmail(context.Context, string) (*auth.User, error) {
	return nil, repository.ErrNotFound
}

func (m *memUsers) UpdateLastLoginAt(context.Context, string) error { return nil }

type memTokens memUsers

func (m *memTokens) Create(_ context.Context, t *auth.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.Token] = t
	return nil
}

func (m *memTokens) FindByToken(_ context.Context, token string) (*auth.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memTokens) DeleteByToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func newTestEngine(t *testing.T) http.Handler {
	t.Helper()

	reg, err := session.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisCache := cache.NewRedisCacheFromClient(client)

	store := &memUsers{users: map[string]*auth.User{}, tokens: map[string]*auth.RefreshToken{}}
	history := service.NewHistoryService(reg, repository.NewHistoryStore(client, "session:", 0))
	chat := service.NewChatService(history, ai.Wrap(ai.NewMockBackend(nil, "", 0)), nil, service.ChatOptions{
		DefaultModel: "llama3",
		Counter:      ai.ApproxCounter{},
	})
	authSvc := service.NewAuthService(store, (*memTokens)(store), redisCache, service.AuthOptions{
		JWTSecret:          "test-secret",
		AccessTokenExpiry:  time.Minute,
		RefreshTokenExpiry: time.Hour,
	})

	return NewEngine("test", &Services{
		Auth:    authSvc,
		History: history,
		Chat:    chat,
		Ready:   map[string]handler.Pinger{"redis": redisCache},
	})
}

func send(h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func login(h http.Handler, username, password string) string {
	w := send(h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": username, "password": password})
	var resp struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Data.AccessToken
}

func TestServerRoutes(t *testing.T) {
	Convey("HTTP 路由端到端", t, func() {
		h := newTestEngine(t)

		w := send(h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"username": "alice", "password": "password1"})
		So(w.Code, ShouldEqual, http.StatusCreated)
		w = send(h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"username": "bobby", "password": "password2"})
		So(w.Code, ShouldEqual, http.StatusCreated)

		alice := login(h, "alice", "password1")
		So(alice, ShouldNotBeEmpty)

		Convey("健康检查与请求 ID", func() {
			w := send(h, http.MethodGet, "/health", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("X-Request-ID"), ShouldNotBeEmpty)

			So(send(h, http.MethodGet, "/ready", "", nil).Code, ShouldEqual, http.StatusOK)
		})

		Convey("表单登录", func() {
			form := url.Values{"username": {"alice"}, "password": {"password1"}}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "access_token")
		})

		Convey("错误密码", func() {
			w := send(h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "nope"})
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("未带 Token 访问受保护接口", func() {
			w := send(h, http.MethodGet, "/api/v1/sessions", "", nil)
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			So(w.Body.String(), ShouldContainSubstring, `"message":"Unauthorized"`)

			w = send(h, http.MethodGet, "/api/v1/sessions", "garbage", nil)
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			So(w.Body.String(), ShouldContainSubstring, `"message":"Invalid or expired token"`)
		})

		Convey("当前用户", func() {
			w := send(h, http.MethodGet, "/api/v1/auth/me", alice, nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"username":"alice"`)
		})

		Convey("对话、历史、隔离与删除", func() {
			sid := uuid.NewString()

			w := send(h, http.MethodPost, "/api/v1/chat", alice, model.LLMRequest{Prompt: "Tell me a joke", SessionID: sid})
			So(w.Code, ShouldEqual, http.StatusOK)
			var resp model.LLMResponse
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Usage, ShouldNotBeNil)

			w = send(h, http.MethodPost, "/api/v1/chat/stream", alice, model.LLMRequest{Prompt: "what is your favourite colour", SessionID: sid})
			So(w.Code, ShouldEqual, http.StatusOK)
			var streamed strings.Builder
			scanner := bufio.NewScanner(w.Body)
			for scanner.Scan() {
				var chunk model.StreamChunk
				So(json.Unmarshal(scanner.Bytes(), &chunk), ShouldBeNil)
				streamed.WriteString(chunk.Content)
			}
			So(streamed.String(), ShouldEqual, "I'm sorry, I don't have a predefined answer for that.")

			w = send(h, http.MethodGet, "/api/v1/sessions/"+sid+"/history", alice, nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var turns []model.ConversationTurn
			So(json.Unmarshal(w.Body.Bytes(), &turns), ShouldBeNil)
			So(turns, ShouldHaveLength, 2)
			So(turns[0].UserMessage, ShouldEqual, "Tell me a joke")
			So(turns[1].LLMResponse, ShouldEqual, streamed.String())

			bob := login(h, "bobby", "password2")
			So(send(h, http.MethodGet, "/api/v1/sessions/"+sid+"/history", bob, nil).Code, ShouldEqual, http.StatusForbidden)
			So(send(h, http.MethodPost, "/api/v1/chat", bob, model.LLMRequest{Prompt: "hi", SessionID: sid}).Code, ShouldEqual, http.StatusForbidden)

			w = send(h, http.MethodGet, "/api/v1/sessions", bob, nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")

			So(send(h, http.MethodDelete, "/api/v1/sessions/"+sid, alice, nil).Code, ShouldEqual, http.StatusNoContent)
			So(send(h, http.MethodGet, "/api/v1/sessions/"+sid+"/history", alice, nil).Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
