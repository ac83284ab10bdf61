package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"lime/internal/ai"
	"lime/internal/model"
	"lime/internal/pkg/ctxutil"
	pkghttp "lime/internal/pkg/http"
	"lime/internal/repository"
	"lime/internal/repository/session"
	"lime/internal/service"
)

const mockJoke = "Why don't scientists trust atoms? Because they make up everything! (Mock Joke)"

// withUser 测试用身份注入，替代认证中间件
func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			ctx := ctxutil.WithIdentity(c.Request.Context(), ctxutil.Identity{UserID: userID, Username: userID})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

type testEnv struct {
	history *service.HistoryService
	redis   *miniredis.Miniredis
}

func newTestEnv(t *testing.T, backend ai.Backend) (*testEnv, *ChatHandler, *SessionHandler) {
	t.Helper()

	reg, err := session.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	history := service.NewHistoryService(reg, repository.NewHistoryStore(client, "session:", 0))
	chat := service.NewChatService(history, backend, nil, service.ChatOptions{DefaultModel: "llama3"})
	return &testEnv{history: history, redis: mr}, NewChatHandler(chat), NewSessionHandler(history)
}

func newRouter(userID string, chat *ChatHandler, sessions *SessionHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withUser(userID))
	r.POST("/chat", chat.Chat)
	r.POST("/chat/stream", chat.ChatStream)
	r.GET("/sessions", sessions.List)
	r.POST("/sessions", sessions.Create)
	r.GET("/sessions/:id/history", sessions.History)
	r.PATCH("/sessions/:id", sessions.Rename)
	r.DELETE("/sessions/:id", sessions.Delete)
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	var resp pkghttp.ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func TestChatHandler(t *testing.T) {
	Convey("ChatHandler", t, func() {
		env, chat, sessions := newTestEnv(t, ai.NewMockBackend(nil, "", 0))
		r := newRouter("alice", chat, sessions)
		sid := uuid.NewString()

		Convey("单次对话返回 LLMResponse", func() {
			w := doJSON(r, http.MethodPost, "/chat", model.LLMRequest{Prompt: "Tell me a joke", SessionID: sid})
			So(w.Code, ShouldEqual, http.StatusOK)

			var resp model.LLMResponse
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.ResponseText, ShouldEqual, mockJoke)
			So(resp.ModelName, ShouldEqual, ai.MockModelName)
			So(resp.FinishReason, ShouldEqual, "stop")
			So(resp.Request.SessionID, ShouldEqual, sid)
			So(resp.ResponseID, ShouldNotBeEmpty)
		})

		Convey("缺少必填字段返回 400", func() {
			w := doJSON(r, http.MethodPost, "/chat", map[string]string{"prompt": "hi"})
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("非法会话 ID 返回 400 和类别", func() {
			w := doJSON(r, http.MethodPost, "/chat", model.LLMRequest{Prompt: "hi", SessionID: "nope"})
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Kind, ShouldEqual, service.KindInvalidIdentifier)
		})

		Convey("他人会话返回 403", func() {
			_, err := env.history.SaveTurn(context.Background(), sid, "bob", "q", "a")
			So(err, ShouldBeNil)

			w := doJSON(r, http.MethodPost, "/chat", model.LLMRequest{Prompt: "hi", SessionID: sid})
			So(w.Code, ShouldEqual, http.StatusForbidden)
			So(decodeError(w).Kind, ShouldEqual, service.KindForbidden)
		})

		Convey("保存失败返回 500 且不泄露细节", func() {
			env.redis.Close()
			w := doJSON(r, http.MethodPost, "/chat", model.LLMRequest{Prompt: "hi", SessionID: sid})
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			resp := decodeError(w)
			So(resp.Kind, ShouldEqual, service.KindPersistence)
			So(resp.Detail, ShouldBeEmpty)
			So(w.Body.String(), ShouldNotContainSubstring, "redis")
		})

		Convey("未认证返回 401", func() {
			r := newRouter("", chat, sessions)
			w := doJSON(r, http.MethodPost, "/chat", model.LLMRequest{Prompt: "hi", SessionID: sid})
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			So(decodeError(w).Message, ShouldEqual, "Unauthorized")
		})

		Convey("流式对话输出 NDJSON", func() {
			w := doJSON(r, http.MethodPost, "/chat/stream", model.LLMRequest{Prompt: "Tell me a joke", SessionID: sid})
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldEqual, "application/x-ndjson")
			So(w.Header().Get("X-Accel-Buffering"), ShouldEqual, "no")

			var sb strings.Builder
			scanner := bufio.NewScanner(w.Body)
			lines := 0
			for scanner.Scan() {
				var chunk model.StreamChunk
				So(json.Unmarshal(scanner.Bytes(), &chunk), ShouldBeNil)
				So(chunk.Type, ShouldEqual, model.ChunkTypeContent)
				So(chunk.SessionID, ShouldEqual, sid)
				sb.WriteString(chunk.Content)
				lines++
			}
			So(lines, ShouldBeGreaterThan, 1)
			So(sb.String(), ShouldEqual, mockJoke)

			turns, err := env.history.GetHistory(context.Background(), sid, "alice")
			So(err, ShouldBeNil)
			So(turns, ShouldHaveLength, 1)
			So(turns[0].LLMResponse, ShouldEqual, mockJoke)
		})

		Convey("流式对话在输出前校验归属", func() {
			_, err := env.history.SaveTurn(context.Background(), sid, "bob", "q", "a")
			So(err, ShouldBeNil)

			w := doJSON(r, http.MethodPost, "/chat/stream", model.LLMRequest{Prompt: "hi", SessionID: sid})
			So(w.Code, ShouldEqual, http.StatusForbidden)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
		})
	})
}

// downBackend 推理后端不可用
type downBackend struct{}

func (downBackend) Name() string { return "down" }

func (downBackend) Generate(context.Context, *ai.Request) (ai.Result, error) {
	return ai.Result{}, fmt.Errorf("%w: dial tcp 127.0.0.1:11434: connection refused", ai.ErrUnavailable)
}

func (downBackend) Stream(context.Context, *ai.Request) (ai.TokenStream, error) {
	return nil, fmt.Errorf("%w: dial tcp 127.0.0.1:11434: connection refused", ai.ErrUnavailable)
}

func TestChatHandlerUpstreamDown(t *testing.T) {
	Convey("推理后端不可用", t, func() {
		_, chat, sessions := newTestEnv(t, downBackend{})
		r := newRouter("alice", chat, sessions)
		sid := uuid.NewString()

		Convey("单次对话返回 502", func() {
			w := doJSON(r, http.MethodPost, "/chat", model.LLMRequest{Prompt: "hi", SessionID: sid})
			So(w.Code, ShouldEqual, http.StatusBadGateway)
			resp := decodeError(w)
			So(resp.Kind, ShouldEqual, service.KindUpstreamUnavailable)
			So(resp.Detail, ShouldBeEmpty)
		})

		Convey("流式对话输出一个错误片段", func() {
			w := doJSON(r, http.MethodPost, "/chat/stream", model.LLMRequest{Prompt: "hi", SessionID: sid})
			So(w.Code, ShouldEqual, http.StatusOK)

			lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
			So(lines, ShouldHaveLength, 1)
			var chunk model.StreamChunk
			So(json.Unmarshal([]byte(lines[0]), &chunk), ShouldBeNil)
			So(chunk.Type, ShouldEqual, model.ChunkTypeError)
			So(chunk.Kind, ShouldEqual, service.KindUpstreamUnavailable)
			So(chunk.Content, ShouldEqual, service.PublicMessage(service.KindUpstreamUnavailable))
			So(w.Body.String(), ShouldNotContainSubstring, "127.0.0.1")
		})
	})
}

func TestSessionHandler(t *testing.T) {
	Convey("SessionHandler", t, func() {
		ctx := context.Background()
		env, chat, sessions := newTestEnv(t, ai.NewMockBackend(nil, "", 0))
		r := newRouter("alice", chat, sessions)

		Convey("创建、列表、改名、历史、删除", func() {
			w := doJSON(r, http.MethodPost, "/sessions", model.CreateSessionRequest{Title: "first"})
			So(w.Code, ShouldEqual, http.StatusCreated)
			var created SessionInfo
			So(json.Unmarshal(w.Body.Bytes(), &created), ShouldBeNil)
			So(*created.Title, ShouldEqual, "first")

			w = doJSON(r, http.MethodPost, "/sessions", nil)
			So(w.Code, ShouldEqual, http.StatusCreated)

			w = doJSON(r, http.MethodGet, "/sessions", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var list []SessionInfo
			So(json.Unmarshal(w.Body.Bytes(), &list), ShouldBeNil)
			So(list, ShouldHaveLength, 2)

			w = doJSON(r, http.MethodPatch, "/sessions/"+created.SessionUUID, model.RenameSessionRequest{Title: "renamed"})
			So(w.Code, ShouldEqual, http.StatusOK)

			_, err := env.history.SaveTurn(ctx, created.SessionUUID, "alice", "q", "a")
			So(err, ShouldBeNil)

			w = doJSON(r, http.MethodGet, "/sessions/"+created.SessionUUID+"/history", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var turns []model.ConversationTurn
			So(json.Unmarshal(w.Body.Bytes(), &turns), ShouldBeNil)
			So(turns, ShouldHaveLength, 1)
			So(turns[0].LLMResponse, ShouldEqual, "a")

			w = doJSON(r, http.MethodDelete, "/sessions/"+created.SessionUUID, nil)
			So(w.Code, ShouldEqual, http.StatusNoContent)

			w = doJSON(r, http.MethodGet, "/sessions/"+created.SessionUUID+"/history", nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeError(w).Kind, ShouldEqual, service.KindNotFound)
		})

		Convey("分页参数校验", func() {
			So(doJSON(r, http.MethodGet, "/sessions?limit=0", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(doJSON(r, http.MethodGet, "/sessions?limit=201", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(doJSON(r, http.MethodGet, "/sessions?skip=-1", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(doJSON(r, http.MethodGet, "/sessions?skip=0&limit=200", nil).Code, ShouldEqual, http.StatusOK)
		})

		Convey("非法 ID 与未知会话", func() {
			So(doJSON(r, http.MethodGet, "/sessions/abc/history", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(doJSON(r, http.MethodDelete, "/sessions/"+uuid.NewString(), nil).Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	Convey("HealthHandler", t, func() {
		gin.SetMode(gin.TestMode)

		Convey("依赖全部可用", func() {
			h := NewHealthHandler(map[string]Pinger{"redis": stubPinger{}})
			r := gin.New()
			r.GET("/ready", h.Ready)
			w := doJSON(r, http.MethodGet, "/ready", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("任一依赖不可用返回 503", func() {
			h := NewHealthHandler(map[string]Pinger{"redis": stubPinger{}, "mongo": stubPinger{err: errors.New("no primary")}})
			r := gin.New()
			r.GET("/ready", h.Ready)
			r.GET("/health", h.Health)
			w := doJSON(r, http.MethodGet, "/ready", nil)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(w.Body.String(), ShouldContainSubstring, "no primary")

			So(doJSON(r, http.MethodGet, "/health", nil).Code, ShouldEqual, http.StatusOK)
		})
	})
}
