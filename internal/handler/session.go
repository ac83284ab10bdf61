package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lime/internal/model"
	"lime/internal/pkg/ctxutil"
	"lime/internal/service"
)

// SessionHandler 会话管理处理器
type SessionHandler struct {
	historyService *service.HistoryService
}

// NewSessionHandler 创建会话管理处理器
func NewSessionHandler(historyService *service.HistoryService) *SessionHandler {
	return &SessionHandler{historyService: historyService}
}

// SessionInfo 会话元数据（响应）
type SessionInfo struct {
	SessionUUID    string    `json:"session_uuid"`
	Title          *string   `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

func toSessionInfo(s *model.Session) SessionInfo {
	return SessionInfo{
		SessionUUID:    s.SessionUUID,
		Title:          s.Title,
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}

// List 当前用户的会话列表
// @Summary      会话列表
// @Description  按最近访问时间倒序
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Param        skip   query     int  false  "跳过条数"  minimum(0)
// @Param        limit  query     int  false  "返回条数"  minimum(1)  maximum(200)  default(100)
// @Success      200    {array}   SessionInfo
// @Failure      400    {object}  pkghttp.ErrorResponse
// @Router       /api/v1/sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var q model.ListSessionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	sessions, err := h.historyService.ListSessions(c.Request.Context(), userID, q.Skip, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, toSessionInfo(s))
	}
	c.JSON(http.StatusOK, items)
}

// Create 创建会话
// @Summary      创建会话
// @Tags         会话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      model.CreateSessionRequest  false  "会话标题"
// @Success      201      {object}  SessionInfo
// @Router       /api/v1/sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req model.CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	sess, err := h.historyService.CreateSession(c.Request.Context(), userID, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionInfo(sess))
}

// History 会话历史
// @Summary      会话历史
// @Description  按时间正序返回全部对话轮次
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "会话 UUID"
// @Success      200  {array}   model.ConversationTurn
// @Failure      400  {object}  pkghttp.ErrorResponse
// @Failure      403  {object}  pkghttp.ErrorResponse
// @Failure      404  {object}  pkghttp.ErrorResponse
// @Router       /api/v1/sessions/{id}/history [get]
func (h *SessionHandler) History(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	turns, err := h.historyService.GetHistory(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, turns)
}

// Rename 修改会话标题
// @Summary      修改会话标题
// @Tags         会话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                      true  "会话 UUID"
// @Param        request  body      model.RenameSessionRequest  true  "新标题"
// @Success      200      {object}  SessionInfo
// @Failure      403      {object}  pkghttp.ErrorResponse
// @Failure      404      {object}  pkghttp.ErrorResponse
// @Router       /api/v1/sessions/{id} [patch]
func (h *SessionHandler) Rename(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req model.RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess, err := h.historyService.RenameSession(c.Request.Context(), c.Param("id"), userID, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionInfo(sess))
}

// Delete 删除会话及其历史
// @Summary      删除会话
// @Tags         会话
// @Security     BearerAuth
// @Param        id   path  string  true  "会话 UUID"
// @Success      204
// @Failure      403  {object}  pkghttp.ErrorResponse
// @Failure      404  {object}  pkghttp.ErrorResponse
// @Router       /api/v1/sessions/{id} [delete]
func (h *SessionHandler) Delete(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	if err := h.historyService.DeleteSession(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
