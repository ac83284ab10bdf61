package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"lime/internal/model"
	"lime/internal/pkg/ctxutil"
	"lime/internal/service"
)

// ChatHandler 对话处理器
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler 创建对话处理器
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 单次对话
// @Summary      单次对话
// @Description  读取会话历史、调用推理后端并保存本轮对话，返回完整的 LLMResponse
// @Tags         对话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      model.LLMRequest  true  "对话请求"
// @Success      200      {object}  model.LLMResponse
// @Failure      400      {object}  pkghttp.ErrorResponse
// @Failure      403      {object}  pkghttp.ErrorResponse
// @Failure      502      {object}  pkghttp.ErrorResponse
// @Failure      500      {object}  pkghttp.ErrorResponse
// @Router       /api/v1/chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req model.LLMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.chatService.Chat(c.Request.Context(), userID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	if res.Degraded != nil {
		c.Header("X-Response-Degraded", service.ErrorKind(res.Degraded))
	}
	c.JSON(http.StatusOK, res.Response)
}

// ChatStream 流式对话，响应为 NDJSON，每行一个 StreamChunk
// @Summary      流式对话
// @Description  逐行输出 {"session_id","content","type"}；上游失败时最后一行 type 为 error
// @Tags         对话
// @Accept       json
// @Produce      application/x-ndjson
// @Security     BearerAuth
// @Param        request  body      model.LLMRequest  true  "对话请求"
// @Success      200      {object}  model.StreamChunk
// @Failure      400      {object}  pkghttp.ErrorResponse
// @Failure      403      {object}  pkghttp.ErrorResponse
// @Router       /api/v1/chat/stream [post]
func (h *ChatHandler) ChatStream(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req model.LLMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	stream, err := h.chatService.OpenStream(ctx, userID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	out := stream.Run(ctx, func(chunk model.StreamChunk) error {
		if err := enc.Encode(chunk); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})

	log.Debug().
		Str("session_id", req.SessionID).
		Bool("completed", out.Completed).
		Bool("canceled", out.Canceled).
		Int("bytes", len(out.Text)).
		Msg("chat stream finished")
}
