package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	pkghttp "lime/internal/pkg/http"
	"lime/internal/service"
)

// statusClientClosedRequest 客户端在响应前断开（nginx 约定）
const statusClientClosedRequest = 499

// errorStatus 错误类别 -> HTTP 状态码、错误码
var errorStatus = map[string]struct {
	status int
	code   int
}{
	service.KindInvalidIdentifier:   {http.StatusBadRequest, 40002},
	service.KindForbidden:           {http.StatusForbidden, 40301},
	service.KindNotFound:            {http.StatusNotFound, 40401},
	service.KindUpstreamUnavailable: {http.StatusBadGateway, 50201},
	service.KindUpstreamMalformed:   {http.StatusBadGateway, 50202},
	service.KindPersistence:         {http.StatusInternalServerError, 50002},
	service.KindInternal:            {http.StatusInternalServerError, 50001},
}

// writeError 按错误类别写出响应
// 4xx 带上错误详情，5xx 只返回类别和通用消息
func writeError(c *gin.Context, err error) {
	kind := service.ErrorKind(err)
	if kind == service.KindCanceled {
		c.AbortWithStatus(statusClientClosedRequest)
		return
	}

	e, ok := errorStatus[kind]
	if !ok {
		kind = service.KindInternal
		e = errorStatus[kind]
	}

	if e.status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("kind", kind).
			Str("path", c.Request.URL.Path).
			Str("request_id", c.GetString("request_id")).
			Msg("request failed")
		c.JSON(e.status, pkghttp.NewErrorResponse(e.code, kind, service.PublicMessage(kind)))
		return
	}
	c.JSON(e.status, pkghttp.NewErrorResponse(e.code, kind, service.PublicMessage(kind), err.Error()))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "", "Invalid request", err.Error()))
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, pkghttp.NewErrorResponse(40101, "", "Unauthorized"))
}
