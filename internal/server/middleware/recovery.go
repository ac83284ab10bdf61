package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	pkghttp "lime/internal/pkg/http"
)

// Recovery 异常恢复中间件
// 流式响应已经开始输出时只记录日志，不再写响应体
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}

				log.Error().
					Interface("error", err).
					Str("path", c.Request.URL.Path).
					Str("method", c.Request.Method).
					Str("request_id", c.GetString("request_id")).
					Msg("panic recovered")

				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					pkghttp.NewErrorResponse(50000, "internal", "Internal Server Error"))
			}
		}()
		c.Next()
	}
}
