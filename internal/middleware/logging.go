package middleware

import (
	"time"
	"upload-validator-go/pkg/log"
	"upload-validator-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// RequestLogger 是一个 Gin 中间件，记录每个运维请求的调用方、目标上传与耗时。
// 响应中可能带有参与者数据的校验消息，因此只记录响应大小。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		operator := ""
		if value, ok := c.Get(ClaimsKey); ok {
			if claims, ok := value.(*token.CustomClaims); ok {
				operator = claims.Operator
			}
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"uploadId", c.Param("uploadId"),
			"operator", operator,
			"responseBytes", c.Writer.Size(),
		)
	}
}
