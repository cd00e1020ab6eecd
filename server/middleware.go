package server

import (
	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

const (
	APIKeyHeader    = "X-API-Key"
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
)

// RequestID 沿用客户端传入的 X-Request-ID，没有则生成一个
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// APIKeyAuth 校验 X-API-Key，密钥每次请求都重新读取
//
// 校验失败返回 404，不暴露接口是否存在；未配置密钥时拒绝所有请求。
func APIKeyAuth(secret func() string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := secret()
		got := c.GetHeader(APIKeyHeader)
		if expected == "" || got != expected {
			logger.Warn("invalid api key",
				zap.String(requestIDKey, requestID(c)),
				zap.Bool("header_present", got != ""),
				zap.Bool("secret_configured", expected != ""),
			)
			abortWithError(c, errNotFound)
			return
		}
		c.Next()
	}
}
