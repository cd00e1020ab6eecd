package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// NewContext 把带请求字段的 logger 放进 ctx，供下游组件使用
func NewContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext 取出 ctx 中的 logger，没有时返回 fallback，fallback 也为 nil 时返回 Nop
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}
