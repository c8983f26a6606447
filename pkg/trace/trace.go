package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type ctxKey struct{}

// NewCycleID 生成一个新的 cycle ID（8 字节，16 位 hex）
func NewCycleID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext 从 context 中获取 cycle ID
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// WithContext 将 cycle ID 添加到 context 中
func WithContext(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, cycleID)
}

// HeaderName 返回传播 cycle ID 的 HTTP header 名称
func HeaderName() string {
	return "X-Trace-ID"
}
