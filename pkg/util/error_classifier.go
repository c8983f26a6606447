package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"mailwatcher/pkg/circuitbreaker"
)

// typedError 由 ews / classifier 的错误类型实现
type typedError interface {
	ErrorType() string
	Retryable() bool
}

// ClassifyError 判断错误是否会在下个周期自然重试，并给出 error_type
// Returns: (isRetryable, errorType)
func ClassifyError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var te typedError
	if errors.As(err, &te) {
		return te.Retryable(), te.ErrorType()
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return true, "circuit_open"
	}

	// Context timeout - 可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	// URL errors - 可重试
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if strings.Contains(err.Error(), "connection refused") {
		return true, "network_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// ErrorFields 返回统一的错误日志字段
func ErrorFields(err error) []zap.Field {
	retryable, errType := ClassifyError(err)
	return []zap.Field{
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	}
}
