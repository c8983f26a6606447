package classifier

import (
	"context"
	"errors"
	"fmt"

	"mailwatcher/pkg/circuitbreaker"
)

// InferenceError 推理服务调用失败：网络、超时、非 200、响应无法解析或熔断打开
type InferenceError struct {
	Kind   string // classify / translate
	Status int
	Err    error
}

func (e *InferenceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("inference %s: HTTP %d: %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("inference %s: %v", e.Kind, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) ErrorType() string {
	switch {
	case errors.Is(e.Err, circuitbreaker.ErrOpen):
		return "inference_circuit_open"
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "inference_timeout"
	case e.Status >= 500:
		return "inference_server_error"
	case e.Status != 0:
		return "inference_http_error"
	default:
		return "inference_error"
	}
}

// Retryable 邮件没有被记录，下个周期会再次分类
func (e *InferenceError) Retryable() bool { return true }
