package ews

import (
	"errors"
	"fmt"
)

var (
	// ErrItemNotFound 服务器不认识该 ItemId（例如邮件已被并发删除）
	ErrItemNotFound = errors.New("ews: item not found")
	// ErrFolderNotFound 配置的文件夹不存在
	ErrFolderNotFound = errors.New("ews: folder not found")
	// ErrUnauthorized 认证失败（HTTP 401）
	ErrUnauthorized = errors.New("ews: unauthorized")
	// ErrMalformedResponse 响应缺少预期节点或 XML 无法解析
	ErrMalformedResponse = errors.New("ews: malformed response")
)

// ProtocolError 邮件服务器交互失败：传输、认证、SOAP fault 或响应格式错误
type ProtocolError struct {
	Op     string // FindItem / FindFolder / GetItem / UpdateItem
	Status int    // HTTP status，0 表示未拿到响应
	Code   string // EWS ResponseCode 或 fault code
	Msg    string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "ews " + e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ErrorType 用于日志字段 error_type
func (e *ProtocolError) ErrorType() string {
	switch {
	case errors.Is(e.Err, ErrUnauthorized):
		return "ews_unauthorized"
	case errors.Is(e.Err, ErrItemNotFound):
		return "ews_item_not_found"
	case errors.Is(e.Err, ErrFolderNotFound):
		return "ews_folder_not_found"
	case errors.Is(e.Err, ErrMalformedResponse):
		return "ews_malformed_response"
	case e.Status >= 500:
		return "ews_server_error"
	case e.Status == 0:
		return "ews_transport_error"
	default:
		return "ews_error"
	}
}

// Retryable 所有协议错误都在下一个周期重试（邮件尚未记录）
func (e *ProtocolError) Retryable() bool { return true }

// responseCodeErr 把 EWS ResponseCode 映射为哨兵错误
func responseCodeErr(code string) error {
	switch code {
	case "ErrorItemNotFound", "ErrorInvalidIdNotAnItemAttachmentId", "ErrorInvalidIdMalformed":
		return ErrItemNotFound
	case "ErrorFolderNotFound":
		return ErrFolderNotFound
	case "ErrorAccessDenied", "ErrorInvalidCredentials":
		return ErrUnauthorized
	default:
		return nil
	}
}
