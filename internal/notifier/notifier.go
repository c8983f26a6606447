// Package notifier 把告警渲染成文本并投递到配置的通道（Slack、RabbitMQ）。
// 投递是尽力而为：失败只记日志和 metrics，不重试也不返回给调用方。
package notifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailwatcher/pkg/metrics"
	"mailwatcher/pkg/util"
)

// Alert 告警内容，Date 已经是展示格式
type Alert struct {
	MessageID  string
	Subject    string
	From       string
	Date       string
	Summary    string
	ReceivedAt time.Time
}

// Sender 单个投递通道
type Sender interface {
	Name() string
	Send(ctx context.Context, alert Alert, text string) error
}

// NotificationError 某个通道投递失败
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

func (e *NotificationError) ErrorType() string { return "notification_error" }

func (e *NotificationError) Retryable() bool { return false }

// Notifier 渲染一次模板，依次投递到所有通道
type Notifier struct {
	tmpl    *Template
	senders []Sender
	logger  *zap.Logger
}

func New(tmpl *Template, logger *zap.Logger, senders ...Sender) *Notifier {
	if tmpl == nil {
		tmpl = NewTemplate("")
	}
	return &Notifier{tmpl: tmpl, senders: senders, logger: logger}
}

// Notify 返回成功投递的通道数
func (n *Notifier) Notify(ctx context.Context, alert Alert) int {
	text := n.tmpl.Render(alert)
	delivered := 0

	for _, s := range n.senders {
		if err := s.Send(ctx, alert, text); err != nil {
			nerr := &NotificationError{Channel: s.Name(), Err: err}
			metrics.IncrementNotification(s.Name(), "error")
			n.logger.Error("Notification failed",
				append([]zap.Field{
					zap.String("channel", s.Name()),
					zap.String("message_id", alert.MessageID),
				}, util.ErrorFields(nerr)...)...,
			)
			continue
		}
		metrics.IncrementNotification(s.Name(), "success")
		n.logger.Info("Notification sent",
			zap.String("channel", s.Name()),
			zap.String("message_id", alert.MessageID),
		)
		delivered++
	}
	return delivered
}
