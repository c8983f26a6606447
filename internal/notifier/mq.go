package notifier

import (
	"context"
	"time"

	contractsmq "mailwatcher/contracts/mq"
)

// Publisher pkg/mq.Publisher 实现
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// MQSender 把告警作为事件发布到 events exchange
type MQSender struct {
	pub        Publisher
	routingKey string
	now        func() time.Time
}

func NewMQSender(pub Publisher, routingKey string) *MQSender {
	if routingKey == "" {
		routingKey = contractsmq.MailAlertRoutingKey
	}
	return &MQSender{pub: pub, routingKey: routingKey, now: time.Now}
}

func (s *MQSender) Name() string { return "mq" }

func (s *MQSender) Send(ctx context.Context, a Alert, text string) error {
	return s.pub.Publish(ctx, s.routingKey, contractsmq.MailAlertPayload{
		MessageID:  a.MessageID,
		Subject:    a.Subject,
		From:       a.From,
		Date:       a.Date,
		Summary:    a.Summary,
		Text:       text,
		ReceivedAt: a.ReceivedAt,
		CreatedAt:  s.now().UTC(),
	})
}
