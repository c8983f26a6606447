package mq

import "time"

// MailAlertRoutingKey 告警事件的默认 routing key
const MailAlertRoutingKey = "mail.alert"

// MailAlertPayload 检测到事故邮件时发布的事件
type MailAlertPayload struct {
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	Date       string    `json:"date"`
	Summary    string    `json:"summary"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
