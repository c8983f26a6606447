package model

import (
	"strings"
	"time"
)

// DisplayDateLayout 面向人的日期格式 DD/MM/YYYY HH:mm:ss（本地时间）
const DisplayDateLayout = "02/01/2006 15:04:05"

// MessageCandidate 文件夹查询返回的未读邮件
// ChangeKey 是服务器的并发令牌，只在本次周期内使用，不跨周期缓存
type MessageCandidate struct {
	ID         string
	ChangeKey  string
	Subject    string
	Sender     string
	ReceivedAt time.Time
	IsRead     bool
}

// MessageDetail 单封邮件的完整属性（含纯文本正文）
type MessageDetail struct {
	ID         string
	ChangeKey  string
	Subject    string
	Sender     string
	Recipients []string
	ReceivedAt time.Time
	Body       string
}

// Verdict 分类结论
type Verdict string

const (
	VerdictAlert Verdict = "ALERT"
	VerdictOK    Verdict = "OK"
)

// ClassificationResult 分类结果，不持久化
type ClassificationResult struct {
	Verdict     Verdict
	Explanation string
}

// IsAlert reports whether the result requires a notification.
func (r ClassificationResult) IsAlert() bool {
	return r.Verdict == VerdictAlert
}

// FormatDisplayDate 把时间格式化为本地时间的 DD/MM/YYYY HH:mm:ss，零值返回空串
func FormatDisplayDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(DisplayDateLayout)
}

// AnalysisText 拼接送去分类的文本：主题、发件人、收件人、日期和正文
func (d MessageDetail) AnalysisText() string {
	var b strings.Builder
	b.WriteString("Asunto: ")
	b.WriteString(d.Subject)
	b.WriteString("\nRemitente: ")
	b.WriteString(orUnknown(d.Sender))
	b.WriteString("\nPara: ")
	b.WriteString(orUnknown(strings.Join(d.Recipients, ", ")))
	b.WriteString("\nFecha: ")
	b.WriteString(FormatDisplayDate(d.ReceivedAt))
	b.WriteString("\n\n")
	b.WriteString(d.Body)
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
