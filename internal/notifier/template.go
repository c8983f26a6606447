package notifier

import (
	"strings"
	"time"

	"mailwatcher/internal/model"
)

const DefaultTemplate = ":rotating_light: *Alerta detectada*\n" +
	"*Asunto:* {subject}\n" +
	"*Remitente:* {from}\n" +
	"*Resumen:* {summary}\n" +
	"*Fecha:* {date}"

const (
	noSubject = "(sin asunto)"
	noSender  = "(desconocido)"
	noSummary = "(sin resumen)"
)

// Template 支持 {subject} {from} {summary} {date} 四个占位符
type Template struct {
	text string
	now  func() time.Time
}

func NewTemplate(text string) *Template {
	if text == "" {
		text = DefaultTemplate
	}
	return &Template{text: text, now: time.Now}
}

// Render 空字段使用默认值，日期为空时用当前时间
func (t *Template) Render(a Alert) string {
	date := a.Date
	if date == "" {
		date = model.FormatDisplayDate(t.now())
	}
	r := strings.NewReplacer(
		"{subject}", orDefault(a.Subject, noSubject),
		"{from}", orDefault(a.From, noSender),
		"{summary}", orDefault(a.Summary, noSummary),
		"{date}", date,
	)
	return r.Replace(t.text)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
