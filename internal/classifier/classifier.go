// Package classifier 调用推理服务判断邮件是否描述了运维事故。
//
// 结论只取决于模型回答里的 ALERTA / OK 记号和正文关键词；
// 说明文字可选地翻译成目标语言，翻译失败不影响结论。
package classifier

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"mailwatcher/internal/model"
	"mailwatcher/pkg/metrics"
	"mailwatcher/pkg/util"
)

const DefaultPrompt = "Analizá el siguiente correo con información de logs o reportes de servidores. " +
	"Respondé solo con la palabra 'ALERTA' si el mensaje describe un problema importante, " +
	"o con 'OK' si es normal.\n\n---\n{body}"

const DefaultTranslationPrompt = "Traduce al ESPAÑOL NEUTRO el siguiente análisis, manteniendo la estructura " +
	"de secciones y viñetas, pero SIN traducir nombres propios, rutas, comandos ni códigos de error. " +
	"Responde solo con la traducción:\n\n{text}"

// Config 分类规则。空切片 / 空字符串使用内置默认值
type Config struct {
	Prompt             string   `yaml:"prompt"`
	Keywords           []string `yaml:"keywords"`
	SourceMarkers      []string `yaml:"source_markers"`
	TargetMarkers      []string `yaml:"target_markers"`
	TranslationPrompt  string   `yaml:"translation_prompt"`
	DisableTranslation bool     `yaml:"disable_translation"`
}

// Generator 推理调用，OllamaClient 实现
type Generator interface {
	Generate(ctx context.Context, kind, prompt string) (string, error)
}

type Classifier struct {
	gen    Generator
	cfg    Config
	logger *zap.Logger
}

func New(gen Generator, cfg Config, logger *zap.Logger) *Classifier {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultKeywords
	}
	if len(cfg.SourceMarkers) == 0 {
		cfg.SourceMarkers = DefaultSourceMarkers
	}
	if len(cfg.TargetMarkers) == 0 {
		cfg.TargetMarkers = DefaultTargetMarkers
	}
	if cfg.TranslationPrompt == "" {
		cfg.TranslationPrompt = DefaultTranslationPrompt
	}
	return &Classifier{gen: gen, cfg: cfg, logger: logger}
}

// Classify 推理失败时返回 *InferenceError，调用方不应记录这封邮件
func (c *Classifier) Classify(ctx context.Context, content string) (model.ClassificationResult, error) {
	answer, err := c.gen.Generate(ctx, "classify", renderPrompt(c.cfg.Prompt, "{body}", content))
	if err != nil {
		return model.ClassificationResult{}, err
	}

	verdict, rule := c.decide(answer, content)
	metrics.IncrementVerdict(string(verdict), string(rule))

	explanation := strings.TrimSpace(answer)
	if !c.cfg.DisableTranslation && needsTranslation(explanation, c.cfg.SourceMarkers, c.cfg.TargetMarkers) {
		explanation = c.translate(ctx, explanation)
	}

	return model.ClassificationResult{Verdict: verdict, Explanation: explanation}, nil
}

// decide 关键词只能把模糊回答升级为 ALERT，明确的 ALERT / OK 不被改写
func (c *Classifier) decide(answer, content string) (model.Verdict, Rule) {
	if v, ok := readVerdict(answer); ok {
		return v, RuleModel
	}
	if kw, ok := matchKeyword(content, c.cfg.Keywords); ok {
		c.logger.Debug("Ambiguous model answer, keyword forced alert", zap.String("keyword", kw))
		return model.VerdictAlert, RuleKeyword
	}
	return model.VerdictOK, RuleDefault
}

func (c *Classifier) translate(ctx context.Context, text string) string {
	translated, err := c.gen.Generate(ctx, "translate", renderPrompt(c.cfg.TranslationPrompt, "{text}", text))
	if err != nil {
		c.logger.Warn("Translation failed, keeping original explanation", util.ErrorFields(err)...)
		return text
	}
	translated = strings.TrimSpace(translated)
	if translated == "" {
		return text
	}
	return translated
}

// renderPrompt 替换占位符；模板里没有占位符时把内容追加在末尾
func renderPrompt(tmpl, placeholder, value string) string {
	if strings.Contains(tmpl, placeholder) {
		return strings.ReplaceAll(tmpl, placeholder, value)
	}
	return tmpl + value
}
