// Package watcher 实现邮箱同步流水线：
// 查询未读 → 去重过滤 → 拉取详情 → 分类 → 告警 → 标记已读 → 记录。
package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailwatcher/internal/dedup"
	"mailwatcher/internal/model"
	"mailwatcher/internal/notifier"
	"mailwatcher/pkg/logger"
	"mailwatcher/pkg/metrics"
	"mailwatcher/pkg/trace"
	"mailwatcher/pkg/util"
)

// 告警摘要来源
const (
	SummaryFromBody        = "body"
	SummaryFromExplanation = "explanation"
)

const DefaultSummaryMax = 300

// MailClient 邮件服务器操作，ews.Client 实现
type MailClient interface {
	FindUnread(ctx context.Context, folder string) ([]model.MessageCandidate, error)
	GetDetail(ctx context.Context, id, changeKey string) (model.MessageDetail, error)
	MarkRead(ctx context.Context, id, changeKey string) error
}

type Classifier interface {
	Classify(ctx context.Context, content string) (model.ClassificationResult, error)
}

// Notifier 尽力投递，返回成功的通道数
type Notifier interface {
	Notify(ctx context.Context, alert notifier.Alert) int
}

// AttemptTracker 跨周期的失败计数，util.AttemptCounter 实现
type AttemptTracker interface {
	Failed(ctx context.Context, messageID string) (int64, error)
	Reset(ctx context.Context, messageID string) error
}

// 连续失败达到该次数后升级为 error 日志
const stuckAttempts = 5

// Options 流水线参数
type Options struct {
	Folder        string
	SummarySource string
	SummaryMax    int
}

// Orchestrator 单个周期内顺序处理候选邮件，独占 dedup store
type Orchestrator struct {
	mail     MailClient
	classify Classifier
	notify   Notifier
	store    dedup.Store
	attempts AttemptTracker
	opts     Options
	logger   *zap.Logger
}

type OrchestratorOption func(*Orchestrator)

// WithAttemptTracker 配置 Redis 时记录每封邮件的失败次数
func WithAttemptTracker(t AttemptTracker) OrchestratorOption {
	return func(o *Orchestrator) { o.attempts = t }
}

func NewOrchestrator(mail MailClient, classify Classifier, notify Notifier, store dedup.Store, opts Options, logger *zap.Logger, options ...OrchestratorOption) *Orchestrator {
	if opts.Folder == "" {
		opts.Folder = "INBOX"
	}
	if opts.SummarySource == "" {
		opts.SummarySource = SummaryFromBody
	}
	if opts.SummaryMax <= 0 {
		opts.SummaryMax = DefaultSummaryMax
	}
	o := &Orchestrator{
		mail:     mail,
		classify: classify,
		notify:   notify,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// outcome 单封邮件的终态
type outcome string

const (
	outcomeSkippedRead    outcome = "skipped_read"
	outcomeSkippedDedup   outcome = "skipped_dedup"
	outcomeDedupFailed    outcome = "dedup_check_failed"
	outcomeDetailFailed   outcome = "detail_failed"
	outcomeClassifyFailed outcome = "classify_failed"
	outcomeRecorded       outcome = "recorded"
	outcomeRecordFailed   outcome = "record_failed"
	outcomePanic          outcome = "panic"
)

// RunCycle 执行一个完整周期。错误只记录在报告里，不会 panic
func (o *Orchestrator) RunCycle(ctx context.Context) (report CycleReport) {
	report = CycleReport{
		CycleID:   trace.FromContext(ctx),
		StartedAt: time.Now(),
	}
	if report.CycleID == "" {
		report.CycleID = trace.NewCycleID()
		ctx = trace.WithContext(ctx, report.CycleID)
	}
	log := logger.WithTrace(ctx, o.logger)

	defer func() {
		report.Duration = time.Since(report.StartedAt)
		metrics.RecordCycle(report.Status(), report.Duration)
		metrics.SetDedupStoreSize(o.store.Len())
	}()

	candidates, err := o.mail.FindUnread(ctx, o.opts.Folder)
	if err != nil {
		report.Err = err
		log.Error("Unread query failed, cycle aborted",
			append([]zap.Field{zap.String("folder", o.opts.Folder)}, util.ErrorFields(err)...)...,
		)
		return report
	}

	report.Discovered = len(candidates)
	log.Info("Unread query completed",
		zap.String("folder", o.opts.Folder),
		zap.Int("candidates", len(candidates)),
	)

	for _, c := range candidates {
		if ctx.Err() != nil {
			log.Warn("Cycle canceled, remaining candidates left for next cycle")
			break
		}

		out, alerted, markReadFailed := o.processSafely(ctx, log, c)
		metrics.IncrementMessage(string(out))
		o.trackAttempt(ctx, log, c.ID, out)

		if alerted {
			report.Alerts++
		}
		if markReadFailed {
			report.MarkReadFailed++
		}
		switch out {
		case outcomeSkippedRead, outcomeSkippedDedup:
			report.Skipped++
		case outcomeRecorded:
			report.Recorded++
		default:
			report.Failed++
		}
	}

	log.Info("Cycle completed",
		zap.Int("discovered", report.Discovered),
		zap.Int("skipped", report.Skipped),
		zap.Int("alerts", report.Alerts),
		zap.Int("recorded", report.Recorded),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", time.Since(report.StartedAt)),
	)
	return report
}

// processSafely 一封邮件的 panic 不影响同周期的其它邮件
func (o *Orchestrator) processSafely(ctx context.Context, log *zap.Logger, c model.MessageCandidate) (out outcome, alerted, markReadFailed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while processing message",
				zap.String("message_id", c.ID),
				zap.Any("panic", r),
			)
			out = outcomePanic
		}
	}()
	return o.process(ctx, log, c)
}

func (o *Orchestrator) process(ctx context.Context, log *zap.Logger, c model.MessageCandidate) (outcome, bool, bool) {
	log = log.With(zap.String("message_id", c.ID))

	if c.IsRead {
		return outcomeSkippedRead, false, false
	}

	seen, err := o.store.Contains(ctx, c.ID)
	if err != nil {
		log.Error("Dedup lookup failed", util.ErrorFields(err)...)
		return outcomeDedupFailed, false, false
	}
	if seen {
		log.Debug("Already processed, skipping")
		return outcomeSkippedDedup, false, false
	}

	detail, err := o.mail.GetDetail(ctx, c.ID, c.ChangeKey)
	if err != nil {
		log.Error("Fetching message detail failed", util.ErrorFields(err)...)
		return outcomeDetailFailed, false, false
	}
	if detail.ChangeKey == "" {
		detail.ChangeKey = c.ChangeKey
	}
	if detail.ReceivedAt.IsZero() {
		detail.ReceivedAt = c.ReceivedAt
	}
	if detail.ReceivedAt.IsZero() {
		log.Warn("Message has no usable received date")
	}

	log.Info("Analysing message",
		zap.String("subject", detail.Subject),
		zap.String("from", detail.Sender),
		zap.Strings("to", detail.Recipients),
	)

	result, err := o.classify.Classify(ctx, detail.AnalysisText())
	if err != nil {
		log.Error("Classification failed, message left for next cycle", util.ErrorFields(err)...)
		return outcomeClassifyFailed, false, false
	}
	log.Info("Message classified", zap.String("verdict", string(result.Verdict)))

	alerted := false
	if result.IsAlert() {
		alerted = true
		o.notify.Notify(ctx, notifier.Alert{
			MessageID:  detail.ID,
			Subject:    detail.Subject,
			From:       detail.Sender,
			Date:       model.FormatDisplayDate(detail.ReceivedAt),
			Summary:    o.summary(detail, result),
			ReceivedAt: detail.ReceivedAt,
		})
	}

	// 标记已读失败不阻止记录：记录之后不会重复告警
	markReadFailed := false
	if err := o.mail.MarkRead(ctx, c.ID, detail.ChangeKey); err != nil {
		markReadFailed = true
		log.Warn("Mark read failed, recording anyway", util.ErrorFields(err)...)
	}

	if err := o.store.Add(ctx, c.ID); err != nil {
		log.Error("Recording message failed", util.ErrorFields(err)...)
		return outcomeRecordFailed, alerted, markReadFailed
	}
	return outcomeRecorded, alerted, markReadFailed
}

func (o *Orchestrator) trackAttempt(ctx context.Context, log *zap.Logger, id string, out outcome) {
	if o.attempts == nil {
		return
	}

	switch out {
	case outcomeSkippedRead, outcomeSkippedDedup:
		return
	case outcomeRecorded:
		if err := o.attempts.Reset(ctx, id); err != nil {
			log.Debug("Resetting attempt counter failed", zap.String("message_id", id), zap.Error(err))
		}
		return
	}

	n, err := o.attempts.Failed(ctx, id)
	if err != nil {
		log.Debug("Attempt counter unavailable", zap.String("message_id", id), zap.Error(err))
		return
	}
	if n >= stuckAttempts {
		log.Error("Message keeps failing across cycles",
			zap.String("message_id", id),
			zap.String("outcome", string(out)),
			zap.Int64("attempts", n),
		)
	}
}

func (o *Orchestrator) summary(d model.MessageDetail, r model.ClassificationResult) string {
	text := d.Body
	if o.opts.SummarySource == SummaryFromExplanation && strings.TrimSpace(r.Explanation) != "" {
		text = r.Explanation
	}
	return truncate(strings.TrimSpace(text), o.opts.SummaryMax)
}

// truncate 按 rune 截断，截断时追加省略号
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// ValidateSummarySource 配置校验用
func ValidateSummarySource(s string) error {
	switch s {
	case "", SummaryFromBody, SummaryFromExplanation:
		return nil
	default:
		return fmt.Errorf("unknown summary source %q (want %s or %s)", s, SummaryFromBody, SummaryFromExplanation)
	}
}
