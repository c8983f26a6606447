package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailwatcher/internal/classifier"
	"mailwatcher/internal/dedup"
	"mailwatcher/internal/model"
	"mailwatcher/pkg/util"
)

func containsLine(content, marker string) bool {
	return strings.Contains(content, marker)
}

// ambiguousModel 模型回答既没有 ALERTA 也没有 OK
type ambiguousModel struct{ calls int }

func (g *ambiguousModel) Generate(_ context.Context, _ string, _ string) (string, error) {
	g.calls++
	return "no estoy seguro de la severidad", nil
}

func m1() model.MessageDetail {
	return model.MessageDetail{
		ID:         "M1",
		ChangeKey:  "CK1",
		Subject:    "Monitoreo nocturno",
		Sender:     "monitor@example.com",
		Recipients: []string{"ops@example.com"},
		ReceivedAt: time.Date(2024, 5, 1, 3, 4, 5, 0, time.Local),
		Body:       "El servicio no responde, error 503",
	}
}

func TestRunCycle_EndToEndKeywordAlert(t *testing.T) {
	ctx := context.Background()
	mail := newFakeMail(m1())
	gen := &ambiguousModel{}
	cls := classifier.New(gen, classifier.Config{}, zap.NewNop())
	notify := &fakeNotifier{}
	store, err := dedup.OpenFileStore(filepath.Join(t.TempDir(), "processed.json"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(mail, cls, notify, store, Options{}, zap.NewNop())
	report := o.RunCycle(ctx)

	if report.Err != nil || report.Discovered != 1 || report.Alerts != 1 || report.Recorded != 1 {
		t.Fatalf("report: %+v", report)
	}
	if len(notify.alerts) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(notify.alerts))
	}
	a := notify.alerts[0]
	if a.Subject != "Monitoreo nocturno" || a.From != "monitor@example.com" {
		t.Errorf("alert header: %+v", a)
	}
	if a.Date != "01/05/2024 03:04:05" {
		t.Errorf("alert date: got %q", a.Date)
	}
	if a.Summary != "El servicio no responde, error 503" {
		t.Errorf("alert summary: got %q", a.Summary)
	}
	if len(mail.markCalls) != 1 || mail.markCalls[0] != (markReadCall{"M1", "CK1"}) {
		t.Errorf("mark read calls: %+v", mail.markCalls)
	}
	if ok, _ := store.Contains(ctx, "M1"); !ok {
		t.Error("M1 should be recorded")
	}

	// 同一封邮件再次出现：不再有任何针对它的调用
	report = o.RunCycle(ctx)
	if report.Skipped != 1 || report.Recorded != 0 {
		t.Errorf("second report: %+v", report)
	}
	if len(mail.detailCalls) != 1 || len(mail.markCalls) != 1 || gen.calls != 1 {
		t.Errorf("calls after second cycle: detail=%d mark=%d model=%d",
			len(mail.detailCalls), len(mail.markCalls), gen.calls)
	}
	if len(notify.alerts) != 1 {
		t.Errorf("notifications after second cycle: got %d", len(notify.alerts))
	}
}

func TestRunCycle_IdempotentSecondRun(t *testing.T) {
	ctx := context.Background()
	a := model.MessageDetail{ID: "A", ChangeKey: "ka", Body: "todo bien"}
	b := model.MessageDetail{ID: "B", ChangeKey: "kb", Body: "todo bien"}
	mail := newFakeMail(a, b)
	cls := &fakeClassifier{verdict: model.VerdictAlert}
	notify := &fakeNotifier{}
	store := newMemStore()

	o := NewOrchestrator(mail, cls, notify, store, Options{}, zap.NewNop())
	o.RunCycle(ctx)
	if store.adds != 2 || len(notify.alerts) != 2 {
		t.Fatalf("first run: adds=%d alerts=%d", store.adds, len(notify.alerts))
	}

	o.RunCycle(ctx)
	if store.adds != 2 {
		t.Errorf("second run mutated store: adds=%d", store.adds)
	}
	if len(notify.alerts) != 2 {
		t.Errorf("second run notified: %d", len(notify.alerts))
	}
}

func TestRunCycle_KnownIDsNeverFetched(t *testing.T) {
	mail := newFakeMail(
		model.MessageDetail{ID: "OLD1"},
		model.MessageDetail{ID: "NEW"},
		model.MessageDetail{ID: "OLD2"},
	)
	cls := &fakeClassifier{}
	store := newMemStore("OLD1", "OLD2")

	o := NewOrchestrator(mail, cls, &fakeNotifier{}, store, Options{}, zap.NewNop())
	report := o.RunCycle(context.Background())

	if len(mail.detailCalls) != 1 || mail.detailCalls[0] != "NEW" {
		t.Errorf("detail calls: %v", mail.detailCalls)
	}
	if len(cls.calls) != 1 {
		t.Errorf("classify calls: %d", len(cls.calls))
	}
	if report.Skipped != 2 || report.Recorded != 1 {
		t.Errorf("report: %+v", report)
	}
}

func TestRunCycle_MarkReadFailureStillRecords(t *testing.T) {
	ctx := context.Background()
	mail := newFakeMail(m1())
	mail.markErr = errors.New("ErrorIrresolvableConflict")
	notify := &fakeNotifier{}
	store := newMemStore()

	o := NewOrchestrator(mail, &fakeClassifier{verdict: model.VerdictAlert}, notify, store, Options{}, zap.NewNop())
	report := o.RunCycle(ctx)

	if !store.ids["M1"] {
		t.Fatal("M1 should be recorded despite mark read failure")
	}
	if report.MarkReadFailed != 1 || report.Recorded != 1 {
		t.Errorf("report: %+v", report)
	}

	o.RunCycle(ctx)
	if len(notify.alerts) != 1 {
		t.Errorf("duplicate notification: got %d", len(notify.alerts))
	}
}

func TestRunCycle_QueryFailureEndsCycle(t *testing.T) {
	mail := newFakeMail(m1())
	mail.findErr = errors.New("connection refused")
	cls := &fakeClassifier{}

	o := NewOrchestrator(mail, cls, &fakeNotifier{}, newMemStore(), Options{}, zap.NewNop())
	report := o.RunCycle(context.Background())

	if report.Err == nil {
		t.Fatal("expected report error")
	}
	if report.Status() != "query_failed" {
		t.Errorf("status: got %s", report.Status())
	}
	if len(mail.detailCalls) != 0 || len(cls.calls) != 0 {
		t.Error("no per-message work after a failed query")
	}
}

func TestRunCycle_FailuresAreIsolatedPerMessage(t *testing.T) {
	ctx := context.Background()
	mail := newFakeMail(
		model.MessageDetail{ID: "D", Body: "detail fails"},
		model.MessageDetail{ID: "C", Body: "classify fails"},
		model.MessageDetail{ID: "P", Body: "panics"},
		model.MessageDetail{ID: "OK", Body: "fine"},
	)
	mail.detailErr["D"] = errors.New("ErrorItemNotFound")
	cls := &fakeClassifier{
		errOn:   map[string]error{"classify fails": &classifier.InferenceError{Kind: "classify", Err: context.DeadlineExceeded}},
		panicOn: map[string]bool{"panics": true},
	}
	store := newMemStore()

	o := NewOrchestrator(mail, cls, &fakeNotifier{}, store, Options{}, zap.NewNop())
	report := o.RunCycle(ctx)

	if report.Failed != 3 || report.Recorded != 1 {
		t.Errorf("report: %+v", report)
	}
	if report.Status() != "partial" {
		t.Errorf("status: got %s", report.Status())
	}
	for _, id := range []string{"D", "C", "P"} {
		if store.ids[id] {
			t.Errorf("%s must not be recorded", id)
		}
	}
	if !store.ids["OK"] {
		t.Error("sibling message should still be recorded")
	}
	for _, c := range mail.markCalls {
		if c.id != "OK" {
			t.Errorf("unexpected mark read for %s", c.id)
		}
	}
}

func TestRunCycle_SkipsRemotelyRead(t *testing.T) {
	mail := newFakeMail(model.MessageDetail{ID: "R"})
	mail.candidates[0].IsRead = true

	o := NewOrchestrator(mail, &fakeClassifier{}, &fakeNotifier{}, newMemStore(), Options{}, zap.NewNop())
	report := o.RunCycle(context.Background())

	if report.Skipped != 1 || len(mail.detailCalls) != 0 {
		t.Errorf("report: %+v detail calls: %v", report, mail.detailCalls)
	}
}

func TestRunCycle_RecordFailureCounted(t *testing.T) {
	mail := newFakeMail(m1())
	store := newMemStore()
	store.addErr = errors.New("disk full")

	o := NewOrchestrator(mail, &fakeClassifier{}, &fakeNotifier{}, store, Options{}, zap.NewNop())
	report := o.RunCycle(context.Background())

	if report.Failed != 1 || report.Recorded != 0 {
		t.Errorf("report: %+v", report)
	}
	if len(mail.markCalls) != 1 {
		t.Errorf("mark read should precede recording: %v", mail.markCalls)
	}
}

func TestRunCycle_AnalysisTextCarriesHeaders(t *testing.T) {
	cls := &fakeClassifier{}
	o := NewOrchestrator(newFakeMail(m1()), cls, &fakeNotifier{}, newMemStore(), Options{}, zap.NewNop())
	o.RunCycle(context.Background())

	if len(cls.calls) != 1 {
		t.Fatalf("classify calls: %d", len(cls.calls))
	}
	got := cls.calls[0]
	for _, want := range []string{
		"Asunto: Monitoreo nocturno",
		"Remitente: monitor@example.com",
		"Para: ops@example.com",
		"Fecha: 01/05/2024 03:04:05",
		"\n\nEl servicio no responde, error 503",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("analysis text missing %q:\n%s", want, got)
		}
	}
}

func TestRunCycle_SummaryPolicy(t *testing.T) {
	long := strings.Repeat("é", 310)

	tests := []struct {
		name    string
		opts    Options
		body    string
		explain string
		want    string
	}{
		{"body short", Options{}, "corto", "expl", "corto"},
		{"body truncated by rune", Options{}, long, "", strings.Repeat("é", 300) + "…"},
		{"explanation", Options{SummarySource: SummaryFromExplanation}, "cuerpo", "análisis", "análisis"},
		{"explanation empty falls back to body", Options{SummarySource: SummaryFromExplanation}, "cuerpo", "  ", "cuerpo"},
		{"custom max", Options{SummaryMax: 3}, "abcdef", "", "abc…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mail := newFakeMail(model.MessageDetail{ID: "X", Body: tt.body})
			notify := &fakeNotifier{}
			cls := &fakeClassifier{verdict: model.VerdictAlert, explain: tt.explain}

			o := NewOrchestrator(mail, cls, notify, newMemStore(), tt.opts, zap.NewNop())
			o.RunCycle(context.Background())

			if len(notify.alerts) != 1 {
				t.Fatalf("alerts: %d", len(notify.alerts))
			}
			if got := notify.alerts[0].Summary; got != tt.want {
				t.Errorf("summary: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateSummarySource(t *testing.T) {
	if err := ValidateSummarySource("explanation"); err != nil {
		t.Error(err)
	}
	if err := ValidateSummarySource("subject"); err == nil {
		t.Error("expected error")
	}
}

func TestRunCycle_TracksAttempts(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	mail := newFakeMail(
		model.MessageDetail{ID: "BAD", Body: "x"},
		model.MessageDetail{ID: "GOOD", Body: "y"},
	)
	mail.detailErr["BAD"] = errors.New("ErrorItemNotFound")
	counter := util.NewAttemptCounter(rdb, time.Hour)
	if _, err := counter.Failed(ctx, "GOOD"); err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(mail, &fakeClassifier{}, &fakeNotifier{}, newMemStore(), Options{}, zap.NewNop(),
		WithAttemptTracker(counter))
	o.RunCycle(ctx)
	o.RunCycle(ctx)

	if n, _ := counter.Get(ctx, "BAD"); n != 2 {
		t.Errorf("BAD attempts: got %d, want 2", n)
	}
	if n, _ := counter.Get(ctx, "GOOD"); n != 0 {
		t.Errorf("GOOD attempts should reset once recorded: got %d", n)
	}
}
