package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	contractsmq "mailwatcher/contracts/mq"
)

type recordingSender struct {
	name  string
	err   error
	texts []string
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Send(_ context.Context, _ Alert, text string) error {
	s.texts = append(s.texts, text)
	return s.err
}

func TestNotifier_FailureDoesNotStopOtherChannels(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := New(NewTemplate("{subject}"), zap.NewNop(), bad, good)

	delivered := n.Notify(context.Background(), Alert{Subject: "s"})
	if delivered != 1 {
		t.Errorf("delivered: got %d, want 1", delivered)
	}
	if len(bad.texts) != 1 || len(good.texts) != 1 {
		t.Fatalf("calls: bad=%d good=%d", len(bad.texts), len(good.texts))
	}
	if good.texts[0] != "s" {
		t.Errorf("text: got %q", good.texts[0])
	}
}

func TestNotificationError(t *testing.T) {
	cause := errors.New("rate limited")
	err := &NotificationError{Channel: "slack", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to cause")
	}
	if err.Retryable() {
		t.Error("notifications are never retried")
	}
}

func TestSlackSender_PostsMessage(t *testing.T) {
	var gotChannel, gotText, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		_ = r.ParseForm()
		gotChannel = r.FormValue("channel")
		gotText = r.FormValue("text")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	s, err := NewSlackSender(SlackConfig{Token: "xoxb-test", APIURL: srv.URL + "/"}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), Alert{}, "*hola*"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotChannel != DefaultSlackChannel {
		t.Errorf("channel: got %q", gotChannel)
	}
	if gotText != "*hola*" {
		t.Errorf("text: got %q", gotText)
	}
	if gotAuth != "Bearer xoxb-test" {
		t.Errorf("auth: got %q", gotAuth)
	}
}

func TestSlackSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	s, _ := NewSlackSender(SlackConfig{Token: "t", Channel: "nope", APIURL: srv.URL + "/"}, zap.NewNop())
	if err := s.Send(context.Background(), Alert{}, "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewSlackSender_RequiresToken(t *testing.T) {
	if _, err := NewSlackSender(SlackConfig{}, zap.NewNop()); err == nil {
		t.Fatal("expected error without token")
	}
}

type fakePublisher struct {
	routingKey string
	payload    []byte
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, payload any) error {
	p.routingKey = routingKey
	b, err := json.Marshal(payload)
	p.payload = b
	return err
}

func TestMQSender_PublishesAlert(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQSender(pub, "")

	err := s.Send(context.Background(), Alert{MessageID: "M1", Subject: "s", From: "f", Date: "d", Summary: "sum"}, "rendered")
	if err != nil {
		t.Fatal(err)
	}
	if pub.routingKey != contractsmq.MailAlertRoutingKey {
		t.Errorf("routing key: got %s", pub.routingKey)
	}

	var got contractsmq.MailAlertPayload
	if err := json.Unmarshal(pub.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.MessageID != "M1" || got.Text != "rendered" || got.Summary != "sum" {
		t.Errorf("payload: got %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}
}
