package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailwatcher/pkg/circuitbreaker"
)

func TestOllamaClient_Generate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3","response":"ALERTA","done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{URL: srv.URL}, zap.NewNop())
	answer, err := c.Generate(context.Background(), "classify", "hola")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != "ALERTA" {
		t.Errorf("answer: got %q", answer)
	}
	if got.Model != DefaultOllamaModel || got.Prompt != "hola" || got.Stream || got.Options.Temperature != 0 {
		t.Errorf("request: got %+v", got)
	}
}

func TestOllamaClient_Non200IsInferenceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{URL: srv.URL, Model: "missing"}, zap.NewNop())
	_, err := c.Generate(context.Background(), "classify", "x")

	var ie *InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
	if ie.Status != http.StatusNotFound {
		t.Errorf("status: got %d", ie.Status)
	}
	if ie.ErrorType() != "inference_http_error" {
		t.Errorf("error type: got %s", ie.ErrorType())
	}
}

func TestOllamaClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewOllamaClient(OllamaConfig{URL: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop())
	_, err := c.Generate(context.Background(), "classify", "x")

	var ie *InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
	if !ie.Retryable() {
		t.Error("inference errors are retried next cycle")
	}
}

func TestOllamaClient_BreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{URL: srv.URL}, zap.NewNop())
	for i := 0; i < 3; i++ {
		_, _ = c.Generate(context.Background(), "classify", "x")
	}

	_, err := c.Generate(context.Background(), "classify", "x")
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls != 3 {
		t.Errorf("server calls: got %d, want 3", calls)
	}
	var ie *InferenceError
	if errors.As(err, &ie) && ie.ErrorType() != "inference_circuit_open" {
		t.Errorf("error type: got %s", ie.ErrorType())
	}
}
