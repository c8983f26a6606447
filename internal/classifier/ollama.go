package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mailwatcher/pkg/circuitbreaker"
	"mailwatcher/pkg/metrics"
	"mailwatcher/pkg/trace"
)

const (
	DefaultOllamaURL   = "http://localhost:11434/api/generate"
	DefaultOllamaModel = "llama3"
	DefaultTimeout     = 30 * time.Second
)

// OllamaConfig 推理服务配置
type OllamaConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// OllamaClient 调用 /api/generate，非流式、temperature 0
type OllamaClient struct {
	url        string
	model      string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewOllamaClient(cfg OllamaConfig, logger *zap.Logger) *OllamaClient {
	if cfg.URL == "" {
		cfg.URL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	cbConfig := circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("Inference circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &OllamaClient{
		url:        cfg.URL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         circuitbreaker.New(cbConfig),
		logger:     logger,
	}
}

// Generate 发送 prompt 并返回模型的原始回答
func (c *OllamaClient) Generate(ctx context.Context, kind, prompt string) (string, error) {
	var answer string
	var status int

	err := c.cb.Execute(func() error {
		start := time.Now()
		var callErr error
		answer, status, callErr = c.generate(ctx, prompt)

		label := "success"
		switch {
		case callErr != nil && status != 0:
			label = fmt.Sprintf("%d", status)
		case callErr != nil:
			label = "error"
		}
		metrics.RecordInferenceLatency(kind, label, time.Since(start))
		return callErr
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			metrics.RecordInferenceLatency(kind, "circuit_open", 0)
		}
		return "", &InferenceError{Kind: kind, Status: status, Err: err}
	}
	return answer, nil
}

func (c *OllamaClient) generate(ctx context.Context, prompt string) (string, int, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: generateOptions{Temperature: 0},
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if id := trace.FromContext(ctx); id != "" {
		req.Header.Set(trace.HeaderName(), id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", resp.StatusCode, fmt.Errorf("unexpected status: %s", bytes.TrimSpace(snippet))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("decode response: %w", err)
	}
	return out.Response, resp.StatusCode, nil
}
