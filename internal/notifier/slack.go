package notifier

import (
	"context"
	"errors"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

const DefaultSlackChannel = "infraestructura"

// SlackConfig Slack 通道配置
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
	APIURL  string `yaml:"api_url"`
}

// SlackSender 通过 chat.postMessage 发送 mrkdwn 文本
type SlackSender struct {
	api     *slack.Client
	channel string
	logger  *zap.Logger
}

func NewSlackSender(cfg SlackConfig, logger *zap.Logger) (*SlackSender, error) {
	if cfg.Token == "" {
		return nil, errors.New("slack token is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultSlackChannel
	}

	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}

	return &SlackSender{
		api:     slack.New(cfg.Token, opts...),
		channel: cfg.Channel,
		logger:  logger,
	}, nil
}

func (s *SlackSender) Name() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, _ Alert, text string) error {
	_, ts, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return err
	}
	s.logger.Debug("Slack message posted",
		zap.String("channel", s.channel),
		zap.String("ts", ts),
	)
	return nil
}
