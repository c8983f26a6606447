// Package config 组装 mailwatcher 的运行配置：
// YAML 分层文件 + 环境变量覆盖 + 启动时校验。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mailwatcher/internal/classifier"
	"mailwatcher/internal/dedup"
	"mailwatcher/internal/ews"
	"mailwatcher/internal/notifier"
	"mailwatcher/internal/watcher"
	pkgconfig "mailwatcher/pkg/config"
)

const (
	DefaultFolder       = "INBOX"
	DefaultPollInterval = 5
	DefaultStateFile    = "processedMails.json"
	DefaultHTTPAddr     = ":8090"

	// 锁在周期运行期间会续期，TTL 只决定进程崩溃后多久释放
	DefaultLockTTLFactor = 2
)

// WatchConfig 同步周期配置
type WatchConfig struct {
	Folder              string        `yaml:"folder"`
	PollIntervalMinutes int           `yaml:"poll_interval_minutes"`
	LockTTL             time.Duration `yaml:"lock_ttl"`
}

// Interval 轮询间隔
func (w WatchConfig) Interval() time.Duration {
	return time.Duration(w.PollIntervalMinutes) * time.Minute
}

// NotifyConfig 告警通道配置
type NotifyConfig struct {
	Template   string               `yaml:"template"`
	Summary    string               `yaml:"summary"`
	SummaryMax int                  `yaml:"summary_max"`
	Slack      notifier.SlackConfig `yaml:"slack"`
	MQ         bool                 `yaml:"mq"`
}

// DedupConfig 去重存储配置
type DedupConfig struct {
	Backend   string `yaml:"backend"`
	StateFile string `yaml:"state_file"`
	RedisKey  string `yaml:"redis_key"`
}

type Config struct {
	LogLevel   string                  `yaml:"log_level"`
	EWS        ews.Config              `yaml:"ews"`
	Watch      WatchConfig             `yaml:"watch"`
	Ollama     classifier.OllamaConfig `yaml:"ollama"`
	Classifier classifier.Config       `yaml:"classifier"`
	Notify     NotifyConfig            `yaml:"notify"`
	Dedup      DedupConfig             `yaml:"dedup"`
	Redis      pkgconfig.RedisConfig   `yaml:"redis"`
	DB         pkgconfig.DBConfig      `yaml:"db"`
	MQ         pkgconfig.MQConfig      `yaml:"mq"`
	HTTP       pkgconfig.HTTPConfig    `yaml:"http"`
}

// Load 读取 <dir>/base.yaml 与 <dir>/<env>.yaml（都可缺省），再用环境变量覆盖并校验
func Load(env, dir string) (*Config, error) {
	if dir == "" {
		dir = "config"
	}

	var cfg Config
	if _, err := os.Stat(filepath.Join(dir, "base.yaml")); err == nil {
		if err := pkgconfig.Decode(env, dir, &cfg); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config dir: %w", err)
	}

	overrideFromEnv(&cfg)
	clearUnresolved(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Watch.Folder == "" {
		cfg.Watch.Folder = DefaultFolder
	}
	if cfg.Watch.PollIntervalMinutes == 0 {
		cfg.Watch.PollIntervalMinutes = DefaultPollInterval
	}
	if cfg.Watch.LockTTL <= 0 {
		cfg.Watch.LockTTL = DefaultLockTTLFactor * cfg.Watch.Interval()
	}
	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = classifier.DefaultOllamaURL
	}
	if cfg.Ollama.Model == "" {
		cfg.Ollama.Model = classifier.DefaultOllamaModel
	}
	if cfg.Notify.Summary == "" {
		cfg.Notify.Summary = watcher.SummaryFromBody
	}
	if cfg.Notify.SummaryMax <= 0 {
		cfg.Notify.SummaryMax = watcher.DefaultSummaryMax
	}
	if cfg.Notify.Slack.Channel == "" {
		cfg.Notify.Slack.Channel = notifier.DefaultSlackChannel
	}
	if cfg.Dedup.Backend == "" {
		cfg.Dedup.Backend = dedup.BackendFile
	}
	if cfg.Dedup.StateFile == "" {
		cfg.Dedup.StateFile = DefaultStateFile
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.MQ.RoutingKey == "" {
		cfg.MQ.RoutingKey = "mail.alert"
	}
}

// overrideFromEnv 环境变量优先于配置文件
func overrideFromEnv(cfg *Config) {
	setString(&cfg.EWS.URL, "EWS_URL")
	setString(&cfg.EWS.Username, "EWS_USER", "MAIL_USER")
	setString(&cfg.EWS.Password, "EWS_PASS", "MAIL_PASS")
	setString(&cfg.EWS.Domain, "NTLM_DOMAIN")
	setString(&cfg.EWS.Workstation, "NTLM_WORKSTATION")
	setString(&cfg.EWS.CAFile, "EWS_CA_FILE")
	setString(&cfg.Watch.Folder, "MAIL_FOLDER")
	if v := os.Getenv("POLL_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watch.PollIntervalMinutes = n
		}
	}
	setString(&cfg.Ollama.URL, "OLLAMA_API")
	setString(&cfg.Ollama.Model, "OLLAMA_MODEL")
	setString(&cfg.Notify.Slack.Token, "SLACK_TOKEN")
	setString(&cfg.Notify.Slack.Channel, "SLACK_CHANNEL")
	setString(&cfg.Notify.Summary, "NOTIFY_SUMMARY")
	setString(&cfg.Dedup.Backend, "DEDUP_BACKEND")
	setString(&cfg.Dedup.StateFile, "STATE_FILE")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideHTTPFromEnv(&cfg.HTTP)
}

// unresolved 环境变量未提供时 ${VAR} 占位符会原样留下
func unresolved(s string) bool {
	return strings.Contains(s, "${")
}

// clearUnresolved 把未解析的占位符当作未设置，之后由默认值和 Validate 处理
func clearUnresolved(cfg *Config) {
	for _, p := range []*string{
		&cfg.LogLevel,
		&cfg.EWS.URL, &cfg.EWS.Username, &cfg.EWS.Password, &cfg.EWS.Domain,
		&cfg.EWS.Workstation, &cfg.EWS.CAFile, &cfg.EWS.Version,
		&cfg.Watch.Folder,
		&cfg.Ollama.URL, &cfg.Ollama.Model,
		&cfg.Classifier.Prompt, &cfg.Classifier.TranslationPrompt,
		&cfg.Notify.Template, &cfg.Notify.Summary,
		&cfg.Notify.Slack.Token, &cfg.Notify.Slack.Channel, &cfg.Notify.Slack.APIURL,
		&cfg.Dedup.Backend, &cfg.Dedup.StateFile, &cfg.Dedup.RedisKey,
		&cfg.Redis.Addr, &cfg.Redis.Password,
		&cfg.DB.Host, &cfg.DB.User, &cfg.DB.Password, &cfg.DB.Name, &cfg.DB.SSLMode,
		&cfg.MQ.URL, &cfg.MQ.RoutingKey,
		&cfg.HTTP.Addr,
	} {
		if unresolved(*p) {
			*p = ""
		}
	}
}

// setString 按顺序取第一个非空的环境变量
func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

// ValidationError 列出所有缺失或非法的配置项
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required config: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid config: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// Validate 启动前检查，返回 *ValidationError
func (c *Config) Validate() error {
	v := &ValidationError{}
	require := func(val, name string) {
		// 未解析的 ${VAR} 占位符等同于缺失
		if strings.TrimSpace(val) == "" || unresolved(val) {
			v.Missing = append(v.Missing, name)
		}
	}

	require(c.EWS.URL, "ews.url (EWS_URL)")
	require(c.EWS.Username, "ews.username (EWS_USER)")
	require(c.EWS.Password, "ews.password (EWS_PASS)")

	if c.Notify.MQ {
		require(c.MQ.URL, "mq.url (MQ_URL)")
	} else {
		require(c.Notify.Slack.Token, "notify.slack.token (SLACK_TOKEN)")
	}

	switch c.Dedup.Backend {
	case dedup.BackendFile:
		require(c.Dedup.StateFile, "dedup.state_file (STATE_FILE)")
	case dedup.BackendRedis:
		require(c.Redis.Addr, "redis.addr (REDIS_ADDR)")
	case dedup.BackendPostgres:
		require(c.DB.Host, "db.host (DB_HOST)")
		require(c.DB.Name, "db.name (DB_NAME)")
	default:
		v.Invalid = append(v.Invalid, fmt.Sprintf("dedup.backend %q (want file|redis|postgres)", c.Dedup.Backend))
	}

	if c.Watch.PollIntervalMinutes <= 0 {
		v.Invalid = append(v.Invalid, fmt.Sprintf("watch.poll_interval_minutes %d must be positive", c.Watch.PollIntervalMinutes))
	}
	if err := watcher.ValidateSummarySource(c.Notify.Summary); err != nil {
		v.Invalid = append(v.Invalid, "notify.summary: "+err.Error())
	}

	if len(v.Missing) == 0 && len(v.Invalid) == 0 {
		return nil
	}
	return v
}
