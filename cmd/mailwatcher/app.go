package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailwatcher/internal/classifier"
	"mailwatcher/internal/config"
	"mailwatcher/internal/dedup"
	"mailwatcher/internal/ews"
	"mailwatcher/internal/httpserver"
	"mailwatcher/internal/notifier"
	"mailwatcher/internal/watcher"
	"mailwatcher/pkg/db"
	"mailwatcher/pkg/logger"
	"mailwatcher/pkg/mq"
	"mailwatcher/pkg/redis"
	"mailwatcher/pkg/util"
)

const attemptTTL = 7 * 24 * time.Hour

// app 持有所有已初始化的组件
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	rdb       *goredis.Client
	pool      *pgxpool.Pool
	publisher *mq.Publisher
	store     dedup.Store
	runner    *watcher.Runner
}

func loadApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.env, flags.configDir)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	a.log.Info("Starting mailwatcher",
		zap.String("folder", cfg.Watch.Folder),
		zap.Int("poll_interval_minutes", cfg.Watch.PollIntervalMinutes),
		zap.String("dedup_backend", cfg.Dedup.Backend),
		zap.String("ollama_model", cfg.Ollama.Model),
	)

	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			if cfg.Dedup.Backend == dedup.BackendRedis {
				return err
			}
			// 只用于跨实例锁时 Redis 不是必需的
			a.log.Warn("Redis unavailable, running without cycle lock", zap.Error(err))
		} else {
			a.rdb = rdb
		}
	}

	if cfg.Dedup.Backend == dedup.BackendPostgres {
		pool, err := db.NewConnection(ctx, cfg.DB, a.log)
		if err != nil {
			return err
		}
		a.pool = pool
	}

	store, err := dedup.Open(ctx, dedup.Options{
		Backend:   cfg.Dedup.Backend,
		StateFile: cfg.Dedup.StateFile,
		RedisKey:  cfg.Dedup.RedisKey,
		Redis:     a.rdb,
		DB:        a.pool,
	}, a.log.Named("dedup"))
	if err != nil {
		return err
	}
	a.store = store

	mail, err := ews.NewClient(cfg.EWS, a.log.Named("ews"))
	if err != nil {
		return err
	}

	cls := classifier.New(
		classifier.NewOllamaClient(cfg.Ollama, a.log.Named("ollama")),
		cfg.Classifier,
		a.log.Named("classifier"),
	)

	senders, err := a.senders()
	if err != nil {
		return err
	}
	notify := notifier.New(notifier.NewTemplate(cfg.Notify.Template), a.log.Named("notifier"), senders...)

	var orchOpts []watcher.OrchestratorOption
	if a.rdb != nil {
		orchOpts = append(orchOpts, watcher.WithAttemptTracker(util.NewAttemptCounter(a.rdb, attemptTTL)))
	}
	orch := watcher.NewOrchestrator(mail, cls, notify, store, watcher.Options{
		Folder:        cfg.Watch.Folder,
		SummarySource: cfg.Notify.Summary,
		SummaryMax:    cfg.Notify.SummaryMax,
	}, a.log.Named("watcher"), orchOpts...)

	var opts []watcher.RunnerOption
	if a.rdb != nil {
		lockKey := cfg.EWS.Username + ":" + cfg.Watch.Folder
		opts = append(opts, watcher.WithLock(util.NewCycleLock(a.rdb, lockKey, cfg.Watch.LockTTL, a.log.Named("lock"))))
	}
	a.runner = watcher.NewRunner(orch, cfg.Watch.Interval(), a.log.Named("runner"), opts...)
	return nil
}

func (a *app) senders() ([]notifier.Sender, error) {
	var senders []notifier.Sender

	if a.cfg.Notify.Slack.Token != "" {
		slack, err := notifier.NewSlackSender(a.cfg.Notify.Slack, a.log.Named("slack"))
		if err != nil {
			return nil, err
		}
		senders = append(senders, slack)
	}

	if a.cfg.Notify.MQ {
		pub, err := mq.NewPublisher(a.cfg.MQ.URL)
		if err != nil {
			return nil, fmt.Errorf("init MQ publisher: %w", err)
		}
		a.publisher = pub
		senders = append(senders, notifier.NewMQSender(pub, a.cfg.MQ.RoutingKey))
	}

	if len(senders) == 0 {
		return nil, errors.New("no notification channel configured")
	}
	return senders, nil
}

// readinessChecks 只检查实际启用的依赖
func (a *app) readinessChecks() []httpserver.Check {
	var checks []httpserver.Check
	if a.pool != nil {
		checks = append(checks, httpserver.Check{Name: "db", Fn: a.pool.Ping})
	}
	if a.rdb != nil {
		checks = append(checks, httpserver.Check{Name: "redis", Fn: func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		}})
	}
	if a.publisher != nil {
		checks = append(checks, httpserver.Check{Name: "mq", Fn: func(context.Context) error {
			if !a.publisher.IsConnected() {
				return errors.New("connection closed")
			}
			return nil
		}})
	}
	return checks
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("Closing dedup store failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.log.Sync()
}
