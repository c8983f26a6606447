package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailwatcher/internal/watcher"
)

// Status 周期调度器的状态，watcher.Runner 实现
type Status interface {
	LastReport() (watcher.CycleReport, bool)
	Running() bool
	Trigger() bool
}

// Check 依赖探活（DB / Redis / MQ），返回 nil 表示就绪
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(status Status, logger *zap.Logger, checks ...Check) *Router {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		for _, chk := range checks {
			if err := chk.Fn(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": chk.Name + "_not_ready",
					"error":  err.Error(),
				})
				return
			}
		}

		report, ok := status.LastReport()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no_cycle_yet", "running": status.Running()})
			return
		}

		body := gin.H{
			"status":      report.Status(),
			"cycle_id":    report.CycleID,
			"started_at":  report.StartedAt,
			"duration_ms": report.Duration.Milliseconds(),
			"discovered":  report.Discovered,
			"alerts":      report.Alerts,
			"recorded":    report.Recorded,
			"failed":      report.Failed,
			"running":     status.Running(),
		}
		if report.Err != nil {
			body["error"] = report.Err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 手动触发一个周期，不等待结果；周期由调度器跟踪，关闭时会等待它结束
	r.POST("/cycle", func(c *gin.Context) {
		if status.Running() {
			c.JSON(http.StatusConflict, gin.H{"status": "cycle_in_progress"})
			return
		}
		if !status.Trigger() {
			logger.Info("Manual cycle refused")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "watcher_not_running"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
	})

	return &Router{Engine: r}
}
