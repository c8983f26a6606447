package watcher

import "time"

// CycleReport 一个同步周期的统计
type CycleReport struct {
	CycleID        string
	StartedAt      time.Time
	Duration       time.Duration
	Discovered     int
	Skipped        int
	Alerts         int
	Recorded       int
	Failed         int
	MarkReadFailed int
	Err            error // 查询步骤失败时设置，本周期提前结束
}

// Status 用作 metrics label 和 /readyz 输出
func (r CycleReport) Status() string {
	switch {
	case r.Err != nil:
		return "query_failed"
	case r.Failed > 0:
		return "partial"
	default:
		return "success"
	}
}
