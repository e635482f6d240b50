package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger 计算下一次触发时间，返回零值表示不再触发
type Trigger interface {
	Next(after time.Time) time.Time
}

// ParseCron 标准 5 段 cron 表达式 (分 时 日 月 周)，也支持 @hourly / @every 1m
func ParseCron(expr string) (Trigger, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// Every 固定间隔
type Every time.Duration

func (e Every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}
