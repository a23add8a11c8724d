package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wirebird/wirebird/internal/workflow"
)

const fallbackIntervalSeconds = 300

var unitSeconds = map[string]int64{
	"seconds": 1,
	"minutes": 60,
	"hours":   3600,
	"days":    86400,
}

// RegisterScheduled computes the next fire time for a scheduled
// trigger node. Interval mode advances from the last execution time;
// cron mode parses a standard 5-field expression. Registration
// problems never fail: an unparsable cron falls back to a five-minute
// interval with the parse error recorded.
func RegisterScheduled(_ context.Context, node *workflow.Node, lastExecution int64) workflow.Registration {
	if mode, _ := node.Data["mode"].(string); mode == "cron" {
		return registerCron(node, lastExecution)
	}
	return registerInterval(node, lastExecution)
}

func registerInterval(node *workflow.Node, lastExecution int64) workflow.Registration {
	interval := int64(5)
	if v, ok := asInt64(node.Data["interval"]); ok {
		interval = v
	}
	unit, _ := node.Data["unit"].(string)
	mult, ok := unitSeconds[unit]
	if !ok {
		mult = 60
	}
	intervalSeconds := interval * mult

	now := time.Now().Unix()
	triggerAt := now
	if lastExecution > 0 {
		triggerAt = lastExecution + intervalSeconds
		if triggerAt <= now {
			triggerAt = now
		}
	}
	return workflow.Registration{
		Type:      workflow.RegistrationTimed,
		TriggerAt: triggerAt,
		Interval:  intervalSeconds,
	}
}

func registerCron(node *workflow.Node, lastExecution int64) workflow.Registration {
	expr, _ := node.Data["cron"].(string)
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		// Fall back to a five-minute interval so the trigger still
		// runs instead of dying on a config typo.
		now := time.Now().Unix()
		triggerAt := now
		if lastExecution > 0 && lastExecution+fallbackIntervalSeconds > now {
			triggerAt = lastExecution + fallbackIntervalSeconds
		}
		return workflow.Registration{
			Type:      workflow.RegistrationTimed,
			TriggerAt: triggerAt,
			Interval:  fallbackIntervalSeconds,
			Err:       fmt.Sprintf("invalid cron expression %q: %v", expr, err),
		}
	}

	now := time.Now()
	base := now
	if lastExecution > 0 {
		base = time.Unix(lastExecution, 0)
	}
	next := schedule.Next(base)
	if next.Before(now) {
		next = schedule.Next(now)
	}
	return workflow.Registration{
		Type:      workflow.RegistrationTimed,
		TriggerAt: next.Unix(),
		Cron:      expr,
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}
