package executor

import (
	"time"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/logger"
)

// onMutations 页面变更回调：忽略不重要的批次，重要批次重置去抖计时器
func (t *DomTool) onMutations(records []dom.MutationRecord) {
	if !dom.IsSignificant(records) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}
	if t.debounce != nil {
		t.debounce.Stop()
	}
	t.debounce = time.AfterFunc(t.cfg.MutationDebounce, t.onSettled)
}

// onSettled 去抖窗口结束，触发一次异步重建
func (t *DomTool) onSettled() {
	logger.Debug(t.baseCtx, "DOM mutations settled, rebuilding snapshot")
	t.scheduleRebuild(t.baseCtx, models.TriggerMutation)
}
