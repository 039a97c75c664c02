package executor

import (
	"context"
	"time"

	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/logger"
)

// notify 异步通知提示层，不阻塞调用方
func (t *DomTool) notify(ctx context.Context, n Notification) {
	if t.notifier == nil {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	ctx = context.WithoutCancel(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}
	t.wg.Add(1)
	go t.deliver(ctx, n)
}

func (t *DomTool) deliver(ctx context.Context, n Notification) {
	defer t.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Warn(ctx, "Notifier panicked on %s: %v", n.Type, r)
		}
	}()
	if err := t.notifier.Notify(ctx, n); err != nil {
		logger.Debug(ctx, "Notifier failed on %s: %v", n.Type, err)
	}
}

func (t *DomTool) notifyAction(ctx context.Context, action models.ActionType, nodeID string, node *models.VirtualNode) {
	n := Notification{Type: NotifyAction, Action: action, NodeID: nodeID}
	if node != nil && node.Metadata != nil && node.Metadata.BoundingBox != nil {
		box := *node.Metadata.BoundingBox
		n.BoundingBox = &box
	}
	t.notify(ctx, n)
}
