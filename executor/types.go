package executor

import (
	"context"
	"time"

	"github.com/browserwing/domagent/actions"
	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/models"
	"github.com/pkg/errors"
)

var (
	// ErrDestroyed DomTool 已销毁
	ErrDestroyed = errors.New("dom tool has been destroyed")
	// ErrNoPage 没有绑定页面
	ErrNoPage = errors.New("no page bound to dom tool")
	// ErrNoHitTest 页面不支持命中测试
	ErrNoHitTest = errors.New("page does not support hit testing")
)

// Page DomTool 依赖的页面能力：捕获、解引用、派发事件
type Page interface {
	dom.Page
	actions.Driver
}

// MutationSource 页面级变更观察，返回的函数用于停止观察
type MutationSource interface {
	Observe(ctx context.Context, fn func([]dom.MutationRecord)) (func(), error)
}

// NotificationType 通知类型
type NotificationType string

const (
	NotifyAgentStart NotificationType = "agent_start"
	NotifyAgentStop  NotificationType = "agent_stop"
	NotifyAction     NotificationType = "action"
	NotifySerialize  NotificationType = "serialize"
)

// Notification 发给提示层的事件
type Notification struct {
	Type        NotificationType    `json:"type"`
	Action      models.ActionType   `json:"action,omitempty"`
	NodeID      string              `json:"nodeId,omitempty"`
	BoundingBox *models.BoundingBox `json:"bbox,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// Notifier 提示层，通知失败不影响任何操作
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// KeypressOptions NodeID 为空时作用于焦点元素
type KeypressOptions struct {
	NodeID string
	actions.KeypressOptions
}

// Option DomTool 选项
type Option func(*DomTool)

// WithNotifier 设置提示层
func WithNotifier(n Notifier) Option {
	return func(t *DomTool) {
		t.notifier = n
	}
}

// WithIDGenerator 替换 node_id 生成器
func WithIDGenerator(gen dom.IDGenerator) Option {
	return func(t *DomTool) {
		t.builder.WithIDGenerator(gen)
	}
}

// WithScrollSettle 点击前滚动后的等待时间
func WithScrollSettle(d time.Duration) Option {
	return func(t *DomTool) {
		t.actions.WithScrollSettle(d)
	}
}
