package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/browserwing/domagent/actions"
	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/browserwing/domagent/serializer"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// DomTool 每个页面一个实例：持有当前快照，决定何时重建，对外提供读 DOM 与执行动作的操作。
// 生命周期由 Init / Destroy 显式管理。
type DomTool struct {
	page     Page
	cfg      dom.Config
	builder  *dom.TreeBuilder
	actions  *actions.Executor
	notifier Notifier

	// current 读者只会看到旧快照或新快照
	current atomic.Pointer[dom.DomSnapshot]
	group   singleflight.Group

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	initialized bool
	destroyed   bool
	stopObserve func()
	debounce    *time.Timer
	// wg 跟踪异步重建与通知
	wg sync.WaitGroup
}

// NewDomTool 为页面创建 DomTool，需要调用 Init 才会开始自动失效观察
func NewDomTool(page Page, cfg dom.Config, opts ...Option) *DomTool {
	cfg = cfg.Normalize()
	baseCtx, cancel := context.WithCancel(context.Background())
	t := &DomTool{
		page:    page,
		cfg:     cfg,
		builder: dom.NewTreeBuilder(&cfg),
		actions: actions.NewExecutor(page, cfg.ActionSettle),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Config 生效的配置
func (t *DomTool) Config() dom.Config {
	return t.cfg
}

// Init 构建首个快照，并在开启 AutoInvalidate 且页面支持时注册变更观察
func (t *DomTool) Init(ctx context.Context) error {
	if t.page == nil {
		return ErrNoPage
	}
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return ErrDestroyed
	}
	if t.initialized {
		t.mu.Unlock()
		return nil
	}
	t.initialized = true
	t.mu.Unlock()

	if t.cfg.AutoInvalidate {
		if src, ok := t.page.(MutationSource); ok {
			stop, err := src.Observe(t.baseCtx, t.onMutations)
			if err != nil {
				logger.Warn(ctx, "Failed to start mutation observer, auto invalidation disabled: %v", err)
			} else {
				t.mu.Lock()
				t.stopObserve = stop
				t.mu.Unlock()
			}
		}
	}

	t.notify(ctx, Notification{Type: NotifyAgentStart})

	if _, err := t.BuildSnapshot(ctx, models.TriggerManual); err != nil {
		return errors.Wrap(err, "initial snapshot")
	}
	logger.Info(ctx, "DOM tool initialized (auto invalidate: %v)", t.cfg.AutoInvalidate)
	return nil
}

// Destroy 停止观察与计时器，等待异步任务结束并丢弃快照。可重复调用。
func (t *DomTool) Destroy(ctx context.Context) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return nil
	}
	t.destroyed = true
	if t.debounce != nil {
		t.debounce.Stop()
		t.debounce = nil
	}
	stop := t.stopObserve
	t.stopObserve = nil
	wasInit := t.initialized
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	if wasInit && t.notifier != nil {
		t.wg.Add(1)
		go t.deliver(ctx, Notification{Type: NotifyAgentStop, Timestamp: time.Now()})
	}
	t.cancel()
	t.wg.Wait()
	t.current.Store(nil)

	logger.Info(ctx, "DOM tool destroyed")
	return nil
}

func (t *DomTool) isDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

// BuildSnapshot 重建快照。重建进行中时的调用者等待同一次重建，拿到同一个实例与同一个错误。
func (t *DomTool) BuildSnapshot(ctx context.Context, trigger models.SnapshotTrigger) (*dom.DomSnapshot, error) {
	if t.page == nil {
		return nil, ErrNoPage
	}
	if t.isDestroyed() {
		return nil, ErrDestroyed
	}

	ch := t.group.DoChan("snapshot", func() (any, error) {
		// 重建不随单个调用者取消，只随 Destroy 取消
		bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(t.baseCtx, cancel)
		defer stop()
		return t.rebuild(bctx, trigger)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*dom.DomSnapshot), nil
	}
}

func (t *DomTool) rebuild(ctx context.Context, trigger models.SnapshotTrigger) (*dom.DomSnapshot, error) {
	start := time.Now()
	prev := t.current.Load()

	doc, err := t.page.Capture(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "capture page")
	}
	res, err := t.builder.BuildTree(ctx, doc, prev)
	if err != nil {
		return nil, errors.Wrap(err, "build tree")
	}

	vp := doc.Viewport()
	snap := dom.NewDomSnapshot(res, models.PageContext{
		URL:      doc.URL(),
		Title:    doc.Title(),
		Viewport: &vp,
	}, t.page)

	if t.isDestroyed() {
		return nil, ErrDestroyed
	}
	t.current.Store(snap)

	stats := snap.Stats()
	logger.Info(ctx, "Snapshot rebuilt (%s): %d nodes, %d interactive, %d reused ids, %d skipped subtrees in %v",
		trigger, stats.Total, stats.Interactive, stats.ReusedIDs, stats.SkippedSubtrees, time.Since(start))
	return snap, nil
}

// GetSnapshot 当前快照未过期且抽样有效时直接返回，否则重建
func (t *DomTool) GetSnapshot(ctx context.Context) (*dom.DomSnapshot, error) {
	if t.isDestroyed() {
		return nil, ErrDestroyed
	}
	if snap := t.current.Load(); snap != nil {
		if !snap.Expired(t.cfg.SnapshotMaxAge) && snap.IsValid(ctx) {
			return snap, nil
		}
		logger.Debug(ctx, "Snapshot is stale (age %v), rebuilding", snap.Age())
	}
	return t.BuildSnapshot(ctx, models.TriggerManual)
}

// Current 最近一次成功构建的快照，可能为 nil
func (t *DomTool) Current() *dom.DomSnapshot {
	return t.current.Load()
}

// PageURL 最近一次快照时的页面地址
func (t *DomTool) PageURL() string {
	if snap := t.current.Load(); snap != nil {
		return snap.Context().URL
	}
	return ""
}

// DefaultSerializeOptions 由配置派生的序列化选项
func (t *DomTool) DefaultSerializeOptions() serializer.Options {
	opts := serializer.DefaultOptions()
	opts.MaxTextLength = t.cfg.MaxTextLength
	opts.MaxLabelLength = t.cfg.MaxLabelLength
	opts.OmitDefaults = t.cfg.OmitDefaults
	return opts
}

// GetSerializedDom 序列化当前快照，opts 为 nil 时使用配置派生的默认值
func (t *DomTool) GetSerializedDom(ctx context.Context, opts *serializer.Options) (*models.SerializedDom, error) {
	snap, err := t.GetSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	o := t.DefaultSerializeOptions()
	if opts != nil {
		o = *opts
	}
	out, err := snap.Serialize(o)
	if err != nil {
		return nil, errors.Wrap(err, "serialize snapshot")
	}
	t.notify(ctx, Notification{Type: NotifySerialize})
	return out, nil
}

// resolve 动作前解析 node_id；找不到、已回收、已脱离都直接返回错误，不派发任何事件
func (t *DomTool) resolve(ctx context.Context, nodeID string) (*dom.ElementRef, *models.VirtualNode, error) {
	if t.isDestroyed() {
		return nil, nil, ErrDestroyed
	}
	snap := t.current.Load()
	if snap == nil {
		var err error
		if snap, err = t.BuildSnapshot(ctx, models.TriggerManual); err != nil {
			return nil, nil, err
		}
	}
	ref, err := snap.GetRealElement(ctx, nodeID)
	if err != nil {
		return nil, nil, err
	}
	if ref.Detached {
		return nil, nil, errors.Wrapf(dom.ErrElementDetached, "node %s", nodeID)
	}
	return ref, snap.Node(nodeID), nil
}

// Click 点击 node_id 对应的元素。
// 解析失败返回 error；执行失败体现在 ActionResult 中，两种情况之后都会异步重建快照（解析失败除外）。
func (t *DomTool) Click(ctx context.Context, nodeID string, opts actions.ClickOptions) (*models.ActionResult, error) {
	ref, node, err := t.resolve(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	t.notifyAction(ctx, models.ActionClick, nodeID, node)
	res := t.actions.Click(ctx, ref.Handle, nodeID, opts)
	t.scheduleRebuild(ctx, models.TriggerAction)
	return res, nil
}

// Type 向 node_id 对应的元素输入文本
func (t *DomTool) Type(ctx context.Context, nodeID, text string, opts actions.TypeOptions) (*models.ActionResult, error) {
	ref, node, err := t.resolve(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	t.notifyAction(ctx, models.ActionInput, nodeID, node)
	res := t.actions.Type(ctx, ref.Handle, nodeID, text, opts)
	t.scheduleRebuild(ctx, models.TriggerAction)
	return res, nil
}

// Keypress 按键，opts.NodeID 为空时作用于焦点元素或 body
func (t *DomTool) Keypress(ctx context.Context, key string, opts KeypressOptions) (*models.ActionResult, error) {
	var h dom.Handle
	var node *models.VirtualNode
	if opts.NodeID != "" {
		ref, n, err := t.resolve(ctx, opts.NodeID)
		if err != nil {
			return nil, err
		}
		h, node = ref.Handle, n
	} else if t.isDestroyed() {
		return nil, ErrDestroyed
	}
	t.notifyAction(ctx, models.ActionKeypress, opts.NodeID, node)
	res := t.actions.Keypress(ctx, h, opts.NodeID, key, opts.KeypressOptions)
	t.scheduleRebuild(ctx, models.TriggerAction)
	return res, nil
}

// IsNotOccluded 用页面命中测试判断 node_id 的中心点是否被其他元素遮挡，结果仅供参考
func (t *DomTool) IsNotOccluded(ctx context.Context, nodeID string) (bool, error) {
	hit, ok := t.page.(dom.HitTester)
	if !ok {
		return false, ErrNoHitTest
	}
	if _, _, err := t.resolve(ctx, nodeID); err != nil {
		return false, err
	}
	return t.current.Load().IsNotOccluded(ctx, nodeID, hit)
}

// spawn 在未销毁时启动受跟踪的 goroutine
func (t *DomTool) spawn(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return false
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
	return true
}

// scheduleRebuild 尽力而为的异步重建，错误只记录日志
func (t *DomTool) scheduleRebuild(ctx context.Context, trigger models.SnapshotTrigger) {
	bctx := context.WithoutCancel(ctx)
	t.spawn(func() {
		if _, err := t.BuildSnapshot(bctx, trigger); err != nil && !errors.Is(err, ErrDestroyed) {
			logger.Warn(bctx, "Async snapshot rebuild (%s) failed: %v", trigger, err)
		}
	})
}
