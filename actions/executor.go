package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/pkg/errors"
)

const (
	defaultSettle       = 300 * time.Millisecond
	defaultScrollSettle = 150 * time.Millisecond
	defaultRepeatDelay  = 50 * time.Millisecond
)

// ErrNotTypeable 目标元素不能输入文本
var ErrNotTypeable = errors.New("element is not typeable")

// Executor 在已解析的元素上模拟用户输入。
// 所有方法都不会把错误抛出边界，失败时返回 Success=false 的结果。
type Executor struct {
	driver       Driver
	settle       time.Duration
	scrollSettle time.Duration
	sleep        sleepFunc
}

// NewExecutor 创建执行器，settle 为操作后观察页面变化的时间窗口
func NewExecutor(driver Driver, settle time.Duration) *Executor {
	if settle <= 0 {
		settle = defaultSettle
	}
	return &Executor{
		driver:       driver,
		settle:       settle,
		scrollSettle: defaultScrollSettle,
		sleep:        sleepCtx,
	}
}

// WithScrollSettle 修改滚动后的等待时间
func (e *Executor) WithScrollSettle(d time.Duration) *Executor {
	e.scrollSettle = d
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// observation 操作前记录的状态
type observation struct {
	before PageState
	watch  MutationWatch
}

func (e *Executor) observe(ctx context.Context) *observation {
	obs := &observation{}
	if st, err := e.driver.PageState(ctx); err == nil {
		obs.before = st
	} else {
		logger.Debug(ctx, "Failed to read page state before action: %v", err)
	}
	if w, err := e.driver.WatchMutations(ctx); err == nil {
		obs.watch = w
	} else {
		logger.Debug(ctx, "Failed to start mutation watch: %v", err)
	}
	return obs
}

// finish 等待固定窗口后比对页面状态
func (e *Executor) finish(ctx context.Context, obs *observation, changes *models.ActionChanges) {
	_ = e.sleep(ctx, e.settle)

	if obs.watch != nil {
		if n, err := obs.watch.Stop(ctx); err == nil {
			changes.DomMutations = n
		} else {
			logger.Debug(ctx, "Failed to stop mutation watch: %v", err)
		}
	}

	after, err := e.driver.PageState(ctx)
	if err != nil {
		logger.Debug(ctx, "Failed to read page state after action: %v", err)
		return
	}
	if obs.before.URL != "" && after.URL != obs.before.URL {
		changes.Navigation = true
		changes.NewURL = after.URL
	}
	if after.ScrollX != obs.before.ScrollX || after.ScrollY != obs.before.ScrollY {
		changes.ScrollChanged = true
	}
}

// run 统一的结果包装与 panic 兜底
func (e *Executor) run(ctx context.Context, action models.ActionType, nodeID string, fn func(*models.ActionChanges) error) (result *models.ActionResult) {
	start := time.Now()
	result = &models.ActionResult{
		Action:    action,
		NodeID:    nodeID,
		Timestamp: start,
	}
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("%s panicked: %v", action, r)
			logger.Error(ctx, "Action %s on %s panicked: %v", action, nodeID, r)
		}
		result.Duration = time.Since(start)
	}()

	changes := &models.ActionChanges{}
	if err := fn(changes); err != nil {
		result.Error = err.Error()
		logger.Warn(ctx, "Action %s on %s failed: %v", action, nodeID, err)
	} else {
		result.Success = true
	}
	result.Changes = *changes
	return result
}

// Click mousedown → mouseup → click，可选 dblclick
func (e *Executor) Click(ctx context.Context, h dom.Handle, nodeID string, opts ClickOptions) *models.ActionResult {
	return e.run(ctx, models.ActionClick, nodeID, func(changes *models.ActionChanges) error {
		t, err := e.driver.Target(ctx, h)
		if err != nil {
			return errors.Wrap(err, "resolve target")
		}

		button, buttons, err := mouseButton(opts.Button)
		if err != nil {
			return err
		}

		obs := e.observe(ctx)
		if opts.ScrollIntoView {
			if err := t.ScrollIntoView(ctx, opts.Smooth); err != nil {
				logger.Debug(ctx, "Scroll into view failed: %v", err)
			} else if err := e.sleep(ctx, e.scrollSettle); err != nil {
				e.finish(ctx, obs, changes)
				return err
			}
		}

		var x, y float64
		if el, err := t.Describe(ctx); err == nil {
			if box, err := el.BoundingBox(); err == nil {
				x, y = box.Center()
			}
		}

		seq := []MouseEventInit{
			{Type: "mousedown", Buttons: buttons, Detail: 1},
			{Type: "mouseup", Detail: 1},
			{Type: "click", Detail: 1},
		}
		if opts.DoubleClick {
			seq = append(seq,
				MouseEventInit{Type: "mousedown", Buttons: buttons, Detail: 2},
				MouseEventInit{Type: "mouseup", Detail: 2},
				MouseEventInit{Type: "click", Detail: 2},
				MouseEventInit{Type: "dblclick", Detail: 2},
			)
		}
		for _, ev := range seq {
			ev.Button = button
			ev.ClientX, ev.ClientY = x, y
			ev.Modifiers = opts.Modifiers
			if err := t.DispatchMouse(ctx, ev); err != nil {
				e.finish(ctx, obs, changes)
				return errors.Wrapf(err, "dispatch %s", ev.Type)
			}
		}

		e.finish(ctx, obs, changes)
		return nil
	})
}

func mouseButton(name string) (button, buttons int, err error) {
	switch name {
	case "", "left":
		return 0, 1, nil
	case "middle":
		return 1, 4, nil
	case "right":
		return 2, 2, nil
	}
	return 0, 0, errors.Errorf("unknown mouse button %q", name)
}

// Type 聚焦、可选清空、按编辑器类型输入，最后按提交策略收尾
func (e *Executor) Type(ctx context.Context, h dom.Handle, nodeID, text string, opts TypeOptions) *models.ActionResult {
	return e.run(ctx, models.ActionInput, nodeID, func(changes *models.ActionChanges) error {
		t, err := e.driver.Target(ctx, h)
		if err != nil {
			return errors.Wrap(err, "resolve target")
		}
		el, err := t.Describe(ctx)
		if err != nil {
			return errors.Wrap(err, "describe target")
		}
		if !dom.IsTypeable(el) {
			return errors.Wrapf(ErrNotTypeable, "<%s>", el.TagName())
		}

		adapter := DetectAdapter(el)
		logger.Debug(ctx, "Typing %d chars into %s using %s adapter", len([]rune(text)), nodeID, adapter.Name())

		before, _ := t.Value(ctx)
		obs := e.observe(ctx)

		err = e.typeInto(ctx, t, adapter, text, opts)
		if after, verr := t.Value(ctx); verr == nil && after != before {
			changes.ValueChanged = true
			changes.NewValue = &after
		}
		e.finish(ctx, obs, changes)
		return err
	})
}

func (e *Executor) typeInto(ctx context.Context, t Target, adapter EditorAdapter, text string, opts TypeOptions) error {
	if err := t.Focus(ctx); err != nil {
		return errors.Wrap(err, "focus")
	}
	if opts.Clear {
		if err := adapter.Clear(ctx, t); err != nil {
			return err
		}
	}
	if err := adapter.Type(ctx, t, text, opts.Speed, e.sleep); err != nil {
		return err
	}

	switch {
	case opts.Commit == CommitEnter:
		if err := keyCycle(ctx, t, namedKeys["enter"], Modifiers{}); err != nil {
			return err
		}
		if err := t.DispatchEvent(ctx, EventInit{Type: "change"}); err != nil {
			return err
		}
		if opts.Blur {
			return t.Blur(ctx)
		}
		return nil
	case opts.Blur:
		if err := t.DispatchEvent(ctx, EventInit{Type: "change"}); err != nil {
			return err
		}
		return t.Blur(ctx)
	default:
		return t.DispatchEvent(ctx, EventInit{Type: "change"})
	}
}

// Keypress 对目标元素（为空时为焦点元素或 body）重复完整的按键循环
func (e *Executor) Keypress(ctx context.Context, h dom.Handle, nodeID, key string, opts KeypressOptions) *models.ActionResult {
	return e.run(ctx, models.ActionKeypress, nodeID, func(changes *models.ActionChanges) error {
		def, err := LookupKey(key)
		if err != nil {
			return err
		}

		var t Target
		if h == "" {
			t, err = e.driver.FocusedTarget(ctx)
		} else {
			t, err = e.driver.Target(ctx, h)
		}
		if err != nil {
			return errors.Wrap(err, "resolve target")
		}

		repeat := opts.Repeat
		if repeat <= 0 {
			repeat = 1
		}
		delay := opts.RepeatDelay
		if delay <= 0 {
			delay = defaultRepeatDelay
		}

		obs := e.observe(ctx)
		for i := 0; i < repeat; i++ {
			if i > 0 {
				if err := e.sleep(ctx, delay); err != nil {
					e.finish(ctx, obs, changes)
					return err
				}
			}
			if err := keyCycle(ctx, t, def, opts.Modifiers); err != nil {
				e.finish(ctx, obs, changes)
				return err
			}
		}
		e.finish(ctx, obs, changes)
		return nil
	})
}

func keyCycle(ctx context.Context, t Target, def KeyDefinition, mods Modifiers) error {
	for _, typ := range []string{"keydown", "keypress", "keyup"} {
		if err := dispatchKey(ctx, t, typ, def, mods); err != nil {
			return err
		}
	}
	return nil
}
