package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/browserwing/domagent/actions"
	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
)

//go:embed scripts/runtime.js
var runtimeScript string

//go:embed scripts/overlay.js
var overlayScript string

const (
	missingRuntime = "__domagent_missing__"
	bindingName    = "__domagent_mutations"
)

// callScript 调用页面运行时的方法，结果以 JSON 字符串返回
const callScript = `(name, args, missing) => {
	if (!window.__domagent) return missing;
	const out = window.__domagent[name](...(args || []));
	return JSON.stringify(out === undefined ? null : out);
}`

// RodPage 基于 rod 的活动页面，实现捕获、命中测试、事件派发与变化监听
type RodPage struct {
	page *rod.Page

	mu            sync.Mutex
	removeOnNew   func() error
	stopObserving context.CancelFunc
}

// NewRodPage 包装一个 rod 页面
func NewRodPage(page *rod.Page) *RodPage {
	return &RodPage{page: page}
}

// Page 底层 rod 页面
func (p *RodPage) Page() *rod.Page {
	return p.page
}

func (p *RodPage) install(ctx context.Context) error {
	if _, err := p.page.Context(ctx).Eval(`() => { ` + runtimeScript + ` return true; }`); err != nil {
		return errors.Wrap(err, "install page runtime")
	}
	return nil
}

// call 调用 window.__domagent[name]，运行时缺失时先注入再重试一次
func (p *RodPage) call(ctx context.Context, out any, name string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	for attempt := 0; attempt < 2; attempt++ {
		res, err := p.page.Context(ctx).Eval(callScript, name, args, missingRuntime)
		if err != nil {
			return errors.Wrapf(err, "page call %s", name)
		}
		raw := res.Value.Str()
		if raw == missingRuntime {
			if err := p.install(ctx); err != nil {
				return err
			}
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			return errors.Wrapf(err, "decode %s result", name)
		}
		return nil
	}
	return errors.Errorf("page runtime unavailable for %s", name)
}

// Capture 序列化整个文档，包括同源 iframe 与开放的 shadow root
func (p *RodPage) Capture(ctx context.Context) (dom.Document, error) {
	var raw json.RawMessage
	if err := p.call(ctx, &raw, "capture"); err != nil {
		return nil, err
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Inspect 批量查询元素是否仍可达、是否仍挂载
func (p *RodPage) Inspect(ctx context.Context, handles []dom.Handle) ([]dom.LiveState, error) {
	var states []struct {
		Found    bool `json:"found"`
		Attached bool `json:"attached"`
	}
	if err := p.call(ctx, &states, "inspect", handles); err != nil {
		return nil, err
	}
	if len(states) != len(handles) {
		return nil, errors.Errorf("inspect returned %d states for %d handles", len(states), len(handles))
	}
	out := make([]dom.LiveState, len(states))
	for i, s := range states {
		out[i] = dom.LiveState{Found: s.Found, Attached: s.Attached}
	}
	return out, nil
}

func (p *RodPage) ElementFromPoint(ctx context.Context, x, y float64) (dom.Handle, error) {
	var h dom.Handle
	if err := p.call(ctx, &h, "fromPoint", x, y); err != nil {
		return "", err
	}
	return h, nil
}

func (p *RodPage) Target(ctx context.Context, h dom.Handle) (actions.Target, error) {
	states, err := p.Inspect(ctx, []dom.Handle{h})
	if err != nil {
		return nil, err
	}
	if !states[0].Found {
		return nil, errors.Wrapf(dom.ErrElementCollected, "handle %s", h)
	}
	return &rodTarget{p: p, h: h}, nil
}

func (p *RodPage) FocusedTarget(ctx context.Context) (actions.Target, error) {
	var h dom.Handle
	if err := p.call(ctx, &h, "focused"); err != nil {
		return nil, err
	}
	return &rodTarget{p: p, h: h}, nil
}

func (p *RodPage) PageState(ctx context.Context) (actions.PageState, error) {
	var st struct {
		URL     string  `json:"url"`
		ScrollX float64 `json:"scrollX"`
		ScrollY float64 `json:"scrollY"`
	}
	if err := p.call(ctx, &st, "pageState"); err != nil {
		return actions.PageState{}, err
	}
	return actions.PageState{URL: st.URL, ScrollX: st.ScrollX, ScrollY: st.ScrollY}, nil
}

type rodWatch struct {
	p  *RodPage
	id int
}

func (w *rodWatch) Stop(ctx context.Context) (int, error) {
	var n int
	if err := w.p.call(ctx, &n, "watchStop", w.id); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *RodPage) WatchMutations(ctx context.Context) (actions.MutationWatch, error) {
	var id int
	if err := p.call(ctx, &id, "watchStart"); err != nil {
		return nil, err
	}
	return &rodWatch{p: p, id: id}, nil
}

// Observe 通过 Runtime binding 接收页面 MutationObserver 的批次。
// 新文档加载时自动重新注入运行时并重新开始观察。
func (p *RodPage) Observe(ctx context.Context, fn func([]dom.MutationRecord)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopObserving != nil {
		return nil, errors.New("page is already observed")
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p.page); err != nil {
		return nil, errors.Wrap(err, "add mutation binding")
	}

	remove, err := p.page.EvalOnNewDocument(runtimeScript + `;window.__domagent.observe(` + jsString(bindingName) + `);`)
	if err != nil {
		return nil, errors.Wrap(err, "register runtime for new documents")
	}

	obsCtx, cancel := context.WithCancel(ctx)
	wait := p.page.Context(obsCtx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var records []dom.MutationRecord
		if err := json.Unmarshal([]byte(e.Payload), &records); err != nil {
			logger.Warn(obsCtx, "Failed to parse mutation payload: %v", err)
			return
		}
		fn(records)
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	var started bool
	if err := p.call(ctx, &started, "observe", bindingName); err != nil {
		cancel()
		<-done
		_ = remove()
		return nil, err
	}

	p.removeOnNew = remove
	p.stopObserving = cancel

	stop := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.stopObserving == nil {
			return
		}
		p.stopObserving()
		p.stopObserving = nil
		<-done
		if p.removeOnNew != nil {
			_ = p.removeOnNew()
			p.removeOnNew = nil
		}
		_ = p.call(context.Background(), nil, "unobserve")
	}
	return stop, nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
