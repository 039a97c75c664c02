package domtest

import (
	"context"

	"github.com/browserwing/domagent/actions"
	"github.com/browserwing/domagent/dom"
	"golang.org/x/net/html"
)

// Target 实现 actions.Driver
func (p *Page) Target(ctx context.Context, h dom.Handle) (actions.Target, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[h]
	if !ok {
		return nil, dom.ErrElementCollected
	}
	return &target{p: p, n: n, h: h}, nil
}

// FocusedTarget 实现 actions.Driver
func (p *Page) FocusedTarget(ctx context.Context) (actions.Target, error) {
	p.mu.RLock()
	n := p.focused
	if n == nil {
		n = findElement(p.root, func(n *html.Node) bool { return n.Data == "body" })
	}
	h := p.handles[n]
	p.mu.RUnlock()
	return p.Target(ctx, h)
}

// PageState 实现 actions.Driver
func (p *Page) PageState(ctx context.Context) (actions.PageState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return actions.PageState{URL: p.url, ScrollX: p.viewport.ScrollX, ScrollY: p.viewport.ScrollY}, nil
}

type mutationWatch struct {
	p     *Page
	count int
}

// WatchMutations 实现 actions.Driver
func (p *Page) WatchMutations(ctx context.Context) (actions.MutationWatch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := &mutationWatch{p: p}
	p.watches[w] = struct{}{}
	return w, nil
}

func (w *mutationWatch) Stop(ctx context.Context) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	delete(w.p.watches, w)
	return w.count, nil
}

// Observe 页面级 MutationObserver，返回的函数用于停止观察
func (p *Page) Observe(ctx context.Context, fn func([]dom.MutationRecord)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.obsSeq++
	id := p.obsSeq
	p.observers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}, nil
}

// target 实现 actions.Target
type target struct {
	p *Page
	n *html.Node
	h dom.Handle
}

func (t *target) Handle() dom.Handle { return t.h }

func (t *target) Describe(ctx context.Context) (dom.Element, error) {
	return t.p.wrap(t.n), nil
}

func (t *target) record(ev Event) {
	ev.Handle = t.h
	t.p.events = append(t.p.events, ev)
}

func (t *target) call(name string) {
	t.p.calls = append(t.p.calls, name)
}

func (t *target) ScrollIntoView(ctx context.Context, smooth bool) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.call("scrollIntoView")
	box, err := t.p.rectLocked(t.n)
	if err != nil {
		return err
	}
	vp := &t.p.viewport
	if box.Y < vp.ScrollY || box.Y+box.Height > vp.ScrollY+vp.Height {
		vp.ScrollY = box.Y
	}
	return nil
}

func (t *target) Focus(ctx context.Context) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.p.focused = t.n
	t.record(Event{Type: "focus"})
	return nil
}

func (t *target) Blur(ctx context.Context) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	if t.p.focused == t.n {
		t.p.focused = nil
	}
	t.record(Event{Type: "blur"})
	return nil
}

func (t *target) DispatchMouse(ctx context.Context, ev actions.MouseEventInit) error {
	t.p.mu.Lock()
	t.record(Event{Type: ev.Type, Button: ev.Button, Detail: ev.Detail})
	var fns []func([]dom.MutationRecord)
	var rec []dom.MutationRecord
	if ev.Type == "click" {
		if u, ok := getAttr(t.n, "data-navigate"); ok {
			t.p.url = u
		}
		if hasAttr(t.n, "data-mutate") {
			child := &html.Node{Type: html.ElementNode, Data: "div"}
			t.n.AppendChild(child)
			t.p.index(child)
			rec = []dom.MutationRecord{{Type: "childList"}}
			fns = t.p.notifyLocked(rec)
		}
	}
	t.p.mu.Unlock()
	deliver(fns, rec)
	return nil
}

func (t *target) DispatchKey(ctx context.Context, ev actions.KeyEventInit) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.record(Event{Type: ev.Type, Key: ev.Key})
	return nil
}

func (t *target) DispatchInput(ctx context.Context, ev actions.InputEventInit) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.record(Event{Type: ev.Type, InputType: ev.InputType, Data: ev.Data})
	if ev.Type == "input" && hasAttr(t.n, "data-react") {
		current := t.p.valueLocked(t.n)
		last, ok := t.p.trackers[t.n]
		if !ok {
			last, _ = getAttr(t.n, "value")
		}
		if last != current {
			t.p.reactChanges[t.n]++
		}
		t.p.trackers[t.n] = current
	}
	return nil
}

func (t *target) DispatchEvent(ctx context.Context, ev actions.EventInit) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.record(Event{Type: ev.Type, Data: ev.Data})
	return nil
}

// ResetValueTracker 之后的一次 SetValue 走原生 setter，不会同步追踪器
func (t *target) ResetValueTracker(ctx context.Context) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.call("resetValueTracker")
	t.p.trackerReset[t.n] = true
	return nil
}

// SetValue 没有重置时模拟框架的实例 setter：追踪器同步到新值，框架看不到变化
func (t *target) SetValue(ctx context.Context, value string) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.call("setValue")
	t.p.values[t.n] = value
	if hasAttr(t.n, "data-react") && !t.p.trackerReset[t.n] {
		t.p.trackers[t.n] = value
	}
	delete(t.p.trackerReset, t.n)
	return nil
}

func (t *target) Value(ctx context.Context) (string, error) {
	t.p.mu.RLock()
	defer t.p.mu.RUnlock()
	return t.p.valueLocked(t.n), nil
}

func (t *target) InsertText(ctx context.Context, text string) error {
	t.p.mu.Lock()
	t.call("insertText")
	rec := []dom.MutationRecord{{Type: "childList"}}
	if last := t.n.LastChild; last != nil && last.Type == html.TextNode {
		last.Data += text
		rec[0].Type = "characterData"
	} else {
		t.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	fns := t.p.notifyLocked(rec)
	t.p.mu.Unlock()
	deliver(fns, rec)
	return nil
}

func (t *target) ClearContent(ctx context.Context) error {
	t.p.mu.Lock()
	t.call("clearContent")
	for c := t.n.FirstChild; c != nil; {
		next := c.NextSibling
		t.n.RemoveChild(c)
		c = next
	}
	rec := []dom.MutationRecord{{Type: "childList"}}
	fns := t.p.notifyLocked(rec)
	t.p.mu.Unlock()
	deliver(fns, rec)
	return nil
}

func (t *target) CollapseSelectionToEnd(ctx context.Context) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.call("collapseSelection")
	return nil
}
