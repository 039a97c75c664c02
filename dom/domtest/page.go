// Package domtest 提供基于 golang.org/x/net/html 的内存页面，
// 同时实现 dom.Page、dom.HitTester 与 actions.Driver，供各包测试使用。
//
// 支持的测试约定：
//   - style 内联样式中的 display/visibility/opacity/cursor/width:0/height:0
//   - data-rect="x,y,w,h" 指定元素矩形
//   - iframe 的 srcdoc 作为同源文档，data-cross-origin 模拟跨域
//   - <template shadowrootmode="open"> 作为开放 shadow root
//   - data-hostile 使元素 getter panic，data-style-error 使样式计算失败
//   - data-react 模拟虚拟 DOM 框架的值追踪器
//   - 点击 data-navigate 元素会修改 URL，点击 data-mutate 元素会插入子节点
package domtest

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/models"
	"golang.org/x/net/html"
)

// Event 页面上派发过的一个事件
type Event struct {
	Handle    dom.Handle
	Type      string
	Key       string
	InputType string
	Data      string
	Button    int
	Detail    int
}

// Option 页面选项
type Option func(*Page)

// WithURL 设置页面 URL
func WithURL(u string) Option {
	return func(p *Page) { p.url = u }
}

// WithViewport 设置视口大小
func WithViewport(w, h float64) Option {
	return func(p *Page) {
		p.viewport.Width = w
		p.viewport.Height = h
	}
}

// WithCaptureDelay 每次 Capture 前等待，用于并发测试
func WithCaptureDelay(d time.Duration) Option {
	return func(p *Page) { p.captureDelay = d }
}

// Page 内存页面
type Page struct {
	mu sync.RWMutex

	url      string
	viewport models.Viewport
	root     *html.Node

	seq        int
	handles    map[*html.Node]dom.Handle
	nodes      map[dom.Handle]*html.Node
	frames     map[*html.Node]*html.Node // iframe -> 文档
	frameHosts map[*html.Node]*html.Node // 文档 -> iframe

	values       map[*html.Node]string
	trackers     map[*html.Node]string
	trackerReset map[*html.Node]bool
	reactChanges map[*html.Node]int
	focused      *html.Node

	events []Event
	calls  []string

	watches   map[*mutationWatch]struct{}
	observers map[int]func([]dom.MutationRecord)
	obsSeq    int

	captures     int
	captureDelay time.Duration
}

// New 解析 HTML 创建页面
func New(markup string, opts ...Option) *Page {
	p := &Page{
		url:          "https://example.test/",
		viewport:     models.Viewport{Width: 1280, Height: 800},
		handles:      map[*html.Node]dom.Handle{},
		nodes:        map[dom.Handle]*html.Node{},
		frames:       map[*html.Node]*html.Node{},
		frameHosts:   map[*html.Node]*html.Node{},
		values:       map[*html.Node]string{},
		trackers:     map[*html.Node]string{},
		trackerReset: map[*html.Node]bool{},
		reactChanges: map[*html.Node]int{},
		watches:      map[*mutationWatch]struct{}{},
		observers:    map[int]func([]dom.MutationRecord){},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.root = p.parse(markup)
	return p
}

func (p *Page) parse(markup string) *html.Node {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		// x/net/html 只在 reader 出错时返回错误
		panic("domtest: parse html: " + err.Error())
	}
	p.index(doc)
	return doc
}

// index 为所有元素分配 Handle，并解析 srcdoc
func (p *Page) index(n *html.Node) {
	if n.Type == html.ElementNode {
		if _, ok := p.handles[n]; !ok {
			p.seq++
			h := dom.Handle("h" + strconv.Itoa(p.seq))
			p.handles[n] = h
			p.nodes[h] = n
		}
		if n.Data == "iframe" && !hasAttr(n, "data-cross-origin") {
			if src, ok := getAttr(n, "srcdoc"); ok {
				frameDoc := p.parse(src)
				p.frames[n] = frameDoc
				p.frameHosts[frameDoc] = n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.index(c)
	}
}

// SetHTML 用新的标记替换整个文档；旧元素保留句柄但已脱离文档
func (p *Page) SetHTML(markup string) {
	p.mu.Lock()
	p.root = p.parse(markup)
	p.focused = nil
	fns := p.notifyLocked([]dom.MutationRecord{{Type: "childList"}})
	p.mu.Unlock()
	deliver(fns, []dom.MutationRecord{{Type: "childList"}})
}

// Collect 模拟垃圾回收：丢弃所有已脱离文档的元素
func (p *Page) Collect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for n, h := range p.handles {
		if !p.attachedLocked(n) {
			delete(p.handles, n)
			delete(p.nodes, h)
		}
	}
}

// Detach 把元素从父节点上移除
func (p *Page) Detach(h dom.Handle) {
	p.mu.Lock()
	var fns []func([]dom.MutationRecord)
	if n, ok := p.nodes[h]; ok && n.Parent != nil {
		n.Parent.RemoveChild(n)
		fns = p.notifyLocked([]dom.MutationRecord{{Type: "childList"}})
	}
	p.mu.Unlock()
	deliver(fns, []dom.MutationRecord{{Type: "childList"}})
}

// InsertBefore 在 ref 前插入一段标记，已有元素保留原句柄
func (p *Page) InsertBefore(ref dom.Handle, markup string) {
	p.mu.Lock()
	var fns []func([]dom.MutationRecord)
	if n, ok := p.nodes[ref]; ok && n.Parent != nil {
		ctx := &html.Node{Type: html.ElementNode, Data: "body"}
		nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
		if err != nil {
			panic("domtest: parse fragment: " + err.Error())
		}
		for _, c := range nodes {
			n.Parent.InsertBefore(c, n)
			p.index(c)
		}
		fns = p.notifyLocked([]dom.MutationRecord{{Type: "childList"}})
	}
	p.mu.Unlock()
	deliver(fns, []dom.MutationRecord{{Type: "childList"}})
}

// SetAttr 修改属性并通知观察者
func (p *Page) SetAttr(h dom.Handle, name, value string) {
	p.mu.Lock()
	var fns []func([]dom.MutationRecord)
	rec := []dom.MutationRecord{{Type: "attributes", AttributeName: name}}
	if n, ok := p.nodes[h]; ok {
		setAttr(n, name, value)
		rec[0].Target, _ = getAttr(n, "id")
		fns = p.notifyLocked(rec)
	}
	p.mu.Unlock()
	deliver(fns, rec)
}

// SetText 替换元素的文本内容
func (p *Page) SetText(h dom.Handle, text string) {
	p.mu.Lock()
	var fns []func([]dom.MutationRecord)
	rec := []dom.MutationRecord{{Type: "characterData"}}
	if n, ok := p.nodes[h]; ok {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.TextNode {
				n.RemoveChild(c)
			}
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		fns = p.notifyLocked(rec)
	}
	p.mu.Unlock()
	deliver(fns, rec)
}

// HandleByID 按 id 属性查找元素，包含 iframe 与 shadow root 内部
func (p *Page) HandleByID(id string) dom.Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if n := p.findLocked(p.root, func(n *html.Node) bool {
		v, _ := getAttr(n, "id")
		return v == id
	}); n != nil {
		return p.handles[n]
	}
	return ""
}

func (p *Page) findLocked(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && pred(n) {
		return n
	}
	if doc, ok := p.frames[n]; ok {
		if found := p.findLocked(doc, pred); found != nil {
			return found
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := p.findLocked(c, pred); found != nil {
			return found
		}
	}
	return nil
}

// URL 当前 URL
func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

// Captures Capture 被调用的次数
func (p *Page) Captures() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.captures
}

// Events 已派发事件的副本
func (p *Page) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Event(nil), p.events...)
}

// EventTypes 某个元素收到的事件类型序列
func (p *Page) EventTypes(h dom.Handle) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, ev := range p.events {
		if ev.Handle == h {
			out = append(out, ev.Type)
		}
	}
	return out
}

// CountEvents 某个元素收到的指定类型事件数
func (p *Page) CountEvents(h dom.Handle, typ string) int {
	n := 0
	for _, t := range p.EventTypes(h) {
		if t == typ {
			n++
		}
	}
	return n
}

// Calls 非事件类的页面调用记录，例如 setValue、resetValueTracker
func (p *Page) Calls() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.calls...)
}

// ResetEvents 清空事件与调用记录
func (p *Page) ResetEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.calls = nil
}

// ReactChangeCount 模拟框架识别到的 onChange 次数
func (p *Page) ReactChangeCount(h dom.Handle) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if n, ok := p.nodes[h]; ok {
		return p.reactChanges[n]
	}
	return 0
}

// ValueOf 元素当前值
func (p *Page) ValueOf(h dom.Handle) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if n, ok := p.nodes[h]; ok {
		return p.valueLocked(n)
	}
	return ""
}

// Focused 当前焦点元素
func (p *Page) Focused() dom.Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.focused == nil {
		return ""
	}
	return p.handles[p.focused]
}

func (p *Page) attachedLocked(n *html.Node) bool {
	top := n
	for top.Parent != nil {
		top = top.Parent
	}
	if top == p.root {
		return true
	}
	if host, ok := p.frameHosts[top]; ok {
		return p.attachedLocked(host)
	}
	return false
}

func (p *Page) notifyLocked(records []dom.MutationRecord) []func([]dom.MutationRecord) {
	for w := range p.watches {
		w.count += len(records)
	}
	fns := make([]func([]dom.MutationRecord), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	return fns
}

func deliver(fns []func([]dom.MutationRecord), records []dom.MutationRecord) {
	for _, fn := range fns {
		fn(records)
	}
}
