package domtest

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/models"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

var defaultRect = models.BoundingBox{X: 0, Y: 0, Width: 100, Height: 20}

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := getAttr(n, name)
	return ok
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func isShadowTemplate(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || n.Data != "template" {
		return false
	}
	_, ok := getAttr(n, "shadowrootmode")
	return ok
}

func parseStyle(n *html.Node) map[string]string {
	out := map[string]string{}
	raw, _ := getAttr(n, "style")
	for _, decl := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func isFormControl(n *html.Node) bool {
	switch n.Data {
	case "input", "textarea", "select", "button", "option", "fieldset":
		return true
	}
	return false
}

// element dom.Element 的实现，getter 读取活动节点
type element struct {
	p *Page
	n *html.Node
}

func (p *Page) wrap(n *html.Node) dom.Element {
	if n == nil {
		return nil
	}
	return &element{p: p, n: n}
}

func (e *element) Handle() dom.Handle {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	return e.p.handles[e.n]
}

func (e *element) TagName() string {
	return e.n.Data
}

func (e *element) Attribute(name string) (string, bool) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	return getAttr(e.n, name)
}

func (e *element) ComputedStyle() (*dom.Style, error) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	return e.p.styleLocked(e.n)
}

func (p *Page) styleLocked(n *html.Node) (*dom.Style, error) {
	if hasAttr(n, "data-style-error") {
		return nil, errors.New("getComputedStyle failed")
	}
	decl := parseStyle(n)
	st := &dom.Style{Display: "block", Visibility: "visible", Opacity: "1", Cursor: "auto"}
	if v, ok := decl["display"]; ok {
		st.Display = v
	}
	if hasAttr(n, "hidden") {
		st.Display = "none"
	}
	if t, _ := getAttr(n, "type"); n.Data == "input" && strings.EqualFold(t, "hidden") {
		st.Display = "none"
	}
	if n.Data == "dialog" && !hasAttr(n, "open") {
		st.Display = "none"
	}
	// visibility 可继承
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if v, ok := parseStyle(cur)["visibility"]; ok {
			st.Visibility = v
			break
		}
	}
	if v, ok := decl["opacity"]; ok {
		st.Opacity = v
	}
	if n.Data == "a" && hasAttr(n, "href") {
		st.Cursor = "pointer"
	}
	if v, ok := decl["cursor"]; ok {
		st.Cursor = v
	}
	return st, nil
}

func (e *element) BoundingBox() (models.BoundingBox, error) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	return e.p.rectLocked(e.n)
}

func (p *Page) rectLocked(n *html.Node) (models.BoundingBox, error) {
	st, err := p.styleLocked(n)
	if err != nil {
		return models.BoundingBox{}, err
	}
	if st.Display == "none" {
		return models.BoundingBox{}, nil
	}
	// display:none 的祖先使整棵子树没有布局
	for cur := n.Parent; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if ast, err := p.styleLocked(cur); err == nil && ast.Display == "none" {
			return models.BoundingBox{}, nil
		}
	}
	if raw, ok := getAttr(n, "data-rect"); ok {
		parts := strings.Split(raw, ",")
		if len(parts) != 4 {
			return models.BoundingBox{}, errors.Errorf("bad data-rect %q", raw)
		}
		var v [4]float64
		for i, part := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return models.BoundingBox{}, errors.Wrapf(err, "bad data-rect %q", raw)
			}
			v[i] = f
		}
		return models.BoundingBox{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
	}
	decl := parseStyle(n)
	box := defaultRect
	if w, ok := decl["width"]; ok && (w == "0" || w == "0px") {
		box.Width = 0
	}
	if h, ok := decl["height"]; ok && (h == "0" || h == "0px") {
		box.Height = 0
	}
	return box, nil
}

func (e *element) Parent() dom.Element {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	parent := e.n.Parent
	if parent == nil || parent.Type != html.ElementNode || isShadowTemplate(parent) {
		return nil
	}
	return e.p.wrap(parent)
}

func (e *element) Children() []dom.Element {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	var out []dom.Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && !isShadowTemplate(c) {
			out = append(out, e.p.wrap(c))
		}
	}
	return out
}

func (e *element) DirectText() string {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	if hasAttr(e.n, "data-hostile") {
		panic("hostile getter")
	}
	var b strings.Builder
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

func (e *element) TextContent() string {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	return textContent(e.n)
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				b.WriteString(c.Data)
			case c.Type == html.ElementNode && (c.Data == "script" || c.Data == "style" || c.Data == "template"):
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

func (e *element) Value() (string, bool) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	switch e.n.Data {
	case "input", "textarea", "select":
		return e.p.valueLocked(e.n), true
	}
	return "", false
}

func (p *Page) valueLocked(n *html.Node) string {
	if v, ok := p.values[n]; ok {
		return v
	}
	switch n.Data {
	case "input":
		v, _ := getAttr(n, "value")
		return v
	case "textarea":
		return textContent(n)
	case "select":
		var first string
		found := false
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || c.Data != "option" {
				continue
			}
			v, ok := getAttr(c, "value")
			if !ok {
				v = strings.TrimSpace(textContent(c))
			}
			if !found {
				first, found = v, true
			}
			if hasAttr(c, "selected") {
				return v
			}
		}
		return first
	}
	return textContent(n)
}

func (e *element) Property(name string) (bool, bool) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	switch name {
	case "isContentEditable":
		for cur := e.n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
			if v, ok := getAttr(cur, "contenteditable"); ok {
				v = strings.ToLower(strings.TrimSpace(v))
				return v == "" || v == "true" || v == "plaintext-only", true
			}
		}
		return false, true
	case "disabled":
		if !isFormControl(e.n) {
			return false, false
		}
		return hasAttr(e.n, "disabled"), true
	case "readOnly":
		if e.n.Data != "input" && e.n.Data != "textarea" {
			return false, false
		}
		return hasAttr(e.n, "readonly"), true
	case "checked":
		if e.n.Data != "input" {
			return false, false
		}
		return hasAttr(e.n, "checked"), true
	case "selected":
		if e.n.Data != "option" {
			return false, false
		}
		return hasAttr(e.n, "selected"), true
	}
	return false, false
}

func (e *element) ContentDocument() (dom.Document, error) {
	if e.n.Data != "iframe" {
		return nil, nil
	}
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	if hasAttr(e.n, "data-cross-origin") {
		return nil, dom.ErrCrossOrigin
	}
	doc, ok := e.p.frames[e.n]
	if !ok {
		return nil, nil
	}
	u, ok := getAttr(e.n, "data-src")
	if !ok {
		u = "about:srcdoc"
	}
	return &document{p: e.p, root: doc, url: u}, nil
}

func (e *element) ShadowRoot() ([]dom.Element, bool) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if !isShadowTemplate(c) {
			continue
		}
		if mode, _ := getAttr(c, "shadowrootmode"); !strings.EqualFold(mode, "open") {
			return nil, false
		}
		var out []dom.Element
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			if k.Type == html.ElementNode {
				out = append(out, e.p.wrap(k))
			}
		}
		return out, true
	}
	return nil, false
}

// document dom.Document 的实现
type document struct {
	p    *Page
	root *html.Node
	url  string
}

func (d *document) URL() string { return d.url }

func (d *document) Title() string {
	d.p.mu.RLock()
	defer d.p.mu.RUnlock()
	if n := findElement(d.root, func(n *html.Node) bool { return n.Data == "title" }); n != nil {
		return strings.TrimSpace(textContent(n))
	}
	return ""
}

func (d *document) Viewport() models.Viewport {
	d.p.mu.RLock()
	defer d.p.mu.RUnlock()
	return d.p.viewport
}

func (d *document) Body() dom.Element {
	d.p.mu.RLock()
	defer d.p.mu.RUnlock()
	return d.p.wrap(findElement(d.root, func(n *html.Node) bool { return n.Data == "body" }))
}

func (d *document) ElementByID(id string) dom.Element {
	d.p.mu.RLock()
	defer d.p.mu.RUnlock()
	return d.p.wrap(findElement(d.root, func(n *html.Node) bool {
		v, _ := getAttr(n, "id")
		return v == id
	}))
}

func (d *document) LabelsFor(id string) []dom.Element {
	d.p.mu.RLock()
	defer d.p.mu.RUnlock()
	var out []dom.Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "label" {
			if v, _ := getAttr(n, "for"); v == id {
				out = append(out, d.p.wrap(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !isShadowTemplate(c) {
				walk(c)
			}
		}
	}
	walk(d.root)
	return out
}

// findElement 文档内先序查找，不进入 shadow root
func findElement(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isShadowTemplate(c) {
			continue
		}
		if found := findElement(c, pred); found != nil {
			return found
		}
	}
	return nil
}

// Capture 实现 dom.Page
func (p *Page) Capture(ctx context.Context) (dom.Document, error) {
	p.mu.Lock()
	p.captures++
	delay := p.captureDelay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return &document{p: p, root: p.root, url: p.url}, nil
}

// Inspect 实现 dom.Page
func (p *Page) Inspect(ctx context.Context, handles []dom.Handle) ([]dom.LiveState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]dom.LiveState, len(handles))
	for i, h := range handles {
		n, ok := p.nodes[h]
		if !ok {
			continue
		}
		out[i] = dom.LiveState{Found: true, Attached: p.attachedLocked(n)}
	}
	return out, nil
}

// ElementFromPoint 实现 dom.HitTester：取包含该点的最深、最后绘制的可见元素
func (p *Page) ElementFromPoint(ctx context.Context, x, y float64) (dom.Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *html.Node
	bestDepth := -1
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if n.Type == html.ElementNode {
			st, err := p.styleLocked(n)
			if err == nil && (st.Display == "none" || st.Visibility == "hidden") {
				return
			}
			if box, err := p.rectLocked(n); err == nil && box.Area() > 0 &&
				x >= box.X && x < box.X+box.Width && y >= box.Y && y < box.Y+box.Height &&
				depth >= bestDepth {
				best, bestDepth = n, depth
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}
	walk(p.root, 0)
	if best == nil {
		return "", nil
	}
	return p.handles[best], nil
}
