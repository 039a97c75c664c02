package dom

import (
	"context"
	"strconv"
	"strings"

	"github.com/browserwing/domagent/models"
)

// Handle 页面内元素的不透明标识。
// 同一个 DOM 元素在多次捕获之间保持相同的 Handle，页面侧用 WeakRef 持有元素，
// 因此 Go 侧只保存 key，不会阻止元素被回收。
type Handle string

// Style 计算样式中可见性与交互性判断用到的字段
type Style struct {
	Display    string `json:"display"`
	Visibility string `json:"visibility"`
	Opacity    string `json:"opacity"`
	Cursor     string `json:"cursor"`
}

// OpacityValue 解析 opacity，无法解析时视为 1
func (s *Style) OpacityValue() float64 {
	if s == nil || strings.TrimSpace(s.Opacity) == "" {
		return 1
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s.Opacity), 64)
	if err != nil {
		return 1
	}
	return v
}

// Element 一次捕获中的元素视图。
// 实现允许在 getter 中 panic（例如页面上不可访问的节点），调用方负责兜底。
type Element interface {
	Handle() Handle
	// TagName 小写标签名
	TagName() string
	Attribute(name string) (string, bool)
	ComputedStyle() (*Style, error)
	BoundingBox() (models.BoundingBox, error)
	Parent() Element
	Children() []Element
	// DirectText 直接子文本节点拼接（不含后代元素文本）
	DirectText() string
	TextContent() string
	// Value 表单控件当前值，非表单控件返回 false
	Value() (string, bool)
	// Property 原生布尔属性：checked/disabled/selected/readOnly/isContentEditable
	Property(name string) (bool, bool)
	// ContentDocument 同源 iframe 的文档；非 iframe 返回 nil, nil；跨域返回 ErrCrossOrigin
	ContentDocument() (Document, error)
	// ShadowRoot 开放 shadow root 的子元素；不存在或为 closed 时返回 false
	ShadowRoot() ([]Element, bool)
}

// Document 一次捕获得到的文档
type Document interface {
	URL() string
	Title() string
	Viewport() models.Viewport
	Body() Element
	ElementByID(id string) Element
	LabelsFor(id string) []Element
}

// LiveState 元素在页面中的当前状态
type LiveState struct {
	// Found 页面侧仍能解引用到元素
	Found bool
	// Attached 元素仍挂载在文档上
	Attached bool
}

// Page 可被捕获的活动页面
type Page interface {
	Capture(ctx context.Context) (Document, error)
	Inspect(ctx context.Context, handles []Handle) ([]LiveState, error)
}

// HitTester 按视口坐标做命中测试
type HitTester interface {
	ElementFromPoint(ctx context.Context, x, y float64) (Handle, error)
}

func attr(el Element, name string) string {
	v, _ := el.Attribute(name)
	return v
}

func hasAttr(el Element, name string) bool {
	_, ok := el.Attribute(name)
	return ok
}

// AttrValue 返回属性值，不存在时为空
func AttrValue(el Element, name string) string {
	return attr(el, name)
}

// InputType 返回 input 的类型（小写，默认 text），非 input 返回空
func InputType(el Element) string {
	if el.TagName() != "input" {
		return ""
	}
	t := strings.ToLower(strings.TrimSpace(attr(el, "type")))
	if t == "" {
		return "text"
	}
	return t
}

func boolProp(el Element, name string) bool {
	v, ok := el.Property(name)
	return ok && v
}

// IsDisabled 原生 disabled 属性或 disabled 特性
func IsDisabled(el Element) bool {
	if v, ok := el.Property("disabled"); ok {
		return v
	}
	return hasAttr(el, "disabled")
}

// IsContentEditable isContentEditable 属性，缺失时按 contenteditable 特性判断
func IsContentEditable(el Element) bool {
	if v, ok := el.Property("isContentEditable"); ok {
		return v
	}
	v, ok := el.Attribute("contenteditable")
	if !ok {
		return false
	}
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "" || v == "true" || v == "plaintext-only"
}

// ClassList 拆分 class 属性
func ClassList(el Element) []string {
	return strings.Fields(attr(el, "class"))
}

// Contains 判断 handle 是否为 el 本身或其后代（含 shadow root 内的后代）
func Contains(el Element, h Handle) bool {
	if el == nil || h == "" {
		return false
	}
	if el.Handle() == h {
		return true
	}
	for _, child := range el.Children() {
		if Contains(child, h) {
			return true
		}
	}
	if kids, ok := el.ShadowRoot(); ok {
		for _, child := range kids {
			if Contains(child, h) {
				return true
			}
		}
	}
	return false
}
