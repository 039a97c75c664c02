package actions

import (
	"context"
	"time"

	"github.com/browserwing/domagent/dom"
)

// Modifiers 修饰键
type Modifiers struct {
	Alt   bool `json:"alt,omitempty"`
	Ctrl  bool `json:"ctrl,omitempty"`
	Meta  bool `json:"meta,omitempty"`
	Shift bool `json:"shift,omitempty"`
}

// MouseEventInit 派发的鼠标事件
type MouseEventInit struct {
	Type      string  // mousedown, mouseup, click, dblclick
	Button    int     // 0 左键, 1 中键, 2 右键
	Buttons   int     // 按下状态位掩码
	Detail    int     // 点击次数
	ClientX   float64 // 视口坐标
	ClientY   float64
	Modifiers Modifiers
}

// KeyEventInit 派发的键盘事件
type KeyEventInit struct {
	Type      string // keydown, keypress, keyup
	Key       string
	Code      string
	KeyCode   int
	Modifiers Modifiers
}

// InputEventInit beforeinput / input 事件
type InputEventInit struct {
	Type      string // beforeinput, input
	InputType string // insertText, insertLineBreak, deleteContentBackward
	Data      string
}

// EventInit 其他普通事件，例如 change、textInput
type EventInit struct {
	Type string
	Data string
}

// Target 可被操作的页面元素。
// 所有方法都在页面上下文中执行，失败时返回错误而不是 panic。
type Target interface {
	Handle() dom.Handle
	// Describe 返回元素当前的只读视图，用于判断可输入性与编辑器类型
	Describe(ctx context.Context) (dom.Element, error)
	ScrollIntoView(ctx context.Context, smooth bool) error
	Focus(ctx context.Context) error
	Blur(ctx context.Context) error
	DispatchMouse(ctx context.Context, ev MouseEventInit) error
	DispatchKey(ctx context.Context, ev KeyEventInit) error
	DispatchInput(ctx context.Context, ev InputEventInit) error
	DispatchEvent(ctx context.Context, ev EventInit) error
	// ResetValueTracker 重置虚拟 DOM 框架记录的上一次值，使下一次写入能被识别为变化
	ResetValueTracker(ctx context.Context) error
	// SetValue 通过原生 setter 写入表单值
	SetValue(ctx context.Context, value string) error
	// Value 表单值或可编辑区域的文本
	Value(ctx context.Context) (string, error)
	// InsertText 在可编辑区域的选区位置插入文本
	InsertText(ctx context.Context, text string) error
	ClearContent(ctx context.Context) error
	CollapseSelectionToEnd(ctx context.Context) error
}

// PageState 操作前后用于比对的页面状态
type PageState struct {
	URL     string
	ScrollX float64
	ScrollY float64
}

// MutationWatch 一次操作期间的临时 MutationObserver
type MutationWatch interface {
	// Stop 停止观察并返回期间收到的记录数
	Stop(ctx context.Context) (int, error)
}

// Driver 操作执行所需的页面能力
type Driver interface {
	Target(ctx context.Context, h dom.Handle) (Target, error)
	// FocusedTarget 当前焦点元素，没有焦点时为 body
	FocusedTarget(ctx context.Context) (Target, error)
	PageState(ctx context.Context) (PageState, error)
	WatchMutations(ctx context.Context) (MutationWatch, error)
}

// ClickOptions 点击选项
type ClickOptions struct {
	Button         string    `json:"button,omitempty"` // left, middle, right
	DoubleClick    bool      `json:"double_click,omitempty"`
	Modifiers      Modifiers `json:"modifiers,omitempty"`
	ScrollIntoView bool      `json:"scroll_into_view"` // 点击前滚动到可见区域
	Smooth         bool      `json:"smooth,omitempty"` // 平滑滚动
}

// DefaultClickOptions 左键单击，先滚动到可见区域
func DefaultClickOptions() ClickOptions {
	return ClickOptions{Button: "left", ScrollIntoView: true}
}

// 提交方式
const (
	CommitChange = "change"
	CommitEnter  = "enter"
)

// TypeOptions 输入选项
type TypeOptions struct {
	Speed  time.Duration `json:"speed,omitempty"`  // 每个字符之间的延迟，0 表示一次性输入
	Clear  bool          `json:"clear,omitempty"`  // 是否先清空
	Commit string        `json:"commit,omitempty"` // change 或 enter
	Blur   bool          `json:"blur,omitempty"`   // 输入完成后失去焦点
}

// KeypressOptions 按键选项
type KeypressOptions struct {
	Repeat      int           `json:"repeat,omitempty"` // 重复次数，默认 1
	RepeatDelay time.Duration `json:"repeat_delay,omitempty"`
	Modifiers   Modifiers     `json:"modifiers,omitempty"`
}
