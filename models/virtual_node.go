package models

// BoundingBox 元素在视口坐标系中的矩形
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area 返回矩形面积
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Center 返回矩形中心点
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Viewport 页面视口
type Viewport struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
}

// Metadata VirtualNode 的附加信息，供匹配与序列化使用
type Metadata struct {
	BoundingBox *BoundingBox   `json:"boundingBox,omitempty"`
	InViewport  bool           `json:"inViewport,omitempty"`
	HTMLID      string         `json:"htmlId,omitempty"`
	TestID      string         `json:"testId,omitempty"`
	Href        string         `json:"href,omitempty"`
	InputType   string         `json:"inputType,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	States      map[string]any `json:"states,omitempty"` // expanded/selected/disabled/checked，值为 bool 或 "mixed"
	Landmark    string         `json:"landmark,omitempty"`
	TreePath    string         `json:"treePath,omitempty"`

	// 仅在内嵌 iframe 文档的根节点上设置
	DocumentURL   string `json:"documentUrl,omitempty"`
	DocumentTitle string `json:"documentTitle,omitempty"`
}

// VirtualNode 某一时刻单个 DOM 元素的语义快照
type VirtualNode struct {
	NodeID         string         `json:"node_id"`
	Tag            string         `json:"tag"`
	Role           string         `json:"role,omitempty"`
	AccessibleName string         `json:"accessible_name,omitempty"`
	Text           string         `json:"text,omitempty"`
	Value          *string        `json:"value,omitempty"`
	Visible        bool           `json:"visible"`
	Metadata       *Metadata      `json:"metadata,omitempty"`
	Children       []*VirtualNode `json:"children,omitempty"`
	Iframe         *VirtualNode   `json:"iframe,omitempty"`
	ShadowDom      *VirtualNode   `json:"shadowDom,omitempty"`
}

// ShadowRootTag 合成的 shadow root 容器节点标签
const ShadowRootTag = "shadow-root"

// Walk 深度优先遍历节点、子节点以及 iframe/shadow 子树，fn 返回 false 时停止深入该节点
func (n *VirtualNode) Walk(fn func(*VirtualNode) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
	n.Iframe.Walk(fn)
	n.ShadowDom.Walk(fn)
}

// Count 返回子树中的节点数（包含自身及嵌入文档）
func (n *VirtualNode) Count() int {
	count := 0
	n.Walk(func(*VirtualNode) bool {
		count++
		return true
	})
	return count
}

// Find 按 node_id 查找节点
func (n *VirtualNode) Find(nodeID string) *VirtualNode {
	var found *VirtualNode
	n.Walk(func(v *VirtualNode) bool {
		if found != nil {
			return false
		}
		if v.NodeID == nodeID {
			found = v
			return false
		}
		return true
	})
	return found
}

func (n *VirtualNode) HTMLID() string {
	if n.Metadata == nil {
		return ""
	}
	return n.Metadata.HTMLID
}

func (n *VirtualNode) TestID() string {
	if n.Metadata == nil {
		return ""
	}
	return n.Metadata.TestID
}

func (n *VirtualNode) Href() string {
	if n.Metadata == nil {
		return ""
	}
	return n.Metadata.Href
}

func (n *VirtualNode) TreePath() string {
	if n.Metadata == nil {
		return ""
	}
	return n.Metadata.TreePath
}

// StrPtr 返回字符串指针
func StrPtr(s string) *string {
	return &s
}
