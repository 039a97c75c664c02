package dom

import (
	"fmt"
	"strings"

	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/textutil"
)

// 测试 ID 属性，按优先级
var testIDAttrs = []string{"data-testid", "data-test", "data-cy"}

// NodeOptions CreateVirtualNode 的选项
type NodeOptions struct {
	Document       Document
	Viewport       models.Viewport
	MaxLabelLength int
	MaxTextLength  int
	IncludeValues  bool
	// TreePath 由 TreeBuilder 在遍历时传入，为空时沿父链计算
	TreePath string
}

// CreateVirtualNode 把一个真实元素转换为语义节点
func CreateVirtualNode(el Element, nodeID string, visible bool, opts *NodeOptions) *models.VirtualNode {
	if opts == nil {
		opts = &NodeOptions{}
	}

	tag := el.TagName()
	node := &models.VirtualNode{
		NodeID:  nodeID,
		Tag:     tag,
		Role:    GetRole(el),
		Visible: visible,
	}

	name, err := ComputeAccessibleName(el, opts.Document)
	if err != nil {
		name = normalizeSpace(attr(el, "aria-label"))
	}
	node.AccessibleName = Truncate(name, opts.MaxLabelLength)

	node.Text = Truncate(normalizeSpace(el.DirectText()), opts.MaxTextLength)

	if opts.IncludeValues && InputType(el) != "password" {
		if v, ok := el.Value(); ok {
			v = Truncate(strings.TrimSpace(v), opts.MaxTextLength)
			node.Value = &v
		}
	}

	node.Metadata = buildMetadata(el, opts)
	return node
}

func buildMetadata(el Element, opts *NodeOptions) *models.Metadata {
	meta := &models.Metadata{
		HTMLID:      attr(el, "id"),
		TestID:      TestID(el),
		InputType:   InputType(el),
		Placeholder: attr(el, "placeholder"),
		Landmark:    FindLandmark(el),
		TreePath:    opts.TreePath,
	}
	if meta.TreePath == "" {
		meta.TreePath = StructuralPath(el)
	}
	if el.TagName() == "a" || el.TagName() == "area" {
		meta.Href = attr(el, "href")
	}
	if rect, err := el.BoundingBox(); err == nil && rect.Area() > 0 {
		r := rect
		meta.BoundingBox = &r
		meta.InViewport = IsInViewport(rect, opts.Viewport)
	}
	meta.States = ComputeStates(el)
	return meta
}

// TestID 依次读取 data-testid/data-test/data-cy
func TestID(el Element) string {
	for _, name := range testIDAttrs {
		if v := strings.TrimSpace(attr(el, name)); v != "" {
			return v
		}
	}
	return ""
}

// ComputeStates expanded/selected/disabled/checked，ARIA 优先，其次原生属性
func ComputeStates(el Element) map[string]any {
	states := map[string]any{}

	if v, ok := ariaState(el, "aria-expanded"); ok {
		states["expanded"] = v
	} else if el.TagName() == "details" {
		states["expanded"] = hasAttr(el, "open")
	}

	if v, ok := ariaState(el, "aria-selected"); ok {
		states["selected"] = v
	} else if v, ok := el.Property("selected"); ok && el.TagName() == "option" {
		states["selected"] = v
	}

	if v, ok := ariaState(el, "aria-disabled"); ok && v == true {
		states["disabled"] = true
	} else if formControlTags[el.TagName()] && IsDisabled(el) {
		states["disabled"] = true
	}

	if v, ok := ariaState(el, "aria-checked"); ok {
		states["checked"] = v
	} else if t := InputType(el); t == "checkbox" || t == "radio" {
		if v, ok := el.Property("checked"); ok {
			states["checked"] = v
		} else {
			states["checked"] = hasAttr(el, "checked")
		}
	}

	if len(states) == 0 {
		return nil
	}
	return states
}

// ariaState 解析 ARIA 三态：true/false/mixed
func ariaState(el Element, name string) (any, bool) {
	v, ok := el.Attribute(name)
	if !ok {
		return nil, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true, true
	case "false":
		return false, true
	case "mixed":
		return "mixed", true
	}
	return nil, false
}

// StructuralPath 从文档根到元素的 tag[同名兄弟序号] 链
func StructuralPath(el Element) string {
	var segments []string
	for cur := el; cur != nil; cur = cur.Parent() {
		segments = append(segments, pathSegment(cur))
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, "/")
}

func pathSegment(el Element) string {
	idx := 0
	if p := el.Parent(); p != nil {
		for _, sib := range p.Children() {
			if sib.Handle() == el.Handle() {
				break
			}
			if sib.TagName() == el.TagName() {
				idx++
			}
		}
	}
	return fmt.Sprintf("%s[%d]", el.TagName(), idx)
}

// PositionPath 从文档根到元素的子元素序号链
func PositionPath(el Element) string {
	var segments []string
	for cur := el; cur != nil; cur = cur.Parent() {
		idx := 0
		if p := cur.Parent(); p != nil {
			for i, sib := range p.Children() {
				if sib.Handle() == cur.Handle() {
					idx = i
					break
				}
			}
		}
		segments = append(segments, fmt.Sprint(idx))
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, "/")
}

// Truncate 见 textutil.Truncate
func Truncate(s string, max int) string {
	return textutil.Truncate(s, max)
}
