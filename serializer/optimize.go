package serializer

import (
	"encoding/json"

	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/textutil"
)

// OptimizeNode 将 VirtualNode 转为紧凑的 SerializedNode：截断文本，只保留非空的可选字段
func OptimizeNode(n *models.VirtualNode, opts Options) *models.SerializedNode {
	out := &models.SerializedNode{
		ID:    n.NodeID,
		Tag:   n.Tag,
		Role:  n.Role,
		Label: textutil.Truncate(n.AccessibleName, opts.MaxLabelLength),
		Text:  textutil.Truncate(n.Text, opts.MaxTextLength),
	}
	if n.Value != nil && *n.Value != "" {
		v := textutil.Truncate(*n.Value, opts.MaxTextLength)
		out.Value = &v
	}

	if md := n.Metadata; md != nil {
		out.Href = md.Href
		out.InputType = md.InputType
		out.Placeholder = textutil.Truncate(md.Placeholder, opts.MaxPlaceholderLength)
		if len(md.States) > 0 {
			out.States = make(map[string]any, len(md.States))
			for k, v := range md.States {
				out.States[k] = v
			}
		}
		if opts.IncludeBoundingBox && md.BoundingBox != nil && md.BoundingBox.Area() > 0 {
			box := *md.BoundingBox
			out.BoundingBox = &box
		}
	}

	for _, child := range n.Children {
		out.Children = append(out.Children, OptimizeNode(child, opts))
	}
	if opts.OmitDefaults {
		OmitDefaults(out)
	}
	return out
}

// OmitDefaults 删除值为假的字段：false 状态、空字符串值、空 map
func OmitDefaults(n *models.SerializedNode) {
	for k, v := range n.States {
		if isFalsy(v) {
			delete(n.States, k)
		}
	}
	if len(n.States) == 0 {
		n.States = nil
	}
	if n.Value != nil && *n.Value == "" {
		n.Value = nil
	}
	if len(n.Children) == 0 {
		n.Children = nil
	}
}

func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case int:
		return t == 0
	case float64:
		return t == 0
	}
	return false
}

// EstimateTokens 以 JSON 字符数 / 4 向上取整粗略估算 token 数
func EstimateTokens(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return (len(data) + 3) / 4
}

// CountNodes 序列化树的节点数
func CountNodes(n *models.SerializedNode) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, child := range n.Children {
		total += CountNodes(child)
	}
	return total
}
