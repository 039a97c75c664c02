package serializer

import (
	"strings"

	"github.com/browserwing/domagent/models"
)

// 没有语义的结构容器
var structuralTags = map[string]bool{
	"div": true, "span": true, "section": true, "header": true, "nav": true,
	"footer": true, "aside": true, "main": true, "article": true,
}

// 语义容器，无论内容如何都不展开
var semanticContainers = map[string]bool{
	"form": true, "dialog": true, "table": true, "ul": true, "ol": true,
	"fieldset": true, "details": true, "summary": true,
}

// ShouldFlatten 结构容器且没有有意义的 role、名称、直接文本和链接时可以展开
func ShouldFlatten(n *models.VirtualNode) bool {
	if n == nil || semanticContainers[n.Tag] || !structuralTags[n.Tag] {
		return false
	}
	// 宿主节点要保留，hostId 才能回指
	if n.Iframe != nil || n.ShadowDom != nil {
		return false
	}
	if n.Role != "" && n.Role != "none" && n.Role != "presentation" {
		return false
	}
	if strings.TrimSpace(n.AccessibleName) != "" {
		return false
	}
	if strings.TrimSpace(n.Text) != "" {
		return false
	}
	if n.Href() != "" {
		return false
	}
	return true
}

// FlattenTree 返回展开后的副本，根节点本身总是保留。
// 被展开节点的子节点按原顺序拼接到父节点中；iframe/shadow 子树不随副本携带，由 Serializer 单独抽取。
func FlattenTree(root *models.VirtualNode, includeHidden bool) *models.VirtualNode {
	if root == nil {
		return nil
	}
	out := shallowCopy(root)
	out.Children = flattenChildren(root.Children, includeHidden)
	return out
}

func flattenChildren(children []*models.VirtualNode, includeHidden bool) []*models.VirtualNode {
	var out []*models.VirtualNode
	for _, child := range children {
		if child == nil || (!includeHidden && !child.Visible) {
			continue
		}
		kids := flattenChildren(child.Children, includeHidden)
		if ShouldFlatten(child) {
			out = append(out, kids...)
			continue
		}
		kept := shallowCopy(child)
		kept.Children = kids
		out = append(out, kept)
	}
	return out
}

func shallowCopy(n *models.VirtualNode) *models.VirtualNode {
	return &models.VirtualNode{
		NodeID:         n.NodeID,
		Tag:            n.Tag,
		Role:           n.Role,
		AccessibleName: n.AccessibleName,
		Text:           n.Text,
		Value:          n.Value,
		Visible:        n.Visible,
		Metadata:       n.Metadata,
	}
}
