package dom

import "strings"

// MutationRecord 页面侧 MutationObserver 上报的一条记录
type MutationRecord struct {
	// Type childList / attributes / characterData
	Type          string `json:"type"`
	AttributeName string `json:"attributeName,omitempty"`
	// Target 目标元素的 id 属性，用于过滤工具自身的注入节点
	Target string `json:"target,omitempty"`
}

// 只改变外观的属性，不影响树结构
var insignificantAttrs = map[string]bool{
	"style": true,
	"class": true,
}

// IsSignificant 结构或语义属性变化才需要重建；样式类属性与纯文本变化忽略
func IsSignificant(records []MutationRecord) bool {
	for _, r := range records {
		if r.Target == OverlayHostID {
			continue
		}
		switch r.Type {
		case "childList":
			return true
		case "attributes":
			if !insignificantAttrs[strings.ToLower(r.AttributeName)] {
				return true
			}
		}
	}
	return false
}
