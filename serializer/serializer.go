package serializer

import (
	"github.com/browserwing/domagent/models"
	"github.com/pkg/errors"
)

// Options 序列化选项
type Options struct {
	MaxTextLength        int  `json:"max_text_length"`
	MaxLabelLength       int  `json:"max_label_length"`
	MaxPlaceholderLength int  `json:"max_placeholder_length"`
	OmitDefaults         bool `json:"omit_defaults"`
	// IncludeHidden 为 false 时丢弃不可见节点及其子树
	IncludeHidden bool `json:"include_hidden"`
	// IncludeBoundingBox 输出 bbox 字段，便于与截图坐标对照
	IncludeBoundingBox bool `json:"include_bounding_box"`
	// IncludeStats 附带节点数与 token 估算
	IncludeStats bool `json:"include_stats"`
}

// DefaultOptions 默认选项
func DefaultOptions() Options {
	return Options{
		MaxTextLength:        100,
		MaxLabelLength:       100,
		MaxPlaceholderLength: 50,
		OmitDefaults:         true,
		IncludeStats:         true,
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = def.MaxTextLength
	}
	if o.MaxLabelLength <= 0 {
		o.MaxLabelLength = def.MaxLabelLength
	}
	if o.MaxPlaceholderLength <= 0 {
		o.MaxPlaceholderLength = def.MaxPlaceholderLength
	}
	return o
}

// ErrNilTree 没有可序列化的树
var ErrNilTree = errors.New("serializer: nil tree")

// Serialize 展开、压缩并组装页面；iframe 与 shadow DOM 子树抽取到独立数组中。
// 不修改输入树，可以用不同选项重复调用。
func Serialize(tree *models.VirtualNode, ctx models.PageContext, opts Options) (*models.SerializedDom, error) {
	if tree == nil {
		return nil, ErrNilTree
	}
	opts = opts.normalize()

	s := &assembler{opts: opts}
	s.extract(tree)

	out := &models.SerializedDom{
		Page: models.SerializedPage{
			Context:    models.SerializedPageContext{URL: ctx.URL, Title: ctx.Title},
			Body:       s.process(tree),
			Iframes:    s.iframes,
			ShadowDoms: s.shadows,
		},
	}

	if opts.IncludeStats {
		nodes := CountNodes(out.Page.Body)
		for _, f := range out.Page.Iframes {
			nodes += CountNodes(f.Body)
		}
		for _, sd := range out.Page.ShadowDoms {
			nodes += CountNodes(sd.Body)
		}
		out.Stats = &models.SerializeStats{
			Nodes:           nodes,
			EstimatedTokens: EstimateTokens(out.Page),
		}
	}
	return out, nil
}

type assembler struct {
	opts    Options
	iframes []*models.SerializedIframe
	shadows []*models.SerializedShadowDom
}

func (s *assembler) process(root *models.VirtualNode) *models.SerializedNode {
	return OptimizeNode(FlattenTree(root, s.opts.IncludeHidden), s.opts)
}

// extract 先序收集嵌入文档，嵌套的 iframe/shadow 同样提升到顶层数组
func (s *assembler) extract(n *models.VirtualNode) {
	if n == nil {
		return
	}
	if !s.opts.IncludeHidden && !n.Visible {
		return
	}
	if n.Iframe != nil {
		entry := &models.SerializedIframe{
			HostID: n.NodeID,
			Body:   s.process(n.Iframe),
		}
		if md := n.Iframe.Metadata; md != nil {
			entry.URL = md.DocumentURL
			entry.Title = md.DocumentTitle
		}
		s.iframes = append(s.iframes, entry)
	}
	if n.ShadowDom != nil {
		s.shadows = append(s.shadows, &models.SerializedShadowDom{
			HostID: n.NodeID,
			Body:   s.process(n.ShadowDom),
		})
	}
	for _, child := range n.Children {
		s.extract(child)
	}
	if n.Iframe != nil {
		s.extract(n.Iframe)
	}
	if n.ShadowDom != nil {
		s.extract(n.ShadowDom)
	}
}
