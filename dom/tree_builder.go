package dom

import (
	"context"
	"fmt"
	"time"

	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/pkg/errors"
)

// OverlayHostID 可视化提示层宿主元素的 id，建树时忽略
const OverlayHostID = "__domagent_overlay_host__"

// IgnoreAttr 带此属性的元素及其子树不会出现在树中
const IgnoreAttr = "data-domagent-ignore"

// 不可见时仍然遍历子节点的标签：这些容器可以在不重建 DOM 的情况下展开内容
var traverseHiddenTags = map[string]bool{
	"dialog":  true,
	"details": true,
}

// 不产生语义内容的标签
var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"meta": true, "link": true, "head": true, "title": true, "base": true,
}

// 不深入遍历的标签（svg 内部路径对 agent 无意义）
var leafTags = map[string]bool{
	"svg": true, "math": true,
}

// BuildResult 一次建树的产物
type BuildResult struct {
	Root      *models.VirtualNode
	Mapping   map[string]Handle
	Positions map[string]string
	Stats     models.SnapshotStats
	// Strategies 记录每个节点 ID 的来源，用于日志与测试
	Strategies map[string]Strategy
}

// TreeBuilder 遍历真实 DOM 构建 VirtualNode 树，并与上一次快照对齐 ID
type TreeBuilder struct {
	cfg   Config
	newID IDGenerator
}

// NewTreeBuilder 创建 TreeBuilder，cfg 为 nil 时使用默认配置
func NewTreeBuilder(cfg *Config) *TreeBuilder {
	c := DefaultConfig()
	if cfg != nil {
		c = cfg.Normalize()
	}
	return &TreeBuilder{cfg: c, newID: RandomNodeID}
}

// WithIDGenerator 替换 ID 生成器
func (b *TreeBuilder) WithIDGenerator(gen IDGenerator) *TreeBuilder {
	b.newID = gen
	return b
}

// Config 当前配置
func (b *TreeBuilder) Config() Config {
	return b.cfg
}

// buildState 单次构建的缓存，每次 BuildTree 重新创建
type buildState struct {
	ctx        context.Context
	cfg        Config
	newID      IDGenerator
	matcher    *identityMatcher
	used       map[string]struct{}
	mapping    map[string]Handle
	positions  map[string]string
	strategies map[string]Strategy
	stats      models.SnapshotStats
	// journal 记录本次构建分配的 ID，子树失败时回滚
	journal []string
}

// frame 当前正在遍历的文档
type frame struct {
	doc         Document
	viewport    models.Viewport
	iframeDepth int
	shadowDepth int
}

// BuildTree 从文档 body 开始构建，prev 为 nil 时全部生成新 ID
func (b *TreeBuilder) BuildTree(ctx context.Context, doc Document, prev *DomSnapshot) (*BuildResult, error) {
	start := time.Now()
	body := doc.Body()
	if body == nil {
		return nil, ErrNoBody
	}

	st := &buildState{
		ctx:        ctx,
		cfg:        b.cfg,
		newID:      b.newID,
		matcher:    newIdentityMatcher(prev),
		used:       map[string]struct{}{},
		mapping:    map[string]Handle{},
		positions:  map[string]string{},
		strategies: map[string]Strategy{},
	}
	if prev != nil {
		st.matcher.collectClaims(body, 0, b.cfg.MaxDepth)
	}

	fr := &frame{doc: doc, viewport: doc.Viewport()}
	root, err := st.visit(body, fr, 0, StructuralPath(body), PositionPath(body))
	if err != nil {
		return nil, errors.Wrap(err, "build root")
	}

	st.stats.Duration = time.Since(start)
	logger.Debug(ctx, "Built tree: total=%d visible=%d interactive=%d reused=%d skipped=%d in %s",
		st.stats.Total, st.stats.Visible, st.stats.Interactive, st.stats.ReusedIDs, st.stats.SkippedSubtrees, st.stats.Duration)

	return &BuildResult{
		Root:       root,
		Mapping:    st.mapping,
		Positions:  st.positions,
		Stats:      st.stats,
		Strategies: st.strategies,
	}, nil
}

// visitChild 遍历一个子树；任何错误或 panic 只丢弃该子树
func (st *buildState) visitChild(el Element, fr *frame, depth int, treePath, posPath string) (node *models.VirtualNode) {
	mark := len(st.journal)
	saved := st.stats

	defer func() {
		if r := recover(); r != nil {
			st.rollback(mark, saved)
			st.stats.SkippedSubtrees++
			logger.Warn(st.ctx, "Skipped subtree at %s: %v", treePath, r)
			node = nil
		}
	}()

	node, err := st.visit(el, fr, depth, treePath, posPath)
	if err != nil {
		st.rollback(mark, saved)
		st.stats.SkippedSubtrees++
		logger.Debug(st.ctx, "Skipped subtree at %s: %v", treePath, err)
		return nil
	}
	return node
}

func (st *buildState) rollback(mark int, saved models.SnapshotStats) {
	for _, id := range st.journal[mark:] {
		delete(st.used, id)
		delete(st.mapping, id)
		delete(st.positions, id)
		delete(st.strategies, id)
	}
	st.journal = st.journal[:mark]
	skipped := st.stats.SkippedSubtrees
	truncated := st.stats.Truncated
	st.stats = saved
	st.stats.SkippedSubtrees = skipped
	st.stats.Truncated = truncated
}

func (st *buildState) visit(el Element, fr *frame, depth int, treePath, posPath string) (*models.VirtualNode, error) {
	if depth > st.cfg.MaxDepth {
		return nil, ErrMaxDepthExceeded
	}

	tag := el.TagName()
	visible := IsVisible(el)
	node := CreateVirtualNode(el, "", visible, &NodeOptions{
		Document:       fr.doc,
		Viewport:       fr.viewport,
		MaxLabelLength: st.cfg.MaxLabelLength,
		MaxTextLength:  st.cfg.MaxTextLength,
		IncludeValues:  st.cfg.IncludeValues,
		TreePath:       treePath,
	})

	handle := el.Handle()
	node.NodeID = st.assignID(subject{
		handle:       handle,
		tag:          tag,
		role:         node.Role,
		htmlID:       node.HTMLID(),
		testID:       node.TestID(),
		treePath:     treePath,
		positionPath: posPath,
		fingerprint:  Fingerprint(node),
	})
	if handle != "" {
		st.mapping[node.NodeID] = handle
	}
	st.positions[node.NodeID] = posPath

	st.stats.Total++
	if visible {
		st.stats.Visible++
	}
	if GetInteractivityType(el) != InteractivityNone {
		st.stats.Interactive++
	}

	if (visible || traverseHiddenTags[tag]) && !leafTags[tag] {
		node.Children = st.visitChildren(el.Children(), fr, depth, treePath, posPath)
	}

	if tag == "iframe" && st.cfg.IncludeIframes && fr.iframeDepth < st.cfg.MaxIframeDepth {
		node.Iframe = st.visitIframe(el, fr, depth, treePath, posPath)
	}

	if st.cfg.IncludeShadowDom && fr.shadowDepth < st.cfg.MaxShadowDepth {
		if kids, ok := el.ShadowRoot(); ok {
			node.ShadowDom = st.visitShadowRoot(kids, fr, depth, treePath, posPath)
		}
	}

	return node, nil
}

func (st *buildState) visitChildren(children []Element, fr *frame, depth int, treePath, posPath string) []*models.VirtualNode {
	var out []*models.VirtualNode
	tagCounts := map[string]int{}
	pos := 0
	for _, child := range children {
		if st.stats.Truncated {
			break
		}
		childTag, ok := st.admit(child)
		if !ok {
			continue
		}
		if st.stats.Interactive >= st.cfg.MaxInteractiveElements {
			st.stats.Truncated = true
			logger.Warn(st.ctx, "Interactive element cap %d reached, remaining elements dropped", st.cfg.MaxInteractiveElements)
			break
		}
		seg := fmt.Sprintf("%s[%d]", childTag, tagCounts[childTag])
		tagCounts[childTag]++
		childPos := fmt.Sprintf("%s/%d", posPath, pos)
		pos++
		if n := st.visitChild(child, fr, depth+1, treePath+"/"+seg, childPos); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// admit 过滤不进入树的元素；返回标签名供路径使用
func (st *buildState) admit(el Element) (tag string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			st.stats.SkippedSubtrees++
			tag, ok = "", false
		}
	}()
	tag = el.TagName()
	if skippedTags[tag] {
		return tag, false
	}
	if attr(el, "id") == OverlayHostID || hasAttr(el, IgnoreAttr) {
		return tag, false
	}
	return tag, true
}

func (st *buildState) visitIframe(el Element, fr *frame, depth int, treePath, posPath string) (node *models.VirtualNode) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug(st.ctx, "Iframe at %s is not accessible: %v", treePath, r)
			node = nil
		}
	}()

	doc, err := el.ContentDocument()
	if err != nil || doc == nil {
		// 跨域或尚未加载的 iframe 静默跳过
		return nil
	}
	body := doc.Body()
	if body == nil {
		return nil
	}

	child := &frame{
		doc:         doc,
		viewport:    doc.Viewport(),
		iframeDepth: fr.iframeDepth + 1,
		shadowDepth: fr.shadowDepth,
	}
	root := st.visitChild(body, child, depth+1, treePath+"/#document/body[0]", posPath+"/#document/0")
	if root == nil {
		return nil
	}
	st.stats.Iframes++
	if root.Metadata == nil {
		root.Metadata = &models.Metadata{}
	}
	root.Metadata.DocumentURL = doc.URL()
	root.Metadata.DocumentTitle = doc.Title()
	return root
}

func (st *buildState) visitShadowRoot(kids []Element, fr *frame, depth int, treePath, posPath string) *models.VirtualNode {
	shadowPath := treePath + "/#shadow-root"
	shadowPos := posPath + "/#shadow-root"
	container := &models.VirtualNode{
		Tag:      models.ShadowRootTag,
		Visible:  true,
		Metadata: &models.Metadata{TreePath: shadowPath},
	}
	container.NodeID = st.assignID(subject{
		tag:          models.ShadowRootTag,
		treePath:     shadowPath,
		positionPath: shadowPos,
	})
	st.positions[container.NodeID] = shadowPos
	st.stats.ShadowRoots++

	child := &frame{
		doc:         fr.doc,
		viewport:    fr.viewport,
		iframeDepth: fr.iframeDepth,
		shadowDepth: fr.shadowDepth + 1,
	}
	container.Children = st.visitChildren(kids, child, depth, shadowPath, shadowPos)
	return container
}

// assignID 先尝试匹配旧 ID，失败时生成新 ID
func (st *buildState) assignID(p subject) string {
	id, strategy, ok := st.matcher.match(p, st.used)
	if ok {
		st.stats.ReusedIDs++
	} else {
		id = newUniqueID(st.newID, st.used)
	}
	st.used[id] = struct{}{}
	st.strategies[id] = strategy
	st.journal = append(st.journal, id)
	return id
}
