package dom

import (
	"strings"

	"github.com/browserwing/domagent/models"
)

// Strategy 身份匹配策略
type Strategy string

const (
	StrategyExact       Strategy = "exact"
	StrategyHTMLID      Strategy = "html_id"
	StrategyTestID      Strategy = "test_id"
	StrategyTreePath    Strategy = "tree_path"
	StrategyPosition    Strategy = "position"
	StrategyFingerprint Strategy = "fingerprint"
	StrategyNew         Strategy = "new"
)

// 各策略得分，精确匹配视为确定
var strategyScores = map[Strategy]int{
	StrategyExact:       100,
	StrategyHTMLID:      90,
	StrategyTestID:      85,
	StrategyTreePath:    70,
	StrategyPosition:    60,
	StrategyFingerprint: 50,
}

// 指纹中 label/text 的截断长度
const fingerprintFieldLength = 30

// subject 新树中待分配 ID 的元素特征
type subject struct {
	handle       Handle
	tag          string
	role         string
	htmlID       string
	testID       string
	treePath     string
	positionPath string
	fingerprint  string
}

// candidate 上一次快照中的节点
type candidate struct {
	id     string
	handle Handle
	tag    string
	role   string
	htmlID string
	testID string
}

// identityMatcher 以上一次快照为索引，为新元素找回旧的 node_id
type identityMatcher struct {
	exact         map[Handle]string
	byHTMLID      map[string][]candidate
	byTestID      map[string][]candidate
	byTreePath    map[string][]candidate
	byPosition    map[string][]candidate
	byFingerprint map[string][]candidate

	// 新文档中出现的 id / test id，这些旧节点只允许被强标识认领
	claimedHTMLIDs map[string]bool
	claimedTestIDs map[string]bool
	// 新文档中仍然存在的旧元素，它们的 ID 只能通过精确匹配取回
	present map[Handle]bool
}

func newIdentityMatcher(prev *DomSnapshot) *identityMatcher {
	m := &identityMatcher{
		exact:          map[Handle]string{},
		byHTMLID:       map[string][]candidate{},
		byTestID:       map[string][]candidate{},
		byTreePath:     map[string][]candidate{},
		byPosition:     map[string][]candidate{},
		byFingerprint:  map[string][]candidate{},
		claimedHTMLIDs: map[string]bool{},
		claimedTestIDs: map[string]bool{},
		present:        map[Handle]bool{},
	}
	if prev == nil || prev.root == nil {
		return m
	}

	for h, id := range prev.reverse {
		m.exact[h] = id
	}
	prev.root.Walk(func(n *models.VirtualNode) bool {
		c := candidate{
			id:     n.NodeID,
			handle: prev.forward[n.NodeID],
			tag:    n.Tag,
			role:   n.Role,
			htmlID: n.HTMLID(),
			testID: n.TestID(),
		}
		if c.htmlID != "" {
			m.byHTMLID[c.htmlID] = append(m.byHTMLID[c.htmlID], c)
		}
		if c.testID != "" {
			m.byTestID[c.testID] = append(m.byTestID[c.testID], c)
		}
		if p := n.TreePath(); p != "" {
			m.byTreePath[p] = append(m.byTreePath[p], c)
		}
		if p := prev.positions[n.NodeID]; p != "" {
			m.byPosition[p] = append(m.byPosition[p], c)
		}
		fp := Fingerprint(n)
		m.byFingerprint[fp] = append(m.byFingerprint[fp], c)
		return true
	})
	return m
}

// match 返回匹配到的旧 ID；精确匹配直接生效，其余策略取最高分
func (m *identityMatcher) match(p subject, used map[string]struct{}) (string, Strategy, bool) {
	if p.handle != "" {
		if id, ok := m.exact[p.handle]; ok && !isUsed(used, id) {
			return id, StrategyExact, true
		}
	}

	bestID, bestStrategy, bestScore := "", StrategyNew, 0
	try := func(strategy Strategy, index map[string][]candidate, key string, weak bool) {
		if key == "" || strategyScores[strategy] <= bestScore {
			return
		}
		for _, c := range index[key] {
			if isUsed(used, c.id) || !similar(p, c) {
				continue
			}
			if weak && m.reservedFor(p, c) {
				continue
			}
			bestID, bestStrategy, bestScore = c.id, strategy, strategyScores[strategy]
			return
		}
	}

	try(StrategyHTMLID, m.byHTMLID, p.htmlID, false)
	try(StrategyTestID, m.byTestID, p.testID, false)
	try(StrategyTreePath, m.byTreePath, p.treePath, true)
	try(StrategyPosition, m.byPosition, p.positionPath, true)
	try(StrategyFingerprint, m.byFingerprint, p.fingerprint, true)

	if bestID == "" {
		return "", StrategyNew, false
	}
	return bestID, bestStrategy, true
}

// reservedFor 旧节点的元素或强标识仍在新文档中，而当前元素不是它
func (m *identityMatcher) reservedFor(p subject, c candidate) bool {
	if c.handle != "" && c.handle != p.handle && m.present[c.handle] {
		return true
	}
	if c.htmlID != "" && c.htmlID != p.htmlID && m.claimedHTMLIDs[c.htmlID] {
		return true
	}
	if c.testID != "" && c.testID != p.testID && m.claimedTestIDs[c.testID] {
		return true
	}
	return false
}

// similar 相似性门槛：标签相同，且双方都有 role 时必须一致
func similar(p subject, c candidate) bool {
	if p.tag != c.tag {
		return false
	}
	if p.role != "" && c.role != "" && p.role != c.role {
		return false
	}
	return true
}

func isUsed(used map[string]struct{}, id string) bool {
	_, ok := used[id]
	return ok
}

// Fingerprint 内容指纹：tag|role|label|text|href|id，精确相等比较
func Fingerprint(n *models.VirtualNode) string {
	return strings.Join([]string{
		n.Tag,
		n.Role,
		Truncate(n.AccessibleName, fingerprintFieldLength),
		Truncate(n.Text, fingerprintFieldLength),
		n.Href(),
		n.HTMLID(),
	}, "|")
}

// collectClaims 预扫描新文档中出现的句柄、id 与 test id，包括同源 iframe
func (m *identityMatcher) collectClaims(el Element, depth, maxDepth int) {
	defer func() { _ = recover() }()
	if el == nil || depth > maxDepth {
		return
	}
	if h := el.Handle(); h != "" {
		m.present[h] = true
	}
	if id := attr(el, "id"); id != "" {
		m.claimedHTMLIDs[id] = true
	}
	if tid := TestID(el); tid != "" {
		m.claimedTestIDs[tid] = true
	}
	for _, child := range el.Children() {
		m.collectClaims(child, depth+1, maxDepth)
	}
	if kids, ok := el.ShadowRoot(); ok {
		for _, child := range kids {
			m.collectClaims(child, depth+1, maxDepth)
		}
	}
	if doc, err := el.ContentDocument(); err == nil && doc != nil {
		m.collectClaims(doc.Body(), depth+1, maxDepth)
	}
}
