package dom_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/dom/domtest"
	"github.com/browserwing/domagent/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTreeBasic(t *testing.T) {
	p := domtest.New(`<title>Shop</title>
		<script>var x = 1</script>
		<form id="f"><input id="q" placeholder="Search"><button id="go">Go</button></form>
		<div style="display:none"><button id="hidden-child">x</button></div>`)

	res := buildResult(t, p, nil, nil)
	require.NotNil(t, res.Root)
	assert.Equal(t, "body", res.Root.Tag)
	assert.Empty(t, byTag(res.Root, "script"))

	q := byHTMLID(res.Root, "q")
	require.NotNil(t, q)
	assert.Len(t, q.NodeID, dom.NodeIDLength)
	assert.Equal(t, p.HandleByID("q"), res.Mapping[q.NodeID])

	// 不可见容器本身保留，但不进入子节点
	assert.Nil(t, byHTMLID(res.Root, "hidden-child"))

	assert.Equal(t, 2, res.Stats.Interactive)
	assert.Equal(t, res.Root.Count(), res.Stats.Total)
	assert.Equal(t, res.Stats.Total-1, res.Stats.Visible)
	assert.Len(t, res.Mapping, res.Stats.Total)
}

func TestBuildTreeTraversesHiddenDialog(t *testing.T) {
	p := domtest.New(`<dialog id="dlg"><button id="inside">OK</button></dialog>`)
	res := buildResult(t, p, nil, nil)

	dlg := byHTMLID(res.Root, "dlg")
	require.NotNil(t, dlg)
	assert.False(t, dlg.Visible)
	inside := byHTMLID(res.Root, "inside")
	require.NotNil(t, inside)
	assert.False(t, inside.Visible)
}

func TestBuildTreeNoBody(t *testing.T) {
	_, err := dom.NewTreeBuilder(nil).BuildTree(context.Background(), noBodyDoc{}, nil)
	assert.ErrorIs(t, err, dom.ErrNoBody)
}

type noBodyDoc struct{}

func (noBodyDoc) URL() string                    { return "" }
func (noBodyDoc) Title() string                  { return "" }
func (noBodyDoc) Viewport() models.Viewport      { return models.Viewport{} }
func (noBodyDoc) Body() dom.Element              { return nil }
func (noBodyDoc) ElementByID(string) dom.Element { return nil }
func (noBodyDoc) LabelsFor(string) []dom.Element { return nil }

func TestIdentityStableAcrossRebuild(t *testing.T) {
	markup := `<div id="a">X</div><button data-testid="buy">Buy</button><p>free text</p>`
	p := domtest.New(markup)
	first := snapshot(t, p, nil, nil)

	// 同一 DOM 再次构建：精确匹配
	res := buildResult(t, p, first, nil)
	first.Root().Walk(func(n *models.VirtualNode) bool {
		assert.Equal(t, dom.StrategyExact, res.Strategies[n.NodeID], "node %s <%s>", n.NodeID, n.Tag)
		return true
	})
	assert.Equal(t, first.Root().Count(), res.Stats.ReusedIDs)

	// 重新解析：全部是新元素，但标识不变
	p.SetHTML(markup)
	second := snapshot(t, p, first, nil)
	assert.Equal(t, byHTMLID(first.Root(), "a").NodeID, byHTMLID(second.Root(), "a").NodeID)
	assert.Equal(t, byTag(first.Root(), "button")[0].NodeID, byTag(second.Root(), "button")[0].NodeID)
	assert.Equal(t, byTag(first.Root(), "p")[0].NodeID, byTag(second.Root(), "p")[0].NodeID)
	assert.Equal(t, first.Root().NodeID, second.Root().NodeID)
}

func TestIdentitySurvivesReorder(t *testing.T) {
	p := domtest.New(`<section aria-label="c"><div id="a">X</div><div id="b">Y</div></section>`)
	first := snapshot(t, p, nil, nil)
	n1 := byHTMLID(first.Root(), "a").NodeID
	n2 := byHTMLID(first.Root(), "b").NodeID
	require.NotEqual(t, n1, n2)

	p.SetHTML(`<section aria-label="c"><div id="b">Y</div><div id="a">X</div></section>`)
	res := buildResult(t, p, first, nil)
	a := byHTMLID(res.Root, "a")
	b := byHTMLID(res.Root, "b")
	assert.Equal(t, n1, a.NodeID)
	assert.Equal(t, n2, b.NodeID)
	assert.Equal(t, dom.StrategyHTMLID, res.Strategies[a.NodeID])
	assert.Equal(t, dom.StrategyHTMLID, res.Strategies[b.NodeID])
}

func TestIdentityChurnsOnTagChange(t *testing.T) {
	p := domtest.New(`<div id="a">X</div>`)
	first := snapshot(t, p, nil, nil)

	p.SetHTML(`<section id="a">X</section>`)
	second := snapshot(t, p, first, nil)
	assert.NotEqual(t, byHTMLID(first.Root(), "a").NodeID, byHTMLID(second.Root(), "a").NodeID)
}

func TestIdentityPositionalFallback(t *testing.T) {
	p := domtest.New(`<ul><li>one</li><li>two</li></ul>`)
	first := snapshot(t, p, nil, nil)

	p.SetHTML(`<ul><li>uno</li><li>dos</li></ul>`)
	res := buildResult(t, p, first, nil)

	before := byTag(first.Root(), "li")
	after := byTag(res.Root, "li")
	require.Len(t, after, 2)
	for i := range after {
		assert.Equal(t, before[i].NodeID, after[i].NodeID)
		assert.Equal(t, dom.StrategyTreePath, res.Strategies[after[i].NodeID])
	}
}

func TestIdentityWeakMatchYieldsToClaimedID(t *testing.T) {
	p := domtest.New(`<div id="keep">K</div>`)
	first := snapshot(t, p, nil, nil)
	keepID := byHTMLID(first.Root(), "keep").NodeID

	// 新插入的 div 占据了旧节点的路径，但旧节点的 id 仍在文档中
	p.SetHTML(`<div>new</div><div id="keep">K</div>`)
	res := buildResult(t, p, first, nil)

	assert.Equal(t, keepID, byHTMLID(res.Root, "keep").NodeID)
	divs := byTag(res.Root, "div")
	require.Len(t, divs, 2)
	assert.NotEqual(t, keepID, divs[0].NodeID)
	assert.Equal(t, dom.StrategyNew, res.Strategies[divs[0].NodeID])
}

func TestIdentityInsertedSiblingKeepsLiveIDs(t *testing.T) {
	p := domtest.New(`<button>A</button><button>B</button>`)
	first := snapshot(t, p, nil, nil)
	buttons := byTag(first.Root(), "button")
	require.Len(t, buttons, 2)
	idA, idB := buttons[0].NodeID, buttons[1].NodeID
	handleA, ok := first.HandleFor(idA)
	require.True(t, ok)

	// 新元素占据了 A 的路径与位置，但 A、B 仍在文档中
	p.InsertBefore(handleA, `<button>C</button>`)
	res := buildResult(t, p, first, nil)

	after := byTag(res.Root, "button")
	require.Len(t, after, 3)
	assert.Equal(t, dom.StrategyNew, res.Strategies[after[0].NodeID])
	assert.NotContains(t, []string{idA, idB}, after[0].NodeID)
	assert.Equal(t, idA, after[1].NodeID)
	assert.Equal(t, idB, after[2].NodeID)
	assert.Equal(t, dom.StrategyExact, res.Strategies[idA])
	assert.Equal(t, dom.StrategyExact, res.Strategies[idB])
}

func TestIdentityWeakMatchYieldsToIDInsideIframe(t *testing.T) {
	p := domtest.New(`<button id="pay">Pay</button>`)
	first := snapshot(t, p, nil, nil)
	payID := byHTMLID(first.Root(), "pay").NodeID

	p.SetHTML(`<button>Other</button><iframe srcdoc="<button id='pay'>Pay</button>"></iframe>`)
	res := buildResult(t, p, first, nil)

	assert.Equal(t, payID, byHTMLID(res.Root, "pay").NodeID)
	other := byTag(res.Root, "button")[0]
	assert.NotEqual(t, payID, other.NodeID)
}

func TestIdentityFingerprintFallback(t *testing.T) {
	p := domtest.New(`<div><a href="/cart">Cart</a></div>`)
	first := snapshot(t, p, nil, nil)
	cart := byTag(first.Root(), "a")[0].NodeID

	// 包一层后路径和位置都变了，内容指纹不变
	p.SetHTML(`<div><span><a href="/cart">Cart</a></span></div>`)
	res := buildResult(t, p, first, nil)
	link := byTag(res.Root, "a")[0]
	assert.Equal(t, cart, link.NodeID)
	assert.Equal(t, dom.StrategyFingerprint, res.Strategies[link.NodeID])
}

func TestIDsUniqueWithinBuild(t *testing.T) {
	p := domtest.New(`<div id="a">1</div><div id="a">2</div><div id="a">3</div>`)
	first := snapshot(t, p, nil, nil)

	p.SetHTML(`<div id="a">1</div><div id="a">2</div><div id="a">3</div>`)
	res := buildResult(t, p, first, nil)

	seen := map[string]bool{}
	res.Root.Walk(func(n *models.VirtualNode) bool {
		assert.False(t, seen[n.NodeID], "duplicate id %s", n.NodeID)
		seen[n.NodeID] = true
		return true
	})
}

func TestIDGeneratorCollisionRetry(t *testing.T) {
	ids := []string{"dup", "dup", "dup", "x1", "x2", "x3", "x4", "x5"}
	i := 0
	gen := func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
	p := domtest.New(`<p>a</p><p>b</p>`)
	doc, err := p.Capture(context.Background())
	require.NoError(t, err)
	res, err := dom.NewTreeBuilder(nil).WithIDGenerator(gen).BuildTree(context.Background(), doc, nil)
	require.NoError(t, err)

	var got []string
	res.Root.Walk(func(n *models.VirtualNode) bool {
		got = append(got, n.NodeID)
		return true
	})
	assert.Equal(t, []string{"dup", "x1", "x2"}, got)
}

func TestBuildTreeSkipsHostileSubtree(t *testing.T) {
	p := domtest.New(`<button id="ok">OK</button><div id="bad" data-hostile><button id="lost">x</button></div><a id="after" href="/">After</a>`)
	res := buildResult(t, p, nil, nil)

	assert.NotNil(t, byHTMLID(res.Root, "ok"))
	assert.NotNil(t, byHTMLID(res.Root, "after"))
	assert.Nil(t, byHTMLID(res.Root, "bad"))
	assert.Nil(t, byHTMLID(res.Root, "lost"))
	assert.Equal(t, 1, res.Stats.SkippedSubtrees)
	assert.Equal(t, 2, res.Stats.Interactive)
	assert.Len(t, res.Mapping, res.Root.Count())
}

func TestBuildTreeMaxDepth(t *testing.T) {
	p := domtest.New(`<div id="d1"><div id="d2"><div id="d3"><div id="d4"><button id="deep">x</button></div></div></div></div>`)
	res := buildResult(t, p, nil, &dom.Config{MaxDepth: 3})

	assert.NotNil(t, byHTMLID(res.Root, "d3"))
	assert.Nil(t, byHTMLID(res.Root, "d4"))
	assert.Nil(t, byHTMLID(res.Root, "deep"))
	assert.Equal(t, 1, res.Stats.SkippedSubtrees)
}

func TestBuildTreeInteractiveCap(t *testing.T) {
	var markup string
	for i := 0; i < 5; i++ {
		markup += fmt.Sprintf(`<button id="b%d">%d</button>`, i, i)
	}
	p := domtest.New(markup)
	res := buildResult(t, p, nil, &dom.Config{MaxInteractiveElements: 2})

	assert.True(t, res.Stats.Truncated)
	assert.Len(t, byTag(res.Root, "button"), 2)
	assert.Equal(t, 2, res.Stats.Interactive)
}

func TestBuildTreeDenyList(t *testing.T) {
	p := domtest.New(`<div id="` + dom.OverlayHostID + `"><button>cursor</button></div>
		<div data-domagent-ignore><button>ignored</button></div>
		<button id="real">Real</button>`)
	res := buildResult(t, p, nil, nil)

	assert.Len(t, byTag(res.Root, "button"), 1)
	assert.NotNil(t, byHTMLID(res.Root, "real"))
	assert.Nil(t, byHTMLID(res.Root, dom.OverlayHostID))
}

func TestBuildTreeIframes(t *testing.T) {
	p := domtest.New(`<iframe id="frame" data-src="https://example.test/embed" srcdoc="<title>Embed</title><button id='inner'>Pay</button>"></iframe>
		<iframe id="foreign" data-cross-origin srcdoc="<button id='nope'>x</button>"></iframe>`)
	snap := snapshot(t, p, nil, nil)
	root := snap.Root()

	frame := byHTMLID(root, "frame")
	require.NotNil(t, frame)
	require.NotNil(t, frame.Iframe)
	assert.Equal(t, "body", frame.Iframe.Tag)
	assert.Equal(t, "https://example.test/embed", frame.Iframe.Metadata.DocumentURL)
	assert.Equal(t, "Embed", frame.Iframe.Metadata.DocumentTitle)
	assert.Equal(t, frame.TreePath()+"/#document/body[0]", frame.Iframe.TreePath())

	inner := byHTMLID(root, "inner")
	require.NotNil(t, inner)
	h, ok := snap.HandleFor(inner.NodeID)
	require.True(t, ok)
	assert.Equal(t, p.HandleByID("inner"), h)

	foreign := byHTMLID(root, "foreign")
	require.NotNil(t, foreign)
	assert.Nil(t, foreign.Iframe)
	assert.Nil(t, byHTMLID(root, "nope"))
	assert.Equal(t, 1, snap.Stats().Iframes)
}

func TestBuildTreeIframeDepthLimit(t *testing.T) {
	p := domtest.New(`<iframe id="frame" srcdoc="<button id='inner'>Pay</button>"></iframe>`)
	res := buildResult(t, p, nil, &dom.Config{MaxDepth: 100, IncludeIframes: false})
	assert.Nil(t, byHTMLID(res.Root, "frame").Iframe)
}

func TestBuildTreeShadowRoots(t *testing.T) {
	p := domtest.New(`<div id="host"><template shadowrootmode="open"><button id="sb">Shadow</button></template><span>light</span></div>
		<div id="closed"><template shadowrootmode="closed"><button id="hidden">x</button></template></div>`)
	res := buildResult(t, p, nil, nil)

	host := byHTMLID(res.Root, "host")
	require.NotNil(t, host)
	require.NotNil(t, host.ShadowDom)
	assert.Equal(t, models.ShadowRootTag, host.ShadowDom.Tag)
	assert.Equal(t, host.TreePath()+"/#shadow-root", host.ShadowDom.TreePath())
	require.Len(t, host.ShadowDom.Children, 1)
	assert.Equal(t, "sb", host.ShadowDom.Children[0].HTMLID())
	assert.Equal(t, "span", host.Children[0].Tag)

	assert.Nil(t, byHTMLID(res.Root, "closed").ShadowDom)
	assert.Nil(t, byHTMLID(res.Root, "hidden"))
	assert.Equal(t, 1, res.Stats.ShadowRoots)
}

func TestShadowIdentityStable(t *testing.T) {
	markup := `<div id="host"><template shadowrootmode="open"><button>Shadow</button></template></div>`
	p := domtest.New(markup)
	first := snapshot(t, p, nil, nil)

	p.SetHTML(markup)
	second := snapshot(t, p, first, nil)
	assert.Equal(t,
		byHTMLID(first.Root(), "host").ShadowDom.NodeID,
		byHTMLID(second.Root(), "host").ShadowDom.NodeID)
	assert.Equal(t,
		byHTMLID(first.Root(), "host").ShadowDom.Children[0].NodeID,
		byHTMLID(second.Root(), "host").ShadowDom.Children[0].NodeID)
}
