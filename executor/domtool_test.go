package executor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/browserwing/domagent/actions"
	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/dom/domtest"
	"github.com/browserwing/domagent/executor"
	"github.com/browserwing/domagent/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() dom.Config {
	cfg := dom.DefaultConfig()
	cfg.ActionSettle = time.Millisecond
	cfg.MutationDebounce = 20 * time.Millisecond
	return cfg
}

func newTool(t *testing.T, p *domtest.Page, cfg dom.Config, opts ...executor.Option) *executor.DomTool {
	t.Helper()
	opts = append([]executor.Option{executor.WithScrollSettle(0)}, opts...)
	tool := executor.NewDomTool(p, cfg, opts...)
	t.Cleanup(func() {
		require.NoError(t, tool.Destroy(context.Background()))
	})
	return tool
}

func nodeByHTMLID(t *testing.T, snap *dom.DomSnapshot, id string) *models.VirtualNode {
	t.Helper()
	var found *models.VirtualNode
	snap.Root().Walk(func(n *models.VirtualNode) bool {
		if found == nil && n.HTMLID() == id {
			found = n
		}
		return found == nil
	})
	require.NotNil(t, found, "node #%s", id)
	return found
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []executor.Notification
	panics bool
}

func (r *recordingNotifier) Notify(ctx context.Context, n executor.Notification) error {
	r.mu.Lock()
	r.events = append(r.events, n)
	r.mu.Unlock()
	if r.panics {
		panic("overlay exploded")
	}
	return errors.New("overlay unavailable")
}

func (r *recordingNotifier) types() []executor.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]executor.NotificationType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestGetSnapshotReusesFreshSnapshot(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<button id="a">A</button>`, domtest.WithURL("https://shop.test/"))
	tool := newTool(t, p, testConfig())

	first, err := tool.BuildSnapshot(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/", first.Context().URL)
	require.NotNil(t, first.Context().Viewport)

	again, err := tool.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, p.Captures())
}

func TestGetSnapshotRebuildsWhenInvalid(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<button id="a">A</button><button id="b">B</button>`)
	tool := newTool(t, p, testConfig())

	first, err := tool.BuildSnapshot(ctx, models.TriggerManual)
	require.NoError(t, err)
	p.Detach(p.HandleByID("b"))

	second, err := tool.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, nodeByHTMLID(t, first, "a").NodeID, nodeByHTMLID(t, second, "a").NodeID)
}

func TestGetSnapshotRebuildsWhenExpired(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<button id="a">A</button>`)
	cfg := testConfig()
	cfg.SnapshotMaxAge = 10 * time.Millisecond
	tool := newTool(t, p, cfg)

	first, err := tool.BuildSnapshot(ctx, models.TriggerManual)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	second, err := tool.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestConcurrentBuildsCollapse(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<button id="a">A</button>`, domtest.WithCaptureDelay(50*time.Millisecond))
	tool := newTool(t, p, testConfig())

	const callers = 5
	results := make([]*dom.DomSnapshot, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := tool.BuildSnapshot(ctx, models.TriggerManual)
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	for _, snap := range results[1:] {
		assert.Same(t, results[0], snap)
	}
	assert.Equal(t, 1, p.Captures())
}

func TestBuildSnapshotWaiterCanGiveUp(t *testing.T) {
	p := domtest.New(`<button id="a">A</button>`, domtest.WithCaptureDelay(100*time.Millisecond))
	tool := newTool(t, p, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := tool.BuildSnapshot(ctx, models.TriggerManual)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 重建本身没有被取消
	snap, err := tool.BuildSnapshot(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestIdentitySurvivesSwap(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<section><div id="a">X</div><div id="b">Y</div></section>`)
	seq := 0
	gen := func() string {
		seq++
		return fmt.Sprintf("n%d", seq)
	}
	tool := newTool(t, p, testConfig(), executor.WithIDGenerator(gen))

	first, err := tool.BuildSnapshot(ctx, models.TriggerManual)
	require.NoError(t, err)
	a := nodeByHTMLID(t, first, "a").NodeID
	b := nodeByHTMLID(t, first, "b").NodeID

	p.SetHTML(`<section><div id="b">Y</div><div id="a">X</div></section>`)
	second, err := tool.BuildSnapshot(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, a, nodeByHTMLID(t, second, "a").NodeID)
	assert.Equal(t, b, nodeByHTMLID(t, second, "b").NodeID)
}

func TestGetSerializedDom(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<title>Login</title><form><div><input id="user" placeholder="User name"></div></form>`,
		domtest.WithURL("https://login.test/"))
	tool := newTool(t, p, testConfig())

	out, err := tool.GetSerializedDom(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://login.test/", out.Page.Context.URL)
	assert.Equal(t, "Login", out.Page.Context.Title)
	require.NotNil(t, out.Stats)
	assert.Positive(t, out.Stats.EstimatedTokens)

	opts := tool.DefaultSerializeOptions()
	opts.IncludeStats = false
	out, err = tool.GetSerializedDom(ctx, &opts)
	require.NoError(t, err)
	assert.Nil(t, out.Stats)
}

func TestClickResolvesAndRebuilds(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<button id="more" data-mutate>More</button>`)
	tool := newTool(t, p, testConfig())

	snap, err := tool.BuildSnapshot(ctx, models.TriggerManual)
	require.NoError(t, err)
	id := nodeByHTMLID(t, snap, "more").NodeID

	res, err := tool.Click(ctx, id, actions.DefaultClickOptions())
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, id, res.NodeID)
	assert.Equal(t, 1, res.Changes.DomMutations)
	assert.Equal(t, 3, len(p.EventTypes(p.HandleByID("more"))))

	assert.Eventually(t, func() bool {
		cur, err := tool.GetSnapshot(ctx)
		return err == nil && cur != snap
	}, time.Second, 5*time.Millisecond)
}

func TestActionsFailFastOnLookupErrors(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<input id="q"><button id="b">B</button>`)
	tool := newTool(t, p, testConfig())

	snap, err := tool.BuildSnapshot(ctx, models.TriggerManual)
	require.NoError(t, err)

	_, err = tool.Click(ctx, "missing1", actions.DefaultClickOptions())
	assert.ErrorIs(t, err, dom.ErrNodeNotFound)

	q := nodeByHTMLID(t, snap, "q").NodeID
	b := nodeByHTMLID(t, snap, "b").NodeID
	p.Detach(p.HandleByID("b"))
	_, err = tool.Click(ctx, b, actions.DefaultClickOptions())
	assert.ErrorIs(t, err, dom.ErrElementDetached)

	p.Detach(p.HandleByID("q"))
	p.Collect()
	_, err = tool.Type(ctx, q, "x", actions.TypeOptions{})
	assert.ErrorIs(t, err, dom.ErrElementCollected)

	_, err = tool.Keypress(ctx, "Enter", executor.KeypressOptions{NodeID: q})
	assert.ErrorIs(t, err, dom.ErrElementCollected)

	assert.Empty(t, p.Events())
}

func TestTypeAndKeypress(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<input id="q"><button id="b">B</button>`)
	tool := newTool(t, p, testConfig())
	require.NoError(t, tool.Init(ctx))

	snap, err := tool.GetSnapshot(ctx)
	require.NoError(t, err)
	q := nodeByHTMLID(t, snap, "q").NodeID

	res, err := tool.Type(ctx, q, "shoes", actions.TypeOptions{Commit: actions.CommitEnter})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "shoes", p.ValueOf(p.HandleByID("q")))

	res, err = tool.Keypress(ctx, "Tab", executor.KeypressOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, models.ActionKeypress, res.Action)
	// 输入一次、Enter 提交一次、Tab 一次
	assert.Equal(t, 3, p.CountEvents(p.HandleByID("q"), "keydown"))

	res, err = tool.Type(ctx, nodeByHTMLID(t, snap, "b").NodeID, "x", actions.TypeOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestAutoInvalidation(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<button id="menu" aria-expanded="false">Menu</button>`)
	tool := newTool(t, p, testConfig())
	require.NoError(t, tool.Init(ctx))
	require.Equal(t, 1, p.Captures())

	h := p.HandleByID("menu")
	p.SetAttr(h, "style", "color: red")
	p.SetAttr(h, "class", "open")
	p.SetText(h, "Menu!")
	assert.Never(t, func() bool { return p.Captures() > 1 }, 80*time.Millisecond, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		p.SetAttr(h, "aria-expanded", "true")
	}
	assert.Eventually(t, func() bool { return p.Captures() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return p.Captures() > 2 }, 80*time.Millisecond, 5*time.Millisecond)
}

func TestAutoInvalidationDisabled(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<button id="menu">Menu</button>`)
	cfg := testConfig()
	cfg.AutoInvalidate = false
	tool := newTool(t, p, cfg)
	require.NoError(t, tool.Init(ctx))

	p.SetAttr(p.HandleByID("menu"), "aria-expanded", "true")
	assert.Never(t, func() bool { return p.Captures() > 1 }, 80*time.Millisecond, 5*time.Millisecond)
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<button id="a">A</button>`)
	tool := newTool(t, p, testConfig())
	require.NoError(t, tool.Init(ctx))

	snap, err := tool.GetSnapshot(ctx)
	require.NoError(t, err)
	id := nodeByHTMLID(t, snap, "a").NodeID

	// 销毁前排队的去抖计时器不会再触发
	p.SetAttr(p.HandleByID("a"), "disabled", "")
	require.NoError(t, tool.Destroy(ctx))
	require.NoError(t, tool.Destroy(ctx))

	_, err = tool.GetSnapshot(ctx)
	assert.ErrorIs(t, err, executor.ErrDestroyed)
	_, err = tool.BuildSnapshot(ctx, models.TriggerManual)
	assert.ErrorIs(t, err, executor.ErrDestroyed)
	_, err = tool.GetSerializedDom(ctx, nil)
	assert.ErrorIs(t, err, executor.ErrDestroyed)
	_, err = tool.Click(ctx, id, actions.DefaultClickOptions())
	assert.ErrorIs(t, err, executor.ErrDestroyed)
	_, err = tool.Keypress(ctx, "Enter", executor.KeypressOptions{})
	assert.ErrorIs(t, err, executor.ErrDestroyed)
	assert.ErrorIs(t, tool.Init(ctx), executor.ErrDestroyed)

	assert.Never(t, func() bool { return p.Captures() > 1 }, 60*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, p.Events())
}

func TestNotifierIsFireAndForget(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<button id="a" data-rect="10,10,50,20">A</button>`)
	n := &recordingNotifier{}
	tool := executor.NewDomTool(p, testConfig(), executor.WithNotifier(n), executor.WithScrollSettle(0))
	require.NoError(t, tool.Init(ctx))

	snap, err := tool.GetSerializedDom(ctx, nil)
	require.NoError(t, err)
	id := snap.Page.Body.Children[0].ID

	res, err := tool.Click(ctx, id, actions.DefaultClickOptions())
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NoError(t, tool.Destroy(ctx))

	types := n.types()
	assert.ElementsMatch(t, []executor.NotificationType{
		executor.NotifyAgentStart, executor.NotifySerialize, executor.NotifyAction, executor.NotifyAgentStop,
	}, types)

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ev := range n.events {
		if ev.Type == executor.NotifyAction {
			assert.Equal(t, models.ActionClick, ev.Action)
			assert.Equal(t, id, ev.NodeID)
			require.NotNil(t, ev.BoundingBox)
			assert.Equal(t, 50.0, ev.BoundingBox.Width)
		}
	}
}

func TestPanickingNotifierDoesNotBreakActions(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<input id="q">`)
	n := &recordingNotifier{panics: true}
	tool := newTool(t, p, testConfig(), executor.WithNotifier(n))
	require.NoError(t, tool.Init(ctx))

	snap, err := tool.GetSnapshot(ctx)
	require.NoError(t, err)
	res, err := tool.Type(ctx, nodeByHTMLID(t, snap, "q").NodeID, "ok", actions.TypeOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "ok", p.ValueOf(p.HandleByID("q")))
}

func TestIsNotOccluded(t *testing.T) {
	ctx := context.Background()
	p := domtest.New(`<button id="b" data-rect="200,200,100,40">Go</button><div id="cover" data-rect="150,150,300,300"></div>
		<a id="free" href="/" data-rect="600,10,50,20">Free</a>`)
	tool := newTool(t, p, testConfig())

	snap, err := tool.BuildSnapshot(ctx, models.TriggerManual)
	require.NoError(t, err)

	ok, err := tool.IsNotOccluded(ctx, nodeByHTMLID(t, snap, "b").NodeID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tool.IsNotOccluded(ctx, nodeByHTMLID(t, snap, "free").NodeID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = tool.IsNotOccluded(ctx, "missing")
	assert.ErrorIs(t, err, dom.ErrNodeNotFound)
}

func TestNoPage(t *testing.T) {
	tool := executor.NewDomTool(nil, testConfig())
	assert.ErrorIs(t, tool.Init(context.Background()), executor.ErrNoPage)
	_, err := tool.BuildSnapshot(context.Background(), models.TriggerManual)
	assert.ErrorIs(t, err, executor.ErrNoPage)
	require.NoError(t, tool.Destroy(context.Background()))
}
