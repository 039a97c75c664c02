package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/dom/domtest"
	"github.com/browserwing/domagent/executor"
	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/storage"
)

type stubBrowser struct {
	mu      sync.Mutex
	running bool
	starts  int
	page    *domtest.Page
	tool    *executor.DomTool
}

func (b *stubBrowser) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *stubBrowser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	b.starts++
	return nil
}

func (b *stubBrowser) OpenPage(ctx context.Context, url string) (*executor.DomTool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tool != nil {
		_ = b.tool.Destroy(ctx)
	}
	cfg := dom.DefaultConfig()
	cfg.ActionSettle = time.Millisecond
	b.page = domtest.New(`<title>Todo</title><input id="task"><button id="add">Add</button>`, domtest.WithURL(url))
	b.tool = executor.NewDomTool(b.page, cfg, executor.WithScrollSettle(0))
	return b.tool, b.tool.Init(ctx)
}

func (b *stubBrowser) Tool() (*executor.DomTool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tool == nil {
		return nil, executor.ErrNoPage
	}
	return b.tool, nil
}

func newTestServer(t *testing.T) (*MCPServer, *stubBrowser) {
	t.Helper()
	db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	b := &stubBrowser{}
	t.Cleanup(func() {
		if b.tool != nil {
			_ = b.tool.Destroy(context.Background())
		}
		_ = db.Close()
	})
	return NewMCPServer(db, b, "/mcp"), b
}

func text(t *testing.T, res *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func call(t *testing.T, s *MCPServer, name string, args map[string]any) *mcpgo.CallToolResult {
	t.Helper()
	res, err := s.CallTool(context.Background(), name, args)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func nodeID(t *testing.T, tool *executor.DomTool, htmlID string) string {
	t.Helper()
	var id string
	tool.Current().Root().Walk(func(n *models.VirtualNode) bool {
		if id == "" && n.HTMLID() == htmlID {
			id = n.NodeID
		}
		return id == ""
	})
	require.NotEmpty(t, id)
	return id
}

func TestToolsRequireOpenPage(t *testing.T) {
	s, _ := newTestServer(t)
	for _, name := range []string{"dom_snapshot", "dom_get"} {
		res := call(t, s, name, nil)
		assert.True(t, res.IsError, name)
		assert.Contains(t, text(t, res), "dom_open")
	}

	_, err := s.CallTool(context.Background(), "dom_unknown", nil)
	assert.Error(t, err)
}

func TestOpenStartsBrowser(t *testing.T) {
	s, b := newTestServer(t)

	res := call(t, s, "dom_open", map[string]any{})
	assert.True(t, res.IsError)

	res = call(t, s, "dom_open", map[string]any{"url": "https://example.test/todo"})
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, 1, b.starts)

	var info models.SnapshotInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &info))
	assert.Equal(t, "https://example.test/todo", info.Context.URL)

	call(t, s, "dom_open", map[string]any{"url": "https://example.test/todo"})
	assert.Equal(t, 1, b.starts)
}

func TestGetAndActions(t *testing.T) {
	s, b := newTestServer(t)
	call(t, s, "dom_open", map[string]any{"url": "https://example.test/todo"})

	res := call(t, s, "dom_get", map[string]any{"include_bounding_box": true})
	require.False(t, res.IsError, text(t, res))
	var out models.SerializedDom
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Equal(t, "Todo", out.Page.Context.Title)

	tool, err := b.Tool()
	require.NoError(t, err)

	res = call(t, s, "dom_type", map[string]any{"node_id": nodeID(t, tool, "task"), "text": "milk"})
	require.False(t, res.IsError, text(t, res))
	var typed models.ActionResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &typed))
	assert.True(t, typed.Success, typed.Error)
	assert.Equal(t, "milk", b.page.ValueOf(b.page.HandleByID("task")))

	res = call(t, s, "dom_click", map[string]any{"node_id": nodeID(t, tool, "add")})
	require.False(t, res.IsError, text(t, res))

	res = call(t, s, "dom_keypress", map[string]any{"key": "Enter", "repeat": 2})
	require.False(t, res.IsError, text(t, res))

	res = call(t, s, "dom_click", map[string]any{"node_id": "ghost"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "not found")

	res = call(t, s, "dom_history", map[string]any{"limit": 10})
	require.False(t, res.IsError)
	var records []*models.ActionRecord
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &records))
	require.Len(t, records, 3)
	assert.Equal(t, models.ActionKeypress, records[0].Result.Action)
	assert.Equal(t, "mcp", records[0].Source)
	assert.Equal(t, models.ActionInput, records[2].Result.Action)
}
