package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/browserwing/domagent/actions"
	"github.com/browserwing/domagent/executor"
	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/browserwing/domagent/storage"
)

// Browser MCP 工具需要的浏览器能力
type Browser interface {
	IsRunning() bool
	Start(ctx context.Context) error
	OpenPage(ctx context.Context, url string) (*executor.DomTool, error)
	Tool() (*executor.DomTool, error)
}

// MCPServer 把 DomTool 的操作暴露为 MCP 工具
type MCPServer struct {
	storage *storage.BoltDB
	browser Browser

	mcpServer            *server.MCPServer
	streamableHTTPServer *server.StreamableHTTPServer
	handlers             map[string]server.ToolHandlerFunc
}

// NewMCPServer 创建 MCP 服务器并注册全部工具
func NewMCPServer(storage *storage.BoltDB, browser Browser, endpointPath string) *MCPServer {
	s := &MCPServer{
		storage:  storage,
		browser:  browser,
		handlers: map[string]server.ToolHandlerFunc{},
	}

	s.mcpServer = server.NewMCPServer(
		"domagent",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools()

	s.streamableHTTPServer = server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath(endpointPath),
		server.WithStateLess(false),
	)
	return s
}

func (s *MCPServer) addTool(tool mcpgo.Tool, handler server.ToolHandlerFunc) {
	s.handlers[tool.Name] = handler
	s.mcpServer.AddTool(tool, handler)
}

func (s *MCPServer) registerTools() {
	s.addTool(mcpgo.NewTool("dom_open",
		mcpgo.WithDescription("Open a URL in the browser (starting it if needed) and take the first DOM snapshot."),
		mcpgo.WithString("url", mcpgo.Required(), mcpgo.Description("Page URL")),
	), s.handleOpen)

	s.addTool(mcpgo.NewTool("dom_snapshot",
		mcpgo.WithDescription("Rebuild the DOM snapshot of the current page and return its summary."),
	), s.handleSnapshot)

	s.addTool(mcpgo.NewTool("dom_get",
		mcpgo.WithDescription("Return the current page as a compact JSON tree. Use node_id values with dom_click, dom_type and dom_keypress."),
		mcpgo.WithBoolean("include_hidden", mcpgo.Description("Keep invisible nodes")),
		mcpgo.WithBoolean("include_bounding_box", mcpgo.Description("Add viewport coordinates to each node")),
		mcpgo.WithNumber("max_text_length", mcpgo.Description("Truncate text longer than this")),
	), s.handleGet)

	s.addTool(mcpgo.NewTool("dom_click",
		mcpgo.WithDescription("Click the element with the given node_id."),
		mcpgo.WithString("node_id", mcpgo.Required(), mcpgo.Description("Node id from dom_get")),
		mcpgo.WithString("button", mcpgo.Enum("left", "middle", "right"), mcpgo.Description("Mouse button, default left")),
		mcpgo.WithBoolean("double_click", mcpgo.Description("Double click")),
	), s.handleClick)

	s.addTool(mcpgo.NewTool("dom_type",
		mcpgo.WithDescription("Type text into an input, textarea or rich text editor."),
		mcpgo.WithString("node_id", mcpgo.Required(), mcpgo.Description("Node id from dom_get")),
		mcpgo.WithString("text", mcpgo.Required(), mcpgo.Description("Text to type")),
		mcpgo.WithBoolean("clear", mcpgo.Description("Clear existing content first")),
		mcpgo.WithString("commit", mcpgo.Enum(actions.CommitChange, actions.CommitEnter), mcpgo.Description("How to commit the value")),
		mcpgo.WithBoolean("blur", mcpgo.Description("Blur the element afterwards")),
		mcpgo.WithNumber("speed_ms", mcpgo.Description("Delay between characters in milliseconds")),
	), s.handleType)

	s.addTool(mcpgo.NewTool("dom_keypress",
		mcpgo.WithDescription("Press a key such as Enter, Escape, Tab or ArrowDown."),
		mcpgo.WithString("key", mcpgo.Required(), mcpgo.Description("Key name")),
		mcpgo.WithString("node_id", mcpgo.Description("Target node id, defaults to the focused element")),
		mcpgo.WithNumber("repeat", mcpgo.Description("Number of presses, default 1")),
	), s.handleKeypress)

	s.addTool(mcpgo.NewTool("dom_history",
		mcpgo.WithDescription("List recent actions, newest first."),
		mcpgo.WithNumber("limit", mcpgo.Description("Maximum number of records, default 20")),
	), s.handleHistory)
}

// CallTool 直接调用工具
func (s *MCPServer) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcpgo.CallToolResult, error) {
	handler, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	return handler(ctx, req)
}

// ServeHTTP streamable HTTP 入口
func (s *MCPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger.Debug(r.Context(), "MCP request: Method=%s, Path=%s, RemoteAddr=%s", r.Method, r.URL.Path, r.RemoteAddr)
	s.streamableHTTPServer.ServeHTTP(w, r)
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(data)), nil
}

// tool 当前页面的 DomTool；工具错误作为结果返回给模型，而不是协议错误
func (s *MCPServer) tool() (*executor.DomTool, *mcpgo.CallToolResult) {
	tool, err := s.browser.Tool()
	if err != nil {
		return nil, mcpgo.NewToolResultError("No page is open, call dom_open first")
	}
	return tool, nil
}

func (s *MCPServer) handleOpen(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	if !s.browser.IsRunning() {
		logger.Info(ctx, "Browser not running, starting...")
		if err := s.browser.Start(ctx); err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("Failed to start browser: %v", err)), nil
		}
	}

	tool, err := s.browser.OpenPage(ctx, url)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("Failed to open page: %v", err)), nil
	}
	if snap := tool.Current(); snap != nil {
		return jsonResult(snap.Info(models.TriggerManual))
	}
	return mcpgo.NewToolResultText("Page opened: " + url), nil
}

func (s *MCPServer) handleSnapshot(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	tool, errRes := s.tool()
	if errRes != nil {
		return errRes, nil
	}
	snap, err := tool.BuildSnapshot(ctx, models.TriggerManual)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("Failed to build snapshot: %v", err)), nil
	}
	return jsonResult(snap.Info(models.TriggerManual))
}

func (s *MCPServer) handleGet(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	tool, errRes := s.tool()
	if errRes != nil {
		return errRes, nil
	}
	opts := tool.DefaultSerializeOptions()
	opts.IncludeHidden = request.GetBool("include_hidden", opts.IncludeHidden)
	opts.IncludeBoundingBox = request.GetBool("include_bounding_box", opts.IncludeBoundingBox)
	opts.MaxTextLength = request.GetInt("max_text_length", opts.MaxTextLength)

	out, err := tool.GetSerializedDom(ctx, &opts)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("Failed to serialize page: %v", err)), nil
	}
	return jsonResult(out)
}

func (s *MCPServer) handleClick(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	nodeID, err := request.RequireString("node_id")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	tool, errRes := s.tool()
	if errRes != nil {
		return errRes, nil
	}

	opts := actions.DefaultClickOptions()
	opts.Button = request.GetString("button", opts.Button)
	opts.DoubleClick = request.GetBool("double_click", false)

	res, err := tool.Click(ctx, nodeID, opts)
	return s.actionResult(ctx, tool, request, res, err)
}

func (s *MCPServer) handleType(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	nodeID, err := request.RequireString("node_id")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	text, err := request.RequireString("text")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	tool, errRes := s.tool()
	if errRes != nil {
		return errRes, nil
	}

	opts := actions.TypeOptions{
		Speed:  time.Duration(request.GetInt("speed_ms", 0)) * time.Millisecond,
		Clear:  request.GetBool("clear", false),
		Commit: request.GetString("commit", ""),
		Blur:   request.GetBool("blur", false),
	}
	res, err := tool.Type(ctx, nodeID, text, opts)
	return s.actionResult(ctx, tool, request, res, err)
}

func (s *MCPServer) handleKeypress(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	tool, errRes := s.tool()
	if errRes != nil {
		return errRes, nil
	}

	opts := executor.KeypressOptions{
		NodeID:          request.GetString("node_id", ""),
		KeypressOptions: actions.KeypressOptions{Repeat: request.GetInt("repeat", 1)},
	}
	res, err := tool.Keypress(ctx, key, opts)
	return s.actionResult(ctx, tool, request, res, err)
}

// actionResult 记录动作历史；查找失败作为工具错误返回，执行失败仍返回结果本身
func (s *MCPServer) actionResult(ctx context.Context, tool *executor.DomTool, request mcpgo.CallToolRequest, res *models.ActionResult, err error) (*mcpgo.CallToolResult, error) {
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("%s failed: %v", request.Params.Name, err)), nil
	}
	if s.storage != nil {
		record := &models.ActionRecord{
			PageURL: tool.PageURL(),
			Source:  "mcp",
			Params:  request.GetArguments(),
			Result:  res,
		}
		if err := s.storage.SaveActionRecord(record); err != nil {
			logger.Warn(ctx, "Failed to save action record: %v", err)
		}
	}
	return jsonResult(res)
}

func (s *MCPServer) handleHistory(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.storage == nil {
		return mcpgo.NewToolResultError("Action history is not available"), nil
	}
	records, err := s.storage.ListActionRecords(request.GetInt("limit", 20))
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("Failed to list actions: %v", err)), nil
	}
	if records == nil {
		records = []*models.ActionRecord{}
	}
	return jsonResult(records)
}
