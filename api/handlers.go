package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/browserwing/domagent/actions"
	"github.com/browserwing/domagent/config"
	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/executor"
	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/browserwing/domagent/storage"
	"github.com/gin-gonic/gin"
)

// BrowserService 浏览器与当前页面的 DomTool
type BrowserService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Status() map[string]interface{}
	OpenPage(ctx context.Context, url string) (*executor.DomTool, error)
	SaveCookies(ctx context.Context) (int, error)
	Tool() (*executor.DomTool, error)
}

type Handler struct {
	db      *storage.BoltDB
	browser BrowserService
	config  *config.Config
}

func NewHandler(db *storage.BoltDB, browser BrowserService, cfg *config.Config) *Handler {
	return &Handler{
		db:      db,
		browser: browser,
		config:  cfg,
	}
}

// ============= 认证 =============

type tokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// IssueToken 用 API Key 换取 JWT
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams", "detail": err.Error()})
		return
	}
	if !h.config.Auth.Enabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.authDisabled"})
		return
	}
	if !validAPIKey(h.config.Auth, req.APIKey) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "error.invalidApiKey"})
		return
	}
	token, err := GenerateJWT(keyFingerprint(req.APIKey), h.config)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to sign token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.tokenFailed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int(tokenTTL.Seconds())})
}

// ============= 浏览器控制相关 API =============

// StartBrowser 启动浏览器
func (h *Handler) StartBrowser(c *gin.Context) {
	if h.browser.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.browserAlreadyRunning"})
		return
	}

	if err := h.browser.Start(c.Request.Context()); err != nil {
		logger.Error(c.Request.Context(), "Failed to start browser: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.startBrowserFailed", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "success.browserStarted",
		"status":  h.browser.Status(),
	})
}

// StopBrowser 停止浏览器
func (h *Handler) StopBrowser(c *gin.Context) {
	if !h.browser.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.browserNotRunning"})
		return
	}

	if err := h.browser.Stop(c.Request.Context()); err != nil {
		logger.Error(c.Request.Context(), "Failed to stop browser: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.stopBrowserFailed", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "success.browserStopped"})
}

// BrowserStatus 获取浏览器状态
func (h *Handler) BrowserStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.browser.Status())
}

type openPageRequest struct {
	URL string `json:"url" binding:"required"`
}

// OpenBrowserPage 打开页面并绑定新的 DomTool
func (h *Handler) OpenBrowserPage(c *gin.Context) {
	var req openPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams", "detail": err.Error()})
		return
	}
	if !h.browser.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.browserNotRunning"})
		return
	}

	tool, err := h.browser.OpenPage(c.Request.Context(), req.URL)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to open page %s: %v", req.URL, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.openPageFailed", "detail": err.Error()})
		return
	}

	resp := gin.H{"message": "success.pageOpened"}
	if snap := tool.Current(); snap != nil {
		resp["snapshot"] = snap.Info(models.TriggerManual)
	}
	c.JSON(http.StatusOK, resp)
}

// SaveBrowserCookies 保存当前 Cookie，下次启动时恢复
func (h *Handler) SaveBrowserCookies(c *gin.Context) {
	n, err := h.browser.SaveCookies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.saveCookiesFailed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "success.cookiesSaved", "count": n})
}

// ============= DOM 相关 API =============

// tool 当前页面的 DomTool，没有页面时直接写入错误响应
func (h *Handler) tool(c *gin.Context) (*executor.DomTool, bool) {
	tool, err := h.browser.Tool()
	if err != nil {
		writeToolError(c, err)
		return nil, false
	}
	return tool, true
}

// BuildSnapshot 立即重建快照
func (h *Handler) BuildSnapshot(c *gin.Context) {
	tool, ok := h.tool(c)
	if !ok {
		return
	}
	snap, err := tool.BuildSnapshot(c.Request.Context(), models.TriggerManual)
	if err != nil {
		writeToolError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.Info(models.TriggerManual))
}

// serializeQuery 查询参数覆盖默认序列化选项
type serializeQuery struct {
	MaxTextLength      *int  `form:"max_text_length"`
	MaxLabelLength     *int  `form:"max_label_length"`
	OmitDefaults       *bool `form:"omit_defaults"`
	IncludeHidden      *bool `form:"include_hidden"`
	IncludeBoundingBox *bool `form:"include_bounding_box"`
	IncludeStats       *bool `form:"include_stats"`
}

// GetDom 序列化当前页面
func (h *Handler) GetDom(c *gin.Context) {
	var q serializeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams", "detail": err.Error()})
		return
	}
	tool, ok := h.tool(c)
	if !ok {
		return
	}

	opts := tool.DefaultSerializeOptions()
	if q.MaxTextLength != nil {
		opts.MaxTextLength = *q.MaxTextLength
	}
	if q.MaxLabelLength != nil {
		opts.MaxLabelLength = *q.MaxLabelLength
	}
	if q.OmitDefaults != nil {
		opts.OmitDefaults = *q.OmitDefaults
	}
	if q.IncludeHidden != nil {
		opts.IncludeHidden = *q.IncludeHidden
	}
	if q.IncludeBoundingBox != nil {
		opts.IncludeBoundingBox = *q.IncludeBoundingBox
	}
	if q.IncludeStats != nil {
		opts.IncludeStats = *q.IncludeStats
	}

	out, err := tool.GetSerializedDom(c.Request.Context(), &opts)
	if err != nil {
		writeToolError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CheckOcclusion 检查节点是否被遮挡
func (h *Handler) CheckOcclusion(c *gin.Context) {
	nodeID := c.Query("node_id")
	if nodeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams", "detail": "node_id is required"})
		return
	}
	tool, ok := h.tool(c)
	if !ok {
		return
	}
	visible, err := tool.IsNotOccluded(c.Request.Context(), nodeID)
	if err != nil {
		writeToolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node_id": nodeID, "not_occluded": visible})
}

type clickRequest struct {
	NodeID         string            `json:"node_id" binding:"required"`
	Button         string            `json:"button"`
	DoubleClick    bool              `json:"double_click"`
	Modifiers      actions.Modifiers `json:"modifiers"`
	ScrollIntoView *bool             `json:"scroll_into_view"`
	Smooth         bool              `json:"smooth"`
}

func (r clickRequest) options() actions.ClickOptions {
	opts := actions.DefaultClickOptions()
	if r.Button != "" {
		opts.Button = r.Button
	}
	opts.DoubleClick = r.DoubleClick
	opts.Modifiers = r.Modifiers
	if r.ScrollIntoView != nil {
		opts.ScrollIntoView = *r.ScrollIntoView
	}
	opts.Smooth = r.Smooth
	return opts
}

// Click 点击节点
func (h *Handler) Click(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams", "detail": err.Error()})
		return
	}
	tool, ok := h.tool(c)
	if !ok {
		return
	}
	res, err := tool.Click(c.Request.Context(), req.NodeID, req.options())
	h.respondAction(c, tool, req, res, err)
}

type typeRequest struct {
	NodeID  string `json:"node_id" binding:"required"`
	Text    string `json:"text"`
	SpeedMs int    `json:"speed_ms"`
	Clear   bool   `json:"clear"`
	Commit  string `json:"commit"`
	Blur    bool   `json:"blur"`
}

func (r typeRequest) options() actions.TypeOptions {
	return actions.TypeOptions{
		Speed:  time.Duration(r.SpeedMs) * time.Millisecond,
		Clear:  r.Clear,
		Commit: r.Commit,
		Blur:   r.Blur,
	}
}

// Type 向节点输入文本
func (h *Handler) Type(c *gin.Context) {
	var req typeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams", "detail": err.Error()})
		return
	}
	tool, ok := h.tool(c)
	if !ok {
		return
	}
	res, err := tool.Type(c.Request.Context(), req.NodeID, req.Text, req.options())
	h.respondAction(c, tool, req, res, err)
}

type keypressRequest struct {
	Key           string            `json:"key" binding:"required"`
	NodeID        string            `json:"node_id"`
	Repeat        int               `json:"repeat"`
	RepeatDelayMs int               `json:"repeat_delay_ms"`
	Modifiers     actions.Modifiers `json:"modifiers"`
}

func (r keypressRequest) options() executor.KeypressOptions {
	return executor.KeypressOptions{
		NodeID: r.NodeID,
		KeypressOptions: actions.KeypressOptions{
			Repeat:      r.Repeat,
			RepeatDelay: time.Duration(r.RepeatDelayMs) * time.Millisecond,
			Modifiers:   r.Modifiers,
		},
	}
}

// Keypress 按键，未指定 node_id 时作用于焦点元素
func (h *Handler) Keypress(c *gin.Context) {
	var req keypressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams", "detail": err.Error()})
		return
	}
	tool, ok := h.tool(c)
	if !ok {
		return
	}
	res, err := tool.Keypress(c.Request.Context(), req.Key, req.options())
	h.respondAction(c, tool, req, res, err)
}

// respondAction 记录动作历史并返回结果；执行失败仍返回 200，由 success 字段区分
func (h *Handler) respondAction(c *gin.Context, tool *executor.DomTool, params any, res *models.ActionResult, err error) {
	if err != nil {
		writeToolError(c, err)
		return
	}
	if h.db != nil {
		record := &models.ActionRecord{
			PageURL: tool.PageURL(),
			Source:  "http",
			Params:  params,
			Result:  res,
		}
		if err := h.db.SaveActionRecord(record); err != nil {
			logger.Warn(c.Request.Context(), "Failed to save action record: %v", err)
		}
	}
	c.JSON(http.StatusOK, res)
}

// ============= 动作历史 =============

// ListActions 最近的动作记录，最新的在前
func (h *Handler) ListActions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams", "detail": "limit must be an integer"})
			return
		}
		limit = v
	}
	records, err := h.db.ListActionRecords(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.listActionsFailed", "detail": err.Error()})
		return
	}
	if records == nil {
		records = []*models.ActionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"actions": records, "total": len(records)})
}

// GetAction 单条动作记录
func (h *Handler) GetAction(c *gin.Context) {
	record, err := h.db.GetActionRecord(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "error.actionNotFound"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.getActionFailed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

// ClearActions 清空动作历史
func (h *Handler) ClearActions(c *gin.Context) {
	if err := h.db.ClearActionRecords(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.clearActionsFailed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "success.actionsCleared"})
}

// writeToolError 把 DomTool 的错误映射为 HTTP 状态码
func writeToolError(c *gin.Context, err error) {
	status, key := http.StatusInternalServerError, "error.internal"
	switch {
	case errors.Is(err, executor.ErrNoPage):
		status, key = http.StatusConflict, "error.noPage"
	case errors.Is(err, executor.ErrDestroyed):
		status, key = http.StatusConflict, "error.pageClosed"
	case errors.Is(err, dom.ErrNodeNotFound):
		status, key = http.StatusNotFound, "error.nodeNotFound"
	case errors.Is(err, dom.ErrElementCollected), errors.Is(err, dom.ErrElementDetached):
		status, key = http.StatusGone, "error.elementGone"
	case errors.Is(err, executor.ErrNoHitTest):
		status, key = http.StatusNotImplemented, "error.hitTestUnsupported"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, key = http.StatusGatewayTimeout, "error.timeout"
	}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "DOM tool request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": key, "detail": err.Error()})
}
