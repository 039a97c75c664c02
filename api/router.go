package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter 注册 HTTP 路由；mcpHandler 非空时挂载在 mcpPath
func SetupRouter(handler *Handler, mcpHandler http.Handler, mcpPath string, isDebug bool) *gin.Engine {
	var r *gin.Engine
	if isDebug {
		gin.SetMode(gin.DebugMode)
		r = gin.Default()
	} else {
		gin.SetMode(gin.ReleaseMode)
		r = gin.New()
		r.Use(gin.Recovery())
	}

	// TraceID 中间件 - 必须在其他中间件之前
	r.Use(TraceIDMiddleware())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Trace-ID", APIKeyHeader, "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "X-Trace-ID", "Mcp-Session-Id"},
		AllowCredentials: false, // AllowAllOrigins 为 true 时必须设置为 false
	}))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 认证相关API（不需要认证）
	r.POST("/api/v1/auth/token", handler.IssueToken)

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(handler.config))
	{
		browserAPI := api.Group("/browser")
		{
			browserAPI.POST("/start", handler.StartBrowser)
			browserAPI.POST("/stop", handler.StopBrowser)
			browserAPI.GET("/status", handler.BrowserStatus)
			browserAPI.POST("/open", handler.OpenBrowserPage)
			browserAPI.POST("/cookies/save", handler.SaveBrowserCookies)
		}

		domAPI := api.Group("/dom")
		{
			domAPI.GET("", handler.GetDom)
			domAPI.POST("/snapshot", handler.BuildSnapshot)
			domAPI.GET("/occlusion", handler.CheckOcclusion)
			domAPI.POST("/click", handler.Click)
			domAPI.POST("/type", handler.Type)
			domAPI.POST("/keypress", handler.Keypress)
		}

		actionsAPI := api.Group("/actions")
		{
			actionsAPI.GET("", handler.ListActions)
			actionsAPI.GET("/:id", handler.GetAction)
			actionsAPI.DELETE("", handler.ClearActions)
		}
	}

	// MCP streamable HTTP，与 REST 使用同一套认证
	if mcpHandler != nil && mcpPath != "" {
		mcpGroup := r.Group(mcpPath, AuthMiddleware(handler.config))
		mcpGroup.Any("", gin.WrapH(mcpHandler))
	}

	return r
}
