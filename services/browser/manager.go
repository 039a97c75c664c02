package browser

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/browserwing/domagent/config"
	"github.com/browserwing/domagent/executor"
	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/browserwing/domagent/storage"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// cookieStoreID 浏览器级 Cookie 在数据库中的 ID
const cookieStoreID = "browser"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"

// Manager 浏览器管理器，每个打开的页面绑定一个 DomTool
type Manager struct {
	config *config.Config
	db     *storage.BoltDB
	mu     sync.Mutex

	browser    *rod.Browser
	launcher   *launcher.Launcher
	isRunning  bool
	startTime  time.Time
	activePage *RodPage
	tool       *executor.DomTool
}

// NewManager 创建浏览器管理器
func NewManager(cfg *config.Config, db *storage.BoltDB) *Manager {
	return &Manager{
		config: cfg,
		db:     db,
	}
}

// Start 启动浏览器
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("browser is already running")
	}

	logger.Info(ctx, "Starting browser...")

	bc := m.config.Browser
	var url string
	var browser *rod.Browser

	if bc.ControlURL != "" {
		// 使用远程 Chrome
		url = bc.ControlURL
		logger.Info(ctx, "Using remote Chrome browser, control URL: %s", url)
		browser = rod.New().ControlURL(url)
	} else {
		l, err := m.newLauncher(ctx)
		if err != nil {
			return err
		}

		logger.Info(ctx, "Starting browser process...")
		url, err = l.Launch()
		if err != nil {
			logger.Error(ctx, "Failed to start browser, detailed error: %v", err)
			if msg := err.Error(); strings.Contains(msg, "session") || strings.Contains(msg, "already") {
				return fmt.Errorf("Chrome is already running with the same user data directory, please close all Chrome windows and try again")
			}
			return fmt.Errorf("failed to start browser: %w", err)
		}
		logger.Info(ctx, "Browser control URL: %s", url)

		browser = rod.New().ControlURL(url)
		// 保存 launcher 实例用于后续清理
		m.launcher = l
	}

	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect browser: %w", err)
	}

	if version, err := browser.Version(); err != nil {
		logger.Warn(ctx, "Failed to get browser version: %v", err)
	} else {
		logger.Info(ctx, "Browser version: %s, User-Agent: %s", version.Product, version.UserAgent)
	}

	m.restoreCookies(ctx, browser)

	m.browser = browser
	m.isRunning = true
	m.startTime = time.Now()

	logger.Info(ctx, "Browser started successfully")
	return nil
}

func (m *Manager) newLauncher(ctx context.Context) (*launcher.Launcher, error) {
	bc := m.config.Browser

	// 无图形界面的环境强制 headless
	headless := bc.Headless || isHeadlessEnvironment()
	logger.Info(ctx, "Starting local Chrome browser, headless: %v", headless)

	l := launcher.New().
		Headless(headless).
		Devtools(false).
		Leakless(false)

	if bc.Proxy != "" {
		l = l.Proxy(bc.Proxy)
		logger.Info(ctx, "Using proxy: %s", bc.Proxy)
	}

	for _, arg := range bc.LaunchArgs {
		arg = strings.TrimPrefix(arg, "--")
		if name, value, ok := strings.Cut(arg, "="); ok {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(arg))
		}
	}

	if bc.BinPath != "" {
		l = l.Bin(bc.BinPath)
		logger.Info(ctx, "Using browser path: %s", bc.BinPath)
	}

	// 用户数据目录保存登录状态
	if bc.UserDataDir != "" {
		if err := os.MkdirAll(bc.UserDataDir, 0o755); err != nil {
			logger.Warn(ctx, "Failed to create user data directory, login state will not be saved: %v", err)
		} else {
			l = l.UserDataDir(bc.UserDataDir)
			logger.Info(ctx, "Using user data directory: %s", bc.UserDataDir)
		}
	} else {
		logger.Warn(ctx, "User data directory not configured, login state will not be saved")
	}
	return l, nil
}

// restoreCookies 从数据库加载保存的 Cookie
func (m *Manager) restoreCookies(ctx context.Context, browser *rod.Browser) {
	if m.db == nil {
		return
	}
	store, err := m.db.GetCookies(cookieStoreID)
	if err != nil || store == nil || len(store.Cookies) == 0 {
		logger.Info(ctx, "No saved Cookies found")
		return
	}

	params := make([]*proto.NetworkCookieParam, 0, len(store.Cookies))
	for _, cookie := range store.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HTTPOnly,
			SameSite: cookie.SameSite,
			Expires:  cookie.Expires,
		})
	}
	if err := browser.SetCookies(params); err != nil {
		logger.Warn(ctx, "Failed to set Cookie: %v", err)
		return
	}
	logger.Info(ctx, "Loaded %d saved Cookies", len(params))
}

// Stop 停止浏览器，先销毁当前 DomTool
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return fmt.Errorf("browser is not running")
	}

	m.releaseToolLocked(ctx)

	remote := m.config.Browser.ControlURL != ""
	if remote {
		logger.Info(ctx, "Disconnecting from remote browser...")
	} else {
		logger.Info(ctx, "Closing browser...")
	}

	if m.browser != nil {
		if !remote {
			// 先关闭页面，让浏览器有机会保存数据
			if pages, err := m.browser.Pages(); err == nil {
				for _, page := range pages {
					_ = page.Close()
				}
				logger.Info(ctx, "Closed %d pages", len(pages))
			}
		}
		if err := m.browser.Close(); err != nil {
			logger.Warn(ctx, "Error when closing browser connection: %v", err)
		}
	}

	// 只杀死进程，不调用 Cleanup，否则用户数据目录会被删除
	if !remote && m.launcher != nil {
		m.launcher.Kill()
		logger.Info(ctx, "Browser process terminated")
	}

	m.browser = nil
	m.launcher = nil
	m.activePage = nil
	m.isRunning = false

	logger.Info(ctx, "Browser stopped")
	return nil
}

// IsRunning 检查浏览器是否运行
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// Status 获取浏览器状态
func (m *Manager) Status() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := map[string]interface{}{
		"is_running": m.isRunning,
		"has_page":   m.tool != nil,
	}

	if m.isRunning {
		status["start_time"] = m.startTime.Format(time.RFC3339)
		status["uptime"] = time.Since(m.startTime).String()

		if m.browser != nil {
			if pages, err := m.browser.Pages(); err == nil {
				status["pages_count"] = len(pages)
			}
		}
		if m.activePage != nil {
			if info, err := m.activePage.Page().Info(); err == nil {
				status["page_url"] = info.URL
				status["page_title"] = info.Title
			}
		}
	}

	return status
}

// OpenPage 打开新页面并绑定新的 DomTool，之前的 DomTool 先被销毁
func (m *Manager) OpenPage(ctx context.Context, url string) (*executor.DomTool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning || m.browser == nil {
		return nil, fmt.Errorf("browser is not running")
	}

	m.releaseToolLocked(ctx)

	bc := m.config.Browser
	var page *rod.Page
	var err error
	if bc.Stealth {
		page, err = stealth.Page(m.browser)
		logger.Info(ctx, "Using Stealth mode")
	} else {
		page, err = m.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	m.setPageWindow(ctx, page)

	userAgent := bc.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		logger.Warn(ctx, "Failed to set user agent: %v", err)
	}

	// 导航到目标 URL（设置60秒超时）
	if err := page.Timeout(60 * time.Second).Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("failed to navigate to page: %w", err)
	}
	if err := page.Timeout(60 * time.Second).WaitLoad(); err != nil {
		logger.Warn(ctx, "Failed to wait for page load: %v", err)
	}

	rp := NewRodPage(page)
	tool := executor.NewDomTool(rp, m.config.DomOptions(),
		executor.WithNotifier(NewOverlayNotifier(rp)),
	)
	if err := tool.Init(ctx); err != nil {
		_ = tool.Destroy(ctx)
		_ = page.Close()
		return nil, fmt.Errorf("failed to initialize dom tool: %w", err)
	}

	m.activePage = rp
	m.tool = tool

	logger.Info(ctx, "Page opened: %s", url)
	return tool, nil
}

// Tool 当前页面的 DomTool
func (m *Manager) Tool() (*executor.DomTool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tool == nil {
		return nil, executor.ErrNoPage
	}
	return m.tool, nil
}

// releaseToolLocked 销毁当前 DomTool 并关闭其页面
func (m *Manager) releaseToolLocked(ctx context.Context) {
	if m.tool == nil {
		return
	}
	if err := m.tool.Destroy(ctx); err != nil {
		logger.Warn(ctx, "Failed to destroy dom tool: %v", err)
	}
	m.tool = nil

	if m.activePage != nil {
		if err := m.activePage.Page().Close(); err != nil {
			logger.Debug(ctx, "Failed to close previous page: %v", err)
		}
		m.activePage = nil
	}
}

// setPageWindow 按屏幕尺寸的 90% 设置窗口与 viewport，获取失败时使用默认尺寸
func (m *Manager) setPageWindow(ctx context.Context, page *rod.Page) {
	windowWidth, windowHeight := 1400, 900

	res, err := page.Eval(`() => ({ width: window.screen.availWidth, height: window.screen.availHeight })`)
	if err == nil && res != nil {
		w, h := res.Value.Get("width").Int(), res.Value.Get("height").Int()
		if w > 0 && h > 0 {
			windowWidth = int(float64(w) * 0.9)
			windowHeight = int(float64(h) * 0.9)
		}
	} else {
		logger.Warn(ctx, "Failed to get screen size: %v, using default sizes", err)
	}

	// viewport 去掉浏览器边框和工具栏
	viewportWidth, viewportHeight := windowWidth-120, windowHeight-100

	if err := page.SetWindow(&proto.BrowserBounds{
		Left:   intPtr(0),
		Top:    intPtr(0),
		Width:  intPtr(windowWidth),
		Height: intPtr(windowHeight),
	}); err != nil {
		logger.Debug(ctx, "Failed to set window bounds: %v", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            viewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		logger.Warn(ctx, "Failed to set viewport: %v", err)
	}
}

func intPtr(v int) *int { return &v }

// GetCurrentPageCookies 获取浏览器的所有 Cookie
func (m *Manager) GetCurrentPageCookies() ([]*proto.NetworkCookie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning || m.browser == nil {
		return nil, fmt.Errorf("browser is not running")
	}

	cookies, err := m.browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}
	return cookies, nil
}

// SaveCookies 保存当前浏览器 Cookie，下次启动时恢复
func (m *Manager) SaveCookies(ctx context.Context) (int, error) {
	cookies, err := m.GetCurrentPageCookies()
	if err != nil {
		return 0, err
	}
	if m.db == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	pageURL := ""
	m.mu.Lock()
	if m.activePage != nil {
		if info, err := m.activePage.Page().Info(); err == nil {
			pageURL = info.URL
		}
	}
	m.mu.Unlock()

	now := time.Now()
	store := &models.CookieStore{
		ID:        cookieStoreID,
		URL:       pageURL,
		Cookies:   cookies,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.db.SaveCookies(store); err != nil {
		return 0, fmt.Errorf("failed to save cookies: %w", err)
	}
	logger.Info(ctx, "Saved %d Cookies", len(cookies))
	return len(cookies), nil
}

// isHeadlessEnvironment 检测当前环境是否为无GUI环境
func isHeadlessEnvironment() bool {
	// 容器内没有显示设备
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		if strings.Contains(content, "docker") || strings.Contains(content, "containerd") {
			return true
		}
	}

	switch runtime.GOOS {
	case "windows", "darwin":
		return false
	case "linux":
		return os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == ""
	}
	return false
}
