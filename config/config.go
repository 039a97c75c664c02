package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Debug    bool                 `json:"debug" toml:"debug"`
	Server   *ServerConfig        `json:"server" toml:"server"`
	Database *DatabaseConfig      `json:"database" toml:"database"`
	Browser  *BrowserConfig       `json:"browser" toml:"browser"`
	Log      *logger.LoggerConfig `json:"log,omitempty" toml:"log,omitempty"`
	Dom      *DomConfig           `json:"dom" toml:"dom"`
	Auth     *AuthConfig          `json:"auth" toml:"auth"`
}

type ServerConfig struct {
	Port    string `json:"port" toml:"port"`
	Host    string `json:"host" toml:"host"`
	MCPPath string `json:"mcp_path" toml:"mcp_path"`
}

type DatabaseConfig struct {
	Path string `json:"path" toml:"path"`
}

type BrowserConfig struct {
	BinPath     string `json:"bin_path" toml:"bin_path"`
	UserDataDir string `json:"user_data_dir" toml:"user_data_dir"`
	// ControlURL 非空时连接已有浏览器而不是本地启动
	ControlURL string `json:"control_url,omitempty" toml:"control_url,omitempty"`
	Headless   bool   `json:"headless" toml:"headless"`
	Stealth    bool   `json:"stealth" toml:"stealth"`
	StartURL   string `json:"start_url,omitempty" toml:"start_url,omitempty"`
	Proxy      string `json:"proxy,omitempty" toml:"proxy,omitempty"`
	UserAgent  string `json:"user_agent,omitempty" toml:"user_agent,omitempty"`
	// LaunchArgs 额外的 Chrome 启动参数，形如 "--lang=en-US" 或 "disable-gpu"
	LaunchArgs []string `json:"launch_args,omitempty" toml:"launch_args,omitempty"`
}

// DomConfig [dom] 段，时长单位为毫秒；布尔项缺省为 true
type DomConfig struct {
	MaxDepth               int   `json:"max_depth,omitempty" toml:"max_depth,omitempty"`
	MaxInteractiveElements int   `json:"max_interactive_elements,omitempty" toml:"max_interactive_elements,omitempty"`
	IncludeIframes         *bool `json:"include_iframes,omitempty" toml:"include_iframes,omitempty"`
	MaxIframeDepth         int   `json:"max_iframe_depth,omitempty" toml:"max_iframe_depth,omitempty"`
	IncludeShadowDom       *bool `json:"include_shadow_dom,omitempty" toml:"include_shadow_dom,omitempty"`
	MaxShadowDepth         int   `json:"max_shadow_depth,omitempty" toml:"max_shadow_depth,omitempty"`
	MutationDebounceMs     int   `json:"mutation_debounce_ms,omitempty" toml:"mutation_debounce_ms,omitempty"`
	MaxTextLength          int   `json:"max_text_length,omitempty" toml:"max_text_length,omitempty"`
	MaxLabelLength         int   `json:"max_label_length,omitempty" toml:"max_label_length,omitempty"`
	IncludeValues          *bool `json:"include_values,omitempty" toml:"include_values,omitempty"`
	OmitDefaults           *bool `json:"omit_defaults,omitempty" toml:"omit_defaults,omitempty"`
	SnapshotMaxAgeMs       int   `json:"snapshot_max_age_ms,omitempty" toml:"snapshot_max_age_ms,omitempty"`
	AutoInvalidate         *bool `json:"auto_invalidate,omitempty" toml:"auto_invalidate,omitempty"`
	ActionSettleMs         int   `json:"action_settle_ms,omitempty" toml:"action_settle_ms,omitempty"`
}

type AuthConfig struct {
	Enabled bool `json:"enabled" toml:"enabled"`
	// AppKey JWT 签名密钥
	AppKey  string   `json:"app_key,omitempty" toml:"app_key,omitempty"`
	APIKeys []string `json:"api_keys,omitempty" toml:"api_keys,omitempty"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: &ServerConfig{
			Port:    "8080",
			Host:    "0.0.0.0",
			MCPPath: "/mcp",
		},
		Database: &DatabaseConfig{
			Path: "./data/domagent.db",
		},
		Browser: &BrowserConfig{
			BinPath:     detectChrome(),
			UserDataDir: "./chrome_user_data",
			Stealth:     true,
		},
		Log: &logger.LoggerConfig{
			Level: "info",
			File:  "./log/domagent.log",
		},
		Dom:  &DomConfig{},
		Auth: &AuthConfig{},
	}
}

// detectChrome 根据系统查找常见的 Chrome/Chromium 安装路径
func detectChrome() string {
	commonPaths := []string{
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome-stable",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
		"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load 读取配置文件；文件不存在时返回默认配置并写到 path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		cfg := Default()
		// 如果错误是文件不存在，则将默认配置写到本地的path位置
		if os.IsNotExist(err) {
			if dir := filepath.Dir(path); dir != "" {
				os.MkdirAll(dir, 0o755)
			}
			if cfgData, err := toml.Marshal(cfg); err == nil {
				os.WriteFile(path, cfgData, 0o644)
			}
		}
		cfg.applyEnv()
		return cfg, nil
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.backfill()
	cfg.applyEnv()
	return &cfg, nil
}

// backfill 确保所有必需的配置项都有值
func (c *Config) backfill() {
	def := Default()
	if c.Server == nil {
		c.Server = def.Server
	}
	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
	if c.Server.MCPPath == "" {
		c.Server.MCPPath = def.Server.MCPPath
	}
	if c.Database == nil || c.Database.Path == "" {
		c.Database = def.Database
	}
	if c.Browser == nil {
		c.Browser = def.Browser
	}
	if c.Log == nil {
		c.Log = &logger.LoggerConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		}
	}
	if c.Dom == nil {
		c.Dom = def.Dom
	}
	if c.Auth == nil {
		c.Auth = def.Auth
	}
}

// applyEnv 环境变量覆盖
func (c *Config) applyEnv() {
	if v := os.Getenv("DOMAGENT_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DOMAGENT_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CHROME_BIN_PATH"); v != "" {
		c.Browser.BinPath = v
	}
	if v := os.Getenv("DOMAGENT_CONTROL_URL"); v != "" {
		c.Browser.ControlURL = v
	}
}

// DomOptions 把 [dom] 段转换为 dom.Config，未配置的字段使用默认值
func (c *Config) DomOptions() dom.Config {
	out := dom.DefaultConfig()
	d := c.Dom
	if d == nil {
		return out
	}

	out.MaxDepth = d.MaxDepth
	out.MaxInteractiveElements = d.MaxInteractiveElements
	out.MaxIframeDepth = d.MaxIframeDepth
	out.MaxShadowDepth = d.MaxShadowDepth
	out.MutationDebounce = millis(d.MutationDebounceMs)
	out.MaxTextLength = d.MaxTextLength
	out.MaxLabelLength = d.MaxLabelLength
	out.SnapshotMaxAge = millis(d.SnapshotMaxAgeMs)
	out.ActionSettle = millis(d.ActionSettleMs)

	out.IncludeIframes = boolOr(d.IncludeIframes, out.IncludeIframes)
	out.IncludeShadowDom = boolOr(d.IncludeShadowDom, out.IncludeShadowDom)
	out.IncludeValues = boolOr(d.IncludeValues, out.IncludeValues)
	out.OmitDefaults = boolOr(d.OmitDefaults, out.OmitDefaults)
	out.AutoInvalidate = boolOr(d.AutoInvalidate, out.AutoInvalidate)

	return out.Normalize()
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
