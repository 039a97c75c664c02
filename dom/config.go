package dom

import "time"

// Config DomTool 消费的选项，零值字段在 Normalize 时回填默认值（布尔字段除外）
type Config struct {
	MaxDepth               int
	MaxInteractiveElements int
	IncludeIframes         bool
	MaxIframeDepth         int
	IncludeShadowDom       bool
	MaxShadowDepth         int
	MutationDebounce       time.Duration
	MaxTextLength          int
	MaxLabelLength         int
	IncludeValues          bool
	OmitDefaults           bool
	SnapshotMaxAge         time.Duration
	AutoInvalidate         bool
	ActionSettle           time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxDepth:               100,
		MaxInteractiveElements: 1000,
		IncludeIframes:         true,
		MaxIframeDepth:         3,
		IncludeShadowDom:       true,
		MaxShadowDepth:         5,
		MutationDebounce:       500 * time.Millisecond,
		MaxTextLength:          100,
		MaxLabelLength:         100,
		IncludeValues:          true,
		OmitDefaults:           true,
		SnapshotMaxAge:         30 * time.Second,
		AutoInvalidate:         true,
		ActionSettle:           300 * time.Millisecond,
	}
}

// Normalize 回填非正数的数值字段
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.MaxInteractiveElements <= 0 {
		c.MaxInteractiveElements = def.MaxInteractiveElements
	}
	if c.MaxIframeDepth <= 0 {
		c.MaxIframeDepth = def.MaxIframeDepth
	}
	if c.MaxShadowDepth <= 0 {
		c.MaxShadowDepth = def.MaxShadowDepth
	}
	if c.MutationDebounce <= 0 {
		c.MutationDebounce = def.MutationDebounce
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = def.MaxTextLength
	}
	if c.MaxLabelLength <= 0 {
		c.MaxLabelLength = def.MaxLabelLength
	}
	if c.SnapshotMaxAge <= 0 {
		c.SnapshotMaxAge = def.SnapshotMaxAge
	}
	if c.ActionSettle <= 0 {
		c.ActionSettle = def.ActionSettle
	}
	return c
}
