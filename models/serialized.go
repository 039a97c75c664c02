package models

// PageContext 页面上下文
type PageContext struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Viewport *Viewport `json:"viewport,omitempty"`
}

// SerializedNode 面向 agent 的紧凑节点
type SerializedNode struct {
	ID          string            `json:"node_id"`
	Tag         string            `json:"tag"`
	Role        string            `json:"role,omitempty"`
	Label       string            `json:"label,omitempty"`
	Text        string            `json:"text,omitempty"`
	Value       *string           `json:"value,omitempty"`
	Href        string            `json:"href,omitempty"`
	InputType   string            `json:"inputType,omitempty"`
	Placeholder string            `json:"placeholder,omitempty"`
	States      map[string]any    `json:"states,omitempty"`
	BoundingBox *BoundingBox      `json:"bbox,omitempty"`
	Children    []*SerializedNode `json:"children,omitempty"`
}

// SerializedIframe 抽取出的 iframe 子树
type SerializedIframe struct {
	HostID string          `json:"hostId"`
	URL    string          `json:"url,omitempty"`
	Title  string          `json:"title,omitempty"`
	Body   *SerializedNode `json:"body"`
}

// SerializedShadowDom 抽取出的 shadow DOM 子树
type SerializedShadowDom struct {
	HostID string          `json:"hostId"`
	Body   *SerializedNode `json:"body"`
}

type SerializedPageContext struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type SerializedPage struct {
	Context    SerializedPageContext  `json:"context"`
	Body       *SerializedNode        `json:"body"`
	Iframes    []*SerializedIframe    `json:"iframes,omitempty"`
	ShadowDoms []*SerializedShadowDom `json:"shadowDoms,omitempty"`
}

// SerializeStats 序列化结果统计，不参与 token 估算
type SerializeStats struct {
	Nodes           int `json:"nodes"`
	EstimatedTokens int `json:"estimatedTokens"`
}

// SerializedDom 按需生成、不做持久化的序列化结果
type SerializedDom struct {
	Page  SerializedPage  `json:"page"`
	Stats *SerializeStats `json:"stats,omitempty"`
}
