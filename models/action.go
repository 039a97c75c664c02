package models

import (
	"encoding/json"
	"time"
)

// ActionType 动作类型
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionInput    ActionType = "type"
	ActionKeypress ActionType = "keypress"
)

// ActionChanges 动作执行后观察到的副作用
type ActionChanges struct {
	Navigation    bool    `json:"navigation"`
	NewURL        string  `json:"newUrl,omitempty"`
	DomMutations  int     `json:"domMutations"`
	ScrollChanged bool    `json:"scrollChanged"`
	ValueChanged  bool    `json:"valueChanged"`
	NewValue      *string `json:"newValue,omitempty"`
}

// ActionResult 一次动作的执行记录
type ActionResult struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Changes   ActionChanges `json:"changes"`
	NodeID    string        `json:"nodeId,omitempty"`
	Action    ActionType    `json:"action"`
	Timestamp time.Time     `json:"timestamp"`
}

// MarshalJSON 将耗时输出为毫秒
func (r ActionResult) MarshalJSON() ([]byte, error) {
	type alias ActionResult
	return json.Marshal(struct {
		alias
		Duration int64 `json:"duration"`
	}{
		alias:    alias(r),
		Duration: r.Duration.Milliseconds(),
	})
}

// UnmarshalJSON 与 MarshalJSON 对应
func (r *ActionResult) UnmarshalJSON(data []byte) error {
	type alias ActionResult
	aux := struct {
		*alias
		Duration int64 `json:"duration"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Duration = time.Duration(aux.Duration) * time.Millisecond
	return nil
}

// ActionRecord 持久化的动作历史
type ActionRecord struct {
	ID        string        `json:"id"`
	PageURL   string        `json:"page_url"`
	Source    string        `json:"source"` // http / mcp
	Params    any           `json:"params,omitempty"`
	Result    *ActionResult `json:"result"`
	CreatedAt time.Time     `json:"created_at"`
}
