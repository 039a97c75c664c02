package models

import (
	"encoding/json"
	"time"
)

// SnapshotTrigger 触发重建快照的原因
type SnapshotTrigger string

const (
	TriggerManual   SnapshotTrigger = "manual"
	TriggerAction   SnapshotTrigger = "action"
	TriggerMutation SnapshotTrigger = "mutation"
)

// SnapshotStats 构建统计
type SnapshotStats struct {
	Total           int           `json:"total"`
	Visible         int           `json:"visible"`
	Interactive     int           `json:"interactive"`
	Iframes         int           `json:"iframes"`
	ShadowRoots     int           `json:"shadowRoots"`
	SkippedSubtrees int           `json:"skippedSubtrees"`
	ReusedIDs       int           `json:"reusedIds"`
	Truncated       bool          `json:"truncated,omitempty"`
	Duration        time.Duration `json:"duration"`
}

func (s SnapshotStats) MarshalJSON() ([]byte, error) {
	type alias SnapshotStats
	return json.Marshal(struct {
		alias
		Duration int64 `json:"duration"`
	}{alias: alias(s), Duration: s.Duration.Milliseconds()})
}

// SnapshotInfo 对外暴露的快照摘要
type SnapshotInfo struct {
	Trigger   SnapshotTrigger `json:"trigger,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Context   PageContext     `json:"context"`
	Stats     SnapshotStats   `json:"stats"`
}
