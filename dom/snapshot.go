package dom

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/browserwing/domagent/models"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/browserwing/domagent/serializer"
	"github.com/pkg/errors"
)

// isValid 每次抽样检查的映射数
const validitySampleSize = 10

// DomSnapshot 某一时刻的不可变树与 node_id ↔ 元素映射。
// 映射只保存 Handle，元素本身由页面侧的 WeakRef 持有。
type DomSnapshot struct {
	root      *models.VirtualNode
	timestamp time.Time
	context   models.PageContext
	stats     models.SnapshotStats
	forward   map[string]Handle
	reverse   map[Handle]string
	positions map[string]string
	page      Page
}

// ElementRef GetRealElement 的结果
type ElementRef struct {
	NodeID   string
	Handle   Handle
	Detached bool
}

// NewDomSnapshot 由一次建树结果创建快照
func NewDomSnapshot(res *BuildResult, pageCtx models.PageContext, page Page) *DomSnapshot {
	s := &DomSnapshot{
		root:      res.Root,
		timestamp: time.Now(),
		context:   pageCtx,
		stats:     res.Stats,
		forward:   make(map[string]Handle, len(res.Mapping)),
		reverse:   make(map[Handle]string, len(res.Mapping)),
		positions: make(map[string]string, len(res.Positions)),
		page:      page,
	}
	for id, h := range res.Mapping {
		s.forward[id] = h
		s.reverse[h] = id
	}
	for id, p := range res.Positions {
		s.positions[id] = p
	}
	return s
}

func (s *DomSnapshot) Root() *models.VirtualNode   { return s.root }
func (s *DomSnapshot) Timestamp() time.Time        { return s.timestamp }
func (s *DomSnapshot) Context() models.PageContext { return s.context }
func (s *DomSnapshot) Stats() models.SnapshotStats { return s.stats }
func (s *DomSnapshot) Age() time.Duration          { return time.Since(s.timestamp) }
func (s *DomSnapshot) Size() int                   { return len(s.forward) }

// Expired 快照是否超过最大存活时间
func (s *DomSnapshot) Expired(maxAge time.Duration) bool {
	return maxAge > 0 && s.Age() > maxAge
}

// NodeIDFor 元素对应的 node_id
func (s *DomSnapshot) NodeIDFor(h Handle) (string, bool) {
	id, ok := s.reverse[h]
	return id, ok
}

// HandleFor node_id 对应的元素
func (s *DomSnapshot) HandleFor(nodeID string) (Handle, bool) {
	h, ok := s.forward[nodeID]
	return h, ok
}

// Node 按 node_id 查找虚拟节点
func (s *DomSnapshot) Node(nodeID string) *models.VirtualNode {
	return s.root.Find(nodeID)
}

// GetRealElement 解引用 node_id。
// 未映射返回 ErrNodeNotFound，已被回收返回 ErrElementCollected；
// 已脱离文档时只记录日志并设置 Detached，由调用方决定是否继续。
func (s *DomSnapshot) GetRealElement(ctx context.Context, nodeID string) (*ElementRef, error) {
	h, ok := s.forward[nodeID]
	if !ok {
		return nil, errors.Wrapf(ErrNodeNotFound, "node %s", nodeID)
	}
	if s.page == nil {
		return &ElementRef{NodeID: nodeID, Handle: h}, nil
	}

	states, err := s.page.Inspect(ctx, []Handle{h})
	if err != nil {
		return nil, errors.Wrapf(err, "inspect node %s", nodeID)
	}
	if len(states) == 0 || !states[0].Found {
		return nil, errors.Wrapf(ErrElementCollected, "node %s", nodeID)
	}

	ref := &ElementRef{NodeID: nodeID, Handle: h}
	if !states[0].Attached {
		ref.Detached = true
		logger.Warn(ctx, "Node %s is no longer attached to the document", nodeID)
	}
	return ref, nil
}

// IsValid 随机抽样最多 10 个映射，任一不可达或已脱离即视为失效；空快照总是有效
func (s *DomSnapshot) IsValid(ctx context.Context) bool {
	if len(s.forward) == 0 || s.page == nil {
		return true
	}

	handles := make([]Handle, 0, len(s.forward))
	for _, h := range s.forward {
		handles = append(handles, h)
	}
	rand.Shuffle(len(handles), func(i, j int) {
		handles[i], handles[j] = handles[j], handles[i]
	})
	if len(handles) > validitySampleSize {
		handles = handles[:validitySampleSize]
	}

	states, err := s.page.Inspect(ctx, handles)
	if err != nil {
		logger.Debug(ctx, "Snapshot validity check failed: %v", err)
		return false
	}
	for _, st := range states {
		if !st.Found || !st.Attached {
			return false
		}
	}
	return len(states) == len(handles)
}

// Serialize 生成面向 agent 的序列化结果，不修改快照
func (s *DomSnapshot) Serialize(opts serializer.Options) (*models.SerializedDom, error) {
	return serializer.Serialize(s.root, s.context, opts)
}

// IsNotOccluded 节点中心点命中的元素是否为它自己或其后代
func (s *DomSnapshot) IsNotOccluded(ctx context.Context, nodeID string, hit HitTester) (bool, error) {
	n := s.root.Find(nodeID)
	if n == nil {
		return false, errors.Wrapf(ErrNodeNotFound, "node %s", nodeID)
	}
	if n.Metadata == nil || n.Metadata.BoundingBox == nil {
		return false, nil
	}
	x, y := n.Metadata.BoundingBox.Center()
	h, err := hit.ElementFromPoint(ctx, x, y)
	if err != nil {
		return false, err
	}
	if h == "" {
		return false, nil
	}
	hitID, ok := s.reverse[h]
	if !ok {
		return false, nil
	}
	if hitID == nodeID {
		return true, nil
	}
	return n.Find(hitID) != nil, nil
}

// Info 快照摘要
func (s *DomSnapshot) Info(trigger models.SnapshotTrigger) models.SnapshotInfo {
	return models.SnapshotInfo{
		Trigger:   trigger,
		Timestamp: s.timestamp,
		Context:   s.context,
		Stats:     s.stats,
	}
}
