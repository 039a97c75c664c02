package dom

import "github.com/pkg/errors"

var (
	// ErrMaxDepthExceeded 子树超过最大深度，整棵子树被丢弃
	ErrMaxDepthExceeded = errors.New("max tree depth exceeded")
	// ErrCrossOrigin 跨域 iframe 无法访问
	ErrCrossOrigin = errors.New("cross-origin document is not accessible")
	// ErrNoBody 文档没有 body
	ErrNoBody = errors.New("document has no body")

	ErrNodeNotFound     = errors.New("node id not found in snapshot")
	ErrElementCollected = errors.New("element is no longer reachable")
	ErrElementDetached  = errors.New("element is detached from the document")
)
