package browser

import (
	"context"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/executor"
	"github.com/pkg/errors"
)

// OverlayNotifier 在页面右下角显示代理状态，并高亮被操作的元素。
// 宿主节点带 data-domagent-ignore，不会出现在快照里，也不会触发重建。
type OverlayNotifier struct {
	page *RodPage
}

// NewOverlayNotifier 创建页面覆盖层通知器
func NewOverlayNotifier(page *RodPage) *OverlayNotifier {
	return &OverlayNotifier{page: page}
}

func (o *OverlayNotifier) Notify(ctx context.Context, n executor.Notification) error {
	if _, err := o.page.Page().Context(ctx).Eval(overlayScript, dom.OverlayHostID, n); err != nil {
		return errors.Wrapf(err, "overlay %s", n.Type)
	}
	return nil
}
