package dom

import (
	"context"
	"strings"

	"github.com/browserwing/domagent/models"
)

// IsVisible 判断元素是否可见。
// 样式计算失败（包括 getter panic）时视为可见：对 agent 来说漏掉元素比多看一个更糟。
func IsVisible(el Element) (visible bool) {
	defer func() {
		if r := recover(); r != nil {
			visible = true
		}
	}()

	if strings.EqualFold(attr(el, "aria-hidden"), "true") {
		return false
	}
	if hasAttr(el, "inert") {
		return false
	}

	style, err := el.ComputedStyle()
	if err != nil || style == nil {
		return true
	}
	if strings.EqualFold(style.Display, "none") {
		return false
	}
	if strings.EqualFold(style.Visibility, "hidden") {
		return false
	}
	if style.OpacityValue() <= 0 {
		return false
	}

	rect, err := el.BoundingBox()
	if err != nil {
		return true
	}
	if rect.Width <= 0 || rect.Height <= 0 {
		return false
	}
	return true
}

// IsInViewport 元素矩形与视口矩形相交
func IsInViewport(rect models.BoundingBox, viewport models.Viewport) bool {
	if rect.Area() <= 0 || viewport.Width <= 0 || viewport.Height <= 0 {
		return false
	}
	return rect.X < viewport.Width &&
		rect.X+rect.Width > 0 &&
		rect.Y < viewport.Height &&
		rect.Y+rect.Height > 0
}

// IsNotOccluded 元素中心点命中的是元素本身或其后代。仅作参考，不参与建树。
func IsNotOccluded(ctx context.Context, el Element, hit HitTester) (bool, error) {
	rect, err := el.BoundingBox()
	if err != nil {
		return false, err
	}
	if rect.Area() <= 0 {
		return false, nil
	}
	x, y := rect.Center()
	h, err := hit.ElementFromPoint(ctx, x, y)
	if err != nil {
		return false, err
	}
	return Contains(el, h), nil
}
