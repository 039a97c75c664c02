package dom

import (
	"regexp"
	"strconv"
	"strings"
)

// InteractivityType 元素的交互类型
type InteractivityType string

const (
	InteractivityNone  InteractivityType = "none"
	InteractivityClick InteractivityType = "click"
	InteractivityText  InteractivityType = "type"
	InteractivityBoth  InteractivityType = "both"
)

var interactiveTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true,
	"textarea": true, "label": true, "option": true,
}

// 带 disabled 语义的表单控件
var formControlTags = map[string]bool{
	"button": true, "input": true, "select": true, "textarea": true, "option": true,
}

var interactiveRoles = map[string]bool{
	"button": true, "link": true, "textbox": true, "checkbox": true,
	"radio": true, "combobox": true, "listbox": true, "menuitem": true,
	"menuitemcheckbox": true, "menuitemradio": true, "option": true,
	"tab": true, "switch": true, "slider": true, "spinbutton": true,
	"searchbox": true, "gridcell": true, "treeitem": true,
}

// 框架的点击绑定属性
var clickBindingAttrs = []string{
	"data-action", "data-click", "ng-click", "data-ng-click", "(click)", "v-on:click", "@click",
}

var clickableClassPattern = regexp.MustCompile(`(?i)\b(clickable|btn|button|link|interactive)\b`)

// 可以输入文本的 input 类型
var typeableInputTypes = map[string]bool{
	"text": true, "search": true, "email": true, "url": true, "tel": true,
	"password": true, "number": true, "date": true, "datetime-local": true,
	"month": true, "week": true, "time": true,
}

// IsInteractive 按固定顺序的启发式判断，命中即返回
func IsInteractive(el Element) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	tag := el.TagName()
	if interactiveTags[tag] {
		if formControlTags[tag] && IsDisabled(el) {
			return false
		}
		return true
	}
	if hasAttr(el, "onclick") {
		return true
	}
	if hasPointerCursor(el) {
		return true
	}
	if interactiveRoles[explicitRole(el)] {
		return true
	}
	if hasNonNegativeTabIndex(el) {
		return true
	}
	for _, name := range clickBindingAttrs {
		if hasAttr(el, name) {
			return true
		}
	}
	if class := attr(el, "class"); class != "" && clickableClassPattern.MatchString(class) {
		return true
	}
	return false
}

// IsTypeable 是否可以输入文本
func IsTypeable(el Element) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	switch el.TagName() {
	case "input":
		if !typeableInputTypes[InputType(el)] {
			return false
		}
		return !IsDisabled(el) && !isReadOnly(el)
	case "textarea":
		return !IsDisabled(el) && !isReadOnly(el)
	}
	if IsContentEditable(el) {
		return true
	}
	switch explicitRole(el) {
	case "textbox", "searchbox":
		return true
	}
	return false
}

// IsClickable 在 IsInteractive 的基础上，放宽 div/span 的判断以覆盖 SPA 中的非语义点击目标
func IsClickable(el Element) bool {
	if IsInteractive(el) {
		return true
	}
	switch el.TagName() {
	case "div", "span":
		return hasPointerCursor(el) || interactiveRoles[explicitRole(el)]
	}
	return false
}

// GetInteractivityType 返回 none/click/type/both
func GetInteractivityType(el Element) InteractivityType {
	click := IsClickable(el)
	typ := IsTypeable(el)
	switch {
	case click && typ:
		return InteractivityBoth
	case typ:
		return InteractivityText
	case click:
		return InteractivityClick
	}
	return InteractivityNone
}

func hasPointerCursor(el Element) bool {
	style, err := el.ComputedStyle()
	if err != nil || style == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(style.Cursor)) {
	case "pointer", "grab":
		return true
	}
	return false
}

func hasNonNegativeTabIndex(el Element) bool {
	v, ok := el.Attribute("tabindex")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return err == nil && n >= 0
}

func isReadOnly(el Element) bool {
	if v, ok := el.Property("readOnly"); ok {
		return v
	}
	return hasAttr(el, "readonly")
}

func explicitRole(el Element) string {
	// role 可能是空格分隔的候选列表，取第一个
	fields := strings.Fields(strings.ToLower(attr(el, "role")))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
