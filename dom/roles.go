package dom

import "strings"

// 标签到隐式 ARIA role 的映射
var implicitRoles = map[string]string{
	"a":        "link",
	"article":  "article",
	"aside":    "complementary",
	"button":   "button",
	"datalist": "listbox",
	"details":  "group",
	"dialog":   "dialog",
	"fieldset": "group",
	"footer":   "contentinfo",
	"form":     "form",
	"h1":       "heading",
	"h2":       "heading",
	"h3":       "heading",
	"h4":       "heading",
	"h5":       "heading",
	"h6":       "heading",
	"header":   "banner",
	"hr":       "separator",
	"img":      "img",
	"li":       "listitem",
	"main":     "main",
	"menu":     "list",
	"meter":    "meter",
	"nav":      "navigation",
	"ol":       "list",
	"optgroup": "group",
	"option":   "option",
	"output":   "status",
	"progress": "progressbar",
	"search":   "search",
	"section":  "region",
	"select":   "combobox",
	"summary":  "button",
	"table":    "table",
	"tbody":    "rowgroup",
	"td":       "cell",
	"textarea": "textbox",
	"tfoot":    "rowgroup",
	"th":       "columnheader",
	"thead":    "rowgroup",
	"tr":       "row",
	"ul":       "list",
}

var inputRoles = map[string]string{
	"button":   "button",
	"submit":   "button",
	"reset":    "button",
	"image":    "button",
	"checkbox": "checkbox",
	"radio":    "radio",
	"range":    "slider",
	"number":   "spinbutton",
	"search":   "searchbox",
	"text":     "textbox",
	"email":    "textbox",
	"tel":      "textbox",
	"url":      "textbox",
	"password": "textbox",
}

// landmark role 集合
var landmarkRoles = map[string]bool{
	"banner": true, "complementary": true, "contentinfo": true, "form": true,
	"main": true, "navigation": true, "region": true, "search": true,
}

// 这些 role 的可访问名称可以来自内容
var nameFromContentRoles = map[string]bool{
	"button": true, "cell": true, "checkbox": true, "columnheader": true,
	"gridcell": true, "heading": true, "link": true, "menuitem": true,
	"menuitemcheckbox": true, "menuitemradio": true, "option": true,
	"radio": true, "row": true, "rowheader": true, "switch": true,
	"tab": true, "tooltip": true, "treeitem": true,
}

// GetRole 显式 role 优先，其次是标签的隐式 role
func GetRole(el Element) string {
	if role := explicitRole(el); role != "" {
		return role
	}
	tag := el.TagName()
	if tag == "input" {
		if role, ok := inputRoles[InputType(el)]; ok {
			return role
		}
		return ""
	}
	if tag == "a" && !hasAttr(el, "href") {
		return ""
	}
	if tag == "img" && hasAttr(el, "alt") && attr(el, "alt") == "" {
		return "presentation"
	}
	if tag == "section" && strings.TrimSpace(attr(el, "aria-label")) == "" && attr(el, "aria-labelledby") == "" {
		// 没有名称的 section 不是 region landmark
		return ""
	}
	return implicitRoles[tag]
}

// FindLandmark 向上查找最近的 landmark role
func FindLandmark(el Element) string {
	for p := el.Parent(); p != nil; p = p.Parent() {
		if role := GetRole(p); landmarkRoles[role] {
			return role
		}
	}
	return ""
}
