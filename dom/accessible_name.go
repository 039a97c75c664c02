package dom

import (
	"strings"

	"github.com/browserwing/domagent/pkg/textutil"
	"github.com/pkg/errors"
)

// 防止 aria-labelledby 循环引用
const maxNameDepth = 4

var errNameRecursion = errors.New("accessible name recursion too deep")

// ComputeAccessibleName 计算元素的可访问名称。
// 只实现 agent 需要的子集：labelledby、aria-label、label、alt/title/placeholder、按钮值、内容。
func ComputeAccessibleName(el Element, doc Document) (name string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("accessible name panicked: %v", r)
		}
	}()
	return computeName(el, doc, 0)
}

func computeName(el Element, doc Document, depth int) (string, error) {
	if depth > maxNameDepth {
		return "", errNameRecursion
	}

	if ids := strings.Fields(attr(el, "aria-labelledby")); len(ids) > 0 && doc != nil && depth == 0 {
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			ref := doc.ElementByID(id)
			if ref == nil {
				continue
			}
			part, err := computeName(ref, doc, depth+1)
			if err != nil {
				return "", err
			}
			if part == "" {
				part = normalizeSpace(ref.TextContent())
			}
			if part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " "), nil
		}
	}

	if label := normalizeSpace(attr(el, "aria-label")); label != "" {
		return label, nil
	}

	tag := el.TagName()
	if isLabelable(tag) {
		if id := attr(el, "id"); id != "" && doc != nil {
			var parts []string
			for _, label := range doc.LabelsFor(id) {
				if text := normalizeSpace(label.TextContent()); text != "" {
					parts = append(parts, text)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, " "), nil
			}
		}
		for p := el.Parent(); p != nil; p = p.Parent() {
			if p.TagName() == "label" {
				if text := normalizeSpace(p.TextContent()); text != "" {
					return text, nil
				}
				break
			}
		}
	}

	switch tag {
	case "img", "area":
		if alt := normalizeSpace(attr(el, "alt")); alt != "" {
			return alt, nil
		}
	case "input":
		switch InputType(el) {
		case "button", "submit", "reset":
			if v := normalizeSpace(attr(el, "value")); v != "" {
				return v, nil
			}
			switch InputType(el) {
			case "submit":
				return "Submit", nil
			case "reset":
				return "Reset", nil
			}
		case "image":
			if alt := normalizeSpace(attr(el, "alt")); alt != "" {
				return alt, nil
			}
		}
	}

	if nameFromContentRoles[GetRole(el)] || depth > 0 {
		if text := normalizeSpace(el.TextContent()); text != "" {
			return text, nil
		}
	}

	if title := normalizeSpace(attr(el, "title")); title != "" {
		return title, nil
	}
	if placeholder := normalizeSpace(attr(el, "placeholder")); placeholder != "" {
		return placeholder, nil
	}
	return "", nil
}

func isLabelable(tag string) bool {
	switch tag {
	case "input", "select", "textarea", "button", "meter", "output", "progress":
		return true
	}
	return false
}

func normalizeSpace(s string) string {
	return textutil.NormalizeSpace(s)
}
