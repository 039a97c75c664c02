package textutil

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis 截断标记
const Ellipsis = "..."

// Truncate 保留前 max 个字符并追加省略标记，max<=0 表示不截断
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max]), " ") + Ellipsis
}

// NormalizeSpace 折叠连续空白并去掉首尾空白
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
