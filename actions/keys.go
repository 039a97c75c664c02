package actions

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// KeyDefinition key/code/keyCode 三元组
type KeyDefinition struct {
	Key     string
	Code    string
	KeyCode int
}

// 命名按键表，查找时忽略大小写
var namedKeys = map[string]KeyDefinition{
	"enter":      {Key: "Enter", Code: "Enter", KeyCode: 13},
	"escape":     {Key: "Escape", Code: "Escape", KeyCode: 27},
	"backspace":  {Key: "Backspace", Code: "Backspace", KeyCode: 8},
	"tab":        {Key: "Tab", Code: "Tab", KeyCode: 9},
	"space":      {Key: " ", Code: "Space", KeyCode: 32},
	"arrowup":    {Key: "ArrowUp", Code: "ArrowUp", KeyCode: 38},
	"arrowdown":  {Key: "ArrowDown", Code: "ArrowDown", KeyCode: 40},
	"arrowleft":  {Key: "ArrowLeft", Code: "ArrowLeft", KeyCode: 37},
	"arrowright": {Key: "ArrowRight", Code: "ArrowRight", KeyCode: 39},
	"home":       {Key: "Home", Code: "Home", KeyCode: 36},
	"end":        {Key: "End", Code: "End", KeyCode: 35},
	"pageup":     {Key: "PageUp", Code: "PageUp", KeyCode: 33},
	"pagedown":   {Key: "PageDown", Code: "PageDown", KeyCode: 34},
	"delete":     {Key: "Delete", Code: "Delete", KeyCode: 46},
	"insert":     {Key: "Insert", Code: "Insert", KeyCode: 45},
}

// 常见别名
var keyAliases = map[string]string{
	"esc":    "escape",
	"up":     "arrowup",
	"down":   "arrowdown",
	"left":   "arrowleft",
	"right":  "arrowright",
	"del":    "delete",
	"return": "enter",
}

// ErrUnknownKey 既不是命名按键也不是单个字符
var ErrUnknownKey = errors.New("unknown key")

// LookupKey 解析按键名；单个字符按字面量处理
func LookupKey(name string) (KeyDefinition, error) {
	lower := strings.ToLower(name)
	if alias, ok := keyAliases[lower]; ok {
		lower = alias
	}
	if def, ok := namedKeys[lower]; ok {
		return def, nil
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return CharKey(r), nil
	}
	return KeyDefinition{}, errors.Wrapf(ErrUnknownKey, "%q", name)
}

// CharKey 字面字符对应的按键
func CharKey(r rune) KeyDefinition {
	switch {
	case r == ' ':
		return namedKeys["space"]
	case r == '\n':
		return namedKeys["enter"]
	case r == '\t':
		return namedKeys["tab"]
	case r <= unicode.MaxASCII && unicode.IsLetter(r):
		up := unicode.ToUpper(r)
		return KeyDefinition{Key: string(r), Code: "Key" + string(up), KeyCode: int(up)}
	case r >= '0' && r <= '9':
		return KeyDefinition{Key: string(r), Code: "Digit" + string(r), KeyCode: int(r)}
	}
	return KeyDefinition{Key: string(r), KeyCode: int(r)}
}
