package actions

import (
	"context"
	"time"

	"github.com/browserwing/domagent/dom"
	"github.com/pkg/errors"
)

// 编辑器类名特征
const (
	draftEditorClass = "public-DraftEditor-content"
	proseMirrorClass = "ProseMirror"
)

// sleepFunc 可被 context 取消的等待
type sleepFunc func(ctx context.Context, d time.Duration) error

// EditorAdapter 不同编辑框架的输入方式
type EditorAdapter interface {
	Name() string
	// Clear 清空现有内容
	Clear(ctx context.Context, t Target) error
	// Type 输入文本，speed 为字符间隔
	Type(ctx context.Context, t Target, text string, speed time.Duration, sleep sleepFunc) error
}

// DetectAdapter 按类名特征选择适配器：Draft、ProseMirror、通用 contenteditable，其余为原生表单
func DetectAdapter(el dom.Element) EditorAdapter {
	for cur := el; cur != nil; cur = cur.Parent() {
		for _, class := range dom.ClassList(cur) {
			switch class {
			case draftEditorClass:
				return &richTextAdapter{name: "draft", signal: "textInput"}
			case proseMirrorClass:
				return &richTextAdapter{name: "prosemirror", collapseFirst: true}
			}
		}
	}
	if dom.IsContentEditable(el) {
		return &richTextAdapter{name: "contenteditable", collapseFirst: true}
	}
	return nativeAdapter{}
}

// nativeAdapter input / textarea
type nativeAdapter struct{}

func (nativeAdapter) Name() string { return "native" }

func (nativeAdapter) Clear(ctx context.Context, t Target) error {
	if err := t.ResetValueTracker(ctx); err != nil {
		return errors.Wrap(err, "reset value tracker")
	}
	if err := t.SetValue(ctx, ""); err != nil {
		return errors.Wrap(err, "clear value")
	}
	return t.DispatchInput(ctx, InputEventInit{Type: "input", InputType: "deleteContentBackward"})
}

func (nativeAdapter) Type(ctx context.Context, t Target, text string, speed time.Duration, sleep sleepFunc) error {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	current, err := t.Value(ctx)
	if err != nil {
		return errors.Wrap(err, "read value")
	}

	if speed <= 0 {
		// 一次性写入，只包一层 keydown/input/keyup
		key := CharKey(runes[0])
		if err := dispatchKey(ctx, t, "keydown", key, Modifiers{}); err != nil {
			return err
		}
		if err := writeValue(ctx, t, current+text); err != nil {
			return err
		}
		if err := t.DispatchInput(ctx, InputEventInit{Type: "input", InputType: "insertText", Data: text}); err != nil {
			return err
		}
		return dispatchKey(ctx, t, "keyup", key, Modifiers{})
	}

	for i, r := range runes {
		key := CharKey(r)
		if err := dispatchKey(ctx, t, "keydown", key, Modifiers{}); err != nil {
			return err
		}
		if err := dispatchKey(ctx, t, "keypress", key, Modifiers{}); err != nil {
			return err
		}
		current += string(r)
		if err := writeValue(ctx, t, current); err != nil {
			return err
		}
		if err := t.DispatchInput(ctx, InputEventInit{Type: "input", InputType: "insertText", Data: string(r)}); err != nil {
			return err
		}
		if err := dispatchKey(ctx, t, "keyup", key, Modifiers{}); err != nil {
			return err
		}
		if i < len(runes)-1 {
			if err := sleep(ctx, speed); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeValue 写值前先重置框架的值追踪器，否则框架看不到变化
func writeValue(ctx context.Context, t Target, value string) error {
	if err := t.ResetValueTracker(ctx); err != nil {
		return errors.Wrap(err, "reset value tracker")
	}
	if err := t.SetValue(ctx, value); err != nil {
		return errors.Wrap(err, "set value")
	}
	return nil
}

// richTextAdapter 富文本编辑器：每个字符都走完整事件序列
type richTextAdapter struct {
	name string
	// signal 插入前派发的框架专用事件
	signal        string
	collapseFirst bool
}

func (a *richTextAdapter) Name() string { return a.name }

func (a *richTextAdapter) Clear(ctx context.Context, t Target) error {
	if err := t.ClearContent(ctx); err != nil {
		return errors.Wrap(err, "clear content")
	}
	return t.DispatchInput(ctx, InputEventInit{Type: "input", InputType: "deleteContentBackward"})
}

func (a *richTextAdapter) Type(ctx context.Context, t Target, text string, speed time.Duration, sleep sleepFunc) error {
	if a.collapseFirst {
		if err := t.CollapseSelectionToEnd(ctx); err != nil {
			return errors.Wrap(err, "collapse selection")
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		key := CharKey(r)
		data := string(r)
		if err := dispatchKey(ctx, t, "keydown", key, Modifiers{}); err != nil {
			return err
		}
		if err := dispatchKey(ctx, t, "keypress", key, Modifiers{}); err != nil {
			return err
		}
		if err := t.DispatchInput(ctx, InputEventInit{Type: "beforeinput", InputType: "insertText", Data: data}); err != nil {
			return err
		}
		if a.signal != "" {
			if err := t.DispatchEvent(ctx, EventInit{Type: a.signal, Data: data}); err != nil {
				return err
			}
		}
		if err := t.InsertText(ctx, data); err != nil {
			return errors.Wrap(err, "insert text")
		}
		if err := t.DispatchInput(ctx, InputEventInit{Type: "input", InputType: "insertText", Data: data}); err != nil {
			return err
		}
		if err := dispatchKey(ctx, t, "keyup", key, Modifiers{}); err != nil {
			return err
		}
		if speed > 0 && i < len(runes)-1 {
			if err := sleep(ctx, speed); err != nil {
				return err
			}
		}
	}
	return nil
}

func dispatchKey(ctx context.Context, t Target, typ string, key KeyDefinition, mods Modifiers) error {
	err := t.DispatchKey(ctx, KeyEventInit{
		Type:      typ,
		Key:       key.Key,
		Code:      key.Code,
		KeyCode:   key.KeyCode,
		Modifiers: mods,
	})
	return errors.Wrapf(err, "dispatch %s %s", typ, key.Key)
}
