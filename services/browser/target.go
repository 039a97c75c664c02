package browser

import (
	"context"
	"encoding/json"

	"github.com/browserwing/domagent/actions"
	"github.com/browserwing/domagent/dom"
)

// rodTarget 通过 handle 操作页面元素
type rodTarget struct {
	p *RodPage
	h dom.Handle
}

type modifierInit struct {
	Alt   bool `json:"alt"`
	Ctrl  bool `json:"ctrl"`
	Meta  bool `json:"meta"`
	Shift bool `json:"shift"`
}

func modifiersOf(m actions.Modifiers) modifierInit {
	return modifierInit{Alt: m.Alt, Ctrl: m.Ctrl, Meta: m.Meta, Shift: m.Shift}
}

type mouseInit struct {
	modifierInit
	Type    string  `json:"type"`
	Button  int     `json:"button"`
	Buttons int     `json:"buttons"`
	Detail  int     `json:"detail"`
	ClientX float64 `json:"clientX"`
	ClientY float64 `json:"clientY"`
}

type keyInit struct {
	modifierInit
	Type    string `json:"type"`
	Key     string `json:"key"`
	Code    string `json:"code"`
	KeyCode int    `json:"keyCode"`
}

type inputInit struct {
	Type      string `json:"type"`
	InputType string `json:"inputType,omitempty"`
	Data      string `json:"data,omitempty"`
}

func (t *rodTarget) Handle() dom.Handle { return t.h }

func (t *rodTarget) Describe(ctx context.Context) (dom.Element, error) {
	var raw json.RawMessage
	if err := t.p.call(ctx, &raw, "describe", t.h); err != nil {
		return nil, err
	}
	el, err := decodeDescribed(raw)
	if err != nil {
		return nil, err
	}
	return el, nil
}

func (t *rodTarget) ScrollIntoView(ctx context.Context, smooth bool) error {
	return t.p.call(ctx, nil, "scrollIntoView", t.h, smooth)
}

func (t *rodTarget) Focus(ctx context.Context) error {
	return t.p.call(ctx, nil, "focus", t.h)
}

func (t *rodTarget) Blur(ctx context.Context) error {
	return t.p.call(ctx, nil, "blur", t.h)
}

func (t *rodTarget) DispatchMouse(ctx context.Context, ev actions.MouseEventInit) error {
	return t.p.call(ctx, nil, "mouse", t.h, mouseInit{
		modifierInit: modifiersOf(ev.Modifiers),
		Type:         ev.Type,
		Button:       ev.Button,
		Buttons:      ev.Buttons,
		Detail:       ev.Detail,
		ClientX:      ev.ClientX,
		ClientY:      ev.ClientY,
	})
}

func (t *rodTarget) DispatchKey(ctx context.Context, ev actions.KeyEventInit) error {
	return t.p.call(ctx, nil, "key", t.h, keyInit{
		modifierInit: modifiersOf(ev.Modifiers),
		Type:         ev.Type,
		Key:          ev.Key,
		Code:         ev.Code,
		KeyCode:      ev.KeyCode,
	})
}

func (t *rodTarget) DispatchInput(ctx context.Context, ev actions.InputEventInit) error {
	return t.p.call(ctx, nil, "input", t.h, inputInit{Type: ev.Type, InputType: ev.InputType, Data: ev.Data})
}

func (t *rodTarget) DispatchEvent(ctx context.Context, ev actions.EventInit) error {
	return t.p.call(ctx, nil, "event", t.h, inputInit{Type: ev.Type, Data: ev.Data})
}

func (t *rodTarget) ResetValueTracker(ctx context.Context) error {
	return t.p.call(ctx, nil, "resetValueTracker", t.h)
}

func (t *rodTarget) SetValue(ctx context.Context, value string) error {
	return t.p.call(ctx, nil, "setValue", t.h, value)
}

func (t *rodTarget) Value(ctx context.Context) (string, error) {
	var v string
	if err := t.p.call(ctx, &v, "value", t.h); err != nil {
		return "", err
	}
	return v, nil
}

func (t *rodTarget) InsertText(ctx context.Context, text string) error {
	return t.p.call(ctx, nil, "insertText", t.h, text)
}

func (t *rodTarget) ClearContent(ctx context.Context) error {
	return t.p.call(ctx, nil, "clearContent", t.h)
}

func (t *rodTarget) CollapseSelectionToEnd(ctx context.Context) error {
	return t.p.call(ctx, nil, "collapseToEnd", t.h)
}
