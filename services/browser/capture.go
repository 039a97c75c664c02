package browser

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/models"
	"github.com/pkg/errors"
)

// nodeData 页面运行时序列化出的元素
type nodeData struct {
	H      dom.Handle          `json:"h"`
	Tag    string              `json:"tag"`
	Attrs  map[string]string   `json:"attrs"`
	Style  *dom.Style          `json:"style"`
	Rect   *models.BoundingBox `json:"rect"`
	Props  map[string]bool     `json:"props"`
	Value  *string             `json:"value"`
	Kids   []kidData           `json:"kids"`
	Shadow []*nodeData         `json:"shadow"`
	Frame  *documentData       `json:"frame"`
	// Parent 只在 describe 结果中出现
	Parent *nodeData `json:"parent"`
}

// kidData 子节点：文本节点为字符串，元素为对象
type kidData struct {
	Text string
	Node *nodeData
}

func (k *kidData) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &k.Text)
	}
	k.Node = &nodeData{}
	return json.Unmarshal(data, k.Node)
}

type documentData struct {
	Cross    bool            `json:"cross"`
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	Viewport models.Viewport `json:"viewport"`
	Root     *nodeData       `json:"root"`
}

// capturedDocument 一次捕获的只读文档视图
type capturedDocument struct {
	data   *documentData
	root   *capturedElement
	body   *capturedElement
	ids    map[string]*capturedElement
	labels map[string][]dom.Element
}

// decodeDocument 解析 capture 的结果
func decodeDocument(raw []byte) (*capturedDocument, error) {
	var data documentData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "decode captured document")
	}
	return newCapturedDocument(&data), nil
}

func newCapturedDocument(data *documentData) *capturedDocument {
	doc := &capturedDocument{
		data:   data,
		ids:    map[string]*capturedElement{},
		labels: map[string][]dom.Element{},
	}
	if data.Root != nil {
		doc.root = doc.link(data.Root, nil)
	}
	return doc
}

// link 建立父子关系并索引 id 与 label[for]，shadow 内部不进入文档索引
func (d *capturedDocument) link(n *nodeData, parent *capturedElement) *capturedElement {
	el := &capturedElement{d: n, parent: parent, doc: d}
	if d.body == nil && n.Tag == "body" {
		d.body = el
	}
	if id := n.Attrs["id"]; id != "" {
		if _, dup := d.ids[id]; !dup {
			d.ids[id] = el
		}
	}
	if n.Tag == "label" {
		if target := n.Attrs["for"]; target != "" {
			d.labels[target] = append(d.labels[target], el)
		}
	}
	for _, k := range n.Kids {
		if k.Node != nil {
			el.kids = append(el.kids, d.link(k.Node, el))
		}
	}
	if n.Shadow != nil {
		el.hasShadow = true
		shadowDoc := &capturedDocument{ids: map[string]*capturedElement{}, labels: map[string][]dom.Element{}}
		for _, s := range n.Shadow {
			child := shadowDoc.link(s, nil)
			child.doc = d
			el.shadow = append(el.shadow, child)
		}
	}
	return el
}

func (d *capturedDocument) URL() string               { return d.data.URL }
func (d *capturedDocument) Title() string             { return d.data.Title }
func (d *capturedDocument) Viewport() models.Viewport { return d.data.Viewport }

func (d *capturedDocument) Body() dom.Element {
	if d.body == nil {
		return nil
	}
	return d.body
}

func (d *capturedDocument) ElementByID(id string) dom.Element {
	if el, ok := d.ids[id]; ok {
		return el
	}
	return nil
}

func (d *capturedDocument) LabelsFor(id string) []dom.Element {
	return d.labels[id]
}

// capturedElement 实现 dom.Element
type capturedElement struct {
	d         *nodeData
	parent    *capturedElement
	doc       *capturedDocument
	kids      []*capturedElement
	shadow    []*capturedElement
	hasShadow bool
}

func (e *capturedElement) Handle() dom.Handle { return e.d.H }
func (e *capturedElement) TagName() string    { return e.d.Tag }

func (e *capturedElement) Attribute(name string) (string, bool) {
	v, ok := e.d.Attrs[strings.ToLower(name)]
	return v, ok
}

func (e *capturedElement) ComputedStyle() (*dom.Style, error) {
	if e.d.Style == nil {
		return nil, errors.Errorf("computed style unavailable for <%s>", e.d.Tag)
	}
	return e.d.Style, nil
}

func (e *capturedElement) BoundingBox() (models.BoundingBox, error) {
	if e.d.Rect == nil {
		return models.BoundingBox{}, errors.Errorf("bounding box unavailable for <%s>", e.d.Tag)
	}
	return *e.d.Rect, nil
}

func (e *capturedElement) Parent() dom.Element {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

func (e *capturedElement) Children() []dom.Element {
	out := make([]dom.Element, 0, len(e.kids))
	for _, k := range e.kids {
		out = append(out, k)
	}
	return out
}

func (e *capturedElement) DirectText() string {
	var sb strings.Builder
	for _, k := range e.d.Kids {
		if k.Node == nil {
			sb.WriteString(k.Text)
		}
	}
	return sb.String()
}

func (e *capturedElement) TextContent() string {
	var sb strings.Builder
	writeText(&sb, e.d)
	return sb.String()
}

func writeText(sb *strings.Builder, n *nodeData) {
	for _, k := range n.Kids {
		if k.Node != nil {
			writeText(sb, k.Node)
		} else {
			sb.WriteString(k.Text)
		}
	}
}

func (e *capturedElement) Value() (string, bool) {
	if e.d.Value == nil {
		return "", false
	}
	return *e.d.Value, true
}

func (e *capturedElement) Property(name string) (bool, bool) {
	v, ok := e.d.Props[name]
	return v, ok
}

func (e *capturedElement) ContentDocument() (dom.Document, error) {
	f := e.d.Frame
	if f == nil {
		return nil, nil
	}
	if f.Cross || f.Root == nil {
		return nil, dom.ErrCrossOrigin
	}
	return newCapturedDocument(f), nil
}

func (e *capturedElement) ShadowRoot() ([]dom.Element, bool) {
	if !e.hasShadow {
		return nil, false
	}
	out := make([]dom.Element, 0, len(e.shadow))
	for _, s := range e.shadow {
		out = append(out, s)
	}
	return out, true
}

// describedElement describe 的结果只带祖先链，没有子元素
func decodeDescribed(raw []byte) (*capturedElement, error) {
	var n nodeData
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, errors.Wrap(err, "decode described element")
	}
	return linkAncestors(&n), nil
}

func linkAncestors(n *nodeData) *capturedElement {
	el := &capturedElement{d: n}
	if n.Parent != nil {
		el.parent = linkAncestors(n.Parent)
	}
	return el
}
