package browser

import (
	"context"
	"strings"
	"testing"

	"github.com/browserwing/domagent/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const capturedFixture = `{
  "url": "https://example.test/login",
  "title": "Login",
  "viewport": {"width": 1280, "height": 800, "scrollX": 0, "scrollY": 40},
  "root": {
    "h": "eabc-1", "tag": "html", "attrs": {}, "kids": [
      {"h": "eabc-2", "tag": "head", "attrs": {}, "kids": []},
      {"h": "eabc-3", "tag": "body", "attrs": {},
       "style": {"display": "block", "visibility": "visible", "opacity": "1", "cursor": "auto"},
       "rect": {"x": 0, "y": 0, "width": 1280, "height": 800},
       "kids": [
        "\n  Welcome ",
        {"h": "eabc-4", "tag": "label", "attrs": {"for": "user"}, "kids": ["User name"]},
        {"h": "eabc-5", "tag": "input", "attrs": {"id": "user", "type": "text"},
         "props": {"disabled": false, "readOnly": false}, "value": "bob", "kids": []},
        {"h": "eabc-6", "tag": "my-widget", "attrs": {}, "kids": [],
         "shadow": [{"h": "eabc-7", "tag": "button", "attrs": {"id": "inner"}, "kids": ["Go"]}]},
        {"h": "eabc-8", "tag": "iframe", "attrs": {"src": "/frame"}, "kids": [],
         "frame": {"url": "https://example.test/frame", "title": "F",
                   "viewport": {"width": 300, "height": 200},
                   "root": {"h": "eabc-9", "tag": "html", "attrs": {}, "kids": [
                     {"h": "eabc-10", "tag": "body", "attrs": {}, "kids": ["inside"]}]}}},
        {"h": "eabc-11", "tag": "iframe", "attrs": {"src": "https://other.test"}, "kids": [],
         "frame": {"cross": true}},
        " tail"
      ]}
    ]
  }
}`

func TestDecodeDocument(t *testing.T) {
	doc, err := decodeDocument([]byte(capturedFixture))
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/login", doc.URL())
	assert.Equal(t, "Login", doc.Title())
	assert.Equal(t, 40.0, doc.Viewport().ScrollY)

	body := doc.Body()
	require.NotNil(t, body)
	assert.Equal(t, dom.Handle("eabc-3"), body.Handle())
	assert.Equal(t, "html", body.Parent().TagName())
	assert.Nil(t, body.Parent().Parent())
	assert.Len(t, body.Children(), 5)
	assert.Equal(t, "\n  Welcome  tail", body.DirectText())
	assert.Contains(t, body.TextContent(), "User name")
	// shadow root 内容不计入 textContent
	assert.NotContains(t, body.TextContent(), "Go")

	style, err := body.ComputedStyle()
	require.NoError(t, err)
	assert.Equal(t, "block", style.Display)
	box, err := body.BoundingBox()
	require.NoError(t, err)
	assert.Equal(t, 1280.0, box.Width)
}

func TestDecodeDocumentIndexes(t *testing.T) {
	doc, err := decodeDocument([]byte(capturedFixture))
	require.NoError(t, err)

	input := doc.ElementByID("user")
	require.NotNil(t, input)
	v, ok := input.Value()
	assert.True(t, ok)
	assert.Equal(t, "bob", v)
	disabled, ok := input.Property("disabled")
	assert.True(t, ok)
	assert.False(t, disabled)
	typ, ok := input.Attribute("TYPE")
	assert.True(t, ok)
	assert.Equal(t, "text", typ)

	labels := doc.LabelsFor("user")
	require.Len(t, labels, 1)
	assert.Equal(t, "User name", labels[0].TextContent())

	// shadow 内部的 id 不属于外层文档
	assert.Nil(t, doc.ElementByID("inner"))
	assert.Nil(t, doc.ElementByID("missing"))
}

func TestCapturedElementWithoutStyle(t *testing.T) {
	doc, err := decodeDocument([]byte(capturedFixture))
	require.NoError(t, err)

	label := doc.LabelsFor("user")[0]
	_, err = label.ComputedStyle()
	assert.Error(t, err)
	_, err = label.BoundingBox()
	assert.Error(t, err)
	_, ok := label.Value()
	assert.False(t, ok)
}

func TestCapturedShadowAndFrames(t *testing.T) {
	doc, err := decodeDocument([]byte(capturedFixture))
	require.NoError(t, err)
	kids := doc.Body().Children()

	host := kids[2]
	shadow, ok := host.ShadowRoot()
	require.True(t, ok)
	require.Len(t, shadow, 1)
	assert.Equal(t, "button", shadow[0].TagName())
	assert.Nil(t, shadow[0].Parent())

	_, ok = kids[1].ShadowRoot()
	assert.False(t, ok)

	sub, err := kids[3].ContentDocument()
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "https://example.test/frame", sub.URL())
	assert.Equal(t, "inside", sub.Body().TextContent())

	_, err = kids[4].ContentDocument()
	assert.ErrorIs(t, err, dom.ErrCrossOrigin)

	none, err := kids[1].ContentDocument()
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestDecodeDescribed(t *testing.T) {
	el, err := decodeDescribed([]byte(`{"h":"e1","tag":"div","attrs":{"class":"DraftEditor-root"},"kids":[],
		"parent":{"h":"e0","tag":"body","attrs":{},"kids":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, "div", el.TagName())
	require.NotNil(t, el.Parent())
	assert.Equal(t, dom.Handle("e0"), el.Parent().Handle())
	assert.Nil(t, el.Parent().Parent())
	assert.Empty(t, el.Children())
}

func TestDecodeDocumentBuildsTree(t *testing.T) {
	doc, err := decodeDocument([]byte(capturedFixture))
	require.NoError(t, err)

	cfg := dom.DefaultConfig()
	builder := dom.NewTreeBuilder(&cfg)
	res, err := builder.BuildTree(context.Background(), doc, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Root)
	assert.Equal(t, "body", res.Root.Tag)
	assert.Positive(t, res.Stats.Total)
	assert.Len(t, res.Mapping, res.Stats.Total)
}

func TestDecodeDocumentRejectsGarbage(t *testing.T) {
	_, err := decodeDocument([]byte(`{"root": 12}`))
	assert.Error(t, err)
}

func TestRuntimeWatchIgnoresOverlay(t *testing.T) {
	start := strings.Index(runtimeScript, "watchStart:")
	end := strings.Index(runtimeScript, "observe: (binding)")
	require.True(t, start >= 0 && end > start)

	// 动作期间的变化计数与 observe 一样排除叠加层
	watch := runtimeScript[start:end]
	assert.Equal(t, 2, strings.Count(watch, "pageRecords("))
	assert.NotContains(t, watch, "ms.length")
	assert.Contains(t, runtimeScript, "targetOf(m) !== OVERLAY")
}
