package dom_test

import (
	"context"
	"testing"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/dom/domtest"
	"github.com/browserwing/domagent/models"
	"github.com/stretchr/testify/require"
)

func element(t *testing.T, p *domtest.Page, id string) (dom.Element, dom.Document) {
	t.Helper()
	doc, err := p.Capture(context.Background())
	require.NoError(t, err)
	el := doc.ElementByID(id)
	require.NotNil(t, el, "element #%s", id)
	return el, doc
}

func buildResult(t *testing.T, p *domtest.Page, prev *dom.DomSnapshot, cfg *dom.Config) *dom.BuildResult {
	t.Helper()
	doc, err := p.Capture(context.Background())
	require.NoError(t, err)
	res, err := dom.NewTreeBuilder(cfg).BuildTree(context.Background(), doc, prev)
	require.NoError(t, err)
	return res
}

func snapshot(t *testing.T, p *domtest.Page, prev *dom.DomSnapshot, cfg *dom.Config) *dom.DomSnapshot {
	t.Helper()
	res := buildResult(t, p, prev, cfg)
	return dom.NewDomSnapshot(res, models.PageContext{URL: p.URL()}, p)
}

// byHTMLID 在树中按 id 属性查找节点
func byHTMLID(root *models.VirtualNode, id string) *models.VirtualNode {
	var found *models.VirtualNode
	root.Walk(func(n *models.VirtualNode) bool {
		if found != nil {
			return false
		}
		if n.HTMLID() == id {
			found = n
			return false
		}
		return true
	})
	return found
}

func byTag(root *models.VirtualNode, tag string) []*models.VirtualNode {
	var out []*models.VirtualNode
	root.Walk(func(n *models.VirtualNode) bool {
		if n.Tag == tag {
			out = append(out, n)
		}
		return true
	})
	return out
}
