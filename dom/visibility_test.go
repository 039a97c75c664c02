package dom_test

import (
	"context"
	"testing"

	"github.com/browserwing/domagent/dom"
	"github.com/browserwing/domagent/dom/domtest"
	"github.com/browserwing/domagent/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVisible(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   bool
	}{
		{"plain", `<button id="x">Go</button>`, true},
		{"display none", `<div id="x" style="display:none">a</div>`, false},
		{"visibility hidden", `<div id="x" style="visibility: hidden">a</div>`, false},
		{"inherited visibility", `<div style="visibility:hidden"><span id="x">a</span></div>`, false},
		{"opacity zero", `<div id="x" style="opacity:0">a</div>`, false},
		{"zero width", `<div id="x" style="width:0">a</div>`, false},
		{"zero rect", `<div id="x" data-rect="10,10,0,0">a</div>`, false},
		{"aria hidden", `<div id="x" aria-hidden="true">a</div>`, false},
		{"aria hidden false", `<div id="x" aria-hidden="false">a</div>`, true},
		{"inert", `<div id="x" inert>a</div>`, false},
		{"hidden input", `<input id="x" type="hidden" value="t">`, false},
		{"style failure fails open", `<div id="x" data-style-error style="display:none">a</div>`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el, _ := element(t, domtest.New(tt.markup), "x")
			assert.Equal(t, tt.want, dom.IsVisible(el))
		})
	}
}

func TestIsInViewport(t *testing.T) {
	vp := models.Viewport{Width: 800, Height: 600}
	assert.True(t, dom.IsInViewport(models.BoundingBox{X: 10, Y: 10, Width: 50, Height: 20}, vp))
	assert.True(t, dom.IsInViewport(models.BoundingBox{X: -20, Y: 590, Width: 50, Height: 20}, vp))
	assert.False(t, dom.IsInViewport(models.BoundingBox{X: 10, Y: 700, Width: 50, Height: 20}, vp))
	assert.False(t, dom.IsInViewport(models.BoundingBox{X: 10, Y: 10}, vp))
}

func TestIsNotOccluded(t *testing.T) {
	ctx := context.Background()

	p := domtest.New(`<button id="b" data-rect="200,200,100,40"><span id="inner" data-rect="210,210,80,20">Go</span></button>`)
	el, _ := element(t, p, "b")
	ok, err := dom.IsNotOccluded(ctx, el, p)
	require.NoError(t, err)
	assert.True(t, ok, "hit on a descendant counts as the element itself")

	p = domtest.New(`<button id="b" data-rect="200,200,100,40">Go</button>
		<div id="cover" data-rect="150,150,300,300"></div>`)
	el, _ = element(t, p, "b")
	ok, err = dom.IsNotOccluded(ctx, el, p)
	require.NoError(t, err)
	assert.False(t, ok)
}
