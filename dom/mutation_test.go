package dom_test

import (
	"testing"

	"github.com/browserwing/domagent/dom"
	"github.com/stretchr/testify/assert"
)

func TestIsSignificant(t *testing.T) {
	tests := []struct {
		name    string
		records []dom.MutationRecord
		want    bool
	}{
		{"empty", nil, false},
		{"child list", []dom.MutationRecord{{Type: "childList"}}, true},
		{"style only", []dom.MutationRecord{{Type: "attributes", AttributeName: "style"}}, false},
		{"class only", []dom.MutationRecord{{Type: "attributes", AttributeName: "class"}}, false},
		{"text only", []dom.MutationRecord{{Type: "characterData"}}, false},
		{"aria attribute", []dom.MutationRecord{{Type: "attributes", AttributeName: "aria-expanded"}}, true},
		{"mixed burst", []dom.MutationRecord{
			{Type: "characterData"},
			{Type: "attributes", AttributeName: "class"},
			{Type: "attributes", AttributeName: "disabled"},
		}, true},
		{"overlay host", []dom.MutationRecord{{Type: "childList", Target: dom.OverlayHostID}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dom.IsSignificant(tt.records))
		})
	}
}
