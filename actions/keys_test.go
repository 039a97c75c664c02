package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKey(t *testing.T) {
	tests := []struct {
		name string
		want KeyDefinition
	}{
		{"Enter", KeyDefinition{Key: "Enter", Code: "Enter", KeyCode: 13}},
		{"escape", KeyDefinition{Key: "Escape", Code: "Escape", KeyCode: 27}},
		{"Esc", KeyDefinition{Key: "Escape", Code: "Escape", KeyCode: 27}},
		{"Space", KeyDefinition{Key: " ", Code: "Space", KeyCode: 32}},
		{"PageDown", KeyDefinition{Key: "PageDown", Code: "PageDown", KeyCode: 34}},
		{"ArrowLeft", KeyDefinition{Key: "ArrowLeft", Code: "ArrowLeft", KeyCode: 37}},
		{"a", KeyDefinition{Key: "a", Code: "KeyA", KeyCode: 65}},
		{"Z", KeyDefinition{Key: "Z", Code: "KeyZ", KeyCode: 90}},
		{"7", KeyDefinition{Key: "7", Code: "Digit7", KeyCode: 55}},
		{"/", KeyDefinition{Key: "/", KeyCode: '/'}},
		{"é", KeyDefinition{Key: "é", KeyCode: 'é'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LookupKey(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := LookupKey("Hyper")
	assert.ErrorIs(t, err, ErrUnknownKey)
	_, err = LookupKey("")
	assert.ErrorIs(t, err, ErrUnknownKey)
}
