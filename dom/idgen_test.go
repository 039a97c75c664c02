package dom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomNodeID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := RandomNodeID()
		assert.Len(t, id, NodeIDLength)
		for _, c := range id {
			assert.True(t, strings.ContainsRune(nodeIDAlphabet, c), "unexpected %q in %s", c, id)
		}
		seen[id] = true
	}
	assert.Len(t, seen, 1000)
}

func TestNewUniqueIDRetriesOnCollision(t *testing.T) {
	seq := []string{"aaaa", "aaaa", "bbbb"}
	calls := 0
	gen := func() string {
		id := seq[calls]
		calls++
		return id
	}
	used := map[string]struct{}{"aaaa": {}}
	assert.Equal(t, "bbbb", newUniqueID(gen, used))
	assert.Equal(t, 3, calls)
}
