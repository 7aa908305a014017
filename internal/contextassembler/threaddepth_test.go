package contextassembler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepthFromIndex(t *testing.T) {
	root := make([]byte, threadRootBytes)

	assert.Equal(t, 0, DepthFromIndex(root))
	assert.Equal(t, 0, DepthFromIndex(nil))
	assert.Equal(t, 0, DepthFromIndex(root[:10]))

	for levels := 1; levels <= 4; levels++ {
		idx := append(append([]byte(nil), root...), make([]byte, levels*threadLevelBytes)...)
		assert.Equal(t, levels, DepthFromIndex(idx), "depth(concat(root22, %d levels)) must equal %d", levels, levels)
	}
}
