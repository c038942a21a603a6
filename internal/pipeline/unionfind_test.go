package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionFindDisjointByDefault(t *testing.T) {
	uf := newUnionFind(4)
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			assert.NotEqual(t, uf.find(i), uf.find(j))
		}
	}
}

func TestUnionFindTransitiveMerge(t *testing.T) {
	uf := newUnionFind(5)
	uf.union(0, 1)
	uf.union(1, 2)
	assert.Equal(t, uf.find(0), uf.find(2))
	assert.NotEqual(t, uf.find(0), uf.find(3))

	uf.union(3, 4)
	uf.union(2, 4)
	root := uf.find(0)
	for i := 1; i < 5; i++ {
		assert.Equal(t, root, uf.find(i))
	}
}

func TestUnionFindIdempotentUnion(t *testing.T) {
	uf := newUnionFind(3)
	uf.union(0, 1)
	uf.union(0, 1)
	uf.union(1, 0)
	assert.Equal(t, uf.find(0), uf.find(1))
	assert.NotEqual(t, uf.find(0), uf.find(2))
}
