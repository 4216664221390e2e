package graph_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/engine/graph"
)

func TestGraph_NodeIdxIsStableAndInterned(t *testing.T) {
	g := graph.New()
	name := domain.NewInternedString("src/main.go")

	a := g.NodeIdx(name)
	b := g.NodeIdx(name)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, g.NodeCount())

	node := g.GetNode(a)
	require.NotNil(t, node)
	assert.Equal(t, name, node.Name)
}

func TestGraph_JobIdxKeyedByRuleAndTarget(t *testing.T) {
	g := graph.New()
	rule := domain.NewInternedString("compile")
	target := domain.NewInternedString("out.o")

	a := g.JobIdx(rule, target)
	b := g.JobIdx(rule, target)
	assert.Equal(t, a, b)

	other := g.JobIdx(rule, domain.NewInternedString("other.o"))
	assert.NotEqual(t, a, other)
	assert.Equal(t, 2, g.JobCount())
}

func TestGraph_GetNode_OutOfRangeReturnsNil(t *testing.T) {
	g := graph.New()
	assert.Nil(t, g.GetNode(domain.NoIndex))
	assert.Nil(t, g.GetNode(99))
}

func TestGraph_ReqInfoCreatedOnFirstAccessAndForgotten(t *testing.T) {
	g := graph.New()
	idx := g.NodeIdx(domain.NewInternedString("a"))
	req := uuid.New()

	ri := g.NodeReqInfo(idx, req)
	ri.NWait = 3
	assert.Same(t, ri, g.NodeReqInfo(idx, req))

	g.ForgetReq(req)
	assert.NotSame(t, ri, g.NodeReqInfo(idx, req))
}
