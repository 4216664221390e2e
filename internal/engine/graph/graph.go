// Package graph holds the Node/Job arena (§3, §9): the build graph itself,
// stored as two flat slices indexed by int rather than linked by pointer,
// so that a Node's producing-job and a Job's dependency nodes can refer to
// each other without a reference cycle the Go garbage collector would
// otherwise have to reason about. Node.ProducingJob, Node.Candidates,
// Job.StaticDeps and Job.StarTargets are all arena indices into this
// package's Graph, resolved through GetNode/GetJob.
package graph

import (
	"sync"

	"github.com/google/uuid"

	"go.forgemake.dev/forgemake/internal/core/domain"
)

// Graph is the arena: every Node and Job the engine has ever heard of,
// named by path or (rule, target) respectively, addressable by a stable
// int index that survives for the life of the process.
type Graph struct {
	mu sync.RWMutex

	nodes    []*domain.Node
	nodeIdx  map[domain.InternedString]int
	jobs     []*domain.Job
	jobIdx   map[jobKey]int
	nodeReqs []map[uuid.UUID]*domain.ReqInfo
	jobReqs  []map[uuid.UUID]*domain.ReqInfo
}

type jobKey struct {
	rule   domain.InternedString
	target domain.InternedString
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		nodeIdx: make(map[domain.InternedString]int),
		jobIdx:  make(map[jobKey]int),
	}
}

// NodeIdx returns the arena index for name, creating the node if it does
// not yet exist, the way the original engine interns every path it ever
// sees into a Node the first time it is mentioned by any rule or access
// event.
func (g *Graph) NodeIdx(name domain.InternedString) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if idx, ok := g.nodeIdx[name]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, domain.NewNode(name))
	g.nodeReqs = append(g.nodeReqs, make(map[uuid.UUID]*domain.ReqInfo))
	g.nodeIdx[name] = idx
	return idx
}

// GetNode resolves idx to its Node. idx of domain.NoIndex or out of range
// returns nil.
func (g *Graph) GetNode(idx int) *domain.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if idx < 0 || idx >= len(g.nodes) {
		return nil
	}
	return g.nodes[idx]
}

// JobIdx returns the arena index for (rule, target), creating the job if
// it does not yet exist.
func (g *Graph) JobIdx(rule, target domain.InternedString) int {
	key := jobKey{rule, target}
	g.mu.Lock()
	defer g.mu.Unlock()
	if idx, ok := g.jobIdx[key]; ok {
		return idx
	}
	idx := len(g.jobs)
	g.jobs = append(g.jobs, domain.NewJob(rule, target))
	g.jobReqs = append(g.jobReqs, make(map[uuid.UUID]*domain.ReqInfo))
	g.jobIdx[key] = idx
	return idx
}

// GetJob resolves idx to its Job. idx of domain.NoIndex or out of range
// returns nil.
func (g *Graph) GetJob(idx int) *domain.Job {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if idx < 0 || idx >= len(g.jobs) {
		return nil
	}
	return g.jobs[idx]
}

// NodeReqInfo returns the ReqInfo for (node idx, req), creating it at the
// None level on first access.
func (g *Graph) NodeReqInfo(idx int, req uuid.UUID) *domain.ReqInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	ri, ok := g.nodeReqs[idx][req]
	if !ok {
		ri = domain.NewReqInfo()
		g.nodeReqs[idx][req] = ri
	}
	return ri
}

// JobReqInfo returns the ReqInfo for (job idx, req), creating it at the
// None level on first access.
func (g *Graph) JobReqInfo(idx int, req uuid.UUID) *domain.ReqInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	ri, ok := g.jobReqs[idx][req]
	if !ok {
		ri = domain.NewReqInfo()
		g.jobReqs[idx][req] = ri
	}
	return ri
}

// ForgetReq drops every per-(node|job, req) side-table entry for req, the
// way forget() releases a cancelled or completed Req's footprint from the
// arena (§4.5 forget).
func (g *Graph) ForgetReq(req uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.nodeReqs {
		delete(m, req)
	}
	for _, m := range g.jobReqs {
		delete(m, req)
	}
}

// WakeJob wakes every Req's watchers on jobIdx, regardless of which Req
// registered them; forget() (not this) is what actually releases a
// cancelled Req's entries (§4.5 step 4, "wake all watchers").
func (g *Graph) WakeJob(jobIdx int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if jobIdx < 0 || jobIdx >= len(g.jobReqs) {
		return
	}
	for _, ri := range g.jobReqs[jobIdx] {
		ri.Wake()
	}
}

// WakeNode wakes every Req's watchers on nodeIdx.
func (g *Graph) WakeNode(nodeIdx int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if nodeIdx < 0 || nodeIdx >= len(g.nodeReqs) {
		return
	}
	for _, ri := range g.nodeReqs[nodeIdx] {
		ri.Wake()
	}
}

// NodeCount reports how many nodes the arena currently holds.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// JobCount reports how many jobs the arena currently holds.
func (g *Graph) JobCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.jobs)
}
