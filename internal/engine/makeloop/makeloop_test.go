package makeloop_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
	"go.forgemake.dev/forgemake/internal/engine/graph"
	"go.forgemake.dev/forgemake/internal/engine/makeloop"
)

func newLoop(t *testing.T) (*makeloop.MakeLoop, *graph.Graph) {
	t.Helper()
	g := graph.New()
	return makeloop.New(g, nullLogger{}, nil, newFakeNodeStore(), newFakeDigestStore(), nil), g
}

type fakeNodeStore struct {
	nodes map[string]*domain.Node
}

func newFakeNodeStore() *fakeNodeStore {
	return &fakeNodeStore{nodes: make(map[string]*domain.Node)}
}

func (s *fakeNodeStore) GetNode(name string) (*domain.Node, error) {
	n, ok := s.nodes[name]
	if !ok {
		return nil, domain.ErrNodeNotFound
	}
	return n, nil
}

func (s *fakeNodeStore) PutNode(n *domain.Node) error {
	s.nodes[n.Name.String()] = n
	return nil
}

type fakeDigestStore struct {
	digests map[string]*domain.JobDigest
}

func newFakeDigestStore() *fakeDigestStore {
	return &fakeDigestStore{digests: make(map[string]*domain.JobDigest)}
}

func (s *fakeDigestStore) GetJobDigest(rule, target string) (*domain.JobDigest, error) {
	d, ok := s.digests[rule+"->"+target]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return d, nil
}

func (s *fakeDigestStore) PutJobDigest(rule, target string, digest *domain.JobDigest) error {
	s.digests[rule+"->"+target] = digest
	return nil
}

func TestSetBuildable_NodeWithNoCandidatesIsSrc(t *testing.T) {
	m, g := newLoop(t)
	idx := g.NodeIdx(domain.NewInternedString("src/a.go"))
	assert.Equal(t, domain.BuildableSrc, m.SetBuildable(idx))
}

func TestSetBuildable_NodeWithOneCandidateIsYes(t *testing.T) {
	m, g := newLoop(t)
	nodeIdx := g.NodeIdx(domain.NewInternedString("out/a.o"))
	jobIdx := g.JobIdx(domain.NewInternedString("compile"), domain.NewInternedString("out/a.o"))
	m.AddCandidate(nodeIdx, jobIdx)
	assert.Equal(t, domain.BuildableYes, m.SetBuildable(nodeIdx))
}

func TestSetBuildable_NodeWithTwoCandidatesIsMaybe(t *testing.T) {
	m, g := newLoop(t)
	nodeIdx := g.NodeIdx(domain.NewInternedString("out/a.o"))
	j1 := g.JobIdx(domain.NewInternedString("rule1"), domain.NewInternedString("out/a.o"))
	j2 := g.JobIdx(domain.NewInternedString("rule2"), domain.NewInternedString("out/a.o"))
	m.AddCandidate(nodeIdx, j1)
	m.AddCandidate(nodeIdx, j2)
	assert.Equal(t, domain.BuildableMaybe, m.SetBuildable(nodeIdx))
}

func TestMakeNode_SrcNodeReachesDoneWithoutSubmitting(t *testing.T) {
	m, g := newLoop(t)
	idx := g.NodeIdx(domain.NewInternedString("src/a.go"))
	req := m.NewReq([]string{"src/a.go"}, domain.ReqOptions{})

	level, err := m.MakeNode(context.Background(), req.ID, idx, makeloop.ActionDsk)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeAnalysisDone, level)

	select {
	case n := <-m.Submissions():
		t.Fatalf("unexpected submission: %+v", n)
	default:
	}
}

func TestMakeNode_BuildableNodeSubmitsItsJob(t *testing.T) {
	m, g := newLoop(t)
	nodeIdx := g.NodeIdx(domain.NewInternedString("out/a.o"))
	jobIdx := g.JobIdx(domain.NewInternedString("compile"), domain.NewInternedString("out/a.o"))
	m.AddCandidate(nodeIdx, jobIdx)
	req := m.NewReq([]string{"out/a.o"}, domain.ReqOptions{})

	_, err := m.MakeNode(context.Background(), req.ID, nodeIdx, makeloop.ActionDsk)
	require.NoError(t, err)

	select {
	case n := <-m.Submissions():
		assert.Equal(t, jobIdx, n.JobIdx)
	default:
		t.Fatal("expected a submission notice")
	}
}

func TestStartEnd_RoundTripUpdatesNodeDigestAndWakes(t *testing.T) {
	m, g := newLoop(t)
	targetIdx := g.NodeIdx(domain.NewInternedString("out/a.o"))
	jobIdx := g.JobIdx(domain.NewInternedString("compile"), domain.NewInternedString("out/a.o"))
	m.AddCandidate(targetIdx, jobIdx)
	req := m.NewReq([]string{"out/a.o"}, domain.ReqOptions{})

	_, err := m.MakeNode(context.Background(), req.ID, targetIdx, makeloop.ActionDsk)
	require.NoError(t, err)
	notice := <-m.Submissions()

	reply, err := m.Start(context.Background(), 1, notice.JobID, "localhost", 0)
	require.NoError(t, err)
	_ = reply

	digest := domain.JobDigest{
		Status: domain.RunStatusComplete,
		Targets: []domain.TargetDigest{
			{Path: domain.NewInternedString("out/a.o"), CRC: domain.CRC{Tag: domain.CRCPlain, Hash: 7}},
		},
	}
	woken := make(chan struct{})
	g.JobReqInfo(jobIdx, req.ID).AddWatcher(woken)
	require.NoError(t, m.End(context.Background(), 1, notice.JobID, digest))

	select {
	case <-woken:
	default:
		t.Fatal("expected End to wake the job's watchers")
	}

	node := g.GetNode(targetIdx)
	assert.Equal(t, domain.CRCPlain, node.Digest.Tag)
	assert.Equal(t, uint64(7), node.Digest.Hash)

	job := g.GetJob(jobIdx)
	assert.Equal(t, domain.RunStatusComplete, job.RunStatus)
	assert.Equal(t, domain.FinalStatusOk, job.FinalStatus)
}

func TestEnd_SeqIDMismatchReturnsErrJobLost(t *testing.T) {
	m, g := newLoop(t)
	jobIdx := g.JobIdx(domain.NewInternedString("compile"), domain.NewInternedString("out/a.o"))
	jobID := m.Submit(jobIdx, ports.StartReply{})
	_, err := m.Start(context.Background(), 5, jobID, "localhost", 0)
	require.NoError(t, err)

	err = m.End(context.Background(), 99, jobID, domain.JobDigest{Status: domain.RunStatusComplete})
	assert.ErrorIs(t, err, domain.ErrJobLost)
}

func TestChkDeps_UnknownDepIsNotUpToDate(t *testing.T) {
	m, _ := newLoop(t)
	verdict, err := m.ChkDeps(context.Background(), 1, 1, []domain.DepDigest{
		{Path: domain.NewInternedString("never/seen")},
	})
	require.NoError(t, err)
	assert.False(t, verdict.UpToDate)
}

func TestDepInfos_ComputesAndCachesCRC(t *testing.T) {
	g := graph.New()
	m := makeloop.New(g, nullLogger{}, nil, newFakeNodeStore(), newFakeDigestStore(), fakeHasher{})

	crcs, err := m.DepInfos(context.Background(), 1, 1, []string{"some/path"})
	require.NoError(t, err)
	require.Len(t, crcs, 1)
	assert.Equal(t, domain.CRCPlain, crcs[0].Tag)
}

type fakeHasher struct{}

func (fakeHasher) ComputeCRC(string) (domain.CRC, error) {
	return domain.CRC{Tag: domain.CRCPlain, Hash: 1}, nil
}

type nullLogger struct{}

func (nullLogger) Debug(string, ...any) {}
func (nullLogger) Info(string, ...any)  {}
func (nullLogger) Warn(string, ...any)  {}
func (nullLogger) Error(string, ...any) {}
