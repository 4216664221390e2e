// Package makeloop implements the make loop (§4.5): set_buildable, make(node),
// make(job), end(job) and forget, driving the Node/Job arena in
// internal/engine/graph toward a requested Req's goal. It also answers the
// JobServer side of the RPC contract (§6) by implementing
// ports.JobServerHandler, so internal/adapters/rpc.Server can dispatch
// Start/End/ChkDeps/DepInfos/LiveOut straight into it.
//
// Grounded on the teacher's engine/scheduler.Scheduler: an errgroup-driven
// walk over a dependency graph with a mutex-protected status map and
// telemetry spans per unit of work, generalized here to the node/job
// analysis lattice and the asynchronous submit/Start handshake a real
// backend introduces.
package makeloop

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
	"go.forgemake.dev/forgemake/internal/engine/graph"
)

// MakeAction is the level a caller of make(node|job) wants reached (§4.5).
type MakeAction int

const (
	// ActionMakable only resolves buildability, never triggers a rerun.
	ActionMakable MakeAction = iota
	// ActionStatus additionally checks up-to-dateness without submitting.
	ActionStatus
	// ActionDsk requires the node's content to be current on disk,
	// submitting a rerun if needed.
	ActionDsk
)

var _ ports.JobServerHandler = (*MakeLoop)(nil)

// SubmissionNotice is pushed to Submissions() whenever make(job) decides a
// job must run; whatever drives the Backend (out of scope, §1) consumes
// these and is expected to eventually cause a JobExec supervisor to Dial in
// and call Start with the returned JobID.
type SubmissionNotice struct {
	JobID  uint32
	JobIdx int
}

type running struct {
	jobIdx int
	seqID  uint32
	vertex ports.Vertex
	reply  ports.StartReply
}

// MakeLoop holds the arena and all per-process make-loop state: pending
// submissions, running jobs keyed by the JobID handed out at Submit time,
// and the monotonic chrono counters §4.5's ordering guarantees are defined
// over.
type MakeLoop struct {
	Graph       *graph.Graph
	Logger      ports.Logger
	Telemetry   ports.Telemetry
	NodeStore   ports.NodeStore
	DigestStore ports.JobDigestStore
	Hasher      ports.Hasher

	jobChrono domain.JobChronoCounter
	reqChrono domain.ReqChronoCounter

	mu        sync.Mutex
	reqs      map[uuid.UUID]*domain.Req
	nextJobID uint32
	pending   map[uint32]*running // awaiting Start
	runningBy map[uint32]*running // answered Start, awaiting End
	submitCh  chan SubmissionNotice
}

// New creates a MakeLoop over g.
func New(g *graph.Graph, logger ports.Logger, telemetry ports.Telemetry, nodeStore ports.NodeStore, digestStore ports.JobDigestStore, hasher ports.Hasher) *MakeLoop {
	return &MakeLoop{
		Graph:       g,
		Logger:      logger,
		Telemetry:   telemetry,
		NodeStore:   nodeStore,
		DigestStore: digestStore,
		Hasher:      hasher,
		reqs:        make(map[uuid.UUID]*domain.Req),
		pending:     make(map[uint32]*running),
		runningBy:   make(map[uint32]*running),
		submitCh:    make(chan SubmissionNotice, 64),
	}
}

// Submissions yields a notice for every job the loop has decided must run.
func (m *MakeLoop) Submissions() <-chan SubmissionNotice { return m.submitCh }

// NewReq registers a new build request over roots and returns it.
func (m *MakeLoop) NewReq(roots []string, opts domain.ReqOptions) *domain.Req {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := domain.NewReq(domain.NewInternedStrings(roots), opts, m.reqChrono.Advance())
	m.reqs[req.ID] = req
	return req
}

// CancelReq marks req zombie and releases its graph footprint (§4.5 forget,
// "a Req can be cancelled at any time").
func (m *MakeLoop) CancelReq(id uuid.UUID) {
	m.mu.Lock()
	req, ok := m.reqs[id]
	if ok {
		delete(m.reqs, id)
	}
	m.mu.Unlock()
	if ok {
		req.Cancel()
		m.Graph.ForgetReq(id)
	}
}

// AddCandidate registers jobIdx as a candidate producer of nodeIdx, in
// priority order (append order is call order — callers are expected to add
// candidates from highest to lowest priority, since rule matching itself is
// out of scope here and candidates arrive pre-resolved, §1).
func (m *MakeLoop) AddCandidate(nodeIdx, jobIdx int) {
	n := m.Graph.GetNode(nodeIdx)
	if n == nil {
		return
	}
	n.Candidates = append(n.Candidates, jobIdx)
}

// SetBuildable implements set_buildable(node) (§4.5 step 1): classify,
// data-independently, whether node could be produced by some rule. Rule
// matching itself is out of scope (§1); this operates over whatever
// candidates AddCandidate has already attached; BuildableSrc is assigned to
// any node with no candidates at all, since in the absence of a rule
// language every leaf is a source by default.
func (m *MakeLoop) SetBuildable(nodeIdx int) domain.Buildable {
	n := m.Graph.GetNode(nodeIdx)
	if n == nil {
		return domain.BuildableUnknown
	}
	if n.Buildable != domain.BuildableUnknown && n.Buildable != domain.BuildableLoop {
		return n.Buildable
	}

	n.Buildable = domain.BuildableLoop // cycle guard while we classify uphill

	if dir := filepath.Dir(n.Name.String()); dir != "." && dir != "/" && dir != n.Name.String() {
		dirIdx := m.Graph.NodeIdx(domain.NewInternedString(dir))
		n.UphillDir = dirIdx
		dirNode := m.Graph.GetNode(dirIdx)
		if dirNode.Buildable == domain.BuildableUnknown {
			m.SetBuildable(dirIdx)
		}
	}

	switch {
	case len(n.Candidates) == 0:
		n.Buildable = domain.BuildableSrc
	case len(n.Candidates) == 1:
		n.Buildable = domain.BuildableYes
	default:
		n.Buildable = domain.BuildableMaybe
	}
	return n.Buildable
}

// MakeNode implements make(node, action, asking) (§4.5 step 2).
func (m *MakeLoop) MakeNode(ctx context.Context, reqID uuid.UUID, nodeIdx int, action MakeAction) (domain.NodeAnalysisLevel, error) {
	n := m.Graph.GetNode(nodeIdx)
	if n == nil {
		return domain.NodeAnalysisNone, domain.ErrNodeNotFound
	}
	ri := m.Graph.NodeReqInfo(nodeIdx, reqID)

	buildable := m.SetBuildable(nodeIdx)
	if buildable == domain.BuildableSrc || buildable == domain.BuildableSrcDir {
		// Pre-make step for a source node: trust the last-observed digest
		// until a watcher or a DepInfos query proves otherwise (§4.5 step 2).
		ri.NodeLevel = domain.NodeAnalysisDone
		ri.Wake()
		return ri.NodeLevel, nil
	}

	if !buildable.CanHaveCandidates() {
		ri.NodeLevel = domain.NodeAnalysisDone
		ri.Wake()
		return ri.NodeLevel, nil
	}

	var winner = domain.NoIndex
	for _, cand := range n.Candidates {
		level, err := m.MakeJob(ctx, reqID, cand, action, "dep of "+n.Name.String())
		if err != nil {
			return ri.NodeLevel, err
		}
		if level != domain.JobAnalysisDone {
			continue
		}
		job := m.Graph.GetJob(cand)
		if job.IsSure() {
			if winner == domain.NoIndex {
				winner = cand
			} else if winner != cand && m.Graph.GetJob(winner).Priority == job.Priority {
				return ri.NodeLevel, fmt.Errorf("%w: node %s", domain.ErrMulti, n.Name.String())
			}
		}
	}
	if winner != domain.NoIndex {
		n.ProducingJob = winner
	}

	ri.NodeLevel = domain.NodeAnalysisDone
	ri.Wake()
	return ri.NodeLevel, nil
}

// MakeJob implements make(job, action, reason) (§4.5 step 3): resolve every
// static dep first, then decide whether a rerun is required.
func (m *MakeLoop) MakeJob(ctx context.Context, reqID uuid.UUID, jobIdx int, action MakeAction, reason string) (domain.JobAnalysisLevel, error) {
	job := m.Graph.GetJob(jobIdx)
	if job == nil {
		return domain.JobAnalysisNone, domain.ErrJobNotFound
	}
	ri := m.Graph.JobReqInfo(jobIdx, reqID)
	if ri.JobLevel == domain.JobAnalysisDone && job.RunStatus != domain.RunStatusNew {
		ri.Wake()
		return ri.JobLevel, nil
	}

	ri.JobLevel = domain.JobAnalysisDep
	depsReady := true
	for _, depIdx := range job.StaticDeps {
		level, err := m.MakeNode(ctx, reqID, depIdx, ActionDsk)
		if err != nil {
			return ri.JobLevel, err
		}
		if level != domain.NodeAnalysisDone {
			depsReady = false
		}
	}
	if !depsReady {
		return ri.JobLevel, nil
	}

	if job.Frozen {
		ri.JobLevel = domain.JobAnalysisDone
		ri.Wake()
		return ri.JobLevel, nil
	}

	rerun := m.needsRerun(jobIdx, job)
	if !rerun || action == ActionMakable {
		ri.JobLevel = domain.JobAnalysisDone
		ri.Wake()
		return ri.JobLevel, nil
	}

	ri.JobLevel = domain.JobAnalysisQueued
	m.submit(jobIdx)
	ri.JobLevel = domain.JobAnalysisExec
	return ri.JobLevel, nil
}

// needsRerun implements these rerun triggers of §4.5 step 3: never having
// run, a static dep whose CRC has never been observed, a target with no
// file (NoTarget), or a target now produced by another job
// (PolutedTarget). Dep CRCs are not compared with the values the job saw
// at its last run.
func (m *MakeLoop) needsRerun(jobIdx int, job *domain.Job) bool {
	if job.RunStatus == domain.RunStatusNew {
		return true
	}
	for _, depIdx := range job.StaticDeps {
		dep := m.Graph.GetNode(depIdx)
		if dep == nil || !dep.Digest.IsSteady() {
			return true
		}
	}
	for _, tIdx := range job.StarTargets {
		target := m.Graph.GetNode(tIdx)
		if target == nil || target.Digest.Tag == domain.CRCNone {
			return true // NoTarget
		}
		if target.ProducingJob != jobIdx {
			return true // PolutedTarget
		}
	}
	return false
}

// submit hands jobIdx a JobID and notifies Submissions(); the pending entry
// carries a zero-value StartReply, since synthesizing a real Cmd/Env/Cwd
// from a rule is out of scope (§1). A
// wiring layer that does have a rule store should call Submit directly
// instead of relying on make(job)'s own submit path when it needs a
// concrete StartReply.
func (m *MakeLoop) submit(jobIdx int) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJobID++
	jobID := m.nextJobID
	m.pending[jobID] = &running{jobIdx: jobIdx}
	select {
	case m.submitCh <- SubmissionNotice{JobID: jobID, JobIdx: jobIdx}:
	default:
		m.Logger.Warn("submission queue full, dropping notice", "job_id", jobID)
	}
	return jobID
}

// Submit lets a caller that does have a concrete command line (tests, or a
// wiring layer with its own rule store) pre-register the StartReply a
// later Start call for jobIdx should receive.
func (m *MakeLoop) Submit(jobIdx int, reply ports.StartReply) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJobID++
	jobID := m.nextJobID
	m.pending[jobID] = &running{jobIdx: jobIdx, reply: reply}
	select {
	case m.submitCh <- SubmissionNotice{JobID: jobID, JobIdx: jobIdx}:
	default:
		m.Logger.Warn("submission queue full, dropping notice", "job_id", jobID)
	}
	return jobID
}

// Forget implements forget(node|job) (§4.5 step 5): bump the match
// generation so the next make() redoes set_buildable, drop the node's
// cached digest so it is re-read, and reset the job's run status so it is
// treated as never having run.
func (m *MakeLoop) Forget(nodeIdx, jobIdx int) {
	if n := m.Graph.GetNode(nodeIdx); n != nil {
		n.MatchGen++
		n.Buildable = domain.BuildableUnknown
		n.Digest = domain.CRC{Tag: domain.CRCUnknown}
	}
	if j := m.Graph.GetJob(jobIdx); j != nil {
		j.MatchGen++
		j.RunStatus = domain.RunStatusNew
	}
}
