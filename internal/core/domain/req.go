package domain

import "github.com/google/uuid"

// ReqOptions carries the engine-relevant subset of the original
// make-CLI's flag vocabulary (ManualOk, KeepTmp, Jobs); the CLI syntax
// around them is out of scope (Non-goal). They are stored on each Req; the
// make loop does not read them, so none of them changes how a Req is
// built.
type ReqOptions struct {
	// ManualOk allows a manually-modified target to be accepted as-is
	// instead of triggering a rerun.
	ManualOk bool
	// KeepTmp disables the end-of-job tmp directory cleanup.
	KeepTmp bool
	// Jobs bounds how many jobs this Req may have running concurrently;
	// zero means unbounded (subject to the server's global limit).
	Jobs int
}

// Req is one user build request (§3): a set of requested root nodes, a
// zombie flag that aborts further work once cancelled, and a chrono marking
// the oldest point at which its view of the graph is still coherent.
type Req struct {
	ID    uuid.UUID
	Roots []InternedString

	Options ReqOptions

	// StartChrono is the ReqChrono value at which this Req began; nodes
	// whose Ddate predates it may need a fresh disk read for this Req.
	StartChrono ReqChrono

	zombie bool
}

// NewReq creates a Req with a fresh identifier over the given roots.
func NewReq(roots []InternedString, opts ReqOptions, startChrono ReqChrono) *Req {
	return &Req{
		ID:          uuid.New(),
		Roots:       roots,
		Options:     opts,
		StartChrono: startChrono,
	}
}

// Zombie reports whether this Req has been cancelled.
func (r *Req) Zombie() bool { return r.zombie }

// Cancel marks the Req as zombie. MakeLoop.CancelReq calls it and drops
// the Req's side-table entries; MakeNode and MakeJob do not consult Zombie.
func (r *Req) Cancel() { r.zombie = true }

// ReqInfo is the per-(Req, node-or-job) side-table entry (§3): analysis
// lattice position, outstanding-dependent count, and the watcher list woken
// when that count reaches zero.
type ReqInfo struct {
	NodeLevel NodeAnalysisLevel
	JobLevel  JobAnalysisLevel

	// NWait is the number of outstanding dependents this (Req, node|job)
	// pair is still waiting on before it can progress.
	NWait int

	// Pressure is a scheduling hint (higher means more urgent); the make
	// loop neither sets nor reads it.
	Pressure float64

	watchers []chan struct{}
}

// NewReqInfo creates a ReqInfo at the None level with no outstanding waits.
func NewReqInfo() *ReqInfo {
	return &ReqInfo{}
}

// AddWatcher registers a channel to be closed when this entry's NWait
// reaches zero and it has reached its requested level.
func (ri *ReqInfo) AddWatcher(ch chan struct{}) {
	ri.watchers = append(ri.watchers, ch)
}

// Wake closes every registered watcher channel and clears the list. It is
// idempotent: calling it with no watchers registered is a no-op.
func (ri *ReqInfo) Wake() {
	for _, ch := range ri.watchers {
		close(ch)
	}
	ri.watchers = nil
}
