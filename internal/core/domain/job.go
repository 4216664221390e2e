package domain

// RunStatus records the outcome of the most recent execution attempt of a
// job, as distinct from FinalStatus which is the job's steady-state verdict
// consumed by dependents.
type RunStatus int

const (
	RunStatusNew RunStatus = iota
	RunStatusComplete
	RunStatusNoDep
	RunStatusNoFile
	RunStatusTargetErr
	RunStatusDepErr
	RunStatusRsrcsErr
	RunStatusErr
	// RunStatusKilled marks a job whose child was killed by JobExec's
	// killing thread rather than exiting or erroring on its own (§4.4,
	// "Failure semantics").
	RunStatusKilled
)

// FinalStatus is the job's verdict as observed by dependents once analysis
// at a given Req has settled.
type FinalStatus int

const (
	FinalStatusNew FinalStatus = iota
	FinalStatusOk
	FinalStatusErr
	FinalStatusLost
	FinalStatusKilled
)

// JobAnalysisLevel is the per-Req, per-job position in the analysis
// lattice: None < Dep < Queued < Exec < Done (§4.5).
type JobAnalysisLevel int

const (
	JobAnalysisNone JobAnalysisLevel = iota
	JobAnalysisDep
	JobAnalysisQueued
	JobAnalysisExec
	JobAnalysisDone
)

// Job is a rule instantiated on a target (§3). Like Node, a Job never owns
// pointers to the nodes it depends on or targets; those are arena indices
// resolved through the graph.
type Job struct {
	// Rule and Target together are the job's identity.
	Rule   InternedString
	Target InternedString

	// StaticDeps are the arena indices of the job's declared (non-learned)
	// dependency nodes, in declaration order.
	StaticDeps []int

	// StarTargets are the arena indices of star-pattern targets learned
	// after the job's first successful run.
	StarTargets []int

	BestExecTime NanosDuration

	RunStatus   RunStatus
	FinalStatus FinalStatus

	// CmdGen and RsrcsGen are generation counters bumped when the job's
	// command or resource requirements change underneath it.
	CmdGen   uint32
	RsrcsGen uint32

	// MatchGen cheaply invalidates "sure" status the same way Node.MatchGen
	// does.
	MatchGen uint32

	// Frozen jobs behave like a source: their CRC is trusted without rerun,
	// and reading one produces a user warning.
	Frozen bool

	// Priority is the job's rational priority among candidates for the
	// same node; ties at equal priority are a Multi error (§7.5).
	Priority float64

	StartChrono JobChrono
	EndChrono   JobChrono
}

// NanosDuration avoids importing time into the hot-path domain types while
// still giving BestExecTime arithmetic semantics identical to time.Duration.
type NanosDuration int64

// NewJob creates a Job in its initial, never-run state.
func NewJob(rule, target InternedString) *Job {
	return &Job{
		Rule:        rule,
		Target:      target,
		RunStatus:   RunStatusNew,
		FinalStatus: FinalStatusNew,
	}
}

// IsSure reports whether this job is known, data-independently, to produce
// its target if run — the tie-break used by make(node) when more than one
// job at the same priority claims a node (§4.5).
func (j *Job) IsSure() bool {
	return j.FinalStatus != FinalStatusErr && j.RunStatus != RunStatusErr
}
