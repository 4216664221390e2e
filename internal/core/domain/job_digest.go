package domain

// TargetDigest is one target entry of a JobDigest's End report (§6).
type TargetDigest struct {
	Path     InternedString
	Accesses AccessBits
	Write    bool
	TFlags   uint32
	Unlink   bool
	CRC      CRC
}

// DepDigest is one dependency entry of a JobDigest's End report (§6).
type DepDigest struct {
	Path     InternedString
	Accesses AccessBits
	DFlags   uint32
	// Parallel is the parallel-group id shared by deps the analyzer must
	// not penalize for being reordered relative to each other (§4.5,
	// "Chronology").
	Parallel uint32
	Date     uint64
	Garbage  bool
}

// AnalysisErrReason names the kind of analysis error attached to a job's
// digest; it does not change JobExec's process exit code (§6).
type AnalysisErrReason string

const (
	AnalysisErrBadFlags      AnalysisErrReason = "bad_flags"
	AnalysisErrManualSteady  AnalysisErrReason = "manual_steady"
	AnalysisErrSpuriousUnlnk AnalysisErrReason = "spurious_unlink"
	AnalysisErrSymlinkLoop   AnalysisErrReason = "symlink_loop"
)

// AnalysisErr is one entry of a JobDigest's analysis_err list.
type AnalysisErr struct {
	Reason AnalysisErrReason
	Path   InternedString
}

// Stats carries the resource usage JobExec observed for the child (§6).
type Stats struct {
	CPU   NanosDuration
	Job   NanosDuration
	Mem   int64
	Total NanosDuration
}

// JobDigest is the full end-of-job report JobExec sends to the server in
// its End RPC (§6). Serializing then deserializing a JobDigest must be the
// identity (§8).
type JobDigest struct {
	Status       RunStatus
	Targets      []TargetDigest
	Deps         []DepDigest
	Stdout       string
	Stderr       string
	AnalysisErrs []AnalysisErr
	WStatus      int
	EndDate      uint64
	Stats        Stats
}

// Producer reports whether this digest represents a successful run: when
// false, the make loop deems the job to "produce" all of its potential
// targets so dependents surface the error rather than a missing file
// (§4.5 end(job)).
func (d JobDigest) Producer() bool {
	return d.Status == RunStatusComplete
}

// SubmitAttrs holds the attributes of a submit decision (original_source
// rpc_job.cc's SubmitAttrs; SPEC_FULL §12). The make loop's submit path
// does not build one, and the Start reply does not carry it.
type SubmitAttrs struct {
	Pressure   float64
	RetryCount int
	LiveOut    bool
	Reason     string
}
