package domain

import "go.trai.ch/zerr"

// Sentinel errors for the named failure modes of the engine. None of these
// are control-flow exceptions: path resolution and syscall-wrapper code
// never propagate an error upward, they only annotate an access event or a
// job's analysis_err list. These sentinels exist so that callers elsewhere
// in the engine (the make loop, JobExec) can compare with errors.Is.
var (
	// ErrNodeAlreadyExists is returned by the graph arena when a node name collides.
	ErrNodeAlreadyExists = zerr.New("node already exists")

	// ErrNodeNotFound is returned when a requested node is not present in the graph.
	ErrNodeNotFound = zerr.New("node not found")

	// ErrJobNotFound is returned when a requested job is not present in the graph.
	ErrJobNotFound = zerr.New("job not found")

	// ErrMissingDependency is returned when a job references a dependency that doesn't exist in the graph.
	ErrMissingDependency = zerr.New("missing dependency")

	// ErrCycleDetected marks a dependency cycle found outside of the dedicated
	// Infinite handling (e.g. during arena validation in tests).
	ErrCycleDetected = zerr.New("cycle detected")

	// ErrMulti is the Multi failure mode (§7.5): two rules at equal priority
	// both produce the same node. Fatal for that node.
	ErrMulti = zerr.New("multiple rules produce node at equal priority")

	// ErrInfinite is the Infinite failure mode (§7.6): the rule chain would
	// produce an infinite-depth dependency path.
	ErrInfinite = zerr.New("infinite rule chain")

	// ErrLost is the Lost failure mode (§7.7): a job supervisor crashed and
	// the server learned about it via a Heartbeat mismatch.
	ErrLost = zerr.New("job supervisor lost")

	// ErrBadFlags is the BadFlags failure mode (§7.3): a target was accessed
	// with a flag combination inconsistent with its rule.
	ErrBadFlags = zerr.New("bad access flags for target")

	// ErrPolutedTarget fires when a target on disk is owned by a different job.
	ErrPolutedTarget = zerr.New("target poluted by another job")

	// ErrNoTarget fires when an expected target is missing on disk after a job ran.
	ErrNoTarget = zerr.New("target missing on disk")

	// ErrManualSteady fires when a target was modified outside the engine.
	ErrManualSteady = zerr.New("target manually modified")

	// ErrSymlinkLoop is returned by PathResolver when the per-call symlink
	// bound (sysconf(_SC_SYMLOOP_MAX)) is exceeded.
	ErrSymlinkLoop = zerr.New("symlink resolution loop")

	// ErrReqZombie is returned when work is attempted against a cancelled Req.
	ErrReqZombie = zerr.New("req is zombie")

	// ErrJobLost is returned by the make loop's End when the reporting
	// supervisor's job is not running or its seqID no longer matches.
	ErrJobLost = zerr.New("job lost: server connection dropped before end")
)
