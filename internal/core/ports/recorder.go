package ports

import "go.forgemake.dev/forgemake/internal/core/domain"

// AccessContext is returned by every Recorder operation's "open" half and
// passed back to its "finalize" half once the libc call's result is known
// (§4.2). It carries the canonicalized path and any extra bookkeeping the
// operation needs between open and finalize.
type AccessContext struct {
	Path   string
	Report domain.SolveReport
	Simple bool
	extra  any
}

// WithExtra attaches operation-specific bookkeeping (e.g. a rename's
// second endpoint) to the context and returns it for chaining.
func (c AccessContext) WithExtra(extra any) AccessContext {
	c.extra = extra
	return c
}

// Extra returns the operation-specific bookkeeping attached via WithExtra.
func (c AccessContext) Extra() any { return c.extra }

// Recorder owns the resolved environment, the cwd, the hidden-fd set, and
// the channel to the controlling build (§4.2). One Recorder exists per
// supervised job.
//
//go:generate go run go.uber.org/mock/mockgen -source=recorder.go -destination=mocks/mock_recorder.go -package=mocks
type Recorder interface {
	// Open begins an Open access: resolve with no_follow = flags &
	// O_NOFOLLOW, classify, and on Finalize emit Read/Write/exec-hint
	// events per the flags. at anchors path the way openat's dirfd does;
	// plain open(2) passes CwdAnchor.
	Open(at ResolveAnchor, path string, flags int, comment string) AccessContext
	// Stat, ReadLnk and Access all resolve then, on Finalize, emit a Stat
	// or Lnk access; StatLike covers all three. at anchors path the way
	// fstatat's dirfd does; the plain, non-at syscalls pass CwdAnchor.
	StatLike(at ResolveAnchor, path string, noFollow bool, comment string) AccessContext
	// Lnk resolves both endpoints of a hardlink under a single lock.
	Lnk(src, dst string) AccessContext
	// Symlnk resolves the new link's location.
	Symlnk(dst string) AccessContext
	// Rename resolves both endpoints; flags carries RENAME_EXCHANGE etc.
	Rename(src, dst string, flags int) AccessContext
	// Unlnk resolves path; rmdir distinguishes unlink(2) from rmdir(2).
	Unlnk(path string, rmdir bool) AccessContext
	// Chdir updates the engine-tracked cwd under an exclusive lock.
	Chdir(path string) AccessContext
	// Exec resolves path, then (if it is a script) recursively resolves
	// up to 4 interpreter hops, each becoming an additional Exec access
	// event, and searches for its ELF dependencies.
	Exec(path string, argv, envp []string, noFollow bool) AccessContext
	// Search walks a colon-delimited search variable (PATH, LD_LIBRARY_PATH)
	// and records every attempted path as a dep.
	Search(path string, pathEnvVar string, isExec bool) AccessContext

	// Finalize emits the access event(s) implied by ctx now that the
	// syscall's result (ret, errno) is known.
	Finalize(ctx AccessContext, ret int, errno int)

	// Hide marks fd (or the inclusive range [fd, fdEnd]) as about to be
	// shadowed or released by the user, so the engine can relocate its own
	// descriptors out of the way first.
	Hide(fd, fdEnd int)

	// Events returns the channel of access events this Recorder has
	// emitted, consumed by JobExec.
	Events() <-chan domain.AccessEvent

	// IsSimple reports whether path is known to lie outside every tracked
	// domain (e.g. /etc/ld.so.cache, /dev/null) and can skip resolution
	// entirely (§4.2, "Policy").
	IsSimple(path string) bool

	// Close releases the Recorder's resources and closes its events
	// channel.
	Close()
}
