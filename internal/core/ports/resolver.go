package ports

import "go.forgemake.dev/forgemake/internal/core/domain"

// PathResolver turns (dirfd, path, no_follow) into a canonical real path
// plus a SolveReport classification and the ordered list of symlinks
// traversed (§4.1).
//
//go:generate go run go.uber.org/mock/mockgen -source=resolver.go -destination=mocks/mock_resolver.go -package=mocks
type PathResolver interface {
	// Resolve resolves path relative to at (at.UseCwd means the
	// engine-tracked current directory; otherwise the directory open as
	// at.Dirfd in process at.Pid) and returns the SolveReport described in
	// §3 and §4.1.
	Resolve(at ResolveAnchor, path string, noFollow bool) (domain.SolveReport, error)

	// Chdir updates the engine-tracked cwd under the resolver's exclusive
	// lock (§4.2 Chdir), returning the new canonical cwd.
	Chdir(path string) (string, error)

	// Cwd returns the engine-tracked current directory in view-space.
	Cwd() string
}

// ResolveAnchor is the "at" argument to Resolve: either the engine-tracked
// cwd or a directory file descriptor recovered via /proc/<pid>/fd/<fd>.
type ResolveAnchor struct {
	// UseCwd, when true, anchors resolution at the engine-tracked cwd
	// rather than at Dirfd.
	UseCwd bool
	Dirfd  int
	Pid    int
}

// CwdAnchor is the ResolveAnchor meaning "resolve relative to the
// engine-tracked cwd".
var CwdAnchor = ResolveAnchor{UseCwd: true}
