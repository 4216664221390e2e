// Package autodep implements PathResolver (§4.1): it turns a
// (dirfd, path, no_follow) triple observed by the interposer into a
// canonical real path plus a SolveReport classification.
package autodep

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

var _ ports.PathResolver = (*Resolver)(nil)

// symloopMax mirrors glibc's _SC_SYMLOOP_MAX (40 on Linux). The resolver
// runs on the Go side of the boundary (JobExec and tests); the cgo
// interposer shim queries the real sysconf value and passes it down
// through the Recorder configuration, but absent that wiring this constant
// is the resolver's own loop bound (§4.1 step 5).
const symloopMax = 40

// fdAnchorCacheSize bounds the dirfd-to-path memoization cache (§+11
// DOMAIN STACK: "directory-fd -> path memoization for the resolver fast
// path").
const fdAnchorCacheSize = 1024

// simplePaths are known to lie outside every tracked domain; IsSimple
// short-circuits resolution entirely for them (§4.2, "Policy").
var simplePaths = map[string]bool{
	"/etc/ld.so.cache": true,
	"/etc/ld.so.conf":  true,
	"/dev/null":        true,
	"/dev/zero":        true,
	"/dev/urandom":     true,
	"/dev/random":      true,
	"/dev/tty":         true,
}

// Resolver implements ports.PathResolver.
type Resolver struct {
	mu  sync.Mutex
	env domain.AutodepEnv
	cwd string

	// fdAnchors memoizes readlink("/proc/<pid>/fd/<fd>") lookups, keyed by
	// (pid, fd), so repeated openat(dirfd, ...) calls against the same
	// long-lived directory descriptor don't re-stat /proc on every call.
	fdAnchors *lru.Cache[fdKey, string]
}

type fdKey struct {
	pid int
	fd  int
}

// New creates a Resolver configured from env, with cwd as the initial
// engine-tracked working directory in view-space.
func New(env domain.AutodepEnv, cwd string) (*Resolver, error) {
	cache, err := lru.New[fdKey, string](fdAnchorCacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		env:       env,
		cwd:       cwd,
		fdAnchors: cache,
	}, nil
}

// Cwd returns the engine-tracked current directory in view-space.
func (r *Resolver) Cwd() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cwd
}

// Chdir updates the engine-tracked cwd under the resolver's exclusive lock
// (§4.2 Chdir: "cwd changes race with every other path resolution").
func (r *Resolver) Chdir(path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := path
	if !filepath.IsAbs(path) {
		start = filepath.Join(r.cwd, path)
	}
	w := &walk{r: r}
	real, _, err := w.run(start, false)
	if err != nil {
		return "", err
	}
	r.cwd = r.tmpDiskToView(real)
	return r.cwd, nil
}

// Resolve implements ports.PathResolver.Resolve (§4.1).
func (r *Resolver) Resolve(at ports.ResolveAnchor, path string, noFollow bool) (domain.SolveReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	anchor, err := r.anchorFor(at)
	if err != nil {
		return domain.SolveReport{}, err
	}
	return r.resolveLocked(anchor, path, noFollow)
}

// anchorFor resolves step 1 of §4.1: either the engine-tracked cwd, or the
// anchor recovered from /proc/<pid>/fd/<at>, rewritten to the tmp view if
// it falls inside the on-disk tmp directory.
func (r *Resolver) anchorFor(at ports.ResolveAnchor) (string, error) {
	if at.UseCwd {
		return r.cwd, nil
	}

	key := fdKey{pid: at.Pid, fd: at.Dirfd}
	if anchor, ok := r.fdAnchors.Get(key); ok {
		return anchor, nil
	}

	link := fmt.Sprintf("/proc/%d/fd/%d", at.Pid, at.Dirfd)
	anchor, err := os.Readlink(link)
	if err != nil {
		return "", err
	}
	anchor = r.tmpDiskToView(anchor)
	r.fdAnchors.Add(key, anchor)
	return anchor, nil
}

// resolveLocked implements §4.1 steps 2-7. Callers must hold r.mu.
func (r *Resolver) resolveLocked(anchor, path string, noFollow bool) (domain.SolveReport, error) {
	start := path
	if !filepath.IsAbs(path) {
		start = filepath.Join(anchor, path)
	}

	w := &walk{r: r}
	real, symlinks, err := w.run(start, noFollow)
	if err != nil {
		if err == domain.ErrSymlinkLoop {
			return domain.SolveReport{FollowedSymlinks: symlinks}, nil
		}
		return domain.SolveReport{}, err
	}

	loc, tmpMapped := r.classify(real)
	viewReal := real
	if tmpMapped {
		viewReal = r.tmpDiskToView(real)
	}

	fileAccessed := domain.FileAccessedMaybe
	if _, err := os.Lstat(real); err == nil {
		fileAccessed = domain.FileAccessedYes
	} else if os.IsNotExist(err) {
		fileAccessed = domain.FileAccessedNo
	}

	return domain.SolveReport{
		Real:             r.toReportForm(viewReal, loc),
		FollowedSymlinks: symlinks,
		FileAccessed:     fileAccessed,
		Location:         loc,
		TmpWasMapped:     tmpMapped,
	}, nil
}

// toReportForm returns the canonical repo-relative name when loc is Repo or
// a source dir, else the absolute path (§4.1, "Result").
func (r *Resolver) toReportForm(real string, loc domain.Location) string {
	switch loc {
	case domain.LocationRepo, domain.LocationRoot:
		if rel, err := filepath.Rel(r.env.RootDir, real); err == nil {
			return rel
		}
	case domain.LocationSrcDirs:
		for _, src := range r.env.SrcDirs {
			if rel, err := filepath.Rel(src, real); err == nil && !strings.HasPrefix(rel, "..") {
				return rel
			}
		}
	}
	return real
}

// classify implements §4.1 step 7.
func (r *Resolver) classify(real string) (loc domain.Location, tmpMapped bool) {
	if r.env.TmpMapped() && hasPathPrefix(real, r.env.TmpDir) {
		return domain.LocationTmp, true
	}
	if hasPathPrefix(real, r.env.TmpView) && r.env.TmpView != "" {
		return domain.LocationTmp, false
	}
	if hasPathPrefix(real, "/proc") {
		return domain.LocationProc, false
	}
	if real == r.env.RootDir {
		return domain.LocationRoot, false
	}
	if hasPathPrefix(real, r.env.RootDir) {
		return domain.LocationRepo, false
	}
	for _, src := range r.env.SrcDirs {
		if hasPathPrefix(real, src) {
			return domain.LocationSrcDirs, false
		}
	}
	return domain.LocationExternal, false
}

// tmpDiskToView rewrites a disk-space path under tmp_dir to its
// user-visible tmp_view form (§4.1 step 6); paths outside tmp_dir are
// returned unchanged.
func (r *Resolver) tmpDiskToView(p string) string {
	if !r.env.TmpMapped() || !hasPathPrefix(p, r.env.TmpDir) {
		return p
	}
	rel := strings.TrimPrefix(p, r.env.TmpDir)
	return filepath.Join(r.env.TmpView, rel)
}

// tmpViewToDisk rewrites a view-space path under tmp_view back to its
// on-disk form; every readlinkat the resolver performs must use this form
// (§4.1 step 6: "Every read-link returns disk paths").
func (r *Resolver) tmpViewToDisk(p string) string {
	if !r.env.TmpMapped() || !hasPathPrefix(p, r.env.TmpView) {
		return p
	}
	rel := strings.TrimPrefix(p, r.env.TmpView)
	return filepath.Join(r.env.TmpDir, rel)
}

func hasPathPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	p = filepath.Clean(p)
	prefix = filepath.Clean(prefix)
	return p == prefix || strings.HasPrefix(p, prefix+string(filepath.Separator))
}

// IsSimple reports whether path is known to lie outside every tracked
// domain and can skip resolution entirely (§4.2, "Policy").
func IsSimple(path string) bool {
	return simplePaths[path]
}
