// Package recorder implements Recorder (§4.2): the per-process state that
// owns the PathResolver, the environment snapshot, and the channel of
// access events consumed by JobExec. One Recorder is created per
// supervised job.
package recorder

import (
	"bytes"
	"debug/elf"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.forgemake.dev/forgemake/internal/adapters/autodep"
	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

var _ ports.Recorder = (*Recorder)(nil)

const eventsBuffer = 256

// Recorder implements ports.Recorder.
//
// The mutex here stands in for the process-wide exclusive lock that the
// interposer shim acquires in-process around every non-simple wrapper call
// (§5). Errno save/restore is a property of the cgo shim boundary and has
// no direct Go analogue; the shim layer is responsible for it, this
// Recorder only owns the resolver, cwd, and hidden-fd bookkeeping that must
// be correct regardless of which thread holds the lock.
type Recorder struct {
	mu       sync.Mutex
	resolver ports.PathResolver
	env      domain.AutodepEnv

	hidden map[int]struct{}

	events chan domain.AccessEvent
}

// New creates a Recorder configured from env, wrapping resolver (typically
// an *autodep.Resolver constructed from the same env).
func New(env domain.AutodepEnv, resolver ports.PathResolver) *Recorder {
	return &Recorder{
		resolver: resolver,
		env:      env,
		hidden:   make(map[int]struct{}),
		events:   make(chan domain.AccessEvent, eventsBuffer),
	}
}

// Events returns the channel of access events this Recorder has emitted.
func (r *Recorder) Events() <-chan domain.AccessEvent { return r.events }

// Close releases the Recorder's resources and closes its events channel.
func (r *Recorder) Close() {
	close(r.events)
}

// IsSimple reports whether path can skip resolution entirely (§4.2,
// "Policy").
func (r *Recorder) IsSimple(path string) bool {
	return autodep.IsSimple(path)
}

// emit is the common tail of every Finalize call: build the event from ctx
// and the syscall result and push it onto the events channel. Bursts of up
// to eventsBuffer events are absorbed; once the channel is full the send
// blocks until JobExec drains it.
func (r *Recorder) emit(ctx ports.AccessContext, kind domain.AccessKind, bits domain.AccessBits, comment string) {
	if ctx.Path == "" {
		return
	}
	r.events <- domain.AccessEvent{
		Path:     domain.NewInternedString(ctx.Path),
		Kind:     kind,
		Accesses: bits,
		Comment:  comment,
	}
}

// resolve is the shared open-half used by every public operation: skip
// entirely for simple paths, otherwise take the lock and resolve through
// the PathResolver.
func (r *Recorder) resolve(anchor ports.ResolveAnchor, path string, noFollow bool) ports.AccessContext {
	if r.IsSimple(path) {
		return ports.AccessContext{Simple: true}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	report, err := r.resolver.Resolve(anchor, path, noFollow)
	if err != nil || report.Empty() {
		return ports.AccessContext{Path: path, Report: report}
	}
	return ports.AccessContext{Path: report.Real, Report: report}
}

// Open begins an Open access (§4.2): resolve with no_follow = flags &
// O_NOFOLLOW; Finalize decides which of Read/Write to emit from the flags
// carried in ctx's extra field.
func (r *Recorder) Open(at ports.ResolveAnchor, path string, flags int, comment string) ports.AccessContext {
	const oNofollow = 0x20000
	ctx := r.resolve(at, path, flags&oNofollow != 0)
	return ctx.WithExtra(openExtra{flags: flags, comment: comment})
}

type openExtra struct {
	flags   int
	comment string
}

// StatLike covers Stat/ReadLnk/Access: resolve, then on Finalize emit a
// Stat or Lnk access depending on which was requested (§4.2).
func (r *Recorder) StatLike(at ports.ResolveAnchor, path string, noFollow bool, comment string) ports.AccessContext {
	ctx := r.resolve(at, path, noFollow)
	return ctx.WithExtra(comment)
}

// Lnk resolves both endpoints of a hardlink under a single lock (§4.2).
func (r *Recorder) Lnk(src, dst string) ports.AccessContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	srcReport, _ := r.resolver.Resolve(ports.CwdAnchor, src, true)
	dstReport, _ := r.resolver.Resolve(ports.CwdAnchor, dst, true)
	return ports.AccessContext{Path: srcReport.Real}.WithExtra(linkExtra{dst: dstReport.Real})
}

type linkExtra struct{ dst string }

// Symlnk resolves the new link's location (§4.2).
func (r *Recorder) Symlnk(dst string) ports.AccessContext {
	return r.resolve(ports.CwdAnchor, dst, true)
}

// Rename resolves both endpoints; flags carries RENAME_EXCHANGE (§4.2).
func (r *Recorder) Rename(src, dst string, flags int) ports.AccessContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	srcReport, _ := r.resolver.Resolve(ports.CwdAnchor, src, true)
	dstReport, _ := r.resolver.Resolve(ports.CwdAnchor, dst, true)
	return ports.AccessContext{Path: srcReport.Real}.WithExtra(renameExtra{dst: dstReport.Real, flags: flags})
}

type renameExtra struct {
	dst   string
	flags int
}

const renameExchange = 1 << 1

// Unlnk resolves path; rmdir distinguishes unlink(2) from rmdir(2) (§4.2).
func (r *Recorder) Unlnk(path string, rmdir bool) ports.AccessContext {
	ctx := r.resolve(ports.CwdAnchor, path, true)
	return ctx.WithExtra(rmdir)
}

// Chdir updates the engine-tracked cwd under an exclusive lock (§4.2: "cwd
// changes race with every other path resolution").
func (r *Recorder) Chdir(path string) ports.AccessContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	newCwd, err := r.resolver.Chdir(path)
	if err != nil {
		return ports.AccessContext{}
	}
	return ports.AccessContext{Path: newCwd}
}

// maxShebangHops bounds interpreter-hop recursion to match POSIX's own
// execve(2) limit (§4.2 Exec).
const maxShebangHops = 4

// Exec resolves path, scans it for ELF shared-library dependencies (via
// auditELFDeps), then (if the file starts with "#!") recursively resolves
// the interpreter up to maxShebangHops times, collecting each hop as an
// additional Exec access event in ctx's extra field (§4.2 Exec). Shebang
// resolution stops early once a hop leaves every tracked domain (there is
// nothing further to depend on) or lands on a tmp-view-mapped path (the
// interpreter's real bytes live on a different path than its view-space
// name, which this Recorder has no way to read back to disk).
func (r *Recorder) Exec(path string, argv, envp []string, noFollow bool) ports.AccessContext {
	ctx := r.resolve(ports.CwdAnchor, path, noFollow)
	if ctx.Simple {
		return ctx.WithExtra(execExtra{hops: []string{ctx.Path}})
	}

	r.auditELFDeps(ctx.Report, envp)

	hops := []string{ctx.Path}
	report := ctx.Report
	for i := 0; i < maxShebangHops; i++ {
		if !report.Location.TracksDeps() && report.Location != domain.LocationTmp {
			break
		}
		if report.TmpWasMapped {
			break
		}
		disk, ok := r.diskPathFor(report)
		if !ok {
			break
		}
		interp, ok := readShebangInterpreter(disk)
		if !ok {
			break
		}

		next := r.resolve(ports.CwdAnchor, interp, false)
		if next.Simple || next.Path == "" {
			break
		}
		hops = append(hops, next.Path)
		report = next.Report
	}
	return ctx.WithExtra(execExtra{hops: hops})
}

type execExtra struct{ hops []string }

// diskPathFor turns a SolveReport's report-form Real back into a path this
// process can open, mirroring disk.cc's RealPath::exec's mk_abs(sr.real,
// root_dir_s) (§4.2 Exec): Repo/Root reports are rooted at RootDir,
// SrcDirs reports are rooted at whichever configured source dir actually
// contains them, and an unmapped Tmp report's Real is already the disk
// path (a mapped one never reaches here: the caller breaks on
// TmpWasMapped first).
func (r *Recorder) diskPathFor(report domain.SolveReport) (string, bool) {
	switch report.Location {
	case domain.LocationRepo, domain.LocationRoot:
		return filepath.Join(r.env.RootDir, report.Real), true
	case domain.LocationSrcDirs:
		for _, src := range r.env.SrcDirs {
			candidate := filepath.Join(src, report.Real)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}
		return "", false
	case domain.LocationTmp:
		return report.Real, true
	default: // External, Proc, Admin: toReportForm leaves Real as the absolute disk path already
		return report.Real, true
	}
}

// defaultLibDirs are searched after LD_LIBRARY_PATH, mirroring the runtime
// linker's own fallback search order once ld.so.cache is exhausted.
var defaultLibDirs = []string{"/lib", "/usr/lib", "/lib64", "/usr/lib64"}

// auditELFDeps scans an exec target's ELF dynamic section for DT_NEEDED
// shared-library names and records a Search for each one along
// LD_LIBRARY_PATH, mirroring ld_common.x.cc's _Exec constructor's elf_deps
// call (§4.2 Exec, "ELF dependency scan"). Scripts and other non-ELF
// targets are silently skipped: debug/elf's own magic-number check is how
// the original's elf_deps tells them apart, too. A report this Recorder
// cannot turn back into a disk path (an unmapped-tmp case aside, see
// diskPathFor) is skipped the same way.
func (r *Recorder) auditELFDeps(report domain.SolveReport, envp []string) {
	if report.TmpWasMapped {
		return
	}
	disk, ok := r.diskPathFor(report)
	if !ok {
		return
	}
	f, err := elf.Open(disk)
	if err != nil {
		return
	}
	defer f.Close()
	libs, err := f.ImportedLibraries()
	if err != nil {
		return
	}

	dirs := defaultLibDirs
	if llp := envValue(envp, "LD_LIBRARY_PATH"); llp != "" {
		dirs = append(strings.Split(llp, ":"), dirs...)
	}
	searchPath := strings.Join(dirs, ":")
	for _, lib := range libs {
		sctx := r.Search(lib, searchPath, false)
		r.Finalize(sctx, 0, 0)
	}
}

// envValue returns the value of name in a "KEY=VALUE" environment slice, or
// "" if name is unset.
func envValue(env []string, name string) string {
	prefix := name + "="
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, prefix); ok {
			return v
		}
	}
	return ""
}

// readShebangInterpreter reads path's first line and, if it starts with
// "#!", returns the interpreter token (the first whitespace-delimited
// word, per execve(2)'s own shebang parsing; bytes beyond 256 are
// ignored, matching the kernel's own BINPRM_BUF_SIZE-driven limit).
func readShebangInterpreter(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	buf := make([]byte, 256)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", false
	}
	buf = buf[:n]

	if len(buf) < 2 || buf[0] != '#' || buf[1] != '!' {
		return "", false
	}
	line := buf[2:]
	if idx := bytes.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// Search walks a colon-delimited search variable and records every
// attempted path as a dep, stopping at the first that satisfies the access
// (§4.2 Search).
func (r *Recorder) Search(path string, pathEnvVar string, isExec bool) ports.AccessContext {
	var attempted []string
	for _, dir := range strings.Split(pathEnvVar, ":") {
		if dir == "" {
			dir = "."
		}
		candidate := dir + "/" + path
		report, err := r.resolver.Resolve(ports.CwdAnchor, candidate, false)
		attempted = append(attempted, candidate)
		if err == nil && report.FileAccessed == domain.FileAccessedYes {
			return ports.AccessContext{Path: report.Real}.WithExtra(searchExtra{attempted: attempted, found: true})
		}
	}
	return ports.AccessContext{}.WithExtra(searchExtra{attempted: attempted, found: false})
}

type searchExtra struct {
	attempted []string
	found     bool
}

// Finalize emits the access event(s) implied by ctx now that the
// syscall's result is known (§4.2).
func (r *Recorder) Finalize(ctx ports.AccessContext, ret int, errno int) {
	if ctx.Simple {
		return
	}

	switch extra := ctx.Extra().(type) {
	case openExtra:
		r.finalizeOpen(ctx, extra, ret)
	case linkExtra:
		r.emit(ports.AccessContext{Path: ctx.Path}, domain.AccessRead, domain.AccessBitLnk, "")
		r.emit(ports.AccessContext{Path: extra.dst}, domain.AccessWrite, 0, "")
	case renameExtra:
		r.emit(ports.AccessContext{Path: ctx.Path}, domain.AccessRename, 0, "")
		r.emit(ports.AccessContext{Path: extra.dst}, domain.AccessRename, 0, "")
	case bool: // Unlnk's rmdir flag
		r.emit(ctx, domain.AccessUnlink, 0, "")
	case execExtra:
		for i, hop := range extra.hops {
			bits := domain.AccessBits(0)
			comment := ""
			if i > 0 {
				comment = "interpreter hop"
			}
			r.emit(ports.AccessContext{Path: hop}, domain.AccessExec, bits, comment)
		}
	case searchExtra:
		for _, attempt := range extra.attempted {
			r.emit(ports.AccessContext{Path: attempt}, domain.AccessSolve, 0, "search")
		}
	case string: // StatLike's comment
		r.emit(ctx, domain.AccessStat, domain.AccessBitStat, extra)
	default:
		r.emit(ctx, domain.AccessRead, 0, "")
	}
}

const (
	oWronly  = 0x1
	oRdwr    = 0x2
	oCreat   = 0x40
	oTrunc   = 0x200
)

func (r *Recorder) finalizeOpen(ctx ports.AccessContext, extra openExtra, ret int) {
	if ret < 0 {
		r.emit(ctx, domain.AccessNone, 0, extra.comment)
		return
	}
	write := extra.flags&(oWronly|oRdwr) != 0 || extra.flags&oCreat != 0 || extra.flags&oTrunc != 0
	if write {
		r.emit(ctx, domain.AccessWrite, 0, extra.comment)
	}
	if extra.flags&oWronly == 0 {
		r.emit(ctx, domain.AccessRead, domain.AccessBitReg, extra.comment)
	}
}

// Hide marks fd (or the inclusive range [fd, fdEnd]) as about to be
// shadowed or released by the user (§4.2 Hide).
func (r *Recorder) Hide(fd, fdEnd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fdEnd < fd {
		fdEnd = fd
	}
	for f := fd; f <= fdEnd; f++ {
		r.hidden[f] = struct{}{}
	}
}

// IsHidden reports whether fd has been marked by Hide.
func (r *Recorder) IsHidden(fd int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.hidden[fd]
	return ok
}
