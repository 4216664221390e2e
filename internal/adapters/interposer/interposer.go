// Package interposer implements the libc-interposing shim (§4.3): a
// c-shared library, loaded via LD_PRELOAD, that wraps every libc entry
// point touching the filesystem or exec, resolves the call's path through
// a Recorder, and forwards to the real libc function found via dlsym.
//
// The reentrancy guard, the started-state guard, the simplicity fast path,
// and the dispatch-by-syscall-number fallback are grounded on
// autodep_ld.cc's AuditAction/get_no_file/_t_loop machinery; here they are
// expressed as a per-OS-thread guard keyed by gettid(2) plus a package
// mutex, since Go has no thread-local storage and every cgo callback from
// libc runs on whichever OS thread libc itself is using.
package interposer

/*
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>

static void *real_symbol(const char *name) {
	return dlsym(RTLD_NEXT, name);
}
*/
import "C"

import (
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"go.forgemake.dev/forgemake/internal/core/ports"
)

// state is the process-global shim state, installed once by Setup before
// any wrapped call can be dispatched. It mirrors the "started" guard of
// §4.3: until Setup runs, every wrapper is a pure passthrough.
var state struct {
	mu       sync.Mutex
	rec      ports.Recorder
	started  bool
	inCall   map[int]bool // gettid() -> currently inside our own code
}

func init() {
	state.inCall = make(map[int]bool)
}

// Setup installs rec as the active Recorder and marks the shim started
// (§4.3, "Started-state guard"). In this module only the package's tests
// call it; cmd/jobexecd does not.
func Setup(rec ports.Recorder) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.rec = rec
	state.started = true
}

// Teardown clears the active Recorder, returning every wrapper to
// passthrough mode.
func Teardown() {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.rec = nil
	state.started = false
}

// enter implements the reentrancy guard: our own Go code calls libc
// functions too (filepath resolution does not, but future additions
// might), and recursing back into a wrapper while already inside one
// would deadlock on state.mu. enter returns false when the calling thread
// is already inside a wrapper, in which case the wrapper must skip
// auditing and go straight to the real function.
func enter() (rec ports.Recorder, ok bool) {
	tid := syscall.Gettid()

	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.started || state.inCall[tid] {
		return nil, false
	}
	state.inCall[tid] = true
	return state.rec, true
}

func leave() {
	tid := syscall.Gettid()
	state.mu.Lock()
	defer state.mu.Unlock()
	delete(state.inCall, tid)
}

// realSymbol resolves name in the next object in the dynamic-loader search
// order (i.e. the real libc, skipping this preloaded library), exactly as
// ld_common.x.cc's dlsym(RTLD_NEXT, ...) calls do.
func realSymbol(name string) unsafe.Pointer {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return unsafe.Pointer(C.real_symbol(cname))
}

func goString(p *C.char) string {
	if p == nil {
		return ""
	}
	return C.GoString(p)
}

const (
	oWronly   = 0x1
	oRdwr     = 0x2
	oCreat    = 0x40
	oNofollow = 0x20000
)

// atFdcwd mirrors fcntl.h's AT_FDCWD: the dirfd value meaning "resolve
// relative to the calling process's current directory", passed by plain
// open/stat/access/readlink wrappers that have no real dirfd argument.
const atFdcwd = -100

// anchorForDirfd turns a raw (dirfd, pid) pair observed by an *at wrapper
// into the ResolveAnchor PathResolver expects (§4.1 step 1): AT_FDCWD maps
// to the engine-tracked cwd, anything else is recovered from
// /proc/<pid>/fd/<dirfd> by the resolver itself.
func anchorForDirfd(dirfd C.int) ports.ResolveAnchor {
	if int(dirfd) == atFdcwd {
		return ports.CwdAnchor
	}
	return ports.ResolveAnchor{Dirfd: int(dirfd), Pid: syscall.Getpid()}
}

//export go_audit_open
func go_audit_open(dirfd C.int, path *C.char, flags C.int, ret C.int, errno C.int) {
	rec, ok := enter()
	if !ok {
		return
	}
	defer leave()

	p := goString(path)
	if rec.IsSimple(p) {
		return
	}
	ctx := rec.Open(anchorForDirfd(dirfd), p, int(flags), "open")
	rec.Finalize(ctx, int(ret), int(errno))
}

//export go_audit_unlink
func go_audit_unlink(path *C.char, rmdir C.int, ret C.int, errno C.int) {
	rec, ok := enter()
	if !ok {
		return
	}
	defer leave()

	p := goString(path)
	if rec.IsSimple(p) {
		return
	}
	ctx := rec.Unlnk(p, rmdir != 0)
	rec.Finalize(ctx, int(ret), int(errno))
}

//export go_audit_rename
func go_audit_rename(oldpath, newpath *C.char, flags C.int, ret C.int, errno C.int) {
	rec, ok := enter()
	if !ok {
		return
	}
	defer leave()

	ctx := rec.Rename(goString(oldpath), goString(newpath), int(flags))
	rec.Finalize(ctx, int(ret), int(errno))
}

//export go_audit_link
func go_audit_link(oldpath, newpath *C.char, ret C.int, errno C.int) {
	rec, ok := enter()
	if !ok {
		return
	}
	defer leave()

	ctx := rec.Lnk(goString(oldpath), goString(newpath))
	rec.Finalize(ctx, int(ret), int(errno))
}

//export go_audit_symlink
func go_audit_symlink(target, linkpath *C.char, ret C.int, errno C.int) {
	rec, ok := enter()
	if !ok {
		return
	}
	defer leave()

	ctx := rec.Symlnk(goString(linkpath))
	rec.Finalize(ctx, int(ret), int(errno))
}

// auditStatLike is the shared open-half for stat(2)/lstat(2)/fstatat(2)/
// access(2)/readlink(2)/readlinkat(2): all six resolve then, on Finalize,
// emit a Stat or Lnk access (ports.Recorder.StatLike's doc comment).
func auditStatLike(dirfd C.int, path *C.char, noFollow C.int, ret C.int, errno C.int, comment string) {
	rec, ok := enter()
	if !ok {
		return
	}
	defer leave()

	p := goString(path)
	if rec.IsSimple(p) {
		return
	}
	ctx := rec.StatLike(anchorForDirfd(dirfd), p, noFollow != 0, comment)
	rec.Finalize(ctx, int(ret), int(errno))
}

//export go_audit_stat
func go_audit_stat(dirfd C.int, path *C.char, noFollow C.int, ret C.int, errno C.int) {
	auditStatLike(dirfd, path, noFollow, ret, errno, "stat")
}

//export go_audit_access
func go_audit_access(path *C.char, ret C.int, errno C.int) {
	auditStatLike(atFdcwd, path, 0, ret, errno, "access")
}

//export go_audit_readlink
func go_audit_readlink(dirfd C.int, path *C.char, ret C.int, errno C.int) {
	auditStatLike(dirfd, path, 1, ret, errno, "readlink")
}

// go_audit_hide mirrors Recorder.Hide (§4.2 Hide): close(2)/close_range(2)/
// dup2(2)/dup3(2) can shadow or release a descriptor the engine owns, so
// the engine must be told before the real call runs.
//
//export go_audit_hide
func go_audit_hide(fd, fdEnd C.int) {
	rec, ok := enter()
	if !ok {
		return
	}
	defer leave()
	rec.Hide(int(fd), int(fdEnd))
}

//export go_audit_chdir
func go_audit_chdir(path *C.char, ret C.int) {
	rec, ok := enter()
	if !ok {
		return
	}
	defer leave()

	if ret != 0 {
		return
	}
	rec.Chdir(goString(path))
}

// go_audit_execve mirrors _Exec/_Execp (§4.3, "execl* reconstruction"):
// argv/envp arrive as NULL-terminated C arrays, which cStringArray converts
// to Go slices. The C wrapper calls it before the real execve runs.
//
//export go_audit_execve
func go_audit_execve(path *C.char, argv **C.char, envp **C.char, noFollow C.int) {
	rec, ok := enter()
	if !ok {
		return
	}
	defer leave()

	p := goString(path)
	if rec.IsSimple(p) {
		return
	}
	argvGo := cStringArray(argv)
	envpGo := cStringArray(envp)
	ctx := rec.Exec(p, argvGo, envpGo, noFollow != 0)
	// The real execve has not run yet, so no result is known; Finalize
	// gets a placeholder -1/ENOENT, which the Exec events ignore.
	rec.Finalize(ctx, -1, int(syscall.ENOENT))
}

// go_audit_execvp mirrors _Execp (§4.3, "execl* reconstruction"): file has
// no slash, so libc's own execvp walks $PATH looking for it. The wrapper
// records every candidate Search tries before recording the exec itself,
// the same two-phase shape original_source's autodep_ld.cc uses for
// execlp/execvp/execvpe.
//
//export go_audit_execvp
func go_audit_execvp(file *C.char, argv **C.char, envp **C.char) {
	rec, ok := enter()
	if !ok {
		return
	}
	defer leave()

	f := goString(file)
	if rec.IsSimple(f) {
		return
	}
	envpGo := cStringArray(envp)
	sctx := rec.Search(f, envValue(envpGo, "PATH"), true)
	rec.Finalize(sctx, 0, 0)

	argvGo := cStringArray(argv)
	ctx := rec.Exec(f, argvGo, envpGo, false)
	rec.Finalize(ctx, -1, int(syscall.ENOENT))
}

// envValue returns the value of name in a "KEY=VALUE" environment slice,
// or "" if name is unset.
func envValue(env []string, name string) string {
	prefix := name + "="
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, prefix); ok {
			return v
		}
	}
	return ""
}

func cStringArray(arr **C.char) []string {
	if arr == nil {
		return nil
	}
	var out []string
	for i := 0; ; i++ {
		p := *(**C.char)(unsafe.Pointer(uintptr(unsafe.Pointer(arr)) + uintptr(i)*unsafe.Sizeof(*arr)))
		if p == nil {
			break
		}
		out = append(out, C.GoString(p))
	}
	return out
}

// dispatchSyscall mirrors the raw syscall(2) entry point that the shim
// must also intercept (§4.3, "syscall(n, ...) dispatch table"): some libc
// implementations route renameat2 or statx through syscall(2) directly
// rather than through a named wrapper, so the table maps syscall numbers
// to the same audit functions used by the named wrappers above.
var dispatchSyscall = map[int64]string{
	unix.SYS_RENAMEAT2:    "rename",
	syscall.SYS_OPENAT:    "open",
	syscall.SYS_UNLINKAT:  "unlink",
}

// SyscallName reports which named wrapper a raw syscall number should be
// routed through, or "" if this shim does not audit it.
func SyscallName(nr int64) string {
	return dispatchSyscall[nr]
}

// reentrancyGuardDepth reports how many threads are currently inside a
// wrapper (the size of the guard map); neither the shim nor its tests call
// it.
func reentrancyGuardDepth() int {
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.inCall)
}
