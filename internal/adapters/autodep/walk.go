package autodep

import (
	"os"
	"path/filepath"
	"strings"

	"go.forgemake.dev/forgemake/internal/core/domain"
)

// walk implements the component-wise canonicalization of §4.1 steps 2-5:
// empty components and "." are skipped, ".." pops one component, and
// symlinks are followed according to the configured link-support level,
// restarting resolution at the link's parent whenever one is found.
type walk struct {
	r *Resolver

	real     []string // canonical components accumulated so far
	links    int      // symlinks followed this call, bounded by symloopMax
	followed []string // symlinks traversed, in order, for dep recording
}

// run resolves start (an absolute, possibly unclean path) honoring
// noFollow on its final component, and returns the canonical real path.
func (w *walk) run(start string, noFollow bool) (string, []string, error) {
	rest := splitComponents(start)
	for len(rest) > 0 {
		comp := rest[0]
		rest = rest[1:]
		isFinal := len(rest) == 0

		switch comp {
		case "", ".":
			continue
		case "..":
			if len(w.real) > 0 {
				w.real = w.real[:len(w.real)-1]
			}
			continue
		}

		w.real = append(w.real, comp)
		partial := "/" + strings.Join(w.real, "/")

		if isFinal && noFollow {
			continue
		}
		if !w.linksHonoredAt(partial, isFinal) {
			continue
		}

		target, isLink, err := w.readLinkAt(partial)
		if err != nil {
			// A non-existent intermediate component does not invalidate
			// the walk (§4.1, "Edge-case policy"): simply no further
			// symlinks can be found under it.
			continue
		}
		if !isLink {
			continue
		}

		w.links++
		if w.links > symloopMax {
			return "", w.followed, domain.ErrSymlinkLoop
		}

		if w.recordsDep(partial) {
			w.followed = append(w.followed, partial)
		}

		// Pop the component we just expanded and splice the link target's
		// components ahead of the remaining tail, restarting at the
		// link's parent (or root if the target is absolute).
		w.real = w.real[:len(w.real)-1]
		targetComponents := splitComponents(w.r.tmpViewToDisk(target))
		if !filepath.IsAbs(target) {
			targetComponents = splitComponents(filepath.Join("/"+strings.Join(w.real, "/"), target))
		}
		w.real = w.real[:0]
		rest = append(targetComponents, rest...)
	}

	return "/" + strings.Join(w.real, "/"), w.followed, nil
}

// linksHonoredAt reports whether symlinks should be honored at partial,
// per the configured link-support level and whether partial is the path's
// final component (§4.1 step 3). Links are only read inside the repo, a
// configured source directory, tmp or /proc; anywhere else partial is
// walked through as-is. LinkSupportFile honors only a symlink in the final
// component (domain/autodep_env.go); every intermediate component is
// walked through as-is.
func (w *walk) linksHonoredAt(partial string, isFinal bool) bool {
	switch loc, _ := w.r.classify(partial); loc {
	case domain.LocationRepo, domain.LocationSrcDirs, domain.LocationTmp, domain.LocationProc:
	default:
		return false
	}
	switch w.r.env.LnkSupport {
	case domain.LinkSupportNone:
		return false
	case domain.LinkSupportFull:
		return true
	default: // LinkSupportFile
		return isFinal
	}
}

// recordsDep reports whether a symlink traversed at partial should be
// recorded as a dependency: links inside the repo or inside a configured
// source directory are recorded because the caller depends on them; links
// in admin or unresolved/external zones are not (§4.1 step 4).
func (w *walk) recordsDep(partial string) bool {
	loc, _ := w.r.classify(partial)
	return loc == domain.LocationRepo || loc == domain.LocationRoot || loc == domain.LocationSrcDirs
}

// readLinkAt reads partial as a symlink, resolving tmp-view paths to disk
// form first since readlinkat always operates on disk paths (§4.1 step 6).
func (w *walk) readLinkAt(partial string) (target string, isLink bool, err error) {
	disk := w.r.tmpViewToDisk(partial)
	info, err := os.Lstat(disk)
	if err != nil {
		return "", false, err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return "", false, nil
	}
	target, err = os.Readlink(disk)
	if err != nil {
		return "", false, err
	}
	return target, true, nil
}

// splitComponents splits an absolute or relative path into its slash-
// separated components, preserving leading "" and "." markers for the
// caller's skip logic.
func splitComponents(p string) []string {
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}
