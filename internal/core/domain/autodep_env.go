package domain

// LinkSupport controls how aggressively PathResolver honors symlinks it
// encounters while walking a path (§4.1 step 3).
type LinkSupport int

const (
	// LinkSupportNone ignores symlinks entirely; components are treated
	// literally.
	LinkSupportNone LinkSupport = iota
	// LinkSupportFile honors only a symlink in the path's final component.
	LinkSupportFile
	// LinkSupportFull honors symlinks in every component.
	LinkSupportFull
)

// AutodepEnv is the configuration handed down to a job's Recorder in the
// Start RPC reply (§6, autodep_env{...}): where the repo root, scratch
// area, and source directories live, and how aggressively to resolve
// symlinks.
type AutodepEnv struct {
	RootDir string
	TmpDir  string
	TmpView string
	SrcDirs []string

	LnkSupport LinkSupport

	// ReliableDirs controls whether directories must be opened-then-closed
	// around dependent access to force close-to-open coherence on
	// NFS-backed repos (§5, "Shared resources").
	ReliableDirs bool
}

// TmpMapped reports whether on-disk tmp_dir and the user-visible tmp_view
// differ, meaning PathResolver must perform the reverse mapping (§4.1
// step 6).
func (e AutodepEnv) TmpMapped() bool {
	return e.TmpDir != "" && e.TmpView != "" && e.TmpDir != e.TmpView
}
