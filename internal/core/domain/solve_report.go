package domain

// Location classifies where a resolved path lands in the engine's view of
// the filesystem: the repo itself, a configured source directory, the repo
// root, the scratch area, /proc, the engine's own admin area, or anything
// external that the engine does not track.
type Location int

const (
	LocationExternal Location = iota
	LocationRepo
	LocationRoot
	LocationSrcDirs
	LocationTmp
	LocationProc
	LocationAdmin
)

// String names the location for log lines.
func (l Location) String() string {
	switch l {
	case LocationRepo:
		return "Repo"
	case LocationRoot:
		return "Root"
	case LocationSrcDirs:
		return "SrcDirs"
	case LocationTmp:
		return "Tmp"
	case LocationProc:
		return "Proc"
	case LocationAdmin:
		return "Admin"
	default:
		return "External"
	}
}

// TracksDeps reports whether accesses at this location should be folded
// into a job's dependency list. Tmp, Proc and Admin accesses never
// propagate as deps (§5, "Shared resources").
func (l Location) TracksDeps() bool {
	switch l {
	case LocationRepo, LocationRoot, LocationSrcDirs:
		return true
	default:
		return false
	}
}

// SolveReport is the output of PathResolver.Resolve: the canonical path,
// the symlinks traversed to get there, whether resolving the path itself
// constitutes a file access, its domain classification, and whether the
// path fell under the tmp_dir/tmp_view remapping.
type SolveReport struct {
	Real             string
	FollowedSymlinks []string
	FileAccessed     FileAccessed
	Location         Location
	TmpWasMapped     bool
}

// Empty reports whether resolution aborted without producing a usable
// canonical path (the symlink-loop overflow case, §4.1 step 5).
func (r SolveReport) Empty() bool {
	return r.Real == ""
}
