package domain

// Buildable classifies, data-independently of any disk state, whether a
// node could be produced by some rule. Values are ordered from least to
// most specific; set_buildable only ever moves a node's classification
// toward a more specific value within a single analysis pass (§8).
type Buildable int

const (
	BuildableUnknown Buildable = iota
	BuildableNone
	BuildableSrc
	BuildableSrcDir
	BuildableSubSrc
	BuildableMaybe
	BuildableYes
	BuildableDynSrc
	BuildableDynAnti
	BuildableAnti
	BuildableLongName
	// BuildableLoop is transient: a node is marked Loop while set_buildable
	// is walking through it, to detect cycles, and the mark never survives
	// past a completed analysis pass.
	BuildableLoop
)

// String names the classification for diagnostics.
func (b Buildable) String() string {
	switch b {
	case BuildableNone:
		return "None"
	case BuildableSrc:
		return "Src"
	case BuildableSrcDir:
		return "SrcDir"
	case BuildableSubSrc:
		return "SubSrc"
	case BuildableMaybe:
		return "Maybe"
	case BuildableYes:
		return "Yes"
	case BuildableDynSrc:
		return "DynSrc"
	case BuildableDynAnti:
		return "DynAnti"
	case BuildableAnti:
		return "Anti"
	case BuildableLongName:
		return "LongName"
	case BuildableLoop:
		return "Loop"
	default:
		return "Unknown"
	}
}

// CanHaveCandidates reports whether a node at this classification is
// allowed to carry candidate jobs (invariant: if buildable <= No there are
// no candidate jobs).
func (b Buildable) CanHaveCandidates() bool {
	return b >= BuildableMaybe && b != BuildableLongName && b != BuildableLoop
}

// NodeAnalysisLevel is the per-Req, per-node position in the analysis
// lattice: None < Plain[prio_idx] < Done (§4.5).
type NodeAnalysisLevel int

const (
	NodeAnalysisNone NodeAnalysisLevel = iota
	NodeAnalysisPlain
	NodeAnalysisDone
)

// NoIndex marks the absence of an arena index (no producing job, no uphill
// directory yet known).
const NoIndex = -1

// Node is a file path known to the engine (§3). Adjacency to jobs
// (producing job, candidate jobs, uphill directory) is expressed as arena
// indices rather than pointers, per the design note on cyclic references
// (§9): a Node never owns a *Job, it owns an int that the graph arena
// resolves.
type Node struct {
	// Name is the node's identity: its repo-relative (or absolute, for
	// External/Admin) path.
	Name InternedString

	// Digest is the last-observed content CRC.
	Digest CRC

	// Ddate is the monotonic "disk date" at which Digest was last
	// confirmed current (§5); it is a logical clock, not a wall time.
	Ddate uint64

	Buildable Buildable

	// ProducingJob is the arena index of the job currently chosen to
	// produce this node, or NoIndex.
	ProducingJob int

	// Candidates lists candidate job arena indices in priority order.
	Candidates []int

	// UphillDir is the arena index of this node's containing directory
	// node, or NoIndex if not yet resolved.
	UphillDir int

	// Transcient marks a node whose uphill directory is a symlink (§3
	// invariant).
	Transcient bool

	// MatchGen is bumped by forget() to invalidate cached "sure" status
	// cheaply, forcing the next make() to redo set_buildable.
	MatchGen uint32
}

// NewNode creates a Node in its initial, unanalyzed state.
func NewNode(name InternedString) *Node {
	return &Node{
		Name:         name,
		Digest:       CRC{Tag: CRCUnknown},
		Buildable:    BuildableUnknown,
		ProducingJob: NoIndex,
		UphillDir:    NoIndex,
	}
}

// IsSrc reports whether n is classified as a source node, for which the
// digest must always reflect disk (§3 invariant).
func (n *Node) IsSrc() bool {
	return n.Buildable == BuildableSrc || n.Buildable == BuildableSrcDir
}
