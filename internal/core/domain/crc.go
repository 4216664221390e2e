package domain

// CRCTag classifies the kind of content a CRC describes, independently of
// the hash value itself. Unknown/None/Empty are fully determined by the
// tag alone; Lnk and Plain carry a real hash over, respectively, the link
// target text and the file's byte content.
type CRCTag int

const (
	// CRCUnknown means the content has never been observed.
	CRCUnknown CRCTag = iota
	// CRCLnk means the node is a symlink; Hash covers the link target text.
	CRCLnk
	// CRCNone means the node does not exist on disk.
	CRCNone
	// CRCEmpty means the node exists and is a zero-length regular file.
	CRCEmpty
	// CRCPlain means the node is a non-empty regular file; Hash is its
	// content digest.
	CRCPlain
)

// CRC is a content digest tagged with a file kind. Two CRCs compare equal
// iff their tag matches and, for Lnk and Plain, their hash matches too;
// recomputing a Plain or Lnk CRC over the same bytes yields the same value.
type CRC struct {
	Tag  CRCTag
	Hash uint64
}

// Equal reports whether c and other represent the same observed content.
func (c CRC) Equal(other CRC) bool {
	if c.Tag != other.Tag {
		return false
	}
	if c.Tag == CRCPlain || c.Tag == CRCLnk {
		return c.Hash == other.Hash
	}
	return true
}

// IsSteady reports whether c denotes content that has actually been
// observed, as opposed to a node whose CRC was never computed.
func (c CRC) IsSteady() bool {
	return c.Tag != CRCUnknown
}
