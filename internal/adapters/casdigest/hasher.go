// Package casdigest implements Hasher, NodeStore and JobDigestStore: the
// content-addressed digest primitives the engine builds on (§1's hash
// primitive is explicitly out of scope as an algorithm choice, but the
// CRC tagging scheme it feeds into is in scope).
//
// Grounded on hash.cc's Crc type: a digest is always tagged with the kind
// of filesystem object it was computed over (symlink vs regular file)
// so that a regular file and a symlink with the same byte content never
// compare equal, plus the degenerate None/Empty cases for missing or
// zero-length files. hash.cc uses MD5; this module uses xxhash/v2's
// 64-bit digest, the only hash primitive wired anywhere in the dependency
// stack, since lmake's own choice of hash algorithm is explicitly not
// part of this component's contract.
package casdigest

import (
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

var _ ports.Hasher = (*Hasher)(nil)

// Hasher implements ports.Hasher.
type Hasher struct{}

// New creates a Hasher.
func New() *Hasher { return &Hasher{} }

// ComputeCRC implements ports.Hasher (§4.4 step 3, "enqueue a CRC
// computation"). A symlink hashes its target string; a regular file
// hashes its content. Tag selection mirrors hash.cc's None/Empty/Lnk/Reg
// verdict before falling back to Plain for a non-empty regular file.
func (h *Hasher) ComputeCRC(path string) (domain.CRC, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.CRC{Tag: domain.CRCNone}, nil
		}
		return domain.CRC{}, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return domain.CRC{}, err
		}
		return domain.CRC{Tag: domain.CRCLnk, Hash: xxhash.Sum64String(target)}, nil
	}

	if info.Size() == 0 {
		return domain.CRC{Tag: domain.CRCEmpty}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.CRC{}, err
	}
	defer f.Close()

	digest := xxhash.New()
	if _, err := io.Copy(digest, f); err != nil {
		return domain.CRC{}, err
	}

	return domain.CRC{Tag: domain.CRCPlain, Hash: digest.Sum64()}, nil
}
