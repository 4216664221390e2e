package ports

import "go.forgemake.dev/forgemake/internal/core/domain"

// Hasher computes content CRCs for files and symlinks. The hash primitive
// itself is treated as opaque (§1, out of scope); this port only names the
// shape of the digest the engine consumes.
//
//go:generate go run go.uber.org/mock/mockgen -source=hasher.go -destination=mocks/mock_hasher.go -package=mocks
type Hasher interface {
	// ComputeCRC computes the content CRC for path, tagging it Lnk, Empty
	// or None as appropriate and falling back to Plain only for a
	// non-empty regular file.
	ComputeCRC(path string) (domain.CRC, error)
}
