package ports

import (
	"context"
	"iter"
)

// WatchOp is the kind of filesystem change a Watcher observed.
type WatchOp int

const (
	OpCreate WatchOp = iota
	OpWrite
	OpRemove
	OpRename
)

// WatchEvent is one change observed outside of any job's own autodep
// tracking — i.e. a candidate "manual modification" (§4.5 trigger,
// scenario 2).
type WatchEvent struct {
	Path      string
	Operation WatchOp
}

// Watcher detects manual/external modifications to the repo so the make
// loop can mark affected nodes for a disk re-read instead of trusting a
// stale CRC.
//
//go:generate go run go.uber.org/mock/mockgen -source=watcher.go -destination=mocks/mock_watcher.go -package=mocks
type Watcher interface {
	Start(ctx context.Context, root string) error
	Stop() error
	Events() iter.Seq[WatchEvent]
}
