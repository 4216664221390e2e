// Package wiring registers all Graft nodes for the application. Importing
// it for its side effects is enough to make every adapter node available to
// graft.Resolve; cmd/ entrypoints blank-import this package rather than the
// individual adapter packages.
package wiring

import (
	// Register adapter nodes.
	_ "go.forgemake.dev/forgemake/internal/adapters/casdigest"
	_ "go.forgemake.dev/forgemake/internal/adapters/logger"
	_ "go.forgemake.dev/forgemake/internal/adapters/telemetry/progrock"
	_ "go.forgemake.dev/forgemake/internal/adapters/watcher"
)
