// Package ports defines the interfaces the engine depends on without
// caring which adapter implements them: PathResolver/Recorder/Backend for
// the autodep half, NodeStore/JobDigestStore/RPC for the build-graph half, and
// Logger/Watcher/Telemetry for the ambient stack.
package ports

// Logger defines the interface for structured logging.
//
//go:generate go run go.uber.org/mock/mockgen -source=logger.go -destination=mocks/mock_logger.go -package=mocks
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
