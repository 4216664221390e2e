package ports

import (
	"context"
	"io"

	"go.forgemake.dev/forgemake/internal/core/domain"
)

// Telemetry is the entry point for recording build-progress vertices, one
// per job execution or node analysis step worth surfacing to a user.
//
//go:generate go run go.uber.org/mock/mockgen -source=telemetry.go -destination=mocks/mock_telemetry.go -package=mocks
type Telemetry interface {
	// Record starts a new vertex named after a job's (rule, target) or a
	// node's path.
	Record(ctx context.Context, name string, opts ...VertexOption) (context.Context, Vertex)
	// Close flushes and closes the recording session.
	Close() error
}

// Vertex represents one unit of build progress: a job run, a CRC
// computation, or a make-loop analysis step.
type Vertex interface {
	Stdout() io.Writer
	Stderr() io.Writer
	// Log records a structured log line associated with this vertex.
	Log(level domain.LogLevel, msg string)
	// Complete marks the vertex as finished, successfully (err == nil) or
	// with an error.
	Complete(err error)
	// Cached marks the vertex as a cache hit (the job was up-to-date).
	Cached()
}

// VertexConfig holds configuration for a starting vertex.
type VertexConfig struct {
	ParallelGroup uint32
}

// VertexOption is a functional option for configuring a vertex.
type VertexOption func(*VertexConfig)

// WithParallelGroup tags the vertex with the access event parallel-id it
// belongs to (§4.5, "Chronology").
func WithParallelGroup(id uint32) VertexOption {
	return func(c *VertexConfig) { c.ParallelGroup = id }
}

type vertexCtxKey struct{}

// ContextWithVertex attaches v to ctx so nested calls can log against the
// vertex that encloses them without threading it through every signature.
func ContextWithVertex(ctx context.Context, v Vertex) context.Context {
	return context.WithValue(ctx, vertexCtxKey{}, v)
}

// VertexFromContext retrieves the vertex attached by ContextWithVertex, if
// any.
func VertexFromContext(ctx context.Context) (Vertex, bool) {
	v, ok := ctx.Value(vertexCtxKey{}).(Vertex)
	return v, ok
}
