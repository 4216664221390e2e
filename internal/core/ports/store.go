package ports

import "go.forgemake.dev/forgemake/internal/core/domain"

// NodeStore persists Node state across server restarts (digest, ddate,
// buildable classification, producing job) keyed by interned name.
//
//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
type NodeStore interface {
	GetNode(name string) (*domain.Node, error)
	PutNode(n *domain.Node) error
}

// JobDigestStore persists the last JobDigest observed for a job, keyed by
// (rule, target), so a restarted server can answer ChkDeps/DepInfos without
// rerunning every job.
type JobDigestStore interface {
	GetJobDigest(rule, target string) (*domain.JobDigest, error)
	PutJobDigest(rule, target string, digest *domain.JobDigest) error
}
