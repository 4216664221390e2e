package casdigest

import (
	"context"

	"github.com/grindlemire/graft"

	"go.forgemake.dev/forgemake/internal/core/ports"
)

const (
	HasherNodeID         graft.ID = "adapter.casdigest.hasher"
	NodeStoreNodeID      graft.ID = "adapter.casdigest.node_store"
	JobDigestStoreNodeID graft.ID = "adapter.casdigest.job_digest_store"
)

func init() {
	graft.Register(graft.Node[ports.Hasher]{
		ID:        HasherNodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.Hasher, error) {
			return New(), nil
		},
	})
	graft.Register(graft.Node[ports.NodeStore]{
		ID:        NodeStoreNodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.NodeStore, error) {
			return NewNodeStore()
		},
	})
	graft.Register(graft.Node[ports.JobDigestStore]{
		ID:        JobDigestStoreNodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.JobDigestStore, error) {
			return NewJobDigestStore()
		},
	})
}
