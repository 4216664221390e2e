package casdigest

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

var _ ports.NodeStore = (*NodeStore)(nil)
var _ ports.JobDigestStore = (*JobDigestStore)(nil)

// defaultCacheSize bounds both stores' working sets, the same way
// autodep.Resolver bounds its dirfd-to-path memoization (§+11 DOMAIN
// STACK). A server restart loses anything evicted; nodes and job digests
// not in cache are simply re-derived from a disk re-read or a rerun.
const defaultCacheSize = 8192

// NodeStore implements ports.NodeStore as a bounded in-memory cache keyed
// by interned node name.
type NodeStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *domain.Node]
}

// NewNodeStore creates a NodeStore with the default cache size.
func NewNodeStore() (*NodeStore, error) {
	cache, err := lru.New[string, *domain.Node](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	return &NodeStore{cache: cache}, nil
}

// GetNode implements ports.NodeStore.
func (s *NodeStore) GetNode(name string) (*domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.cache.Get(name)
	if !ok {
		return nil, domain.ErrNodeNotFound
	}
	return n, nil
}

// PutNode implements ports.NodeStore.
func (s *NodeStore) PutNode(n *domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(n.Name.String(), n)
	return nil
}

// JobDigestStore implements ports.JobDigestStore as a bounded in-memory
// cache keyed by (rule, target).
type JobDigestStore struct {
	mu    sync.Mutex
	cache *lru.Cache[jobKey, *domain.JobDigest]
}

type jobKey struct {
	rule   string
	target string
}

// NewJobDigestStore creates a JobDigestStore with the default cache size.
func NewJobDigestStore() (*JobDigestStore, error) {
	cache, err := lru.New[jobKey, *domain.JobDigest](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	return &JobDigestStore{cache: cache}, nil
}

// GetJobDigest implements ports.JobDigestStore.
func (s *JobDigestStore) GetJobDigest(rule, target string) (*domain.JobDigest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.cache.Get(jobKey{rule, target})
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return d, nil
}

// PutJobDigest implements ports.JobDigestStore.
func (s *JobDigestStore) PutJobDigest(rule, target string, digest *domain.JobDigest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(jobKey{rule, target}, digest)
	return nil
}
