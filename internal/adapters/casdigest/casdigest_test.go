package casdigest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.forgemake.dev/forgemake/internal/adapters/casdigest"
	"go.forgemake.dev/forgemake/internal/core/domain"
)

func TestHasher_ComputeCRC_RegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	h := casdigest.New()
	crc, err := h.ComputeCRC(path)
	require.NoError(t, err)
	assert.Equal(t, domain.CRCPlain, crc.Tag)
	assert.NotZero(t, crc.Hash)
}

func TestHasher_ComputeCRC_IsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("same content"), 0o600))

	h := casdigest.New()
	first, err := h.ComputeCRC(path)
	require.NoError(t, err)
	second, err := h.ComputeCRC(path)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}

func TestHasher_ComputeCRC_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	h := casdigest.New()
	crc, err := h.ComputeCRC(path)
	require.NoError(t, err)
	assert.Equal(t, domain.CRCEmpty, crc.Tag)
}

func TestHasher_ComputeCRC_MissingFile(t *testing.T) {
	dir := t.TempDir()
	h := casdigest.New()
	crc, err := h.ComputeCRC(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Equal(t, domain.CRCNone, crc.Tag)
}

func TestHasher_ComputeCRC_Symlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	h := casdigest.New()
	crc, err := h.ComputeCRC(link)
	require.NoError(t, err)
	assert.Equal(t, domain.CRCLnk, crc.Tag)
}

func TestCRC_SymlinkAndRegularFileNeverEqual(t *testing.T) {
	lnk := domain.CRC{Tag: domain.CRCLnk, Hash: 42}
	reg := domain.CRC{Tag: domain.CRCPlain, Hash: 42}
	assert.False(t, lnk.Equal(reg))
}

func TestNodeStore_PutGet(t *testing.T) {
	store, err := casdigest.NewNodeStore()
	require.NoError(t, err)

	n := domain.NewNode(domain.NewInternedString("a/b.txt"))
	require.NoError(t, store.PutNode(n))

	got, err := store.GetNode("a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestNodeStore_MissingReturnsErrNodeNotFound(t *testing.T) {
	store, err := casdigest.NewNodeStore()
	require.NoError(t, err)

	_, err = store.GetNode("missing")
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
}

func TestJobDigestStore_PutGet(t *testing.T) {
	store, err := casdigest.NewJobDigestStore()
	require.NoError(t, err)

	digest := &domain.JobDigest{Status: domain.RunStatusComplete}
	require.NoError(t, store.PutJobDigest("rule1", "target1", digest))

	got, err := store.GetJobDigest("rule1", "target1")
	require.NoError(t, err)
	assert.Equal(t, digest, got)
}
