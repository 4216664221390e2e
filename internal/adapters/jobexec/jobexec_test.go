package jobexec_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.forgemake.dev/forgemake/internal/adapters/jobexec"
	"go.forgemake.dev/forgemake/internal/adapters/logger"
	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

func TestPreActions_UnlinksStaleTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "stale.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

	err := jobexec.PreActions([]domain.FileAction{
		{Kind: domain.FileActionUnlnk, Path: domain.NewInternedString(target)},
	})
	require.NoError(t, err)

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPreActions_MkdirCreatesParent(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")

	err := jobexec.PreActions([]domain.FileAction{
		{Kind: domain.FileActionMkdir, Path: domain.NewInternedString(nested)},
	})
	require.NoError(t, err)

	info, statErr := os.Stat(nested)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestPreActions_UniquifyLinksAside(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(target, []byte("content"), 0o600))

	err := jobexec.PreActions([]domain.FileAction{
		{Kind: domain.FileActionUniquify, Path: domain.NewInternedString(target)},
	})
	require.NoError(t, err)

	aside, statErr := os.Stat(target + ".prev")
	require.NoError(t, statErr)
	assert.False(t, aside.IsDir())
}

func TestPreActions_MissingUnlinkTargetIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	err := jobexec.PreActions([]domain.FileAction{
		{Kind: domain.FileActionUnlnk, Path: domain.NewInternedString(filepath.Join(dir, "never-existed"))},
	})
	assert.NoError(t, err)
}

func TestJobExec_StateStringer(t *testing.T) {
	assert.Equal(t, "Starting", jobexec.StateStarting.String())
	assert.Equal(t, "Running", jobexec.StateRunning.String())
	assert.Equal(t, "Ending", jobexec.StateEnding.String())
	assert.Equal(t, "Done", jobexec.StateDone.String())
}

func TestJobExec_HeartbeatMismatchReportsLost(t *testing.T) {
	client := &fakeClient{}
	je := &jobexec.JobExec{
		SeqID:  1,
		JobID:  100,
		Client: client,
		Logger: logger.New(),
	}

	err := je.Heartbeat(context.Background(), 2, 100)
	require.NoError(t, err)
	assert.True(t, client.endCalled)
}

type fakeClient struct {
	endCalled bool
}

var _ ports.JobServerClient = (*fakeClient)(nil)

func (f *fakeClient) Start(ctx context.Context, seqID, jobID uint32, host string, rpcPort int) (ports.StartReply, error) {
	return ports.StartReply{}, nil
}

func (f *fakeClient) End(ctx context.Context, seqID, jobID uint32, digest domain.JobDigest) error {
	f.endCalled = true
	return nil
}

func (f *fakeClient) ChkDeps(ctx context.Context, seqID, jobID uint32, deps []domain.DepDigest) (ports.ChkDepsVerdict, error) {
	return ports.ChkDepsVerdict{}, nil
}

func (f *fakeClient) DepInfos(ctx context.Context, seqID, jobID uint32, paths []string) ([]domain.CRC, error) {
	return nil, nil
}

func (f *fakeClient) LiveOut(ctx context.Context, seqID, jobID uint32, chunk []byte) error {
	return nil
}

func (f *fakeClient) Close() error { return nil }
