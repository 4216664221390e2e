package interposer

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"go.forgemake.dev/forgemake/internal/adapters/autodep"
	"go.forgemake.dev/forgemake/internal/adapters/recorder"
	"go.forgemake.dev/forgemake/internal/core/domain"
)

func newTestRecorder(t *testing.T) *recorder.Recorder {
	t.Helper()
	root := t.TempDir()
	env := domain.AutodepEnv{RootDir: root, LnkSupport: domain.LinkSupportFull}
	resolver, err := autodep.New(env, root)
	if err != nil {
		t.Fatal(err)
	}
	return recorder.New(env, resolver)
}

func TestEnter_NotStartedIsPassthrough(t *testing.T) {
	Teardown()
	_, ok := enter()
	assert.False(t, ok)
}

func TestEnter_AfterSetupReturnsRecorder(t *testing.T) {
	rec := newTestRecorder(t)
	Setup(rec)
	defer Teardown()

	got, ok := enter()
	assert.True(t, ok)
	assert.Same(t, rec, got)
	leave()
}

func TestEnter_GuardsAgainstReentrancyOnSameThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rec := newTestRecorder(t)
	Setup(rec)
	defer Teardown()

	_, ok := enter()
	assert.True(t, ok)
	defer leave()

	_, ok = enter()
	assert.False(t, ok, "a second enter on the same thread must be refused")
}

func TestSyscallName(t *testing.T) {
	assert.Equal(t, "rename", SyscallName(unix.SYS_RENAMEAT2))
	assert.Equal(t, "", SyscallName(999999))
}
