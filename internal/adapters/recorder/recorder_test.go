package recorder_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.forgemake.dev/forgemake/internal/adapters/autodep"
	"go.forgemake.dev/forgemake/internal/adapters/recorder"
	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

// elfShdr64 mirrors Elf64_Shdr (System V ABI, section 4.8 "Section Header").
type elfShdr64 struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// buildMinimalELF assembles the smallest ELF64 executable debug/elf will
// recognize as having a single DT_NEEDED dependency on needed: a NULL
// section, a .dynstr holding needed's name, a .dynamic section with one
// DT_NEEDED entry pointing into it, and a .shstrtab naming all three. No
// program headers: ImportedLibraries reads the dynamic section by type,
// not by segment.
func buildMinimalELF(t *testing.T, needed string) []byte {
	t.Helper()

	const ehdrSize = 64
	const (
		shtStrtab  = 3
		shtDynamic = 6
		dtNeeded   = 1
	)

	dynstr := append([]byte{0}, []byte(needed+"\x00")...)
	nameOff := uint64(1)

	var dynBuf bytes.Buffer
	require.NoError(t, binary.Write(&dynBuf, binary.LittleEndian, struct{ Tag, Val int64 }{dtNeeded, int64(nameOff)}))
	require.NoError(t, binary.Write(&dynBuf, binary.LittleEndian, struct{ Tag, Val int64 }{0, 0}))
	dynamic := dynBuf.Bytes()

	shstrtab := []byte("\x00.dynstr\x00.dynamic\x00.shstrtab\x00")

	dynstrOff := uint64(ehdrSize)
	dynamicOff := dynstrOff + uint64(len(dynstr))
	shstrtabOff := dynamicOff + uint64(len(dynamic))
	shoff := shstrtabOff + uint64(len(shstrtab))

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(2)))  // e_type: ET_EXEC
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(62))) // e_machine: EM_X86_64
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(1)))  // e_version
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(0)))  // e_entry
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(0)))  // e_phoff
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, shoff))      // e_shoff
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(0)))  // e_flags
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(ehdrSize)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(0))) // e_phentsize
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(0))) // e_phnum
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(64)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(4))) // e_shnum
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(3))) // e_shstrndx
	require.Equal(t, ehdrSize, buf.Len())

	buf.Write(dynstr)
	buf.Write(dynamic)
	buf.Write(shstrtab)

	write := func(s elfShdr64) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, s)) }
	write(elfShdr64{})
	write(elfShdr64{Name: 1, Type: shtStrtab, Off: dynstrOff, Size: uint64(len(dynstr)), Addralign: 1})
	write(elfShdr64{Name: 9, Type: shtDynamic, Off: dynamicOff, Size: uint64(len(dynamic)), Link: 1, Addralign: 8, Entsize: 16})
	write(elfShdr64{Name: 18, Type: shtStrtab, Off: shstrtabOff, Size: uint64(len(shstrtab)), Addralign: 1})

	return buf.Bytes()
}

func newTestRecorder(t *testing.T) (*recorder.Recorder, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o750))

	env := domain.AutodepEnv{
		RootDir:    root,
		LnkSupport: domain.LinkSupportFull,
	}
	resolver, err := autodep.New(env, root)
	require.NoError(t, err)

	return recorder.New(env, resolver), root
}

func drain(t *testing.T, rec *recorder.Recorder, n int) []domain.AccessEvent {
	t.Helper()
	var events []domain.AccessEvent
	for i := 0; i < n; i++ {
		select {
		case ev := <-rec.Events():
			events = append(events, ev)
		default:
			t.Fatalf("expected %d events, got %d", n, i)
		}
	}
	return events
}

func TestRecorder_OpenReadOnly(t *testing.T) {
	rec, root := newTestRecorder(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "f.txt"), []byte("x"), 0o600))

	const oRDONLY = 0
	ctx := rec.Open(ports.CwdAnchor, "a/f.txt", oRDONLY, "")
	rec.Finalize(ctx, 3, 0)

	events := drain(t, rec, 1)
	assert.Equal(t, domain.AccessRead, events[0].Kind)
	assert.Equal(t, "a/f.txt", events[0].Path.String())
}

func TestRecorder_OpenWriteCreate(t *testing.T) {
	rec, _ := newTestRecorder(t)

	const oWRONLY, oCREAT = 0x1, 0x40
	ctx := rec.Open(ports.CwdAnchor, "a/new.txt", oWRONLY|oCREAT, "")
	rec.Finalize(ctx, 4, 0)

	events := drain(t, rec, 1)
	assert.Equal(t, domain.AccessWrite, events[0].Kind)
}

func TestRecorder_OpenFailureEmitsNone(t *testing.T) {
	rec, _ := newTestRecorder(t)

	ctx := rec.Open(ports.CwdAnchor, "a/missing.txt", 0, "")
	rec.Finalize(ctx, -1, 2)

	events := drain(t, rec, 1)
	assert.Equal(t, domain.AccessNone, events[0].Kind)
}

func TestRecorder_ChdirUpdatesCwdUnderLock(t *testing.T) {
	rec, root := newTestRecorder(t)

	ctx := rec.Chdir(filepath.Join(root, "a"))
	assert.Equal(t, filepath.Join(root, "a"), ctx.Path)
}

func TestRecorder_UnlnkEmitsUnlinkEvent(t *testing.T) {
	rec, root := newTestRecorder(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "doomed.txt"), []byte("x"), 0o600))

	ctx := rec.Unlnk("a/doomed.txt", false)
	rec.Finalize(ctx, 0, 0)

	events := drain(t, rec, 1)
	assert.Equal(t, domain.AccessUnlink, events[0].Kind)
}

func TestRecorder_RenameEmitsBothEndpoints(t *testing.T) {
	rec, root := newTestRecorder(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "old.txt"), []byte("x"), 0o600))

	ctx := rec.Rename("a/old.txt", "a/new.txt", 0)
	rec.Finalize(ctx, 0, 0)

	events := drain(t, rec, 2)
	assert.Equal(t, domain.AccessRename, events[0].Kind)
	assert.Equal(t, domain.AccessRename, events[1].Kind)
}

func TestRecorder_ExecEmitsEventPerHop(t *testing.T) {
	rec, root := newTestRecorder(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "script"), []byte("#!/bin/sh\n"), 0o700))

	ctx := rec.Exec("a/script", nil, nil, false)
	rec.Finalize(ctx, 0, 0)

	events := drain(t, rec, 2)
	assert.Equal(t, domain.AccessExec, events[0].Kind)
	assert.Equal(t, "a/script", events[0].Path.String())
	assert.Equal(t, domain.AccessExec, events[1].Kind)
	assert.Equal(t, "/bin/sh", events[1].Path.String())
	assert.Equal(t, "interpreter hop", events[1].Comment)
}

func TestRecorder_ExecRecordsInterpreterOutsideRepo(t *testing.T) {
	rec, root := newTestRecorder(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "wrapper"), []byte("#!/usr/bin/env inner\nrest\n"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "inner"), []byte("plain binary, not a script"), 0o700))

	ctx := rec.Exec("a/wrapper", nil, nil, false)
	rec.Finalize(ctx, 0, 0)

	events := drain(t, rec, 2)
	assert.Equal(t, "a/wrapper", events[0].Path.String())
	assert.Equal(t, "/usr/bin/env", events[1].Path.String())
}

func TestRecorder_ExecStopsAtMaxShebangHops(t *testing.T) {
	rec, root := newTestRecorder(t)
	// Each script's interpreter is itself a "#!" script, so a naive
	// implementation would recurse forever; maxShebangHops must cut this
	// off at 1 (initial) + 4 (interpreter hops) = 5 recorded accesses,
	// even though the chain itself is 6 scripts long.
	const chainLen = 6
	for i := 0; i < chainLen; i++ {
		next := filepath.Join(root, "a", fmt.Sprintf("hop%d", i+1))
		require.NoError(t, os.WriteFile(filepath.Join(root, "a", fmt.Sprintf("hop%d", i)), []byte("#!"+next+"\n"), 0o700))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", fmt.Sprintf("hop%d", chainLen)), []byte("final, not a script"), 0o700))

	ctx := rec.Exec("a/hop0", nil, nil, false)
	rec.Finalize(ctx, 0, 0)

	events := drain(t, rec, 5)
	assert.Len(t, events, 5, "1 initial hop plus at most maxShebangHops recorded interpreter hops")
}

func TestRecorder_ExecScansELFDependencies(t *testing.T) {
	rec, root := newTestRecorder(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "libs"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "libs", "liba.so"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "prog"), buildMinimalELF(t, "liba.so"), 0o700))

	envp := []string{"LD_LIBRARY_PATH=" + filepath.Join(root, "libs")}
	ctx := rec.Exec("a/prog", nil, envp, false)
	rec.Finalize(ctx, 0, 0)

	events := drain(t, rec, 2)
	assert.Equal(t, domain.AccessSolve, events[0].Kind)
	assert.Contains(t, events[0].Path.String(), "liba.so")
	assert.Equal(t, domain.AccessExec, events[1].Kind)
	assert.Equal(t, "a/prog", events[1].Path.String())
}

func TestRecorder_HideMarksFdRange(t *testing.T) {
	rec, _ := newTestRecorder(t)

	rec.Hide(10, 12)
	assert.True(t, rec.IsHidden(10))
	assert.True(t, rec.IsHidden(11))
	assert.True(t, rec.IsHidden(12))
	assert.False(t, rec.IsHidden(13))
}

func TestRecorder_IsSimpleSkipsResolution(t *testing.T) {
	rec, _ := newTestRecorder(t)
	assert.True(t, rec.IsSimple("/dev/null"))

	ctx := rec.Open(ports.CwdAnchor, "/dev/null", 0, "")
	assert.True(t, ctx.Simple)
	rec.Finalize(ctx, 1, 0)

	select {
	case ev := <-rec.Events():
		t.Fatalf("expected no event for a simple path, got %+v", ev)
	default:
	}
}

func TestRecorder_SearchRecordsEveryAttempt(t *testing.T) {
	rec, root := newTestRecorder(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "tool"), []byte("x"), 0o700))

	searchPath := filepath.Join(root, "missing") + ":" + filepath.Join(root, "bin")
	ctx := rec.Search("tool", searchPath, true)
	rec.Finalize(ctx, 0, 0)

	events := drain(t, rec, 2)
	for _, ev := range events {
		assert.Equal(t, domain.AccessSolve, ev.Kind)
	}
}
