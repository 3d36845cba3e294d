package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuannm99/novastore/internal/recman"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	rm, err := recman.Open(filepath.Join(t.TempDir(), "shell"), recman.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rm.Close() })

	var out bytes.Buffer
	return &shell{rm: rm, out: &out}, &out
}

// run executes line and returns what it printed.
func run(t *testing.T, sh *shell, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, sh.exec(line))
	return strings.TrimSpace(out.String())
}

func TestShell_RecordLifecycle(t *testing.T) {
	sh, out := newTestShell(t)

	id := run(t, sh, out, "insert hello world")
	require.NotEmpty(t, id)
	require.Equal(t, `"hello world" (11 bytes)`, run(t, sh, out, "fetch "+id))

	require.Equal(t, "OK", run(t, sh, out, "update "+id+" bye"))
	require.Equal(t, `"bye" (3 bytes)`, run(t, sh, out, "fetch "+id))

	require.Equal(t, "OK", run(t, sh, out, "commit"))
	require.Equal(t, "OK", run(t, sh, out, "delete "+id))
	require.Equal(t, "OK", run(t, sh, out, "rollback"))
	require.Equal(t, `"bye" (3 bytes)`, run(t, sh, out, "fetch "+id))
}

func TestShell_RootsAndNames(t *testing.T) {
	sh, out := newTestShell(t)

	require.Equal(t, "OK", run(t, sh, out, "root 3 42"))
	require.Equal(t, "42", run(t, sh, out, "root 3"))
	require.Equal(t, "OK", run(t, sh, out, "name users 42"))
	require.Equal(t, "42", run(t, sh, out, "name users"))
	require.Equal(t, "0", run(t, sh, out, "name nobody"))

	require.Contains(t, run(t, sh, out, "stats"), "translation:")
}

func TestShell_Errors(t *testing.T) {
	sh, _ := newTestShell(t)

	require.ErrorIs(t, sh.exec("fetch 0"), recman.ErrInvalidRowID)
	require.ErrorContains(t, sh.exec("fetch abc"), "bad rowid")
	require.ErrorContains(t, sh.exec("root"), "usage")
	require.ErrorContains(t, sh.exec("bogus"), "unknown command")
	require.ErrorIs(t, sh.exec(`\q`), errQuit)
	require.NoError(t, sh.exec("   "))
}
