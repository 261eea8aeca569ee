package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/mdtabs/internal/files"
	"github.com/agentworkforce/mdtabs/internal/storage"
)

func testEnv(t *testing.T) map[string]string {
	t.Helper()
	dir := t.TempDir()
	return map[string]string{
		"HOME":             dir,
		"XDG_CONFIG_HOME":  filepath.Join(dir, "config"),
		"MDTABS_DATA_DIR":  filepath.Join(dir, "data"),
		"MDTABS_LOG_LEVEL": "ERROR",
	}
}

func runCLI(t *testing.T, env map[string]string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	c := newCLI(strings.NewReader(""), &stdout, &stderr, func(name string) string { return env[name] })
	root := newRootCmd(c)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func mustRun(t *testing.T, env map[string]string, args ...string) string {
	t.Helper()
	stdout, stderr, err := runCLI(t, env, args...)
	require.NoError(t, err, "mdtabs %s\nstderr: %s", strings.Join(args, " "), stderr)
	return stdout
}

func TestFirstRunShowsDefaultFile(t *testing.T) {
	env := testEnv(t)
	out := mustRun(t, env, "ls")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "*"), "expected active marker in %q", lines[0])
	assert.Contains(t, lines[0], "bm.md")
}

func TestReadOnlyCommandsLeaveMetadataAlone(t *testing.T) {
	env := testEnv(t)
	mustRun(t, env, "write", "saved elsewhere")
	metadata := filepath.Join(env["MDTABS_DATA_DIR"], "files.json")
	before, err := os.ReadFile(metadata)
	require.NoError(t, err)

	mustRun(t, env, "ls")
	mustRun(t, env, "ls")
	assert.Equal(t, "saved elsewhere", mustRun(t, env, "cat"))

	after, err := os.ReadFile(metadata)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestNewSwitchAndCat(t *testing.T) {
	env := testEnv(t)
	src := filepath.Join(t.TempDir(), "plan.txt")
	require.NoError(t, os.WriteFile(src, []byte("# Plan\nsteps"), 0o644))

	out := mustRun(t, env, "new", "--from", src, "--switch")
	assert.True(t, strings.HasPrefix(out, "Plan.md\t"), "unexpected output %q", out)

	assert.Equal(t, "# Plan\nsteps", mustRun(t, env, "cat"))
	assert.Equal(t, files.DefaultContent, mustRun(t, env, "cat", "bm"))
}

func TestWriteAndAppendPersist(t *testing.T) {
	env := testEnv(t)
	mustRun(t, env, "write", "hello")
	mustRun(t, env, "write", "--append", "world")
	assert.Equal(t, "hello\nworld", mustRun(t, env, "cat"))
}

func TestRemovingLastFileLeavesDefault(t *testing.T) {
	env := testEnv(t)
	before := mustRun(t, env, "ls")
	mustRun(t, env, "rm", "bm.md")
	after := mustRun(t, env, "ls")

	lines := strings.Split(strings.TrimSpace(after), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "bm.md")
	assert.NotEqual(t, before, after)
}

func TestRenameAndUnknownReference(t *testing.T) {
	env := testEnv(t)
	assert.Equal(t, "notes.md\n", mustRun(t, env, "mv", "bm.md", "notes"))

	_, _, err := runCLI(t, env, "switch", "missing")
	assert.True(t, errors.Is(err, files.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestExportActiveFile(t *testing.T) {
	env := testEnv(t)
	dir := t.TempDir()
	mustRun(t, env, "write", "#", "Exported")

	out := mustRun(t, env, "export", "--out", dir)
	path := strings.TrimSpace(out)
	assert.Equal(t, filepath.Join(dir, "bm.md"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Exported", string(data))
}

func TestOpenSkipsRepeatedLaunch(t *testing.T) {
	env := testEnv(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.md")
	b := filepath.Join(dir, "b.markdown")
	require.NoError(t, os.WriteFile(a, []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("B"), 0o644))

	assert.Equal(t, "opened 2 file(s)\n", mustRun(t, env, "open", a, b))
	assert.Equal(t, "already opened in this session\n", mustRun(t, env, "open", b, a))
	assert.Equal(t, "B", mustRun(t, env, "cat"))
}

func TestImportReportsEachFile(t *testing.T) {
	env := testEnv(t)
	dir := t.TempDir()
	md := filepath.Join(dir, "doc.md")
	html := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(md, []byte("# Doc"), 0o644))
	require.NoError(t, os.WriteFile(html, []byte("<h1>x</h1>"), 0o644))

	out := mustRun(t, env, "import", md, html)
	assert.Contains(t, out, "imported\tdoc.md")
	assert.Contains(t, out, "failed\tpage.html")
	assert.Equal(t, "# Doc", mustRun(t, env, "cat"))
}

func TestStatusReportsDegradedStorage(t *testing.T) {
	env := testEnv(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	env["MDTABS_CONTENT_DSN"] = "sqlite://" + filepath.Join(blocker, "content.db")

	stdout, stderr, err := runCLI(t, env, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "memory only")
	assert.Contains(t, stderr, storage.UnavailableMessage)
}

func TestShellLineRunsDocumentCommands(t *testing.T) {
	env := testEnv(t)
	var stdout, stderr bytes.Buffer
	c := newCLI(strings.NewReader(""), &stdout, &stderr, func(name string) string { return env[name] })
	ctx := context.Background()
	a, err := c.open(ctx)
	require.NoError(t, err)
	c.shared = a

	require.NoError(t, c.runShellLine(ctx, "new scratch --switch"))
	require.NoError(t, c.runShellLine(ctx, "write kept in memory"))
	assert.Error(t, c.runShellLine(ctx, "write"))
	stdout.Reset()
	require.NoError(t, c.runShellLine(ctx, "cat"))
	assert.Equal(t, "kept in memory", stdout.String())

	c.shared = nil
	require.NoError(t, a.close(ctx))
	assert.Equal(t, "kept in memory", mustRun(t, env, "cat", "scratch"))
}

func TestCompleteShell(t *testing.T) {
	assert.Equal(t, []string{"exit", "export"}, completeShell("ex"))
	assert.Empty(t, completeShell("zz"))
}
