package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestModelsCommand(t *testing.T) {
	out, err := execute(t, "models")
	require.NoError(t, err)
	require.Contains(t, out, "claude-sonnet-4-5")
	require.Contains(t, out, "gpt-5.2")
}

func TestModelsProviderFilter(t *testing.T) {
	out, err := execute(t, "models", "--provider", "anthropic")
	require.NoError(t, err)
	require.Contains(t, out, "claude-opus-4-6")
	require.NotContains(t, out, "gpt-5.2")
}

func TestRunRequiresPrompt(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prompt cannot be empty")
}

func TestSkillsListCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	skillMD := `---
name: release-notes
description: Writes release notes from a changelog
---
Summarize the changes under headings for features and fixes.
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "release-notes.md"), []byte(skillMD), 0o644))

	out, err := execute(t, "skills", "list", "--dir", dir)
	require.NoError(t, err)
	require.Contains(t, out, "release-notes")
	require.Contains(t, out, "Writes release notes")
}

func TestSkillsListRequiresDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := execute(t, "skills", "list")
	require.Error(t, err)
}

func TestTemplatesListCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	tmpl := "Review $1 carefully and report issues."
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.md"), []byte(tmpl), 0o644))

	out, err := execute(t, "templates", "list", "--dir", dir)
	require.NoError(t, err)
	require.Contains(t, out, "/review")
}

func TestThreadsListEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out, err := execute(t, "threads", "list")
	require.NoError(t, err)
	require.Contains(t, out, "No stored threads.")
}

func TestChatLocalCommands(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader("/help\n/tools\n/quit\n"))
	cmd.SetArgs([]string{"chat"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, buf.String(), "Commands:")
	require.Contains(t, buf.String(), "read")
	require.Contains(t, buf.String(), "spawn_agent")
}

func TestFirstLine(t *testing.T) {
	require.Equal(t, "alpha", firstLine("alpha\nbeta"))
	require.Equal(t, "plain", firstLine("plain"))
}
