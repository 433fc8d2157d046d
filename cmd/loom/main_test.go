package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ops.yaml")
	content := "operators:\n" +
		"  - op: \"loom::add(Tensor a, Tensor b) -> Tensor\"\n" +
		"    alias: from_schema\n" +
		"  - op: \"loom::relu(Tensor a) -> Tensor\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestOpsCommand(t *testing.T) {
	out, err := runCommand(t, "ops", "--manifest", writeManifest(t))
	require.NoError(t, err)
	assert.Contains(t, out, "loom::add")
	assert.Contains(t, out, "CPU")
	assert.Contains(t, out, "(Tensor a, Tensor b) -> Tensor")
	// Kernel-only operators show up without a schema.
	assert.Contains(t, out, "loom::matmul")
}

func TestCheckCommand(t *testing.T) {
	out, err := runCommand(t, "check", "--manifest", writeManifest(t))
	require.NoError(t, err)
	assert.Contains(t, out, "ok:")
}

func TestCheckCommandBadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operators:\n  - op: \"missing parens\"\n"), 0o644))
	_, err := runCommand(t, "check", "--manifest", path)
	assert.Error(t, err)
}
