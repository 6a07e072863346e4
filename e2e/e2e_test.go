//go:build e2e

// Package e2e runs the built binary against a real drive. It needs
// GRAPHDRIVE_TEST_DRIVE listed in GRAPHDRIVE_ALLOWED_TEST_DRIVES and either a
// saved login or GRAPHDRIVE_ACCESS_TOKEN.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/graphdrive/testutil"
)

var (
	binaryPath string
	drive      string
	configPath string
)

func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))
	drive = testutil.RequireAllowedDrive()

	tmpDir, err := os.MkdirTemp("", "graphdrive-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "graphdrive")

	build := exec.Command("go", "build", "-o", binaryPath, ".")
	build.Dir = root
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr

	if err := build.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.Exit(1)
	}

	// An empty config keeps the user's own settings out of the run.
	configPath = filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, nil, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "writing config: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func command(args ...string) *exec.Cmd {
	full := append([]string{"--config", configPath, "--drive", drive}, args...)
	return exec.Command(binaryPath, full...)
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	cmd := command(args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("graphdrive %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout.String(), stderr.String())
	}

	return stdout.String(), stderr.String()
}

// exitStatus runs the CLI expecting failure and returns its exit code.
func exitStatus(t *testing.T, args ...string) int {
	t.Helper()

	err := command(args...).Run()
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)

	return exitErr.ExitCode()
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))

	return p
}

func testFolder(t *testing.T, prefix string) string {
	t.Helper()

	folder := fmt.Sprintf("/graphdrive-e2e-%s-%d", prefix, time.Now().UnixNano())

	t.Cleanup(func() {
		_ = command("rm", folder).Run()
	})

	runCLI(t, "mkdir", folder)

	return folder
}

func TestE2E_RoundTrip(t *testing.T) {
	folder := testFolder(t, "rt")
	content := []byte("Hello from the graphdrive live test\n")

	t.Run("whoami", func(t *testing.T) {
		stdout, _ := runCLI(t, "--json", "whoami")

		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.Contains(t, out, "drive")
	})

	t.Run("mkdir_parents", func(t *testing.T) {
		runCLI(t, "mkdir", "-p", folder+"/sub/deeper")
		runCLI(t, "mkdir", "-p", folder+"/sub")
	})

	t.Run("put_and_ls", func(t *testing.T) {
		_, stderr := runCLI(t, "put", writeTemp(t, "test.txt", content), folder+"/")
		assert.Contains(t, stderr, "Uploaded")

		stdout, _ := runCLI(t, "ls", folder)
		assert.Contains(t, stdout, "test.txt")
		assert.Contains(t, stdout, "sub/")
	})

	t.Run("stat", func(t *testing.T) {
		stdout, _ := runCLI(t, "stat", folder+"/test.txt")
		assert.Contains(t, stdout, fmt.Sprintf("%d bytes", len(content)))
	})

	t.Run("put_conflict_fail", func(t *testing.T) {
		code := exitStatus(t, "put", "--conflict", "fail", writeTemp(t, "test.txt", content), folder+"/")
		assert.Equal(t, 1, code)
	})

	t.Run("get", func(t *testing.T) {
		local := filepath.Join(t.TempDir(), "downloaded.txt")

		_, stderr := runCLI(t, "get", folder+"/test.txt", local)
		assert.Contains(t, stderr, "Downloaded")

		got, err := os.ReadFile(local)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("mv", func(t *testing.T) {
		runCLI(t, "mv", folder+"/test.txt", folder+"/sub/moved.txt")

		stdout, _ := runCLI(t, "ls", folder+"/sub")
		assert.Contains(t, stdout, "moved.txt")
	})

	t.Run("cp_wait", func(t *testing.T) {
		_, stderr := runCLI(t, "cp", "--wait", "--name", "copy.txt", folder+"/sub/moved.txt", folder)
		assert.Contains(t, stderr, "Copy complete")

		stdout, _ := runCLI(t, "ls", folder)
		assert.Contains(t, stdout, "copy.txt")
	})

	t.Run("stat_missing", func(t *testing.T) {
		assert.Equal(t, 2, exitStatus(t, "stat", folder+"/no-such-file"))
	})

	t.Run("rm", func(t *testing.T) {
		_, stderr := runCLI(t, "rm", folder+"/copy.txt")
		assert.Contains(t, stderr, "Deleted")
	})
}

// TestE2E_ChunkedUpload pushes a file past the simple upload limit through a
// resumable session and reads it back.
func TestE2E_ChunkedUpload(t *testing.T) {
	folder := testFolder(t, "chunked")

	const size = 5*1024*1024 + 123

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	remote := folder + "/large.bin"

	_, stderr := runCLI(t, "put", writeTemp(t, "large.bin", data), remote)
	assert.Contains(t, stderr, "Uploaded")

	stdout, _ := runCLI(t, "stat", remote)
	assert.Contains(t, stdout, fmt.Sprintf("%d bytes", size))

	local := filepath.Join(t.TempDir(), "large.bin")
	runCLI(t, "get", remote, local)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestE2E_UnicodeAndSpaces(t *testing.T) {
	folder := testFolder(t, "names")

	for _, name := range []string{"日本語テスト.txt", "with spaces.txt"} {
		runCLI(t, "put", writeTemp(t, "src.txt", []byte(name)), folder+"/"+name)
	}

	stdout, _ := runCLI(t, "ls", folder)
	assert.Contains(t, stdout, "日本語テスト.txt")
	assert.Contains(t, stdout, "with spaces.txt")
}

func TestE2E_ParallelPut(t *testing.T) {
	folder := testFolder(t, "parallel")

	args := []string{"--json", "put", "--parallel", "3"}
	for i := range 5 {
		args = append(args, writeTemp(t, fmt.Sprintf("f%d.txt", i), []byte(strings.Repeat("x", i+1))))
	}

	stdout, _ := runCLI(t, append(args, folder)...)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.Len(t, results, 5)

	for _, r := range results {
		assert.NotContains(t, r, "error")
	}
}

// TestE2E_Changes checks that a second run reports only what happened in
// between.
func TestE2E_Changes(t *testing.T) {
	folder := testFolder(t, "changes")

	xdg := t.TempDir()

	run := func(args ...string) string {
		t.Helper()

		cmd := command(args...)
		cmd.Env = append(os.Environ(), "XDG_DATA_HOME="+xdg)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		require.NoError(t, cmd.Run(), stderr.String())

		return stdout.String() + stderr.String()
	}

	// A relocated data dir has no saved login; an access token is required.
	if os.Getenv("GRAPHDRIVE_ACCESS_TOKEN") == "" {
		t.Skip("GRAPHDRIVE_ACCESS_TOKEN not set")
	}

	assert.Contains(t, run("changes", folder), "full sync")

	runCLI(t, "put", writeTemp(t, "new.txt", []byte("new")), folder+"/")

	out := run("changes", folder)
	assert.Contains(t, out, "incremental sync")
	assert.Contains(t, out, "new.txt")
}
