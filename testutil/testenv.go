// Package testutil holds environment helpers for the live end-to-end tests,
// which run the built binary against a real drive. It depends only on the
// standard library so the e2e package can import it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the live tests.
const (
	EnvAllowedDrives = "GRAPHDRIVE_ALLOWED_TEST_DRIVES"
	EnvTestDrive     = "GRAPHDRIVE_TEST_DRIVE"
)

// LoadDotEnv reads KEY=VALUE pairs from path into the environment. A missing
// file is not an error. Variables already set win over the file.
func LoadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// RequireAllowedDrive returns the drive named by GRAPHDRIVE_TEST_DRIVE and
// exits the process unless it appears in GRAPHDRIVE_ALLOWED_TEST_DRIVES.
// The tests create and delete files, so they never run against a drive
// nobody listed.
func RequireAllowedDrive() string {
	drive := os.Getenv(EnvTestDrive)
	if drive == "" {
		fatalf("%s not set", EnvTestDrive)
	}

	allowlist := os.Getenv(EnvAllowedDrives)
	if allowlist == "" {
		fatalf("%s not set (example: %s=drive:b!abc123)", EnvAllowedDrives, EnvAllowedDrives)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(a) == drive {
			return drive
		}
	}

	fatalf("%s=%q is not in %s=%q", EnvTestDrive, drive, EnvAllowedDrives, allowlist)

	return ""
}

// FindModuleRoot walks up from the working directory to the directory holding
// go.mod, or returns fallback.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
