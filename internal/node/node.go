// Package node locates the Node.js runtime and checks its version.
package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// MinimumVersion is the oldest Node.js that runs typescript-language-server.
const MinimumVersion = "14.16.0"

var (
	// ErrNodeNotFound is returned when no Node.js binary can be located.
	ErrNodeNotFound = errors.New("node.js not found")

	// ErrNodeTooOld is returned when the runtime is older than required.
	ErrNodeTooOld = errors.New("node.js is too old")

	// ErrBadVersion is returned when a version string cannot be parsed.
	ErrBadVersion = errors.New("unparseable node.js version")
)

// Runtime describes a located Node.js binary.
type Runtime struct {
	// Path is the resolved executable path.
	Path string

	// Version is the canonical semver, e.g. "v18.19.0".
	Version string
}

// Find resolves command (a name or a path) to an executable. An empty
// command means "node" from PATH.
func Find(command string) (string, error) {
	if command == "" {
		command = "node"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNodeNotFound, err)
	}
	return path, nil
}

// Version runs "<path> --version" and returns the canonical version.
func Version(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s --version: %w", path, err)
	}
	return Canonical(stdout.String())
}

// Canonical normalizes "v18.2.0", "18.2.0" or "18.2" into semver form.
func Canonical(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ErrBadVersion
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("%w: %q", ErrBadVersion, v)
	}
	return semver.Canonical(v), nil
}

// AtLeast reports whether version is at least minimum.
func AtLeast(version, minimum string) (bool, error) {
	v, err := Canonical(version)
	if err != nil {
		return false, err
	}
	m, err := Canonical(minimum)
	if err != nil {
		return false, err
	}
	return semver.Compare(v, m) >= 0, nil
}

// Check locates command and verifies it is at least minimum. An empty
// minimum means MinimumVersion.
func Check(ctx context.Context, command, minimum string) (Runtime, error) {
	if minimum == "" {
		minimum = MinimumVersion
	}

	path, err := Find(command)
	if err != nil {
		return Runtime{}, err
	}

	version, err := Version(ctx, path)
	if err != nil {
		return Runtime{Path: path}, err
	}

	rt := Runtime{Path: path, Version: version}
	ok, err := AtLeast(version, minimum)
	if err != nil {
		return rt, err
	}
	if !ok {
		return rt, fmt.Errorf("%w: found %s, need %s or newer", ErrNodeTooOld, version, strings.TrimPrefix(minimum, "v"))
	}
	return rt, nil
}
