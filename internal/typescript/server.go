// Package typescript holds the TypeScript-specific behaviour of the bridge:
// where the language server lives, the extension requests and notifications
// it sends, the editor commands built on top of it, inlay hints and the
// handling of Deno dependency caches.
package typescript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/lsp-typescript/internal/config"
	"github.com/dshills/lsp-typescript/internal/lsp"
)

// SessionName names the language server session.
const SessionName = "LSP-typescript"

// ServerDirectory is the directory under the storage dir holding the server.
const ServerDirectory = "typescript-language-server"

// ServerBinaryPath is the server entry point relative to the storage dir.
var ServerBinaryPath = filepath.Join(ServerDirectory, "node_modules", "typescript-language-server", "lib", "cli.mjs")

// ErrServerNotInstalled is returned when the server entry point is missing.
var ErrServerNotInstalled = errors.New("typescript-language-server is not installed")

// ServerBinary returns the entry point to run. A relative server_path is
// resolved against the storage dir.
func ServerBinary(cfg *config.Config) string {
	if cfg.ServerPath != "" {
		if filepath.IsAbs(cfg.ServerPath) {
			return cfg.ServerPath
		}
		return filepath.Join(cfg.StorageDir, cfg.ServerPath)
	}
	return filepath.Join(cfg.StorageDir, ServerBinaryPath)
}

// ServerConfig describes how to start the server with the given Node.js
// executable: node <binary> --stdio.
func ServerConfig(cfg *config.Config, nodePath string) (lsp.ServerConfig, error) {
	bin := ServerBinary(cfg)
	info, err := os.Stat(bin)
	if err != nil {
		if os.IsNotExist(err) {
			return lsp.ServerConfig{}, fmt.Errorf("%w: %s", ErrServerNotInstalled, bin)
		}
		return lsp.ServerConfig{}, err
	}
	if info.IsDir() {
		return lsp.ServerConfig{}, fmt.Errorf("%w: %s is a directory", ErrServerNotInstalled, bin)
	}

	return lsp.ServerConfig{
		Name:    SessionName,
		Command: nodePath,
		Args:    []string{bin, "--stdio"},
	}, nil
}
