package rename

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/lsp-typescript/internal/lsp"
)

// ApplyRenameFileCommand is the typescript-language-server command that
// rewrites imports after a file move.
const ApplyRenameFileCommand = "_typescript.applyRenameFile"

// RenameFileArgs is the single argument of ApplyRenameFileCommand. Both
// fields carry plain file system paths.
type RenameFileArgs struct {
	SourceURI string `json:"sourceUri"`
	TargetURI string `json:"targetUri"`
}

// Applier performs the downstream update for a detected rename.
type Applier interface {
	ApplyRename(ctx context.Context, oldPath, newPath string) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, oldPath, newPath string) error

// ApplyRename implements Applier.
func (f ApplierFunc) ApplyRename(ctx context.Context, oldPath, newPath string) error {
	return f(ctx, oldPath, newPath)
}

// CommandExecutor runs workspace/executeCommand. *lsp.Server implements it.
type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, command string, args ...any) (json.RawMessage, error)
}

// SessionApplier sends ApplyRenameFileCommand to the current session.
type SessionApplier struct {
	// Session returns the live session, or nil when there is none.
	Session func() CommandExecutor
}

// ApplyRename implements Applier. Without a live session it does nothing.
func (a SessionApplier) ApplyRename(ctx context.Context, oldPath, newPath string) error {
	if a.Session == nil {
		return nil
	}
	session := a.Session()
	if session == nil {
		return nil
	}

	_, err := session.ExecuteCommand(ctx, ApplyRenameFileCommand, RenameFileArgs{
		SourceURI: oldPath,
		TargetURI: newPath,
	})
	if err != nil {
		if lsp.IsSessionGone(err) {
			return nil
		}
		return fmt.Errorf("%s: %w", ApplyRenameFileCommand, err)
	}
	return nil
}
