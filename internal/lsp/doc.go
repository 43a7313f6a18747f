// Package lsp provides the upstream side of the TypeScript bridge: a
// JSON-RPC 2.0 transport and a session with an external language server
// process (typescript-language-server).
//
// # Architecture
//
//   - Transport: Content-Length framed JSON-RPC 2.0 over a byte stream. It is
//     symmetric, so it issues requests and notifications and also serves
//     requests sent by the peer (for example "_typescript.rename").
//   - Server: one language server process, its initialize handshake and its
//     status state machine.
//
// Messages the bridge only relays are kept as json.RawMessage end to end
// (CallRaw, NotifyRaw); only the handful of messages the bridge acts on are
// decoded into the types in protocol.go.
//
// # Quick Start
//
//	server := lsp.NewServer(lsp.ServerConfig{
//	    Name:    "LSP-typescript",
//	    Command: "node",
//	    Args:    []string{serverPath, "--stdio"},
//	})
//	result, err := server.Start(ctx, nil, folders)
//	if err != nil {
//	    return err
//	}
//	defer server.Shutdown(ctx)
//	_ = server.Initialized(ctx)
//
//	_, err = server.ExecuteCommand(ctx, "_typescript.organizeImports", path)
//
// # Errors
//
// Calls against a session that is not running fail with ErrNotStarted,
// ErrShutdown, ErrServerNotReady or ErrServerCrashed; IsSessionGone groups
// them for callers that treat a missing session as a no-op.
//
// # Ordering
//
// Peer requests and notifications reach their handlers in the order they
// were read. A request handler runs on its own goroutine but holds later
// messages until it returns or calls Release; a Call made with the
// handler's context releases once its own request is written.
//
// # Thread Safety
//
// Transport and Server are safe for concurrent use.
package lsp
