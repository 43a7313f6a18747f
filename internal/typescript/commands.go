package typescript

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/lsp-typescript/internal/lsp"
)

// Editor-facing commands.
const (
	CommandOrganizeImports      = "lsp_typescript.organizeImports"
	CommandCalls                = "lsp_typescript.calls"
	CommandGoToSourceDefinition = "lsp_typescript.goToSourceDefinition"

	// CommandShowReferences is sent by the server in code lenses. It is
	// handled here and never reaches the server.
	CommandShowReferences = "editor.action.showReferences"
)

// Server commands and methods behind the editor commands.
const (
	ServerOrganizeImports      = "_typescript.organizeImports"
	ServerGoToSourceDefinition = "_typescript.goToSourceDefinition"
	MethodCalls                = "textDocument/calls"
)

// NoReferences is shown when a references lens has nothing to show.
const NoReferences = "No references found"

// Commands lists the commands the bridge adds to the server's own.
var Commands = []string{
	CommandOrganizeImports,
	CommandCalls,
	CommandGoToSourceDefinition,
}

// CallsDirection selects callers or callees.
type CallsDirection string

const (
	CallsIncoming CallsDirection = "incoming"
	CallsOutgoing CallsDirection = "outgoing"
)

// CallsParams are the params of MethodCalls.
type CallsParams struct {
	lsp.TextDocumentPositionParams
	Direction CallsDirection `json:"direction"`
}

// DefinitionSymbol describes a symbol in a calls response.
type DefinitionSymbol struct {
	Name           string       `json:"name"`
	Detail         string       `json:"detail,omitempty"`
	Kind           int          `json:"kind"`
	Location       lsp.Location `json:"location"`
	SelectionRange lsp.Range    `json:"selectionRange"`
}

// Call is one caller or callee.
type Call struct {
	Location lsp.Location     `json:"location"`
	Symbol   DefinitionSymbol `json:"symbol"`
}

// CallsResponse is the result of MethodCalls.
type CallsResponse struct {
	Symbol *DefinitionSymbol `json:"symbol"`
	Calls  []Call            `json:"calls"`
}

// Locations returns the call sites of the response.
func (r *CallsResponse) Locations() []lsp.Location {
	if r == nil {
		return nil
	}
	locs := make([]lsp.Location, len(r.Calls))
	for i, c := range r.Calls {
		locs[i] = c.Location
	}
	return locs
}

func invalidParams(format string, args ...any) error {
	return &lsp.RPCError{Code: lsp.CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// ExecuteCommand runs command if it belongs to the bridge. handled is false
// for commands that should be forwarded to the server unchanged.
func (p *Plugin) ExecuteCommand(ctx context.Context, command string, args []json.RawMessage) (result any, handled bool, err error) {
	switch command {
	case CommandShowReferences:
		return nil, true, p.showReferences(args)
	case CommandOrganizeImports:
		raw, err := p.session.ExecuteCommand(ctx, ServerOrganizeImports, rawArgs(args)...)
		return raw, true, err
	case CommandCalls:
		res, err := p.calls(ctx, args)
		return res, true, err
	case CommandGoToSourceDefinition:
		res, err := p.goToSourceDefinition(ctx, args)
		return res, true, err
	default:
		return nil, false, nil
	}
}

// showReferences takes [uri, position, locations].
func (p *Plugin) showReferences(args []json.RawMessage) error {
	if len(args) < 3 {
		return invalidParams("%s: want 3 arguments, got %d", CommandShowReferences, len(args))
	}

	var refs []lsp.Location
	if err := json.Unmarshal(args[2], &refs); err != nil {
		return invalidParams("%s: %s", CommandShowReferences, err)
	}

	if len(refs) == 0 {
		p.window.StatusMessage(NoReferences)
		return nil
	}
	p.picker.Show(refs)
	return nil
}

func (p *Plugin) calls(ctx context.Context, args []json.RawMessage) (any, error) {
	if len(args) == 0 {
		return nil, invalidParams("%s: missing arguments", CommandCalls)
	}

	var params CallsParams
	if err := json.Unmarshal(args[0], &params); err != nil {
		return nil, invalidParams("%s: %s", CommandCalls, err)
	}
	switch params.Direction {
	case CallsIncoming, CallsOutgoing:
	case "":
		params.Direction = CallsIncoming
	default:
		return nil, invalidParams("%s: unknown direction %q", CommandCalls, params.Direction)
	}

	var resp *CallsResponse
	if err := p.session.Call(ctx, MethodCalls, params, &resp); err != nil {
		return nil, err
	}
	p.picker.Show(resp.Locations())
	return resp, nil
}

// goToSourceDefinition reports failures in a dialog rather than to the
// caller.
func (p *Plugin) goToSourceDefinition(ctx context.Context, args []json.RawMessage) (any, error) {
	raw, err := p.session.ExecuteCommand(ctx, ServerGoToSourceDefinition, rawArgs(args)...)
	if err != nil {
		p.window.MessageDialog(fmt.Sprintf("command %s failed. Reason: %s", ServerGoToSourceDefinition, err))
		return nil, nil
	}

	locs, err := lsp.ParseLocationResult(raw)
	if err != nil {
		return nil, err
	}
	p.picker.Show(locs)
	return raw, nil
}

func rawArgs(args []json.RawMessage) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
