package typescript

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/dshills/lsp-typescript/internal/config"
	"github.com/dshills/lsp-typescript/internal/lsp"
	"github.com/dshills/lsp-typescript/internal/ui"
)

// Server-initiated methods handled here.
const (
	MethodRename            = "_typescript.rename"
	MethodTypescriptVersion = "$/typescriptVersion"
)

// RenameHint is shown after the editor has been moved to a symbol the
// server wants renamed.
const RenameHint = "Rename the symbol at the cursor to continue."

// Session is the part of the language server session the plugin uses.
// *lsp.Server implements it.
type Session interface {
	Call(ctx context.Context, method string, params any, result any) error
	ExecuteCommand(ctx context.Context, command string, args ...any) (json.RawMessage, error)
}

// Registrar accepts handlers for server-initiated messages.
type Registrar interface {
	OnRequest(method string, handler lsp.RequestHandler)
	OnNotification(method string, handler lsp.NotificationHandler)
}

// VersionParams are the params of MethodTypescriptVersion. Source is one of
// bundled, user-setting or workspace.
type VersionParams struct {
	Version string `json:"version"`
	Source  string `json:"source"`
}

// Plugin wires TypeScript extensions between a session and the editor.
type Plugin struct {
	session  Session
	window   ui.Window
	queue    *ui.Queue
	settings func() config.SettingsConfig
	picker   *LocationPicker
	log      commonlog.Logger

	mu   sync.RWMutex
	root string
}

// New creates a plugin. settings is read on every use so reloaded settings
// take effect immediately.
func New(session Session, window ui.Window, queue *ui.Queue, settings func() config.SettingsConfig) *Plugin {
	if settings == nil {
		settings = func() config.SettingsConfig {
			return config.SettingsConfig{
				UpdateImportsOnFileMove: config.DefaultUpdateImports,
				StatusText:              config.DefaultStatusText,
				InlayHints:              true,
			}
		}
	}
	p := &Plugin{
		session:  session,
		window:   window,
		queue:    queue,
		settings: settings,
		log:      commonlog.GetLogger("lsp-typescript.typescript"),
	}
	p.picker = NewLocationPicker(window, queue, p.Root)
	return p
}

// SetRoot records the workspace root.
func (p *Plugin) SetRoot(root string) {
	p.mu.Lock()
	p.root = root
	p.mu.Unlock()
}

// Root returns the workspace root, or "" before initialize.
func (p *Plugin) Root() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.root
}

// Picker returns the plugin's location picker.
func (p *Plugin) Picker() *LocationPicker {
	return p.picker
}

// Register installs the server-initiated handlers on r.
func (p *Plugin) Register(r Registrar) {
	r.OnRequest(MethodRename, p.onRename)
	r.OnNotification(MethodTypescriptVersion, p.onVersion)
}

// onRename moves the editor to the symbol the server wants renamed. The
// server expects a null reply.
func (p *Plugin) onRename(ctx context.Context, method string, params json.RawMessage) (any, error) {
	var pos lsp.TextDocumentPositionParams
	if err := json.Unmarshal(params, &pos); err != nil {
		return nil, &lsp.RPCError{Code: lsp.CodeInvalidParams, Message: err.Error()}
	}

	loc := lsp.Location{
		URI:   pos.TextDocument.URI,
		Range: lsp.Range{Start: pos.Position, End: pos.Position},
	}
	if err := p.window.OpenLocation(ctx, loc, true); err != nil {
		p.log.Warningf("open %s for rename: %s", pos.TextDocument.URI, err)
		return nil, nil
	}
	p.window.StatusMessage(RenameHint)
	return nil, nil
}

func (p *Plugin) onVersion(method string, params json.RawMessage) {
	var v VersionParams
	if err := json.Unmarshal(params, &v); err != nil {
		p.log.Debugf("%s: %s", method, err)
		return
	}

	p.log.Infof("TypeScript %s (%s)", v.Version, v.Source)
	if text := StatusText(p.settings().StatusText, v); text != "" {
		p.window.SetStatus(text)
	}
}

// StatusText expands $version and $source in template. An empty template
// yields "".
func StatusText(template string, v VersionParams) string {
	if template == "" {
		return ""
	}
	return strings.NewReplacer("$version", v.Version, "$source", v.Source).Replace(template)
}
