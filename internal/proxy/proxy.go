// Package proxy sits between the editor and typescript-language-server.
//
// Every message is relayed unchanged in both directions except for the
// few the bridge adds behaviour to: initialize and initialized set up the
// session and the rename watcher, workspace/executeCommand runs the bridge
// commands, didOpen and didChange feed Deno handling and inlay hint
// refreshes, and shutdown/exit tear everything down.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"

	"github.com/dshills/lsp-typescript/internal/config"
	"github.com/dshills/lsp-typescript/internal/lsp"
	"github.com/dshills/lsp-typescript/internal/metrics"
	"github.com/dshills/lsp-typescript/internal/rename"
	"github.com/dshills/lsp-typescript/internal/typescript"
	"github.com/dshills/lsp-typescript/internal/ui"
)

// ErrServerExited is returned by Serve when the language server goes away
// before the editor asked it to.
var ErrServerExited = errors.New("language server exited")

// Options configure a Proxy.
type Options struct {
	// Server describes how to start the language server.
	Server lsp.ServerConfig

	// Config is the initial configuration. It can be replaced with SetConfig.
	Config *config.Config

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Queue is the UI queue. Serve runs it; nil creates one.
	Queue *ui.Queue

	// Reload delivers configuration changes to Serve.
	Reload <-chan *config.Config
}

// Proxy relays one editor session.
type Proxy struct {
	ctx     context.Context
	editor  Peer
	server  *lsp.Server
	queue   *ui.Queue
	window  *EditorWindow
	plugin  *typescript.Plugin
	metrics *metrics.Metrics
	log     commonlog.Logger

	config    atomic.Pointer[config.Config]
	responder *rename.Responder
	refresher *typescript.InlayRefresher

	mu              sync.Mutex
	root            string
	installation    *rename.Installation
	serveInlayHints bool
	refreshSupport  bool
	shutdown        bool

	exitOnce sync.Once
	exited   chan struct{}
}

var _ glsp.Handler = (*Proxy)(nil)

// New creates a proxy talking to the editor through editor. The language
// server is started when the editor sends initialize. ctx bounds the life
// of the server process.
func New(ctx context.Context, editor Peer, opts Options) *Proxy {
	queue := opts.Queue
	if queue == nil {
		queue = ui.NewQueue()
	}
	name := opts.Server.Name
	if name == "" {
		name = typescript.SessionName
		opts.Server.Name = name
	}

	p := &Proxy{
		ctx:     ctx,
		editor:  editor,
		server:  lsp.NewServer(opts.Server),
		queue:   queue,
		metrics: opts.Metrics,
		log:     commonlog.GetLogger("lsp-typescript.proxy"),
		exited:  make(chan struct{}),
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	p.config.Store(cfg)

	p.window = NewEditorWindow(ctx, editor, queue, name)
	p.plugin = typescript.New(p.server, p.window, queue, p.settings)
	p.responder = rename.NewResponder(queue, p.window, rename.SessionApplier{
		Session: func() rename.CommandExecutor { return p.server },
	}, p.policy, opts.Metrics)
	p.refresher = typescript.NewInlayRefresher(typescript.RefreshDelay, p.refreshInlayHints)

	p.plugin.Register(p.server)
	p.server.OnNotification(lsp.Wildcard, p.relayNotification)
	p.server.OnRequest(lsp.Wildcard, p.relayRequest)

	return p
}

// SetConfig replaces the configuration. Settings take effect on their next
// use; rename watcher globs apply to the next session.
func (p *Proxy) SetConfig(cfg *config.Config) {
	if cfg != nil {
		p.config.Store(cfg)
	}
}

// Config returns the current configuration.
func (p *Proxy) Config() *config.Config {
	return p.config.Load()
}

func (p *Proxy) settings() config.SettingsConfig {
	return p.Config().Settings
}

func (p *Proxy) policy() rename.Policy {
	raw := p.settings().UpdateImportsOnFileMove
	policy, ok := rename.ParsePolicy(raw)
	if !ok && raw != "" {
		p.log.Debugf("unknown updateImportsOnFileMove %q, prompting", raw)
	}
	return policy
}

// Server returns the language server session.
func (p *Proxy) Server() *lsp.Server {
	return p.server
}

// Exited is closed once the editor has sent exit.
func (p *Proxy) Exited() <-chan struct{} {
	return p.exited
}

// Handle implements glsp.Handler. Notifications are told apart by method
// name.
func (p *Proxy) Handle(gctx *glsp.Context) (r any, validMethod bool, validParams bool, err error) {
	return p.dispatch(p.ctx, gctx, isNotification(gctx.Method))
}

func (p *Proxy) dispatch(ctx context.Context, gctx *glsp.Context, notification bool) (any, bool, bool, error) {
	method, params := gctx.Method, gctx.Params

	switch method {
	case "initialize":
		result, err := p.initialize(ctx, params)
		if errors.Is(err, errBadParams) {
			return nil, true, false, err
		}
		return result, true, true, err

	case "initialized":
		p.forward(ctx, method, params, true)
		p.installRename()
		return nil, true, true, nil

	case "shutdown":
		return nil, true, true, p.stop(ctx)

	case "exit":
		_ = p.stop(ctx)
		p.exitOnce.Do(func() { close(p.exited) })
		return nil, true, true, nil

	case "workspace/executeCommand":
		return p.executeCommand(ctx, params)

	case "textDocument/didOpen":
		if patched, name, ok := typescript.RewriteDenoDidOpen(params); ok {
			p.log.Infof("opening Deno dependency as %s", name)
			params = patched
		}

	case "textDocument/didChange":
		uri := gjson.GetBytes(params, "textDocument.uri").String()
		version := gjson.GetBytes(params, "textDocument.version").Int()
		defer p.scheduleRefresh(lsp.DocumentURI(uri), int(version))

	case "textDocument/didClose":
		p.refresher.Forget(lsp.DocumentURI(gjson.GetBytes(params, "textDocument.uri").String()))

	case "textDocument/inlayHint":
		if p.servesInlayHints() {
			hints, err := p.plugin.InlayHints(ctx, params)
			return hints, true, true, err
		}
	}

	result, err := p.forward(ctx, method, params, notification)
	return result, true, true, err
}

// forward relays an editor message to the server.
func (p *Proxy) forward(ctx context.Context, method string, params json.RawMessage, notification bool) (any, error) {
	p.metrics.Forwarded(metrics.ToServer)

	if notification {
		if err := p.server.NotifyRaw(ctx, method, params); err != nil {
			p.log.Debugf("drop %s: %s", method, err)
		}
		return nil, nil
	}

	raw, err := p.server.CallRaw(ctx, method, params)
	if err != nil {
		return nil, upstreamError(err)
	}
	return raw, nil
}

// upstreamError maps session errors onto JSON-RPC errors for the editor.
func upstreamError(err error) error {
	switch {
	case errors.Is(err, lsp.ErrNotStarted), errors.Is(err, lsp.ErrServerNotReady):
		return &lsp.RPCError{Code: lsp.CodeServerNotInitialized, Message: err.Error()}
	case lsp.IsSessionGone(err):
		return &lsp.RPCError{Code: lsp.CodeInvalidRequest, Message: err.Error()}
	default:
		return err
	}
}

func (p *Proxy) relayNotification(method string, params json.RawMessage) {
	p.metrics.Forwarded(metrics.ToEditor)
	if err := p.editor.NotifyRaw(p.ctx, method, params); err != nil {
		p.log.Debugf("drop %s to editor: %s", method, err)
	}
}

func (p *Proxy) relayRequest(ctx context.Context, method string, params json.RawMessage) (any, error) {
	p.metrics.Forwarded(metrics.ToEditor)
	raw, err := p.editor.CallRaw(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

var errBadParams = errors.New("invalid params")

// initialize starts the server with the editor's params and returns its
// result with the bridge's capabilities added.
func (p *Proxy) initialize(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var init lsp.InitializeParams
	if err := json.Unmarshal(params, &init); err != nil {
		return nil, fmt.Errorf("%w: %s", errBadParams, err)
	}

	cfg := p.Config()

	patched, err := mergeInitializationOptions(params, cfg.InitializationOptions)
	if err != nil {
		return nil, err
	}

	folders := init.WorkspaceFolders
	root := ""
	if folder, ok := init.RootFolder(); ok {
		root = lsp.URIToFilePath(folder.URI)
		if len(folders) == 0 {
			folders = []lsp.WorkspaceFolder{folder}
		}
	}

	// The server process outlives this request.
	result, err := p.server.Start(p.ctx, patched, folders)
	if err != nil {
		p.window.MessageDialog(fmt.Sprintf("%s failed to start: %s", p.server.Name(), err))
		return nil, err
	}

	serveHints := cfg.Settings.InlayHints && !gjson.GetBytes(result, "capabilities.inlayHintProvider").Exists()
	result, err = addCapabilities(result, serveHints)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.root = root
	p.serveInlayHints = serveHints
	p.refreshSupport = gjson.GetBytes(params, "capabilities.workspace.inlayHint.refreshSupport").Bool()
	p.mu.Unlock()
	p.plugin.SetRoot(root)

	if info := p.server.InitializeServerInfo(); info != nil {
		p.log.Noticef("connected to %s %s", info.Name, info.Version)
	}
	return result, nil
}

// mergeInitializationOptions fills initializationOptions from the
// configuration. Values the editor sent win.
func mergeInitializationOptions(params json.RawMessage, opts map[string]any) (json.RawMessage, error) {
	if len(opts) == 0 {
		return params, nil
	}

	merged := deepCopy(opts)
	if existing := gjson.GetBytes(params, "initializationOptions"); existing.IsObject() {
		var fromEditor map[string]any
		if err := json.Unmarshal([]byte(existing.Raw), &fromEditor); err != nil {
			return nil, fmt.Errorf("%w: initializationOptions: %s", errBadParams, err)
		}
		mergeInto(merged, fromEditor)
	}

	return sjson.SetBytes(params, "initializationOptions", merged)
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = deepCopy(sub)
			continue
		}
		out[k] = v
	}
	return out
}

// mergeInto overlays src onto dst, recursing into nested objects.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if existing, ok := dst[k].(map[string]any); ok {
			mergeInto(existing, sub)
			continue
		}
		dst[k] = sub
	}
}

// addCapabilities advertises the bridge commands and, when served here,
// inlay hints.
func addCapabilities(result json.RawMessage, inlayHints bool) (json.RawMessage, error) {
	var commands []string
	seen := make(map[string]bool)
	for _, c := range gjson.GetBytes(result, "capabilities.executeCommandProvider.commands").Array() {
		commands = append(commands, c.String())
		seen[c.String()] = true
	}
	for _, c := range typescript.Commands {
		if !seen[c] {
			commands = append(commands, c)
		}
	}

	out, err := sjson.SetBytes(result, "capabilities.executeCommandProvider.commands", commands)
	if err != nil {
		return nil, err
	}
	if inlayHints {
		out, err = sjson.SetBytes(out, "capabilities.inlayHintProvider", true)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// installRename starts rename detection on the workspace root.
func (p *Proxy) installRename() {
	p.mu.Lock()
	root := p.root
	already := p.installation != nil
	p.mu.Unlock()

	if root == "" || already {
		return
	}

	cfg := p.Config()
	inst, err := rename.Install(p.ctx, root, p.responder.OnRenameDetected,
		rename.WithDebounce(cfg.Rename.Debounce),
		rename.WithPatterns(cfg.Rename.Patterns),
		rename.WithIgnores(cfg.Rename.Ignores),
		rename.WithMetrics(p.metrics),
	)
	if err != nil {
		p.log.Warningf("rename detection: %s", err)
		return
	}
	if inst == nil {
		return
	}

	p.mu.Lock()
	p.installation = inst
	p.mu.Unlock()
}

func (p *Proxy) executeCommand(ctx context.Context, params json.RawMessage) (any, bool, bool, error) {
	var cmd lsp.ExecuteCommandParams
	if err := json.Unmarshal(params, &cmd); err != nil {
		return nil, true, false, err
	}

	result, handled, err := p.plugin.ExecuteCommand(ctx, cmd.Command, cmd.Arguments)
	if handled {
		return result, true, true, err
	}

	result, err = p.forward(ctx, "workspace/executeCommand", params, false)
	return result, true, true, err
}

func (p *Proxy) servesInlayHints() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serveInlayHints
}

func (p *Proxy) scheduleRefresh(uri lsp.DocumentURI, version int) {
	p.mu.Lock()
	enabled := p.serveInlayHints && p.refreshSupport
	p.mu.Unlock()

	if enabled && uri != "" {
		p.refresher.Changed(uri, version)
	}
}

func (p *Proxy) refreshInlayHints() {
	if err := p.editor.Call(p.ctx, "workspace/inlayHint/refresh", nil, nil); err != nil {
		p.log.Debugf("inlay hint refresh: %s", err)
	}
}

// stop tears down rename detection and the server. It is idempotent.
func (p *Proxy) stop(ctx context.Context) error {
	p.mu.Lock()
	inst := p.installation
	p.installation = nil
	p.shutdown = true
	p.mu.Unlock()

	if err := inst.Close(); err != nil {
		p.log.Debugf("close watcher: %s", err)
	}
	p.refresher.Close()
	p.responder.Close()
	return p.server.Shutdown(ctx)
}

func (p *Proxy) shuttingDown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}
