package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ServerStatus indicates the current state of a server.
type ServerStatus int

const (
	ServerStatusStopped ServerStatus = iota
	ServerStatusStarting
	ServerStatusInitializing
	ServerStatusReady
	ServerStatusShuttingDown
	ServerStatusError
)

// String returns a human-readable status name.
func (s ServerStatus) String() string {
	switch s {
	case ServerStatusStopped:
		return "stopped"
	case ServerStatusStarting:
		return "starting"
	case ServerStatusInitializing:
		return "initializing"
	case ServerStatusReady:
		return "ready"
	case ServerStatusShuttingDown:
		return "shutting down"
	case ServerStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ServerConfig defines how to start a language server.
type ServerConfig struct {
	// Name identifies the session, e.g. "LSP-typescript".
	Name string

	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir is the working directory (defaults to the first workspace folder).
	WorkDir string

	// Timeout for the initialize and shutdown requests (default: 30s).
	Timeout time.Duration
}

// Server represents a connection to a single language server process.
type Server struct {
	mu sync.Mutex

	config ServerConfig
	id     string
	log    commonlog.Logger

	// Process management
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	transport *Transport

	// Handlers registered before Start are installed on the transport.
	handlerMu       sync.Mutex
	notifyHandlers  map[string]NotificationHandler
	requestHandlers map[string]RequestHandler

	// State
	status       atomic.Int32
	capabilities json.RawMessage
	serverInfo   *InitializeServerInfo
	lastError    error

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	exitCh chan error
}

// NewServer creates a new server instance (not yet started).
func NewServer(config ServerConfig) *Server {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = config.Command
	}

	id := uuid.NewString()
	s := &Server{
		config:          config,
		id:              id,
		log:             commonlog.NewKeyValueLogger(commonlog.GetLogger("lsp-typescript.server"), "session", id),
		notifyHandlers:  make(map[string]NotificationHandler),
		requestHandlers: make(map[string]RequestHandler),
		exitCh:          make(chan error, 1),
	}
	s.status.Store(int32(ServerStatusStopped))
	return s
}

// ID returns the unique id of this session.
func (s *Server) ID() string {
	return s.id
}

// Name returns the configured session name.
func (s *Server) Name() string {
	return s.config.Name
}

// OnNotification registers a handler for notifications from the server.
// Handlers must be registered before Start.
func (s *Server) OnNotification(method string, handler NotificationHandler) {
	s.handlerMu.Lock()
	s.notifyHandlers[method] = handler
	s.handlerMu.Unlock()
}

// OnRequest registers a handler for requests from the server.
// Handlers must be registered before Start.
func (s *Server) OnRequest(method string, handler RequestHandler) {
	s.handlerMu.Lock()
	s.requestHandlers[method] = handler
	s.handlerMu.Unlock()
}

// Start launches the server process and performs the initialize request with
// the given params. When params is empty a minimal request rooted at folders
// is sent. The raw initialize result is returned unchanged.
// The caller sends "initialized" once it has processed the result.
func (s *Server) Start(ctx context.Context, params json.RawMessage, folders []WorkspaceFolder) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != ServerStatusStopped {
		return nil, ErrAlreadyStarted
	}

	s.status.Store(int32(ServerStatusStarting))
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startProcess(folders); err != nil {
		s.fail(err)
		return nil, &ServerError{Name: s.config.Name, Err: err}
	}

	s.transport = NewTransport(s.stdout, s.stdin, nil)
	s.installHandlers()
	s.transport.Start(s.ctx)

	go s.drainStderr()
	go s.monitorProcess()

	s.status.Store(int32(ServerStatusInitializing))

	if len(params) == 0 {
		var err error
		params, err = defaultInitializeParams(folders)
		if err != nil {
			s.fail(err)
			s.stopProcess()
			return nil, err
		}
	}

	initCtx, cancel := context.WithTimeout(s.ctx, s.config.Timeout)
	defer cancel()

	result, err := s.transport.CallRaw(initCtx, "initialize", params)
	if err != nil {
		s.fail(err)
		s.stopProcess()
		return nil, &ServerError{Name: s.config.Name, Err: fmt.Errorf("initialize: %w", err)}
	}

	var decoded InitializeResult
	if err := json.Unmarshal(result, &decoded); err != nil {
		s.fail(err)
		s.stopProcess()
		return nil, &ServerError{Name: s.config.Name, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	s.capabilities = decoded.Capabilities
	s.serverInfo = decoded.ServerInfo

	s.status.Store(int32(ServerStatusReady))
	s.log.Infof("started %s", s.config.Command)
	return result, nil
}

// Initialized sends the initialized notification for callers that do not
// forward one from an editor.
func (s *Server) Initialized(ctx context.Context) error {
	return s.Notify(ctx, "initialized", struct{}{})
}

func defaultInitializeParams(folders []WorkspaceFolder) (json.RawMessage, error) {
	params := InitializeParams{
		ProcessID:        os.Getpid(),
		Capabilities:     json.RawMessage("{}"),
		WorkspaceFolders: folders,
	}
	if len(folders) > 0 {
		params.RootURI = folders[0].URI
	}
	return json.Marshal(params)
}

func (s *Server) fail(err error) {
	s.status.Store(int32(ServerStatusError))
	s.lastError = err
}

func (s *Server) installHandlers() {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	for method, h := range s.notifyHandlers {
		s.transport.OnNotification(method, h)
	}
	for method, h := range s.requestHandlers {
		s.transport.OnRequest(method, h)
	}
}

// startProcess starts the language server executable.
func (s *Server) startProcess(folders []WorkspaceFolder) error {
	cmd := exec.CommandContext(s.ctx, s.config.Command, s.config.Args...)

	cmd.Env = os.Environ()
	for k, v := range s.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	} else if len(folders) > 0 {
		cmd.Dir = URIToFilePath(folders[0].URI)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start process: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr

	return nil
}

// drainStderr copies the server's stderr into the log so the pipe never fills.
func (s *Server) drainStderr() {
	scanner := bufio.NewScanner(s.stderr)
	for scanner.Scan() {
		s.log.Debugf("stderr: %s", scanner.Text())
	}
}

// monitorProcess watches the process and signals when it exits.
func (s *Server) monitorProcess() {
	if s.cmd == nil {
		return
	}

	err := s.cmd.Wait()
	if s.Status() != ServerStatusShuttingDown && s.Status() != ServerStatusStopped {
		s.status.Store(int32(ServerStatusError))
		if err == nil {
			err = ErrServerCrashed
		}
		s.log.Warningf("process exited: %s", err)
	}
	if s.transport != nil {
		s.transport.Close()
	}

	select {
	case s.exitCh <- err:
	default:
	}
}

// stopProcess stops the server process.
func (s *Server) stopProcess() {
	if s.transport != nil {
		s.transport.Close()
	}

	if s.stdin != nil {
		s.stdin.Close()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.Status()
	if status == ServerStatusStopped || status == ServerStatusShuttingDown {
		return nil
	}

	s.status.Store(int32(ServerStatusShuttingDown))

	if s.transport != nil && !s.transport.IsClosed() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		_ = s.transport.Call(shutdownCtx, "shutdown", nil, nil)
		_ = s.transport.Notify(shutdownCtx, "exit", nil)
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.stopProcess()

	s.status.Store(int32(ServerStatusStopped))
	return nil
}

// Status returns the current server status.
func (s *Server) Status() ServerStatus {
	return ServerStatus(s.status.Load())
}

// Capabilities returns the raw server capabilities from initialization.
func (s *Server) Capabilities() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// InitializeServerInfo returns information about the server from initialization.
func (s *Server) InitializeServerInfo() *InitializeServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// LastError returns the last error that occurred.
func (s *Server) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ExitChannel returns a channel that receives when the process exits.
func (s *Server) ExitChannel() <-chan error {
	return s.exitCh
}

func (s *Server) ready() (*Transport, error) {
	switch s.Status() {
	case ServerStatusReady:
		return s.transport, nil
	case ServerStatusStopped:
		return nil, ErrNotStarted
	case ServerStatusShuttingDown:
		return nil, ErrShutdown
	case ServerStatusError:
		return nil, ErrServerCrashed
	default:
		return nil, ErrServerNotReady
	}
}

// Call sends a request to the server and decodes the result.
func (s *Server) Call(ctx context.Context, method string, params any, result any) error {
	t, err := s.ready()
	if err != nil {
		return err
	}
	return t.Call(ctx, method, params, result)
}

// CallRaw forwards a pre-encoded request and returns the raw result.
func (s *Server) CallRaw(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	t, err := s.ready()
	if err != nil {
		return nil, err
	}
	return t.CallRaw(ctx, method, params)
}

// Notify sends a notification to the server.
func (s *Server) Notify(ctx context.Context, method string, params any) error {
	t, err := s.ready()
	if err != nil {
		return err
	}
	return t.Notify(ctx, method, params)
}

// NotifyRaw forwards a pre-encoded notification.
func (s *Server) NotifyRaw(ctx context.Context, method string, params json.RawMessage) error {
	t, err := s.ready()
	if err != nil {
		return err
	}
	return t.NotifyRaw(ctx, method, params)
}

// ExecuteCommand runs workspace/executeCommand on the server.
func (s *Server) ExecuteCommand(ctx context.Context, command string, args ...any) (json.RawMessage, error) {
	t, err := s.ready()
	if err != nil {
		return nil, err
	}

	params := struct {
		Command   string `json:"command"`
		Arguments []any  `json:"arguments,omitempty"`
	}{Command: command, Arguments: args}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return t.CallRaw(ctx, "workspace/executeCommand", raw)
}
