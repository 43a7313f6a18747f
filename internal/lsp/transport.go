package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"github.com/tliron/commonlog"
)

// Wildcard registers a handler for every method without a dedicated one.
const Wildcard = "*"

// Transport handles JSON-RPC 2.0 communication over a byte stream.
// It implements the LSP base protocol with Content-Length headers and is
// symmetric: it can issue requests as well as serve requests from the peer.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	log    commonlog.Logger

	writeMu sync.Mutex

	mu              sync.Mutex
	nextID          atomic.Int64
	pending         map[int64]chan *Response
	handlers        map[string]NotificationHandler
	requestHandlers map[string]RequestHandler

	// inflight cancels peer requests on $/cancelRequest, keyed by raw id.
	inflight map[string]context.CancelFunc

	// Peer requests and notifications are delivered in arrival order on
	// their own goroutine so a handler may issue calls without stalling the
	// read loop. A request holds the queue until it is released.
	inboundMu sync.Mutex
	queued    []*incoming
	wake      chan struct{}

	closed atomic.Bool
	done   chan struct{}
}

// NotificationHandler handles incoming notifications from the peer.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler serves a request from the peer. The returned value is
// marshalled as the result; a non-nil error is sent back as a JSON-RPC error.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Request represents an outgoing JSON-RPC request or notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC response to one of our requests.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// incoming is used to parse notifications and requests sent by the peer.
type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`

	// Set for requests when they are read, so $/cancelRequest reaches a
	// request that is still queued.
	ctx    context.Context
	cancel context.CancelFunc
}

type replyResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type replyError struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *RPCError       `json:"error"`
}

// NewTransport creates a new transport over the given connection.
// The conn must support reading and writing (typically stdin/stdout pipes).
func NewTransport(r io.Reader, w io.Writer, c io.Closer) *Transport {
	return &Transport{
		reader:          bufio.NewReaderSize(r, 64*1024),
		writer:          w,
		closer:          c,
		log:             commonlog.GetLogger("lsp-typescript.transport"),
		pending:         make(map[int64]chan *Response),
		handlers:        make(map[string]NotificationHandler),
		requestHandlers: make(map[string]RequestHandler),
		inflight:        make(map[string]context.CancelFunc),
		wake:            make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
}

// Start begins reading messages from the connection in a goroutine.
func (t *Transport) Start(ctx context.Context) {
	go t.inboundLoop()
	go t.readLoop(ctx)
}

type releaseKey struct{}

// Release lets the transport that delivered the request behind ctx move on
// to the next peer message. Calls made with such a context release it once
// their request is written, so a forwarded request keeps its place among
// the messages around it while its reply is awaited. A handler that does
// neither holds later messages until it returns.
func Release(ctx context.Context) {
	if release, ok := ctx.Value(releaseKey{}).(func()); ok {
		release()
	}
}

// Done is closed once the transport shuts down.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Close closes the transport and releases resources.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	close(t.done)

	// Waiting callers are released through t.done; the channels are not
	// closed here to avoid racing with handleResponse.
	t.mu.Lock()
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// Call sends a request and decodes the response into result.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	raw, err := t.call(ctx, method, params)
	if err != nil {
		return err
	}
	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// CallRaw sends pre-encoded params and returns the undecoded result.
func (t *Transport) CallRaw(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if len(params) == 0 {
		return t.call(ctx, method, nil)
	}
	return t.call(ctx, method, params)
}

func (t *Transport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if t.closed.Load() {
		return nil, ErrShutdown
	}

	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	err := t.send(req)
	Release(ctx)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		t.cancelRequest(id)
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrShutdown
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		if len(resp.Result) == 0 {
			return json.RawMessage("null"), nil
		}
		return resp.Result, nil
	}
}

// cancelRequest tells the peer we are no longer interested in a response.
func (t *Transport) cancelRequest(id int64) {
	if t.closed.Load() {
		return
	}
	_ = t.send(&Request{
		JSONRPC: "2.0",
		Method:  "$/cancelRequest",
		Params:  map[string]int64{"id": id},
	})
}

// Notify sends a notification (no response expected).
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	return t.send(&Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

// NotifyRaw sends a notification with pre-encoded params.
func (t *Transport) NotifyRaw(ctx context.Context, method string, params json.RawMessage) error {
	if len(params) == 0 {
		return t.Notify(ctx, method, nil)
	}
	return t.Notify(ctx, method, params)
}

// OnNotification registers a handler for peer notifications.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

// OnRequest registers a handler for peer requests.
func (t *Transport) OnRequest(method string, handler RequestHandler) {
	t.mu.Lock()
	t.requestHandlers[method] = handler
	t.mu.Unlock()
}

// send writes a message with LSP content-length header.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	return nil
}

// readLoop reads messages until the stream ends, then closes the transport.
func (t *Transport) readLoop(ctx context.Context) {
	defer t.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if errors.Is(err, errMissingContentLength) {
				t.log.Warning("skipping message without Content-Length")
				continue
			}
			if !t.closed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				t.log.Errorf("read: %s", err)
			}
			return
		}

		t.dispatch(ctx, msg)
	}
}

// readMessage reads a single LSP message.
func (t *Transport) readMessage() ([]byte, error) {
	var contentLength int
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "content-length") {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				contentLength = n
			}
		}
		// Content-Type and other headers are ignored.
	}

	if contentLength == 0 {
		return nil, errMissingContentLength
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// dispatch routes a message to the appropriate handler.
func (t *Transport) dispatch(ctx context.Context, data []byte) {
	if !gjson.ValidBytes(data) {
		t.log.Warning("dropping malformed message")
		return
	}

	id := gjson.GetBytes(data, "id")
	method := gjson.GetBytes(data, "method")

	switch {
	case method.Exists() && id.Exists():
		var req incoming
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		req.ctx, req.cancel = context.WithCancel(ctx)
		t.mu.Lock()
		t.inflight[string(req.ID)] = req.cancel
		t.mu.Unlock()
		t.enqueue(&req)

	case method.Exists():
		var notif incoming
		if err := json.Unmarshal(data, &notif); err != nil {
			return
		}
		if notif.Method == "$/cancelRequest" {
			t.cancelInflight(notif.Params)
			return
		}
		t.enqueue(&notif)

	case id.Exists():
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.log.Warningf("undecodable response: %s", err)
			return
		}
		t.handleResponse(&resp)
	}
}

// handleResponse routes a response to its waiting caller.
func (t *Transport) handleResponse(resp *Response) {
	if t.closed.Load() {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// enqueue hands a peer request or notification to inboundLoop.
func (t *Transport) enqueue(msg *incoming) {
	t.inboundMu.Lock()
	t.queued = append(t.queued, msg)
	t.inboundMu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// inboundLoop delivers peer messages one at a time, in order. Notification
// handlers run to completion; a request handler runs on its own goroutine
// and the loop waits only until it is released.
func (t *Transport) inboundLoop() {
	for {
		select {
		case <-t.done:
			return
		case <-t.wake:
		}

		for {
			t.inboundMu.Lock()
			if len(t.queued) == 0 {
				t.inboundMu.Unlock()
				break
			}
			msg := t.queued[0]
			t.queued[0] = nil
			t.queued = t.queued[1:]
			t.inboundMu.Unlock()

			if len(msg.ID) == 0 {
				t.deliverNotification(msg)
				continue
			}

			released := make(chan struct{})
			var once sync.Once
			go t.handleRequest(msg, func() { once.Do(func() { close(released) }) })

			select {
			case <-released:
			case <-t.done:
				return
			}
		}
	}
}

func (t *Transport) deliverNotification(notif *incoming) {
	t.mu.Lock()
	handler, ok := t.handlers[notif.Method]
	if !ok {
		handler, ok = t.handlers[Wildcard]
	}
	t.mu.Unlock()

	if ok && handler != nil {
		handler(notif.Method, notif.Params)
	}
}

// cancelInflight cancels the context of the peer request named in params.
func (t *Transport) cancelInflight(params json.RawMessage) {
	id := gjson.GetBytes(params, "id")
	if !id.Exists() {
		return
	}

	t.mu.Lock()
	cancel, ok := t.inflight[id.Raw]
	t.mu.Unlock()

	if ok {
		cancel()
	}
}

// handleRequest serves a peer request and writes the reply. release is
// called at the latest when the handler returns.
func (t *Transport) handleRequest(req *incoming, release func()) {
	defer release()

	key := string(req.ID)
	defer func() {
		t.mu.Lock()
		delete(t.inflight, key)
		t.mu.Unlock()
		req.cancel()
	}()

	t.mu.Lock()
	handler, ok := t.requestHandlers[req.Method]
	if !ok {
		handler, ok = t.requestHandlers[Wildcard]
	}
	t.mu.Unlock()

	if !ok || handler == nil {
		t.replyError(req.ID, &RPCError{
			Code:    CodeMethodNotFound,
			Message: "method not supported: " + req.Method,
		})
		return
	}

	ctx := context.WithValue(req.ctx, releaseKey{}, release)
	result, err := handler(ctx, req.Method, req.Params)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			t.replyError(req.ID, &RPCError{Code: CodeRequestCancelled, Message: "request cancelled"})
			return
		}
		t.replyError(req.ID, toRPCError(err))
		return
	}

	raw, err := marshalResult(result)
	if err != nil {
		t.replyError(req.ID, &RPCError{Code: CodeInternalError, Message: err.Error()})
		return
	}

	if err := t.send(&replyResult{JSONRPC: "2.0", ID: req.ID, Result: raw}); err != nil {
		t.log.Errorf("reply to %s: %s", req.Method, err)
	}
}

func (t *Transport) replyError(id json.RawMessage, rpcErr *RPCError) {
	if err := t.send(&replyError{JSONRPC: "2.0", ID: id, Error: rpcErr}); err != nil {
		t.log.Errorf("reply error: %s", err)
	}
}

func marshalResult(result any) (json.RawMessage, error) {
	switch r := result.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(r) == 0 {
			return json.RawMessage("null"), nil
		}
		return r, nil
	default:
		return json.Marshal(r)
	}
}

// IsClosed returns true if the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}
