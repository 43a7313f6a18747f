package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectedPair returns two transports wired back to back.
func connectedPair(t *testing.T) (client, server *Transport) {
	t.Helper()

	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()

	client = NewTransport(s2cR, c2sW, c2sW)
	server = NewTransport(c2sR, s2cW, s2cW)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		client.Close()
		server.Close()
		c2sR.Close()
		s2cR.Close()
	})

	client.Start(ctx)
	server.Start(ctx)
	return client, server
}

func TestTransport_SendNotificationFraming(t *testing.T) {
	r, w := io.Pipe()
	transport := NewTransport(strings.NewReader(""), w, nil)
	defer transport.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Notify(context.Background(), "test/notification", map[string]string{"message": "hello"})
	}()

	reader := bufio.NewReader(r)
	header, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(header, "Content-Length: "))

	blank, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "\r\n", blank)

	var length int
	_, err = fmt.Sscanf(header, "Content-Length: %d", &length)
	require.NoError(t, err)

	body := make([]byte, length)
	_, err = io.ReadFull(reader, body)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "2.0", msg["jsonrpc"])
	assert.Equal(t, "test/notification", msg["method"])
	assert.NotContains(t, msg, "id")
}

func TestTransport_CallRoundTrip(t *testing.T) {
	client, server := connectedPair(t)

	server.OnRequest("math/add", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		var args []int
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return args[0] + args[1], nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var sum int
	require.NoError(t, client.Call(ctx, "math/add", []int{2, 3}, &sum))
	assert.Equal(t, 5, sum)
}

func TestTransport_CallRawKeepsPayload(t *testing.T) {
	client, server := connectedPair(t)

	server.OnRequest(Wildcard, func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return params, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := client.CallRaw(ctx, "echo", json.RawMessage(`{"a":[1,2,3]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,2,3]}`, string(raw))
}

func TestTransport_NullResult(t *testing.T) {
	client, server := connectedPair(t)

	server.OnRequest("void", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := client.CallRaw(ctx, "void", nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func TestTransport_CallWithError(t *testing.T) {
	client, server := connectedPair(t)

	server.OnRequest("fail", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "bad params"}
	})
	server.OnRequest("boom", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Call(ctx, "fail", nil, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
	assert.Equal(t, "bad params", rpcErr.Message)

	err = client.Call(ctx, "boom", nil, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInternalError, rpcErr.Code)
	assert.Equal(t, "boom", rpcErr.Message)
}

func TestTransport_UnknownMethod(t *testing.T) {
	client, _ := connectedPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Call(ctx, "nobody/home", nil, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

func TestTransport_Notification(t *testing.T) {
	client, server := connectedPair(t)

	received := make(chan string, 1)
	client.OnNotification("$/typescriptVersion", func(method string, params json.RawMessage) {
		var p struct {
			Version string `json:"version"`
		}
		_ = json.Unmarshal(params, &p)
		received <- p.Version
	})

	require.NoError(t, server.Notify(context.Background(), "$/typescriptVersion", map[string]string{
		"version": "5.4.2",
		"source":  "bundled",
	}))

	select {
	case v := <-received:
		assert.Equal(t, "5.4.2", v)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestTransport_WildcardNotification(t *testing.T) {
	client, server := connectedPair(t)

	received := make(chan string, 1)
	client.OnNotification(Wildcard, func(method string, params json.RawMessage) {
		received <- method
	})

	require.NoError(t, server.Notify(context.Background(), "window/logMessage", map[string]any{"type": 3, "message": "hi"}))

	select {
	case m := <-received:
		assert.Equal(t, "window/logMessage", m)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestTransport_ServerInitiatedRequest(t *testing.T) {
	client, server := connectedPair(t)

	client.OnRequest("_typescript.rename", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		var p TextDocumentPositionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return p.Position.Line, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var line int
	err := server.Call(ctx, "_typescript.rename", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: "file:///proj/a.ts"},
		Position:     Position{Line: 7, Character: 2},
	}, &line)
	require.NoError(t, err)
	assert.Equal(t, 7, line)
}

func TestTransport_CallTimeout(t *testing.T) {
	client, server := connectedPair(t)

	release := make(chan struct{})
	defer close(release)
	server.OnRequest("slow", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Call(ctx, "slow", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransport_Close(t *testing.T) {
	client, _ := connectedPair(t)

	require.NoError(t, client.Close())
	assert.True(t, client.IsClosed())
	require.NoError(t, client.Close())

	err := client.Call(context.Background(), "anything", nil, nil)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, client.Notify(context.Background(), "anything", nil), ErrShutdown)

	select {
	case <-client.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestTransport_PeerHangupReleasesCallers(t *testing.T) {
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	defer c2sR.Close()

	client := NewTransport(s2cR, c2sW, nil)
	client.Start(context.Background())
	defer client.Close()

	// Drain what the client writes so the request gets out.
	go func() { _, _ = io.Copy(io.Discard, c2sR) }()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Call(context.Background(), "never/answered", nil, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	s2cW.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrShutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("caller not released after peer hangup")
	}
}

func TestRPCError_Error(t *testing.T) {
	err := &RPCError{Code: CodeInvalidRequest, Message: "nope"}
	assert.Equal(t, "rpc error -32600: nope", err.Error())

	err.Data = "details"
	assert.Equal(t, "rpc error -32600: nope (data: details)", err.Error())
}

func TestIsSessionGone(t *testing.T) {
	assert.True(t, IsSessionGone(ErrShutdown))
	assert.True(t, IsSessionGone(fmt.Errorf("wrapped: %w", ErrNotStarted)))
	assert.True(t, IsSessionGone(&ServerError{Name: "ts", Err: ErrServerCrashed}))
	assert.False(t, IsSessionGone(errors.New("other")))
	assert.False(t, IsSessionGone(&RPCError{Code: CodeInternalError}))
}

func TestTransport_NotificationsKeepOrder(t *testing.T) {
	client, server := connectedPair(t)

	const n = 50
	got := make(chan int, n)
	server.OnNotification("textDocument/didChange", func(method string, params json.RawMessage) {
		var p struct {
			Version int `json:"version"`
		}
		_ = json.Unmarshal(params, &p)
		got <- p.Version
	})

	for i := 1; i <= n; i++ {
		require.NoError(t, client.Notify(context.Background(), "textDocument/didChange", map[string]int{"version": i}))
	}

	for i := 1; i <= n; i++ {
		select {
		case v := <-got:
			assert.Equal(t, i, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("notification %d not delivered", i)
		}
	}
}

func TestTransport_NotificationHandlerMayCall(t *testing.T) {
	client, server := connectedPair(t)

	client.OnRequest("window/showMessageRequest", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return map[string]string{"title": "Yes"}, nil
	})

	answered := make(chan string, 1)
	server.OnNotification("initialized", func(method string, params json.RawMessage) {
		var item struct {
			Title string `json:"title"`
		}
		if err := server.Call(context.Background(), "window/showMessageRequest", map[string]string{"message": "?"}, &item); err != nil {
			answered <- err.Error()
			return
		}
		answered <- item.Title
	})

	require.NoError(t, client.Notify(context.Background(), "initialized", struct{}{}))

	select {
	case title := <-answered:
		assert.Equal(t, "Yes", title)
	case <-time.After(2 * time.Second):
		t.Fatal("call from notification handler did not complete")
	}
}

func TestTransport_CancelRequestReachesHandler(t *testing.T) {
	client, server := connectedPair(t)

	cancelled := make(chan struct{})
	server.OnRequest("slow", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Call(ctx, "slow", nil, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler context was not cancelled")
	}
}

func TestTransport_RequestsKeepOrderWithNotifications(t *testing.T) {
	client, server := connectedPair(t)

	const n = 200
	var mu sync.Mutex
	changed := 0
	early := 0
	handled := make(chan struct{}, n)

	server.OnNotification("textDocument/didChange", func(method string, params json.RawMessage) {
		time.Sleep(50 * time.Microsecond)
		mu.Lock()
		changed++
		mu.Unlock()
	})
	server.OnRequest("textDocument/completion", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		var p struct {
			Version int `json:"version"`
		}
		_ = json.Unmarshal(params, &p)
		mu.Lock()
		if changed < p.Version {
			early++
		}
		mu.Unlock()
		handled <- struct{}{}
		return nil, nil
	})

	for i := 1; i <= n; i++ {
		version := map[string]int{"version": i}
		require.NoError(t, client.Notify(context.Background(), "textDocument/didChange", version))
		// Written without waiting for the reply so the pairs interleave on the wire.
		require.NoError(t, client.send(&Request{JSONRPC: "2.0", ID: int64(1000 + i), Method: "textDocument/completion", Params: version}))
	}

	for i := 0; i < n; i++ {
		select {
		case <-handled:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d requests handled", i, n)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, early, "requests handled before the didChange sent ahead of them")
}

func TestTransport_ForwardedRequestKeepsOrder(t *testing.T) {
	editor, bridge := connectedPair(t)
	upstream, server := connectedPair(t)

	bridge.OnNotification(Wildcard, func(method string, params json.RawMessage) {
		_ = upstream.NotifyRaw(context.Background(), method, params)
	})
	bridge.OnRequest(Wildcard, func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return upstream.CallRaw(ctx, method, params)
	})

	const n = 100
	var mu sync.Mutex
	changed := 0
	early := 0
	handled := make(chan struct{}, n)
	server.OnNotification("textDocument/didChange", func(method string, params json.RawMessage) {
		mu.Lock()
		changed++
		mu.Unlock()
	})
	server.OnRequest("textDocument/hover", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		var p struct {
			Version int `json:"version"`
		}
		_ = json.Unmarshal(params, &p)
		mu.Lock()
		if changed < p.Version {
			early++
		}
		mu.Unlock()
		handled <- struct{}{}
		time.Sleep(100 * time.Microsecond)
		return p.Version, nil
	})

	for i := 1; i <= n; i++ {
		version := map[string]int{"version": i}
		require.NoError(t, editor.Notify(context.Background(), "textDocument/didChange", version))
		require.NoError(t, editor.send(&Request{JSONRPC: "2.0", ID: int64(1000 + i), Method: "textDocument/hover", Params: version}))
	}

	for i := 0; i < n; i++ {
		select {
		case <-handled:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d requests reached the server", i, n)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, early, "forwarded requests overtook the didChange sent ahead of them")
}

func TestTransport_ReleasedRequestLetsLaterMessagesThrough(t *testing.T) {
	client, server := connectedPair(t)

	started := make(chan struct{})
	arrived := make(chan struct{})
	server.OnNotification("go", func(method string, params json.RawMessage) {
		close(arrived)
	})
	server.OnRequest("wait", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		close(started)
		Release(ctx)
		select {
		case <-arrived:
			return "released", nil
		case <-time.After(2 * time.Second):
			return "held", nil
		}
	})

	result := make(chan string, 1)
	go func() {
		var got string
		if err := client.Call(context.Background(), "wait", nil, &got); err != nil {
			got = err.Error()
		}
		result <- got
	}()

	<-started
	require.NoError(t, client.Notify(context.Background(), "go", nil))
	assert.Equal(t, "released", <-result)
}

func TestTransport_CancelReachesQueuedRequest(t *testing.T) {
	client, server := connectedPair(t)

	unblock := make(chan struct{})
	server.OnRequest("block", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		<-unblock
		return nil, nil
	})
	queuedErr := make(chan error, 1)
	server.OnRequest("queued", func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		queuedErr <- ctx.Err()
		return nil, ctx.Err()
	})

	require.NoError(t, client.send(&Request{JSONRPC: "2.0", ID: 1001, Method: "block"}))
	require.NoError(t, client.send(&Request{JSONRPC: "2.0", ID: 1002, Method: "queued"}))
	require.NoError(t, client.Notify(context.Background(), "$/cancelRequest", map[string]int{"id": 1002}))

	time.Sleep(50 * time.Millisecond)
	close(unblock)

	select {
	case err := <-queuedErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("queued request never ran")
	}
}
