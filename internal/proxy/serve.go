package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tliron/glsp"

	"github.com/dshills/lsp-typescript/internal/lsp"
)

// Serve relays an editor connection until the editor exits or hangs up.
//
// The editor side runs on lsp.Transport rather than the glsp server: that
// server handles one message at a time, and a relayed request often needs
// an editor reply (workspace/applyEdit during a command) before it can
// complete.
func Serve(ctx context.Context, r io.Reader, w io.Writer, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	editor := lsp.NewTransport(r, w, nil)
	p := New(ctx, editor, opts)

	editor.OnRequest(lsp.Wildcard, func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return p.serve(ctx, editor, method, params, false)
	})
	editor.OnNotification(lsp.Wildcard, func(method string, params json.RawMessage) {
		if _, err := p.serve(ctx, editor, method, params, true); err != nil {
			p.log.Warningf("%s: %s", method, err)
		}
	})

	go func() {
		if err := p.queue.Run(ctx); err != nil && ctx.Err() == nil {
			p.log.Errorf("ui queue: %s", err)
		}
	}()
	defer p.queue.Close()

	editor.Start(ctx)
	defer editor.Close()

	for {
		select {
		case <-p.Exited():
			return nil

		case cfg, ok := <-opts.Reload:
			if !ok {
				opts.Reload = nil
				continue
			}
			p.SetConfig(cfg)
			p.log.Info("configuration reloaded")

		case <-editor.Done():
			p.log.Notice("editor hung up")
			return p.stop(context.Background())

		case err := <-p.server.ExitChannel():
			if p.shuttingDown() {
				continue
			}
			p.window.MessageDialog(fmt.Sprintf("%s exited unexpectedly. Restart the session to continue.", p.server.Name()))
			_ = p.stop(context.Background())
			if err != nil {
				return fmt.Errorf("%w: %s", ErrServerExited, err)
			}
			return ErrServerExited

		case <-ctx.Done():
			_ = p.stop(context.Background())
			return ctx.Err()
		}
	}
}

// serve runs one editor message through the glsp handler contract.
func (p *Proxy) serve(ctx context.Context, editor Peer, method string, params json.RawMessage, notification bool) (any, error) {
	gctx := &glsp.Context{
		Method: method,
		Params: params,
		Notify: func(method string, params any) {
			if err := editor.Notify(ctx, method, params); err != nil {
				p.log.Debugf("notify %s: %s", method, err)
			}
		},
	}

	result, validMethod, validParams, err := p.dispatch(ctx, gctx, notification)
	switch {
	case !validMethod:
		return nil, &lsp.RPCError{Code: lsp.CodeMethodNotFound, Message: "method not supported: " + method}
	case !validParams:
		msg := "invalid params"
		if err != nil {
			msg = err.Error()
		}
		return nil, &lsp.RPCError{Code: lsp.CodeInvalidParams, Message: msg}
	}
	return result, err
}
