package typescript

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dshills/lsp-typescript/internal/lsp"
)

// MethodInlayHints is the server's own inlay hint request.
const MethodInlayHints = "typescript/inlayHints"

// FeaturesTimeout is how long editors wait after a change before asking for
// document features again.
const FeaturesTimeout = 300 * time.Millisecond

// RefreshDelay leaves the server time to see the didChange before hints
// are requested again.
const RefreshDelay = FeaturesTimeout + 100*time.Millisecond

// Standard inlay hint kinds.
const (
	InlayHintKindType      = 1
	InlayHintKindParameter = 2
)

// serverInlayHint is one hint in a MethodInlayHints response.
type serverInlayHint struct {
	Text             string       `json:"text"`
	Position         lsp.Position `json:"position"`
	Kind             string       `json:"kind"`
	WhitespaceBefore bool         `json:"whitespaceBefore"`
	WhitespaceAfter  bool         `json:"whitespaceAfter"`
}

type serverInlayHintsResponse struct {
	InlayHints []serverInlayHint `json:"inlayHints"`
}

// InlayHint is a standard textDocument/inlayHint item.
type InlayHint struct {
	Position     lsp.Position `json:"position"`
	Label        string       `json:"label"`
	Kind         int          `json:"kind,omitempty"`
	PaddingLeft  bool         `json:"paddingLeft,omitempty"`
	PaddingRight bool         `json:"paddingRight,omitempty"`
}

// InlayHintParams are the params of textDocument/inlayHint.
type InlayHintParams struct {
	TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
	Range        lsp.Range                  `json:"range"`
}

func convertKind(kind string) int {
	switch kind {
	case "Type":
		return InlayHintKindType
	case "Parameter":
		return InlayHintKindParameter
	default:
		return 0
	}
}

// within reports whether pos lies in r. A zero range contains everything.
func within(pos lsp.Position, r lsp.Range) bool {
	return r.IsZero() || r.Contains(pos)
}

// InlayHints answers textDocument/inlayHint from the server's
// MethodInlayHints.
func (p *Plugin) InlayHints(ctx context.Context, params json.RawMessage) ([]InlayHint, error) {
	var req InlayHintParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, invalidParams("textDocument/inlayHint: %s", err)
	}

	hints := []InlayHint{}
	if !p.settings().InlayHints {
		return hints, nil
	}

	var resp serverInlayHintsResponse
	err := p.session.Call(ctx, MethodInlayHints, map[string]any{"textDocument": req.TextDocument}, &resp)
	if err != nil {
		return nil, err
	}

	for _, h := range resp.InlayHints {
		if !within(h.Position, req.Range) {
			continue
		}
		hints = append(hints, InlayHint{
			Position:     h.Position,
			Label:        h.Text,
			Kind:         convertKind(h.Kind),
			PaddingLeft:  h.WhitespaceBefore,
			PaddingRight: h.WhitespaceAfter,
		})
	}
	return hints, nil
}

// InlayRefresher asks the editor to re-request hints once a document has
// stopped changing. A refresh scheduled for a version fires only if no
// later version was seen by then.
type InlayRefresher struct {
	delay   time.Duration
	refresh func()

	mu       sync.Mutex
	versions map[lsp.DocumentURI]int
	timers   map[*time.Timer]struct{}
	closed   bool
}

// NewInlayRefresher creates a refresher that calls refresh after delay.
func NewInlayRefresher(delay time.Duration, refresh func()) *InlayRefresher {
	return &InlayRefresher{
		delay:    delay,
		refresh:  refresh,
		versions: make(map[lsp.DocumentURI]int),
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Changed records a new version of uri and schedules a refresh.
func (r *InlayRefresher) Changed(uri lsp.DocumentURI, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.versions[uri] = version

	var timer *time.Timer
	timer = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		delete(r.timers, timer)
		current, ok := r.versions[uri]
		fire := !r.closed && ok && current == version
		r.mu.Unlock()

		if fire {
			r.refresh()
		}
	})
	r.timers[timer] = struct{}{}
}

// Forget drops uri, cancelling its pending refresh.
func (r *InlayRefresher) Forget(uri lsp.DocumentURI) {
	r.mu.Lock()
	delete(r.versions, uri)
	r.mu.Unlock()
}

// Close stops all pending refreshes.
func (r *InlayRefresher) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[*time.Timer]struct{})
}
