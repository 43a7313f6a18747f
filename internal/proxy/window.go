package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/dshills/lsp-typescript/internal/lsp"
	"github.com/dshills/lsp-typescript/internal/ui"
)

// ErrShowDocumentRejected is returned when the editor declines to open a
// document.
var ErrShowDocumentRejected = errors.New("editor did not open the document")

// Peer is the JSON-RPC connection to the editor. *lsp.Transport
// implements it.
type Peer interface {
	Call(ctx context.Context, method string, params any, result any) error
	CallRaw(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	NotifyRaw(ctx context.Context, method string, params json.RawMessage) error
}

// EditorWindow is a ui.Window backed by the window/* requests of the
// editor.
type EditorWindow struct {
	ctx   context.Context
	peer  Peer
	queue *ui.Queue
	name  string
	log   commonlog.Logger
}

var _ ui.Window = (*EditorWindow)(nil)

// NewEditorWindow creates a window over peer. Panel callbacks are posted to
// queue. Outstanding requests end when ctx is done.
func NewEditorWindow(ctx context.Context, peer Peer, queue *ui.Queue, name string) *EditorWindow {
	return &EditorWindow{
		ctx:   ctx,
		peer:  peer,
		queue: queue,
		name:  name,
		log:   commonlog.GetLogger("lsp-typescript.proxy"),
	}
}

// ShowQuickPanel asks with window/showMessageRequest, one action per item.
func (w *EditorWindow) ShowQuickPanel(items []ui.QuickPanelItem, placeholder string, onSelect func(index int)) {
	actions := make([]protocol.MessageActionItem, len(items))
	for i, item := range items {
		actions[i] = protocol.MessageActionItem{Title: item.Trigger}
	}

	params := protocol.ShowMessageRequestParams{
		Type:    protocol.MessageTypeInfo,
		Message: panelMessage(placeholder, items),
		Actions: actions,
	}

	go func() {
		var choice *protocol.MessageActionItem
		index := ui.Dismissed
		if err := w.peer.Call(w.ctx, "window/showMessageRequest", params, &choice); err != nil {
			w.log.Debugf("showMessageRequest: %s", err)
		} else if choice != nil {
			for i, item := range items {
				if item.Trigger == choice.Title {
					index = i
					break
				}
			}
		}

		if onSelect == nil {
			return
		}
		if err := w.queue.Post(func() { onSelect(index) }); err != nil {
			w.log.Warningf("quick panel answer dropped: %s", err)
		}
	}()
}

// panelMessage puts the item details under the title, since message
// actions only carry a title.
func panelMessage(placeholder string, items []ui.QuickPanelItem) string {
	var b strings.Builder
	b.WriteString(placeholder)
	for _, item := range items {
		if item.Details == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(item.Trigger)
		b.WriteString(": ")
		b.WriteString(item.Details)
	}
	return b.String()
}

// OpenLocation sends window/showDocument with the range selected.
func (w *EditorWindow) OpenLocation(ctx context.Context, location lsp.Location, focus bool) error {
	takeFocus := focus
	params := protocol.ShowDocumentParams{
		URI:       protocol.URI(location.URI),
		TakeFocus: &takeFocus,
		Selection: &protocol.Range{
			Start: protocol.Position{
				Line:      protocol.UInteger(location.Range.Start.Line),
				Character: protocol.UInteger(location.Range.Start.Character),
			},
			End: protocol.Position{
				Line:      protocol.UInteger(location.Range.End.Line),
				Character: protocol.UInteger(location.Range.End.Character),
			},
		},
	}

	var result protocol.ShowDocumentResult
	if err := w.peer.Call(ctx, "window/showDocument", params, &result); err != nil {
		return err
	}
	if !result.Success {
		return ErrShowDocumentRejected
	}
	return nil
}

// StatusMessage sends window/showMessage.
func (w *EditorWindow) StatusMessage(text string) {
	w.notify("window/showMessage", protocol.ShowMessageParams{
		Type:    protocol.MessageTypeInfo,
		Message: text,
	})
}

// SetStatus sends window/logMessage prefixed with the session name.
func (w *EditorWindow) SetStatus(text string) {
	msg := text
	if w.name != "" {
		msg = w.name + ": " + text
	}
	w.notify("window/logMessage", protocol.LogMessageParams{
		Type:    protocol.MessageTypeInfo,
		Message: msg,
	})
}

// MessageDialog sends window/showMessage as an error.
func (w *EditorWindow) MessageDialog(text string) {
	w.notify("window/showMessage", protocol.ShowMessageParams{
		Type:    protocol.MessageTypeError,
		Message: text,
	})
}

func (w *EditorWindow) notify(method string, params any) {
	if err := w.peer.Notify(w.ctx, method, params); err != nil {
		w.log.Debugf("%s: %s", method, err)
	}
}
