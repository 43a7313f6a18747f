// Package ui holds the host-facing side of the bridge: the window the user
// sees and the queue that every interaction with it goes through.
//
// Window methods may be called from any goroutine, but callbacks they take
// (such as the quick panel's onSelect) are always delivered on the Queue.
package ui

import (
	"context"

	"github.com/dshills/lsp-typescript/internal/lsp"
)

// Dismissed is the index passed to a quick panel callback when the user
// closes the panel without choosing.
const Dismissed = -1

// QuickPanelItem is one entry in a quick panel.
type QuickPanelItem struct {
	// Trigger is the main text of the entry.
	Trigger string

	// Details is secondary text shown alongside the trigger.
	Details string
}

// Window is the editor window the bridge talks to.
type Window interface {
	// ShowQuickPanel presents items and calls onSelect with the chosen index,
	// or Dismissed.
	ShowQuickPanel(items []QuickPanelItem, placeholder string, onSelect func(index int))

	// OpenLocation opens a file at the given range. focus asks the editor to
	// bring the document to the front.
	OpenLocation(ctx context.Context, location lsp.Location, focus bool) error

	// StatusMessage shows a transient message.
	StatusMessage(text string)

	// SetStatus sets the persistent status text of the session.
	SetStatus(text string)

	// MessageDialog shows a message the user has to acknowledge.
	MessageDialog(text string)
}
