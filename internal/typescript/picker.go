package typescript

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/dshills/lsp-typescript/internal/lsp"
	"github.com/dshills/lsp-typescript/internal/ui"
)

// openTimeout bounds a single request to open a document in the editor.
const openTimeout = 10 * time.Second

// LocationPicker lets the user jump to one of several locations.
type LocationPicker struct {
	window ui.Window
	queue  *ui.Queue
	root   func() string
	log    commonlog.Logger
}

// NewLocationPicker creates a picker. root returns the workspace root used
// to shorten paths in the list; it may be nil.
func NewLocationPicker(window ui.Window, queue *ui.Queue, root func() string) *LocationPicker {
	if root == nil {
		root = func() string { return "" }
	}
	return &LocationPicker{
		window: window,
		queue:  queue,
		root:   root,
		log:    commonlog.GetLogger("lsp-typescript.typescript"),
	}
}

// Show opens a single location directly and offers a list for several.
// It returns immediately; the interaction runs on the UI queue.
func (lp *LocationPicker) Show(locations []lsp.Location) {
	switch len(locations) {
	case 0:
		return
	case 1:
		lp.open(locations[0])
		return
	}

	items := make([]ui.QuickPanelItem, len(locations))
	root := lp.root()
	for i, loc := range locations {
		items[i] = ui.QuickPanelItem{Trigger: LocationLabel(loc, root)}
	}

	err := lp.queue.Post(func() {
		lp.window.ShowQuickPanel(items, "", func(index int) {
			if index < 0 || index >= len(locations) {
				return
			}
			lp.open(locations[index])
		})
	})
	if err != nil {
		lp.log.Warningf("location picker: %s", err)
	}
}

func (lp *LocationPicker) open(loc lsp.Location) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()
		if err := lp.window.OpenLocation(ctx, loc, true); err != nil {
			lp.log.Errorf("open %s: %s", loc.URI, err)
		}
	}()
}

// LocationLabel formats loc as file:line:col with one-based line and
// column. Paths inside root are shown relative to it.
func LocationLabel(loc lsp.Location, root string) string {
	path := lsp.URIToFilePath(loc.URI)
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
	}
	return fmt.Sprintf("%s:%d:%d", path, loc.Range.Start.Line+1, loc.Range.Start.Character+1)
}
