package rename

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/dshills/lsp-typescript/internal/metrics"
	"github.com/dshills/lsp-typescript/internal/ui"
)

// Prompt choices. The first one applies the rename.
var promptItems = []ui.QuickPanelItem{
	{Trigger: "Yes", Details: "Update imports."},
	{Trigger: "No", Details: "Do not update imports."},
}

// PromptPlaceholder returns the quick panel title for a rename of oldPath.
func PromptPlaceholder(oldPath string) string {
	return fmt.Sprintf("Update import paths for '%s'?", filepath.Base(oldPath))
}

// Responder turns decisions into user interaction and server calls.
type Responder struct {
	queue   *ui.Queue
	window  ui.Window
	applier Applier
	policy  func() Policy
	metrics *metrics.Metrics
	log     commonlog.Logger

	// Timeout bounds each apply call.
	Timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResponder creates a responder. policy is read for every decision so
// that settings changes apply without a restart; nil means DefaultPolicy.
func NewResponder(queue *ui.Queue, window ui.Window, applier Applier, policy func() Policy, m *metrics.Metrics) *Responder {
	if policy == nil {
		policy = func() Policy { return DefaultPolicy }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Responder{
		ctx:     ctx,
		cancel:  cancel,
		queue:   queue,
		window:  window,
		applier: applier,
		policy:  policy,
		metrics: m,
		log:     commonlog.GetLogger("lsp-typescript.rename"),
		Timeout: 30 * time.Second,
	}
}

// OnRenameDetected hands the decision to the UI queue. It never blocks.
func (r *Responder) OnRenameDetected(d Decision) {
	if err := r.queue.Post(func() { r.respond(d) }); err != nil {
		r.log.Warningf("dropping rename %s -> %s: %s", d.OldPath, d.NewPath, err)
		r.metrics.Rename(metrics.OutcomeSkipped)
	}
}

// respond runs on the UI queue.
func (r *Responder) respond(d Decision) {
	switch r.policy() {
	case PolicyNever:
		r.metrics.Rename(metrics.OutcomeSkipped)

	case PolicyAlways:
		r.apply(d)

	default:
		r.window.ShowQuickPanel(promptItems, PromptPlaceholder(d.OldPath), func(index int) {
			if index < 0 || index >= len(promptItems) || promptItems[index].Trigger != "Yes" {
				r.metrics.Rename(metrics.OutcomeDeclined)
				return
			}
			r.apply(d)
		})
	}
}

// apply issues the server call. The call is started from the UI queue but
// its reply is awaited elsewhere so the queue keeps running.
func (r *Responder) apply(d Decision) {
	if r.ctx.Err() != nil {
		r.metrics.Rename(metrics.OutcomeSkipped)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.ctx, r.Timeout)
		defer cancel()

		if err := r.applier.ApplyRename(ctx, d.OldPath, d.NewPath); err != nil {
			r.log.Errorf("update imports for %s: %s", filepath.Base(d.OldPath), err)
			r.metrics.Rename(metrics.OutcomeFailed)
			return
		}
		r.metrics.Rename(metrics.OutcomeApplied)
	}()
}

// Wait blocks until every apply call started so far has returned.
func (r *Responder) Wait() {
	r.wg.Wait()
}

// Close cancels apply calls still in flight and waits for them. Later
// decisions are skipped.
func (r *Responder) Close() {
	r.cancel()
	r.wg.Wait()
}
