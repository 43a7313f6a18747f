package rename

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lsp-typescript/internal/metrics"
	"github.com/dshills/lsp-typescript/internal/ui"
	"github.com/dshills/lsp-typescript/internal/ui/uitest"
)

type recordingApplier struct {
	mu    sync.Mutex
	calls []Decision
	err   error
}

func (a *recordingApplier) ApplyRename(ctx context.Context, oldPath, newPath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Decision{OldPath: oldPath, NewPath: newPath})
	return a.err
}

func (a *recordingApplier) all() []Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Decision(nil), a.calls...)
}

// respondOnce runs one decision through a responder and waits for all of
// its effects.
func respondOnce(t *testing.T, policy Policy, window *uitest.Window, applier Applier, m *metrics.Metrics) {
	t.Helper()

	q := ui.NewQueue()
	r := NewResponder(q, window, applier, func() Policy { return policy }, m)

	r.OnRenameDetected(Decision{OldPath: "/proj/a.ts", NewPath: "/proj/b.ts"})
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Run(ctx))
	r.Wait()
}

func TestResponder_Never(t *testing.T) {
	window := &uitest.Window{}
	applier := &recordingApplier{}
	m := metrics.New()

	respondOnce(t, PolicyNever, window, applier, m)

	assert.Empty(t, applier.all())
	assert.Zero(t, window.PanelCount())
	assert.InDelta(t, 1, testutil.ToFloat64(m.RenameCounter(metrics.OutcomeSkipped)), 0)
}

func TestResponder_Always(t *testing.T) {
	window := &uitest.Window{}
	applier := &recordingApplier{}

	respondOnce(t, PolicyAlways, window, applier, nil)

	assert.Equal(t, []Decision{{OldPath: "/proj/a.ts", NewPath: "/proj/b.ts"}}, applier.all())
	assert.Zero(t, window.PanelCount())
}

func TestResponder_PromptYes(t *testing.T) {
	window := &uitest.Window{Choice: 0}
	applier := &recordingApplier{}

	respondOnce(t, PolicyPrompt, window, applier, nil)

	require.Len(t, window.Panels, 1)
	panel := window.Panels[0]
	assert.Equal(t, "Update import paths for 'a.ts'?", panel.Placeholder)
	assert.Equal(t, []ui.QuickPanelItem{
		{Trigger: "Yes", Details: "Update imports."},
		{Trigger: "No", Details: "Do not update imports."},
	}, panel.Items)
	assert.Equal(t, []Decision{{OldPath: "/proj/a.ts", NewPath: "/proj/b.ts"}}, applier.all())
}

func TestResponder_PromptNo(t *testing.T) {
	window := &uitest.Window{Choice: 1}
	applier := &recordingApplier{}

	respondOnce(t, PolicyPrompt, window, applier, nil)

	assert.Equal(t, 1, window.PanelCount())
	assert.Empty(t, applier.all())
}

func TestResponder_PromptDismissed(t *testing.T) {
	window := &uitest.Window{Choice: ui.Dismissed}
	applier := &recordingApplier{}

	respondOnce(t, PolicyPrompt, window, applier, nil)

	assert.Equal(t, 1, window.PanelCount())
	assert.Empty(t, applier.all())
}

func TestResponder_ReadsPolicyPerDecision(t *testing.T) {
	window := &uitest.Window{}
	applier := &recordingApplier{}
	q := ui.NewQueue()

	policy := PolicyNever
	r := NewResponder(q, window, applier, func() Policy { return policy }, nil)

	r.OnRenameDetected(Decision{OldPath: "/proj/a.ts", NewPath: "/proj/b.ts"})
	require.NoError(t, q.Post(func() { policy = PolicyAlways }))
	r.OnRenameDetected(Decision{OldPath: "/proj/c.ts", NewPath: "/proj/d.ts"})
	q.Close()

	require.NoError(t, q.Run(context.Background()))
	r.Wait()

	assert.Equal(t, []Decision{{OldPath: "/proj/c.ts", NewPath: "/proj/d.ts"}}, applier.all())
}

func TestResponder_Outcomes(t *testing.T) {
	m := metrics.New()

	respondOnce(t, PolicyAlways, &uitest.Window{}, &recordingApplier{}, m)
	respondOnce(t, PolicyAlways, &uitest.Window{}, &recordingApplier{err: errors.New("server said no")}, m)
	respondOnce(t, PolicyPrompt, &uitest.Window{Choice: 1}, &recordingApplier{}, m)
	respondOnce(t, PolicyNever, &uitest.Window{}, &recordingApplier{}, m)

	count := func(outcome string) float64 {
		return testutil.ToFloat64(m.RenameCounter(outcome))
	}
	assert.InDelta(t, 1, count(metrics.OutcomeApplied), 0)
	assert.InDelta(t, 1, count(metrics.OutcomeFailed), 0)
	assert.InDelta(t, 1, count(metrics.OutcomeDeclined), 0)
	assert.InDelta(t, 1, count(metrics.OutcomeSkipped), 0)
}

func TestResponder_QueueClosed(t *testing.T) {
	q := ui.NewQueue()
	q.Close()
	applier := &recordingApplier{}

	r := NewResponder(q, &uitest.Window{}, applier, nil, nil)
	r.OnRenameDetected(Decision{OldPath: "/proj/a.ts", NewPath: "/proj/b.ts"})
	r.Wait()

	assert.Empty(t, applier.all())
}

func TestResponder_CloseCancelsApply(t *testing.T) {
	started := make(chan struct{})
	hung := ApplierFunc(func(ctx context.Context, oldPath, newPath string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	m := metrics.New()

	q := ui.NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	r := NewResponder(q, &uitest.Window{}, hung, func() Policy { return PolicyAlways }, m)
	r.OnRenameDetected(Decision{OldPath: "/proj/a.ts", NewPath: "/proj/b.ts"})

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("apply never started")
	}

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close waited for the full apply timeout")
	}
	assert.InDelta(t, 1, testutil.ToFloat64(m.RenameCounter(metrics.OutcomeFailed)), 0)

	// Decisions after Close are not applied.
	done := make(chan struct{})
	require.NoError(t, q.Post(func() {
		r.apply(Decision{OldPath: "/proj/b.ts", NewPath: "/proj/c.ts"})
		close(done)
	}))
	<-done
	assert.InDelta(t, 1, testutil.ToFloat64(m.RenameCounter(metrics.OutcomeSkipped)), 0)
}

func TestPromptPlaceholder(t *testing.T) {
	assert.Equal(t, "Update import paths for 'Button.tsx'?", PromptPlaceholder("/proj/src/components/Button.tsx"))
}
