package rename

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decisionLog struct {
	mu        sync.Mutex
	decisions []Decision
}

func (l *decisionLog) record(d Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, d)
}

func (l *decisionLog) all() []Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Decision(nil), l.decisions...)
}

func waitPasses(t *testing.T, d *Detector, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return d.Passes() >= n }, 2*time.Second, time.Millisecond)
}

func TestDetector_DetectsRenameWithinWindow(t *testing.T) {
	var log decisionLog
	d := NewDetector(log.record, WithDebounce(50*time.Millisecond))
	defer d.Close()

	// Two separate deliveries inside one window coalesce.
	d.OnFileEvents([]FileEvent{{Delete, "/proj/a.ts"}})
	d.OnFileEvents([]FileEvent{{Create, "/proj/b.ts"}})

	waitPasses(t, d, 1)
	assert.Equal(t, []Decision{{OldPath: "/proj/a.ts", NewPath: "/proj/b.ts"}}, log.all())
	assert.Equal(t, StateIdle, d.State())
}

func TestDetector_BuffersWholeBatches(t *testing.T) {
	var log decisionLog
	d := NewDetector(log.record, WithDebounce(20*time.Millisecond))
	defer d.Close()

	d.OnFileEvents([]FileEvent{{Create, "/proj/b.ts"}, {Delete, "/proj/a.ts"}})

	waitPasses(t, d, 1)
	assert.Equal(t, []Decision{{OldPath: "/proj/a.ts", NewPath: "/proj/b.ts"}}, log.all())
}

func TestDetector_DiscardsAndFlushesNonRenames(t *testing.T) {
	var log decisionLog
	d := NewDetector(log.record, WithDebounce(20*time.Millisecond))
	defer d.Close()

	// Three events: not a rename.
	d.OnFileEvents([]FileEvent{
		{Delete, "/proj/a.ts"},
		{Create, "/proj/b.ts"},
		{Create, "/proj/c.ts"},
	})
	waitPasses(t, d, 1)
	assert.Empty(t, log.all())
	assert.Equal(t, StateIdle, d.State())

	// A lone event: not a rename, and nothing left over from before.
	d.OnFileEvents([]FileEvent{{Delete, "/proj/x.ts"}})
	waitPasses(t, d, 2)
	assert.Empty(t, log.all())

	// The buffer was flushed, so a fresh pair is detected on its own.
	d.OnFileEvents([]FileEvent{{Delete, "/proj/y.ts"}, {Create, "/proj/z.ts"}})
	waitPasses(t, d, 3)
	assert.Equal(t, []Decision{{OldPath: "/proj/y.ts", NewPath: "/proj/z.ts"}}, log.all())
}

func TestDetector_WindowIsNotExtended(t *testing.T) {
	var log decisionLog
	window := 100 * time.Millisecond
	d := NewDetector(log.record, WithDebounce(window))
	defer d.Close()

	d.OnFileEvents([]FileEvent{{Delete, "/proj/a.ts"}})
	time.Sleep(window * 5 / 10)
	d.OnFileEvents([]FileEvent{{Create, "/proj/b.ts"}})

	// The pass fires one window after the first event. Had the create above
	// pushed the window back, this late create would land in the same
	// buffer and spoil the pair.
	time.Sleep(window * 8 / 10)
	d.OnFileEvents([]FileEvent{{Create, "/proj/c.ts"}})
	waitPasses(t, d, 2)

	assert.Equal(t, []Decision{{OldPath: "/proj/a.ts", NewPath: "/proj/b.ts"}}, log.all())
}

func TestDetector_SeparateBurstsAreSeparatePasses(t *testing.T) {
	var log decisionLog
	d := NewDetector(log.record, WithDebounce(20*time.Millisecond))
	defer d.Close()

	d.OnFileEvents([]FileEvent{{Delete, "/proj/a.ts"}})
	waitPasses(t, d, 1)
	d.OnFileEvents([]FileEvent{{Create, "/proj/b.ts"}})
	waitPasses(t, d, 2)

	assert.Empty(t, log.all())
}

func TestDetector_Close(t *testing.T) {
	var log decisionLog
	d := NewDetector(log.record, WithDebounce(time.Hour))

	d.OnFileEvents([]FileEvent{{Delete, "/proj/a.ts"}, {Create, "/proj/b.ts"}})
	require.Eventually(t, func() bool { return d.State() == StateCollecting }, time.Second, time.Millisecond)

	d.Close()
	d.Close()
	assert.Equal(t, StateIdle, d.State())
	assert.Equal(t, uint64(0), d.Passes())
	assert.Empty(t, log.all())

	// Events after Close are dropped without blocking.
	d.OnFileEvents([]FileEvent{{Delete, "/proj/c.ts"}})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "collecting", StateCollecting.String())
	assert.Equal(t, "unknown", State(7).String())
}
