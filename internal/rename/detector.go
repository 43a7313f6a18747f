package rename

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"

	"github.com/dshills/lsp-typescript/internal/metrics"
)

// State is the state of a Detector.
type State int32

const (
	// StateIdle means the buffer is empty and no pass is scheduled.
	StateIdle State = iota
	// StateCollecting means events are buffered and a pass is scheduled.
	StateCollecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	default:
		return "unknown"
	}
}

// DecisionHandler receives detected renames. It is called on the detector
// goroutine and must not block.
type DecisionHandler func(Decision)

// Detector buffers file events and classifies each burst once its window
// has elapsed. All buffer access happens on one goroutine.
type Detector struct {
	window     time.Duration
	onDecision DecisionHandler
	metrics    *metrics.Metrics
	log        commonlog.Logger

	in        chan []FileEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	state  atomic.Int32
	passes atomic.Uint64

	// Owned by the run goroutine.
	buffer     []FileEvent
	collecting bool
}

// NewDetector starts a detector that reports decisions to onDecision.
func NewDetector(onDecision DecisionHandler, opts ...Option) *Detector {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	d := &Detector{
		window:     o.debounce,
		onDecision: onDecision,
		metrics:    o.metrics,
		log:        commonlog.GetLogger("lsp-typescript.rename"),
		in:         make(chan []FileEvent, 64),
		done:       make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

// OnFileEvents queues a batch of events. It may be called from any
// goroutine; after Close it does nothing.
func (d *Detector) OnFileEvents(events []FileEvent) {
	if len(events) == 0 {
		return
	}
	batch := append([]FileEvent(nil), events...)

	select {
	case <-d.done:
	case d.in <- batch:
	}
}

// State returns the current state.
func (d *Detector) State() State {
	return State(d.state.Load())
}

// Passes returns how many classification passes have run.
func (d *Detector) Passes() uint64 {
	return d.passes.Load()
}

// Close stops the detector and discards anything buffered.
func (d *Detector) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

func (d *Detector) run() {
	defer d.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	for {
		select {
		case <-d.done:
			if timer != nil {
				timer.Stop()
			}
			d.buffer = nil
			d.collecting = false
			d.state.Store(int32(StateIdle))
			return

		case events := <-d.in:
			d.buffer = append(d.buffer, events...)
			// The window runs from the first event; later events never
			// push it back.
			if !d.collecting {
				d.collecting = true
				d.state.Store(int32(StateCollecting))
				timer = time.NewTimer(d.window)
				fire = timer.C
			}

		case <-fire:
			fire = nil
			timer = nil
			d.pass()
		}
	}
}

// pass classifies and flushes the buffer.
func (d *Detector) pass() {
	batch := d.buffer
	d.buffer = nil
	d.collecting = false
	d.state.Store(int32(StateIdle))
	d.passes.Add(1)

	decision, ok := Classify(batch)
	if !ok {
		d.log.Debugf("%d events are not a rename", len(batch))
		d.metrics.Discarded()
		return
	}

	d.log.Debugf("rename detected: %s -> %s", decision.OldPath, decision.NewPath)
	if d.onDecision != nil {
		d.onDecision(decision)
	}
}
