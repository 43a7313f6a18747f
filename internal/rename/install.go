package rename

import (
	"context"
	"errors"

	"github.com/tliron/commonlog"

	"github.com/dshills/lsp-typescript/internal/watcher"
)

// Installation is a running rename detector for one workspace root.
type Installation struct {
	root     string
	watcher  watcher.Watcher
	detector *Detector
	cancel   context.CancelFunc
	done     chan struct{}
}

// Install watches root and feeds the detector. When no watcher can be
// created for root it returns nil, nil: the feature is simply off.
func Install(ctx context.Context, root string, onDecision DecisionHandler, opts ...Option) (*Installation, error) {
	if root == "" {
		return nil, errors.New("rename: empty workspace root")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	log := commonlog.GetLogger("lsp-typescript.rename")

	w, err := o.newWatcher(root,
		watcher.WithPatterns(o.patterns),
		watcher.WithIgnores(o.ignores),
	)
	if err != nil {
		log.Infof("file watching unavailable for %s, rename detection off: %s", root, err)
		return nil, nil
	}

	detector := NewDetector(onDecision, opts...)
	ctx, cancel := context.WithCancel(ctx)

	inst := &Installation{
		root:     root,
		watcher:  w,
		detector: detector,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(inst.done)
		watcher.Run(ctx, w, func(events []watcher.Event) {
			for _, e := range events {
				o.metrics.FileEvent(e.Kind.String())
			}
			detector.OnFileEvents(FromWatcher(events))
		}, func(err error) {
			log.Debugf("watcher: %s", err)
		})
	}()

	log.Infof("watching %s for file moves", root)
	return inst, nil
}

// Root returns the watched root.
func (i *Installation) Root() string {
	return i.root
}

// Detector returns the detector fed by this installation.
func (i *Installation) Detector() *Detector {
	return i.detector
}

// Close stops watching and discards pending events. It is safe on nil.
func (i *Installation) Close() error {
	if i == nil {
		return nil
	}
	i.cancel()
	err := i.watcher.Close()
	<-i.done
	i.detector.Close()
	return err
}
