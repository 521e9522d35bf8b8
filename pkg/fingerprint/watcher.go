package fingerprint

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillcast/pkg/logger"
)

// markerFiles are the project files whose change can materially alter the
// fingerprint. Only these trigger a recompute; source edits do not.
var markerFiles = map[string]bool{
	"go.mod":           true,
	"package.json":     true,
	"requirements.txt": true,
	"pyproject.toml":   true,
	"Cargo.toml":       true,
	"pom.xml":          true,
	"Dockerfile":       true,
	"Makefile":         true,
	"README.md":        true,
	"CODEOWNERS":       true,
	DescriptorName:     true,
}

// Watcher recomputes the project fingerprint when marker files change.
// Events are debounced so a burst of writes causes one recompute.
type Watcher struct {
	root     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onChange func(context.Context)
}

// NewWatcher watches root for fingerprint-relevant changes and invokes
// onChange after the debounce window closes.
func NewWatcher(root string, debounce time.Duration, onChange func(context.Context)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", root)
	}

	return &Watcher{
		root:     root,
		debounce: debounce,
		watcher:  fsw,
		onChange: onChange,
	}, nil
}

// Run processes events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log := logger.G(ctx).WithField("component", "fingerprint-watcher")

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !markerFiles[filepath.Base(event.Name)] {
				continue
			}
			log.WithField("file", event.Name).Debug("project signal changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("file watcher error")
		case <-timerC:
			timer = nil
			timerC = nil
			w.onChange(ctx)
		}
	}
}

// Close releases the underlying file watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
