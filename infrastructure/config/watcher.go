package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	domainconfig "ideaflow/domain/config"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDuration = 100 * time.Millisecond

// PolicyWatcher reloads the policy file into a holder whenever it changes.
// An invalid file is logged and the previous policy stays active.
type PolicyWatcher struct {
	path        string
	environment string
	holder      *domainconfig.Holder
	watcher     *fsnotify.Watcher
	logger      *zap.Logger

	onReload func(*domainconfig.DomainConfig)
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewPolicyWatcher watches path and publishes reloaded policies to holder
func NewPolicyWatcher(path, environment string, holder *domainconfig.Holder, logger *zap.Logger) (*PolicyWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Editors replace files with a rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch policy directory: %w", err)
	}

	return &PolicyWatcher{
		path:        path,
		environment: environment,
		holder:      holder,
		watcher:     watcher,
		logger:      logger,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// OnReload registers a callback run after each successful reload. It must be
// set before Start.
func (w *PolicyWatcher) OnReload(fn func(*domainconfig.DomainConfig)) {
	w.onReload = fn
}

// Start begins watching for policy changes
func (w *PolicyWatcher) Start() {
	go w.watchLoop()
	w.logger.Info("Policy watcher started", zap.String("path", w.path))
}

// Stop stops watching and waits for the loop to exit
func (w *PolicyWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		<-w.done
		w.logger.Info("Policy watcher stopped")
	})
}

func (w *PolicyWatcher) watchLoop() {
	defer close(w.done)

	debounce := time.NewTimer(debounceDuration)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce.Reset(debounceDuration)
			}

		case <-debounce.C:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Policy watcher error", zap.Error(err))
		}
	}
}

func (w *PolicyWatcher) reload() {
	policy, err := LoadPolicy(w.environment, w.path)
	if err == nil {
		err = w.holder.Replace(policy)
	}
	if err != nil {
		w.logger.Error("Invalid policy, keeping current", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.logger.Info("Policy reloaded",
		zap.String("path", w.path),
		zap.Int("strongThresholdPercent", policy.StrongThresholdPercent),
		zap.Int("weakThresholdPercent", policy.WeakThresholdPercent),
		zap.Duration("consensusCooldown", policy.ConsensusCooldown),
	)
	if w.onReload != nil {
		w.onReload(w.holder.Current())
	}
}
