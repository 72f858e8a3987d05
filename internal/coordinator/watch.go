package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// resetFilePrefix names the control files an operator drops to unblock a
// task: touching <controlDir>/reset-<taskID> returns that task to NEW with
// a fresh attempt budget.
const resetFilePrefix = "reset-"

// watchControlDir starts a goroutine servicing external reset requests.
// The returned stop function blocks until the goroutine exits.
func (c *Coordinator) watchControlDir(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(c.controlDir, 0o755); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(c.controlDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", c.controlDir, err)
	}

	// Requests dropped before the run started are honored too.
	c.sweepControlDir()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
					c.handleControlFile(event.Name)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("control watcher error", zap.Error(werr))
			}
		}
	}()

	return func() {
		watcher.Close()
		<-done
	}, nil
}

func (c *Coordinator) sweepControlDir() {
	entries, err := os.ReadDir(c.controlDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			c.handleControlFile(filepath.Join(c.controlDir, e.Name()))
		}
	}
}

func (c *Coordinator) handleControlFile(path string) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, resetFilePrefix) {
		return
	}
	taskID := strings.TrimPrefix(name, resetFilePrefix)
	if taskID == "" {
		return
	}

	reset, err := c.store.Reset(taskID)
	if err != nil {
		c.logger.Warn("external reset rejected", zap.String("task", taskID), zap.Error(err))
	} else {
		c.logger.Info("task reset by external request", zap.String("task", reset.ID))
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("control file cleanup failed", zap.String("file", path), zap.Error(err))
	}
}
