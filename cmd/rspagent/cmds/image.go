package cmds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/patmos-dbg/rspagent/pkg/logflags"
)

// imageSource holds the contents of an image file. Once watched it is
// reloaded every time the file is written or replaced.
type imageSource struct {
	path string

	mu      sync.Mutex
	data    []byte
	reloads int

	watcher *fsnotify.Watcher
	done    chan struct{}
	log     logflags.Logger
}

func openImage(path string) (*imageSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	img := &imageSource{path: abs, log: logflags.AgentLogger()}
	if err := img.load(); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *imageSource) load() error {
	data, err := os.ReadFile(img.path)
	if err != nil {
		return fmt.Errorf("could not read image: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("image %s is empty", img.path)
	}
	img.mu.Lock()
	img.data = data
	img.mu.Unlock()
	return nil
}

// Image returns the current contents of the image. The slice must not be
// modified.
func (img *imageSource) Image() []byte {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.data
}

// Reloads returns how many times the image was reloaded.
func (img *imageSource) Reloads() int {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.reloads
}

// Watch starts reloading the image when it changes, until ctx is done or
// Close is called. The directory is watched rather than the file so that
// images replaced by rename are picked up.
func (img *imageSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(img.path)); err != nil {
		w.Close()
		return fmt.Errorf("could not watch %s: %w", img.path, err)
	}
	img.watcher = w
	img.done = make(chan struct{})
	go img.watch(ctx)
	return nil
}

func (img *imageSource) watch(ctx context.Context) {
	defer close(img.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-img.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != img.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := img.load(); err != nil {
				img.log.Warnf("keeping previous image: %v", err)
				continue
			}
			img.mu.Lock()
			img.reloads++
			img.mu.Unlock()
			img.log.Infof("reloaded %s", img.path)
		case err, ok := <-img.watcher.Errors:
			if !ok {
				return
			}
			img.log.Warnf("watching %s: %v", img.path, err)
		}
	}
}

// Close stops watching the image.
func (img *imageSource) Close() error {
	if img.watcher == nil {
		return nil
	}
	err := img.watcher.Close()
	<-img.done
	img.watcher = nil
	return err
}
