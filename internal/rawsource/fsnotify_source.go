package rawsource

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// eventBufferSize bounds the outbound raw-event channel. When full, the
// adapter drops the oldest buffered event to make room for the newest
// one, and records the affected path so downstream consumers force a
// metadata refresh on next observation instead of trusting stale cached
// state.
const eventBufferSize = 4096

// fsWatcher abstracts *fsnotify.Watcher so tests can substitute a fake.
// fsnotify exposes Events/Errors as public struct fields rather than
// methods, so a thin wrapper is needed to satisfy an interface.
type fsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type realFsWatcher struct{ w *fsnotify.Watcher }

func (r *realFsWatcher) Add(name string) error         { return r.w.Add(name) }
func (r *realFsWatcher) Remove(name string) error      { return r.w.Remove(name) }
func (r *realFsWatcher) Close() error                  { return r.w.Close() }
func (r *realFsWatcher) Events() <-chan fsnotify.Event { return r.w.Events }
func (r *realFsWatcher) Errors() <-chan error          { return r.w.Errors }

// FsnotifySource is the shipped Source implementation, backed by
// github.com/fsnotify/fsnotify. It recursively arms watches on every
// directory under root and re-arms a watch whenever a new directory is
// created, so "recursive" watching works uniformly on platforms (Linux,
// BSD, Windows) where fsnotify only watches the directories it is
// explicitly told about.
type FsnotifySource struct {
	watcher   fsWatcher
	root      string
	recursive bool
	logger    *slog.Logger

	events chan Event
	errs   chan error

	overflowMu sync.Mutex
	overflowed []string

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewFsnotifySource creates a Source watching root. If recursive is true,
// every subdirectory present at construction time (and every one created
// afterward) is armed individually.
func NewFsnotifySource(root string, recursive bool, logger *slog.Logger) (*FsnotifySource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rawsource: creating fsnotify watcher: %w", err)
	}

	s := &FsnotifySource{
		watcher:   &realFsWatcher{w: w},
		root:      root,
		recursive: recursive,
		logger:    logger,
		events:    make(chan Event, eventBufferSize),
		errs:      make(chan error, 64),
		done:      make(chan struct{}),
	}

	if err := s.armInitial(); err != nil {
		_ = w.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

func (s *FsnotifySource) armInitial() error {
	if err := s.watcher.Add(s.root); err != nil {
		return fmt.Errorf("rawsource: watching root %s: %w", s.root, err)
	}

	if !s.recursive {
		return nil
	}

	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn("rawsource: walk error during initial arm",
				slog.String("path", path), slog.String("error", walkErr.Error()))
			return nil
		}

		if path == s.root || !d.IsDir() {
			return nil
		}

		if err := s.watcher.Add(path); err != nil {
			s.logger.Warn("rawsource: failed to arm watch",
				slog.String("path", path), slog.String("error", err.Error()))
		}

		return nil
	})
}

func (s *FsnotifySource) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events():
			if !ok {
				return
			}

			s.handleRaw(ev)
		case err, ok := <-s.watcher.Errors():
			if !ok {
				return
			}

			s.trySendErr(err)
		}
	}
}

func (s *FsnotifySource) handleRaw(ev fsnotify.Event) {
	kind, isCreate := classify(ev.Op)

	if isCreate && s.recursive {
		if info, err := statPath(ev.Name); err == nil && info.IsDir() {
			if err := s.watcher.Add(ev.Name); err != nil {
				s.logger.Warn("rawsource: failed to arm watch on new directory",
					slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
		}
	}

	if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
		_ = s.watcher.Remove(ev.Name)
	}

	s.trySend(Event{Kind: kind, Path: ev.Name, Timestamp: time.Now()})
}

// classify maps fsnotify's bitmask Op onto a single dominant Kind.
// fsnotify can set multiple bits on a single event; priority follows the
// order a consumer cares about most: removal/rename first (so a vanished
// path is never mistaken for a live one), then creation, write, and
// permission changes.
func classify(op fsnotify.Op) (kind Kind, isCreate bool) {
	switch {
	case op&fsnotify.Remove != 0:
		return KindRemove, false
	case op&fsnotify.Rename != 0:
		return KindRename, false
	case op&fsnotify.Create != 0:
		return KindCreate, true
	case op&fsnotify.Write != 0:
		return KindModify, false
	case op&fsnotify.Chmod != 0:
		return KindChmod, false
	default:
		return KindOther, false
	}
}

// trySend delivers ev without blocking. If the buffer is full, the oldest
// queued event is discarded to make room, and its path is recorded as
// overflowed.
func (s *FsnotifySource) trySend(ev Event) {
	select {
	case s.events <- ev:
		return
	default:
	}

	select {
	case dropped := <-s.events:
		s.recordOverflow(dropped.Path)
	default:
	}

	select {
	case s.events <- ev:
	default:
		s.recordOverflow(ev.Path)
	}
}

func (s *FsnotifySource) recordOverflow(path string) {
	s.overflowMu.Lock()
	s.overflowed = append(s.overflowed, path)
	s.overflowMu.Unlock()

	s.logger.Warn("rawsource: event buffer overflow, dropping oldest event",
		slog.String("path", path))
}

func (s *FsnotifySource) trySendErr(err error) {
	select {
	case s.errs <- err:
	default:
		s.logger.Warn("rawsource: error channel full, dropping error", slog.String("error", err.Error()))
	}
}

// Events implements Source.
func (s *FsnotifySource) Events() <-chan Event { return s.events }

// Errors implements Source.
func (s *FsnotifySource) Errors() <-chan error { return s.errs }

// Overflowed implements Source. It drains and returns the paths recorded
// as overflowed since the previous call.
func (s *FsnotifySource) Overflowed() []string {
	s.overflowMu.Lock()
	defer s.overflowMu.Unlock()

	if len(s.overflowed) == 0 {
		return nil
	}

	out := s.overflowed
	s.overflowed = nil

	return out
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watcher. Idempotent.
func (s *FsnotifySource) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)
		closeErr = s.watcher.Close()
		s.wg.Wait()
		close(s.events)
		close(s.errs)
	})

	return closeErr
}

func statPath(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}
