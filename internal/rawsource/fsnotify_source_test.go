package rawsource

import (
	"log/slog"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

type fakeFsWatcher struct {
	events  chan fsnotify.Event
	errs    chan error
	added   []string
	removed []string
}

func newFakeFsWatcher() *fakeFsWatcher {
	return &fakeFsWatcher{
		events: make(chan fsnotify.Event, eventBufferSize),
		errs:   make(chan error, 8),
	}
}

func (f *fakeFsWatcher) Add(name string) error         { f.added = append(f.added, name); return nil }
func (f *fakeFsWatcher) Remove(name string) error      { f.removed = append(f.removed, name); return nil }
func (f *fakeFsWatcher) Close() error                  { close(f.events); close(f.errs); return nil }
func (f *fakeFsWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeFsWatcher) Errors() <-chan error          { return f.errs }

func newTestSource(t *testing.T) (*FsnotifySource, *fakeFsWatcher) {
	t.Helper()

	fw := newFakeFsWatcher()
	s := &FsnotifySource{
		watcher: fw,
		root:    t.TempDir(),
		logger:  slog.Default(),
		events:  make(chan Event, eventBufferSize),
		errs:    make(chan error, 64),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	t.Cleanup(func() { _ = s.Close() })

	return s, fw
}

func TestClassifyRemoveTakesPriority(t *testing.T) {
	kind, isCreate := classify(fsnotify.Remove | fsnotify.Write)
	require.Equal(t, KindRemove, kind)
	require.False(t, isCreate)
}

func TestHandleRawRemoveStopsWatching(t *testing.T) {
	s, fw := newTestSource(t)

	fw.events <- fsnotify.Event{Name: "/w/a.txt", Op: fsnotify.Remove}

	select {
	case ev := <-s.Events():
		require.Equal(t, KindRemove, ev.Kind)
		require.Equal(t, "/w/a.txt", ev.Path)
		require.Equal(t, []string{"/w/a.txt"}, fw.removed)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestTrySendDropsOldestOnOverflow(t *testing.T) {
	s := &FsnotifySource{
		logger: slog.Default(),
		events: make(chan Event, 2),
	}

	s.trySend(Event{Path: "/w/1"})
	s.trySend(Event{Path: "/w/2"})
	s.trySend(Event{Path: "/w/3"}) // overflow: drops "/w/1"

	first := <-s.events
	second := <-s.events

	require.Equal(t, "/w/2", first.Path)
	require.Equal(t, "/w/3", second.Path)
	require.Equal(t, []string{"/w/1"}, s.Overflowed())
}
