package fswatch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/fswatch/internal/correlate"
	"github.com/tonimelisma/fswatch/internal/pathhash"
	"github.com/tonimelisma/fswatch/internal/rawsource"
	"github.com/tonimelisma/fswatch/internal/store"
	"github.com/tonimelisma/fswatch/internal/synchroniser"
)

// sweepInterval is how often the Correlator's pending pools are checked
// for timed-out Removes, independent of the configured move-detector
// timeout itself.
const sweepInterval = 100 * time.Millisecond

// EventStream is the channel callers drain for correlated Events. It is
// closed only once Stop() has fully drained the pipeline.
type EventStream <-chan Event

// Stats is the snapshot Stats() returns independent of Stop(): counters
// plus pending-pool sizes.
type Stats struct {
	Global         store.Counters
	PendingRemoves int
	PendingCreates int
}

// String renders a one-line human-readable summary, suitable for verbose
// CLI logging rather than machine consumption.
func (s Stats) String() string {
	return fmt.Sprintf("%s events processed, %d pending removes, %d pending creates",
		humanize.Comma(s.Global.EventCount), s.PendingRemoves, s.PendingCreates)
}

// WatcherHandle controls a running watcher.
type WatcherHandle struct {
	watchID string
	logger  *slog.Logger

	source      *rawsource.FsnotifySource
	correlator  *correlate.Correlator
	sync        *synchroniser.Synchroniser
	st          *store.Store
	rootPath    string

	events chan Event

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// New constructs a watcher for cfg, opens its store, performs the initial
// scan, and starts the background pipeline. The returned EventStream
// begins delivering events immediately; callers must drain it to avoid
// blocking the pipeline — publish applies back-pressure to a slow drainer.
func New(cfg WatcherConfig, logger *slog.Logger) (*WatcherHandle, EventStream, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	root, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, nil, wrapError("resolve root", ErrConfiguration, err)
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsPermission(err) {
			return nil, nil, wrapError("stat root", ErrPermissionDenied, err)
		}
		return nil, nil, wrapError("stat root", ErrFilesystem, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	st, err := store.Open(ctx, cfg.Store.DatabasePath, logger)
	if err != nil {
		cancel()
		return nil, nil, classifyStoreError("open store", err)
	}

	watchID := uuid.NewString()
	now := time.Now()
	if err := st.RegisterWatch(ctx, store.WatchMetadata{
		WatchID: watchID, RootPath: root, ConfigJSON: "{}", CreatedAt: now, LastActive: now,
	}); err != nil {
		st.Close()
		cancel()
		return nil, nil, classifyStoreError("register watch", err)
	}

	src, err := rawsource.NewFsnotifySource(root, cfg.Recursive, logger)
	if err != nil {
		st.Close()
		cancel()
		return nil, nil, wrapError("arm source", ErrFilesystem, err)
	}

	h := &WatcherHandle{
		watchID:    watchID,
		logger:     logger,
		source:     src,
		correlator: correlate.New(cfg.toCorrelateConfig(), logger),
		sync:       synchroniser.New(st, logger),
		st:         st,
		rootPath:   root,
		events:     make(chan Event, 256),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if err := h.initialScan(ctx, cfg.MoveDetector.ContentHashMaxFileSize); err != nil {
		logger.Warn("initial scan incomplete", slog.Any("error", err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { h.runPipeline(gctx); return nil })
	g.Go(func() error { return st.RunRetentionSweeper(gctx, store.RetentionConfig{MaxAge: cfg.Store.Retention, Interval: cfg.Store.RetentionInterval}) })
	g.Go(func() error { h.runOverlapOptimisation(gctx, cfg.Store.OverlapOptimisationInterval); return nil })

	go func() {
		_ = g.Wait()
		close(h.done)
	}()

	return h, h.events, nil
}

// initialScan walks the root once at startup, caching every node found so
// later events have hierarchy context to attach to. Failures to stat an
// individual entry are logged and skipped, not fatal to the scan.
func (h *WatcherHandle) initialScan(ctx context.Context, hashMaxSize int64) error {
	return filepath.WalkDir(h.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			h.logger.Warn("initial scan entry failed", slog.String("path", path), slog.Any("error", err))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		meta := metaFromInfo(ctx, h.logger, info, path, hashMaxSize)
		h.correlator.ObserveMetadata(path, meta)
		ts := time.Now()

		if err := h.sync.HandleCreate(ctx, h.watchID, h.rootPath, path, meta, ts); err != nil {
			h.logger.Warn("initial scan cache write failed", slog.String("path", path), slog.Any("error", err))
		}

		return nil
	})
}

// runPipeline is the dedicated consumer loop: it drains the source's raw
// events, drives them through the Correlator, applies confirmed emissions
// via the Synchroniser, and republishes them as public Events. A ticker
// sweeps the Correlator's pending pools for timed-out Removes on its own
// cadence, independent of new input.
func (h *WatcherHandle) runPipeline(ctx context.Context) {
	defer close(h.events)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.flush(context.Background())
			return

		case ev, ok := <-h.source.Events():
			if !ok {
				h.flush(context.Background())
				return
			}
			h.handleRaw(ctx, ev)

		case err, ok := <-h.source.Errors():
			if ok {
				h.logger.Warn("source error", slog.Any("error", err))
			}

		case now := <-ticker.C:
			for _, em := range h.correlator.Sweep(now) {
				h.apply(ctx, em)
			}
		}
	}
}

func (h *WatcherHandle) handleRaw(ctx context.Context, ev rawsource.Event) {
	info, statErr := os.Lstat(ev.Path)
	var meta correlate.Meta
	if statErr == nil {
		meta = metaFromInfo(ctx, h.logger, info, ev.Path, 1<<20)
		h.correlator.ObserveMetadata(ev.Path, meta)
	}

	var emissions []correlate.Emission
	switch ev.Kind {
	case rawsource.KindRemove, rawsource.KindRename:
		cached, _ := h.correlator.RecentMeta(ev.Path)
		emissions = h.correlator.OnRemove(ev.Path, ev.Timestamp, cached)
	case rawsource.KindCreate:
		emissions = h.correlator.OnCreate(ev.Path, ev.Timestamp, meta)
	case rawsource.KindModify:
		if statErr == nil {
			if err := h.sync.HandleWrite(ctx, h.watchID, h.rootPath, ev.Path, meta, ev.Timestamp); err != nil {
				h.logger.Warn("write sync failed", slog.String("path", ev.Path), slog.Any("error", err))
			}
			h.publish(Event{WatchID: h.watchID, Kind: KindWrite, Path: ev.Path, Timestamp: ev.Timestamp, IsDirectory: meta.IsDirectory, Size: meta.Size})
		}
		return
	case rawsource.KindChmod:
		if statErr == nil {
			if err := h.sync.HandleChmod(ctx, h.watchID, h.rootPath, ev.Path, meta, ev.Timestamp); err != nil {
				h.logger.Warn("chmod sync failed", slog.String("path", ev.Path), slog.Any("error", err))
			}
			h.publish(Event{WatchID: h.watchID, Kind: KindChmod, Path: ev.Path, Timestamp: ev.Timestamp, IsDirectory: meta.IsDirectory, Size: meta.Size})
		}
		return
	default:
		return
	}

	for _, em := range emissions {
		h.apply(ctx, em)
	}
}

// apply writes an emission to the store via the Synchroniser and
// republishes it as a public Event. Synchroniser failures are logged and
// the pipeline continues with subsequent events rather than aborting.
func (h *WatcherHandle) apply(ctx context.Context, em correlate.Emission) {
	var err error
	switch em.Kind {
	case correlate.KindCreate:
		meta, _ := h.correlator.RecentMeta(em.Path)
		err = h.sync.HandleCreate(ctx, h.watchID, h.rootPath, em.Path, meta, em.Timestamp)
	case correlate.KindRemove:
		err = h.sync.HandleRemove(ctx, h.watchID, em.Path, em.IsDirectory, em.Timestamp)
	case correlate.KindMove:
		if em.Move != nil {
			meta, _ := h.correlator.RecentMeta(em.Move.DestPath)
			err = h.sync.HandleMove(ctx, h.watchID, h.rootPath, *em.Move, meta, em.Timestamp)
		}
	}

	if err != nil {
		h.logger.Warn("synchroniser apply failed", slog.String("path", em.Path), slog.Any("error", err))
	}

	h.publish(eventFromEmission(h.watchID, em))
}

func (h *WatcherHandle) publish(e Event) {
	select {
	case h.events <- e:
	default:
		h.logger.Warn("event channel full, applying back-pressure", slog.String("path", e.Path))
		h.events <- e
	}
}

// flush drains any Removes still pending in the Correlator at shutdown,
// emitting a final Remove for each.
func (h *WatcherHandle) flush(ctx context.Context) {
	for _, em := range h.correlator.Flush(time.Now()) {
		h.apply(ctx, em)
	}
}

func (h *WatcherHandle) runOverlapOptimisation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.st.DetectOverlaps(ctx); err != nil {
				h.logger.Warn("overlap optimisation failed", slog.Any("error", err))
			}
		}
	}
}

// Stop requests shutdown and blocks until the pipeline has fully drained.
// Safe to call more than once.
func (h *WatcherHandle) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		_ = h.source.Close()
	})
	<-h.done
}

// Stats returns a snapshot of global counters and pending-pool sizes.
func (h *WatcherHandle) Stats(ctx context.Context) (Stats, error) {
	removes, creates := h.correlator.PendingCounts()

	global, err := h.st.GlobalStats(ctx)
	if err != nil {
		return Stats{}, classifyStoreError("stats", err)
	}

	return Stats{Global: global, PendingRemoves: removes, PendingCreates: creates}, nil
}

func metaFromInfo(ctx context.Context, logger *slog.Logger, info fs.FileInfo, path string, contentHashMaxSize int64) correlate.Meta {
	m := correlate.Meta{
		ModTime:     info.ModTime(),
		IsDirectory: info.IsDir(),
	}

	if !info.IsDir() {
		size := info.Size()
		m.Size = &size

		if size > 0 && size <= contentHashMaxSize {
			data, err := readFileForHash(ctx, path)
			if err != nil {
				logger.Debug("content hash read degraded", slog.String("path", path), slog.Any("error", err))
			} else {
				h := pathhash.ContentHash(data)
				m.ContentHash = &h
			}
		}
	}

	if inode, ok := rawsource.Inode(info); ok {
		m.Inode = &inode
	}
	if winID, ok := rawsource.WindowsFileID(info); ok {
		m.WindowsFileID = &winID
	}

	return m
}

// readFileForHash reads path for content hashing with a small bounded
// retry: a file mid-write or mid-rename when the watcher samples it can
// fail transiently, and a brief exponential backoff often succeeds where
// an immediate single read would not. A failure after retries degrades
// the caller to correlating without ContentHash rather than failing the
// event outright.
func readFileForHash(ctx context.Context, path string) ([]byte, error) {
	backoff, err := retry.NewExponential(10 * time.Millisecond)
	if err != nil {
		return nil, err
	}
	backoff = retry.WithMaxRetries(3, backoff)

	var data []byte
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		d, readErr := os.ReadFile(path)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				return readErr
			}
			return retry.RetryableError(readErr)
		}
		data = d
		return nil
	})

	return data, err
}
