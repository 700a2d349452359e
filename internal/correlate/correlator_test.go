package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOnRemoveThenCreateEmitsMoveViaInode(t *testing.T) {
	c := New(DefaultConfig(), nil)

	base := time.Now()
	inode := uint64(42)
	size := int64(12)

	removeEmissions := c.OnRemove("/w/a/x.txt", base, Meta{Size: &size, Inode: &inode})
	require.Empty(t, removeEmissions)

	createEmissions := c.OnCreate("/w/b/x.txt", base.Add(100*time.Millisecond), Meta{Size: &size, Inode: &inode})
	require.Len(t, createEmissions, 1)

	mv := createEmissions[0]
	require.Equal(t, KindMove, mv.Kind)
	require.Equal(t, "/w/a/x.txt", mv.Move.SourcePath)
	require.Equal(t, "/w/b/x.txt", mv.Move.DestPath)
	require.GreaterOrEqual(t, mv.Move.Confidence, 0.9)
	require.Equal(t, MethodInodeMatching, mv.Move.Method)

	removes, creates := c.PendingCounts()
	require.Zero(t, removes)
	require.Zero(t, creates)
}

func TestCreateThenRemoveNeverSelfMatches(t *testing.T) {
	c := New(DefaultConfig(), nil)

	base := time.Now()
	size := int64(1024)

	// Create at /w/f with no identity info yet.
	emissions := c.OnCreate("/w/f", base, Meta{Size: &size})
	require.Len(t, emissions, 1)
	require.Equal(t, KindCreate, emissions[0].Kind)

	// Simulate cut-paste: a Remove then a Create for the moved path within
	// the window, no inode available (common on some filesystem events).
	removeEmissions := c.OnRemove("/w/f", base.Add(10*time.Millisecond), Meta{Size: &size})
	require.Empty(t, removeEmissions)

	moveEmissions := c.OnCreate("/w/sub/f", base.Add(30*time.Millisecond), Meta{Size: &size})
	require.Len(t, moveEmissions, 1)
	require.Equal(t, KindMove, moveEmissions[0].Kind)
	require.Equal(t, "/w/f", moveEmissions[0].Move.SourcePath)
	require.Equal(t, "/w/sub/f", moveEmissions[0].Move.DestPath)
	require.NotEqual(t, moveEmissions[0].Move.SourcePath, moveEmissions[0].Move.DestPath)
}

func TestUnmatchedRemoveExpiresAfterTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	c := New(cfg, nil)

	base := time.Now()

	emissions := c.OnRemove("/w/y", base, Meta{})
	require.Empty(t, emissions)

	// Sweep before timeout: nothing expires.
	require.Empty(t, c.Sweep(base.Add(10*time.Millisecond)))

	// Sweep after timeout: a final Remove is emitted.
	expired := c.Sweep(base.Add(100 * time.Millisecond))
	require.Len(t, expired, 1)
	require.Equal(t, KindRemove, expired[0].Kind)
	require.Equal(t, "/w/y", expired[0].Path)

	removes, _ := c.PendingCounts()
	require.Zero(t, removes)
}

func TestPendingPoolNeverExceedsCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPendingEvents = 3
	c := New(cfg, nil)

	base := time.Now()

	for i := range 10 {
		c.OnRemove("/w/file"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Millisecond), Meta{})
		removes, _ := c.PendingCounts()
		require.LessOrEqual(t, removes, 3)
	}
}

func TestFlushEmitsFinalRemovesOnShutdown(t *testing.T) {
	c := New(DefaultConfig(), nil)
	base := time.Now()

	c.OnRemove("/w/a", base, Meta{})
	c.OnRemove("/w/b", base, Meta{})
	c.OnCreate("/w/pending-create", base, Meta{})

	final := c.Flush(base.Add(time.Second))
	require.Len(t, final, 2)

	for _, e := range final {
		require.Equal(t, KindRemove, e.Kind)
	}

	removes, creates := c.PendingCounts()
	require.Zero(t, removes)
	require.Zero(t, creates)
}

func TestDirectoryMoveWithSizeAndTimeFallback(t *testing.T) {
	c := New(DefaultConfig(), nil)
	base := time.Now()

	size := int64(4096)

	c.OnRemove("/w/D", base, Meta{IsDirectory: true, Size: &size})
	emissions := c.OnCreate("/w/E", base.Add(50*time.Millisecond), Meta{IsDirectory: true, Size: &size})

	require.Len(t, emissions, 1)
	require.Equal(t, KindMove, emissions[0].Kind)
	require.Equal(t, "/w/D", emissions[0].Move.SourcePath)
	require.Equal(t, "/w/E", emissions[0].Move.DestPath)
}

func TestZeroByteFileMoveMatchesOnSize(t *testing.T) {
	c := New(DefaultConfig(), nil)
	base := time.Now()
	zero := int64(0)

	c.OnRemove("/w/empty-old", base, Meta{Size: &zero})
	emissions := c.OnCreate("/w/empty-new", base.Add(20*time.Millisecond), Meta{Size: &zero})

	require.Len(t, emissions, 1)
	require.Equal(t, KindMove, emissions[0].Kind)
}

func TestContentHashRaisesConfidenceWithoutBlockingPairing(t *testing.T) {
	c := New(DefaultConfig(), nil)
	base := time.Now()
	hash := uint64(0xdeadbeef)
	size := int64(500)

	c.OnRemove("/w/report.pdf", base, Meta{Size: &size, ContentHash: &hash})
	withHash := c.OnCreate("/w/archive/report.pdf", base.Add(30*time.Millisecond), Meta{Size: &size, ContentHash: &hash})
	require.Len(t, withHash, 1)
	require.Equal(t, MethodContentHash, withHash[0].Move.Method)

	c2 := New(DefaultConfig(), nil)
	c2.OnRemove("/w/report2.pdf", base, Meta{Size: &size})
	withoutHash := c2.OnCreate("/w/archive/report2.pdf", base.Add(30*time.Millisecond), Meta{Size: &size})
	require.Len(t, withoutHash, 1)
	require.Equal(t, KindMove, withoutHash[0].Kind)
	require.Greater(t, withHash[0].Move.Confidence, withoutHash[0].Move.Confidence)
}

func TestValidateRejectsImpossibleConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ConfidenceThreshold = 1.5
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.WeightSize = -0.1
	require.Error(t, cfg.Validate())

	require.NoError(t, DefaultConfig().Validate())
}

func TestRecentMetaCacheRecoversRemoveIdentity(t *testing.T) {
	c := New(DefaultConfig(), nil)
	size := int64(99)
	inode := uint64(7)

	c.ObserveMetadata("/w/tracked", Meta{Size: &size, Inode: &inode})

	m, ok := c.RecentMeta("/w/tracked")
	require.True(t, ok)
	require.Equal(t, size, *m.Size)
	require.Equal(t, inode, *m.Inode)
}
