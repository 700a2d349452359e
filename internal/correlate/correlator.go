// Package correlate implements the Move-Detection Correlator: it holds
// short-lived pending removes and creates, bucketed by identity keys, and
// attempts to pair them within a configurable timeout, producing Move
// emissions with a confidence score and detection method.
package correlate

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DetectionMethod names the dominant signal behind a Move match.
type DetectionMethod int

const (
	MethodNone DetectionMethod = iota
	MethodInodeMatching
	MethodWindowsID
	MethodContentHash
	MethodSizeAndTime
	MethodNameAndTiming
	MethodMetadata
)

func (m DetectionMethod) String() string {
	switch m {
	case MethodInodeMatching:
		return "inode_matching"
	case MethodWindowsID:
		return "windows_id"
	case MethodContentHash:
		return "content_hash"
	case MethodSizeAndTime:
		return "size_and_time"
	case MethodNameAndTiming:
		return "name_and_timing"
	case MethodMetadata:
		return "metadata"
	default:
		return "none"
	}
}

// Kind identifies the shape of an Emission. Only Create, Remove, and Move
// are produced by the Correlator; Write/Chmod/Other pass straight through
// the pipeline without entering the pending pools.
type Kind int

const (
	KindCreate Kind = iota
	KindRemove
	KindMove
)

// MoveInfo carries the pairing result for a KindMove emission.
type MoveInfo struct {
	SourcePath string
	DestPath   string
	Confidence float64
	Method     DetectionMethod
}

// Emission is a semantic event produced by the Correlator, later
// translated by the top-level package into the public Event type.
type Emission struct {
	Kind        Kind
	Path        string
	Timestamp   time.Time
	IsDirectory bool
	Size        *int64
	Move        *MoveInfo
}

// ErrInvalidConfig is wrapped by configuration validation failures.
var ErrInvalidConfig = errors.New("correlate: invalid configuration")

// Config holds the move detector's tunable weights and thresholds.
type Config struct {
	Timeout                time.Duration
	ConfidenceThreshold    float64
	WeightSize             float64
	WeightTime             float64
	WeightInode            float64
	WeightHash             float64
	WeightName             float64
	MaxPendingEvents       int
	ContentHashMaxFileSize int64
	// Windows reports Move-relevant identity as a file id rather than a
	// Unix inode; IsWindows selects which detection method an identity
	// match is reported as.
	IsWindows bool
}

// DefaultConfig returns the documented defaults; weights sum to 1.
func DefaultConfig() Config {
	return Config{
		Timeout:                500 * time.Millisecond,
		ConfidenceThreshold:    0.5,
		WeightSize:             0.3,
		WeightTime:             0.25,
		WeightInode:            0.2,
		WeightHash:             0.15,
		WeightName:             0.1,
		MaxPendingEvents:       10000,
		ContentHashMaxFileSize: 1 << 20,
	}
}

// Validate reports an ErrInvalidConfig-wrapped error for impossible
// tunables: negative weights, an out-of-range threshold, or a
// non-positive timeout/capacity.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: move_detector.timeout must be positive", ErrInvalidConfig)
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: move_detector.confidence_threshold must be in [0,1]", ErrInvalidConfig)
	}

	if c.MaxPendingEvents <= 0 {
		return fmt.Errorf("%w: move_detector.max_pending_events must be positive", ErrInvalidConfig)
	}

	for name, w := range map[string]float64{
		"weight_size": c.WeightSize, "weight_time": c.WeightTime,
		"weight_inode": c.WeightInode, "weight_hash": c.WeightHash, "weight_name": c.WeightName,
	} {
		if w < 0 {
			return fmt.Errorf("%w: move_detector.%s must not be negative", ErrInvalidConfig, name)
		}
	}

	return nil
}

const immediateIdentityConfidence = 0.95

// Correlator owns the pending-remove and pending-create pools exclusively;
// it is not safe for concurrent use by more than one goroutine. The
// pipeline goroutine is the only caller, so no locking is needed here.
type Correlator struct {
	cfg    Config
	logger *slog.Logger

	removes *pool
	creates *pool

	recentMeta *metaCache
}

// New creates a Correlator. cfg must already have passed Validate.
func New(cfg Config, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Correlator{
		cfg:        cfg,
		logger:     logger,
		removes:    newPool(cfg.MaxPendingEvents),
		creates:    newPool(cfg.MaxPendingEvents),
		recentMeta: newMetaCache(cfg.MaxPendingEvents),
	}
}

// ObserveMetadata refreshes the recent-metadata cache for path. Callers
// invoke this for every event kind (not just Create/Remove) so that a
// later Remove on the same path can recover size/inode/content-hash even
// though the path is gone by the time the Remove arrives.
func (c *Correlator) ObserveMetadata(path string, m Meta) {
	c.recentMeta.put(path, m)
}

// RecentMeta returns the last observed metadata for path, if any. Exposed
// so the pathtype Inferrer's metadata-cache source can be backed directly
// by the Correlator's own cache rather than a second copy.
func (c *Correlator) RecentMeta(path string) (Meta, bool) {
	return c.recentMeta.get(path)
}

// PendingCreateIsDir implements pathtype.PendingCreates.
func (c *Correlator) PendingCreateIsDir(path string) (bool, bool) {
	for _, pe := range c.creates.all() {
		if pe.Path == path {
			return pe.IsDirectory, true
		}
	}

	return false, false
}

// PendingCounts reports the current size of each pool, for stats().
func (c *Correlator) PendingCounts() (removes, creates int) {
	return c.removes.len(), c.creates.len()
}

// OnRemove processes a Remove raw event. meta is recovered from the
// recent-metadata cache by the caller before invoking this (the path is
// already gone, so there is nothing left to stat). If an unresolved
// pending Create already matches, a Move is emitted immediately and no
// Remove ever surfaces for this pair (the Create itself was already
// emitted eagerly by OnCreate). Otherwise the Remove becomes a pending
// entry and nothing is emitted yet.
func (c *Correlator) OnRemove(path string, ts time.Time, meta Meta) []Emission {
	candidate := &pendingEvent{Path: path, Timestamp: ts, Meta: meta}

	if match, score, method, ok := c.findMatch(candidate, c.creates); ok {
		c.creates.remove(match)

		return []Emission{moveEmission(path, match.Path, score, method, ts)}
	}

	if evicted := c.removes.insert(candidate); evicted != nil {
		c.logger.Warn("correlate: pending remove evicted at capacity",
			slog.String("path", evicted.Path))
	}

	return nil
}

// OnCreate processes a Create raw event. meta is live metadata read from
// disk by the caller. If an unresolved pending Remove matches, a Move is
// emitted and the Remove never surfaces as such. Otherwise the Create
// becomes a pending entry AND a provisional Create is emitted eagerly —
// a later Move, if one arrives, explains it retrospectively; downstream
// consumers dedup by event id rather than the Correlator buffering every
// Create against a possible future Remove.
func (c *Correlator) OnCreate(path string, ts time.Time, meta Meta) []Emission {
	c.recentMeta.put(path, meta)

	candidate := &pendingEvent{Path: path, Timestamp: ts, Meta: meta}

	if match, score, method, ok := c.findMatch(candidate, c.removes); ok {
		c.removes.remove(match)

		return []Emission{moveEmission(match.Path, path, score, method, ts)}
	}

	if evicted := c.creates.insert(candidate); evicted != nil {
		c.logger.Debug("correlate: pending create evicted at capacity, no emission needed",
			slog.String("path", evicted.Path))
	}

	return []Emission{{Kind: KindCreate, Path: path, Timestamp: ts, IsDirectory: meta.IsDirectory, Size: meta.Size}}
}

// Sweep evicts and finalizes pending entries older than the configured
// timeout. An expired pending Remove that never found a matching Create
// becomes a final Remove emission; expired pending Creates expire
// silently, since their Create was already emitted eagerly.
func (c *Correlator) Sweep(now time.Time) []Emission {
	cutoff := now.Add(-c.cfg.Timeout)

	expiredRemoves := c.removes.sweepExpired(cutoff)
	expiredCreates := c.creates.sweepExpired(cutoff)

	if len(expiredCreates) > 0 {
		c.logger.Debug("correlate: pending creates expired silently", slog.Int("count", len(expiredCreates)))
	}

	emissions := make([]Emission, 0, len(expiredRemoves))
	for _, pe := range expiredRemoves {
		emissions = append(emissions, Emission{
			Kind: KindRemove, Path: pe.Path, Timestamp: now, IsDirectory: pe.IsDirectory, Size: pe.Size,
		})
	}

	return emissions
}

// Flush finalizes every pending Remove as a final Remove emission and
// discards pending Creates (already emitted). Called once, on shutdown.
func (c *Correlator) Flush(now time.Time) []Emission {
	pending := c.removes.drain()
	c.creates.drain()

	emissions := make([]Emission, 0, len(pending))
	for _, pe := range pending {
		emissions = append(emissions, Emission{
			Kind: KindRemove, Path: pe.Path, Timestamp: now, IsDirectory: pe.IsDirectory, Size: pe.Size,
		})
	}

	return emissions
}

// findMatch pairs e against the opposite pool: an immediate identity
// match short-circuits at
// immediateIdentityConfidence; otherwise candidates are scored and the
// highest-scoring one above the confidence threshold wins, ties broken by
// smallest Δt, then closest name similarity, then first-inserted.
func (c *Correlator) findMatch(e *pendingEvent, opposite *pool) (*pendingEvent, float64, DetectionMethod, bool) {
	if match := opposite.byIdentity(e.Path, e.Inode, e.WindowsFileID); match != nil {
		method := MethodInodeMatching
		if c.cfg.IsWindows {
			method = MethodWindowsID
		}

		return match, immediateIdentityConfidence, method, true
	}

	candidates := opposite.candidates(e.Path, e.Size)
	if len(candidates) == 0 {
		return nil, 0, MethodNone, false
	}

	var (
		best        *pendingEvent
		bestScore   float64
		bestMethod  DetectionMethod
		bestDelta   time.Duration
		bestNameSim float64
	)

	for _, cand := range candidates {
		score, method := c.score(e, cand)
		delta := absDuration(e.Timestamp.Sub(cand.Timestamp))
		sim := nameSimilarity(e.Path, cand.Path)

		if best == nil || isBetter(score, delta, sim, cand.seq, bestScore, bestDelta, bestNameSim, best.seq) {
			best, bestScore, bestMethod, bestDelta, bestNameSim = cand, score, method, delta, sim
		}
	}

	if best == nil || bestScore < c.cfg.ConfidenceThreshold {
		return nil, 0, MethodNone, false
	}

	return best, bestScore, bestMethod, true
}

func isBetter(score float64, delta time.Duration, nameSim float64, seq int64,
	bestScore float64, bestDelta time.Duration, bestNameSim float64, bestSeq int64,
) bool {
	const epsilon = 1e-9

	switch {
	case score > bestScore+epsilon:
		return true
	case score < bestScore-epsilon:
		return false
	}

	switch {
	case delta < bestDelta:
		return true
	case delta > bestDelta:
		return false
	}

	switch {
	case nameSim > bestNameSim+epsilon:
		return true
	case nameSim < bestNameSim-epsilon:
		return false
	}

	return seq < bestSeq
}

// score computes the weighted pairing score for candidate cand against
// incoming event e, and the detection method its dominant signal implies.
func (c *Correlator) score(e, cand *pendingEvent) (float64, DetectionMethod) {
	sizeMatch := e.Size != nil && cand.Size != nil && *e.Size == *cand.Size

	delta := absDuration(e.Timestamp.Sub(cand.Timestamp))
	timeFactor := 1 - float64(delta)/float64(c.cfg.Timeout)

	if timeFactor < 0 {
		timeFactor = 0
	}

	inodeMatch := identityMatches(e, cand)
	hashMatch := e.ContentHash != nil && cand.ContentHash != nil && *e.ContentHash == *cand.ContentHash
	sim := nameSimilarity(e.Path, cand.Path)

	score := c.cfg.WeightSize*boolF(sizeMatch) +
		c.cfg.WeightTime*timeFactor +
		c.cfg.WeightInode*boolF(inodeMatch) +
		c.cfg.WeightHash*boolF(hashMatch) +
		c.cfg.WeightName*sim

	return score, dominantMethod(inodeMatch, hashMatch, sizeMatch, sim, c.cfg.IsWindows)
}

func dominantMethod(inodeMatch, hashMatch, sizeMatch bool, nameSim float64, isWindows bool) DetectionMethod {
	const nameSimThreshold = 0.5

	switch {
	case inodeMatch && isWindows:
		return MethodWindowsID
	case inodeMatch:
		return MethodInodeMatching
	case hashMatch:
		return MethodContentHash
	case sizeMatch:
		return MethodSizeAndTime
	case nameSim >= nameSimThreshold:
		return MethodNameAndTiming
	default:
		return MethodMetadata
	}
}

func identityMatches(a, b *pendingEvent) bool {
	if a.Inode != nil && b.Inode != nil && *a.Inode == *b.Inode {
		return true
	}

	return a.WindowsFileID != nil && b.WindowsFileID != nil && *a.WindowsFileID == *b.WindowsFileID
}

func boolF(b bool) float64 {
	if b {
		return 1
	}

	return 0
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}

func moveEmission(source, dest string, confidence float64, method DetectionMethod, ts time.Time) Emission {
	return Emission{
		Kind:      KindMove,
		Path:      dest,
		Timestamp: ts,
		Move: &MoveInfo{
			SourcePath: source,
			DestPath:   dest,
			Confidence: confidence,
			Method:     method,
		},
	}
}
