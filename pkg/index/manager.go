package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oceanbase/vectormem/pkg/errs"
)

// Source enumerates every stored memory that has a vector. Storage backends implement it.
type Source interface {
	ScanEmbeddings(ctx context.Context, fn func(id int64, vec []float64) error) error
}

// Config configures a Manager.
type Config struct {
	// Metric is the distance function (default cosine).
	Metric Metric

	// Dimensions is the expected vector length. Zero adopts the first vector seen.
	Dimensions int

	// Thresholds drive strategy selection.
	Thresholds Thresholds

	// Graph configures HNSW builds.
	Graph GraphParams

	// Clusters configures IVF builds.
	Clusters ClusterParams

	// EvaluateInterval is the period of the background evaluation loop (default 30s).
	EvaluateInterval time.Duration

	// BurstSize is the number of inserts that triggers an early evaluation (default 500).
	BurstSize int

	// MaxBuildFailures is the consecutive failure count that escalates logging (default 3).
	MaxBuildFailures int

	// MaxIndexVectors aborts a build whose snapshot exceeds it (0 = unlimited).
	MaxIndexVectors int

	// LatencySamples is the size of the search latency window (default 1024).
	LatencySamples int
}

func (c Config) withDefaults() Config {
	if c.Metric == "" {
		c.Metric = MetricCosine
	}
	c.Thresholds = c.Thresholds.withDefaults()
	if c.EvaluateInterval <= 0 {
		c.EvaluateInterval = 30 * time.Second
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 500
	}
	if c.MaxBuildFailures <= 0 {
		c.MaxBuildFailures = 3
	}
	if c.LatencySamples <= 0 {
		c.LatencySamples = 1024
	}
	return c
}

// State is the lifecycle of the served index.
type State string

const (
	StateEmpty      State = "empty"
	StateBuilding   State = "building"
	StateReady      State = "ready"
	StateRebuilding State = "rebuilding"
)

// Status is a point-in-time view of the manager.
type Status struct {
	State               State     `json:"state"`
	Strategy            Strategy  `json:"strategy"`
	Version             int64     `json:"version"`
	CorpusSize          int       `json:"corpus_size"`
	IndexedCount        int       `json:"indexed_count"`
	BuildInProgress     bool      `json:"build_in_progress"`
	DirtyCount          int       `json:"dirty_count"`
	TombstoneCount      int       `json:"tombstone_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastBuildError      string    `json:"last_build_error,omitempty"`
	LastBuiltAt         time.Time `json:"last_built_at,omitempty"`
}

// handle is an immutable reference to the index serving reads. A nil index
// means queries scan the live table.
type handle struct {
	index    Index
	strategy Strategy
	version  int64
	built    int
	builtAt  time.Time
}

type journalOp struct {
	id     int64
	vec    []float64
	remove bool
}

// Manager owns the served index and keeps it consistent with concurrent writes.
//
// Every vectored memory lives in the live table. The served index is swapped
// atomically; builds read a snapshot from the Source while writes made during
// the build are journaled and replayed onto the new index before it is
// installed. Ids removed since the last build are tombstoned and ids the index
// could not absorb incrementally are marked dirty and scanned exhaustively.
type Manager struct {
	cfg      Config
	selector *Selector
	source   Source
	logger   logrus.FieldLogger
	onSwap   func(Status)

	live    *Flat
	current atomic.Pointer[handle]
	dims    atomic.Int64

	// swapMu is held shared by writers and exclusively while installing a build.
	swapMu sync.RWMutex

	stateMu      sync.RWMutex
	tombstones   map[int64]struct{}
	dirty        map[int64]struct{}
	journal      []journalOp
	journaling   bool
	lastBuildErr string

	building         atomic.Bool
	failures         atomic.Int32
	insertsSinceEval atomic.Int64
	nudge            chan struct{}

	evalMu   sync.Mutex
	breaches int
	latency  *latencyWindow
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger logrus.FieldLogger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSwapHook registers fn to run after every successful swap, outside any lock.
func WithSwapHook(fn func(Status)) ManagerOption {
	return func(m *Manager) {
		m.onSwap = fn
	}
}

// NewManager creates a manager with an empty live table. Call Load to warm it from source.
func NewManager(cfg Config, source Source, opts ...ManagerOption) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:        cfg,
		selector:   NewSelector(cfg.Thresholds),
		source:     source,
		logger:     logrus.StandardLogger(),
		live:       NewFlat(cfg.Metric),
		tombstones: make(map[int64]struct{}),
		dirty:      make(map[int64]struct{}),
		nudge:      make(chan struct{}, 1),
		latency:    newLatencyWindow(cfg.LatencySamples),
	}
	m.dims.Store(int64(cfg.Dimensions))
	m.current.Store(&handle{strategy: StrategyNone})
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithField("component", "index")
	return m
}

// Metric returns the configured distance metric.
func (m *Manager) Metric() Metric {
	return m.cfg.Metric
}

// Load copies every vectored memory from the source into the live table.
func (m *Manager) Load(ctx context.Context) error {
	if m.source == nil {
		return nil
	}
	n := 0
	err := m.source.ScanEmbeddings(ctx, func(id int64, vec []float64) error {
		if err := m.checkDims(len(vec)); err != nil {
			m.logger.WithField("memory_id", id).WithError(err).Warn("skipping stored vector")
			return nil
		}
		n++
		return m.live.Insert(id, vec)
	})
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}
	m.logger.WithField("count", n).Info("loaded vectors")
	return nil
}

// Insert adds or replaces the vector for id. It never blocks on a running build.
func (m *Manager) Insert(id int64, vec []float64) error {
	if len(vec) == 0 {
		return errs.InvalidInput("vector must not be empty")
	}
	if err := m.checkDims(len(vec)); err != nil {
		return err
	}

	m.swapMu.RLock()
	defer m.swapMu.RUnlock()

	_ = m.live.Insert(id, vec)
	h := m.current.Load()
	absorbed := false
	if h.index != nil {
		absorbed = h.index.Insert(id, vec) == nil
	}

	m.stateMu.Lock()
	delete(m.tombstones, id)
	if h.index != nil && !absorbed {
		m.dirty[id] = struct{}{}
	} else {
		delete(m.dirty, id)
	}
	if m.journaling {
		m.journal = append(m.journal, journalOp{id: id, vec: vec})
	}
	m.stateMu.Unlock()

	if m.insertsSinceEval.Add(1) >= int64(m.cfg.BurstSize) {
		select {
		case m.nudge <- struct{}{}:
		default:
		}
	}
	return nil
}

// Remove drops id from the live table and tombstones it in the served index.
func (m *Manager) Remove(id int64) {
	m.swapMu.RLock()
	defer m.swapMu.RUnlock()

	m.live.Remove(id)
	h := m.current.Load()

	m.stateMu.Lock()
	if h.index != nil {
		m.tombstones[id] = struct{}{}
	}
	delete(m.dirty, id)
	if m.journaling {
		m.journal = append(m.journal, journalOp{id: id, remove: true})
	}
	m.stateMu.Unlock()
}

// Search returns up to k ids closest to query. Deleted ids are never returned.
func (m *Manager) Search(ctx context.Context, query []float64, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, errs.InvalidInput("k must be positive")
	}
	if err := m.checkDims(len(query)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { m.latency.record(time.Since(start)) }()

	h := m.current.Load()
	if h.index == nil {
		return m.live.Search(query, k), nil
	}

	m.stateMu.RLock()
	tombs := len(m.tombstones)
	dirty := make([]int64, 0, len(m.dirty))
	for id := range m.dirty {
		dirty = append(dirty, id)
	}
	m.stateMu.RUnlock()

	isDirty := make(map[int64]struct{}, len(dirty))
	for _, id := range dirty {
		isDirty[id] = struct{}{}
	}

	hits := make([]Hit, 0, k+len(dirty))
	for _, hit := range h.index.Search(query, k+tombs+len(dirty)) {
		if _, ok := isDirty[hit.ID]; ok {
			continue
		}
		// The live table is authoritative: anything removed from it is deleted.
		if _, ok := m.live.Get(hit.ID); !ok {
			continue
		}
		hits = append(hits, hit)
	}
	hits = append(hits, m.live.SearchIDs(query, dirty)...)
	return topK(hits, k), nil
}

// Rebuild builds a new index of the given strategy off to the side and swaps it in.
// Only one build runs at a time; a concurrent call gets errs.ErrAlreadyInProgress.
// On failure the previously served index stays in place.
func (m *Manager) Rebuild(ctx context.Context, strategy Strategy) error {
	if !m.building.CompareAndSwap(false, true) {
		return errs.ErrAlreadyInProgress
	}
	defer m.building.Store(false)

	start := time.Now()
	log := m.logger.WithField("strategy", strategy)
	log.Info("index build started")

	m.stateMu.Lock()
	m.journaling = true
	m.journal = nil
	m.stateMu.Unlock()

	var idx Index
	entries, err := m.snapshot(ctx)
	if err == nil && strategy != StrategyNone {
		idx, err = Build(ctx, strategy, m.cfg.Metric, entries, m.cfg.Graph, m.cfg.Clusters)
	}
	if err != nil {
		m.stateMu.Lock()
		m.journaling = false
		m.journal = nil
		m.stateMu.Unlock()
		m.recordFailure(log, err)
		return fmt.Errorf("%w: %v", errs.ErrIndexBuildFailed, err)
	}

	m.swapMu.Lock()
	m.stateMu.Lock()
	ops := m.journal
	m.journal = nil
	m.journaling = false

	tombstones := make(map[int64]struct{})
	dirty := make(map[int64]struct{})
	if idx != nil {
		for _, op := range ops {
			if op.remove {
				tombstones[op.id] = struct{}{}
				delete(dirty, op.id)
				continue
			}
			delete(tombstones, op.id)
			if err := idx.Insert(op.id, op.vec); err != nil {
				dirty[op.id] = struct{}{}
			} else {
				delete(dirty, op.id)
			}
		}
	}

	prev := m.current.Load()
	next := &handle{
		index:    idx,
		strategy: strategy,
		version:  prev.version + 1,
		builtAt:  time.Now(),
	}
	if idx != nil {
		next.built = idx.Len()
	}
	m.tombstones = tombstones
	m.dirty = dirty
	m.lastBuildErr = ""
	m.current.Store(next)
	m.stateMu.Unlock()
	m.swapMu.Unlock()

	m.failures.Store(0)
	log.WithFields(logrus.Fields{
		"version":  next.version,
		"indexed":  next.built,
		"replayed": len(ops),
		"elapsed":  time.Since(start),
	}).Info("index swapped")

	if m.onSwap != nil {
		m.onSwap(m.Status())
	}
	return nil
}

// EvaluateNow runs the selector once and rebuilds if it says so.
// A build already in progress is not an error.
func (m *Manager) EvaluateNow(ctx context.Context) (Decision, error) {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	m.insertsSinceEval.Store(0)
	h := m.current.Load()
	d := m.selector.Evaluate(Observation{
		CorpusSize:      m.live.Len(),
		IndexedSize:     h.built,
		Active:          h.strategy,
		P95Latency:      m.latency.p95AndReset(),
		LatencyBreaches: m.breaches,
	})
	m.breaches = d.LatencyBreaches

	if !d.RebuildNow {
		return d, nil
	}
	m.logger.WithFields(logrus.Fields{
		"strategy": d.Strategy,
		"reason":   d.Reason,
	}).Info("index rebuild scheduled")

	err := m.Rebuild(ctx, d.Strategy)
	if errors.Is(err, errs.ErrAlreadyInProgress) {
		return d, nil
	}
	return d, err
}

// Run evaluates on every tick and after insert bursts until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.EvaluateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.nudge:
		}
		if _, err := m.EvaluateNow(ctx); err != nil && !errs.IsCanceled(err) {
			m.logger.WithError(err).Debug("index evaluation failed")
		}
	}
}

// Status reports the current lifecycle state and counters.
func (m *Manager) Status() Status {
	h := m.current.Load()
	building := m.building.Load()

	m.stateMu.RLock()
	s := Status{
		Strategy:            h.strategy,
		Version:             h.version,
		CorpusSize:          m.live.Len(),
		IndexedCount:        h.built,
		BuildInProgress:     building,
		DirtyCount:          len(m.dirty),
		TombstoneCount:      len(m.tombstones),
		ConsecutiveFailures: int(m.failures.Load()),
		LastBuildError:      m.lastBuildErr,
		LastBuiltAt:         h.builtAt,
	}
	m.stateMu.RUnlock()

	switch {
	case h.version == 0 && building:
		s.State = StateBuilding
	case h.version == 0:
		s.State = StateEmpty
	case building:
		s.State = StateRebuilding
	default:
		s.State = StateReady
	}
	return s
}

func (m *Manager) snapshot(ctx context.Context) ([]Entry, error) {
	if m.source == nil {
		return m.liveEntries(), nil
	}
	var entries []Entry
	err := m.source.ScanEmbeddings(ctx, func(id int64, vec []float64) error {
		if m.cfg.MaxIndexVectors > 0 && len(entries) >= m.cfg.MaxIndexVectors {
			return fmt.Errorf("corpus exceeds index limit of %d vectors", m.cfg.MaxIndexVectors)
		}
		if d := m.dims.Load(); d > 0 && int64(len(vec)) != d {
			return nil
		}
		entries = append(entries, Entry{ID: id, Vector: vec})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, ctx.Err()
}

func (m *Manager) liveEntries() []Entry {
	m.live.mu.RLock()
	defer m.live.mu.RUnlock()
	entries := make([]Entry, 0, len(m.live.vectors))
	for id, vec := range m.live.vectors {
		entries = append(entries, Entry{ID: id, Vector: vec})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

func (m *Manager) recordFailure(log logrus.FieldLogger, err error) {
	n := m.failures.Add(1)
	m.stateMu.Lock()
	m.lastBuildErr = err.Error()
	m.stateMu.Unlock()

	log = log.WithError(err).WithField("consecutive_failures", n)
	if int(n) >= m.cfg.MaxBuildFailures {
		log.Error("index build keeps failing, serving previous index")
		return
	}
	log.Warn("index build failed, serving previous index")
}

func (m *Manager) checkDims(n int) error {
	want := m.dims.Load()
	if want == 0 && m.dims.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want = m.dims.Load(); int64(n) != want {
		return errs.Dimension(int(want), n)
	}
	return nil
}

type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, size)}
}

func (w *latencyWindow) record(d time.Duration) {
	w.mu.Lock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
	w.mu.Unlock()
}

// p95AndReset returns the 95th percentile of the window and starts a new one.
func (w *latencyWindow) p95AndReset() time.Duration {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	sorted := make([]time.Duration, n)
	copy(sorted, w.samples[:n])
	w.next, w.full = 0, false
	w.mu.Unlock()

	if n == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[(n*95+99)/100-1]
}
