// Package discovery drives a full plugin scan: every registered protocol,
// every search path, every candidate, one worker round trip at a time.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/ipsix/plugscan/internal/catalog"
	"github.com/ipsix/plugscan/internal/formats"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
	"github.com/ipsix/plugscan/internal/scanner"
)

const SkipScanEnv = "PLUGSCAN_SKIP_SCAN"

var ErrScanInProgress = errors.New("a scan is already in progress")

// Scanner probes a single candidate.
type Scanner interface {
	FindPluginTypesFor(ctx context.Context, protocol plugin.Protocol, target string) ([]plugin.Descriptor, scanner.Outcome)
}

type Options struct {
	Registry  *scanner.Registry
	Paths     formats.PathsProvider
	Scanner   Scanner
	Store     catalog.Store
	Ignore    []glob.Glob
	SkipScan  bool
	Logger    *logging.Logger
	Observers []Observer
}

type Manager struct {
	registry  *scanner.Registry
	paths     formats.PathsProvider
	scanner   Scanner
	store     catalog.Store
	ignore    []glob.Glob
	skipScan  bool
	logger    *logging.Logger
	observers []Observer

	state    atomic.Int32
	snapshot atomic.Pointer[catalog.Snapshot]
	last     atomic.Pointer[Summary]
	current  atomic.Pointer[string]

	// catalog is written only while state is Scanning, by whoever moved it
	// there.
	catalog *catalog.Catalog

	mu      sync.Mutex
	session *Session
}

// NewManager loads the persisted catalog so the first scan can use it for
// cache hits.
func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("format registry is required")
	}
	if opts.Paths == nil {
		return nil, fmt.Errorf("paths provider is required")
	}
	if opts.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}

	cat := catalog.New()
	if opts.Store != nil {
		loaded, err := opts.Store.Load()
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		cat = loaded
	}

	m := &Manager{
		registry:  opts.Registry,
		paths:     opts.Paths,
		scanner:   opts.Scanner,
		store:     opts.Store,
		ignore:    opts.Ignore,
		skipScan:  opts.SkipScan,
		logger:    opts.Logger,
		observers: opts.Observers,
		catalog:   cat,
	}
	m.snapshot.Store(cat.Snapshot())
	return m, nil
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// Snapshot is the catalog as of the last published point of the scan.
func (m *Manager) Snapshot() *catalog.Snapshot {
	return m.snapshot.Load()
}

// CurrentlyScanning is the display name of the candidate being probed, or
// empty outside a scan.
func (m *Manager) CurrentlyScanning() string {
	if name := m.current.Load(); name != nil {
		return *name
	}
	return ""
}

// LastSummary returns the summary of the most recent finished session.
func (m *Manager) LastSummary() (Summary, bool) {
	if s := m.last.Load(); s != nil {
		return *s, true
	}
	return Summary{}, false
}

// Session returns the running or most recent session.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) acquire() (State, bool) {
	for {
		cur := State(m.state.Load())
		if cur == StateScanning {
			return cur, false
		}
		if m.state.CompareAndSwap(int32(cur), int32(StateScanning)) {
			return cur, true
		}
	}
}

// BeginScan starts a scan on its own goroutine and returns at once. With
// skip-scan set it finishes synchronously without touching the catalog.
func (m *Manager) BeginScan(ctx context.Context) error {
	if _, ok := m.acquire(); !ok {
		return ErrScanInProgress
	}

	session := newSession(ctx)
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	if m.skipRequested() {
		m.logger.Info("plugin scan skipped", logging.Field{Key: "env", Value: SkipScanEnv})
		summary := session.summary(StateCompleted, m.catalog.Len())
		summary.Skipped = true
		m.finish(session, summary)
		return nil
	}

	go m.run(session.ctx, session)
	return nil
}

// Cancel asks the running scan to stop before its next candidate.
func (m *Manager) Cancel() {
	if s := m.Session(); s != nil {
		s.Cancel()
	}
}

// Wait blocks until the current session, if any, has finished.
func (m *Manager) Wait(ctx context.Context) error {
	s := m.Session()
	if s == nil {
		return nil
	}
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear empties the catalog and persists the empty state.
func (m *Manager) Clear() error {
	prev, ok := m.acquire()
	if !ok {
		return ErrScanInProgress
	}
	defer m.state.Store(int32(prev))

	m.catalog.Clear()
	snap := m.catalog.Snapshot()
	m.snapshot.Store(snap)
	if m.store != nil {
		if err := m.store.Save(snap); err != nil {
			return fmt.Errorf("save catalog: %w", err)
		}
	}
	return nil
}

func (m *Manager) skipRequested() bool {
	if m.skipScan {
		return true
	}
	raw, ok := os.LookupEnv(SkipScanEnv)
	if !ok || raw == "" {
		return false
	}
	skip, err := strconv.ParseBool(raw)
	return err != nil || skip
}

func (m *Manager) run(ctx context.Context, session *Session) {
	m.logger.Info("plugin scan started", logging.Field{Key: "session", Value: session.ID})
	cancelled := false

	var scanned []plugin.Protocol
	for _, format := range m.registry.List() {
		if session.cancelled(ctx) {
			cancelled = true
			break
		}
		scanned = append(scanned, format.Protocol())
		if !m.scanProtocol(ctx, session, format) {
			cancelled = true
			break
		}
		m.snapshot.Store(m.catalog.Snapshot())
	}
	// A cancel that lands during the last candidate still counts.
	if session.cancelled(ctx) {
		cancelled = true
	}
	session.protocols = scanned

	state := StateCompleted
	if cancelled {
		state = StateCancelled
	} else {
		session.pruned = m.prune(scanned)
	}
	m.current.Store(nil)

	summary := session.summary(state, m.catalog.Len())
	snap := m.catalog.Snapshot()
	m.snapshot.Store(snap)
	if m.store != nil {
		if err := m.store.Save(snap); err != nil {
			m.logger.Error("saving catalog failed", logging.Field{Key: "error", Value: err})
			summary.SaveError = err.Error()
		}
	}
	if closer, ok := m.scanner.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			m.logger.Debug("closing workers", logging.Field{Key: "error", Value: err})
		}
	}

	m.logger.Info("plugin scan finished",
		logging.Field{Key: "session", Value: session.ID},
		logging.Field{Key: "state", Value: state},
		logging.Field{Key: "attempted", Value: summary.Attempted},
		logging.Field{Key: "cache_hits", Value: summary.CacheHits},
		logging.Field{Key: "new_plugins", Value: summary.NewPlugins},
		logging.Field{Key: "total", Value: summary.Total})
	m.finish(session, summary)
}

// scanProtocol returns false when the session was cancelled.
func (m *Manager) scanProtocol(ctx context.Context, session *Session, format formats.Format) bool {
	protocol := format.Protocol()
	for _, root := range m.paths.SearchPaths(protocol) {
		candidates, err := format.Candidates(root, m.ignore)
		if err != nil {
			m.logger.Warn("listing candidates failed",
				logging.Field{Key: "protocol", Value: protocol},
				logging.Field{Key: "path", Value: root},
				logging.Field{Key: "error", Value: err})
			continue
		}
		for _, candidate := range candidates {
			if session.cancelled(ctx) {
				return false
			}
			m.scanCandidate(ctx, session, protocol, candidate)
		}
	}
	return true
}

func (m *Manager) scanCandidate(ctx context.Context, session *Session, protocol plugin.Protocol, candidate string) {
	modTime, size, err := fingerprint(candidate)
	if err != nil {
		m.logger.Debug("candidate vanished", logging.Field{Key: "path", Value: candidate}, logging.Field{Key: "error", Value: err})
		return
	}
	if rec, ok := m.catalog.File(protocol, candidate); ok && rec.Unchanged(modTime, size) {
		session.cacheHits++
		return
	}

	name := DisplayName(candidate)
	session.attempted++
	session.setCurrent(name)
	m.current.Store(&name)
	m.notifyScanning(name)

	descs, outcome := m.scanner.FindPluginTypesFor(ctx, protocol, candidate)
	switch outcome {
	case scanner.OutcomeFound, scanner.OutcomeEmpty:
		added := m.catalog.RecordFile(catalog.FileRecord{
			Path:     candidate,
			Protocol: protocol,
			ModTime:  modTime,
			Size:     size,
		}, descs)
		session.newPlugins += added
		if len(descs) == 0 {
			session.blacklisted++
		}
	case scanner.OutcomeTimeout:
		session.timeouts++
		session.failed = append(session.failed, candidate)
	case scanner.OutcomeConnectionLost:
		session.connectionLost++
		session.failed = append(session.failed, candidate)
	case scanner.OutcomeLaunchFailed:
		session.launchFailed++
		session.failed = append(session.failed, candidate)
	}
}

// prune drops records of files that no longer exist.
func (m *Manager) prune(protocols []plugin.Protocol) int {
	pruned := 0
	for _, protocol := range protocols {
		for _, rec := range m.catalog.Files(protocol) {
			if _, err := os.Stat(rec.Path); !errors.Is(err, fs.ErrNotExist) {
				continue
			}
			m.catalog.RemoveFile(protocol, rec.Path)
			pruned++
		}
	}
	return pruned
}

func (m *Manager) finish(session *Session, summary Summary) {
	m.last.Store(&summary)
	for _, o := range m.observers {
		m.safely(func() { o.ScanningFinished(summary) })
	}
	// The state is released only after every callback has run so a new
	// BeginScan cannot overlap them. Waiters are woken after that.
	m.state.Store(int32(summary.State))
	session.finish(summary)
}

func (m *Manager) notifyScanning(name string) {
	for _, o := range m.observers {
		m.safely(func() { o.CurrentlyScanningPluginChanged(name) })
	}
}

func (m *Manager) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("observer panicked", logging.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()
	fn()
}

// fingerprint is the modification time and size used for cache hits. For a
// bundle directory it is the newest mtime and the total size of its files.
func fingerprint(path string) (int64, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	if !info.IsDir() {
		return info.ModTime().UnixNano(), info.Size(), nil
	}
	latest, total := info.ModTime().UnixNano(), int64(0)
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if mt := fi.ModTime().UnixNano(); mt > latest {
			latest = mt
		}
		if !d.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return latest, total, err
}

// DisplayName is what progress observers see for a candidate.
func DisplayName(candidate string) string {
	base := filepath.Base(candidate)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

// Session is the state of one BeginScan call.
type Session struct {
	ID        string
	StartedAt time.Time

	// ctx is cancelled by Cancel so an in-flight probe stops retrying.
	ctx        context.Context
	cancel     context.CancelFunc
	cancelFlag atomic.Bool
	done       chan struct{}
	current    atomic.Pointer[string]

	// Counters are owned by the scan goroutine until done is closed.
	protocols      []plugin.Protocol
	attempted      int
	cacheHits      int
	newPlugins     int
	blacklisted    int
	timeouts       int
	connectionLost int
	launchFailed   int
	pruned         int
	failed         []string
	result         Summary
}

func newSession(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (s *Session) Cancel() {
	s.cancelFlag.Store(true)
	s.cancel()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result is valid once Done is closed.
func (s *Session) Result() Summary {
	<-s.done
	return s.result
}

func (s *Session) CurrentlyScanning() string {
	if name := s.current.Load(); name != nil {
		return *name
	}
	return ""
}

func (s *Session) setCurrent(name string) {
	s.current.Store(&name)
}

func (s *Session) cancelled(ctx context.Context) bool {
	return s.cancelFlag.Load() || ctx.Err() != nil
}

func (s *Session) summary(state State, total int) Summary {
	return Summary{
		ID:             s.ID,
		State:          state,
		StartedAt:      s.StartedAt,
		FinishedAt:     time.Now().UTC(),
		Protocols:      s.protocols,
		Attempted:      s.attempted,
		CacheHits:      s.cacheHits,
		NewPlugins:     s.newPlugins,
		Blacklisted:    s.blacklisted,
		Timeouts:       s.timeouts,
		ConnectionLost: s.connectionLost,
		LaunchFailed:   s.launchFailed,
		Pruned:         s.pruned,
		Total:          total,
		Failed:         s.failed,
	}
}

func (s *Session) finish(summary Summary) {
	s.result = summary
	s.cancel()
	close(s.done)
}
