// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soothill/hvac-supervisor/monitoring"
	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/interfaces"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/metrics"
	"github.com/soothill/hvac-supervisor/storage"
	"github.com/soothill/hvac-supervisor/telemetry"
)

// Pages a session can be on. Only the live overview refreshes on its own.
const (
	PageLive    = "live"
	PageMotor   = "motor"
	PageRoom    = "room"
	PageHistory = "history"
)

// DefaultIdleTimeout is how long a session may go unused before it is reaped.
const DefaultIdleTimeout = 30 * time.Minute

// DefaultMaxSessions caps open sessions. The least recently used one is
// closed to make room.
const DefaultMaxSessions = 500

// idleCycles is how many refresh intervals a live session may go without a
// request before its scheduled refreshes stop fetching.
const idleCycles = 2

const recordTimeout = 5 * time.Second

// LiveRegistrar attaches a session's live state to the message feed.
type LiveRegistrar interface {
	Register(state *monitoring.LiveState) func()
}

// SourceFactory returns the data source for one session. live is nil unless
// a LiveRegistrar is configured.
type SourceFactory func(live *monitoring.LiveState) interfaces.DataSource

// ManagerOptions configures a Manager. View, Normalizer and NewSource are
// required.
type ManagerOptions struct {
	View       *View
	Normalizer *telemetry.Normalizer
	NewSource  SourceFactory

	Feed     LiveRegistrar
	Recorder interfaces.ReadingRecorder
	Alerts   *AlertMonitor

	LatestTTL       time.Duration
	HistoryTTL      time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
	DefaultInterval time.Duration
	IdleTimeout     time.Duration
	MaxSessions     int

	// Clock drives session idle tracking and cache staleness.
	Clock func() time.Time
}

// Manager owns every open session. Sessions share nothing but the source
// factory, the feed and the sinks.
type Manager struct {
	opts ManagerOptions

	mu       sync.RWMutex
	sessions map[string]*Session
	view     *View
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager validates opts and fills in defaults.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.View == nil {
		return nil, apperrors.NewConfigError("view", "", apperrors.ErrNotConfigured)
	}
	if opts.NewSource == nil {
		return nil, apperrors.NewConfigError("sources", "", apperrors.ErrNotConfigured)
	}
	if opts.Normalizer == nil {
		opts.Normalizer = telemetry.NewNormalizer(nil)
	}
	if opts.LatestTTL <= 0 {
		opts.LatestTTL = storage.DefaultLatestTTL
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = storage.DefaultHistoryTTL
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = monitoring.DefaultRefreshInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
		view:     opts.View,
		interval: opts.DefaultInterval,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Acquire returns the session for id, creating it when id is unknown. An id
// that is not a UUID is replaced by a fresh one; the returned session carries
// the id to hand back to the client. A new session does not refresh on its
// own until its live page is viewed.
func (m *Manager) Acquire(id string) (*Session, bool) {
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		s.touch()
		return s, false
	}

	var evicted *Session
	if len(m.sessions) >= m.opts.MaxSessions {
		evicted = m.oldestLocked()
		delete(m.sessions, evicted.id)
	}

	s := m.newSession(id)
	m.sessions[id] = s
	metrics.ActiveSessions.Inc()
	m.mu.Unlock()

	if evicted != nil {
		evicted.close()
		metrics.ActiveSessions.Dec()
		logger.Warn().Str("session_id", evicted.id).Int("max_sessions", m.opts.MaxSessions).
			Msg("Session limit reached, closed least recently used session")
	}
	logger.Debug().Str("session_id", id).Msg("Session opened")
	return s, true
}

func (m *Manager) oldestLocked() *Session {
	var oldest *Session
	for _, s := range m.sessions {
		if oldest == nil || s.LastSeen().Before(oldest.LastSeen()) {
			oldest = s
		}
	}
	return oldest
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.close()
		metrics.ActiveSessions.Dec()
		logger.Debug().Str("session_id", id).Msg("Session closed")
	}
	return ok
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ReapIdle closes sessions unused for longer than the idle timeout and
// returns how many were closed.
func (m *Manager) ReapIdle() int {
	cutoff := m.opts.Clock().Add(-m.opts.IdleTimeout)

	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.Remove(id)
	}
	if len(idle) > 0 {
		logger.Info().Int("reaped", len(idle)).Int("open", m.Len()).Msg("Reaped idle sessions")
	}
	return len(idle)
}

// Run reaps idle sessions periodically until ctx is done, then closes every
// session.
func (m *Manager) Run(ctx context.Context) {
	every := m.opts.IdleTimeout / 2
	if every > time.Minute {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.ReapIdle()
		}
	}
}

// CloseAll closes every session. The manager stays usable.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
		metrics.ActiveSessions.Dec()
	}
}

// Shutdown closes every session and cancels background work for good.
func (m *Manager) Shutdown() {
	m.CloseAll()
	m.cancel()
}

// View returns the compiled view in use.
func (m *Manager) View() *View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

// SetView swaps the compiled view, e.g. after a configuration reload.
func (m *Manager) SetView(v *View) {
	if v == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = v
}

// SetDefaultInterval changes the interval of new sessions and of open
// sessions whose interval was never chosen by the client.
func (m *Manager) SetDefaultInterval(d time.Duration) {
	m.mu.Lock()
	m.interval = d
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		chosen := s.intervalChosen
		s.mu.Unlock()
		if !chosen {
			s.scheduler.SetInterval(d)
		}
	}
}

// Normalizer returns the shared history normalizer.
func (m *Manager) Normalizer() *telemetry.Normalizer {
	return m.opts.Normalizer
}

func (m *Manager) newSession(id string) *Session {
	s := &Session{
		id:        id,
		mgr:       m,
		cache:     storage.NewSnapshotCache(storage.WithClock(storage.Clock(m.opts.Clock))),
		scheduler: monitoring.NewRefreshScheduler(m.opts.MinInterval, m.opts.MaxInterval),
		page:      PageLive,
		lastSeen:  m.opts.Clock(),
	}
	s.scheduler.SetInterval(m.interval)
	if m.opts.Feed != nil {
		s.live = monitoring.NewLiveState()
		s.unregister = m.opts.Feed.Register(s.live)
	}
	s.source = m.opts.NewSource(s.live)

	s.cache.Register(storage.KeyLatest, m.opts.LatestTTL, s.loadLatest)
	s.cache.Register(storage.KeyHistory, m.opts.HistoryTTL, s.loadHistory)
	return s
}

// Session is one operator's dashboard: its own cache, its own refresh
// scheduler and, with a live feed, its own copy of the last message.
type Session struct {
	id        string
	mgr       *Manager
	cache     *storage.SnapshotCache
	scheduler *monitoring.RefreshScheduler
	source    interfaces.DataSource

	live       *monitoring.LiveState
	unregister func()

	mu             sync.Mutex
	page           string
	lastSeen       time.Time
	intervalChosen bool
}

// State is the client-visible session state.
type State struct {
	ID              string  `json:"id"`
	Page            string  `json:"view"`
	AutoRefresh     bool    `json:"auto_refresh"`
	IntervalSeconds float64 `json:"interval_seconds"`
	MinSeconds      float64 `json:"min_interval_seconds"`
	MaxSeconds      float64 `json:"max_interval_seconds"`
	HistoryEnabled  bool    `json:"history_enabled"`
	Source          string  `json:"source"`
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = s.mgr.opts.Clock()
}

// State reports the page and refresh settings.
func (s *Session) State() State {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()

	lo, hi := s.scheduler.Bounds()
	return State{
		ID:              s.id,
		Page:            page,
		AutoRefresh:     s.scheduler.Active(),
		IntervalSeconds: s.scheduler.Interval().Seconds(),
		MinSeconds:      lo.Seconds(),
		MaxSeconds:      hi.Seconds(),
		HistoryEnabled:  s.source.HistoryEnabled(),
		Source:          s.source.Name(),
	}
}

// SetPage switches the session page. The live page refreshes every interval;
// any other page stops the scheduler and cancels the scheduled fetch in
// progress. A non-positive interval keeps the current one.
func (s *Session) SetPage(page string, interval time.Duration) (State, error) {
	switch page {
	case PageLive, PageMotor, PageRoom, PageHistory:
	default:
		return State{}, apperrors.NewValidationError("view", page, fmt.Sprintf("must be one of %s, %s, %s, %s", PageLive, PageMotor, PageRoom, PageHistory))
	}

	if interval > 0 {
		s.scheduler.SetInterval(interval)
	}

	s.mu.Lock()
	s.page = page
	s.lastSeen = s.mgr.opts.Clock()
	if interval > 0 {
		s.intervalChosen = true
	}
	s.mu.Unlock()

	if page == PageLive {
		s.ensureRefresh()
	} else {
		s.scheduler.Stop()
	}

	logger.Debug().Str("session_id", s.id).Str("view", page).Dur("interval", s.scheduler.Interval()).
		Msg("Session view changed")
	return s.State(), nil
}

// ensureRefresh starts the scheduler when the session is on the live page.
func (s *Session) ensureRefresh() {
	s.mu.Lock()
	live := s.page == PageLive
	s.mu.Unlock()
	if live && !s.scheduler.Active() {
		s.scheduler.Start(s.mgr.ctx, s.scheduler.Interval(), s.tick)
	}
}

// idle reports whether no request has used the session for idleCycles
// refresh intervals.
func (s *Session) idle() bool {
	return s.mgr.opts.Clock().Sub(s.LastSeen()) > idleCycles*s.scheduler.Interval()
}

// tick warms the cache; the TTLs decide whether anything is fetched. Nothing
// is fetched while no client is reading the session.
func (s *Session) tick(ctx context.Context) {
	if s.idle() {
		metrics.RefreshSkipped.Inc()
		return
	}
	if _, err := s.cache.Latest(ctx); err != nil {
		logger.Debug().Err(err).Str("session_id", s.id).Msg("Scheduled latest refresh failed")
	}
	if s.source.HistoryEnabled() {
		if _, err := s.cache.History(ctx); err != nil {
			logger.Debug().Err(err).Str("session_id", s.id).Msg("Scheduled history refresh failed")
		}
	}
}

// Snapshot reads both keys through the cache. A failed fetch falls back to
// the last good value, flagged stale.
func (s *Session) Snapshot(ctx context.Context) Snapshot {
	s.touch()
	var snap Snapshot

	if latest, err := s.cache.Latest(ctx); err == nil {
		snap.Latest = &latest
		_, snap.LatestAt, _ = s.cache.PeekLatest()
	} else {
		snap.LatestErr = err
		if r, at, ok := s.cache.PeekLatest(); ok {
			snap.Latest, snap.LatestAt, snap.LatestStale = &r, at, true
		}
	}

	if !s.source.HistoryEnabled() {
		snap.HistoryOff = true
		return snap
	}
	if series, err := s.cache.History(ctx); err == nil {
		snap.History = &series
		_, snap.HistoryAt, _ = s.cache.PeekHistory()
	} else {
		snap.HistoryErr = err
		if h, at, ok := s.cache.PeekHistory(); ok {
			snap.History, snap.HistoryAt, snap.HistoryStale = &h, at, true
		}
	}
	return snap
}

// RefreshNow drops every cached value and fetches again immediately.
func (s *Session) RefreshNow(ctx context.Context) Snapshot {
	s.cache.InvalidateAll()
	logger.Debug().Str("session_id", s.id).Msg("Manual refresh")
	return s.Snapshot(ctx)
}

// Overview renders the live page and keeps it refreshing.
func (s *Session) Overview(ctx context.Context) Overview {
	s.ensureRefresh()
	return s.mgr.View().Overview(s.Snapshot(ctx), s.mgr.opts.Normalizer)
}

// History renders the history page in the given order.
func (s *Session) History(ctx context.Context, order string) HistoryPage {
	return s.mgr.View().History(s.Snapshot(ctx), order)
}

// Latest returns the current reading for the command pages. A stale reading
// is returned together with the fetch error.
func (s *Session) Latest(ctx context.Context) (telemetry.Reading, bool, error) {
	snap := s.Snapshot(ctx)
	if snap.Latest == nil {
		return telemetry.Reading{}, false, snap.LatestErr
	}
	return *snap.Latest, true, snap.LatestErr
}

// StatePreview renders the motor page indicators from the current reading.
func (s *Session) StatePreview(ctx context.Context) ([]KPI, error) {
	r, _, err := s.Latest(ctx)
	v := s.mgr.View()
	return v.KPIs(v.Spec().StatePreview, r), err
}

func (s *Session) loadLatest(ctx context.Context) (any, error) {
	raw, err := s.source.FetchLatest(ctx)
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	s.mgr.opts.Alerts.ObserveFetch(storage.KeyLatest, err)
	if err != nil {
		return nil, err
	}

	r := telemetry.ParseReading(raw)
	publishReading(r)
	s.mgr.opts.Alerts.ObserveReading(r)

	if rec := s.mgr.opts.Recorder; rec != nil {
		recCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		if err := rec.Record(recCtx, r); err != nil {
			logger.Warn().Err(err).Str("session_id", s.id).Msg("Failed to record reading")
		}
		cancel()
	}
	return r, nil
}

func (s *Session) loadHistory(ctx context.Context) (any, error) {
	raw, err := s.source.FetchHistory(ctx)
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	s.mgr.opts.Alerts.ObserveFetch(storage.KeyHistory, err)
	if err != nil {
		return nil, err
	}
	return s.mgr.opts.Normalizer.Normalize(raw), nil
}

func (s *Session) close() {
	s.scheduler.Stop()
	s.cache.Close()
	if s.unregister != nil {
		s.unregister()
	}
}

// publishReading exports the reading as gauges. Absent fields keep their
// previous value.
func publishReading(r telemetry.Reading) {
	for _, field := range []string{telemetry.FieldTemperature, telemetry.FieldHumidity, telemetry.FieldGas, telemetry.FieldMotorSpeed} {
		if v, ok := r.Value(field); ok {
			metrics.CurrentReading.WithLabelValues(field).Set(v)
		}
	}
	if r.Alarm {
		metrics.AlarmActive.Set(1)
	} else {
		metrics.AlarmActive.Set(0)
	}
}
