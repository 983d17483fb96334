package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hanzong05/farm2go-sub002/blobstore"
	"github.com/hanzong05/farm2go-sub002/identity"
	"github.com/hanzong05/farm2go-sub002/internal/emitter"
	clienterrors "github.com/hanzong05/farm2go-sub002/internal/errors"
	"github.com/hanzong05/farm2go-sub002/internal/metrics"
	"github.com/hanzong05/farm2go-sub002/profiles"
)

const (
	defaultInactivityTimeout   = 24 * time.Hour
	defaultExpirySweepInterval = 60 * time.Second
	// Access tokens live ~60 minutes; refresh proactively before that.
	defaultRefreshSweepInterval = 50 * time.Minute
	defaultStagingTTL           = 10 * time.Minute
)

// Deps holds the external collaborators a Store needs.
type Deps struct {
	Provider identity.Provider // Identity-provider contract
	Profiles profiles.Repo     // Profile row reads and updates
	Blobs    blobstore.Store   // Local persisted key-value state
}

// Store owns the canonical session record and is its sole writer. All
// session-mutating operations are serialized internally; consumers read
// through Subscribe.
type Store struct {
	provider identity.Provider
	profiles profiles.Repo
	blobs    blobstore.Store
	log      zerolog.Logger
	metrics  metrics.Recorder

	nowTime func() time.Time

	inactivityTimeout    time.Duration
	expirySweepInterval  time.Duration
	refreshSweepInterval time.Duration
	stagingTTL           time.Duration

	// opMu serializes the session-mutating operations (initialize, create,
	// clear, refresh). Sweeps only try-lock it so a stuck foreground
	// operation never wedges the background loops.
	opMu sync.Mutex

	mu      sync.Mutex
	rec     *record
	current State
	// epoch increments on every forced resolution (clear, watchdog). An
	// in-flight Initialize commits only if the epoch it started under is
	// still current.
	epoch uint64

	events *emitter.Emitter[State]

	sweepMu  sync.Mutex
	sweeping bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option defines a function type to modify the Store instance.
type Option func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// WithInactivityTimeout overrides the activity-based expiry window.
func WithInactivityTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.inactivityTimeout = d
	}
}

// WithSweepIntervals overrides the background sweep cadences (for testing).
func WithSweepIntervals(expiry, refresh time.Duration) Option {
	return func(s *Store) {
		s.expirySweepInterval = expiry
		s.refreshSweepInterval = refresh
	}
}

// WithStagingTTL overrides the staged-auth entry lifetime.
func WithStagingTTL(d time.Duration) Option {
	return func(s *Store) {
		s.stagingTTL = d
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(s *Store) {
		s.metrics = rec
	}
}

// New initializes a Store with required dependencies. Optional configuration
// can be provided via options (e.g., WithNowTime for testing).
func New(deps Deps, log zerolog.Logger, options ...Option) (*Store, error) {
	if deps.Provider == nil {
		return nil, errors.New("[session.New] Provider is required")
	}
	if deps.Profiles == nil {
		return nil, errors.New("[session.New] Profiles repo is required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("[session.New] Blobs store is required")
	}

	s := &Store{
		provider:             deps.Provider,
		profiles:             deps.Profiles,
		blobs:                deps.Blobs,
		log:                  log,
		metrics:              metrics.Nop{},
		nowTime:              time.Now,
		inactivityTimeout:    defaultInactivityTimeout,
		expirySweepInterval:  defaultExpirySweepInterval,
		refreshSweepInterval: defaultRefreshSweepInterval,
		stagingTTL:           defaultStagingTTL,
		events:               emitter.New[State](),
	}

	for _, opt := range options {
		opt(s)
	}

	return s, nil
}

// Subscribe registers a state listener, invokes it synchronously exactly once
// with the current state, and returns an unsubscribe function.
func (s *Store) Subscribe(listener func(State)) func() {
	unsubscribe := s.events.Subscribe(listener)

	s.mu.Lock()
	snapshot := s.current
	s.mu.Unlock()

	deliverInitial(listener, snapshot)
	return unsubscribe
}

// CurrentState returns the last broadcast snapshot.
func (s *Store) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Initialize reconciles local state against the provider's current session.
// Safe to call redundantly; overlapping calls are serialized internally.
// Remote failures are normalized into an unauthenticated broadcast, never a
// crash; the returned error is advisory.
func (s *Store) Initialize(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	started := s.currentEpoch()
	s.broadcastLoading()

	remote, err := s.provider.GetSession(ctx)
	if err != nil {
		if !s.epochStale(started) {
			s.clearLocal()
			s.broadcastUnauthenticated("could not restore session")
		}
		return clienterrors.Wrapf(err, "[Initialize] fetch session")
	}

	if remote == nil {
		if !s.epochStale(started) {
			s.clearLocal()
			s.broadcastUnauthenticated("")
		}
		return nil
	}

	// Inactivity expiry is checked before any refresh attempt: a session the
	// user abandoned must not be revived by a still-valid refresh token.
	if s.persistedActivityExpired() {
		s.metrics.RecordForcedExpiry()
		return s.clearSession(ctx)
	}

	if remote.Expired(s.nowTime()) {
		refreshed, refreshErr := s.provider.RefreshSession(ctx)
		if refreshErr != nil || refreshed == nil {
			s.log.Warn().Err(refreshErr).Msg("session expired and refresh failed, clearing")
			s.metrics.RecordSessionRefresh("failure")
			if !s.epochStale(started) {
				s.clearLocal()
				s.broadcastUnauthenticated("session expired")
			}
			return nil
		}
		s.metrics.RecordSessionRefresh("success")
		remote = refreshed
	}

	return s.adoptSession(ctx, remote.Identity, remote.Tokens, started)
}

// CreateSession establishes a session right after an interactive login.
func (s *Store) CreateSession(ctx context.Context, user identity.Identity, tokens identity.Tokens) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.adoptSession(ctx, user, tokens, s.currentEpoch())
}

// adoptSession fetches the profile, builds the record, persists, and
// broadcasts. A missing profile is not a failure: the state carries the user
// with a nil profile so the guard can route to profile completion. The commit
// is abandoned when a forced resolution landed while the profile fetch was in
// flight.
func (s *Store) adoptSession(ctx context.Context, user identity.Identity, tokens identity.Tokens, epoch uint64) error {
	profile, err := s.profiles.GetByID(ctx, user.ID)
	if err != nil && !clienterrors.Is(err, clienterrors.ErrProfileNotFound) {
		if !s.epochStale(epoch) {
			s.broadcastUnauthenticated("could not load profile")
		}
		return clienterrors.Wrapf(err, "[adoptSession] fetch profile")
	}

	now := s.nowTime()
	rec := &record{
		User:             user,
		Profile:          profile,
		Tokens:           tokens,
		LastActivity:     now,
		SessionStartTime: now,
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	s.rec = rec
	s.mu.Unlock()

	s.persistRecord(rec)
	s.broadcastRecord()
	s.startSweeps()
	return nil
}

// UpdateProfile merges fields into the live record's profile, persists, and
// broadcasts. The remote row is patched best-effort; the in-memory profile
// remains authoritative if the patch fails.
func (s *Store) UpdateProfile(ctx context.Context, changes profiles.Profile) error {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	if rec == nil {
		return clienterrors.ErrNoSession
	}
	if rec.Profile == nil {
		return clienterrors.ErrNoProfileLoaded
	}

	merged := rec.Profile.Merge(changes)
	merged.UpdatedAt = s.nowTime()

	if _, err := s.profiles.Update(ctx, rec.User.ID, changes); err != nil {
		s.log.Warn().Err(err).Msg("remote profile update failed, keeping local copy")
	}

	s.mu.Lock()
	if s.rec != rec {
		s.mu.Unlock()
		return clienterrors.ErrNoSession
	}
	rec.Profile = &merged
	s.mu.Unlock()

	s.persistKey(keyProfile, &merged)
	s.broadcastRecord()
	return nil
}

// ClearSession signs out remotely, nulls the record, purges every persisted
// blob, stops the background sweeps, and broadcasts unauthenticated. Local
// state is cleared even when the remote sign-out fails.
func (s *Store) ClearSession(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.clearSession(ctx)
}

// clearSession is ClearSession with opMu already held.
func (s *Store) clearSession(ctx context.Context) error {
	s.stopSweeps()

	signOutErr := s.provider.SignOut(ctx)
	if signOutErr != nil {
		s.log.Warn().Err(signOutErr).Msg("remote sign-out failed, clearing local state anyway")
	}

	s.clearLocal()
	s.broadcastUnauthenticated("")
	return signOutErr
}

// RefreshSession requests new tokens from the provider. Returns a structured
// result; never an error.
func (s *Store) RefreshSession(ctx context.Context) RefreshResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.refreshSession(ctx)
}

// refreshSession is RefreshSession with opMu already held.
func (s *Store) refreshSession(ctx context.Context) RefreshResult {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	if rec == nil {
		return RefreshResult{Success: false, Error: clienterrors.ErrNoSession.Error()}
	}

	refreshed, err := s.provider.RefreshSession(ctx)
	if err != nil || refreshed == nil {
		s.metrics.RecordSessionRefresh("failure")
		msg := clienterrors.ErrRefreshFailed.Error()
		if err != nil {
			msg = err.Error()
		}
		return RefreshResult{Success: false, Error: msg}
	}

	s.mu.Lock()
	if s.rec == nil {
		// Session was cleared while the refresh was in flight.
		s.mu.Unlock()
		return RefreshResult{Success: false, Error: clienterrors.ErrNoSession.Error()}
	}
	s.rec.User = refreshed.Identity
	s.rec.Tokens = refreshed.Tokens
	rec = s.rec
	s.mu.Unlock()

	s.persistKey(keyIdentity, rec.User)
	s.persistKey(keyTokens, rec.Tokens)
	s.broadcastRecord()
	s.metrics.RecordSessionRefresh("success")
	return RefreshResult{Success: true}
}

// UpdateLastActivity stamps the current time on the live record. Persistence
// of the stamp is best-effort.
func (s *Store) UpdateLastActivity() {
	now := s.nowTime()

	s.mu.Lock()
	if s.rec == nil {
		s.mu.Unlock()
		return
	}
	s.rec.LastActivity = now
	s.mu.Unlock()

	s.persistKey(keyLastActivity, now)
}

// IsSessionExpired reports whether the inactivity window has elapsed. True
// when no session exists.
func (s *Store) IsSessionExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec == nil {
		return true
	}
	return s.nowTime().Sub(s.rec.LastActivity) > s.inactivityTimeout
}

// SessionDuration returns how long the current session has been active, or 0
// when no session exists.
func (s *Store) SessionDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec == nil {
		return 0
	}
	return s.nowTime().Sub(s.rec.SessionStartTime)
}

// AccessToken returns the live access token, or "" when unauthenticated.
// Used by the data-provider clients to authenticate row reads.
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec == nil {
		return ""
	}
	return s.rec.Tokens.AccessToken
}

// Start launches the background sweeps: the activity-expiry sweep that
// force-clears an expired session, and the proactive refresh sweep that
// renews tokens before the server-side expiry.
func (s *Store) Start() {
	s.startSweeps()
}

// Close stops the background sweeps. Deterministic: it returns only after
// every sweep goroutine has exited.
func (s *Store) Close() {
	s.stopSweeps()
	s.wg.Wait()
}

func (s *Store) startSweeps() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	if s.sweeping {
		return
	}
	s.sweeping = true
	s.stopCh = make(chan struct{})

	s.wg.Add(2)
	go s.expiryLoop(s.stopCh)
	go s.refreshLoop(s.stopCh)
}

// stopSweeps signals the loops to exit but does not wait for them: a sweep
// that clears the session calls this from inside its own loop. Close is the
// place that waits.
func (s *Store) stopSweeps() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	if !s.sweeping {
		return
	}
	s.sweeping = false
	close(s.stopCh)
}

func (s *Store) expiryLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.SweepExpiry(context.Background())
		}
	}
}

func (s *Store) refreshLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refreshSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.SweepRefresh(context.Background())
		}
	}
}

// SweepExpiry force-clears the session once the inactivity window has
// elapsed. Exported so tests can drive the sweep with a virtual clock.
func (s *Store) SweepExpiry(ctx context.Context) {
	if !s.opMu.TryLock() {
		// A foreground operation is running; it owns the session. Catch the
		// expiry on the next tick.
		return
	}
	defer s.opMu.Unlock()

	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	if rec == nil {
		return
	}
	if !s.IsSessionExpired() {
		return
	}

	s.log.Info().Msg("session expired by inactivity, clearing")
	s.metrics.RecordForcedExpiry()
	_ = s.clearSession(ctx)
}

// SweepRefresh proactively refreshes tokens. Failures are swallowed: a failed
// background refresh never forces a logout on its own.
func (s *Store) SweepRefresh(ctx context.Context) {
	if !s.opMu.TryLock() {
		return
	}
	defer s.opMu.Unlock()

	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	if rec == nil {
		return
	}

	if result := s.refreshSession(ctx); !result.Success {
		s.log.Warn().Str("error", result.Error).Msg("background token refresh failed")
	}
}

// ForceUnauthenticated resolves the broadcast state to unauthenticated with
// an advisory error, without touching persisted blobs. Used by the facade's
// startup watchdog and the unconfigured-backend short circuit.
func (s *Store) ForceUnauthenticated(advisory string) {
	s.mu.Lock()
	s.rec = nil
	s.epoch++
	s.mu.Unlock()

	s.broadcastUnauthenticated(advisory)
}

func (s *Store) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *Store) epochStale(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch != epoch
}

func (s *Store) persistedActivityExpired() bool {
	var last time.Time
	if err := s.loadKey(keyLastActivity, &last); err != nil {
		return false
	}
	return s.nowTime().Sub(last) > s.inactivityTimeout
}

func (s *Store) clearLocal() {
	s.mu.Lock()
	s.rec = nil
	s.epoch++
	s.mu.Unlock()

	for _, key := range []string{keyTokens, keyIdentity, keyProfile, keyLastActivity, keySessionStart} {
		if err := s.blobs.Delete(key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to purge persisted blob")
		}
	}
}

func (s *Store) persistRecord(rec *record) {
	s.persistKey(keyTokens, rec.Tokens)
	s.persistKey(keyIdentity, rec.User)
	if rec.Profile != nil {
		s.persistKey(keyProfile, rec.Profile)
	}
	s.persistKey(keyLastActivity, rec.LastActivity)
	s.persistKey(keySessionStart, rec.SessionStartTime)
}

// persistKey writes one JSON blob. Persistence failures are logged and
// swallowed; the in-memory record stays authoritative.
func (s *Store) persistKey(key string, value any) {
	blob, err := json.Marshal(value)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("failed to marshal blob")
		return
	}
	if err := s.blobs.Set(key, blob); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to persist blob")
	}
}

func (s *Store) loadKey(key string, out any) error {
	blob, err := s.blobs.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(blob, out)
}

func (s *Store) broadcastLoading() {
	s.mu.Lock()
	state := s.current
	state.IsLoading = true
	state.Error = ""
	s.current = state
	s.mu.Unlock()

	s.events.Emit(state)
}

func (s *Store) broadcastUnauthenticated(advisory string) {
	state := State{Error: advisory}

	s.mu.Lock()
	s.current = state
	s.mu.Unlock()

	s.events.Emit(state)
}

func (s *Store) broadcastRecord() {
	s.mu.Lock()
	state := s.rec.state()
	s.current = state
	s.mu.Unlock()

	s.events.Emit(state)
}

func deliverInitial(listener func(State), state State) {
	defer func() {
		_ = recover()
	}()
	listener(state)
}
