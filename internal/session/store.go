package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ebridge/ebridge/internal/platform/api"
	"github.com/ebridge/ebridge/internal/platform/metrics"
	"github.com/ebridge/ebridge/pkg/models"
)

// Store is the single source of truth for the authenticated e-Bridge user
// and the state machine around it: Unknown → (initialize) → Authenticated or
// Anonymous; Authenticated → (logout, refresh failure, me failure) →
// Anonymous; Anonymous → (login) → Authenticated.
//
// All methods are safe for concurrent use. The user field is owned
// exclusively by the store and only ever written through its operations.
type Store struct {
	client *api.Client
	log    zerolog.Logger

	mu          sync.RWMutex
	user        *models.User
	inflight    int
	initStarted bool
	initialized bool
	// epoch advances on every teardown so operations that settle late
	// (a refresh racing a logout) discard their result instead of
	// resurrecting a session the user already left.
	epoch uint64

	listeners []func(*models.User)

	refresher *Refresher
	gateway   *Gateway
}

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	interval time.Duration
	lead     time.Duration
	log      zerolog.Logger
}

// WithRefreshInterval sets the proactive refresh interval. It must stay
// comfortably under the backend's access-token TTL (13m against the
// reference backend's 15m tokens).
func WithRefreshInterval(d time.Duration) Option {
	return func(c *storeConfig) { c.interval = d }
}

// WithRefreshLead sets how far ahead of an observed token expiry the
// proactive refresh fires.
func WithRefreshLead(d time.Duration) Option {
	return func(c *storeConfig) { c.lead = d }
}

// WithLogger sets the store's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *storeConfig) { c.log = log }
}

// NewStore creates a session store on top of the given API client.
func NewStore(client *api.Client, opts ...Option) *Store {
	cfg := &storeConfig{
		interval: 13 * time.Minute,
		lead:     2 * time.Minute,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Store{
		client: client,
		log:    cfg.log,
	}
	s.refresher = newRefresher(cfg.interval, cfg.lead, s.doRefresh, client.AccessTokenExpiry, cfg.log)
	s.gateway = &Gateway{store: s, log: cfg.log}
	return s
}

// Close releases the store's background resources. The store must not be
// used afterwards.
func (s *Store) Close() {
	s.refresher.Stop()
}

// Client returns the underlying API client (cookie persistence, etc.).
func (s *Store) Client() *api.Client { return s.client }

// Gateway returns the authenticated request gateway bound to this store.
func (s *Store) Gateway() *Gateway { return s.gateway }

// CurrentUser returns the authenticated user, or nil.
func (s *Store) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// IsAuthenticated reports whether a user is logged in.
func (s *Store) IsAuthenticated() bool {
	return s.CurrentUser() != nil
}

// Loading reports whether any session-mutating call is in flight. Backed by
// a counter rather than a boolean so overlapping operations cannot clear
// each other's flag early.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// IsInitialized reports whether the first authentication check completed.
func (s *Store) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// OnChange registers a listener invoked after every user transition (login,
// logout, teardown). The listener receives the new user, nil when the
// session ended. Listeners run outside the store's lock.
func (s *Store) OnChange(fn func(*models.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Initialize resumes an existing cookie-backed session, if the backend has
// one. It never fails: an unauthenticated answer just means "no active
// session" and leaves the store anonymous. Idempotent: only the first call
// performs the network check.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	if s.initStarted {
		s.mu.Unlock()
		return
	}
	s.initStarted = true
	epoch := s.epoch
	s.mu.Unlock()

	s.beginOp()
	defer func() {
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		s.endOp()
	}()

	user, err := s.fetchUser(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("no active session")
		return
	}
	if s.applyUser(user, epoch) {
		s.refresher.Arm()
	}
}

// Login establishes the server-side cookie session and populates the user.
// The login endpoint returns no payload; the user record comes from the
// follow-up /auth/me call. On success a proactive refresh is armed.
func (s *Store) Login(ctx context.Context, creds models.Credentials) error {
	s.beginOp()
	defer s.endOp()

	if err := s.client.Do(ctx, http.MethodPost, "/auth/login", creds, nil); err != nil {
		return err
	}
	if _, err := s.GetCurrentUser(ctx); err != nil {
		return err
	}
	s.refresher.Arm()
	s.log.Info().Str("email", creds.Email).Msg("logged in")
	return nil
}

// GetCurrentUser fetches /auth/me and stores the result. On failure the
// user is cleared and the error returned; the caller owns the loading flag
// and the timer.
func (s *Store) GetCurrentUser(ctx context.Context) (*models.User, error) {
	user, err := s.fetchUser(ctx)
	if err != nil {
		s.setUser(nil)
		return nil, err
	}
	s.setUser(user)
	return user, nil
}

// Refresh renews the session through the single-flight coordinator. Any
// failure tears the local session down and is returned to the caller.
func (s *Store) Refresh(ctx context.Context) error {
	return s.refresher.Refresh(ctx, TriggerManual)
}

// Logout signs out. The timer is cleared before the network call so a
// scheduled refresh cannot fire mid-logout, and the server call's outcome is
// deliberately ignored: signing out locally must always succeed.
func (s *Store) Logout(ctx context.Context) {
	s.beginOp()
	defer s.endOp()

	s.refresher.Stop()
	if err := s.client.Do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		s.log.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
	}
	s.teardown("logout")
}

// RegisterDoctor creates a doctor account. Stateless passthrough: the
// session user is not affected.
func (s *Store) RegisterDoctor(ctx context.Context, reg models.DoctorRegistration) error {
	s.beginOp()
	defer s.endOp()
	return s.client.Do(ctx, http.MethodPost, "/auth/register/doctor", reg, nil)
}

// RegisterAdmin creates an admin account. Stateless passthrough.
func (s *Store) RegisterAdmin(ctx context.Context, reg models.AdminRegistration) error {
	s.beginOp()
	defer s.endOp()
	return s.client.Do(ctx, http.MethodPost, "/auth/register/admin", reg, nil)
}

// CallWithAuth issues an authenticated request through the gateway,
// transparently refreshing and retrying once on 401.
func (s *Store) CallWithAuth(ctx context.Context, method, path string, body, out any) error {
	return s.gateway.Call(ctx, method, path, body, out)
}

// --- internals ---

// fetchUser performs the /auth/me call without mutating store state.
func (s *Store) fetchUser(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := s.client.Do(ctx, http.MethodGet, "/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// doRefresh is the raw refresh sequence shared by every trigger: renew the
// cookies, then resync the user. Any failure is fatal to the session.
func (s *Store) doRefresh(ctx context.Context) error {
	s.beginOp()
	defer s.endOp()

	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()

	if err := s.client.Do(ctx, http.MethodPost, "/auth/refresh", nil, nil); err != nil {
		s.teardown("refresh_failure")
		return err
	}
	user, err := s.fetchUser(ctx)
	if err != nil {
		s.teardown("refresh_failure")
		return err
	}
	s.applyUser(user, epoch)
	return nil
}

// teardown ends the local session: timer stopped, user cleared, epoch
// advanced so late-settling operations discard their results.
func (s *Store) teardown(cause string) {
	s.refresher.Stop()
	metrics.SessionTeardowns.WithLabelValues(cause).Inc()

	s.mu.Lock()
	s.epoch++
	changed := s.user != nil
	s.user = nil
	listeners := s.notifyListenersLocked()
	s.mu.Unlock()

	if changed {
		notify(listeners, nil)
	}
}

// applyUser installs the fetched user unless the session epoch advanced
// while the fetch was in flight. Reports whether the user was applied.
func (s *Store) applyUser(user *models.User, epoch uint64) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	s.user = user
	listeners := s.notifyListenersLocked()
	s.mu.Unlock()

	notify(listeners, user)
	return true
}

func (s *Store) setUser(user *models.User) {
	s.mu.Lock()
	s.user = user
	listeners := s.notifyListenersLocked()
	s.mu.Unlock()

	notify(listeners, user)
}

func (s *Store) notifyListenersLocked() []func(*models.User) {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]func(*models.User), len(s.listeners))
	copy(out, s.listeners)
	return out
}

func notify(listeners []func(*models.User), user *models.User) {
	for _, fn := range listeners {
		fn(user)
	}
}

func (s *Store) beginOp() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
}

func (s *Store) endOp() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
}
