// Package navigation decides automatic redirects from session state and
// route classification, defers navigation until the router is ready, and
// manages deep-link-triggered authentication callbacks.
package navigation

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hanzong05/farm2go-sub002/session"
)

// Router is the navigation surface the guard drives.
type Router interface {
	// Navigate moves the app to path.
	Navigate(path string) error

	// CurrentPath returns the current logical path.
	CurrentPath() string
}

// Guard applies the redirect policy. Construct once, Start after the session
// store exists, and signal router readiness when the navigation tree mounts.
type Guard struct {
	store  *session.Store
	router Router
	log    zerolog.Logger

	mu               sync.Mutex
	ready            bool
	pendingPath      string
	hasPending       bool
	initialCheckDone bool

	// callbackIntent carries a deep-link callback URL to the not-yet-mounted
	// callback screen.
	callbackIntent PendingIntent

	unsubscribe func()
}

// NewGuard creates a Guard. The router starts not-ready; navigation requested
// before SetRouterReady(true) is queued (single slot, last write wins).
func NewGuard(store *session.Store, router Router, log zerolog.Logger) (*Guard, error) {
	if store == nil {
		return nil, errors.New("[NewGuard] store is required")
	}
	if router == nil {
		return nil, errors.New("[NewGuard] router is required")
	}

	return &Guard{
		store:  store,
		router: router,
		log:    log,
	}, nil
}

// Start subscribes to session state and begins evaluating the redirect
// policy on auth transitions.
func (g *Guard) Start() {
	g.unsubscribe = g.store.Subscribe(func(state session.State) {
		g.evaluate(state)
	})
}

// Stop detaches the guard from the session stream.
func (g *Guard) Stop() {
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
}

// SetRouterReady flips readiness. On the false→true transition, a queued
// navigation is flushed exactly once.
func (g *Guard) SetRouterReady(ready bool) {
	g.mu.Lock()
	wasReady := g.ready
	g.ready = ready

	var flush string
	if ready && !wasReady && g.hasPending {
		flush = g.pendingPath
		g.pendingPath = ""
		g.hasPending = false
	}
	g.mu.Unlock()

	if flush != "" {
		g.doNavigate(flush)
	}
	if ready && !wasReady {
		g.evaluate(g.store.CurrentState())
	}
}

// HandleRouteChange re-evaluates the policy for a freshly navigated path.
func (g *Guard) HandleRouteChange() {
	g.evaluate(g.store.CurrentState())
}

// Revalidate is the light re-check for app-foreground transitions. The full
// policy re-runs only when session data is unexpectedly absent.
func (g *Guard) Revalidate() {
	g.mu.Lock()
	done := g.initialCheckDone
	g.mu.Unlock()

	state := g.store.CurrentState()
	if !done || (state.User == nil && !state.IsLoading) {
		g.evaluate(state)
		return
	}

	// Session still present: nothing to do beyond an activity nudge.
	g.store.UpdateLastActivity()
}

// HandleDeepLink processes an externally opened URL. Callback URLs are parked
// in the one-shot intent slot and the guard navigates to the callback route;
// every other link is observed only.
func (g *Guard) HandleDeepLink(url string) {
	if !IsCallbackPath(url) {
		g.log.Debug().Str("url", url).Msg("deep link observed")
		return
	}

	g.callbackIntent.Set(url)
	g.navigate(RouteCallback)
}

// TakeCallbackIntent hands the parked callback URL to the callback screen.
// One-shot: a second call returns false.
func (g *Guard) TakeCallbackIntent() (string, bool) {
	return g.callbackIntent.Take()
}

// PendingPath returns the queued navigation, if any. Test/diagnostic surface.
func (g *Guard) PendingPath() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pendingPath, g.hasPending
}

// evaluate runs the redirect policy against the current path.
func (g *Guard) evaluate(state session.State) {
	if state.IsLoading {
		return
	}

	path := g.router.CurrentPath()
	target := RedirectTarget(state, path)

	g.mu.Lock()
	g.initialCheckDone = true
	g.mu.Unlock()

	if target == "" || target == normalize(path) {
		return
	}

	g.log.Info().Str("from", path).Str("to", target).Msg("guard redirect")
	g.navigate(target)
}

// RedirectTarget computes the redirect destination for a session state and
// current path, or "" when no redirect applies. Pure; the guard's policy in
// one place.
func RedirectTarget(state session.State, path string) string {
	if IsCallbackPath(path) {
		// The callback screen manages its own navigation.
		return ""
	}

	class := Classify(path)
	root := normalize(path) == RouteHome

	switch {
	case state.User != nil && state.Profile != nil:
		if root || class == RouteAuth {
			return LandingRoute(state.Profile.UserType)
		}

	case state.User != nil && state.Profile == nil:
		// Authenticated identity without a profile: finish onboarding first.
		if root || class == RouteAuth || class == RouteProtected {
			return RouteCompleteProfile
		}

	default:
		if class == RouteProtected {
			return RouteHome
		}
	}

	return ""
}

// navigate executes or queues a navigation depending on router readiness.
// The queue holds at most one path; the last write wins.
func (g *Guard) navigate(path string) {
	g.mu.Lock()
	if !g.ready {
		g.pendingPath = path
		g.hasPending = true
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	g.doNavigate(path)
}

func (g *Guard) doNavigate(path string) {
	if err := g.router.Navigate(path); err != nil {
		g.log.Warn().Err(err).Str("path", path).Msg("navigation failed")
	}
}
