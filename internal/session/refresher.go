package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ebridge/ebridge/internal/platform/metrics"
)

const refreshKey = "refresh"

// Refresh triggers, used as the metric label and for logging.
const (
	TriggerTimer   = "timer"
	TriggerRequest = "request"
	TriggerManual  = "manual"
)

// Refresher owns the two refresh paths of the session: the proactive one-shot
// timer that renews the session ahead of access-token expiry, and the
// reactive single-flight refresh the gateway goes through when a request is
// rejected with 401. Both paths share one guard, so at most one refresh
// network call is outstanding at any time regardless of who asked.
//
// Each Store owns its own Refresher; tests get isolation by constructing a
// fresh Store instead of resetting shared globals.
type Refresher struct {
	interval time.Duration
	lead     time.Duration
	refresh  func(context.Context) error
	expiry   func() time.Time
	log      zerolog.Logger

	group singleflight.Group

	mu    sync.Mutex
	timer *time.Timer
	armed bool
	// gen invalidates timers and re-arms that raced with Stop or a newer Arm.
	gen uint64
}

func newRefresher(interval, lead time.Duration, refresh func(context.Context) error, expiry func() time.Time, log zerolog.Logger) *Refresher {
	return &Refresher{
		interval: interval,
		lead:     lead,
		refresh:  refresh,
		expiry:   expiry,
		log:      log,
	}
}

// Arm schedules the next proactive refresh, replacing any pending timer.
// Called after a successful login or initialize, and after every successful
// refresh (one-shot self-scheduling: a failed refresh stops the chain
// without extra bookkeeping).
func (r *Refresher) Arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armLocked()
}

func (r *Refresher) armLocked() {
	r.gen++
	gen := r.gen
	if r.timer != nil {
		r.timer.Stop()
	}
	d := r.nextDelay()
	r.timer = time.AfterFunc(d, func() { r.fire(gen) })
	r.armed = true
	r.log.Debug().Dur("delay", d).Msg("proactive refresh armed")
}

// nextDelay is the configured interval, shortened when the access-token
// cookie exposes an earlier expiry so renewal lands ahead of it.
func (r *Refresher) nextDelay() time.Duration {
	d := r.interval
	exp := r.expiry()
	if exp.IsZero() {
		return d
	}
	until := time.Until(exp) - r.lead
	if until <= 0 {
		// Token is already inside the lead window; renew immediately-ish.
		return time.Second
	}
	if until < d {
		return until
	}
	return d
}

// Stop cancels the pending proactive refresh. Idempotent; called on logout
// and on session teardown. It does not cancel an in-flight refresh call;
// that is allowed to settle, but it will not re-arm afterward.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.armed = false
}

// Armed reports whether a proactive refresh is currently scheduled.
func (r *Refresher) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

func (r *Refresher) fire(gen uint64) {
	r.mu.Lock()
	stale := gen != r.gen
	r.mu.Unlock()
	if stale {
		return
	}
	if err := r.Refresh(context.Background(), TriggerTimer); err != nil {
		r.log.Warn().Err(err).Msg("scheduled session refresh failed")
	}
}

// Refresh performs a single-flight session refresh. Concurrent callers,
// whatever their trigger, share the one in-flight network call and observe
// its outcome. On success the proactive timer is re-armed (when it was
// armed and nothing stopped it meanwhile); on failure the chain stops.
func (r *Refresher) Refresh(ctx context.Context, trigger string) error {
	r.mu.Lock()
	startGen := r.gen
	r.mu.Unlock()

	ch := r.group.DoChan(refreshKey, func() (any, error) {
		// The refresh itself is detached from any single caller's context:
		// its outcome is shared by every waiter.
		return nil, r.refresh(context.Background())
	})

	var err error
	select {
	case res := <-ch:
		if res.Shared {
			metrics.RefreshDeduped.Inc()
		}
		err = res.Err
	case <-ctx.Done():
		return ctx.Err()
	}

	if err != nil {
		metrics.RefreshTotal.WithLabelValues(trigger, "failure").Inc()
		r.Stop()
		return err
	}

	metrics.RefreshTotal.WithLabelValues(trigger, "success").Inc()
	r.mu.Lock()
	if r.armed && r.gen == startGen {
		r.armLocked()
	}
	r.mu.Unlock()
	return nil
}
