// Package eligibility talks to the insurance validator endpoints of the
// e-Bridge backend. Every call goes through the session gateway, so an
// expired session is refreshed and retried transparently.
package eligibility

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"github.com/ebridge/ebridge/internal/session"
	"github.com/ebridge/ebridge/pkg/models"
)

// DefaultCacheTTL bounds how long an eligibility answer is served from
// memory. Coverage can be revoked server-side at any time, so answers are
// deliberately short-lived.
const DefaultCacheTTL = 5 * time.Minute

// Validator checks member eligibility and requests procedure
// authorizations. Eligibility answers are cached per member code;
// authorizations are never cached.
type Validator struct {
	gateway *session.Gateway
	cache   *ttlcache.Cache[string, *models.Eligibility]
	log     zerolog.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*validatorConfig)

type validatorConfig struct {
	ttl time.Duration
	log zerolog.Logger
}

// WithCacheTTL overrides the eligibility cache TTL.
func WithCacheTTL(d time.Duration) ValidatorOption {
	return func(c *validatorConfig) { c.ttl = d }
}

// WithValidatorLogger sets the validator's logger.
func WithValidatorLogger(log zerolog.Logger) ValidatorOption {
	return func(c *validatorConfig) { c.log = log }
}

// NewValidator creates a validator client on top of the session gateway.
func NewValidator(gw *session.Gateway, opts ...ValidatorOption) *Validator {
	cfg := &validatorConfig{
		ttl: DefaultCacheTTL,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, *models.Eligibility](cfg.ttl),
		ttlcache.WithDisableTouchOnHit[string, *models.Eligibility](),
	)
	go cache.Start()

	return &Validator{
		gateway: gw,
		cache:   cache,
		log:     cfg.log,
	}
}

// Close stops the cache's expiration loop.
func (v *Validator) Close() {
	v.cache.Stop()
}

// Check returns the member's eligibility, served from cache when a fresh
// answer exists.
func (v *Validator) Check(ctx context.Context, memberCode string) (*models.Eligibility, error) {
	if memberCode == "" {
		return nil, fmt.Errorf("member code is required")
	}

	if item := v.cache.Get(memberCode); item != nil {
		v.log.Debug().Str("member", memberCode).Msg("eligibility served from cache")
		return item.Value(), nil
	}

	var elig models.Eligibility
	path := "/validator/eligibility/" + url.PathEscape(memberCode)
	if err := v.gateway.Call(ctx, http.MethodGet, path, nil, &elig); err != nil {
		return nil, fmt.Errorf("check eligibility for %s: %w", memberCode, err)
	}

	v.cache.Set(memberCode, &elig, ttlcache.DefaultTTL)
	return &elig, nil
}

// Authorize submits a procedure authorization request. The member's cached
// eligibility is invalidated so the next check reflects the new
// authorization state.
func (v *Validator) Authorize(ctx context.Context, req models.AuthorizationRequest) (*models.Authorization, error) {
	if req.MemberCode == "" || req.ProcedureCode == "" {
		return nil, fmt.Errorf("member code and procedure code are required")
	}

	var auth models.Authorization
	if err := v.gateway.Call(ctx, http.MethodPost, "/validator/authorizations", req, &auth); err != nil {
		return nil, fmt.Errorf("authorize %s for %s: %w", req.ProcedureCode, req.MemberCode, err)
	}

	v.InvalidateMember(req.MemberCode)
	v.log.Info().
		Str("member", req.MemberCode).
		Str("procedure", req.ProcedureCode).
		Bool("approved", auth.Approved).
		Msg("authorization decided")
	return &auth, nil
}

// InvalidateMember drops the cached eligibility for a member, if any.
func (v *Validator) InvalidateMember(memberCode string) {
	v.cache.Delete(memberCode)
}
