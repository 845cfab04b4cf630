package session

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ebridge/ebridge/internal/platform/api"
	"github.com/ebridge/ebridge/internal/platform/metrics"
)

// Gateway makes authenticated calls resilient to access-token expiry.
// Callers never see a 401 caused by an expired access token: the gateway
// refreshes the session through the single-flight coordinator and retries
// the original request exactly once. Everything else propagates untouched.
type Gateway struct {
	store *Store
	log   zerolog.Logger
}

// Call issues the request. On a 401 it refreshes and retries once; a second
// failure of any kind is final. If the refresh itself fails, the session has
// already been torn down and the refresh error supersedes the original 401.
func (g *Gateway) Call(ctx context.Context, method, path string, body, out any) error {
	err := g.store.client.Do(ctx, method, path, body, out)
	if err == nil || !api.IsStatus(err, http.StatusUnauthorized) {
		return err
	}

	g.log.Debug().Str("method", method).Str("path", path).Msg("request rejected, refreshing session")
	if rerr := g.store.refresher.Refresh(ctx, TriggerRequest); rerr != nil {
		return rerr
	}

	metrics.GatewayRetries.Inc()
	return g.store.client.Do(ctx, method, path, body, out)
}
