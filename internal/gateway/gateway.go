// Package gateway wraps outbound authenticated calls: it attaches the
// current access token and recovers from a single expired-token rejection
// with a coordinated, single-flight credential refresh.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/mjuhola/sessionguard/internal/api"
	"github.com/mjuhola/sessionguard/internal/broadcast"
)

// RefreshFailedError means the refresh call itself was rejected by the
// backend, or its result could no longer be applied. It is terminal for the
// session: credentials are cleared and the caller must route to an
// unauthenticated view.
type RefreshFailedError struct {
	Err error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("credential refresh failed: %v", e.Err)
}

func (e *RefreshFailedError) Unwrap() error { return e.Err }

// Credentials is the slice of the credential vault the gateway depends on.
// The gateway never holds a token across calls; it reads and writes through
// this interface so the vault stays the single writer.
type Credentials interface {
	AccessToken() (string, bool)
	RefreshToken() (string, bool)
	Epoch() uint64
	ApplyRefresh(ctx context.Context, epoch uint64, pair api.TokenPair) error
	ClearIfEpoch(ctx context.Context, epoch uint64) error
}

// Backend is the slice of the API client the gateway needs.
type Backend interface {
	Do(ctx context.Context, method, path, accessToken string, body, result any) error
	Refresh(ctx context.Context, refreshToken string) (*api.AuthResponse, error)
}

// Gateway coordinates bearer attachment and the refresh-then-retry cycle.
// Concurrent 401 failures share one refresh call through the single-flight
// group; every waiter resumes only after the refresh outcome has been
// applied to the vault and broadcast.
type Gateway struct {
	backend Backend
	creds   Credentials
	bus     *broadcast.Bus
	refresh singleflight.Group
}

func New(backend Backend, creds Credentials, bus *broadcast.Bus) *Gateway {
	return &Gateway{
		backend: backend,
		creds:   creds,
		bus:     bus,
	}
}

// Do sends an authenticated request. On a 401 it refreshes the credentials
// (sharing the refresh with any other failing request) and retries the
// original request exactly once with the new access token. The retry cannot
// trigger another refresh cycle.
//
// Failures other than a 401 pass through unmodified: no retry, no refresh,
// no credential mutation.
func (g *Gateway) Do(ctx context.Context, method, path string, body, result any) error {
	epoch := g.creds.Epoch()
	access, _ := g.creds.AccessToken()

	err := g.backend.Do(ctx, method, path, access, body, result)
	if !api.IsUnauthorized(err) {
		return err
	}

	pair, refreshErr := g.refreshCredentials(ctx, epoch)
	if refreshErr != nil {
		return refreshErr
	}

	// One retry with the refreshed token. A second 401 surfaces as-is.
	return g.backend.Do(ctx, method, path, pair.AccessToken, body, result)
}

// Ping issues the authenticated heartbeat used to extend a session. It goes
// through Do, so a near-expired token gets refreshed along the way.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.Do(ctx, http.MethodPost, "/api/auth/ping", nil, nil)
}

// refreshCredentials performs the single-flight refresh. Concurrent callers
// observe the outcome of the one in-flight refresh instead of issuing their
// own. The epoch pins the refresh to the session that triggered it; a
// logout in between makes the result dead.
func (g *Gateway) refreshCredentials(ctx context.Context, epoch uint64) (api.TokenPair, error) {
	v, err, shared := g.refresh.Do("refresh", func() (any, error) {
		return g.doRefresh(ctx)
	})
	if err != nil {
		return api.TokenPair{}, err
	}
	if shared {
		log.Debug().Msg("joined in-flight credential refresh")
	}

	pair := v.(api.TokenPair)

	// The shared flight may have started under an older epoch; what matters
	// is that the session that issued our original request is still alive.
	if g.creds.Epoch() != epoch {
		return api.TokenPair{}, &RefreshFailedError{Err: ErrSessionTornDown}
	}
	return pair, nil
}

// ErrSessionTornDown marks a refresh outcome that arrived after the owning
// session was ended (for example an explicit logout during the refresh).
var ErrSessionTornDown = errors.New("session torn down during refresh")

func (g *Gateway) doRefresh(ctx context.Context) (api.TokenPair, error) {
	epoch := g.creds.Epoch()

	refreshToken, ok := g.creds.RefreshToken()
	if !ok {
		return api.TokenPair{}, &RefreshFailedError{Err: errors.New("no refresh token")}
	}

	log.Info().Msg("access token rejected, refreshing credentials")

	resp, err := g.backend.Refresh(ctx, refreshToken)
	if err != nil {
		// A transport failure says nothing about the refresh token itself.
		// Keep the credentials so a later request can try again.
		var netErr *api.NetworkError
		if errors.As(err, &netErr) {
			log.Warn().Err(err).Msg("credential refresh unreachable, keeping credentials")
			return api.TokenPair{}, err
		}

		// The backend rejected the refresh token: terminal for the session.
		log.Warn().Err(err).Msg("credential refresh rejected, clearing credentials")
		if clearErr := g.creds.ClearIfEpoch(ctx, epoch); clearErr != nil {
			log.Error().Err(clearErr).Msg("failed to clear credentials after refresh rejection")
		}
		g.bus.Publish(broadcast.Update{})
		return api.TokenPair{}, &RefreshFailedError{Err: err}
	}

	pair := resp.Pair()
	if err := g.creds.ApplyRefresh(ctx, epoch, pair); err != nil {
		// Logout won the race; the session this refresh belonged to is gone.
		return api.TokenPair{}, &RefreshFailedError{Err: err}
	}

	g.bus.Publish(broadcast.Update{Pair: &pair})
	log.Info().Msg("credentials refreshed")

	return pair, nil
}
