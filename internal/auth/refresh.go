package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/credential"
	"github.com/stemsi/exstem-client/internal/model"
)

// Common auth errors.
var (
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	ErrRefreshFailed    = errors.New("auth: token refresh failed")
)

// RefreshFunc performs the actual POST /auth/refresh-tokens exchange.
// Injected by the API client so this package never issues HTTP itself.
type RefreshFunc func(ctx context.Context, refreshToken string) (*model.LoginResponse, error)

// pending is the future shared by every caller that joins an in-flight
// refresh. The first caller closes done after filling token/err.
type pending struct {
	done  chan struct{}
	token string
	err   error
}

// Coordinator guarantees at most one in-flight refresh. Concurrent callers
// that find a refresh running join it and all observe the same outcome,
// so parallel API calls discovering an expired token together cannot stampede
// the server with refresh requests that would revoke each other's tokens.
type Coordinator struct {
	creds   *credential.Store
	refresh RefreshFunc
	leeway  time.Duration
	log     zerolog.Logger

	mu       sync.Mutex
	inflight *pending
}

// NewCoordinator wires the coordinator to the credential store.
// leeway is how close to expiry a token is still considered usable;
// within that window GetValidToken refreshes proactively.
func NewCoordinator(creds *credential.Store, refresh RefreshFunc, leeway time.Duration, log zerolog.Logger) *Coordinator {
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	return &Coordinator{
		creds:   creds,
		refresh: refresh,
		leeway:  leeway,
		log:     log.With().Str("component", "refresh_coordinator").Logger(),
	}
}

// GetValidToken returns the stored access token, refreshing it first when
// it is expired or inside the leeway window.
func (c *Coordinator) GetValidToken(ctx context.Context) (string, error) {
	token, expires, ok := c.creds.AccessToken()
	if !ok {
		return "", ErrNotAuthenticated
	}
	if expires.IsZero() || time.Until(expires) > c.leeway {
		return token, nil
	}
	return c.ForceRefresh(ctx)
}

// ForceRefresh rotates the token pair regardless of expiry. Used by the
// HTTP client after a 401, where the server has already rejected the token
// the store considers fresh.
func (c *Coordinator) ForceRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if p := c.inflight; p != nil {
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.token, p.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	p := &pending{done: make(chan struct{})}
	c.inflight = p
	c.mu.Unlock()

	// Detached from the leader's context: a canceled leader must not fail
	// the waiters sharing this refresh.
	p.token, p.err = c.doRefresh(context.WithoutCancel(ctx))
	close(p.done)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()

	return p.token, p.err
}

func (c *Coordinator) doRefresh(ctx context.Context) (string, error) {
	refreshToken := c.creds.RefreshToken()
	if refreshToken == "" {
		c.creds.Clear(ctx)
		return "", ErrNotAuthenticated
	}

	c.log.Debug().Msg("Refreshing tokens")
	resp, err := c.refresh(ctx, refreshToken)
	if err != nil {
		// A rejected refresh token is terminal: wipe the session so the
		// caller is forced back to login.
		c.log.Warn().Err(err).Msg("Refresh rejected, clearing credentials")
		c.creds.Clear(ctx)
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	if resp.User != nil {
		if err := c.creds.SetSession(ctx, resp.User, resp.Tokens); err != nil {
			c.log.Warn().Err(err).Msg("Failed to persist refreshed session")
		}
	} else {
		if err := c.creds.SetTokens(ctx, resp.Tokens); err != nil {
			c.log.Warn().Err(err).Msg("Failed to persist refreshed tokens")
		}
	}
	return resp.Tokens.Access.Token, nil
}
