// Package gateway normalizes the two provider catalogs behind one
// capability surface and owns token custody, rate limiting, and backoff.
//
// Every authenticated catalog call goes through three layers here:
// EnsureValidToken (refresh under a per-connection lock), a per-provider
// [rate.Limiter] budget, and the retry policy in retry.go. Provider
// failures come back scoped to one provider so synthesis can degrade
// instead of aborting.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/services"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// expirySkew is subtracted from a token's deadline so a request never
// departs on a token about to lapse mid-flight.
const expirySkew = 60 * time.Second

// TopCategory selects which personalization ranking FetchTop pulls.
type TopCategory string

const (
	TopArtists TopCategory = "artists"
	TopTracks  TopCategory = "tracks"
)

// TopResult carries whichever ranking FetchTop was asked for.
type TopResult struct {
	Artists []models.ArtistRef
	Tracks  []models.Track
}

// ConnectionStore is the slice of persistence the gateway needs.
// Implemented by repositories.ConnectionRepository.
type ConnectionStore interface {
	GetByUserProvider(userID string, provider models.Provider) (*models.Connection, error)
	Upsert(conn *models.Connection) error
	Update(conn *models.Connection) error
	ListActive(userID string) ([]*models.Connection, error)
}

// Opts configures a Gateway.
type Opts struct {
	Providers   []services.Provider
	Connections ConnectionStore
	Logger      *log.Logger
	RateLimit   float64       // requests per second per provider
	CallTimeout time.Duration // per attempt; 5s when zero
	MaxAttempts int
	BaseBackoff time.Duration
}

// Gateway fronts both provider clients with token custody and budgets.
type Gateway struct {
	providers map[models.Provider]services.Provider
	conns     ConnectionStore
	limiters  map[models.Provider]*rate.Limiter
	logger    *log.Logger

	callTimeout time.Duration
	maxAttempts int
	baseBackoff time.Duration

	// refreshLocks serializes token refreshes per (user, provider) so only
	// one refresh call is ever in flight for a connection.
	refreshLocks map[string]*sync.Mutex
	locksMu      sync.Mutex
}

// New creates a Gateway over the given provider clients.
func New(opts Opts) *Gateway {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}

	providers := make(map[models.Provider]services.Provider, len(opts.Providers))
	limiters := make(map[models.Provider]*rate.Limiter, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p.Name()] = p
		limiters[p.Name()] = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Gateway{
		providers:    providers,
		conns:        opts.Connections,
		limiters:     limiters,
		logger:       opts.Logger,
		callTimeout:  opts.CallTimeout,
		maxAttempts:  opts.MaxAttempts,
		baseBackoff:  opts.BaseBackoff,
		refreshLocks: make(map[string]*sync.Mutex),
	}
}

// Provider returns the client for a provider tag.
func (g *Gateway) Provider(p models.Provider) (services.Provider, error) {
	svc, ok := g.providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrProviderUnknown, p)
	}
	return svc, nil
}

// Connections lists a user's active connections.
func (g *Gateway) Connections(ctx context.Context, userID string) ([]*models.Connection, error) {
	return g.conns.ListActive(userID)
}

// Link exchanges an authorization code, resolves the provider-side user ID,
// and persists the connection, replacing any previous link for the pair.
func (g *Gateway) Link(ctx context.Context, userID string, provider models.Provider, code string) (*models.Connection, error) {
	svc, err := g.Provider(provider)
	if err != nil {
		return nil, err
	}

	token, err := svc.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	providerUserID, err := svc.Me(ctx, token.AccessToken)
	if err != nil {
		g.logger.Warn("could not resolve provider user id", "provider", provider, "err", err)
	}

	conn := models.NewConnection(0, userID, provider)
	conn.SetID(shared.GenerateID())
	conn.ApplyToken(token.AccessToken, token.RefreshToken, token.Expiry)
	conn.ProviderUserID = providerUserID

	if err := g.conns.Upsert(conn); err != nil {
		return nil, fmt.Errorf("failed to persist connection: %w", err)
	}

	return conn, nil
}

// EnsureValidToken returns a usable access token for the connection,
// refreshing first when the current one is inside the expiry skew.
//
// Concurrent callers needing a refresh for the same connection serialize on
// a per-connection lock; exactly one refresh HTTP call happens and every
// caller observes the refreshed token. The new token is persisted before
// any caller proceeds. A permanent refresh rejection marks the connection
// invalid and returns ErrReauthRequired.
func (g *Gateway) EnsureValidToken(ctx context.Context, conn *models.Connection) (string, error) {
	if conn.Status == models.ConnectionInvalid {
		return "", fmt.Errorf("%w: %s/%s", shared.ErrReauthRequired, conn.UserID, conn.Provider)
	}

	now := time.Now()
	if !conn.Expired(now, expirySkew) {
		return conn.AccessToken, nil
	}

	lock := g.lockFor(conn.UserID, conn.Provider)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have finished the refresh while we waited.
	fresh, err := g.conns.GetByUserProvider(conn.UserID, conn.Provider)
	if err == nil && fresh != nil {
		*conn = *fresh
	}
	if conn.Status == models.ConnectionInvalid {
		return "", fmt.Errorf("%w: %s/%s", shared.ErrReauthRequired, conn.UserID, conn.Provider)
	}
	if !conn.Expired(time.Now(), expirySkew) {
		return conn.AccessToken, nil
	}

	return g.refreshLocked(ctx, conn)
}

// ForceRefresh refreshes a connection's token regardless of expiry.
// Idempotent: repeated calls simply mint further tokens.
func (g *Gateway) ForceRefresh(ctx context.Context, userID string, provider models.Provider) (*models.Connection, error) {
	conn, err := g.conns.GetByUserProvider(userID, provider)
	if err != nil {
		return nil, err
	}
	if conn.Status == models.ConnectionInvalid {
		return nil, fmt.Errorf("%w: %s/%s", shared.ErrReauthRequired, userID, provider)
	}

	lock := g.lockFor(userID, provider)
	lock.Lock()
	defer lock.Unlock()

	if _, err := g.refreshLocked(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// refreshLocked performs the refresh call and persists the result. The
// caller must hold the connection's refresh lock.
func (g *Gateway) refreshLocked(ctx context.Context, conn *models.Connection) (string, error) {
	svc, err := g.Provider(conn.Provider)
	if err != nil {
		return "", err
	}

	token, err := svc.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		if isInvalidGrant(err) {
			conn.Status = models.ConnectionInvalid
			if persistErr := g.conns.Update(conn); persistErr != nil {
				g.logger.Error("failed to mark connection invalid", "err", persistErr)
			}
			return "", fmt.Errorf("%w: %s/%s", shared.ErrReauthRequired, conn.UserID, conn.Provider)
		}
		return "", fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}

	conn.ApplyToken(token.AccessToken, token.RefreshToken, token.Expiry)

	// Persist before the triggering request proceeds so no request departs
	// on a token the provider is about to revoke.
	if err := g.conns.Update(conn); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	g.logger.Debug("token refreshed", "user", conn.UserID, "provider", conn.Provider, "expires", conn.ExpiresAt)
	return conn.AccessToken, nil
}

// FetchTop pulls the user's top artists or tracks from one provider.
func (g *Gateway) FetchTop(ctx context.Context, userID string, provider models.Provider, category TopCategory, limit int) (*TopResult, error) {
	svc, conn, err := g.authed(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	result := &TopResult{}
	err = g.call(ctx, conn, func(ctx context.Context, token string) error {
		var callErr error
		switch category {
		case TopArtists:
			result.Artists, callErr = svc.TopArtists(ctx, token, limit)
		case TopTracks:
			result.Tracks, callErr = svc.TopTracks(ctx, token, limit)
		default:
			return fmt.Errorf("%w: top category %q", shared.ErrInvalidArgument, category)
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AudioFeatures pulls feature vectors for tracks from one provider.
func (g *Gateway) AudioFeatures(ctx context.Context, userID string, provider models.Provider, trackIDs []string) (map[string]models.AudioFeatures, error) {
	svc, conn, err := g.authed(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	var features map[string]models.AudioFeatures
	err = g.call(ctx, conn, func(ctx context.Context, token string) error {
		var callErr error
		features, callErr = svc.AudioFeatures(ctx, token, trackIDs)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return features, nil
}

// Search runs a catalog search for the user on one provider.
func (g *Gateway) Search(ctx context.Context, userID string, provider models.Provider, query string, limit int) ([]models.Track, error) {
	svc, conn, err := g.authed(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	var tracks []models.Track
	err = g.call(ctx, conn, func(ctx context.Context, token string) error {
		var callErr error
		tracks, callErr = svc.Search(ctx, token, query, limit)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return tracks, nil
}

// CreatePlaylist exports a playlist to one provider and returns its
// provider-side ID.
func (g *Gateway) CreatePlaylist(ctx context.Context, userID string, provider models.Provider, name, description string, trackURIs []string) (string, error) {
	svc, conn, err := g.authed(ctx, userID, provider)
	if err != nil {
		return "", err
	}

	var externalID string
	err = g.call(ctx, conn, func(ctx context.Context, token string) error {
		var callErr error
		externalID, callErr = svc.CreatePlaylist(ctx, token, name, description, trackURIs)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return externalID, nil
}

// authed resolves the provider client and the user's connection.
func (g *Gateway) authed(ctx context.Context, userID string, provider models.Provider) (services.Provider, *models.Connection, error) {
	svc, err := g.Provider(provider)
	if err != nil {
		return nil, nil, err
	}

	conn, err := g.conns.GetByUserProvider(userID, provider)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s/%s", shared.ErrConnectionNotFound, userID, provider)
	}

	return svc, conn, nil
}

// call runs one authenticated catalog request under the provider's rate
// budget and the retry policy. A 401 mid-call triggers a single forced
// refresh before the attempt is surfaced.
func (g *Gateway) call(ctx context.Context, conn *models.Connection, fn func(ctx context.Context, token string) error) error {
	limiter := g.limiters[conn.Provider]

	return g.doWithRetry(ctx, string(conn.Provider), func(ctx context.Context) error {
		token, err := g.EnsureValidToken(ctx, conn)
		if err != nil {
			return err
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err = fn(ctx, token)
		if err == nil {
			return nil
		}

		var statusErr *services.StatusError
		if errors.As(err, &statusErr) && statusErr.Unauthorized() {
			// Token was revoked under us; refresh once and retry the call.
			lock := g.lockFor(conn.UserID, conn.Provider)
			lock.Lock()
			token, refreshErr := g.refreshLocked(ctx, conn)
			lock.Unlock()
			if refreshErr != nil {
				return refreshErr
			}
			return fn(ctx, token)
		}

		return err
	})
}

func (g *Gateway) lockFor(userID string, provider models.Provider) *sync.Mutex {
	key := userID + "|" + string(provider)

	g.locksMu.Lock()
	defer g.locksMu.Unlock()

	lock, ok := g.refreshLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		g.refreshLocks[key] = lock
	}
	return lock
}

// isInvalidGrant detects a permanent refresh rejection: either an OAuth
// invalid_grant response or an unauthorized status from the token endpoint.
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return true
		}
		if retrieveErr.Response != nil {
			code := retrieveErr.Response.StatusCode
			return code == http.StatusBadRequest || code == http.StatusUnauthorized
		}
	}
	return errors.Is(err, shared.ErrNoRefreshToken)
}
