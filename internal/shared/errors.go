package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Token custody errors
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrNoRefreshToken   = fmt.Errorf("no refresh token available")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")

	// ErrReauthRequired means a token refresh permanently failed and the user
	// must re-link the provider. Never retried automatically.
	ErrReauthRequired = fmt.Errorf("connection requires re-authorization")

	// Provider and connection errors
	ErrProviderUnavailable = fmt.Errorf("provider unavailable")
	ErrProviderUnknown     = fmt.Errorf("unknown provider")
	ErrFeatureUnsupported  = fmt.Errorf("audio features unsupported")
	ErrConnectionNotFound  = fmt.Errorf("connection not found")

	// Synthesis errors. ErrIntentUnparseable is recovered with a default
	// intent before it reaches a caller; ErrSynthesisExhausted surfaces as
	// playlist metadata (shortfall) unless zero candidates resolved at all.
	ErrIntentUnparseable  = fmt.Errorf("intent unparseable")
	ErrSynthesisExhausted = fmt.Errorf("synthesis exhausted")

	// Record errors
	ErrProfileNotFound      = fmt.Errorf("profile not found")
	ErrPlaylistNotFound     = fmt.Errorf("playlist not found")
	ErrConversationNotFound = fmt.Errorf("conversation not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
