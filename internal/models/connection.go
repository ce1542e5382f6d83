package models

import (
	"fmt"
	"time"
)

// ConnectionStatus tracks whether a provider link can still mint tokens.
type ConnectionStatus string

const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionInvalid ConnectionStatus = "invalid"
)

// Connection holds a user's OAuth tokens for one provider.
//
// At most one Connection exists per (user, provider). Tokens are mutated
// only by the gateway during refresh or re-authorization, and ExpiresAt
// advances monotonically on each successful refresh.
type Connection struct {
	base
	UserID         string
	Provider       Provider
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	ProviderUserID string
	Status         ConnectionStatus
}

// NewConnection creates an active connection with fresh timestamps.
func NewConnection(sequence int, userID string, provider Provider) *Connection {
	return &Connection{
		base:     newBase(sequence),
		UserID:   userID,
		Provider: provider,
		Status:   ConnectionActive,
	}
}

// ApplyToken replaces the token material after a refresh or exchange.
// A refresh response without a rotated refresh token keeps the old one.
func (c *Connection) ApplyToken(accessToken, refreshToken string, expiresAt time.Time) {
	c.AccessToken = accessToken
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	if expiresAt.After(c.ExpiresAt) {
		c.ExpiresAt = expiresAt
	}
	c.Status = ConnectionActive
}

// Expired reports whether the access token is stale within the given skew.
func (c *Connection) Expired(now time.Time, skew time.Duration) bool {
	return !now.Before(c.ExpiresAt.Add(-skew))
}

func (c *Connection) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("connection requires a user id")
	}
	if _, err := ParseProvider(string(c.Provider)); err != nil {
		return fmt.Errorf("connection provider: %w", err)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("connection requires an access token")
	}
	if c.Status != ConnectionActive && c.Status != ConnectionInvalid {
		return fmt.Errorf("connection status %q is not valid", c.Status)
	}
	return nil
}
