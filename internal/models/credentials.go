package models

import "time"

// CredentialState holds the live auth material for one account. It is
// owned exclusively by the token manager; token and expiry are always
// replaced together, never updated piecewise.
type CredentialState struct {
	AccessToken   string    `json:"access_token"`
	ExpiresAt     time.Time `json:"expires_at"`
	RefreshSecret string    `json:"refresh_secret,omitempty"`
}

// Valid reports whether the access token is usable at the given
// instant, honoring the proactive refresh buffer.
func (c *CredentialState) Valid(now time.Time, refreshBuffer time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return now.Before(c.ExpiresAt.Add(-refreshBuffer))
}
