// Package credstore provides access to externally managed auth
// material: cold extraction from on-disk auth files and refresh against
// the issuer's token endpoint.
package credstore

import (
	"context"
	"time"
)

// Material is the auth material yielded by extraction or refresh. The
// refresh secret may be absent when the issuer did not rotate it.
type Material struct {
	AccessToken   string
	RefreshSecret string
	ExpiresAt     time.Time
}

// Store exposes the two credential operations the token manager needs.
//
// Extract returns errors.ErrCredentialUnavailable when no material
// exists for the account. Refresh returns errors.ErrCredentialExpired
// when the issuer rejected the refresh secret itself, as opposed to a
// transient failure.
type Store interface {
	Extract(ctx context.Context, accountID string) (*Material, error)
	Refresh(ctx context.Context, refreshSecret string) (*Material, error)
}
