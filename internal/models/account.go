package models

import (
	"fmt"
	"time"
)

// Provider represents an external AI service.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderMistral   Provider = "mistral"
	ProviderOther     Provider = "other"
)

// SourceKind identifies one way of obtaining usage data for an account.
// Kinds are ordered per account from highest fidelity to lowest; the
// resolver consults them strictly in that order.
type SourceKind string

const (
	SourceSession    SourceKind = "session"
	SourceOAuth      SourceKind = "oauth"
	SourceLocalStats SourceKind = "localstats"
	SourceProbe      SourceKind = "probe"
)

// Account represents a configured external AI-service identity.
// Accounts are immutable after construction; live credential state is
// owned by the token manager, not the account.
type Account struct {
	ID             string       `json:"id"`
	DisplayName    string       `json:"display_name"`
	Provider       Provider     `json:"provider"`
	Tier           string       `json:"tier"`
	Sources        []SourceKind `json:"sources"`
	CredentialsRef string       `json:"credentials_ref"`
	// QuotaCeiling is the tier's absolute request ceiling, used to
	// convert percentage-only payloads into absolute counts.
	QuotaCeiling uint64    `json:"quota_ceiling"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks if the account is valid.
func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account ID is required")
	}
	if a.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if len(a.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	for _, s := range a.Sources {
		switch s {
		case SourceSession, SourceOAuth, SourceLocalStats, SourceProbe:
		default:
			return fmt.Errorf("unknown source kind: %s", s)
		}
	}
	if a.Sources[len(a.Sources)-1] != SourceProbe {
		return fmt.Errorf("last source must be the probe baseline")
	}
	return nil
}

// AccountSlice is a slice of accounts with helper methods.
type AccountSlice []Account

// FindByID returns an account by ID.
func (as AccountSlice) FindByID(id string) (*Account, bool) {
	for i := range as {
		if as[i].ID == id {
			return &as[i], true
		}
	}
	return nil, false
}

// IDs returns the IDs of all accounts in order.
func (as AccountSlice) IDs() []string {
	ids := make([]string, 0, len(as))
	for i := range as {
		ids = append(ids, as[i].ID)
	}
	return ids
}
