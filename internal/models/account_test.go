package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountValidate(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		wantErr string
	}{
		{
			name: "valid",
			account: Account{
				ID:       "acme",
				Provider: ProviderAnthropic,
				Sources:  []SourceKind{SourceSession, SourceLocalStats, SourceProbe},
			},
		},
		{
			name:    "missing id",
			account: Account{Provider: ProviderOpenAI, Sources: []SourceKind{SourceProbe}},
			wantErr: "account ID is required",
		},
		{
			name:    "missing provider",
			account: Account{ID: "acme", Sources: []SourceKind{SourceProbe}},
			wantErr: "provider is required",
		},
		{
			name:    "no sources",
			account: Account{ID: "acme", Provider: ProviderOpenAI},
			wantErr: "at least one source",
		},
		{
			name:    "unknown source",
			account: Account{ID: "acme", Provider: ProviderOpenAI, Sources: []SourceKind{"telepathy", SourceProbe}},
			wantErr: "unknown source kind",
		},
		{
			name:    "probe not last",
			account: Account{ID: "acme", Provider: ProviderOpenAI, Sources: []SourceKind{SourceProbe, SourceOAuth}},
			wantErr: "last source must be the probe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestAccountSliceFindByID(t *testing.T) {
	accounts := AccountSlice{
		{ID: "a"},
		{ID: "b"},
	}

	acc, ok := accounts.FindByID("b")
	require.True(t, ok)
	assert.Equal(t, "b", acc.ID)

	_, ok = accounts.FindByID("missing")
	assert.False(t, ok)
}

func TestCredentialStateValid(t *testing.T) {
	now := time.Now()
	buffer := 5 * time.Minute

	var nilState *CredentialState
	assert.False(t, nilState.Valid(now, buffer))

	state := &CredentialState{AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}
	assert.True(t, state.Valid(now, buffer))

	// Inside the refresh buffer the token counts as expiring.
	state = &CredentialState{AccessToken: "tok", ExpiresAt: now.Add(2 * time.Minute)}
	assert.False(t, state.Valid(now, buffer))

	state = &CredentialState{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, state.Valid(now, buffer))
}

func TestMonitoringConfig(t *testing.T) {
	mc := NewMonitoringConfig(true, nil)
	assert.True(t, mc.Enabled())
	assert.True(t, mc.Allows("anyone"))

	mc.SetEnabled(false)
	assert.False(t, mc.Enabled())

	mc.Allow("acme")
	assert.True(t, mc.Allows("acme"))
	assert.False(t, mc.Allows("other"))

	mc.Disallow("acme")
	// Empty allow-list reverts to allow-all.
	assert.True(t, mc.Allows("other"))

	mc = NewMonitoringConfig(true, []string{"a", "b"})
	assert.True(t, mc.Allows("a"))
	assert.False(t, mc.Allows("c"))
	assert.ElementsMatch(t, []string{"a", "b"}, mc.AllowedIDs())
}
