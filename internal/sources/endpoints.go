package sources

import "github.com/usagedeck/usagedeck/internal/models"

// Endpoints holds the URLs and paths one account's sources talk to.
// Empty fields fall back to the provider's well-known defaults.
type Endpoints struct {
	SessionURL string
	UsageURL   string
	ProbeURL   string
	StatsPath  string
}

// EndpointMap resolves per-account endpoint overrides, keyed by
// account ID.
type EndpointMap map[string]Endpoints

var providerDefaults = map[models.Provider]Endpoints{
	models.ProviderOpenAI: {
		SessionURL: "https://chatgpt.com/api/auth/session",
		UsageURL:   "https://chatgpt.com/backend-api/wham/usage",
		ProbeURL:   "https://api.openai.com/v1/models",
	},
	models.ProviderAnthropic: {
		SessionURL: "https://claude.ai/api/auth/session",
		UsageURL:   "https://api.anthropic.com/api/oauth/usage",
		ProbeURL:   "https://api.anthropic.com/v1/models",
	},
	models.ProviderGemini: {
		ProbeURL: "https://generativelanguage.googleapis.com/v1beta/models",
	},
}

// For merges the account's overrides over its provider defaults.
func (m EndpointMap) For(account *models.Account) Endpoints {
	resolved := providerDefaults[account.Provider]
	override, ok := m[account.ID]
	if !ok {
		return resolved
	}
	if override.SessionURL != "" {
		resolved.SessionURL = override.SessionURL
	}
	if override.UsageURL != "" {
		resolved.UsageURL = override.UsageURL
	}
	if override.ProbeURL != "" {
		resolved.ProbeURL = override.ProbeURL
	}
	if override.StatsPath != "" {
		resolved.StatsPath = override.StatsPath
	}
	return resolved
}
