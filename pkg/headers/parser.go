// Package headers provides parsing of AI provider response headers
// into rate-limit windows.
package headers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/usagedeck/usagedeck/internal/models"
)

// Parser defines the interface for parsing provider-specific headers
type Parser interface {
	// Parse extracts the rate-limit window from HTTP response headers
	Parse(headers http.Header) (*models.RateLimitWindow, error)
	// Provider returns the provider name this parser handles
	Provider() models.Provider
}

// OpenAIParser parses OpenAI response headers
type OpenAIParser struct{}

// Provider returns the provider name
func (p *OpenAIParser) Provider() models.Provider {
	return models.ProviderOpenAI
}

// Parse extracts the rate-limit window from OpenAI response headers
func (p *OpenAIParser) Parse(headers http.Header) (*models.RateLimitWindow, error) {
	// x-ratelimit-limit-requests: 10000
	// x-ratelimit-remaining-requests: 9999
	// x-ratelimit-reset-requests: 12s

	limit := parseUintHeader(headers, "X-Ratelimit-Limit-Requests")
	if limit == 0 {
		return nil, fmt.Errorf("no rate limit headers found")
	}
	remaining := parseUintHeader(headers, "X-Ratelimit-Remaining-Requests")
	if remaining > limit {
		remaining = limit
	}

	window := &models.RateLimitWindow{
		Limit:     limit,
		Remaining: remaining,
	}
	if reset := parseResetHeader(headers.Get("X-Ratelimit-Reset-Requests")); reset > 0 {
		window.ResetAt = time.Now().Add(reset)
	}
	return window, nil
}

// AnthropicParser parses Anthropic response headers
type AnthropicParser struct{}

// Provider returns the provider name
func (p *AnthropicParser) Provider() models.Provider {
	return models.ProviderAnthropic
}

// Parse extracts the rate-limit window from Anthropic response headers
func (p *AnthropicParser) Parse(headers http.Header) (*models.RateLimitWindow, error) {
	// anthropic-ratelimit-requests-limit: 1000
	// anthropic-ratelimit-requests-remaining: 999
	// anthropic-ratelimit-requests-reset: 2026-01-01T00:00:00Z

	limit := parseUintHeader(headers, "Anthropic-Ratelimit-Requests-Limit")
	if limit == 0 {
		return nil, fmt.Errorf("no rate limit headers found")
	}
	remaining := parseUintHeader(headers, "Anthropic-Ratelimit-Requests-Remaining")
	if remaining > limit {
		remaining = limit
	}

	window := &models.RateLimitWindow{
		Limit:     limit,
		Remaining: remaining,
	}
	if raw := headers.Get("Anthropic-Ratelimit-Requests-Reset"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			window.ResetAt = ts
		}
	}
	return window, nil
}

// Registry manages parsers for different providers
type Registry struct {
	parsers map[models.Provider]Parser
}

// NewRegistry creates a new parser registry with default parsers
func NewRegistry() *Registry {
	r := &Registry{
		parsers: make(map[models.Provider]Parser),
	}

	r.Register(&OpenAIParser{})
	r.Register(&AnthropicParser{})

	return r
}

// Register adds a parser to the registry
func (r *Registry) Register(parser Parser) {
	r.parsers[parser.Provider()] = parser
}

// Get retrieves a parser for the given provider
func (r *Registry) Get(provider models.Provider) (Parser, bool) {
	parser, ok := r.parsers[provider]
	return parser, ok
}

// Parse attempts to parse headers using the appropriate provider
// parser. Providers without a registered parser yield no window, not an
// error.
func (r *Registry) Parse(provider models.Provider, headers http.Header) (*models.RateLimitWindow, error) {
	parser, ok := r.Get(provider)
	if !ok {
		return nil, nil
	}
	window, err := parser.Parse(headers)
	if err != nil {
		return nil, nil
	}
	return window, err
}

// Helper functions

func parseUintHeader(headers http.Header, key string) uint64 {
	val := headers.Get(key)
	if val == "" {
		return 0
	}

	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseResetHeader handles duration-style reset values like "0s",
// "6m0s" or a bare seconds count.
func parseResetHeader(val string) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
