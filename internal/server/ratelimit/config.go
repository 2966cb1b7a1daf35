package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/minionlabs/minion-api/internal/config"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// FromConfig builds the limiter configuration from the service settings.
func FromConfig(c config.RateLimitConfig) *Config {
	if !c.Enabled {
		return &Config{Enabled: false}
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    c.DefaultLimit,
		DefaultWindow:   c.DefaultWindow,
		CleanupInterval: c.CleanupInterval,
		Whitelist:       IPSet(c.Whitelist),
		Blacklist:       IPSet(c.Blacklist),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Tier 1: credit-spending operations (strictest limits)
		{Path: "/services/executeFileJsonInput", Method: http.MethodPost, Limit: 60, Window: time.Hour, Burst: 10},
		{Path: "/v1/executeFileJsonInput", Method: http.MethodPost, Limit: 60, Window: time.Hour, Burst: 10},
		{Path: "/services/enrich/", Method: http.MethodPost, Limit: 30, Window: time.Hour, Burst: 5},

		// Tier 2: credential endpoints
		{Path: "/user/register", Method: http.MethodPost, Limit: 20, Window: time.Minute, Burst: 5},
		{Path: "/user/login", Method: http.MethodPost, Limit: 20, Window: time.Minute, Burst: 5},
		{Path: "/admin/login", Method: http.MethodPost, Limit: 10, Window: time.Minute, Burst: 3},
		{Path: "/user/generateAPIkey", Method: http.MethodPost, Limit: 10, Window: time.Minute, Burst: 3},

		// Tier 3: status polling
		{Path: "/services/checkStatus", Method: http.MethodPost, Limit: 120, Window: time.Minute, Burst: 20},
		{Path: "/v1/checkStatus", Method: http.MethodPost, Limit: 120, Window: time.Minute, Burst: 20},

		// Tier 4: reads use the default limit
		// Tier 5: GET /health is unlimited, see MatchEndpoint
	}
}

// IPSet converts a list of addresses into a lookup set, dropping blanks.
func IPSet(list []string) map[string]bool {
	result := make(map[string]bool, len(list))
	for _, ip := range list {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			result[ip] = true
		}
	}
	return result
}
