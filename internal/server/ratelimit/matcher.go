package ratelimit

import (
	"net/http"
	"strings"
)

// unlimited is the limit applied to liveness checks.
var unlimited = EndpointConfig{}

// MatchEndpoint returns the limit tier for a request, or nil when the default
// limit applies. An exact path wins; otherwise the longest configured prefix
// ending in "/" wins, so "/services/enrich/" covers "/services/enrich/phone".
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if path == "/health" && method == http.MethodGet {
		tier := unlimited
		return &tier
	}

	var best *EndpointConfig
	for i := range configs {
		c := &configs[i]
		if c.Method != method {
			continue
		}
		if c.Path == path {
			return c
		}
		if strings.HasSuffix(c.Path, "/") && strings.HasPrefix(path, c.Path) {
			if best == nil || len(c.Path) > len(best.Path) {
				best = c
			}
		}
	}
	return best
}
