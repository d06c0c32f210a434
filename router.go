package storefront

import "strings"

// Strategy is the serving policy chosen for a request.
type Strategy string

const (
	StrategyBypass                 Strategy = "bypass"
	StrategyCacheFirst             Strategy = "cache-first"
	StrategyNetworkFirstNavigation Strategy = "network-first-navigation"
	StrategyNetworkFirstImage      Strategy = "network-first-image"
	StrategyNetworkFirstAPI        Strategy = "network-first-api"
)

// Router classifies requests. It has no side effects.
type Router struct {
	excluded []string
}

// NewRouter builds a router over a validated configuration.
func NewRouter(cfg Config) *Router {
	return &Router{excluded: append([]string(nil), cfg.ExcludedPrefixes...)}
}

// Classify picks the strategy for req, in priority order.
func (r *Router) Classify(req *Request) Strategy {
	path := req.Path()
	if r.Excluded(path) {
		return StrategyBypass
	}
	switch req.Destination {
	case DestinationStyle, DestinationScript, DestinationFont:
		return StrategyCacheFirst
	case DestinationImage:
		return StrategyNetworkFirstImage
	}
	if strings.HasPrefix(path, "/api/") {
		return StrategyNetworkFirstAPI
	}
	if req.IsNavigation() {
		return StrategyNetworkFirstNavigation
	}
	return StrategyCacheFirst
}

// Excluded reports whether path falls under a bypass prefix.
func (r *Router) Excluded(path string) bool {
	for _, prefix := range r.excluded {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
