package ratelimit

import "strings"

// matches reports whether route covers the request.
func matches(route, method, path string) bool {
	routeMethod, routePath, ok := strings.Cut(route, " ")
	if !ok || routeMethod != method {
		return false
	}
	if routePath == path {
		return true
	}
	return strings.HasSuffix(routePath, "/") && strings.HasPrefix(path, routePath)
}

// exempt reports whether the request bypasses limiting entirely.
func (c *Config) exempt(method, path string) bool {
	for _, route := range c.Exempt {
		if matches(route, method, path) {
			return true
		}
	}
	return false
}

// ruleFor returns the rule for a request and the bucket scope it shares.
// Exact routes win over prefix routes; unmatched requests fall back to the
// default rule and share one bucket per client.
func (c *Config) ruleFor(method, path string) (Rule, string) {
	var prefix *Rule
	for i := range c.Rules {
		rule := &c.Rules[i]
		if !matches(rule.Route, method, path) {
			continue
		}
		if !strings.HasSuffix(rule.Route, "/") {
			return *rule, rule.Route
		}
		if prefix == nil || len(rule.Route) > len(prefix.Route) {
			prefix = rule
		}
	}
	if prefix != nil {
		return *prefix, prefix.Route
	}
	return c.Default, "*"
}
