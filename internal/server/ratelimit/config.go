package ratelimit

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Rule limits one route. Route uses the ServeMux pattern form "METHOD /path";
// a path ending in "/" also covers every path beneath it.
type Rule struct {
	Route  string
	Limit  int
	Window time.Duration
	Burst  int
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled bool
	// Default applies to routes without a rule. Its Route is ignored.
	Default Rule
	Rules   []Rule
	// Exempt routes are never limited.
	Exempt          []string
	Allow           map[string]bool
	Deny            map[string]bool
	CleanupInterval time.Duration
	IdleTTL         time.Duration
}

// DefaultConfig limits the generation triggers hardest since each admitted
// request can start a batch.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Default: Rule{Limit: 600, Window: time.Minute, Burst: 60},
		Rules: []Rule{
			{Route: "POST /generate", Limit: 30, Window: time.Hour, Burst: 5},
			{Route: "POST /generate_from_text", Limit: 30, Window: time.Hour, Burst: 5},
			{Route: "POST /update-style", Limit: 60, Window: time.Minute, Burst: 10},
		},
		Exempt:          []string{"GET /health"},
		Allow:           map[string]bool{},
		Deny:            map[string]bool{},
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
	}
}

// LoadConfig reads overrides from the environment:
//
//	RATE_LIMIT_ENABLED    true|false
//	RATE_LIMIT_DEFAULT    rate for unlisted routes, e.g. 600/1m:60
//	RATE_LIMIT_GENERATE   rate for both generation triggers, e.g. 30/1h:5
//	RATE_LIMIT_ALLOWLIST  comma separated client IPs that bypass limits
//	RATE_LIMIT_DENYLIST   comma separated client IPs that are always refused
func LoadConfig() (*Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()
	var errs []error

	if v, ok := lookup("RATE_LIMIT_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_ENABLED: %w", err))
		} else {
			cfg.Enabled = enabled
		}
	}
	if v, ok := lookup("RATE_LIMIT_DEFAULT"); ok && v != "" {
		rule, err := ParseRate(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_DEFAULT: %w", err))
		} else {
			cfg.Default = rule
		}
	}
	if v, ok := lookup("RATE_LIMIT_GENERATE"); ok && v != "" {
		rule, err := ParseRate(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_GENERATE: %w", err))
		} else {
			for i := range cfg.Rules {
				if strings.HasPrefix(cfg.Rules[i].Route, "POST /generate") {
					route := cfg.Rules[i].Route
					cfg.Rules[i] = rule
					cfg.Rules[i].Route = route
				}
			}
		}
	}
	if v, ok := lookup("RATE_LIMIT_ALLOWLIST"); ok {
		cfg.Allow = ipSet(v)
	}
	if v, ok := lookup("RATE_LIMIT_DENYLIST"); ok {
		cfg.Deny = ipSet(v)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("rate limit config: %w", err)
	}
	return cfg, nil
}

// ParseRate parses "LIMIT/WINDOW[:BURST]". WINDOW is a Go duration, or a bare
// unit s, m or h meaning one of it. Burst defaults to the limit.
func ParseRate(s string) (Rule, error) {
	rateText, burstText, hasBurst := strings.Cut(strings.TrimSpace(s), ":")
	limitText, windowText, ok := strings.Cut(rateText, "/")
	if !ok {
		return Rule{}, fmt.Errorf("invalid rate %q: want LIMIT/WINDOW", s)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(limitText))
	if err != nil || limit <= 0 {
		return Rule{}, fmt.Errorf("invalid rate %q: limit must be a positive integer", s)
	}

	windowText = strings.TrimSpace(windowText)
	switch windowText {
	case "s", "m", "h":
		windowText = "1" + windowText
	}
	window, err := time.ParseDuration(windowText)
	if err != nil || window <= 0 {
		return Rule{}, fmt.Errorf("invalid rate %q: bad window", s)
	}

	rule := Rule{Limit: limit, Window: window, Burst: limit}
	if hasBurst {
		burst, err := strconv.Atoi(strings.TrimSpace(burstText))
		if err != nil || burst <= 0 {
			return Rule{}, fmt.Errorf("invalid rate %q: burst must be a positive integer", s)
		}
		rule.Burst = burst
	}
	return rule, nil
}

func ipSet(list string) map[string]bool {
	set := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			set[ip] = true
		}
	}
	return set
}
