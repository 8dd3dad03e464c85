package config

import (
	"sync"

	"github.com/adnanbaig/browserfarm/internal/fault"
)

// LaunchSpec is an engine-ready rendering of a configuration value
type LaunchSpec struct {
	Headless     bool
	WindowWidth  int
	WindowHeight int
	Stealth      bool
	Proxy        string
	UserAgent    string
	// Args keep caller order: command-line arguments are
	// order-significant and must reach the engine unmodified
	Args []string
	Env  []string
}

// CounterSink receives cache hit/miss events
type CounterSink interface {
	CacheHit()
	CacheMiss()
}

// OptionsCache memoizes the parse of a configuration into a LaunchSpec,
// keyed by the configuration fingerprint
type OptionsCache struct {
	mu      sync.Mutex
	parsed  map[string]*LaunchSpec
	counter CounterSink
}

// NewOptionsCache creates an options cache. counter may be nil.
func NewOptionsCache(counter CounterSink) *OptionsCache {
	return &OptionsCache{
		parsed:  make(map[string]*LaunchSpec),
		counter: counter,
	}
}

// Parse returns the launch spec for a configuration, computing and
// memoizing it on first use. The returned spec is a copy; callers may
// not mutate cached state.
func (c *OptionsCache) Parse(fingerprint string, config map[string]any) (*LaunchSpec, error) {
	c.mu.Lock()
	cached, ok := c.parsed[fingerprint]
	c.mu.Unlock()

	if ok {
		if c.counter != nil {
			c.counter.CacheHit()
		}
		out := cloneSpec(cached)
		return out, nil
	}

	if c.counter != nil {
		c.counter.CacheMiss()
	}

	spec, err := parseSpec(config)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.parsed[fingerprint] = spec
	c.mu.Unlock()

	return cloneSpec(spec), nil
}

func cloneSpec(s *LaunchSpec) *LaunchSpec {
	out := *s
	out.Args = append([]string(nil), s.Args...)
	out.Env = append([]string(nil), s.Env...)
	return &out
}

func parseSpec(config map[string]any) (*LaunchSpec, error) {
	spec := &LaunchSpec{
		WindowWidth:  1920,
		WindowHeight: 1080,
		Stealth:      true,
	}

	for key, raw := range config {
		var err error
		switch key {
		case "headless":
			spec.Headless, err = asBool(key, raw)
		case "stealth":
			spec.Stealth, err = asBool(key, raw)
		case "window_width":
			spec.WindowWidth, err = asInt(key, raw)
		case "window_height":
			spec.WindowHeight, err = asInt(key, raw)
		case "proxy":
			spec.Proxy, err = asString(key, raw)
		case "user_agent":
			spec.UserAgent, err = asString(key, raw)
		case "args":
			spec.Args, err = asStringSlice(key, raw)
		case "env":
			spec.Env, err = asStringSlice(key, raw)
		default:
			err = fault.New(fault.KindConfigurationInvalid, "unknown configuration key %q", key)
		}
		if err != nil {
			return nil, err
		}
	}

	if spec.WindowWidth < 100 || spec.WindowHeight < 100 {
		return nil, fault.New(fault.KindConfigurationInvalid, "window dimensions must be at least 100px")
	}

	return spec, nil
}

func asBool(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fault.New(fault.KindConfigurationInvalid, "%s must be a boolean, got %T", key, v)
	}
	return b, nil
}

func asInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	}
	return 0, fault.New(fault.KindConfigurationInvalid, "%s must be a number, got %T", key, v)
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fault.New(fault.KindConfigurationInvalid, "%s must be a string, got %T", key, v)
	}
	return s, nil
}

func asStringSlice(key string, v any) ([]string, error) {
	switch items := v.(type) {
	case []string:
		return append([]string(nil), items...), nil
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fault.New(fault.KindConfigurationInvalid, "%s entries must be strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fault.New(fault.KindConfigurationInvalid, "%s must be a list of strings, got %T", key, v)
}
