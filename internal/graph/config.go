package graph

import (
	"fmt"
	"sync"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Well-known configuration names. DefaultConfig is the build's primary
// configuration; HostConfig describes the machine running the build and is
// what tools consumed during the build itself are compiled for.
const (
	DefaultConfig = "target"
	HostConfig    = "host"
)

// Configuration is a named execution environment. Expanding the same rule
// under two configurations yields two disjoint artifact sets, which is how a
// code generator can be built for the host and immediately run to produce
// sources for the target within one invocation.
type Configuration struct {
	Name string
	Vars map[string]cty.Value
}

// Var returns the raw value of a configuration variable.
func (c *Configuration) Var(name string) (cty.Value, bool) {
	v, ok := c.Vars[name]
	return v, ok
}

// StringVar returns a configuration variable coerced to a string, or the
// given fallback when the variable is unset.
func (c *Configuration) StringVar(name, fallback string) string {
	v, ok := c.Vars[name]
	if !ok || v.IsNull() {
		return fallback
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return fallback
	}
	return s.AsString()
}

// ConfigSet tracks the named configurations of one invocation. The target
// and host configurations always exist; a workspace definition may replace
// them or add more.
type ConfigSet struct {
	mu      sync.Mutex
	configs map[string]*Configuration
}

// NewConfigSet returns a set seeded with empty target and host
// configurations.
func NewConfigSet() *ConfigSet {
	return &ConfigSet{
		configs: map[string]*Configuration{
			DefaultConfig: {Name: DefaultConfig, Vars: map[string]cty.Value{}},
			HostConfig:    {Name: HostConfig, Vars: map[string]cty.Value{}},
		},
	}
}

// Define installs a configuration, replacing the built-in seed when the name
// collides with target or host.
func (s *ConfigSet) Define(name string, vars map[string]cty.Value) *Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vars == nil {
		vars = map[string]cty.Value{}
	}
	c := &Configuration{Name: name, Vars: vars}
	s.configs[name] = c
	return c
}

// Get returns the configuration with the given name.
func (s *ConfigSet) Get(name string) (*Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.configs[name]
	if !ok {
		return nil, fmt.Errorf("unknown configuration %q", name)
	}
	return c, nil
}

// Default returns the build's primary configuration.
func (s *ConfigSet) Default() *Configuration {
	c, _ := s.Get(DefaultConfig)
	return c
}

// Host returns the host configuration.
func (s *ConfigSet) Host() *Configuration {
	c, _ := s.Get(HostConfig)
	return c
}
