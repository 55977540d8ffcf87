package scheduler

import "github.com/haasonsaas/companion-kernel/internal/config"

// Policy decides whether a named ability owned by a given source may
// be scheduled. The scheduler calls Allowed once per Execute/
// GetToolSchemas entry; a false result surfaces as PermissionDenied.
type Policy interface {
	Allowed(source string, ability string) bool
}

// ConfigPolicy implements Policy against the kernel's Config,
// mapping the glossary's "star" concept onto
// Config.Scheduler.Stars (built-in groups) and
// Config.Plugins.Entries (one star per plugin). An unconfigured
// source defaults to enabled with tools allowed, so a bare Config{}
// does not silently disable everything.
type ConfigPolicy struct {
	cfg *config.Config
}

// NewConfigPolicy builds a Policy backed by cfg.
func NewConfigPolicy(cfg *config.Config) *ConfigPolicy {
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &ConfigPolicy{cfg: cfg}
}

// Allowed reports whether ability is callable given source's star
// policy. source is "builtin", "plugin:<name>", or "mcp".
func (p *ConfigPolicy) Allowed(source, ability string) bool {
	switch {
	case source == "builtin":
		return starAllows(p.cfg.Scheduler.Stars["builtin"], ability, true)
	case source == "mcp":
		return starAllows(p.cfg.Scheduler.Stars["mcp"], ability, true)
	case hasPluginPrefix(source):
		name := source[len("plugin:"):]
		entry, ok := p.cfg.Plugins.Entries[name]
		if !ok {
			return true
		}
		if !entry.Enabled || !entry.AllowTools {
			return false
		}
		if entry.Abilities == nil {
			return true
		}
		allowed, declared := entry.Abilities[ability]
		return !declared || allowed
	default:
		return true
	}
}

func hasPluginPrefix(source string) bool {
	return len(source) > len("plugin:") && source[:len("plugin:")] == "plugin:"
}

// starAllows applies a StarPolicy to a single ability. An absent
// (zero-value) policy is treated as "not configured" => allowed,
// matching ConfigPolicy's fail-open default above the map lookup.
func starAllows(star config.StarPolicy, ability string, unconfiguredDefault bool) bool {
	if !star.Enabled && !star.AllowTools && star.Abilities == nil {
		return unconfiguredDefault
	}
	if !star.Enabled || !star.AllowTools {
		return false
	}
	if star.Abilities == nil {
		return true
	}
	allowed, declared := star.Abilities[ability]
	return !declared || allowed
}
