package orchestrator

import "fmt"

// defaultFallbackAgents is the static per-phase primary+fallback agent type
// list used by the reassign recovery strategy (§4.6.3). Index 0 is the
// primary type dispatched on normal phase entry.
var defaultFallbackAgents = map[Phase][]string{
	PhasePlanning:     {"planner-gpt", "planner-claude", "planner-basic"},
	PhaseImplementing: {"implementer-gpt", "implementer-claude", "implementer-basic"},
	PhaseQA:           {"qa-gpt", "qa-claude", "qa-basic"},
	PhaseDeploying:    {"deployer-gpt", "deployer-claude", "deployer-basic"},
}

// Config holds the orchestrator's recognised options (§8 "Environment /
// configuration"), all with defaults applied by SetDefaults.
type Config struct {
	MaxRetries            int `yaml:"max_retries"`
	RetryBaseDelaySeconds int `yaml:"retry_base_delay_seconds"`
	RetryMaxDelaySeconds  int `yaml:"retry_max_delay_seconds"`
	StaleThresholdSeconds int `yaml:"stale_threshold_seconds"`
	HotContextTTLSeconds  int `yaml:"hot_context_ttl_seconds"`
	HistoryPageCap        int `yaml:"history_page_cap"`

	// FallbackAgents maps a phase to its ordered primary+fallback agent
	// types. Nil entries fall back to defaultFallbackAgents.
	FallbackAgents map[Phase][]string `yaml:"fallback_agents,omitempty"`
}

// SetDefaults applies the defaults named in spec.md §8.
func (c *Config) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelaySeconds == 0 {
		c.RetryBaseDelaySeconds = 5
	}
	if c.RetryMaxDelaySeconds == 0 {
		c.RetryMaxDelaySeconds = 300
	}
	if c.StaleThresholdSeconds == 0 {
		c.StaleThresholdSeconds = 1800
	}
	if c.HotContextTTLSeconds == 0 {
		c.HotContextTTLSeconds = 604800
	}
	if c.HistoryPageCap == 0 {
		c.HistoryPageCap = 100
	}
	if c.FallbackAgents == nil {
		c.FallbackAgents = defaultFallbackAgents
	}
}

// Validate checks the config for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.RetryBaseDelaySeconds <= 0 {
		return fmt.Errorf("retry_base_delay_seconds must be positive")
	}
	if c.RetryMaxDelaySeconds < c.RetryBaseDelaySeconds {
		return fmt.Errorf("retry_max_delay_seconds must be >= retry_base_delay_seconds")
	}
	if c.StaleThresholdSeconds <= 0 {
		return fmt.Errorf("stale_threshold_seconds must be positive")
	}
	if c.HistoryPageCap <= 0 || c.HistoryPageCap > 100 {
		return fmt.Errorf("history_page_cap must be in (0, 100]")
	}
	return nil
}

// AgentTypesForPhase returns the ordered primary+fallback agent types for
// phase, or nil if the phase is unrecognised.
func (c *Config) AgentTypesForPhase(phase Phase) []string {
	return c.FallbackAgents[phase]
}

// PrimaryAgentForPhase returns the phase's primary (index 0) agent type.
func (c *Config) PrimaryAgentForPhase(phase Phase) string {
	types := c.AgentTypesForPhase(phase)
	if len(types) == 0 {
		return ""
	}
	return types[0]
}

// IsAllowedAgentForPhase reports whether agentType is in phase's configured
// fallback set, used to validate handleManualOverride's reassign action.
func (c *Config) IsAllowedAgentForPhase(phase Phase, agentType string) bool {
	for _, t := range c.AgentTypesForPhase(phase) {
		if t == agentType {
			return true
		}
	}
	return false
}
