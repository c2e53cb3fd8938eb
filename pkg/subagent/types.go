package subagent

import (
	"time"

	"github.com/halim/sera/pkg/agent"
)

// Profile is a reusable sub-agent template. Profiles are registered on the
// manager at construction; call-time overrides specialize a single run.
type Profile struct {
	ID           string
	Name         string
	Description  string
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64
	Provider     string // backend name; empty uses the manager's default
	AllowedTools []string
	BlockedTools []string

	// MaxRetries and RetryDelay shape the child agent's backend retry
	// schedule; RateLimits bound its per-tool call rate.
	MaxRetries int
	RetryDelay time.Duration
	RateLimits map[string]agent.RateLimit

	// Timeout bounds one run of this profile. The run is raced against the
	// timer; on timeout the caller gets an error while any in-flight work is
	// left to finish in the background.
	Timeout time.Duration
}

// Options configures one sub-agent run.
type Options struct {
	ProfileID string
	Prompt    string

	// Depth of the sub-agent itself. Zero means "derive from the calling
	// context": the parent's depth plus one.
	Depth int

	// Overrides specializes the profile for this run: non-zero fields win,
	// except BlockedTools which are unioned with the profile's.
	Overrides *Profile

	// Tools, when non-empty, selects the exact tool set by name and skips
	// the profile's allow/block filters.
	Tools []string

	// CollectEvents retains the full event stream on the Result.
	CollectEvents bool

	SessionKey string
}

// Result is the outcome of a completed sub-agent run.
type Result struct {
	RunID     string
	ProfileID string
	Output    string
	Usage     *agent.Usage
	Duration  time.Duration
	Messages  []agent.Message
	Events    []agent.Event
}

// mergeProfile applies call-time overrides on top of a registered profile.
func mergeProfile(base Profile, overrides *Profile) Profile {
	if overrides == nil {
		return base
	}
	merged := base
	if overrides.SystemPrompt != "" {
		merged.SystemPrompt = overrides.SystemPrompt
	}
	if overrides.Model != "" {
		merged.Model = overrides.Model
	}
	if overrides.MaxTokens > 0 {
		merged.MaxTokens = overrides.MaxTokens
	}
	if overrides.Temperature > 0 {
		merged.Temperature = overrides.Temperature
	}
	if overrides.Provider != "" {
		merged.Provider = overrides.Provider
	}
	if len(overrides.AllowedTools) > 0 {
		merged.AllowedTools = overrides.AllowedTools
	}
	if overrides.MaxRetries > 0 {
		merged.MaxRetries = overrides.MaxRetries
	}
	if overrides.RetryDelay > 0 {
		merged.RetryDelay = overrides.RetryDelay
	}
	if len(overrides.RateLimits) > 0 {
		merged.RateLimits = overrides.RateLimits
	}
	if overrides.Timeout > 0 {
		merged.Timeout = overrides.Timeout
	}
	merged.BlockedTools = unionStrings(base.BlockedTools, overrides.BlockedTools)
	return merged
}

// unionStrings merges two lists preserving first-seen order.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, lists := range [][]string{a, b} {
		for _, s := range lists {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
