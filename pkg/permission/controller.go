package permission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/halim/sera/internal/logger"
	"github.com/rs/zerolog"
)

// Decision reasons, most specific first in evaluation order.
const (
	ReasonAllowOnce      = "allow_once"
	ReasonBlocked        = "blocked"
	ReasonAllowed        = "allowed"
	ReasonNotInAllowlist = "not_in_allowlist"
	ReasonDefaultAllow   = "default_allow"
)

// Decision is the outcome of one permission check.
type Decision struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason"`
	MatchedRule string `json:"matchedRule,omitempty"`
}

// Config holds controller configuration.
type Config struct {
	AllowRules []string
	BlockRules []string

	// StrictAllowlist rejects calls that match no allow rule when the
	// allowlist is non-empty. Without it, unmatched calls fall through to
	// the default allow.
	StrictAllowlist bool

	// AuditLogPath, when set, appends one JSON line per decision.
	AuditLogPath string

	Logger zerolog.Logger
}

// Controller evaluates tool calls against permission rules. Precedence:
// one-shot grants beat block rules, block rules beat allow rules, allow
// rules beat the default.
type Controller struct {
	cfg      Config
	logger   zerolog.Logger
	redactor *logger.Redactor

	mu        sync.Mutex
	allowOnce []string // pending one-shot grants, consumed oldest-first
	auditFile *os.File
}

// NewController creates a controller, opening the audit log if configured.
func NewController(cfg Config) (*Controller, error) {
	c := &Controller{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "permission").Logger(),
		redactor: logger.NewRedactor(),
	}

	if cfg.AuditLogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditLogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.AuditLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		c.auditFile = f
	}
	return c, nil
}

// AllowOnce registers a one-shot grant. The next call matching the rule is
// allowed even if a block rule would otherwise reject it, then the grant is
// gone.
func (c *Controller) AllowOnce(rule string) {
	c.mu.Lock()
	c.allowOnce = append(c.allowOnce, rule)
	c.mu.Unlock()
}

// Evaluate decides one tool call and writes the audit record.
func (c *Controller) Evaluate(toolName string, args map[string]interface{}) Decision {
	decision := c.evaluate(toolName, args)
	c.audit(toolName, args, decision)
	return decision
}

func (c *Controller) evaluate(toolName string, args map[string]interface{}) Decision {
	c.mu.Lock()
	for i, rule := range c.allowOnce {
		if matchRule(rule, toolName, args) {
			c.allowOnce = append(c.allowOnce[:i], c.allowOnce[i+1:]...)
			c.mu.Unlock()
			return Decision{Allowed: true, Reason: ReasonAllowOnce, MatchedRule: rule}
		}
	}
	c.mu.Unlock()

	if rule, ok := matchAny(c.cfg.BlockRules, toolName, args); ok {
		return Decision{Allowed: false, Reason: ReasonBlocked, MatchedRule: rule}
	}
	if rule, ok := matchAny(c.cfg.AllowRules, toolName, args); ok {
		return Decision{Allowed: true, Reason: ReasonAllowed, MatchedRule: rule}
	}
	if len(c.cfg.AllowRules) > 0 && c.cfg.StrictAllowlist {
		return Decision{Allowed: false, Reason: ReasonNotInAllowlist}
	}
	return Decision{Allowed: true, Reason: ReasonDefaultAllow}
}

type auditRecord struct {
	Timestamp time.Time              `json:"ts"`
	ToolName  string                 `json:"toolName"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Decision  Decision               `json:"decision"`
}

func (c *Controller) audit(toolName string, args map[string]interface{}, decision Decision) {
	c.logger.Debug().
		Str("tool", toolName).
		Bool("allowed", decision.Allowed).
		Str("reason", decision.Reason).
		Msg("Permission decision")

	if c.auditFile == nil {
		return
	}

	line, err := json.Marshal(auditRecord{
		Timestamp: time.Now().UTC(),
		ToolName:  toolName,
		Args:      c.redactArgs(args),
		Decision:  decision,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal audit record")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.auditFile.Write(append(line, '\n')); err != nil {
		c.logger.Error().Err(err).Msg("Failed to write audit record")
	}
}

// redactArgs masks credential-shaped string values. Audit lines persist
// raw tool arguments, which can carry keys and tokens.
func (c *Controller) redactArgs(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return args
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = c.redactor.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

// Gate adapts the controller to the agent's pre-execution check.
func (c *Controller) Gate() func(toolName string, args map[string]interface{}) error {
	return func(toolName string, args map[string]interface{}) error {
		decision := c.Evaluate(toolName, args)
		if !decision.Allowed {
			return fmt.Errorf("permission denied (%s): %s", decision.Reason, toolName)
		}
		return nil
	}
}

// Close flushes and closes the audit log.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auditFile == nil {
		return nil
	}
	err := c.auditFile.Close()
	c.auditFile = nil
	return err
}
