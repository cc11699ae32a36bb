package policy

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/tools"
)

// Outcome is the verdict of a policy evaluation.
type Outcome string

const (
	Allow           Outcome = "allow"
	RequireApproval Outcome = "require_approval"
	Deny            Outcome = "deny"
)

// Decision is an Outcome plus the reason shown to the user and stored in the audit trail.
type Decision struct {
	Outcome    Outcome           `json:"outcome"`
	Reason     string            `json:"reason"`
	TrustLevel models.TrustLevel `json:"trust_level,omitempty"`
	Recipient  string            `json:"recipient,omitempty"`
}

// TrustResolver looks up an explicit trust level for a user.
// ok is false when the user has neither a settings record nor a legacy profile value.
type TrustResolver interface {
	ResolveTrustLevel(ctx context.Context, userID string) (level models.TrustLevel, ok bool, err error)
}

// Allowlist answers whether a recipient is pre-approved for a user.
type Allowlist interface {
	IsRecipientAllowed(ctx context.Context, userID, recipient string) (bool, error)
}

// Config holds the engine's collaborators and switches.
type Config struct {
	SideEffectsDisabled bool
	DefaultTrust        models.TrustLevel
	Trust               TrustResolver
	Allowlist           Allowlist
	Logger              zerolog.Logger
}

// Engine decides whether a tool call may run now, needs approval, or is refused.
type Engine struct {
	trust        TrustResolver
	allowlist    Allowlist
	defaultTrust models.TrustLevel
	killSwitch   atomic.Bool
	logger       zerolog.Logger
}

// NewEngine creates a policy engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Trust == nil {
		return nil, fmt.Errorf("trust resolver is required")
	}
	if cfg.Allowlist == nil {
		return nil, fmt.Errorf("allowlist is required")
	}

	defaultTrust := cfg.DefaultTrust
	if defaultTrust == "" {
		defaultTrust = models.TrustSupervised
	}
	if _, ok := models.ParseTrustLevel(string(defaultTrust)); !ok {
		return nil, fmt.Errorf("invalid default trust level: %s", defaultTrust)
	}

	e := &Engine{
		trust:        cfg.Trust,
		allowlist:    cfg.Allowlist,
		defaultTrust: defaultTrust,
		logger:       cfg.Logger.With().Str("component", "policy").Logger(),
	}
	e.killSwitch.Store(cfg.SideEffectsDisabled)
	return e, nil
}

// SetSideEffectsDisabled flips the global kill switch for side-effecting tools.
func (e *Engine) SetSideEffectsDisabled(disabled bool) {
	e.killSwitch.Store(disabled)
}

// SideEffectsDisabled reports the kill switch state.
func (e *Engine) SideEffectsDisabled() bool {
	return e.killSwitch.Load()
}

// Evaluate applies the rules in order and always returns a Decision.
func (e *Engine) Evaluate(ctx context.Context, userID string, tool tools.Tool, args tools.Args) Decision {
	if !tool.SideEffect() {
		return Decision{
			Outcome: Allow,
			Reason:  fmt.Sprintf("%s is read-only and never needs approval", tool.Name()),
		}
	}

	if e.killSwitch.Load() {
		return Decision{
			Outcome: Deny,
			Reason:  fmt.Sprintf("side-effecting tools are disabled by configuration; %s was not run", tool.Name()),
		}
	}

	level := e.resolveTrust(ctx, userID)

	switch level {
	case models.TrustSupervised:
		return Decision{
			Outcome:    RequireApproval,
			TrustLevel: level,
			Reason:     fmt.Sprintf("supervised trust requires approval before %s runs", tool.Name()),
		}
	case models.TrustAutonomous:
		return Decision{
			Outcome:    Allow,
			TrustLevel: level,
			Reason:     fmt.Sprintf("autonomous trust allows %s without approval", tool.Name()),
		}
	}

	targeting, ok := tool.(tools.RecipientTargeting)
	if !ok {
		return Decision{
			Outcome:    RequireApproval,
			TrustLevel: level,
			Reason:     fmt.Sprintf("delegated trust requires approval for %s", tool.Name()),
		}
	}

	return e.evaluateRecipient(ctx, userID, tool.Name(), targeting, args, level)
}

func (e *Engine) evaluateRecipient(ctx context.Context, userID, toolName string, targeting tools.RecipientTargeting, args tools.Args, level models.TrustLevel) Decision {
	raw, ok := targeting.Recipient(args)
	if !ok {
		return Decision{
			Outcome:    Deny,
			TrustLevel: level,
			Reason:     fmt.Sprintf("%s has no recipient", toolName),
		}
	}

	recipient, err := tools.NormalizeEmail(raw)
	if err != nil {
		return Decision{
			Outcome:    Deny,
			TrustLevel: level,
			Reason:     fmt.Sprintf("recipient %q is not a valid email address", raw),
		}
	}

	allowed, err := e.allowlist.IsRecipientAllowed(ctx, userID, recipient)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", userID).Str("recipient", recipient).Msg("Allowlist lookup failed, requiring approval")
		return Decision{
			Outcome:    RequireApproval,
			TrustLevel: level,
			Recipient:  recipient,
			Reason:     fmt.Sprintf("could not check the allowlist for %s; approval required", recipient),
		}
	}
	if allowed {
		return Decision{
			Outcome:    Allow,
			TrustLevel: level,
			Recipient:  recipient,
			Reason:     fmt.Sprintf("%s is on your allowlist", recipient),
		}
	}

	return Decision{
		Outcome:    RequireApproval,
		TrustLevel: level,
		Recipient:  recipient,
		Reason:     fmt.Sprintf("%s is not on your allowlist; delegated trust requires approval", recipient),
	}
}

// resolveTrust falls back to the default level when nothing is stored or the lookup fails.
func (e *Engine) resolveTrust(ctx context.Context, userID string) models.TrustLevel {
	level, ok, err := e.trust.ResolveTrustLevel(ctx, userID)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("Trust level lookup failed, using supervised")
		return models.TrustSupervised
	}
	if !ok {
		return e.defaultTrust
	}
	if _, valid := models.ParseTrustLevel(string(level)); !valid {
		e.logger.Warn().Str("user_id", userID).Str("level", string(level)).Msg("Unknown stored trust level, using supervised")
		return models.TrustSupervised
	}
	return level
}
