package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/steward/internal/observability"
	"github.com/harun/steward/internal/tracing"
	"github.com/harun/steward/pkg/models"
)

const (
	defaultMaxFacts = 50
	defaultMaxChars = 4000
)

// FactStore persists memory facts.
type FactStore interface {
	AddMemoryFact(ctx context.Context, userID, text string) (*models.MemoryFact, error)
	ListMemoryFacts(ctx context.Context, userID string, limit int) ([]models.MemoryFact, error)
}

// Config holds provider configuration
type Config struct {
	Store    FactStore
	MaxFacts int
	MaxChars int
	Logger   zerolog.Logger
}

// Provider renders a user's durable facts into a planning context block.
type Provider struct {
	store    FactStore
	maxFacts int
	maxChars int
	logger   zerolog.Logger
}

// NewProvider creates a memory provider.
func NewProvider(cfg Config) (*Provider, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, errors.New("fact store is required")
	}
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = defaultMaxFacts
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}

	return &Provider{
		store:    cfg.Store,
		maxFacts: cfg.MaxFacts,
		maxChars: cfg.MaxChars,
		logger:   cfg.Logger.With().Str("component", "memory").Logger(),
	}, nil
}

// BuildContextBlock returns the user's facts as a bullet list. It returns "" on any failure.
func (p *Provider) BuildContextBlock(ctx context.Context, userID string) string {
	ctx, span := tracing.StartSpan(ctx, "steward.memory", "memory.build_context",
		attribute.String("user_id", userID))
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordMemoryContext(time.Since(start)) }()

	logger := tracing.LoggerFromContext(ctx, p.logger)

	facts, err := p.store.ListMemoryFacts(ctx, userID, p.maxFacts)
	if err != nil {
		span.RecordError(err)
		logger.Warn().Err(err).Msg("Failed to load memory facts")
		return ""
	}
	if len(facts) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Known facts about the user:\n")
	header := sb.Len()
	for _, f := range facts {
		line := "- " + strings.Join(strings.Fields(f.Text), " ") + "\n"
		if sb.Len()+len(line) > p.maxChars {
			break
		}
		sb.WriteString(line)
	}
	if sb.Len() == header {
		return ""
	}

	return strings.TrimRight(sb.String(), "\n")
}

// Remember stores a new fact for the user.
func (p *Provider) Remember(ctx context.Context, userID, fact string) error {
	if _, err := p.store.AddMemoryFact(ctx, userID, fact); err != nil {
		return fmt.Errorf("failed to remember fact: %w", err)
	}
	p.logger.Debug().Str("user_id", userID).Msg("Memory fact stored")
	return nil
}
