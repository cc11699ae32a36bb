package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/store"
)

type failingStore struct{}

func (failingStore) AddMemoryFact(ctx context.Context, userID, text string) (*models.MemoryFact, error) {
	return nil, errors.New("disk full")
}

func (failingStore) ListMemoryFacts(ctx context.Context, userID string, limit int) ([]models.MemoryFact, error) {
	return nil, errors.New("disk full")
}

func newStore(t *testing.T) *store.DB {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db, err := store.Open(store.Config{
		Path:   filepath.Join(t.TempDir(), "memory.db"),
		Logger: zerolog.Nop(),
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewProvider_RequiresStore(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.Error(t, err)
}

func TestProvider_BuildContextBlock(t *testing.T) {
	db := newStore(t)
	p, err := NewProvider(Config{Store: db, Logger: zerolog.Nop()})
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "", p.BuildContextBlock(ctx, "u1"))

	require.NoError(t, p.Remember(ctx, "u1", "Prefers meetings after 10am"))
	require.NoError(t, p.Remember(ctx, "u1", "Manager is   dana@example.com"))
	require.NoError(t, p.Remember(ctx, "u2", "Someone else"))

	block := p.BuildContextBlock(ctx, "u1")
	assert.Equal(t, "Known facts about the user:\n- Prefers meetings after 10am\n- Manager is dana@example.com", block)
}

func TestProvider_BuildContextBlockIsBounded(t *testing.T) {
	db := newStore(t)
	p, err := NewProvider(Config{Store: db, MaxChars: 80, Logger: zerolog.Nop()})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Remember(ctx, "u1", strings.Repeat("x", 20)))
	}

	block := p.BuildContextBlock(ctx, "u1")
	assert.LessOrEqual(t, len(block), 80)
	assert.Contains(t, block, "- xxxx")
}

func TestProvider_FailuresReturnEmpty(t *testing.T) {
	p, err := NewProvider(Config{Store: failingStore{}, Logger: zerolog.Nop()})
	require.NoError(t, err)

	assert.Equal(t, "", p.BuildContextBlock(context.Background(), "u1"))
	assert.Error(t, p.Remember(context.Background(), "u1", "fact"))
}
