package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(id, userID string, connectedAt time.Time) *Client {
	return &Client{ID: id, UserID: userID, ConnectedAt: connectedAt, LastActivity: connectedAt}
}

func clientIDs(clients []*Client) []string {
	ids := make([]string, 0, len(clients))
	for _, c := range clients {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestClientRegistry_IndexesByUser(t *testing.T) {
	r := NewClientRegistry()
	now := time.Now()

	r.Add(newClient("c1", "alice", now))
	r.Add(newClient("c2", "alice", now))
	r.Add(newClient("c3", "bob", now))

	assert.Equal(t, 3, r.Count())
	assert.Equal(t, 2, r.Users())
	assert.ElementsMatch(t, []string{"c1", "c2"}, clientIDs(r.ForUser("alice")))
	assert.ElementsMatch(t, []string{"c3"}, clientIDs(r.ForUser("bob")))
	assert.Empty(t, r.ForUser("carol"))

	r.Remove("c1")
	assert.ElementsMatch(t, []string{"c2"}, clientIDs(r.ForUser("alice")))

	r.Remove("c2")
	assert.Empty(t, r.ForUser("alice"))
	assert.Equal(t, 1, r.Users())

	// Removing twice is harmless
	r.Remove("c2")
	assert.Equal(t, 1, r.Count())
}

func TestClientRegistry_ReAddMovesUser(t *testing.T) {
	r := NewClientRegistry()
	now := time.Now()

	r.Add(newClient("c1", "alice", now))
	r.Add(newClient("c1", "bob", now))

	assert.Equal(t, 1, r.Count())
	assert.Empty(t, r.ForUser("alice"))
	assert.ElementsMatch(t, []string{"c1"}, clientIDs(r.ForUser("bob")))

	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "bob", got.UserID)
}

func TestClientRegistry_SnapshotAndTouch(t *testing.T) {
	r := NewClientRegistry()
	old := time.Now().Add(-time.Hour)

	r.Add(newClient("late", "alice", time.Now()))
	r.Add(newClient("early", "bob", old))

	infos := r.Snapshot()
	require.Len(t, infos, 2)
	assert.Equal(t, "early", infos[0].ID)
	assert.True(t, infos[0].Idle)
	assert.False(t, infos[1].Idle)

	r.Touch("early")
	r.Touch("missing")

	infos = r.Snapshot()
	assert.False(t, infos[0].Idle)
	assert.Len(t, r.All(), 2)
}
