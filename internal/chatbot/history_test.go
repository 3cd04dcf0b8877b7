package chatbot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartclass/backend/internal/storage/models"
)

func TestHistory_BoundedAfterEveryAppend(t *testing.T) {
	h := NewHistory(20)

	for i := 0; i < 25; i++ {
		h.AppendUser(fmt.Sprintf("q%d", i))
		assert.LessOrEqual(t, h.Len(), 21)
		h.AppendAssistant(fmt.Sprintf("a%d", i))
		assert.LessOrEqual(t, h.Len(), 21)
	}

	assert.LessOrEqual(t, h.Len(), 21)
	turns := h.Snapshot()
	assert.Equal(t, "a24", turns[len(turns)-1].Message)
	assert.Equal(t, "q24", turns[len(turns)-2].Message)
}

func TestHistory_RoundTrip(t *testing.T) {
	h := NewHistory(4)
	h.AppendUser("old")
	h.AppendUser("what is osmosis?")
	h.AppendAssistant("diffusion of water")

	turns := h.Snapshot()
	require.Len(t, turns, 3)
	assert.Equal(t, models.ChatTurn{Role: models.RoleUser, Message: "what is osmosis?"}, turns[1])
	assert.Equal(t, models.ChatTurn{Role: models.RoleAssistant, Message: "diffusion of water"}, turns[2])
}

func TestHistory_SnapshotIsCopy(t *testing.T) {
	h := NewHistory(4)
	h.AppendUser("hello")

	snap := h.Snapshot()
	snap[0].Message = "changed"

	assert.Equal(t, "hello", h.Snapshot()[0].Message)
}

func TestHistory_TrimsOldestFirst(t *testing.T) {
	h := NewHistory(2)
	h.AppendUser("1")
	h.AppendUser("2")
	h.AppendUser("3")
	h.AppendUser("4")

	turns := h.Snapshot()
	require.Len(t, turns, 3)
	assert.Equal(t, "2", turns[0].Message)
	assert.Equal(t, "4", turns[2].Message)
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "class-1:anonymous", SessionKey("class-1", ""))
	assert.Equal(t, "class-1:u7", SessionKey("class-1", "u7"))
}

func TestMemoryStore_SessionsAreIsolated(t *testing.T) {
	s := NewMemoryStore(20, 0)
	defer s.Close()
	ctx := context.Background()

	_, err := s.AppendUser(ctx, "c1:a", "first")
	require.NoError(t, err)
	require.NoError(t, s.AppendExchange(ctx, "c2:a", "other", "answer"))

	snap, err := s.Snapshot(ctx, "c1:a")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "first", snap[0].Message)

	snap, err = s.Snapshot(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestMemoryStore_ConcurrentAppendsStayBounded(t *testing.T) {
	s := NewMemoryStore(20, 0)
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				turns, err := s.AppendUser(ctx, "class:shared", fmt.Sprintf("w%d-q%d", w, i))
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(turns), 21)
				assert.NoError(t, s.AppendAssistant(ctx, "class:shared", "a"))
			}
		}(w)
	}
	wg.Wait()

	snap, err := s.Snapshot(ctx, "class:shared")
	require.NoError(t, err)
	assert.Len(t, snap, 21)
}

func TestMemoryStore_Expire(t *testing.T) {
	s := NewMemoryStore(20, time.Minute)
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	_, _ = s.AppendUser(ctx, "idle", "q")
	now = now.Add(30 * time.Second)
	_, _ = s.AppendUser(ctx, "active", "q")

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, s.expire())
	assert.Equal(t, 1, s.Len())

	snap, _ := s.Snapshot(ctx, "idle")
	assert.Empty(t, snap)
}

func TestMemoryStore_ExpireSkipsSessionInUse(t *testing.T) {
	s := NewMemoryStore(20, time.Minute)
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	held := s.session("busy")
	now = now.Add(2 * time.Minute)

	held.mu.Lock()
	assert.Equal(t, 0, s.expire())
	held.history.AppendUser("written while the janitor ran")
	held.mu.Unlock()

	snap, err := s.Snapshot(ctx, "busy")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "written while the janitor ran", snap[0].Message)
}

func TestMemoryStore_AppendAfterExpireLandsInLiveSession(t *testing.T) {
	s := NewMemoryStore(20, time.Minute)
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	stale := s.session("idle")
	now = now.Add(2 * time.Minute)
	require.Equal(t, 1, s.expire())
	assert.True(t, stale.retired)

	turns, err := s.AppendUser(ctx, "idle", "are you there?")
	require.NoError(t, err)
	require.Len(t, turns, 1)

	snap, err := s.Snapshot(ctx, "idle")
	require.NoError(t, err)
	assert.Equal(t, turns, snap)
	assert.Equal(t, 1, s.Len())
}
