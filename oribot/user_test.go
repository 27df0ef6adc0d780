package oribot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBot(t *testing.T) *OriBot {
	t.Helper()
	d := setupTestDB(t)
	return &OriBot{
		config:        DefaultConfig(),
		db:            d,
		writeDB:       d,
		logger:        testLogger(t),
		logHandler:    testLogHandler(t),
		userCache:     newUserCache(),
		tickets:       newTicketMirror(),
		confirmations: newConfirmations(),
	}
}

func TestGetOrCreateUser(t *testing.T) {
	b := newTestBot(t)

	user, created, err := b.GetOrCreateUser("user-1", "spirit")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "spirit", user.Username)

	// Second call hits the cache.
	again, created, err := b.GetOrCreateUser("user-1", "ignored")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, user, again)
}

func TestGetOrCreateUser_ReloadAfterCacheClear(t *testing.T) {
	b := newTestBot(t)

	_, created, err := b.GetOrCreateUser("user-1", "spirit")
	require.NoError(t, err)
	require.True(t, created)

	b.userCache.Clear()

	user, created, err := b.GetOrCreateUser("user-1", "ignored")
	require.NoError(t, err)
	assert.False(t, created)
	// The persisted username wins over the one passed on a cache miss.
	assert.Equal(t, "spirit", user.Username)
}

func TestUserCache(t *testing.T) {
	cache := newUserCache()
	_, ok := cache.Get("user-1")
	assert.False(t, ok)

	u := &User{ID: "user-1", Username: "spirit"}
	cache.Set(u)
	got, ok := cache.Get("user-1")
	require.True(t, ok)
	assert.Same(t, u, got)

	cache.Clear()
	_, ok = cache.Get("user-1")
	assert.False(t, ok)
}
