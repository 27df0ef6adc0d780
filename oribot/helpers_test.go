package oribot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDB opens a fresh SQLite database in a temp dir, migrated and
// wrapped in the serialized write interface.
func setupTestDB(t testing.TB) DBI {
	t.Helper()
	tmpdir := t.TempDir()
	dbfile := filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))

	db, err := CreateDB(context.Background(), dbfile, nil)
	require.NoError(t, err)
	return NewDatabase(db, testLogger(t))
}

func testLogHandler(testing.TB) slog.Handler {
	return tint.NewHandler(
		defaultLogWriter, &tint.Options{Level: slog.LevelWarn},
	)
}

func testLogger(t testing.TB) *slog.Logger {
	return slog.New(testLogHandler(t))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hello", truncate("hello", 5))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "héll", truncate("héllo", 4))
}

func TestChunkMessage_Short(t *testing.T) {
	chunks := chunkMessage("short message", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short message", chunks[0])
}

func TestChunkMessage_SplitsOnNewlines(t *testing.T) {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = fmt.Sprintf("line number %d with some padding", i)
	}
	text := strings.Join(lines, "\n")
	chunks := chunkMessage(text, 120)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 120)
	}
	// No line should be split across chunks.
	for _, line := range lines {
		found := false
		for _, chunk := range chunks {
			if strings.Contains(chunk, line) {
				found = true
				break
			}
		}
		assert.True(t, found, "line missing from output: %s", line)
	}
}

func TestChunkMessage_BalancedCodeFences(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("```\n")
	for i := 0; i < 40; i++ {
		sb.WriteString(fmt.Sprintf("log line %d\n", i))
	}
	sb.WriteString("```")
	chunks := chunkMessage(sb.String(), 200)
	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.Equal(
			t, 0, strings.Count(chunk, "```")%2,
			"chunk %d has an unbalanced code fence", i,
		)
	}
}

func TestHashPassword_RoundTrip(t *testing.T) {
	hashed, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hashed, "$argon2id$"))

	ok, err := verifyPassword(hashed, "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword(hashed, "hunter3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	_, err := verifyPassword("not-a-hash", "whatever")
	assert.Error(t, err)
}

func TestDerive64ByteKey(t *testing.T) {
	key := derive64ByteKey("some secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("some secret"))
	assert.NotEqual(t, key, derive64ByteKey("another secret"))
}

func TestSetupTestDB(t *testing.T) {
	// Sanity-check the gorm wiring the other tests lean on.
	d := setupTestDB(t)
	var count int64
	err := d.DB().Model(&Punishment{}).Count(&count).Error
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.ErrorIs(
		t,
		d.DB().First(&Punishment{}).Error,
		gorm.ErrRecordNotFound,
	)
}
