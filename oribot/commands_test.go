package oribot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{input: "3d", expected: 72 * time.Hour},
		{input: "3d12h", expected: 84 * time.Hour},
		{input: "45m", expected: 45 * time.Minute},
		{input: "2h30m", expected: 2*time.Hour + 30*time.Minute},
		{input: " 7D ", expected: 7 * 24 * time.Hour},
		{input: "1d30m", expected: 24*time.Hour + 30*time.Minute},
		{input: "", wantErr: true},
		{input: "x", wantErr: true},
		{input: "-5m", wantErr: true},
		{input: "0d", wantErr: true},
		{input: "d12h", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := parseModDuration(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestConfirmationsResolve(t *testing.T) {
	c := newConfirmations()
	ch := c.create("prompt-1", "issuer-1")

	// Clicks from anyone but the issuer are ignored.
	assert.False(t, c.resolve("prompt-1", "someone-else", true))
	select {
	case <-ch:
		t.Fatal("unexpected delivery for a stranger's click")
	default:
	}

	assert.True(t, c.resolve("prompt-1", "issuer-1", true))
	select {
	case confirmed := <-ch:
		assert.True(t, confirmed)
	default:
		t.Fatal("expected a buffered verdict")
	}

	// A prompt resolves at most once.
	assert.False(t, c.resolve("prompt-1", "issuer-1", true))
}

func TestConfirmationsCancel(t *testing.T) {
	c := newConfirmations()
	ch := c.create("prompt-1", "issuer-1")

	assert.True(t, c.resolve("prompt-1", "issuer-1", false))
	assert.False(t, <-ch)
}

func TestConfirmationsDrop(t *testing.T) {
	c := newConfirmations()
	c.create("prompt-1", "issuer-1")
	c.drop("prompt-1")
	assert.False(t, c.resolve("prompt-1", "issuer-1", true))

	// Dropping an unknown ID is a no-op.
	c.drop("never-created")
}

func TestConfirmCustomID(t *testing.T) {
	assert.Equal(t, "confirm:abc:yes", confirmCustomID("abc", true))
	assert.Equal(t, "confirm:abc:no", confirmCustomID("abc", false))
}

func TestApplicationCommands(t *testing.T) {
	commands := applicationCommands()

	seen := map[string]bool{}
	for _, cmd := range commands {
		assert.NotEmpty(t, cmd.Name)
		assert.False(t, seen[cmd.Name], "duplicate command %q", cmd.Name)
		seen[cmd.Name] = true
		assert.Equal(t, strings.ToLower(cmd.Name), cmd.Name)
	}

	expected := []string{
		commandMute, commandUnmute, commandWarn, commandBan, commandUnban,
		commandNote, commandDellog, commandLoglist, commandModactions,
		commandProfile, commandBadge, commandTicket,
	}
	for _, name := range expected {
		assert.True(t, seen[name], "missing command %q", name)
	}

	// Moderation commands carry default permission gates; member-facing
	// ones do not.
	for _, cmd := range commands {
		switch cmd.Name {
		case commandProfile, commandTicket:
			assert.Nil(t, cmd.DefaultMemberPermissions, cmd.Name)
		default:
			assert.NotNil(t, cmd.DefaultMemberPermissions, cmd.Name)
		}
	}
}
