package oribot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchGender(t *testing.T) {
	lib := NewResponseLibrary()

	testCases := []struct {
		input   string
		matches bool
	}{
		{"is ori a boy or a girl", true},
		{"is oribot a boy or a girl", true},
		{"whats oris gender", true},
		{"what gender is ori", true},
		{"IS ORI MALE OR FEMALE", true},
		{"is ori a boy or a girl?", false},
		{"tell me about ori", false},
		{"boy or girl", false},
	}
	for _, tc := range testCases {
		t.Run(
			tc.input, func(t *testing.T) {
				response, ok := lib.MatchGender(tc.input)
				assert.Equal(t, tc.matches, ok)
				if tc.matches {
					assert.Equal(t, lib.genderResponse, response)
				}
			},
		)
	}
}

func TestHasBotKeyword(t *testing.T) {
	lib := NewResponseLibrary()
	assert.True(t, lib.HasBotKeyword("hey ori"))
	assert.True(t, lib.HasBotKeyword("ORIBOT are you there"))
	assert.True(t, lib.HasBotKeyword("hello little spirit"))
	assert.False(t, lib.HasBotKeyword("orion is a constellation"))
	assert.False(t, lib.HasBotKeyword("original post"))
	assert.False(t, lib.HasBotKeyword("hello there"))
}

func TestCanonicalizeBotName(t *testing.T) {
	lib := NewResponseLibrary()
	assert.Equal(t, "hey ori, hello", lib.CanonicalizeBotName("hey oribot, hello"))
	assert.Equal(t, "hi ori", lib.CanonicalizeBotName("hi little spirit"))
	assert.Equal(t, "original post", lib.CanonicalizeBotName("original post"))
}

func TestMatchTrigger_Greeting(t *testing.T) {
	lib := NewResponseLibrary()
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	response, ok := lib.MatchTrigger("hi ori", now, false)
	require.True(t, ok)
	assert.Contains(t, lib.triggers[0].responses, response)

	_, ok = lib.MatchTrigger("hi ori, how do I configure X", now, false)
	assert.False(t, ok)

	_, ok = lib.MatchTrigger("hello there", now, false)
	assert.False(t, ok)
}

func TestMatchTrigger_Birthday(t *testing.T) {
	lib := NewResponseLibrary()
	birthday := time.Date(2025, time.March, 11, 9, 0, 0, 0, time.UTC)
	notBirthday := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

	response, ok := lib.MatchTrigger("happy birthday ori", birthday, false)
	require.True(t, ok)
	assert.NotContains(t, response, "March")

	response, ok = lib.MatchTrigger("happy birthday ori", notBirthday, false)
	require.True(t, ok)
	assert.Contains(t, response, "March")

	// Forcing the birthday flips the table on any date.
	response, ok = lib.MatchTrigger("happy birthday ori", notBirthday, true)
	require.True(t, ok)
	assert.NotContains(t, response, "March")
}

func TestIsBotBirthday(t *testing.T) {
	assert.True(t, isBotBirthday(
		time.Date(2024, time.March, 11, 23, 0, 0, 0, time.UTC), false,
	))
	assert.False(t, isBotBirthday(
		time.Date(2024, time.March, 12, 0, 0, 0, 0, time.UTC), false,
	))
	assert.True(t, isBotBirthday(
		time.Date(2024, time.March, 12, 0, 0, 0, 0, time.UTC), true,
	))
}

func TestKuOverlay(t *testing.T) {
	_, chimed := kuOverlay(0)
	assert.False(t, chimed)

	for i := 0; i < 50; i++ {
		ku, chimed := kuOverlay(1)
		require.True(t, chimed)
		assert.NotEmpty(t, ku)
	}
}

func TestTriggerTablesCompile(t *testing.T) {
	// NewResponseLibrary panics on a malformed fragment chain.
	lib := NewResponseLibrary()
	assert.NotEmpty(t, lib.triggers)
	for i, trigger := range lib.triggers {
		assert.NotEmpty(t, trigger.responses, "trigger %d has no responses", i)
	}
}
