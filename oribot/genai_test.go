package oribot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var correlationTokenPattern = regexp.MustCompile(
	`"([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}),your response"`,
)

// genAITestServer answers generateContent requests. The response text
// is produced from the true correlation token parsed out of the
// request's final instruction.
func genAITestServer(
	t *testing.T,
	respond func(trueToken string) string,
) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.Path, ":generateContent")
			assert.NotEmpty(t, r.URL.Query().Get("key"))

			var request genAIRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
			require.Len(t, request.Contents, 1)
			parts := request.Contents[0].Parts
			require.NotEmpty(t, parts)

			// The instruction carrying the tokens is the final input
			// part.
			instruction := parts[len(parts)-2].Text
			match := correlationTokenPattern.FindStringSubmatch(instruction)
			require.NotNil(t, match, "no correlation token in instruction")

			response := genAIResponse{
				Candidates: []genAICandidate{
					{
						Content: &genAIContent{
							Parts: []genAIPart{{Text: respond(match[1])}},
						},
						FinishReason: "STOP",
					},
				},
			}
			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(response))
		},
	))
}

func newTestGenAI(t *testing.T, baseURL string) *GenAI {
	t.Helper()
	cfg := GenAIConfig{
		Token:   "test-token",
		Model:   "test-model",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	}
	g, err := NewGenAI(cfg, testBotUserID, testLogHandler(t))
	require.NoError(t, err)
	require.NotNil(t, g)
	return g
}

func TestNewGenAI_NoToken(t *testing.T) {
	g, err := NewGenAI(GenAIConfig{}, testBotUserID, testLogHandler(t))
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestCheckAndRespond_PositiveVerdict(t *testing.T) {
	server := genAITestServer(t, func(trueToken string) string {
		return trueToken + ",Hi! I was just thinking about you."
	})
	defer server.Close()
	g := newTestGenAI(t, server.URL)

	reply, ok, err := g.CheckAndRespond(context.Background(), "hi ori")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hi! I was just thinking about you.", reply)
}

func TestCheckAndRespond_NegativeVerdict(t *testing.T) {
	server := genAITestServer(t, func(string) string {
		return "some-other-token," + noResponseMarker
	})
	defer server.Close()
	g := newTestGenAI(t, server.URL)

	reply, ok, err := g.CheckAndRespond(context.Background(), "talking to someone else")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, reply)
}

func TestCheckAndRespond_DiscardSentinel(t *testing.T) {
	server := genAITestServer(t, func(trueToken string) string {
		return trueToken + ",here you go " + discardSentinel
	})
	defer server.Close()
	g := newTestGenAI(t, server.URL)

	_, ok, err := g.CheckAndRespond(context.Background(), "hi ori")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckAndRespond_EmptyReply(t *testing.T) {
	server := genAITestServer(t, func(trueToken string) string {
		return trueToken + ","
	})
	defer server.Close()
	g := newTestGenAI(t, server.URL)

	_, ok, err := g.CheckAndRespond(context.Background(), "hi ori")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckAndRespond_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		},
	))
	defer server.Close()
	g := newTestGenAI(t, server.URL)

	// No usable candidate is a miss, not a transport failure.
	reply, ok, err := g.CheckAndRespond(context.Background(), "hi ori")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, reply)
}

func TestCheckAndRespond_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		},
	))
	defer server.Close()
	g := newTestGenAI(t, server.URL)

	_, ok, err := g.CheckAndRespond(context.Background(), "hi ori")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "429")
}

func TestLoadPromptCorpus(t *testing.T) {
	pairs, err := loadPromptCorpus()
	require.NoError(t, err)
	assert.NotEmpty(t, pairs)
	for _, pair := range pairs {
		assert.NotEmpty(t, pair.Input)
		assert.NotEmpty(t, pair.Output)
	}
}

func TestRetemplate(t *testing.T) {
	now := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	raw := []promptPair{
		{Input: "hi {ORI}, what day is it", Output: "It's {TODAY}!"},
		{
			Input:  "when is your birthday",
			Output: "{BIRTHDATE}, only {BIRTHDAYDAYS} days away!",
		},
	}
	pairs := retemplate(raw, now)
	require.Len(t, pairs, 2)
	assert.Equal(t, "hi ori, what day is it", pairs[0].Input)
	assert.Equal(t, "It's 1-Mar-2025!", pairs[0].Output)
	assert.Equal(t, "11-Mar-2019, only 10 days away!", pairs[1].Output)
	// The raw corpus is untouched.
	assert.Contains(t, raw[0].Output, "{TODAY}")
}

func TestDaysUntilBirthday(t *testing.T) {
	assert.Equal(t, 1, daysUntilBirthday(
		time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
	))
	assert.Equal(t, 0, daysUntilBirthday(
		time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC),
	))
	assert.Equal(t, 364, daysUntilBirthday(
		time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
	))
}

func TestBuildCheckAndRespond(t *testing.T) {
	g := &GenAI{
		corpus:     []promptPair{{Input: "hi {ORI}", Output: "Hi!"}},
		botMention: "<@" + testBotUserID + ">",
	}
	request := g.buildCheckAndRespond(
		"hello ori", "token-true", "token-false", time.Now(),
	)
	require.Len(t, request.Contents, 1)
	parts := request.Contents[0].Parts
	// One example pair plus the instruction and the empty output slot.
	require.Len(t, parts, 4)
	assert.Equal(t, "input: hi ori", parts[0].Text)
	assert.Equal(t, "output: Hi!", parts[1].Text)
	assert.Contains(t, parts[2].Text, "token-true")
	assert.Contains(t, parts[2].Text, "token-false")
	assert.Contains(t, parts[2].Text, "hello ori")
	assert.True(t, strings.HasSuffix(parts[3].Text, "output: "))
	assert.NotEmpty(t, request.SafetySettings)
}
