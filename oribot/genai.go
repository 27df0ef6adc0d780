package oribot

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

//go:embed training.csv
var trainingData []byte

// discardSentinel marks a model reply that should be dropped even when
// the positive correlation token is present.
const discardSentinel = "{c5dc92df-f8e9-4a25-bbe7-7ece17e73e88}"

const noResponseMarker = "NORESPONSE"

// botBirthdate is the fixed birthdate substituted into prompt
// templates.
const botBirthdate = "11-Mar-2019"

// errNoAnswer distinguishes "the model produced no usable candidate"
// from a transport failure.
var errNoAnswer = errors.New("model could not answer")

type genAIPart struct {
	Text string `json:"text"`
}

type genAIContent struct {
	Parts []genAIPart `json:"parts"`
	Role  string      `json:"role"`
}

type genAIGenerationConfig struct {
	Temperature     float64  `json:"temperature"`
	TopK            int      `json:"topK"`
	TopP            int      `json:"topP"`
	MaxOutputTokens int      `json:"maxOutputTokens"`
	StopSequences   []string `json:"stopSequences"`
}

type genAISafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type genAIRequest struct {
	Contents         []genAIContent        `json:"contents"`
	GenerationConfig genAIGenerationConfig `json:"generationConfig"`
	SafetySettings   []genAISafetySetting  `json:"safetySettings"`
}

type genAICandidate struct {
	Content      *genAIContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type genAIResponse struct {
	Candidates []genAICandidate `json:"candidates"`
}

// textResult returns the first candidate's first text segment, or
// errNoAnswer when the response has no usable candidate.
func (r genAIResponse) textResult() (text string, finishReason string, err error) {
	if len(r.Candidates) == 0 {
		return "", "", errNoAnswer
	}
	candidate := r.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", candidate.FinishReason, errNoAnswer
	}
	return candidate.Content.Parts[0].Text, candidate.FinishReason, nil
}

func defaultGenerationConfig() genAIGenerationConfig {
	return genAIGenerationConfig{
		Temperature:     0.9,
		TopK:            1,
		TopP:            1,
		MaxOutputTokens: 2048,
		StopSequences:   []string{},
	}
}

func defaultSafetySettings() []genAISafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	settings := make([]genAISafetySetting, len(categories))
	for i, category := range categories {
		settings[i] = genAISafetySetting{
			Category:  category,
			Threshold: "BLOCK_MEDIUM_AND_ABOVE",
		}
	}
	return settings
}

// promptPair is one example exchange in the prompt corpus.
type promptPair struct {
	Input  string
	Output string
}

// loadPromptCorpus parses the embedded training pairs.
func loadPromptCorpus() ([]promptPair, error) {
	reader := csv.NewReader(bytes.NewReader(trainingData))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error parsing training data: %w", err)
	}
	if len(records) < 2 {
		return nil, errors.New("training data has no example pairs")
	}
	pairs := make([]promptPair, 0, len(records)-1)
	for _, record := range records[1:] { // skip header
		if len(record) != 2 {
			return nil, fmt.Errorf("malformed training record: %v", record)
		}
		pairs = append(pairs, promptPair{Input: record[0], Output: record[1]})
	}
	return pairs, nil
}

// retemplate substitutes the date placeholders into a copy of the raw
// corpus. Called per query so {TODAY} and {BIRTHDAYDAYS} stay fresh.
func retemplate(raw []promptPair, now time.Time) []promptPair {
	today := now.Format("2-Jan-2006")
	days := fmt.Sprintf("%d", daysUntilBirthday(now))
	out := make([]promptPair, len(raw))
	for i, pair := range raw {
		input := strings.ReplaceAll(pair.Input, "{ORI}", canonicalBotName)
		input = strings.ReplaceAll(input, "{TODAY}", today)
		input = strings.ReplaceAll(input, "{BIRTHDATE}", botBirthdate)

		output := strings.ReplaceAll(pair.Output, "{TODAY}", today)
		output = strings.ReplaceAll(output, "{BIRTHDATE}", botBirthdate)
		output = strings.ReplaceAll(output, "{BIRTHDAYDAYS}", days)

		out[i] = promptPair{Input: input, Output: output}
	}
	return out
}

// daysUntilBirthday counts whole days until the next March 11th.
func daysUntilBirthday(now time.Time) int {
	birthday := time.Date(
		now.Year(), botBirthdayMonth, botBirthdayDay,
		0, 0, 0, 0, now.Location(),
	)
	if birthday.Before(now) {
		birthday = birthday.AddDate(1, 0, 0)
	}
	return int(birthday.Sub(now).Hours() / 24)
}

// GenAI is the generative collaborator client. It speaks the
// generateContent REST shape directly over an injected http.Client.
type GenAI struct {
	config     GenAIConfig
	httpClient *http.Client
	logger     *slog.Logger

	corpus []promptPair
	// Posted alongside the prompt so the model knows its own mention.
	botMention string
}

// NewGenAI builds the client. Returns nil when no token is configured;
// callers treat a nil client as "generative path unavailable".
func NewGenAI(cfg GenAIConfig, botUserID string, handler slog.Handler) (*GenAI, error) {
	if cfg.Token == "" {
		return nil, nil
	}
	corpus, err := loadPromptCorpus()
	if err != nil {
		return nil, err
	}
	logger := slog.New(handler).With(loggerNameKey, "genai")
	return &GenAI{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		corpus:     corpus,
		botMention: fmt.Sprintf("<@%s>", botUserID),
	}, nil
}

// buildCheckAndRespond assembles the prompt: the retemplated corpus as
// example pairs, then the live message wrapped in the correlation
// instruction as the final unanswered turn.
func (g *GenAI) buildCheckAndRespond(
	message string,
	trueToken string,
	falseToken string,
	now time.Time,
) genAIRequest {
	pairs := retemplate(g.corpus, now)
	var parts []genAIPart
	for _, pair := range pairs {
		parts = append(parts,
			genAIPart{Text: "input: " + pair.Input},
			genAIPart{Text: "output: " + pair.Output},
		)
	}
	instruction := fmt.Sprintf(
		"Is the user in the next message mentioning you by saying your name"+
			" or using the @ mention?, if yes respond like this:"+
			" \"%s,your response\", if not respond like this:"+
			" \"%s,%s\". Just so you know, your user mention is %s: %s",
		trueToken, falseToken, noResponseMarker, g.botMention, message,
	)
	parts = append(parts,
		genAIPart{Text: "input: " + instruction},
		genAIPart{Text: "output: "},
	)
	return genAIRequest{
		Contents:         []genAIContent{{Parts: parts}},
		GenerationConfig: defaultGenerationConfig(),
		SafetySettings:   defaultSafetySettings(),
	}
}

// query posts a request to the generateContent endpoint.
func (g *GenAI) query(ctx context.Context, request genAIRequest) (genAIResponse, error) {
	var response genAIResponse

	body, err := json.Marshal(request)
	if err != nil {
		return response, fmt.Errorf("error encoding request: %w", err)
	}
	endpoint := fmt.Sprintf(
		"%s/models/%s:generateContent?key=%s",
		strings.TrimSuffix(g.config.BaseURL, "/"),
		g.config.Model,
		g.config.Token,
	)
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return response, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return response, fmt.Errorf("error querying model: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response, fmt.Errorf("error reading response: %w", err)
	}
	g.logger.DebugContext(
		ctx,
		"model query completed",
		"status", resp.StatusCode,
		"elapsed", time.Since(started),
	)
	if resp.StatusCode != http.StatusOK {
		return response, fmt.Errorf(
			"model returned status %d: %s",
			resp.StatusCode,
			truncate(string(data), 256),
		)
	}
	if err = json.Unmarshal(data, &response); err != nil {
		return response, fmt.Errorf("error decoding response: %w", err)
	}
	return response, nil
}

// CheckAndRespond asks the model whether the message addresses the bot
// and, if so, for a reply. The verdict rides in the free-text response
// as one of two fresh correlation tokens. Returns ok=false for a
// negative verdict, a discarded reply, or a no-answer outcome.
func (g *GenAI) CheckAndRespond(
	ctx context.Context,
	message string,
) (reply string, ok bool, err error) {
	trueToken := uuid.NewString()
	falseToken := uuid.NewString()

	request := g.buildCheckAndRespond(message, trueToken, falseToken, time.Now())
	response, err := g.query(ctx, request)
	if err != nil {
		return "", false, err
	}

	text, finishReason, err := response.textResult()
	if err != nil {
		g.logger.InfoContext(
			ctx,
			"model gave no answer",
			"finish_reason", finishReason,
			tint.Err(err),
		)
		return "", false, nil
	}

	if !strings.HasPrefix(text, trueToken) || strings.Contains(text, discardSentinel) {
		return "", false, nil
	}
	reply = strings.TrimPrefix(text, trueToken+",")
	reply = strings.TrimPrefix(reply, trueToken)
	reply = strings.TrimSpace(reply)
	if reply == "" || reply == noResponseMarker {
		return "", false, nil
	}
	return reply, true, nil
}
