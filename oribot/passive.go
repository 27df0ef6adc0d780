package oribot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// passiveResponder is the generative collaborator surface the
// dispatcher consumes.
type passiveResponder interface {
	CheckAndRespond(ctx context.Context, message string) (string, bool, error)
}

// inboundMessage is the slice of a gateway message the dispatcher
// evaluates.
type inboundMessage struct {
	UserID      string
	UserMention string
	ChannelID   string
	Content     string
	// True when the author holds an elevated (ban members) permission,
	// which bypasses the channel restriction.
	IsModerator bool
}

// PassiveResponses evaluates inbound chat messages against the trigger
// tables and the generative path. At most one reply per message.
type PassiveResponses struct {
	lib    *ResponseLibrary
	genai  passiveResponder
	logger *slog.Logger

	// Current runtime config snapshot, read fresh on every dispatch.
	config func() RuntimeConfig

	commandsChannelID string

	cooldownMu sync.Mutex
	lastServed map[string]time.Time

	now func() time.Time
}

func NewPassiveResponses(
	lib *ResponseLibrary,
	genai passiveResponder,
	config func() RuntimeConfig,
	commandsChannelID string,
	handler slog.Handler,
) *PassiveResponses {
	return &PassiveResponses{
		lib:               lib,
		genai:             genai,
		logger:            slog.New(handler).With(loggerNameKey, "passive"),
		config:            config,
		commandsChannelID: commandsChannelID,
		lastServed:        map[string]time.Time{},
		now:               time.Now,
	}
}

// onCooldown reports whether the user was served within the window.
// The timestamp is only written on a successful reply.
func (p *PassiveResponses) onCooldown(userID string, window time.Duration) bool {
	p.cooldownMu.Lock()
	defer p.cooldownMu.Unlock()
	last, ok := p.lastServed[userID]
	if !ok {
		return false
	}
	return p.now().Sub(last) < window
}

func (p *PassiveResponses) markServed(userID string) {
	p.cooldownMu.Lock()
	defer p.cooldownMu.Unlock()
	p.lastServed[userID] = p.now()
}

// Dispatch runs the gate sequence for one message and returns the
// reply to send, if any. Gates are evaluated in order and each may
// short-circuit; the generative call only happens once the keyword
// gate has passed.
func (p *PassiveResponses) Dispatch(
	ctx context.Context,
	msg inboundMessage,
) (string, bool) {
	cfg := p.config()
	if !cfg.PassiveEnabled {
		return "", false
	}
	if len(msg.Content) == 0 {
		return "", false
	}

	if response, ok := p.lib.MatchGender(msg.Content); ok {
		return response, true
	}

	if !cfg.PassiveAnyChannel &&
		msg.ChannelID != p.commandsChannelID &&
		!msg.IsModerator {
		return "", false
	}

	if p.onCooldown(msg.UserID, cfg.Cooldown()) {
		return "", false
	}

	if !p.lib.HasBotKeyword(msg.Content) {
		return "", false
	}

	reply, ok := p.respond(ctx, msg.Content, cfg)
	if !ok {
		return "", false
	}

	reply = strings.ReplaceAll(reply, userPingPlaceholder, msg.UserMention)
	if cfg.CooldownEnabled {
		p.markServed(msg.UserID)
	}

	if ku, chime := kuOverlay(cfg.KuChance); chime {
		reply = fmt.Sprintf(
			"%s: %s\n%s: %s",
			emoteOriKu, ku, emoteOriFace, reply,
		)
	}
	return reply, true
}

// respond picks the response path: generative when available, the
// literal trigger table otherwise (or when the model errors out).
func (p *PassiveResponses) respond(
	ctx context.Context,
	content string,
	cfg RuntimeConfig,
) (string, bool) {
	canonical := p.lib.CanonicalizeBotName(content)

	if p.genai != nil {
		reply, ok, err := p.genai.CheckAndRespond(ctx, canonical)
		if err == nil {
			return reply, ok
		}
		p.logger.WarnContext(
			ctx,
			"generative path failed, falling back to trigger table",
			tint.Err(err),
		)
	}

	return p.lib.MatchTrigger(content, p.now(), cfg.ForceBirthday)
}
