package oribot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// starboardSession is the slice of the gateway session the starboard
// needs.
type starboardSession interface {
	ChannelMessage(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	MessageReactionAdd(
		channelID string,
		messageID string,
		emojiID string,
		options ...discordgo.RequestOption,
	) error
	MessageReactionRemove(
		channelID string,
		messageID string,
		emojiID string,
		userID string,
		options ...discordgo.RequestOption,
	) error
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// Starboard promotes popular art channel posts. The bot marks eligible
// posts with a pin reaction and awards the author the Creative badge;
// once enough members add their own pins
// while the marker is still present, the post is reposted to the
// starboard channel and the author earns the Pincushion badge. The
// author can opt out by reacting with a cross mark, which removes the
// marker.
type Starboard struct {
	session starboardSession
	logger  *slog.Logger

	artChannelID       string
	starboardChannelID string
	guildID            string
	botUserID          string

	config func() RuntimeConfig
	// Awards a named badge to the post author.
	award func(ctx context.Context, userID string, username string, badgeName string) error

	// Serializes the read-modify-write on a message's reactions so
	// near-simultaneous pins produce exactly one repost.
	mu sync.Mutex
}

func NewStarboard(
	session starboardSession,
	config func() RuntimeConfig,
	award func(ctx context.Context, userID string, username string, badgeName string) error,
	artChannelID string,
	starboardChannelID string,
	guildID string,
	botUserID string,
	handler slog.Handler,
) *Starboard {
	return &Starboard{
		session:            session,
		logger:             slog.New(handler).With(loggerNameKey, "starboard"),
		artChannelID:       artChannelID,
		starboardChannelID: starboardChannelID,
		guildID:            guildID,
		botUserID:          botUserID,
		config:             config,
		award:              award,
	}
}

// hasImage reports whether the message carries at least one image
// attachment or embed.
func hasImage(m *discordgo.Message) bool {
	for _, attachment := range m.Attachments {
		if strings.HasPrefix(attachment.ContentType, "image/") {
			return true
		}
	}
	for _, embed := range m.Embeds {
		if embed.Image != nil || embed.Thumbnail != nil {
			return true
		}
	}
	return false
}

// HandleArtPost marks eligible art channel posts with the pin marker
// and awards the Creative badge to the author.
func (s *Starboard) HandleArtPost(ctx context.Context, m *discordgo.MessageCreate) {
	if m.ChannelID != s.artChannelID || m.Author == nil || m.Author.Bot {
		return
	}
	if !hasImage(m.Message) {
		return
	}
	err := s.session.MessageReactionAdd(m.ChannelID, m.ID, emojiPin)
	if err != nil {
		s.logger.WarnContext(
			ctx,
			"couldn't mark art post",
			"message_id", m.ID,
			tint.Err(err),
		)
	}
	err = s.award(ctx, m.Author.ID, m.Author.Username, badgeCreative)
	if err != nil {
		s.logger.ErrorContext(
			ctx,
			"couldn't award badge",
			"user_id", m.Author.ID,
			tint.Err(err),
		)
	}
}

// HandleReaction processes pin and opt-out reactions on art channel
// posts.
func (s *Starboard) HandleReaction(
	ctx context.Context,
	r *discordgo.MessageReactionAdd,
) {
	if r.ChannelID != s.artChannelID || r.UserID == s.botUserID {
		return
	}
	switch r.Emoji.Name {
	case emojiCrossMark:
		s.handleOptOut(ctx, r)
	case emojiPin:
		s.handlePin(ctx, r)
	}
}

// handleOptOut removes the bot's marker when the post author reacts
// with a cross mark.
func (s *Starboard) handleOptOut(
	ctx context.Context,
	r *discordgo.MessageReactionAdd,
) {
	message, err := s.session.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil {
		s.logger.WarnContext(
			ctx,
			"couldn't fetch art post",
			"message_id", r.MessageID,
			tint.Err(err),
		)
		return
	}
	if message.Author == nil || message.Author.ID != r.UserID {
		return
	}
	err = s.session.MessageReactionRemove(
		r.ChannelID, r.MessageID, emojiPin, s.botUserID,
	)
	if err != nil && !isDiscordErrorCode(err, discordgo.ErrCodeUnknownEmoji) {
		s.logger.WarnContext(
			ctx,
			"couldn't remove pin marker",
			"message_id", r.MessageID,
			tint.Err(err),
		)
	}
}

// handlePin checks the pin tally and promotes the post when it crosses
// the threshold while the bot's marker is still present.
func (s *Starboard) handlePin(
	ctx context.Context,
	r *discordgo.MessageReactionAdd,
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, err := s.session.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil {
		s.logger.WarnContext(
			ctx,
			"couldn't fetch art post",
			"message_id", r.MessageID,
			tint.Err(err),
		)
		return
	}

	pins, markerPresent := pinTally(message)
	if !markerPresent || pins < s.config().PinThreshold {
		return
	}

	// Removing the marker first makes the promotion idempotent: a
	// second reaction landing after this point fails the marker check.
	err = s.session.MessageReactionRemove(
		r.ChannelID, r.MessageID, emojiPin, s.botUserID,
	)
	if err != nil {
		s.logger.WarnContext(
			ctx,
			"couldn't remove pin marker",
			"message_id", r.MessageID,
			tint.Err(err),
		)
		return
	}

	if err = s.repost(message); err != nil {
		s.logger.ErrorContext(
			ctx,
			"couldn't repost to starboard",
			"message_id", r.MessageID,
			tint.Err(err),
		)
		return
	}
	s.logger.InfoContext(
		ctx,
		"promoted art post",
		"message_id", r.MessageID,
		"author_id", message.Author.ID,
		"pins", pins,
	)

	err = s.award(ctx, message.Author.ID, message.Author.Username, badgePincushion)
	if err != nil {
		s.logger.ErrorContext(
			ctx,
			"couldn't award badge",
			"user_id", message.Author.ID,
			tint.Err(err),
		)
	}
}

// pinTally counts member pins on the message, excluding the bot's own
// marker, and reports whether the marker is still present.
func pinTally(message *discordgo.Message) (pins int, markerPresent bool) {
	for _, reaction := range message.Reactions {
		if reaction.Emoji == nil || reaction.Emoji.Name != emojiPin {
			continue
		}
		pins = reaction.Count
		markerPresent = reaction.Me
		if markerPresent {
			pins--
		}
		break
	}
	return pins, markerPresent
}

func (s *Starboard) repost(message *discordgo.Message) error {
	jumpURL := fmt.Sprintf(
		"https://discord.com/channels/%s/%s/%s",
		s.guildID, message.ChannelID, message.ID,
	)
	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    message.Author.Username,
			IconURL: message.Author.AvatarURL(""),
		},
		Description: message.Content,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Original", Value: jumpURL},
		},
	}
	for _, attachment := range message.Attachments {
		if strings.HasPrefix(attachment.ContentType, "image/") {
			embed.Image = &discordgo.MessageEmbedImage{URL: attachment.URL}
			break
		}
	}
	_, err := s.session.ChannelMessageSendComplex(
		s.starboardChannelID,
		&discordgo.MessageSend{
			Content: emojiPin + " " + message.Author.Mention(),
			Embeds:  []*discordgo.MessageEmbed{embed},
		},
	)
	return err
}
