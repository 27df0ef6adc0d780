package oribot

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testArtChannelID       = "chan-art"
	testStarboardChannelID = "chan-starboard"
	testBotUserID          = "bot-user"
)

// fakeStarboardSession serves a single message and records reaction and
// send calls.
type fakeStarboardSession struct {
	mu sync.Mutex

	message    *discordgo.Message
	messageErr error

	reactionAdds    []string
	reactionRemoves []string
	sent            []*discordgo.MessageSend
}

func (f *fakeStarboardSession) ChannelMessage(
	string,
	string,
	...discordgo.RequestOption,
) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message, f.messageErr
}

func (f *fakeStarboardSession) MessageReactionAdd(
	_ string,
	_ string,
	emojiID string,
	_ ...discordgo.RequestOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactionAdds = append(f.reactionAdds, emojiID)
	return nil
}

func (f *fakeStarboardSession) MessageReactionRemove(
	_ string,
	_ string,
	emojiID string,
	_ string,
	_ ...discordgo.RequestOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactionRemoves = append(f.reactionRemoves, emojiID)
	// Mirrors Discord: once the marker is removed, subsequent fetches
	// no longer report it.
	if f.message != nil {
		for _, reaction := range f.message.Reactions {
			if reaction.Emoji != nil && reaction.Emoji.Name == emojiID {
				reaction.Me = false
			}
		}
	}
	return nil
}

func (f *fakeStarboardSession) ChannelMessageSendComplex(
	_ string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return &discordgo.Message{}, nil
}

type badgeAwards struct {
	mu     sync.Mutex
	users  []string
	badges []string
}

func (a *badgeAwards) award(
	_ context.Context,
	userID string,
	_ string,
	badgeName string,
) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users = append(a.users, userID)
	a.badges = append(a.badges, badgeName)
	return nil
}

func newTestStarboard(
	t *testing.T,
	session starboardSession,
	awards *badgeAwards,
) *Starboard {
	t.Helper()
	return NewStarboard(
		session,
		func() RuntimeConfig { return DefaultRuntimeConfig() },
		awards.award,
		testArtChannelID,
		testStarboardChannelID,
		"guild-1",
		testBotUserID,
		testLogHandler(t),
	)
}

func imageMessage(authorID string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "msg-1",
		ChannelID: testArtChannelID,
		Content:   "my latest piece",
		Author:    &discordgo.User{ID: authorID, Username: "artist"},
		Attachments: []*discordgo.MessageAttachment{
			{ContentType: "image/png", URL: "https://cdn.example/art.png"},
		},
	}
}

func pinnedMessage(authorID string, pins int, markerPresent bool) *discordgo.Message {
	m := imageMessage(authorID)
	count := pins
	if markerPresent {
		count++
	}
	m.Reactions = []*discordgo.MessageReactions{
		{
			Emoji: &discordgo.Emoji{Name: emojiPin},
			Count: count,
			Me:    markerPresent,
		},
	}
	return m
}

func TestHasImage(t *testing.T) {
	assert.True(t, hasImage(imageMessage("user-1")))
	assert.True(t, hasImage(&discordgo.Message{
		Embeds: []*discordgo.MessageEmbed{
			{Image: &discordgo.MessageEmbedImage{URL: "x"}},
		},
	}))
	assert.False(t, hasImage(&discordgo.Message{Content: "just text"}))
	assert.False(t, hasImage(&discordgo.Message{
		Attachments: []*discordgo.MessageAttachment{
			{ContentType: "application/zip"},
		},
	}))
}

func TestHandleArtPost(t *testing.T) {
	session := &fakeStarboardSession{}
	awards := &badgeAwards{}
	s := newTestStarboard(t, session, awards)
	ctx := context.Background()

	s.HandleArtPost(ctx, &discordgo.MessageCreate{Message: imageMessage("user-1")})
	assert.Equal(t, []string{emojiPin}, session.reactionAdds)
	// Every valid art post earns the Creative badge.
	assert.Equal(t, []string{"user-1"}, awards.users)
	assert.Equal(t, []string{badgeCreative}, awards.badges)

	// Text-only posts are not marked or awarded.
	session.reactionAdds = nil
	awards.users = nil
	awards.badges = nil
	s.HandleArtPost(ctx, &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ChannelID: testArtChannelID,
			Author:    &discordgo.User{ID: "user-1"},
			Content:   "no image here",
		},
	})
	assert.Empty(t, session.reactionAdds)
	assert.Empty(t, awards.users)

	// Posts outside the art channel are ignored.
	msg := imageMessage("user-1")
	msg.ChannelID = "chan-general"
	s.HandleArtPost(ctx, &discordgo.MessageCreate{Message: msg})
	assert.Empty(t, session.reactionAdds)
	assert.Empty(t, awards.users)
}

func TestHandlePin_Promotion(t *testing.T) {
	threshold := DefaultRuntimeConfig().PinThreshold
	session := &fakeStarboardSession{
		message: pinnedMessage("artist-1", threshold, true),
	}
	awards := &badgeAwards{}
	s := newTestStarboard(t, session, awards)

	s.HandleReaction(context.Background(), &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			ChannelID: testArtChannelID,
			MessageID: "msg-1",
			UserID:    "fan-1",
			Emoji:     discordgo.Emoji{Name: emojiPin},
		},
	})

	require.Len(t, session.sent, 1)
	assert.Equal(t, []string{emojiPin}, session.reactionRemoves)
	assert.Equal(t, []string{"artist-1"}, awards.users)
	assert.Equal(t, []string{badgePincushion}, awards.badges)

	repost := session.sent[0]
	require.Len(t, repost.Embeds, 1)
	assert.Equal(t, "my latest piece", repost.Embeds[0].Description)
	require.NotNil(t, repost.Embeds[0].Image)
	assert.Equal(t, "https://cdn.example/art.png", repost.Embeds[0].Image.URL)
}

func TestHandlePin_BelowThreshold(t *testing.T) {
	threshold := DefaultRuntimeConfig().PinThreshold
	session := &fakeStarboardSession{
		message: pinnedMessage("artist-1", threshold-1, true),
	}
	awards := &badgeAwards{}
	s := newTestStarboard(t, session, awards)

	s.HandleReaction(context.Background(), &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			ChannelID: testArtChannelID,
			MessageID: "msg-1",
			UserID:    "fan-1",
			Emoji:     discordgo.Emoji{Name: emojiPin},
		},
	})

	assert.Empty(t, session.sent)
	assert.Empty(t, awards.users)
}

func TestHandlePin_MarkerGoneMeansNoRepost(t *testing.T) {
	// Enough pins, but the author opted out (marker removed): no
	// promotion.
	threshold := DefaultRuntimeConfig().PinThreshold
	session := &fakeStarboardSession{
		message: pinnedMessage("artist-1", threshold+3, false),
	}
	awards := &badgeAwards{}
	s := newTestStarboard(t, session, awards)

	s.HandleReaction(context.Background(), &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			ChannelID: testArtChannelID,
			MessageID: "msg-1",
			UserID:    "fan-1",
			Emoji:     discordgo.Emoji{Name: emojiPin},
		},
	})

	assert.Empty(t, session.sent)
	assert.Empty(t, awards.users)
}

func TestHandlePin_SecondReactionAfterPromotion(t *testing.T) {
	// The fake clears the marker on removal, so a second qualifying
	// reaction must not produce a second repost.
	threshold := DefaultRuntimeConfig().PinThreshold
	session := &fakeStarboardSession{
		message: pinnedMessage("artist-1", threshold, true),
	}
	awards := &badgeAwards{}
	s := newTestStarboard(t, session, awards)

	reaction := &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			ChannelID: testArtChannelID,
			MessageID: "msg-1",
			UserID:    "fan-1",
			Emoji:     discordgo.Emoji{Name: emojiPin},
		},
	}
	s.HandleReaction(context.Background(), reaction)
	s.HandleReaction(context.Background(), reaction)

	assert.Len(t, session.sent, 1)
	assert.Len(t, awards.users, 1)
}

func TestHandleOptOut(t *testing.T) {
	session := &fakeStarboardSession{
		message: pinnedMessage("artist-1", 0, true),
	}
	s := newTestStarboard(t, session, &badgeAwards{})

	// Someone else's cross mark does nothing.
	s.HandleReaction(context.Background(), &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			ChannelID: testArtChannelID,
			MessageID: "msg-1",
			UserID:    "fan-1",
			Emoji:     discordgo.Emoji{Name: emojiCrossMark},
		},
	})
	assert.Empty(t, session.reactionRemoves)

	// The author's cross mark removes the marker.
	s.HandleReaction(context.Background(), &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			ChannelID: testArtChannelID,
			MessageID: "msg-1",
			UserID:    "artist-1",
			Emoji:     discordgo.Emoji{Name: emojiCrossMark},
		},
	})
	assert.Equal(t, []string{emojiPin}, session.reactionRemoves)
}

func TestHandleReaction_IgnoresBotAndOtherChannels(t *testing.T) {
	session := &fakeStarboardSession{
		message: pinnedMessage("artist-1", 100, true),
	}
	s := newTestStarboard(t, session, &badgeAwards{})

	s.HandleReaction(context.Background(), &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			ChannelID: testArtChannelID,
			MessageID: "msg-1",
			UserID:    testBotUserID,
			Emoji:     discordgo.Emoji{Name: emojiPin},
		},
	})
	s.HandleReaction(context.Background(), &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			ChannelID: "chan-general",
			MessageID: "msg-1",
			UserID:    "fan-1",
			Emoji:     discordgo.Emoji{Name: emojiPin},
		},
	})
	assert.Empty(t, session.sent)
}
