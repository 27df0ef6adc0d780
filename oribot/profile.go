package oribot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const defaultProfileColor = 0x94D4FF

// awardBadge grants a named badge, creating the user row first. Wired
// into the starboard as its award callback.
func (b *OriBot) awardBadge(
	ctx context.Context,
	userID string,
	username string,
	badgeName string,
) error {
	if _, _, err := b.GetOrCreateUser(userID, username); err != nil {
		return err
	}
	badge, err := GetBadgeByName(b.db.DB(), badgeName)
	if err != nil {
		return err
	}
	if err = AddBadgeToUser(b.writeDB, userID, badge); err != nil {
		return err
	}
	b.logger.InfoContext(
		ctx,
		"awarded badge",
		columnUserID, userID,
		"badge", badgeName,
	)
	return nil
}

// profileEmbed renders a user's profile card.
func (b *OriBot) profileEmbed(user *User) (*discordgo.MessageEmbed, error) {
	experience, err := user.Experience(b.db.DB())
	if err != nil {
		return nil, err
	}

	var badges []UserBadge
	err = b.db.DB().Preload("Badge").Where(
		"user_id = ?", user.ID,
	).Find(&badges).Error
	if err != nil {
		return nil, fmt.Errorf("error loading badges: %w", err)
	}
	var uniques []UniqueBadge
	err = b.db.DB().Where("user_id = ?", user.ID).Find(&uniques).Error
	if err != nil {
		return nil, fmt.Errorf("error loading unique badges: %w", err)
	}

	title := user.Title
	if title == "" {
		title = user.Username
	}
	color := user.Color
	if color == 0 {
		color = defaultProfileColor
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: user.Description,
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Spirit Light",
				Value:  strconv.Itoa(experience),
				Inline: true,
			},
		},
	}

	var badgeLines []string
	for _, ub := range badges {
		line := fmt.Sprintf(
			"%s **%s** — %s",
			ub.Badge.Emote, ub.Badge.Name, ub.Badge.MiniDescription,
		)
		if ub.Count > 1 {
			line += fmt.Sprintf(" (x%d)", ub.Count)
		}
		badgeLines = append(badgeLines, line)
	}
	for _, ub := range uniques {
		badgeLines = append(badgeLines, fmt.Sprintf(
			"✨ **%s** — %s", ub.BadgeType, ub.Data,
		))
	}
	if len(badgeLines) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Badges",
			Value: strings.Join(badgeLines, "\n"),
		})
	}
	return embed, nil
}

func (b *OriBot) commandProfile(ctx context.Context, i *discordgo.InteractionCreate) {
	issuer := getDiscordUser(i)
	if issuer == nil {
		return
	}
	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "view":
		b.profileView(ctx, i, sub, issuer)
	case "set":
		b.profileSet(ctx, i, sub, issuer)
	}
}

func (b *OriBot) profileView(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
	issuer *discordgo.User,
) {
	targetID := issuer.ID
	targetName := issuer.Username
	for _, opt := range sub.Options {
		if opt.Name == "user" {
			target := opt.UserValue(nil)
			targetID = target.ID
			targetName = target.Username
		}
	}

	user, _, err := b.GetOrCreateUser(targetID, targetName)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't load profile")
		b.respondEphemeral(i, "Something went wrong loading that profile.")
		return
	}
	embed, err := b.profileEmbed(user)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't render profile")
		b.respondEphemeral(i, "Something went wrong loading that profile.")
		return
	}

	err = b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
			},
		},
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "couldn't respond with profile", tint.Err(err))
	}
}

func (b *OriBot) profileSet(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
	issuer *discordgo.User,
) {
	updates := map[string]any{}
	for _, opt := range sub.Options {
		switch opt.Name {
		case "title":
			updates["title"] = truncate(opt.StringValue(), 100)
		case "description":
			updates["description"] = truncate(opt.StringValue(), 500)
		case "color":
			raw := strings.TrimPrefix(opt.StringValue(), "#")
			color, err := strconv.ParseInt(raw, 16, 32)
			if err != nil || color < 0 || color > 0xFFFFFF {
				b.respondEphemeral(
					i, "I couldn't read that color. Use hex like 94D4FF.",
				)
				return
			}
			updates["color"] = int(color)
		}
	}
	if len(updates) == 0 {
		b.respondEphemeral(i, "Give me at least one field to change!")
		return
	}

	user, _, err := b.GetOrCreateUser(issuer.ID, issuer.Username)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't load profile")
		b.respondEphemeral(i, "Something went wrong saving your profile.")
		return
	}
	if _, err = b.writeDB.Updates(user, updates); err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't save profile")
		b.respondEphemeral(i, "Something went wrong saving your profile.")
		return
	}
	// Drop the cached copy so the next read picks up the changes.
	b.userCache.Clear()
	b.respondEphemeral(i, "Profile updated!")
}

func (b *OriBot) commandBadge(ctx context.Context, i *discordgo.InteractionCreate) {
	issuer := getDiscordUser(i)
	if issuer == nil || !memberHasPermission(i, discordgo.PermissionModerateMembers) {
		b.respondEphemeral(i, "You don't have permission to do that.")
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	var target *discordgo.User
	var badgeName string
	for _, opt := range sub.Options {
		switch opt.Name {
		case "user":
			target = opt.UserValue(nil)
		case "badge":
			badgeName = opt.StringValue()
		}
	}
	if target == nil || badgeName == "" {
		b.respondEphemeral(i, "I need both a user and a badge.")
		return
	}

	badge, err := GetBadgeByName(b.db.DB(), badgeName)
	if err != nil {
		b.respondEphemeral(i, fmt.Sprintf("I don't know a badge called %q.", badgeName))
		return
	}
	if _, _, err = b.GetOrCreateUser(target.ID, target.Username); err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't record user")
		b.respondEphemeral(i, "Something went wrong updating badges.")
		return
	}

	switch sub.Name {
	case "give":
		err = AddBadgeToUser(b.writeDB, target.ID, badge)
	case "remove":
		err = RemoveBadgeFromUser(b.writeDB, target.ID, badge)
	}
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't update badges")
		b.respondEphemeral(i, "Something went wrong updating badges.")
		return
	}
	b.respondEphemeral(i, fmt.Sprintf(
		"Done! %s badge %s for %s.", sub.Name, badge.Name, target.Mention(),
	))
}

func (b *OriBot) commandTicket(ctx context.Context, i *discordgo.InteractionCreate) {
	issuer := getDiscordUser(i)
	if issuer == nil {
		return
	}
	if b.config.Discord.TicketChannelID == "" {
		b.respondEphemeral(i, "Tickets aren't set up on this server.")
		return
	}

	thread, err := b.discord.session.ThreadStartComplex(
		b.config.Discord.TicketChannelID,
		&discordgo.ThreadStart{
			Name:                "ticket-" + issuer.Username,
			Type:                discordgo.ChannelTypeGuildPrivateThread,
			AutoArchiveDuration: 1440,
			Invitable:           false,
		},
	)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't start ticket thread")
		b.respondEphemeral(i, "Something went wrong opening your ticket.")
		return
	}

	if err = b.OpenTicket(thread.ID, issuer.ID); err != nil {
		// Best effort cleanup of the orphaned thread.
		archived := true
		_, _ = b.discord.session.ChannelEditComplex(
			thread.ID, &discordgo.ChannelEdit{Archived: &archived},
		)
		if errors.Is(err, errTicketAlreadyOpen) {
			b.respondEphemeral(i, "You already have an open ticket!")
			return
		}
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't record ticket")
		b.respondEphemeral(i, "Something went wrong opening your ticket.")
		return
	}

	greeting := fmt.Sprintf(
		"%s a moderator will be with you shortly. <@&%s>",
		issuer.Mention(), b.config.Discord.ModRoleID,
	)
	if _, err = b.discord.session.ChannelMessageSend(thread.ID, greeting); err != nil {
		b.logger.ErrorContext(ctx, "couldn't greet ticket thread", tint.Err(err))
	}
	b.respondEphemeral(i, fmt.Sprintf("Your ticket is open: <#%s>", thread.ID))
}
