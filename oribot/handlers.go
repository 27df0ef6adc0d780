package oribot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord caps member timeouts at 28 days; longer mutes are reapplied
// when they lapse or the member rejoins.
const maxDiscordTimeout = 28 * 24 * time.Hour

// registerGatewayHandlers wires the gateway event handlers. Each
// handler hands off to a goroutine so a slow path never blocks the
// dispatch loop.
func (b *OriBot) registerGatewayHandlers(d *Discord) {
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(b.handlerMessageCreate()),
		d.session.AddHandler(b.handlerReactionAdd()),
		d.session.AddHandler(b.handlerGuildMemberAdd()),
		d.session.AddHandler(b.handlerGuildBanAdd()),
		d.session.AddHandler(b.handlerAutoModeration()),
		d.session.AddHandler(b.handlerInteractionCreate()),
	)
}

// canBypassChannelGate reports whether the permission set lets a member
// use the passive responder outside the commands channel. Keyed on the
// ban-members bit rather than role identity.
func canBypassChannelGate(permissions int64) bool {
	return permissions&discordgo.PermissionBanMembers != 0
}

// memberCanModerate resolves the author's effective permissions in the
// channel and checks the ban-members bit.
func (b *OriBot) memberCanModerate(userID string, channelID string) bool {
	permissions, err := b.discord.session.UserChannelPermissions(userID, channelID)
	if err != nil {
		b.logger.Warn(
			"couldn't resolve member permissions",
			columnUserID, userID,
			tint.Err(err),
		)
		return false
	}
	return canBypassChannelGate(permissions)
}

func (b *OriBot) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if m.GuildID != "" && m.GuildID != b.config.Discord.GuildID {
			return
		}
		// Events can arrive between the session opening and startup
		// finishing.
		if b.passive == nil || b.starboard == nil {
			return
		}
		if b.RuntimeConfig().Paused {
			return
		}

		ctx := context.Background()
		go func() {
			defer b.reporter.recoverPanic(ctx, "message_create")
			b.handleChatMessage(ctx, m)
		}()
		go func() {
			defer b.reporter.recoverPanic(ctx, "art_post")
			b.starboard.HandleArtPost(ctx, m)
		}()
	}
}

// handleChatMessage runs the passive response dispatch and sends any
// reply back to the originating channel.
func (b *OriBot) handleChatMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if _, _, err := b.GetOrCreateUser(m.Author.ID, m.Author.Username); err != nil {
		b.logger.ErrorContext(ctx, "couldn't record user", tint.Err(err))
	}

	reply, ok := b.passive.Dispatch(ctx, inboundMessage{
		UserID:      m.Author.ID,
		UserMention: m.Author.Mention(),
		ChannelID:   m.ChannelID,
		Content:     m.Content,
		IsModerator: b.memberCanModerate(m.Author.ID, m.ChannelID),
	})
	if !ok {
		return
	}
	_, err := b.discord.session.ChannelMessageSendReply(
		m.ChannelID, reply, m.Reference(),
	)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{
			ChannelID: m.ChannelID,
		}, "couldn't send passive response")
	}
}

func (b *OriBot) handlerReactionAdd() func(
	s *discordgo.Session,
	r *discordgo.MessageReactionAdd,
) {
	return func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if b.starboard == nil || b.RuntimeConfig().Paused {
			return
		}
		ctx := context.Background()
		go func() {
			defer b.reporter.recoverPanic(ctx, "reaction_add")
			b.starboard.HandleReaction(ctx, r)
		}()
	}
}

// accountCreatedAt derives the account creation time from the user's
// snowflake.
func accountCreatedAt(userID string) (time.Time, error) {
	return discordgo.SnowflakeTimestamp(userID)
}

func (b *OriBot) handlerGuildMemberAdd() func(
	s *discordgo.Session,
	m *discordgo.GuildMemberAdd,
) {
	return func(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.GuildID != b.config.Discord.GuildID || m.User == nil {
			return
		}
		ctx := context.Background()
		go func() {
			defer b.reporter.recoverPanic(ctx, "guild_member_add")
			b.handleMemberJoin(ctx, m)
		}()
	}
}

// handleMemberJoin gates new members on account age, schedules the
// delayed image role grant and reapplies any active mute.
func (b *OriBot) handleMemberJoin(ctx context.Context, m *discordgo.GuildMemberAdd) {
	cfg := b.RuntimeConfig()
	logger := b.logger.With(columnUserID, m.User.ID)

	created, err := accountCreatedAt(m.User.ID)
	if err != nil {
		logger.ErrorContext(ctx, "couldn't parse account snowflake", tint.Err(err))
		return
	}
	minAge := time.Duration(cfg.MinAccountAgeDays) * 24 * time.Hour
	if age := time.Since(created); age < minAge {
		logger.InfoContext(
			ctx,
			"kicking member below minimum account age",
			"account_age", age,
		)
		b.kickYoungAccount(ctx, m.User.ID, cfg.MinAccountAgeDays)
		return
	}

	if _, _, err = b.GetOrCreateUser(m.User.ID, m.User.Username); err != nil {
		logger.ErrorContext(ctx, "couldn't record user", tint.Err(err))
	}

	grantAt := time.Now().Add(
		time.Duration(cfg.ImageRoleDelayDays) * 24 * time.Hour,
	)
	if err = schedulePendingImageRole(b.writeDB, m.User.ID, grantAt); err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't schedule image role")
	}

	b.reapplyMute(ctx, m.User.ID, logger)
}

func (b *OriBot) kickYoungAccount(ctx context.Context, userID string, minDays int) {
	b.dmUser(ctx, userID, fmt.Sprintf(
		"Hi! Your account needs to be at least %d days old to join this"+
			" server. Please come back later, we'd love to have you!",
		minDays,
	))
	err := b.discord.session.GuildMemberDeleteWithReason(
		b.config.Discord.GuildID,
		userID,
		"account below minimum age",
	)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't kick new account")
	}
}

// dmUser sends a direct message, tolerating closed DMs.
func (b *OriBot) dmUser(ctx context.Context, userID string, content string) {
	channel, err := b.discord.session.UserChannelCreate(userID)
	if err != nil {
		b.logger.InfoContext(
			ctx,
			"couldn't open DM channel",
			columnUserID, userID,
			tint.Err(err),
		)
		return
	}
	if _, err = b.discord.session.ChannelMessageSend(channel.ID, content); err != nil {
		b.logger.InfoContext(
			ctx,
			"couldn't DM user",
			columnUserID, userID,
			tint.Err(err),
		)
	}
}

// reapplyMute restores the timeout for a member who rejoined while
// still muted in the ledger.
func (b *OriBot) reapplyMute(ctx context.Context, userID string, logger *slog.Logger) {
	active, err := ActivePunishment(b.db.DB(), userID, PunishmentMute)
	if err != nil {
		logger.ErrorContext(ctx, "couldn't check active mute", tint.Err(err))
		return
	}
	if active == nil || active.Expiry == nil {
		return
	}
	until := time.UnixMilli(*active.Expiry)
	if limit := time.Now().Add(maxDiscordTimeout); until.After(limit) {
		until = limit
	}
	err = b.discord.session.GuildMemberTimeout(
		b.config.Discord.GuildID, userID, &until,
	)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't reapply mute")
		return
	}
	logger.InfoContext(ctx, "reapplied mute on rejoin", "until", until)
}

func (b *OriBot) handlerGuildBanAdd() func(
	s *discordgo.Session,
	e *discordgo.GuildBanAdd,
) {
	return func(s *discordgo.Session, e *discordgo.GuildBanAdd) {
		if e.GuildID != b.config.Discord.GuildID || e.User == nil {
			return
		}
		ctx := context.Background()
		go func() {
			defer b.reporter.recoverPanic(ctx, "guild_ban_add")
			b.recordExternalBan(ctx, e.User)
		}()
	}
}

// recordExternalBan mirrors a ban issued outside the bot into the
// ledger so `loglist` stays complete.
func (b *OriBot) recordExternalBan(ctx context.Context, user *discordgo.User) {
	active, err := ActivePunishment(b.db.DB(), user.ID, PunishmentBan)
	if err != nil {
		b.logger.ErrorContext(ctx, "couldn't check active ban", tint.Err(err))
		return
	}
	if active != nil {
		return
	}
	_, _, err = IssuePunishment(
		b.writeDB,
		PunishmentBan,
		"banned outside the bot",
		user.ID,
		b.botUserID,
		nil,
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "couldn't record external ban", tint.Err(err))
		return
	}
	b.logger.InfoContext(ctx, "recorded external ban", columnUserID, user.ID)
}

func (b *OriBot) handlerAutoModeration() func(
	s *discordgo.Session,
	e *discordgo.AutoModerationActionExecution,
) {
	return func(s *discordgo.Session, e *discordgo.AutoModerationActionExecution) {
		if e.GuildID != b.config.Discord.GuildID {
			return
		}
		ctx := context.Background()
		go func() {
			defer b.reporter.recoverPanic(ctx, "auto_moderation")
			b.handleAutoModAction(ctx, e)
		}()
	}
}

// handleAutoModAction mirrors automod timeouts into the moderation
// ledger, tells the user and forwards a report to the autos channel.
func (b *OriBot) handleAutoModAction(
	ctx context.Context,
	e *discordgo.AutoModerationActionExecution,
) {
	if e.Action.Type == discordgo.AutoModerationRuleActionTimeout {
		var duration time.Duration
		if e.Action.Metadata != nil {
			duration = time.Duration(e.Action.Metadata.Duration) * time.Second
		}
		punishment, outcome, err := b.recordAutomodMute(
			e.UserID, e.MatchedKeyword, duration,
		)
		switch {
		case err != nil:
			b.reporter.Report(ctx, err, ReportContext{
				ChannelID: e.ChannelID,
			}, "couldn't record automod mute")
		case outcome == PunishmentOK:
			b.dmUser(ctx, e.UserID, fmt.Sprintf(
				"The word filter timed you out until %s.",
				time.UnixMilli(*punishment.Expiry).UTC().Format(time.RFC1123),
			))
		}
	}

	if b.config.Discord.AutosChannelID == "" {
		return
	}
	report := fmt.Sprintf(
		"AutoMod flagged a message from <@%s> in <#%s>:\n>>> %s",
		e.UserID,
		e.ChannelID,
		truncate(e.Content, 1500),
	)
	_, err := b.discord.session.ChannelMessageSend(
		b.config.Discord.AutosChannelID, report,
	)
	if err != nil {
		b.logger.ErrorContext(
			ctx,
			"couldn't forward automod report",
			tint.Err(err),
		)
	}
}

// recordAutomodMute writes the ledger entry for an automod timeout,
// issued by the bot itself. The word filter's timeout is applied by
// Discord, so the entry is not reconciled, only displayed.
func (b *OriBot) recordAutomodMute(
	userID string,
	keyword string,
	duration time.Duration,
) (Punishment, PunishmentOutcome, error) {
	reason := "AutoMod keyword filter"
	if keyword != "" {
		reason += ": " + keyword
	}
	return IssuePunishment(
		b.writeDB, PunishmentMute, reason, userID, b.botUserID, &duration,
	)
}
