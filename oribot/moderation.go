package oribot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// hierarchySession is the slice of the gateway session the hierarchy
// check needs.
type hierarchySession interface {
	GuildMember(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Member, error)
	GuildRoles(
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Role, error)
}

// checkHierarchy reports whether the issuer and the bot each sit above
// the target in the role hierarchy. A target who already left the
// guild outranks nobody.
func checkHierarchy(
	s hierarchySession,
	guildID string,
	issuer *discordgo.Member,
	botID string,
	targetID string,
) (issuerAbove bool, botAbove bool, err error) {
	if issuer == nil {
		return false, false, nil
	}
	target, err := s.GuildMember(guildID, targetID)
	if isDiscordErrorCode(err, discordgo.ErrCodeUnknownMember) {
		return true, true, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("error fetching target member: %w", err)
	}
	bot, err := s.GuildMember(guildID, botID)
	if err != nil {
		return false, false, fmt.Errorf("error fetching bot member: %w", err)
	}
	roles, err := s.GuildRoles(guildID)
	if err != nil {
		return false, false, fmt.Errorf("error fetching guild roles: %w", err)
	}
	targetTop := topRolePosition(roles, target)
	issuerAbove = topRolePosition(roles, issuer) > targetTop
	botAbove = topRolePosition(roles, bot) > targetTop
	return issuerAbove, botAbove, nil
}

// guardModAction runs the shared checks for a moderation command:
// permission bit, self-targeting and hierarchy. A false return means
// the interaction was already answered.
func (b *OriBot) guardModAction(
	i *discordgo.InteractionCreate,
	targetID string,
	permission int64,
) bool {
	issuer := getDiscordUser(i)
	if issuer == nil || !memberHasPermission(i, permission) {
		b.respondEphemeral(i, "You don't have permission to do that.")
		return false
	}
	if targetID == issuer.ID {
		b.respondEphemeral(i, "You can't do that to yourself!")
		return false
	}
	if targetID == b.botUserID {
		b.respondEphemeral(i, "I'd rather you didn't do that to me!")
		return false
	}
	issuerAbove, botAbove, err := checkHierarchy(
		b.discord.session,
		b.config.Discord.GuildID,
		i.Member,
		b.botUserID,
		targetID,
	)
	if err != nil {
		b.logger.Error("couldn't check role hierarchy", tint.Err(err))
		b.respondEphemeral(i, "Something went wrong checking the role hierarchy.")
		return false
	}
	if !issuerAbove {
		b.respondEphemeral(
			i, "You can't moderate someone at or above your own role.",
		)
		return false
	}
	if !botAbove {
		b.respondEphemeral(
			i, "I can't moderate someone at or above my own top role.",
		)
		return false
	}
	return true
}

func (b *OriBot) commandMute(ctx context.Context, i *discordgo.InteractionCreate) {
	opts := discordInteractionOptions(i)
	target := opts["user"].UserValue(nil)
	reason := opts["reason"].StringValue()

	if !b.guardModAction(i, target.ID, discordgo.PermissionModerateMembers) {
		return
	}
	duration, err := parseModDuration(opts["duration"].StringValue())
	if err != nil {
		b.respondEphemeral(i, "I couldn't read that duration. Try something like 2h30m or 3d.")
		return
	}

	issuer := getDiscordUser(i)
	punishment, outcome, err := IssuePunishment(
		b.writeDB, PunishmentMute, reason, target.ID, issuer.ID, &duration,
	)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't record mute")
		b.respondEphemeral(i, "Something went wrong recording the mute.")
		return
	}
	if outcome == PunishmentDurationOutOfRange {
		b.respondEphemeral(i, fmt.Sprintf(
			"Mutes can last at most %d days.",
			int(maxMuteDuration.Hours()/24),
		))
		return
	}
	if outcome == PunishmentAlreadyPunished {
		b.respondEphemeral(i, "That member is already muted.")
		return
	}

	until := time.UnixMilli(*punishment.Expiry)
	timeoutUntil := until
	if limit := time.Now().Add(maxDiscordTimeout); timeoutUntil.After(limit) {
		timeoutUntil = limit
	}
	err = b.discord.session.GuildMemberTimeout(
		b.config.Discord.GuildID, target.ID, &timeoutUntil,
	)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't apply timeout")
		b.respondEphemeral(i, "The mute was logged but I couldn't apply the timeout.")
		return
	}

	b.dmUser(ctx, target.ID, fmt.Sprintf(
		"You have been muted until %s for: %s",
		until.UTC().Format(time.RFC1123), reason,
	))
	b.respondEphemeral(i, fmt.Sprintf(
		"Muted %s until %s. Log entry #%d.",
		target.Mention(), until.UTC().Format(time.RFC1123), punishment.ID,
	))
}

func (b *OriBot) commandUnmute(ctx context.Context, i *discordgo.InteractionCreate) {
	opts := discordInteractionOptions(i)
	target := opts["user"].UserValue(nil)
	reason := opts["reason"].StringValue()

	if !b.guardModAction(i, target.ID, discordgo.PermissionModerateMembers) {
		return
	}

	outcome, err := ReversePunishment(b.writeDB, target.ID, PunishmentMute, reason)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't reverse mute")
		b.respondEphemeral(i, "Something went wrong reversing the mute.")
		return
	}
	if outcome == PunishmentNotPunished {
		b.respondEphemeral(i, "That member isn't muted.")
		return
	}

	err = b.discord.session.GuildMemberTimeout(
		b.config.Discord.GuildID, target.ID, nil,
	)
	if err != nil && !isDiscordErrorCode(err, discordgo.ErrCodeUnknownMember) {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't clear timeout")
	}
	b.respondEphemeral(i, fmt.Sprintf("Unmuted %s.", target.Mention()))
}

func (b *OriBot) commandWarn(ctx context.Context, i *discordgo.InteractionCreate) {
	opts := discordInteractionOptions(i)
	target := opts["user"].UserValue(nil)
	reason := opts["reason"].StringValue()

	if !b.guardModAction(i, target.ID, discordgo.PermissionModerateMembers) {
		return
	}

	issuer := getDiscordUser(i)
	punishment, _, err := IssuePunishment(
		b.writeDB, PunishmentWarn, reason, target.ID, issuer.ID, nil,
	)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't record warning")
		b.respondEphemeral(i, "Something went wrong recording the warning.")
		return
	}

	b.dmUser(ctx, target.ID, "You have received a warning for: "+reason)
	b.respondEphemeral(i, fmt.Sprintf(
		"Warned %s. Log entry #%d.", target.Mention(), punishment.ID,
	))
}

func (b *OriBot) commandBan(ctx context.Context, i *discordgo.InteractionCreate) {
	opts := discordInteractionOptions(i)
	target := opts["user"].UserValue(nil)
	reason := opts["reason"].StringValue()

	if !b.guardModAction(i, target.ID, discordgo.PermissionBanMembers) {
		return
	}

	var duration *time.Duration
	if opt, ok := opts["duration"]; ok {
		d, err := parseModDuration(opt.StringValue())
		if err != nil {
			b.respondEphemeral(i, "I couldn't read that duration. Try something like 7d.")
			return
		}
		duration = &d
	}

	prompt := fmt.Sprintf("Ban %s permanently?", target.Mention())
	if duration != nil {
		prompt = fmt.Sprintf("Ban %s for %s?", target.Mention(), duration)
	}
	if !b.awaitConfirmation(ctx, i, prompt) {
		return
	}

	issuer := getDiscordUser(i)
	punishment, outcome, err := IssuePunishment(
		b.writeDB, PunishmentBan, reason, target.ID, issuer.ID, duration,
	)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't record ban")
		b.editResponse(i, "Something went wrong recording the ban.")
		return
	}
	if outcome == PunishmentAlreadyPunished {
		b.editResponse(i, "That user is already banned.")
		return
	}

	// DM before banning, it's impossible afterwards.
	message := "You have been banned for: " + reason
	if punishment.Expiry != nil {
		message = fmt.Sprintf(
			"You have been banned until %s for: %s",
			time.UnixMilli(*punishment.Expiry).UTC().Format(time.RFC1123),
			reason,
		)
	}
	b.dmUser(ctx, target.ID, message)

	err = b.discord.session.GuildBanCreateWithReason(
		b.config.Discord.GuildID, target.ID, reason, 0,
	)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't apply ban")
		b.editResponse(i, "The ban was logged but I couldn't apply it.")
		return
	}
	b.editResponse(i, fmt.Sprintf(
		"Banned %s. Log entry #%d.", target.Mention(), punishment.ID,
	))
}

func (b *OriBot) commandUnban(ctx context.Context, i *discordgo.InteractionCreate) {
	opts := discordInteractionOptions(i)
	target := opts["user"].UserValue(nil)
	reason := opts["reason"].StringValue()

	issuer := getDiscordUser(i)
	if issuer == nil || !memberHasPermission(i, discordgo.PermissionBanMembers) {
		b.respondEphemeral(i, "You don't have permission to do that.")
		return
	}

	if !b.awaitConfirmation(ctx, i, fmt.Sprintf("Unban %s?", target.Mention())) {
		return
	}

	outcome, err := ReversePunishment(b.writeDB, target.ID, PunishmentBan, reason)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't reverse ban")
		b.editResponse(i, "Something went wrong reversing the ban.")
		return
	}

	err = b.discord.session.GuildBanDelete(b.config.Discord.GuildID, target.ID)
	if err != nil && !isDiscordErrorCode(err, discordgo.ErrCodeUnknownBan) {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't remove ban")
		b.editResponse(i, "The reversal was logged but I couldn't lift the ban.")
		return
	}
	if outcome == PunishmentNotPunished {
		b.editResponse(i, fmt.Sprintf(
			"%s wasn't in the ban log, but I lifted the ban anyway.",
			target.Mention(),
		))
		return
	}
	b.editResponse(i, fmt.Sprintf("Unbanned %s.", target.Mention()))
}

func (b *OriBot) commandNote(ctx context.Context, i *discordgo.InteractionCreate) {
	opts := discordInteractionOptions(i)
	target := opts["user"].UserValue(nil)
	text := opts["text"].StringValue()

	issuer := getDiscordUser(i)
	if issuer == nil || !memberHasPermission(i, discordgo.PermissionModerateMembers) {
		b.respondEphemeral(i, "You don't have permission to do that.")
		return
	}

	punishment, _, err := IssuePunishment(
		b.writeDB, PunishmentNote, text, target.ID, issuer.ID, nil,
	)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't record note")
		b.respondEphemeral(i, "Something went wrong recording the note.")
		return
	}
	b.respondEphemeral(i, fmt.Sprintf(
		"Noted. Log entry #%d for %s.", punishment.ID, target.Mention(),
	))
}

func (b *OriBot) commandDellog(ctx context.Context, i *discordgo.InteractionCreate) {
	issuer := getDiscordUser(i)
	if issuer == nil || !memberHasPermission(i, discordgo.PermissionBanMembers) {
		b.respondEphemeral(i, "You don't have permission to do that.")
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "entry":
		id := uint(sub.Options[0].IntValue())
		deleted, err := DeletePunishment(b.writeDB, id)
		if err != nil {
			b.reporter.Report(ctx, err, ReportContext{}, "couldn't delete log entry")
			b.respondEphemeral(i, "Something went wrong deleting the entry.")
			return
		}
		if !deleted {
			b.respondEphemeral(i, fmt.Sprintf("There's no log entry #%d.", id))
			return
		}
		b.respondEphemeral(i, fmt.Sprintf("Deleted log entry #%d.", id))
	case "all":
		target := sub.Options[0].UserValue(nil)
		prompt := fmt.Sprintf(
			"Delete the entire moderation log for %s? This can't be undone.",
			target.Mention(),
		)
		if !b.awaitConfirmation(ctx, i, prompt) {
			return
		}
		deleted, err := DeleteAllPunishments(b.writeDB, target.ID)
		if err != nil {
			b.reporter.Report(ctx, err, ReportContext{}, "couldn't clear log")
			b.editResponse(i, "Something went wrong clearing the log.")
			return
		}
		b.editResponse(i, fmt.Sprintf(
			"Deleted %d log entries for %s.", deleted, target.Mention(),
		))
	}
}

// formatPunishment renders one ledger entry for loglist output.
func formatPunishment(p Punishment, now time.Time) string {
	line := fmt.Sprintf(
		"`#%d` **%s** by <@%s> on %s: %s",
		p.ID,
		p.Type,
		p.IssuerID,
		time.UnixMilli(p.IssuedAt).UTC().Format("2-Jan-2006"),
		p.Reason,
	)
	if p.Expiry != nil && *p.Expiry <= now.UnixMilli() {
		line += " *(expired)*"
	}
	return line
}

func (b *OriBot) commandLoglist(ctx context.Context, i *discordgo.InteractionCreate) {
	issuer := getDiscordUser(i)
	if issuer == nil || !memberHasPermission(i, discordgo.PermissionModerateMembers) {
		b.respondEphemeral(i, "You don't have permission to do that.")
		return
	}

	opts := discordInteractionOptions(i)
	target := opts["user"].UserValue(nil)
	page := 0
	if opt, ok := opts["page"]; ok {
		page = int(opt.IntValue()) - 1
		if page < 0 {
			page = 0
		}
	}

	entries, total, err := ListPunishments(b.db.DB(), target.ID, page)
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't list log entries")
		b.respondEphemeral(i, "Something went wrong reading the log.")
		return
	}
	if total == 0 {
		b.respondEphemeral(i, fmt.Sprintf(
			"%s has a clean record!", target.Mention(),
		))
		return
	}

	pages := (total + punishmentsPerPage - 1) / punishmentsPerPage
	now := time.Now()
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, fmt.Sprintf(
		"Moderation log for %s (page %d of %d, %d total):",
		target.Mention(), page+1, pages, total,
	))
	for _, entry := range entries {
		lines = append(lines, formatPunishment(entry, now))
	}
	b.respondEphemeral(i, strings.Join(lines, "\n"))
}

func (b *OriBot) commandModactions(ctx context.Context, i *discordgo.InteractionCreate) {
	issuer := getDiscordUser(i)
	if issuer == nil || !memberHasPermission(i, discordgo.PermissionModerateMembers) {
		b.respondEphemeral(i, "You don't have permission to do that.")
		return
	}

	counts, err := CountModerationActions(b.db.DB())
	if err != nil {
		b.reporter.Report(ctx, err, ReportContext{}, "couldn't count mod actions")
		b.respondEphemeral(i, "Something went wrong counting actions.")
		return
	}
	if len(counts) == 0 {
		b.respondEphemeral(i, "The moderation log is empty.")
		return
	}

	lines := make([]string, 0, len(counts)+1)
	lines = append(lines, "Logged actions per moderator:")
	for _, count := range counts {
		lines = append(lines, fmt.Sprintf(
			"<@%s>: %d", count.IssuerID, count.Count,
		))
	}
	b.respondEphemeral(i, strings.Join(lines, "\n"))
}
