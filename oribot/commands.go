package oribot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	commandMute       = "mute"
	commandUnmute     = "unmute"
	commandWarn       = "warn"
	commandBan        = "ban"
	commandUnban      = "unban"
	commandNote       = "note"
	commandDellog     = "dellog"
	commandLoglist    = "loglist"
	commandModactions = "modactions"
	commandProfile    = "profile"
	commandBadge      = "badge"
	commandTicket     = "ticket"
)

const confirmCustomIDPrefix = "confirm"

// applicationCommands returns the full slash command set for bulk
// registration. Moderation commands are gated by default member
// permissions; the handlers re-check on execution.
func applicationCommands() []*discordgo.ApplicationCommand {
	moderateMembers := int64(discordgo.PermissionModerateMembers)
	banMembers := int64(discordgo.PermissionBanMembers)

	userOption := func(description string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: description,
			Required:    required,
		}
	}
	reasonOption := func(required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "reason",
			Description: "Reason, recorded in the moderation log",
			Required:    required,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     commandMute,
			Description:              "Time out a member and log it",
			DefaultMemberPermissions: &moderateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member to mute", true),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "duration",
					Description: "How long, e.g. 2h30m or 3d",
					Required:    true,
				},
				reasonOption(true),
			},
		},
		{
			Name:                     commandUnmute,
			Description:              "Lift a member's mute",
			DefaultMemberPermissions: &moderateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member to unmute", true),
				reasonOption(true),
			},
		},
		{
			Name:                     commandWarn,
			Description:              "Warn a member and log it",
			DefaultMemberPermissions: &moderateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member to warn", true),
				reasonOption(true),
			},
		},
		{
			Name:                     commandBan,
			Description:              "Ban a member, optionally for a limited time",
			DefaultMemberPermissions: &banMembers,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member to ban", true),
				reasonOption(true),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "duration",
					Description: "How long, e.g. 7d; omit for permanent",
				},
			},
		},
		{
			Name:                     commandUnban,
			Description:              "Lift a ban",
			DefaultMemberPermissions: &banMembers,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to unban", true),
				reasonOption(true),
			},
		},
		{
			Name:                     commandNote,
			Description:              "Attach a note to a member's moderation log",
			DefaultMemberPermissions: &moderateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member the note is about", true),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: "Note text",
					Required:    true,
				},
			},
		},
		{
			Name:                     commandDellog,
			Description:              "Delete moderation log entries",
			DefaultMemberPermissions: &banMembers,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "entry",
					Description: "Delete a single entry by ID",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "id",
							Description: "Entry ID, as shown by loglist",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "all",
					Description: "Delete every entry for a user",
					Options: []*discordgo.ApplicationCommandOption{
						userOption("User whose log to clear", true),
					},
				},
			},
		},
		{
			Name:                     commandLoglist,
			Description:              "Show a member's moderation log",
			DefaultMemberPermissions: &moderateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member to look up", true),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "page",
					Description: "Page number, starting at 1",
				},
			},
		},
		{
			Name:                     commandModactions,
			Description:              "Count logged actions per moderator",
			DefaultMemberPermissions: &moderateMembers,
		},
		{
			Name:        commandProfile,
			Description: "View or edit spirit profiles",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "view",
					Description: "Show a member's profile",
					Options: []*discordgo.ApplicationCommandOption{
						userOption("Member to show; defaults to you", false),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Edit your own profile",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "title",
							Description: "Profile title",
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "description",
							Description: "Profile description",
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "color",
							Description: "Accent color as hex, e.g. 94D4FF",
						},
					},
				},
			},
		},
		{
			Name:                     commandBadge,
			Description:              "Grant or revoke badges",
			DefaultMemberPermissions: &moderateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "give",
					Description: "Grant a badge",
					Options: []*discordgo.ApplicationCommandOption{
						userOption("Member to award", true),
						badgeNameOption(),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Revoke one stack of a badge",
					Options: []*discordgo.ApplicationCommandOption{
						userOption("Member to revoke from", true),
						badgeNameOption(),
					},
				},
			},
		},
		{
			Name:        commandTicket,
			Description: "Open a private thread with the moderators",
		},
	}
}

func badgeNameOption() *discordgo.ApplicationCommandOption {
	choices := make(
		[]*discordgo.ApplicationCommandOptionChoice, 0, len(defaultBadges),
	)
	for _, badge := range defaultBadges {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  badge.Name,
			Value: badge.Name,
		})
	}
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "badge",
		Description: "Badge name",
		Required:    true,
		Choices:     choices,
	}
}

// parseModDuration parses durations like "3d", "3d12h" or "45m". Day
// counts are expanded before handing off to time.ParseDuration.
func parseModDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	var days time.Duration
	if idx := strings.IndexByte(s, 'd'); idx >= 0 {
		n, err := strconv.Atoi(s[:idx])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		days = time.Duration(n) * 24 * time.Hour
		s = s[idx+1:]
	}
	if s == "" {
		if days == 0 {
			return 0, fmt.Errorf("empty duration")
		}
		return days, nil
	}
	rest, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if rest < 0 || days+rest <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return days + rest, nil
}

// pendingConfirmation is one outstanding confirm/cancel prompt.
type pendingConfirmation struct {
	ch       chan bool
	issuerID string
}

// confirmations tracks outstanding confirmation prompts by custom ID.
type confirmations struct {
	mu      sync.Mutex
	waiting map[string]*pendingConfirmation
}

func newConfirmations() *confirmations {
	return &confirmations{waiting: map[string]*pendingConfirmation{}}
}

func (c *confirmations) create(id string, issuerID string) chan bool {
	ch := make(chan bool, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiting[id] = &pendingConfirmation{ch: ch, issuerID: issuerID}
	return ch
}

func (c *confirmations) drop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiting, id)
}

// resolve delivers a click on a confirmation button. Clicks from
// anyone but the original issuer are ignored.
func (c *confirmations) resolve(id string, userID string, confirmed bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.waiting[id]
	if !ok || pending.issuerID != userID {
		return false
	}
	delete(c.waiting, id)
	pending.ch <- confirmed
	return true
}

// respondEphemeral sends an ephemeral text response to an interaction.
func (b *OriBot) respondEphemeral(i *discordgo.InteractionCreate, content string) {
	err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		b.logger.Error("couldn't respond to interaction", tint.Err(err))
	}
}

func (b *OriBot) editResponse(i *discordgo.InteractionCreate, content string) {
	_, err := b.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{
			Content:    &content,
			Components: &[]discordgo.MessageComponent{},
		},
	)
	if err != nil {
		b.logger.Error("couldn't edit interaction response", tint.Err(err))
	}
}

// awaitConfirmation shows a confirm/cancel prompt as the interaction
// response and waits for the issuer to click, up to the await timeout.
func (b *OriBot) awaitConfirmation(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	prompt string,
) bool {
	issuer := getDiscordUser(i)
	if issuer == nil {
		return false
	}
	id := uuid.NewString()
	ch := b.confirmations.create(id, issuer.ID)
	defer b.confirmations.drop(id)

	err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: prompt,
				Flags:   discordgo.MessageFlagsEphemeral,
				Components: []discordgo.MessageComponent{
					discordgo.ActionsRow{
						Components: []discordgo.MessageComponent{
							discordgo.Button{
								Label:    "Confirm",
								Style:    discordgo.DangerButton,
								CustomID: confirmCustomID(id, true),
							},
							discordgo.Button{
								Label:    "Cancel",
								Style:    discordgo.SecondaryButton,
								CustomID: confirmCustomID(id, false),
							},
						},
					},
				},
			},
		},
	)
	if err != nil {
		b.logger.Error("couldn't send confirmation prompt", tint.Err(err))
		return false
	}

	timer := time.NewTimer(DefaultAwaitTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case confirmed := <-ch:
		if !confirmed {
			b.editResponse(i, "Cancelled.")
		}
		return confirmed
	case <-timer.C:
		b.editResponse(i, "Confirmation timed out.")
		return false
	}
}

func confirmCustomID(id string, confirmed bool) string {
	verdict := "no"
	if confirmed {
		verdict = "yes"
	}
	return strings.Join([]string{confirmCustomIDPrefix, id, verdict}, ":")
}

// handleComponentInteraction routes confirmation button clicks back to
// the command handler waiting on them.
func (b *OriBot) handleComponentInteraction(i *discordgo.InteractionCreate) {
	parts := strings.Split(i.MessageComponentData().CustomID, ":")
	if len(parts) != 3 || parts[0] != confirmCustomIDPrefix {
		return
	}
	user := getDiscordUser(i)
	if user == nil {
		return
	}
	if !b.confirmations.resolve(parts[1], user.ID, parts[2] == "yes") {
		return
	}
	err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		},
	)
	if err != nil {
		b.logger.Error("couldn't ack component interaction", tint.Err(err))
	}
}

func (b *OriBot) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		ctx := context.Background()
		switch i.Type {
		case discordgo.InteractionMessageComponent:
			go func() {
				defer b.reporter.recoverPanic(ctx, "component_interaction")
				b.handleComponentInteraction(i)
			}()
		case discordgo.InteractionApplicationCommand:
			name := i.ApplicationCommandData().Name
			go func() {
				defer b.reporter.recoverPanic(ctx, "command_"+name)
				b.handleApplicationCommand(ctx, i, name)
			}()
		}
	}
}

func (b *OriBot) handleApplicationCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	name string,
) {
	user := getDiscordUser(i)
	if user == nil {
		return
	}
	b.logger.InfoContext(
		ctx,
		"received command",
		"command_name", name,
		columnUserID, user.ID,
	)

	switch name {
	case commandMute:
		b.commandMute(ctx, i)
	case commandUnmute:
		b.commandUnmute(ctx, i)
	case commandWarn:
		b.commandWarn(ctx, i)
	case commandBan:
		b.commandBan(ctx, i)
	case commandUnban:
		b.commandUnban(ctx, i)
	case commandNote:
		b.commandNote(ctx, i)
	case commandDellog:
		b.commandDellog(ctx, i)
	case commandLoglist:
		b.commandLoglist(ctx, i)
	case commandModactions:
		b.commandModactions(ctx, i)
	case commandProfile:
		b.commandProfile(ctx, i)
	case commandBadge:
		b.commandBadge(ctx, i)
	case commandTicket:
		b.commandTicket(ctx, i)
	default:
		b.respondEphemeral(i, "I don't know that command!")
	}
}
