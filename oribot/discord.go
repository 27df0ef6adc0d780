package oribot

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord interaction tokens currently expire after 15 minutes.
const discordInteractionTokenLifespan = 15 * time.Minute

// Discord manages the gateway session: connection lifecycle, command
// registration and the event handlers that feed the rest of the bot.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger

	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	bot                         *OriBot
}

func newDiscord(config *DiscordConfig) *Discord {
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

// newSession initializes the underlying discordgo session.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = false
	disc.StateEnabled = true
	disc.Identify.Intents = discordgo.Intent(d.config.GatewayIntents)
	session.session = disc

	err = session.SetLogLevel(d.config.DiscordgoLogLevel.Level())
	if err != nil {
		return session, err
	}
	return session, nil
}

func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			columnUserID, s.State.User.ID,
			"username", s.State.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, r *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
		if d.config.OpsChannelID != "" && d.config.StartupMessage != "" {
			if sendErr := d.channelMessageSend(
				d.config.OpsChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error(
					"unable to send startup message",
					tint.Err(sendErr),
				)
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, r *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected")
	}
}

// registerCommands sends the bot's commands to the discord bulk
// overwrite endpoint.
func (d *Discord) registerCommands(
	applicationID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		applicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command_name", c.Name)
	}
	return created, nil
}

// DiscordSessionHandler defines the methods used from
// `discordgo.Session`, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessage(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	Channel(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	ChannelEditComplex(
		channelID string,
		data *discordgo.ChannelEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

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

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ApplicationCommandBulkOverwrite overwrites Discord application
	// commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	UpdateCustomStatus(
		status string,
		options ...discordgo.RequestOption,
	) error

	GuildBanCreateWithReason(
		guildID string,
		userID string,
		reason string,
		days int,
		options ...discordgo.RequestOption,
	) error

	GuildBanDelete(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) error

	GuildMember(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Member, error)

	GuildMemberRoleAdd(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error

	GuildMemberRoleRemove(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error

	GuildMemberDeleteWithReason(
		guildID string,
		userID string,
		reason string,
		options ...discordgo.RequestOption,
	) error

	GuildMemberTimeout(
		guildID string,
		userID string,
		until *time.Time,
		options ...discordgo.RequestOption,
	) error

	GuildRoles(
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Role, error)

	// UserChannelPermissions computes a member's effective permissions
	// in a channel
	UserChannelPermissions(
		userID string,
		channelID string,
		options ...discordgo.RequestOption,
	) (int64, error)

	// UserChannelCreate opens (or fetches) the DM channel with a user
	UserChannelCreate(
		recipientID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// BotUser returns the bot's own user
	BotUser(options ...discordgo.RequestOption) (*discordgo.User, error)

	ThreadStartComplex(
		channelID string,
		data *discordgo.ThreadStart,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(
		channelID, content, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendComplex(channelID, data, options...)
}

func (d DiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessage(channelID, messageID, options...)
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) ChannelEditComplex(
	channelID string,
	data *discordgo.ChannelEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.ChannelEditComplex(channelID, data, options...)
}

func (d DiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionAdd(channelID, messageID, emojiID, options...)
}

func (d DiscordSession) MessageReactionRemove(
	channelID string,
	messageID string,
	emojiID string,
	userID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionRemove(
		channelID, messageID, emojiID, userID, options...,
	)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandBulkOverwrite(
		appID, guildID, commands, options...,
	)
}

func (d DiscordSession) UpdateCustomStatus(
	status string,
	_ ...discordgo.RequestOption,
) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) GuildBanCreateWithReason(
	guildID string,
	userID string,
	reason string,
	days int,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildBanCreateWithReason(
		guildID, userID, reason, days, options...,
	)
}

func (d DiscordSession) GuildBanDelete(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildBanDelete(guildID, userID, options...)
}

func (d DiscordSession) GuildMember(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	return d.session.GuildMember(guildID, userID, options...)
}

func (d DiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, options...)
}

func (d DiscordSession) GuildMemberRoleRemove(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, options...)
}

func (d DiscordSession) GuildMemberDeleteWithReason(
	guildID string,
	userID string,
	reason string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberDeleteWithReason(
		guildID, userID, reason, options...,
	)
}

func (d DiscordSession) GuildMemberTimeout(
	guildID string,
	userID string,
	until *time.Time,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberTimeout(guildID, userID, until, options...)
}

func (d DiscordSession) GuildRoles(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	return d.session.GuildRoles(guildID, options...)
}

func (d DiscordSession) UserChannelPermissions(
	userID string,
	channelID string,
	options ...discordgo.RequestOption,
) (int64, error) {
	return d.session.UserChannelPermissions(userID, channelID, options...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, options...)
}

func (d DiscordSession) BotUser(
	options ...discordgo.RequestOption,
) (*discordgo.User, error) {
	if d.session.State != nil && d.session.State.User != nil {
		return d.session.State.User, nil
	}
	return d.session.User("@me", options...)
}

func (d DiscordSession) ThreadStartComplex(
	channelID string,
	data *discordgo.ThreadStart,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.ThreadStartComplex(channelID, data, options...)
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

// getDiscordUser returns the [discordgo.User] associated with the
// interaction. Users don't always appear in the same place in the
// interaction object, so this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}

// memberHasPermission reports whether the interaction member holds the
// given permission bit.
func memberHasPermission(i *discordgo.InteractionCreate, permission int64) bool {
	if i.Member == nil {
		return false
	}
	return i.Member.Permissions&permission == permission
}

// topRolePosition returns the highest role position among the member's
// roles.
func topRolePosition(roles []*discordgo.Role, member *discordgo.Member) int {
	positions := make(map[string]int, len(roles))
	for _, role := range roles {
		positions[role.ID] = role.Position
	}
	top := 0
	for _, roleID := range member.Roles {
		if pos, ok := positions[roleID]; ok && pos > top {
			top = pos
		}
	}
	return top
}
