package oribot

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

//go:embed statuses.txt
var statusData string

// Ticket threads with no activity for this long are considered
// abandoned and get locked by the slow sweep.
const ticketIdleAge = 48 * time.Hour

// PendingImageRole schedules the image-posting role grant for a new
// member. Rows are consumed by the slow sweep once GrantAt passes.
type PendingImageRole struct {
	ModelUnixTime
	ID uint `json:"id" gorm:"primaryKey"`

	UserID string `json:"user_id" gorm:"uniqueIndex"`
	// Unix millis after which the role may be granted.
	GrantAt int64 `json:"grant_at"`
}

// sweepSession is the slice of the gateway session the reconciliation
// loops need.
type sweepSession interface {
	UpdateCustomStatus(state string, options ...discordgo.RequestOption) error
	Channel(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)
	ChannelEditComplex(
		channelID string,
		data *discordgo.ChannelEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)
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
}

// reconciler converges external Discord state with the database: ban
// expiries, delayed role grants, abandoned ticket threads, and the
// rotating presence line.
type reconciler struct {
	db      DBI
	writeDB DBI
	session sweepSession
	tickets *ticketMirror
	config  func() RuntimeConfig
	logger  *slog.Logger

	guildID      string
	imagesRoleID string

	statuses  []string
	statusIdx int

	now func() time.Time
}

func newReconciler(
	db DBI,
	writeDB DBI,
	session sweepSession,
	tickets *ticketMirror,
	config func() RuntimeConfig,
	guildID string,
	imagesRoleID string,
	handler slog.Handler,
) *reconciler {
	return &reconciler{
		db:           db,
		writeDB:      writeDB,
		session:      session,
		tickets:      tickets,
		config:       config,
		logger:       slog.New(handler).With(loggerNameKey, "reconciler"),
		guildID:      guildID,
		imagesRoleID: imagesRoleID,
		statuses:     statusLines(),
		now:          time.Now,
	}
}

func statusLines() []string {
	var lines []string
	for _, line := range strings.Split(statusData, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// waitInterval sleeps for d or until ctx is cancelled. The interval is
// re-read from the runtime config on every tick, so a config change
// takes effect on the next cycle.
func waitInterval(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runStatusRotation cycles the presence line until ctx is cancelled.
func (r *reconciler) runStatusRotation(ctx context.Context) {
	for {
		r.rotateStatus(ctx)
		if !waitInterval(ctx, r.config().StatusInterval()) {
			return
		}
	}
}

func (r *reconciler) rotateStatus(ctx context.Context) {
	if len(r.statuses) == 0 {
		return
	}
	status := r.statuses[r.statusIdx]
	r.statusIdx = (r.statusIdx + 1) % len(r.statuses)
	if err := r.session.UpdateCustomStatus(status); err != nil {
		r.logger.WarnContext(ctx, "couldn't update status", tint.Err(err))
	}
}

// runSweeps runs the slow reconciliation cycle until ctx is cancelled.
func (r *reconciler) runSweeps(ctx context.Context) {
	for {
		if !waitInterval(ctx, r.config().SweepInterval()) {
			return
		}
		r.sweep(ctx)
	}
}

func (r *reconciler) sweep(ctx context.Context) {
	started := r.now()
	r.sweepTickets(ctx)
	r.sweepBans(ctx)
	r.sweepPendingRoles(ctx)
	r.logger.InfoContext(
		ctx,
		"sweep cycle finished",
		"elapsed", r.now().Sub(started),
	)
}

// sweepTickets locks and forgets ticket threads that were deleted or
// idle for longer than ticketIdleAge. Thread locks happen as they are
// found; the rows are deleted together in one transaction at the end
// of the pass.
func (r *reconciler) sweepTickets(ctx context.Context) {
	var stale []string
	for _, threadID := range r.tickets.ThreadIDs() {
		isStale, err := r.ticketStale(threadID)
		if err != nil {
			r.logger.WarnContext(
				ctx,
				"couldn't inspect ticket thread",
				"thread_id", threadID,
				tint.Err(err),
			)
			continue
		}
		if !isStale {
			continue
		}
		r.lockTicketThread(ctx, threadID)
		stale = append(stale, threadID)
	}
	if len(stale) == 0 {
		return
	}

	err := r.writeDB.Transaction(func(tx *gorm.DB) error {
		return tx.Where("thread_id IN ?", stale).Delete(&Ticket{}).Error
	})
	if err != nil {
		r.logger.ErrorContext(
			ctx,
			"couldn't delete stale tickets",
			tint.Err(err),
		)
		return
	}
	for _, threadID := range stale {
		r.tickets.Remove(threadID)
		r.logger.InfoContext(ctx, "closed stale ticket", "thread_id", threadID)
	}
}

// ticketStale reports whether the thread is gone or idle. Transient
// lookup failures return an error so the ticket survives the cycle.
func (r *reconciler) ticketStale(threadID string) (bool, error) {
	channel, err := r.session.Channel(threadID)
	if isDiscordErrorCode(err, discordgo.ErrCodeUnknownChannel) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	lastActive, err := channelLastActive(channel)
	if err != nil {
		return false, err
	}
	return r.now().Sub(lastActive) > ticketIdleAge, nil
}

// channelLastActive derives the last activity time from the channel's
// last message snowflake, falling back to the thread's own snowflake
// for threads with no messages yet.
func channelLastActive(channel *discordgo.Channel) (time.Time, error) {
	id := channel.LastMessageID
	if id == "" {
		id = channel.ID
	}
	return discordgo.SnowflakeTimestamp(id)
}

func (r *reconciler) lockTicketThread(ctx context.Context, threadID string) {
	archived := true
	locked := true
	_, err := r.session.ChannelEditComplex(threadID, &discordgo.ChannelEdit{
		Archived: &archived,
		Locked:   &locked,
	})
	if err != nil && !isDiscordErrorCode(err, discordgo.ErrCodeUnknownChannel) {
		r.logger.WarnContext(
			ctx,
			"couldn't lock stale ticket thread",
			"thread_id", threadID,
			tint.Err(err),
		)
	}
}

// sweepBans lifts bans whose expiry has passed. The boundary is
// inclusive: a ban expiring exactly now is lifted this cycle.
func (r *reconciler) sweepBans(ctx context.Context) {
	var due []Punishment
	err := r.db.DB().
		Where(
			"type = ? AND check_for_expiry = ? AND expiry <= ?",
			PunishmentBan, true, r.now().UnixMilli(),
		).
		Find(&due).Error
	if err != nil {
		r.logger.ErrorContext(ctx, "couldn't query expiring bans", tint.Err(err))
		return
	}
	// Unban first, settle the rows together at the end. A ban already
	// removed out-of-band still settles; a transient unban failure
	// keeps the flag so the next cycle retries.
	settled := make([]uint, 0, len(due))
	for _, ban := range due {
		err = r.session.GuildBanDelete(r.guildID, ban.PunishedID)
		if err != nil && !isDiscordErrorCode(err, discordgo.ErrCodeUnknownBan) {
			r.logger.ErrorContext(
				ctx,
				"couldn't lift expired ban",
				"punishment_id", ban.ID,
				"user_id", ban.PunishedID,
				tint.Err(err),
			)
			continue
		}
		settled = append(settled, ban.ID)
		r.logger.InfoContext(
			ctx,
			"lifted expired ban",
			"punishment_id", ban.ID,
			"user_id", ban.PunishedID,
		)
	}
	if len(settled) == 0 {
		return
	}

	err = r.writeDB.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&Punishment{}).
			Where("id IN ?", settled).
			Update("check_for_expiry", false).Error
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "couldn't settle ban rows", tint.Err(err))
	}
}

// sweepPendingRoles grants the image role to members whose waiting
// period has passed. The row is consumed either way: a member who left
// simply loses the grant.
func (r *reconciler) sweepPendingRoles(ctx context.Context) {
	var due []PendingImageRole
	err := r.db.DB().
		Where("grant_at <= ?", r.now().UnixMilli()).
		Find(&due).Error
	if err != nil {
		r.logger.ErrorContext(
			ctx,
			"couldn't query pending image roles",
			tint.Err(err),
		)
		return
	}
	consumed := make([]uint, 0, len(due))
	for _, pending := range due {
		if _, err = r.session.GuildMember(r.guildID, pending.UserID); err == nil {
			err = r.session.GuildMemberRoleAdd(
				r.guildID, pending.UserID, r.imagesRoleID,
			)
			if err != nil {
				r.logger.WarnContext(
					ctx,
					"couldn't grant image role",
					"user_id", pending.UserID,
					tint.Err(err),
				)
				continue
			}
			r.logger.InfoContext(
				ctx,
				"granted image role",
				"user_id", pending.UserID,
			)
		}
		consumed = append(consumed, pending.ID)
	}
	if len(consumed) == 0 {
		return
	}

	err = r.writeDB.Transaction(func(tx *gorm.DB) error {
		return tx.Where("id IN ?", consumed).
			Delete(&PendingImageRole{}).Error
	})
	if err != nil {
		r.logger.ErrorContext(
			ctx,
			"couldn't delete pending image roles",
			tint.Err(err),
		)
	}
}

// schedulePendingImageRole records a delayed role grant for a newly
// joined member, replacing any previous schedule for the same user.
func schedulePendingImageRole(
	writeDB DBI,
	userID string,
	grantAt time.Time,
) error {
	err := writeDB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).
			Delete(&PendingImageRole{}).Error; err != nil {
			return err
		}
		return tx.Create(&PendingImageRole{
			UserID:  userID,
			GrantAt: grantAt.UnixMilli(),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("error scheduling image role: %w", err)
	}
	return nil
}

// isDiscordErrorCode reports whether err is a Discord REST error with
// the given JSON error code.
func isDiscordErrorCode(err error, code int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Message != nil && restErr.Message.Code == code
}
