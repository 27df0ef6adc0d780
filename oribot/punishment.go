package oribot

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type PunishmentType string

const (
	PunishmentMute PunishmentType = "Mute"
	PunishmentWarn PunishmentType = "Warn"
	PunishmentBan  PunishmentType = "Ban"
	PunishmentNote PunishmentType = "Note"
)

const (
	// Discord caps timeouts at 28 days; the ledger allows a little
	// over that and reapplies on rejoin.
	maxMuteDuration = 30 * 24 * time.Hour

	// Warns age out of `loglist` summaries after this long. They are
	// not reconciled, only displayed differently.
	warnExpiry = 40 * 24 * time.Hour

	punishmentsPerPage = 5
)

// Punishment is a moderation ledger entry. Entries are append-only
// history: a reversal mutates the row in place (reason appended,
// expiry forced) but rows are only deleted by explicit operator
// action.
type Punishment struct {
	ModelUnixTime
	ID uint `json:"id" gorm:"primaryKey"`

	Type   PunishmentType `json:"type"`
	Reason string         `json:"reason"`
	// Unix millis.
	IssuedAt int64  `json:"issued_at"`
	Expiry   *int64 `json:"expiry"`
	// True while the reconciliation loop still owes this entry an
	// expiry action. Implies Expiry is set.
	CheckForExpiry bool `json:"check_for_expiry"`

	PunishedID string `json:"punished_id" gorm:"index"`
	IssuerID   string `json:"issuer_id" gorm:"index"`
}

// PunishmentOutcome is the expected-negative result of a ledger
// operation. These are values, not errors.
type PunishmentOutcome int

const (
	PunishmentOK PunishmentOutcome = iota
	PunishmentAlreadyPunished
	PunishmentNotPunished
	PunishmentInsufficientAuthority
	PunishmentDurationOutOfRange
)

func (o PunishmentOutcome) String() string {
	switch o {
	case PunishmentOK:
		return "ok"
	case PunishmentAlreadyPunished:
		return "already punished"
	case PunishmentNotPunished:
		return "not punished"
	case PunishmentInsufficientAuthority:
		return "insufficient authority"
	case PunishmentDurationOutOfRange:
		return "duration out of range"
	default:
		return fmt.Sprintf("unknown outcome %d", int(o))
	}
}

// newPunishment fills a ledger row for the given type, applying the
// per-type expiry rules.
func newPunishment(
	ptype PunishmentType,
	reason string,
	punishedID string,
	issuerID string,
	duration *time.Duration,
	now time.Time,
) Punishment {
	p := Punishment{
		Type:       ptype,
		Reason:     reason,
		IssuedAt:   now.UnixMilli(),
		PunishedID: punishedID,
		IssuerID:   issuerID,
	}
	switch ptype {
	case PunishmentMute:
		if duration != nil {
			expiry := now.Add(*duration).UnixMilli()
			p.Expiry = &expiry
		}
	case PunishmentWarn:
		expiry := now.Add(warnExpiry).UnixMilli()
		p.Expiry = &expiry
	case PunishmentBan:
		if duration != nil {
			expiry := now.Add(*duration).UnixMilli()
			p.Expiry = &expiry
			p.CheckForExpiry = true
		}
	case PunishmentNote:
		// no expiry
	}
	return p
}

// IssuePunishment validates the duration bound and inserts a ledger
// row. Authority checks happen at the command layer, where the guild
// hierarchy is visible.
func IssuePunishment(
	writeDB DBI,
	ptype PunishmentType,
	reason string,
	punishedID string,
	issuerID string,
	duration *time.Duration,
) (Punishment, PunishmentOutcome, error) {
	if ptype == PunishmentMute && duration != nil && *duration > maxMuteDuration {
		return Punishment{}, PunishmentDurationOutOfRange, nil
	}

	// Mutes and bans are exclusive: a second one while the first is
	// still active is rejected rather than stacked.
	if ptype == PunishmentBan || ptype == PunishmentMute {
		active, err := ActivePunishment(writeDB.DB(), punishedID, ptype)
		if err != nil {
			return Punishment{}, PunishmentOK, err
		}
		if active != nil {
			return *active, PunishmentAlreadyPunished, nil
		}
	}

	p := newPunishment(ptype, reason, punishedID, issuerID, duration, time.Now())
	if _, err := writeDB.Create(&p); err != nil {
		return Punishment{}, PunishmentOK, fmt.Errorf(
			"error creating punishment: %w", err,
		)
	}
	return p, PunishmentOK, nil
}

// ActivePunishment returns the newest entry of the given type whose
// expiry has not yet passed (or that still awaits reconciliation), or
// nil if none exists.
func ActivePunishment(
	db *gorm.DB,
	punishedID string,
	ptype PunishmentType,
) (*Punishment, error) {
	var punishments []Punishment
	err := db.Where(
		"punished_id = ? AND type = ?", punishedID, ptype,
	).Order("issued_at desc").Find(&punishments).Error
	if err != nil {
		return nil, fmt.Errorf("error querying punishments: %w", err)
	}
	now := time.Now().UnixMilli()
	for i := range punishments {
		p := punishments[i]
		if p.CheckForExpiry {
			return &p, nil
		}
		// A nil expiry never lapses (permanent ban).
		if p.Expiry == nil || *p.Expiry > now {
			return &p, nil
		}
	}
	return nil, nil
}

// ReversePunishment reverses the newest active entry of the given
// type: the reversal reason is appended to the stored reason, expiry
// is forced to now and the reconciliation flag is cleared. History is
// preserved in-line rather than as a separate audit row.
func ReversePunishment(
	writeDB DBI,
	punishedID string,
	ptype PunishmentType,
	reversalReason string,
) (PunishmentOutcome, error) {
	active, err := ActivePunishment(writeDB.DB(), punishedID, ptype)
	if err != nil {
		return PunishmentOK, err
	}
	if active == nil {
		return PunishmentNotPunished, nil
	}

	now := time.Now().UnixMilli()
	active.Reason = fmt.Sprintf(
		"%s (reversed: %s)", active.Reason, reversalReason,
	)
	active.Expiry = &now
	active.CheckForExpiry = false
	if _, err = writeDB.Updates(active, map[string]any{
		"reason":           active.Reason,
		"expiry":           active.Expiry,
		"check_for_expiry": false,
	}); err != nil {
		return PunishmentOK, fmt.Errorf("error reversing punishment: %w", err)
	}
	return PunishmentOK, nil
}

// DeletePunishment removes a single ledger entry by ID.
func DeletePunishment(writeDB DBI, id uint) (bool, error) {
	rows, err := writeDB.Delete(&Punishment{}, "id = ?", id)
	if err != nil {
		return false, fmt.Errorf("error deleting punishment: %w", err)
	}
	return rows > 0, nil
}

// DeleteAllPunishments removes every ledger entry for a user. Callers
// gate this behind an explicit operator confirmation.
func DeleteAllPunishments(writeDB DBI, punishedID string) (int64, error) {
	rows, err := writeDB.Delete(&Punishment{}, "punished_id = ?", punishedID)
	if err != nil {
		return 0, fmt.Errorf("error deleting punishments: %w", err)
	}
	return rows, nil
}

// ListPunishments returns one page of a user's ledger, oldest first.
// Pages are zero-indexed.
func ListPunishments(
	db *gorm.DB,
	punishedID string,
	page int,
) (entries []Punishment, total int64, err error) {
	if err = db.Model(&Punishment{}).Where(
		"punished_id = ?", punishedID,
	).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting punishments: %w", err)
	}
	err = db.Where("punished_id = ?", punishedID).
		Order("issued_at asc").
		Offset(page * punishmentsPerPage).
		Limit(punishmentsPerPage).
		Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("error listing punishments: %w", err)
	}
	return entries, total, nil
}

// ModerationActionCount is one row of the per-moderator issue counts.
type ModerationActionCount struct {
	IssuerID string `json:"issuer_id"`
	Count    int64  `json:"count"`
}

// CountModerationActions tallies ledger entries per issuing moderator.
func CountModerationActions(db *gorm.DB) ([]ModerationActionCount, error) {
	var counts []ModerationActionCount
	err := db.Model(&Punishment{}).
		Select("issuer_id, count(*) as count").
		Group("issuer_id").
		Order("count desc").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("error counting moderation actions: %w", err)
	}
	return counts, nil
}
