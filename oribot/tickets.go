package oribot

import (
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// Ticket maps a support thread to the user who opened it. At most one
// open ticket per user at a time.
type Ticket struct {
	ModelUnixTime
	// Thread channel snowflake.
	ThreadID string `json:"thread_id" gorm:"primaryKey;type:string"`

	UserID string `json:"user_id" gorm:"index"`
}

// ticketMirror is the in-memory view of open ticket threads. Soft
// state: rehydrated from the tickets table at startup.
type ticketMirror struct {
	mu      sync.RWMutex
	threads map[string]string // thread ID -> user ID
}

func newTicketMirror() *ticketMirror {
	return &ticketMirror{threads: map[string]string{}}
}

func (t *ticketMirror) Add(threadID string, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threads[threadID] = userID
}

func (t *ticketMirror) Remove(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.threads, threadID)
}

func (t *ticketMirror) UserFor(threadID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	userID, ok := t.threads[threadID]
	return userID, ok
}

// ThreadIDs snapshots the open thread IDs.
func (t *ticketMirror) ThreadIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.threads))
	for id := range t.threads {
		ids = append(ids, id)
	}
	return ids
}

func (t *ticketMirror) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.threads)
}

var errTicketAlreadyOpen = errors.New("user already has an open ticket")

// OpenTicket records a new ticket thread for a user. Returns
// errTicketAlreadyOpen when the user already has one open.
func (b *OriBot) OpenTicket(threadID string, userID string) error {
	var existing Ticket
	err := b.db.DB().Where("user_id = ?", userID).First(&existing).Error
	switch {
	case err == nil:
		return errTicketAlreadyOpen
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("error checking open tickets: %w", err)
	}

	ticket := Ticket{ThreadID: threadID, UserID: userID}
	if _, err = b.writeDB.Create(&ticket); err != nil {
		return fmt.Errorf("error creating ticket: %w", err)
	}
	b.tickets.Add(threadID, userID)
	return nil
}

// CloseTicket removes a ticket row and its mirror entry.
func (b *OriBot) CloseTicket(threadID string) error {
	if _, err := b.writeDB.Delete(&Ticket{}, "thread_id = ?", threadID); err != nil {
		return fmt.Errorf("error deleting ticket: %w", err)
	}
	b.tickets.Remove(threadID)
	return nil
}

// rehydrateTickets rebuilds the mirror from the tickets table.
func (b *OriBot) rehydrateTickets() error {
	var tickets []Ticket
	if err := b.db.DB().Find(&tickets).Error; err != nil {
		return fmt.Errorf("error loading tickets: %w", err)
	}
	for _, ticket := range tickets {
		b.tickets.Add(ticket.ThreadID, ticket.UserID)
	}
	return nil
}
