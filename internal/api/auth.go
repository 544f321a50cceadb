package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/session"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	clock   clockwork.Clock
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	userID    string
	expiresAt time.Time
}

func newTicketStore(clock clockwork.Clock) *ticketStore {
	return &ticketStore{
		clock:   clock,
		tickets: make(map[string]ticketEntry),
	}
}

// issue creates a ticket for userID.
func (t *ticketStore) issue(userID string) string {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{userID: userID, expiresAt: t.clock.Now().Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// redeem consumes a ticket and returns its user.
func (t *ticketStore) redeem(ticket string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return "", false
	}
	delete(t.tickets, ticket)

	if !t.clock.Now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.userID, true
}

// clean removes expired tickets.
func (t *ticketStore) clean() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	for ticket, entry := range t.tickets {
		if !now.Before(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// cleanLoop runs clean periodically until ctx is cancelled.
func (t *ticketStore) cleanLoop(ctx context.Context) {
	ticker := t.clock.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.clean()
		}
	}
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// handleWSTicket issues a single-use WebSocket ticket so the session token
// never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	userID, _ := session.UserFromContext(r.Context()) //nolint:errcheck // authMiddleware guarantees a user
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(userID),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// handleWhoAmI reports the user bound to the session token.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	userID, _ := session.UserFromContext(r.Context()) //nolint:errcheck // authMiddleware guarantees a user
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}
