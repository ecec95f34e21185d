package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue creates a ticket for subject.
func (ts *ticketStore) issue(subject string, now time.Time) string {
	ticket := uuid.NewString()
	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{subject: subject, expiresAt: now.Add(ticketTTL)}
	ts.mu.Unlock()
	return ticket
}

// consume validates a ticket and removes it (single-use).
func (ts *ticketStore) consume(ticket string, now time.Time) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(ts.tickets, ticket)
	return entry, now.Before(entry.expiresAt)
}

// clean removes expired tickets.
func (ts *ticketStore) clean(now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for ticket, entry := range ts.tickets {
		if now.After(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty when auth is disabled
	ticket := s.tickets.issue(subject, time.Now())

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// cleanTicketsLoop drops expired tickets until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.clean(now)
		}
	}
}
