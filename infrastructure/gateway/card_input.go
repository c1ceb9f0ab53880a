package gateway

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// CardInputChange is emitted on every card field edit so the UI can track
// the latest validity without polling; there is no pull-based query.
type CardInputChange struct {
	Valid        bool
	ErrorMessage string
}

// CardFields is the raw card input pushed into a mounted session by the
// hosting form. The postal code is deliberately not part of the card fields;
// it is collected by the surrounding form and pushed through separately.
type CardFields struct {
	Number   string
	ExpMonth int
	ExpYear  int
	CVC      string
}

// CardInputSession represents one mounted card-input element. It lives for
// the duration of one provisioning dialog and is closed with it.
type CardInputSession struct {
	mu sync.Mutex

	containerID string
	card        CardFields
	postalCode  string
	closed      bool

	changes chan CardInputChange
}

// changeBuffer sizes the validity stream; the UI is expected to drain it,
// but a slow consumer must never block a keystroke.
const changeBuffer = 16

func newCardInputSession(containerID string) *CardInputSession {
	return &CardInputSession{
		containerID: containerID,
		changes:     make(chan CardInputChange, changeBuffer),
	}
}

// SourceID identifies the mount point of this session.
func (s *CardInputSession) SourceID() string { return s.containerID }

// Changes is the validity event stream. One event is emitted per card edit.
func (s *CardInputSession) Changes() <-chan CardInputChange { return s.changes }

// SetCard replaces the card fields and emits a validity change event.
func (s *CardInputSession) SetCard(card CardFields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.card = card
	s.emitLocked(validateCard(card))
}

// UpdatePostalCode pushes the surrounding form's postal code into the
// session without remounting it. No validity event is emitted; the postal
// code is validated by the backend, not the card element.
func (s *CardInputSession) UpdatePostalCode(postalCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.postalCode = postalCode
}

// Close tears the session down and closes the change stream.
func (s *CardInputSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.changes)
}

func (s *CardInputSession) snapshotFields() (CardFields, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.card, s.postalCode, s.closed
}

func (s *CardInputSession) emitLocked(change CardInputChange) {
	select {
	case s.changes <- change:
	default:
		// Drop the oldest pending event to make room for the newest.
		select {
		case <-s.changes:
		default:
		}
		select {
		case s.changes <- change:
		default:
		}
	}
}

// validateCard performs the client-side checks the hosted element would run
// on each edit. The gateway remains the authority; this only gates obviously
// unusable input.
func validateCard(card CardFields) CardInputChange {
	digits := card.Number
	if digits == "" {
		return CardInputChange{ErrorMessage: "Card number is required."}
	}
	if _, err := strconv.ParseUint(digits, 10, 64); err != nil || len(digits) < 13 || len(digits) > 19 {
		return CardInputChange{ErrorMessage: "Card number is invalid."}
	}
	if card.ExpMonth < 1 || card.ExpMonth > 12 {
		return CardInputChange{ErrorMessage: "Expiration month is invalid."}
	}
	if card.ExpYear < time.Now().Year() {
		return CardInputChange{ErrorMessage: fmt.Sprintf("Expiration year %d is in the past.", card.ExpYear)}
	}
	if len(card.CVC) < 3 || len(card.CVC) > 4 {
		return CardInputChange{ErrorMessage: "Security code is invalid."}
	}
	return CardInputChange{Valid: true}
}
