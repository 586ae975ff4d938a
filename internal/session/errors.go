package session

import (
	"errors"
	"fmt"

	"github.com/noah-isme/backend-tafel/internal/money"
	"github.com/noah-isme/backend-tafel/internal/store"
)

var (
	// ErrNotFound mirrors the store sentinel so callers only need one check.
	ErrNotFound = store.ErrNotFound
	// ErrUnknownParticipant is returned when a participant id does not belong
	// to the addressed session.
	ErrUnknownParticipant = errors.New("session: unknown participant")
	// ErrMainBookerExists rejects a second main booker for a session.
	ErrMainBookerExists = errors.New("session: session already has a main booker")
	// ErrSessionCompleted rejects mutations after settlement; completion is
	// terminal.
	ErrSessionCompleted = errors.New("session: session already completed")
	// ErrNotMainBooker guards the forced-settlement escape hatch.
	ErrNotMainBooker = errors.New("session: only the main booker may settle the outstanding balance")
)

// ConfirmationError rejects a pay-full-outstanding request whose confirmation
// amount no longer matches the live outstanding balance. The caller must
// refetch and confirm against fresh numbers.
type ConfirmationError struct {
	Outstanding money.Amount
	Confirmed   money.Amount
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("session: outstanding balance is %s, not the confirmed %s", e.Outstanding, e.Confirmed)
}
