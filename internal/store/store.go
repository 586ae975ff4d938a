package store

import (
	"context"
	"errors"

	"github.com/noah-isme/backend-tafel/internal/domain"
	"github.com/noah-isme/backend-tafel/internal/money"
)

// ErrNotFound is returned when a session, participant or bill item id does
// not exist.
var ErrNotFound = errors.New("store: not found")

// SessionUpdate carries a partial session mutation. Nil fields are left
// untouched.
type SessionUpdate struct {
	Status            *domain.SessionStatus
	MainBookerID      *string
	LinkedIBAN        *string
	AccountHolderName *string
}

// ParticipantUpdate carries a partial participant mutation. Nil fields are
// left untouched.
type ParticipantUpdate struct {
	HasPaid        *bool
	PaidAmount     *money.Amount
	ExpectedAmount *money.Amount
}

// Store persists the session aggregate. Implementations must hand out copies;
// callers never share memory with the store. Serialization of composite
// read-modify-write sequences is the session service's responsibility.
type Store interface {
	CreateSession(ctx context.Context, s domain.Session) (domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	UpdateSession(ctx context.Context, id string, upd SessionUpdate) (domain.Session, error)

	CreateParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error)
	GetParticipant(ctx context.Context, id string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	UpdateParticipant(ctx context.Context, id string, upd ParticipantUpdate) (domain.Participant, error)

	CreateBillItems(ctx context.Context, items []domain.BillItem) ([]domain.BillItem, error)
	ListBillItems(ctx context.Context, sessionID string) ([]domain.BillItem, error)

	// ReplaceClaims atomically discards the participant's previous claim set
	// and applies the new one.
	ReplaceClaims(ctx context.Context, participantID string, claims []domain.ItemClaim) ([]domain.ItemClaim, error)
	ListClaims(ctx context.Context, sessionID string) ([]domain.ItemClaim, error)

	CreatePayment(ctx context.Context, p domain.Payment) (domain.Payment, error)
	ListPayments(ctx context.Context, sessionID string) ([]domain.Payment, error)
}
