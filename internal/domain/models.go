package domain

import (
	"time"

	"github.com/noah-isme/backend-tafel/internal/money"
)

// SplitMode selects how a session's bill is divided between participants.
type SplitMode string

const (
	// SplitEqual divides the total by the declared participant count.
	SplitEqual SplitMode = "equal"
	// SplitItems charges each participant for the line items they claim.
	SplitItems SplitMode = "items"
)

// Valid reports whether the mode is one of the supported split modes.
func (m SplitMode) Valid() bool {
	return m == SplitEqual || m == SplitItems
}

// SessionStatus is the settlement lifecycle state of a session.
type SessionStatus string

const (
	// StatusOpen means the bill is loaded and the session awaits claims/payments.
	StatusOpen SessionStatus = "open"
	// StatusSettling means at least one peer payment has been recorded.
	StatusSettling SessionStatus = "settling"
	// StatusCompleted is terminal: every known obligation is accounted for.
	StatusCompleted SessionStatus = "completed"
)

// PaymentStatus is the outcome state of a payment record.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Session is a shared bill being settled by a main booker and their peers.
type Session struct {
	ID                string        `json:"id"`
	RestaurantName    string        `json:"restaurantName"`
	TableNumber       string        `json:"tableNumber"`
	SplitMode         SplitMode     `json:"splitMode"`
	TotalAmount       money.Amount  `json:"totalAmount"`
	ParticipantCount  int           `json:"participantCount"`
	Status            SessionStatus `json:"status"`
	MainBookerID      string        `json:"mainBookerId"`
	LinkedIBAN        string        `json:"linkedIban,omitempty"`
	AccountHolderName string        `json:"accountHolderName,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// Participant is one person settling part of a session's bill.
type Participant struct {
	ID             string       `json:"id"`
	SessionID      string       `json:"sessionId"`
	Name           string       `json:"name"`
	IsMainBooker   bool         `json:"isMainBooker"`
	HasPaid        bool         `json:"hasPaid"`
	PaidAmount     money.Amount `json:"paidAmount"`
	ExpectedAmount money.Amount `json:"expectedAmount"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// BillItem is one immutable line of the bill catalog. Position is the line's
// place on the printed bill; listings keep that order. Availability is derived
// from claims, never stored.
type BillItem struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionId"`
	Position  int          `json:"position"`
	Name      string       `json:"name"`
	UnitPrice money.Amount `json:"unitPrice"`
	Quantity  int          `json:"quantity"`
}

// ItemClaim states that a participant claims Quantity units of a bill item.
// A participant's claims are always replaced as a whole set.
type ItemClaim struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	BillItemID    string    `json:"billItemId"`
	Quantity      int       `json:"quantity"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Payment is one entry of the append-only payment ledger.
type Payment struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"sessionId"`
	ParticipantID string        `json:"participantId"`
	Amount        money.Amount  `json:"amount"`
	Status        PaymentStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
}
