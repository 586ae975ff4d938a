package realtime

import (
	"encoding/json"

	"github.com/noah-isme/backend-tafel/internal/domain"
	"github.com/noah-isme/backend-tafel/internal/money"
)

// Event types pushed to session subscribers. Clients treat every event as a
// hint to refetch the authoritative session snapshot, not as a delta feed.
const (
	TypeParticipantJoined = "participant-joined"
	TypeItemsClaimed      = "items-claimed"
	TypePaymentCompleted  = "payment-completed"
	TypeSessionCompleted  = "session-completed"
	TypeBankLinked        = "bank-linked"
)

// Event is one entry of the realtime catalog. Implementations are plain
// payload structs; the wire form is the payload with a "type" discriminator
// injected.
type Event interface {
	EventType() string
}

// ParticipantJoined announces a new participant (including the main booker at
// session creation).
type ParticipantJoined struct {
	Participant domain.Participant `json:"participant"`
}

func (ParticipantJoined) EventType() string { return TypeParticipantJoined }

// ItemsClaimed announces a replaced claim set and the resulting expected
// amount.
type ItemsClaimed struct {
	ParticipantID  string             `json:"participantId"`
	Claims         []domain.ItemClaim `json:"claims"`
	ExpectedAmount money.Amount       `json:"expectedAmount"`
}

func (ItemsClaimed) EventType() string { return TypeItemsClaimed }

// PaymentCompleted announces a recorded payment.
type PaymentCompleted struct {
	ParticipantID string         `json:"participantId"`
	Payment       domain.Payment `json:"payment"`
}

func (PaymentCompleted) EventType() string { return TypePaymentCompleted }

// SessionCompleted announces the terminal settlement state.
type SessionCompleted struct{}

func (SessionCompleted) EventType() string { return TypeSessionCompleted }

// BankLinked announces that the main booker attached a payout account.
type BankLinked struct {
	IBAN          string `json:"iban"`
	AccountHolder string `json:"accountHolder"`
}

func (BankLinked) EventType() string { return TypeBankLinked }

// Encode serializes an event as a JSON object with its "type" discriminator
// merged into the payload fields.
func Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	typeField, err := json.Marshal(ev.EventType())
	if err != nil {
		return nil, err
	}
	fields["type"] = typeField
	return json.Marshal(fields)
}
