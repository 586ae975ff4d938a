package bank

import (
	"context"
	"errors"
)

// ErrAuthFailed is returned when the bank rejects the authentication attempt.
var ErrAuthFailed = errors.New("bank: authentication failed")

// Account is the payout account metadata attached to a session's main booker.
// The core only displays the IBAN, it never validates or charges it.
type Account struct {
	IBAN          string `json:"iban"`
	AccountHolder string `json:"accountHolderName"`
	BankName      string `json:"bankName"`
}

// Bank is one selectable institution in the linking flow.
type Bank struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Accounts []Account `json:"accounts"`
}

// Provider authenticates a customer with their bank and resolves the account
// to link. Real implementations would drive an OAuth flow; the core only
// needs the resulting account metadata.
type Provider interface {
	Authenticate(ctx context.Context, bankID, accountID string) (Account, error)
	Banks(ctx context.Context) ([]Bank, error)
}
