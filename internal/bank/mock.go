package bank

import (
	"context"
	"fmt"
	"sort"
)

type mockAccount struct {
	id      string
	account Account
}

var mockBanks = map[string]struct {
	name     string
	accounts []mockAccount
}{
	"kbc": {
		name: "KBC Bank",
		accounts: []mockAccount{
			{id: "kbc_1", account: Account{IBAN: "BE68539007547034", AccountHolder: "Jan Peeters", BankName: "KBC Bank"}},
			{id: "kbc_2", account: Account{IBAN: "BE42539007621845", AccountHolder: "Jan Peeters", BankName: "KBC Bank"}},
		},
	},
	"belfius": {
		name: "Belfius Bank",
		accounts: []mockAccount{
			{id: "belfius_1", account: Account{IBAN: "BE75068901234567", AccountHolder: "Jan Peeters", BankName: "Belfius Bank"}},
		},
	},
	"bnpparibas": {
		name: "BNP Paribas Fortis",
		accounts: []mockAccount{
			{id: "bnp_1", account: Account{IBAN: "BE92001012345678", AccountHolder: "Jan Peeters", BankName: "BNP Paribas Fortis"}},
		},
	},
	"ing": {
		name: "ING België",
		accounts: []mockAccount{
			{id: "ing_1", account: Account{IBAN: "BE54310123456789", AccountHolder: "Jan Peeters", BankName: "ING België"}},
		},
	},
}

// MockProvider simulates Belgian bank authentication with fixed fixtures.
type MockProvider struct{}

func (MockProvider) Authenticate(_ context.Context, bankID, accountID string) (Account, error) {
	b, ok := mockBanks[bankID]
	if !ok {
		return Account{}, fmt.Errorf("%w: unknown bank %q", ErrAuthFailed, bankID)
	}
	for _, acc := range b.accounts {
		if acc.id == accountID {
			return acc.account, nil
		}
	}
	return Account{}, fmt.Errorf("%w: unknown account %q at %s", ErrAuthFailed, accountID, b.name)
}

func (MockProvider) Banks(_ context.Context) ([]Bank, error) {
	out := make([]Bank, 0, len(mockBanks))
	for id, b := range mockBanks {
		accounts := make([]Account, 0, len(b.accounts))
		for _, acc := range b.accounts {
			accounts = append(accounts, acc.account)
		}
		out = append(out, Bank{ID: id, Name: b.name, Accounts: accounts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
