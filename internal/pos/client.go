package pos

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/backend-tafel/internal/money"
)

// ErrBillNotFound is returned when no bill exists for the table.
var ErrBillNotFound = errors.New("pos: bill not found")

// BillLine is one line of a looked-up restaurant bill.
type BillLine struct {
	Name      string       `json:"name"`
	UnitPrice money.Amount `json:"unitPrice"`
	Quantity  int          `json:"quantity"`
}

// Bill is the result of a point-of-sale lookup. The core treats it as opaque
// input data.
type Bill struct {
	Items       []BillLine   `json:"items"`
	TotalAmount money.Amount `json:"totalAmount"`
}

// Client looks up the open bill for a table at a restaurant.
type Client interface {
	LookupBill(ctx context.Context, tableNumber, restaurantName string) (Bill, error)
}

// MockClient serves a static bill table, standing in for a real POS
// integration.
type MockClient struct{}

var mockBills = map[string]Bill{
	"De Blauwe Kater-12": {
		Items: []BillLine{
			{Name: "Gentse Waterzooi", UnitPrice: 1850, Quantity: 1},
			{Name: "Vlaamse Stoofpot", UnitPrice: 2200, Quantity: 1},
			{Name: "Frieten met Mayo", UnitPrice: 650, Quantity: 2},
			{Name: "Duvel (33cl)", UnitPrice: 420, Quantity: 2},
			{Name: "Jupiler (25cl)", UnitPrice: 350, Quantity: 1},
			{Name: "Belgische Wafels", UnitPrice: 800, Quantity: 1},
		},
		TotalAmount: 7340,
	},
}

func (MockClient) LookupBill(_ context.Context, tableNumber, restaurantName string) (Bill, error) {
	key := fmt.Sprintf("%s-%s", restaurantName, tableNumber)
	bill, ok := mockBills[key]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	return bill, nil
}
