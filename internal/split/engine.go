package split

import (
	"errors"
	"fmt"

	"github.com/noah-isme/backend-tafel/internal/domain"
	"github.com/noah-isme/backend-tafel/internal/money"
)

var (
	// ErrInvalidConfiguration is returned for unusable split parameters, such
	// as a declared participant count below two.
	ErrInvalidConfiguration = errors.New("split: invalid configuration")
	// ErrUnknownItem is returned when a claim references a bill item that is
	// not part of the session catalog.
	ErrUnknownItem = errors.New("split: unknown bill item")
)

// OverClaimError reports a claim that exceeds an item's remaining
// availability. Available is what the item still allows once all other
// participants' claims are subtracted.
type OverClaimError struct {
	BillItemID string
	Requested  int
	Available  int
}

func (e *OverClaimError) Error() string {
	return fmt.Sprintf("split: item %s over-claimed: requested %d, available %d", e.BillItemID, e.Requested, e.Available)
}

// EqualShare computes the per-head contribution under the equal-split policy.
// The divisor is the session's declared participant count, not the number of
// participants who actually joined.
func EqualShare(total money.Amount, declaredCount int) (money.Amount, error) {
	if declaredCount < 2 {
		return 0, fmt.Errorf("%w: declared participant count %d", ErrInvalidConfiguration, declaredCount)
	}
	return money.DivideEqual(total, declaredCount)
}

// ClaimTotal computes a participant's expected contribution from their claim
// set under the item-claim policy. Claims are priced from scratch on every
// call, never incrementally.
func ClaimTotal(items []domain.BillItem, claims []domain.ItemClaim) (money.Amount, error) {
	prices := make(map[string]money.Amount, len(items))
	for _, it := range items {
		prices[it.ID] = it.UnitPrice
	}
	var total money.Amount
	for _, c := range claims {
		price, ok := prices[c.BillItemID]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownItem, c.BillItemID)
		}
		total += price.Mul(c.Quantity)
	}
	return total, nil
}

// ValidateClaims checks a replacement claim set for one participant against
// the catalog and every other participant's existing claims. It fails with an
// OverClaimError on the first item whose combined claimed quantity would
// exceed the item's total quantity; no partial result is produced.
func ValidateClaims(items []domain.BillItem, existing []domain.ItemClaim, participantID string, replacement []domain.ItemClaim) error {
	quantities := make(map[string]int, len(items))
	for _, it := range items {
		quantities[it.ID] = it.Quantity
	}

	claimedByOthers := make(map[string]int)
	for _, c := range existing {
		if c.ParticipantID != participantID {
			claimedByOthers[c.BillItemID] += c.Quantity
		}
	}

	seen := make(map[string]bool, len(replacement))
	for _, c := range replacement {
		total, ok := quantities[c.BillItemID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownItem, c.BillItemID)
		}
		if c.Quantity < 0 {
			return fmt.Errorf("%w: negative quantity for item %s", ErrInvalidConfiguration, c.BillItemID)
		}
		if seen[c.BillItemID] {
			return fmt.Errorf("%w: duplicate claim for item %s", ErrInvalidConfiguration, c.BillItemID)
		}
		seen[c.BillItemID] = true

		available := total - claimedByOthers[c.BillItemID]
		if c.Quantity > available {
			return &OverClaimError{BillItemID: c.BillItemID, Requested: c.Quantity, Available: available}
		}
	}
	return nil
}

// UnclaimedValue is the portion of the bill no participant has claimed yet:
// the session total minus the value of all claims across all participants.
func UnclaimedValue(total money.Amount, items []domain.BillItem, claims []domain.ItemClaim) money.Amount {
	claimed, err := ClaimTotal(items, claims)
	if err != nil {
		return total
	}
	remainder := total - claimed
	if remainder < 0 {
		remainder = 0
	}
	return remainder
}

// UnclaimedItems lists, per bill item, how many units remain unclaimed.
// It feeds the pay-full-outstanding confirmation so the payer sees exactly
// which items nobody has taken.
func UnclaimedItems(items []domain.BillItem, claims []domain.ItemClaim) []domain.BillItem {
	claimed := make(map[string]int)
	for _, c := range claims {
		claimed[c.BillItemID] += c.Quantity
	}
	var out []domain.BillItem
	for _, it := range items {
		remaining := it.Quantity - claimed[it.ID]
		if remaining <= 0 {
			continue
		}
		left := it
		left.Quantity = remaining
		out = append(out, left)
	}
	return out
}

// Outstanding computes the not-yet-reconciled balance for a session.
//
// Equal mode: the total minus the main booker's own share minus every peer
// payment already recorded. The booker's synthetic full-bill payment covers
// the restaurant, not their peers' shares, so it only offsets their own share.
//
// Item-claim mode: the value of unclaimed items plus the expected amounts of
// participants who claimed but have not paid.
//
// The result is clamped at zero; rounding drift never surfaces as a negative
// balance.
func Outstanding(session domain.Session, participants []domain.Participant, items []domain.BillItem, claims []domain.ItemClaim) (money.Amount, error) {
	var outstanding money.Amount
	switch session.SplitMode {
	case domain.SplitEqual:
		share, err := EqualShare(session.TotalAmount, session.ParticipantCount)
		if err != nil {
			return 0, err
		}
		outstanding = session.TotalAmount - share
		for _, p := range participants {
			if p.IsMainBooker || !p.HasPaid {
				continue
			}
			outstanding -= p.PaidAmount
		}
	case domain.SplitItems:
		outstanding = UnclaimedValue(session.TotalAmount, items, claims)
		for _, p := range participants {
			if p.HasPaid {
				continue
			}
			outstanding += p.ExpectedAmount
		}
	default:
		return 0, fmt.Errorf("%w: split mode %q", ErrInvalidConfiguration, session.SplitMode)
	}
	if outstanding < 0 {
		outstanding = 0
	}
	return outstanding, nil
}
