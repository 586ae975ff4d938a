package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tafel/internal/bank"
	"github.com/noah-isme/backend-tafel/internal/domain"
	"github.com/noah-isme/backend-tafel/internal/money"
	"github.com/noah-isme/backend-tafel/internal/realtime"
	"github.com/noah-isme/backend-tafel/internal/session"
	"github.com/noah-isme/backend-tafel/internal/split"
	"github.com/noah-isme/backend-tafel/internal/store"
)

// recorder captures broadcasts so tests can assert on the event stream
// without a live hub.
type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Broadcast(_ string, ev realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventType()
	}
	return out
}

func newService(t *testing.T) (*session.Service, *store.Memory, *recorder) {
	t.Helper()
	st := store.NewMemory()
	rec := &recorder{}
	return session.NewService(st, rec, bank.MockProvider{}), st, rec
}

func equalSessionInput() session.CreateSessionInput {
	return session.CreateSessionInput{
		RestaurantName:   "De Blauwe Kater",
		TableNumber:      "12",
		SplitMode:        domain.SplitEqual,
		ParticipantCount: 4,
		MainBookerName:   "Emma",
		Items: []session.ItemInput{
			{Name: "Gentse Waterzooi", UnitPrice: 1850, Quantity: 1},
			{Name: "Vlaamse Stoofpot", UnitPrice: 2200, Quantity: 1},
			{Name: "Frieten met Mayo", UnitPrice: 650, Quantity: 2},
			{Name: "Duvel (33cl)", UnitPrice: 420, Quantity: 2},
			{Name: "Jupiler (25cl)", UnitPrice: 350, Quantity: 1},
			{Name: "Belgische Wafels", UnitPrice: 800, Quantity: 1},
		},
	}
}

func itemsSessionInput() session.CreateSessionInput {
	return session.CreateSessionInput{
		RestaurantName: "De Blauwe Kater",
		TableNumber:    "12",
		SplitMode:      domain.SplitItems,
		MainBookerName: "Emma",
		Items: []session.ItemInput{
			{Name: "Gentse Waterzooi", UnitPrice: 1850, Quantity: 1},
			{Name: "Frieten met Mayo", UnitPrice: 650, Quantity: 2},
		},
	}
}

func TestCreateSessionEqualSplit(t *testing.T) {
	svc, _, rec := newService(t)

	snap, err := svc.CreateSession(context.Background(), equalSessionInput())
	require.NoError(t, err)

	require.Equal(t, domain.StatusOpen, snap.Session.Status)
	require.Equal(t, money.MustParse("73.40"), snap.Session.TotalAmount)
	require.Len(t, snap.BillItems, 6)

	require.Len(t, snap.Participants, 1)
	booker := snap.Participants[0]
	require.Equal(t, snap.Session.MainBookerID, booker.ID)
	require.True(t, booker.IsMainBooker)
	require.True(t, booker.HasPaid)
	require.Equal(t, money.MustParse("73.40"), booker.PaidAmount)
	require.Equal(t, money.MustParse("18.35"), booker.ExpectedAmount)

	require.Len(t, snap.Payments, 1)
	require.Equal(t, booker.ID, snap.Payments[0].ParticipantID)
	require.Equal(t, money.MustParse("73.40"), snap.Payments[0].Amount)

	require.Equal(t, []string{realtime.TypeParticipantJoined}, rec.types())
}

func TestCreateSessionRejectsBadInput(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	in := equalSessionInput()
	in.SplitMode = "proportional"
	_, err := svc.CreateSession(ctx, in)
	require.ErrorIs(t, err, split.ErrInvalidConfiguration)

	in = equalSessionInput()
	in.ParticipantCount = 1
	_, err = svc.CreateSession(ctx, in)
	require.ErrorIs(t, err, split.ErrInvalidConfiguration)

	in = equalSessionInput()
	in.Items = nil
	_, err = svc.CreateSession(ctx, in)
	require.ErrorIs(t, err, split.ErrInvalidConfiguration)

	in = equalSessionInput()
	in.MainBookerName = ""
	_, err = svc.CreateSession(ctx, in)
	require.ErrorIs(t, err, split.ErrInvalidConfiguration)
}

func TestJoinEqualSplitAssignsShare(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, equalSessionInput())
	require.NoError(t, err)

	p, err := svc.Join(ctx, snap.Session.ID, "Lucas", false)
	require.NoError(t, err)
	require.Equal(t, money.MustParse("18.35"), p.ExpectedAmount)
	require.False(t, p.IsMainBooker)
	require.False(t, p.HasPaid)

	_, err = svc.Join(ctx, snap.Session.ID, "", false)
	require.ErrorIs(t, err, split.ErrInvalidConfiguration)

	_, err = svc.Join(ctx, "nope", "Marie", false)
	require.ErrorIs(t, err, session.ErrNotFound)

	// Creation already seated a main booker.
	_, err = svc.Join(ctx, snap.Session.ID, "Impostor", true)
	require.ErrorIs(t, err, session.ErrMainBookerExists)
}

func TestEqualSplitLifecycle(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, equalSessionInput())
	require.NoError(t, err)
	id := snap.Session.ID
	share := money.MustParse("18.35")

	out, err := svc.Outstanding(ctx, id)
	require.NoError(t, err)
	require.Equal(t, money.MustParse("55.05"), out.Amount)

	var peers []domain.Participant
	for _, name := range []string{"Lucas", "Marie", "Thomas"} {
		p, err := svc.Join(ctx, id, name, false)
		require.NoError(t, err)
		peers = append(peers, p)
	}

	// First peer payment moves the session to settling.
	_, err = svc.RecordPayment(ctx, id, peers[0].ID, share)
	require.NoError(t, err)
	got, err := svc.GetSnapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSettling, got.Session.Status)

	out, err = svc.Outstanding(ctx, id)
	require.NoError(t, err)
	require.Equal(t, money.MustParse("36.70"), out.Amount)

	_, err = svc.RecordPayment(ctx, id, peers[1].ID, share)
	require.NoError(t, err)
	out, err = svc.Outstanding(ctx, id)
	require.NoError(t, err)
	require.Equal(t, share, out.Amount)

	// Last peer settles the whole table.
	_, err = svc.RecordPayment(ctx, id, peers[2].ID, share)
	require.NoError(t, err)
	got, err = svc.GetSnapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Session.Status)

	out, err = svc.Outstanding(ctx, id)
	require.NoError(t, err)
	require.Equal(t, money.Amount(0), out.Amount)

	types := rec.types()
	require.Equal(t, realtime.TypeSessionCompleted, types[len(types)-1])
}

func TestBookerPaymentNeverAdvancesLifecycle(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, equalSessionInput())
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, snap.Session.ID, snap.Session.MainBookerID, money.MustParse("10.00"))
	require.NoError(t, err)

	got, err := svc.GetSnapshot(ctx, snap.Session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, got.Session.Status)
}

func TestClaimItemsReplacementAndPricing(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, itemsSessionInput())
	require.NoError(t, err)
	id := snap.Session.ID
	waterzooi := snap.BillItems[0]
	frieten := snap.BillItems[1]
	require.Equal(t, "Gentse Waterzooi", waterzooi.Name)
	require.Equal(t, "Frieten met Mayo", frieten.Name)

	lucas, err := svc.Join(ctx, id, "Lucas", false)
	require.NoError(t, err)

	claims, expected, err := svc.ClaimItems(ctx, id, lucas.ID, []session.ClaimInput{
		{BillItemID: waterzooi.ID, Quantity: 1},
		{BillItemID: frieten.ID, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, claims, 2)
	require.Equal(t, money.MustParse("25.00"), expected)

	// Re-claiming replaces the previous set entirely; the waterzooi is
	// released.
	claims, expected, err = svc.ClaimItems(ctx, id, lucas.ID, []session.ClaimInput{
		{BillItemID: frieten.ID, Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, money.MustParse("13.00"), expected)

	marie, err := svc.Join(ctx, id, "Marie", false)
	require.NoError(t, err)
	_, expected, err = svc.ClaimItems(ctx, id, marie.ID, []session.ClaimInput{
		{BillItemID: waterzooi.ID, Quantity: 1},
	})
	require.NoError(t, err)
	require.Equal(t, money.MustParse("18.50"), expected)
}

func TestClaimItemsOverClaimIsAtomic(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, itemsSessionInput())
	require.NoError(t, err)
	id := snap.Session.ID
	waterzooi := snap.BillItems[0]
	frieten := snap.BillItems[1]
	require.Equal(t, "Gentse Waterzooi", waterzooi.Name)
	require.Equal(t, "Frieten met Mayo", frieten.Name)

	lucas, err := svc.Join(ctx, id, "Lucas", false)
	require.NoError(t, err)
	marie, err := svc.Join(ctx, id, "Marie", false)
	require.NoError(t, err)

	_, _, err = svc.ClaimItems(ctx, id, lucas.ID, []session.ClaimInput{
		{BillItemID: waterzooi.ID, Quantity: 1},
	})
	require.NoError(t, err)

	// Marie's set conflicts on the waterzooi; her valid frieten claim must
	// not land either.
	_, _, err = svc.ClaimItems(ctx, id, marie.ID, []session.ClaimInput{
		{BillItemID: frieten.ID, Quantity: 1},
		{BillItemID: waterzooi.ID, Quantity: 1},
	})
	var oc *split.OverClaimError
	require.ErrorAs(t, err, &oc)
	require.Equal(t, waterzooi.ID, oc.BillItemID)
	require.Equal(t, 0, oc.Available)

	got, err := svc.GetSnapshot(ctx, id)
	require.NoError(t, err)
	for _, c := range got.Claims {
		require.NotEqual(t, marie.ID, c.ParticipantID)
	}
}

func TestClaimItemsConcurrentLastUnit(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, itemsSessionInput())
	require.NoError(t, err)
	id := snap.Session.ID
	waterzooi := snap.BillItems[0]

	lucas, err := svc.Join(ctx, id, "Lucas", false)
	require.NoError(t, err)
	marie, err := svc.Join(ctx, id, "Marie", false)
	require.NoError(t, err)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, pid := range []string{lucas.ID, marie.ID} {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			_, _, err := svc.ClaimItems(ctx, id, pid, []session.ClaimInput{
				{BillItemID: waterzooi.ID, Quantity: 1},
			})
			errs <- err
		}(pid)
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		if err == nil {
			won++
			continue
		}
		var oc *split.OverClaimError
		require.ErrorAs(t, err, &oc)
		lost++
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, lost)
}

func TestClaimItemsGuards(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, equalSessionInput())
	require.NoError(t, err)

	// Claims are an item-claim mode feature.
	_, _, err = svc.ClaimItems(ctx, snap.Session.ID, snap.Session.MainBookerID, nil)
	require.ErrorIs(t, err, split.ErrInvalidConfiguration)

	itemsSnap, err := svc.CreateSession(ctx, itemsSessionInput())
	require.NoError(t, err)

	_, _, err = svc.ClaimItems(ctx, itemsSnap.Session.ID, "ghost", nil)
	require.ErrorIs(t, err, session.ErrUnknownParticipant)

	// A participant from another session is a stranger here.
	_, _, err = svc.ClaimItems(ctx, itemsSnap.Session.ID, snap.Session.MainBookerID, nil)
	require.ErrorIs(t, err, session.ErrUnknownParticipant)
}

func TestItemModeOutstandingAndUnclaimed(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, itemsSessionInput())
	require.NoError(t, err)
	id := snap.Session.ID
	waterzooi := snap.BillItems[0]
	frieten := snap.BillItems[1]
	require.Equal(t, "Gentse Waterzooi", waterzooi.Name)
	require.Equal(t, "Frieten met Mayo", frieten.Name)

	// Nothing claimed: the whole bill is outstanding.
	out, err := svc.Outstanding(ctx, id)
	require.NoError(t, err)
	require.Equal(t, money.MustParse("31.50"), out.Amount)
	require.Len(t, out.UnclaimedItems, 2)

	lucas, err := svc.Join(ctx, id, "Lucas", false)
	require.NoError(t, err)
	_, _, err = svc.ClaimItems(ctx, id, lucas.ID, []session.ClaimInput{
		{BillItemID: waterzooi.ID, Quantity: 1},
		{BillItemID: frieten.ID, Quantity: 1},
	})
	require.NoError(t, err)

	// Claimed-but-unpaid value stays outstanding alongside the unclaimed
	// frieten.
	out, err = svc.Outstanding(ctx, id)
	require.NoError(t, err)
	require.Equal(t, money.MustParse("31.50"), out.Amount)
	require.Len(t, out.UnclaimedItems, 1)
	require.Equal(t, frieten.ID, out.UnclaimedItems[0].ID)
	require.Equal(t, 1, out.UnclaimedItems[0].Quantity)

	_, err = svc.RecordPayment(ctx, id, lucas.ID, money.MustParse("25.00"))
	require.NoError(t, err)

	out, err = svc.Outstanding(ctx, id)
	require.NoError(t, err)
	require.Equal(t, money.MustParse("6.50"), out.Amount)
}

func TestPayFullOutstanding(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, equalSessionInput())
	require.NoError(t, err)
	id := snap.Session.ID
	bookerID := snap.Session.MainBookerID

	lucas, err := svc.Join(ctx, id, "Lucas", false)
	require.NoError(t, err)
	marie, err := svc.Join(ctx, id, "Marie", false)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, id, lucas.ID, money.MustParse("18.35"))
	require.NoError(t, err)

	// Marie has not paid, so the session is still settling.
	mid, err := svc.GetSnapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSettling, mid.Session.Status)

	// Stale confirmation is rejected with the live balance.
	_, err = svc.PayFullOutstanding(ctx, id, bookerID, money.MustParse("55.05"))
	var cerr *session.ConfirmationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, money.MustParse("36.70"), cerr.Outstanding)

	// Only the booker may force settlement.
	_, err = svc.PayFullOutstanding(ctx, id, lucas.ID, money.MustParse("36.70"))
	require.ErrorIs(t, err, session.ErrNotMainBooker)

	got, err := svc.PayFullOutstanding(ctx, id, bookerID, money.MustParse("36.70"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Session.Status)
	for _, p := range got.Participants {
		require.True(t, p.HasPaid)
		if p.ID == marie.ID {
			// Covered by the booker at her expected share.
			require.Equal(t, money.MustParse("18.35"), p.PaidAmount)
		}
	}

	out, err := svc.Outstanding(ctx, id)
	require.NoError(t, err)
	require.Equal(t, money.Amount(0), out.Amount)

	types := rec.types()
	require.Equal(t, realtime.TypeSessionCompleted, types[len(types)-1])

	// Repeating the settlement is a no-op, not an error.
	payments := len(got.Payments)
	again, err := svc.PayFullOutstanding(ctx, id, bookerID, money.MustParse("36.70"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, again.Session.Status)
	require.Len(t, again.Payments, payments)
}

func TestCompletedSessionIsTerminal(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, equalSessionInput())
	require.NoError(t, err)
	id := snap.Session.ID

	lucas, err := svc.Join(ctx, id, "Lucas", false)
	require.NoError(t, err)
	out, err := svc.Outstanding(ctx, id)
	require.NoError(t, err)
	_, err = svc.PayFullOutstanding(ctx, id, snap.Session.MainBookerID, out.Amount)
	require.NoError(t, err)

	_, err = svc.Join(ctx, id, "Late Pete", false)
	require.ErrorIs(t, err, session.ErrSessionCompleted)
	_, err = svc.RecordPayment(ctx, id, lucas.ID, money.MustParse("18.35"))
	require.ErrorIs(t, err, session.ErrSessionCompleted)

	got, err := svc.GetSnapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Session.Status)
}

func TestLinkBank(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	snap, err := svc.CreateSession(ctx, equalSessionInput())
	require.NoError(t, err)

	sess, err := svc.LinkBank(ctx, snap.Session.ID, "kbc", "kbc_1")
	require.NoError(t, err)
	require.Equal(t, "BE68539007547034", sess.LinkedIBAN)
	require.Equal(t, "Jan Peeters", sess.AccountHolderName)

	_, err = svc.LinkBank(ctx, snap.Session.ID, "kbc", "nope")
	require.ErrorIs(t, err, bank.ErrAuthFailed)

	types := rec.types()
	require.Contains(t, types, realtime.TypeBankLinked)
}

func TestUnknownSessionSurfacesNotFound(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.GetSnapshot(ctx, "missing")
	require.ErrorIs(t, err, session.ErrNotFound)
	_, err = svc.Outstanding(ctx, "missing")
	require.ErrorIs(t, err, session.ErrNotFound)
	_, err = svc.RecordPayment(ctx, "missing", "p", money.MustParse("1.00"))
	require.True(t, errors.Is(err, session.ErrNotFound))
}
