package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-tafel/internal/bank"
	"github.com/noah-isme/backend-tafel/internal/domain"
	"github.com/noah-isme/backend-tafel/internal/money"
	"github.com/noah-isme/backend-tafel/internal/obs"
	"github.com/noah-isme/backend-tafel/internal/realtime"
	"github.com/noah-isme/backend-tafel/internal/split"
	"github.com/noah-isme/backend-tafel/internal/store"
)

// Broadcaster pushes realtime events to a session's subscribers. The hub
// satisfies it; tests plug in a recorder.
type Broadcaster interface {
	Broadcast(sessionID string, ev realtime.Event)
}

// Locker serializes a critical section across instances. Optional; when nil
// the in-process per-session mutex is the only serialization.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Service owns the session lifecycle: it loads bills into sessions, applies
// claims and payments, and decides when a session is fully settled. All
// mutations of one session run under a per-session lock so concurrent claim
// and payment requests observe each other.
type Service struct {
	store   store.Store
	hub     Broadcaster
	bank    bank.Provider
	locker  Locker
	lockTTL time.Duration
	log     zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithLocker enables distributed serialization on top of the in-process lock.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService wires the settlement tracker.
func NewService(st store.Store, hub Broadcaster, provider bank.Provider, opts ...Option) *Service {
	s := &Service{
		store:   st,
		hub:     hub,
		bank:    provider,
		lockTTL: 5 * time.Second,
		log:     zerolog.Nop(),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ItemInput is one bill line fed into session creation.
type ItemInput struct {
	Name      string
	UnitPrice money.Amount
	Quantity  int
}

// CreateSessionInput carries everything needed to open a session: the scanned
// bill, the split policy and the main booker who fronts the payment.
type CreateSessionInput struct {
	RestaurantName   string
	TableNumber      string
	SplitMode        domain.SplitMode
	ParticipantCount int
	Items            []ItemInput
	MainBookerName   string
}

// ClaimInput is one requested claim line. Quantity zero releases a previous
// claim on the item.
type ClaimInput struct {
	BillItemID string
	Quantity   int
}

// Snapshot is the full authoritative state of a session.
type Snapshot struct {
	Session      domain.Session       `json:"session"`
	Participants []domain.Participant `json:"participants"`
	BillItems    []domain.BillItem    `json:"billItems"`
	Claims       []domain.ItemClaim   `json:"claims"`
	Payments     []domain.Payment     `json:"payments"`
}

// OutstandingResult is the live balance still owed to the main booker,
// together with the items nobody claimed (item-claim mode only).
type OutstandingResult struct {
	Amount         money.Amount      `json:"amount"`
	UnclaimedItems []domain.BillItem `json:"unclaimedItems,omitempty"`
}

func (s *Service) mutexFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// withSession serializes fn against every other mutation of the same session.
func (s *Service) withSession(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	mu := s.mutexFor(id)
	mu.Lock()
	defer mu.Unlock()
	if s.locker != nil {
		return s.locker.WithLock(ctx, "session:"+id, s.lockTTL, fn)
	}
	return fn(ctx)
}

func (s *Service) broadcast(sessionID string, ev realtime.Event) {
	if s.hub != nil {
		s.hub.Broadcast(sessionID, ev)
	}
}

// CreateSession opens a session around a scanned bill. The main booker joins
// immediately and is recorded as having covered the full bill up front; that
// synthetic payment never drives the lifecycle, only peer payments do.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (Snapshot, error) {
	if !in.SplitMode.Valid() {
		return Snapshot{}, fmt.Errorf("%w: split mode %q", split.ErrInvalidConfiguration, in.SplitMode)
	}
	if in.MainBookerName == "" {
		return Snapshot{}, fmt.Errorf("%w: main booker name is required", split.ErrInvalidConfiguration)
	}
	if len(in.Items) == 0 {
		return Snapshot{}, fmt.Errorf("%w: a session needs at least one bill item", split.ErrInvalidConfiguration)
	}

	var total money.Amount
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return Snapshot{}, fmt.Errorf("%w: non-positive quantity for item %q", split.ErrInvalidConfiguration, it.Name)
		}
		total += it.UnitPrice.Mul(it.Quantity)
	}

	if in.SplitMode == domain.SplitEqual {
		if _, err := split.EqualShare(total, in.ParticipantCount); err != nil {
			return Snapshot{}, err
		}
	}

	sess, err := s.store.CreateSession(ctx, domain.Session{
		RestaurantName:   in.RestaurantName,
		TableNumber:      in.TableNumber,
		SplitMode:        in.SplitMode,
		TotalAmount:      total,
		ParticipantCount: in.ParticipantCount,
		Status:           domain.StatusOpen,
	})
	if err != nil {
		return Snapshot{}, err
	}

	items := make([]domain.BillItem, len(in.Items))
	for i, it := range in.Items {
		items[i] = domain.BillItem{
			SessionID: sess.ID,
			Position:  i,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		}
	}
	items, err = s.store.CreateBillItems(ctx, items)
	if err != nil {
		return Snapshot{}, err
	}

	booker, err := s.addParticipant(ctx, sess, in.MainBookerName, true)
	if err != nil {
		return Snapshot{}, err
	}
	sess.MainBookerID = booker.ID

	s.log.Info().
		Str("session_id", sess.ID).
		Str("split_mode", string(sess.SplitMode)).
		Str("total", sess.TotalAmount.String()).
		Msg("session created")
	if obs.SessionsCreatedTotal != nil {
		obs.SessionsCreatedTotal.WithLabelValues(string(sess.SplitMode)).Inc()
	}

	s.broadcast(sess.ID, realtime.ParticipantJoined{Participant: booker})
	return s.snapshot(ctx, sess)
}

// Join adds a participant to an open session. A main-booker join is only
// valid while the session has no main booker yet and settles them
// synthetically, exactly as session creation does.
func (s *Service) Join(ctx context.Context, sessionID, name string, isMainBooker bool) (domain.Participant, error) {
	if name == "" {
		return domain.Participant{}, fmt.Errorf("%w: participant name is required", split.ErrInvalidConfiguration)
	}
	var joined domain.Participant
	err := s.withSession(ctx, sessionID, func(ctx context.Context) error {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == domain.StatusCompleted {
			return ErrSessionCompleted
		}
		if isMainBooker && sess.MainBookerID != "" {
			return ErrMainBookerExists
		}
		joined, err = s.addParticipant(ctx, sess, name, isMainBooker)
		return err
	})
	if err != nil {
		return domain.Participant{}, err
	}
	s.broadcast(sessionID, realtime.ParticipantJoined{Participant: joined})
	return joined, nil
}

// addParticipant creates a participant under the session lock. The main
// booker is recorded as having fronted the full bill and the synthetic
// payment is written to the ledger. Under equal split every participant's
// expected amount is recomputed, not just the joiner's; the divisor is fixed
// today but recomputation keeps the policy the single source of truth.
func (s *Service) addParticipant(ctx context.Context, sess domain.Session, name string, isMainBooker bool) (domain.Participant, error) {
	var expected money.Amount
	if sess.SplitMode == domain.SplitEqual {
		share, err := split.EqualShare(sess.TotalAmount, sess.ParticipantCount)
		if err != nil {
			return domain.Participant{}, err
		}
		expected = share
	}

	p := domain.Participant{
		SessionID:      sess.ID,
		Name:           name,
		IsMainBooker:   isMainBooker,
		ExpectedAmount: expected,
	}
	if isMainBooker {
		p.HasPaid = true
		p.PaidAmount = sess.TotalAmount
	}
	p, err := s.store.CreateParticipant(ctx, p)
	if err != nil {
		return domain.Participant{}, err
	}

	if isMainBooker {
		if _, err := s.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{MainBookerID: &p.ID}); err != nil {
			return domain.Participant{}, err
		}
		// Ledger entry for fronting the restaurant. Excluded from lifecycle
		// evaluation.
		if _, err := s.store.CreatePayment(ctx, domain.Payment{
			SessionID:     sess.ID,
			ParticipantID: p.ID,
			Amount:        sess.TotalAmount,
			Status:        domain.PaymentCompleted,
		}); err != nil {
			return domain.Participant{}, err
		}
	}

	if sess.SplitMode == domain.SplitEqual {
		others, err := s.store.ListParticipants(ctx, sess.ID)
		if err != nil {
			return domain.Participant{}, err
		}
		for _, other := range others {
			if other.ID == p.ID || other.ExpectedAmount == expected {
				continue
			}
			if _, err := s.store.UpdateParticipant(ctx, other.ID, store.ParticipantUpdate{ExpectedAmount: &expected}); err != nil {
				return domain.Participant{}, err
			}
		}
	}
	return p, nil
}

// ClaimItems replaces a participant's entire claim set. Validation runs
// against all other participants' claims under the session lock, so two
// concurrent claims of the last unit can never both succeed. On over-claim
// nothing is stored.
func (s *Service) ClaimItems(ctx context.Context, sessionID, participantID string, claims []ClaimInput) ([]domain.ItemClaim, money.Amount, error) {
	var (
		stored   []domain.ItemClaim
		expected money.Amount
	)
	err := s.withSession(ctx, sessionID, func(ctx context.Context) error {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == domain.StatusCompleted {
			return ErrSessionCompleted
		}
		if sess.SplitMode != domain.SplitItems {
			return fmt.Errorf("%w: claims require item-claim mode, session uses %q", split.ErrInvalidConfiguration, sess.SplitMode)
		}
		if _, err := s.participantOf(ctx, sessionID, participantID); err != nil {
			return err
		}

		items, err := s.store.ListBillItems(ctx, sessionID)
		if err != nil {
			return err
		}
		existing, err := s.store.ListClaims(ctx, sessionID)
		if err != nil {
			return err
		}

		replacement := make([]domain.ItemClaim, 0, len(claims))
		for _, c := range claims {
			replacement = append(replacement, domain.ItemClaim{
				ParticipantID: participantID,
				BillItemID:    c.BillItemID,
				Quantity:      c.Quantity,
			})
		}
		if err := split.ValidateClaims(items, existing, participantID, replacement); err != nil {
			var oc *split.OverClaimError
			if errors.As(err, &oc) && obs.ClaimConflictsTotal != nil {
				obs.ClaimConflictsTotal.Inc()
			}
			return err
		}

		// Zero-quantity entries are releases; they validated fine but are not
		// persisted.
		kept := replacement[:0]
		for _, c := range replacement {
			if c.Quantity > 0 {
				kept = append(kept, c)
			}
		}

		stored, err = s.store.ReplaceClaims(ctx, participantID, kept)
		if err != nil {
			return err
		}
		expected, err = split.ClaimTotal(items, stored)
		if err != nil {
			return err
		}
		_, err = s.store.UpdateParticipant(ctx, participantID, store.ParticipantUpdate{ExpectedAmount: &expected})
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	s.broadcast(sessionID, realtime.ItemsClaimed{
		ParticipantID:  participantID,
		Claims:         stored,
		ExpectedAmount: expected,
	})
	return stored, expected, nil
}

// RecordPayment records a completed payment for a participant and re-evaluates
// the lifecycle: the first peer payment moves Open to Settling, and once every
// participant has paid the session completes.
func (s *Service) RecordPayment(ctx context.Context, sessionID, participantID string, amount money.Amount) (domain.Payment, error) {
	if amount < 0 {
		return domain.Payment{}, fmt.Errorf("%w: negative payment amount", split.ErrInvalidConfiguration)
	}
	var (
		payment   domain.Payment
		completed bool
	)
	err := s.withSession(ctx, sessionID, func(ctx context.Context) error {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == domain.StatusCompleted {
			return ErrSessionCompleted
		}
		payer, err := s.participantOf(ctx, sessionID, participantID)
		if err != nil {
			return err
		}

		payment, err = s.store.CreatePayment(ctx, domain.Payment{
			SessionID:     sessionID,
			ParticipantID: participantID,
			Amount:        amount,
			Status:        domain.PaymentCompleted,
		})
		if err != nil {
			return err
		}
		paid := true
		if _, err := s.store.UpdateParticipant(ctx, participantID, store.ParticipantUpdate{
			HasPaid:    &paid,
			PaidAmount: &amount,
		}); err != nil {
			return err
		}

		// The booker's money never drives transitions; only peers settle the
		// session.
		if payer.IsMainBooker {
			return nil
		}
		completed, err = s.advance(ctx, sess)
		return err
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.log.Info().
		Str("session_id", sessionID).
		Str("participant_id", participantID).
		Str("amount", amount.String()).
		Msg("payment recorded")
	if obs.PaymentsRecordedTotal != nil {
		obs.PaymentsRecordedTotal.WithLabelValues(string(domain.PaymentCompleted)).Inc()
	}

	s.broadcast(sessionID, realtime.PaymentCompleted{ParticipantID: participantID, Payment: payment})
	if completed {
		if obs.SessionsCompletedTotal != nil {
			obs.SessionsCompletedTotal.Inc()
		}
		s.broadcast(sessionID, realtime.SessionCompleted{})
	}
	return payment, nil
}

// advance applies the lifecycle rules after a peer payment. It reports whether
// the session just completed.
func (s *Service) advance(ctx context.Context, sess domain.Session) (bool, error) {
	participants, err := s.store.ListParticipants(ctx, sess.ID)
	if err != nil {
		return false, err
	}
	allPaid := true
	for _, p := range participants {
		if !p.HasPaid {
			allPaid = false
			break
		}
	}
	switch {
	case allPaid:
		status := domain.StatusCompleted
		_, err = s.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{Status: &status})
		return err == nil, err
	case sess.Status == domain.StatusOpen:
		status := domain.StatusSettling
		_, err = s.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{Status: &status})
		return false, err
	}
	return false, nil
}

// Outstanding reports the balance still owed to the main booker, computed
// fresh from the current participants, claims and payments.
func (s *Service) Outstanding(ctx context.Context, sessionID string) (OutstandingResult, error) {
	var out OutstandingResult
	err := s.withSession(ctx, sessionID, func(ctx context.Context) error {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		out, err = s.outstandingLocked(ctx, sess)
		return err
	})
	return out, err
}

func (s *Service) outstandingLocked(ctx context.Context, sess domain.Session) (OutstandingResult, error) {
	participants, err := s.store.ListParticipants(ctx, sess.ID)
	if err != nil {
		return OutstandingResult{}, err
	}
	items, err := s.store.ListBillItems(ctx, sess.ID)
	if err != nil {
		return OutstandingResult{}, err
	}
	claims, err := s.store.ListClaims(ctx, sess.ID)
	if err != nil {
		return OutstandingResult{}, err
	}
	amount, err := split.Outstanding(sess, participants, items, claims)
	if err != nil {
		return OutstandingResult{}, err
	}
	out := OutstandingResult{Amount: amount}
	if sess.SplitMode == domain.SplitItems {
		out.UnclaimedItems = split.UnclaimedItems(items, claims)
	}
	return out, nil
}

// PayFullOutstanding lets the main booker absorb whatever is still owed and
// close the session in one move. The confirmation amount must match the live
// outstanding balance; a stale confirmation is rejected so the booker always
// approves the real number. Calling it on a completed session is a no-op.
func (s *Service) PayFullOutstanding(ctx context.Context, sessionID, participantID string, confirm money.Amount) (Snapshot, error) {
	var (
		snap          Snapshot
		settlement    domain.Payment
		madeSettle    bool
		alreadyClosed bool
	)
	err := s.withSession(ctx, sessionID, func(ctx context.Context) error {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		booker, err := s.participantOf(ctx, sessionID, participantID)
		if err != nil {
			return err
		}
		if !booker.IsMainBooker {
			return ErrNotMainBooker
		}
		if sess.Status == domain.StatusCompleted {
			alreadyClosed = true
			snap, err = s.snapshot(ctx, sess)
			return err
		}

		out, err := s.outstandingLocked(ctx, sess)
		if err != nil {
			return err
		}
		if out.Amount != confirm {
			return &ConfirmationError{Outstanding: out.Amount, Confirmed: confirm}
		}

		if out.Amount > 0 {
			settlement, err = s.store.CreatePayment(ctx, domain.Payment{
				SessionID:     sessionID,
				ParticipantID: participantID,
				Amount:        out.Amount,
				Status:        domain.PaymentCompleted,
			})
			if err != nil {
				return err
			}
			madeSettle = true
		}

		// Everyone still open is covered by the booker now; their slots close
		// at their expected amounts.
		participants, err := s.store.ListParticipants(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, p := range participants {
			if p.HasPaid {
				continue
			}
			paid := true
			amount := p.ExpectedAmount
			if _, err := s.store.UpdateParticipant(ctx, p.ID, store.ParticipantUpdate{
				HasPaid:    &paid,
				PaidAmount: &amount,
			}); err != nil {
				return err
			}
		}

		status := domain.StatusCompleted
		sess, err = s.store.UpdateSession(ctx, sessionID, store.SessionUpdate{Status: &status})
		if err != nil {
			return err
		}
		snap, err = s.snapshot(ctx, sess)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	if alreadyClosed {
		return snap, nil
	}

	s.log.Info().
		Str("session_id", sessionID).
		Str("amount", confirm.String()).
		Msg("outstanding balance settled by main booker")

	if madeSettle {
		if obs.PaymentsRecordedTotal != nil {
			obs.PaymentsRecordedTotal.WithLabelValues(string(domain.PaymentCompleted)).Inc()
		}
		s.broadcast(sessionID, realtime.PaymentCompleted{ParticipantID: participantID, Payment: settlement})
	}
	if obs.SessionsCompletedTotal != nil {
		obs.SessionsCompletedTotal.Inc()
	}
	s.broadcast(sessionID, realtime.SessionCompleted{})
	return snap, nil
}

// LinkBank authenticates against the banking provider and attaches the payout
// account to the session.
func (s *Service) LinkBank(ctx context.Context, sessionID, bankID, accountID string) (domain.Session, error) {
	account, err := s.bank.Authenticate(ctx, bankID, accountID)
	if err != nil {
		return domain.Session{}, err
	}
	var sess domain.Session
	err = s.withSession(ctx, sessionID, func(ctx context.Context) error {
		sess, err = s.store.UpdateSession(ctx, sessionID, store.SessionUpdate{
			LinkedIBAN:        &account.IBAN,
			AccountHolderName: &account.AccountHolder,
		})
		return err
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.broadcast(sessionID, realtime.BankLinked{IBAN: account.IBAN, AccountHolder: account.AccountHolder})
	return sess, nil
}

// GetSnapshot returns the full state of a session.
func (s *Service) GetSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(ctx, sess)
}

func (s *Service) snapshot(ctx context.Context, sess domain.Session) (Snapshot, error) {
	participants, err := s.store.ListParticipants(ctx, sess.ID)
	if err != nil {
		return Snapshot{}, err
	}
	items, err := s.store.ListBillItems(ctx, sess.ID)
	if err != nil {
		return Snapshot{}, err
	}
	claims, err := s.store.ListClaims(ctx, sess.ID)
	if err != nil {
		return Snapshot{}, err
	}
	payments, err := s.store.ListPayments(ctx, sess.ID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Session:      sess,
		Participants: participants,
		BillItems:    items,
		Claims:       claims,
		Payments:     payments,
	}, nil
}

// participantOf fetches a participant and checks session membership.
func (s *Service) participantOf(ctx context.Context, sessionID, participantID string) (domain.Participant, error) {
	p, err := s.store.GetParticipant(ctx, participantID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Participant{}, ErrUnknownParticipant
	}
	if err != nil {
		return domain.Participant{}, err
	}
	if p.SessionID != sessionID {
		return domain.Participant{}, ErrUnknownParticipant
	}
	return p, nil
}
