package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-tafel/internal/domain"
	"github.com/noah-isme/backend-tafel/internal/money"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    restaurant_name     TEXT NOT NULL,
    table_number        TEXT NOT NULL,
    split_mode          TEXT NOT NULL,
    total_amount        BIGINT NOT NULL,
    participant_count   INT NOT NULL DEFAULT 0,
    status              TEXT NOT NULL DEFAULT 'open',
    main_booker_id      UUID,
    linked_iban         TEXT NOT NULL DEFAULT '',
    account_holder_name TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS participants (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    session_id      UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    name            TEXT NOT NULL,
    is_main_booker  BOOLEAN NOT NULL DEFAULT FALSE,
    has_paid        BOOLEAN NOT NULL DEFAULT FALSE,
    paid_amount     BIGINT NOT NULL DEFAULT 0,
    expected_amount BIGINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS bill_items (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    position   INT NOT NULL DEFAULT 0,
    name       TEXT NOT NULL,
    unit_price BIGINT NOT NULL,
    quantity   INT NOT NULL
);
CREATE TABLE IF NOT EXISTS item_claims (
    id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    bill_item_id   UUID NOT NULL REFERENCES bill_items(id) ON DELETE CASCADE,
    quantity       INT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (participant_id, bill_item_id)
);
CREATE TABLE IF NOT EXISTS payments (
    id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    session_id     UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    amount         BIGINT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres is a pgx-backed Store.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres connects a pool and verifies the connection.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	s.db.Close()
}

// Pool exposes the underlying pool for health probes.
func (s *Postgres) Pool() *pgxpool.Pool {
	return s.db
}

func (s *Postgres) CreateSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	err := s.db.QueryRow(ctx,
		`INSERT INTO sessions (restaurant_name, table_number, split_mode, total_amount, participant_count, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		sess.RestaurantName, sess.TableNumber, string(sess.SplitMode), int64(sess.TotalAmount), sess.ParticipantCount, string(sess.Status),
	).Scan(&sess.ID, &sess.CreatedAt)
	if err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

func (s *Postgres) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var sess domain.Session
	err := s.db.QueryRow(ctx,
		`SELECT id, restaurant_name, table_number, split_mode, total_amount, participant_count, status,
		        COALESCE(main_booker_id::text, ''), linked_iban, account_holder_name, created_at
		 FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.RestaurantName, &sess.TableNumber, &sess.SplitMode, &sess.TotalAmount,
		&sess.ParticipantCount, &sess.Status, &sess.MainBookerID, &sess.LinkedIBAN, &sess.AccountHolderName, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, ErrNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

func (s *Postgres) UpdateSession(ctx context.Context, id string, upd SessionUpdate) (domain.Session, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE sessions SET
		   status              = COALESCE($2, status),
		   main_booker_id      = COALESCE($3::uuid, main_booker_id),
		   linked_iban         = COALESCE($4, linked_iban),
		   account_holder_name = COALESCE($5, account_holder_name)
		 WHERE id = $1`,
		id, statusArg(upd.Status), upd.MainBookerID, upd.LinkedIBAN, upd.AccountHolderName)
	if err != nil {
		return domain.Session{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.Session{}, ErrNotFound
	}
	return s.GetSession(ctx, id)
}

func (s *Postgres) CreateParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	err := s.db.QueryRow(ctx,
		`INSERT INTO participants (session_id, name, is_main_booker, has_paid, paid_amount, expected_amount)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		p.SessionID, p.Name, p.IsMainBooker, p.HasPaid, int64(p.PaidAmount), int64(p.ExpectedAmount),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

func (s *Postgres) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	var p domain.Participant
	err := s.db.QueryRow(ctx,
		`SELECT id, session_id, name, is_main_booker, has_paid, paid_amount, expected_amount, created_at
		 FROM participants WHERE id = $1`, id,
	).Scan(&p.ID, &p.SessionID, &p.Name, &p.IsMainBooker, &p.HasPaid, &p.PaidAmount, &p.ExpectedAmount, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, ErrNotFound
	}
	if err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

func (s *Postgres) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, name, is_main_booker, has_paid, paid_amount, expected_amount, created_at
		 FROM participants WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &p.IsMainBooker, &p.HasPaid, &p.PaidAmount, &p.ExpectedAmount, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateParticipant(ctx context.Context, id string, upd ParticipantUpdate) (domain.Participant, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE participants SET
		   has_paid        = COALESCE($2, has_paid),
		   paid_amount     = COALESCE($3, paid_amount),
		   expected_amount = COALESCE($4, expected_amount)
		 WHERE id = $1`,
		id, upd.HasPaid, amountArg(upd.PaidAmount), amountArg(upd.ExpectedAmount))
	if err != nil {
		return domain.Participant{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.Participant{}, ErrNotFound
	}
	return s.GetParticipant(ctx, id)
}

func (s *Postgres) CreateBillItems(ctx context.Context, items []domain.BillItem) ([]domain.BillItem, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	out := make([]domain.BillItem, 0, len(items))
	for _, it := range items {
		err := tx.QueryRow(ctx,
			`INSERT INTO bill_items (session_id, position, name, unit_price, quantity)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			it.SessionID, it.Position, it.Name, int64(it.UnitPrice), it.Quantity,
		).Scan(&it.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Postgres) ListBillItems(ctx context.Context, sessionID string) ([]domain.BillItem, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, position, name, unit_price, quantity
		 FROM bill_items WHERE session_id = $1 ORDER BY position, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.BillItem
	for rows.Next() {
		var it domain.BillItem
		if err := rows.Scan(&it.ID, &it.SessionID, &it.Position, &it.Name, &it.UnitPrice, &it.Quantity); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Postgres) ReplaceClaims(ctx context.Context, participantID string, claims []domain.ItemClaim) ([]domain.ItemClaim, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `DELETE FROM item_claims WHERE participant_id = $1`, participantID); err != nil {
		return nil, err
	}
	out := make([]domain.ItemClaim, 0, len(claims))
	for _, c := range claims {
		c.ParticipantID = participantID
		err := tx.QueryRow(ctx,
			`INSERT INTO item_claims (participant_id, bill_item_id, quantity)
			 VALUES ($1, $2, $3) RETURNING id, created_at`,
			c.ParticipantID, c.BillItemID, c.Quantity,
		).Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Postgres) ListClaims(ctx context.Context, sessionID string) ([]domain.ItemClaim, error) {
	rows, err := s.db.Query(ctx,
		`SELECT c.id, c.participant_id, c.bill_item_id, c.quantity, c.created_at
		 FROM item_claims c
		 JOIN participants p ON p.id = c.participant_id
		 WHERE p.session_id = $1 ORDER BY c.id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ItemClaim
	for rows.Next() {
		var c domain.ItemClaim
		if err := rows.Scan(&c.ID, &c.ParticipantID, &c.BillItemID, &c.Quantity, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) CreatePayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	err := s.db.QueryRow(ctx,
		`INSERT INTO payments (session_id, participant_id, amount, status)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		p.SessionID, p.ParticipantID, int64(p.Amount), string(p.Status),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

func (s *Postgres) ListPayments(ctx context.Context, sessionID string) ([]domain.Payment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, participant_id, amount, status, created_at
		 FROM payments WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.SessionID, &p.ParticipantID, &p.Amount, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func statusArg(s *domain.SessionStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func amountArg(a *money.Amount) *int64 {
	if a == nil {
		return nil
	}
	v := int64(*a)
	return &v
}
