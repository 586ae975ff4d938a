package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-tafel/internal/bank"
	"github.com/noah-isme/backend-tafel/internal/common"
	"github.com/noah-isme/backend-tafel/internal/domain"
	"github.com/noah-isme/backend-tafel/internal/money"
	"github.com/noah-isme/backend-tafel/internal/pos"
	"github.com/noah-isme/backend-tafel/internal/split"
)

// Handler wires the settlement service to HTTP.
type Handler struct {
	Svc      *Service
	POS      pos.Client
	Bank     bank.Provider
	Validate *validator.Validate
	Log      zerolog.Logger
}

// Mount registers the session routes on a router group.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/scan-qr", h.ScanQR)
	r.Get("/banks", h.Banks)
	r.Route("/sessions", func(s chi.Router) {
		s.Post("/", h.Create)
		s.Get("/{id}", h.Get)
		s.Post("/{id}/join", h.Join)
		s.Post("/{id}/claim-items", h.ClaimItems)
		s.Post("/{id}/pay", h.Pay)
		s.Get("/{id}/outstanding", h.Outstanding)
		s.Post("/{id}/pay-outstanding", h.PayOutstanding)
		s.Post("/{id}/link-bank", h.LinkBank)
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "malformed request body", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(dst); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid request", map[string]any{"error": err.Error()})
			return false
		}
	}
	return true
}

// ScanQR resolves a table's open bill at the point of sale.
func (h *Handler) ScanQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RestaurantName string `json:"restaurantName" validate:"required"`
		TableNumber    string `json:"tableNumber" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	bill, err := h.POS.LookupBill(r.Context(), req.TableNumber, req.RestaurantName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, bill)
}

type createSessionRequest struct {
	RestaurantName   string           `json:"restaurantName" validate:"required"`
	TableNumber      string           `json:"tableNumber" validate:"required"`
	SplitMode        domain.SplitMode `json:"splitMode" validate:"required,oneof=equal items"`
	ParticipantCount int              `json:"participantCount" validate:"omitempty,min=2,max=8"`
	MainBookerName   string           `json:"mainBookerName" validate:"required"`
	Items            []struct {
		Name      string       `json:"name" validate:"required"`
		UnitPrice money.Amount `json:"unitPrice"`
		Quantity  int          `json:"quantity" validate:"min=1"`
	} `json:"items" validate:"dive"`
}

// Create opens a session. When the request carries no bill items the bill is
// looked up at the point of sale instead.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := CreateSessionInput{
		RestaurantName:   strings.TrimSpace(req.RestaurantName),
		TableNumber:      strings.TrimSpace(req.TableNumber),
		SplitMode:        req.SplitMode,
		ParticipantCount: req.ParticipantCount,
		MainBookerName:   strings.TrimSpace(req.MainBookerName),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, ItemInput{Name: it.Name, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	if len(in.Items) == 0 && h.POS != nil {
		bill, err := h.POS.LookupBill(r.Context(), in.TableNumber, in.RestaurantName)
		if err != nil {
			h.writeError(w, err)
			return
		}
		for _, line := range bill.Items {
			in.Items = append(in.Items, ItemInput{Name: line.Name, UnitPrice: line.UnitPrice, Quantity: line.Quantity})
		}
	}

	snap, err := h.Svc.CreateSession(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, snap)
}

// Get returns the authoritative session snapshot.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Svc.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, snap)
}

// Join adds a participant to the session.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name" validate:"required"`
		IsMainBooker bool   `json:"isMainBooker"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Svc.Join(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Name), req.IsMainBooker)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, p)
}

// ClaimItems replaces a participant's claim set.
func (h *Handler) ClaimItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID string `json:"participantId" validate:"required"`
		Claims        []struct {
			BillItemID string `json:"billItemId" validate:"required"`
			Quantity   int    `json:"quantity"`
		} `json:"claims" validate:"dive"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	claims := make([]ClaimInput, 0, len(req.Claims))
	for _, c := range req.Claims {
		claims = append(claims, ClaimInput{BillItemID: c.BillItemID, Quantity: c.Quantity})
	}
	stored, expected, err := h.Svc.ClaimItems(r.Context(), chi.URLParam(r, "id"), req.ParticipantID, claims)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{
		"claims":         stored,
		"expectedAmount": expected,
	})
}

// Pay records a completed payment for a participant.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID string       `json:"participantId" validate:"required"`
		Amount        money.Amount `json:"amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	payment, err := h.Svc.RecordPayment(r.Context(), chi.URLParam(r, "id"), req.ParticipantID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, payment)
}

// Outstanding returns the live balance still owed to the main booker.
func (h *Handler) Outstanding(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.Outstanding(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// PayOutstanding lets the main booker absorb the remaining balance and close
// the session.
func (h *Handler) PayOutstanding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID string       `json:"participantId" validate:"required"`
		ConfirmAmount money.Amount `json:"confirmAmount"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.Svc.PayFullOutstanding(r.Context(), chi.URLParam(r, "id"), req.ParticipantID, req.ConfirmAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, snap)
}

// LinkBank attaches a payout account to the session.
func (h *Handler) LinkBank(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankID    string `json:"bankId" validate:"required"`
		AccountID string `json:"accountId" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.Svc.LinkBank(r.Context(), chi.URLParam(r, "id"), req.BankID, req.AccountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

// Banks lists the supported banks and their mock accounts.
func (h *Handler) Banks(w http.ResponseWriter, r *http.Request) {
	banks, err := h.Bank.Banks(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, banks)
}

// writeError maps domain errors onto the canonical error envelope.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		oc   *split.OverClaimError
		conf *ConfirmationError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "session not found", nil)
	case errors.Is(err, pos.ErrBillNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "no open bill for this table", nil)
	case errors.Is(err, ErrUnknownParticipant):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "participant not part of this session", nil)
	case errors.As(err, &oc):
		common.JSONError(w, http.StatusConflict, common.CodeOverClaimed, "item claim exceeds availability", map[string]any{
			"billItemId": oc.BillItemID,
			"requested":  oc.Requested,
			"available":  oc.Available,
		})
	case errors.As(err, &conf):
		common.JSONError(w, http.StatusConflict, common.CodeConfirmationMismatch, "outstanding balance changed, confirm again", map[string]any{
			"outstanding": conf.Outstanding,
			"confirmed":   conf.Confirmed,
		})
	case errors.Is(err, ErrSessionCompleted):
		common.JSONError(w, http.StatusConflict, common.CodeSessionCompleted, "session is already completed", nil)
	case errors.Is(err, ErrMainBookerExists):
		common.JSONError(w, http.StatusConflict, common.CodeMainBookerExists, "session already has a main booker", nil)
	case errors.Is(err, ErrNotMainBooker):
		common.JSONError(w, http.StatusForbidden, common.CodeForbidden, "only the main booker may do this", nil)
	case errors.Is(err, bank.ErrAuthFailed):
		common.JSONError(w, http.StatusUnauthorized, common.CodeAuthFailed, "bank authentication failed", nil)
	case errors.Is(err, split.ErrInvalidConfiguration), errors.Is(err, split.ErrUnknownItem):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeInvalidConfiguration, err.Error(), nil)
	default:
		h.Log.Error().Err(err).Msg("session request failed")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "internal error", nil)
	}
}
