package session_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tafel/internal/bank"
	"github.com/noah-isme/backend-tafel/internal/pos"
	"github.com/noah-isme/backend-tafel/internal/session"
	"github.com/noah-isme/backend-tafel/internal/store"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := session.NewService(store.NewMemory(), nil, bank.MockProvider{})
	h := &session.Handler{
		Svc:      svc,
		POS:      pos.MockClient{},
		Bank:     bank.MockProvider{},
		Validate: validator.New(),
	}
	r := chi.NewRouter()
	r.Route("/api/v1", h.Mount)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var envelope map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func errorCode(t *testing.T, envelope map[string]json.RawMessage) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(envelope["error"], &body))
	return body.Code
}

func TestScanQREndpoint(t *testing.T) {
	srv := newServer(t)

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/scan-qr", map[string]any{
		"restaurantName": "De Blauwe Kater",
		"tableNumber":    "12",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var bill struct {
		TotalAmount string `json:"totalAmount"`
		Items       []any  `json:"items"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &bill))
	require.Equal(t, "73.40", bill.TotalAmount)
	require.Len(t, bill.Items, 6)

	resp, envelope = doJSON(t, http.MethodPost, srv.URL+"/api/v1/scan-qr", map[string]any{
		"restaurantName": "De Blauwe Kater",
		"tableNumber":    "99",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", errorCode(t, envelope))
}

type snapshotData struct {
	Session struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		TotalAmount  string `json:"totalAmount"`
		MainBookerID string `json:"mainBookerId"`
	} `json:"session"`
	Participants []struct {
		ID      string `json:"id"`
		HasPaid bool   `json:"hasPaid"`
	} `json:"participants"`
	BillItems []struct {
		ID string `json:"id"`
	} `json:"billItems"`
}

func createSessionViaAPI(t *testing.T, srv *httptest.Server, splitMode string, count int) snapshotData {
	t.Helper()
	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]any{
		"restaurantName":   "De Blauwe Kater",
		"tableNumber":      "12",
		"splitMode":        splitMode,
		"participantCount": count,
		"mainBookerName":   "Emma",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var snap snapshotData
	require.NoError(t, json.Unmarshal(envelope["data"], &snap))
	return snap
}

func TestCreateSessionLooksUpBillFromPOS(t *testing.T) {
	srv := newServer(t)

	snap := createSessionViaAPI(t, srv, "equal", 4)
	require.Equal(t, "open", snap.Session.Status)
	require.Equal(t, "73.40", snap.Session.TotalAmount)
	require.Len(t, snap.BillItems, 6)
	require.Len(t, snap.Participants, 1)
	require.NotEmpty(t, snap.Session.MainBookerID)
}

func TestCreateSessionValidation(t *testing.T) {
	srv := newServer(t)

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]any{
		"restaurantName": "De Blauwe Kater",
		"tableNumber":    "12",
		"splitMode":      "proportional",
		"mainBookerName": "Emma",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "BAD_REQUEST", errorCode(t, envelope))

	// Equal mode needs a usable head count; the engine rejects one diner.
	resp, envelope = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]any{
		"restaurantName": "De Blauwe Kater",
		"tableNumber":    "12",
		"splitMode":      "equal",
		"mainBookerName": "Emma",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "INVALID_CONFIGURATION", errorCode(t, envelope))
}

func TestSettlementFlowOverHTTP(t *testing.T) {
	srv := newServer(t)
	snap := createSessionViaAPI(t, srv, "equal", 4)
	base := srv.URL + "/api/v1/sessions/" + snap.Session.ID

	resp, envelope := doJSON(t, http.MethodPost, base+"/join", map[string]any{"name": "Lucas"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var lucas struct {
		ID             string `json:"id"`
		ExpectedAmount string `json:"expectedAmount"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &lucas))
	require.Equal(t, "18.35", lucas.ExpectedAmount)

	// A second peer keeps the session from completing when Lucas pays.
	resp, _ = doJSON(t, http.MethodPost, base+"/join", map[string]any{"name": "Marie"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, envelope = doJSON(t, http.MethodPost, base+"/pay", map[string]any{
		"participantId": lucas.ID,
		"amount":        "18.35",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, envelope = doJSON(t, http.MethodGet, base+"/outstanding", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Amount string `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &out))
	require.Equal(t, "36.70", out.Amount)

	// Confirming a stale number is rejected.
	resp, envelope = doJSON(t, http.MethodPost, base+"/pay-outstanding", map[string]any{
		"participantId": snap.Session.MainBookerID,
		"confirmAmount": "55.05",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "CONFIRMATION_MISMATCH", errorCode(t, envelope))

	resp, envelope = doJSON(t, http.MethodPost, base+"/pay-outstanding", map[string]any{
		"participantId": snap.Session.MainBookerID,
		"confirmAmount": "36.70",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var closed snapshotData
	require.NoError(t, json.Unmarshal(envelope["data"], &closed))
	require.Equal(t, "completed", closed.Session.Status)

	// Terminal state rejects further payments.
	resp, envelope = doJSON(t, http.MethodPost, base+"/pay", map[string]any{
		"participantId": lucas.ID,
		"amount":        "18.35",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "SESSION_COMPLETED", errorCode(t, envelope))
}

func TestClaimItemsOverHTTP(t *testing.T) {
	srv := newServer(t)
	snap := createSessionViaAPI(t, srv, "items", 0)
	base := srv.URL + "/api/v1/sessions/" + snap.Session.ID

	_, envelope := doJSON(t, http.MethodPost, base+"/join", map[string]any{"name": "Lucas"})
	var lucas struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &lucas))

	waterzooi := snap.BillItems[0].ID
	resp, envelope := doJSON(t, http.MethodPost, base+"/claim-items", map[string]any{
		"participantId": lucas.ID,
		"claims":        []map[string]any{{"billItemId": waterzooi, "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var claimed struct {
		ExpectedAmount string `json:"expectedAmount"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &claimed))
	require.Equal(t, "18.50", claimed.ExpectedAmount)

	_, envelope = doJSON(t, http.MethodPost, base+"/join", map[string]any{"name": "Marie"})
	var marie struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &marie))

	resp, envelope = doJSON(t, http.MethodPost, base+"/claim-items", map[string]any{
		"participantId": marie.ID,
		"claims":        []map[string]any{{"billItemId": waterzooi, "quantity": 1}},
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "OVER_CLAIMED", errorCode(t, envelope))
	var details struct {
		Details struct {
			Available int `json:"available"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(envelope["error"], &details.Details))
}

func TestBankEndpoints(t *testing.T) {
	srv := newServer(t)
	snap := createSessionViaAPI(t, srv, "equal", 4)
	base := srv.URL + "/api/v1/sessions/" + snap.Session.ID

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/banks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var banks []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &banks))
	require.Len(t, banks, 4)
	require.Equal(t, "belfius", banks[0].ID)

	resp, envelope = doJSON(t, http.MethodPost, base+"/link-bank", map[string]any{
		"bankId":    "kbc",
		"accountId": "nope",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "AUTH_FAILED", errorCode(t, envelope))

	resp, envelope = doJSON(t, http.MethodPost, base+"/link-bank", map[string]any{
		"bankId":    "kbc",
		"accountId": "kbc_1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess struct {
		LinkedIBAN string `json:"linkedIban"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &sess))
	require.Equal(t, "BE68539007547034", sess.LinkedIBAN)
}

func TestUnknownSessionOverHTTP(t *testing.T) {
	srv := newServer(t)

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/ghost", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", errorCode(t, envelope))
}
