package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/kautilya-labs/khata/internal/auth"
	"github.com/kautilya-labs/khata/internal/domain"
	"github.com/kautilya-labs/khata/internal/service"
	"github.com/kautilya-labs/khata/internal/store"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "khata_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "khata_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "khata_transfers_total",
		Help: "Transfer protocol outcomes",
	}, []string{"path", "outcome"})
)

type Handler struct {
	store    store.Store
	service  *service.TransferService
	log      *zap.Logger
	currency string
}

func NewHandler(st store.Store, svc *service.TransferService, log *zap.Logger, defaultCurrency string) *Handler {
	return &Handler{store: st, service: svc, log: log, currency: defaultCurrency}
}

// TransferRequest is the transfer payload. The idempotency key rides in
// the body; the Idempotency-Key header is accepted as a fallback.
type TransferRequest struct {
	FromAccount    uuid.UUID `json:"from_account"`
	ToAccount      uuid.UUID `json:"to_account"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// FundingRequest is the system funding payload.
type FundingRequest struct {
	ToAccount      uuid.UUID `json:"to_account"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	requester, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "POST", "/accounts")
		return
	}

	acc, err := h.store.CreateAccount(r.Context(), requester.UserID, h.currency)
	if err != nil {
		h.log.Error("account creation failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "could not create account", "POST", "/accounts")
		return
	}
	h.respondJSON(w, http.StatusCreated, acc, "POST", "/accounts")
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	requester, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "GET", "/accounts")
		return
	}

	accounts, err := h.store.GetAccountsByOwner(r.Context(), requester.UserID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "could not list accounts", "GET", "/accounts")
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"accounts": accounts}, "GET", "/accounts")
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/balance"
	acc, ok := h.ownedAccount(w, r, endpoint)
	if !ok {
		return
	}

	balance, err := h.store.GetBalance(r.Context(), acc.ID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "could not derive balance", "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"account_id": acc.ID,
		"balance":    balance,
		"currency":   acc.Currency,
	}, "GET", endpoint)
}

func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/entries"
	acc, ok := h.ownedAccount(w, r, endpoint)
	if !ok {
		return
	}

	entries, err := h.store.GetEntriesByAccount(r.Context(), acc.ID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "could not load entries", "GET", endpoint)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"entries": entries}, "GET", endpoint)
}

// ownedAccount resolves {id} and enforces that the requester owns the
// account. Non-owned accounts read as not found, the same answer a
// non-existent id gets. System principals see every account.
func (h *Handler) ownedAccount(w http.ResponseWriter, r *http.Request, endpoint string) (*domain.Account, bool) {
	requester, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "GET", endpoint)
		return nil, false
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid account id", "GET", endpoint)
		return nil, false
	}

	acc, err := h.store.GetAccount(r.Context(), id)
	if errors.Is(err, domain.ErrAccountNotFound) {
		h.respondError(w, http.StatusNotFound, "account not found", "GET", endpoint)
		return nil, false
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "could not load account", "GET", endpoint)
		return nil, false
	}
	if acc.OwnerID != requester.UserID && !requester.System {
		h.respondError(w, http.StatusNotFound, "account not found", "GET", endpoint)
		return nil, false
	}
	return acc, true
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transfers"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	requester, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "POST", endpoint)
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "POST", endpoint)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := h.service.Transfer(r.Context(), service.TransferParams{
		FromAccount:    req.FromAccount,
		ToAccount:      req.ToAccount,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		Requester:      requester,
	})
	if err != nil {
		h.respondTransferError(w, err, endpoint)
		return
	}

	h.respondTransferResult(w, result, endpoint)
}

func (h *Handler) CreateSystemFunding(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transfers/system/initial-funds"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	requester, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "POST", endpoint)
		return
	}

	var req FundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "POST", endpoint)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := h.service.FundFromSystem(r.Context(), service.FundingParams{
		ToAccount:      req.ToAccount,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		Requester:      requester,
	})
	if err != nil {
		h.respondTransferError(w, err, endpoint)
		return
	}

	h.respondTransferResult(w, result, endpoint)
}

func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transfers/{id}"

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid transfer id", "GET", endpoint)
		return
	}

	result, err := h.service.GetTransfer(r.Context(), id)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		h.respondError(w, http.StatusNotFound, "transfer not found", "GET", endpoint)
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "could not load transfer", "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, result, "GET", endpoint)
}

func (h *Handler) respondTransferResult(w http.ResponseWriter, result *domain.TransferResult, endpoint string) {
	if result.Replayed {
		transfersTotal.WithLabelValues(endpoint, "replayed").Inc()
		h.respondJSON(w, http.StatusOK, map[string]any{
			"message":     "transfer already processed",
			"transaction": result.Transaction,
			"entries":     result.Entries,
		}, "POST", endpoint)
		return
	}
	transfersTotal.WithLabelValues(endpoint, "completed").Inc()
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%s", result.Transaction.ID))
	h.respondJSON(w, http.StatusCreated, map[string]any{
		"message":     "transfer completed successfully",
		"transaction": result.Transaction,
		"entries":     result.Entries,
	}, "POST", endpoint)
}

// respondTransferError maps the protocol's failure modes onto HTTP. The
// idempotency replay answers distinguish "still in flight" from
// "permanently failed, retry with a new key".
func (h *Handler) respondTransferError(w http.ResponseWriter, err error, endpoint string) {
	var (
		insufficient *domain.InsufficientFundsError
		notActive    *domain.AccountNotActiveError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		transfersTotal.WithLabelValues(endpoint, "invalid").Inc()
		h.respondError(w, http.StatusBadRequest, err.Error(), "POST", endpoint)
	case errors.Is(err, domain.ErrAccountNotFound):
		transfersTotal.WithLabelValues(endpoint, "not_found").Inc()
		h.respondError(w, http.StatusNotFound, err.Error(), "POST", endpoint)
	case errors.As(err, &notActive):
		transfersTotal.WithLabelValues(endpoint, "not_active").Inc()
		h.respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      notActive.Error(),
			"account_id": notActive.AccountID,
			"status":     notActive.Status,
		}, "POST", endpoint)
	case errors.As(err, &insufficient):
		transfersTotal.WithLabelValues(endpoint, "insufficient_funds").Inc()
		h.respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     insufficient.Error(),
			"balance":   insufficient.Balance,
			"requested": insufficient.Requested,
		}, "POST", endpoint)
	case errors.Is(err, domain.ErrTransferInFlight):
		transfersTotal.WithLabelValues(endpoint, "in_flight").Inc()
		h.respondJSON(w, http.StatusAccepted, map[string]string{
			"message": "transfer is still processing, retry later",
		}, "POST", endpoint)
	case errors.Is(err, domain.ErrKeyBelongsToFailed),
		errors.Is(err, domain.ErrKeyBelongsToReversed):
		transfersTotal.WithLabelValues(endpoint, "dead_key").Inc()
		h.respondError(w, http.StatusConflict, err.Error(), "POST", endpoint)
	case errors.Is(err, domain.ErrForbidden):
		transfersTotal.WithLabelValues(endpoint, "forbidden").Inc()
		h.respondError(w, http.StatusForbidden, err.Error(), "POST", endpoint)
	default:
		transfersTotal.WithLabelValues(endpoint, "failed").Inc()
		h.log.Error("transfer failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "transfer could not be committed", "POST", endpoint)
	}
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
