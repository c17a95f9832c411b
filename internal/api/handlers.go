package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/settlecore/internal/models"
	"github.com/punchamoorthee/settlecore/internal/service"
	"github.com/punchamoorthee/settlecore/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settle_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_settlements_total",
		Help: "Incoming settlement notifications by outcome",
	}, []string{"outcome"})

	withdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_withdrawals_total",
		Help: "Withdrawal requests by outcome",
	}, []string{"outcome"})
)

type Handler struct {
	store   *store.Store
	service *service.SettlementService
}

func NewHandler(s *store.Store, svc *service.SettlementService) *Handler {
	return &Handler{store: s, service: svc}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var p models.CreateAccountParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if p.AssetCode == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "Asset code required")
		return
	}

	account, err := h.store.CreateAccount(r.Context(), p)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "System error creating account")
		return
	}
	respondWithJSON(w, http.StatusCreated, account)
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

// GetAccountsHandler returns the requested accounts with their effective
// settlement-engine URL resolved against the directory.
func (h *Handler) GetAccountsHandler(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	for _, part := range strings.Split(r.URL.Query().Get("ids"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid account id list")
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		respondWithError(w, http.StatusBadRequest, "Missing ids query parameter")
		return
	}

	accounts, err := h.store.GetAccounts(r.Context(), ids)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, accounts)
}

func (h *Handler) ReceiveSettlementHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/accounts/{id}/settlements"))
	defer timer.ObserveDuration()

	id, err := pathID(r)
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}

	// The input fingerprint covers the raw request body; a reused key with a
	// different body is rejected below as a mismatch.
	body, inputHash, err := readAndHash(r)
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Stream read error")
		return
	}

	var req models.SettlementRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() < 0 {
		httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "Non-negative integer amount required")
		return
	}

	resp, replay, err := h.service.ApplyIncomingSettlement(r.Context(), id, amount, req.Scale, idempotencyKey, inputHash)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIdempotencyConflict):
			settlementsTotal.WithLabelValues("conflict").Inc()
			httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "409").Inc()
			respondWithError(w, http.StatusConflict, "Request processing in progress")
		case errors.Is(err, service.ErrIdempotencyMismatch):
			settlementsTotal.WithLabelValues("mismatch").Inc()
			httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
		case errors.Is(err, store.ErrAccountNotFound):
			httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Account not found")
		case errors.Is(err, service.ErrAmountTooLarge):
			httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Amount exceeds native unit range")
		default:
			settlementsTotal.WithLabelValues("error").Inc()
			httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	if replay != nil {
		settlementsTotal.WithLabelValues("replay").Inc()
		httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", strconv.Itoa(replay.ResponseStatus)).Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(replay.ResponseStatus)
		w.Write(replay.ResponseBody)
		return
	}

	settlementsTotal.WithLabelValues("applied").Inc()
	httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "200").Inc()
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/accounts/{id}/withdrawals"))
	defer timer.ObserveDuration()

	id, err := pathID(r)
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/withdrawals", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	var req models.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/withdrawals", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Amount <= 0 {
		httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/withdrawals", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "Positive amount required")
		return
	}

	resp, err := h.service.Withdraw(r.Context(), id, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientFunds):
			withdrawalsTotal.WithLabelValues("insufficient_funds").Inc()
			httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/withdrawals", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Insufficient funds")
		case errors.Is(err, store.ErrAccountNotFound):
			httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/withdrawals", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Account not found")
		default:
			withdrawalsTotal.WithLabelValues("error").Inc()
			httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/withdrawals", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	withdrawalsTotal.WithLabelValues("applied").Inc()
	httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/withdrawals", "200").Inc()
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) PeekUncreditedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	leftover, err := h.store.PeekUncredited(r.Context(), id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"value": leftover.Value.String(),
		"scale": leftover.Scale,
	})
}

func (h *Handler) ClearUncreditedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	if err := h.store.ClearUncredited(r.Context(), id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetSettlementEnginesHandler(w http.ResponseWriter, r *http.Request) {
	var engines []models.SettlementEngine
	if err := json.NewDecoder(r.Body).Decode(&engines); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	for _, e := range engines {
		if e.AssetCode == "" || e.URL == "" {
			respondWithError(w, http.StatusUnprocessableEntity, "Asset code and url required")
			return
		}
	}

	if err := h.store.SetSettlementEngines(r.Context(), engines); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func readAndHash(r *http.Request) ([]byte, string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	hash := sha256.Sum256(body)
	return body, hex.EncodeToString(hash[:]), nil
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
