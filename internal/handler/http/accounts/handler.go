package accounts_http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger/internal/app/ledger"
	"ledger/internal/domain"
	"ledger/internal/reconcile"
)

const OperationReconcile ledger.Operation = "reconciliation RUN"

// Response is the envelope of every ledger endpoint.
type Response struct {
	Status      int              `json:"status"`
	Result      bool             `json:"result"`
	Addition    ledger.Operation `json:"addition"`
	Description any              `json:"description"`
}

type DepositRequest struct {
	AddValue decimal.Decimal `json:"add_value"`
}

type ReserveRequest struct {
	SubValue decimal.Decimal `json:"sub_value"`
}

type AccountHandler struct {
	service ledger.LedgerService
	sweeper reconcile.Runner
	logger  *zap.Logger
}

func NewAccountHandler(s ledger.LedgerService, sweeper reconcile.Runner, l *zap.Logger) *AccountHandler {
	return &AccountHandler{service: s, sweeper: sweeper, logger: l}
}

func (h *AccountHandler) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, ledger.OperationStatus, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ledger.OperationStatus, views)
}

func (h *AccountHandler) GetAccountStatusHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	view, err := h.service.Query(r.Context(), accountID)
	if err != nil {
		h.writeError(w, ledger.OperationStatus, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ledger.OperationStatus, view)
}

func (h *AccountHandler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for deposit", zap.String("account_id", accountID), zap.Error(err))
		h.writeJSON(w, http.StatusBadRequest, ledger.OperationDeposit, "invalid request body")
		return
	}

	account, err := h.service.Deposit(r.Context(), accountID, req.AddValue)
	if err != nil {
		h.writeError(w, ledger.OperationDeposit, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ledger.OperationDeposit, ledger.NewAccountView(account))
}

func (h *AccountHandler) ReserveHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for reserve", zap.String("account_id", accountID), zap.Error(err))
		h.writeJSON(w, http.StatusBadRequest, ledger.OperationReserve, "invalid request body")
		return
	}

	account, err := h.service.Reserve(r.Context(), accountID, req.SubValue)
	if err != nil {
		h.writeError(w, ledger.OperationReserve, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ledger.OperationReserve, ledger.NewAccountView(account))
}

func (h *AccountHandler) RunReconciliationHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.logger.Error("Manual reconciliation run failed", zap.Error(err))
		h.writeJSON(w, statusFor(err), OperationReconcile, report)
		return
	}
	h.writeJSON(w, http.StatusOK, OperationReconcile, report)
}

func (h *AccountHandler) writeError(w http.ResponseWriter, op ledger.Operation, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Ledger request failed", zap.String("operation", string(op)), zap.Error(err))
		h.writeJSON(w, status, op, "internal server error")
		return
	}
	h.writeJSON(w, status, op, err.Error())
}

func (h *AccountHandler) writeJSON(w http.ResponseWriter, status int, op ledger.Operation, description any) {
	resp := Response{
		Status:      status,
		Result:      status == http.StatusOK,
		Addition:    op,
		Description: description,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case domain.IsRejection(err):
		return http.StatusBadRequest
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
