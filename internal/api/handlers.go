// Package api exposes the wallet, sync and reservation services over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"investcore/internal/auth"
	"investcore/internal/common/api"
	"investcore/internal/common/database"
	"investcore/internal/common/events"
	"investcore/internal/common/middleware"
	"investcore/internal/domain"
	"investcore/internal/profile"
	"investcore/internal/reservation"
	"investcore/internal/syncer"
	"investcore/internal/wallet"
)

// BankAccountStore is the slice of the store the API needs for bank
// account reads and activation.
type BankAccountStore interface {
	ListBankAccounts(ctx context.Context, userID string) ([]*domain.BankAccount, error)
	SetActiveBankAccount(ctx context.Context, userID, accountID string) error
	GetBankAccountByExternalID(ctx context.Context, externalID string) (*domain.BankAccount, error)
}

// Handler handles HTTP requests for the wallet core.
type Handler struct {
	wallet       *wallet.Service
	syncer       *syncer.Service
	reservations *reservation.Service
	profiles     *profile.Service
	accounts     BankAccountStore
	session      *auth.SessionStore
	publisher    events.EventPublisher
}

// NewHandler creates the API handler. accounts may be nil when storage is
// unavailable; affected routes answer 503.
func NewHandler(
	walletSvc *wallet.Service,
	syncSvc *syncer.Service,
	reservationSvc *reservation.Service,
	profileSvc *profile.Service,
	accounts BankAccountStore,
	session *auth.SessionStore,
	publisher events.EventPublisher,
) *Handler {
	return &Handler{
		wallet:       walletSvc,
		syncer:       syncSvc,
		reservations: reservationSvc,
		profiles:     profileSvc,
		accounts:     accounts,
		session:      session,
		publisher:    publisher,
	}
}

// Routes returns the API routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/session", h.OpenSession)
	r.Delete("/session", h.CloseSession)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)

		r.Route("/wallet", func(r chi.Router) {
			r.Post("/transactions", h.RecordTransaction)
			r.Get("/transactions", h.ListTransactions)
			r.Get("/transactions/{id}", h.GetTransaction)
			r.Post("/transactions/{id}/complete", h.CompleteTransaction)
			r.Post("/transactions/{id}/abort", h.AbortTransaction)
			r.Get("/state", h.GetWalletState)
			r.Post("/verify", h.VerifyIntegrity)
			r.Post("/snapshots", h.CreateSnapshot)
			r.Get("/snapshots", h.ListSnapshots)
			r.Get("/audit-logs", h.ListAuditLogs)
		})

		r.Route("/bank-accounts", func(r chi.Router) {
			r.Get("/", h.ListBankAccounts)
			r.Post("/{id}/activate", h.ActivateBankAccount)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/start", h.StartSync)
			r.Post("/stop", h.StopSync)
			r.Post("/trigger", h.TriggerSync)
			r.Get("/status", h.SyncStatus)
		})

		r.Route("/trips/{tripID}", func(r chi.Router) {
			r.Get("/availability", h.TripAvailability)
			r.Post("/lock", h.LockTrip)
			r.Delete("/lock", h.ReleaseTripLock)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.CreateReservation)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/process", h.ProcessReservation)
			r.Post("/{id}/complete", h.CompleteReservation)
			r.Post("/{id}/cancel", h.CancelReservation)
		})

		r.Get("/profile", h.GetProfile)
		r.Post("/profile/invalidate", h.InvalidateProfile)
	})

	return r
}

// OpenSessionRequest carries a portal session token.
type OpenSessionRequest struct {
	Token string `json:"token" validate:"required"`
}

// OpenSession installs the session token that gates sync and remote calls.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	if err := h.session.SetToken(req.Token); err != nil {
		api.Unauthorized(w, "invalid session token")
		return
	}

	userID, _ := h.session.UserID()
	api.WriteData(w, http.StatusOK, map[string]string{"user_id": userID})
}

// CloseSession drops the session token. The sync service will skip its
// next cycles until a new session opens.
func (h *Handler) CloseSession(w http.ResponseWriter, _ *http.Request) {
	h.session.ClearToken()
	w.WriteHeader(http.StatusNoContent)
}

// RecordTransactionRequest is the API request to record a transaction.
type RecordTransactionRequest struct {
	Type           string  `json:"type" validate:"required"`
	Amount         float64 `json:"amount" validate:"required"`
	Description    string  `json:"description" validate:"max=500"`
	Source         string  `json:"source" validate:"required"`
	Status         string  `json:"status"`
	Party          string  `json:"party"`
	PaymentMode    string  `json:"payment_mode"`
	ChartOfAccount string  `json:"chart_of_account"`
	FeeAmount      float64 `json:"fee_amount" validate:"gte=0"`
	GatewayRef     string  `json:"gateway_ref"`
}

// RecordTransaction handles POST /wallet/transactions.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req RecordTransactionRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	txn, err := h.wallet.RecordTransaction(r.Context(), wallet.RecordTransactionRequest{
		UserID:         middleware.GetUserID(r.Context()),
		Type:           domain.TransactionType(req.Type),
		Amount:         req.Amount,
		Description:    req.Description,
		Source:         domain.TransactionSource(req.Source),
		Status:         domain.TransactionStatus(req.Status),
		Party:          req.Party,
		PaymentMode:    req.PaymentMode,
		ChartOfAccount: req.ChartOfAccount,
		FeeAmount:      req.FeeAmount,
		GatewayRef:     req.GatewayRef,
		SessionID:      middleware.GetSessionID(r.Context()),
	})
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, txn)
}

// ListTransactions handles GET /wallet/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	params := api.GetPaginationParams(r, 50, 100)

	txns, err := h.wallet.ListTransactions(r.Context(), middleware.GetUserID(r.Context()), params.Limit, params.Offset)
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, txns)
}

// GetTransaction handles GET /wallet/transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.wallet.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeWalletError(w, err)
		return
	}
	if txn.UserID != middleware.GetUserID(r.Context()) {
		api.NotFound(w, "transaction not found")
		return
	}

	api.WriteData(w, http.StatusOK, txn)
}

// CompleteTransactionRequest settles a pending gateway transaction.
type CompleteTransactionRequest struct {
	GatewayRef string `json:"gateway_ref"`
}

// CompleteTransaction handles POST /wallet/transactions/{id}/complete.
func (h *Handler) CompleteTransaction(w http.ResponseWriter, r *http.Request) {
	var req CompleteTransactionRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	txn, err := h.wallet.CompleteTransaction(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.GatewayRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotPending) {
			api.Conflict(w, "transaction is not pending")
			return
		}
		h.writeWalletError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, txn)
}

// AbortTransactionRequest carries the terminal status for a pending
// transaction.
type AbortTransactionRequest struct {
	Status string `json:"status" validate:"required,oneof=FAILED CANCELLED"`
}

// AbortTransaction handles POST /wallet/transactions/{id}/abort.
func (h *Handler) AbortTransaction(w http.ResponseWriter, r *http.Request) {
	var req AbortTransactionRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	txn, err := h.wallet.AbortTransaction(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), domain.TransactionStatus(req.Status))
	if err != nil {
		if errors.Is(err, domain.ErrNotPending) {
			api.Conflict(w, "transaction is not pending")
			return
		}
		h.writeWalletError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, txn)
}

// GetWalletState handles GET /wallet/state.
func (h *Handler) GetWalletState(w http.ResponseWriter, r *http.Request) {
	st, err := h.wallet.GetState(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, st)
}

// VerifyIntegrity handles POST /wallet/verify.
func (h *Handler) VerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.wallet.VerifyIntegrity(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, report)
}

// CreateSnapshotRequest tags a snapshot with its cadence.
type CreateSnapshotRequest struct {
	Type string `json:"type" validate:"omitempty,oneof=HOURLY DAILY MONTHLY MANUAL"`
}

// CreateSnapshot handles POST /wallet/snapshots.
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req CreateSnapshotRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	if req.Type == "" {
		req.Type = string(domain.SnapshotManual)
	}

	snap, err := h.wallet.CreateSnapshot(r.Context(), middleware.GetUserID(r.Context()), domain.SnapshotType(req.Type))
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, snap)
}

// ListSnapshots handles GET /wallet/snapshots.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	params := api.GetPaginationParams(r, 50, 100)

	snaps, err := h.wallet.ListSnapshots(r.Context(), middleware.GetUserID(r.Context()), params.Limit)
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, snaps)
}

// ListAuditLogs handles GET /wallet/audit-logs.
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	params := api.GetPaginationParams(r, 50, 200)

	logs, err := h.wallet.ListAuditLogs(r.Context(), middleware.GetUserID(r.Context()), params.Limit)
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, logs)
}

// ListBankAccounts handles GET /bank-accounts.
func (h *Handler) ListBankAccounts(w http.ResponseWriter, r *http.Request) {
	if h.accounts == nil {
		api.ServiceUnavailable(w, "storage unavailable")
		return
	}

	accounts, err := h.accounts.ListBankAccounts(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		api.InternalError(w, "failed to list bank accounts")
		return
	}

	api.WriteData(w, http.StatusOK, accounts)
}

// ActivateBankAccount handles POST /bank-accounts/{id}/activate. At most
// one account stays active per user; the store deactivates the rest in the
// same transaction.
func (h *Handler) ActivateBankAccount(w http.ResponseWriter, r *http.Request) {
	if h.accounts == nil {
		api.ServiceUnavailable(w, "storage unavailable")
		return
	}

	userID := middleware.GetUserID(r.Context())
	accountID := chi.URLParam(r, "id")

	if err := h.accounts.SetActiveBankAccount(r.Context(), userID, accountID); err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "bank account not found")
			return
		}
		api.InternalError(w, "failed to activate bank account")
		return
	}

	if h.publisher != nil {
		if event, err := events.NewEvent(events.EventBankAccountActive, userID, "bank_account", accountID, nil); err == nil {
			_ = h.publisher.Publish(r.Context(), event)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// StartSync handles POST /sync/start.
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	h.syncer.Start(middleware.GetUserID(r.Context()))
	api.WriteData(w, http.StatusAccepted, h.syncer.Status())
}

// StopSync handles POST /sync/stop.
func (h *Handler) StopSync(w http.ResponseWriter, _ *http.Request) {
	h.syncer.Stop()
	w.WriteHeader(http.StatusNoContent)
}

// TriggerSync handles POST /sync/trigger, the explicit refresh action.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.TriggerManualSync(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			api.Unauthorized(w, "no active session")
			return
		}
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeSyncFailed, "sync failed")
		return
	}

	api.WriteData(w, http.StatusOK, result)
}

// SyncStatus handles GET /sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, _ *http.Request) {
	api.WriteData(w, http.StatusOK, h.syncer.Status())
}

// TripAvailability handles GET /trips/{tripID}/availability.
func (h *Handler) TripAvailability(w http.ResponseWriter, r *http.Request) {
	available := h.reservations.IsAvailable(chi.URLParam(r, "tripID"), middleware.GetUserID(r.Context()))
	api.WriteData(w, http.StatusOK, map[string]bool{"available": available})
}

// LockTrip handles POST /trips/{tripID}/lock.
func (h *Handler) LockTrip(w http.ResponseWriter, r *http.Request) {
	lock, err := h.reservations.LockTrip(chi.URLParam(r, "tripID"), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeReservationError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, lock)
}

// ReleaseTripLock handles DELETE /trips/{tripID}/lock.
func (h *Handler) ReleaseTripLock(w http.ResponseWriter, r *http.Request) {
	h.reservations.ReleaseLock(chi.URLParam(r, "tripID"), middleware.GetUserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// CreateReservationRequest reserves a trip for payment.
type CreateReservationRequest struct {
	TripID string  `json:"trip_id" validate:"required"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// CreateReservation handles POST /reservations.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	res, err := h.reservations.CreateReservation(req.TripID, middleware.GetUserID(r.Context()), req.Amount)
	if err != nil {
		h.writeReservationError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, res)
}

// GetReservation handles GET /reservations/{id}.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.GetReservation(chi.URLParam(r, "id"))
	if err != nil {
		h.writeReservationError(w, err)
		return
	}
	if res.UserID != middleware.GetUserID(r.Context()) {
		api.NotFound(w, "reservation not found")
		return
	}

	api.WriteData(w, http.StatusOK, res)
}

// ProcessReservation handles POST /reservations/{id}/process.
func (h *Handler) ProcessReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.BeginProcessing(chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeReservationError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, res)
}

// CompleteReservation handles POST /reservations/{id}/complete.
func (h *Handler) CompleteReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.CompleteReservation(chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeReservationError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, res)
}

// CancelReservation handles POST /reservations/{id}/cancel.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.CancelReservation(chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeReservationError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, res)
}

// GetProfile handles GET /profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.profiles.Get(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			api.Unauthorized(w, "no active session")
			return
		}
		api.InternalError(w, "failed to fetch profile")
		return
	}

	api.WriteData(w, http.StatusOK, prof)
}

// InvalidateProfile handles POST /profile/invalidate.
func (h *Handler) InvalidateProfile(w http.ResponseWriter, r *http.Request) {
	h.profiles.Invalidate(middleware.GetUserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeWalletError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientBalance):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInsufficientBalance, "insufficient balance")
	case errors.Is(err, wallet.ErrInvalidType), errors.Is(err, wallet.ErrInvalidAmount):
		api.BadRequest(w, err.Error())
	case errors.Is(err, wallet.ErrStorageUnavailable), database.IsUnavailable(err):
		api.ServiceUnavailable(w, "wallet storage unavailable")
	case database.IsNotFound(err):
		api.NotFound(w, "not found")
	default:
		api.InternalError(w, "wallet operation failed")
	}
}

func (h *Handler) writeReservationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reservation.ErrTripLocked):
		api.WriteError(w, http.StatusConflict, api.ErrCodeTripLocked, "trip is locked by another user")
	case errors.Is(err, reservation.ErrReservationUnavailable):
		api.WriteError(w, http.StatusConflict, api.ErrCodeReservation, "reservation unavailable")
	case errors.Is(err, reservation.ErrReservationNotFound), errors.Is(err, reservation.ErrNotOwner):
		api.NotFound(w, "reservation not found")
	case errors.Is(err, reservation.ErrNotReserved):
		api.Conflict(w, "reservation is not in a live state")
	default:
		api.InternalError(w, "reservation operation failed")
	}
}
