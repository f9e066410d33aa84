// Package handler is the HTTP surface of the slot ledger. It delegates to the
// purchase, guard and registration services and owns no business logic.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"examreg/internal/slots/models"
	"examreg/internal/slots/service/guard"
	"examreg/internal/slots/service/purchase"
	"examreg/internal/slots/service/registration"
	id "examreg/pkg/domain"
	dErrors "examreg/pkg/domain-errors"
	"examreg/pkg/platform/middleware/auth"
)

const defaultHistoryLimit = 50

// Guard is the slice of the consumption guard the handlers use.
type Guard interface {
	Validate(ctx context.Context, coordinatorID id.CoordinatorID) (*guard.Validation, error)
	Adjust(ctx context.Context, coordinatorID id.CoordinatorID, chapterID id.ChapterID, delta int, notes string) (*models.AccountBalance, error)
	Balance(ctx context.Context, coordinatorID id.CoordinatorID) (*models.AccountBalance, error)
	UsageHistory(ctx context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.UsageRecord, error)
}

// Registrar runs the registration saga.
type Registrar interface {
	Register(ctx context.Context, draft models.RegistrationDraft) (*registration.Result, error)
}

// Purchases drives the purchase order lifecycle.
type Purchases interface {
	Initiate(ctx context.Context, coordinatorID id.CoordinatorID, chapterID id.ChapterID, packageID id.PackageID, email string) (*purchase.Initiation, error)
	Verify(ctx context.Context, reference id.PaymentReference) (*purchase.VerifyOutcome, error)
	PurchaseHistory(ctx context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.PurchaseOrder, error)
	Packages(ctx context.Context, chapterID id.ChapterID) ([]models.PackageQuote, error)
}

// WebhookVerifier authenticates gateway webhook deliveries.
type WebhookVerifier interface {
	ValidateWebhookSignature(body []byte, signature string) bool
}

type Handler struct {
	logger       *slog.Logger
	purchases    Purchases
	guard        Guard
	registrar    Registrar
	webhooks     WebhookVerifier
	jwtValidator auth.JWTValidator
}

func New(purchases Purchases, guardSvc Guard, registrar Registrar,
	webhooks WebhookVerifier, jwtValidator auth.JWTValidator, logger *slog.Logger) *Handler {
	return &Handler{
		logger:       logger,
		purchases:    purchases,
		guard:        guardSvc,
		registrar:    registrar,
		webhooks:     webhooks,
		jwtValidator: jwtValidator,
	}
}

// Register wires the slot ledger routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/slots", func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
		r.Get("/balance", h.handleBalance)
		r.Get("/usage", h.handleUsageHistory)
		r.Get("/packages", h.handlePackages)
		r.Get("/validate", h.handleValidate)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/initialize", h.handleInitialize)
		r.Get("/verify/{reference}", h.handleVerify)
		r.Get("/history", h.handlePurchaseHistory)
	})

	r.With(auth.RequireAuth(h.jwtValidator, h.logger)).
		Post("/registrations", h.handleRegister)

	r.Route("/admin/slots", func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
		r.Use(auth.RequireAdmin(h.logger))
		r.Post("/adjust", h.handleAdjust)
	})

	r.Post("/webhooks/paystack", h.handlePaystackWebhook)
}

type balanceResponse struct {
	CoordinatorID  id.CoordinatorID `json:"coordinatorId"`
	ChapterID      id.ChapterID     `json:"chapterId"`
	Available      int              `json:"availableSlots"`
	Used           int              `json:"usedSlots"`
	TotalPurchased int              `json:"totalPurchasedSlots"`
}

func toBalanceResponse(b *models.AccountBalance) balanceResponse {
	return balanceResponse{
		CoordinatorID:  b.CoordinatorID,
		ChapterID:      b.ChapterID,
		Available:      b.Available,
		Used:           b.Used,
		TotalPurchased: b.TotalPurchased,
	}
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	balance, err := h.guard.Balance(ctx, auth.GetCoordinatorID(ctx))
	if err != nil {
		writeError(w, toDomainError(err))
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponse(balance))
}

func (h *Handler) handleUsageHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := h.guard.UsageHistory(ctx, auth.GetCoordinatorID(ctx), queryLimit(r))
	if err != nil {
		writeError(w, toDomainError(err))
		return
	}
	type usageEntry struct {
		SlotsUsed       int                 `json:"slotsUsed"`
		UsageType       models.UsageType    `json:"usageType"`
		RegistrationID  *id.RegistrationID  `json:"registrationId,omitempty"`
		Notes           string              `json:"notes,omitempty"`
		BeforeAvailable int                 `json:"beforeAvailable"`
		AfterAvailable  int                 `json:"afterAvailable"`
		CreatedAt       string              `json:"createdAt"`
	}
	out := make([]usageEntry, 0, len(records))
	for _, record := range records {
		out = append(out, usageEntry{
			SlotsUsed:       record.SlotsUsed,
			UsageType:       record.UsageType,
			RegistrationID:  record.RegistrationID,
			Notes:           record.Notes,
			BeforeAvailable: record.BeforeAvailable,
			AfterAvailable:  record.AfterAvailable,
			CreatedAt:       record.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": out})
}

func (h *Handler) handlePackages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	quotes, err := h.purchases.Packages(ctx, auth.GetChapterID(ctx))
	if err != nil {
		writeError(w, toDomainError(err))
		return
	}
	type packageEntry struct {
		ID        id.PackageID `json:"id"`
		Name      string       `json:"name"`
		SlotCount int          `json:"slotCount"`
		Price     int64        `json:"price"`
	}
	out := make([]packageEntry, 0, len(quotes))
	for _, quote := range quotes {
		out = append(out, packageEntry{
			ID:        quote.Package.ID,
			Name:      quote.Package.Name,
			SlotCount: quote.Package.SlotCount,
			Price:     quote.Price,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": out})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	validation, err := h.guard.Validate(ctx, auth.GetCoordinatorID(ctx))
	if err != nil {
		writeError(w, toDomainError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"canRegister":    validation.CanRegister,
		"availableSlots": validation.AvailableSlots,
		"message":        validation.Message,
	})
}

type initializeRequest struct {
	PackageID id.PackageID `json:"packageId"`
	Email     string       `json:"email"`
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.PackageID == 0 || req.Email == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "packageId and email are required"))
		return
	}

	init, err := h.purchases.Initiate(ctx,
		auth.GetCoordinatorID(ctx), auth.GetChapterID(ctx), req.PackageID, req.Email)
	if err != nil {
		h.logger.ErrorContext(ctx, "purchase initiation failed", "error", err)
		writeError(w, toDomainError(err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"reference":        init.Order.Reference,
		"authorizationUrl": init.AuthorizationURL,
		"accessCode":       init.AccessCode,
		"slots":            init.Order.SlotsRequested,
		"amount":           init.Order.AmountExpected,
	})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reference := id.PaymentReference(chi.URLParam(r, "reference"))

	outcome, err := h.purchases.Verify(ctx, reference)
	if err != nil {
		h.logger.ErrorContext(ctx, "payment verification failed",
			"reference", reference, "error", err)
		writeError(w, toDomainError(err))
		return
	}

	body := map[string]any{
		"reference": outcome.Order.Reference,
		"status":    outcome.Order.Status,
		"credited":  outcome.Credited,
		"pending":   outcome.StillPending,
	}
	if outcome.Balance != nil {
		body["balance"] = toBalanceResponse(outcome.Balance)
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handlePurchaseHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orders, err := h.purchases.PurchaseHistory(ctx, auth.GetCoordinatorID(ctx), queryLimit(r))
	if err != nil {
		writeError(w, toDomainError(err))
		return
	}
	type orderEntry struct {
		Reference id.PaymentReference `json:"reference"`
		Slots     int                 `json:"slots"`
		Amount    int64               `json:"amount"`
		Status    models.OrderStatus  `json:"status"`
		CreatedAt string              `json:"createdAt"`
	}
	out := make([]orderEntry, 0, len(orders))
	for _, order := range orders {
		out = append(out, orderEntry{
			Reference: order.Reference,
			Slots:     order.SlotsRequested,
			Amount:    order.AmountExpected,
			Status:    order.Status,
			CreatedAt: order.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": out})
}

type registerRequest struct {
	StudentName string `json:"studentName"`
	ExamCode    string `json:"examCode"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.StudentName == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "studentName is required"))
		return
	}

	result, err := h.registrar.Register(ctx, models.RegistrationDraft{
		CoordinatorID: auth.GetCoordinatorID(ctx),
		ChapterID:     auth.GetChapterID(ctx),
		StudentName:   req.StudentName,
		ExamCode:      req.ExamCode,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "registration failed",
			"coordinator_id", auth.GetCoordinatorID(ctx), "error", err)
		writeError(w, toDomainError(err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"registrationId": result.RegistrationID,
		"balance":        toBalanceResponse(&result.Balance),
	})
}

type adjustRequest struct {
	CoordinatorID id.CoordinatorID `json:"coordinatorId"`
	ChapterID     id.ChapterID     `json:"chapterId"`
	Delta         int              `json:"delta"`
	Notes         string           `json:"notes"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.CoordinatorID == 0 || req.Delta == 0 {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "coordinatorId and a non-zero delta are required"))
		return
	}

	balance, err := h.guard.Adjust(ctx, req.CoordinatorID, req.ChapterID, req.Delta, req.Notes)
	if err != nil {
		h.logger.ErrorContext(ctx, "slot adjustment failed",
			"coordinator_id", req.CoordinatorID, "delta", req.Delta, "error", err)
		writeError(w, toDomainError(err))
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponse(balance))
}

// handlePaystackWebhook accepts charge notifications. The webhook only ever
// triggers a verification pass; crediting still flows through Verify so the
// webhook path cannot bypass the order transition guard.
func (h *Handler) handlePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable body"))
		return
	}
	if !h.webhooks.ValidateWebhookSignature(body, r.Header.Get("x-paystack-signature")) {
		h.logger.WarnContext(ctx, "webhook signature rejected")
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid signature"))
		return
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid payload"))
		return
	}

	if payload.Event == "charge.success" && payload.Data.Reference != "" {
		if _, err := h.purchases.Verify(ctx, id.PaymentReference(payload.Data.Reference)); err != nil {
			// Acknowledge anyway; the payer-driven verify or the sweep will
			// resolve the order.
			h.logger.ErrorContext(ctx, "webhook-triggered verification failed",
				"reference", payload.Data.Reference, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return defaultHistoryLimit
}
