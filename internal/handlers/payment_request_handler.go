package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/web3lancer/backend/internal/services"
)

type PaymentRequestHandler struct {
	service   *services.PaymentRequestService
	validator *services.ValidationHelper
}

func NewPaymentRequestHandler(service *services.PaymentRequestService) *PaymentRequestHandler {
	return &PaymentRequestHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// CreateRequest creates a payment request QR code
// @Summary Create payment request
// @Description Create a one-shot payment request into one of the caller's wallets and render it as a QR code
// @Tags payment-requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{walletId=string,amount=int64,memo=string} true "Payment request data"
// @Success 201 {object} object{code=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /payment-requests [post]
func (h *PaymentRequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		WalletID string `json:"walletId" validate:"required"`
		Amount   int64  `json:"amount" validate:"required,gt=0"`
		Memo     string `json:"memo" validate:"omitempty,max=140"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	pr, qrImage, err := h.service.Create(r.Context(), userID, req.WalletID, req.Amount, req.Memo)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"code":     pr.Code,
		"amount":   pr.Amount,
		"currency": pr.Currency,
		"qrImage":  qrImage,
	})
}

// ResolveRequest looks up a payment request by code
// @Summary Resolve payment request
// @Description Look up a scanned payment request without consuming it
// @Tags payment-requests
// @Produce json
// @Security BearerAuth
// @Param code path string true "Payment request code"
// @Success 200 {object} services.PaymentRequest
// @Failure 400 {object} services.ErrorResponse
// @Router /payment-requests/{code} [get]
func (h *PaymentRequestHandler) ResolveRequest(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		services.SendErrorResponse(w, "code is required", http.StatusBadRequest, nil)
		return
	}

	pr, err := h.service.Resolve(r.Context(), code)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pr)
}

// PayRequest pays a payment request
// @Summary Pay payment request
// @Description Consume a payment request and transfer the amount from the caller's wallet
// @Tags payment-requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string,walletId=string} true "Payment data"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /payment-requests/pay [post]
func (h *PaymentRequestHandler) PayRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Code     string `json:"code" validate:"required"`
		WalletID string `json:"walletId" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	pr, err := h.service.Pay(r.Context(), req.Code, userID, req.WalletID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"code":     pr.Code,
		"amount":   pr.Amount,
		"currency": pr.Currency,
	})
}

func (h *PaymentRequestHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func (h *PaymentRequestHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch err {
	case services.ErrWalletNotFound:
		services.SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
	case services.ErrWalletOwnership:
		services.SendErrorResponse(w, "Wallet does not belong to caller", http.StatusForbidden, nil)
	case services.ErrInsufficientBalance:
		services.SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
	default:
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	}
}
