package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/web3lancer/backend/internal/audit"
	"github.com/web3lancer/backend/internal/models"
)

type EscrowService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *EscrowLedger
	audit     *audit.Logger
	validator *ValidationHelper
}

type CreateEscrowRequest struct {
	ContractID   string `json:"contractId" validate:"required"`
	MilestoneID  string `json:"milestoneId" validate:"required"`
	FromWalletID string `json:"fromWalletId" validate:"required"`
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
}

type UpdateEscrowRequest struct {
	Status     string `json:"status" validate:"required,oneof=released refunded disputed"`
	ToWalletID string `json:"toWalletId" validate:"omitempty"`
}

func NewEscrowService(db *sql.DB, redisClient *redis.Client) *EscrowService {
	return &EscrowService{
		db:        db,
		redis:     redisClient,
		ledger:    NewEscrowLedger(db),
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// GetEscrows retrieves escrow transactions
// @Summary Get escrow transactions
// @Description Fetch a single escrow by id, the escrow for a milestone, or all escrows for a contract
// @Tags escrow
// @Produce json
// @Security BearerAuth
// @Param escrowId query string false "Escrow transaction ID"
// @Param milestoneId query string false "Milestone ID"
// @Param contractId query string false "Contract ID"
// @Success 200 {object} models.EscrowTransaction
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /escrow [get]
func (s *EscrowService) GetEscrows(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	escrowID := r.URL.Query().Get("escrowId")
	milestoneID := r.URL.Query().Get("milestoneId")
	contractID := r.URL.Query().Get("contractId")

	switch {
	case escrowID != "":
		escrow, err := s.fetchEscrow(escrowID)
		if err != nil {
			s.writeFetchError(w, "Escrow transaction not found", err)
			return
		}
		if !s.authorizeView(w, escrow.ContractID, userID) {
			return
		}
		writeJSON(w, http.StatusOK, escrow)

	case milestoneID != "":
		escrow, err := s.fetchEscrowByMilestone(milestoneID)
		if err != nil {
			s.writeFetchError(w, "No escrow for milestone", err)
			return
		}
		if !s.authorizeView(w, escrow.ContractID, userID) {
			return
		}
		writeJSON(w, http.StatusOK, escrow)

	case contractID != "":
		if !s.authorizeView(w, contractID, userID) {
			return
		}
		escrows, err := s.fetchEscrowsByContract(contractID)
		if err != nil {
			log.Printf("[ESCROW] Failed to list escrows for contract %s: %v", contractID, err)
			SendErrorResponse(w, "Failed to fetch escrow transactions", http.StatusInternalServerError, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"escrows": escrows,
			"count":   len(escrows),
		})

	default:
		SendErrorResponse(w, "One of escrowId, milestoneId or contractId is required", http.StatusBadRequest, nil)
	}
}

// CreateEscrow funds a milestone
// @Summary Fund a milestone escrow
// @Description Debit the client wallet and hold the amount against a milestone
// @Tags escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateEscrowRequest true "Funding request"
// @Success 201 {object} models.EscrowTransaction
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /escrow [post]
func (s *EscrowService) CreateEscrow(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateEscrowRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	contract, err := s.fetchContract(req.ContractID)
	if err != nil {
		s.writeFetchError(w, "Contract not found", err)
		return
	}

	milestone, err := s.fetchMilestone(req.MilestoneID)
	if err != nil {
		s.writeFetchError(w, "Milestone not found", err)
		return
	}
	if milestone.ContractID != contract.ID {
		SendErrorResponse(w, "Milestone does not belong to contract", http.StatusBadRequest, nil)
		return
	}

	if decision := Decide(ActionFund, contract, userID); !decision.Allowed {
		SendErrorResponse(w, decision.Reason, http.StatusForbidden, nil)
		return
	}

	wallet, err := s.fetchWallet(req.FromWalletID)
	if err != nil {
		s.writeFetchError(w, "Wallet not found", err)
		return
	}
	if wallet.UserID != userID {
		SendErrorResponse(w, "Wallet does not belong to caller", http.StatusForbidden, nil)
		return
	}
	if req.Currency != "" && req.Currency != wallet.Currency {
		SendErrorResponse(w, "Currency does not match wallet", http.StatusBadRequest, nil)
		return
	}

	idemKey, claimed := s.claimIdempotencyKey(r, userID)
	if !claimed {
		SendErrorResponse(w, "Duplicate request", http.StatusConflict, nil)
		return
	}

	escrow, err := s.ledger.Fund(contract, milestone, wallet.ID, req.Amount)
	if err != nil {
		s.releaseIdempotencyKey(idemKey)
		s.audit.LogError(req.MilestoneID, wallet.ID, err)
		s.writeLedgerError(w, err)
		return
	}

	log.Printf("[ESCROW] Funded milestone %s on contract %s: %d %s", milestone.ID, contract.ID, req.Amount, escrow.Currency)
	writeJSON(w, http.StatusCreated, escrow)
}

// UpdateEscrow releases, refunds or disputes an escrow
// @Summary Update escrow status
// @Description Release funds to the freelancer, refund the client, or raise a dispute
// @Tags escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param escrowId query string true "Escrow transaction ID"
// @Param request body UpdateEscrowRequest true "Status update"
// @Success 200 {object} models.EscrowTransaction
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /escrow [put]
func (s *EscrowService) UpdateEscrow(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	escrowID := r.URL.Query().Get("escrowId")
	if escrowID == "" {
		SendErrorResponse(w, "escrowId is required", http.StatusBadRequest, nil)
		return
	}

	var req UpdateEscrowRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	escrow, err := s.fetchEscrow(escrowID)
	if err != nil {
		s.writeFetchError(w, "Escrow transaction not found", err)
		return
	}

	contract, err := s.fetchContract(escrow.ContractID)
	if err != nil {
		s.writeFetchError(w, "Contract not found", err)
		return
	}

	milestone, err := s.fetchMilestone(escrow.MilestoneID)
	if err != nil {
		s.writeFetchError(w, "Milestone not found", err)
		return
	}

	idemKey, claimed := s.claimIdempotencyKey(r, userID)
	if !claimed {
		SendErrorResponse(w, "Duplicate request", http.StatusConflict, nil)
		return
	}

	var updated *models.EscrowTransaction
	switch req.Status {
	case models.EscrowReleased:
		if decision := Decide(ActionRelease, contract, userID); !decision.Allowed {
			s.releaseIdempotencyKey(idemKey)
			SendErrorResponse(w, decision.Reason, http.StatusForbidden, nil)
			return
		}
		if milestone.Status != models.MilestoneApproved {
			s.releaseIdempotencyKey(idemKey)
			SendErrorResponse(w, "Milestone is not approved", http.StatusBadRequest, nil)
			return
		}
		if req.ToWalletID == "" {
			s.releaseIdempotencyKey(idemKey)
			SendErrorResponse(w, "toWalletId is required for release", http.StatusBadRequest, nil)
			return
		}
		updated, err = s.ledger.Release(contract, escrow.ID, req.ToWalletID)

	case models.EscrowRefunded:
		if decision := Decide(ActionRefund, contract, userID); !decision.Allowed {
			s.releaseIdempotencyKey(idemKey)
			SendErrorResponse(w, decision.Reason, http.StatusForbidden, nil)
			return
		}
		if milestone.Status == models.MilestonePaid {
			s.releaseIdempotencyKey(idemKey)
			SendErrorResponse(w, "Milestone is already paid", http.StatusBadRequest, nil)
			return
		}
		updated, err = s.ledger.Refund(contract, escrow.ID)

	case models.EscrowDisputed:
		if decision := Decide(ActionDispute, contract, userID); !decision.Allowed {
			s.releaseIdempotencyKey(idemKey)
			SendErrorResponse(w, decision.Reason, http.StatusForbidden, nil)
			return
		}
		updated, err = s.ledger.Dispute(escrow.ID)
	}

	if err != nil {
		s.releaseIdempotencyKey(idemKey)
		s.audit.LogError(escrow.ID, escrow.FromWalletID, err)
		s.writeLedgerError(w, err)
		return
	}

	log.Printf("[ESCROW] Escrow %s moved to %s by %s", escrow.ID, req.Status, userID)
	writeJSON(w, http.StatusOK, updated)
}

// authorizeView loads the contract and checks the caller is a party to it,
// writing the error response itself on failure.
func (s *EscrowService) authorizeView(w http.ResponseWriter, contractID, userID string) bool {
	contract, err := s.fetchContract(contractID)
	if err != nil {
		s.writeFetchError(w, "Contract not found", err)
		return false
	}
	if decision := Decide(ActionView, contract, userID); !decision.Allowed {
		SendErrorResponse(w, decision.Reason, http.StatusForbidden, nil)
		return false
	}
	return true
}

// claimIdempotencyKey reserves the request's Idempotency-Key header in
// redis and returns the reserved key. Returns false when the key was
// already claimed. Requests without the header, or deployments without
// redis, always pass with an empty key; the status-guarded transitions in
// the ledger remain the authoritative defense.
func (s *EscrowService) claimIdempotencyKey(r *http.Request, userID string) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || s.redis == nil {
		return "", true
	}
	redisKey := fmt.Sprintf("idem:%s:%s", userID, key)
	ok, err := s.redis.SetNX(context.Background(), redisKey, "1", 24*time.Hour).Result()
	if err != nil {
		log.Printf("[ESCROW] Idempotency check failed, allowing request: %v", err)
		return "", true
	}
	return redisKey, ok
}

// releaseIdempotencyKey frees a claimed key after a request that applied
// nothing. A failed attempt must not block the client's retry with the
// same key.
func (s *EscrowService) releaseIdempotencyKey(redisKey string) {
	if redisKey == "" || s.redis == nil {
		return
	}
	if err := s.redis.Del(context.Background(), redisKey).Err(); err != nil {
		log.Printf("[ESCROW] Failed to release idempotency key %s: %v", redisKey, err)
	}
}

func (s *EscrowService) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrDuplicateEscrow),
		errors.Is(err, ErrMilestoneNotPending),
		errors.Is(err, ErrMilestoneNotApproved),
		errors.Is(err, ErrMilestonePaid):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrWalletOwnership):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrEscrowNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrEscrowNotActive):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	default:
		log.Printf("[ESCROW] Ledger operation failed: %v", err)
		SendErrorResponse(w, "Failed to process escrow operation", http.StatusInternalServerError, nil)
	}
}

func (s *EscrowService) writeFetchError(w http.ResponseWriter, notFoundMsg string, err error) {
	if err == sql.ErrNoRows {
		SendErrorResponse(w, notFoundMsg, http.StatusNotFound, nil)
		return
	}
	log.Printf("[ESCROW] Fetch failed: %v", err)
	SendErrorResponse(w, "Failed to fetch record", http.StatusInternalServerError, nil)
}

// Store reads. Plain reads outside the money-moving transaction; the
// ledger re-checks everything it depends on under row locks.

func (s *EscrowService) fetchContract(contractID string) (*models.Contract, error) {
	var c models.Contract
	err := s.db.QueryRow(`
		SELECT id, client_id, freelancer_id, title, budget, currency, status, created_at, updated_at
		FROM contracts
		WHERE id = $1`, contractID).Scan(
		&c.ID, &c.ClientID, &c.FreelancerID, &c.Title, &c.Budget, &c.Currency, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *EscrowService) fetchMilestone(milestoneID string) (*models.Milestone, error) {
	var m models.Milestone
	err := s.db.QueryRow(`
		SELECT id, contract_id, idx, title, amount, status, created_at, updated_at
		FROM milestones
		WHERE id = $1`, milestoneID).Scan(
		&m.ID, &m.ContractID, &m.Index, &m.Title, &m.Amount, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *EscrowService) fetchWallet(walletID string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.QueryRow(`
		SELECT id, user_id, balance, currency, version, created_at, updated_at
		FROM wallets
		WHERE id = $1`, walletID).Scan(
		&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

const escrowColumns = `id, contract_id, milestone_id, from_wallet_id, released_to_wallet_id,
	       amount, fee, currency, status, version, created_at, updated_at`

func scanEscrow(row *sql.Row) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	var releasedTo sql.NullString
	err := row.Scan(&e.ID, &e.ContractID, &e.MilestoneID, &e.FromWalletID, &releasedTo,
		&e.Amount, &e.Fee, &e.Currency, &e.Status, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.ReleasedToWalletID = releasedTo.String
	return &e, nil
}

func (s *EscrowService) fetchEscrow(escrowID string) (*models.EscrowTransaction, error) {
	return scanEscrow(s.db.QueryRow(`
		SELECT `+escrowColumns+`
		FROM escrow_transactions
		WHERE id = $1`, escrowID))
}

func (s *EscrowService) fetchEscrowByMilestone(milestoneID string) (*models.EscrowTransaction, error) {
	return scanEscrow(s.db.QueryRow(`
		SELECT `+escrowColumns+`
		FROM escrow_transactions
		WHERE milestone_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, milestoneID))
}

func (s *EscrowService) fetchEscrowsByContract(contractID string) ([]models.EscrowTransaction, error) {
	rows, err := s.db.Query(`
		SELECT `+escrowColumns+`
		FROM escrow_transactions
		WHERE contract_id = $1
		ORDER BY created_at DESC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	escrows := []models.EscrowTransaction{}
	for rows.Next() {
		var e models.EscrowTransaction
		var releasedTo sql.NullString
		if err := rows.Scan(&e.ID, &e.ContractID, &e.MilestoneID, &e.FromWalletID, &releasedTo,
			&e.Amount, &e.Fee, &e.Currency, &e.Status, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.ReleasedToWalletID = releasedTo.String
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}
