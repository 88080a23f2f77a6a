package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/web3lancer/backend/internal/audit"
	"github.com/web3lancer/backend/internal/models"
)

const payoutQueueKey = "payout_queue"

type WalletService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *EscrowLedger
	iso       *ISO20022Service
	banks     *BankService
	audit     *audit.Logger
	validator *ValidationHelper
}

type CreateWalletRequest struct {
	Currency string `json:"currency" validate:"required,len=3"`
	Nickname string `json:"nickname" validate:"omitempty,max=60"`
}

type DepositRequest struct {
	WalletID string `json:"walletId" validate:"required"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
}

type WithdrawRequest struct {
	WalletID      string `json:"walletId" validate:"required"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	BankCode      string `json:"bankCode" validate:"required"`
	AccountNumber string `json:"accountNumber" validate:"required,min=6,max=34"`
	AccountName   string `json:"accountName" validate:"required,min=2,max=140"`
}

func NewWalletService(db *sql.DB, redisClient *redis.Client) *WalletService {
	return &WalletService{
		db:        db,
		redis:     redisClient,
		ledger:    NewEscrowLedger(db),
		iso:       NewISO20022Service(),
		banks:     NewBankService(),
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// ListWallets returns the caller's wallets
// @Summary List wallets
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{wallets=[]models.Wallet,count=int}
// @Router /wallets [get]
func (ws *WalletService) ListWallets(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := ws.db.Query(`
		SELECT id, user_id, balance, currency, nickname, is_primary, version, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		ORDER BY created_at ASC`, userID)
	if err != nil {
		log.Printf("[WALLET] Failed to list wallets for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch wallets", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	wallets := []models.Wallet{}
	for rows.Next() {
		var wal models.Wallet
		var nickname sql.NullString
		if err := rows.Scan(&wal.ID, &wal.UserID, &wal.Balance, &wal.Currency, &nickname,
			&wal.IsPrimary, &wal.Version, &wal.CreatedAt, &wal.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch wallets", http.StatusInternalServerError, nil)
			return
		}
		wal.Nickname = nickname.String
		wallets = append(wallets, wal)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"wallets": wallets,
		"count":   len(wallets),
	})
}

// CreateWallet creates a wallet for the caller
// @Summary Create wallet
// @Description Create a wallet in the given currency; the first wallet per currency becomes primary
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateWalletRequest true "Wallet data"
// @Success 201 {object} models.Wallet
// @Failure 400 {object} ErrorResponse
// @Router /wallets [post]
func (ws *WalletService) CreateWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateWalletRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Currency = strings.ToUpper(req.Currency)
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var existing int
	if err := ws.db.QueryRow(`SELECT COUNT(1) FROM wallets WHERE user_id = $1 AND currency = $2`,
		userID, req.Currency).Scan(&existing); err != nil {
		SendErrorResponse(w, "Failed to create wallet", http.StatusInternalServerError, nil)
		return
	}

	now := time.Now()
	wallet := models.Wallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		Balance:   0,
		Currency:  req.Currency,
		Nickname:  req.Nickname,
		IsPrimary: existing == 0,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := ws.db.Exec(`
		INSERT INTO wallets
		(id, user_id, balance, currency, nickname, is_primary, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		wallet.ID, wallet.UserID, wallet.Balance, wallet.Currency, nullable(wallet.Nickname),
		wallet.IsPrimary, wallet.Version, wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		log.Printf("[WALLET] Failed to create wallet for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to create wallet", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[WALLET] Created %s wallet %s for user %s", wallet.Currency, wallet.ID, userID)
	writeJSON(w, http.StatusCreated, wallet)
}

// BalanceEnquiry returns the balance for one wallet
// @Summary Wallet balance enquiry
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Param walletId query string true "Wallet ID"
// @Success 200 {object} object{walletId=string,balance=int64,currency=string}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /wallets/balance [get]
func (ws *WalletService) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	walletID := strings.TrimSpace(r.URL.Query().Get("walletId"))
	if walletID == "" {
		SendErrorResponse(w, "walletId is required", http.StatusBadRequest, nil)
		return
	}

	var ownerID, currency string
	var balance int64
	err := ws.db.QueryRow(`SELECT user_id, balance, currency FROM wallets WHERE id = $1`, walletID).
		Scan(&ownerID, &balance, &currency)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch wallet", http.StatusInternalServerError, nil)
		return
	}
	if ownerID != userID {
		SendErrorResponse(w, "Wallet does not belong to caller", http.StatusForbidden, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"walletId": walletID,
		"balance":  balance,
		"currency": currency,
	})
}

// Deposit credits a wallet
// @Summary Deposit into wallet
// @Description Credit the wallet and append a deposit ledger entry in one transaction
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body DepositRequest true "Deposit data"
// @Success 200 {object} object{walletId=string,balance=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /wallets/deposit [post]
func (ws *WalletService) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req DepositRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := ws.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to process deposit", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	wallet, err := ws.ledger.lockWallet(tx, req.WalletID)
	if err != nil {
		ws.writeWalletError(w, err)
		return
	}
	if wallet.UserID != userID {
		SendErrorResponse(w, "Wallet does not belong to caller", http.StatusForbidden, nil)
		return
	}

	if err := ws.ledger.updateWalletBalance(tx, wallet.ID, wallet.Balance+req.Amount, wallet.Version); err != nil {
		SendErrorResponse(w, "Failed to process deposit", http.StatusInternalServerError, nil)
		return
	}

	if err := ws.ledger.appendEntry(tx, models.LedgerEntry{
		UserID:      userID,
		WalletID:    wallet.ID,
		Amount:      req.Amount,
		Currency:    wallet.Currency,
		Type:        models.EntryDeposit,
		Status:      "completed",
		Description: "Wallet deposit",
	}); err != nil {
		SendErrorResponse(w, "Failed to process deposit", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to process deposit", http.StatusInternalServerError, nil)
		return
	}

	ws.audit.LogMovement("deposit", "external", wallet.ID, req.Amount, "COMPLETED")
	writeJSON(w, http.StatusOK, map[string]any{
		"walletId": wallet.ID,
		"balance":  wallet.Balance + req.Amount,
	})
}

// Withdraw debits a wallet and queues a bank payout
// @Summary Withdraw to bank
// @Description Debit the wallet, append a withdrawal ledger entry, and queue a pacs.008 payout message
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body WithdrawRequest true "Withdrawal data"
// @Success 200 {object} object{payoutId=string,walletId=string,balance=int64,status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /wallets/withdraw [post]
func (ws *WalletService) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req WithdrawRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !ws.banks.IsSupportedBank(req.BankCode) {
		SendErrorResponse(w, "Unsupported bank code", http.StatusBadRequest, nil)
		return
	}

	payoutID := uuid.New().String()

	tx, err := ws.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	wallet, err := ws.ledger.lockWallet(tx, req.WalletID)
	if err != nil {
		ws.writeWalletError(w, err)
		return
	}
	if wallet.UserID != userID {
		SendErrorResponse(w, "Wallet does not belong to caller", http.StatusForbidden, nil)
		return
	}
	if wallet.Balance < req.Amount {
		SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
		return
	}

	if err := ws.ledger.updateWalletBalance(tx, wallet.ID, wallet.Balance-req.Amount, wallet.Version); err != nil {
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	if err := ws.ledger.appendEntry(tx, models.LedgerEntry{
		UserID:      userID,
		WalletID:    wallet.ID,
		Amount:      -req.Amount,
		Currency:    wallet.Currency,
		Type:        models.EntryWithdrawal,
		Status:      "pending",
		Description: fmt.Sprintf("Withdrawal %s to bank %s", payoutID, req.BankCode),
	}); err != nil {
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	// Build and queue the settlement message after the commit; a queue
	// failure leaves the payout for operator replay, not the wallet.
	payout := &BankPayout{
		PayoutID:      payoutID,
		Reference:     payoutID,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		Amount:        req.Amount,
		Currency:      wallet.Currency,
	}
	if err := ws.queuePayout(payout); err != nil {
		log.Printf("[WALLET] Failed to queue payout %s: %v", payoutID, err)
	}

	ws.audit.LogMovement(payoutID, wallet.ID, "bank:"+req.BankCode, req.Amount, "PENDING")
	writeJSON(w, http.StatusOK, map[string]any{
		"payoutId": payoutID,
		"walletId": wallet.ID,
		"balance":  wallet.Balance - req.Amount,
		"status":   "pending",
	})
}

// ListTransactions returns the caller's ledger history
// @Summary List ledger entries
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param walletId query string false "Filter by wallet"
// @Param type query string false "Filter by entry type"
// @Success 200 {object} object{transactions=[]models.LedgerEntry,count=int}
// @Router /transactions [get]
func (ws *WalletService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	conditions := []string{"user_id = $1"}
	args := []interface{}{userID}
	argIndex := 2

	if walletID := r.URL.Query().Get("walletId"); walletID != "" {
		conditions = append(conditions, fmt.Sprintf("wallet_id = $%d", argIndex))
		args = append(args, walletID)
		argIndex++
	}
	if entryType := r.URL.Query().Get("type"); entryType != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, entryType)
		argIndex++
	}

	query := `
		SELECT id, user_id, wallet_id, amount, currency, type, status, description,
		       COALESCE(contract_id, '') AS contract_id, COALESCE(milestone_id, '') AS milestone_id, created_at
		FROM transactions
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at DESC
		LIMIT $` + fmt.Sprint(argIndex)
	args = append(args, 50)

	rows, err := ws.db.Query(query, args...)
	if err != nil {
		log.Printf("[LEDGER] Failed to list transactions for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.WalletID, &e.Amount, &e.Currency, &e.Type,
			&e.Status, &e.Description, &e.ContractID, &e.MilestoneID, &e.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		entries = append(entries, e)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": entries,
		"count":        len(entries),
	})
}

// GetTransaction returns one ledger entry owned by the caller
// @Summary Get ledger entry
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Ledger entry ID"
// @Success 200 {object} models.LedgerEntry
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (ws *WalletService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txID := chi.URLParam(r, "txId")
	var e models.LedgerEntry
	err := ws.db.QueryRow(`
		SELECT id, user_id, wallet_id, amount, currency, type, status, description,
		       COALESCE(contract_id, '') AS contract_id, COALESCE(milestone_id, '') AS milestone_id, created_at
		FROM transactions
		WHERE id = $1`, txID).Scan(&e.ID, &e.UserID, &e.WalletID, &e.Amount, &e.Currency,
		&e.Type, &e.Status, &e.Description, &e.ContractID, &e.MilestoneID, &e.CreatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		return
	}
	if e.UserID != userID {
		SendErrorResponse(w, "Transaction does not belong to caller", http.StatusForbidden, nil)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (ws *WalletService) queuePayout(payout *BankPayout) error {
	doc, err := ws.iso.CreatePacs008(payout)
	if err != nil {
		return err
	}
	xmlData, err := ws.iso.ConvertToXML(doc)
	if err != nil {
		return err
	}
	if ws.redis == nil {
		log.Printf("[WALLET] No payout queue configured, settlement message for %s:\n%s", payout.PayoutID, xmlData)
		return nil
	}
	envelope, err := json.Marshal(map[string]string{
		"payoutId": payout.PayoutID,
		"message":  xmlData,
	})
	if err != nil {
		return err
	}
	return ws.redis.RPush(context.Background(), payoutQueueKey, envelope).Err()
}

func (ws *WalletService) writeWalletError(w http.ResponseWriter, err error) {
	if err == ErrWalletNotFound {
		SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
		return
	}
	log.Printf("[WALLET] Wallet operation failed: %v", err)
	SendErrorResponse(w, "Failed to process wallet operation", http.StatusInternalServerError, nil)
}
