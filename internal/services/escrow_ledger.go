package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/web3lancer/backend/internal/audit"
	"github.com/web3lancer/backend/internal/models"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrDuplicateEscrow      = errors.New("milestone already has an active escrow")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrWalletOwnership      = errors.New("wallet does not belong to the required party")
	ErrEscrowNotFound       = errors.New("escrow transaction not found")
	ErrEscrowNotActive      = errors.New("escrow is not in a releasable status")
	ErrMilestoneNotPending  = errors.New("milestone is not pending")
	ErrMilestoneNotApproved = errors.New("milestone is not approved")
	ErrMilestonePaid        = errors.New("milestone is already paid")
)

// EscrowLedger performs every money movement of the escrow workflow inside
// a single database transaction: wallet rows are locked FOR UPDATE in
// consistent id order, balance updates carry an optimistic version check,
// the escrow status transition is guarded by the current status, and the
// append-only ledger rows land in the same transaction. A failure at any
// step rolls the whole movement back.
type EscrowLedger struct {
	db               *sql.DB
	platformWalletID string
	feePercentage    float64
	audit            *audit.Logger
}

func NewEscrowLedger(db *sql.DB) *EscrowLedger {
	viper.SetDefault("escrow.fee_percentage", 0.0)
	viper.SetDefault("escrow.platform_wallet_id", "")
	return &EscrowLedger{
		db:               db,
		platformWalletID: viper.GetString("escrow.platform_wallet_id"),
		feePercentage:    viper.GetFloat64("escrow.fee_percentage"),
		audit:            audit.NewLogger(),
	}
}

// PlatformFee is the fee debited from the funder on top of the escrowed
// amount. Zero when no fee percentage or platform wallet is configured.
func (l *EscrowLedger) PlatformFee(amount int64) int64 {
	if l.feePercentage <= 0 || l.platformWalletID == "" {
		return 0
	}
	return int64(float64(amount) * l.feePercentage / 100)
}

// Fund creates the escrow record, debits the client wallet and moves the
// milestone to in_progress.
func (l *EscrowLedger) Fund(contract *models.Contract, milestone *models.Milestone, walletID string, amount int64) (*models.EscrowTransaction, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM escrow_transactions
			WHERE milestone_id = $1 AND status <> 'refunded'
		)`, milestone.ID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateEscrow
	}

	wallet, err := l.lockWallet(tx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.UserID != contract.ClientID {
		return nil, ErrWalletOwnership
	}

	fee := l.PlatformFee(amount)
	if wallet.Balance < amount+fee {
		return nil, ErrInsufficientBalance
	}

	escrow := &models.EscrowTransaction{
		ID:           uuid.New().String(),
		ContractID:   contract.ID,
		MilestoneID:  milestone.ID,
		FromWalletID: wallet.ID,
		Amount:       amount,
		Fee:          fee,
		Currency:     wallet.Currency,
		Status:       models.EscrowFunded,
		Version:      1,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	_, err = tx.Exec(`
		INSERT INTO escrow_transactions
		(id, contract_id, milestone_id, from_wallet_id, amount, fee, currency, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		escrow.ID, escrow.ContractID, escrow.MilestoneID, escrow.FromWalletID,
		escrow.Amount, escrow.Fee, escrow.Currency, escrow.Status, escrow.Version,
		escrow.CreatedAt, escrow.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := l.updateWalletBalance(tx, wallet.ID, wallet.Balance-(amount+fee), wallet.Version); err != nil {
		return nil, err
	}

	if err := l.appendEntry(tx, models.LedgerEntry{
		UserID:      contract.ClientID,
		WalletID:    wallet.ID,
		Amount:      -amount,
		Currency:    wallet.Currency,
		Type:        models.EntryEscrow,
		Status:      "completed",
		Description: fmt.Sprintf("Escrow funding for contract %s milestone %s", contract.ID, milestone.ID),
		ContractID:  contract.ID,
		MilestoneID: milestone.ID,
	}); err != nil {
		return nil, err
	}

	if fee > 0 {
		if err := l.collectFee(tx, wallet, escrow, fee); err != nil {
			return nil, err
		}
	}

	if err := l.transitionMilestone(tx, milestone.ID, models.MilestoneInProgress, []string{models.MilestonePending}, ErrMilestoneNotPending); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	l.audit.LogMovement(escrow.ID, wallet.ID, "escrow", amount, "FUNDED")
	return escrow, nil
}

// Release credits the freelancer wallet from a funded escrow and marks
// the milestone paid. The escrow row is locked and the transition is
// status-guarded, so a concurrent duplicate release fails instead of
// double-crediting.
func (l *EscrowLedger) Release(contract *models.Contract, escrowID, toWalletID string) (*models.EscrowTransaction, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	escrow, err := l.lockEscrow(tx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow.Status != models.EscrowFunded {
		return nil, ErrEscrowNotActive
	}

	wallet, err := l.lockWallet(tx, toWalletID)
	if err != nil {
		return nil, err
	}
	if wallet.UserID != contract.FreelancerID {
		return nil, ErrWalletOwnership
	}

	if err := l.transitionEscrow(tx, escrow, models.EscrowReleased, toWalletID); err != nil {
		return nil, err
	}

	if err := l.updateWalletBalance(tx, wallet.ID, wallet.Balance+escrow.Amount, wallet.Version); err != nil {
		return nil, err
	}

	if err := l.appendEntry(tx, models.LedgerEntry{
		UserID:      contract.FreelancerID,
		WalletID:    wallet.ID,
		Amount:      escrow.Amount,
		Currency:    escrow.Currency,
		Type:        models.EntryRelease,
		Status:      "completed",
		Description: fmt.Sprintf("Escrow release for contract %s milestone %s", contract.ID, escrow.MilestoneID),
		ContractID:  contract.ID,
		MilestoneID: escrow.MilestoneID,
	}); err != nil {
		return nil, err
	}

	if err := l.transitionMilestone(tx, escrow.MilestoneID, models.MilestonePaid, []string{models.MilestoneApproved}, ErrMilestoneNotApproved); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	escrow.Status = models.EscrowReleased
	escrow.ReleasedToWalletID = toWalletID
	l.audit.LogMovement(escrow.ID, "escrow", wallet.ID, escrow.Amount, "RELEASED")
	return escrow, nil
}

// Refund returns the escrowed amount (and any fee) to the funding wallet
// and puts the milestone back to pending.
func (l *EscrowLedger) Refund(contract *models.Contract, escrowID string) (*models.EscrowTransaction, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	escrow, err := l.lockEscrow(tx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow.Status != models.EscrowFunded && escrow.Status != models.EscrowDisputed {
		return nil, ErrEscrowNotActive
	}

	wallet, err := l.lockWallet(tx, escrow.FromWalletID)
	if err != nil {
		return nil, err
	}

	if err := l.transitionEscrow(tx, escrow, models.EscrowRefunded, ""); err != nil {
		return nil, err
	}

	if err := l.updateWalletBalance(tx, wallet.ID, wallet.Balance+escrow.Amount+escrow.Fee, wallet.Version); err != nil {
		return nil, err
	}

	if err := l.appendEntry(tx, models.LedgerEntry{
		UserID:      contract.ClientID,
		WalletID:    wallet.ID,
		Amount:      escrow.Amount,
		Currency:    escrow.Currency,
		Type:        models.EntryRefund,
		Status:      "completed",
		Description: fmt.Sprintf("Escrow refund for contract %s milestone %s", contract.ID, escrow.MilestoneID),
		ContractID:  contract.ID,
		MilestoneID: escrow.MilestoneID,
	}); err != nil {
		return nil, err
	}

	if escrow.Fee > 0 {
		if err := l.returnFee(tx, wallet, escrow); err != nil {
			return nil, err
		}
	}

	if err := l.transitionMilestone(tx, escrow.MilestoneID, models.MilestonePending,
		[]string{models.MilestoneInProgress, models.MilestoneCompleted, models.MilestoneApproved, models.MilestoneDisputed}, ErrMilestonePaid); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	escrow.Status = models.EscrowRefunded
	l.audit.LogMovement(escrow.ID, "escrow", wallet.ID, escrow.Amount+escrow.Fee, "REFUNDED")
	return escrow, nil
}

// Dispute freezes a funded escrow. No funds move.
func (l *EscrowLedger) Dispute(escrowID string) (*models.EscrowTransaction, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	escrow, err := l.lockEscrow(tx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow.Status != models.EscrowFunded {
		return nil, ErrEscrowNotActive
	}

	if err := l.transitionEscrow(tx, escrow, models.EscrowDisputed, ""); err != nil {
		return nil, err
	}

	if err := l.transitionMilestone(tx, escrow.MilestoneID, models.MilestoneDisputed,
		[]string{models.MilestonePending, models.MilestoneInProgress, models.MilestoneCompleted, models.MilestoneApproved}, ErrMilestonePaid); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	escrow.Status = models.EscrowDisputed
	l.audit.LogOperation(escrow.ID, escrow.FromWalletID, "DISPUTE", "escrow frozen pending resolution")
	return escrow, nil
}

// Transfer moves funds directly between two wallets with a debit and a
// credit ledger entry, locking both rows in consistent id order to avoid
// deadlocks. Used for direct payments outside the escrow lifecycle.
func (l *EscrowLedger) Transfer(fromWalletID, toWalletID string, amount int64, entryType, description string) error {
	if fromWalletID == toWalletID {
		return errors.New("cannot transfer to the same wallet")
	}

	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	firstLock, secondLock := fromWalletID, toWalletID
	if fromWalletID > toWalletID {
		firstLock, secondLock = toWalletID, fromWalletID
	}

	first, err := l.lockWallet(tx, firstLock)
	if err != nil {
		return err
	}
	second, err := l.lockWallet(tx, secondLock)
	if err != nil {
		return err
	}

	from, to := first, second
	if firstLock != fromWalletID {
		from, to = second, first
	}

	if from.Balance < amount {
		return ErrInsufficientBalance
	}

	if err := l.updateWalletBalance(tx, from.ID, from.Balance-amount, from.Version); err != nil {
		return err
	}
	if err := l.updateWalletBalance(tx, to.ID, to.Balance+amount, to.Version); err != nil {
		return err
	}

	if err := l.appendEntry(tx, models.LedgerEntry{
		UserID:      from.UserID,
		WalletID:    from.ID,
		Amount:      -amount,
		Currency:    from.Currency,
		Type:        entryType,
		Status:      "completed",
		Description: description,
	}); err != nil {
		return err
	}
	if err := l.appendEntry(tx, models.LedgerEntry{
		UserID:      to.UserID,
		WalletID:    to.ID,
		Amount:      amount,
		Currency:    to.Currency,
		Type:        entryType,
		Status:      "completed",
		Description: description,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	l.audit.LogMovement(description, from.ID, to.ID, amount, "COMPLETED")
	return nil
}

func (l *EscrowLedger) collectFee(tx *sql.Tx, funder *models.Wallet, escrow *models.EscrowTransaction, fee int64) error {
	platform, err := l.lockWallet(tx, l.platformWalletID)
	if err != nil {
		return err
	}
	if err := l.updateWalletBalance(tx, platform.ID, platform.Balance+fee, platform.Version); err != nil {
		return err
	}
	if err := l.appendEntry(tx, models.LedgerEntry{
		UserID:      platform.UserID,
		WalletID:    platform.ID,
		Amount:      fee,
		Currency:    escrow.Currency,
		Type:        models.EntryFee,
		Status:      "completed",
		Description: fmt.Sprintf("Platform fee for escrow %s", escrow.ID),
		ContractID:  escrow.ContractID,
		MilestoneID: escrow.MilestoneID,
	}); err != nil {
		return err
	}
	return l.appendEntry(tx, models.LedgerEntry{
		UserID:      funder.UserID,
		WalletID:    funder.ID,
		Amount:      -fee,
		Currency:    escrow.Currency,
		Type:        models.EntryFee,
		Status:      "completed",
		Description: fmt.Sprintf("Platform fee for escrow %s", escrow.ID),
		ContractID:  escrow.ContractID,
		MilestoneID: escrow.MilestoneID,
	})
}

func (l *EscrowLedger) returnFee(tx *sql.Tx, funder *models.Wallet, escrow *models.EscrowTransaction) error {
	platform, err := l.lockWallet(tx, l.platformWalletID)
	if err != nil {
		return err
	}
	if err := l.updateWalletBalance(tx, platform.ID, platform.Balance-escrow.Fee, platform.Version); err != nil {
		return err
	}
	if err := l.appendEntry(tx, models.LedgerEntry{
		UserID:      platform.UserID,
		WalletID:    platform.ID,
		Amount:      -escrow.Fee,
		Currency:    escrow.Currency,
		Type:        models.EntryFee,
		Status:      "completed",
		Description: fmt.Sprintf("Platform fee reversal for escrow %s", escrow.ID),
		ContractID:  escrow.ContractID,
		MilestoneID: escrow.MilestoneID,
	}); err != nil {
		return err
	}
	return l.appendEntry(tx, models.LedgerEntry{
		UserID:      funder.UserID,
		WalletID:    funder.ID,
		Amount:      escrow.Fee,
		Currency:    escrow.Currency,
		Type:        models.EntryFee,
		Status:      "completed",
		Description: fmt.Sprintf("Platform fee reversal for escrow %s", escrow.ID),
		ContractID:  escrow.ContractID,
		MilestoneID: escrow.MilestoneID,
	})
}

func (l *EscrowLedger) lockWallet(tx *sql.Tx, walletID string) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.QueryRow(`
		SELECT id, user_id, balance, currency, version, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE`, walletID).Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.Version, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (l *EscrowLedger) lockEscrow(tx *sql.Tx, escrowID string) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	var releasedTo sql.NullString
	err := tx.QueryRow(`
		SELECT id, contract_id, milestone_id, from_wallet_id, released_to_wallet_id,
		       amount, fee, currency, status, version, created_at, updated_at
		FROM escrow_transactions
		WHERE id = $1
		FOR UPDATE`, escrowID).Scan(
		&e.ID, &e.ContractID, &e.MilestoneID, &e.FromWalletID, &releasedTo,
		&e.Amount, &e.Fee, &e.Currency, &e.Status, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	e.ReleasedToWalletID = releasedTo.String
	return &e, nil
}

func (l *EscrowLedger) updateWalletBalance(tx *sql.Tx, walletID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), walletID, version)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for wallet %s", walletID)
	}
	return nil
}

func (l *EscrowLedger) transitionEscrow(tx *sql.Tx, escrow *models.EscrowTransaction, newStatus, releasedTo string) error {
	var releasedArg sql.NullString
	if releasedTo != "" {
		releasedArg = sql.NullString{String: releasedTo, Valid: true}
	}
	result, err := tx.Exec(`
		UPDATE escrow_transactions
		SET status = $1, released_to_wallet_id = COALESCE($2, released_to_wallet_id),
		    version = version + 1, updated_at = $3
		WHERE id = $4 AND status = $5 AND version = $6`,
		newStatus, releasedArg, time.Now(), escrow.ID, escrow.Status, escrow.Version)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrEscrowNotActive
	}
	return nil
}

func (l *EscrowLedger) transitionMilestone(tx *sql.Tx, milestoneID, newStatus string, from []string, conflictErr error) error {
	result, err := tx.Exec(`
		UPDATE milestones
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)`,
		newStatus, time.Now(), milestoneID, pq.Array(from))
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return conflictErr
	}
	return nil
}

func (l *EscrowLedger) appendEntry(tx *sql.Tx, entry models.LedgerEntry) error {
	_, err := tx.Exec(`
		INSERT INTO transactions
		(id, user_id, wallet_id, amount, currency, type, status, description, contract_id, milestone_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New().String(), entry.UserID, entry.WalletID, entry.Amount, entry.Currency,
		entry.Type, entry.Status, entry.Description,
		nullable(entry.ContractID), nullable(entry.MilestoneID), time.Now())
	return err
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
