package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/web3lancer/backend/internal/models"
)

func testContract() *models.Contract {
	return &models.Contract{
		ID:           "contract1",
		ClientID:     "client1",
		FreelancerID: "freelancer1",
		Title:        "Landing page build",
		Budget:       50000,
		Currency:     "USD",
		Status:       models.ContractActive,
	}
}

func walletRows(id, userID string, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "balance", "currency", "version", "updated_at"}).
		AddRow(id, userID, balance, "USD", 1, time.Now())
}

func escrowRows(id, status string, amount int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "contract_id", "milestone_id", "from_wallet_id", "released_to_wallet_id",
		"amount", "fee", "currency", "status", "version", "created_at", "updated_at",
	}).AddRow(id, "contract1", "milestone1", "wallet-client", nil, amount, 0, "USD", status, 1, time.Now(), time.Now())
}

func TestEscrowLedger_Fund(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewEscrowLedger(db)
	contract := testContract()
	milestone := &models.Milestone{ID: "milestone1", ContractID: "contract1", Amount: 10000, Status: models.MilestonePending}

	t.Run("successful funding", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(milestone.ID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-client").
			WillReturnRows(walletRows("wallet-client", "client1", 20000))

		mock.ExpectExec("INSERT INTO escrow_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(10000), sqlmock.AnyArg(), "wallet-client", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE milestones").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		escrow, err := ledger.Fund(contract, milestone, "wallet-client", 10000)
		assert.NoError(t, err)
		assert.Equal(t, models.EscrowFunded, escrow.Status)
		assert.Equal(t, int64(10000), escrow.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(milestone.ID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-client").
			WillReturnRows(walletRows("wallet-client", "client1", 5000))

		mock.ExpectRollback()

		_, err := ledger.Fund(contract, milestone, "wallet-client", 10000)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate escrow for milestone", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(milestone.ID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectRollback()

		_, err := ledger.Fund(contract, milestone, "wallet-client", 10000)
		assert.ErrorIs(t, err, ErrDuplicateEscrow)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wallet owned by someone else", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(milestone.ID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-other").
			WillReturnRows(walletRows("wallet-other", "someone-else", 20000))

		mock.ExpectRollback()

		_, err := ledger.Fund(contract, milestone, "wallet-other", 10000)
		assert.ErrorIs(t, err, ErrWalletOwnership)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowLedger_Release(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewEscrowLedger(db)
	contract := testContract()

	t.Run("successful release", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM escrow_transactions").
			WithArgs("escrow1").
			WillReturnRows(escrowRows("escrow1", models.EscrowFunded, 10000))

		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-freelancer").
			WillReturnRows(walletRows("wallet-freelancer", "freelancer1", 0))

		mock.ExpectExec("UPDATE escrow_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(10000), sqlmock.AnyArg(), "wallet-freelancer", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE milestones").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		escrow, err := ledger.Release(contract, "escrow1", "wallet-freelancer")
		assert.NoError(t, err)
		assert.Equal(t, models.EscrowReleased, escrow.Status)
		assert.Equal(t, "wallet-freelancer", escrow.ReleasedToWalletID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already released escrow cannot release again", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM escrow_transactions").
			WithArgs("escrow1").
			WillReturnRows(escrowRows("escrow1", models.EscrowReleased, 10000))

		mock.ExpectRollback()

		_, err := ledger.Release(contract, "escrow1", "wallet-freelancer")
		assert.ErrorIs(t, err, ErrEscrowNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent release loses the status guard", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM escrow_transactions").
			WithArgs("escrow1").
			WillReturnRows(escrowRows("escrow1", models.EscrowFunded, 10000))

		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-freelancer").
			WillReturnRows(walletRows("wallet-freelancer", "freelancer1", 0))

		// Another request transitioned the escrow between read and write.
		mock.ExpectExec("UPDATE escrow_transactions").
			WillReturnResult(sqlmock.NewResult(1, 0))

		mock.ExpectRollback()

		_, err := ledger.Release(contract, "escrow1", "wallet-freelancer")
		assert.ErrorIs(t, err, ErrEscrowNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("destination wallet must belong to freelancer", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM escrow_transactions").
			WithArgs("escrow1").
			WillReturnRows(escrowRows("escrow1", models.EscrowFunded, 10000))

		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-client").
			WillReturnRows(walletRows("wallet-client", "client1", 0))

		mock.ExpectRollback()

		_, err := ledger.Release(contract, "escrow1", "wallet-client")
		assert.ErrorIs(t, err, ErrWalletOwnership)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowLedger_Refund(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewEscrowLedger(db)
	contract := testContract()

	t.Run("refund funded escrow", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM escrow_transactions").
			WithArgs("escrow1").
			WillReturnRows(escrowRows("escrow1", models.EscrowFunded, 10000))

		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-client").
			WillReturnRows(walletRows("wallet-client", "client1", 10000))

		mock.ExpectExec("UPDATE escrow_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(20000), sqlmock.AnyArg(), "wallet-client", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE milestones").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		escrow, err := ledger.Refund(contract, "escrow1")
		assert.NoError(t, err)
		assert.Equal(t, models.EscrowRefunded, escrow.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("released escrow cannot be refunded", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM escrow_transactions").
			WithArgs("escrow1").
			WillReturnRows(escrowRows("escrow1", models.EscrowReleased, 10000))

		mock.ExpectRollback()

		_, err := ledger.Refund(contract, "escrow1")
		assert.ErrorIs(t, err, ErrEscrowNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowLedger_Dispute(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewEscrowLedger(db)

	t.Run("dispute freezes funded escrow without moving funds", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM escrow_transactions").
			WithArgs("escrow1").
			WillReturnRows(escrowRows("escrow1", models.EscrowFunded, 10000))

		mock.ExpectExec("UPDATE escrow_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE milestones").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		escrow, err := ledger.Dispute("escrow1")
		assert.NoError(t, err)
		assert.Equal(t, models.EscrowDisputed, escrow.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("escrow not found", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM escrow_transactions").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "contract_id", "milestone_id", "from_wallet_id", "released_to_wallet_id",
				"amount", "fee", "currency", "status", "version", "created_at", "updated_at",
			}))

		mock.ExpectRollback()

		_, err := ledger.Dispute("missing")
		assert.ErrorIs(t, err, ErrEscrowNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowLedger_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewEscrowLedger(db)

	t.Run("successful transfer", func(t *testing.T) {
		mock.ExpectBegin()

		// Wallets are locked in id order regardless of direction.
		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-a").
			WillReturnRows(walletRows("wallet-a", "user-a", 2000))

		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-b").
			WillReturnRows(walletRows("wallet-b", "user-b", 5000))

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(4000), sqlmock.AnyArg(), "wallet-b", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(3000), sqlmock.AnyArg(), "wallet-a", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		err := ledger.Transfer("wallet-b", "wallet-a", 1000, models.EntryTransfer, "direct payment")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-a").
			WillReturnRows(walletRows("wallet-a", "user-a", 500))

		mock.ExpectQuery("FROM wallets").
			WithArgs("wallet-b").
			WillReturnRows(walletRows("wallet-b", "user-b", 0))

		mock.ExpectRollback()

		err := ledger.Transfer("wallet-a", "wallet-b", 1000, models.EntryTransfer, "direct payment")
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same wallet rejected", func(t *testing.T) {
		err := ledger.Transfer("wallet-a", "wallet-a", 1000, models.EntryTransfer, "noop")
		assert.Error(t, err)
	})
}

func TestEscrowLedger_updateWalletBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewEscrowLedger(db)

	t.Run("optimistic lock failure", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(4000), sqlmock.AnyArg(), "wallet1", 1).
			WillReturnResult(sqlmock.NewResult(1, 0))

		err := ledger.updateWalletBalance(tx, "wallet1", 4000, 1)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "optimistic lock failed")
	})
}
