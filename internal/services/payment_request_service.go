package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
	"github.com/web3lancer/backend/internal/models"
)

const paymentRequestTTL = 15 * time.Minute

// PaymentRequest is a one-shot request for payment into a wallet, shared
// out of band as a QR code. It lives only in Redis and expires unused.
type PaymentRequest struct {
	Code      string `json:"code"`
	UserID    string `json:"userId"`
	WalletID  string `json:"walletId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Memo      string `json:"memo,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

type PaymentRequestService struct {
	db     *sql.DB
	redis  *redis.Client
	ledger *EscrowLedger
}

func NewPaymentRequestService(db *sql.DB, redisClient *redis.Client) *PaymentRequestService {
	return &PaymentRequestService{
		db:     db,
		redis:  redisClient,
		ledger: NewEscrowLedger(db),
	}
}

// Create stores a payment request and renders its QR image. Returns the
// request code and a base64 PNG.
func (s *PaymentRequestService) Create(ctx context.Context, userID, walletID string, amount int64, memo string) (*PaymentRequest, string, error) {
	if s.redis == nil {
		return nil, "", fmt.Errorf("payment requests are not available")
	}

	var ownerID, currency string
	err := s.db.QueryRowContext(ctx, `SELECT user_id, currency FROM wallets WHERE id = $1`, walletID).
		Scan(&ownerID, &currency)
	if err == sql.ErrNoRows {
		return nil, "", ErrWalletNotFound
	}
	if err != nil {
		return nil, "", err
	}
	if ownerID != userID {
		return nil, "", ErrWalletOwnership
	}

	pr := &PaymentRequest{
		Code:      generateRequestCode(),
		UserID:    userID,
		WalletID:  walletID,
		Amount:    amount,
		Currency:  currency,
		Memo:      memo,
		CreatedAt: time.Now().Unix(),
	}

	payload, err := json.Marshal(pr)
	if err != nil {
		return nil, "", err
	}
	if err := s.redis.Set(ctx, requestKey(pr.Code), payload, paymentRequestTTL).Err(); err != nil {
		return nil, "", err
	}

	qr, err := qrcode.New(pr.Code, qrcode.Medium)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, "", err
	}

	return pr, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Resolve looks up a payment request without consuming it.
func (s *PaymentRequestService) Resolve(ctx context.Context, code string) (*PaymentRequest, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("payment requests are not available")
	}

	data, err := s.redis.Get(ctx, requestKey(code)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired payment request")
	}
	if err != nil {
		return nil, err
	}

	var pr PaymentRequest
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// Pay consumes a payment request and transfers the amount from the payer
// wallet to the requester wallet. The request is deleted before the
// transfer so a code can only be paid once; a failed transfer restores it.
func (s *PaymentRequestService) Pay(ctx context.Context, code, payerID, payerWalletID string) (*PaymentRequest, error) {
	pr, err := s.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	if pr.UserID == payerID {
		return nil, fmt.Errorf("cannot pay your own payment request")
	}

	var ownerID, currency string
	err = s.db.QueryRowContext(ctx, `SELECT user_id, currency FROM wallets WHERE id = $1`, payerWalletID).
		Scan(&ownerID, &currency)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	if ownerID != payerID {
		return nil, ErrWalletOwnership
	}
	if currency != pr.Currency {
		return nil, fmt.Errorf("payer wallet currency %s does not match request currency %s", currency, pr.Currency)
	}

	deleted, err := s.redis.Del(ctx, requestKey(code)).Result()
	if err != nil {
		return nil, err
	}
	if deleted == 0 {
		return nil, fmt.Errorf("invalid or expired payment request")
	}

	description := fmt.Sprintf("Payment request %s", pr.Code)
	if pr.Memo != "" {
		description = fmt.Sprintf("Payment request %s: %s", pr.Code, pr.Memo)
	}
	if err := s.ledger.Transfer(payerWalletID, pr.WalletID, pr.Amount, models.EntryTransfer, description); err != nil {
		// Put the request back so the payer can retry.
		if payload, merr := json.Marshal(pr); merr == nil {
			s.redis.Set(ctx, requestKey(pr.Code), payload, paymentRequestTTL)
		}
		return nil, err
	}

	return pr, nil
}

func requestKey(code string) string {
	return fmt.Sprintf("pr:%s", code)
}

func generateRequestCode() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
