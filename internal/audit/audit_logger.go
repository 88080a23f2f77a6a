package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Reference string    `json:"reference"`
	WalletID  string    `json:"wallet_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger emits one JSON line per money movement or rejected movement.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogMovement(reference, fromWallet, toWallet string, amount int64, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "MOVEMENT",
		Reference: reference,
		Amount:    amount,
		Status:    status,
		Details: map[string]string{
			"from_wallet": fromWallet,
			"to_wallet":   toWallet,
		},
	})
}

func (a *Logger) LogError(reference, walletID string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		Reference: reference,
		WalletID:  walletID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogOperation(reference, walletID, operation, details string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		Reference: reference,
		WalletID:  walletID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
