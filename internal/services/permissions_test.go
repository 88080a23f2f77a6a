package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/web3lancer/backend/internal/models"
)

func TestDecide(t *testing.T) {
	contract := &models.Contract{
		ID:           "contract1",
		ClientID:     "client1",
		FreelancerID: "freelancer1",
	}

	t.Run("both parties may view", func(t *testing.T) {
		assert.True(t, Decide(ActionView, contract, "client1").Allowed)
		assert.True(t, Decide(ActionView, contract, "freelancer1").Allowed)
	})

	t.Run("third parties may not view", func(t *testing.T) {
		decision := Decide(ActionView, contract, "stranger")
		assert.False(t, decision.Allowed)
		assert.NotEmpty(t, decision.Reason)
	})

	t.Run("only the client moves money", func(t *testing.T) {
		for _, action := range []EscrowAction{ActionFund, ActionRelease, ActionRefund} {
			assert.True(t, Decide(action, contract, "client1").Allowed)
			assert.False(t, Decide(action, contract, "freelancer1").Allowed)
			assert.False(t, Decide(action, contract, "stranger").Allowed)
		}
	})

	t.Run("either party may dispute", func(t *testing.T) {
		assert.True(t, Decide(ActionDispute, contract, "client1").Allowed)
		assert.True(t, Decide(ActionDispute, contract, "freelancer1").Allowed)
		assert.False(t, Decide(ActionDispute, contract, "stranger").Allowed)
	})
}
