package services

import "github.com/web3lancer/backend/internal/models"

type EscrowAction string

const (
	ActionView    EscrowAction = "view"
	ActionFund    EscrowAction = "fund"
	ActionRelease EscrowAction = "release"
	ActionRefund  EscrowAction = "refund"
	ActionDispute EscrowAction = "dispute"
)

// Decision is an explicit allow/deny outcome for one caller attempting one
// escrow action on one contract.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Decide centralizes the client/freelancer capability checks that guard
// every escrow operation. Funding and money movement belong to the
// contract's client; disputes may be raised by either party; both parties
// may view.
func Decide(action EscrowAction, contract *models.Contract, callerID string) Decision {
	if contract == nil || callerID == "" {
		return deny("missing contract or caller")
	}

	isClient := callerID == contract.ClientID
	isFreelancer := callerID == contract.FreelancerID

	switch action {
	case ActionView:
		if isClient || isFreelancer {
			return allow()
		}
		return deny("caller is not a party to the contract")
	case ActionFund, ActionRelease, ActionRefund:
		if isClient {
			return allow()
		}
		return deny("only the contract client may move escrow funds")
	case ActionDispute:
		if isClient || isFreelancer {
			return allow()
		}
		return deny("only a contract party may raise a dispute")
	default:
		return deny("unknown action")
	}
}
