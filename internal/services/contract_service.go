package services

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/web3lancer/backend/internal/models"
)

type ContractService struct {
	db        *sql.DB
	validator *ValidationHelper
}

type CreateContractRequest struct {
	FreelancerID string                   `json:"freelancerId" validate:"required"`
	Title        string                   `json:"title" validate:"required,min=3,max=200"`
	Budget       int64                    `json:"budget" validate:"required,gt=0"`
	Currency     string                   `json:"currency" validate:"required,len=3"`
	Milestones   []CreateMilestoneRequest `json:"milestones" validate:"required,min=1,dive"`
}

type CreateMilestoneRequest struct {
	Title  string `json:"title" validate:"required,min=3,max=200"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

// Contract status transitions, keyed by current status.
var contractTransitions = map[string][]string{
	models.ContractDraft:    {models.ContractActive, models.ContractCancelled},
	models.ContractActive:   {models.ContractCompleted, models.ContractCancelled, models.ContractDisputed},
	models.ContractDisputed: {models.ContractActive, models.ContractCancelled},
}

func NewContractService(db *sql.DB) *ContractService {
	return &ContractService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// CreateContract creates a contract with its ordered milestones
// @Summary Create contract
// @Description Create a draft contract and its milestones in one transaction
// @Tags contracts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateContractRequest true "Contract data"
// @Success 201 {object} models.Contract
// @Failure 400 {object} ErrorResponse
// @Router /contracts [post]
func (cs *ContractService) CreateContract(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateContractRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.FreelancerID == userID {
		SendErrorResponse(w, "Client and freelancer must be different users", http.StatusBadRequest, nil)
		return
	}

	now := time.Now()
	contract := models.Contract{
		ID:           uuid.New().String(),
		ClientID:     userID,
		FreelancerID: req.FreelancerID,
		Title:        req.Title,
		Budget:       req.Budget,
		Currency:     req.Currency,
		Status:       models.ContractDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := cs.db.Begin()
	if err != nil {
		log.Printf("[CONTRACT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to create contract", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO contracts
		(id, client_id, freelancer_id, title, budget, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		contract.ID, contract.ClientID, contract.FreelancerID, contract.Title,
		contract.Budget, contract.Currency, contract.Status, contract.CreatedAt, contract.UpdatedAt)
	if err != nil {
		log.Printf("[CONTRACT] Failed to insert contract: %v", err)
		SendErrorResponse(w, "Failed to create contract", http.StatusInternalServerError, nil)
		return
	}

	for i, m := range req.Milestones {
		milestone := models.Milestone{
			ID:         uuid.New().String(),
			ContractID: contract.ID,
			Index:      i,
			Title:      m.Title,
			Amount:     m.Amount,
			Status:     models.MilestonePending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		_, err = tx.Exec(`
			INSERT INTO milestones
			(id, contract_id, idx, title, amount, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			milestone.ID, milestone.ContractID, milestone.Index, milestone.Title,
			milestone.Amount, milestone.Status, milestone.CreatedAt, milestone.UpdatedAt)
		if err != nil {
			log.Printf("[CONTRACT] Failed to insert milestone %d: %v", i, err)
			SendErrorResponse(w, "Failed to create contract", http.StatusInternalServerError, nil)
			return
		}
		contract.Milestones = append(contract.Milestones, milestone)
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[CONTRACT] Failed to commit contract: %v", err)
		SendErrorResponse(w, "Failed to create contract", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CONTRACT] Created contract %s with %d milestones", contract.ID, len(contract.Milestones))
	writeJSON(w, http.StatusCreated, contract)
}

// GetContract retrieves a contract with its milestones
// @Summary Get contract
// @Tags contracts
// @Produce json
// @Security BearerAuth
// @Param contractId path string true "Contract ID"
// @Success 200 {object} models.Contract
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /contracts/{contractId} [get]
func (cs *ContractService) GetContract(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	contractID := chi.URLParam(r, "contractId")
	contract, err := cs.fetchContractWithMilestones(contractID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Contract not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[CONTRACT] Failed to fetch contract %s: %v", contractID, err)
			SendErrorResponse(w, "Failed to fetch contract", http.StatusInternalServerError, nil)
		}
		return
	}

	if decision := Decide(ActionView, contract, userID); !decision.Allowed {
		SendErrorResponse(w, decision.Reason, http.StatusForbidden, nil)
		return
	}

	writeJSON(w, http.StatusOK, contract)
}

// ListContracts returns contracts where the caller is a party
// @Summary List contracts
// @Tags contracts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{contracts=[]models.Contract,count=int}
// @Router /contracts [get]
func (cs *ContractService) ListContracts(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := cs.db.Query(`
		SELECT id, client_id, freelancer_id, title, budget, currency, status, created_at, updated_at
		FROM contracts
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		log.Printf("[CONTRACT] Failed to list contracts for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch contracts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	contracts := []models.Contract{}
	for rows.Next() {
		var c models.Contract
		if err := rows.Scan(&c.ID, &c.ClientID, &c.FreelancerID, &c.Title, &c.Budget,
			&c.Currency, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch contracts", http.StatusInternalServerError, nil)
			return
		}
		contracts = append(contracts, c)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contracts": contracts,
		"count":     len(contracts),
	})
}

// UpdateContractStatus moves a contract between lifecycle statuses
// @Summary Update contract status
// @Tags contracts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param contractId path string true "Contract ID"
// @Param request body object{status=string} true "New status"
// @Success 200 {object} models.Contract
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /contracts/{contractId}/status [put]
func (cs *ContractService) UpdateContractStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Status string `json:"status" validate:"required,oneof=active completed cancelled disputed"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	contractID := chi.URLParam(r, "contractId")
	contract, err := cs.fetchContract(contractID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Contract not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch contract", http.StatusInternalServerError, nil)
		}
		return
	}

	// Disputes may be raised by either party; every other transition is
	// the client's call.
	if req.Status == models.ContractDisputed {
		if decision := Decide(ActionDispute, contract, userID); !decision.Allowed {
			SendErrorResponse(w, decision.Reason, http.StatusForbidden, nil)
			return
		}
	} else if contract.ClientID != userID {
		SendErrorResponse(w, "Only the contract client may change this status", http.StatusForbidden, nil)
		return
	}

	if !transitionAllowed(contract.Status, req.Status) {
		SendErrorResponse(w, "Invalid status transition", http.StatusBadRequest, nil)
		return
	}

	result, err := cs.db.Exec(`
		UPDATE contracts
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		req.Status, time.Now(), contract.ID, contract.Status)
	if err != nil {
		log.Printf("[CONTRACT] Failed to update contract %s: %v", contract.ID, err)
		SendErrorResponse(w, "Failed to update contract", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendErrorResponse(w, "Contract status changed concurrently", http.StatusConflict, nil)
		return
	}

	contract.Status = req.Status
	log.Printf("[CONTRACT] Contract %s moved to %s by %s", contract.ID, req.Status, userID)
	writeJSON(w, http.StatusOK, contract)
}

// SubmitMilestone lets the freelancer mark delivered work
// @Summary Submit milestone
// @Description Freelancer marks an in-progress milestone as completed
// @Tags milestones
// @Produce json
// @Security BearerAuth
// @Param milestoneId path string true "Milestone ID"
// @Success 200 {object} models.Milestone
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /milestones/{milestoneId}/submit [put]
func (cs *ContractService) SubmitMilestone(w http.ResponseWriter, r *http.Request) {
	cs.moveMilestone(w, r, models.MilestoneInProgress, models.MilestoneCompleted, roleFreelancer)
}

// ApproveMilestone lets the client approve delivered work
// @Summary Approve milestone
// @Description Client approves a completed milestone, making it releasable
// @Tags milestones
// @Produce json
// @Security BearerAuth
// @Param milestoneId path string true "Milestone ID"
// @Success 200 {object} models.Milestone
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /milestones/{milestoneId}/approve [put]
func (cs *ContractService) ApproveMilestone(w http.ResponseWriter, r *http.Request) {
	cs.moveMilestone(w, r, models.MilestoneCompleted, models.MilestoneApproved, roleClient)
}

type contractRole int

const (
	roleClient contractRole = iota
	roleFreelancer
)

func (cs *ContractService) moveMilestone(w http.ResponseWriter, r *http.Request, from, to string, role contractRole) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	milestoneID := chi.URLParam(r, "milestoneId")
	milestone, err := cs.fetchMilestone(milestoneID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Milestone not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch milestone", http.StatusInternalServerError, nil)
		}
		return
	}

	contract, err := cs.fetchContract(milestone.ContractID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch contract", http.StatusInternalServerError, nil)
		return
	}

	party := contract.ClientID
	if role == roleFreelancer {
		party = contract.FreelancerID
	}
	if userID != party {
		SendErrorResponse(w, "Caller may not perform this milestone action", http.StatusForbidden, nil)
		return
	}

	if milestone.Status != from {
		SendErrorResponse(w, "Milestone is not in the required status", http.StatusBadRequest, nil)
		return
	}

	result, err := cs.db.Exec(`
		UPDATE milestones
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		to, time.Now(), milestone.ID, from)
	if err != nil {
		log.Printf("[CONTRACT] Failed to update milestone %s: %v", milestone.ID, err)
		SendErrorResponse(w, "Failed to update milestone", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendErrorResponse(w, "Milestone status changed concurrently", http.StatusConflict, nil)
		return
	}

	milestone.Status = to
	log.Printf("[CONTRACT] Milestone %s moved to %s by %s", milestone.ID, to, userID)
	writeJSON(w, http.StatusOK, milestone)
}

func transitionAllowed(from, to string) bool {
	for _, allowed := range contractTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (cs *ContractService) fetchContract(contractID string) (*models.Contract, error) {
	var c models.Contract
	err := cs.db.QueryRow(`
		SELECT id, client_id, freelancer_id, title, budget, currency, status, created_at, updated_at
		FROM contracts
		WHERE id = $1`, contractID).Scan(
		&c.ID, &c.ClientID, &c.FreelancerID, &c.Title, &c.Budget, &c.Currency, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (cs *ContractService) fetchMilestone(milestoneID string) (*models.Milestone, error) {
	var m models.Milestone
	err := cs.db.QueryRow(`
		SELECT id, contract_id, idx, title, amount, status, created_at, updated_at
		FROM milestones
		WHERE id = $1`, milestoneID).Scan(
		&m.ID, &m.ContractID, &m.Index, &m.Title, &m.Amount, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (cs *ContractService) fetchContractWithMilestones(contractID string) (*models.Contract, error) {
	contract, err := cs.fetchContract(contractID)
	if err != nil {
		return nil, err
	}

	rows, err := cs.db.Query(`
		SELECT id, contract_id, idx, title, amount, status, created_at, updated_at
		FROM milestones
		WHERE contract_id = $1
		ORDER BY idx ASC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m models.Milestone
		if err := rows.Scan(&m.ID, &m.ContractID, &m.Index, &m.Title, &m.Amount,
			&m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		contract.Milestones = append(contract.Milestones, m)
	}
	return contract, rows.Err()
}
