package models

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

const (
	UserActive  = "active"
	UserBlocked = "blocked"
)

type User struct {
	ID            uuid.UUID `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Avatar        string    `json:"avatar"`
	IsKYC         bool      `json:"is_kyc"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	DonateFund    = "fund"
	DonateProject = "project"
)

type Donation struct {
	ID          uuid.UUID `json:"id"`
	DonorWallet string    `json:"donor_wallet"`
	ProjectID   *string   `json:"project_id,omitempty"`
	Amount      *big.Int  `json:"amount"`
	TxHash      string    `json:"tx_hash"`
	DonateType  string    `json:"donate_type"`
	CreatedAt   time.Time `json:"created_at"`
}

type Transaction struct {
	ID          uuid.UUID `json:"id"`
	TxHash      string    `json:"tx_hash"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Amount      *big.Int  `json:"amount"`
	EventType   string    `json:"event_type"`
	ProjectID   *string   `json:"project_id,omitempty"`
	BlockNumber *uint64   `json:"block_number,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Analysis is a fraud/risk assessment returned by the AI service.
type Analysis struct {
	ProjectID      string    `json:"project_id"`
	Recommendation string    `json:"recommendation"`
	FraudScore     float64   `json:"fraud_score"`
	RiskLevel      string    `json:"risk_level"`
	MinimumQuorum  string    `json:"minimum_quorum"`
	QuorumPercent  int       `json:"quorum_percent"`
	KeyReasons     []string  `json:"key_reasons"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	SyncRunning   = "running"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)

type SyncRun struct {
	RunID       uuid.UUID  `json:"run_id"`
	Status      string     `json:"status"`
	Requests    int        `json:"requests"`
	Projects    int        `json:"projects"`
	Activities  int        `json:"activities"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
