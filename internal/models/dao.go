package models

import (
	"math/big"
	"time"
)

// Request is a beneficiary's ask for money out of the common fund.
// Amounts carry 6 implied decimals (USDT base units).
type Request struct {
	ID                string     `json:"id"`
	Beneficiary       string     `json:"beneficiary"`
	Amount            *big.Int   `json:"amount"`
	Description       string     `json:"description"`
	ProofHash         string     `json:"proof_hash"`
	ApproveCount      uint64     `json:"approve_count"`
	RejectCount       uint64     `json:"reject_count"`
	QuorumPercent     uint64     `json:"quorum_percent"`
	DAODecisionMade   bool       `json:"dao_decision_made"`
	DAOApproved       bool       `json:"dao_approved"`
	DonorVoteDeadline int64      `json:"donor_vote_deadline"` // unix seconds, 0 = donor phase not started
	DonorApproveCount uint64     `json:"donor_approve_count"`
	DonorRejectCount  uint64     `json:"donor_reject_count"`
	Paid              bool       `json:"paid"`
	Done              bool       `json:"done"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
}

// Project is a crowdfunding campaign with a target and a funding deadline.
type Project struct {
	ID            string     `json:"id"`
	Owner         string     `json:"owner"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	ProofHash     string     `json:"proof_hash"`
	TargetAmount  *big.Int   `json:"target_amount"`
	TotalFunded   *big.Int   `json:"total_funded"`
	Deadline      int64      `json:"deadline"`
	Approved      bool       `json:"approved"`
	DecisionMade  bool       `json:"decision_made"`
	Closed        bool       `json:"closed"`
	ApproveCount  uint64     `json:"approve_count"`
	RejectCount   uint64     `json:"reject_count"`
	QuorumPercent uint64     `json:"quorum_percent"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

const (
	ActivityRequest = "request"
	ActivityProject = "project"
)

// Activity is an entry of the contract's combined request/project feed.
type Activity struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"` // request, project
	Creator        string    `json:"creator"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	AmountOrTarget *big.Int  `json:"amount_or_target"`
	CreatedAt      time.Time `json:"created_at"`
}

type DashboardStats struct {
	Fund           *big.Int `json:"fund"`
	Disbursed      *big.Int `json:"disbursed"`
	ProjectsVoting uint64   `json:"projects_voting"`
	AllProjects    uint64   `json:"all_projects"`
}

// DonorFlags are the three independent reads that make a wallet a donor.
type DonorFlags struct {
	IsDonor      bool     `json:"is_donor"`
	HasSBT       bool     `json:"has_sbt"`
	TotalDonated *big.Int `json:"total_donated"`
}

func (f DonorFlags) IsAnyDonor() bool {
	return f.IsDonor || f.HasSBT || (f.TotalDonated != nil && f.TotalDonated.Sign() > 0)
}

const (
	RoleDAOMember = "dao_member"
	RoleDonor     = "donor"
	RoleNone      = "none"
)

// PendingVote is an activity the given voter has not voted on yet.
type PendingVote struct {
	Activity
	Role           string `json:"role"`
	CanVoteAsDAO   bool   `json:"can_vote_as_dao"`
	CanVoteAsDonor bool   `json:"can_vote_as_donor"`
}
