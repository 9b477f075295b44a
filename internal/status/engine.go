package status

import (
	"time"

	"github.com/david/charity-dao/internal/models"
)

type RequestStatus string

const (
	RequestVoting       RequestStatus = "voting"
	RequestDonorVoting  RequestStatus = "donor_voting"
	RequestWaitingClaim RequestStatus = "waiting_claim"
	RequestRejected     RequestStatus = "rejected"
	RequestDisbursed    RequestStatus = "disbursed"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestRejected || s == RequestDisbursed
}

func ValidRequestStatus(s RequestStatus) bool {
	switch s {
	case RequestVoting, RequestDonorVoting, RequestWaitingClaim, RequestRejected, RequestDisbursed:
		return true
	}
	return false
}

type ProjectStatus string

const (
	ProjectVoting   ProjectStatus = "voting"
	ProjectApproved ProjectStatus = "approved"
	ProjectRejected ProjectStatus = "rejected"
	ProjectClosed   ProjectStatus = "closed"
)

func (s ProjectStatus) Terminal() bool {
	return s == ProjectRejected || s == ProjectClosed
}

func ValidProjectStatus(s ProjectStatus) bool {
	switch s {
	case ProjectVoting, ProjectApproved, ProjectRejected, ProjectClosed:
		return true
	}
	return false
}

// Reasons attached to a RequestDecision.
const (
	ReasonPaidOut              = "paid_out"
	ReasonClosedUnpaid         = "closed_unpaid"
	ReasonDAORejected          = "dao_rejected"
	ReasonDonorQuorumMet       = "donor_quorum_met"
	ReasonDonorQuorumMissed    = "donor_quorum_missed"
	ReasonDonorNoParticipation = "donor_no_participation"
	ReasonDonorPhasePending    = "donor_phase_pending"
	ReasonDonorPhaseOpen       = "donor_phase_open"
	ReasonDAOVoting            = "dao_voting"
)

// DonorPhase describes the donor vote window of a DAO-approved request.
type DonorPhase struct {
	Active   bool      `json:"active"`
	Deadline time.Time `json:"deadline"`
	Approve  uint64    `json:"approve"`
	Reject   uint64    `json:"reject"`
}

type RequestDecision struct {
	Status     RequestStatus `json:"status"`
	Reason     string        `json:"reason"`
	DonorPhase *DonorPhase   `json:"donor_phase,omitempty"`
}

// ResolveRequest derives the lifecycle status of a request from its raw
// contract state. Rules are evaluated in order; the first match wins.
func ResolveRequest(r models.Request, now time.Time) RequestDecision {
	d := RequestDecision{DonorPhase: donorPhase(r, now)}

	switch {
	case r.Done && r.Paid:
		d.Status, d.Reason = RequestDisbursed, ReasonPaidOut
	case r.Done:
		d.Status, d.Reason = RequestRejected, ReasonClosedUnpaid
	case r.DAODecisionMade && !r.DAOApproved:
		d.Status, d.Reason = RequestRejected, ReasonDAORejected
	case r.DAODecisionMade && r.DonorVoteDeadline > 0 && now.After(time.Unix(r.DonorVoteDeadline, 0)):
		d.Status, d.Reason = resolveDonorOutcome(r)
	case r.DAODecisionMade && r.DonorVoteDeadline > 0:
		d.Status, d.Reason = RequestDonorVoting, ReasonDonorPhaseOpen
	case r.DAODecisionMade:
		d.Status, d.Reason = RequestDonorVoting, ReasonDonorPhasePending
	default:
		d.Status, d.Reason = RequestVoting, ReasonDAOVoting
	}
	return d
}

// resolveDonorOutcome compares the donor approval ratio against the quorum.
// approve/total*100 >= quorum is evaluated as approve*100 >= quorum*total so
// ratios such as 29/100 are not lost to float rounding.
func resolveDonorOutcome(r models.Request) (RequestStatus, string) {
	total := r.DonorApproveCount + r.DonorRejectCount
	if total == 0 {
		// ratio is 0
		if r.QuorumPercent == 0 {
			return RequestWaitingClaim, ReasonDonorQuorumMet
		}
		return RequestRejected, ReasonDonorNoParticipation
	}
	if r.DonorApproveCount*100 >= r.QuorumPercent*total {
		return RequestWaitingClaim, ReasonDonorQuorumMet
	}
	return RequestRejected, ReasonDonorQuorumMissed
}

func donorPhase(r models.Request, now time.Time) *DonorPhase {
	if r.DonorVoteDeadline <= 0 || r.Done || !r.DAODecisionMade || !r.DAOApproved {
		return nil
	}
	deadline := time.Unix(r.DonorVoteDeadline, 0).UTC()
	return &DonorPhase{
		Active:   !now.After(deadline),
		Deadline: deadline,
		Approve:  r.DonorApproveCount,
		Reject:   r.DonorRejectCount,
	}
}

type ProjectDecision struct {
	Status ProjectStatus `json:"status"`
}

// ResolveProject derives the lifecycle status of a crowdfunding project.
// The funding deadline does not affect status; it only gates actions.
func ResolveProject(p models.Project) ProjectDecision {
	switch {
	case p.Closed:
		return ProjectDecision{Status: ProjectClosed}
	case p.DecisionMade && !p.Approved:
		return ProjectDecision{Status: ProjectRejected}
	case p.Approved:
		return ProjectDecision{Status: ProjectApproved}
	default:
		return ProjectDecision{Status: ProjectVoting}
	}
}

// VoteProgress is the tally shown against the DAO membership size.
type VoteProgress struct {
	Approve    uint64 `json:"approve"`
	Reject     uint64 `json:"reject"`
	Members    uint64 `json:"members"`
	ApprovePct uint64 `json:"approve_pct"`
	RejectPct  uint64 `json:"reject_pct"`
}

func Progress(approve, reject, members uint64) VoteProgress {
	p := VoteProgress{Approve: approve, Reject: reject, Members: members}
	if members > 0 {
		p.ApprovePct = min(approve*100/members, 100)
		p.RejectPct = min(reject*100/members, 100)
	}
	return p
}

func CountRequests(reqs []models.Request, now time.Time) map[RequestStatus]int {
	counts := map[RequestStatus]int{
		RequestVoting:       0,
		RequestDonorVoting:  0,
		RequestWaitingClaim: 0,
		RequestRejected:     0,
		RequestDisbursed:    0,
	}
	for _, r := range reqs {
		counts[ResolveRequest(r, now).Status]++
	}
	return counts
}

func CountProjects(projects []models.Project) map[ProjectStatus]int {
	counts := map[ProjectStatus]int{
		ProjectVoting:   0,
		ProjectApproved: 0,
		ProjectRejected: 0,
		ProjectClosed:   0,
	}
	for _, p := range projects {
		counts[ResolveProject(p).Status]++
	}
	return counts
}

const (
	MinQuorumPercent = 50
	MaxQuorumPercent = 100
)

// ClampQuorum bounds a recommended quorum to what the contract accepts.
func ClampQuorum(q int) int {
	return max(MinQuorumPercent, min(MaxQuorumPercent, q))
}
