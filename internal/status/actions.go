package status

import (
	"strings"
	"time"

	"github.com/david/charity-dao/internal/models"
)

type Action string

const (
	ActionVote      Action = "vote"
	ActionDonorVote Action = "donor_vote"
	ActionFinalize  Action = "finalize"
	ActionClaim     Action = "claim"
	ActionDonate    Action = "donate"
	ActionClose     Action = "close"
)

// Viewer is the connected wallet an action set is computed for.
// HasVoted refers to the DAO vote on the entity being viewed.
type Viewer struct {
	Address     string `json:"address"`
	IsDAOMember bool   `json:"is_dao_member"`
	IsDonor     bool   `json:"is_donor"`
	HasVoted    bool   `json:"has_voted"`
}

func (v Viewer) Is(addr string) bool {
	return v.Address != "" && strings.EqualFold(v.Address, addr)
}

// RequestActions lists what the viewer may do on a request right now.
// Eligibility is checked against live time independently of the status,
// so a request can sit in donor_voting with an already closed window.
func RequestActions(r models.Request, d RequestDecision, v Viewer, now time.Time) []Action {
	actions := []Action{}
	switch d.Status {
	case RequestVoting:
		if v.IsDAOMember && !v.HasVoted {
			actions = append(actions, ActionVote)
		}
	case RequestDonorVoting:
		if v.IsDonor && r.DonorVoteDeadline > 0 && !now.After(time.Unix(r.DonorVoteDeadline, 0)) {
			actions = append(actions, ActionDonorVote)
		}
	case RequestWaitingClaim:
		if v.Is(r.Beneficiary) {
			actions = append(actions, ActionFinalize, ActionClaim)
		}
	}
	return actions
}

func ProjectActions(p models.Project, s ProjectStatus, v Viewer, now time.Time) []Action {
	actions := []Action{}
	deadline := time.Unix(p.Deadline, 0)
	switch s {
	case ProjectVoting:
		if v.IsDAOMember && !v.HasVoted {
			actions = append(actions, ActionVote)
		}
	case ProjectApproved:
		if v.Address != "" && !p.Closed && now.Before(deadline) {
			actions = append(actions, ActionDonate)
		}
		if v.Is(p.Owner) && !p.Closed && now.After(deadline) {
			actions = append(actions, ActionClose)
		}
	}
	return actions
}

// CanDonateToProject reports whether a project accepts donations at now.
func CanDonateToProject(p models.Project, now time.Time) bool {
	return p.Approved && !p.Closed && now.Before(time.Unix(p.Deadline, 0))
}
