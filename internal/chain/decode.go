package chain

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/david/charity-dao/internal/models"
)

//go:embed abi/DonationDAO.json
var donationDAOABIJSON string

//go:embed abi/USDT.json
var usdtABIJSON string

var (
	daoABI  = mustParseABI("DonationDAO", donationDAOABIJSON)
	usdtABI = mustParseABI("USDT", usdtABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded %s ABI: %v", name, err))
	}
	return parsed
}

// requestView mirrors DonationDAO.RequestView. Field names follow the ABI
// component names so abi.ConvertType can fill it.
type requestView struct {
	Id                string
	Beneficiary       common.Address
	Amount            *big.Int
	Description       string
	ProofHash         string
	ApproveCount      *big.Int
	RejectCount       *big.Int
	QuorumPercent     *big.Int
	DaoDecisionMade   bool
	DaoApproved       bool
	DonorVoteDeadline *big.Int
	DonorApproveCount *big.Int
	DonorRejectCount  *big.Int
	Paid              bool
	Done              bool
}

type projectView struct {
	Id            string
	Owner         common.Address
	Title         string
	Description   string
	ProofHash     string
	TargetAmount  *big.Int
	Deadline      *big.Int
	TotalFunded   *big.Int
	Approved      bool
	DecisionMade  bool
	Closed        bool
	ApproveCount  *big.Int
	RejectCount   *big.Int
	QuorumPercent *big.Int
}

type activityItem struct {
	Id                string
	ActivityType      uint8
	Creator           common.Address
	Title             string
	Description       string
	AmountOrTarget    *big.Int
	CreationTimestamp *big.Int
}

// fieldReader converts tuple integers while remembering the first failure,
// so a view is rejected as a whole when any field is out of range.
type fieldReader struct {
	entity string
	err    error
}

func (f *fieldReader) uint(name string, v *big.Int) uint64 {
	if f.err != nil {
		return 0
	}
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		f.err = fmt.Errorf("%s: field %s out of range: %v", f.entity, name, v)
		return 0
	}
	return v.Uint64()
}

func (f *fieldReader) unix(name string, v *big.Int) int64 {
	u := f.uint(name, v)
	if f.err == nil && u > 1<<62 {
		f.err = fmt.Errorf("%s: field %s is not a unix timestamp: %v", f.entity, name, v)
		return 0
	}
	return int64(u)
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func requestFromView(v requestView) (models.Request, error) {
	f := fieldReader{entity: "request " + v.Id}
	r := models.Request{
		ID:                v.Id,
		Beneficiary:       v.Beneficiary.Hex(),
		Amount:            amountOrZero(v.Amount),
		Description:       v.Description,
		ProofHash:         v.ProofHash,
		ApproveCount:      f.uint("approveCount", v.ApproveCount),
		RejectCount:       f.uint("rejectCount", v.RejectCount),
		QuorumPercent:     f.uint("quorumPercent", v.QuorumPercent),
		DAODecisionMade:   v.DaoDecisionMade,
		DAOApproved:       v.DaoApproved,
		DonorVoteDeadline: f.unix("donorVoteDeadline", v.DonorVoteDeadline),
		DonorApproveCount: f.uint("donorApproveCount", v.DonorApproveCount),
		DonorRejectCount:  f.uint("donorRejectCount", v.DonorRejectCount),
		Paid:              v.Paid,
		Done:              v.Done,
	}
	if f.err != nil {
		return models.Request{}, f.err
	}
	if v.Id == "" {
		return models.Request{}, fmt.Errorf("request %w: empty id", ErrNotFound)
	}
	return r, nil
}

func projectFromView(v projectView) (models.Project, error) {
	f := fieldReader{entity: "project " + v.Id}
	p := models.Project{
		ID:            v.Id,
		Owner:         v.Owner.Hex(),
		Title:         v.Title,
		Description:   v.Description,
		ProofHash:     v.ProofHash,
		TargetAmount:  amountOrZero(v.TargetAmount),
		TotalFunded:   amountOrZero(v.TotalFunded),
		Deadline:      f.unix("deadline", v.Deadline),
		Approved:      v.Approved,
		DecisionMade:  v.DecisionMade,
		Closed:        v.Closed,
		ApproveCount:  f.uint("approveCount", v.ApproveCount),
		RejectCount:   f.uint("rejectCount", v.RejectCount),
		QuorumPercent: f.uint("quorumPercent", v.QuorumPercent),
	}
	if f.err != nil {
		return models.Project{}, f.err
	}
	if v.Id == "" {
		return models.Project{}, fmt.Errorf("project %w: empty id", ErrNotFound)
	}
	return p, nil
}

func activityFromItem(v activityItem) (models.Activity, error) {
	f := fieldReader{entity: "activity " + v.Id}
	a := models.Activity{
		ID:             v.Id,
		Creator:        v.Creator.Hex(),
		Title:          v.Title,
		Description:    v.Description,
		AmountOrTarget: amountOrZero(v.AmountOrTarget),
		CreatedAt:      time.Unix(f.unix("creationTimestamp", v.CreationTimestamp), 0).UTC(),
	}
	if f.err != nil {
		return models.Activity{}, f.err
	}
	switch v.ActivityType {
	case 0:
		a.Kind = models.ActivityRequest
	case 1:
		a.Kind = models.ActivityProject
	default:
		return models.Activity{}, fmt.Errorf("activity %s: unknown type %d", v.Id, v.ActivityType)
	}
	return a, nil
}

func activitiesFromItems(items []activityItem) ([]models.Activity, error) {
	out := make([]models.Activity, 0, len(items))
	for _, item := range items {
		a, err := activityFromItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
