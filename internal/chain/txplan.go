package chain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/david/charity-dao/internal/status"
)

const (
	MinProjectDays = 7
	MaxProjectDays = 365
)

const (
	StepApprove = "approve"
	StepCall    = "call"
)

// Call is one unsigned transaction the wallet must sign, in order.
type Call struct {
	Step   string `json:"step"`
	Method string `json:"method"`
	To     string `json:"to"`
	Data   string `json:"data"`
}

type Plan struct {
	Action  string `json:"action"`
	ChainID int64  `json:"chain_id"`
	Calls   []Call `json:"calls"`
}

// TxBuilder encodes calldata for the contract's write functions. USDT
// spending actions are preceded by an ERC-20 approve of the same amount.
type TxBuilder struct {
	network Network
}

func NewTxBuilder(network Network) *TxBuilder {
	return &TxBuilder{network: network}
}

func ClampProjectDays(days int) int {
	return max(MinProjectDays, min(MaxProjectDays, days))
}

// ProjectDeadline is the unix deadline of a project created at now.
func ProjectDeadline(now time.Time, days int) int64 {
	return now.Unix() + int64(ClampProjectDays(days))*86400
}

func (b *TxBuilder) encode(parsed abi.ABI, to common.Address, step, method string, args ...interface{}) (Call, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("error encoding %s: %w", method, err)
	}
	return Call{Step: step, Method: method, To: to.Hex(), Data: hexutil.Encode(data)}, nil
}

func (b *TxBuilder) single(action, method string, args ...interface{}) (Plan, error) {
	call, err := b.encode(daoABI, b.network.DAOAddress(), StepCall, method, args...)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Action: action, ChainID: b.network.ChainID, Calls: []Call{call}}, nil
}

func (b *TxBuilder) withApproval(action string, amount *big.Int, method string, args ...interface{}) (Plan, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Plan{}, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	approve, err := b.encode(usdtABI, b.network.USDTAddress(), StepApprove, "approve", b.network.DAOAddress(), amount)
	if err != nil {
		return Plan{}, err
	}
	call, err := b.encode(daoABI, b.network.DAOAddress(), StepCall, method, args...)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Action: action, ChainID: b.network.ChainID, Calls: []Call{approve, call}}, nil
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

func (b *TxBuilder) Donate(amount *big.Int) (Plan, error) {
	return b.withApproval("donate", amount, "donate", amount)
}

func (b *TxBuilder) DonateToProject(projectID string, amount *big.Int) (Plan, error) {
	if err := requireID(projectID); err != nil {
		return Plan{}, err
	}
	return b.withApproval("donate_to_project", amount, "donateToProject", projectID, amount)
}

func (b *TxBuilder) CreateRequest(requestID string, amount *big.Int, description, proofHash string, quorum int) (Plan, error) {
	if err := requireID(requestID); err != nil {
		return Plan{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return Plan{}, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	q := big.NewInt(int64(status.ClampQuorum(quorum)))
	return b.single("create_request", "createRequest", requestID, amount, description, proofHash, q)
}

func (b *TxBuilder) CreateProject(projectID, title, description, proofHash string, target *big.Int, days, quorum int, now time.Time) (Plan, error) {
	if err := requireID(projectID); err != nil {
		return Plan{}, err
	}
	if target == nil || target.Sign() <= 0 {
		return Plan{}, fmt.Errorf("%w: target must be positive", ErrInvalidAmount)
	}
	deadline := big.NewInt(ProjectDeadline(now, days))
	q := big.NewInt(int64(status.ClampQuorum(quorum)))
	return b.single("create_project", "createProject", projectID, title, description, proofHash, target, deadline, q)
}

func (b *TxBuilder) Vote(requestID string, approve bool) (Plan, error) {
	if err := requireID(requestID); err != nil {
		return Plan{}, err
	}
	return b.single("vote", "vote", requestID, approve)
}

func (b *TxBuilder) DonorVote(requestID string, approve bool) (Plan, error) {
	if err := requireID(requestID); err != nil {
		return Plan{}, err
	}
	return b.single("donor_vote", "donorVoteOnRequest", requestID, approve)
}

func (b *TxBuilder) Finalize(requestID string) (Plan, error) {
	if err := requireID(requestID); err != nil {
		return Plan{}, err
	}
	return b.single("finalize", "finalizeRequestByDonors", requestID)
}

func (b *TxBuilder) Claim(requestID string) (Plan, error) {
	if err := requireID(requestID); err != nil {
		return Plan{}, err
	}
	return b.single("claim", "closeApprovedRequest", requestID)
}

func (b *TxBuilder) VoteOnProject(projectID string, approve bool) (Plan, error) {
	if err := requireID(projectID); err != nil {
		return Plan{}, err
	}
	return b.single("vote_project", "voteOnProject", projectID, approve)
}

func (b *TxBuilder) CloseProject(projectID string) (Plan, error) {
	if err := requireID(projectID); err != nil {
		return Plan{}, err
	}
	return b.single("close_project", "closeProject", projectID)
}
