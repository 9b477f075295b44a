package chain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNetwork(t *testing.T) Network {
	t.Helper()
	reg, err := LoadRegistry()
	require.NoError(t, err)
	n, err := reg.Lookup("base-sepolia", "")
	require.NoError(t, err)
	return n
}

func decodeCall(t *testing.T, c Call) (string, []interface{}) {
	t.Helper()
	data, err := hexutil.Decode(c.Data)
	require.NoError(t, err)

	parsed := daoABI
	if c.Step == StepApprove {
		parsed = usdtABI
	}
	method, err := parsed.MethodById(data[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return method.Name, args
}

func TestDonate_ApprovesBeforeCall(t *testing.T) {
	n := testNetwork(t)
	b := NewTxBuilder(n)
	amount := big.NewInt(25_000_000)

	plan, err := b.Donate(amount)
	require.NoError(t, err)
	require.Len(t, plan.Calls, 2)
	assert.Equal(t, int64(84532), plan.ChainID)

	approve := plan.Calls[0]
	assert.Equal(t, StepApprove, approve.Step)
	assert.Equal(t, n.USDTAddress().Hex(), approve.To)
	name, args := decodeCall(t, approve)
	assert.Equal(t, "approve", name)
	assert.Equal(t, n.DAOAddress(), args[0])
	assert.Equal(t, amount, args[1])

	call := plan.Calls[1]
	assert.Equal(t, StepCall, call.Step)
	assert.Equal(t, n.DAOAddress().Hex(), call.To)
	name, args = decodeCall(t, call)
	assert.Equal(t, "donate", name)
	assert.Equal(t, amount, args[0])
}

func TestDonateToProject_ApprovesBeforeCall(t *testing.T) {
	b := NewTxBuilder(testNetwork(t))

	plan, err := b.DonateToProject("proj_1", big.NewInt(5))
	require.NoError(t, err)
	require.Len(t, plan.Calls, 2)
	assert.Equal(t, "approve", plan.Calls[0].Method)
	assert.Equal(t, "donateToProject", plan.Calls[1].Method)

	_, args := decodeCall(t, plan.Calls[1])
	assert.Equal(t, "proj_1", args[0])
}

func TestDonate_RejectsNonPositive(t *testing.T) {
	b := NewTxBuilder(testNetwork(t))

	_, err := b.Donate(big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = b.DonateToProject("proj_1", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateRequest_ClampsQuorum(t *testing.T) {
	b := NewTxBuilder(testNetwork(t))

	for _, tc := range []struct{ in, want int64 }{{10, 50}, {75, 75}, {140, 100}} {
		plan, err := b.CreateRequest("req_1", big.NewInt(1_000_000), "school fees", "bafy", int(tc.in))
		require.NoError(t, err)
		require.Len(t, plan.Calls, 1)
		name, args := decodeCall(t, plan.Calls[0])
		assert.Equal(t, "createRequest", name)
		assert.Equal(t, big.NewInt(tc.want), args[4])
	}
}

func TestCreateProject_ClampsDurationAndQuorum(t *testing.T) {
	b := NewTxBuilder(testNetwork(t))
	now := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

	plan, err := b.CreateProject("proj_1", "Well", "Water well", "bafy", big.NewInt(9_000_000), 2, 30, now)
	require.NoError(t, err)
	_, args := decodeCall(t, plan.Calls[0])
	assert.Equal(t, big.NewInt(now.Unix()+7*86400), args[5])
	assert.Equal(t, big.NewInt(50), args[6])

	plan, err = b.CreateProject("proj_2", "Well", "Water well", "bafy", big.NewInt(9_000_000), 1000, 80, now)
	require.NoError(t, err)
	_, args = decodeCall(t, plan.Calls[0])
	assert.Equal(t, big.NewInt(now.Unix()+365*86400), args[5])
	assert.Equal(t, big.NewInt(80), args[6])
}

func TestSingleCallPlans(t *testing.T) {
	b := NewTxBuilder(testNetwork(t))

	cases := []struct {
		method string
		build  func() (Plan, error)
	}{
		{"vote", func() (Plan, error) { return b.Vote("req_1", true) }},
		{"donorVoteOnRequest", func() (Plan, error) { return b.DonorVote("req_1", false) }},
		{"finalizeRequestByDonors", func() (Plan, error) { return b.Finalize("req_1") }},
		{"closeApprovedRequest", func() (Plan, error) { return b.Claim("req_1") }},
		{"voteOnProject", func() (Plan, error) { return b.VoteOnProject("proj_1", true) }},
		{"closeProject", func() (Plan, error) { return b.CloseProject("proj_1") }},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			plan, err := tc.build()
			require.NoError(t, err)
			require.Len(t, plan.Calls, 1)
			name, _ := decodeCall(t, plan.Calls[0])
			assert.Equal(t, tc.method, name)
		})
	}

	_, err := b.Vote(" ", true)
	assert.Error(t, err)
}
