package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend answers eth_call by method name with ABI-encoded outputs.
type fakeBackend struct {
	chainID *big.Int
	results map[string][]interface{}

	mu    sync.Mutex
	calls []string
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	method, err := daoABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, method.Name)
	f.mu.Unlock()
	values, ok := f.results[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return method.Outputs.Pack(values...)
}

func newTestClient(t *testing.T, results map[string][]interface{}) (*Client, *fakeBackend) {
	t.Helper()
	n := testNetwork(t)
	fb := &fakeBackend{chainID: big.NewInt(n.ChainID), results: results}
	return NewClient(fb, n, zap.NewNop()), fb
}

func TestEnsureNetwork_WrongChain(t *testing.T) {
	c, fb := newTestClient(t, map[string][]interface{}{"getFundBalance": {big.NewInt(1)}})
	fb.chainID = big.NewInt(1)

	_, err := c.GetFundBalance(context.Background())
	require.ErrorIs(t, err, ErrWrongNetwork)
	assert.Contains(t, err.Error(), "Base Sepolia")
	assert.Empty(t, fb.calls, "no contract call after a failed network check")
}

func TestGetFundBalance(t *testing.T) {
	c, _ := newTestClient(t, map[string][]interface{}{"getFundBalance": {big.NewInt(42_000_000)}})

	bal, err := c.GetFundBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", FormatUSDT(bal))
}

func TestGetDashboardStats(t *testing.T) {
	c, _ := newTestClient(t, map[string][]interface{}{
		"getDashboardStats": {big.NewInt(5), big.NewInt(2), big.NewInt(3), big.NewInt(9)},
	})

	stats, err := c.GetDashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), stats.Fund)
	assert.Equal(t, uint64(3), stats.ProjectsVoting)
	assert.Equal(t, uint64(9), stats.AllProjects)
}

func TestDonorFlags(t *testing.T) {
	c, fb := newTestClient(t, map[string][]interface{}{
		"isDonor":          {false},
		"hasDonorSbt":      {false},
		"totalFundDonated": {big.NewInt(3)},
	})

	flags, err := c.DonorFlags(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.True(t, flags.IsAnyDonor())
	assert.Len(t, fb.calls, 3)

	_, err = c.DonorFlags(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestGetAllRequests_DecodesTuples(t *testing.T) {
	views := []requestView{{
		Id:                "req_1",
		Beneficiary:       common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Amount:            big.NewInt(7_000_000),
		Description:       "Medical bills",
		ProofHash:         "bafyproof",
		ApproveCount:      big.NewInt(3),
		RejectCount:       big.NewInt(1),
		QuorumPercent:     big.NewInt(60),
		DaoDecisionMade:   true,
		DaoApproved:       true,
		DonorVoteDeadline: big.NewInt(1760000000),
		DonorApproveCount: big.NewInt(4),
		DonorRejectCount:  big.NewInt(0),
	}}
	c, _ := newTestClient(t, map[string][]interface{}{"getAllRequests": {views}})

	reqs, err := c.GetAllRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	r := reqs[0]
	assert.Equal(t, "req_1", r.ID)
	assert.True(t, strings.EqualFold("0x00000000000000000000000000000000000000bb", r.Beneficiary))
	assert.Equal(t, uint64(60), r.QuorumPercent)
	assert.Equal(t, int64(1760000000), r.DonorVoteDeadline)
	assert.Equal(t, uint64(4), r.DonorApproveCount)
	assert.True(t, r.DAOApproved)
}

func TestRequestFromView_RejectsOutOfRange(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	_, err := requestFromView(requestView{Id: "req_1", ApproveCount: huge})
	assert.Error(t, err)

	_, err = requestFromView(requestView{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByID_UnknownIDIsNotFound(t *testing.T) {
	c, _ := newTestClient(t, map[string][]interface{}{})

	_, err := c.GetRequestByID(context.Background(), "req_missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "req_missing")

	_, err = c.GetProjectByID(context.Background(), "proj_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByID_EmptyTupleIsNotFound(t *testing.T) {
	c, _ := newTestClient(t, map[string][]interface{}{
		"getRequestById": {requestView{Amount: big.NewInt(0), ApproveCount: big.NewInt(0), RejectCount: big.NewInt(0),
			QuorumPercent: big.NewInt(0), DonorVoteDeadline: big.NewInt(0), DonorApproveCount: big.NewInt(0),
			DonorRejectCount: big.NewInt(0)}},
	})

	_, err := c.GetRequestByID(context.Background(), "req_gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivityFromItem(t *testing.T) {
	a, err := activityFromItem(activityItem{Id: "proj_1", ActivityType: 1, CreationTimestamp: big.NewInt(1700000000)})
	require.NoError(t, err)
	assert.Equal(t, "project", a.Kind)
	assert.Equal(t, int64(1700000000), a.CreatedAt.Unix())

	_, err = activityFromItem(activityItem{Id: "x", ActivityType: 7, CreationTimestamp: big.NewInt(1)})
	assert.Error(t, err)
}

type fakeTxBackend struct {
	chainID *big.Int
	sent    *types.Transaction
}

func (f *fakeTxBackend) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }
func (f *fakeTxBackend) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	return 7, nil
}
func (f *fakeTxBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}
func (f *fakeTxBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}
func (f *fakeTxBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = tx
	return nil
}

func TestMinter_SignsMintForToken(t *testing.T) {
	n := testNetwork(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	fb := &fakeTxBackend{chainID: big.NewInt(n.ChainID)}
	m, err := NewMinter(fb, n, "0x"+hexKey)
	require.NoError(t, err)

	hash, err := m.Mint(context.Background(), "0x00000000000000000000000000000000000000cc")
	require.NoError(t, err)
	require.NotNil(t, fb.sent)
	assert.Equal(t, fb.sent.Hash().Hex(), hash)
	assert.Equal(t, n.USDTAddress(), *fb.sent.To())
	assert.Equal(t, uint64(7), fb.sent.Nonce())

	sender, err := types.Sender(types.LatestSignerForChainID(fb.chainID), fb.sent)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)

	method, err := usdtABI.MethodById(fb.sent.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "mint", method.Name)
}

func TestNewMinter_MissingKey(t *testing.T) {
	_, err := NewMinter(&fakeTxBackend{}, Network{}, "")
	assert.ErrorIs(t, err, ErrNoFaucetKey)
}

func TestRegistryLookup(t *testing.T) {
	reg, err := LoadRegistry()
	require.NoError(t, err)

	n, err := reg.Lookup("base-sepolia", "https://rpc.example")
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.example", n.RPCURL)
	assert.Equal(t, "https://sepolia.basescan.org/tx/0xabc", n.TxURL("0xabc"))

	_, err = reg.Lookup("mainnet", "")
	assert.Error(t, err)
}
