package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/david/charity-dao/internal/models"
)

var (
	ErrWrongNetwork   = errors.New("wrong network")
	ErrInvalidAddress = errors.New("invalid address")
	ErrNotFound       = errors.New("not found on chain")
)

// Reader is the read surface of the DonationDAO contract.
type Reader interface {
	EnsureNetwork(ctx context.Context) error
	GetRequestByID(ctx context.Context, id string) (models.Request, error)
	GetProjectByID(ctx context.Context, id string) (models.Project, error)
	GetAllRequests(ctx context.Context) ([]models.Request, error)
	GetAllProjects(ctx context.Context) ([]models.Project, error)
	GetActivities(ctx context.Context) ([]models.Activity, error)
	GetPendingVotesFor(ctx context.Context, voter string) ([]models.Activity, error)
	DAOMemberCount(ctx context.Context) (uint64, error)
	IsDAOMember(ctx context.Context, addr string) (bool, error)
	DonorFlags(ctx context.Context, addr string) (models.DonorFlags, error)
	GetFundBalance(ctx context.Context) (*big.Int, error)
	GetDashboardStats(ctx context.Context) (models.DashboardStats, error)
	HasVotedOnRequest(ctx context.Context, id, voter string) (bool, error)
	HasVotedOnProject(ctx context.Context, id, voter string) (bool, error)
}

// Backend is the subset of ethclient.Client used for reads.
type Backend interface {
	ethereum.ContractCaller
	ChainID(ctx context.Context) (*big.Int, error)
}

type Client struct {
	backend Backend
	network Network
	logger  *zap.Logger
}

var _ Reader = (*Client)(nil)

func Dial(ctx context.Context, network Network, logger *zap.Logger) (*Client, *ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, network.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("error dialing %s rpc: %w", network.Name, err)
	}
	return NewClient(ec, network, logger), ec, nil
}

func NewClient(backend Backend, network Network, logger *zap.Logger) *Client {
	return &Client{backend: backend, network: network, logger: logger.Named("chain")}
}

func (c *Client) Network() Network { return c.network }

// EnsureNetwork fails with ErrWrongNetwork unless the RPC endpoint serves the
// configured chain. Every read runs it first.
func (c *Client) EnsureNetwork(ctx context.Context) error {
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("error reading chain id: %w", err)
	}
	if id.Int64() != c.network.ChainID {
		return fmt.Errorf("%w: please switch network to %s (expected chain id %d, got %s)",
			ErrWrongNetwork, c.network.DisplayName, c.network.ChainID, id)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if err := c.EnsureNetwork(ctx); err != nil {
		return nil, err
	}
	data, err := daoABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("error packing %s: %w", method, err)
	}
	to := c.network.DAOAddress()
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		c.logger.Debug("contract call failed", zap.String("method", method), zap.Error(err))
		return nil, fmt.Errorf("error calling %s: %w", method, err)
	}
	out, err := daoABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("error decoding %s: empty result", method)
	}
	return out, nil
}

func (c *Client) callBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return v, nil
}

func (c *Client) callBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return v, nil
}

// convert wraps abi.ConvertType, which panics on shape mismatch.
func convert[T any](method string, in interface{}) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: unexpected result shape: %v", method, r)
		}
	}()
	return *abi.ConvertType(in, new(T)).(*T), nil
}

func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// reverted reports whether a by-id read failed because the contract rejected
// the id. Nodes only surface the revert as text.
func reverted(err error) bool {
	return err != nil && strings.Contains(err.Error(), "execution reverted")
}

func (c *Client) GetRequestByID(ctx context.Context, id string) (models.Request, error) {
	out, err := c.call(ctx, "getRequestById", id)
	if reverted(err) {
		return models.Request{}, fmt.Errorf("request %q %w: %v", id, ErrNotFound, err)
	}
	if err != nil {
		return models.Request{}, err
	}
	view, err := convert[requestView]("getRequestById", out[0])
	if err != nil {
		return models.Request{}, err
	}
	return requestFromView(view)
}

func (c *Client) GetProjectByID(ctx context.Context, id string) (models.Project, error) {
	out, err := c.call(ctx, "getProjectById", id)
	if reverted(err) {
		return models.Project{}, fmt.Errorf("project %q %w: %v", id, ErrNotFound, err)
	}
	if err != nil {
		return models.Project{}, err
	}
	view, err := convert[projectView]("getProjectById", out[0])
	if err != nil {
		return models.Project{}, err
	}
	return projectFromView(view)
}

func (c *Client) GetAllRequests(ctx context.Context) ([]models.Request, error) {
	out, err := c.call(ctx, "getAllRequests")
	if err != nil {
		return nil, err
	}
	views, err := convert[[]requestView]("getAllRequests", out[0])
	if err != nil {
		return nil, err
	}
	reqs := make([]models.Request, 0, len(views))
	for _, v := range views {
		r, err := requestFromView(v)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

func (c *Client) GetAllProjects(ctx context.Context) ([]models.Project, error) {
	out, err := c.call(ctx, "getAllProjects")
	if err != nil {
		return nil, err
	}
	views, err := convert[[]projectView]("getAllProjects", out[0])
	if err != nil {
		return nil, err
	}
	projects := make([]models.Project, 0, len(views))
	for _, v := range views {
		p, err := projectFromView(v)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (c *Client) GetActivities(ctx context.Context) ([]models.Activity, error) {
	out, err := c.call(ctx, "getActivities")
	if err != nil {
		return nil, err
	}
	items, err := convert[[]activityItem]("getActivities", out[0])
	if err != nil {
		return nil, err
	}
	return activitiesFromItems(items)
}

func (c *Client) GetPendingVotesFor(ctx context.Context, voter string) ([]models.Activity, error) {
	addr, err := ParseAddress(voter)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, "getPendingVotesFor", addr)
	if err != nil {
		return nil, err
	}
	items, err := convert[[]activityItem]("getPendingVotesFor", out[0])
	if err != nil {
		return nil, err
	}
	return activitiesFromItems(items)
}

func (c *Client) DAOMemberCount(ctx context.Context) (uint64, error) {
	v, err := c.callBig(ctx, "daoMemberCount")
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("daoMemberCount out of range: %s", v)
	}
	return v.Uint64(), nil
}

func (c *Client) IsDAOMember(ctx context.Context, addr string) (bool, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return false, err
	}
	return c.callBool(ctx, "daoMembers", a)
}

// DonorFlags reads the three donor indicators concurrently.
func (c *Client) DonorFlags(ctx context.Context, addr string) (models.DonorFlags, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return models.DonorFlags{}, err
	}

	var flags models.DonorFlags
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.callBool(gctx, "isDonor", a)
		flags.IsDonor = v
		return err
	})
	g.Go(func() error {
		v, err := c.callBool(gctx, "hasDonorSbt", a)
		flags.HasSBT = v
		return err
	})
	g.Go(func() error {
		v, err := c.callBig(gctx, "totalFundDonated", a)
		flags.TotalDonated = v
		return err
	})
	if err := g.Wait(); err != nil {
		return models.DonorFlags{}, err
	}
	return flags, nil
}

func (c *Client) GetFundBalance(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "getFundBalance")
}

func (c *Client) GetDashboardStats(ctx context.Context) (models.DashboardStats, error) {
	out, err := c.call(ctx, "getDashboardStats")
	if err != nil {
		return models.DashboardStats{}, err
	}
	if len(out) != 4 {
		return models.DashboardStats{}, fmt.Errorf("getDashboardStats: expected 4 values, got %d", len(out))
	}
	vals := make([]*big.Int, 4)
	for i, o := range out {
		v, ok := o.(*big.Int)
		if !ok {
			return models.DashboardStats{}, fmt.Errorf("getDashboardStats: unexpected type %T", o)
		}
		vals[i] = v
	}
	f := fieldReader{entity: "dashboard stats"}
	stats := models.DashboardStats{
		Fund:           vals[0],
		Disbursed:      vals[1],
		ProjectsVoting: f.uint("projectsVoting", vals[2]),
		AllProjects:    f.uint("allProjects", vals[3]),
	}
	return stats, f.err
}

func (c *Client) HasVotedOnRequest(ctx context.Context, id, voter string) (bool, error) {
	a, err := ParseAddress(voter)
	if err != nil {
		return false, err
	}
	return c.callBool(ctx, "hasVotedOnRequest", id, a)
}

func (c *Client) HasVotedOnProject(ctx context.Context, id, voter string) (bool, error) {
	a, err := ParseAddress(voter)
	if err != nil {
		return false, err
	}
	return c.callBool(ctx, "hasVotedOnProject", id, a)
}
