package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/david/charity-dao/internal/chain"
	"github.com/david/charity-dao/internal/db"
	"github.com/david/charity-dao/internal/indexer"
	"github.com/david/charity-dao/internal/models"
	"github.com/david/charity-dao/internal/state"
	"github.com/david/charity-dao/internal/status"
)

type requestView struct {
	models.Request
	Status     status.RequestStatus `json:"status"`
	Reason     string               `json:"reason"`
	DonorPhase *status.DonorPhase   `json:"donor_phase,omitempty"`
	AmountUSDT string               `json:"amount_usdt"`
	Progress   *status.VoteProgress `json:"progress,omitempty"`
}

func (s *Server) newRequestView(r models.Request, now time.Time) requestView {
	d := status.ResolveRequest(r, now)
	return requestView{
		Request:    r,
		Status:     d.Status,
		Reason:     d.Reason,
		DonorPhase: d.DonorPhase,
		AmountUSDT: s.network.FormatAmount(bigOrZero(r.Amount)),
	}
}

type projectView struct {
	models.Project
	Status      status.ProjectStatus `json:"status"`
	TargetUSDT  string               `json:"target_usdt"`
	FundedUSDT  string               `json:"funded_usdt"`
	CanDonate   bool                 `json:"can_donate"`
	DeadlineISO time.Time            `json:"deadline_at"`
	Progress    *status.VoteProgress `json:"progress,omitempty"`
}

func (s *Server) newProjectView(p models.Project, now time.Time) projectView {
	return projectView{
		Project:     p,
		Status:      status.ResolveProject(p).Status,
		TargetUSDT:  s.network.FormatAmount(bigOrZero(p.TargetAmount)),
		FundedUSDT:  s.network.FormatAmount(bigOrZero(p.TotalFunded)),
		CanDonate:   status.CanDonateToProject(p, now),
		DeadlineISO: time.Unix(p.Deadline, 0).UTC(),
	}
}

func (s *Server) handleListRequests(c echo.Context) error {
	want := status.RequestStatus(strings.TrimSpace(c.QueryParam("status")))
	if want != "" && !status.ValidRequestStatus(want) {
		return fail(http.StatusBadRequest, fmt.Sprintf("unknown request status %q", want))
	}
	reqs, err := s.store.ListRequests(c.Request().Context(), db.EntityFilter{Address: c.QueryParam("address")})
	if err != nil {
		return err
	}

	now := s.now()
	views := []requestView{}
	for _, r := range reqs {
		v := s.newRequestView(r, now)
		if want != "" && v.Status != want {
			continue
		}
		views = append(views, v)
	}
	return ok(c, views)
}

// loadRequest prefers the synced snapshot and falls back to a live read
// for requests created since the last sync.
func (s *Server) loadRequest(c echo.Context, id string) (models.Request, error) {
	ctx := c.Request().Context()
	r, err := s.store.GetRequest(ctx, id)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return r, err
	}
	r, err = s.chain.GetRequestByID(ctx, id)
	return indexer.CleanRequest(r), err
}

func (s *Server) loadProject(c echo.Context, id string) (models.Project, error) {
	ctx := c.Request().Context()
	p, err := s.store.GetProject(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return p, err
	}
	p, err = s.chain.GetProjectByID(ctx, id)
	return indexer.CleanProject(p), err
}

func (s *Server) memberCount(c echo.Context) uint64 {
	n, err := s.chain.DAOMemberCount(c.Request().Context())
	if err != nil {
		s.logger.Warn("dao member count unavailable", zap.Error(err))
		return 0
	}
	return n
}

func (s *Server) handleGetRequest(c echo.Context) error {
	r, err := s.loadRequest(c, c.Param("id"))
	if err != nil {
		return err
	}
	v := s.newRequestView(r, s.now())
	p := status.Progress(r.ApproveCount, r.RejectCount, s.memberCount(c))
	v.Progress = &p
	return ok(c, v)
}

func (s *Server) handleListProjects(c echo.Context) error {
	want := status.ProjectStatus(strings.TrimSpace(c.QueryParam("status")))
	if want != "" && !status.ValidProjectStatus(want) {
		return fail(http.StatusBadRequest, fmt.Sprintf("unknown project status %q", want))
	}
	projects, err := s.store.ListProjects(c.Request().Context(), db.EntityFilter{Address: c.QueryParam("address")})
	if err != nil {
		return err
	}

	now := s.now()
	views := []projectView{}
	for _, p := range projects {
		v := s.newProjectView(p, now)
		if want != "" && v.Status != want {
			continue
		}
		views = append(views, v)
	}
	return ok(c, views)
}

func (s *Server) handleGetProject(c echo.Context) error {
	p, err := s.loadProject(c, c.Param("id"))
	if err != nil {
		return err
	}
	v := s.newProjectView(p, s.now())
	prog := status.Progress(p.ApproveCount, p.RejectCount, s.memberCount(c))
	v.Progress = &prog
	return ok(c, v)
}

type actionsResponse struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Viewer  status.Viewer   `json:"viewer"`
	Actions []status.Action `json:"actions"`
}

// viewer resolves the live role checks for addr. An empty address yields an
// anonymous viewer without touching the chain.
func (s *Server) viewer(c echo.Context, addr string, hasVoted func() (bool, error)) (status.Viewer, error) {
	v := status.Viewer{Address: strings.TrimSpace(addr)}
	if v.Address == "" {
		return v, nil
	}
	if _, err := chain.ParseAddress(v.Address); err != nil {
		return v, err
	}

	ctx := c.Request().Context()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		member, err := s.chain.IsDAOMember(gctx, v.Address)
		v.IsDAOMember = member
		return err
	})
	g.Go(func() error {
		flags, err := s.chain.DonorFlags(gctx, v.Address)
		v.IsDonor = flags.IsAnyDonor()
		return err
	})
	g.Go(func() error {
		voted, err := hasVoted()
		v.HasVoted = voted
		return err
	})
	return v, g.Wait()
}

func (s *Server) handleRequestActions(c echo.Context) error {
	r, err := s.loadRequest(c, c.Param("id"))
	if err != nil {
		return err
	}
	addr := c.QueryParam("address")
	v, err := s.viewer(c, addr, func() (bool, error) {
		return s.chain.HasVotedOnRequest(c.Request().Context(), r.ID, addr)
	})
	if err != nil {
		return err
	}
	now := s.now()
	d := status.ResolveRequest(r, now)
	return ok(c, actionsResponse{
		ID:      r.ID,
		Status:  string(d.Status),
		Viewer:  v,
		Actions: status.RequestActions(r, d, v, now),
	})
}

func (s *Server) handleProjectActions(c echo.Context) error {
	p, err := s.loadProject(c, c.Param("id"))
	if err != nil {
		return err
	}
	addr := c.QueryParam("address")
	v, err := s.viewer(c, addr, func() (bool, error) {
		return s.chain.HasVotedOnProject(c.Request().Context(), p.ID, addr)
	})
	if err != nil {
		return err
	}
	st := status.ResolveProject(p).Status
	return ok(c, actionsResponse{
		ID:      p.ID,
		Status:  string(st),
		Viewer:  v,
		Actions: status.ProjectActions(p, st, v, s.now()),
	})
}

func (s *Server) handleListActivities(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	acts, err := s.store.ListActivities(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return ok(c, acts)
}

type dashboardResponse struct {
	Stats           models.DashboardStats        `json:"stats"`
	FundUSDT        string                       `json:"fund_usdt"`
	DisbursedUSDT   string                       `json:"disbursed_usdt"`
	Members         uint64                       `json:"dao_members"`
	RequestStatuses map[status.RequestStatus]int `json:"request_statuses"`
	ProjectStatuses map[status.ProjectStatus]int `json:"project_statuses"`
}

func (s *Server) handleDashboard(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		resp     dashboardResponse
		reqs     []models.Request
		projects []models.Project
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		resp.Stats, err = s.chain.GetDashboardStats(gctx)
		return err
	})
	g.Go(func() (err error) {
		resp.Members, err = s.chain.DAOMemberCount(gctx)
		return err
	})
	g.Go(func() (err error) {
		reqs, err = s.store.ListRequests(gctx, db.EntityFilter{})
		return err
	})
	g.Go(func() (err error) {
		projects, err = s.store.ListProjects(gctx, db.EntityFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	resp.FundUSDT = s.network.FormatAmount(bigOrZero(resp.Stats.Fund))
	resp.DisbursedUSDT = s.network.FormatAmount(bigOrZero(resp.Stats.Disbursed))
	resp.RequestStatuses = status.CountRequests(reqs, s.now())
	resp.ProjectStatuses = status.CountProjects(projects)
	return ok(c, resp)
}

func (s *Server) handlePendingVotes(c echo.Context) error {
	addr := strings.TrimSpace(c.QueryParam("address"))
	if addr == "" {
		return fail(http.StatusBadRequest, "address is required")
	}
	if _, err := chain.ParseAddress(addr); err != nil {
		return err
	}
	ctx := c.Request().Context()

	var (
		acts   []models.Activity
		member bool
		flags  models.DonorFlags
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		acts, err = s.chain.GetPendingVotesFor(gctx, addr)
		return err
	})
	g.Go(func() (err error) {
		member, err = s.chain.IsDAOMember(gctx, addr)
		return err
	})
	g.Go(func() (err error) {
		flags, err = s.chain.DonorFlags(gctx, addr)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	donor := flags.IsAnyDonor()
	role := models.RoleNone
	switch {
	case member:
		role = models.RoleDAOMember
	case donor:
		role = models.RoleDonor
	}

	pending := make([]models.PendingVote, 0, len(acts))
	for _, a := range acts {
		pending = append(pending, models.PendingVote{
			Activity:       a,
			Role:           role,
			CanVoteAsDAO:   member,
			CanVoteAsDonor: donor && a.Kind == models.ActivityRequest,
		})
	}
	return ok(c, pending)
}

func (s *Server) handleState(c echo.Context) error {
	ctx := c.Request().Context()
	addr := strings.TrimSpace(c.QueryParam("address"))
	var user *models.User
	if addr != "" {
		if u, err := s.store.GetUserByWallet(ctx, addr); err == nil {
			user = &u
		}
	}
	return ok(c, state.Load(ctx, s.chain, addr, user, s.logger))
}

// txRequest carries the parameters of any buildable action. Amounts are
// decimal USDT strings.
type txRequest struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Approve     bool   `json:"approve"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProofHash   string `json:"proof_hash"`
	Quorum      int    `json:"quorum"`
	Days        int    `json:"days"`
}

func (s *Server) handleBuildTx(c echo.Context) error {
	var req txRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "Invalid request body")
	}

	amount := func() (*big.Int, error) { return s.network.ParseAmount(req.Amount) }
	now := s.now()

	var (
		plan chain.Plan
		err  error
	)
	switch c.Param("action") {
	case "donate":
		var v *big.Int
		if v, err = amount(); err == nil {
			plan, err = s.txs.Donate(v)
		}
	case "donate_project":
		var v *big.Int
		if v, err = amount(); err == nil {
			plan, err = s.txs.DonateToProject(req.ID, v)
		}
	case "create_request":
		var v *big.Int
		if v, err = amount(); err == nil {
			if req.ID == "" {
				req.ID, err = chain.NewRequestID(now)
			}
			if err == nil {
				plan, err = s.txs.CreateRequest(req.ID, v, req.Description, req.ProofHash, req.Quorum)
			}
		}
	case "create_project":
		var v *big.Int
		if v, err = amount(); err == nil {
			if req.ID == "" {
				req.ID, err = chain.NewProjectID(now)
			}
			if err == nil {
				plan, err = s.txs.CreateProject(req.ID, req.Title, req.Description, req.ProofHash, v, req.Days, req.Quorum, now)
			}
		}
	case "vote":
		plan, err = s.txs.Vote(req.ID, req.Approve)
	case "donor_vote":
		plan, err = s.txs.DonorVote(req.ID, req.Approve)
	case "finalize":
		plan, err = s.txs.Finalize(req.ID)
	case "claim":
		plan, err = s.txs.Claim(req.ID)
	case "vote_project":
		plan, err = s.txs.VoteOnProject(req.ID, req.Approve)
	case "close_project":
		plan, err = s.txs.CloseProject(req.ID)
	default:
		return fail(http.StatusNotFound, fmt.Sprintf("unknown action %q", c.Param("action")))
	}
	if err != nil {
		if errors.Is(err, chain.ErrInvalidAmount) || errors.Is(err, chain.ErrInvalidAddress) {
			return err
		}
		return fail(http.StatusBadRequest, err.Error())
	}
	return ok(c, map[string]interface{}{"id": req.ID, "plan": plan})
}
