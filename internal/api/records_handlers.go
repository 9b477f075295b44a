package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/david/charity-dao/internal/auth"
	"github.com/david/charity-dao/internal/chain"
	"github.com/david/charity-dao/internal/db"
	"github.com/david/charity-dao/internal/models"
)

func paramUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fail(http.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

type createUserRequest struct {
	WalletAddress string `json:"wallet_address"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Avatar        string `json:"avatar"`
}

// requireOwner checks that the authenticated wallet is wallet.
func requireOwner(c echo.Context, wallet string) error {
	caller, err := auth.AddressFromContext(c)
	if err != nil {
		return fail(http.StatusUnauthorized, "Unauthorized")
	}
	if !strings.EqualFold(caller, strings.TrimSpace(wallet)) {
		return fail(http.StatusForbidden, "Profile belongs to another wallet")
	}
	return nil
}

// handleCreateUser registers a profile for the authenticated wallet only.
func (s *Server) handleCreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "Invalid request body")
	}
	if _, err := chain.ParseAddress(strings.TrimSpace(req.WalletAddress)); err != nil {
		return err
	}
	if err := requireOwner(c, req.WalletAddress); err != nil {
		return err
	}
	u, err := s.store.CreateUser(c.Request().Context(), models.User{
		WalletAddress: strings.TrimSpace(req.WalletAddress),
		Username:      strings.TrimSpace(req.Username),
		Email:         strings.TrimSpace(req.Email),
		Avatar:        strings.TrimSpace(req.Avatar),
	})
	if err != nil {
		return err
	}
	return created(c, u)
}

func (s *Server) handleGetUser(c echo.Context) error {
	u, err := s.store.GetUserByWallet(c.Request().Context(), c.Param("wallet"))
	if err != nil {
		return err
	}
	return ok(c, u)
}

func (s *Server) handleUpdateUser(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var upd db.UserUpdate
	if err := c.Bind(&upd); err != nil {
		return fail(http.StatusBadRequest, "Invalid request body")
	}
	ctx := c.Request().Context()
	current, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := requireOwner(c, current.WalletAddress); err != nil {
		return err
	}
	u, err := s.store.UpdateUser(ctx, id, upd)
	if err != nil {
		return err
	}
	return ok(c, u)
}

func (s *Server) handleSetKYC(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		IsKYC bool `json:"is_kyc"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "Invalid request body")
	}
	u, err := s.store.SetKYC(c.Request().Context(), id, req.IsKYC)
	if err != nil {
		return err
	}
	return ok(c, u)
}

func (s *Server) handleSetUserStatus(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "Invalid request body")
	}
	u, err := s.store.SetUserStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return ok(c, u)
}

func (s *Server) handleListDonations(c echo.Context) error {
	ds, err := s.store.ListDonations(c.Request().Context())
	if err != nil {
		return err
	}
	return ok(c, ds)
}

func (s *Server) handleListDonationsByDonor(c echo.Context) error {
	ds, err := s.store.ListDonationsByDonor(c.Request().Context(), c.Param("wallet"))
	if err != nil {
		return err
	}
	return ok(c, ds)
}

func (s *Server) handleListDonationsByProject(c echo.Context) error {
	ds, err := s.store.ListDonationsByProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, ds)
}

type createDonationRequest struct {
	ProjectID   string  `json:"project_id"`
	Amount      string  `json:"amount"`
	TxHash      string  `json:"tx_hash"`
	DonateType  string  `json:"donate_type"`
	BlockNumber *uint64 `json:"block_number"`
}

type donationView struct {
	models.Donation
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// handleCreateDonation records a donation made by the authenticated wallet
// and mirrors it into the transaction log.
func (s *Server) handleCreateDonation(c echo.Context) error {
	donor, err := auth.AddressFromContext(c)
	if err != nil {
		return fail(http.StatusUnauthorized, "Unauthorized")
	}
	var req createDonationRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.TxHash) == "" {
		return fail(http.StatusBadRequest, "tx_hash is required")
	}
	amount, err := s.network.ParseAmount(req.Amount)
	if err != nil {
		return err
	}

	d := models.Donation{
		DonorWallet: donor,
		Amount:      amount,
		TxHash:      strings.TrimSpace(req.TxHash),
		DonateType:  req.DonateType,
	}
	if d.DonateType == "" {
		d.DonateType = models.DonateFund
		if req.ProjectID != "" {
			d.DonateType = models.DonateProject
		}
	}
	if req.ProjectID != "" {
		pid := req.ProjectID
		d.ProjectID = &pid
	}

	ctx := c.Request().Context()
	saved, err := s.store.CreateDonation(ctx, d)
	if err != nil {
		return err
	}

	event := "donate"
	if saved.DonateType == models.DonateProject {
		event = "donate_project"
	}
	_, err = s.store.CreateTransaction(ctx, models.Transaction{
		TxHash:      saved.TxHash,
		FromAddress: donor,
		ToAddress:   s.network.DAOAddress().Hex(),
		Amount:      saved.Amount,
		EventType:   event,
		ProjectID:   saved.ProjectID,
		BlockNumber: req.BlockNumber,
	})
	if err != nil && !errors.Is(err, db.ErrDuplicate) {
		s.logger.Warn("donation recorded without transaction entry", zap.String("tx", saved.TxHash), zap.Error(err))
	}
	return created(c, donationView{Donation: saved, ExplorerURL: s.network.TxURL(saved.TxHash)})
}

func (s *Server) handleListTransactions(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	txs, err := s.store.ListTransactions(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return ok(c, txs)
}

func (s *Server) handleListTransactionsByAddress(c echo.Context) error {
	txs, err := s.store.ListTransactionsByAddress(c.Request().Context(), c.Param("address"))
	if err != nil {
		return err
	}
	return ok(c, txs)
}
