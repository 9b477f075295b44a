package api

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/david/charity-dao/internal/ai"
	"github.com/david/charity-dao/internal/auth"
	"github.com/david/charity-dao/internal/chain"
	"github.com/david/charity-dao/internal/db"
	"github.com/david/charity-dao/internal/faucet"
	"github.com/david/charity-dao/internal/indexer"
	"github.com/david/charity-dao/internal/ipfs"
	"github.com/david/charity-dao/internal/logging"
	"github.com/david/charity-dao/internal/models"
)

// Store is the persistence surface used by the handlers.
type Store interface {
	ListRequests(ctx context.Context, f db.EntityFilter) ([]models.Request, error)
	GetRequest(ctx context.Context, id string) (models.Request, error)
	ListProjects(ctx context.Context, f db.EntityFilter) ([]models.Project, error)
	GetProject(ctx context.Context, id string) (models.Project, error)
	ListActivities(ctx context.Context, limit int) ([]models.Activity, error)

	CreateUser(ctx context.Context, u models.User) (models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByWallet(ctx context.Context, wallet string) (models.User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, upd db.UserUpdate) (models.User, error)
	SetKYC(ctx context.Context, id uuid.UUID, verified bool) (models.User, error)
	SetUserStatus(ctx context.Context, id uuid.UUID, status string) (models.User, error)

	CreateDonation(ctx context.Context, d models.Donation) (models.Donation, error)
	ListDonations(ctx context.Context) ([]models.Donation, error)
	ListDonationsByDonor(ctx context.Context, wallet string) ([]models.Donation, error)
	ListDonationsByProject(ctx context.Context, projectID string) ([]models.Donation, error)

	CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]models.Transaction, error)
	ListTransactionsByAddress(ctx context.Context, address string) ([]models.Transaction, error)

	SaveAnalysis(ctx context.Context, a models.Analysis) (models.Analysis, error)
	GetAnalysis(ctx context.Context, projectID string) (models.Analysis, error)

	ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
}

type Syncer interface {
	Sync(ctx context.Context) (indexer.Stats, error)
}

type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (ipfs.Pinned, error)
	GatewayURL(cid string) string
}

type Faucet interface {
	Mint(ctx context.Context, to string) (faucet.Result, error)
	LimitMessage() string
}

// Deps wires the server to its collaborators.
type Deps struct {
	Store          Store
	Chain          chain.Reader
	Network        chain.Network
	Syncer         Syncer
	AI             ai.Analyzer
	IPFS           Uploader
	Faucet         Faucet
	Auth           *auth.Service
	Admin          *auth.Admin
	Registry       *prometheus.Registry
	AllowedOrigins []string
	Logger         *zap.Logger
}

type Server struct {
	Echo *echo.Echo

	store   Store
	chain   chain.Reader
	network chain.Network
	txs     *chain.TxBuilder
	syncer  Syncer
	ai      ai.Analyzer
	ipfs    Uploader
	faucet  Faucet
	auth    *auth.Service
	admin   *auth.Admin
	logger  *zap.Logger
	now     func() time.Time

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger(d.Logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: d.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		Echo:    e,
		store:   d.Store,
		chain:   d.Chain,
		network: d.Network,
		txs:     chain.NewTxBuilder(d.Network),
		syncer:  d.Syncer,
		ai:      d.AI,
		ipfs:    d.IPFS,
		faucet:  d.Faucet,
		auth:    d.Auth,
		admin:   d.Admin,
		logger:  d.Logger.Named("api"),
		now:     time.Now,
	}

	if d.Registry != nil {
		e.Use(newHTTPMetrics(d.Registry).middleware)
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/health", s.handleHealth)

	// Contract snapshot
	api.GET("/requests", s.handleListRequests)
	api.GET("/requests/:id", s.handleGetRequest)
	api.GET("/requests/:id/actions", s.handleRequestActions)
	api.GET("/projects", s.handleListProjects)
	api.GET("/projects/:id", s.handleGetProject)
	api.GET("/projects/:id/actions", s.handleProjectActions)
	api.GET("/activities", s.handleListActivities)
	api.GET("/dashboard", s.handleDashboard)
	api.GET("/votes/pending", s.handlePendingVotes)
	api.GET("/state", s.handleState)
	api.POST("/tx/:action", s.handleBuildTx)

	// Users
	api.POST("/users", s.handleCreateUser, s.auth.Middleware)
	api.GET("/users/:wallet", s.handleGetUser)
	api.PUT("/users/:id", s.handleUpdateUser, s.auth.Middleware)
	api.PATCH("/users/:id/kyc", s.handleSetKYC, s.admin.Middleware)
	api.PATCH("/users/:id/status", s.handleSetUserStatus, s.admin.Middleware)

	// Donations & transactions
	api.GET("/donates", s.handleListDonations)
	api.GET("/donates/donor/:wallet", s.handleListDonationsByDonor)
	api.GET("/donates/project/:id", s.handleListDonationsByProject)
	api.POST("/donates", s.handleCreateDonation, s.auth.Middleware)
	api.GET("/transactions", s.handleListTransactions)
	api.GET("/transactions/address/:address", s.handleListTransactionsByAddress)

	// Services
	api.POST("/analysis", s.handleAnalyze)
	api.GET("/analysis/:projectId", s.handleGetAnalysis)
	api.POST("/uploads", s.handleUpload)
	api.POST("/faucet", s.handleFaucet)

	// Auth Routes
	api.POST("/auth/nonce", s.handleNonce)
	api.POST("/auth/verify", s.handleVerify)

	// Admin Routes
	admin := api.Group("/admin")
	admin.Use(s.admin.Middleware)
	admin.POST("/sync", s.handleTriggerSync)
	admin.GET("/job/:id", s.handleJobStatus)
	admin.GET("/sync-runs", s.handleListSyncRuns)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Cancel != nil {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return ok(c, map[string]string{"status": "ok", "network": s.network.Name})
}

// Response envelope

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

func fail(code int, msg string) error {
	return echo.NewHTTPError(code, msg)
}

// errorHandler renders every error in the failure envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := statusFor(err)
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, envelope{Success: false, Error: msg})
}

// statusFor maps domain errors to status codes so handlers can return them
// unchanged.
func statusFor(err error) (int, string) {
	code, msg := http.StatusInternalServerError, err.Error()

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		if m, isString := he.Message.(string); isString {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	case errors.Is(err, chain.ErrWrongNetwork):
		code = http.StatusServiceUnavailable
	case errors.Is(err, db.ErrNotFound), errors.Is(err, chain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, db.ErrUserExists), errors.Is(err, db.ErrDuplicate):
		code = http.StatusConflict
	case errors.Is(err, db.ErrInvalid), errors.Is(err, chain.ErrInvalidAddress),
		errors.Is(err, chain.ErrInvalidAmount), errors.Is(err, ai.ErrInvalidQuorum),
		errors.Is(err, auth.ErrInvalidAddress):
		code = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrNonceNotFound),
		errors.Is(err, auth.ErrInvalidToken):
		code = http.StatusUnauthorized
	case errors.Is(err, faucet.ErrMissingRecipient):
		code, msg = http.StatusBadRequest, "Missing recipient address"
	case errors.Is(err, ipfs.ErrNotConfigured), errors.Is(err, chain.ErrNoFaucetKey):
		code = http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	return code, msg
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
