package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/david/charity-dao/internal/models"
)

// Reader is the subset of chain.Reader the application state loads from.
type Reader interface {
	GetFundBalance(ctx context.Context) (*big.Int, error)
	GetActivities(ctx context.Context) ([]models.Activity, error)
	IsDAOMember(ctx context.Context, addr string) (bool, error)
	DonorFlags(ctx context.Context, addr string) (models.DonorFlags, error)
}

// View is an immutable copy of the state.
type View struct {
	Address     string            `json:"address,omitempty"`
	Connected   bool              `json:"is_connected"`
	FundBalance *big.Int          `json:"fund_balance"`
	Activities  []models.Activity `json:"activities"`
	IsDAOMember bool              `json:"is_dao_member"`
	IsDonor     bool              `json:"is_donor"`
	Donor       models.DonorFlags `json:"donor"`
	User        *models.User      `json:"user,omitempty"`
	Loaded      bool              `json:"is_loaded"`
	LastError   string            `json:"error,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// State is the single authoritative copy of the on-chain data a client
// sees. Every field is reloaded by Refresh; nothing is updated piecemeal.
type State struct {
	reader Reader
	logger *zap.Logger

	mu   sync.RWMutex
	view View
	now  func() time.Time
}

func New(reader Reader, logger *zap.Logger) *State {
	return &State{
		reader: reader,
		logger: logger.Named("state"),
		view:   defaults(),
		now:    time.Now,
	}
}

func defaults() View {
	return View{
		FundBalance: new(big.Int),
		Activities:  []models.Activity{},
		Donor:       models.DonorFlags{TotalDonated: new(big.Int)},
	}
}

// Load builds a state for addr and refreshes it once. user is the wallet's
// off-chain profile, nil when it has none.
func Load(ctx context.Context, reader Reader, addr string, user *models.User, logger *zap.Logger) View {
	s := New(reader, logger)
	s.setWallet(addr)
	s.SetUser(user)
	s.Refresh(ctx)
	return s.Snapshot()
}

// SetWallet records the connected wallet and re-resolves its roles.
func (s *State) SetWallet(ctx context.Context, addr string) {
	s.setWallet(addr)
	s.Refresh(ctx)
}

func (s *State) setWallet(addr string) {
	addr = strings.TrimSpace(addr)
	s.mu.Lock()
	s.view.Address = addr
	s.view.Connected = addr != ""
	s.mu.Unlock()
}

// SetUser attaches the off-chain profile. It survives refreshes.
func (s *State) SetUser(u *models.User) {
	s.mu.Lock()
	s.view.User = u
	s.mu.Unlock()
}

// Refresh reloads fund balance, activities and the wallet's role flags
// concurrently. A failed read keeps that field at its default and the
// failure is reported in LastError.
func (s *State) Refresh(ctx context.Context) {
	s.mu.RLock()
	addr := s.view.Address
	s.mu.RUnlock()

	next := defaults()
	var (
		errMu sync.Mutex
		errs  []error
	)
	record := func(what string, err error) {
		errMu.Lock()
		errs = append(errs, fmt.Errorf("%s: %w", what, err))
		errMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fund, err := s.reader.GetFundBalance(gctx)
		if err != nil {
			record("fund balance", err)
			return nil
		}
		if fund != nil {
			next.FundBalance = fund
		}
		return nil
	})
	g.Go(func() error {
		acts, err := s.reader.GetActivities(gctx)
		if err != nil {
			record("activities", err)
			return nil
		}
		if acts != nil {
			next.Activities = acts
		}
		return nil
	})
	if addr != "" {
		g.Go(func() error {
			member, err := s.reader.IsDAOMember(gctx, addr)
			if err != nil {
				record("dao membership", err)
				return nil
			}
			next.IsDAOMember = member
			return nil
		})
		g.Go(func() error {
			flags, err := s.reader.DonorFlags(gctx, addr)
			if err != nil {
				record("donor flags", err)
				return nil
			}
			next.Donor = flags
			next.IsDonor = flags.IsAnyDonor()
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	next.Address = s.view.Address
	next.Connected = s.view.Connected
	next.User = s.view.User
	next.Loaded = true
	next.UpdatedAt = s.now()
	if err := errors.Join(errs...); err != nil {
		next.LastError = err.Error()
		s.logger.Warn("state refresh incomplete", zap.String("address", addr), zap.Error(err))
	}
	s.view = next
}

// Snapshot returns a copy that is safe to hold after further refreshes.
func (s *State) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := s.view
	v.FundBalance = new(big.Int).Set(v.FundBalance)
	v.Activities = append([]models.Activity(nil), v.Activities...)
	if v.Activities == nil {
		v.Activities = []models.Activity{}
	}
	return v
}
