package faucet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/charity-dao/internal/chain"
)

var (
	ErrMissingRecipient = errors.New("missing recipient address")
	ErrLimitReached     = errors.New("daily limit reached")
)

type Minter interface {
	Mint(ctx context.Context, to string) (string, error)
}

type Result struct {
	TxHash      string `json:"tx_hash"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	Count       int    `json:"count"`
	Limit       int    `json:"limit"`
}

type Service struct {
	minter  Minter
	limiter Limiter
	limit   int
	logger  *zap.Logger
	now     func() time.Time
}

// NewService builds the faucet. A nil minter means no owner key is
// configured and every mint fails with chain.ErrNoFaucetKey.
func NewService(minter Minter, limiter Limiter, limit int, logger *zap.Logger) *Service {
	return &Service{minter: minter, limiter: limiter, limit: limit, logger: logger, now: time.Now}
}

// LimitMessage is the user-facing text for ErrLimitReached.
func (s *Service) LimitMessage() string {
	return fmt.Sprintf("Daily limit reached (%d mints/day)", s.limit)
}

func (s *Service) Mint(ctx context.Context, to string) (Result, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return Result{}, ErrMissingRecipient
	}
	if _, err := chain.ParseAddress(to); err != nil {
		return Result{}, err
	}

	if s.minter == nil {
		return Result{}, chain.ErrNoFaucetKey
	}

	// Reserve a slot before minting so concurrent requests cannot overshoot.
	key := dayKey(to, s.now())
	count, err := s.limiter.Incr(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if count > s.limit {
		s.release(ctx, key)
		return Result{}, ErrLimitReached
	}

	hash, err := s.minter.Mint(ctx, to)
	if err != nil {
		s.release(ctx, key)
		return Result{}, fmt.Errorf("mint failed: %w", err)
	}
	s.logger.Info("faucet mint", zap.String("to", to), zap.String("tx", hash), zap.Int("count", count))
	return Result{TxHash: hash, Count: count, Limit: s.limit}, nil
}

func (s *Service) release(ctx context.Context, key string) {
	if _, err := s.limiter.Decr(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("faucet slot not released", zap.String("key", key), zap.Error(err))
	}
}
