package faucet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/david/charity-dao/internal/chain"
)

const recipient = "0x00000000000000000000000000000000000000aa"

type fakeMinter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeMinter) Mint(_ context.Context, to string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "0xhash", nil
}

func TestMint_LimitExhaustsAtTen(t *testing.T) {
	m := &fakeMinter{}
	s := NewService(m, NewMemoryLimiter(), 10, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		res, err := s.Mint(ctx, recipient)
		require.NoError(t, err)
		assert.Equal(t, i, res.Count)
		assert.Equal(t, 10, res.Limit)
		assert.Equal(t, "0xhash", res.TxHash)
	}

	_, err := s.Mint(ctx, recipient)
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.Equal(t, 10, m.calls)
	assert.Equal(t, "Daily limit reached (10 mints/day)", s.LimitMessage())
}

func TestMint_AddressCaseSharesCounter(t *testing.T) {
	s := NewService(&fakeMinter{}, NewMemoryLimiter(), 1, zap.NewNop())
	_, err := s.Mint(context.Background(), "0x00000000000000000000000000000000000000AA")
	require.NoError(t, err)
	_, err = s.Mint(context.Background(), recipient)
	assert.ErrorIs(t, err, ErrLimitReached)
}

func TestMint_Errors(t *testing.T) {
	ctx := context.Background()

	s := NewService(&fakeMinter{}, NewMemoryLimiter(), 10, zap.NewNop())
	_, err := s.Mint(ctx, "  ")
	assert.ErrorIs(t, err, ErrMissingRecipient)

	_, err = s.Mint(ctx, "not-an-address")
	assert.ErrorIs(t, err, chain.ErrInvalidAddress)

	s = NewService(nil, NewMemoryLimiter(), 10, zap.NewNop())
	_, err = s.Mint(ctx, recipient)
	assert.ErrorIs(t, err, chain.ErrNoFaucetKey)

	lim := NewMemoryLimiter()
	s = NewService(&fakeMinter{err: errors.New("rpc down")}, lim, 10, zap.NewNop())
	_, err = s.Mint(ctx, recipient)
	require.Error(t, err)
	assert.Empty(t, lim.counts, "failed mints are not counted")
}

func TestMint_FailedMintReleasesSlot(t *testing.T) {
	ctx := context.Background()
	m := &fakeMinter{err: errors.New("rpc down")}
	s := NewService(m, NewMemoryLimiter(), 1, zap.NewNop())

	_, err := s.Mint(ctx, recipient)
	require.Error(t, err)

	m.err = nil
	res, err := s.Mint(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestMint_ConcurrentRequestsStayWithinLimit(t *testing.T) {
	const limit = 3
	m := &fakeMinter{}
	lim := NewMemoryLimiter()
	s := NewService(m, lim, limit, zap.NewNop())

	var (
		wg       sync.WaitGroup
		minted   atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Mint(context.Background(), recipient)
			switch {
			case err == nil:
				minted.Add(1)
			case errors.Is(err, ErrLimitReached):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, limit, minted.Load())
	assert.EqualValues(t, 20-limit, rejected.Load())
	assert.Equal(t, limit, m.calls)
	assert.Equal(t, limit, lim.counts[dayKey(recipient, time.Now())])
}

func TestMemoryLimiter_Decr(t *testing.T) {
	lim := NewMemoryLimiter()
	ctx := context.Background()
	key := dayKey(recipient, time.Now())

	_, _ = lim.Incr(ctx, key)
	_, _ = lim.Incr(ctx, key)
	n, err := lim.Decr(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, _ = lim.Decr(ctx, key)
	assert.Zero(t, n)
	n, _ = lim.Decr(ctx, key)
	assert.Zero(t, n)
	assert.Empty(t, lim.counts)
}

func TestMemoryLimiter_DropsPreviousDays(t *testing.T) {
	lim := NewMemoryLimiter()
	ctx := context.Background()
	yesterday := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	today := yesterday.Add(2 * time.Hour)

	lim.now = func() time.Time { return yesterday }
	_, _ = lim.Incr(ctx, dayKey(recipient, yesterday))

	lim.now = func() time.Time { return today }
	n, err := lim.Incr(ctx, dayKey(recipient, today))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, lim.counts, 1)
}

func TestEndOfDay(t *testing.T) {
	now := time.Date(2026, 12, 31, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), endOfDay(now))
}
