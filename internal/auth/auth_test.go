package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func personalSign(t *testing.T, message string) (addr string, sig string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	raw, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	raw[crypto.RecoveryIDOffset] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(raw)
}

func TestRecoverSigner(t *testing.T) {
	addr, sig := personalSign(t, "hello")
	got, err := RecoverSigner("hello", sig)
	require.NoError(t, err)
	assert.Equal(t, addr, got.Hex())

	other, err := RecoverSigner("tampered", sig)
	require.NoError(t, err)
	assert.NotEqual(t, addr, other.Hex())

	_, err = RecoverSigner("hello", "0x1234")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestLoginFlow(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(NewMemoryNonceStore(), "test-secret", zap.NewNop())
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	msg, err := svc.IssueNonce(ctx, addr)
	require.NoError(t, err)
	raw, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)

	token, err := svc.Verify(ctx, addr, hexutil.Encode(raw))
	require.NoError(t, err)

	sub, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(addr), sub)

	// nonce is single-use
	_, err = svc.Verify(ctx, addr, hexutil.Encode(raw))
	assert.ErrorIs(t, err, ErrNonceNotFound)
}

func TestVerify_RejectsOtherSigner(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(NewMemoryNonceStore(), "test-secret", zap.NewNop())
	require.NoError(t, err)

	victim, _ := personalSign(t, "x")
	msg, err := svc.IssueNonce(ctx, victim)
	require.NoError(t, err)

	_, sig := personalSign(t, msg)
	_, err = svc.Verify(ctx, victim, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseToken_Expired(t *testing.T) {
	svc, err := NewService(NewMemoryNonceStore(), "s", zap.NewNop())
	require.NoError(t, err)
	token, err := svc.IssueToken("0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = svc.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMemoryNonceStore_Expiry(t *testing.T) {
	s := NewMemoryNonceStore()
	base := time.Now()
	s.now = func() time.Time { return base }
	require.NoError(t, s.Put(context.Background(), "0xAB", "n1", time.Minute))

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err := s.Take(context.Background(), "0xab")
	assert.ErrorIs(t, err, ErrNonceNotFound)
}

func TestMiddleware(t *testing.T) {
	svc, err := NewService(NewMemoryNonceStore(), "s", zap.NewNop())
	require.NoError(t, err)
	token, err := svc.IssueToken("0x00000000000000000000000000000000000000AA")
	require.NoError(t, err)

	e := echo.New()
	h := svc.Middleware(func(c echo.Context) error {
		addr, err := AddressFromContext(c)
		require.NoError(t, err)
		return c.String(http.StatusOK, addr)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	err = h(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestAdmin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	a, err := NewAdmin("plain-secret", string(hash), zap.NewNop())
	require.NoError(t, err)
	assert.True(t, a.Check("plain-secret"))
	assert.True(t, a.Check("hashed-secret"))
	assert.False(t, a.Check("nope"))
	assert.False(t, a.Check(""))

	e := echo.New()
	h := a.Middleware(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("X-Admin-Secret", "plain-secret") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer hashed-secret") },
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		set(req)
		rec := httptest.NewRecorder()
		require.NoError(t, h(e.NewContext(req, rec)))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewAdmin_EphemeralFallback(t *testing.T) {
	a, err := NewAdmin("", "", zap.NewNop())
	require.NoError(t, err)
	assert.NotEmpty(t, a.secret)
	assert.False(t, a.Check("guess"))
}
