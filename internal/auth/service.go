package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrInvalidAddress   = errors.New("invalid address")
)

const (
	NonceTTL = 5 * time.Minute
	TokenTTL = 24 * time.Hour
)

// ephemeralSecret generates a random secret for when none is configured.
// Sessions signed with it do not survive a restart.
func ephemeralSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate fallback secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Service implements wallet login: a nonce is issued per address, the
// wallet signs it as a personal message, and a verified signature is
// exchanged for a JWT.
type Service struct {
	nonces NonceStore
	secret []byte
	now    func() time.Time
}

func NewService(nonces NonceStore, jwtSecret string, logger *zap.Logger) (*Service, error) {
	secret := strings.TrimSpace(jwtSecret)
	if secret == "" {
		var err error
		if secret, err = ephemeralSecret(); err != nil {
			return nil, err
		}
		logger.Warn("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	}
	return &Service{nonces: nonces, secret: []byte(secret), now: time.Now}, nil
}

// LoginMessage is the text the wallet signs.
func LoginMessage(nonce string) string {
	return "Sign in to Charity DAO\nNonce: " + nonce
}

// IssueNonce stores a fresh nonce for addr and returns the message to sign.
func (s *Service) IssueNonce(ctx context.Context, addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	nonce := uuid.NewString()
	if err := s.nonces.Put(ctx, addr, nonce, NonceTTL); err != nil {
		return "", err
	}
	return LoginMessage(nonce), nil
}

// Verify redeems the pending nonce for addr and checks that sig was made by
// addr over its login message. On success it returns a session token.
func (s *Service) Verify(ctx context.Context, addr, sig string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	nonce, err := s.nonces.Take(ctx, addr)
	if err != nil {
		return "", err
	}
	signer, err := RecoverSigner(LoginMessage(nonce), sig)
	if err != nil {
		return "", err
	}
	if signer != common.HexToAddress(addr) {
		return "", ErrInvalidSignature
	}
	return s.IssueToken(addr)
}

// RecoverSigner returns the address that produced an EIP-191 personal_sign
// signature over message.
func RecoverSigner(message, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(sigHex))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	// wallets emit v as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (s *Service) IssueToken(addr string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": strings.ToLower(addr),
		"iat": now.Unix(),
		"exp": now.Add(TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseToken validates a session token and returns the lowercase wallet
// address it was issued to.
func (s *Service) ParseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || !common.IsHexAddress(sub) {
		return "", ErrInvalidToken
	}
	return sub, nil
}
