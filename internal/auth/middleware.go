package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const AddressKey contextKey = "wallet_address"

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// Middleware validates the session JWT and adds the wallet address to the context
func (s *Service) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
		}
		token, ok := bearerToken(authHeader)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
		}
		addr, err := s.ParseToken(token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}
		c.Set(string(AddressKey), addr)
		return next(c)
	}
}

// AddressFromContext returns the authenticated wallet address.
func AddressFromContext(c echo.Context) (string, error) {
	addr, ok := c.Get(string(AddressKey)).(string)
	if !ok || addr == "" {
		return "", errors.New("wallet address not found in context")
	}
	return addr, nil
}

// Admin guards operator routes with a shared secret, given either in
// plain text or as a bcrypt hash.
type Admin struct {
	secret string
	hash   []byte
}

func NewAdmin(secret, hash string, logger *zap.Logger) (*Admin, error) {
	secret, hash = strings.TrimSpace(secret), strings.TrimSpace(hash)
	if secret == "" && hash == "" {
		var err error
		if secret, err = ephemeralSecret(); err != nil {
			return nil, err
		}
		logger.Warn("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	}
	a := &Admin{secret: secret}
	if hash != "" {
		a.hash = []byte(hash)
	}
	return a, nil
}

func (a *Admin) Check(candidate string) bool {
	if candidate == "" {
		return false
	}
	if a.secret != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(a.secret)) == 1 {
		return true
	}
	if a.hash != nil && bcrypt.CompareHashAndPassword(a.hash, []byte(candidate)) == nil {
		return true
	}
	return false
}

// Middleware accepts X-Admin-Secret or a Bearer token carrying the secret.
func (a *Admin) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.Check(c.Request().Header.Get("X-Admin-Secret")) {
			return next(c)
		}
		if token, ok := bearerToken(c.Request().Header.Get("Authorization")); ok && a.Check(token) {
			return next(c)
		}
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{"success": false, "error": "Unauthorized admin access"})
	}
}
