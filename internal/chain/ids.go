package chain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewRequestID and NewProjectID build the string identifiers the contract
// keys entities by: <prefix>_<unix ms>_<9 base36 chars>.
func NewRequestID(now time.Time) (string, error) { return newID("req", now) }
func NewProjectID(now time.Time) (string, error) { return newID("proj", now) }

func newID(prefix string, now time.Time) (string, error) {
	suffix := make([]byte, 9)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("error generating id: %w", err)
		}
		suffix[i] = idAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix), nil
}
