package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/certiva/docpipe/internal/models"
)

// ErrInvalidInput is returned when identity cannot be derived from the input
var ErrInvalidInput = errors.New("invalid input: cannot derive document identity")

// Identify derives a stable document identity from raw bytes.
// Identical bytes always yield the same identity; the digest is
// cryptographic so collisions are not a practical concern.
func Identify(data []byte) (models.DocumentID, error) {
	if len(data) == 0 {
		return "", ErrInvalidInput
	}
	sum := sha256.Sum256(data)
	return models.DocumentID(hex.EncodeToString(sum[:])), nil
}
